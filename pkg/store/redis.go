package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/sishengcao/paddleocr-api/internal/models"
)

const (
	keyTask     = "batch:task:%s"
	keyTaskSet  = "batch:tasks"
	keyHashSet  = "batch:task_hash:%s"
	keyPages    = "batch:task:%s:pages"
	keyPageFile = "batch:task:%s:files"
	keyPage     = "batch:page:%s"
	keyLock     = "batch:lock:%s"

	// optimistic transaction retries on contended task updates
	updateRetries = 16
)

// RedisStore keeps all durable state in Redis, following the key-per-record
// JSON layout the queue layer uses for task status.
type RedisStore struct {
	client *redis.Client
}

func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

func (s *RedisStore) CreateTask(ctx context.Context, task *models.BatchTask) error {
	data, err := json.Marshal(task)
	if err != nil {
		return fmt.Errorf("marshal task: %w", err)
	}

	pipe := s.client.TxPipeline()
	pipe.Set(ctx, fmt.Sprintf(keyTask, task.TaskID), data, 0)
	pipe.ZAdd(ctx, keyTaskSet, redis.Z{Score: float64(task.CreatedAt.UnixNano()), Member: task.TaskID})
	pipe.SAdd(ctx, fmt.Sprintf(keyHashSet, task.TaskHash), task.TaskID)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("store task: %w", err)
	}
	return nil
}

func (s *RedisStore) GetTask(ctx context.Context, taskID string) (*models.BatchTask, error) {
	data, err := s.client.Get(ctx, fmt.Sprintf(keyTask, taskID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrTaskNotFound
		}
		return nil, fmt.Errorf("get task: %w", err)
	}
	var task models.BatchTask
	if err := json.Unmarshal(data, &task); err != nil {
		return nil, fmt.Errorf("unmarshal task: %w", err)
	}
	return &task, nil
}

// UpdateTask runs mutate inside a WATCH transaction so concurrent counter
// updates for the same task are never lost.
func (s *RedisStore) UpdateTask(ctx context.Context, taskID string, mutate func(*models.BatchTask) error) (*models.BatchTask, error) {
	key := fmt.Sprintf(keyTask, taskID)
	var updated *models.BatchTask

	txn := func(tx *redis.Tx) error {
		data, err := tx.Get(ctx, key).Bytes()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				return ErrTaskNotFound
			}
			return err
		}
		var task models.BatchTask
		if err := json.Unmarshal(data, &task); err != nil {
			return fmt.Errorf("unmarshal task: %w", err)
		}
		if err := mutate(&task); err != nil {
			return err
		}
		out, err := json.Marshal(&task)
		if err != nil {
			return fmt.Errorf("marshal task: %w", err)
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, out, 0)
			return nil
		})
		if err == nil {
			updated = &task
		}
		return err
	}

	for i := 0; i < updateRetries; i++ {
		err := s.client.Watch(ctx, txn, key)
		if err == nil {
			return updated, nil
		}
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		return nil, err
	}
	return nil, fmt.Errorf("update task %s: too much contention", taskID)
}

func (s *RedisStore) FindByHash(ctx context.Context, hash string, statuses []models.TaskStatus) (*models.BatchTask, error) {
	ids, err := s.client.SMembers(ctx, fmt.Sprintf(keyHashSet, hash)).Result()
	if err != nil {
		return nil, fmt.Errorf("hash index: %w", err)
	}

	var matches []*models.BatchTask
	for _, id := range ids {
		task, err := s.GetTask(ctx, id)
		if err != nil {
			if errors.Is(err, ErrTaskNotFound) {
				continue
			}
			return nil, err
		}
		for _, st := range statuses {
			if task.Status == st {
				matches = append(matches, task)
				break
			}
		}
	}
	if len(matches) == 0 {
		return nil, ErrTaskNotFound
	}
	sort.Slice(matches, func(i, j int) bool {
		return matches[i].CreatedAt.Before(matches[j].CreatedAt)
	})
	return matches[0], nil
}

func (s *RedisStore) ListTasks(ctx context.Context, filter TaskFilter) ([]*models.BatchTask, error) {
	ids, err := s.client.ZRevRange(ctx, keyTaskSet, 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("task index: %w", err)
	}

	var out []*models.BatchTask
	for _, id := range ids {
		task, err := s.GetTask(ctx, id)
		if err != nil {
			if errors.Is(err, ErrTaskNotFound) {
				continue
			}
			return nil, err
		}
		if filter.BookID != "" && task.BookID != filter.BookID {
			continue
		}
		if len(filter.Statuses) > 0 {
			match := false
			for _, st := range filter.Statuses {
				if task.Status == st {
					match = true
					break
				}
			}
			if !match {
				continue
			}
		}
		out = append(out, task)
		if filter.Limit > 0 && len(out) >= filter.Limit {
			break
		}
	}
	return out, nil
}

func (s *RedisStore) DeleteTask(ctx context.Context, taskID string) error {
	task, err := s.GetTask(ctx, taskID)
	if err != nil {
		return err
	}

	pageIDs, err := s.client.LRange(ctx, fmt.Sprintf(keyPages, taskID), 0, -1).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("page index: %w", err)
	}

	pipe := s.client.TxPipeline()
	for _, pageID := range pageIDs {
		pipe.Del(ctx, fmt.Sprintf(keyPage, pageID))
	}
	pipe.Del(ctx, fmt.Sprintf(keyPages, taskID))
	pipe.Del(ctx, fmt.Sprintf(keyPageFile, taskID))
	pipe.Del(ctx, fmt.Sprintf(keyTask, taskID))
	pipe.ZRem(ctx, keyTaskSet, taskID)
	pipe.SRem(ctx, fmt.Sprintf(keyHashSet, task.TaskHash), taskID)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("delete task: %w", err)
	}
	return nil
}

func (s *RedisStore) CreatePage(ctx context.Context, page *models.PageResult) error {
	// SADD is the idempotence gate: the file name lands in the set exactly
	// once per task.
	added, err := s.client.SAdd(ctx, fmt.Sprintf(keyPageFile, page.TaskID), page.FileName).Result()
	if err != nil {
		return fmt.Errorf("file index: %w", err)
	}
	if added == 0 {
		return ErrPageExists
	}

	data, err := json.Marshal(page)
	if err != nil {
		return fmt.Errorf("marshal page: %w", err)
	}
	pipe := s.client.TxPipeline()
	pipe.Set(ctx, fmt.Sprintf(keyPage, page.PageID), data, 0)
	pipe.RPush(ctx, fmt.Sprintf(keyPages, page.TaskID), page.PageID)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("store page: %w", err)
	}
	return nil
}

func (s *RedisStore) PagesByTask(ctx context.Context, taskID string, limit int) ([]*models.PageResult, error) {
	pages, err := s.loadPages(ctx, taskID)
	if err != nil {
		return nil, err
	}
	sortPages(pages)
	if limit > 0 && len(pages) > limit {
		pages = pages[:limit]
	}
	return pages, nil
}

func (s *RedisStore) RecentPages(ctx context.Context, taskID string, limit int) ([]*models.PageResult, error) {
	pages, err := s.loadPages(ctx, taskID)
	if err != nil {
		return nil, err
	}
	// insertion order; newest last
	out := make([]*models.PageResult, 0, limit)
	for i := len(pages) - 1; i >= 0 && (limit <= 0 || len(out) < limit); i-- {
		out = append(out, pages[i])
	}
	return out, nil
}

func (s *RedisStore) loadPages(ctx context.Context, taskID string) ([]*models.PageResult, error) {
	pageIDs, err := s.client.LRange(ctx, fmt.Sprintf(keyPages, taskID), 0, -1).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("page index: %w", err)
	}

	pages := make([]*models.PageResult, 0, len(pageIDs))
	for _, pageID := range pageIDs {
		data, err := s.client.Get(ctx, fmt.Sprintf(keyPage, pageID)).Bytes()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				continue
			}
			return nil, fmt.Errorf("get page: %w", err)
		}
		var page models.PageResult
		if err := json.Unmarshal(data, &page); err != nil {
			return nil, fmt.Errorf("unmarshal page: %w", err)
		}
		pages = append(pages, &page)
	}
	return pages, nil
}

func (s *RedisStore) AcquireLock(ctx context.Context, lock *models.TaskLock) error {
	data, err := json.Marshal(lock)
	if err != nil {
		return fmt.Errorf("marshal lock: %w", err)
	}
	ttl := time.Until(lock.ExpiresAt)
	if ttl <= 0 {
		ttl = time.Minute
	}
	ok, err := s.client.SetNX(ctx, fmt.Sprintf(keyLock, lock.LockKey), data, ttl).Result()
	if err != nil {
		return fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		return ErrLockHeld
	}
	return nil
}

func (s *RedisStore) ReleaseLock(ctx context.Context, lockKey string) error {
	if err := s.client.Del(ctx, fmt.Sprintf(keyLock, lockKey)).Err(); err != nil {
		return fmt.Errorf("release lock: %w", err)
	}
	return nil
}
