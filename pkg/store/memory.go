package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/sishengcao/paddleocr-api/internal/models"
)

// MemoryStore is a process-local Store used by tests and single-node runs.
type MemoryStore struct {
	mu    sync.RWMutex
	tasks map[string]*models.BatchTask
	// page ids per task, in insertion order
	taskPages map[string][]string
	// (taskID, fileName) -> page id, for idempotent recording
	pageByFile map[string]map[string]string
	pages      map[string]*models.PageResult
	locks      map[string]*models.TaskLock
	// creation order, for deterministic listing
	order []string
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		tasks:      make(map[string]*models.BatchTask),
		taskPages:  make(map[string][]string),
		pageByFile: make(map[string]map[string]string),
		pages:      make(map[string]*models.PageResult),
		locks:      make(map[string]*models.TaskLock),
	}
}

func cloneTask(t *models.BatchTask) *models.BatchTask {
	c := *t
	return &c
}

func clonePage(p *models.PageResult) *models.PageResult {
	c := *p
	return &c
}

func (s *MemoryStore) CreateTask(_ context.Context, task *models.BatchTask) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tasks[task.TaskID] = cloneTask(task)
	s.order = append(s.order, task.TaskID)
	return nil
}

func (s *MemoryStore) GetTask(_ context.Context, taskID string) (*models.BatchTask, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	task, ok := s.tasks[taskID]
	if !ok {
		return nil, ErrTaskNotFound
	}
	return cloneTask(task), nil
}

func (s *MemoryStore) UpdateTask(_ context.Context, taskID string, mutate func(*models.BatchTask) error) (*models.BatchTask, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	task, ok := s.tasks[taskID]
	if !ok {
		return nil, ErrTaskNotFound
	}
	updated := cloneTask(task)
	if err := mutate(updated); err != nil {
		return nil, err
	}
	s.tasks[taskID] = updated
	return cloneTask(updated), nil
}

func (s *MemoryStore) FindByHash(_ context.Context, hash string, statuses []models.TaskStatus) (*models.BatchTask, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, id := range s.order {
		task := s.tasks[id]
		if task == nil || task.TaskHash != hash {
			continue
		}
		for _, st := range statuses {
			if task.Status == st {
				return cloneTask(task), nil
			}
		}
	}
	return nil, ErrTaskNotFound
}

func (s *MemoryStore) ListTasks(_ context.Context, filter TaskFilter) ([]*models.BatchTask, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*models.BatchTask
	// newest first
	for i := len(s.order) - 1; i >= 0; i-- {
		task := s.tasks[s.order[i]]
		if task == nil {
			continue
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
		out = append(out, cloneTask(task))
		if filter.Limit > 0 && len(out) >= filter.Limit {
			break
		}
	}
	return out, nil
}

func (s *MemoryStore) DeleteTask(_ context.Context, taskID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.tasks[taskID]; !ok {
		return ErrTaskNotFound
	}
	delete(s.tasks, taskID)
	for _, pageID := range s.taskPages[taskID] {
		delete(s.pages, pageID)
	}
	delete(s.taskPages, taskID)
	delete(s.pageByFile, taskID)
	for i, id := range s.order {
		if id == taskID {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
	return nil
}

func (s *MemoryStore) CreatePage(_ context.Context, page *models.PageResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	byFile := s.pageByFile[page.TaskID]
	if byFile == nil {
		byFile = make(map[string]string)
		s.pageByFile[page.TaskID] = byFile
	}
	if _, exists := byFile[page.FileName]; exists {
		return ErrPageExists
	}

	byFile[page.FileName] = page.PageID
	s.pages[page.PageID] = clonePage(page)
	s.taskPages[page.TaskID] = append(s.taskPages[page.TaskID], page.PageID)
	return nil
}

func (s *MemoryStore) PagesByTask(_ context.Context, taskID string, limit int) ([]*models.PageResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*models.PageResult, 0, len(s.taskPages[taskID]))
	for _, pageID := range s.taskPages[taskID] {
		if p := s.pages[pageID]; p != nil {
			out = append(out, clonePage(p))
		}
	}
	sortPages(out)
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *MemoryStore) RecentPages(_ context.Context, taskID string, limit int) ([]*models.PageResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := s.taskPages[taskID]
	out := make([]*models.PageResult, 0, limit)
	for i := len(ids) - 1; i >= 0 && (limit <= 0 || len(out) < limit); i-- {
		if p := s.pages[ids[i]]; p != nil {
			out = append(out, clonePage(p))
		}
	}
	return out, nil
}

func (s *MemoryStore) AcquireLock(_ context.Context, lock *models.TaskLock) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if held, ok := s.locks[lock.LockKey]; ok {
		if held.Status == models.LockActive && held.ExpiresAt.After(time.Now()) {
			return ErrLockHeld
		}
	}
	c := *lock
	s.locks[lock.LockKey] = &c
	return nil
}

func (s *MemoryStore) ReleaseLock(_ context.Context, lockKey string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.locks, lockKey)
	return nil
}

// sortPages orders by page number when present (absent numbers last), then
// by file name, matching the export row order of the original service.
func sortPages(pages []*models.PageResult) {
	sort.SliceStable(pages, func(i, j int) bool {
		pi, pj := pages[i].PageNumber, pages[j].PageNumber
		switch {
		case pi != nil && pj != nil && *pi != *pj:
			return *pi < *pj
		case pi != nil && pj == nil:
			return true
		case pi == nil && pj != nil:
			return false
		}
		return pages[i].FileName < pages[j].FileName
	})
}
