// Package dedup derives stable fingerprints for batch tasks and looks up
// in-flight duplicates so equivalent work is never queued twice.
package dedup

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"path/filepath"
	"sort"
	"strings"

	"github.com/sishengcao/paddleocr-api/internal/models"
	"github.com/sishengcao/paddleocr-api/pkg/store"
)

// hashRecord is the canonical form hashed for duplicate detection. Field
// order is fixed; encoding/json emits struct fields in declaration order,
// which keeps the serialization stable across runs.
type hashRecord struct {
	Directory    string   `json:"directory"`
	Lang         string   `json:"lang"`
	TextLayout   string   `json:"text_layout"`
	OutputFormat string   `json:"output_format"`
	Recursive    bool     `json:"recursive"`
	FilePatterns []string `json:"file_patterns"`
}

// Fingerprint hashes the normalized directory and the effective scan
// configuration. Pattern order and trailing path separators do not affect
// the result; any material configuration change does.
func Fingerprint(directory string, cfg models.ScanConfig) string {
	cfg = cfg.Normalized()

	normalized := directory
	if abs, err := filepath.Abs(directory); err == nil {
		normalized = abs
	}
	normalized = filepath.ToSlash(normalized)
	if normalized != "/" {
		normalized = strings.TrimRight(normalized, "/")
	}

	patterns := append([]string(nil), cfg.FilePatterns...)
	sort.Strings(patterns)

	payload, _ := json.Marshal(hashRecord{
		Directory:    normalized,
		Lang:         cfg.Lang,
		TextLayout:   string(cfg.TextLayout),
		OutputFormat: string(cfg.OutputFormat),
		Recursive:    cfg.Recursive,
		FilePatterns: patterns,
	})

	sum := sha256.Sum256(payload)
	return hex.EncodeToString(sum[:])
}

// Detector answers whether a fingerprint is already owned by a live task.
type Detector struct {
	tasks store.TaskStore
}

func NewDetector(tasks store.TaskStore) *Detector {
	return &Detector{tasks: tasks}
}

// FindActiveDuplicate returns the non-terminal task holding hash, or nil.
// The find is advisory; the caller decides the rejection policy.
func (d *Detector) FindActiveDuplicate(ctx context.Context, hash string) (*models.BatchTask, error) {
	task, err := d.tasks.FindByHash(ctx, hash, store.ActiveStatuses())
	if err != nil {
		if err == store.ErrTaskNotFound {
			return nil, nil
		}
		return nil, fmt.Errorf("find by hash: %w", err)
	}
	return task, nil
}
