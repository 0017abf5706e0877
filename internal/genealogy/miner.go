package genealogy

import (
	"context"
	"fmt"

	"github.com/sishengcao/paddleocr-api/pkg/logger"
	"github.com/sishengcao/paddleocr-api/pkg/store"
)

// Miner runs the parser over every successful page of a finished task.
type Miner struct {
	pages  store.PageStore
	parser *Parser
	logger logger.Logger
}

func NewMiner(pages store.PageStore, log logger.Logger) *Miner {
	return &Miner{
		pages:  pages,
		parser: NewParser(),
		logger: log.Named("genealogy"),
	}
}

// MineTask returns all person entries found across the task's pages, in
// page order.
func (m *Miner) MineTask(ctx context.Context, taskID string) ([]*Entry, error) {
	pages, err := m.pages.PagesByTask(ctx, taskID, 0)
	if err != nil {
		return nil, fmt.Errorf("load pages for task %s: %w", taskID, err)
	}

	var entries []*Entry
	for _, page := range pages {
		entries = append(entries, m.parser.ParsePage(page)...)
	}

	m.logger.Info("genealogy mining finished",
		logger.String("taskId", taskID),
		logger.Int("pages", len(pages)),
		logger.Int("entries", len(entries)),
	)
	return entries, nil
}
