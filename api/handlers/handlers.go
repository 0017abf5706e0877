package handlers

import (
	"github.com/sishengcao/paddleocr-api/internal/genealogy"
	"github.com/sishengcao/paddleocr-api/internal/service/batch"
	"github.com/sishengcao/paddleocr-api/pkg/logger"
)

type Handlers struct {
	Batch *BatchHandler
}

func NewHandlers(
	batchService *batch.Service,
	exporter *batch.Exporter,
	miner *genealogy.Miner,
	logger logger.Logger,
) *Handlers {
	return &Handlers{
		Batch: NewBatchHandler(batchService, exporter, miner, logger),
	}
}
