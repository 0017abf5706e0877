// Package recognizer wraps the external text-recognition engines behind a
// single interface producing positioned fragments. The lifecycle manager and
// the layout engine never see engine-specific types.
package recognizer

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/sishengcao/paddleocr-api/internal/models"
	"github.com/sishengcao/paddleocr-api/pkg/logger"
)

// Options 识别选项
type Options struct {
	Lang        string
	UseAngleCls bool
}

// Result is the outcome of recognizing one file. A recognition failure is
// reported in the result, not as an error: per-file failures never abort
// the surrounding task.
type Result struct {
	Fragments []models.Fragment
	Success   bool
	Error     string
	Duration  time.Duration
}

// Recognizer 识别引擎接口
type Recognizer interface {
	Recognize(ctx context.Context, path string, opts Options) *Result
	Close() error
}

// Engine selects the image recognizer backend.
type Engine string

const (
	EngineTesseract Engine = "tesseract"
	EngineTextract  Engine = "textract"
)

// Registry routes files to an engine by extension.
type Registry struct {
	image  Recognizer
	pdf    Recognizer
	logger logger.Logger
}

// RegistryConfig 引擎路由配置
type RegistryConfig struct {
	Engine       Engine
	TextractConf *TextractConfig
}

func NewRegistry(cfg *RegistryConfig, log logger.Logger) (*Registry, error) {
	var image Recognizer
	var err error

	switch cfg.Engine {
	case EngineTextract:
		image, err = NewTextractRecognizer(context.Background(), cfg.TextractConf, log)
		if err != nil {
			return nil, fmt.Errorf("create textract recognizer: %w", err)
		}
	default:
		image = NewTesseractRecognizer(log)
	}

	return &Registry{
		image:  image,
		pdf:    NewPDFRecognizer(log),
		logger: log,
	}, nil
}

// For returns the recognizer responsible for the file, or an error for
// unsupported extensions.
func (r *Registry) For(path string) (Recognizer, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".jpg", ".jpeg", ".png", ".bmp", ".tiff":
		return r.image, nil
	case ".pdf":
		return r.pdf, nil
	default:
		return nil, fmt.Errorf("unsupported file type: %s", filepath.Ext(path))
	}
}

func (r *Registry) Close() error {
	if err := r.image.Close(); err != nil {
		return err
	}
	return r.pdf.Close()
}

// failure builds a failed result with the elapsed duration attached.
func failure(start time.Time, err error) *Result {
	return &Result{
		Success:  false,
		Error:    err.Error(),
		Duration: time.Since(start),
	}
}
