package recognizer

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/jpeg"
	_ "image/png"
	"os"
	"time"

	"github.com/otiai10/gosseract/v2"

	"github.com/sishengcao/paddleocr-api/internal/models"
	"github.com/sishengcao/paddleocr-api/pkg/logger"
)

// langMap translates the API language codes to Tesseract traineddata names.
var langMap = map[string]string{
	"ch":  "chi_sim",
	"cht": "chi_tra",
	"en":  "eng",
	"jp":  "jpn",
}

// TesseractRecognizer runs local Tesseract OCR with the preprocessing chain.
type TesseractRecognizer struct {
	logger logger.Logger
	steps  []preprocessor
}

func NewTesseractRecognizer(log logger.Logger) *TesseractRecognizer {
	return &TesseractRecognizer{
		logger: log,
		steps:  defaultPipeline(),
	}
}

func (t *TesseractRecognizer) Recognize(ctx context.Context, path string, opts Options) *Result {
	start := time.Now()

	if err := ctx.Err(); err != nil {
		return failure(start, err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return failure(start, fmt.Errorf("read image: %w", err))
	}

	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return failure(start, fmt.Errorf("decode image: %w", err))
	}

	processed, err := applyPipeline(img, t.steps)
	if err != nil {
		return failure(start, fmt.Errorf("preprocess image: %w", err))
	}

	buf := new(bytes.Buffer)
	if err := jpeg.Encode(buf, processed, &jpeg.Options{Quality: 100}); err != nil {
		return failure(start, fmt.Errorf("encode image: %w", err))
	}

	// One client per call: gosseract clients are not safe for concurrent use.
	client := gosseract.NewClient()
	defer client.Close()

	lang := langMap[opts.Lang]
	if lang == "" {
		lang = opts.Lang
	}
	if err := client.SetLanguage(lang); err != nil {
		return failure(start, fmt.Errorf("set language: %w", err))
	}

	psm := gosseract.PSM_AUTO
	if opts.UseAngleCls {
		psm = gosseract.PSM_AUTO_OSD
	}
	if err := client.SetPageSegMode(psm); err != nil {
		return failure(start, fmt.Errorf("set page seg mode: %w", err))
	}

	if err := client.SetImageFromBytes(buf.Bytes()); err != nil {
		return failure(start, fmt.Errorf("set image: %w", err))
	}

	boxes, err := client.GetBoundingBoxesVerbose()
	if err != nil {
		return failure(start, fmt.Errorf("bounding boxes: %w", err))
	}

	fragments := make([]models.Fragment, 0, len(boxes))
	for _, box := range boxes {
		if box.Word == "" {
			continue
		}
		min, max := box.Box.Min, box.Box.Max
		fragments = append(fragments, models.Fragment{
			Text:       box.Word,
			Confidence: box.Confidence / 100,
			Box: [4][2]float64{
				{float64(min.X), float64(min.Y)},
				{float64(max.X), float64(min.Y)},
				{float64(max.X), float64(max.Y)},
				{float64(min.X), float64(max.Y)},
			},
		})
	}

	t.logger.Debug("tesseract recognition finished",
		logger.String("path", path),
		logger.Int("fragments", len(fragments)),
	)

	return &Result{
		Fragments: fragments,
		Success:   true,
		Duration:  time.Since(start),
	}
}

func (t *TesseractRecognizer) Close() error { return nil }
