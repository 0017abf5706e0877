package recognizer

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/ledongthuc/pdf"

	"github.com/sishengcao/paddleocr-api/internal/models"
	"github.com/sishengcao/paddleocr-api/pkg/logger"
)

// PDFRecognizer extracts embedded text from PDF scans. Rows come out with
// exact positions, so fragments carry confidence 1.0 and a quadrilateral
// built from the row extent. PDF user space grows upward; Y is flipped so
// fragments live in the same top-down space as the OCR engines.
type PDFRecognizer struct {
	logger logger.Logger
}

func NewPDFRecognizer(log logger.Logger) *PDFRecognizer {
	return &PDFRecognizer{logger: log}
}

func (p *PDFRecognizer) Recognize(ctx context.Context, path string, _ Options) *Result {
	start := time.Now()

	content, err := os.ReadFile(path)
	if err != nil {
		return failure(start, fmt.Errorf("read pdf: %w", err))
	}

	reader := bytes.NewReader(content)
	pdfReader, err := pdf.NewReader(reader, reader.Size())
	if err != nil {
		return failure(start, fmt.Errorf("open pdf: %w", err))
	}

	var fragments []models.Fragment
	for pageNum := 1; pageNum <= pdfReader.NumPage(); pageNum++ {
		if err := ctx.Err(); err != nil {
			return failure(start, err)
		}

		page := pdfReader.Page(pageNum)
		if page.V.IsNull() {
			continue
		}

		rows, err := page.GetTextByRow()
		if err != nil {
			return failure(start, fmt.Errorf("extract text from page %d: %w", pageNum, err))
		}

		pageHeight := mediaBoxHeight(page)
		pageOffset := float64(pageNum-1) * pageHeight

		for _, row := range rows {
			if len(row.Content) == 0 {
				continue
			}

			var sb strings.Builder
			minX, maxX := row.Content[0].X, row.Content[0].X
			rowHeight := row.Content[0].FontSize
			for _, word := range row.Content {
				sb.WriteString(word.S)
				if word.X < minX {
					minX = word.X
				}
				if right := word.X + word.W; right > maxX {
					maxX = right
				}
				if word.FontSize > rowHeight {
					rowHeight = word.FontSize
				}
			}
			text := strings.TrimSpace(sb.String())
			if text == "" {
				continue
			}
			if rowHeight <= 0 {
				rowHeight = 12
			}

			top := pageOffset + (pageHeight - float64(row.Position))
			fragments = append(fragments, models.Fragment{
				Text:       text,
				Confidence: 1.0,
				Box: [4][2]float64{
					{minX, top},
					{maxX, top},
					{maxX, top + rowHeight},
					{minX, top + rowHeight},
				},
			})
		}
	}

	p.logger.Debug("pdf extraction finished",
		logger.String("path", path),
		logger.Int("fragments", len(fragments)),
	)

	return &Result{
		Fragments: fragments,
		Success:   true,
		Duration:  time.Since(start),
	}
}

// mediaBoxHeight reads the page height, falling back to US Letter points.
func mediaBoxHeight(page pdf.Page) float64 {
	mediaBox := page.V.Key("MediaBox")
	if mediaBox.IsNull() || mediaBox.Len() < 4 {
		return 792
	}
	lower := mediaBox.Index(1).Float64()
	upper := mediaBox.Index(3).Float64()
	if upper <= lower {
		return 792
	}
	return upper - lower
}

func (p *PDFRecognizer) Close() error { return nil }
