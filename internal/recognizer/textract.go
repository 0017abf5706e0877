package recognizer

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"os"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/textract"
	"github.com/aws/aws-sdk-go-v2/service/textract/types"

	"github.com/sishengcao/paddleocr-api/internal/models"
	"github.com/sishengcao/paddleocr-api/pkg/logger"
)

// TextractConfig AWS Textract 配置
type TextractConfig struct {
	Region        string
	AccessKey     string
	SecretKey     string
	MinConfidence float64
}

// TextractRecognizer recognizes images through AWS Textract line detection.
type TextractRecognizer struct {
	client *textract.Client
	cfg    *TextractConfig
	logger logger.Logger
}

func NewTextractRecognizer(ctx context.Context, cfg *TextractConfig, log logger.Logger) (*TextractRecognizer, error) {
	if cfg == nil {
		return nil, fmt.Errorf("textract config is required")
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx,
		awsconfig.WithRegion(cfg.Region),
		awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	return &TextractRecognizer{
		client: textract.NewFromConfig(awsCfg),
		cfg:    cfg,
		logger: log,
	}, nil
}

func (t *TextractRecognizer) Recognize(ctx context.Context, path string, opts Options) *Result {
	start := time.Now()

	data, err := os.ReadFile(path)
	if err != nil {
		return failure(start, fmt.Errorf("read image: %w", err))
	}

	// Textract returns normalized [0,1] polygons; scale them back to pixels
	// so the layout engine sees the same coordinate space as Tesseract.
	dims, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return failure(start, fmt.Errorf("decode image dimensions: %w", err))
	}
	width, height := float64(dims.Width), float64(dims.Height)

	out, err := t.client.DetectDocumentText(ctx, &textract.DetectDocumentTextInput{
		Document: &types.Document{Bytes: data},
	})
	if err != nil {
		return failure(start, fmt.Errorf("detect document text: %w", err))
	}

	var fragments []models.Fragment
	for _, block := range out.Blocks {
		if block.BlockType != types.BlockTypeLine || block.Text == nil {
			continue
		}
		confidence := float64(aws.ToFloat32(block.Confidence))
		if confidence < t.cfg.MinConfidence {
			continue
		}

		var quad [4][2]float64
		if block.Geometry != nil && len(block.Geometry.Polygon) >= 4 {
			for i := 0; i < 4; i++ {
				p := block.Geometry.Polygon[i]
				quad[i] = [2]float64{
					float64(p.X) * width,
					float64(p.Y) * height,
				}
			}
		}

		fragments = append(fragments, models.Fragment{
			Text:       aws.ToString(block.Text),
			Confidence: confidence / 100,
			Box:        quad,
		})
	}

	t.logger.Debug("textract recognition finished",
		logger.String("path", path),
		logger.Int("fragments", len(fragments)),
	)

	return &Result{
		Fragments: fragments,
		Success:   true,
		Duration:  time.Since(start),
	}
}

func (t *TextractRecognizer) Close() error { return nil }
