package recognizer

import (
	"image"

	"github.com/disintegration/imaging"
)

// preprocessor is one step of the image cleanup chain run before OCR.
type preprocessor interface {
	Process(img image.Image) (image.Image, error)
}

type grayscaleStep struct{}

func (grayscaleStep) Process(img image.Image) (image.Image, error) {
	return imaging.Grayscale(img), nil
}

type contrastStep struct {
	amount float64
}

func (s contrastStep) Process(img image.Image) (image.Image, error) {
	return imaging.AdjustContrast(img, s.amount), nil
}

type sharpenStep struct {
	sigma float64
}

func (s sharpenStep) Process(img image.Image) (image.Image, error) {
	return imaging.Sharpen(img, s.sigma), nil
}

// defaultPipeline is tuned for aged genealogy scans: low contrast paper,
// slight blur from the scanning glass.
func defaultPipeline() []preprocessor {
	return []preprocessor{
		grayscaleStep{},
		contrastStep{amount: 15},
		sharpenStep{sigma: 0.5},
	}
}

func applyPipeline(img image.Image, steps []preprocessor) (image.Image, error) {
	result := img
	for _, step := range steps {
		var err error
		result, err = step.Process(result)
		if err != nil {
			return nil, err
		}
	}
	return result, nil
}
