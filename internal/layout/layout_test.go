package layout

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/sishengcao/paddleocr-api/internal/models"
)

// boxAt builds a degenerate quadrilateral whose centroid is (x, y).
func boxAt(x, y float64) [4][2]float64 {
	return [4][2]float64{{x, y}, {x, y}, {x, y}, {x, y}}
}

// quadAround builds a proper rectangle centered on (x, y).
func quadAround(x, y float64) [4][2]float64 {
	return [4][2]float64{
		{x - 5, y - 2}, {x + 5, y - 2}, {x + 5, y + 2}, {x - 5, y + 2},
	}
}

func TestCentroid(t *testing.T) {
	x, y := Centroid(quadAround(30, 50))
	assert.Equal(t, 30.0, x)
	assert.Equal(t, 50.0, y)
}

func TestRenderEmpty(t *testing.T) {
	assert.Equal(t, "", Render(nil, models.LayoutHorizontal, models.FormatLineByLine))
}

func TestRenderHorizontalLineByLine(t *testing.T) {
	frags := []models.Fragment{
		{Text: "c", Box: quadAround(50, 10)},
		{Text: "a", Box: quadAround(10, 10)},
		{Text: "b", Box: quadAround(30, 50)},
	}
	// (10,10) before (50,10) by X, (30,50) last by Y.
	got := Render(frags, models.LayoutHorizontal, models.FormatLineByLine)
	assert.Equal(t, "a\nc\nb", got)
}

func TestRenderVerticalRLCharByChar(t *testing.T) {
	frags := []models.Fragment{
		{Text: "左", Box: boxAt(10, 5)},
		{Text: "右下", Box: boxAt(100, 50)},
		{Text: "右上", Box: boxAt(100, 5)},
	}
	got := Render(frags, models.LayoutVerticalRL, models.FormatCharByChar)
	assert.Equal(t, "右上右下左", got)
}

func TestRenderVerticalLR(t *testing.T) {
	frags := []models.Fragment{
		{Text: "b", Box: boxAt(100, 5)},
		{Text: "a2", Box: boxAt(10, 50)},
		{Text: "a1", Box: boxAt(10, 5)},
	}
	got := Render(frags, models.LayoutVerticalLR, models.FormatLineByLine)
	assert.Equal(t, "a1\na2\nb", got)
}

func TestRenderColumnByColumnVertical(t *testing.T) {
	// Two columns at x=100 and x=10, read right to left.
	frags := []models.Fragment{
		{Text: "甲", Box: boxAt(100, 10)},
		{Text: "乙", Box: boxAt(100, 40)},
		{Text: "丙", Box: boxAt(10, 10)},
		{Text: "丁", Box: boxAt(10, 40)},
	}
	got := Render(frags, models.LayoutVerticalRL, models.FormatColumnByColumn)
	assert.Equal(t, "甲乙\n丙丁", got)
}

func TestRenderColumnByColumnHorizontalBucketsByRow(t *testing.T) {
	frags := []models.Fragment{
		{Text: "second", Box: boxAt(10, 40)},
		{Text: "first-a", Box: boxAt(10, 10)},
		{Text: "first-b", Box: boxAt(60, 10.2)}, // rounds into the y=10 bucket
	}
	got := Render(frags, models.LayoutHorizontal, models.FormatColumnByColumn)
	assert.Equal(t, "first-afirst-b\nsecond", got)
}

func TestRenderStableOnEqualKeys(t *testing.T) {
	frags := []models.Fragment{
		{Text: "1", Box: boxAt(20, 20)},
		{Text: "2", Box: boxAt(20, 20)},
		{Text: "3", Box: boxAt(20, 20)},
	}
	for i := 0; i < 10; i++ {
		got := Render(frags, models.LayoutVerticalRL, models.FormatCharByChar)
		assert.Equal(t, "123", got)
	}
}

func TestRenderDeterministic(t *testing.T) {
	frags := []models.Fragment{
		{Text: "x", Box: quadAround(33, 7)},
		{Text: "y", Box: quadAround(12, 88)},
		{Text: "z", Box: quadAround(90, 41)},
	}
	for _, tl := range []models.TextLayout{models.LayoutHorizontal, models.LayoutVerticalRL, models.LayoutVerticalLR} {
		for _, of := range []models.OutputFormat{models.FormatLineByLine, models.FormatCharByChar, models.FormatColumnByColumn} {
			first := Render(frags, tl, of)
			second := Render(frags, tl, of)
			assert.Equal(t, first, second)
		}
	}
}

func TestMeanConfidence(t *testing.T) {
	assert.Equal(t, 0.0, MeanConfidence(nil))

	frags := []models.Fragment{
		{Confidence: 0.9},
		{Confidence: 0.7},
	}
	assert.InDelta(t, 0.8, MeanConfidence(frags), 1e-9)
}
