// Package layout reassembles recognized text fragments into reading order.
//
// The recognizer returns fragments in detection order, which for scanned
// genealogy pages rarely matches reading order. Each fragment carries a
// bounding quadrilateral; ordering is decided purely on the quadrilateral
// centroids so the recognizer's own ordering never leaks into the output.
package layout

import (
	"sort"
	"strings"

	"github.com/sishengcao/paddleocr-api/internal/models"
)

// Centroid returns the arithmetic mean of the four box vertices.
func Centroid(box [4][2]float64) (x, y float64) {
	for _, p := range box {
		x += p[0]
		y += p[1]
	}
	return x / 4, y / 4
}

type placed struct {
	frag models.Fragment
	x, y float64
}

// Render orders fragments for the given script layout and joins them
// according to the output format. An empty fragment set renders as "".
func Render(fragments []models.Fragment, textLayout models.TextLayout, format models.OutputFormat) string {
	if len(fragments) == 0 {
		return ""
	}

	ordered := make([]placed, len(fragments))
	for i, f := range fragments {
		x, y := Centroid(f.Box)
		ordered[i] = placed{frag: f, x: x, y: y}
	}

	// Stable sort: equal keys keep their original relative order so the
	// same input always renders the same text.
	switch textLayout {
	case models.LayoutVerticalRL:
		// 竖排从右到左：先按列（X 降序），列内从上到下
		sort.SliceStable(ordered, func(i, j int) bool {
			if ordered[i].x != ordered[j].x {
				return ordered[i].x > ordered[j].x
			}
			return ordered[i].y < ordered[j].y
		})
	case models.LayoutVerticalLR:
		sort.SliceStable(ordered, func(i, j int) bool {
			if ordered[i].x != ordered[j].x {
				return ordered[i].x < ordered[j].x
			}
			return ordered[i].y < ordered[j].y
		})
	default: // horizontal
		sort.SliceStable(ordered, func(i, j int) bool {
			if ordered[i].y != ordered[j].y {
				return ordered[i].y < ordered[j].y
			}
			return ordered[i].x < ordered[j].x
		})
	}

	switch format {
	case models.FormatCharByChar:
		var b strings.Builder
		for _, p := range ordered {
			b.WriteString(p.frag.Text)
		}
		return b.String()
	case models.FormatColumnByColumn:
		return renderColumns(ordered, textLayout)
	default: // line_by_line
		lines := make([]string, len(ordered))
		for i, p := range ordered {
			lines[i] = p.frag.Text
		}
		return strings.Join(lines, "\n")
	}
}

// renderColumns buckets fragments on a rounded coordinate: the X centroid
// for vertical layouts, the Y centroid for horizontal. Buckets are emitted
// in first-appearance order; since the fragments are already sorted for the
// layout, that order is the layout's natural column order.
func renderColumns(ordered []placed, textLayout models.TextLayout) string {
	keyOf := func(p placed) int {
		if textLayout == models.LayoutVerticalRL || textLayout == models.LayoutVerticalLR {
			return int(p.x + 0.5)
		}
		return int(p.y + 0.5)
	}

	buckets := make(map[int]*strings.Builder)
	var keys []int
	for _, p := range ordered {
		k := keyOf(p)
		b, ok := buckets[k]
		if !ok {
			b = &strings.Builder{}
			buckets[k] = b
			keys = append(keys, k)
		}
		b.WriteString(p.frag.Text)
	}

	cols := make([]string, len(keys))
	for i, k := range keys {
		cols[i] = buckets[k].String()
	}
	return strings.Join(cols, "\n")
}

// MeanConfidence is the page-level confidence: the mean of fragment
// confidences, 0 when the page has no fragments.
func MeanConfidence(fragments []models.Fragment) float64 {
	if len(fragments) == 0 {
		return 0
	}
	var sum float64
	for _, f := range fragments {
		sum += f.Confidence
	}
	return sum / float64(len(fragments))
}
