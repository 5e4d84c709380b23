package pipeline

import (
	"fmt"
	"math"
	"sort"
	"strings"

	pdf "github.com/ledongthuc/pdf"

	"receipts/internal/util"
)

const (
	// Glyphs whose baselines are closer than this, in points, share a line.
	lineTolerance = 2.0

	// A horizontal gap wider than this fraction of the font size, and at
	// least minWordGap points, is a word break.
	wordGapRatio = 0.2
	minWordGap   = 1.0
)

// TextSource yields the text of every page of a document, in page order.
type TextSource interface {
	ExtractText(path string) ([]string, error)
}

// PDFText reads the text layer of PDF files. Each page is rebuilt from its
// positioned glyphs, top to bottom, so label and value printed on one line
// stay on one line and kerned words stay whole.
type PDFText struct{}

func (PDFText) ExtractText(path string) (pages []string, err error) {
	f, r, err := pdf.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	defer func() {
		if rec := recover(); rec != nil {
			pages, err = nil, fmt.Errorf("read %s: %v", path, rec)
		}
	}()

	for i := 1; i <= r.NumPage(); i++ {
		p := r.Page(i)
		if p.V.IsNull() {
			pages = append(pages, "")
			continue
		}
		pages = append(pages, pageText(p))
	}
	return pages, nil
}

func pageText(p pdf.Page) string {
	if text := layoutGlyphs(p.Content().Text); text != "" {
		return text
	}
	text, err := p.GetPlainText(nil)
	if err != nil {
		return ""
	}
	return text
}

type textLine struct {
	y    float64
	endX float64
	b    strings.Builder
}

func (l *textLine) add(g pdf.Text) {
	if l.b.Len() > 0 && g.S != " " {
		gap := math.Max(wordGapRatio*math.Abs(g.FontSize), minWordGap)
		if g.X-l.endX > gap {
			l.b.WriteByte(' ')
		}
	}
	l.b.WriteString(g.S)
	l.endX = g.X + g.W
}

// layoutGlyphs groups glyphs by baseline, keeps emission order within a line
// and orders lines from the top of the page down.
func layoutGlyphs(glyphs []pdf.Text) string {
	var lines []*textLine
	for _, g := range glyphs {
		if strings.Trim(g.S, "\r\n") == "" {
			continue
		}
		line := findLine(lines, g.Y)
		if line == nil {
			line = &textLine{y: g.Y, endX: g.X}
			lines = append(lines, line)
		}
		line.add(g)
	}

	sort.SliceStable(lines, func(i, j int) bool { return lines[i].y > lines[j].y })
	out := make([]string, 0, len(lines))
	for _, l := range lines {
		if s := util.NormalizeSpaces(l.b.String()); s != "" {
			out = append(out, s)
		}
	}
	return strings.Join(out, "\n")
}

func findLine(lines []*textLine, y float64) *textLine {
	for _, l := range lines {
		if math.Abs(l.y-y) < lineTolerance {
			return l
		}
	}
	return nil
}
