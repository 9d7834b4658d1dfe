package main

import (
	"math"
	"strings"
	"time"

	styles "github.com/charmbracelet/lipgloss"
	plot "github.com/chriskim06/drawille-go"

	"github.com/keilerkonzept/visitor-counter/internal/visitor"
)

const timeOfDay = "15:04:05"

// chartData is exactly what the last snapshot contained: one label per
// point, in order.
type chartData struct {
	Labels []string
	Values []float64
}

func deriveChart(s visitor.Stats, loc *time.Location) chartData {
	n := min(len(s.DispTimes), len(s.DispIntensity))
	d := chartData{
		Labels: make([]string, n),
		Values: make([]float64, n),
	}
	for i := 0; i < n; i++ {
		d.Labels[i] = s.Time(i).In(loc).Format(timeOfDay)
		d.Values[i] = s.DispIntensity[i]
	}
	return d
}

func (d chartData) scaled(logScale bool) []float64 {
	if !logScale {
		return d.Values
	}
	out := make([]float64, len(d.Values))
	for i, v := range d.Values {
		out[i] = math.Log(max(1, v))
	}
	return out
}

// renderChart draws the series on a braille canvas of w x h cells. A single
// point is drawn as a dot in the middle column, at the top when it is above
// zero and at the bottom otherwise. No points render as blank space.
func renderChart(d chartData, w, h int, logScale bool) string {
	if w < 1 || h < 1 {
		return blankArea(w, h)
	}
	switch len(d.Values) {
	case 0:
		return blankArea(w, h)
	case 1:
		return singlePoint(d.scaled(logScale)[0], w, h)
	}
	var line plot.Color
	if styles.DefaultRenderer().HasDarkBackground() {
		line = plot.Red
	} else {
		line = plot.Black
	}
	p := plot.NewCanvas(w, h)
	p.NumDataPoints = len(d.Values)
	p.ShowAxis = false
	p.LineColors = []plot.Color{line}
	p.Fill([][]float64{d.scaled(logScale)})
	return p.String()
}

func singlePoint(v float64, w, h int) string {
	row := h - 1
	if v > 0 {
		row = 0
	}
	rows := strings.Split(blankArea(w, h), "\n")
	col := w / 2
	rows[row] = rows[row][:col] + "•" + rows[row][col+1:]
	return strings.Join(rows, "\n")
}

func blankArea(w, h int) string {
	if w < 1 || h < 1 {
		return ""
	}
	row := strings.Repeat(" ", w)
	rows := make([]string, h)
	for i := range rows {
		rows[i] = row
	}
	return strings.Join(rows, "\n")
}

// chartLabels lays out the first and last time label around the scale hint,
// falling back to the hint alone when the pane is too narrow.
func chartLabels(d chartData, w int, linLog string) string {
	if len(d.Labels) == 0 {
		return " " + linLog
	}
	leftLabel := d.Labels[0]
	rightLabel := d.Labels[len(d.Labels)-1]
	minWidth := len(leftLabel) + len(rightLabel) + len("LIN LOG") + 4
	if w < minWidth {
		return " " + linLog
	}
	spaceTotal := w - (len(leftLabel) + len(rightLabel) + len("LIN LOG"))
	leftGap := spaceTotal / 2
	rightGap := spaceTotal - leftGap
	return leftLabel +
		strings.Repeat(" ", leftGap) +
		linLog +
		strings.Repeat(" ", rightGap) +
		borderFg.Render(rightLabel)
}
