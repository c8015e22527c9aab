// Package layout implements the 2D force-directed embedder: Graph2D with
// attraction/repulsion/gravity/noise forces, a Barnes-Hut R-tree for the
// repulsion term, adaptive time-stepping and convergence detection.
package layout

import "strings"

const lodMaxWidth = 80

type lodLevel struct {
	text   string
	width  int
	height int
}

// LodText holds progressively coarser renderings of a node label. Levels
// are appended finest-first via Coarser.
type LodText struct {
	levels []lodLevel
}

// Coarser appends the next (coarser) level.
func (l *LodText) Coarser(text string) {
	l.levels = append(l.levels, makeLodLevel(text))
}

// GivenAvailableSquare returns the finest level fitting a width×height
// character box, or "" if none fits.
func (l *LodText) GivenAvailableSquare(width, height int) string {
	for _, level := range l.levels {
		if level.width <= width && level.height <= height {
			return level.text
		}
	}
	return ""
}

// Full returns the finest level, or "".
func (l *LodText) Full() string {
	if len(l.levels) == 0 {
		return ""
	}
	return l.levels[0].text
}

func makeLodLevel(text string) lodLevel {
	width := 0
	height := 0
	for _, line := range strings.Split(text, "\n") {
		if len(line) <= lodMaxWidth {
			width = max(width, len(line))
			height++
		} else {
			width = lodMaxWidth
			height += (len(line) + lodMaxWidth - 1) / lodMaxWidth
		}
	}
	return lodLevel{text: text, width: width, height: height}
}

// NodeDrawingData is the renderer-facing payload carried per node.
type NodeDrawingData struct {
	State    int
	SCCGroup int
	Function int
	Lod      LodText
}
