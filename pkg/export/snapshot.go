// Package export renders a laid-out graph to a static SVG or PNG snapshot
// for sharing outside the live TUI.
package export

import (
	"fmt"
	"image/color"
	"io"
	"math"
	"os"
	"path/filepath"
	"strings"

	"git.sr.ht/~sbinet/gg"
	svg "github.com/ajstarks/svgo"
	"golang.org/x/image/font/basicfont"

	"github.com/vanderheijden86/amba/pkg/layout"
	"github.com/vanderheijden86/amba/pkg/metrics"
)

// SnapshotOptions controls graph snapshot export behaviour.
type SnapshotOptions struct {
	Path   string // Output path; format inferred from extension when Format empty
	Format string // "svg" or "png" (case-insensitive). If empty, inferred from Path.
	Title  string // Optional title rendered in the summary line
	Graph  *layout.Graph2D
}

// SaveSnapshot renders a static snapshot of the embedded graph. Node color
// follows the owning symbolic state so forks are visible at a glance.
func SaveSnapshot(opts SnapshotOptions) error {
	defer metrics.Timer(metrics.SnapshotExport)()
	if opts.Graph == nil || len(opts.Graph.NodePositions) == 0 {
		return fmt.Errorf("export: no graph to export")
	}

	format := strings.ToLower(strings.TrimPrefix(opts.Format, "."))
	if format == "" {
		switch strings.ToLower(filepath.Ext(opts.Path)) {
		case ".svg":
			format = "svg"
		case ".png":
			format = "png"
		default:
			format = "svg" // safe default
			if opts.Path != "" && filepath.Ext(opts.Path) == "" {
				opts.Path += ".svg"
			}
		}
	}
	if format != "svg" && format != "png" {
		return fmt.Errorf("export: unsupported format %q (want svg or png)", format)
	}
	if opts.Path == "" {
		return fmt.Errorf("export: output path is required")
	}
	if err := os.MkdirAll(filepath.Dir(opts.Path), 0o755); err != nil {
		return fmt.Errorf("export: create parent dir: %w", err)
	}

	snap := buildSnapshotLayout(opts)
	switch format {
	case "svg":
		file, err := os.Create(opts.Path)
		if err != nil {
			return err
		}
		defer file.Close()
		return renderSVG(file, snap)
	default:
		return renderPNG(opts.Path, snap)
	}
}

// --- layout mapping --------------------------------------------------------

const (
	canvasWidth  = 1400
	canvasHeight = 1000
	headerHeight = 48.0
	nodeRadius   = 7.0
	margin       = 40.0
)

type snapshotNode struct {
	X, Y  float64
	State int
}

type snapshotLayout struct {
	Nodes   []snapshotNode
	Edges   [][2]int
	Title   string
	Summary string
}

// buildSnapshotLayout maps embedding space to the canvas.
func buildSnapshotLayout(opts SnapshotOptions) snapshotLayout {
	g := opts.Graph
	span := math.Max(g.Max.X-g.Min.X, g.Max.Y-g.Min.Y)
	if span <= 0 {
		span = 1
	}
	scaleX := (canvasWidth - 2*margin) / span
	scaleY := (canvasHeight - headerHeight - 2*margin) / span

	nodes := make([]snapshotNode, len(g.NodePositions))
	for i, pos := range g.NodePositions {
		state := 0
		if i < len(g.DrawingData) {
			state = g.DrawingData[i].State
		}
		nodes[i] = snapshotNode{
			X:     margin + (pos.X-g.Min.X)*scaleX,
			Y:     headerHeight + margin + (pos.Y-g.Min.Y)*scaleY,
			State: state,
		}
	}

	title := opts.Title
	if strings.TrimSpace(title) == "" {
		title = "amba graph snapshot"
	}
	return snapshotLayout{
		Nodes:   nodes,
		Edges:   g.Edges,
		Title:   title,
		Summary: fmt.Sprintf("%d nodes, %d edges", len(nodes), len(g.Edges)),
	}
}

// --- rendering -------------------------------------------------------------

var (
	colorBackdrop = color.RGBA{0xf9, 0xfa, 0xfb, 0xff}
	colorHeaderBG = color.RGBA{0xf3, 0xf4, 0xf6, 0xff}
	colorText     = color.RGBA{0x11, 0x11, 0x11, 0xff}
	colorEdge     = color.RGBA{0x6b, 0x80, 0xbf, 0xff}
	colorStroke   = color.RGBA{0x22, 0x22, 0x22, 0xff}
)

// statePalette cycles per symbolic state.
var statePalette = []color.RGBA{
	{0xc8, 0xe6, 0xc9, 0xff},
	{0xff, 0xcd, 0xd2, 0xff},
	{0xff, 0xf3, 0xe0, 0xff},
	{0xbb, 0xde, 0xfb, 0xff},
	{0xe1, 0xbe, 0xe7, 0xff},
	{0xcf, 0xd8, 0xdc, 0xff},
}

func stateColor(state int) color.RGBA {
	return statePalette[state%len(statePalette)]
}

func renderPNG(path string, snap snapshotLayout) error {
	dc := gg.NewContext(canvasWidth, canvasHeight)
	dc.SetColor(colorBackdrop)
	dc.Clear()

	dc.SetColor(colorHeaderBG)
	dc.DrawRoundedRectangle(12, 8, canvasWidth-24, headerHeight-16, 8)
	dc.Fill()

	dc.SetFontFace(basicfont.Face7x13)
	dc.SetColor(colorText)
	dc.DrawString(snap.Title, 24, 28)
	dc.DrawString(snap.Summary, 24, 42)

	dc.SetColor(colorEdge)
	dc.SetLineWidth(1.2)
	for _, e := range snap.Edges {
		from, to := snap.Nodes[e[0]], snap.Nodes[e[1]]
		dc.DrawLine(from.X, from.Y, to.X, to.Y)
		dc.Stroke()
		drawArrowHead(dc, from, to)
	}

	for _, n := range snap.Nodes {
		dc.SetColor(stateColor(n.State))
		dc.DrawCircle(n.X, n.Y, nodeRadius)
		dc.Fill()
		dc.SetColor(colorStroke)
		dc.SetLineWidth(1)
		dc.DrawCircle(n.X, n.Y, nodeRadius)
		dc.Stroke()
	}

	return dc.SavePNG(path)
}

func drawArrowHead(dc *gg.Context, from, to snapshotNode) {
	dx, dy := to.X-from.X, to.Y-from.Y
	length := math.Hypot(dx, dy)
	if length < nodeRadius*2 {
		return
	}
	ux, uy := dx/length, dy/length
	// Tip sits on the target circle's rim.
	tipX, tipY := to.X-ux*nodeRadius, to.Y-uy*nodeRadius
	const headLen = 6.0
	leftX := tipX - headLen*(ux*0.87-uy*0.5)
	leftY := tipY - headLen*(uy*0.87+ux*0.5)
	rightX := tipX - headLen*(ux*0.87+uy*0.5)
	rightY := tipY - headLen*(uy*0.87-ux*0.5)
	dc.DrawLine(tipX, tipY, leftX, leftY)
	dc.Stroke()
	dc.DrawLine(tipX, tipY, rightX, rightY)
	dc.Stroke()
}

func renderSVG(w io.Writer, snap snapshotLayout) error {
	canvas := svg.New(w)
	canvas.Start(canvasWidth, canvasHeight)
	canvas.Rect(0, 0, canvasWidth, canvasHeight, "fill:"+css(colorBackdrop))
	canvas.Roundrect(12, 8, canvasWidth-24, int(headerHeight)-16, 8, 8, "fill:"+css(colorHeaderBG))
	canvas.Text(24, 28, snap.Title,
		fmt.Sprintf("fill:%s;font-size:14px;font-family:monospace;font-weight:bold", css(colorText)))
	canvas.Text(24, 42, snap.Summary,
		fmt.Sprintf("fill:%s;font-size:12px;font-family:monospace", css(colorText)))

	for _, e := range snap.Edges {
		from, to := snap.Nodes[e[0]], snap.Nodes[e[1]]
		canvas.Line(int(from.X), int(from.Y), int(to.X), int(to.Y),
			fmt.Sprintf("stroke:%s;stroke-width:1.2", css(colorEdge)))
	}
	for _, n := range snap.Nodes {
		canvas.Circle(int(n.X), int(n.Y), int(nodeRadius),
			fmt.Sprintf("fill:%s;stroke:%s;stroke-width:1", css(stateColor(n.State)), css(colorStroke)))
	}
	canvas.End()
	return nil
}

func css(c color.RGBA) string {
	return fmt.Sprintf("#%02x%02x%02x", c.R, c.G, c.B)
}
