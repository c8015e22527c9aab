package export

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"gonum.org/v1/gonum/spatial/r2"

	"github.com/vanderheijden86/amba/pkg/layout"
)

func sampleGraph() *layout.Graph2D {
	g := layout.New(make([]layout.NodeDrawingData, 3), [][2]int{{0, 1}, {1, 2}})
	g.NodePositions = []r2.Vec{{X: 0, Y: 0}, {X: 1, Y: 1}, {X: 2, Y: 0.5}}
	g.Min = r2.Vec{X: 0, Y: 0}
	g.Max = r2.Vec{X: 2, Y: 1}
	g.DrawingData[1].State = 1
	return g
}

func TestSVGSnapshot(t *testing.T) {
	var buf bytes.Buffer
	snap := buildSnapshotLayout(SnapshotOptions{Title: "run 1", Graph: sampleGraph()})
	if err := renderSVG(&buf, snap); err != nil {
		t.Fatalf("render: %v", err)
	}
	out := buf.String()
	if !strings.Contains(out, "<svg") || !strings.Contains(out, "</svg>") {
		t.Fatal("missing svg envelope")
	}
	if got := strings.Count(out, "<circle"); got != 3 {
		t.Fatalf("want 3 node circles, got %d", got)
	}
	if got := strings.Count(out, "<line"); got != 2 {
		t.Fatalf("want 2 edges, got %d", got)
	}
	if !strings.Contains(out, "run 1") {
		t.Fatal("missing title")
	}
}

func TestSaveSnapshotInfersFormat(t *testing.T) {
	dir := t.TempDir()
	svgPath := filepath.Join(dir, "graph.svg")
	if err := SaveSnapshot(SnapshotOptions{Path: svgPath, Graph: sampleGraph()}); err != nil {
		t.Fatalf("svg save: %v", err)
	}
	data, err := os.ReadFile(svgPath)
	if err != nil || !bytes.Contains(data, []byte("<svg")) {
		t.Fatalf("svg output wrong: %v", err)
	}

	pngPath := filepath.Join(dir, "graph.png")
	if err := SaveSnapshot(SnapshotOptions{Path: pngPath, Graph: sampleGraph()}); err != nil {
		t.Fatalf("png save: %v", err)
	}
	data, err = os.ReadFile(pngPath)
	if err != nil || !bytes.HasPrefix(data, []byte("\x89PNG")) {
		t.Fatalf("png output wrong: %v", err)
	}
}

func TestSaveSnapshotRejectsEmptyGraph(t *testing.T) {
	err := SaveSnapshot(SnapshotOptions{Path: filepath.Join(t.TempDir(), "x.svg"), Graph: layout.Empty()})
	if err == nil {
		t.Fatal("empty graph should be rejected")
	}
}

func TestSaveSnapshotRejectsUnknownFormat(t *testing.T) {
	err := SaveSnapshot(SnapshotOptions{
		Path:   filepath.Join(t.TempDir(), "x.bmp"),
		Format: "bmp",
		Graph:  sampleGraph(),
	})
	if err == nil {
		t.Fatal("unknown format should be rejected")
	}
}
