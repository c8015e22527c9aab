// Package ui is the terminal front end: it renders the live graph views
// maintained by the model and turns key presses into controller messages.
package ui

import (
	"fmt"
	"strings"
	"time"

	"github.com/atotto/clipboard"
	"github.com/charmbracelet/bubbles/key"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-runewidth"

	"github.com/vanderheijden86/amba/internal/controller"
	"github.com/vanderheijden86/amba/pkg/layout"
	"github.com/vanderheijden86/amba/pkg/metrics"
	"github.com/vanderheijden86/amba/pkg/model"
)

// refreshInterval is how often the TUI re-reads the model.
const refreshInterval = 100 * time.Millisecond

type keyMap struct {
	Quit       key.Binding
	NextView   key.Binding
	PrevView   key.Binding
	NextNode   key.Binding
	PrevNode   key.Binding
	Prioritise key.Binding
	Copy       key.Binding
	Help       key.Binding
	ParamUp    key.Binding
	ParamDown  key.Binding
	ParamNext  key.Binding
}

func defaultKeyMap() keyMap {
	return keyMap{
		Quit:       key.NewBinding(key.WithKeys("q", "ctrl+c"), key.WithHelp("q", "quit")),
		NextView:   key.NewBinding(key.WithKeys("tab"), key.WithHelp("tab", "next graph")),
		PrevView:   key.NewBinding(key.WithKeys("shift+tab"), key.WithHelp("shift+tab", "prev graph")),
		NextNode:   key.NewBinding(key.WithKeys("j", "down"), key.WithHelp("j", "next node")),
		PrevNode:   key.NewBinding(key.WithKeys("k", "up"), key.WithHelp("k", "prev node")),
		Prioritise: key.NewBinding(key.WithKeys("p"), key.WithHelp("p", "prioritise node")),
		Copy:       key.NewBinding(key.WithKeys("c"), key.WithHelp("c", "copy node text")),
		Help:       key.NewBinding(key.WithKeys("?"), key.WithHelp("?", "help")),
		ParamUp:    key.NewBinding(key.WithKeys("+", "="), key.WithHelp("+", "raise param")),
		ParamDown:  key.NewBinding(key.WithKeys("-"), key.WithHelp("-", "lower param")),
		ParamNext:  key.NewBinding(key.WithKeys("e"), key.WithHelp("e", "next param")),
	}
}

var (
	styleTitle    = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("212"))
	styleActive   = lipgloss.NewStyle().Bold(true).Underline(true)
	styleInactive = lipgloss.NewStyle().Faint(true)
	styleStatus   = lipgloss.NewStyle().Faint(true)
	styleBorder   = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).Padding(0, 1)
)

type tickMsg time.Time

// param indexes the tunable embedding parameters in display order.
type param int

const (
	paramNoise param = iota
	paramAttraction
	paramRepulsion
	paramGravity
	paramCount
)

func (p param) name() string {
	switch p {
	case paramNoise:
		return "noise"
	case paramAttraction:
		return "attraction"
	case paramRepulsion:
		return "repulsion"
	case paramGravity:
		return "gravity"
	default:
		return "?"
	}
}

// UI is the bubbletea model.
type UI struct {
	model        *model.Model
	controllerTx chan<- controller.Msg

	keys     keyMap
	view     model.GraphToView
	selected int
	activeP  param
	showHelp bool
	helpText string
	status   string
	width    int
	height   int
}

// New builds the TUI over a shared model and the controller queue.
func New(m *model.Model, controllerTx chan<- controller.Msg) *UI {
	return &UI{
		model:        m,
		controllerTx: controllerTx,
		keys:         defaultKeyMap(),
		view:         model.RawBlock,
	}
}

// Init implements tea.Model.
func (u *UI) Init() tea.Cmd {
	return tick()
}

func tick() tea.Cmd {
	return tea.Tick(refreshInterval, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

// send enqueues a controller message without ever blocking the UI thread.
func (u *UI) send(msg controller.Msg) {
	select {
	case u.controllerTx <- msg:
	default:
	}
}

// Update implements tea.Model.
func (u *UI) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tickMsg:
		return u, tick()
	case tea.WindowSizeMsg:
		u.width, u.height = msg.Width, msg.Height
		return u, nil
	case tea.KeyMsg:
		if u.showHelp {
			u.showHelp = false
			return u, nil
		}
		switch {
		case key.Matches(msg, u.keys.Quit):
			u.send(controller.GuiShutdown{})
			return u, tea.Quit
		case key.Matches(msg, u.keys.NextView):
			u.switchView(1)
		case key.Matches(msg, u.keys.PrevView):
			u.switchView(-1)
		case key.Matches(msg, u.keys.NextNode):
			u.moveSelection(1)
		case key.Matches(msg, u.keys.PrevNode):
			u.moveSelection(-1)
		case key.Matches(msg, u.keys.Prioritise):
			if u.view == model.StateGraph {
				u.send(controller.NewPriority{Node: u.selected})
				u.status = fmt.Sprintf("prioritised states reachable from node %d", u.selected)
			} else {
				u.status = "prioritise works on the state graph (tab to it)"
			}
		case key.Matches(msg, u.keys.Copy):
			text := u.model.GuiGetNodeDescription(u.view, u.selected)
			if err := clipboard.WriteAll(text); err != nil {
				u.status = "clipboard unavailable"
			} else {
				u.status = fmt.Sprintf("copied node %d", u.selected)
			}
		case key.Matches(msg, u.keys.Help):
			u.showHelp = true
			u.renderHelp()
		case key.Matches(msg, u.keys.ParamNext):
			u.activeP = (u.activeP + 1) % paramCount
		case key.Matches(msg, u.keys.ParamUp):
			u.adjustParam(+1)
		case key.Matches(msg, u.keys.ParamDown):
			u.adjustParam(-1)
		}
	}
	return u, nil
}

func (u *UI) switchView(delta int) {
	views := model.AllGraphsToView()
	idx := 0
	for i, v := range views {
		if v == u.view {
			idx = i
		}
	}
	u.view = views[(idx+delta+len(views))%len(views)]
	u.selected = 0
	u.model.GuiSetGraphToView(u.view)
	u.send(controller.EmbeddingParamsOrViewUpdated{})
}

func (u *UI) moveSelection(delta int) {
	g := u.model.GuiGetGraph(u.view)
	n := len(g.NodePositions)
	if n == 0 {
		u.selected = 0
		return
	}
	u.selected = (u.selected + delta + n) % n
}

// adjustParam nudges the active parameter by a twentieth of its range.
func (u *UI) adjustParam(direction float64) {
	u.model.GuiLockParams(func(p *layout.EmbeddingParameters) {
		adjust := func(v *float64, maximum float64) {
			*v = clampFloat(*v+direction*maximum/20, 0, maximum)
		}
		switch u.activeP {
		case paramNoise:
			adjust(&p.Noise, layout.MaxNoise)
		case paramAttraction:
			adjust(&p.Attraction, layout.MaxAttraction)
		case paramRepulsion:
			adjust(&p.Repulsion, layout.MaxRepulsion)
		case paramGravity:
			adjust(&p.Gravity, layout.MaxGravity)
		}
	})
	u.send(controller.EmbeddingParamsOrViewUpdated{})
}

func clampFloat(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

const helpMarkdown = `# amba

Live view of a symbolic execution run.

## Graphs

Five views of the same run: the raw and compressed basic-block graphs, the
state fork tree, and the merged variants that collapse the state dimension.

## Keys

| Key | Action |
|-----|--------|
| tab / shift+tab | switch graph view |
| j / k | select node |
| p | prioritise states reachable from the selected node |
| c | copy node description |
| e, +, - | pick and adjust embedding parameters |
| q | quit |
`

func (u *UI) renderHelp() {
	rendered, err := glamour.Render(helpMarkdown, "dark")
	if err != nil {
		u.helpText = helpMarkdown
		return
	}
	u.helpText = rendered
}

// View implements tea.Model.
func (u *UI) View() string {
	defer metrics.Timer(metrics.UIRender)()
	if u.showHelp {
		return u.helpText
	}
	width := max(u.width, 60)

	var b strings.Builder
	b.WriteString(styleTitle.Render("amba"))
	b.WriteString("  ")
	for i, v := range model.AllGraphsToView() {
		label := fmt.Sprintf("%d:%s", i+1, shortViewName(v))
		if v == u.view {
			b.WriteString(styleActive.Render(label))
		} else {
			b.WriteString(styleInactive.Render(label))
		}
		b.WriteString(" ")
	}
	b.WriteString("\n")

	g := u.model.GuiGetGraph(u.view)
	plotH := max(u.height-14, 8)
	b.WriteString(styleBorder.Render(renderScatter(g, width-4, plotH, u.selected)))
	b.WriteString("\n")

	params := u.model.GuiParams()
	b.WriteString(u.renderParams(params))
	b.WriteString("\n")

	desc := u.model.GuiGetNodeDescription(u.view, u.selected)
	b.WriteString(runewidth.Truncate(strings.SplitN(desc, "\n", 2)[0], width-2, "…"))
	b.WriteString("\n")

	if u.status != "" {
		b.WriteString(styleStatus.Render(runewidth.Truncate(u.status, width-2, "…")))
		b.WriteString("\n")
	}
	b.WriteString(styleStatus.Render("tab:view  j/k:node  p:prioritise  c:copy  e/+/-:params  ?:help  q:quit"))
	return b.String()
}

func (u *UI) renderParams(p layout.EmbeddingParameters) string {
	entries := []struct {
		p     param
		value float64
		max   float64
	}{
		{paramNoise, p.Noise, layout.MaxNoise},
		{paramAttraction, p.Attraction, layout.MaxAttraction},
		{paramRepulsion, p.Repulsion, layout.MaxRepulsion},
		{paramGravity, p.Gravity, layout.MaxGravity},
	}
	parts := make([]string, 0, len(entries)+1)
	for _, e := range entries {
		label := fmt.Sprintf("%s %.2f/%.1f", e.p.name(), e.value, e.max)
		if e.p == u.activeP {
			label = styleActive.Render(label)
		} else {
			label = styleInactive.Render(label)
		}
		parts = append(parts, label)
	}
	parts = append(parts, styleStatus.Render(fmt.Sprintf("%.0f updates/s", p.StatisticUpdatesPerSecond)))
	return strings.Join(parts, "  ")
}

func shortViewName(v model.GraphToView) string {
	switch v {
	case model.RawBlock:
		return "blocks"
	case model.CompressedBlock:
		return "compressed"
	case model.StateGraph:
		return "states"
	case model.MergedBlock:
		return "merged"
	case model.CompressedMergedBlock:
		return "merged-compressed"
	default:
		return "?"
	}
}

// renderScatter projects node positions onto a character grid. The selected
// node renders as ◉, everything else as ·.
func renderScatter(g *layout.Graph2D, width, height, selected int) string {
	if width < 4 || height < 2 || len(g.NodePositions) == 0 {
		return "(no nodes yet)"
	}
	spanX := g.Max.X - g.Min.X
	spanY := g.Max.Y - g.Min.Y
	if spanX <= 0 {
		spanX = 1
	}
	if spanY <= 0 {
		spanY = 1
	}

	grid := make([][]rune, height)
	for y := range grid {
		grid[y] = make([]rune, width)
		for x := range grid[y] {
			grid[y][x] = ' '
		}
	}
	clampInt := func(v, hi int) int {
		if v < 0 {
			return 0
		}
		if v > hi {
			return hi
		}
		return v
	}
	place := func(i int, r rune) {
		// The bounding box lags a layout batch behind the positions, so
		// out-of-box nodes clamp to the border.
		pos := g.NodePositions[i]
		x := clampInt(int((pos.X-g.Min.X)/spanX*float64(width-1)), width-1)
		y := clampInt(int((pos.Y-g.Min.Y)/spanY*float64(height-1)), height-1)
		grid[y][x] = r
	}
	for i := range g.NodePositions {
		place(i, '·')
	}
	if selected < len(g.NodePositions) {
		place(selected, '◉')
	}

	lines := make([]string, height)
	for y := range grid {
		lines[y] = string(grid[y])
	}
	return strings.Join(lines, "\n")
}

// Program wraps the running bubbletea program so other threads can request
// repaints.
type Program struct {
	program *tea.Program
}

// NewProgram builds the TUI over a shared model and controller queue.
func NewProgram(m *model.Model, controllerTx chan<- controller.Msg) *Program {
	return &Program{
		program: tea.NewProgram(New(m, controllerTx), tea.WithAltScreen()),
	}
}

// RequestRepaint nudges the UI to re-read the model. Safe from any thread.
func (p *Program) RequestRepaint() {
	p.program.Send(tickMsg(time.Now()))
}

// Run blocks until the user quits.
func (p *Program) Run() error {
	_, err := p.program.Run()
	return err
}
