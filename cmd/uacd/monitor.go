package main

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/gdamore/tcell/v2"
	"github.com/go-audio/audio"
	"github.com/rivo/tview"

	uac "github.com/kevmo314/go-uac"
	"github.com/kevmo314/go-uac/pkg/controls"
	"github.com/kevmo314/go-uac/pkg/descriptors"
	"github.com/kevmo314/go-uac/pkg/engine"
)

type MonitorCmd struct {
	FFTSize int           `help:"Samples per spectrum." default:"2048"`
	Refresh time.Duration `help:"Screen refresh period." default:"100ms"`
}

type monitor struct {
	app      *tview.Application
	driver   *uac.Driver
	table    *tview.Table
	status   *tview.TextView
	scope    *tview.TextView
	fftSize  int
	logger   *slog.Logger
	mu       sync.Mutex
	controls []controls.Control
	input    []float64
	read     int64
}

func (c *MonitorCmd) Run(g *Globals, logger *slog.Logger) error {
	m := &monitor{app: tview.NewApplication(), fftSize: max(c.FFTSize, 64), logger: logger, read: -1}
	s, err := g.open(logger,
		uac.WithControlHandler(func(controls.Control) { go m.app.QueueUpdateDraw(m.reloadControls) }),
		uac.WithRatesHandler(func(*engine.Engine) { go m.app.QueueUpdateDraw(m.drawStatus) }),
	)
	if err != nil {
		return err
	}
	defer s.Close()
	m.driver = s.driver

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := s.run(ctx, logger)
	for _, e := range s.driver.Engines() {
		if err := s.driver.StartEngine(e.Index); err != nil {
			return fmt.Errorf("engine %d: %w", e.Index, err)
		}
	}

	m.layout()
	go m.poll(ctx, c.Refresh)
	err = m.app.Run()
	cancel()
	<-done
	return err
}

func (m *monitor) layout() {
	m.table = tview.NewTable().SetSelectable(true, false)
	m.table.SetBorder(true).SetTitle(" Controls (←/→ adjust, space toggles) ")
	m.table.SetInputCapture(m.key)
	m.status = tview.NewTextView().SetDynamicColors(true)
	m.status.SetBorder(true).SetTitle(" Engines ")
	m.scope = tview.NewTextView()
	m.scope.SetBorder(true).SetTitle(" Input spectrum ")

	right := tview.NewFlex().SetDirection(tview.FlexRow).
		AddItem(m.status, 0, 1, false).
		AddItem(m.scope, 0, 2, false)
	root := tview.NewFlex().
		AddItem(m.table, 0, 1, true).
		AddItem(right, 0, 2, false)
	m.reloadControls()
	m.drawStatus()
	m.app.SetRoot(root, true)
}

func (m *monitor) reloadControls() {
	m.mu.Lock()
	m.controls = m.driver.Controls()
	cs := m.controls
	m.mu.Unlock()
	m.table.Clear()
	for i, c := range cs {
		m.table.SetCell(i, 0, tview.NewTableCell(fmt.Sprintf("%s %d/%d", c.Kind, c.Unit, c.Channel)))
		m.table.SetCell(i, 1, tview.NewTableCell(c.Usage.String()).SetTextColor(tcell.ColorGray))
		m.table.SetCell(i, 2, tview.NewTableCell(controlValue(c)).SetAlign(tview.AlignRight))
	}
}

func controlValue(c controls.Control) string {
	switch c.Kind {
	case controls.KindMute:
		if c.Value != 0 {
			return "muted"
		}
		return "on"
	case controls.KindSelector:
		return fmt.Sprintf("pin %d of %d", c.Value, len(c.Pins))
	}
	return fmt.Sprintf("%d/%d", c.Value, c.Scale.MaxValue())
}

func (m *monitor) key(ev *tcell.EventKey) *tcell.EventKey {
	row, _ := m.table.GetSelection()
	m.mu.Lock()
	if row < 0 || row >= len(m.controls) {
		m.mu.Unlock()
		return ev
	}
	c := m.controls[row]
	m.mu.Unlock()

	value := c.Value
	switch {
	case ev.Key() == tcell.KeyLeft:
		value--
	case ev.Key() == tcell.KeyRight:
		value++
	case ev.Rune() == ' ' && c.Kind == controls.KindMute:
		value = 1 - value
	case ev.Rune() == ' ' && c.Kind == controls.KindSelector:
		value = value%int32(len(c.Pins)) + 1
	default:
		return ev
	}
	if err := m.driver.SetControl(c.Key, value); err != nil {
		m.logger.Debug("control not set", "control", c.Key, "error", err)
		return nil
	}
	m.reloadControls()
	return nil
}

func (m *monitor) drawStatus() {
	var b strings.Builder
	for _, e := range m.driver.Engines() {
		state := "[red]stopped[-]"
		if m.driver.Running(e.Index) {
			state = "[green]running[-]"
		}
		fmt.Fprintf(&b, "Engine %d %s  %d Hz  interfaces %v\n", e.Index, state, e.Master.Format.Rate, e.Interfaces())
		for _, mem := range e.Members {
			st, err := m.driver.Stream(mem.Interface)
			if err != nil {
				continue
			}
			fmt.Fprintf(&b, "  if %d %s %dch/%dbit  measured %d Hz  frame %d\n",
				mem.Interface, mem.Direction, mem.Format.Channels, mem.Format.BitDepth, st.AverageSampleRate(), st.LastFrame())
		}
	}
	t := m.driver.Timer()
	fmt.Fprintf(&b, "\nAnchor window %d, cycle %.4f ns\n", t.Len(), float64(t.CycleTime())/float64(m.driver.Tunables().WallTimeExtraPrecision))
	m.mu.Lock()
	peak, rms := levels(m.input)
	m.mu.Unlock()
	fmt.Fprintf(&b, "Input peak %.1f dBFS  rms %.1f dBFS\n", peak, rms)
	m.status.SetText(b.String())
}

func (m *monitor) poll(ctx context.Context, period time.Duration) {
	_, iface, err := pickStream(m.driver, 0, descriptors.DirectionIn)
	tick := time.NewTicker(period)
	defer tick.Stop()
	var buf audio.Float32Buffer
	for {
		select {
		case <-ctx.Done():
			return
		case <-tick.C:
		}
		if err == nil {
			m.capture(iface, &buf)
		}
		m.app.QueueUpdateDraw(func() {
			m.drawStatus()
			m.mu.Lock()
			samples := m.input
			m.mu.Unlock()
			_, _, w, h := m.scope.GetInnerRect()
			m.scope.SetText(strings.Join(spectrum(samples, w, h), "\n"))
		})
	}
}

// capture keeps the newest fftSize frames of the first channel of an input stream.
func (m *monitor) capture(iface uint8, buf *audio.Float32Buffer) {
	st, err := m.driver.Stream(iface)
	if err != nil {
		return
	}
	head, ringFrames := streamFrame(st)
	from := max(head-int64(m.fftSize), m.read, 0)
	if n := int(head - from); n > 0 {
		if err := st.ConvertInputSamples(buf, int(from%int64(ringFrames)), n); err != nil {
			return
		}
		ch := st.Config().Format.Channels
		m.mu.Lock()
		for k := 0; k < n; k++ {
			m.input = append(m.input, float64(buf.Data[k*ch]))
		}
		if over := len(m.input) - m.fftSize; over > 0 {
			m.input = m.input[over:]
		}
		m.mu.Unlock()
	}
	m.read = head
}
