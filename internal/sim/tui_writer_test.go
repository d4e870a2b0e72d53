package sim

import (
	"strings"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"greencart-sim/internal/config"
	"greencart-sim/internal/store"
	"greencart-sim/internal/telemetry"
)

type fakeProgram struct{ msgs []tea.Msg }

func (f *fakeProgram) Send(msg tea.Msg) { f.msgs = append(f.msgs, msg) }

func TestTUIWriterMessages(t *testing.T) {
	p := &fakeProgram{}
	w := &TUIWriter{program: p, colors: &driverColors{}}
	row := telemetry.TelemetryRow{RunID: "sim-1", DriverID: "d", Timestamp: time.Unix(0, 0).UTC()}
	if err := w.Write(row); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, ok := p.msgs[0].(logMsg); !ok {
		t.Fatalf("expected logMsg, got %T", p.msgs[0])
	}
	if _, ok := p.msgs[1].(telemetryMsg); !ok {
		t.Fatalf("expected telemetryMsg, got %T", p.msgs[1])
	}
	if err := w.WriteEvent(telemetry.EventRow{Type: telemetry.EventBreakdown}); err != nil {
		t.Fatalf("event: %v", err)
	}
	if _, ok := p.msgs[2].(eventMsg); !ok {
		t.Fatalf("expected eventMsg, got %T", p.msgs[2])
	}
	if err := w.WriteProgress(telemetry.ProgressRow{RunID: "sim-1", Tick: 10}); err != nil {
		t.Fatalf("progress: %v", err)
	}
	if _, ok := p.msgs[3].(progressMsg); !ok {
		t.Fatalf("expected progressMsg, got %T", p.msgs[3])
	}
	w.End(EndPayload{RunID: "sim-1", Status: store.StatusCompleted})
	if _, ok := p.msgs[4].(endMsg); !ok {
		t.Fatalf("expected endMsg, got %T", p.msgs[4])
	}
}

func TestWrapToggle(t *testing.T) {
	cfg := config.Default().Simulation
	m := newTUIModel(&cfg, nil)
	mi, _ := m.Update(tea.WindowSizeMsg{Width: 20, Height: 30})
	m = mi.(tuiModel)
	mi, _ = m.Update(logMsg{line: "one two three four five six"})
	m = mi.(tuiModel)
	lines := strings.Split(m.vp.View(), "\n")
	if len(lines) < 2 || strings.TrimSpace(lines[1]) != "" {
		t.Fatalf("expected single line before wrap")
	}
	mi, _ = m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune{'w'}})
	m = mi.(tuiModel)
	if !m.wrap {
		t.Fatalf("wrap not toggled")
	}
	lines = strings.Split(m.vp.View(), "\n")
	if strings.TrimSpace(lines[1]) == "" {
		t.Fatalf("expected wrapped content on second line")
	}
}

func TestScrollToggle(t *testing.T) {
	m := newTUIModel(nil, nil)
	m.vp.Height = 1
	m.vp.Width = 20
	mi, _ := m.Update(logMsg{line: "l1"})
	m = mi.(tuiModel)
	mi, _ = m.Update(logMsg{line: "l2"})
	m = mi.(tuiModel)
	if m.vp.YOffset != 1 {
		t.Fatalf("expected YOffset 1, got %d", m.vp.YOffset)
	}
	mi, _ = m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune{'s'}})
	m = mi.(tuiModel)
	if m.autoscroll {
		t.Fatalf("autoscroll should be off")
	}
	mi, _ = m.Update(logMsg{line: "l3"})
	m = mi.(tuiModel)
	if m.vp.YOffset != 1 {
		t.Fatalf("expected YOffset unchanged, got %d", m.vp.YOffset)
	}
	mi, _ = m.Update(tea.KeyMsg{Type: tea.KeyUp})
	m = mi.(tuiModel)
	if m.vp.YOffset != 0 {
		t.Fatalf("expected YOffset 0 after scrolling up, got %d", m.vp.YOffset)
	}
}

func TestTUIModelTracksDriversAndRuns(t *testing.T) {
	m := newTUIModel(nil, nil)
	mi, _ := m.Update(tea.WindowSizeMsg{Width: 120, Height: 40})
	m = mi.(tuiModel)
	for _, id := range []string{"d2", "d1"} {
		mi, _ = m.Update(telemetryMsg{telemetry.TelemetryRow{DriverID: id, BatteryPct: 50, Speed: 30}})
		m = mi.(tuiModel)
	}
	if got := m.driverIDs(); len(got) != 2 || got[0] != "d1" {
		t.Fatalf("driver ids=%v", got)
	}
	if !strings.Contains(m.header, "Driver") {
		t.Fatalf("driver table missing from header")
	}

	mi, _ = m.Update(progressMsg{telemetry.ProgressRow{RunID: "sim-1", Tick: 30, MaxTicks: 60}})
	m = mi.(tuiModel)
	if !strings.Contains(m.renderProgress(), "30/60(50%)") {
		t.Fatalf("unexpected progress: %q", m.renderProgress())
	}

	mi, _ = m.Update(eventMsg{line: "ev", row: telemetry.EventRow{Type: telemetry.EventReroute, Timestamp: time.Unix(10, 0)}})
	m = mi.(tuiModel)
	if m.totalEvents != 1 || m.eventCounts[telemetry.EventReroute] != 1 {
		t.Fatalf("event not counted")
	}

	mi, _ = m.Update(endMsg{EndPayload{RunID: "sim-1", Status: store.StatusCompleted, Message: "Simulation completed."}})
	m = mi.(tuiModel)
	if _, ok := m.progress["sim-1"]; ok {
		t.Fatalf("ended run should drop from progress")
	}
	if !strings.Contains(m.renderProgress(), "Simulation completed.") {
		t.Fatalf("expected end message, got %q", m.renderProgress())
	}
}

func TestEventHistoryWindow(t *testing.T) {
	m := newTUIModel(nil, nil)
	base := time.Unix(100, 0)
	m.trackEventSecond(base)
	m.trackEventSecond(base.Add(200 * time.Millisecond))
	m.trackEventSecond(base.Add(3 * time.Second))
	want := []int{2, 0, 0, 1}
	if len(m.eventHistory) != len(want) {
		t.Fatalf("history=%v, want %v", m.eventHistory, want)
	}
	for i := range want {
		if m.eventHistory[i] != want[i] {
			t.Fatalf("history=%v, want %v", m.eventHistory, want)
		}
	}
}

func TestHeadingIcon(t *testing.T) {
	cases := map[int]string{0: "^", 90: ">", 180: "v", 270: "<", 359: "^", -90: "<"}
	for h, want := range cases {
		if got := headingIcon(h); got != want {
			t.Fatalf("headingIcon(%d)=%s, want %s", h, got, want)
		}
	}
}
