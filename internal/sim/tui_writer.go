package sim

import (
	"fmt"
	"math"
	"os"
	"slices"
	"strings"
	"sync/atomic"
	"time"

	"github.com/charmbracelet/bubbles/table"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/reflow/wordwrap"

	"greencart-sim/internal/config"
	"greencart-sim/internal/telemetry"
)

// teaProgram abstracts bubbletea.Program for testing.
type teaProgram interface {
	Send(tea.Msg)
}

// logMsg carries a log line for the viewport.
type logMsg struct{ line string }

// eventMsg carries an event log line and row data.
type eventMsg struct {
	line string
	row  telemetry.EventRow
}

type progressMsg struct{ telemetry.ProgressRow }
type telemetryMsg struct{ telemetry.TelemetryRow }
type endMsg struct{ EndPayload }

const (
	maxLogLines         = 1000
	maxSectionHeightPct = 0.2
	bgRed               = "\x1b[41m"
	bgYellow            = "\x1b[43m"
	bgGreen             = "\x1b[42m"
)

// TUIWriter renders telemetry using a bubbletea TUI.
type TUIWriter struct {
	program    teaProgram
	colors     *driverColors
	done       chan struct{}
	sendSignal atomic.Bool
}

// NewTUIWriter starts a bubbletea program and returns a TUIWriter.
func NewTUIWriter(cfg *config.SimulationConfig) *TUIWriter {
	colors := &driverColors{}
	w := &TUIWriter{colors: colors, done: make(chan struct{})}
	w.sendSignal.Store(true)
	p := tea.NewProgram(newTUIModel(cfg, colors), tea.WithAltScreen())
	w.program = p
	go func() {
		_, _ = p.Run()
		close(w.done)
		// quitting the UI stops the process like Ctrl+C would
		if w.sendSignal.Load() {
			if proc, err := os.FindProcess(os.Getpid()); err == nil {
				_ = proc.Signal(os.Interrupt)
			}
		}
	}()
	return w
}

// Write implements TelemetryWriter.
func (w *TUIWriter) Write(row telemetry.TelemetryRow) error {
	w.program.Send(logMsg{line: formatTelemetryLine(row, w.colors.get(row.DriverID))})
	w.program.Send(telemetryMsg{row})
	return nil
}

// WriteBatch outputs multiple telemetry rows.
func (w *TUIWriter) WriteBatch(rows []telemetry.TelemetryRow) error {
	for _, r := range rows {
		_ = w.Write(r)
	}
	return nil
}

// WriteEvent implements EventWriter.
func (w *TUIWriter) WriteEvent(ev telemetry.EventRow) error {
	w.program.Send(eventMsg{line: formatEventLine(ev, w.colors.get(ev.Payload.DriverID)), row: ev})
	return nil
}

// WriteProgress implements ProgressWriter.
func (w *TUIWriter) WriteProgress(p telemetry.ProgressRow) error {
	w.program.Send(progressMsg{p})
	return nil
}

// End shows the final results of a run.
func (w *TUIWriter) End(p EndPayload) {
	w.program.Send(endMsg{p})
}

// Close shuts down the TUI program and waits for cleanup.
func (w *TUIWriter) Close() error {
	w.sendSignal.Store(false)
	if w.program != nil {
		w.program.Send(tea.Quit())
	}
	if w.done != nil {
		<-w.done
	}
	return nil
}

type tuiModel struct {
	cfg          *config.SimulationConfig
	table        table.Model
	drivers      table.Model
	vp           viewport.Model
	evVP         viewport.Model
	logs         []string
	evLogs       []string
	progress     map[string]telemetry.ProgressRow
	ends         []EndPayload
	wrap         bool
	autoscroll   bool
	header       string
	headerHeight int
	height       int
	summary      bool
	help         bool
	showDrivers  bool
	showMap      bool
	colors       *driverColors
	latest       map[string]telemetry.TelemetryRow
	eventCounts  map[telemetry.EventType]int
	totalEvents  int
	eventHistory []int
	lastEvSecond time.Time
}

func newTUIModel(cfg *config.SimulationConfig, colors *driverColors) tuiModel {
	if cfg == nil {
		def := config.Default().Simulation
		cfg = &def
	}
	if colors == nil {
		colors = &driverColors{}
	}
	cols := []table.Column{
		{Title: "Config", Width: 18},
		{Title: "Value", Width: 10},
		{Title: "Config", Width: 18},
		{Title: "Value", Width: 10},
	}
	rows := []table.Row{
		{"Tick Interval", cfg.TickInterval.String(), "Event Chance", fmt.Sprintf("%.2f", cfg.EventChance)},
		{"Delivery Chance", fmt.Sprintf("%.2f", cfg.DeliveryChance), "On-Time Chance", fmt.Sprintf("%.2f", cfg.OnTimeChance)},
		{"Revenue/Delivery", fmt.Sprintf("%.2f", cfg.RevenuePerDelivery), "Cost/km", fmt.Sprintf("%.2f", cfg.CostPerKm)},
	}
	t := table.New(table.WithColumns(cols), table.WithRows(rows), table.WithHeight(len(rows)+1))
	drivers := table.New(table.WithColumns([]table.Column{
		{Title: "Driver", Width: 10},
		{Title: "Speed", Width: 7},
		{Title: "Batt", Width: 5},
		{Title: "Fuel", Width: 9},
		{Title: "Order", Width: 10},
	}), table.WithHeight(1))
	return tuiModel{
		cfg:         cfg,
		table:       t,
		drivers:     drivers,
		vp:          viewport.New(0, 0),
		evVP:        viewport.New(0, 0),
		colors:      colors,
		autoscroll:  true,
		showDrivers: true,
		progress:    make(map[string]telemetry.ProgressRow),
		latest:      make(map[string]telemetry.TelemetryRow),
		eventCounts: make(map[telemetry.EventType]int),
	}
}

func (m tuiModel) Init() tea.Cmd { return nil }

func (m tuiModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.vp.Width = msg.Width
		m.evVP.Width = msg.Width
		m.height = msg.Height
		m.header = m.renderHeader()
		m.headerHeight = lipgloss.Height(m.header)
		m.updateViewportHeight()
		m.refreshViewport()
		m.refreshEvents()
	case tea.KeyMsg:
		if m.help {
			switch msg.String() {
			case "?", "h", "esc":
				m.help = false
				m.updateViewportHeight()
			}
			return m, nil
		}
		switch msg.String() {
		case "q", "ctrl+c":
			return m, tea.Quit
		case "w":
			m.wrap = !m.wrap
			m.refreshViewport()
			return m, nil
		case "s":
			m.autoscroll = !m.autoscroll
			if m.autoscroll {
				m.vp.GotoBottom()
				m.evVP.GotoBottom()
			}
			return m, nil
		case "d":
			m.showDrivers = !m.showDrivers
			m.header = m.renderHeader()
			m.headerHeight = lipgloss.Height(m.header)
			m.updateViewportHeight()
			return m, nil
		case "m":
			m.showMap = !m.showMap
			m.updateViewportHeight()
			return m, nil
		case "t":
			m.summary = !m.summary
			m.updateViewportHeight()
			return m, nil
		case "h", "?":
			m.help = !m.help
			m.updateViewportHeight()
			return m, nil
		}
		if !m.autoscroll {
			switch msg.String() {
			case "j", "down":
				m.vp.LineDown(1)
				m.evVP.LineDown(1)
			case "k", "up":
				m.vp.LineUp(1)
				m.evVP.LineUp(1)
			case "pgdown", "ctrl+n":
				m.vp.LineDown(10)
				m.evVP.LineDown(10)
			case "pgup", "ctrl+p":
				m.vp.LineUp(10)
				m.evVP.LineUp(10)
			default:
				var cmd tea.Cmd
				m.vp, cmd = m.vp.Update(msg)
				m.evVP, _ = m.evVP.Update(msg)
				return m, cmd
			}
		}
		return m, nil
	case logMsg:
		m.logs = appendCapped(m.logs, msg.line)
		m.refreshViewport()
	case eventMsg:
		m.evLogs = appendCapped(m.evLogs, msg.line)
		m.totalEvents++
		m.eventCounts[msg.row.Type]++
		m.trackEventSecond(msg.row.Timestamp)
		m.updateViewportHeight()
		m.refreshEvents()
		m.refreshViewport()
	case telemetryMsg:
		m.latest[msg.DriverID] = msg.TelemetryRow
		m.refreshDrivers()
		if m.showDrivers {
			m.header = m.renderHeader()
			m.headerHeight = lipgloss.Height(m.header)
			m.updateViewportHeight()
		}
	case progressMsg:
		m.progress[msg.RunID] = msg.ProgressRow
	case endMsg:
		m.ends = append(m.ends, msg.EndPayload)
		delete(m.progress, msg.RunID)
		r := msg.Results
		line := fmt.Sprintf("%sEND%s run=%s status=%s score=%d profit=%.2f deliveries=%d/%d on_time=%.2f%%",
			colorBlue, colorReset, msg.RunID, msg.Status, r.EfficiencyScore, r.TotalProfit,
			r.Deliveries.OnTime, r.Deliveries.Total, r.Deliveries.OnTimePercentage)
		m.logs = appendCapped(m.logs, line)
		m.refreshViewport()
	}
	return m, nil
}

func appendCapped(lines []string, line string) []string {
	lines = append(lines, line)
	if len(lines) > maxLogLines {
		lines = lines[len(lines)-maxLogLines:]
	}
	return lines
}

// trackEventSecond keeps a per-second event count for the last five seconds.
func (m *tuiModel) trackEventSecond(ts time.Time) {
	second := ts.Truncate(time.Second)
	switch {
	case m.lastEvSecond.IsZero():
		m.lastEvSecond = second
		m.eventHistory = append(m.eventHistory, 1)
	case !second.After(m.lastEvSecond):
		if len(m.eventHistory) == 0 {
			m.eventHistory = append(m.eventHistory, 1)
		} else {
			m.eventHistory[len(m.eventHistory)-1]++
		}
	default:
		diff := int(second.Sub(m.lastEvSecond).Seconds())
		for i := 0; i < diff-1 && i < 5; i++ {
			m.eventHistory = append(m.eventHistory, 0)
		}
		m.eventHistory = append(m.eventHistory, 1)
		m.lastEvSecond = second
	}
	if len(m.eventHistory) > 5 {
		m.eventHistory = m.eventHistory[len(m.eventHistory)-5:]
	}
}

func (m tuiModel) driverIDs() []string {
	ids := make([]string, 0, len(m.latest))
	for id := range m.latest {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

func (m *tuiModel) refreshDrivers() {
	ids := m.driverIDs()
	rows := make([]table.Row, 0, len(ids))
	for _, id := range ids {
		r := m.latest[id]
		rows = append(rows, table.Row{
			id,
			fmt.Sprintf("%.1f", r.Speed),
			fmt.Sprintf("%d%%", r.BatteryPct),
			string(r.FuelType),
			r.OrderID,
		})
	}
	m.drivers.SetRows(rows)
	m.drivers.SetHeight(min(len(rows), 8) + 1)
}

func (m *tuiModel) updateViewportHeight() {
	bottomHeight := lipgloss.Height(m.renderBottom())
	evLines := len(m.evLogs)
	if evLines == 0 {
		evLines = 1
	}
	evLines = min(evLines, m.maxSectionLines())
	m.evVP.Height = evLines

	h := m.height - m.headerHeight - bottomHeight - (1 + m.evVP.Height) - 4
	if h < 0 {
		h = 0
	}
	m.vp.Height = h
	if m.autoscroll {
		m.evVP.GotoBottom()
		m.vp.GotoBottom()
	}
}

func (m *tuiModel) refreshViewport() {
	lines := make([]string, 0, len(m.logs))
	for _, l := range m.logs {
		if m.wrap {
			lines = append(lines, wordwrap.String(l, m.vp.Width))
		} else {
			lines = append(lines, l)
		}
	}
	m.vp.SetContent(strings.Join(lines, "\n"))
	if m.autoscroll {
		m.vp.GotoBottom()
	}
}

func (m *tuiModel) refreshEvents() {
	content := "none"
	if len(m.evLogs) > 0 {
		content = strings.Join(m.evLogs, "\n")
	}
	m.evVP.SetContent(content)
	if m.autoscroll {
		m.evVP.GotoBottom()
	}
}

func (m tuiModel) maxSectionLines() int {
	return max(int(float64(m.height)*maxSectionHeightPct), 1)
}

func (m tuiModel) View() string {
	if m.help {
		return m.renderHelp()
	}
	divider := strings.Repeat("─", m.vp.Width)
	body := m.vp.View()
	if m.showMap {
		body = m.renderMap()
	}
	return strings.Join([]string{
		m.header,
		divider,
		body,
		divider,
		"Events:",
		m.evVP.View(),
		divider,
		m.renderBottom(),
	}, "\n")
}

func (m tuiModel) renderHeader() string {
	tableView := m.table.View()
	if !m.showDrivers || len(m.latest) == 0 {
		return tableView
	}
	sep := lipgloss.NewStyle().Foreground(lipgloss.Color("8")).Render("│")
	return lipgloss.JoinHorizontal(lipgloss.Top, tableView, sep, m.drivers.View())
}

func (m tuiModel) renderSummary() string {
	var battSum int
	for _, r := range m.latest {
		battSum += r.BatteryPct
	}
	avg := 0.0
	if len(m.latest) > 0 {
		avg = float64(battSum) / float64(len(m.latest))
	}
	trend := make([]string, 0, len(m.eventHistory))
	for _, v := range m.eventHistory {
		trend = append(trend, fmt.Sprintf("%d", v))
	}
	summary := fmt.Sprintf("%sSUMMARY%s %sdrivers=%d%s %savg_batt=%.1f%s %sevents=%d%s %sbreakdowns=%d%s %sreroutes=%d%s",
		colorBlue, colorReset,
		colorGreen, len(m.latest), colorReset,
		colorCyan, avg, colorReset,
		colorMagenta, m.totalEvents, colorReset,
		colorRed, m.eventCounts[telemetry.EventBreakdown], colorReset,
		colorYellow, m.eventCounts[telemetry.EventReroute], colorReset)
	if len(trend) > 0 {
		summary = fmt.Sprintf("%s %strend=[%s]%s", summary, colorYellow, strings.Join(trend, ","), colorReset)
	}
	return summary
}

func indicator(on bool) string {
	c := lipgloss.Color("9")
	if on {
		c = lipgloss.Color("10")
	}
	return lipgloss.NewStyle().Foreground(c).Render("●")
}

func (m tuiModel) renderProgress() string {
	if len(m.progress) == 0 {
		if n := len(m.ends); n > 0 {
			last := m.ends[n-1]
			return fmt.Sprintf("%sRUN%s %s %s", colorBlue, colorReset, last.RunID, last.Message)
		}
		return fmt.Sprintf("%sRUN%s waiting for progress", colorBlue, colorReset)
	}
	ids := make([]string, 0, len(m.progress))
	for id := range m.progress {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	parts := make([]string, 0, len(ids))
	for _, id := range ids {
		p := m.progress[id]
		pct := 0.0
		if p.MaxTicks > 0 {
			pct = float64(p.Tick) / float64(p.MaxTicks) * 100
		}
		parts = append(parts, fmt.Sprintf("%s%s%s %d/%d(%.0f%%) deliveries=%d",
			colorCyan, id, colorReset, p.Tick, p.MaxTicks, pct, p.Deliveries))
	}
	return fmt.Sprintf("%sRUN%s %s", colorBlue, colorReset, strings.Join(parts, " "))
}

func (m tuiModel) renderBottom() string {
	line := fmt.Sprintf("%s | Wrap %s | Scroll %s | Summary %s | Drivers %s | Map %s | Help %s",
		m.renderProgress(), indicator(m.wrap), indicator(m.autoscroll), indicator(m.summary),
		indicator(m.showDrivers), indicator(m.showMap), indicator(m.help))
	if m.summary {
		return fmt.Sprintf("%s\n%s", m.renderSummary(), line)
	}
	return line
}

func (m tuiModel) renderHelp() string {
	lines := []string{
		"Key Bindings:",
		" q  quit",
		" w  toggle line wrap",
		" s  toggle auto-scroll",
		" t  toggle summary footer",
		" d  toggle driver table",
		" m  toggle map view",
		" h/? toggle this help view",
		"",
		"When auto-scroll is disabled:",
		" j/k or up/down    scroll one line",
		" pgdown/pgup       scroll a page",
	}
	return strings.Join(lines, "\n")
}

func headingIcon(h int) string {
	h = ((h % 360) + 360) % 360
	switch {
	case h >= 45 && h < 135:
		return ">"
	case h >= 135 && h < 225:
		return "v"
	case h >= 225 && h < 315:
		return "<"
	default:
		return "^"
	}
}

func batteryBG(pct int) string {
	switch {
	case pct < 25:
		return bgRed
	case pct < 75:
		return bgYellow
	default:
		return bgGreen
	}
}

// renderMap plots the last known driver positions around the configured
// reference point.
func (m tuiModel) renderMap() string {
	width := m.vp.Width
	height := max(m.vp.Height-2, 1)
	if width <= 0 || len(m.latest) == 0 {
		return "No position data"
	}
	span := m.cfg.PositionJitter
	if span <= 0 {
		span = 0.1
	}
	minLat, maxLat := m.cfg.ReferenceLat-span/2, m.cfg.ReferenceLat+span/2
	minLon, maxLon := m.cfg.ReferenceLon-span/2, m.cfg.ReferenceLon+span/2

	grid := make([][]string, height)
	for i := range grid {
		grid[i] = slices.Repeat([]string{"."}, width)
	}
	for _, id := range m.driverIDs() {
		r := m.latest[id]
		x := int((r.Lon - minLon) / (maxLon - minLon) * float64(width-1))
		y := int((maxLat - r.Lat) / (maxLat - minLat) * float64(height-1))
		if y < 0 || y >= height || x < 0 || x >= width {
			continue
		}
		grid[y][x] = batteryBG(r.BatteryPct) + m.colors.get(id) + headingIcon(r.Heading) + colorReset
	}

	var b strings.Builder
	fmt.Fprintf(&b, "lat %.4f..%.4f lon %.4f..%.4f N↑\n", maxLat, minLat, minLon, maxLon)
	for _, row := range grid {
		b.WriteString(strings.Join(row, ""))
		b.WriteByte('\n')
	}
	kmPerLon := 111.0 * math.Cos(m.cfg.ReferenceLat*math.Pi/180)
	barChars := min(10, width/3)
	fmt.Fprintf(&b, "Scale: |%s| %.1fkm %s█%s=high_batt %s█%s=med %s█%s=low",
		strings.Repeat("-", barChars), span*kmPerLon/float64(width)*float64(barChars),
		bgGreen, colorReset, bgYellow, colorReset, bgRed, colorReset)
	return b.String()
}
