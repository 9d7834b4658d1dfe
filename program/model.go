package main

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/list"
	tui "github.com/charmbracelet/bubbletea"
	styles "github.com/charmbracelet/lipgloss"
	"github.com/dustin/go-humanize"
	"github.com/keilerkonzept/topk/heap"
	"go.uber.org/zap"

	"github.com/keilerkonzept/visitor-counter/internal/visitor"
)

const (
	// title, total and hint
	headerLines = 3
	// on-screen key: one content line inside a border
	buttonLines = 3
	buttonWidth = 24
)

var (
	selectedColor = styles.AdaptiveColor{Light: "0", Dark: "9"}
	borderColor   = styles.AdaptiveColor{Light: "#555", Dark: "#555"}
	selectedFg    = styles.NewStyle().Foreground(selectedColor)
	borderFg      = styles.NewStyle().Foreground(borderColor)
	titleStyle    = styles.NewStyle().Bold(true)
	plotStyle     = styles.NewStyle().
			BorderStyle(styles.NormalBorder()).
			Foreground(borderColor).
			BorderForeground(borderColor)
	buttonStyle = styles.NewStyle().
			Border(styles.RoundedBorder()).
			BorderForeground(borderColor).
			Width(buttonWidth).
			Align(styles.Center).
			Bold(true)
	liveFg    = styles.NewStyle().Foreground(styles.AdaptiveColor{Light: "2", Dark: "10"})
	offlineFg = styles.NewStyle().Foreground(styles.AdaptiveColor{Light: "1", Dark: "9"})
)

type tickMsg struct{}

type flushTimerMsg struct{ id uint64 }

type burstTickMsg time.Time

func flushAfter(d time.Duration, id uint64) tui.Cmd {
	return tui.Tick(d, func(time.Time) tui.Msg { return flushTimerMsg{id} })
}

func doBurstTick() tui.Cmd {
	return tui.Every(config.BurstTick, func(t time.Time) tui.Msg {
		return burstTickMsg(t)
	})
}

type model struct {
	ctx    context.Context
	cancel context.CancelFunc
	log    *zap.Logger
	now    func() time.Time
	loc    *time.Location
	http   *http.Client
	closed bool

	width, height  int
	leftPaneWidth  int
	rightPaneWidth int
	plotWidth      int
	plotHeight     int

	grouper   *Grouper
	conn      liveConn
	connState connState

	// display state, replaced wholesale by every snapshot
	stats     visitor.Stats
	chart     chartData
	updatedAt time.Time

	logScale bool
	plotView string
	err      error

	scriptTicks <-chan struct{}
	scriptDone  <-chan error

	keys      keyMap
	list      list.Model
	listStyle styles.Style
	help      help.Model

	bursts  *burstBoard
	metrics *sessionMetrics
}

func newModel(parent context.Context, logger *zap.Logger, now func() time.Time) *model {
	const (
		defaultWidth  = 80
		defaultHeight = 20
	)

	d := list.NewDefaultDelegate()
	d.Styles.SelectedTitle = styles.NewStyle().
		Border(styles.NormalBorder(), false, false, false, true).
		BorderForeground(borderColor).
		Foreground(selectedColor).
		Padding(0, 0, 0, 1)
	d.Styles.SelectedDesc = d.Styles.SelectedTitle.
		Foreground(selectedColor)
	d.ShowDescription = true

	l := list.New(make([]list.Item, 0), d, defaultWidth/2-2, defaultHeight)
	l.Styles.NoItems = l.Styles.NoItems.
		Padding(0, 2)
	l.SetFilteringEnabled(false)
	l.SetShowHelp(false)
	l.SetShowTitle(false)
	l.SetShowStatusBar(false)

	ctx, cancel := context.WithCancel(parent)
	m := &model{
		ctx:       ctx,
		cancel:    cancel,
		log:       logger,
		now:       now,
		loc:       time.Local,
		http:      &http.Client{Timeout: 10 * time.Second},
		grouper:   NewGrouper(config.Threshold),
		connState: connConnecting,
		logScale:  config.LogScale,
		keys:      newKeyMap(config.Key),
		list:      l,
		help:      help.New(),
		bursts:    newBurstBoard(config.BurstK, config.BurstWindow, config.BurstTick),
		metrics:   newSessionMetrics(now(), config.StatsWindow),
	}
	m.layout(defaultWidth, defaultHeight)
	return m
}

func (m *model) Init() tui.Cmd {
	cmds := []tui.Cmd{
		dialCmd(m.ctx, config.WSURL),
		fetchCmd(m.ctx, m.http, config.StatsURL),
		doBurstTick(),
	}
	if cmd := m.startScript(); cmd != nil {
		cmds = append(cmds, cmd)
	}
	return tui.Batch(cmds...)
}

func (m *model) startScript() tui.Cmd {
	r, ok, err := openScript()
	if err != nil {
		m.err = err
		return nil
	}
	if !ok {
		return nil
	}
	m.scriptTicks, m.scriptDone = readScript(m.ctx, r, config.Pace)
	return waitScriptCmd(m.scriptTicks, m.scriptDone)
}

func (m *model) Update(msg tui.Msg) (tui.Model, tui.Cmd) {
	switch msg := msg.(type) {
	case tickMsg:
		return m, m.handleTick()
	case scriptedTickMsg:
		return m, tui.Batch(m.handleTick(), waitScriptCmd(m.scriptTicks, m.scriptDone))
	case scriptDoneMsg:
		if msg.err != nil {
			m.err = msg.err
		}
		return m, nil
	case flushTimerMsg:
		if size := m.grouper.Expire(msg.id); size > 0 {
			m.flush(size)
		}
		return m, nil
	case connOpenedMsg:
		if m.closed {
			_ = msg.conn.Close()
			return m, nil
		}
		m.conn = msg.conn
		m.connState = connOpen
		m.log.Debug("live channel open", zap.String("url", config.WSURL))
		return m, listenCmd(m.ctx, m.conn)
	case connClosedMsg:
		// No reconnect: the dashboard stays offline until restarted.
		m.log.Debug("live channel closed", zap.Error(msg.err))
		m.conn = nil
		m.connState = connClosed
		return m, nil
	case streamMsg:
		m.applyStats(msg.decoded, "stream")
		if m.conn == nil {
			return m, nil
		}
		return m, listenCmd(m.ctx, m.conn)
	case fetchMsg:
		m.applyStats(msg.decoded, "fetch")
		return m, nil
	case burstTickMsg:
		m.bursts.advance(time.Time(msg))
		return m, tui.Batch(m.refreshList(), doBurstTick())
	case tui.WindowSizeMsg:
		m.layout(msg.Width, msg.Height)
		return m, nil
	case tui.MouseMsg:
		if msg.Action == tui.MouseActionPress && msg.Button == tui.MouseButtonLeft && inButton(msg.X, msg.Y) {
			return m, m.handleTick()
		}
		return m, nil
	case tui.KeyMsg:
		switch {
		case key.Matches(msg, m.keys.Tick):
			return m, m.handleTick()
		case key.Matches(msg, m.keys.Quit):
			m.teardown()
			return m, tui.Quit
		case key.Matches(msg, m.keys.Up):
			m.list.CursorUp()
		case key.Matches(msg, m.keys.Down):
			m.list.CursorDown()
		case key.Matches(msg, m.keys.Scale):
			m.logScale = !m.logScale
			m.refreshPlot()
		}
	}
	return m, nil
}

// handleTick feeds one tick into the grouper and returns the command that
// arms its flush timer.
func (m *model) handleTick() tui.Cmd {
	if m.closed {
		return nil
	}
	m.metrics.observeTick()
	flushed, timer := m.grouper.Tick(m.now())
	if flushed > 0 {
		m.flush(flushed)
	}
	return flushAfter(m.grouper.Threshold(), timer)
}

// flush sends one closed group. Without an open channel the group is dropped,
// never queued.
func (m *model) flush(size int) {
	m.bursts.observe(size)
	if m.conn == nil || m.connState != connOpen {
		m.metrics.observeDropped()
		m.log.Debug("group dropped, channel not open", zap.Int("group_size", size), zap.Stringer("state", m.connState))
		return
	}
	ctx, cancel := context.WithTimeout(m.ctx, writeTimeout)
	defer cancel()
	if err := m.conn.SendGroup(ctx, size); err != nil {
		m.metrics.observeDropped()
		m.log.Debug("group dropped, send failed", zap.Int("group_size", size), zap.Error(err))
		return
	}
	m.metrics.observeSent(m.now())
	m.log.Debug("group sent", zap.Int("group_size", size))
}

// applyStats replaces the display state with a decoded snapshot. Rejected
// payloads leave the display untouched.
func (m *model) applyStats(d visitor.Decoded, source string) {
	if !d.OK() {
		if source == "stream" {
			m.metrics.observeMalformed()
		}
		m.log.Debug("snapshot discarded", zap.String("source", source), zap.Error(d.Err))
		return
	}
	m.stats = d.Stats
	m.chart = deriveChart(d.Stats, m.loc)
	m.updatedAt = m.now()
	m.metrics.observeSnapshot(m.updatedAt)
	m.refreshPlot()
}

// teardown releases the timer, the channel and any in-flight fetch. Safe to
// call more than once.
func (m *model) teardown() {
	if m.closed {
		return
	}
	m.closed = true
	if n := m.grouper.Stop(); n > 0 {
		m.log.Debug("pending group discarded", zap.Int("group_size", n))
	}
	if m.conn != nil {
		if err := m.conn.Close(); err != nil {
			m.log.Debug("close live channel", zap.Error(err))
		}
		m.conn = nil
	}
	m.connState = connClosed
	m.cancel()
}

func (m *model) layout(width, height int) {
	m.width, m.height = width, height
	m.leftPaneWidth, m.rightPaneWidth = computePaneWidths(m.width, config.ViewSplit)

	statsLines := 0
	if config.StatsEnabled {
		// title + 4 metric lines
		statsLines = 5
	}
	helpLines := 1
	available := m.height - headerLines - buttonLines - statsLines - helpLines
	available = max(1, available)

	leftW := max(1, m.leftPaneWidth)
	m.list.SetSize(leftW, available)
	m.listStyle = styles.NewStyle().Width(leftW).Height(available)

	// Right side is: plot canvas + 1 label line, wrapped in a border (adds 2 lines).
	m.plotHeight = max(1, available-3)
	m.plotWidth = max(1, m.rightPaneWidth-2)
	m.refreshPlot()
}

func (m *model) refreshPlot() {
	m.plotView = renderChart(m.chart, m.plotWidth, m.plotHeight, m.logScale)
}

func (m *model) refreshList() tui.Cmd {
	top := m.bursts.top()
	items := make([]list.Item, len(top))
	for i, it := range top {
		items[i] = burstItem{Rank: i + 1, Item: it}
	}
	return m.list.SetItems(items)
}

func inButton(x, y int) bool {
	return y >= headerLines && y < headerLines+buttonLines && x >= 0 && x < buttonWidth+2
}

func (m *model) View() string {
	header := styles.JoinVertical(styles.Left,
		titleStyle.Render("VISITOR COUNTER"),
		m.totalLine(),
		borderFg.Render(fmt.Sprintf("Press %s or click the key below", m.keys.Tick.Help().Key)),
	)

	label := "Space"
	if m.keys.Tick.Help().Key != "space" {
		label = strings.ToUpper(m.keys.Tick.Help().Key)
	}
	if size := m.grouper.Size(); size > 0 {
		label = fmt.Sprintf("%s  +%d", label, size)
	}
	button := buttonStyle.Render(label)

	left := m.listStyle.Render(m.list.View())

	linColor := borderFg
	logColor := borderFg
	if m.logScale {
		logColor = selectedFg
	} else {
		linColor = selectedFg
	}
	linLog := linColor.Render("LIN") + " " + logColor.Render("LOG")
	labels := chartLabels(m.chart, m.plotWidth, linLog)
	right := plotStyle.Render(styles.JoinVertical(styles.Top, m.plotView, labels))
	body := styles.JoinHorizontal(styles.Top, left, right)

	parts := []string{header, button, body}
	if m.err != nil {
		errStyle := styles.NewStyle().Foreground(styles.AdaptiveColor{Light: "1", Dark: "9"})
		parts = append(parts, errStyle.Render("ERROR: "+m.err.Error()))
	} else if config.StatsEnabled {
		parts = append(parts, borderFg.Render(strings.Join(m.statsBlock(), "\n")))
	}
	parts = append(parts, m.help.View(m.keys))
	return styles.JoinVertical(styles.Left, parts...)
}

func (m *model) totalLine() string {
	total := fmt.Sprintf("Total visitors: %s", humanize.Comma(m.stats.TotalVisitors))

	state := m.connState.String()
	switch m.connState {
	case connOpen:
		state = liveFg.Render(state)
	case connClosed:
		state = offlineFg.Render(state)
	}
	updated := ""
	if !m.updatedAt.IsZero() {
		updated = borderFg.Render(" · updated " + humanize.Time(m.updatedAt))
	}
	return total + "  [" + state + "]" + updated
}

func (m *model) statsBlock() []string {
	snap := m.metrics.snapshot(m.now())
	return []string{
		fmt.Sprintf("SESSION STATS (%s)", snap.uptime.Truncate(time.Second)),
		fmt.Sprintf("ticks: %d  open group: %d (%s)", snap.ticks, m.grouper.Size(), m.grouper.State()),
		fmt.Sprintf("groups sent: %d  dropped: %d", snap.sent, snap.dropped),
		fmt.Sprintf("snapshots: %d  malformed: %d", snap.snapshots, snap.malformed),
		fmt.Sprintf("round trip: last %s  avg %s  max %s",
			formatMetricDuration(snap.roundTrip.last),
			formatMetricDuration(snap.roundTrip.avg),
			formatMetricDuration(snap.roundTrip.max)),
	}
}

func formatMetricDuration(d time.Duration) string {
	if d <= 0 {
		return "0.000ms"
	}
	return fmt.Sprintf("%.3fms", float64(d)/float64(time.Millisecond))
}

func computePaneWidths(totalWidth int, splitPercent int) (left, right int) {
	if totalWidth <= 1 {
		return 1, 1
	}
	left = totalWidth * splitPercent / 100
	if left < 1 {
		left = 1
	}
	if left > totalWidth-1 {
		left = totalWidth - 1
	}
	right = totalWidth - left

	// Keep panes readable when the terminal is wide enough.
	const minPane = 18
	if totalWidth >= minPane*2 {
		if left < minPane {
			left = minPane
			right = totalWidth - left
		}
		if right < minPane {
			right = minPane
			left = totalWidth - right
		}
	}
	return max(1, left), max(1, right)
}

type burstItem struct {
	Rank int
	heap.Item
}

func (i burstItem) Title() string {
	if i.Item.Item == "1" {
		return fmt.Sprintf("#%-2d single visitor", i.Rank)
	}
	return fmt.Sprintf("#%-2d group of %s", i.Rank, i.Item.Item)
}

func (i burstItem) Description() string { return fmt.Sprintf("    %d× in window", i.Count) }
func (i burstItem) FilterValue() string { return i.Item.Item }

func (k keyMap) ShortHelp() []key.Binding {
	return []key.Binding{k.Tick, k.Scale, k.Quit}
}

func (k keyMap) FullHelp() [][]key.Binding {
	return [][]key.Binding{
		{k.Tick, k.Quit},
		{k.Up, k.Down, k.Scale},
	}
}

type keyMap struct {
	Tick  key.Binding
	Scale key.Binding
	Up    key.Binding
	Down  key.Binding
	Quit  key.Binding
}

func newKeyMap(tickKey string) keyMap {
	tick := tickKey
	if tickKey == "space" {
		tick = " "
	}
	return keyMap{
		Tick: key.NewBinding(
			key.WithKeys(tick),
			key.WithHelp(tickKey, "count visitor"),
		),
		Scale: key.NewBinding(
			key.WithKeys("s"),
			key.WithHelp("s", "log/lin"),
		),
		Up: key.NewBinding(
			key.WithKeys("up"),
			key.WithHelp("↑", "up"),
		),
		Down: key.NewBinding(
			key.WithKeys("down"),
			key.WithHelp("↓", "down"),
		),
		Quit: key.NewBinding(
			key.WithKeys("q", "ctrl+c"),
			key.WithHelp("q/ctrl+c", "quit"),
		),
	}
}
