package main

import (
	"context"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
	"unicode"

	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"github.com/sebogh/readoutq/internal/monitor"
)

var (
	titleStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FAFAFA")).
			Background(lipgloss.Color("#7D56F4"))

	infoStyle = titleStyle

	redStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("#FF0000"))
	greenStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#00FF00"))
	boldStyle  = lipgloss.NewStyle().Bold(true)

	grayStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#888888"))
)

var (
	monitorEndpoint   string
	monitorInterval   time.Duration
	monitorSearch     string
	monitorNoHistory  bool
	monitorNoDerived  bool
	monitorFetchLimit time.Duration
)

var monitorCmd = &cobra.Command{
	Use:   "monitor",
	Short: "Watch the metrics of a running readout chain",
	Long: `Scrape the metrics endpoint of "readoutq run" periodically and show every
metric with its change since the previous scrape. Counters also get a derived
per-second rate. Typing filters the metrics by name.`,
	RunE: runMonitor,
}

func init() {
	monitorCmd.Flags().StringVar(&monitorEndpoint, "endpoint", "http://127.0.0.1:9464/metrics", "Metrics endpoint")
	monitorCmd.Flags().DurationVar(&monitorInterval, "interval", 2*time.Second, "Refresh interval (e.g., 10s, 1m)")
	monitorCmd.Flags().StringVar(&monitorSearch, "search", "readout", "Metrics search filter")
	monitorCmd.Flags().BoolVar(&monitorNoHistory, "disable-history", false, "Hide the change since the previous scrape")
	monitorCmd.Flags().BoolVar(&monitorNoDerived, "disable-derived", false, "Hide derived metrics")
	monitorCmd.Flags().DurationVar(&monitorFetchLimit, "timeout", 5*time.Second, "Scrape timeout")
}

type tickMsg time.Time

type sampledMsg struct {
	fetched bool
	err     error
}

type monitorModel struct {
	store       *monitor.Store
	endpoint    string
	interval    time.Duration
	timeout     time.Duration
	search      string
	ticker      *time.Ticker
	viewport    viewport.Model
	panel       string
	ready       bool
	paused      bool
	showHistory bool
	showDerived bool
}

func runMonitor(cmd *cobra.Command, args []string) error {
	// Three samples are enough for a delta between the last two values and
	// between the last two rates.
	store := monitor.NewStore(3, monitorEndpoint)
	ctx, cancel := context.WithTimeout(cmd.Context(), monitorFetchLimit)
	_, err := store.Sample(ctx)
	cancel()
	if err != nil {
		return fmt.Errorf("fetching initial metrics: %w", err)
	}

	m := &monitorModel{
		store:       store,
		endpoint:    strings.TrimSpace(monitorEndpoint),
		interval:    monitorInterval,
		timeout:     monitorFetchLimit,
		search:      monitorSearch,
		ticker:      time.NewTicker(monitorInterval),
		showHistory: !monitorNoHistory,
		showDerived: !monitorNoDerived,
	}
	if _, err := tea.NewProgram(m, tea.WithAltScreen()).Run(); err != nil {
		return fmt.Errorf("running monitor: %w", err)
	}
	return nil
}

func (m *monitorModel) Init() tea.Cmd {
	return waitTick(m.ticker)
}

func (m *monitorModel) Update(teaMsg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd
	switch msg := teaMsg.(type) {
	case sampledMsg:
		switch {
		case msg.err != nil:
			m.viewport.SetContent("Error fetching metrics: " + msg.err.Error())
		case msg.fetched:
			m.refresh()
		}
		if !m.paused {
			m.ticker.Reset(m.interval)
			cmds = append(cmds, waitTick(m.ticker))
		}
	case tickMsg:
		m.ticker.Stop()
		cmds = append(cmds, m.sample())
	case tea.WindowSizeMsg:
		if !m.ready {
			m.viewport = viewport.New(msg.Width, 0)
			m.ready = true
		}
		m.viewport.Width = msg.Width
		m.refresh()
		top := lipgloss.Height(m.headerView()) + lipgloss.Height(m.panel)
		m.viewport.YPosition = top
		m.viewport.Height = max(0, msg.Height-top-lipgloss.Height(m.footerView()))
	case tea.KeyMsg:
		switch {
		case msg.String() == "ctrl+c":
			return m, tea.Quit
		case msg.String() == "ctrl+r":
			m.ticker.Stop()
			cmds = append(cmds, m.sample())
		case msg.String() == "ctrl+p":
			if m.paused {
				cmds = append(cmds, m.sample())
			} else {
				m.ticker.Stop()
			}
			m.paused = !m.paused
		case msg.String() == "ctrl+d":
			m.showDerived = !m.showDerived
			m.refresh()
		case msg.String() == "ctrl+h":
			m.showHistory = !m.showHistory
			m.refresh()
		case msg.Type == tea.KeyBackspace:
			if len(m.search) > 0 {
				m.search = m.search[:len(m.search)-1]
			}
			m.refresh()
		case msg.Type == tea.KeyRunes:
			for _, r := range msg.Runes {
				if unicode.IsLetter(r) || unicode.IsDigit(r) || r == '_' || r == '-' {
					m.search += string(r)
				}
			}
			m.refresh()
		}
	}

	var cmd tea.Cmd
	m.viewport, cmd = m.viewport.Update(teaMsg)
	cmds = append(cmds, cmd)
	return m, tea.Batch(cmds...)
}

func (m *monitorModel) View() string {
	if !m.ready {
		return "\n  Initializing..."
	}
	return lipgloss.JoinVertical(lipgloss.Left, m.headerView(), m.panel, m.viewport.View(), m.footerView())
}

func waitTick(t *time.Ticker) tea.Cmd {
	return func() tea.Msg {
		return tickMsg(<-t.C)
	}
}

func (m *monitorModel) sample() tea.Cmd {
	store, timeout := m.store, m.timeout
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		fetched, err := store.Sample(ctx)
		return sampledMsg{fetched: fetched, err: err}
	}
}

func (m *monitorModel) headerView() string {
	var title string
	if m.search != "" {
		title = titleStyle.Render("Search: " + m.search + " ")
	}
	status := " " + m.interval.String() + " - " + m.endpoint
	if m.paused {
		status = " paused - " + m.endpoint
	}
	url := titleStyle.Render(status)
	line := infoStyle.Render(strings.Repeat("─", max(0, m.viewport.Width-lipgloss.Width(title)-lipgloss.Width(url))))
	return lipgloss.JoinHorizontal(lipgloss.Center, title, line, url)
}

func (m *monitorModel) footerView() string {
	info := infoStyle.Render(fmt.Sprintf(" %.f%%", m.viewport.ScrollPercent()*100))
	keys := infoStyle.Render("CTRL+c: quit | CTRL+r: refresh | CTRL+p: (un-)pause | CTRL+d: derived | CTRL+h: deltas | <xyz>: search \"xyz\" ")
	line := infoStyle.Render(strings.Repeat("─", max(0, m.viewport.Width-lipgloss.Width(info)-lipgloss.Width(keys))))
	return lipgloss.JoinHorizontal(lipgloss.Center, keys, line, info)
}

// refresh redraws the summary panel from the latest sample and the metric
// list from the stored history.
func (m *monitorModel) refresh() {
	if obs, ok := m.store.Latest(); ok {
		m.panel = renderPanel(summarize(obs), m.viewport.Width)
	}
	width := lipgloss.NewStyle().MaxWidth(m.viewport.Width)
	dump, err := m.store.Dump(m.search)
	if err != nil {
		m.viewport.SetContent(width.Render("Error rendering metrics: " + err.Error()))
		return
	}
	var sb strings.Builder
	for _, series := range dump {
		for _, s := range series.Derive() {
			sb.WriteString(renderSeries(s, m.showHistory, m.showDerived, width))
		}
	}
	m.viewport.SetContent(sb.String())
}

func round(f float64) float64 {
	return math.Round(f*100) / 100
}

func format(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}

// renderSeries renders the newest observation of s on one line, marking
// the direction and size of its change since the previous one.
func renderSeries(s monitor.Series, showHistory, showDerived bool, width lipgloss.Style) string {
	if len(s) == 0 {
		return ""
	}
	o := s[0]
	derived := o.Kind.Derived()
	if derived && !showDerived {
		return ""
	}

	line := " "
	if derived {
		line = "+"
	}
	cv := round(o.Value)
	line += o.Name + " " + format(cv)
	if len(s) < 2 {
		return width.Render(line) + "\n"
	}

	pv := round(s[1].Value)
	if cv == pv {
		return width.Render(line) + "\n"
	}

	line = boldStyle.Render(line)
	sign := "+"
	if cv > pv {
		line += redStyle.Render(" ⬆")
	} else {
		line += greenStyle.Render(" ⬇")
		sign = "-"
	}
	if showHistory {
		line += grayStyle.Render(" (" + sign + format(round(math.Abs(cv-pv))) + ")")
	}
	return width.Render(line) + "\n"
}
