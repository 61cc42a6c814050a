package tui

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
)

const (
	tickInterval = 150 * time.Millisecond
	marqueeGap   = "   "
	barWidth     = 24
)

var spinnerFrames = []string{"⠋", "⠙", "⠹", "⠸", "⠼", "⠴", "⠦", "⠧", "⠇", "⠏"}

// tickMsg drives the marquee animation.
type tickMsg time.Time

// Column defines a single column in the progress table.
type Column struct {
	Header string
	Width  int
}

// Row holds the field values for a single table row.
type Row struct {
	Key    string
	Fields []string
}

type rowProgress struct {
	done  int64
	total int64
	set   bool
}

// JobColumns is the default layout for engine jobs. The PROGRESS column is
// filled from ProgressMsg.
var JobColumns = []Column{
	{Header: "JOB", Width: 14},
	{Header: "STATUS", Width: 14},
	{Header: "PROGRESS", Width: barWidth + 5},
	{Header: "DETAIL", Width: 48},
}

// ProgressModel is a bubbletea model that renders one row per background job.
// Determinate progress is drawn as a bar and indeterminate progress as a
// spinner.
type ProgressModel struct {
	columns  []Column
	rows     []Row
	rowIndex map[string]int
	progress map[string]rowProgress
	title    string
	done     bool
	err      error

	// statusCol and progressCol cache column indexes (-1 if absent).
	statusCol   int
	progressCol int

	bar     progress.Model
	spinner spinner.Model
	box     *Mailbox

	onInterrupt func()
	onStop      func()

	// Animation state.
	tick int
}

// NewProgressModel creates a progress model with the given title and columns.
func NewProgressModel(title string, columns []Column) ProgressModel {
	statusCol, progressCol := -1, -1
	for i, c := range columns {
		switch {
		case strings.EqualFold(c.Header, "STATUS") && statusCol < 0:
			statusCol = i
		case strings.EqualFold(c.Header, "PROGRESS") && progressCol < 0:
			progressCol = i
		}
	}
	return ProgressModel{
		columns:     columns,
		rowIndex:    make(map[string]int),
		progress:    make(map[string]rowProgress),
		title:       title,
		statusCol:   statusCol,
		progressCol: progressCol,
		bar:         progress.New(progress.WithDefaultGradient(), progress.WithWidth(barWidth), progress.WithoutPercentage()),
		spinner:     spinner.New(spinner.WithSpinner(spinner.Dot)),
		box:         &Mailbox{},
	}
}

// AddRow pre-populates a row. Call this before the program starts.
func (m *ProgressModel) AddRow(key string, fields []string) {
	padded := make([]string, len(m.columns))
	copy(padded, fields)
	m.rowIndex[key] = len(m.rows)
	m.rows = append(m.rows, Row{Key: key, Fields: padded})
}

// Mailbox returns the sink used by callbacks that run on the event loop.
func (m ProgressModel) Mailbox() *Mailbox { return m.box }

// OnInterrupt registers fn to run when the user presses ctrl+c. The model
// keeps running so the job can report its cancelled state.
func (m *ProgressModel) OnInterrupt(fn func()) { m.onInterrupt = fn }

// OnStop registers fn to run on the second ctrl+c. fn runs on the event loop
// and must not block on it. The model still waits for WorkDoneMsg.
func (m *ProgressModel) OnStop(fn func()) { m.onStop = fn }

func scheduleTick() tea.Cmd {
	return tea.Tick(tickInterval, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

// Init satisfies the tea.Model interface.
func (m ProgressModel) Init() tea.Cmd {
	return tea.Batch(scheduleTick(), m.spinner.Tick)
}

// Update satisfies the tea.Model interface.
func (m ProgressModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tickMsg:
		m.tick++
		if m.done {
			return m, nil
		}
		return m, scheduleTick()

	case spinner.TickMsg:
		if m.done {
			return m, nil
		}
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd

	case postMsg:
		msg()
		return m.drain()

	case RowUpdateMsg:
		m.applyRowUpdate(msg)
		return m, nil

	case ProgressMsg:
		if _, ok := m.rowIndex[msg.Key]; ok {
			m.progress[msg.Key] = rowProgress{done: msg.Done, total: msg.Total, set: true}
		}
		return m, nil

	case WorkDoneMsg:
		m.done = true
		return m, tea.Quit

	case ErrorMsg:
		m.err = msg.Err
		m.done = true
		return m, tea.Quit

	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "q":
			if !m.done && m.onInterrupt != nil {
				m.onInterrupt()
				m.onInterrupt = nil
				return m, nil
			}
			if !m.done && m.onStop != nil {
				m.onStop()
				m.onStop = nil
				return m, nil
			}
			m.done = true
			return m, tea.Quit
		}
	}
	return m, nil
}

// drain applies messages queued by callbacks that just ran.
func (m ProgressModel) drain() (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd
	for _, queued := range m.box.take() {
		next, cmd := m.Update(queued)
		m = next.(ProgressModel)
		if cmd != nil {
			cmds = append(cmds, cmd)
		}
	}
	return m, tea.Batch(cmds...)
}

// applyRowUpdate updates a row's fields from a RowUpdateMsg.
func (m *ProgressModel) applyRowUpdate(msg RowUpdateMsg) {
	idx, ok := m.rowIndex[msg.Key]
	if !ok {
		return
	}
	row := &m.rows[idx]
	for j, col := range m.columns {
		if val, exists := msg.Fields[col.Header]; exists {
			row.Fields[j] = val
		}
	}
}

// View satisfies the tea.Model interface.
func (m ProgressModel) View() string {
	if m.done && m.err != nil {
		return fmt.Sprintf("Error: %v\n", m.err)
	}

	// Content is truncated/marqueed to fit rather than expanding columns.
	widths := make([]int, len(m.columns))
	for i, col := range m.columns {
		widths[i] = len(col.Header)
		if col.Width > widths[i] {
			widths[i] = col.Width
		}
	}

	var b strings.Builder
	if m.title != "" {
		b.WriteString(HeaderStyle.Render(m.title))
		b.WriteString("\n\n")
	}

	headerParts := make([]string, len(m.columns))
	for i, col := range m.columns {
		headerParts[i] = HeaderStyle.Render(pad(col.Header, widths[i]))
	}
	b.WriteString(strings.Join(headerParts, "  "))
	b.WriteByte('\n')

	for _, row := range m.rows {
		parts := make([]string, len(m.columns))
		for i := range m.columns {
			if i == m.progressCol {
				parts[i] = m.progressCell(row)
				continue
			}
			val := ""
			if i < len(row.Fields) {
				val = row.Fields[i]
			}
			if !m.done && len(strings.TrimSpace(val)) > widths[i] {
				val = marqueeText(val, widths[i], m.tick)
			} else {
				val = TruncateWithEllipsis(val, widths[i])
			}
			if i == m.statusCol {
				parts[i] = StatusStyle(val).Render(pad(val, widths[i]))
			} else {
				parts[i] = pad(val, widths[i])
			}
		}
		b.WriteString(strings.Join(parts, "  "))
		b.WriteByte('\n')
	}

	if !m.done {
		processed, total := m.progressCounts()
		fmt.Fprintf(&b, "\n%s Processing %d/%d...\n", m.spinner.View(), processed, total)
	}

	return b.String()
}

func (m ProgressModel) progressCell(row Row) string {
	p, ok := m.progress[row.Key]
	width := barWidth + 5
	if !ok || !p.set {
		return pad("", width)
	}
	if p.total <= 0 {
		if m.done || m.rowFinished(row) {
			return pad("", width)
		}
		return pad(m.spinner.View()+" working", width)
	}
	ratio := float64(p.done) / float64(p.total)
	if ratio > 1 {
		ratio = 1
	}
	return m.bar.ViewAs(ratio) + fmt.Sprintf(" %3d%%", int(ratio*100))
}

func (m ProgressModel) rowFinished(row Row) bool {
	if m.statusCol < 0 || m.statusCol >= len(row.Fields) {
		return false
	}
	return isTerminalStatus(strings.TrimSpace(row.Fields[m.statusCol]))
}

func isTerminalStatus(status string) bool {
	switch status {
	case "resolved", "installed", "fetched", "succeeded", "cached",
		"pending_manual", "not_detected", "cancelled", "missing", "error", "failed":
		return true
	}
	return false
}

// progressCounts returns (finished, total) based on how many rows reached a
// terminal status.
func (m ProgressModel) progressCounts() (int, int) {
	total := len(m.rows)
	processed := 0
	if m.statusCol < 0 {
		return 0, total
	}
	for _, row := range m.rows {
		if m.rowFinished(row) {
			processed++
		}
	}
	return processed, total
}

// Done returns whether the model has finished (work done or error).
func (m ProgressModel) Done() bool {
	return m.done
}

// Err returns any fatal error that occurred.
func (m ProgressModel) Err() error {
	return m.err
}

func pad(s string, width int) string {
	if len(s) >= width {
		return s
	}
	return s + strings.Repeat(" ", width-len(s))
}

// marqueeText renders a scrolling window over text that exceeds the given width.
// The text slides left on each tick, with a gap between cycles.
func marqueeText(text string, width, tick int) string {
	text = strings.TrimSpace(text)
	if width <= 0 {
		return ""
	}
	if len(text) <= width {
		return text
	}
	cycle := text + marqueeGap
	cycleLen := len(cycle)
	offset := tick % cycleLen
	var result strings.Builder
	result.Grow(width)
	for i := 0; i < width; i++ {
		result.WriteByte(cycle[(offset+i)%cycleLen])
	}
	return result.String()
}

// NonEmptyOrDash returns "-" for empty/whitespace strings.
func NonEmptyOrDash(value string) string {
	value = strings.TrimSpace(value)
	if value == "" {
		return "-"
	}
	return value
}

// TruncateWithEllipsis truncates a string and adds "..." if it exceeds max length.
func TruncateWithEllipsis(value string, max int) string {
	if max <= 0 {
		return ""
	}
	value = strings.TrimSpace(value)
	if len(value) <= max {
		return value
	}
	if max <= 3 {
		return value[:max]
	}
	return value[:max-3] + "..."
}
