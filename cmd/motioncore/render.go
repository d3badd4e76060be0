package main

import (
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/nerrad567/motion-core/internal/motion"
)

var (
	titleStyle  = lipgloss.NewStyle().Bold(true)
	headerStyle = lipgloss.NewStyle().Bold(true).Padding(0, 1)
	cellStyle   = lipgloss.NewStyle().Padding(0, 1)
	mutedStyle  = lipgloss.NewStyle().Faint(true)
)

// table renders rows under headers with columns padded to their widest cell.
type table struct {
	title   string
	headers []string
	rows    [][]string
}

func (t *table) add(cells ...string) {
	t.rows = append(t.rows, cells)
}

func (t *table) render() string {
	widths := make([]int, len(t.headers))
	for i, h := range t.headers {
		widths[i] = lipgloss.Width(h)
	}
	for _, row := range t.rows {
		for i, cell := range row {
			if i < len(widths) {
				widths[i] = max(widths[i], lipgloss.Width(cell))
			}
		}
	}

	var sb strings.Builder
	if t.title != "" {
		sb.WriteString(titleStyle.Render(t.title))
		sb.WriteString("\n")
	}

	line := func(style lipgloss.Style, cells []string) {
		for i, cell := range cells {
			if i >= len(widths) {
				break
			}
			// Width includes the padding.
			sb.WriteString(style.Width(widths[i] + 2).Render(cell))
		}
		sb.WriteString("\n")
	}
	line(headerStyle, t.headers)
	for _, row := range t.rows {
		line(cellStyle, row)
	}
	return sb.String()
}

// planRow is one movement as the scheduler would dispatch it.
type planRow struct {
	phase       string
	from, to    float64
	requestedMs int
	governedMs  int
	speed       float64
}

// walkPlan governs every movement of plan in playback order starting at
// from: the start queue, then one loop cycle.
func walkPlan(from float64, plan motion.Plan, env motion.Envelope) []planRow {
	rows := make([]planRow, 0, len(plan.Start)+len(plan.Loop))
	pos := from
	step := func(phase string, m motion.Movement) {
		d := motion.Govern(pos, m.Position, m.DelayMs, env)
		rows = append(rows, planRow{
			phase:       phase,
			from:        pos,
			to:          m.Position,
			requestedMs: m.Duration(),
			governedMs:  d,
			speed:       env.Speed(pos, m.Position, d),
		})
		pos = m.Position
	}
	for _, m := range plan.Start {
		step("start", m)
	}
	for _, m := range plan.Loop {
		step("loop", m)
	}
	return rows
}

// renderPlan writes the governed, expanded schedule of set.
func renderPlan(w io.Writer, from float64, set motion.MovementSet, env motion.Envelope) error {
	plan := motion.BuildPlan(from, set, env)
	rows := walkPlan(from, plan, env)

	var startMs, cycleMs int
	t := &table{
		title:   fmt.Sprintf("Plan from %.1f%%", from),
		headers: []string{"#", "PHASE", "FROM", "TO", "REQUESTED", "GOVERNED", "SPEED"},
	}
	for i, r := range rows {
		if r.phase == "start" {
			startMs += r.governedMs
		} else {
			cycleMs += r.governedMs
		}
		governed := strconv.Itoa(r.governedMs) + "ms"
		if r.governedMs != r.requestedMs {
			governed += " *"
		}
		t.add(
			strconv.Itoa(i+1),
			r.phase,
			fmt.Sprintf("%.1f%%", r.from),
			fmt.Sprintf("%.1f%%", r.to),
			strconv.Itoa(r.requestedMs)+"ms",
			governed,
			fmt.Sprintf("%.0f mm/s", r.speed),
		)
	}

	if _, err := io.WriteString(w, t.render()); err != nil {
		return err
	}
	_, err := fmt.Fprintf(w, "%s\n", mutedStyle.Render(fmt.Sprintf(
		"start %d → %d segments, %dms; loop %d → %d segments, %dms per cycle (* = governed)",
		len(set.Start), len(plan.Start), startMs,
		len(set.Loop), len(plan.Loop), cycleMs,
	)))
	return err
}
