package tui

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/fentz26/jobshop/internal/models"
)

const minChartWidth = 10

// lane is one printed row of a machine. Machines with capacity above one get a lane per
// overlapping task.
type lane struct {
	first bool
	items []models.Assignment
}

// RenderGantt draws the solution as one row per machine lane, scaled to width columns.
// Time outside a machine's availability windows is shaded.
func RenderGantt(p *models.Problem, s *models.Solution, width int) string {
	if s == nil || len(s.Assignments) == 0 {
		return helpStyle.Render("no schedule to show")
	}
	span := int64(0)
	for _, a := range s.Assignments {
		if a.End > span {
			span = a.End
		}
	}
	if span == 0 {
		span = 1
	}

	labelW := 0
	for _, m := range p.Machines {
		labelW = max(labelW, len(m.ID))
	}
	chartW := max(width-labelW-3, minChartWidth)
	col := func(t int64) int { return int(t * int64(chartW) / span) }

	jobIdx := make(map[string]int, len(p.Jobs))
	for i, j := range p.Jobs {
		jobIdx[j.ID] = i
	}

	var b strings.Builder
	for _, m := range p.Machines {
		for _, ln := range lanes(m.ID, s.Assignments) {
			label := ""
			if ln.first {
				label = m.ID
			}
			b.WriteString(labelStyle.Render(fmt.Sprintf("%-*s", labelW, label)))
			b.WriteString(" │")
			b.WriteString(renderLane(m, ln, chartW, span, col, jobIdx))
			b.WriteString("\n")
		}
	}
	b.WriteString(axis(labelW, chartW, span))
	b.WriteString("\n")
	b.WriteString(legend(p))
	return b.String()
}

// lanes packs a machine's assignments first-fit into rows without overlap.
func lanes(machine string, all []models.Assignment) []lane {
	var items []models.Assignment
	for _, a := range all {
		if a.Machine == machine {
			items = append(items, a)
		}
	}
	sort.Slice(items, func(i, j int) bool {
		if items[i].Start != items[j].Start {
			return items[i].Start < items[j].Start
		}
		return items[i].TaskID < items[j].TaskID
	})

	out := []lane{{first: true}}
	for _, a := range items {
		placed := false
		for i := range out {
			n := len(out[i].items)
			if n == 0 || out[i].items[n-1].End <= a.Start {
				out[i].items = append(out[i].items, a)
				placed = true
				break
			}
		}
		if !placed {
			out = append(out, lane{items: []models.Assignment{a}})
		}
	}
	return out
}

func renderLane(m models.Machine, ln lane, chartW int, span int64, col func(int64) int, jobIdx map[string]int) string {
	// owner[c] is the job index drawn at column c, -1 for idle and -2 for unavailable.
	owner := make([]int, chartW)
	glyph := make([]rune, chartW)
	for c := range owner {
		owner[c] = -1
		glyph[c] = '·'
	}
	if len(m.Windows) > 0 {
		for c := range owner {
			t := int64(c) * span / int64(chartW)
			if !inWindow(m.Windows, t) {
				owner[c] = -2
				glyph[c] = '░'
			}
		}
	}
	for _, a := range ln.items {
		c0, c1 := col(a.Start), col(a.End)
		if c1 <= c0 {
			c1 = c0 + 1
		}
		c1 = min(c1, chartW)
		label := []rune(a.JobID)
		for c := c0; c < c1; c++ {
			owner[c] = jobIdx[a.JobID]
			glyph[c] = '█'
			if k := c - c0; c1-c0 >= len(label)+2 && k >= 1 && k <= len(label) {
				glyph[c] = label[k-1]
			}
		}
	}

	var b strings.Builder
	for c := 0; c < chartW; {
		e := c
		for e < chartW && owner[e] == owner[c] {
			e++
		}
		seg := string(glyph[c:e])
		switch o := owner[c]; {
		case o >= 0:
			b.WriteString(jobStyle(o).Reverse(true).Render(seg))
		default:
			b.WriteString(idleStyle.Render(seg))
		}
		c = e
	}
	return b.String()
}

func inWindow(ws []models.Window, t int64) bool {
	for _, w := range ws {
		if t >= w.Start && t < w.End {
			return true
		}
	}
	return false
}

// axis prints tick marks at quarters of the span.
func axis(labelW, chartW int, span int64) string {
	line := []rune(strings.Repeat("─", chartW))
	marks := []rune(strings.Repeat(" ", chartW+8))
	for q := int64(0); q <= 4; q++ {
		t := span * q / 4
		c := int(t * int64(chartW) / span)
		if c >= chartW {
			c = chartW - 1
		}
		line[c] = '┴'
		txt := strconv.FormatInt(t, 10)
		start := c
		if q == 4 {
			start = max(c-len(txt)+1, 0)
		}
		for i, r := range txt {
			if start+i < len(marks) {
				marks[start+i] = r
			}
		}
	}
	pad := strings.Repeat(" ", labelW)
	return idleStyle.Render(pad+" └"+string(line)) + "\n" +
		idleStyle.Render(pad+"  "+strings.TrimRight(string(marks), " "))
}

func legend(p *models.Problem) string {
	parts := make([]string, 0, len(p.Jobs))
	for i, j := range p.Jobs {
		parts = append(parts, jobStyle(i).Render("■ "+j.ID))
	}
	return strings.Join(parts, "  ")
}

// RenderTable lists every assignment ordered by machine then start.
func RenderTable(p *models.Problem, s *models.Solution) string {
	if s == nil || len(s.Assignments) == 0 {
		return helpStyle.Render("no schedule to show")
	}
	rows := append([]models.Assignment(nil), s.Assignments...)
	order := p.MachineIndex()
	sort.Slice(rows, func(i, j int) bool {
		if rows[i].Machine != rows[j].Machine {
			return order[rows[i].Machine] < order[rows[j].Machine]
		}
		if rows[i].Start != rows[j].Start {
			return rows[i].Start < rows[j].Start
		}
		return rows[i].TaskID < rows[j].TaskID
	})

	cols := []string{"MACHINE", "TASK", "JOB", "MODE", "START", "END"}
	cells := make([][]string, len(rows))
	widths := make([]int, len(cols))
	for i, c := range cols {
		widths[i] = len(c)
	}
	for i, a := range rows {
		cells[i] = []string{
			a.Machine, a.TaskID, a.JobID,
			strconv.Itoa(a.Mode),
			strconv.FormatInt(a.Start, 10),
			strconv.FormatInt(a.End, 10),
		}
		for k, v := range cells[i] {
			widths[k] = max(widths[k], len(v))
		}
	}

	format := func(vals []string) string {
		padded := make([]string, len(vals))
		for k, v := range vals {
			padded[k] = fmt.Sprintf("%-*s", widths[k], v)
		}
		return strings.Join(padded, "  ")
	}

	var b strings.Builder
	b.WriteString(headerStyle.Render(format(cols)))
	b.WriteString("\n")
	for _, row := range cells {
		b.WriteString(format(row))
		b.WriteString("\n")
	}
	fmt.Fprintf(&b, "\nmakespan %d  weighted tardiness %d", s.Makespan, s.WeightedTardiness)
	if !s.OptimalityProven && s.Gap > 0 {
		fmt.Fprintf(&b, "  gap %.1f%%", s.Gap*100)
	}
	return b.String()
}
