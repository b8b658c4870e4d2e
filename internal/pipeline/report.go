package pipeline

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"

	"github.com/aristath/distrogate/internal/gate"
	"github.com/aristath/distrogate/internal/scheduler"
)

// Report is the final state of one pipeline run.
type Report struct {
	RunID      string
	Repository string
	PullID     string
	Decision   gate.Decision
	Outcome    Outcome
	Stages     []StageResult
	Err        error // Fatal error that stopped the run before or during the stages
	Started    time.Time
	Finished   time.Time
}

// Failures lists the failures that decided the outcome, one per line, each
// naming the stage and its reason.
func (r *Report) Failures() []string {
	var out []string
	if r.Err != nil {
		out = append(out, r.Err.Error())
	}
	for _, s := range r.Stages {
		if s.Status == scheduler.StatusFailed && s.Role != scheduler.RolePrecheck {
			out = append(out, fmt.Sprintf("%s: %v", s.Name, reason(s.Err)))
		}
	}
	return out
}

// Warnings lists conditions that did not affect the outcome.
func (r *Report) Warnings() []string {
	var out []string
	if !r.Decision.Checked && r.Err == nil {
		out = append(out, "skip gate not checked: missing "+strings.Join(r.Decision.Missing, ", "))
	}
	for _, s := range r.Stages {
		if s.Status == scheduler.StatusFailed && s.Role == scheduler.RolePrecheck {
			out = append(out, fmt.Sprintf("precheck %s: %v", s.Name, reason(s.Err)))
		}
		for _, opt := range s.Unknown {
			out = append(out, fmt.Sprintf("%s: unknown matrix option %q", s.Name, opt))
		}
	}
	return out
}

// reason strips the StageError wrapper, whose stage name the caller prints.
func reason(err error) error {
	var se *StageError
	if errors.As(err, &se) {
		return se.Err
	}
	return err
}

// Summary is a one-line description of the run.
func (r *Report) Summary() string {
	counts := make(map[scheduler.Status]int)
	for _, s := range r.Stages {
		counts[s.Status]++
	}

	var detail string
	switch r.Outcome {
	case SkippedEarly:
		detail = fmt.Sprintf("%q label present, distro stages skipped", gate.SkipLabel)
	case Failure:
		if len(r.Stages) == 0 {
			detail = "aborted before any stage ran"
		} else {
			detail = fmt.Sprintf("%d failed, %d not run", countFailures(r.Stages), counts[scheduler.StatusPending])
		}
	default:
		detail = "all stages passed"
	}

	return fmt.Sprintf("%s: %s (%d succeeded, %d failed, %d skipped) in %s",
		r.Outcome, detail,
		counts[scheduler.StatusSucceeded], counts[scheduler.StatusFailed], counts[scheduler.StatusSkipped],
		r.Finished.Sub(r.Started).Round(time.Millisecond))
}

func countFailures(stages []StageResult) int {
	n := 0
	for _, s := range stages {
		if s.Status == scheduler.StatusFailed && s.Role != scheduler.RolePrecheck {
			n++
		}
	}
	return n
}

var (
	styleHeader  = lipgloss.NewStyle().Bold(true).Padding(0, 1)
	styleCell    = lipgloss.NewStyle().Padding(0, 1)
	styleSuccess = styleCell.Foreground(lipgloss.Color("green"))
	styleFailure = styleCell.Foreground(lipgloss.Color("red"))
	styleMuted   = styleCell.Foreground(lipgloss.Color("240"))
)

// Render draws the stage table followed by failures and warnings.
func (r *Report) Render() string {
	rows := make([][]string, 0, len(r.Stages))
	for _, s := range r.Stages {
		dur := ""
		if s.Duration > 0 {
			dur = s.Duration.Round(time.Millisecond).String()
		}
		why := ""
		if s.Err != nil {
			why = reason(s.Err).Error()
		}
		rows = append(rows, []string{s.Name, s.Role.String(), s.Status.String(), subStages(s), dur, why})
	}

	t := table.New().
		Border(lipgloss.RoundedBorder()).
		BorderStyle(lipgloss.NewStyle().Foreground(lipgloss.Color("240"))).
		Headers("STAGE", "ROLE", "STATUS", "ACTIONS", "TIME", "REASON").
		Rows(rows...).
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == table.HeaderRow {
				return styleHeader
			}
			if col != 2 || row < 0 || row >= len(r.Stages) {
				return styleCell
			}
			switch r.Stages[row].Status {
			case scheduler.StatusSucceeded:
				return styleSuccess
			case scheduler.StatusFailed:
				return styleFailure
			default:
				return styleMuted
			}
		})

	var b strings.Builder
	fmt.Fprintf(&b, "run %s  %s", r.RunID, r.Repository)
	if r.PullID != "" {
		fmt.Fprintf(&b, "#%s", r.PullID)
	}
	fmt.Fprintf(&b, "  gate: %s\n", r.Decision)
	if len(r.Stages) > 0 {
		b.WriteString(t.String())
		b.WriteString("\n")
	}
	for _, f := range r.Failures() {
		fmt.Fprintf(&b, "FAIL  %s\n", f)
	}
	for _, w := range r.Warnings() {
		fmt.Fprintf(&b, "WARN  %s\n", w)
	}
	b.WriteString(r.Summary())
	b.WriteString("\n")
	return b.String()
}

func subStages(s StageResult) string {
	parts := make([]string, 0, len(s.SubStages))
	for _, sub := range s.SubStages {
		mark := "ok"
		if sub.Err != nil {
			mark = "failed"
		}
		parts = append(parts, sub.Option+" "+mark)
	}
	return strings.Join(parts, ", ")
}
