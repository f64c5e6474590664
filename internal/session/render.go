package session

import (
	"fmt"
	"math"
	"strings"

	"github.com/docforge/toolkit-client/internal/job"
)

const barWidth = 20

// View is what a job looks like on screen. It is derived from the Job alone.
type View struct {
	State   job.State
	Icon    string
	Title   string
	Bar     string
	Percent float64
	Detail  string
}

// Render projects a job into a View.
func Render(j job.Job) View {
	v := View{
		State:   j.State,
		Title:   j.Tool,
		Percent: j.Percent,
		Bar:     bar(j.Percent),
	}
	switch j.State {
	case job.StateSubmitting:
		v.Icon = "↑"
		v.Detail = "Uploading files..."
	case job.StateInProgress:
		v.Icon = "⟳"
		v.Detail = j.Status
		if j.Message != "" {
			v.Detail = j.Message
		}
	case job.StateCompleted:
		v.Icon = "✓"
		v.Detail = j.Status
		if v.Detail == "" {
			v.Detail = "Processing complete!"
		}
	case job.StateFailed:
		v.Icon = "✗"
		v.Detail = j.Err
	default:
		v.Icon = "·"
	}
	return v
}

// String renders the view on one line.
func (v View) String() string {
	line := fmt.Sprintf("%s %s %s %3.0f%%", v.Icon, v.Title, v.Bar, v.Percent)
	if v.Detail != "" {
		line += " " + v.Detail
	}
	return line
}

func bar(percent float64) string {
	filled := int(math.Round(math.Max(0, math.Min(100, percent)) / 100 * barWidth))
	return "[" + strings.Repeat("#", filled) + strings.Repeat("-", barWidth-filled) + "]"
}
