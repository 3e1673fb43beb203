package main

import (
	"fmt"
	"math"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/sebogh/readoutq/internal/monitor"
)

const fillBarWidth = 20

var panelStyle = lipgloss.NewStyle().
	Border(lipgloss.RoundedBorder()).
	BorderForeground(lipgloss.Color("#7D56F4")).
	Padding(0, 1)

// readoutSummary condenses one sample of a readout chain's metrics.
type readoutSummary struct {
	State string

	Occupancy float64
	Capacity  float64
	Overflows float64

	HasRequester bool
	Requests     float64
	Found        float64

	HasRecorder bool
	Written     float64
	Throughput  float64

	HasCleaner bool
	Discarded  float64
}

// Fill is the buffer occupancy as a fraction of its capacity.
func (s readoutSummary) Fill() float64 {
	if s.Capacity <= 0 {
		return 0
	}
	return s.Occupancy / s.Capacity
}

// HitRatio is the fraction of requests that found data.
func (s readoutSummary) HitRatio() float64 {
	if s.Requests <= 0 {
		return 0
	}
	return s.Found / s.Requests
}

// summarize reads the metrics exported by "readoutq run" out of obs.
// Metrics carrying labels are summed across label values.
func summarize(obs map[string]monitor.Observation) readoutSummary {
	var s readoutSummary
	sum := func(name string) (float64, bool) {
		var total float64
		found := false
		for key, o := range obs {
			if base, _, _ := strings.Cut(key, " "); base == name {
				total += o.Value
				found = true
			}
		}
		return total, found
	}

	for key, o := range obs {
		base, labels, _ := strings.Cut(key, " ")
		if base == "readout_state" && o.Value == 1 {
			s.State = labelValue(labels, "state")
		}
	}
	s.Occupancy, _ = sum("readout_buffer_occupancy")
	s.Capacity, _ = sum("readout_buffer_capacity")
	s.Overflows, _ = sum("readout_buffer_overflows_total")
	s.Requests, s.HasRequester = sum("readout_requests_total")
	s.Found, _ = sum("readout_requests_found_total")
	s.Written, s.HasRecorder = sum("readout_recorder_packets_total")
	s.Throughput, _ = sum("readout_recorder_throughput")
	s.Discarded, s.HasCleaner = sum("readout_cleaner_popped_total")
	return s
}

// labelValue extracts name="value" from a flattened label set.
func labelValue(labels, name string) string {
	_, rest, ok := strings.Cut(labels, name+`="`)
	if !ok {
		return ""
	}
	value, _, _ := strings.Cut(rest, `"`)
	return value
}

// fillBar draws a fixed-width gauge of f in [0, 1].
func fillBar(f float64) string {
	f = min(max(f, 0), 1)
	n := int(f*fillBarWidth + 0.5)
	bar := strings.Repeat("█", n) + strings.Repeat("░", fillBarWidth-n)
	if f >= 0.8 {
		return redStyle.Render(bar)
	}
	return greenStyle.Render(bar)
}

// renderPanel renders s as two lines inside a bordered box of the given
// width.
func renderPanel(s readoutSummary, width int) string {
	state := s.State
	if state == "" {
		state = "unknown"
	}
	buffer := fmt.Sprintf("%s %s %s %5.1f%% (%s/%s)  %s %s",
		grayStyle.Render("state"), boldStyle.Render(state),
		grayStyle.Render("buffer")+" "+fillBar(s.Fill()), s.Fill()*100,
		format(s.Occupancy), format(s.Capacity),
		grayStyle.Render("overflows"), format(s.Overflows))

	var parts []string
	if s.HasRequester {
		parts = append(parts, fmt.Sprintf("%s %s %s %.1f%%",
			grayStyle.Render("requests"), format(s.Requests),
			grayStyle.Render("hit ratio"), s.HitRatio()*100))
	}
	if s.HasRecorder {
		parts = append(parts, fmt.Sprintf("%s %s %s %s/s",
			grayStyle.Render("written"), format(s.Written),
			grayStyle.Render("at"), format(math.Round(s.Throughput))))
	}
	if s.HasCleaner {
		parts = append(parts, fmt.Sprintf("%s %s", grayStyle.Render("discarded"), format(s.Discarded)))
	}
	consumers := strings.Join(parts, "   ")
	if consumers == "" {
		consumers = grayStyle.Render("no consumers reported")
	}

	style := panelStyle
	if inner := width - panelStyle.GetHorizontalFrameSize(); inner > 0 {
		style = style.Width(inner)
	}
	return style.Render(buffer + "\n" + consumers)
}
