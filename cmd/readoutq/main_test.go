package main

import (
	"strings"
	"testing"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/rs/zerolog"

	"github.com/sebogh/readoutq/internal/config"
	"github.com/sebogh/readoutq/internal/monitor"
)

func TestRenderSeries(t *testing.T) {
	width := lipgloss.NewStyle().MaxWidth(200)
	now := time.Now()
	tests := []struct {
		name    string
		series  monitor.Series
		derived bool
		want    string
		empty   bool
	}{
		{
			name:   "single",
			series: monitor.Series{{Name: "readout_buffer_occupancy", Kind: monitor.ObservationGauge, Time: now, Value: 3}},
			want:   "readout_buffer_occupancy 3",
		},
		{
			name: "increase",
			series: monitor.Series{
				{Name: "readout_buffer_occupancy", Kind: monitor.ObservationGauge, Time: now, Value: 7.123},
				{Name: "readout_buffer_occupancy", Kind: monitor.ObservationGauge, Time: now.Add(-time.Second), Value: 3},
			},
			want: "(+4.12)",
		},
		{
			name: "hidden derived",
			series: monitor.Series{
				{Name: "x_per_second_rate", Kind: monitor.ObservationCounterRate, Time: now, Value: 1},
			},
			empty: true,
		},
		{
			name: "shown derived",
			series: monitor.Series{
				{Name: "x_per_second_rate", Kind: monitor.ObservationCounterRate, Time: now, Value: 1},
			},
			derived: true,
			want:    "+x_per_second_rate 1",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := renderSeries(tt.series, true, tt.derived, width)
			if tt.empty {
				if got != "" {
					t.Errorf("got %q, want nothing", got)
				}
				return
			}
			if !strings.Contains(got, tt.want) {
				t.Errorf("got %q, want it to contain %q", got, tt.want)
			}
		})
	}
}

func TestBuild(t *testing.T) {
	cfg := config.Default()
	cfg.Emulator.DataFile = "unused.bin"
	cfg.Requester.Enabled = true

	stats, ctrl, err := build(&cfg, zerolog.Nop())
	if err != nil {
		t.Fatal(err)
	}
	if stats.cleaner == nil || stats.recorder != nil {
		t.Error("recording disabled should wire the cleaner")
	}
	if stats.requester == nil || stats.emulator == nil {
		t.Error("requester and emulator should be wired")
	}
	if ctrl.Current() != "initial" {
		t.Errorf("state %s", ctrl.Current())
	}

	mfs, err := stats.Gather()
	if err != nil {
		t.Fatal(err)
	}
	names := map[string]bool{}
	for _, mf := range mfs {
		names[mf.GetName()] = true
	}
	for _, want := range []string{"readout_state", "readout_buffer_capacity", "readout_cleaner_popped_total", "readout_requests_total", "readout_emulator_packets_total"} {
		if !names[want] {
			t.Errorf("missing family %s", want)
		}
	}
	if names["readout_recorder_packets_total"] {
		t.Error("recorder family present without a recorder")
	}
}

func TestSummarize(t *testing.T) {
	now := time.Now()
	obs := map[string]monitor.Observation{}
	put := func(name string, v float64) {
		obs[name] = monitor.Observation{Name: name, Time: now, Value: v}
	}
	put(`readout_state {state="initial"}`, 0)
	put(`readout_state {state="running"}`, 1)
	put("readout_buffer_capacity", 200)
	put("readout_buffer_occupancy", 170)
	put("readout_buffer_overflows_total", 4)
	put(`readout_requests_total {module="requester"}`, 8)
	put(`readout_requests_found_total {module="requester"}`, 6)
	put("readout_recorder_packets_total", 1000)
	put("readout_recorder_throughput", 250.4)

	s := summarize(obs)
	if s.State != "running" {
		t.Errorf("state %q", s.State)
	}
	if s.Fill() != 0.85 {
		t.Errorf("fill %v", s.Fill())
	}
	if s.HitRatio() != 0.75 {
		t.Errorf("hit ratio %v", s.HitRatio())
	}
	if !s.HasRequester || !s.HasRecorder || s.HasCleaner {
		t.Errorf("consumers %+v", s)
	}

	panel := renderPanel(s, 120)
	for _, want := range []string{"running", "85.0%", "(170/200)", "75.0%", "250/s"} {
		if !strings.Contains(panel, want) {
			t.Errorf("panel %q missing %q", panel, want)
		}
	}
	if strings.Contains(panel, "discarded") {
		t.Error("cleaner shown without cleaner metrics")
	}
}

func TestSummarize_Empty(t *testing.T) {
	s := summarize(nil)
	if s.Fill() != 0 || s.HitRatio() != 0 {
		t.Errorf("empty summary %+v", s)
	}
	if got := renderPanel(s, 0); !strings.Contains(got, "unknown") || !strings.Contains(got, "no consumers") {
		t.Errorf("panel %q", got)
	}
}

func TestSummarize_FromStats(t *testing.T) {
	cfg := config.Default()
	cfg.Emulator.DataFile = "unused.bin"
	cfg.Requester.Enabled = true
	stats, _, err := build(&cfg, zerolog.Nop())
	if err != nil {
		t.Fatal(err)
	}

	store := monitor.NewGathererStore(2, stats)
	if _, err := store.Sample(t.Context()); err != nil {
		t.Fatal(err)
	}
	obs, ok := store.Latest()
	if !ok {
		t.Fatal("no sample")
	}
	s := summarize(obs)
	if s.State != "initial" {
		t.Errorf("state %q", s.State)
	}
	if s.Capacity != float64(cfg.Buffer.Capacity) || s.Occupancy != 0 {
		t.Errorf("buffer %v/%v", s.Occupancy, s.Capacity)
	}
	if !s.HasRequester || !s.HasCleaner || s.HasRecorder {
		t.Errorf("consumers %+v", s)
	}
}

func TestFillBar(t *testing.T) {
	for _, f := range []float64{-1, 0, 0.5, 0.9, 2} {
		bar := fillBar(f)
		if n := strings.Count(bar, "█") + strings.Count(bar, "░"); n != fillBarWidth {
			t.Errorf("fillBar(%v) has %d cells", f, n)
		}
	}
	if strings.Contains(fillBar(1), "░") {
		t.Error("full bar has empty cells")
	}
}
