package main

import (
	prom "github.com/prometheus/client_model/go"

	"github.com/sebogh/readoutq/internal/emulator"
	"github.com/sebogh/readoutq/internal/frame"
	"github.com/sebogh/readoutq/internal/monitor"
	"github.com/sebogh/readoutq/internal/queue"
	"github.com/sebogh/readoutq/internal/readout"
	"github.com/sebogh/readoutq/internal/recorder"
	"github.com/sebogh/readoutq/internal/runctl"
)

// readoutStats gathers the statistics of one readout chain. Modules that
// are not configured are left nil.
type readoutStats struct {
	rb        *queue.RingBuffer[frame.SuperChunk]
	ctrl      *runctl.Controller
	emulator  *emulator.Emulator[frame.SuperChunk]
	recorder  *recorder.Recorder[frame.SuperChunk]
	cleaner   *readout.Cleaner[frame.SuperChunk]
	requester *readout.Requester[frame.SuperChunk]
}

func (s *readoutStats) Gather() ([]*prom.MetricFamily, error) {
	f := monitor.NewFamilies()

	if s.ctrl != nil {
		f.Gauge("readout_state", "Run-control state, 1 for the current one.", 1, monitor.Label("state", s.ctrl.Current()))
	}

	f.Gauge("readout_buffer_capacity", "Records the buffer can hold.", float64(s.rb.Capacity()))
	f.Gauge("readout_buffer_occupancy", "Records currently held.", float64(s.rb.Occupancy()))
	f.Counter("readout_buffer_overflows_total", "Pushes rejected because the buffer was full.", float64(s.rb.Overflows()))

	if s.emulator != nil {
		info := s.emulator.Info()
		name := monitor.Label("module", s.emulator.Name())
		f.Counter("readout_emulator_packets_total", "Records generated since start.", float64(info.Packets), name)
		f.Counter("readout_emulator_overflows_total", "Generated records the buffer rejected.", float64(info.Overflows), name)
	}
	if s.recorder != nil {
		info := s.recorder.Info()
		name := monitor.Label("module", s.recorder.Name())
		f.Counter("readout_recorder_packets_total", "Records written since start.", float64(info.PacketsProcessed), name)
		f.Gauge("readout_recorder_throughput", "Records written per second over the last completed second.", info.Throughput, name)
	}
	if s.cleaner != nil {
		f.Counter("readout_cleaner_popped_total", "Records discarded to keep occupancy below the threshold.", float64(s.cleaner.Popped()))
	}
	if s.requester != nil {
		info := s.requester.Info()
		name := monitor.Label("module", s.requester.Name())
		f.Counter("readout_requests_total", "Window requests served.", float64(info.Requests), name)
		f.Counter("readout_requests_found_total", "Requests that found at least one record.", float64(info.Found), name)
		f.Counter("readout_requests_not_found_total", "Requests outside the buffered window.", float64(info.NotFound), name)
		f.Counter("readout_request_records_total", "Records returned by requests.", float64(info.Records), name)
	}
	return f.List(), nil
}
