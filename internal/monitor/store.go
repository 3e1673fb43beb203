// Package monitor exposes readout statistics as Prometheus metrics, keeps a
// short history of sampled metrics and streams it to websocket clients.
package monitor

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/maruel/natural"
	prom "github.com/prometheus/client_model/go"
	"github.com/prometheus/common/expfmt"
	"google.golang.org/protobuf/proto"
)

const (
	ObservationCounter ObservationKind = iota
	ObservationCounterRate
	ObservationGauge
	ObservationHistogramBucket
	ObservationHistogramSum
	ObservationHistogramCount
	ObservationHistogramAvg
	ObservationSummarySum
	ObservationSummaryCount
)

var ErrNoData = errors.New("monitor: no observations")

var promFormat = expfmt.NewFormat(expfmt.TypeTextPlain)

// ObservationKind represents the type of observation (e.g. counter, gauge, etc.).
type ObservationKind int

// Derived reports whether observations of this kind are computed rather than
// scraped.
func (k ObservationKind) Derived() bool {
	return k == ObservationCounterRate || k == ObservationHistogramAvg
}

// Observation is the value of one flattened metric at the time it was
// sampled.
type Observation struct {
	Name  string
	Kind  ObservationKind
	Time  time.Time
	Value float64
}

// Series is the history of one metric, newest observation first.
type Series []Observation

// Rate derives the per-second rate between consecutive observations.
// Observations sampled at the same instant are skipped.
func (s Series) Rate() Series {
	if len(s) < 2 {
		return nil
	}
	name := rateName(s[0].Name)
	rs := make(Series, 0, len(s)-1)
	for i := 0; i < len(s)-1; i++ {
		cur, prev := s[i], s[i+1]
		dur := cur.Time.Sub(prev.Time)
		if dur <= 0 {
			continue
		}
		rs = append(rs, Observation{
			Name:  name,
			Kind:  ObservationCounterRate,
			Time:  cur.Time,
			Value: (cur.Value - prev.Value) / dur.Seconds(),
		})
	}
	return rs
}

// Derive returns s followed by the series derived from it: a rate for
// counter-like metrics.
func (s Series) Derive() []Series {
	derived := []Series{s}
	if len(s) == 0 {
		return derived
	}
	if k := s[0].Kind; k == ObservationCounter || k == ObservationHistogramCount {
		if rs := s.Rate(); len(rs) > 0 {
			derived = append(derived, rs)
		}
	}
	return derived
}

func rateName(name string) string {
	base, labels, found := strings.Cut(name, " ")
	name = base + "_per_second_rate"
	if found {
		name += " " + labels
	}
	return name
}

// Store samples a metrics source and keeps the most recent samples.
type Store struct {
	source   func(ctx context.Context) (map[string]Observation, error)
	samples  *history[map[string]Observation]
	sampling sync.Mutex
}

// NewStore returns a Store scraping the text exposition served at endpoint.
func NewStore(depth int, endpoint string) *Store {
	return &Store{
		source:  func(ctx context.Context) (map[string]Observation, error) { return scrape(ctx, endpoint) },
		samples: newHistory[map[string]Observation](depth),
	}
}

// NewGathererStore returns a Store sampling g in process.
func NewGathererStore(depth int, g Gatherer) *Store {
	return &Store{
		source: func(context.Context) (map[string]Observation, error) {
			mfs, err := g.Gather()
			if err != nil {
				return nil, fmt.Errorf("gather: %w", err)
			}
			return flatten(mfs, time.Now()), nil
		},
		samples: newHistory[map[string]Observation](depth),
	}
}

// Sample fetches one set of observations and adds it to the store. It
// returns false and no error when another Sample call is in progress.
func (s *Store) Sample(ctx context.Context) (bool, error) {
	if !s.sampling.TryLock() {
		return false, nil
	}
	defer s.sampling.Unlock()

	obs, err := s.source(ctx)
	if err != nil {
		return false, err
	}
	s.samples.add(obs)
	return true, nil
}

// Latest returns the most recent sample.
func (s *Store) Latest() (map[string]Observation, bool) {
	return s.samples.latest()
}

// Dump returns the history of every metric in the latest sample whose name
// contains filter (case-insensitive), in natural name order. A metric's
// history stops at the first older sample that lacks it.
func (s *Store) Dump(filter string) ([]Series, error) {
	data := s.samples.get()
	if len(data) == 0 {
		return nil, ErrNoData
	}

	var dump []Series
	for _, name := range filterAndSort(data[len(data)-1], filter) {
		if series := seriesOf(data, name); len(series) > 0 {
			dump = append(dump, series)
		}
	}
	return dump, nil
}

func filterAndSort(obs map[string]Observation, filter string) []string {
	filter = strings.ToLower(filter)
	names := make([]string, 0, len(obs))
	for k := range obs {
		if filter == "" || strings.Contains(strings.ToLower(k), filter) {
			names = append(names, k)
		}
	}
	sort.Sort(natural.StringSlice(names))
	return names
}

func seriesOf(data []map[string]Observation, name string) Series {
	series := make(Series, 0, len(data))
	for i := len(data) - 1; i >= 0; i-- {
		o, ok := data[i][name]
		if !ok {
			break
		}
		series = append(series, o)
	}
	return series
}

func scrape(ctx context.Context, endpoint string) (map[string]Observation, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", string(promFormat))

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("do request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil, fmt.Errorf("unexpected status %s", resp.Status)
	}

	obs, err := decode(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("parse response: %w", err)
	}
	return obs, nil
}

func decode(in io.Reader) (map[string]Observation, error) {
	ts := time.Now()
	dec := expfmt.NewDecoder(in, promFormat)
	var mfs []*prom.MetricFamily
	for {
		mf := &prom.MetricFamily{}
		if err := dec.Decode(mf); err == io.EOF {
			break
		} else if err != nil {
			return nil, err
		}
		mfs = append(mfs, mf)
	}
	return flatten(mfs, ts), nil
}

// flatten turns metric families into observations keyed by flat name.
// Histograms yield per-bucket, sum, count and average observations.
func flatten(mfs []*prom.MetricFamily, ts time.Time) map[string]Observation {
	obs := make(map[string]Observation, len(mfs))
	put := func(name string, labels []*prom.LabelPair, kind ObservationKind, v float64) {
		n := flatName(name, labels)
		obs[n] = Observation{Name: n, Kind: kind, Time: ts, Value: v}
	}

	for _, mf := range mfs {
		name := mf.GetName()
		for _, m := range mf.GetMetric() {
			labels := m.GetLabel()
			switch mf.GetType() {
			case prom.MetricType_COUNTER:
				put(name, labels, ObservationCounter, m.GetCounter().GetValue())
			case prom.MetricType_GAUGE:
				put(name, labels, ObservationGauge, m.GetGauge().GetValue())
			case prom.MetricType_SUMMARY:
				put(name+"_sum", labels, ObservationSummarySum, m.GetSummary().GetSampleSum())
				put(name+"_count", labels, ObservationSummaryCount, float64(m.GetSummary().GetSampleCount()))
			case prom.MetricType_HISTOGRAM, prom.MetricType_GAUGE_HISTOGRAM:
				flattenHistogram(name, labels, m.GetHistogram(), put)
			}
		}
	}
	return obs
}

func flattenHistogram(name string, labels []*prom.LabelPair, h *prom.Histogram, put func(string, []*prom.LabelPair, ObservationKind, float64)) {
	for _, b := range h.GetBucket() {
		le := strconv.FormatFloat(math.Round(b.GetUpperBound()*100)/100, 'f', -1, 64)
		bucketLabels := append(labels[:len(labels):len(labels)], &prom.LabelPair{
			Name:  proto.String("le"),
			Value: proto.String(le),
		})
		v := b.GetCumulativeCountFloat()
		if v <= 0 {
			v = float64(b.GetCumulativeCount())
		}
		put(name+"_bucket", bucketLabels, ObservationHistogramBucket, v)
	}

	sum := h.GetSampleSum()
	put(name+"_sum", labels, ObservationHistogramSum, sum)

	count := h.GetSampleCountFloat()
	if count <= 0 {
		count = float64(h.GetSampleCount())
	}
	put(name+"_count", labels, ObservationHistogramCount, count)
	if count > 0 {
		put(name+"_avg", labels, ObservationHistogramAvg, sum/count)
	}
}

// flatName joins a metric name and its labels into one key.
func flatName(name string, labels []*prom.LabelPair) string {
	if len(labels) == 0 {
		return name
	}
	parts := make([]string, 0, len(labels))
	for _, l := range labels {
		parts = append(parts, fmt.Sprintf("%s=%q", l.GetName(), l.GetValue()))
	}
	return name + " {" + strings.Join(parts, ", ") + "}"
}
