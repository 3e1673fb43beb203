package monitor

import (
	"fmt"
	"net/http"
	"slices"
	"strings"

	prom "github.com/prometheus/client_model/go"
	"github.com/prometheus/common/expfmt"
	"google.golang.org/protobuf/proto"
)

// Gatherer produces the current metric families.
type Gatherer interface {
	Gather() ([]*prom.MetricFamily, error)
}

// GathererFunc adapts a function to a Gatherer.
type GathererFunc func() ([]*prom.MetricFamily, error)

func (f GathererFunc) Gather() ([]*prom.MetricFamily, error) {
	return f()
}

// Families accumulates metric families by name. Adding a sample to an
// existing family appends a metric to it.
type Families struct {
	byName map[string]*prom.MetricFamily
}

func NewFamilies() *Families {
	return &Families{byName: make(map[string]*prom.MetricFamily)}
}

// Label is a convenience constructor for a label pair.
func Label(name, value string) *prom.LabelPair {
	return &prom.LabelPair{Name: proto.String(name), Value: proto.String(value)}
}

// Counter adds a counter sample.
func (f *Families) Counter(name, help string, value float64, labels ...*prom.LabelPair) {
	mf := f.family(name, help, prom.MetricType_COUNTER)
	mf.Metric = append(mf.Metric, &prom.Metric{
		Label:   labels,
		Counter: &prom.Counter{Value: proto.Float64(value)},
	})
}

// Gauge adds a gauge sample.
func (f *Families) Gauge(name, help string, value float64, labels ...*prom.LabelPair) {
	mf := f.family(name, help, prom.MetricType_GAUGE)
	mf.Metric = append(mf.Metric, &prom.Metric{
		Label: labels,
		Gauge: &prom.Gauge{Value: proto.Float64(value)},
	})
}

func (f *Families) family(name, help string, typ prom.MetricType) *prom.MetricFamily {
	mf, ok := f.byName[name]
	if !ok {
		mf = &prom.MetricFamily{
			Name: proto.String(name),
			Help: proto.String(help),
			Type: typ.Enum(),
		}
		f.byName[name] = mf
	}
	return mf
}

// List returns the families ordered by name.
func (f *Families) List() []*prom.MetricFamily {
	mfs := make([]*prom.MetricFamily, 0, len(f.byName))
	for _, mf := range f.byName {
		mfs = append(mfs, mf)
	}
	slices.SortFunc(mfs, func(a, b *prom.MetricFamily) int {
		return strings.Compare(a.GetName(), b.GetName())
	})
	return mfs
}

// MetricsHandler serves the families of g in the exposition format the
// client asks for.
func MetricsHandler(g Gatherer) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mfs, err := g.Gather()
		if err != nil {
			http.Error(w, fmt.Sprintf("gather: %v", err), http.StatusInternalServerError)
			return
		}
		format := expfmt.Negotiate(r.Header)
		w.Header().Set("Content-Type", string(format))
		enc := expfmt.NewEncoder(w, format)
		for _, mf := range mfs {
			if err := enc.Encode(mf); err != nil {
				return
			}
		}
		if closer, ok := enc.(expfmt.Closer); ok {
			_ = closer.Close()
		}
	})
}
