// Package metrics records sync runs in a Prometheus registry and writes it as
// a node-exporter textfile. A batch job has no scrape endpoint, so the file is
// the only export. Each run rewrites the file; LoadPrevious carries the last
// success time across failed runs.
package metrics

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/common/expfmt"
	"github.com/prometheus/common/model"
)

const namespace = "inct2pg"

// LastSuccessMetric is the series a staleness alert watches.
const LastSuccessMetric = namespace + "_last_success_timestamp_seconds"

// Run describes one finished sync.
type Run struct {
	Table     string
	Mode      string
	Fetched   int
	Inserted  int
	Replaced  int
	Projected int64
	Duration  time.Duration
	Err       error
}

// Recorder owns a private registry so only sync metrics reach the textfile.
type Recorder struct {
	reg *prometheus.Registry

	rows        *prometheus.GaugeVec
	duration    *prometheus.GaugeVec
	lastRunOK   *prometheus.GaugeVec
	lastSuccess *prometheus.GaugeVec
	fullLoad    *prometheus.GaugeVec
}

func NewRecorder() *Recorder {
	reg := prometheus.NewRegistry()
	f := promauto.With(reg)
	return &Recorder{
		reg: reg,
		rows: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "rows",
			Help:      "Rows handled by the last successful sync run, by stage",
		}, []string{"table", "stage"}), // fetched, inserted, replaced, projected
		duration: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "run_duration_seconds",
			Help:      "Wall time of the last sync run",
		}, []string{"table"}),
		lastRunOK: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_run_success",
			Help:      "1 if the last sync run committed, 0 if it rolled back",
		}, []string{"table", "mode"}),
		lastSuccess: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_success_timestamp_seconds",
			Help:      "Unix time of the last successful sync run",
		}, []string{"table"}),
		fullLoad: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "full_load",
			Help:      "1 if the last sync run was a full load",
		}, []string{"table"}),
	}
}

// LoadPrevious seeds the last-success time from a textfile written by an
// earlier run. A missing file is not an error.
func (r *Recorder) LoadPrevious(path string) error {
	f, err := os.Open(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("open previous metrics: %w", err)
	}
	defer f.Close()

	parser := expfmt.NewTextParser(model.LegacyValidation)
	families, err := parser.TextToMetricFamilies(f)
	if err != nil {
		return fmt.Errorf("parse previous metrics %s: %w", path, err)
	}
	mf, ok := families[LastSuccessMetric]
	if !ok {
		return nil
	}
	for _, m := range mf.GetMetric() {
		table := ""
		for _, lp := range m.GetLabel() {
			if lp.GetName() == "table" {
				table = lp.GetValue()
			}
		}
		r.lastSuccess.WithLabelValues(table).Set(m.GetGauge().GetValue())
	}
	return nil
}

// Observe records a finished run.
func (r *Recorder) Observe(run Run) {
	ok := 1.0
	if run.Err != nil {
		ok = 0
	}
	r.lastRunOK.WithLabelValues(run.Table, run.Mode).Set(ok)
	r.duration.WithLabelValues(run.Table).Set(run.Duration.Seconds())

	full := 0.0
	if run.Mode == "full_load" {
		full = 1
	}
	r.fullLoad.WithLabelValues(run.Table).Set(full)

	// a failed run rolls back, so its row counts are not reported
	if run.Err != nil {
		return
	}
	r.rows.WithLabelValues(run.Table, "fetched").Set(float64(run.Fetched))
	r.rows.WithLabelValues(run.Table, "inserted").Set(float64(run.Inserted))
	r.rows.WithLabelValues(run.Table, "replaced").Set(float64(run.Replaced))
	r.rows.WithLabelValues(run.Table, "projected").Set(float64(run.Projected))
	r.lastSuccess.WithLabelValues(run.Table).SetToCurrentTime()
}

// Registry exposes the underlying registry for tests and custom exporters.
func (r *Recorder) Registry() *prometheus.Registry { return r.reg }

// WriteTextfile atomically writes the registry in text exposition format.
func (r *Recorder) WriteTextfile(path string) error {
	return prometheus.WriteToTextfile(path, r.reg)
}
