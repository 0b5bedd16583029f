// Package metrics exports run outcomes for node_exporter's textfile
// collector.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/kk-code-lab/kbkeeper/internal/ops"
)

// Metrics holds one gauge family per run counter, labelled by command.
type Metrics struct {
	Registry *prometheus.Registry

	FilesChecked    *prometheus.GaugeVec
	Mismatches      *prometheus.GaugeVec
	Errors          *prometheus.GaugeVec
	ArchivedBackups *prometheus.GaugeVec
	ArchivedObjects *prometheus.GaugeVec
	ReclaimedBytes  *prometheus.GaugeVec
	LastRunTime     *prometheus.GaugeVec
	LastRunDuration *prometheus.GaugeVec
	LastRunSuccess  *prometheus.GaugeVec
}

// New registers all gauges on a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	gauge := func(name, help string) *prometheus.GaugeVec {
		g := prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "kbkeeper",
			Name:      name,
			Help:      help,
		}, []string{"command"})
		reg.MustRegister(g)
		return g
	}
	return &Metrics{
		Registry:        reg,
		FilesChecked:    gauge("files_checked", "Objects hashed by the last run."),
		Mismatches:      gauge("mismatches", "Objects whose content no longer matches their name."),
		Errors:          gauge("errors", "Objects that could not be checked."),
		ArchivedBackups: gauge("archived_backups", "Backups moved to the archive by the last run."),
		ArchivedObjects: gauge("archived_objects", "Objects moved to the archive by the last run."),
		ReclaimedBytes:  gauge("reclaimed_bytes", "Bytes moved out of the live repository by the last run."),
		LastRunTime:     gauge("last_run_timestamp_seconds", "Unix time the last run finished."),
		LastRunDuration: gauge("last_run_duration_seconds", "Wall time of the last run."),
		LastRunSuccess:  gauge("last_run_success", "1 if the last run finished without error."),
	}
}

// Observe records r under its mode. Dry runs report what they would have
// archived.
func (m *Metrics) Observe(r *ops.Report, success bool) {
	cmd := r.Mode
	m.FilesChecked.WithLabelValues(cmd).Set(float64(r.Checked))
	m.Mismatches.WithLabelValues(cmd).Set(float64(r.Mismatches))
	m.Errors.WithLabelValues(cmd).Set(float64(r.Errors))
	m.ArchivedBackups.WithLabelValues(cmd).Set(float64(r.ArchivedBackups))
	m.ArchivedObjects.WithLabelValues(cmd).Set(float64(r.ArchivedObjects))
	m.ReclaimedBytes.WithLabelValues(cmd).Set(float64(r.Reclaimed))
	m.LastRunTime.WithLabelValues(cmd).Set(float64(r.FinishedAt.Unix()))
	m.LastRunDuration.WithLabelValues(cmd).Set(r.Duration().Seconds())
	ok := 0.0
	if success {
		ok = 1
	}
	m.LastRunSuccess.WithLabelValues(cmd).Set(ok)
}

// WriteFile atomically replaces path with the registry's text exposition.
func (m *Metrics) WriteFile(path string) error {
	return prometheus.WriteToTextfile(path, m.Registry)
}
