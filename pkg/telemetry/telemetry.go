package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Telemeter counts per-target outcomes so a partially successful run is
// visible to operators without scraping logs.
type Telemeter struct {
	Registry *prometheus.Registry

	builds  *prometheus.CounterVec
	uploads *prometheus.CounterVec
}

func New() *Telemeter {
	t := &Telemeter{
		Registry: prometheus.NewRegistry(),
		builds: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ship_builds_total",
			Help: "Build attempts per target triple and outcome.",
		}, []string{"triple", "status"}),
		uploads: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ship_uploads_total",
			Help: "Asset uploads per target triple and outcome.",
		}, []string{"triple", "status"}),
	}

	t.Registry.MustRegister(t.builds, t.uploads)

	return t
}

func (t *Telemeter) CountBuild(triple string, err error) {
	t.builds.WithLabelValues(triple, status(err)).Inc()
}

func (t *Telemeter) CountUpload(triple string, err error) {
	t.uploads.WithLabelValues(triple, status(err)).Inc()
}

func status(err error) string {
	if err != nil {
		return "failure"
	}
	return "success"
}
