package profilestore

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	profileSaves = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "voiceid_profile_saves_total",
		Help: "Profile file writes by result",
	}, []string{"result"})

	profileLoads = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "voiceid_profile_loads_total",
		Help: "Profile file reads by result",
	}, []string{"result"})

	orphansRemoved = promauto.NewCounter(prometheus.CounterOpts{
		Name: "voiceid_profile_orphans_removed_total",
		Help: "Profile files deleted because no enrolled speaker owns them",
	})

	profileBackups = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "voiceid_profile_backups_total",
		Help: "Backup runs by result",
	}, []string{"result"})

	diskBytes = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "voiceid_profile_disk_bytes",
		Help: "Total size of profile files at the last stats scan",
	})
)

func result(ok bool) string {
	if ok {
		return "ok"
	}
	return "error"
}
