package gossip

import (
	"github.com/prometheus/client_golang/prometheus"
)

//Stats aggregates the gossip-layer prometheus collectors. A single
//instance is shared by the admission gate and every session.
type Stats struct {
	EventsRead    prometheus.Counter
	EventsWritten prometheus.Counter
	Rejections    *prometheus.CounterVec
	Syncs         prometheus.Counter
	SyncFailures  prometheus.Counter
	Duplicates    prometheus.Counter
	BadSignatures prometheus.Counter
}

//NewStats creates the gossip collectors and registers them with reg.
//Passing prometheus.DefaultRegisterer is the usual choice; tests pass
//a private registry so repeated constructions do not collide.
func NewStats(reg prometheus.Registerer) *Stats {
	s := &Stats{
		EventsRead: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "braid",
			Subsystem: "gossip",
			Name:      "events_read_total",
			Help:      "Events received from peers across all sessions.",
		}),
		EventsWritten: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "braid",
			Subsystem: "gossip",
			Name:      "events_written_total",
			Help:      "Events sent to peers across all sessions.",
		}),
		Rejections: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "braid",
			Subsystem: "gossip",
			Name:      "event_rejections_total",
			Help:      "Events rejected by the admission gate, by status.",
		}, []string{"status"}),
		Syncs: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "braid",
			Subsystem: "gossip",
			Name:      "syncs_total",
			Help:      "Completed gossip sessions.",
		}),
		SyncFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "braid",
			Subsystem: "gossip",
			Name:      "sync_failures_total",
			Help:      "Gossip sessions aborted by an I/O or protocol error.",
		}),
		Duplicates: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "braid",
			Subsystem: "gossip",
			Name:      "duplicate_events_total",
			Help:      "Events discarded because their hash was already indexed.",
		}),
		BadSignatures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "braid",
			Subsystem: "gossip",
			Name:      "bad_signatures_total",
			Help:      "Events discarded because signature verification failed.",
		}),
	}

	if reg != nil {
		reg.MustRegister(
			s.EventsRead,
			s.EventsWritten,
			s.Rejections,
			s.Syncs,
			s.SyncFailures,
			s.Duplicates,
			s.BadSignatures,
		)
	}

	return s
}

func (s *Stats) countRejection(status EventStatus) {
	s.Rejections.WithLabelValues(status.String()).Inc()
	switch status {
	case InvalidDuplicateEvent:
		s.Duplicates.Inc()
	case InvalidEventSignature:
		s.BadSignatures.Inc()
	}
}
