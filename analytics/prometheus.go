package analytics

import (
	"context"

	"github.com/prometheus/client_golang/prometheus"

	"levelkit/core"
)

// Collector exports XP movement as Prometheus counters labelled by community.
type Collector struct {
	reg      prometheus.Registerer
	xp       *prometheus.CounterVec
	joined   *prometheus.CounterVec
	levels   *prometheus.CounterVec
	rewards  *prometheus.CounterVec
	lastSeen *prometheus.GaugeVec
}

// NewCollector creates the counters and registers them with reg. A nil reg
// leaves them unregistered.
func NewCollector(reg prometheus.Registerer) (*Collector, error) {
	c := &Collector{
		xp: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "levelkit",
			Name:      "xp_total",
			Help:      "XP moved through member ledgers, by entry kind.",
		}, []string{"community", "kind"}),
		joined: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "levelkit",
			Name:      "members_joined_total",
			Help:      "Members that received their first ledger entry.",
		}, []string{"community"}),
		levels: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "levelkit",
			Name:      "level_changes_total",
			Help:      "Level changes, by direction.",
		}, []string{"community", "direction"}),
		rewards: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "levelkit",
			Name:      "rewards_earned_total",
			Help:      "Reward roles earned.",
		}, []string{"community"}),
		lastSeen: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "levelkit",
			Name:      "last_event_timestamp_seconds",
			Help:      "Unix time of the most recent event.",
		}, []string{"community"}),
	}
	c.reg = reg
	if reg == nil {
		return c, nil
	}
	for _, col := range []prometheus.Collector{c.xp, c.joined, c.levels, c.rewards, c.lastSeen} {
		if err := reg.Register(col); err != nil {
			return nil, err
		}
	}
	return c, nil
}

// TrackDropped exports a counter of events a delivery stage discarded, read
// from count at scrape time. stage becomes the "stage" label.
func (c *Collector) TrackDropped(stage string, count func() int64) error {
	if c.reg == nil {
		return nil
	}
	return c.reg.Register(prometheus.NewCounterFunc(prometheus.CounterOpts{
		Namespace:   "levelkit",
		Name:        "events_dropped_total",
		Help:        "Events discarded because a delivery queue was full.",
		ConstLabels: prometheus.Labels{"stage": stage},
	}, func() float64 { return float64(count()) }))
}

func (c *Collector) OnEvent(_ context.Context, e core.Event) {
	community := string(e.Community)
	switch e.Type {
	case core.EventMemberJoined:
		c.joined.WithLabelValues(community).Inc()
	case core.EventXPEarned:
		c.xp.WithLabelValues(community, string(core.EntryEarned)).Add(float64(e.Delta))
	case core.EventXPAwarded:
		c.xp.WithLabelValues(community, string(core.EntryAwarded)).Add(float64(e.Delta))
	case core.EventXPReclaimed:
		c.xp.WithLabelValues(community, string(core.EntryReclaimed)).Add(float64(-e.Delta))
	case core.EventLevelUp:
		c.levels.WithLabelValues(community, "up").Inc()
	case core.EventLevelDown:
		c.levels.WithLabelValues(community, "down").Inc()
	case core.EventRewardEarned:
		c.rewards.WithLabelValues(community).Inc()
	}
	c.lastSeen.WithLabelValues(community).Set(float64(e.Time.Unix()))
}
