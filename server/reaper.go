package server

import (
	"github.com/fzft/go-log-collector/log"
	"go.uber.org/zap"
	"time"
)

// KeepaliveCheckInterval is how often a listener's reaper runs.
const KeepaliveCheckInterval = time.Second

// Reaper evicts connections that have not read anything for longer than
// keepalive. A zero keepalive never evicts on idle time. Connections with a
// write in flight are never evicted.
type Reaper struct {
	conns     *Registry
	keepalive time.Duration
	interval  time.Duration
	stats     *listenerMetrics
}

func newReaper(conns *Registry, keepalive time.Duration, stats *listenerMetrics) *Reaper {
	return &Reaper{
		conns:     conns,
		keepalive: keepalive,
		interval:  KeepaliveCheckInterval,
		stats:     stats,
	}
}

// Tick runs one sweep. Idle time of every surviving connection advances by exactly one interval.
func (r *Reaper) Tick() {
	// closing removes from the registry, so walk a copy
	for _, c := range r.conns.Snapshot() {
		switch {
		case !c.writing && r.keepalive > 0 && c.idle > r.keepalive:
			r.conns.Remove(c)
			r.stats.evicted.Inc()
			log.Logger.Debug("evicting idle connection",
				zap.String("conn", c.id), zap.Duration("idle", c.idle))
			if err := c.Close(); err != nil {
				log.Logger.Debug("close idle connection", zap.String("conn", c.id), zap.Error(err))
			}
		case c.closed:
			r.conns.Remove(c)
		default:
			c.idle += r.interval
		}
	}
}
