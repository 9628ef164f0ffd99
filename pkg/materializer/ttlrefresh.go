package materializer

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/cuemby/anvil/pkg/log"
)

// startTTLRefresh schedules the periodic CAS TTL-refresh task (spec
// section 4.6, "TTL refresh: a periodic task extends the CAS TTL of every
// Materialized CAS-backed artifact so long-running builds don't lose their
// blobs to CAS garbage collection mid-build"). schedule is a standard cron
// expression; an empty schedule disables the task entirely.
func (m *Materializer) startTTLRefresh(schedule string) {
	if schedule == "" || m.cfg.CAS == nil {
		return
	}
	m.cron = cron.New()
	_, err := m.cron.AddFunc(schedule, m.refreshTTLs)
	if err != nil {
		log.WithComponent("materializer").Error().Err(err).Str("schedule", schedule).Msg("invalid TTL refresh schedule, refresh disabled")
		m.cron = nil
		return
	}
	m.cron.Start()
}

// refreshTTLs runs one refresh pass. Only one pass is ever in flight at a
// time: a pass still running when the next tick fires is skipped rather
// than queued, since a refresh that hasn't finished means the previous
// TTL extension is still good.
func (m *Materializer) refreshTTLs() {
	if !m.refreshing.CompareAndSwap(false, true) {
		return
	}
	defer m.refreshing.Store(false)

	digests := m.collectCASDigests()
	if len(digests) == 0 {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	logger := log.WithComponent("materializer")
	if _, err := m.cfg.CAS.RefreshTTL(ctx, digests); err != nil {
		logger.Warn().Err(err).Int("count", len(digests)).Msg("CAS TTL refresh failed")
		return
	}
	logger.Debug().Int("count", len(digests)).Msg("CAS TTL refresh completed")
}

func (m *Materializer) collectCASDigests() []Digest {
	var digests []Digest
	m.q.runHigh(func() {
		for _, ps := range m.paths {
			if ps.kind != stateMaterialized || !ps.active {
				continue
			}
			switch ps.entry.Method.Kind {
			case MethodCASDownload, MethodCASTree:
				digests = append(digests, ps.entry.Method.Digest)
			}
		}
	})
	return digests
}
