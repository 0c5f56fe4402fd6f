package responder

import (
	"log/slog"
	"sync"
	"time"
)

// DefaultReloadInterval gates how often the plugin directory is re-counted.
const DefaultReloadInterval = 5 * time.Second

// ReloadMonitor triggers a registry reload when the on-disk candidate
// count diverges from the loaded responder count.
//
// The check is deliberately coarse: it runs at most once per interval and
// compares counts only, so a same-count replacement (one file removed,
// another added between checks) or an in-place edit goes undetected until
// the next structural count change.
type ReloadMonitor struct {
	registry *Registry
	interval time.Duration
	log      *slog.Logger
	now      func() time.Time

	mu        sync.Mutex
	lastCheck time.Time
}

func NewReloadMonitor(registry *Registry, interval time.Duration, log *slog.Logger) *ReloadMonitor {
	if interval <= 0 {
		interval = DefaultReloadInterval
	}
	if log == nil {
		log = slog.Default()
	}

	m := &ReloadMonitor{
		registry: registry,
		interval: interval,
		log:      log.With("component", "responder.monitor"),
		now:      time.Now,
	}
	m.lastCheck = m.now()

	return m
}

// Check runs the time-gated reload heuristic. Called once per inbound
// message; it never propagates an error into the message path.
func (m *ReloadMonitor) Check() {
	now := m.now()

	m.mu.Lock()
	if now.Sub(m.lastCheck) <= m.interval {
		m.mu.Unlock()
		return
	}
	m.lastCheck = now
	m.mu.Unlock()

	onDisk, err := m.registry.CandidateCount()
	if err != nil {
		m.log.Warn("skipping responder reload check", "error", err)
		return
	}

	loaded := m.registry.Count()
	if onDisk == loaded {
		return
	}

	m.log.Info("responder directory changed, reloading", "loaded", loaded, "on_disk", onDisk)
	if err := m.registry.Reload(); err != nil {
		m.log.Warn("responder reload failed", "error", err)
		return
	}
	m.log.Info("responders reloaded", "before", loaded, "after", m.registry.Count())
}
