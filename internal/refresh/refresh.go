// Package refresh implements the periodic re-resolution of the live
// config-server fleet.
package refresh

import (
	"context"
	"time"

	"github.com/apollo-client-go/apollo-client-go/internal/metaserver"
	"github.com/lalamove/nui/nlogger"
)

const (
	// Grace is the delay before the first refresh tick.
	Grace = 5 * time.Second
	// Interval is the steady-state tick cadence.
	Interval = 30 * time.Second
)

// Timer periodically re-runs the Meta-Server Resolver and reports
// non-empty results through onResolve. Resolution failures or empty
// results are logged and leave the previous list untouched.
type Timer struct {
	resolver  *metaserver.Resolver
	onResolve func([]string)
	log       nlogger.Provider
	grace     time.Duration
	interval  time.Duration
}

// New creates a Timer with the spec-mandated 5s grace / 30s cadence.
func New(resolver *metaserver.Resolver, onResolve func([]string), log nlogger.Provider) *Timer {
	return &Timer{resolver: resolver, onResolve: onResolve, log: log, grace: Grace, interval: Interval}
}

// Run ticks until stop is closed. stop only gates the wait between
// ticks: a resolution fan-out already in flight when stop closes is
// left to complete or to be dropped by its own per-call request
// timeout, never aborted mid-flight.
func (t *Timer) Run(stop <-chan struct{}) error {
	timer := time.NewTimer(t.grace)
	defer timer.Stop()

	for {
		select {
		case <-stop:
			return nil
		case <-timer.C:
		}

		servers, err := t.resolver.Resolve(context.Background(), metaserver.ConfigServer)
		if err != nil {
			t.log.Get().Warn("refresh: meta-server resolution failed: " + err.Error())
		} else if len(servers) == 0 {
			t.log.Get().Warn("refresh: meta-server resolution returned no config servers, keeping previous list")
		} else {
			t.onResolve(servers)
		}

		timer.Reset(t.interval)
	}
}
