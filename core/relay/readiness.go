package relay

import (
	"context"
	"fmt"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/sdrelay/sdrelay/core/infra/logging"
)

const (
	// The options endpoint is the cheapest call the API answers once it is up.
	probePath = "/sdapi/v1/options"

	defaultProbeInterval = 2 * time.Second
	perProbeTimeout      = 5 * time.Second

	// Only log every Nth failed probe so cold-start logs stay readable.
	probeLogEvery = 15
)

// Prober establishes upstream readiness by polling a cheap health probe.
// The confirmed-ready state is process-wide and set-once: the first probe
// to succeed wins and every later check is a cheap atomic load.
type Prober struct {
	url      string
	client   *http.Client
	interval time.Duration
	maxWait  time.Duration

	ready  atomic.Bool
	probes atomic.Int64
}

// NewProber builds a prober against the upstream base URL. interval and
// maxWait fall back to the documented defaults when non-positive.
func NewProber(baseURL string, interval, maxWait time.Duration) *Prober {
	if interval <= 0 {
		interval = defaultProbeInterval
	}
	if maxWait <= 0 {
		maxWait = 300 * time.Second
	}
	return &Prober{
		url:      baseURL + probePath,
		client:   &http.Client{Timeout: perProbeTimeout},
		interval: interval,
		maxWait:  maxWait,
	}
}

// Ready reports whether readiness has already been confirmed.
func (p *Prober) Ready() bool {
	return p.ready.Load()
}

// Probes returns the number of probe requests issued so far.
func (p *Prober) Probes() int64 {
	return p.probes.Load()
}

// WaitReady blocks until the upstream answers the health probe, the wait
// budget elapses (ErrReadinessTimeout), or ctx is cancelled. Exhausting the
// budget is non-terminal: the next job starts a fresh polling round. The
// returned duration is the time spent waiting.
func (p *Prober) WaitReady(ctx context.Context) (time.Duration, error) {
	if p.ready.Load() {
		return 0, nil
	}
	return p.poll(ctx)
}

// AwaitListening polls until the upstream answers again, ignoring the cached
// ready flag. Used after a refused connection, when the service was confirmed
// up once but is not accepting connections right now.
func (p *Prober) AwaitListening(ctx context.Context) (time.Duration, error) {
	return p.poll(ctx)
}

func (p *Prober) poll(ctx context.Context) (time.Duration, error) {
	start := time.Now()
	waitCtx, cancel := context.WithTimeout(ctx, p.maxWait)
	defer cancel()

	attempts := 0
	for {
		if p.probe(waitCtx) {
			// First confirmation wins; concurrent probers are no-ops here.
			if p.ready.CompareAndSwap(false, true) {
				logging.Info("probe", "upstream ready", "elapsed", time.Since(start).Round(time.Millisecond))
			}
			return time.Since(start), nil
		}
		attempts++
		if attempts%probeLogEvery == 0 {
			logging.Warn("probe", "service not ready yet, retrying", "attempts", attempts)
		}

		select {
		case <-waitCtx.Done():
			if ctx.Err() != nil {
				return time.Since(start), ctx.Err()
			}
			return time.Since(start), fmt.Errorf("%w: upstream not ready after %s", ErrReadinessTimeout, p.maxWait)
		case <-time.After(p.interval):
		}
	}
}

// probe counts as success on any completed HTTP exchange: a service that
// answers at all is accepting connections.
func (p *Prober) probe(ctx context.Context) bool {
	p.probes.Add(1)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.url, nil)
	if err != nil {
		return false
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return false
	}
	resp.Body.Close()
	return resp.StatusCode < http.StatusInternalServerError
}
