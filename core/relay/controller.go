package relay

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/sdrelay/sdrelay/core/infra/logging"
	"github.com/sdrelay/sdrelay/core/infra/metrics"
	"github.com/sdrelay/sdrelay/core/protocol/wire"
)

// Job is one unit of work handed to the controller.
type Job struct {
	ID         string
	Operation  string
	Input      json.RawMessage
	ReceivedAt time.Time
}

// Controller drives a job from receipt to a terminal result: resolve the
// endpoint, validate the payload, wait for upstream readiness, dispatch, and
// normalize. Every path produces a JobResult; the controller never panics a
// job away silently.
type Controller struct {
	prober  *Prober
	client  *Client
	helpers *Helpers
	metrics metrics.Metrics
}

// NewController wires a controller. A nil metrics sink falls back to Noop.
func NewController(prober *Prober, client *Client, helpers *Helpers, m metrics.Metrics) *Controller {
	if m == nil {
		m = metrics.Noop{}
	}
	return &Controller{prober: prober, client: client, helpers: helpers, metrics: m}
}

// Process executes one job to completion and always returns a result.
func (c *Controller) Process(ctx context.Context, job Job) *wire.JobResult {
	c.metrics.IncJobsReceived(job.Operation)
	started := time.Now()

	res := c.run(ctx, job)
	res.JobID = job.ID
	res.ExecutionMs = time.Since(started).Milliseconds()

	c.metrics.IncJobsCompleted(job.Operation, res.Status)
	if res.Error != nil {
		c.metrics.IncFailures(job.Operation, res.Error.Kind)
		logging.Error("controller", "job failed", "job_id", job.ID, "operation", job.Operation, "kind", res.Error.Kind, "error", res.Error.Message)
	} else {
		logging.Info("controller", "job completed", "job_id", job.ID, "operation", job.Operation, "took_ms", res.ExecutionMs)
	}
	return res
}

func (c *Controller) run(ctx context.Context, job Job) *wire.JobResult {
	spec, err := Lookup(job.Operation)
	if err != nil {
		return failed(err)
	}

	fieldErrs, err := Validate(spec, job.Input)
	if err != nil {
		return failed(err)
	}
	if len(fieldErrs) > 0 {
		return failed(ValidationFailure(fieldErrs))
	}

	// Local helpers never touch the generation service, so its readiness is
	// irrelevant to them.
	if spec.Local {
		out, err := c.helpers.Run(ctx, spec, job.Input)
		if err != nil {
			return failed(err)
		}
		return &wire.JobResult{Status: wire.StatusSuccess, Output: out}
	}

	if !c.prober.Ready() {
		waited, err := c.prober.WaitReady(ctx)
		c.metrics.ObserveReadinessWait(waited.Seconds())
		if err != nil {
			return failed(err)
		}
	}

	resp, err := c.dispatch(ctx, spec, job.Input)
	if err != nil {
		return failed(err)
	}
	c.metrics.ObserveUpstreamLatency(job.Operation, resp.Elapsed.Seconds())

	return Normalize(job.ID, resp)
}

// dispatch performs the upstream call. A refused connection means the service
// dropped between the readiness check and the request; it gets exactly one
// pass back through the polling phase before the job fails for good.
func (c *Controller) dispatch(ctx context.Context, spec EndpointSpec, payload json.RawMessage) (*UpstreamResponse, error) {
	resp, err := c.client.Do(ctx, spec, payload)
	if err == nil || !errors.Is(err, ErrConnRefused) {
		return resp, err
	}

	logging.Warn("controller", "upstream refused connection, re-checking readiness", "operation", spec.Operation)
	if _, werr := c.prober.AwaitListening(ctx); werr != nil {
		return nil, werr
	}
	return c.client.Do(ctx, spec, payload)
}

func failed(err error) *wire.JobResult {
	return &wire.JobResult{Status: wire.StatusError, Error: failureFor(err)}
}
