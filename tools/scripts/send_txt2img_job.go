// Publishes a sample txt2img job on the bus and subscribes for its result.
// Useful for smoke-testing a running relay worker end to end.
package main

import (
	"encoding/json"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/sdrelay/sdrelay/core/infra/bus"
	"github.com/sdrelay/sdrelay/core/infra/config"
	"github.com/sdrelay/sdrelay/core/protocol/wire"
)

func main() {
	cfg := config.Load()

	natsBus, err := bus.NewNatsBus(cfg.NatsURL)
	if err != nil {
		log.Fatalf("failed to connect to NATS: %v", err)
	}
	defer natsBus.Close()

	jobID := uuid.NewString()
	traceID := uuid.NewString()

	done := make(chan *wire.JobResult, 1)
	err = natsBus.Subscribe(wire.SubjectResult, "", func(env *wire.Envelope) {
		res := env.JobResult
		if res == nil || res.JobID != jobID {
			return
		}
		done <- res
	})
	if err != nil {
		log.Fatalf("failed to subscribe for results: %v", err)
	}

	input, err := json.Marshal(map[string]any{
		"prompt":          "a lighthouse on a cliff at sunset, oil painting",
		"negative_prompt": "blurry, low quality",
		"steps":           20,
		"width":           512,
		"height":          512,
		"cfg_scale":       7,
	})
	if err != nil {
		log.Fatalf("failed to marshal input: %v", err)
	}

	env := &wire.Envelope{
		TraceID:  traceID,
		SenderID: "job-sender",
		JobRequest: &wire.JobRequest{
			JobID:      jobID,
			Operation:  "txt2img",
			Input:      input,
			ReceivedAt: time.Now().UTC(),
		},
	}
	if err := natsBus.Publish(wire.SubjectSubmit, env); err != nil {
		log.Fatalf("failed to publish job: %v", err)
	}
	log.Printf("sent job job_id=%s trace_id=%s, waiting for result...", jobID, traceID)

	select {
	case res := <-done:
		if res.Succeeded() {
			log.Printf("job succeeded job_id=%s result_ptr=%q inline_bytes=%d execution_ms=%d",
				res.JobID, res.ResultPtr, len(res.Output), res.ExecutionMs)
		} else {
			log.Printf("job failed job_id=%s kind=%s message=%q upstream_status=%d",
				res.JobID, res.Error.Kind, res.Error.Message, res.Error.UpstreamStatus)
		}
	case <-time.After(15 * time.Minute):
		log.Fatalf("timed out waiting for result of job_id=%s", jobID)
	}
}
