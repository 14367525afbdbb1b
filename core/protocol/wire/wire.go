// Package wire defines the JSON bus envelope exchanged between the relay
// worker and the invocation framework.
package wire

import (
	"encoding/json"
	"fmt"
	"time"
)

const (
	SubjectSubmit    = "job.sd.relay"
	SubjectResult    = "sys.job.result"
	SubjectHeartbeat = "sys.heartbeat"

	// DefaultProtocolVersion matches relay wire version 1.
	DefaultProtocolVersion = 1
)

// Job outcome statuses as they appear on the wire.
const (
	StatusSuccess = "success"
	StatusError   = "error"
)

// Error kinds carried in JobResult.Error. The kind tells the caller whether
// to fix the input, try again later, or report the upstream as broken.
const (
	KindValidationError     = "validation_error"
	KindUnknownOperation    = "unknown_operation"
	KindReadinessTimeout    = "readiness_timeout"
	KindUpstreamError       = "upstream_error"
	KindBadUpstreamResponse = "bad_upstream_response"
	KindConnectionError     = "connection_error"
	KindInternal            = "internal"
)

// Envelope wraps every packet on the bus. Exactly one payload field is set.
type Envelope struct {
	TraceID         string      `json:"trace_id,omitempty"`
	SenderID        string      `json:"sender_id,omitempty"`
	CreatedAt       time.Time   `json:"created_at"`
	ProtocolVersion int         `json:"protocol_version"`
	JobRequest      *JobRequest `json:"job_request,omitempty"`
	JobResult       *JobResult  `json:"job_result,omitempty"`
	Heartbeat       *Heartbeat  `json:"heartbeat,omitempty"`
}

// JobRequest is one invocation: an operation name plus its opaque input.
type JobRequest struct {
	JobID      string          `json:"job_id"`
	Operation  string          `json:"operation"`
	Input      json.RawMessage `json:"input,omitempty"`
	ReceivedAt time.Time       `json:"received_at,omitempty"`
}

// ErrorInfo describes a failed job in caller-actionable terms.
type ErrorInfo struct {
	Kind           string `json:"kind"`
	Message        string `json:"message,omitempty"`
	UpstreamStatus int    `json:"upstream_status,omitempty"`
}

// JobResult is the terminal outcome of a job. Status is success or error;
// Output carries the upstream body pass-through (object or array), either
// inline or behind ResultPtr when offloaded to the result store.
type JobResult struct {
	JobID       string          `json:"job_id"`
	Status      string          `json:"status"`
	Output      json.RawMessage `json:"output,omitempty"`
	Error       *ErrorInfo      `json:"error,omitempty"`
	ResultPtr   string          `json:"result_ptr,omitempty"`
	WorkerID    string          `json:"worker_id,omitempty"`
	ExecutionMs int64           `json:"execution_ms,omitempty"`
}

// Heartbeat advertises worker liveness and cached upstream readiness.
type Heartbeat struct {
	WorkerID   string `json:"worker_id"`
	ActiveJobs int32  `json:"active_jobs"`
	Ready      bool   `json:"upstream_ready"`
	Pool       string `json:"pool,omitempty"`
}

// Encode marshals an envelope for publishing.
func Encode(env *Envelope) ([]byte, error) {
	if env == nil {
		return nil, fmt.Errorf("nil envelope")
	}
	if env.ProtocolVersion == 0 {
		env.ProtocolVersion = DefaultProtocolVersion
	}
	if env.CreatedAt.IsZero() {
		env.CreatedAt = time.Now().UTC()
	}
	return json.Marshal(env)
}

// Decode unmarshals an envelope received from the bus.
func Decode(data []byte) (*Envelope, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("empty packet")
	}
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("decode envelope: %w", err)
	}
	return &env, nil
}

// Succeeded reports whether the result carries a success status.
func (r *JobResult) Succeeded() bool {
	return r != nil && r.Status == StatusSuccess
}
