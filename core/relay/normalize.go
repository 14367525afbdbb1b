package relay

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/sdrelay/sdrelay/core/infra/logging"
	"github.com/sdrelay/sdrelay/core/protocol/wire"
)

// upstreamError is the error shape the generation API uses; FastAPI-style
// services put the message under either "error" or "detail".
type upstreamError struct {
	Error  string          `json:"error"`
	Detail json.RawMessage `json:"detail"`
}

// Normalize converts an upstream response into the terminal job result.
// 2xx bodies pass through unchanged (callers expect the native response
// shape, objects and arrays alike); non-2xx become upstream_error with the
// service's own message preserved; unparseable 2xx bodies are a contract
// violation, never silently treated as success.
func Normalize(jobID string, resp *UpstreamResponse) *wire.JobResult {
	if resp.Status >= 200 && resp.Status < 300 {
		body := bytes.TrimSpace(resp.Body)
		if len(body) == 0 {
			body = []byte("null")
		}
		if !json.Valid(body) {
			logging.Error("normalize", "unparseable success body from upstream", "job_id", jobID, "status", resp.Status, "bytes", len(resp.Body))
			return &wire.JobResult{
				JobID:  jobID,
				Status: wire.StatusError,
				Error: &wire.ErrorInfo{
					Kind:           wire.KindBadUpstreamResponse,
					Message:        "upstream returned a non-JSON body on success",
					UpstreamStatus: resp.Status,
				},
			}
		}
		return &wire.JobResult{JobID: jobID, Status: wire.StatusSuccess, Output: json.RawMessage(body)}
	}

	return &wire.JobResult{
		JobID:  jobID,
		Status: wire.StatusError,
		Error: &wire.ErrorInfo{
			Kind:           wire.KindUpstreamError,
			Message:        upstreamMessage(resp),
			UpstreamStatus: resp.Status,
		},
	}
}

func upstreamMessage(resp *UpstreamResponse) string {
	var ue upstreamError
	if err := json.Unmarshal(resp.Body, &ue); err == nil {
		if ue.Error != "" {
			return ue.Error
		}
		if len(ue.Detail) > 0 {
			var s string
			if err := json.Unmarshal(ue.Detail, &s); err == nil && s != "" {
				return s
			}
			return string(ue.Detail)
		}
	}
	return fmt.Sprintf("upstream returned status %d", resp.Status)
}
