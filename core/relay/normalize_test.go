package relay

import (
	"net/http"
	"testing"

	"github.com/sdrelay/sdrelay/core/protocol/wire"
)

func TestNormalizeSuccessPassthrough(t *testing.T) {
	cases := []struct {
		name string
		body string
	}{
		{"object", `{"images":["aGk="],"info":"{}"}`},
		{"array", `[{"name":"Euler a"},{"name":"DPM++ 2M"}]`},
		{"nested", `{"options":{"sd_model_checkpoint":"v1-5"}}`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			res := Normalize("job-1", &UpstreamResponse{Status: http.StatusOK, Body: []byte(tc.body)})
			if res.Status != wire.StatusSuccess {
				t.Fatalf("status %q, error %+v", res.Status, res.Error)
			}
			if string(res.Output) != tc.body {
				t.Fatalf("body altered: %s", res.Output)
			}
		})
	}
}

func TestNormalizeEmptySuccessBody(t *testing.T) {
	res := Normalize("job-1", &UpstreamResponse{Status: http.StatusOK, Body: nil})
	if res.Status != wire.StatusSuccess {
		t.Fatalf("status %q", res.Status)
	}
	if string(res.Output) != "null" {
		t.Fatalf("empty body must normalize to null, got %s", res.Output)
	}
}

func TestNormalizeUnparseableSuccessBody(t *testing.T) {
	res := Normalize("job-1", &UpstreamResponse{Status: http.StatusOK, Body: []byte("<html>oops</html>")})
	if res.Status != wire.StatusError {
		t.Fatal("non-JSON success body must not pass as success")
	}
	if res.Error.Kind != wire.KindBadUpstreamResponse {
		t.Fatalf("kind %q", res.Error.Kind)
	}
}

func TestNormalizeUpstreamErrorMessages(t *testing.T) {
	cases := []struct {
		name    string
		status  int
		body    string
		wantMsg string
	}{
		{"error field", 500, `{"error":"CUDA out of memory"}`, "CUDA out of memory"},
		{"detail string", 422, `{"detail":"value is not a valid float"}`, "value is not a valid float"},
		{"detail object", 422, `{"detail":[{"loc":["steps"]}]}`, `[{"loc":["steps"]}]`},
		{"plain text", 404, `not found`, "upstream returned status 404"},
		{"empty", 503, ``, "upstream returned status 503"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			res := Normalize("job-1", &UpstreamResponse{Status: tc.status, Body: []byte(tc.body)})
			if res.Status != wire.StatusError {
				t.Fatalf("status %q", res.Status)
			}
			if res.Error.Kind != wire.KindUpstreamError {
				t.Fatalf("kind %q", res.Error.Kind)
			}
			if res.Error.UpstreamStatus != tc.status {
				t.Fatalf("upstream status %d", res.Error.UpstreamStatus)
			}
			if res.Error.Message != tc.wantMsg {
				t.Fatalf("message %q, want %q", res.Error.Message, tc.wantMsg)
			}
		})
	}
}
