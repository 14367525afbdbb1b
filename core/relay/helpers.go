package relay

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"
	"os"
	"path/filepath"

	"github.com/sdrelay/sdrelay/core/infra/config"
	"github.com/sdrelay/sdrelay/core/infra/logging"
	"github.com/sdrelay/sdrelay/core/protocol/wire"
)

const (
	defaultHFEndpoint = "https://huggingface.co"
	envHFEndpoint     = "HF_ENDPOINT"
)

// Helpers executes the local auxiliary operations that do not proxy to the
// generation service: asset download and Hugging Face model sync.
type Helpers struct {
	client   *http.Client
	hfBase   string
	timeouts *config.TimeoutsConfig
}

// NewHelpers builds the helper executor. HF_ENDPOINT overrides the Hugging
// Face API host (mirrors, tests).
func NewHelpers(timeouts *config.TimeoutsConfig) *Helpers {
	hfBase := os.Getenv(envHFEndpoint)
	if hfBase == "" {
		hfBase = defaultHFEndpoint
	}
	return &Helpers{
		client:   &http.Client{},
		hfBase:   hfBase,
		timeouts: timeouts,
	}
}

type downloadInput struct {
	FileURL  string `json:"file_url"`
	FileName string `json:"file_name"`
	FilePath string `json:"file_path"`
}

type downloadOutput struct {
	Status     string  `json:"status"`
	Message    string  `json:"message"`
	FilePath   string  `json:"file_path"`
	FileSizeMB float64 `json:"file_size_mb"`
}

type syncInput struct {
	ModelID     string `json:"model_id"`
	AccessToken string `json:"access_token"`
}

type hfRepoInfo struct {
	ID        string `json:"id"`
	Private   bool   `json:"private"`
	Downloads int64  `json:"downloads"`
	Likes     int64  `json:"likes"`
}

type syncOutput struct {
	Status    string     `json:"status"`
	Message   string     `json:"message"`
	ModelInfo hfRepoInfo `json:"model_info"`
}

// Run executes a local helper operation and returns its output payload.
func (h *Helpers) Run(ctx context.Context, spec EndpointSpec, payload json.RawMessage) (json.RawMessage, error) {
	opCtx, cancel := context.WithTimeout(ctx, h.timeouts.For(spec.Operation))
	defer cancel()

	switch spec.Operation {
	case "download":
		return h.download(opCtx, payload)
	case "sync":
		return h.sync(opCtx, payload)
	default:
		return nil, fmt.Errorf("%w: no helper for %q", ErrUnknownOperation, spec.Operation)
	}
}

func (h *Helpers) download(ctx context.Context, payload json.RawMessage) (json.RawMessage, error) {
	var in downloadInput
	if err := json.Unmarshal(payload, &in); err != nil {
		return nil, &Failure{Kind: wire.KindValidationError, Message: fmt.Sprintf("decode download input: %v", err)}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, in.FileURL, nil)
	if err != nil {
		return nil, &Failure{Kind: wire.KindValidationError, Message: fmt.Sprintf("invalid file_url: %v", err)}
	}
	resp, err := h.client.Do(req)
	if err != nil {
		return nil, classifyTransportError(err, 0)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return nil, &Failure{
			Kind:           wire.KindUpstreamError,
			Message:        fmt.Sprintf("download of %s failed", in.FileURL),
			UpstreamStatus: resp.StatusCode,
		}
	}

	if err := os.MkdirAll(in.FilePath, 0o755); err != nil {
		return nil, &Failure{Kind: wire.KindUpstreamError, Message: fmt.Sprintf("create target directory: %v", err)}
	}
	location := filepath.Join(in.FilePath, in.FileName)
	out, err := os.Create(location)
	if err != nil {
		return nil, &Failure{Kind: wire.KindUpstreamError, Message: fmt.Sprintf("create target file: %v", err)}
	}
	written, err := io.Copy(out, resp.Body)
	closeErr := out.Close()
	if err != nil {
		return nil, &Failure{Kind: wire.KindUpstreamError, Message: fmt.Sprintf("write %s: %v", location, err)}
	}
	if closeErr != nil {
		return nil, &Failure{Kind: wire.KindUpstreamError, Message: fmt.Sprintf("close %s: %v", location, closeErr)}
	}

	sizeMB := math.Round(float64(written)/(1024*1024)*100) / 100
	logging.Info("helper", "downloaded file", "name", in.FileName, "size_mb", sizeMB)

	return json.Marshal(downloadOutput{
		Status:     "success",
		Message:    fmt.Sprintf("File %s downloaded successfully", in.FileName),
		FilePath:   location,
		FileSizeMB: sizeMB,
	})
}

func (h *Helpers) sync(ctx context.Context, payload json.RawMessage) (json.RawMessage, error) {
	var in syncInput
	if err := json.Unmarshal(payload, &in); err != nil {
		return nil, &Failure{Kind: wire.KindValidationError, Message: fmt.Sprintf("decode sync input: %v", err)}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, h.hfBase+"/api/models/"+in.ModelID, nil)
	if err != nil {
		return nil, &Failure{Kind: wire.KindValidationError, Message: fmt.Sprintf("invalid model_id: %v", err)}
	}
	if in.AccessToken != "" {
		req.Header.Set("Authorization", "Bearer "+in.AccessToken)
	}
	resp, err := h.client.Do(req)
	if err != nil {
		return nil, classifyTransportError(err, 0)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return nil, &Failure{
			Kind:           wire.KindUpstreamError,
			Message:        fmt.Sprintf("model %s lookup failed", in.ModelID),
			UpstreamStatus: resp.StatusCode,
		}
	}

	var info hfRepoInfo
	if err := json.NewDecoder(resp.Body).Decode(&info); err != nil {
		return nil, fmt.Errorf("%w: decode model info: %v", ErrBadUpstreamResponse, err)
	}
	if info.Private {
		return nil, &Failure{Kind: wire.KindUpstreamError, Message: fmt.Sprintf("model %s is private", in.ModelID)}
	}

	logging.Info("helper", "synced model metadata", "model_id", in.ModelID)
	return json.Marshal(syncOutput{
		Status:    "success",
		Message:   fmt.Sprintf("Model %s synced successfully", in.ModelID),
		ModelInfo: info,
	})
}
