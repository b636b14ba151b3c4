// Package remote runs the classifier on an external inference service over HTTP.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"medscan-go/config"
	"medscan-go/internal/core/vision"

	log "github.com/sirupsen/logrus"
)

// PredictRequest is the body sent to POST {base}/predict.
type PredictRequest struct {
	Shape []int     `json:"shape"`
	Data  []float32 `json:"data"`
}

// PredictResponse is the expected answer.
type PredictResponse struct {
	Probabilities []float64 `json:"probabilities"`
}

// Classifier delegates inference to a remote model server.
type Classifier struct {
	baseURL    string
	httpClient *http.Client
}

// Load checks the service health and returns a ready classifier. Any failure
// is reported as vision.ErrModelLoad.
func Load(ctx context.Context, cfg config.ModelConfig) (*Classifier, error) {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	c := &Classifier{
		baseURL:    cfg.RemoteURL,
		httpClient: &http.Client{Timeout: timeout},
	}
	if err := c.Ping(ctx); err != nil {
		return nil, fmt.Errorf("%w: %v", vision.ErrModelLoad, err)
	}
	log.Infof("Remote classifier available at %s", cfg.RemoteURL)
	return c, nil
}

// Ping checks GET {base}/health.
func (c *Classifier) Ping(ctx context.Context) error {
	apiURL, err := url.JoinPath(c.baseURL, "health")
	if err != nil {
		return fmt.Errorf("failed to create health URL: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, apiURL, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("inference service unreachable: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("inference service unhealthy: %d", resp.StatusCode)
	}
	return nil
}

// Infer posts the tensor and returns the probability vector.
func (c *Classifier) Infer(ctx context.Context, input vision.Tensor) ([]float64, error) {
	if !input.IsInput() {
		return nil, fmt.Errorf("%w: unexpected input shape %v", vision.ErrInference, input.Shape)
	}

	apiURL, err := url.JoinPath(c.baseURL, "predict")
	if err != nil {
		return nil, fmt.Errorf("%w: %v", vision.ErrInference, err)
	}
	body, err := json.Marshal(PredictRequest{Shape: input.Shape, Data: input.Data})
	if err != nil {
		return nil, fmt.Errorf("%w: encode request: %v", vision.ErrInference, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, apiURL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", vision.ErrInference, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: send request: %v", vision.ErrInference, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("%w: status %d: %s", vision.ErrInference, resp.StatusCode, bytes.TrimSpace(msg))
	}

	var result PredictResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("%w: decode response: %v", vision.ErrInference, err)
	}
	return result.Probabilities, nil
}

// Close releases idle connections.
func (c *Classifier) Close() error {
	c.httpClient.CloseIdleConnections()
	return nil
}
