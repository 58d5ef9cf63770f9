package inference

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"go.uber.org/zap"
)

type predictRequest struct {
	Image string `json:"image"`
}

type predictResponse struct {
	ProbabilityReal *float64 `json:"probability_real"`
}

// HTTPClient calls an /invocations style JSON endpoint.
type HTTPClient struct {
	url    string
	client *http.Client
	logger *zap.Logger
}

// NewHTTPClient returns a client posting to url. Deadlines come from the
// caller's context.
func NewHTTPClient(url string, httpClient *http.Client, logger *zap.Logger) *HTTPClient {
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	return &HTTPClient{url: url, client: httpClient, logger: logger.Named("inference_http")}
}

// Predict sends the base64 encoded image and decodes probability_real.
func (c *HTTPClient) Predict(ctx context.Context, image []byte) (*Result, error) {
	body, err := json.Marshal(predictRequest{Image: base64.StdEncoding.EncodeToString(image)})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		c.logger.Warn("inference request failed", zap.Error(err))
		return nil, classifyTransportError(err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return nil, fmt.Errorf("%w: status %d", ErrUnavailable, resp.StatusCode)
	case resp.StatusCode >= 400:
		return nil, fmt.Errorf("%w: status %d", ErrRejected, resp.StatusCode)
	case resp.StatusCode != http.StatusOK:
		return nil, fmt.Errorf("%w: status %d", ErrInvalidResponse, resp.StatusCode)
	}

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, classifyTransportError(err)
	}
	return decodeResponse(payload)
}

func decodeResponse(payload []byte) (*Result, error) {
	var out predictResponse
	dec := json.NewDecoder(bytes.NewReader(payload))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&out); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidResponse, err)
	}
	if out.ProbabilityReal == nil {
		return nil, fmt.Errorf("%w: missing probability_real", ErrInvalidResponse)
	}
	return ValidateProbability(*out.ProbabilityReal)
}

// classifyTransportError treats every transport failure as retryable except
// cancellation by the caller.
func classifyTransportError(err error) error {
	if errors.Is(err, context.Canceled) {
		return err
	}
	return fmt.Errorf("%w: %v", ErrUnavailable, err)
}
