package undo

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"
)

// HTTPReverser cancels remote side effects by POSTing to the undo endpoint
// recorded in the operation's undo data.
type HTTPReverser struct {
	client *http.Client
	logger *zap.Logger
}

// NewHTTPReverser creates a reverser. A nil client gets a 10s-timeout default.
func NewHTTPReverser(client *http.Client, logger *zap.Logger) *HTTPReverser {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &HTTPReverser{client: client, logger: logger}
}

// Reverse posts the remote id to the endpoint. Any non-2xx response is a
// failure so the retry policy can decide whether to try again.
func (r *HTTPReverser) Reverse(ctx context.Context, endpoint, remoteID string) error {
	body, err := json.Marshal(map[string]string{"remoteId": remoteID})
	if err != nil {
		return fmt.Errorf("encode reversal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build reversal request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := r.client.Do(req)
	if err != nil {
		return fmt.Errorf("call reversal endpoint %s: %w", endpoint, err)
	}
	defer func() {
		io.Copy(io.Discard, resp.Body)
		resp.Body.Close()
	}()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("reversal endpoint %s returned %d", endpoint, resp.StatusCode)
	}

	r.logger.Debug("remote operation reversed",
		zap.String("endpoint", endpoint),
		zap.String("remote_id", remoteID))
	return nil
}
