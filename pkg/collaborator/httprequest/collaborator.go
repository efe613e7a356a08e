// Package httprequest provides a collaborator that forwards job payloads to
// an external HTTP endpoint, e.g. a publishing API or content generator.
package httprequest

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/brandkit/conveyor/pkg/collaborator"
	"github.com/brandkit/conveyor/pkg/models"
	"github.com/brandkit/conveyor/pkg/retry"
)

const defaultTimeout = 30 * time.Second

// IdempotencyKeyHeader carries the job's idempotency key to the remote
// endpoint, which must de-duplicate on it.
const IdempotencyKeyHeader = "X-Idempotency-Key"

type Collaborator struct {
	kind    string
	url     string
	headers map[string]string
	client  *http.Client
	logger  *slog.Logger
}

// New creates an HTTP collaborator posting payloads of the given kind to url.
func New(kind, url string, headers map[string]string, logger *slog.Logger) *Collaborator {
	return &Collaborator{
		kind:    kind,
		url:     url,
		headers: headers,
		client:  &http.Client{Timeout: defaultTimeout},
		logger:  logger.With("module", "httprequest_collaborator", "kind", kind, "url", url),
	}
}

func (c *Collaborator) Kind() string {
	return c.kind
}

func (c *Collaborator) Invoke(ctx context.Context, payload models.JobPayload) (*collaborator.Result, error) {
	body, err := json.Marshal(payload.Data)
	if err != nil {
		return nil, retry.Fatal(fmt.Errorf("failed to marshal payload data: %w", err))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return nil, retry.Fatal(fmt.Errorf("failed to build request: %w", err))
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(IdempotencyKeyHeader, payload.IdempotencyKey)

	for k, v := range c.headers {
		req.Header.Set(k, v)
	}

	c.logger.InfoContext(ctx, "Invoking HTTP collaborator",
		"idempotency_key", payload.IdempotencyKey)

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		output := map[string]any{
			"status_code": resp.StatusCode,
		}

		var parsed map[string]any
		if json.Unmarshal(respBody, &parsed) == nil {
			output["body"] = parsed
		}

		return &collaborator.Result{Output: output}, nil
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		// Rate limits and server errors are transient.
		return nil, fmt.Errorf("endpoint returned status %d", resp.StatusCode)
	default:
		// 4xx means the payload itself is wrong; retrying cannot help.
		return nil, retry.Fatal(fmt.Errorf("endpoint rejected request with status %d", resp.StatusCode))
	}
}
