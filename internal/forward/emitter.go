package forward

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/splax/routedev/internal/domain"
)

const (
	// IngestPath is the endpoint of a devtools server accepting event batches.
	IngestPath = "/__devtools/ingest"
	// TokenHeader carries the shared ingest secret.
	TokenHeader = "X-Devtools-Token"

	defaultTimeout   = 5 * time.Second
	maxErrorBodySize = 4096
)

// ErrUnauthorized indicates the devtools server rejected the ingest token.
var ErrUnauthorized = errors.New("forward: ingest unauthorized")

// ErrInvalidArgument indicates the devtools server rejected the batch.
var ErrInvalidArgument = errors.New("forward: invalid event batch")

// Emitter posts event batches to a remote devtools server.
type Emitter struct {
	baseURL string
	token   string
	client  *http.Client
}

// NewEmitter creates an emitter for the devtools server at baseURL.
func NewEmitter(baseURL, token string, client *http.Client) (*Emitter, error) {
	trimmed := strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if trimmed == "" {
		return nil, errors.New("forward: base url required")
	}
	if client == nil {
		client = &http.Client{Timeout: defaultTimeout}
	} else if client.Timeout == 0 {
		client.Timeout = defaultTimeout
	}
	return &Emitter{
		baseURL: trimmed,
		token:   strings.TrimSpace(token),
		client:  client,
	}, nil
}

// Emit sends events in one request. An empty batch is a no-op.
func (e *Emitter) Emit(ctx context.Context, events []domain.Event) error {
	if len(events) == 0 {
		return nil
	}
	body, err := json.Marshal(events)
	if err != nil {
		return fmt.Errorf("marshal event batch: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.baseURL+IngestPath, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build ingest request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if e.token != "" {
		req.Header.Set(TokenHeader, e.token)
	}
	resp, err := e.client.Do(req)
	if err != nil {
		return fmt.Errorf("send ingest request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= http.StatusBadRequest {
		return errorForStatus(resp)
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

func errorForStatus(resp *http.Response) error {
	buf, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodySize))
	summary := strings.TrimSpace(string(buf))
	if summary == "" {
		summary = resp.Status
	}
	switch resp.StatusCode {
	case http.StatusUnauthorized, http.StatusForbidden:
		return fmt.Errorf("%w: %s", ErrUnauthorized, summary)
	case http.StatusBadRequest, http.StatusRequestEntityTooLarge:
		return fmt.Errorf("%w: %s", ErrInvalidArgument, summary)
	default:
		return fmt.Errorf("forward: ingest failed: %s", summary)
	}
}
