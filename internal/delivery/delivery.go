// Package delivery implements the check-in delivery contract over HTTP.
//
// One attempt maps to one POST of the artifact JSON. The server's
// answer classifies into the queue's three outcomes: 2xx is synced, 4xx
// is an explicit rejection, and everything transient (5xx, timeouts,
// connection errors) is inconclusive and left to the backoff schedule.
// The deliverer applies no timeout of its own beyond the HTTP client's.
package delivery

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"checkind/internal/logging"
	"checkind/internal/syncqueue"
)

// artifactSchema validates an artifact payload before it leaves the
// device. A payload that cannot pass its own schema will never be
// accepted server-side, so schema failure is a terminal rejection.
const artifactSchema = `{
	"$schema": "https://json-schema.org/draft/2020-12/schema",
	"type": "object",
	"required": ["id", "payload_ref", "captured_at_ms"],
	"properties": {
		"id": {"type": "string", "minLength": 1},
		"payload_ref": {"type": "string", "minLength": 1},
		"captured_at_ms": {"type": "integer", "minimum": 0},
		"metadata": {
			"type": "object",
			"additionalProperties": {"type": "string"}
		}
	}
}`

// DefaultTimeout bounds one HTTP delivery attempt.
const DefaultTimeout = 30 * time.Second

// HTTPDeliverer posts artifacts to a check-in endpoint.
type HTTPDeliverer struct {
	endpoint string
	client   *http.Client
	schema   *jsonschema.Schema
	log      *logging.Logger
}

// NewHTTP creates a deliverer for the given endpoint URL.
func NewHTTP(endpoint string, timeout time.Duration, log *logging.Logger) (*HTTPDeliverer, error) {
	if endpoint == "" {
		return nil, fmt.Errorf("delivery endpoint not configured")
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if log == nil {
		log = logging.Default().WithComponent("delivery")
	}

	schema, err := jsonschema.CompileString("artifact.schema.json", artifactSchema)
	if err != nil {
		return nil, fmt.Errorf("compile artifact schema: %w", err)
	}

	return &HTTPDeliverer{
		endpoint: endpoint,
		client:   &http.Client{Timeout: timeout},
		schema:   schema,
		log:      log,
	}, nil
}

// Deliver performs one delivery attempt.
func (d *HTTPDeliverer) Deliver(ctx context.Context, artifact syncqueue.Artifact) (syncqueue.Outcome, error) {
	body, err := json.Marshal(artifact)
	if err != nil {
		return syncqueue.OutcomeFailed, fmt.Errorf("encode artifact: %w", err)
	}

	var doc any
	if err := json.Unmarshal(body, &doc); err != nil {
		return syncqueue.OutcomeFailed, fmt.Errorf("decode artifact for validation: %w", err)
	}
	if err := d.schema.Validate(doc); err != nil {
		d.log.Error("artifact failed schema validation", "id", artifact.ID, "error", err)
		return syncqueue.OutcomeFailed, nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.endpoint, bytes.NewReader(body))
	if err != nil {
		return syncqueue.OutcomeInconclusive, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := d.client.Do(req)
	if err != nil {
		// Network-level failure: transient until proven otherwise.
		return syncqueue.OutcomeInconclusive, nil
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return syncqueue.OutcomeSynced, nil
	case resp.StatusCode >= 400 && resp.StatusCode < 500:
		d.log.Warn("server rejected artifact", "id", artifact.ID, "status", resp.StatusCode)
		return syncqueue.OutcomeFailed, nil
	default:
		return syncqueue.OutcomeInconclusive, nil
	}
}

// Unavailable is the deliverer used when no endpoint is configured.
// Every attempt is inconclusive; pair it with a connectivity source
// that reports offline so items wait as pending instead of burning
// their retry budget.
type Unavailable struct{}

func (Unavailable) Deliver(ctx context.Context, artifact syncqueue.Artifact) (syncqueue.Outcome, error) {
	return syncqueue.OutcomeInconclusive, nil
}
