package executor

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

	"github.com/sirupsen/logrus"

	"github.com/therealutkarshpriyadarshi/pipeline/internal/catalog"
	"github.com/therealutkarshpriyadarshi/pipeline/internal/circuitbreaker"
)

// maxResponseBytes caps the body read from a step service
const maxResponseBytes = 8 << 20

// StepSource looks up catalog step versions
type StepSource interface {
	Step(id string) (catalog.StepVersion, error)
}

// HTTPResolver resolves catalog steps that declare an endpoint. The step is
// invoked with a JSON POST of its StepInput and must answer with a
// StepResult document.
type HTTPResolver struct {
	steps    StepSource
	client   *http.Client
	breakers *circuitbreaker.Set
	logger   logrus.FieldLogger
}

// statusError is a non-2xx answer from a step service
type statusError struct {
	code int
	body string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("step service returned status %d: %s", e.code, e.body)
}

// NewHTTPResolver creates an HTTP step resolver. The client timeout is a
// ceiling; node timeouts are applied through the request context.
func NewHTTPResolver(steps StepSource, timeout time.Duration, logger logrus.FieldLogger) *HTTPResolver {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &HTTPResolver{
		steps: steps,
		client: &http.Client{
			Timeout: timeout,
		},
		logger: logger,
	}
}

// WithBreakers guards every endpoint with a breaker from set. Transport
// errors, timeouts and 5xx answers count against the endpoint; 4xx answers
// do not.
func (r *HTTPResolver) WithBreakers(set *circuitbreaker.Set) *HTTPResolver {
	r.breakers = set
	return r
}

// Resolve returns a StepFunc calling the step's endpoint
func (r *HTTPResolver) Resolve(stepVersionID string) (StepFunc, error) {
	step, err := r.steps.Step(stepVersionID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStepNotFound, err)
	}
	if strings.TrimSpace(step.Endpoint) == "" {
		return nil, fmt.Errorf("%w: step %s has no endpoint", ErrStepNotFound, stepVersionID)
	}

	endpoint := step.Endpoint
	if r.breakers == nil {
		return func(ctx context.Context, in StepInput) (StepResult, error) {
			return r.call(ctx, endpoint, in)
		}, nil
	}

	breaker := r.breakers.Get(endpoint)
	return func(ctx context.Context, in StepInput) (StepResult, error) {
		var (
			result  StepResult
			callErr error
			called  bool
		)
		err := breaker.Execute(func() error {
			called = true
			result, callErr = r.call(ctx, endpoint, in)
			var se *statusError
			if errors.As(callErr, &se) && se.code < 500 {
				return nil
			}
			return callErr
		})
		if !called {
			return StepResult{}, fmt.Errorf("step %s: %w", in.StepVersionID, err)
		}
		return result, callErr
	}, nil
}

func (r *HTTPResolver) call(ctx context.Context, endpoint string, in StepInput) (StepResult, error) {
	body, err := json.Marshal(in)
	if err != nil {
		return StepResult{}, fmt.Errorf("failed to encode step input: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return StepResult{}, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := r.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return StepResult{}, ctx.Err()
		}
		return StepResult{}, fmt.Errorf("step request failed: %w", err)
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return StepResult{}, fmt.Errorf("failed to read step response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		r.logger.WithFields(logrus.Fields{
			"step_version_id": in.StepVersionID,
			"node":            in.NodeKey,
			"status":          resp.StatusCode,
		}).Warn("step service returned an error status")
		return StepResult{}, &statusError{code: resp.StatusCode, body: snippet(payload)}
	}

	var result StepResult
	if err := json.Unmarshal(payload, &result); err != nil {
		return StepResult{}, fmt.Errorf("invalid step response: %w", err)
	}
	return result, nil
}

func snippet(b []byte) string {
	const limit = 256
	s := strings.TrimSpace(string(b))
	if len(s) > limit {
		return s[:limit] + "..."
	}
	return s
}

// ChainResolver tries resolvers in order. A resolver answering with
// ErrStepNotFound passes to the next one; any other error stops the chain.
type ChainResolver []Resolver

// Resolve implements Resolver
func (c ChainResolver) Resolve(stepVersionID string) (StepFunc, error) {
	for _, r := range c {
		fn, err := r.Resolve(stepVersionID)
		if err == nil {
			return fn, nil
		}
		if !errors.Is(err, ErrStepNotFound) {
			return nil, err
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrStepNotFound, stepVersionID)
}
