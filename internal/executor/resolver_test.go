package executor

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sirupsen/logrus/hooks/test"

	"github.com/therealutkarshpriyadarshi/pipeline/internal/catalog"
	"github.com/therealutkarshpriyadarshi/pipeline/internal/circuitbreaker"
)

func TestRegistry_Resolve(t *testing.T) {
	r := NewRegistry()
	r.Register("b@1", EchoStep)
	r.Register("a@1", EchoStep)

	if _, err := r.Resolve("a@1"); err != nil {
		t.Errorf("Resolve(a@1) error = %v", err)
	}
	if _, err := r.Resolve("missing"); !errors.Is(err, ErrStepNotFound) {
		t.Errorf("Resolve(missing) error = %v, want ErrStepNotFound", err)
	}
	if got := strings.Join(r.IDs(), ","); got != "a@1,b@1" {
		t.Errorf("IDs() = %s", got)
	}

	r.SetFallback(EchoStep)
	if _, err := r.Resolve("missing"); err != nil {
		t.Errorf("fallback not used: %v", err)
	}
}

func TestEchoStep(t *testing.T) {
	res, err := EchoStep(context.Background(), StepInput{
		NodeKey:       "a",
		StepVersionID: "echo@1",
		Params: map[string]interface{}{
			"outputs": []interface{}{
				map[string]interface{}{"targetType": "document", "targetId": "d1"},
				"ignored",
			},
		},
	})
	if err != nil {
		t.Fatalf("EchoStep() error = %v", err)
	}
	if len(res.Outputs) != 1 || res.Outputs[0].TargetID != "d1" {
		t.Errorf("outputs = %+v", res.Outputs)
	}
	if res.IR.(map[string]interface{})["node"] != "a" {
		t.Errorf("ir = %v", res.IR)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := EchoStep(ctx, StepInput{}); !errors.Is(err, context.Canceled) {
		t.Errorf("cancelled EchoStep() error = %v", err)
	}
}

func newStepCatalog(t *testing.T, endpoint string) *catalog.Catalog {
	t.Helper()
	c := catalog.New()
	if err := c.AddStep(catalog.StepVersion{ID: "remote@1", Name: "remote", Version: "1", Endpoint: endpoint}); err != nil {
		t.Fatal(err)
	}
	if err := c.AddStep(catalog.StepVersion{ID: "local@1", Name: "local", Version: "1"}); err != nil {
		t.Fatal(err)
	}
	return c
}

func TestHTTPResolver_Success(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("Expected POST request, got %s", r.Method)
		}
		var in StepInput
		if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
			t.Errorf("invalid request body: %v", err)
		}
		if in.NodeKey != "ocr" || in.Params["lang"] != "en" {
			t.Errorf("unexpected input: %+v", in)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"ir":{"text":"hi"},"outputs":[{"targetType":"page","targetId":"p1"}]}`))
	}))
	defer server.Close()

	logger, _ := test.NewNullLogger()
	r := NewHTTPResolver(newStepCatalog(t, server.URL), 5*time.Second, logger)

	fn, err := r.Resolve("remote@1")
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	res, err := fn(context.Background(), StepInput{NodeKey: "ocr", StepVersionID: "remote@1", Params: map[string]interface{}{"lang": "en"}})
	if err != nil {
		t.Fatalf("step error = %v", err)
	}
	if res.IR.(map[string]interface{})["text"] != "hi" || len(res.Outputs) != 1 {
		t.Errorf("result = %+v", res)
	}
}

func TestHTTPResolver_ErrorStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		w.Write([]byte("upstream model offline"))
	}))
	defer server.Close()

	logger, _ := test.NewNullLogger()
	fn, err := NewHTTPResolver(newStepCatalog(t, server.URL), 5*time.Second, logger).Resolve("remote@1")
	if err != nil {
		t.Fatal(err)
	}
	_, err = fn(context.Background(), StepInput{StepVersionID: "remote@1"})
	if err == nil || !strings.Contains(err.Error(), "502") || !strings.Contains(err.Error(), "offline") {
		t.Errorf("error = %v, want status and body", err)
	}
}

func TestHTTPResolver_Breaker(t *testing.T) {
	var calls, status atomic.Int32
	status.Store(http.StatusServiceUnavailable)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(int(status.Load()))
	}))
	defer server.Close()

	logger, _ := test.NewNullLogger()
	newResolver := func() StepFunc {
		breakers := circuitbreaker.NewSet(&circuitbreaker.Config{MaxFailures: 2, OpenTimeout: time.Hour}, logger)
		fn, err := NewHTTPResolver(newStepCatalog(t, server.URL), 5*time.Second, logger).
			WithBreakers(breakers).
			Resolve("remote@1")
		if err != nil {
			t.Fatal(err)
		}
		return fn
	}

	t.Run("5xx opens the breaker", func(t *testing.T) {
		calls.Store(0)
		fn := newResolver()
		for i := 0; i < 2; i++ {
			if _, err := fn(context.Background(), StepInput{StepVersionID: "remote@1"}); err == nil {
				t.Fatal("expected a step error")
			}
		}
		_, err := fn(context.Background(), StepInput{StepVersionID: "remote@1"})
		if !errors.Is(err, circuitbreaker.ErrCircuitOpen) {
			t.Errorf("error = %v, want ErrCircuitOpen", err)
		}
		if calls.Load() != 2 {
			t.Errorf("calls = %d, want 2", calls.Load())
		}
	})

	t.Run("4xx does not count", func(t *testing.T) {
		calls.Store(0)
		status.Store(http.StatusUnprocessableEntity)
		fn := newResolver()
		for i := 0; i < 3; i++ {
			_, err := fn(context.Background(), StepInput{StepVersionID: "remote@1"})
			if err == nil || errors.Is(err, circuitbreaker.ErrCircuitOpen) {
				t.Fatalf("attempt %d error = %v, want the 422", i, err)
			}
		}
		if calls.Load() != 3 {
			t.Errorf("calls = %d, want 3", calls.Load())
		}
	})
}

func TestHTTPResolver_HonoursContext(t *testing.T) {
	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer server.Close()
	defer close(release)

	logger, _ := test.NewNullLogger()
	fn, _ := NewHTTPResolver(newStepCatalog(t, server.URL), 5*time.Second, logger).Resolve("remote@1")

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, err := fn(ctx, StepInput{}); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("error = %v, want deadline exceeded", err)
	}
}

func TestHTTPResolver_NotFound(t *testing.T) {
	logger, _ := test.NewNullLogger()
	r := NewHTTPResolver(newStepCatalog(t, "http://unused"), time.Second, logger)

	if _, err := r.Resolve("local@1"); !errors.Is(err, ErrStepNotFound) {
		t.Errorf("step without endpoint error = %v", err)
	}
	if _, err := r.Resolve("unknown@1"); !errors.Is(err, ErrStepNotFound) {
		t.Errorf("unknown step error = %v", err)
	}
}

type failingResolver struct{ err error }

func (f failingResolver) Resolve(string) (StepFunc, error) { return nil, f.err }

func TestChainResolver(t *testing.T) {
	registry := NewRegistry()
	registry.Register("local@1", EchoStep)
	logger, _ := test.NewNullLogger()
	chain := ChainResolver{
		NewHTTPResolver(newStepCatalog(t, "http://127.0.0.1:1"), time.Second, logger),
		registry,
	}

	if _, err := chain.Resolve("local@1"); err != nil {
		t.Errorf("chain should fall through to the registry: %v", err)
	}
	if _, err := chain.Resolve("nowhere@1"); !errors.Is(err, ErrStepNotFound) {
		t.Errorf("error = %v, want ErrStepNotFound", err)
	}

	broken := errors.New("catalog unavailable")
	stop := ChainResolver{failingResolver{err: broken}, registry}
	if _, err := stop.Resolve("local@1"); !errors.Is(err, broken) {
		t.Errorf("error = %v, want the first resolver's error", err)
	}
}
