// Package circuitbreaker guards remote step services. Each endpoint gets its
// own breaker; after enough consecutive failures calls fail fast until a
// probe succeeds.
package circuitbreaker

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

var (
	// ErrCircuitOpen is returned while a breaker rejects calls
	ErrCircuitOpen = errors.New("circuit breaker is open")

	// ErrTooManyProbes is returned when the half-open probe slots are taken
	ErrTooManyProbes = errors.New("circuit breaker is probing")
)

// State of a breaker
type State int

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// Config holds breaker thresholds
type Config struct {
	// MaxFailures is the number of consecutive failures that opens the breaker
	MaxFailures int

	// OpenTimeout is how long an open breaker waits before probing
	OpenTimeout time.Duration

	// HalfOpenProbes is the number of calls let through while half-open
	HalfOpenProbes int

	// IsFailure decides whether an error counts against the endpoint.
	// Nil counts every error except context cancellation.
	IsFailure func(err error) bool
}

// DefaultConfig returns the breaker thresholds used for step services
func DefaultConfig() *Config {
	return &Config{
		MaxFailures:    5,
		OpenTimeout:    30 * time.Second,
		HalfOpenProbes: 1,
	}
}

func defaultIsFailure(err error) bool {
	return err != nil && !errors.Is(err, context.Canceled)
}

// Breaker guards one endpoint
type Breaker struct {
	name   string
	config *Config
	logger logrus.FieldLogger
	now    func() time.Time

	mu       sync.Mutex
	state    State
	failures int
	probes   int
	openedAt time.Time
}

func newBreaker(name string, config *Config, logger logrus.FieldLogger) *Breaker {
	return &Breaker{
		name:   name,
		config: config,
		logger: logger,
		now:    time.Now,
		state:  StateClosed,
	}
}

// Execute runs fn unless the breaker rejects the call
func (b *Breaker) Execute(fn func() error) error {
	if err := b.admit(); err != nil {
		return err
	}
	err := fn()
	b.record(err)
	return err
}

// State returns the current state, moving an expired open breaker to half-open
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state == StateOpen && b.now().Sub(b.openedAt) >= b.config.OpenTimeout {
		return StateHalfOpen
	}
	return b.state
}

// Failures returns the current run of consecutive failures
func (b *Breaker) Failures() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.failures
}

// Reset closes the breaker
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failures = 0
	b.probes = 0
	b.setState(StateClosed)
}

func (b *Breaker) admit() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateOpen:
		if b.now().Sub(b.openedAt) < b.config.OpenTimeout {
			return ErrCircuitOpen
		}
		b.setState(StateHalfOpen)
		b.probes = 0
		fallthrough
	case StateHalfOpen:
		if b.probes >= b.config.HalfOpenProbes {
			return ErrTooManyProbes
		}
		b.probes++
	}
	return nil
}

func (b *Breaker) record(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	isFailure := b.config.IsFailure
	if isFailure == nil {
		isFailure = defaultIsFailure
	}
	failed := isFailure(err)

	switch b.state {
	case StateClosed:
		if !failed {
			b.failures = 0
			return
		}
		b.failures++
		if b.failures >= b.config.MaxFailures {
			b.open()
		}
	case StateHalfOpen:
		b.probes--
		if failed {
			b.failures++
			b.open()
			return
		}
		b.failures = 0
		b.setState(StateClosed)
	}
}

func (b *Breaker) open() {
	b.openedAt = b.now()
	b.setState(StateOpen)
}

func (b *Breaker) setState(to State) {
	if b.state == to {
		return
	}
	from := b.state
	b.state = to
	b.logger.WithFields(logrus.Fields{
		"endpoint": b.name,
		"from":     from.String(),
		"to":       to.String(),
		"failures": b.failures,
	}).Warn("circuit breaker state changed")
}

// Set holds one breaker per endpoint, created on first use
type Set struct {
	config *Config
	logger logrus.FieldLogger

	mu       sync.Mutex
	breakers map[string]*Breaker
}

// NewSet creates a breaker set. A nil config uses DefaultConfig.
func NewSet(config *Config, logger logrus.FieldLogger) *Set {
	if config == nil {
		config = DefaultConfig()
	}
	if config.MaxFailures < 1 {
		config.MaxFailures = 1
	}
	if config.HalfOpenProbes < 1 {
		config.HalfOpenProbes = 1
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Set{
		config:   config,
		logger:   logger,
		breakers: make(map[string]*Breaker),
	}
}

// Get returns the breaker for endpoint
func (s *Set) Get(endpoint string) *Breaker {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.breakers[endpoint]
	if !ok {
		b = newBreaker(endpoint, s.config, s.logger)
		s.breakers[endpoint] = b
	}
	return b
}

// States reports the state of every known endpoint, sorted by endpoint
func (s *Set) States() []EndpointState {
	s.mu.Lock()
	names := make([]string, 0, len(s.breakers))
	for name := range s.breakers {
		names = append(names, name)
	}
	s.mu.Unlock()
	sort.Strings(names)

	out := make([]EndpointState, 0, len(names))
	for _, name := range names {
		b := s.Get(name)
		out = append(out, EndpointState{Endpoint: name, State: b.State().String(), Failures: b.Failures()})
	}
	return out
}

// EndpointState is one entry of Set.States
type EndpointState struct {
	Endpoint string `json:"endpoint"`
	State    string `json:"state"`
	Failures int    `json:"failures"`
}
