// Package pool assigns each new call to one of a fixed set of upstream
// credentials, round-robin over a shared counter.
package pool

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/boddenberg/receptionist-core/internal/domain"
	"github.com/boddenberg/receptionist-core/internal/port"
)

// ErrEmpty is returned when a pool is built without credentials.
var ErrEmpty = errors.New("connection pool has no credentials")

// Pool holds upstream credentials and the counter that spreads calls across
// them.
type Pool struct {
	credentials []string
	counter     port.PoolCounter
	fallback    AtomicCounter
	metrics     ErrorRecorder
	logger      *zap.Logger
}

// ErrorRecorder counts failures of external dependencies by service name.
type ErrorRecorder interface {
	IncrExternalError(service string)
}

// CounterService is the external-error label used when the shared counter
// fails and Assign falls back to the local one.
const CounterService = "pool_counter"

// New builds a pool. Blank and duplicate credentials are dropped; order is
// preserved so indices stay stable across processes sharing one counter.
func New(credentials []string, counter port.PoolCounter, logger *zap.Logger) (*Pool, error) {
	creds := normalize(credentials)
	if len(creds) == 0 {
		return nil, ErrEmpty
	}
	if counter == nil {
		counter = &AtomicCounter{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Pool{credentials: creds, counter: counter, logger: logger}, nil
}

// WithMetrics records shared-counter failures on m.
func (p *Pool) WithMetrics(m ErrorRecorder) *Pool {
	p.metrics = m
	return p
}

// Size returns the number of credentials.
func (p *Pool) Size() int {
	return len(p.credentials)
}

// Assign returns counter mod size and advances the counter. It never fails:
// if the shared counter is unreachable the process-local counter is used.
func (p *Pool) Assign(ctx context.Context) int {
	n, err := p.counter.Next(ctx)
	if err != nil {
		p.logger.Warn("shared pool counter unavailable, using local counter", zap.Error(err))
		if p.metrics != nil {
			p.metrics.IncrExternalError(CounterService)
		}
		n, _ = p.fallback.Next(ctx)
	}
	return int(n % uint64(len(p.credentials)))
}

// CredentialFor returns the credential at index. An out-of-range index is a
// programming error and panics with *domain.ErrPoolIndex.
func (p *Pool) CredentialFor(index int) string {
	if index < 0 || index >= len(p.credentials) {
		panic(&domain.ErrPoolIndex{Index: index, Size: len(p.credentials)})
	}
	return p.credentials[index]
}

// AtomicCounter is a process-local counter.
type AtomicCounter struct {
	n atomic.Uint64
}

// Next returns the current value and increments it.
func (c *AtomicCounter) Next(context.Context) (uint64, error) {
	return c.n.Add(1) - 1, nil
}

func normalize(credentials []string) []string {
	out := make([]string, 0, len(credentials))
	seen := make(map[string]struct{}, len(credentials))
	for _, c := range credentials {
		trimmed := strings.TrimSpace(c)
		if trimmed == "" {
			continue
		}
		if _, ok := seen[trimmed]; ok {
			continue
		}
		seen[trimmed] = struct{}{}
		out = append(out, trimmed)
	}
	return out
}
