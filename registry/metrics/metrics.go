// Package metrics provides Prometheus instrumentation for registry stores.
package metrics

import (
	"context"
	"errors"
	"time"

	"github.com/klejdi94/promptlib/core"
	"github.com/klejdi94/promptlib/registry"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Middleware wraps a store with additional behavior.
type Middleware func(registry.Store) registry.Store

// Chain wraps s with all middlewares in order (first middleware is outermost).
func Chain(s registry.Store, mws ...Middleware) registry.Store {
	for i := len(mws) - 1; i >= 0; i-- {
		s = mws[i](s)
	}
	return s
}

// Collectors holds the store metrics.
type Collectors struct {
	Operations *prometheus.CounterVec
	Duration   *prometheus.HistogramVec
}

// NewCollectors registers the store metrics on reg.
func NewCollectors(reg prometheus.Registerer) *Collectors {
	f := promauto.With(reg)
	return &Collectors{
		Operations: f.NewCounterVec(prometheus.CounterOpts{
			Name: "promptlib_store_operations_total",
			Help: "Total store operations by backend, operation and result",
		}, []string{"backend", "op", "result"}),
		Duration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "promptlib_store_operation_duration_seconds",
			Help:    "Store operation duration in seconds",
			Buckets: []float64{0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1},
		}, []string{"backend", "op"}),
	}
}

// Metrics returns a middleware that records every store call in c.
func Metrics(c *Collectors) Middleware {
	return func(s registry.Store) registry.Store {
		return &metricsStore{next: s, c: c}
	}
}

type metricsStore struct {
	next registry.Store
	c    *Collectors
}

// result buckets an error into a low-cardinality label value.
func result(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, core.ErrNotFound):
		return "not_found"
	case errors.Is(err, core.ErrDuplicateName), errors.Is(err, core.ErrConflict):
		return "conflict"
	case errors.Is(err, core.ErrStoreUnavailable):
		return "unavailable"
	}
	return "error"
}

func (m *metricsStore) observe(op string, start time.Time, err error) {
	backend := m.next.Kind()
	m.c.Operations.WithLabelValues(backend, op, result(err)).Inc()
	m.c.Duration.WithLabelValues(backend, op).Observe(time.Since(start).Seconds())
}

func (m *metricsStore) Kind() string { return m.next.Kind() }

func (m *metricsStore) DeletePrompt(ctx context.Context, id string) error {
	start := time.Now()
	err := m.next.DeletePrompt(ctx, id)
	m.observe("delete_prompt", start, err)
	return err
}

func (m *metricsStore) Insert(ctx context.Context, p *core.Prompt, v *core.PromptVersion) error {
	start := time.Now()
	err := m.next.Insert(ctx, p, v)
	m.observe("insert", start, err)
	return err
}

func (m *metricsStore) GetPrompt(ctx context.Context, id string) (*core.Prompt, error) {
	start := time.Now()
	p, err := m.next.GetPrompt(ctx, id)
	m.observe("get_prompt", start, err)
	return p, err
}

func (m *metricsStore) GetPromptByName(ctx context.Context, name string) (*core.Prompt, error) {
	start := time.Now()
	p, err := m.next.GetPromptByName(ctx, name)
	m.observe("get_prompt_by_name", start, err)
	return p, err
}

func (m *metricsStore) QueryPrompts(ctx context.Context, q registry.Query) ([]*core.Prompt, error) {
	start := time.Now()
	ps, err := m.next.QueryPrompts(ctx, q)
	m.observe("query_prompts", start, err)
	return ps, err
}

func (m *metricsStore) ListVersions(ctx context.Context, promptID string) ([]*core.PromptVersion, error) {
	start := time.Now()
	vs, err := m.next.ListVersions(ctx, promptID)
	m.observe("list_versions", start, err)
	return vs, err
}

func (m *metricsStore) AppendVersion(ctx context.Context, v *core.PromptVersion) error {
	start := time.Now()
	err := m.next.AppendVersion(ctx, v)
	m.observe("append_version", start, err)
	return err
}

func (m *metricsStore) UpdateVersion(ctx context.Context, v *core.PromptVersion, makeCurrent bool, at time.Time) error {
	start := time.Now()
	err := m.next.UpdateVersion(ctx, v, makeCurrent, at)
	m.observe("update_version", start, err)
	return err
}

func (m *metricsStore) UpdatePrompt(ctx context.Context, p *core.Prompt) error {
	start := time.Now()
	err := m.next.UpdatePrompt(ctx, p)
	m.observe("update_prompt", start, err)
	return err
}

func (m *metricsStore) Count(ctx context.Context) (int, error) {
	start := time.Now()
	n, err := m.next.Count(ctx)
	m.observe("count", start, err)
	return n, err
}
