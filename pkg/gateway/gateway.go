// Package gateway runs the per-request query flow: quota admission, cache
// lookup, provider fan-out and usage recording.
package gateway

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/agorai/agorai/pkg/cache"
	"github.com/agorai/agorai/pkg/identity"
	"github.com/agorai/agorai/pkg/metrics"
	"github.com/agorai/agorai/pkg/models"
	"github.com/agorai/agorai/pkg/quota"
)

// ErrMalformedRequest is returned for a missing or blank query.
var ErrMalformedRequest = errors.New("malformed request")

// Aggregator answers a query with one result per provider.
type Aggregator interface {
	Aggregate(ctx context.Context, query string) ([]models.ProviderResult, error)
}

// Gateway wires the quota tracker, response cache and aggregator together.
type Gateway struct {
	quota   *quota.Tracker
	cache   *cache.ResponseCache
	agg     Aggregator
	log     logrus.FieldLogger
	metrics *metrics.Metrics
	now     func() time.Time
}

// Option configures a Gateway.
type Option func(*Gateway)

// WithCache enables the response cache. Without it every query goes live.
func WithCache(c *cache.ResponseCache) Option {
	return func(g *Gateway) { g.cache = c }
}

// WithLogger sets the request logger.
func WithLogger(l logrus.FieldLogger) Option {
	return func(g *Gateway) { g.log = l }
}

// WithMetrics reports request outcomes to m.
func WithMetrics(m *metrics.Metrics) Option {
	return func(g *Gateway) { g.metrics = m }
}

// WithClock overrides the clock used to pick the quota day.
func WithClock(now func() time.Time) Option {
	return func(g *Gateway) { g.now = now }
}

// New creates a Gateway.
func New(q *quota.Tracker, agg Aggregator, opts ...Option) *Gateway {
	g := &Gateway{
		quota: q,
		agg:   agg,
		log:   logrus.StandardLogger(),
		now:   time.Now,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Handle answers query on behalf of identityKey.
//
// A denied request touches neither the cache nor any provider and leaves the
// quota unchanged. Served requests, cached or live, consume exactly one unit
// of quota, recorded after any cache write and before the response is
// returned. A fatal failure releases the admission without consuming quota.
// Cancelling ctx only interrupts the wait for admission.
func (g *Gateway) Handle(ctx context.Context, identityKey, query string) (*models.AggregateResponse, error) {
	if strings.TrimSpace(query) == "" {
		g.metrics.Request(metrics.OutcomeBadRequest)
		return nil, ErrMalformedRequest
	}

	log := g.log.WithField("identity", identity.Prefix(identityKey))

	adm, err := g.quota.Admit(ctx, identityKey, g.now())
	if err != nil {
		g.fail(log, err)
		return nil, err
	}
	defer adm.Release()

	// Once admitted, the request runs to completion even if the caller goes
	// away; provider timeouts bound it.
	ctx = context.WithoutCancel(ctx)

	resp := &models.AggregateResponse{}
	if results, ok := g.lookup(ctx, query); ok {
		resp.Results = results
		resp.Source = models.SourceCache
	} else {
		results, err := g.agg.Aggregate(ctx, query)
		if err != nil {
			g.fail(log, err)
			return nil, err
		}
		if g.cache != nil {
			if err := g.cache.Put(ctx, query, results); err != nil {
				log.WithError(err).Warn("cache write failed")
			}
		}
		resp.Results = results
		resp.Source = models.SourceLive
	}

	if err := adm.Record(ctx); err != nil {
		g.fail(log, err)
		return nil, err
	}

	g.metrics.Request(string(resp.Source))
	log.WithField("source", resp.Source).Info("query served")
	return resp, nil
}

func (g *Gateway) lookup(ctx context.Context, query string) ([]models.ProviderResult, bool) {
	if g.cache == nil {
		return nil, false
	}
	return g.cache.Get(ctx, query)
}

func (g *Gateway) fail(log logrus.FieldLogger, err error) {
	switch {
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		g.metrics.Request(metrics.OutcomeError)
		log.WithError(err).Info("request cancelled before admission")
	case errors.Is(err, quota.ErrQuotaExceeded):
		g.metrics.Request(metrics.OutcomeQuotaExceeded)
		log.Info("daily quota exceeded")
	case errors.Is(err, quota.ErrStoreUnavailable):
		g.metrics.Request(metrics.OutcomeStoreUnavailable)
		log.WithError(err).Error("quota store unavailable")
	default:
		g.metrics.Request(metrics.OutcomeError)
		log.WithError(err).Error("query failed")
	}
}

// Limit returns the configured daily quota.
func (g *Gateway) Limit() int {
	return g.quota.Limit()
}
