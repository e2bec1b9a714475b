// Package aggregator fans a query out to every provider concurrently.
package aggregator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/agorai/agorai/pkg/metrics"
	"github.com/agorai/agorai/pkg/models"
	"github.com/agorai/agorai/pkg/provider"
)

// ErrAggregation reports a fault in the fan-out itself, as opposed to a
// provider failure, which is returned as data.
var ErrAggregation = errors.New("aggregation failed")

// Aggregator queries a fixed, ordered set of providers.
type Aggregator struct {
	providers []provider.Provider
	log       logrus.FieldLogger
	metrics   *metrics.Metrics
}

// New creates an Aggregator over the registry's providers.
func New(r *provider.Registry, log logrus.FieldLogger, m *metrics.Metrics) *Aggregator {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Aggregator{providers: r.Providers(), log: log, metrics: m}
}

// Aggregate asks every provider and returns one result per provider in
// registration order, regardless of completion order. Provider failures
// appear as error results.
func (a *Aggregator) Aggregate(ctx context.Context, query string) ([]models.ProviderResult, error) {
	start := time.Now()
	results := make([]models.ProviderResult, len(a.providers))

	// Plain errgroup: a failing slot must not cancel its siblings.
	var g errgroup.Group
	for i, p := range a.providers {
		g.Go(func() (err error) {
			defer func() {
				if r := recover(); r != nil {
					err = fmt.Errorf("%w: provider %s panicked: %v", ErrAggregation, p.Name(), r)
				}
			}()

			callStart := time.Now()
			res := p.Answer(ctx, query)
			if res.Provider == "" {
				res.Provider = p.Name()
			}
			d := time.Since(callStart)
			a.metrics.ProviderCall(p.Name(), res.OK(), d)

			entry := a.log.WithFields(logrus.Fields{"provider": p.Name(), "duration": d})
			if res.OK() {
				entry.Debug("provider answered")
			} else {
				entry.WithField("error", res.Error).Warn("provider failed")
			}

			results[i] = res
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		a.log.WithError(err).Error("aggregation aborted")
		return nil, err
	}

	a.metrics.Aggregate(time.Since(start))
	return results, nil
}
