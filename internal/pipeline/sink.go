package pipeline

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/auction-intake/internal/config"
	"github.com/sells-group/auction-intake/internal/model"
	"github.com/sells-group/auction-intake/internal/resilience"
	"github.com/sells-group/auction-intake/pkg/salesforce"
)

// Actions reported for a transport order written downstream.
const (
	ActionPosted  = "posted"
	ActionUpdated = "updated"
)

// SinkResult is the outcome of writing one order.
type SinkResult struct {
	ExternalID string
	Created    bool
}

// Action maps the result onto the reported action.
func (r SinkResult) Action() string {
	if r.Created {
		return ActionPosted
	}
	return ActionUpdated
}

// OrderSink writes transport orders downstream, keyed by VIN.
type OrderSink interface {
	Name() string
	Upsert(ctx context.Context, order *model.TransportOrder) (SinkResult, error)
}

// OrderStore persists transport orders locally.
type OrderStore interface {
	UpsertTransportOrder(ctx context.Context, order *model.TransportOrder, externalID string) (bool, error)
}

// StoreSink keeps orders in the local database only.
type StoreSink struct {
	orders OrderStore
}

// NewStoreSink creates a sink backed by the order store.
func NewStoreSink(orders OrderStore) *StoreSink {
	return &StoreSink{orders: orders}
}

// Name implements OrderSink.
func (s *StoreSink) Name() string { return "store" }

// Upsert implements OrderSink.
func (s *StoreSink) Upsert(ctx context.Context, order *model.TransportOrder) (SinkResult, error) {
	created, err := s.orders.UpsertTransportOrder(ctx, order, "")
	if err != nil {
		return SinkResult{}, eris.Wrap(err, "pipeline: store order")
	}
	return SinkResult{Created: created}, nil
}

// SalesforceSink posts orders to a Salesforce custom object and mirrors
// them into the local store with the Salesforce record id.
type SalesforceSink struct {
	client  salesforce.Client
	object  string
	mirror  OrderStore
	breaker *resilience.CircuitBreaker
	retry   resilience.RetryConfig
}

// NewSalesforceSink creates the Salesforce sink. mirror may be nil.
func NewSalesforceSink(client salesforce.Client, cfg config.SalesforceConfig, mirror OrderStore) *SalesforceSink {
	retry := resilience.DefaultRetryConfig()
	retry.OnRetry = resilience.RetryLogger("salesforce", "upsert_order")
	return &SalesforceSink{
		client:  client,
		object:  cfg.ObjectName,
		mirror:  mirror,
		breaker: resilience.NewCircuitBreaker("salesforce", 5, 30*time.Second),
		retry:   retry,
	}
}

// Name implements OrderSink.
func (s *SalesforceSink) Name() string { return "salesforce" }

// Upsert implements OrderSink.
func (s *SalesforceSink) Upsert(ctx context.Context, order *model.TransportOrder) (SinkResult, error) {
	res, err := resilience.ExecuteVal(ctx, s.breaker, func(ctx context.Context) (SinkResult, error) {
		return resilience.DoVal(ctx, s.retry, func(ctx context.Context) (SinkResult, error) {
			id, created, err := salesforce.UpsertOrder(ctx, s.client, s.object, *order)
			return SinkResult{ExternalID: id, Created: created}, err
		})
	})
	if err != nil {
		return SinkResult{}, eris.Wrapf(err, "pipeline: post order %s", order.VIN)
	}

	if s.mirror != nil {
		if _, err := s.mirror.UpsertTransportOrder(ctx, order, res.ExternalID); err != nil {
			zap.L().Warn("pipeline: mirror posted order failed",
				zap.String("vin", order.VIN), zap.String("external_id", res.ExternalID), zap.Error(err))
		}
	}
	return res, nil
}

// LogSink only logs orders. It backs dry runs.
type LogSink struct{}

// Name implements OrderSink.
func (LogSink) Name() string { return "log" }

// Upsert implements OrderSink.
func (LogSink) Upsert(_ context.Context, order *model.TransportOrder) (SinkResult, error) {
	zap.L().Info("pipeline: dry run order",
		zap.Int64("run_id", order.RunID),
		zap.String("vin", order.VIN),
		zap.String("pickup", order.Pickup.String()),
		zap.String("delivery", order.Delivery.String()),
	)
	return SinkResult{Created: true}, nil
}
