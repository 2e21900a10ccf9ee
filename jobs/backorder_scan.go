package jobs

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/hibiken/asynq"

	"github.com/meridian-erp/meridian-erp/internal/sales/orders"
)

// BackorderScanJob walks open backorders and reports which ones the current
// stock could convert. It never converts on its own; conversion stays a
// deliberate operator action.
type BackorderScanJob struct {
	orders *orders.Service
	logger *slog.Logger
}

func NewBackorderScanJob(ordersService *orders.Service, logger *slog.Logger) *BackorderScanJob {
	return &BackorderScanJob{orders: ordersService, logger: logger}
}

// Handle processes one TaskBackorderScan run.
func (j *BackorderScanJob) Handle(ctx context.Context, t *asynq.Task) error {
	var payload BackorderScanPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return asynq.SkipRetry
	}
	limit := payload.Limit
	if limit <= 0 {
		limit = 200
	}

	backorders, _, err := j.orders.List(ctx, orders.ListFilters{
		Status:  string(orders.StatusBackorder),
		PerPage: limit,
	})
	if err != nil {
		return err
	}

	ready, partial := 0, 0
	for _, order := range backorders {
		availability, err := j.orders.CheckBackorderAvailability(ctx, order.OrderNumber)
		if err != nil {
			j.logger.Warn("backorder availability check failed",
				"order", order.OrderNumber, "error", err)
			continue
		}
		switch {
		case availability.CanConvertFull:
			ready++
			j.logger.Info("backorder fully covered by stock", "order", order.OrderNumber)
		case availability.CanConvertPartial:
			partial++
		}
	}

	j.logger.Info("backorder scan finished",
		"scanned", len(backorders), "ready", ready, "partial", partial)
	return nil
}
