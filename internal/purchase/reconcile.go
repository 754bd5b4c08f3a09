package purchase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"enrollment-service/pkg/ctxmanage"
	"enrollment-service/pkg/logkey"
)

// Reconcile replays enrollment for confirmed orders that never got marked enrolled and
// returns how many converged. Orders that still fail are reported in the joined error and
// picked up again on the next run.
func (o *Orchestrator) Reconcile(ctx context.Context, limit int) (int, error) {
	traceId := ctxmanage.GetTraceId(ctx)
	pending, err := o.orders.ListUnenrolled(ctx, limit)
	if err != nil {
		return 0, fmt.Errorf("listing unenrolled orders: %w", err)
	}

	var (
		done int
		errs []error
	)
	for _, order := range pending {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}
		if err := o.completeEnrollment(ctx, order); err != nil {
			slog.Error("reconcile enrollment failed", slog.String(logkey.TraceID, traceId),
				slog.String(logkey.OrderID, order.ID), slog.String(logkey.ERROR, err.Error()))
			errs = append(errs, fmt.Errorf("order %s: %w", order.ID, err))
			continue
		}
		done++
	}
	slog.Info("reconcile finished", slog.String(logkey.TraceID, traceId),
		slog.Int("Candidates", len(pending)), slog.Int("Enrolled", done))
	return done, errors.Join(errs...)
}
