package purchase

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"enrollment-service/internal/enrollments"
	"enrollment-service/internal/orders"
	"enrollment-service/internal/signature"
	"enrollment-service/internal/stores/kafka"
	"enrollment-service/pkg/ctxmanage"
	"enrollment-service/pkg/logkey"

	"github.com/sethvargo/go-retry"
)

type Callback struct {
	OrderID          string
	RemotePaymentRef string
	RemoteOrderRef   string
	Signature        string
}

type Confirmation struct {
	OrderID     string    `json:"orderId"`
	PaymentRef  string    `json:"paymentRef"`
	ConfirmedAt time.Time `json:"confirmedAt"`
	Enrolled    bool      `json:"enrolled"`
	// Replayed is set when the order was already confirmed before this callback. It is
	// kept out of the body so every delivery gets the same response.
	Replayed bool `json:"-"`
}

// HandleCallback verifies a gateway callback and settles the order it names. Only the
// caller that wins the pending transition runs enrollment, so duplicate and concurrent
// callbacks produce one enrollment and the same confirmation.
func (o *Orchestrator) HandleCallback(ctx context.Context, cb Callback) (Confirmation, error) {
	traceId := ctxmanage.GetTraceId(ctx)
	if cb.OrderID == "" {
		return Confirmation{}, ErrOrderNotFound
	}

	order, err := o.orders.GetOrder(ctx, cb.OrderID)
	if err != nil {
		if errors.Is(err, orders.ErrNotFound) {
			slog.Warn("callback for unknown order", slog.String(logkey.TraceID, traceId),
				slog.String(logkey.OrderID, cb.OrderID))
			return Confirmation{}, ErrOrderNotFound
		}
		return Confirmation{}, fmt.Errorf("loading order: %w", err)
	}

	if order.Status != orders.StatusPending {
		slog.Info("callback for settled order", slog.String(logkey.TraceID, traceId),
			slog.String(logkey.OrderID, order.ID), slog.String(logkey.Status, string(order.Status)))
		return settled(order)
	}

	// timestamptz keeps microseconds; confirmations read back later must match this one
	now := o.now().UTC().Truncate(time.Microsecond)
	if !o.authentic(order, cb) {
		won, err := o.orders.TransitionFromPending(ctx, order.ID, orders.StatusFailed, "", now)
		if err != nil {
			return Confirmation{}, fmt.Errorf("failing order: %w", err)
		}
		slog.Warn("payment verification failed", slog.String(logkey.TraceID, traceId),
			slog.String(logkey.OrderID, order.ID), slog.Bool("Transitioned", won))
		return Confirmation{}, ErrInvalidSignature
	}

	won, err := o.orders.TransitionFromPending(ctx, order.ID, orders.StatusConfirmed, cb.RemotePaymentRef, now)
	if err != nil {
		return Confirmation{}, fmt.Errorf("confirming order: %w", err)
	}
	if !won {
		// another callback settled the order between our read and our update
		order, err = o.orders.GetOrder(ctx, order.ID)
		if err != nil {
			return Confirmation{}, fmt.Errorf("reloading order: %w", err)
		}
		return settled(order)
	}

	slog.Info("order confirmed", slog.String(logkey.TraceID, traceId), slog.String(logkey.OrderID, order.ID),
		slog.String("Payment Ref", cb.RemotePaymentRef))

	order.Status = orders.StatusConfirmed
	order.PaymentRef = cb.RemotePaymentRef
	order.ConfirmedAt = &now
	order.UpdatedAt = now

	// the payment is captured; a client disconnect must not abandon the enrollment
	ectx := context.WithoutCancel(ctx)
	enrollErr := o.completeEnrollment(ectx, order)
	o.publishConfirmed(ectx, order, enrollErr == nil)

	conf := Confirmation{
		OrderID:     order.ID,
		PaymentRef:  order.PaymentRef,
		ConfirmedAt: now,
		Enrolled:    enrollErr == nil,
	}
	if enrollErr != nil {
		slog.Error("enrollment incomplete for confirmed order", slog.String(logkey.TraceID, traceId),
			slog.String(logkey.OrderID, order.ID), slog.String(logkey.ERROR, enrollErr.Error()))
		return conf, fmt.Errorf("%w: %w", ErrEnrollmentWriteFailed, enrollErr)
	}
	return conf, nil
}

func (o *Orchestrator) authentic(order orders.Order, cb Callback) bool {
	if cb.RemoteOrderRef != "" && cb.RemoteOrderRef != order.RemoteOrderRef {
		return false
	}
	return signature.Verify(order.ID, cb.RemotePaymentRef, cb.Signature, o.conf.SigningSecret)
}

// settled answers a callback for an order that is already terminal.
func settled(order orders.Order) (Confirmation, error) {
	switch order.Status {
	case orders.StatusConfirmed:
		conf := Confirmation{
			OrderID:    order.ID,
			PaymentRef: order.PaymentRef,
			Replayed:   true,
			Enrolled:   order.EnrolledAt != nil,
		}
		if order.ConfirmedAt != nil {
			conf.ConfirmedAt = order.ConfirmedAt.UTC()
		}
		return conf, nil
	case orders.StatusFailed:
		return Confirmation{}, ErrOrderAlreadyFailed
	default:
		return Confirmation{}, fmt.Errorf("order %s in unexpected status %q", order.ID, order.Status)
	}
}

func grantFor(order orders.Order) enrollments.Grant {
	purchasedAt := order.UpdatedAt
	if order.ConfirmedAt != nil {
		purchasedAt = *order.ConfirmedAt
	}
	return enrollments.Grant{
		StudentID:      order.StudentID,
		StudentName:    order.StudentName,
		StudentEmail:   order.StudentEmail,
		CourseID:       order.CourseID,
		CourseTitle:    order.CourseTitle,
		CourseImage:    order.CourseImage,
		InstructorID:   order.InstructorID,
		InstructorName: order.InstructorName,
		AmountPaid:     order.Amount,
		Currency:       order.Currency,
		PurchasedAt:    purchasedAt,
	}
}

// completeEnrollment writes both enrollment records for a confirmed order and then marks
// it enrolled, retrying transient failures with exponential backoff.
func (o *Orchestrator) completeEnrollment(ctx context.Context, order orders.Order) error {
	traceId := ctxmanage.GetTraceId(ctx)
	grant := grantFor(order)
	b := retry.WithMaxRetries(o.conf.RetryAttempts, retry.NewExponential(o.conf.RetryBase))

	attempt := 0
	return retry.Do(ctx, b, func(ctx context.Context) error {
		attempt++
		err := o.enroller.Grant(ctx, grant)
		if err != nil {
			if errors.Is(err, enrollments.ErrCourseNotFound) || errors.Is(err, enrollments.ErrInvalidGrant) {
				return err
			}
			slog.Warn("enrollment attempt failed", slog.String(logkey.TraceID, traceId),
				slog.String(logkey.OrderID, order.ID), slog.Int("Attempt", attempt),
				slog.String(logkey.ERROR, err.Error()))
			return retry.RetryableError(err)
		}
		if err := o.orders.MarkEnrolled(ctx, order.ID, o.now()); err != nil {
			return retry.RetryableError(fmt.Errorf("marking order enrolled: %w", err))
		}
		return nil
	})
}

func (o *Orchestrator) publishConfirmed(ctx context.Context, order orders.Order, enrolled bool) {
	if o.publisher == nil {
		return
	}
	traceId := ctxmanage.GetTraceId(ctx)
	event := kafka.OrderConfirmedEvent{
		OrderId:    order.ID,
		StudentId:  order.StudentID,
		CourseId:   order.CourseID,
		Amount:     order.Amount,
		Currency:   order.Currency,
		PaymentRef: order.PaymentRef,
		Enrolled:   enrolled,
		CreatedAt:  o.now(),
	}
	value, err := json.Marshal(event)
	if err != nil {
		slog.Error("failed to marshal order confirmed event", slog.String(logkey.TraceID, traceId),
			slog.String(logkey.ERROR, err.Error()))
		return
	}
	if err := o.publisher.ProduceMessage(ctx, kafka.TopicOrderConfirmed, []byte(order.ID), value); err != nil {
		slog.Error("failed to publish order confirmed event", slog.String(logkey.TraceID, traceId),
			slog.String(logkey.OrderID, order.ID), slog.String(logkey.ERROR, err.Error()))
	}
}
