// Package purchase drives a course purchase from intent to durable enrollment:
// open a remote order, persist it as pending, verify the gateway callback and grant
// access exactly once per order.
package purchase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"enrollment-service/internal/catalog"
	"enrollment-service/internal/enrollments"
	"enrollment-service/internal/gateway"
	"enrollment-service/internal/orders"
	"enrollment-service/pkg/ctxmanage"
	"enrollment-service/pkg/logkey"

	"github.com/google/uuid"
)

type Gateway interface {
	OpenRemoteOrder(ctx context.Context, amount int64, currency, idempotencySeed string) (gateway.RemoteOrder, error)
	PublicKey() string
}

type OrderStore interface {
	CreateOrder(ctx context.Context, o orders.Order) error
	GetOrder(ctx context.Context, id string) (orders.Order, error)
	TransitionFromPending(ctx context.Context, id string, to orders.Status, paymentRef string, at time.Time) (bool, error)
	MarkEnrolled(ctx context.Context, id string, at time.Time) error
	HasConfirmedOrder(ctx context.Context, studentID, courseID string) (bool, error)
	ListUnenrolled(ctx context.Context, limit int) ([]orders.Order, error)
}

type Catalog interface {
	Course(ctx context.Context, id string) (catalog.Course, error)
	Student(ctx context.Context, id string) (catalog.Student, error)
}

type Enroller interface {
	Grant(ctx context.Context, g enrollments.Grant) error
	HasConfirmedEnrollment(ctx context.Context, studentID, courseID string) (bool, error)
}

type Publisher interface {
	ProduceMessage(ctx context.Context, topic string, key, value []byte) error
}

type Conf struct {
	SigningSecret  string
	Currency       string
	GatewayTimeout time.Duration
	RetryAttempts  uint64
	RetryBase      time.Duration
}

type Deps struct {
	Gateway   Gateway
	Orders    OrderStore
	Catalog   Catalog
	Enroller  Enroller
	Publisher Publisher // optional
}

type Orchestrator struct {
	conf      Conf
	gateway   Gateway
	orders    OrderStore
	catalog   Catalog
	enroller  Enroller
	publisher Publisher

	now   func() time.Time
	newID func() string
}

func New(conf Conf, d Deps) (*Orchestrator, error) {
	switch {
	case conf.SigningSecret == "":
		return nil, errors.New("signing secret is required")
	case conf.Currency == "":
		return nil, errors.New("currency is required")
	case conf.GatewayTimeout <= 0:
		return nil, errors.New("gateway timeout must be positive")
	case conf.RetryBase <= 0:
		return nil, errors.New("retry base delay must be positive")
	case d.Gateway == nil || d.Orders == nil || d.Catalog == nil || d.Enroller == nil:
		return nil, errors.New("gateway, orders, catalog and enroller are required")
	}
	return &Orchestrator{
		conf:      conf,
		gateway:   d.Gateway,
		orders:    d.Orders,
		catalog:   d.Catalog,
		enroller:  d.Enroller,
		publisher: d.Publisher,
		now:       func() time.Time { return time.Now().UTC() },
		newID:     uuid.NewString,
	}, nil
}

type InitRequest struct {
	StudentID string
	CourseID  string
}

type InitResult struct {
	OrderID          string `json:"orderId"`
	RemoteOrderRef   string `json:"remoteOrderRef"`
	Amount           int64  `json:"amount"`
	Currency         string `json:"currency"`
	GatewayPublicKey string `json:"gatewayPublicKey"`
	ClientSecret     string `json:"clientSecret,omitempty"`
}

// Init prices the course server side, opens the remote order and only then persists the
// pending order, so a gateway failure leaves nothing behind.
func (o *Orchestrator) Init(ctx context.Context, req InitRequest) (InitResult, error) {
	traceId := ctxmanage.GetTraceId(ctx)
	if req.StudentID == "" || req.CourseID == "" {
		return InitResult{}, ErrInvalidRequest
	}

	student, err := o.catalog.Student(ctx, req.StudentID)
	if err != nil {
		if errors.Is(err, catalog.ErrStudentNotFound) {
			return InitResult{}, ErrStudentNotFound
		}
		return InitResult{}, fmt.Errorf("loading student: %w", err)
	}
	course, err := o.catalog.Course(ctx, req.CourseID)
	if err != nil {
		if errors.Is(err, catalog.ErrCourseNotFound) {
			return InitResult{}, ErrCourseNotFound
		}
		return InitResult{}, fmt.Errorf("loading course: %w", err)
	}

	if err := o.ensureNotEnrolled(ctx, req.StudentID, req.CourseID); err != nil {
		return InitResult{}, err
	}

	amount, err := ToMinorUnits(course.Pricing)
	if err != nil {
		return InitResult{}, err
	}

	orderID := o.newID()
	gctx, cancel := context.WithTimeout(ctx, o.conf.GatewayTimeout)
	remote, err := o.gateway.OpenRemoteOrder(gctx, amount, o.conf.Currency, orderID)
	cancel()
	if err != nil {
		slog.Error("failed to open remote order", slog.String(logkey.TraceID, traceId),
			slog.String(logkey.OrderID, orderID), slog.String(logkey.ERROR, err.Error()))
		if errors.Is(err, gateway.ErrRejected) {
			return InitResult{}, fmt.Errorf("%w: %w", ErrGatewayRejected, err)
		}
		return InitResult{}, fmt.Errorf("%w: %w", ErrGatewayUnavailable, err)
	}

	now := o.now()
	order := orders.Order{
		ID:             orderID,
		StudentID:      student.ID,
		StudentName:    student.Name,
		StudentEmail:   student.Email,
		CourseID:       course.ID,
		CourseTitle:    course.Title,
		CourseImage:    course.Image,
		InstructorID:   course.InstructorID,
		InstructorName: course.InstructorName,
		Amount:         amount,
		Currency:       o.conf.Currency,
		RemoteOrderRef: remote.Ref,
		Status:         orders.StatusPending,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := o.orders.CreateOrder(ctx, order); err != nil {
		// the remote order is orphaned; it expires on the processor side unpaid
		slog.Error("failed to persist order", slog.String(logkey.TraceID, traceId),
			slog.String(logkey.OrderID, orderID), slog.String("Remote Order Ref", remote.Ref),
			slog.String(logkey.ERROR, err.Error()))
		return InitResult{}, fmt.Errorf("persisting order: %w", err)
	}

	slog.Info("order opened", slog.String(logkey.TraceID, traceId), slog.String(logkey.OrderID, orderID),
		slog.String(logkey.StudentID, order.StudentID), slog.String(logkey.CourseID, order.CourseID),
		slog.Int64("Amount", amount))

	return InitResult{
		OrderID:          orderID,
		RemoteOrderRef:   remote.Ref,
		Amount:           amount,
		Currency:         o.conf.Currency,
		GatewayPublicKey: o.gateway.PublicKey(),
		ClientSecret:     remote.ClientSecret,
	}, nil
}

func (o *Orchestrator) ensureNotEnrolled(ctx context.Context, studentID, courseID string) error {
	enrolled, err := o.enroller.HasConfirmedEnrollment(ctx, studentID, courseID)
	if err != nil {
		return fmt.Errorf("checking enrollment: %w", err)
	}
	if enrolled {
		return ErrAlreadyEnrolled
	}
	// covers a confirmed order whose enrollment is still being reconciled
	confirmed, err := o.orders.HasConfirmedOrder(ctx, studentID, courseID)
	if err != nil {
		return fmt.Errorf("checking confirmed orders: %w", err)
	}
	if confirmed {
		return ErrAlreadyEnrolled
	}
	return nil
}

// HasConfirmedEnrollment is the access gate consumed by the course content flow.
func (o *Orchestrator) HasConfirmedEnrollment(ctx context.Context, studentID, courseID string) (bool, error) {
	return o.enroller.HasConfirmedEnrollment(ctx, studentID, courseID)
}
