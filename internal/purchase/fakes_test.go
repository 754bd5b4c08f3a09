package purchase

import (
	"context"
	"errors"
	"sync"
	"time"

	"enrollment-service/internal/catalog"
	"enrollment-service/internal/enrollments"
	"enrollment-service/internal/gateway"
	"enrollment-service/internal/orders"
)

type MockGateway struct {
	OpenFunc func(ctx context.Context, amount int64, currency, seed string) (gateway.RemoteOrder, error)

	mu    sync.Mutex
	calls []int64
}

func (m *MockGateway) OpenRemoteOrder(ctx context.Context, amount int64, currency, seed string) (gateway.RemoteOrder, error) {
	m.mu.Lock()
	m.calls = append(m.calls, amount)
	m.mu.Unlock()
	if m.OpenFunc != nil {
		return m.OpenFunc(ctx, amount, currency, seed)
	}
	return gateway.RemoteOrder{Ref: "pi_" + seed, Amount: amount, Currency: currency, ClientSecret: "pi_" + seed + "_secret"}, nil
}

func (m *MockGateway) PublicKey() string { return "pk_test_123" }

// memOrders mirrors the conditional update of the SQL store: a transition only applies
// while the row is still pending.
type memOrders struct {
	mu          sync.Mutex
	rows        map[string]orders.Order
	transitions int
	markErr     error
}

func newMemOrders() *memOrders {
	return &memOrders{rows: map[string]orders.Order{}}
}

func (m *memOrders) CreateOrder(_ context.Context, o orders.Order) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := o.Validate(); err != nil {
		return err
	}
	if _, ok := m.rows[o.ID]; ok {
		return errors.New("duplicate order id")
	}
	m.rows[o.ID] = o
	return nil
}

func (m *memOrders) GetOrder(_ context.Context, id string) (orders.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.rows[id]
	if !ok {
		return orders.Order{}, orders.ErrNotFound
	}
	return o, nil
}

func (m *memOrders) TransitionFromPending(_ context.Context, id string, to orders.Status, paymentRef string, at time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.rows[id]
	if !ok || o.Status != orders.StatusPending {
		return false, nil
	}
	if !orders.CanTransition(o.Status, to) {
		return false, orders.ErrIllegalTransition
	}
	o.Status = to
	o.UpdatedAt = at
	if to == orders.StatusConfirmed {
		o.PaymentRef = paymentRef
		o.ConfirmedAt = &at
	}
	m.rows[id] = o
	m.transitions++
	return true, nil
}

func (m *memOrders) MarkEnrolled(_ context.Context, id string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.markErr != nil {
		return m.markErr
	}
	o, ok := m.rows[id]
	if !ok {
		return orders.ErrNotFound
	}
	o.EnrolledAt = &at
	m.rows[id] = o
	return nil
}

func (m *memOrders) HasConfirmedOrder(_ context.Context, studentID, courseID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, o := range m.rows {
		if o.StudentID == studentID && o.CourseID == courseID && o.Status == orders.StatusConfirmed {
			return true, nil
		}
	}
	return false, nil
}

func (m *memOrders) ListUnenrolled(_ context.Context, limit int) ([]orders.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []orders.Order
	for _, o := range m.rows {
		if o.Status == orders.StatusConfirmed && o.EnrolledAt == nil {
			out = append(out, o)
		}
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

func (m *memOrders) get(id string) orders.Order {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.rows[id]
}

type MockCatalog struct {
	Courses  map[string]catalog.Course
	Students map[string]catalog.Student
}

func (m *MockCatalog) Course(_ context.Context, id string) (catalog.Course, error) {
	c, ok := m.Courses[id]
	if !ok {
		return catalog.Course{}, catalog.ErrCourseNotFound
	}
	return c, nil
}

func (m *MockCatalog) Student(_ context.Context, id string) (catalog.Student, error) {
	s, ok := m.Students[id]
	if !ok {
		return catalog.Student{}, catalog.ErrStudentNotFound
	}
	return s, nil
}

// memEnroller keeps both sides as keyed sets so a repeated grant cannot duplicate.
type memEnroller struct {
	mu       sync.Mutex
	lists    map[string]map[string]bool
	rosters  map[string]map[string]bool
	grants   int
	failures int // the next n grants fail after the student side is written
	err      error
}

func newMemEnroller() *memEnroller {
	return &memEnroller{lists: map[string]map[string]bool{}, rosters: map[string]map[string]bool{}}
}

func (m *memEnroller) Grant(_ context.Context, g enrollments.Grant) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.grants++
	if m.err != nil {
		return m.err
	}
	if m.lists[g.StudentID] == nil {
		m.lists[g.StudentID] = map[string]bool{}
	}
	m.lists[g.StudentID][g.CourseID] = true
	if m.failures > 0 {
		m.failures--
		return errors.New("roster write timed out")
	}
	if m.rosters[g.CourseID] == nil {
		m.rosters[g.CourseID] = map[string]bool{}
	}
	m.rosters[g.CourseID][g.StudentID] = true
	return nil
}

func (m *memEnroller) HasConfirmedEnrollment(_ context.Context, studentID, courseID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.rosters[courseID][studentID], nil
}

func (m *memEnroller) grantCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.grants
}

type MockPublisher struct {
	mu     sync.Mutex
	topics []string
	err    error
}

func (m *MockPublisher) ProduceMessage(_ context.Context, topic string, _, _ []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.topics = append(m.topics, topic)
	return m.err
}
