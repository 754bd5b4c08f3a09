package orders

import (
	"errors"
	"time"
)

type Status string

const (
	StatusPending   Status = "pending"
	StatusConfirmed Status = "confirmed"
	StatusFailed    Status = "failed"
)

var (
	ErrNotFound          = errors.New("order not found")
	ErrIllegalTransition = errors.New("illegal order transition")
)

// Terminal reports whether no transition may leave s.
func (s Status) Terminal() bool {
	return s == StatusConfirmed || s == StatusFailed
}

func (s Status) Valid() bool {
	return s == StatusPending || s.Terminal()
}

// CanTransition lists the only legal moves of the lifecycle.
func CanTransition(from, to Status) bool {
	return from == StatusPending && to.Terminal()
}

// Order is one purchase attempt. Course and buyer fields are snapshots taken at init
// time so later catalog edits never change what was charged.
type Order struct {
	ID             string     `json:"id"`
	StudentID      string     `json:"student_id"`
	StudentName    string     `json:"student_name"`
	StudentEmail   string     `json:"student_email"`
	CourseID       string     `json:"course_id"`
	CourseTitle    string     `json:"course_title"`
	CourseImage    string     `json:"course_image"`
	InstructorID   string     `json:"instructor_id"`
	InstructorName string     `json:"instructor_name"`
	Amount         int64      `json:"amount"` // minor currency unit
	Currency       string     `json:"currency"`
	RemoteOrderRef string     `json:"remote_order_ref"`
	PaymentRef     string     `json:"payment_ref"`
	Status         Status     `json:"status"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
	ConfirmedAt    *time.Time `json:"confirmed_at,omitempty"`
	EnrolledAt     *time.Time `json:"enrolled_at,omitempty"`
}

func (o Order) Validate() error {
	switch {
	case o.ID == "" || o.StudentID == "" || o.CourseID == "":
		return errors.New("order id, student id and course id are required")
	case o.Amount <= 0:
		return errors.New("order amount must be positive")
	case o.Currency == "":
		return errors.New("order currency is required")
	case o.RemoteOrderRef == "":
		return errors.New("remote order reference is required")
	case !o.Status.Valid():
		return errors.New("unknown order status")
	}
	return nil
}
