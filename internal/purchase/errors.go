package purchase

import "errors"

var (
	ErrInvalidRequest  = errors.New("student id and course id are required")
	ErrStudentNotFound = errors.New("student not found")
	ErrCourseNotFound  = errors.New("course not found")
	ErrAlreadyEnrolled = errors.New("student already enrolled in course")
	ErrInvalidPrice    = errors.New("course price is not payable")

	// ErrGatewayUnavailable is retryable: nothing durable was created.
	ErrGatewayUnavailable = errors.New("gateway unavailable")
	ErrGatewayRejected    = errors.New("gateway rejected")

	ErrOrderNotFound      = errors.New("order not found")
	ErrInvalidSignature   = errors.New("invalid signature")
	ErrOrderAlreadyFailed = errors.New("order already failed")

	// ErrEnrollmentWriteFailed is returned after the order was confirmed but the enrollment
	// writes kept failing. The order stays confirmed and Reconcile completes it.
	ErrEnrollmentWriteFailed = errors.New("enrollment write failed")
)
