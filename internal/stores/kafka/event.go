package kafka

import "time"

const (
	TopicOrderConfirmed = `enrollment-service.order-confirmed`
)

// OrderConfirmedEvent is published once per order, by the caller that won the
// pending -> confirmed transition.
type OrderConfirmedEvent struct {
	OrderId    string    `json:"order_id"`
	StudentId  string    `json:"student_id"`
	CourseId   string    `json:"course_id"`
	Amount     int64     `json:"amount"`
	Currency   string    `json:"currency"`
	PaymentRef string    `json:"payment_ref"`
	Enrolled   bool      `json:"enrolled"`
	CreatedAt  time.Time `json:"created_at"`
}
