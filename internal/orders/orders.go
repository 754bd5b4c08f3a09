package orders

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

type Conf struct {
	db *sql.DB
}

func NewConf(db *sql.DB) (*Conf, error) {
	if db == nil {
		return nil, fmt.Errorf("db is nil")
	}
	return &Conf{db: db}, nil
}

const orderColumns = `
	id, student_id, student_name, student_email, course_id, course_title, course_image,
	instructor_id, instructor_name, amount, currency, remote_order_ref, payment_ref, status,
	created_at, updated_at, confirmed_at, enrolled_at`

func (c *Conf) CreateOrder(ctx context.Context, o Order) error {
	if err := o.Validate(); err != nil {
		return fmt.Errorf("invalid order: %w", err)
	}
	query := `
		INSERT INTO orders (
			id, student_id, student_name, student_email, course_id, course_title, course_image,
			instructor_id, instructor_name, amount, currency, remote_order_ref, payment_ref, status,
			created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $15)
	`
	_, err := c.db.ExecContext(ctx, query,
		o.ID, o.StudentID, o.StudentName, o.StudentEmail, o.CourseID, o.CourseTitle, o.CourseImage,
		o.InstructorID, o.InstructorName, o.Amount, o.Currency, o.RemoteOrderRef, o.PaymentRef, string(o.Status),
		o.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert order: %w", err)
	}
	return nil
}

func (c *Conf) GetOrder(ctx context.Context, id string) (Order, error) {
	query := `SELECT` + orderColumns + ` FROM orders WHERE id = $1`
	o, err := scanOrder(c.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Order{}, ErrNotFound
		}
		return Order{}, fmt.Errorf("failed to query order: %w", err)
	}
	return o, nil
}

// TransitionFromPending moves the order to `to` only if it is still pending. The boolean
// reports whether this call performed the transition; a concurrent caller that lost the
// race gets false and must re-read the order.
func (c *Conf) TransitionFromPending(ctx context.Context, id string, to Status, paymentRef string, at time.Time) (bool, error) {
	if !CanTransition(StatusPending, to) {
		return false, fmt.Errorf("%w: pending -> %s", ErrIllegalTransition, to)
	}
	var confirmedAt sql.NullTime
	if to == StatusConfirmed {
		confirmedAt = sql.NullTime{Time: at, Valid: true}
	}
	query := `
		UPDATE orders
		SET status = $2, payment_ref = $3, confirmed_at = $4, updated_at = $5
		WHERE id = $1 AND status = 'pending'
	`
	res, err := c.db.ExecContext(ctx, query, id, string(to), paymentRef, confirmedAt, at)
	if err != nil {
		return false, fmt.Errorf("failed to transition order: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read affected rows: %w", err)
	}
	return n == 1, nil
}

// MarkEnrolled records that the enrollment side effects of a confirmed order completed.
// Calling it again is a no-op.
func (c *Conf) MarkEnrolled(ctx context.Context, id string, at time.Time) error {
	query := `
		UPDATE orders
		SET enrolled_at = $2, updated_at = $2
		WHERE id = $1 AND status = 'confirmed' AND enrolled_at IS NULL
	`
	if _, err := c.db.ExecContext(ctx, query, id, at); err != nil {
		return fmt.Errorf("failed to mark order enrolled: %w", err)
	}
	return nil
}

func (c *Conf) HasConfirmedOrder(ctx context.Context, studentID, courseID string) (bool, error) {
	query := `
		SELECT EXISTS (
			SELECT 1 FROM orders
			WHERE student_id = $1 AND course_id = $2 AND status = 'confirmed'
		)
	`
	var exists bool
	if err := c.db.QueryRowContext(ctx, query, studentID, courseID).Scan(&exists); err != nil {
		return false, fmt.Errorf("failed to query confirmed orders: %w", err)
	}
	return exists, nil
}

// ListUnenrolled returns confirmed orders whose enrollment never completed, oldest first.
func (c *Conf) ListUnenrolled(ctx context.Context, limit int) ([]Order, error) {
	query := `SELECT` + orderColumns + `
		FROM orders
		WHERE status = 'confirmed' AND enrolled_at IS NULL
		ORDER BY confirmed_at
		LIMIT $1`
	rows, err := c.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query unenrolled orders: %w", err)
	}
	defer rows.Close()

	var out []Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan order: %w", err)
		}
		out = append(out, o)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating orders: %w", err)
	}
	return out, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanOrder(s scanner) (Order, error) {
	var (
		o           Order
		status      string
		confirmedAt sql.NullTime
		enrolledAt  sql.NullTime
	)
	err := s.Scan(
		&o.ID, &o.StudentID, &o.StudentName, &o.StudentEmail, &o.CourseID, &o.CourseTitle, &o.CourseImage,
		&o.InstructorID, &o.InstructorName, &o.Amount, &o.Currency, &o.RemoteOrderRef, &o.PaymentRef, &status,
		&o.CreatedAt, &o.UpdatedAt, &confirmedAt, &enrolledAt,
	)
	if err != nil {
		return Order{}, err
	}
	o.Status = Status(status)
	if confirmedAt.Valid {
		o.ConfirmedAt = &confirmedAt.Time
	}
	if enrolledAt.Valid {
		o.EnrolledAt = &enrolledAt.Time
	}
	return o, nil
}
