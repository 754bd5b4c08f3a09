// Package enrollments applies the two durable effects of a confirmed payment: the course
// entry in the student's list and the student entry in the course roster.
//
// The two documents live apart and no transaction spans them. Every write is an
// insert-if-absent keyed by the partner id, so Grant can be re-run after any partial
// failure and converges to exactly one entry on each side.
package enrollments

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const (
	StudentCoursesCollection = "studentCourses"
	CoursesCollection        = "courses"
)

var (
	ErrCourseNotFound = errors.New("course not found")
	ErrInvalidGrant   = errors.New("invalid grant")
)

// Grant carries everything both sides need; it is derived from a confirmed order.
type Grant struct {
	StudentID      string
	StudentName    string
	StudentEmail   string
	CourseID       string
	CourseTitle    string
	CourseImage    string
	InstructorID   string
	InstructorName string
	AmountPaid     int64
	Currency       string
	PurchasedAt    time.Time
}

func (g Grant) validate() error {
	if g.StudentID == "" || g.CourseID == "" {
		return fmt.Errorf("%w: student id and course id are required", ErrInvalidGrant)
	}
	return nil
}

// CourseEntry is one element of studentCourses.courses.
type CourseEntry struct {
	CourseID       string    `bson:"courseId"`
	Title          string    `bson:"title"`
	InstructorID   string    `bson:"instructorId"`
	InstructorName string    `bson:"instructorName"`
	DateOfPurchase time.Time `bson:"dateOfPurchase"`
	CourseImage    string    `bson:"courseImage"`
}

// RosterEntry is one element of courses.students.
type RosterEntry struct {
	StudentID    string `bson:"studentId"`
	StudentName  string `bson:"studentName"`
	StudentEmail string `bson:"studentEmail"`
	PaidAmount   int64  `bson:"paidAmount"`
	Currency     string `bson:"currency"`
}

type Writer struct {
	studentCourses *mongo.Collection
	courses        *mongo.Collection
}

func NewWriter(db *mongo.Database) *Writer {
	return &Writer{
		studentCourses: db.Collection(StudentCoursesCollection),
		courses:        db.Collection(CoursesCollection),
	}
}

// Grant writes the student side first and the roster last. The access gate reads the
// roster, so a student is never reported enrolled while their own list is still missing
// the course.
func (w *Writer) Grant(ctx context.Context, g Grant) error {
	if err := g.validate(); err != nil {
		return err
	}
	if err := w.addToStudentList(ctx, g); err != nil {
		return err
	}
	return w.addToRoster(ctx, g)
}

func (w *Writer) addToStudentList(ctx context.Context, g Grant) error {
	_, err := w.studentCourses.UpdateOne(ctx,
		bson.M{"_id": g.StudentID},
		bson.M{"$setOnInsert": bson.M{"courses": bson.A{}}},
		options.Update().SetUpsert(true),
	)
	// two first-time grants for one student race on the upsert; the loser sees E11000
	// and the document exists either way
	if err != nil && !mongo.IsDuplicateKeyError(err) {
		return fmt.Errorf("failed to ensure student course list: %w", err)
	}

	entry := CourseEntry{
		CourseID:       g.CourseID,
		Title:          g.CourseTitle,
		InstructorID:   g.InstructorID,
		InstructorName: g.InstructorName,
		DateOfPurchase: g.PurchasedAt.UTC(),
		CourseImage:    g.CourseImage,
	}
	_, err = w.studentCourses.UpdateOne(ctx,
		bson.M{"_id": g.StudentID, "courses.courseId": bson.M{"$ne": g.CourseID}},
		bson.M{"$push": bson.M{"courses": entry}},
	)
	if err != nil {
		return fmt.Errorf("failed to add course to student list: %w", err)
	}
	return nil
}

func (w *Writer) addToRoster(ctx context.Context, g Grant) error {
	entry := RosterEntry{
		StudentID:    g.StudentID,
		StudentName:  g.StudentName,
		StudentEmail: g.StudentEmail,
		PaidAmount:   g.AmountPaid,
		Currency:     g.Currency,
	}
	res, err := w.courses.UpdateOne(ctx,
		bson.M{"_id": g.CourseID, "students.studentId": bson.M{"$ne": g.StudentID}},
		bson.M{"$push": bson.M{"students": entry}},
	)
	if err != nil {
		return fmt.Errorf("failed to add student to roster: %w", err)
	}
	if res.MatchedCount > 0 {
		return nil
	}

	// nothing matched: either the student is already on the roster or the course is gone
	n, err := w.courses.CountDocuments(ctx, bson.M{"_id": g.CourseID}, options.Count().SetLimit(1))
	if err != nil {
		return fmt.Errorf("failed to check course: %w", err)
	}
	if n == 0 {
		return ErrCourseNotFound
	}
	return nil
}

// HasConfirmedEnrollment is the access gate: true iff the course roster holds the student.
func (w *Writer) HasConfirmedEnrollment(ctx context.Context, studentID, courseID string) (bool, error) {
	if studentID == "" || courseID == "" {
		return false, nil
	}
	n, err := w.courses.CountDocuments(ctx,
		bson.M{"_id": courseID, "students.studentId": studentID},
		options.Count().SetLimit(1),
	)
	if err != nil {
		return false, fmt.Errorf("failed to check enrollment: %w", err)
	}
	return n > 0, nil
}

// StudentCourses lists the courses in the student's enrollment list.
func (w *Writer) StudentCourses(ctx context.Context, studentID string) ([]CourseEntry, error) {
	var doc struct {
		Courses []CourseEntry `bson:"courses"`
	}
	err := w.studentCourses.FindOne(ctx, bson.M{"_id": studentID}).Decode(&doc)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to find student courses: %w", err)
	}
	return doc.Courses, nil
}
