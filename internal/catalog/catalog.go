// Package catalog reads the course and user documents owned by the catalog and user
// services. Nothing here writes.
package catalog

import (
	"context"
	"errors"
	"fmt"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const (
	CoursesCollection = "courses"
	UsersCollection   = "users"
)

var (
	ErrCourseNotFound  = errors.New("course not found")
	ErrStudentNotFound = errors.New("student not found")
)

type Course struct {
	ID             string  `bson:"_id"`
	Title          string  `bson:"title"`
	Image          string  `bson:"image"`
	Pricing        float64 `bson:"pricing"` // major currency unit
	InstructorID   string  `bson:"instructorId"`
	InstructorName string  `bson:"instructorName"`
}

type Student struct {
	ID    string `bson:"_id"`
	Name  string `bson:"userName"`
	Email string `bson:"userEmail"`
	Role  string `bson:"role"`
}

type MongoCatalog struct {
	courses *mongo.Collection
	users   *mongo.Collection
}

func NewMongoCatalog(db *mongo.Database) *MongoCatalog {
	return &MongoCatalog{
		courses: db.Collection(CoursesCollection),
		users:   db.Collection(UsersCollection),
	}
}

func (m *MongoCatalog) Course(ctx context.Context, id string) (Course, error) {
	// the roster can be large; never pull it just to price an order
	opts := options.FindOne().SetProjection(bson.M{"students": 0})
	var c Course
	err := m.courses.FindOne(ctx, bson.M{"_id": id}, opts).Decode(&c)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return Course{}, ErrCourseNotFound
		}
		return Course{}, fmt.Errorf("failed to find course: %w", err)
	}
	return c, nil
}

func (m *MongoCatalog) Student(ctx context.Context, id string) (Student, error) {
	opts := options.FindOne().SetProjection(bson.M{"password": 0})
	var s Student
	err := m.users.FindOne(ctx, bson.M{"_id": id}, opts).Decode(&s)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return Student{}, ErrStudentNotFound
		}
		return Student{}, fmt.Errorf("failed to find student: %w", err)
	}
	return s, nil
}
