package handlers

import (
	"context"

	"enrollment-service/internal/auth"
	"enrollment-service/internal/enrollments"
	"enrollment-service/internal/purchase"
	"enrollment-service/middleware"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
)

type Purchaser interface {
	Init(ctx context.Context, req purchase.InitRequest) (purchase.InitResult, error)
	HandleCallback(ctx context.Context, cb purchase.Callback) (purchase.Confirmation, error)
	HasConfirmedEnrollment(ctx context.Context, studentID, courseID string) (bool, error)
	Reconcile(ctx context.Context, limit int) (int, error)
}

type CourseLister interface {
	StudentCourses(ctx context.Context, studentID string) ([]enrollments.CourseEntry, error)
}

type Handler struct {
	p        Purchaser
	courses  CourseLister
	validate *validator.Validate
}

func NewHandler(p Purchaser, courses CourseLister) *Handler {
	return &Handler{
		p:        p,
		courses:  courses,
		validate: validator.New(),
	}
}

func API(endpointPrefix, ginMode string, k *auth.Keys, p Purchaser, courses CourseLister) *gin.Engine {
	switch ginMode {
	case gin.ReleaseMode, gin.TestMode:
		gin.SetMode(ginMode)
	default:
		gin.SetMode(gin.DebugMode)
	}
	r := gin.New()
	m, err := middleware.NewMid(k)
	if err != nil {
		panic(err)
	}

	h := NewHandler(p, courses)
	r.Use(middleware.Logger(), gin.Recovery())

	r.GET("/ping", HealthCheck)
	v1 := r.Group(endpointPrefix)
	{
		// called by the payment gateway, authenticated by its signature
		v1.POST("/purchase/callback", h.Callback)

		v1.Use(m.Authentication())
		v1.POST("/purchase/init", h.InitPurchase)
		v1.GET("/enrollment/check", h.CheckEnrollment)
		v1.GET("/enrollment/courses", h.StudentCourses)
		v1.POST("/admin/reconcile", m.Authorize(h.Reconcile, auth.RoleAdmin))
	}
	return r
}

func HealthCheck(c *gin.Context) {
	c.JSON(200, gin.H{
		"message": "pong",
	})
}
