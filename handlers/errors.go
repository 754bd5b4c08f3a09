package handlers

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"enrollment-service/internal/purchase"
	"enrollment-service/pkg/logkey"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
)

// Error codes returned in the "error" field of every failed response.
const (
	CodeValidation            = "ValidationFailed"
	CodeUnauthorized          = "Unauthorized"
	CodeForbidden             = "Forbidden"
	CodeStudentNotFound       = "StudentNotFound"
	CodeCourseNotFound        = "CourseNotFound"
	CodeAlreadyEnrolled       = "AlreadyEnrolled"
	CodeInvalidPrice          = "InvalidPrice"
	CodeGatewayUnavailable    = "GatewayUnavailable"
	CodeGatewayRejected       = "GatewayRejected"
	CodeOrderNotFound         = "OrderNotFound"
	CodeInvalidSignature      = "InvalidSignature"
	CodeOrderAlreadyFailed    = "OrderAlreadyFailed"
	CodeEnrollmentWriteFailed = "EnrollmentWriteFailed"
	CodeInternal              = "Internal"
)

type apiError struct {
	status  int
	code    string
	message string
}

var errorTable = []struct {
	target error
	apiError
}{
	{purchase.ErrInvalidRequest, apiError{http.StatusBadRequest, CodeValidation, "studentId and courseId are required"}},
	{purchase.ErrStudentNotFound, apiError{http.StatusNotFound, CodeStudentNotFound, "student not found"}},
	{purchase.ErrCourseNotFound, apiError{http.StatusNotFound, CodeCourseNotFound, "course not found"}},
	{purchase.ErrAlreadyEnrolled, apiError{http.StatusConflict, CodeAlreadyEnrolled, "course already purchased"}},
	{purchase.ErrInvalidPrice, apiError{http.StatusBadRequest, CodeInvalidPrice, "course cannot be purchased"}},
	{purchase.ErrGatewayUnavailable, apiError{http.StatusServiceUnavailable, CodeGatewayUnavailable, "payment gateway unavailable, try again"}},
	{purchase.ErrGatewayRejected, apiError{http.StatusPaymentRequired, CodeGatewayRejected, "payment gateway rejected the order"}},
	{purchase.ErrOrderNotFound, apiError{http.StatusNotFound, CodeOrderNotFound, "order not found"}},
	{purchase.ErrInvalidSignature, apiError{http.StatusBadRequest, CodeInvalidSignature, "payment verification failed"}},
	{purchase.ErrOrderAlreadyFailed, apiError{http.StatusConflict, CodeOrderAlreadyFailed, "order already failed"}},
	{purchase.ErrEnrollmentWriteFailed, apiError{http.StatusServiceUnavailable, CodeEnrollmentWriteFailed, "payment received, enrollment is being completed"}},
}

func classify(err error) apiError {
	for _, e := range errorTable {
		if errors.Is(err, e.target) {
			return e.apiError
		}
	}
	return apiError{http.StatusInternalServerError, CodeInternal, http.StatusText(http.StatusInternalServerError)}
}

// abortWithError logs err and writes the public part of it.
func abortWithError(c *gin.Context, traceId string, err error) {
	ae := classify(err)
	attrs := []any{slog.String(logkey.TraceID, traceId), slog.String(logkey.ERROR, err.Error()), slog.String("Code", ae.code)}
	if ae.status >= http.StatusInternalServerError {
		slog.Error("request failed", attrs...)
	} else {
		slog.Warn("request rejected", attrs...)
	}
	abort(c, ae.status, ae.code, ae.message)
}

func abort(c *gin.Context, status int, code, message string) {
	c.AbortWithStatusJSON(status, gin.H{
		"success": false,
		"error":   code,
		"message": message,
	})
}

// validationMessage turns validator errors into "field: rule" pairs.
func validationMessage(err error) string {
	var vErrs validator.ValidationErrors
	if !errors.As(err, &vErrs) {
		return "invalid request body"
	}
	msgs := make([]string, 0, len(vErrs))
	for _, vErr := range vErrs {
		switch vErr.Tag() {
		case "required":
			msgs = append(msgs, vErr.Field()+" value missing")
		case "max":
			msgs = append(msgs, fmt.Sprintf("%s must be at most %s characters", vErr.Field(), vErr.Param()))
		default:
			msgs = append(msgs, vErr.Field()+": "+vErr.Tag())
		}
	}
	return strings.Join(msgs, ", ")
}
