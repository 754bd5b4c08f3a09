package handlers

import (
	"log/slog"
	"net/http"
	"strconv"

	"enrollment-service/internal/auth"
	"enrollment-service/pkg/ctxmanage"
	"enrollment-service/pkg/logkey"

	"github.com/gin-gonic/gin"
)

const defaultReconcileLimit = 100

// allowedFor reports whether the caller may read studentID's enrollments.
func allowedFor(c *gin.Context, studentID string) (auth.Claims, bool) {
	claims, ok := c.Request.Context().Value(auth.ClaimsKey).(auth.Claims)
	if !ok {
		return auth.Claims{}, false
	}
	return claims, claims.Subject == studentID || claims.HasRole(auth.RoleAdmin)
}

func (h *Handler) CheckEnrollment(c *gin.Context) {
	traceId := ctxmanage.GetTraceIdOfRequest(c)
	studentID := c.Query("studentId")
	courseID := c.Query("courseId")
	if studentID == "" || courseID == "" {
		abort(c, http.StatusBadRequest, CodeValidation, "studentId and courseId are required")
		return
	}
	if _, ok := allowedFor(c, studentID); !ok {
		slog.Error("enrollment check for another student", slog.String(logkey.TraceID, traceId),
			slog.String(logkey.StudentID, studentID))
		abort(c, http.StatusForbidden, CodeForbidden, http.StatusText(http.StatusForbidden))
		return
	}

	enrolled, err := h.p.HasConfirmedEnrollment(c.Request.Context(), studentID, courseID)
	if err != nil {
		abortWithError(c, traceId, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "data": gin.H{
		"studentId": studentID,
		"courseId":  courseID,
		"enrolled":  enrolled,
	}})
}

// StudentCourses lists the purchased courses of studentId, defaulting to the caller.
func (h *Handler) StudentCourses(c *gin.Context) {
	traceId := ctxmanage.GetTraceIdOfRequest(c)
	studentID := c.Query("studentId")
	if studentID == "" {
		claims, _ := c.Request.Context().Value(auth.ClaimsKey).(auth.Claims)
		studentID = claims.Subject
	}
	if _, ok := allowedFor(c, studentID); !ok {
		abort(c, http.StatusForbidden, CodeForbidden, http.StatusText(http.StatusForbidden))
		return
	}

	courses, err := h.courses.StudentCourses(c.Request.Context(), studentID)
	if err != nil {
		abortWithError(c, traceId, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "data": courses})
}

// Reconcile replays enrollment for confirmed orders left unenrolled.
func (h *Handler) Reconcile(c *gin.Context) {
	traceId := ctxmanage.GetTraceIdOfRequest(c)
	limit := defaultReconcileLimit
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			abort(c, http.StatusBadRequest, CodeValidation, "limit must be a positive integer")
			return
		}
		limit = n
	}

	done, err := h.p.Reconcile(c.Request.Context(), limit)
	if err != nil {
		slog.Error("reconcile incomplete", slog.String(logkey.TraceID, traceId), slog.String(logkey.ERROR, err.Error()))
		c.JSON(http.StatusMultiStatus, gin.H{"success": false, "error": CodeEnrollmentWriteFailed,
			"message": "some orders could not be enrolled", "data": gin.H{"enrolled": done}})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "data": gin.H{"enrolled": done}})
}
