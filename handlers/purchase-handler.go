package handlers

import (
	"log/slog"
	"net/http"

	"enrollment-service/internal/auth"
	"enrollment-service/internal/purchase"
	"enrollment-service/pkg/ctxmanage"
	"enrollment-service/pkg/logkey"

	"github.com/gin-gonic/gin"
)

type InitPurchaseRequest struct {
	StudentID string `json:"studentId" validate:"required,max=64"`
	CourseID  string `json:"courseId" validate:"required,max=64"`
}

// InitPurchase opens a pending order for the authenticated student. The price always
// comes from the catalog; any amount in the body is ignored.
func (h *Handler) InitPurchase(c *gin.Context) {
	traceId := ctxmanage.GetTraceIdOfRequest(c)
	claims, ok := c.Request.Context().Value(auth.ClaimsKey).(auth.Claims)
	if !ok {
		slog.Error("claims not found", slog.String(logkey.TraceID, traceId))
		abort(c, http.StatusUnauthorized, CodeUnauthorized, http.StatusText(http.StatusUnauthorized))
		return
	}

	var req InitPurchaseRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		slog.Error("json validation error", slog.String(logkey.TraceID, traceId), slog.String(logkey.ERROR, err.Error()))
		abort(c, http.StatusBadRequest, CodeValidation, "invalid request body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		slog.Error("validation failed", slog.String(logkey.TraceID, traceId), slog.String(logkey.ERROR, err.Error()))
		abort(c, http.StatusBadRequest, CodeValidation, validationMessage(err))
		return
	}

	if claims.Subject != req.StudentID {
		slog.Error("student id does not match token subject", slog.String(logkey.TraceID, traceId),
			slog.String(logkey.StudentID, req.StudentID))
		abort(c, http.StatusForbidden, CodeForbidden, "cannot purchase on behalf of another student")
		return
	}

	res, err := h.p.Init(c.Request.Context(), purchase.InitRequest{StudentID: req.StudentID, CourseID: req.CourseID})
	if err != nil {
		abortWithError(c, traceId, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{"success": true, "data": res})
}
