package handlers

import (
	"errors"
	"log/slog"
	"net/http"

	"enrollment-service/internal/purchase"
	"enrollment-service/pkg/ctxmanage"
	"enrollment-service/pkg/logkey"

	"github.com/gin-gonic/gin"
)

const maxCallbackBytes = int64(65536)

// CallbackRequest accepts both JSON and form posts; gateways differ in which they send.
type CallbackRequest struct {
	OrderID          string `json:"orderId" form:"orderId" validate:"omitempty,max=64"`
	RemotePaymentRef string `json:"remotePaymentRef" form:"remotePaymentRef" validate:"required,max=255"`
	RemoteOrderRef   string `json:"remoteOrderRef" form:"remoteOrderRef" validate:"omitempty,max=255"`
	Signature        string `json:"signature" form:"signature" validate:"required,max=256"`
}

// Callback settles the order named by a gateway callback. A repeated delivery gets the
// same body as the first. The "enrolled" field is the enrollment state at response time:
// a confirmed order whose enrollment is still being reconciled answers 200 with
// "enrolled": false, so callers must read that field rather than the status code.
func (h *Handler) Callback(c *gin.Context) {
	traceId := ctxmanage.GetTraceIdOfRequest(c)

	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxCallbackBytes)

	var req CallbackRequest
	if err := c.ShouldBind(&req); err != nil {
		slog.Error("failed to bind callback", slog.String(logkey.TraceID, traceId), slog.String(logkey.ERROR, err.Error()))
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			abort(c, http.StatusRequestEntityTooLarge, CodeValidation, "callback body too large")
			return
		}
		abort(c, http.StatusBadRequest, CodeValidation, "invalid callback body")
		return
	}
	if req.OrderID == "" {
		req.OrderID = c.Query("orderId")
	}
	if req.OrderID == "" {
		abort(c, http.StatusBadRequest, CodeValidation, "orderId value missing")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		slog.Error("callback validation failed", slog.String(logkey.TraceID, traceId), slog.String(logkey.ERROR, err.Error()))
		abort(c, http.StatusBadRequest, CodeValidation, validationMessage(err))
		return
	}

	slog.Info("payment callback received", slog.String(logkey.TraceID, traceId), slog.String(logkey.OrderID, req.OrderID),
		slog.String("Payment Ref", req.RemotePaymentRef))

	conf, err := h.p.HandleCallback(c.Request.Context(), purchase.Callback{
		OrderID:          req.OrderID,
		RemotePaymentRef: req.RemotePaymentRef,
		RemoteOrderRef:   req.RemoteOrderRef,
		Signature:        req.Signature,
	})
	if err != nil {
		abortWithError(c, traceId, err)
		return
	}
	if conf.Replayed {
		slog.Info("callback replayed for confirmed order", slog.String(logkey.TraceID, traceId),
			slog.String(logkey.OrderID, conf.OrderID), slog.Bool("Enrolled", conf.Enrolled))
	}

	c.JSON(http.StatusOK, gin.H{"success": true, "data": conf})
}
