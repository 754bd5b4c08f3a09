package handlers

import (
	"bytes"
	"context"
	"crypto/rand"
	"crypto/rsa"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"enrollment-service/internal/auth"
	"enrollment-service/internal/enrollments"
	"enrollment-service/internal/purchase"
	"enrollment-service/pkg/ctxmanage"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type MockPurchaser struct {
	InitFunc      func(ctx context.Context, req purchase.InitRequest) (purchase.InitResult, error)
	CallbackFunc  func(ctx context.Context, cb purchase.Callback) (purchase.Confirmation, error)
	CheckFunc     func(ctx context.Context, studentID, courseID string) (bool, error)
	ReconcileFunc func(ctx context.Context, limit int) (int, error)
}

func (m *MockPurchaser) Init(ctx context.Context, req purchase.InitRequest) (purchase.InitResult, error) {
	if m.InitFunc != nil {
		return m.InitFunc(ctx, req)
	}
	return purchase.InitResult{}, errors.New("not implemented")
}

func (m *MockPurchaser) HandleCallback(ctx context.Context, cb purchase.Callback) (purchase.Confirmation, error) {
	if m.CallbackFunc != nil {
		return m.CallbackFunc(ctx, cb)
	}
	return purchase.Confirmation{}, errors.New("not implemented")
}

func (m *MockPurchaser) HasConfirmedEnrollment(ctx context.Context, studentID, courseID string) (bool, error) {
	if m.CheckFunc != nil {
		return m.CheckFunc(ctx, studentID, courseID)
	}
	return false, nil
}

func (m *MockPurchaser) Reconcile(ctx context.Context, limit int) (int, error) {
	if m.ReconcileFunc != nil {
		return m.ReconcileFunc(ctx, limit)
	}
	return 0, nil
}

type MockCourseLister struct {
	StudentCoursesFunc func(ctx context.Context, studentID string) ([]enrollments.CourseEntry, error)
}

func (m *MockCourseLister) StudentCourses(ctx context.Context, studentID string) ([]enrollments.CourseEntry, error) {
	if m.StudentCoursesFunc != nil {
		return m.StudentCoursesFunc(ctx, studentID)
	}
	return nil, nil
}

type testServer struct {
	router  *gin.Engine
	priv    *rsa.PrivateKey
	p       *MockPurchaser
	courses *MockCourseLister
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)
	priv, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	keys, err := auth.NewKeys(&priv.PublicKey)
	require.NoError(t, err)

	s := &testServer{priv: priv, p: &MockPurchaser{}, courses: &MockCourseLister{}}
	s.router = API("/api/v1", gin.TestMode, keys, s.p, s.courses)
	return s
}

func (s *testServer) token(t *testing.T, subject string, roles ...string) string {
	t.Helper()
	claims := auth.Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
		Roles: roles,
	}
	tkn, err := jwt.NewWithClaims(jwt.SigningMethodRS256, claims).SignedString(s.priv)
	require.NoError(t, err)
	return tkn
}

func (s *testServer) do(req *http.Request) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	return w
}

func jsonRequest(t *testing.T, method, target, token string, body any) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, target, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	return req
}

type errorBody struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
	Message string `json:"message"`
}

func decodeError(t *testing.T, w *httptest.ResponseRecorder) errorBody {
	t.Helper()
	var body errorBody
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	return body
}

func TestHealthCheck(t *testing.T) {
	s := newTestServer(t)
	w := s.do(httptest.NewRequest(http.MethodGet, "/ping", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "pong")
	assert.NotEmpty(t, w.Header().Get(ctxmanage.TraceHeader))
}

func TestInitPurchase(t *testing.T) {
	s := newTestServer(t)
	var got purchase.InitRequest
	s.p.InitFunc = func(_ context.Context, req purchase.InitRequest) (purchase.InitResult, error) {
		got = req
		return purchase.InitResult{OrderID: "order_1", RemoteOrderRef: "pi_1", Amount: 49900, Currency: "INR", GatewayPublicKey: "pk"}, nil
	}

	body := map[string]any{"studentId": "stu_1", "courseId": "course_1", "amount": 1}
	w := s.do(jsonRequest(t, http.MethodPost, "/api/v1/purchase/init", s.token(t, "stu_1", auth.RoleUser), body))

	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	assert.Equal(t, purchase.InitRequest{StudentID: "stu_1", CourseID: "course_1"}, got)

	var resp struct {
		Success bool                `json:"success"`
		Data    purchase.InitResult `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.True(t, resp.Success)
	assert.Equal(t, int64(49900), resp.Data.Amount)
	assert.Equal(t, "pi_1", resp.Data.RemoteOrderRef)
}

func TestInitPurchaseRejections(t *testing.T) {
	s := newTestServer(t)
	called := false
	s.p.InitFunc = func(context.Context, purchase.InitRequest) (purchase.InitResult, error) {
		called = true
		return purchase.InitResult{}, nil
	}
	userToken := s.token(t, "stu_1", auth.RoleUser)

	tests := []struct {
		name   string
		req    *http.Request
		status int
		code   string
	}{
		{"no token", jsonRequest(t, http.MethodPost, "/api/v1/purchase/init", "", map[string]any{"studentId": "stu_1", "courseId": "c"}), http.StatusUnauthorized, ""},
		{"missing course", jsonRequest(t, http.MethodPost, "/api/v1/purchase/init", userToken, map[string]any{"studentId": "stu_1"}), http.StatusBadRequest, CodeValidation},
		{"bad json", func() *http.Request {
			r := httptest.NewRequest(http.MethodPost, "/api/v1/purchase/init", strings.NewReader("{"))
			r.Header.Set("Authorization", "Bearer "+userToken)
			r.Header.Set("Content-Type", "application/json")
			return r
		}(), http.StatusBadRequest, CodeValidation},
		{"other student", jsonRequest(t, http.MethodPost, "/api/v1/purchase/init", userToken, map[string]any{"studentId": "stu_2", "courseId": "c"}), http.StatusForbidden, CodeForbidden},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := s.do(tt.req)
			assert.Equal(t, tt.status, w.Code)
			if tt.code != "" {
				body := decodeError(t, w)
				assert.False(t, body.Success)
				assert.Equal(t, tt.code, body.Error)
			}
		})
	}
	assert.False(t, called)
}

func TestInitPurchaseErrorMapping(t *testing.T) {
	tests := []struct {
		err    error
		status int
		code   string
	}{
		{fmt.Errorf("%w: timeout", purchase.ErrGatewayUnavailable), http.StatusServiceUnavailable, CodeGatewayUnavailable},
		{purchase.ErrGatewayRejected, http.StatusPaymentRequired, CodeGatewayRejected},
		{purchase.ErrCourseNotFound, http.StatusNotFound, CodeCourseNotFound},
		{purchase.ErrStudentNotFound, http.StatusNotFound, CodeStudentNotFound},
		{purchase.ErrAlreadyEnrolled, http.StatusConflict, CodeAlreadyEnrolled},
		{purchase.ErrInvalidPrice, http.StatusBadRequest, CodeInvalidPrice},
		{errors.New("mongo down"), http.StatusInternalServerError, CodeInternal},
	}
	for _, tt := range tests {
		t.Run(tt.code, func(t *testing.T) {
			s := newTestServer(t)
			s.p.InitFunc = func(context.Context, purchase.InitRequest) (purchase.InitResult, error) {
				return purchase.InitResult{}, tt.err
			}
			w := s.do(jsonRequest(t, http.MethodPost, "/api/v1/purchase/init", s.token(t, "stu_1"),
				map[string]any{"studentId": "stu_1", "courseId": "course_1"}))
			assert.Equal(t, tt.status, w.Code)
			body := decodeError(t, w)
			assert.Equal(t, tt.code, body.Error)
			assert.NotContains(t, body.Message, "mongo")
		})
	}
}

func TestCallback(t *testing.T) {
	s := newTestServer(t)
	var got purchase.Callback
	s.p.CallbackFunc = func(_ context.Context, cb purchase.Callback) (purchase.Confirmation, error) {
		got = cb
		return purchase.Confirmation{OrderID: cb.OrderID, PaymentRef: cb.RemotePaymentRef, Enrolled: true}, nil
	}

	body := map[string]any{"orderId": "order_1", "remotePaymentRef": "pay_1", "remoteOrderRef": "pi_1", "signature": strings.Repeat("a", 64)}
	w := s.do(jsonRequest(t, http.MethodPost, "/api/v1/purchase/callback", "", body))

	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, purchase.Callback{OrderID: "order_1", RemotePaymentRef: "pay_1", RemoteOrderRef: "pi_1", Signature: strings.Repeat("a", 64)}, got)
	assert.Contains(t, w.Body.String(), `"enrolled":true`)
}

func TestCallbackRemotePaymentRefBody(t *testing.T) {
	s := newTestServer(t)
	var got purchase.Callback
	s.p.CallbackFunc = func(_ context.Context, cb purchase.Callback) (purchase.Confirmation, error) {
		got = cb
		return purchase.Confirmation{OrderID: cb.OrderID, PaymentRef: cb.RemotePaymentRef, Enrolled: true}, nil
	}

	raw := `{"orderId":"order_1","remotePaymentRef":"pay_1","remoteOrderRef":"pi_1","signature":"ab"}`
	req := httptest.NewRequest(http.MethodPost, "/api/v1/purchase/callback", strings.NewReader(raw))
	req.Header.Set("Content-Type", "application/json")
	w := s.do(req)

	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, "pay_1", got.RemotePaymentRef)
	assert.Equal(t, "pi_1", got.RemoteOrderRef)
	assert.Equal(t, "ab", got.Signature)
}

func TestCallbackReplayGetsSameBody(t *testing.T) {
	s := newTestServer(t)
	confirmedAt := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	calls := 0
	s.p.CallbackFunc = func(_ context.Context, cb purchase.Callback) (purchase.Confirmation, error) {
		calls++
		return purchase.Confirmation{
			OrderID:     cb.OrderID,
			PaymentRef:  cb.RemotePaymentRef,
			ConfirmedAt: confirmedAt,
			Enrolled:    true,
			Replayed:    calls > 1,
		}, nil
	}

	body := map[string]any{"orderId": "order_1", "remotePaymentRef": "pay_1", "signature": "ab"}
	first := s.do(jsonRequest(t, http.MethodPost, "/api/v1/purchase/callback", "", body))
	second := s.do(jsonRequest(t, http.MethodPost, "/api/v1/purchase/callback", "", body))

	require.Equal(t, http.StatusOK, first.Code)
	require.Equal(t, http.StatusOK, second.Code)
	assert.Equal(t, first.Body.String(), second.Body.String())
	assert.Equal(t, 2, calls)
}

func TestCallbackFormWithQueryOrderID(t *testing.T) {
	s := newTestServer(t)
	var got purchase.Callback
	s.p.CallbackFunc = func(_ context.Context, cb purchase.Callback) (purchase.Confirmation, error) {
		got = cb
		return purchase.Confirmation{OrderID: cb.OrderID}, nil
	}

	form := url.Values{"remotePaymentRef": {"pay_1"}, "signature": {"abc"}}
	req := httptest.NewRequest(http.MethodPost, "/api/v1/purchase/callback?orderId=order_9", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	w := s.do(req)

	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, "order_9", got.OrderID)
	assert.Equal(t, "pay_1", got.RemotePaymentRef)
}

func TestCallbackErrors(t *testing.T) {
	tests := []struct {
		name    string
		err     error
		status  int
		code    string
		message string
	}{
		{"invalid signature", purchase.ErrInvalidSignature, http.StatusBadRequest, CodeInvalidSignature, "payment verification failed"},
		{"unknown order", purchase.ErrOrderNotFound, http.StatusNotFound, CodeOrderNotFound, "order not found"},
		{"failed order", purchase.ErrOrderAlreadyFailed, http.StatusConflict, CodeOrderAlreadyFailed, "order already failed"},
		{"enrollment pending", fmt.Errorf("%w: timeout", purchase.ErrEnrollmentWriteFailed), http.StatusServiceUnavailable, CodeEnrollmentWriteFailed, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newTestServer(t)
			s.p.CallbackFunc = func(context.Context, purchase.Callback) (purchase.Confirmation, error) {
				return purchase.Confirmation{}, tt.err
			}
			body := map[string]any{"orderId": "order_1", "remotePaymentRef": "pay_1", "signature": "00"}
			w := s.do(jsonRequest(t, http.MethodPost, "/api/v1/purchase/callback", "", body))
			assert.Equal(t, tt.status, w.Code)
			resp := decodeError(t, w)
			assert.Equal(t, tt.code, resp.Error)
			if tt.message != "" {
				assert.Equal(t, tt.message, resp.Message)
			}
		})
	}
}

func TestCallbackValidation(t *testing.T) {
	s := newTestServer(t)
	called := false
	s.p.CallbackFunc = func(context.Context, purchase.Callback) (purchase.Confirmation, error) {
		called = true
		return purchase.Confirmation{}, nil
	}

	w := s.do(jsonRequest(t, http.MethodPost, "/api/v1/purchase/callback", "", map[string]any{"remotePaymentRef": "pay_1", "signature": "00"}))
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = s.do(jsonRequest(t, http.MethodPost, "/api/v1/purchase/callback", "", map[string]any{"orderId": "order_1", "signature": "00"}))
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, decodeError(t, w).Message, "RemotePaymentRef value missing")

	big := map[string]any{"orderId": "order_1", "remotePaymentRef": strings.Repeat("p", int(maxCallbackBytes)), "signature": "00"}
	w = s.do(jsonRequest(t, http.MethodPost, "/api/v1/purchase/callback", "", big))
	assert.Equal(t, http.StatusRequestEntityTooLarge, w.Code)

	assert.False(t, called)
}

func TestCheckEnrollment(t *testing.T) {
	s := newTestServer(t)
	s.p.CheckFunc = func(_ context.Context, studentID, courseID string) (bool, error) {
		return studentID == "stu_1" && courseID == "course_1", nil
	}

	w := s.do(jsonRequest(t, http.MethodGet, "/api/v1/enrollment/check?studentId=stu_1&courseId=course_1", s.token(t, "stu_1"), nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"enrolled":true`)

	w = s.do(jsonRequest(t, http.MethodGet, "/api/v1/enrollment/check?studentId=stu_1&courseId=course_2", s.token(t, "stu_1"), nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"enrolled":false`)

	w = s.do(jsonRequest(t, http.MethodGet, "/api/v1/enrollment/check?studentId=stu_1&courseId=course_1", s.token(t, "stu_2"), nil))
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = s.do(jsonRequest(t, http.MethodGet, "/api/v1/enrollment/check?studentId=stu_1&courseId=course_1", s.token(t, "admin", auth.RoleAdmin), nil))
	assert.Equal(t, http.StatusOK, w.Code)

	w = s.do(jsonRequest(t, http.MethodGet, "/api/v1/enrollment/check?studentId=stu_1", s.token(t, "stu_1"), nil))
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestStudentCourses(t *testing.T) {
	s := newTestServer(t)
	var asked string
	s.courses.StudentCoursesFunc = func(_ context.Context, studentID string) ([]enrollments.CourseEntry, error) {
		asked = studentID
		return []enrollments.CourseEntry{{CourseID: "course_1", Title: "Go in Practice"}}, nil
	}

	w := s.do(jsonRequest(t, http.MethodGet, "/api/v1/enrollment/courses", s.token(t, "stu_1"), nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "stu_1", asked)
	assert.Contains(t, w.Body.String(), "Go in Practice")

	w = s.do(jsonRequest(t, http.MethodGet, "/api/v1/enrollment/courses?studentId=stu_2", s.token(t, "stu_1"), nil))
	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestReconcileRequiresAdmin(t *testing.T) {
	s := newTestServer(t)
	var gotLimit int
	s.p.ReconcileFunc = func(_ context.Context, limit int) (int, error) {
		gotLimit = limit
		return 2, nil
	}

	w := s.do(jsonRequest(t, http.MethodPost, "/api/v1/admin/reconcile", s.token(t, "stu_1", auth.RoleUser), nil))
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = s.do(jsonRequest(t, http.MethodPost, "/api/v1/admin/reconcile?limit=5", s.token(t, "admin", auth.RoleAdmin), nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 5, gotLimit)
	assert.Contains(t, w.Body.String(), `"enrolled":2`)

	w = s.do(jsonRequest(t, http.MethodPost, "/api/v1/admin/reconcile?limit=zero", s.token(t, "admin", auth.RoleAdmin), nil))
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestAPIGinMode(t *testing.T) {
	priv, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	keys, err := auth.NewKeys(&priv.PublicKey)
	require.NoError(t, err)
	t.Cleanup(func() { gin.SetMode(gin.TestMode) })

	API("/api/v1", gin.ReleaseMode, keys, &MockPurchaser{}, &MockCourseLister{})
	assert.Equal(t, gin.ReleaseMode, gin.Mode())

	API("/api/v1", "", keys, &MockPurchaser{}, &MockCourseLister{})
	assert.Equal(t, gin.DebugMode, gin.Mode())
}
