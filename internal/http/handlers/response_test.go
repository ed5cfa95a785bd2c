package handlers

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/tbourn/go-draftsync/internal/services"
)

// envelopeRouter serves GET /x with h behind a fake RequestID and a
// request-scoped logger writing to the returned buffer.
func envelopeRouter(h gin.HandlerFunc) (*gin.Engine, *bytes.Buffer) {
	gin.SetMode(gin.TestMode)
	var buf bytes.Buffer
	lg := zerolog.New(&buf)
	r := gin.New()
	r.Use(func(c *gin.Context) {
		c.Header("X-Request-ID", "rid-7")
		c.Set("logger", &lg)
		c.Next()
	})
	r.GET("/x", h)
	return r, &buf
}

func serveEnvelope(t *testing.T, h gin.HandlerFunc) (*httptest.ResponseRecorder, ErrorResponse, string) {
	t.Helper()
	r, logs := envelopeRouter(h)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/x", nil))
	var er ErrorResponse
	if err := json.Unmarshal(w.Body.Bytes(), &er); err != nil {
		t.Fatalf("decode %q: %v", w.Body.String(), err)
	}
	return w, er, logs.String()
}

func Test_fail_LogsOnlyServerErrors(t *testing.T) {
	w, er, logs := serveEnvelope(t, func(c *gin.Context) {
		Fail(c, http.StatusNotFound, ErrCodeNotFound, "route not found")
	})
	if w.Code != http.StatusNotFound || er != (ErrorResponse{RequestID: "rid-7", Code: ErrCodeNotFound, Message: "route not found"}) {
		t.Fatalf("404: %d %+v", w.Code, er)
	}
	if logs != "" {
		t.Fatalf("4xx was logged: %s", logs)
	}

	_, er, logs = serveEnvelope(t, func(c *gin.Context) {
		fail(c, http.StatusInternalServerError, ErrCodeInternal, "internal server error")
	})
	if er.RequestID != "rid-7" || !strings.Contains(logs, `"level":"error"`) || !strings.Contains(logs, `"status":500`) {
		t.Fatalf("500: %+v logs=%s", er, logs)
	}
}

func Test_failService_MapsSentinels(t *testing.T) {
	cases := []struct {
		err        error
		status     int
		code       string
		retryAfter string
	}{
		{services.ErrNothingToSave, http.StatusBadRequest, ErrCodeNothingToSave, ""},
		{fmt.Errorf("%w: questionnaire_id required", services.ErrInvalidScope), http.StatusBadRequest, ErrCodeBadRequest, ""},
		{fmt.Errorf("%w: q1", services.ErrInvalidAnswer), http.StatusBadRequest, ErrCodeBadRequest, ""},
		{services.ErrTooManyAnswers, http.StatusBadRequest, ErrCodeBadRequest, ""},
		{services.ErrAlreadySubmitted, http.StatusConflict, ErrCodeAlreadySubmitted, ""},
		{fmt.Errorf("%w: database is locked", services.ErrStoreUnavailable), http.StatusServiceUnavailable, ErrCodeStoreUnavailable, retryAfterSeconds},
		{errors.New("disk on fire"), http.StatusInternalServerError, ErrCodeInternal, ""},
	}
	for _, tc := range cases {
		w, er, _ := serveEnvelope(t, func(c *gin.Context) { failService(c, tc.err) })
		if w.Code != tc.status || er.Code != tc.code || w.Header().Get("Retry-After") != tc.retryAfter {
			t.Fatalf("%v: status=%d code=%q retry-after=%q", tc.err, w.Code, er.Code, w.Header().Get("Retry-After"))
		}
		if tc.status >= 500 && (strings.Contains(er.Message, "locked") || strings.Contains(er.Message, "fire")) {
			t.Fatalf("store detail leaked to the client: %q", er.Message)
		}
	}
}

func Test_failService_ValidationMessageNamesTheProblem(t *testing.T) {
	_, er, _ := serveEnvelope(t, func(c *gin.Context) {
		failService(c, fmt.Errorf("%w: questionnaire_id required", services.ErrInvalidScope))
	})
	if !strings.Contains(er.Message, "questionnaire_id required") {
		t.Fatalf("message = %q", er.Message)
	}
}

func Test_failBind(t *testing.T) {
	cases := []struct {
		err    error
		status int
		code   string
	}{
		{&http.MaxBytesError{Limit: 1024}, http.StatusRequestEntityTooLarge, ErrCodePayloadTooLarge},
		{fmt.Errorf("decode: %w", &http.MaxBytesError{Limit: 1024}), http.StatusRequestEntityTooLarge, ErrCodePayloadTooLarge},
		{errors.New("unexpected EOF"), http.StatusBadRequest, ErrCodeBadRequest},
	}
	for _, tc := range cases {
		w, er, _ := serveEnvelope(t, func(c *gin.Context) { failBind(c, tc.err) })
		if w.Code != tc.status || er.Code != tc.code {
			t.Fatalf("%v: status=%d code=%q", tc.err, w.Code, er.Code)
		}
	}
}
