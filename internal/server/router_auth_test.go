package server

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/MarcoPoloResearchLab/linkhub/backend/internal/apperrors"
	"github.com/MarcoPoloResearchLab/linkhub/backend/internal/auth"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

type stubSessionValidator struct {
	claims auth.SessionClaims
	err    error
}

func (s stubSessionValidator) ValidateRequest(*http.Request) (auth.SessionClaims, error) {
	return s.claims, s.err
}

type stubOwnerResolver struct {
	ownerID string
	err     error
}

func (s stubOwnerResolver) ResolveOwnerID(context.Context, auth.SessionClaims) (string, error) {
	return s.ownerID, s.err
}

func runAuthorize(t *testing.T, handler *httpHandler) (*httptest.ResponseRecorder, *gin.Context) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	recorder := httptest.NewRecorder()
	ctx, _ := gin.CreateTestContext(recorder)
	ctx.Request = httptest.NewRequest(http.MethodGet, "/api/links", http.NoBody)
	handler.authorizeRequest(ctx)
	return recorder, ctx
}

func TestAuthorizeRequestLogsExpiredSessionAtInfoLevel(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	handler := &httpHandler{
		sessions: stubSessionValidator{err: auth.ErrExpiredSessionToken},
		owners:   stubOwnerResolver{},
		logger:   zap.New(core),
	}

	recorder, _ := runAuthorize(t, handler)

	if recorder.Code != http.StatusUnauthorized {
		t.Fatalf("unexpected status code: got %d, want %d", recorder.Code, http.StatusUnauthorized)
	}
	entries := logs.All()
	if len(entries) != 1 {
		t.Fatalf("expected exactly one log entry, got %d", len(entries))
	}
	entry := entries[0]
	if entry.Level != zapcore.InfoLevel {
		t.Fatalf("expected info level for expired session, got %s", entry.Level)
	}
	if entry.Message != "session validation failed" {
		t.Fatalf("unexpected log message: %q", entry.Message)
	}
	hasExpired := false
	for _, field := range entry.Context {
		if field.Type == zapcore.ErrorType && errors.Is(field.Interface.(error), auth.ErrExpiredSessionToken) {
			hasExpired = true
			break
		}
	}
	if !hasExpired {
		t.Fatalf("expected expired session error context, got %v", entry.Context)
	}
}

func TestAuthorizeRequestLogsInvalidSessionAtWarnLevel(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	handler := &httpHandler{
		sessions: stubSessionValidator{err: auth.ErrInvalidSessionToken},
		owners:   stubOwnerResolver{},
		logger:   zap.New(core),
	}

	recorder, _ := runAuthorize(t, handler)

	if recorder.Code != http.StatusUnauthorized {
		t.Fatalf("unexpected status code: got %d, want %d", recorder.Code, http.StatusUnauthorized)
	}
	entries := logs.All()
	if len(entries) != 1 || entries[0].Level != zapcore.WarnLevel {
		t.Fatalf("expected one warn entry, got %v", entries)
	}
}

func TestAuthorizeRequestMissingSessionIsQuiet(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	handler := &httpHandler{
		sessions: stubSessionValidator{err: auth.ErrMissingSessionToken},
		owners:   stubOwnerResolver{},
		logger:   zap.New(core),
	}

	recorder, _ := runAuthorize(t, handler)

	if recorder.Code != http.StatusUnauthorized {
		t.Fatalf("unexpected status code: got %d, want %d", recorder.Code, http.StatusUnauthorized)
	}
	if logs.Len() != 0 {
		t.Fatalf("expected no log entries, got %d", logs.Len())
	}
}

func TestAuthorizeRequestStoresOwnerID(t *testing.T) {
	handler := &httpHandler{
		sessions: stubSessionValidator{claims: auth.SessionClaims{UserID: "owner-a"}},
		owners:   stubOwnerResolver{ownerID: "owner-a"},
		logger:   zap.NewNop(),
	}

	recorder, ctx := runAuthorize(t, handler)

	if ctx.IsAborted() {
		t.Fatalf("expected request to continue, got status %d", recorder.Code)
	}
	if got := ctx.GetString(ownerIDContextKey); got != "owner-a" {
		t.Fatalf("unexpected owner id %q", got)
	}
}

func TestAuthorizeRequestOwnerResolutionFailures(t *testing.T) {
	testCases := []struct {
		name       string
		err        error
		wantStatus int
	}{
		{
			name:       "identity rejected",
			err:        apperrors.New(apperrors.KindUnauthenticated, "accounts.resolve_owner", "invalid_identity", errors.New("no subject")),
			wantStatus: http.StatusUnauthorized,
		},
		{
			name:       "storage failure",
			err:        errors.New("database is locked"),
			wantStatus: http.StatusInternalServerError,
		},
	}

	for _, testCase := range testCases {
		t.Run(testCase.name, func(t *testing.T) {
			handler := &httpHandler{
				sessions: stubSessionValidator{claims: auth.SessionClaims{UserID: "owner-a"}},
				owners:   stubOwnerResolver{err: testCase.err},
				logger:   zap.NewNop(),
			}
			recorder, _ := runAuthorize(t, handler)
			if recorder.Code != testCase.wantStatus {
				t.Fatalf("unexpected status code: got %d, want %d", recorder.Code, testCase.wantStatus)
			}
		})
	}
}

func TestProtectedRoutesRejectAnonymousRequests(t *testing.T) {
	harness := newTestHarness(t, harnessOptions{})

	recorder := harness.do(t, http.MethodGet, "/api/links", "", nil)
	if recorder.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", recorder.Code)
	}

	request := httptest.NewRequest(http.MethodGet, "/api/links/count", http.NoBody)
	request.AddCookie(&http.Cookie{Name: testCookieName, Value: harness.token(t, "owner-a")})
	cookieRecorder := httptest.NewRecorder()
	harness.handler.ServeHTTP(cookieRecorder, request)
	if cookieRecorder.Code != http.StatusOK {
		t.Fatalf("expected cookie session to be accepted, got %d: %s", cookieRecorder.Code, cookieRecorder.Body.String())
	}
}
