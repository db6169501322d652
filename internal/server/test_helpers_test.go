package server

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/MarcoPoloResearchLab/linkhub/backend/internal/accounts"
	"github.com/MarcoPoloResearchLab/linkhub/backend/internal/analytics"
	"github.com/MarcoPoloResearchLab/linkhub/backend/internal/auth"
	"github.com/MarcoPoloResearchLab/linkhub/backend/internal/config"
	"github.com/MarcoPoloResearchLab/linkhub/backend/internal/customizations"
	"github.com/MarcoPoloResearchLab/linkhub/backend/internal/database"
	"github.com/MarcoPoloResearchLab/linkhub/backend/internal/links"
	"github.com/MarcoPoloResearchLab/linkhub/backend/internal/usernames"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

const (
	testSigningSecret = "server-test-secret"
	testIssuer        = "linkhub-test"
	testCookieName    = "linkhub_session"
)

type testHarness struct {
	handler  http.Handler
	issuer   *auth.SessionIssuer
	realtime *RealtimeDispatcher
	accounts *accounts.Service
	links    *links.Service
	logs     *observer.ObservedLogs
}

type harnessOptions struct {
	sink           analytics.Sink
	allowedOrigins []string
	clickRate      RateSettings
	heartbeat      time.Duration
}

func newTestHarness(t *testing.T, opts harnessOptions) *testHarness {
	t.Helper()
	gin.SetMode(gin.TestMode)

	core, logs := observer.New(zapcore.DebugLevel)
	logger := zap.New(core)

	db, err := database.Open(config.DatabaseSettings{
		Driver: config.DatabaseDriverSQLite,
		Path:   filepath.Join(t.TempDir(), "linkhub.db"),
	}, logger)
	if err != nil {
		t.Fatalf("failed to open database: %v", err)
	}
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})

	accountService, err := accounts.NewService(accounts.ServiceConfig{Database: db, Logger: logger})
	if err != nil {
		t.Fatalf("failed to build account service: %v", err)
	}
	usernameService, err := usernames.NewService(usernames.ServiceConfig{Database: db, Owners: accountService, Logger: logger})
	if err != nil {
		t.Fatalf("failed to build username service: %v", err)
	}
	linkService, err := links.NewService(links.ServiceConfig{
		Database:     db,
		IDProvider:   links.NewUUIDProvider(),
		SlugResolver: usernameService,
		Logger:       logger,
	})
	if err != nil {
		t.Fatalf("failed to build link service: %v", err)
	}
	customizationService, err := customizations.NewService(customizations.ServiceConfig{
		Database:     db,
		SlugResolver: usernameService,
		Logger:       logger,
	})
	if err != nil {
		t.Fatalf("failed to build customization service: %v", err)
	}
	sink := opts.sink
	if sink == nil {
		sink = analytics.NewSink(analytics.SinkConfig{})
	}
	tracker, err := analytics.NewTracker(analytics.TrackerConfig{SlugResolver: usernameService, Sink: sink, Logger: logger})
	if err != nil {
		t.Fatalf("failed to build tracker: %v", err)
	}
	reader := analytics.NewReader(analytics.ReaderConfig{Sink: sink, Logger: logger})

	validator, err := auth.NewSessionValidator(auth.SessionValidatorConfig{
		SigningSecret: []byte(testSigningSecret),
		Issuer:        testIssuer,
		CookieName:    testCookieName,
	})
	if err != nil {
		t.Fatalf("failed to build session validator: %v", err)
	}
	issuer, err := auth.NewSessionIssuer(auth.SessionIssuerConfig{
		SigningSecret: []byte(testSigningSecret),
		Issuer:        testIssuer,
		TTL:           time.Hour,
	})
	if err != nil {
		t.Fatalf("failed to build session issuer: %v", err)
	}

	realtime := NewRealtimeDispatcher()
	handler, err := NewHTTPHandler(Dependencies{
		SessionValidator: validator,
		OwnerResolver:    accountService,
		Profiles:         accountService,
		Links:            linkService,
		Usernames:        usernameService,
		Customizations:   customizationService,
		Tracker:          tracker,
		Analytics:        reader,
		Realtime:         realtime,
		AllowedOrigins:   opts.allowedOrigins,
		ClickRate:        opts.clickRate,
		Heartbeat:        opts.heartbeat,
		Logger:           logger,
	})
	if err != nil {
		t.Fatalf("failed to build handler: %v", err)
	}

	return &testHarness{
		handler:  handler,
		issuer:   issuer,
		realtime: realtime,
		accounts: accountService,
		links:    linkService,
		logs:     logs,
	}
}

func (h *testHarness) token(t *testing.T, ownerID string) string {
	t.Helper()
	token, _, err := h.issuer.Issue(auth.SessionProfile{OwnerID: ownerID, DisplayName: "Owner " + ownerID})
	if err != nil {
		t.Fatalf("failed to issue session token: %v", err)
	}
	return token
}

// do sends a request with an optional JSON body and bearer token.
func (h *testHarness) do(t *testing.T, method, path, token string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	switch typed := body.(type) {
	case nil:
		reader = bytes.NewReader(nil)
	case string:
		reader = bytes.NewReader([]byte(typed))
	default:
		encoded, err := json.Marshal(typed)
		if err != nil {
			t.Fatalf("failed to encode body: %v", err)
		}
		reader = bytes.NewReader(encoded)
	}
	request := httptest.NewRequest(method, path, reader)
	if body != nil {
		request.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		request.Header.Set("Authorization", "Bearer "+token)
	}
	recorder := httptest.NewRecorder()
	h.handler.ServeHTTP(recorder, request)
	return recorder
}

func decodeBody(t *testing.T, recorder *httptest.ResponseRecorder, target interface{}) {
	t.Helper()
	if err := json.Unmarshal(recorder.Body.Bytes(), target); err != nil {
		t.Fatalf("failed to decode body %q: %v", recorder.Body.String(), err)
	}
}
