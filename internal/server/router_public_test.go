package server

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/MarcoPoloResearchLab/linkhub/backend/internal/analytics"
)

func TestPublicProfileBySlug(t *testing.T) {
	harness := newTestHarness(t, harnessOptions{})
	token := harness.token(t, "owner-a")
	createLink(t, harness, token, "Blog", "https://blog.example.com")

	byOwner := harness.do(t, http.MethodGet, "/u/owner-a", "", nil)
	if byOwner.Code != http.StatusOK {
		t.Fatalf("unexpected status %d: %s", byOwner.Code, byOwner.Body.String())
	}
	var profile publicProfilePayload
	decodeBody(t, byOwner, &profile)
	if profile.OwnerID != "owner-a" || profile.Slug != "owner-a" || len(profile.Links) != 1 {
		t.Fatalf("unexpected profile %+v", profile)
	}
	if profile.DisplayName != "Owner owner-a" {
		t.Fatalf("expected display name from identity, got %q", profile.DisplayName)
	}

	claim := harness.do(t, http.MethodPut, "/api/username", token, usernameRequestPayload{Username: "alice"})
	if claim.Code != http.StatusOK || !strings.Contains(claim.Body.String(), `"success":true`) {
		t.Fatalf("unexpected username claim response %d: %s", claim.Code, claim.Body.String())
	}

	customize := harness.do(t, http.MethodPatch, "/api/customization", token, map[string]string{"description": "Links I like"})
	if customize.Code != http.StatusOK {
		t.Fatalf("unexpected customization status %d: %s", customize.Code, customize.Body.String())
	}

	byUsername := harness.do(t, http.MethodGet, "/u/alice", "", nil)
	decodeBody(t, byUsername, &profile)
	if profile.Slug != "alice" || profile.OwnerID != "owner-a" {
		t.Fatalf("unexpected profile after claim %+v", profile)
	}
	if profile.Customization == nil || profile.Customization.Description == nil || *profile.Customization.Description != "Links I like" {
		t.Fatalf("expected customization on public page, got %+v", profile.Customization)
	}

	missing := harness.do(t, http.MethodGet, "/u/nobody", "", nil)
	if missing.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown slug, got %d", missing.Code)
	}
}

func TestUsernameEndpoints(t *testing.T) {
	harness := newTestHarness(t, harnessOptions{})
	ownerToken := harness.token(t, "owner-a")
	otherToken := harness.token(t, "owner-b")

	initial := harness.do(t, http.MethodGet, "/api/username", ownerToken, nil)
	if !strings.Contains(initial.Body.String(), `"username":null`) {
		t.Fatalf("expected no username yet, got %s", initial.Body.String())
	}

	harness.do(t, http.MethodPut, "/api/username", ownerToken, usernameRequestPayload{Username: "alice"})

	availability := harness.do(t, http.MethodGet, "/api/username/availability?username=alice", otherToken, nil)
	var result struct {
		Available bool   `json:"available"`
		Error     string `json:"error"`
	}
	decodeBody(t, availability, &result)
	if result.Available || result.Error != "Username is already taken" {
		t.Fatalf("unexpected availability %+v", result)
	}

	short := harness.do(t, http.MethodPut, "/api/username", otherToken, usernameRequestPayload{Username: "ab"})
	if !strings.Contains(short.Body.String(), "at least 3 characters") {
		t.Fatalf("unexpected short username response %s", short.Body.String())
	}
}

func TestTrackClickResponses(t *testing.T) {
	harness := newTestHarness(t, harnessOptions{})
	token := harness.token(t, "owner-a")
	createLink(t, harness, token, "Blog", "https://blog.example.com")

	ok := harness.do(t, http.MethodPost, "/api/track-click", "", analytics.ClickInput{ProfileUsername: "owner-a", LinkID: "link-1"})
	if ok.Code != http.StatusOK || strings.TrimSpace(ok.Body.String()) != `{"success":true}` {
		t.Fatalf("unexpected success response %d: %s", ok.Code, ok.Body.String())
	}

	unknown := harness.do(t, http.MethodPost, "/api/track-click", "", analytics.ClickInput{ProfileUsername: "nobody", LinkID: "link-1"})
	if unknown.Code != http.StatusNotFound || !strings.Contains(unknown.Body.String(), "Profile not found") {
		t.Fatalf("unexpected unknown profile response %d: %s", unknown.Code, unknown.Body.String())
	}

	malformed := harness.do(t, http.MethodPost, "/api/track-click", "", "{not json")
	if malformed.Code != http.StatusInternalServerError || !strings.Contains(malformed.Body.String(), "Failed to track click") {
		t.Fatalf("unexpected malformed response %d: %s", malformed.Code, malformed.Body.String())
	}
}

func TestTrackClickDefaultRateAllowsBursts(t *testing.T) {
	harness := newTestHarness(t, harnessOptions{})
	token := harness.token(t, "owner-a")
	createLink(t, harness, token, "Blog", "https://blog.example.com")

	input := analytics.ClickInput{ProfileUsername: "owner-a", LinkID: "link-1"}
	for attempt := 0; attempt < 3; attempt++ {
		if recorder := harness.do(t, http.MethodPost, "/api/track-click", "", input); recorder.Code != http.StatusOK {
			t.Fatalf("click %d rejected under default limits: %d %s", attempt, recorder.Code, recorder.Body.String())
		}
	}
}

func TestTrackClickForwardsEnrichedEvent(t *testing.T) {
	var (
		mu       sync.Mutex
		received []analytics.ClickEvent
	)
	sinkServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var event analytics.ClickEvent
		if err := json.NewDecoder(r.Body).Decode(&event); err == nil {
			mu.Lock()
			received = append(received, event)
			mu.Unlock()
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"successful_rows":1,"quarantined_rows":0}`))
	}))
	defer sinkServer.Close()

	harness := newTestHarness(t, harnessOptions{
		sink: analytics.NewSink(analytics.SinkConfig{Host: sinkServer.URL, Token: "sink-token", Timeout: time.Second}),
	})
	token := harness.token(t, "owner-a")
	createLink(t, harness, token, "Blog", "https://blog.example.com")

	request := httptest.NewRequest(http.MethodPost, "/api/track-click",
		strings.NewReader(`{"profileUsername":"owner-a","linkId":"link-1","linkTitle":"Blog","linkUrl":"https://blog.example.com"}`))
	request.Header.Set("Content-Type", "application/json")
	request.Header.Set("User-Agent", "test-agent")
	request.Header.Set("X-Vercel-IP-Country", "DE")
	recorder := httptest.NewRecorder()
	harness.handler.ServeHTTP(recorder, request)
	if recorder.Code != http.StatusOK {
		t.Fatalf("unexpected status %d: %s", recorder.Code, recorder.Body.String())
	}

	mu.Lock()
	defer mu.Unlock()
	if len(received) != 1 {
		t.Fatalf("expected one forwarded event, got %d", len(received))
	}
	event := received[0]
	if event.ProfileUserID != "owner-a" || event.UserAgent != "test-agent" || event.Referrer != "direct" {
		t.Fatalf("unexpected forwarded event %+v", event)
	}
	if event.Location.Country != "DE" {
		t.Fatalf("expected country from headers, got %+v", event.Location)
	}
}

func TestTrackClickIsRateLimited(t *testing.T) {
	harness := newTestHarness(t, harnessOptions{clickRate: RateSettings{PerSecond: 0.001, Burst: 2}})
	token := harness.token(t, "owner-a")
	createLink(t, harness, token, "Blog", "https://blog.example.com")

	input := analytics.ClickInput{ProfileUsername: "owner-a", LinkID: "link-1"}
	for attempt := 0; attempt < 2; attempt++ {
		if recorder := harness.do(t, http.MethodPost, "/api/track-click", "", input); recorder.Code != http.StatusOK {
			t.Fatalf("attempt %d: unexpected status %d", attempt, recorder.Code)
		}
	}
	limited := harness.do(t, http.MethodPost, "/api/track-click", "", input)
	if limited.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", limited.Code)
	}
	if harness.logs.FilterMessage("rate limit exceeded").Len() != 1 {
		t.Fatalf("expected one rate limit log entry")
	}
}

func TestAnalyticsEndpointsDegradeWithoutSink(t *testing.T) {
	harness := newTestHarness(t, harnessOptions{})
	token := harness.token(t, "owner-a")

	summary := harness.do(t, http.MethodGet, "/api/analytics/summary?days=7", token, nil)
	if summary.Code != http.StatusOK || !strings.Contains(summary.Body.String(), `"totalClicks":0`) {
		t.Fatalf("unexpected summary response %d: %s", summary.Code, summary.Body.String())
	}

	detail := harness.do(t, http.MethodGet, "/api/analytics/links/link-1", token, nil)
	if detail.Code != http.StatusOK {
		t.Fatalf("unexpected detail status %d", detail.Code)
	}
	var body linkAnalyticsResponsePayload
	decodeBody(t, detail, &body)
	if body.Analytics != nil || body.HasMoreDays || len(body.RecentDays) != 0 {
		t.Fatalf("expected empty detail, got %+v", body)
	}
}

func TestCustomizationEndpoints(t *testing.T) {
	harness := newTestHarness(t, harnessOptions{})
	token := harness.token(t, "owner-a")

	empty := harness.do(t, http.MethodGet, "/api/customization", token, nil)
	if strings.TrimSpace(empty.Body.String()) != `{"customization":null}` {
		t.Fatalf("expected null customization, got %s", empty.Body.String())
	}

	patched := harness.do(t, http.MethodPatch, "/api/customization", token, `{"description":"Hello there","accentColor":"#6366f1"}`)
	if patched.Code != http.StatusOK || !strings.Contains(patched.Body.String(), "Hello there") {
		t.Fatalf("unexpected patch response %d: %s", patched.Code, patched.Body.String())
	}

	invalid := harness.do(t, http.MethodPatch, "/api/customization", token, `{"accentColor":"purple"}`)
	if invalid.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for invalid color, got %d", invalid.Code)
	}

	upload := harness.do(t, http.MethodPost, "/api/customization/upload-url", token, uploadURLRequestPayload{ContentType: "image/png"})
	if upload.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 without object storage, got %d", upload.Code)
	}
}
