package server

import (
	"net/http"
	"testing"
)

type linkListResponse struct {
	Links []linkPayload `json:"links"`
}

type errorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
	Field   string `json:"field"`
}

func createLink(t *testing.T, harness *testHarness, token, title, url string) linkPayload {
	t.Helper()
	recorder := harness.do(t, http.MethodPost, "/api/links", token, linkDraftPayload{Title: title, URL: url})
	if recorder.Code != http.StatusCreated {
		t.Fatalf("create %q: unexpected status %d: %s", title, recorder.Code, recorder.Body.String())
	}
	var created linkPayload
	decodeBody(t, recorder, &created)
	return created
}

func TestLinkLifecycleOverHTTP(t *testing.T) {
	harness := newTestHarness(t, harnessOptions{})
	token := harness.token(t, "owner-a")

	first := createLink(t, harness, token, "Blog", "https://blog.example.com")
	second := createLink(t, harness, token, "Shop", "https://shop.example.com")
	third := createLink(t, harness, token, "Talks", "https://talks.example.com")

	reorder := harness.do(t, http.MethodPost, "/api/links/reorder", token, reorderRequestPayload{
		LinkIDs: []string{third.ID, first.ID, "missing-link", second.ID},
	})
	if reorder.Code != http.StatusOK {
		t.Fatalf("unexpected reorder status %d: %s", reorder.Code, reorder.Body.String())
	}
	var reorderResult reorderResponsePayload
	decodeBody(t, reorder, &reorderResult)
	if len(reorderResult.Applied) != 3 || len(reorderResult.Ignored) != 1 || reorderResult.Ignored[0] != "missing-link" {
		t.Fatalf("unexpected reorder result %+v", reorderResult)
	}

	listed := harness.do(t, http.MethodGet, "/api/links", token, nil)
	var list linkListResponse
	decodeBody(t, listed, &list)
	wantOrder := []string{third.ID, first.ID, second.ID}
	if len(list.Links) != len(wantOrder) {
		t.Fatalf("expected %d links, got %d", len(wantOrder), len(list.Links))
	}
	for index, want := range wantOrder {
		if list.Links[index].ID != want || list.Links[index].Order != int64(index) {
			t.Fatalf("unexpected link at %d: %+v", index, list.Links[index])
		}
	}

	updated := harness.do(t, http.MethodPut, "/api/links/"+first.ID, token, linkDraftPayload{Title: "Writing", URL: "https://blog.example.com/posts"})
	if updated.Code != http.StatusOK {
		t.Fatalf("unexpected update status %d: %s", updated.Code, updated.Body.String())
	}

	deleted := harness.do(t, http.MethodDelete, "/api/links/"+second.ID, token, nil)
	if deleted.Code != http.StatusNoContent {
		t.Fatalf("unexpected delete status %d", deleted.Code)
	}

	count := harness.do(t, http.MethodGet, "/api/links/count", token, nil)
	var countBody struct {
		Count int64 `json:"count"`
	}
	decodeBody(t, count, &countBody)
	if countBody.Count != 2 {
		t.Fatalf("expected 2 links after delete, got %d", countBody.Count)
	}
}

func TestLinkValidationErrorNamesField(t *testing.T) {
	harness := newTestHarness(t, harnessOptions{})
	token := harness.token(t, "owner-a")

	recorder := harness.do(t, http.MethodPost, "/api/links", token, linkDraftPayload{Title: "Broken", URL: "ftp://files.example.com"})
	if recorder.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", recorder.Code)
	}
	var body errorResponse
	decodeBody(t, recorder, &body)
	if body.Field != "url" || body.Message == "" {
		t.Fatalf("unexpected error body %+v", body)
	}
}

func TestLinkMutationsAreScopedToOwner(t *testing.T) {
	harness := newTestHarness(t, harnessOptions{})
	ownerToken := harness.token(t, "owner-a")
	otherToken := harness.token(t, "owner-b")

	link := createLink(t, harness, ownerToken, "Blog", "https://blog.example.com")

	update := harness.do(t, http.MethodPut, "/api/links/"+link.ID, otherToken, linkDraftPayload{Title: "Hijacked", URL: "https://evil.example.com"})
	if update.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for foreign update, got %d", update.Code)
	}
	remove := harness.do(t, http.MethodDelete, "/api/links/"+link.ID, otherToken, nil)
	if remove.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for foreign delete, got %d", remove.Code)
	}
	missing := harness.do(t, http.MethodDelete, "/api/links/does-not-exist", ownerToken, nil)
	if missing.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown link, got %d", missing.Code)
	}
}

func TestLinkMutationsPublishRealtimeEvents(t *testing.T) {
	harness := newTestHarness(t, harnessOptions{})
	token := harness.token(t, "owner-a")

	stream, cleanup := harness.realtime.Subscribe(t.Context(), "owner-a")
	defer cleanup()

	link := createLink(t, harness, token, "Blog", "https://blog.example.com")

	select {
	case message := <-stream:
		if message.EventType != RealtimeEventLinksChanged {
			t.Fatalf("unexpected event type %q", message.EventType)
		}
		if len(message.LinkIDs) != 1 || message.LinkIDs[0] != link.ID {
			t.Fatalf("unexpected link ids %v", message.LinkIDs)
		}
	default:
		t.Fatal("expected a realtime message after create")
	}
}
