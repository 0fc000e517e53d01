package room_test

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"

	roomHandler "github.com/yichenzhou/coderoom/backend/internal/handler/room"
	roomservice "github.com/yichenzhou/coderoom/backend/internal/service/room"
)

type nopPublisher struct{}

func (nopPublisher) Publish(sessionID, event string, payload any, exclude string) {}

func newTestServer(t *testing.T) (*httptest.Server, *roomservice.Service) {
	t.Helper()
	svc := roomservice.NewService(nopPublisher{}, 150)

	r := chi.NewRouter()
	roomHandler.New(svc).RegisterRoutes(r)

	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return srv, svc
}

func TestCreateSession(t *testing.T) {
	srv, _ := newTestServer(t)

	resp, err := http.Post(srv.URL+"/session", "application/json", nil)
	if err != nil {
		t.Fatalf("POST /session err: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("expected 201, got %d", resp.StatusCode)
	}

	var body struct {
		SessionID string `json:"sessionId"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode err: %v", err)
	}
	if len(body.SessionID) != 6 {
		t.Fatalf("expected 6-char session id, got %q", body.SessionID)
	}
}

func TestGetSession(t *testing.T) {
	srv, svc := newTestServer(t)

	id, err := svc.CreateSession()
	if err != nil {
		t.Fatalf("CreateSession err: %v", err)
	}

	resp, err := http.Get(srv.URL + "/session/" + id)
	if err != nil {
		t.Fatalf("GET /session err: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}

	var body struct {
		SessionID string `json:"sessionId"`
		Running   bool   `json:"running"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode err: %v", err)
	}
	if body.SessionID != id || body.Running {
		t.Fatalf("unexpected body: %+v", body)
	}
}

func TestGetSessionNotFound(t *testing.T) {
	srv, _ := newTestServer(t)

	resp, err := http.Get(srv.URL + "/session/missing")
	if err != nil {
		t.Fatalf("GET /session err: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", resp.StatusCode)
	}
}
