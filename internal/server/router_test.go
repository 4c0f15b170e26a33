package server

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"keywatch-server/internal/announce"
	"keywatch-server/internal/auth"
	"keywatch-server/internal/hub"
	"keywatch-server/internal/session"
	"keywatch-server/internal/store"
	"keywatch-server/internal/telemetry"
)

const (
	testAPISecret    = "api-secret"
	testMasterSecret = "master-secret"
	testPublicURL    = "http://localhost:3000"
)

func newTestRouter(t *testing.T) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)

	st, err := store.Open(filepath.Join(t.TempDir(), "sessions.db"))
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })

	announcer := announce.Noop{}
	wsHub := hub.New()
	tokenCfg := auth.TokenConfig{Secret: testMasterSecret, Expiry: time.Hour, Issuer: "test"}

	return NewRouter(Deps{
		Store: st,
		Hub:   wsHub,
		Manager: &session.Manager{
			Store:     st,
			Announcer: announcer,
			PublicURL: testPublicURL,
		},
		Telemetry: &telemetry.Service{
			Store:     st,
			Announcer: announcer,
			Hub:       wsHub,
			PublicURL: testPublicURL,
		},
		APISecret:    testAPISecret,
		MasterSecret: testMasterSecret,
		TokenConfig:  tokenCfg,
	})
}

func doJSON(t *testing.T, r *gin.Engine, method, path, bearer string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func operatorToken(t *testing.T, r *gin.Engine) string {
	t.Helper()
	w := doJSON(t, r, http.MethodPost, "/v1/operator/auth", "", map[string]any{"secret": testMasterSecret})
	if w.Code != http.StatusOK {
		t.Fatalf("operator auth: expected 200, got %d: %s", w.Code, w.Body.String())
	}
	var resp struct {
		Token string `json:"token"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if resp.Token == "" {
		t.Fatalf("expected a token")
	}
	return resp.Token
}

func startSession(t *testing.T, r *gin.Engine, opToken, steamID string) (token string, created bool) {
	t.Helper()
	w := doJSON(t, r, http.MethodPost, "/v1/operator/sessions", opToken, map[string]any{"steamid": steamID})
	if w.Code != http.StatusCreated && w.Code != http.StatusOK {
		t.Fatalf("start session: got %d: %s", w.Code, w.Body.String())
	}
	var resp struct {
		Created bool `json:"created"`
		Session struct {
			ViewURL string `json:"viewUrl"`
		} `json:"session"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	token = strings.TrimPrefix(resp.Session.ViewURL, testPublicURL+"/v1/data/")
	if token == "" || strings.Contains(token, "/") {
		t.Fatalf("unexpected view url %q", resp.Session.ViewURL)
	}
	return token, resp.Created
}

func TestOperatorAuth_WrongSecret(t *testing.T) {
	r := newTestRouter(t)
	w := doJSON(t, r, http.MethodPost, "/v1/operator/auth", "", map[string]any{"secret": "wrong"})
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", w.Code)
	}
}

func TestOperatorSessions_RequireAuth(t *testing.T) {
	r := newTestRouter(t)
	w := doJSON(t, r, http.MethodPost, "/v1/operator/sessions", "", map[string]any{"steamid": "STEAM_0:1:12345"})
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", w.Code)
	}
}

func TestIngest_RequireSecret(t *testing.T) {
	r := newTestRouter(t)
	w := doJSON(t, r, http.MethodPost, "/v1/ingest/key", "", map[string]any{"steamid": "x", "key": "A"})
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", w.Code)
	}
	w = doJSON(t, r, http.MethodPost, "/v1/ingest/key", "wrong-secret", map[string]any{"steamid": "x", "key": "A"})
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for wrong secret, got %d", w.Code)
	}
}

func TestIngest_UnknownSessionAndBadBody(t *testing.T) {
	r := newTestRouter(t)

	w := doJSON(t, r, http.MethodPost, "/v1/ingest/key", testAPISecret, map[string]any{"steamid": "76561197960290419", "key": "A"})
	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d: %s", w.Code, w.Body.String())
	}

	w = doJSON(t, r, http.MethodPost, "/v1/ingest/key", testAPISecret, map[string]any{"steamid": "76561197960290419"})
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for missing key, got %d", w.Code)
	}

	w = doJSON(t, r, http.MethodPost, "/v1/ingest/presence", testAPISecret, map[string]any{"steamid": "x", "event": "vanished"})
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for bad event kind, got %d", w.Code)
	}
}

func TestEndToEndScenario(t *testing.T) {
	r := newTestRouter(t)
	opToken := operatorToken(t, r)

	// Start a session; the resolved id64 is the ingestion key.
	token, created := startSession(t, r, opToken, "STEAM_0:1:12345")
	if !created {
		t.Fatalf("expected created")
	}
	const id64 = "76561197960290419"

	// Starting again returns the same session.
	token2, created := startSession(t, r, opToken, "STEAM_0:1:12345")
	if created || token2 != token {
		t.Fatalf("expected idempotent start, created=%v tokens %q vs %q", created, token, token2)
	}

	// Session starts offline.
	w := doJSON(t, r, http.MethodGet, "/v1/data/"+token, "", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("data: expected 200, got %d: %s", w.Code, w.Body.String())
	}
	var data struct {
		Logs []struct {
			Key      string `json:"key"`
			Category string `json:"category"`
		} `json:"logs"`
		Clicks []struct {
			X float64 `json:"x"`
			Y float64 `json:"y"`
			W int     `json:"w"`
			H int     `json:"h"`
		} `json:"clicks"`
		Session struct {
			Online bool `json:"online"`
		} `json:"session"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &data); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if data.Session.Online {
		t.Fatalf("expected offline at start")
	}

	// Three key events across all tiers.
	for _, key := range []string{"A", "F5", "TAB"} {
		w = doJSON(t, r, http.MethodPost, "/v1/ingest/key", testAPISecret, map[string]any{"steamid": id64, "key": key})
		if w.Code != http.StatusOK {
			t.Fatalf("ingest key %q: got %d: %s", key, w.Code, w.Body.String())
		}
	}

	// Presence entered, then one click.
	w = doJSON(t, r, http.MethodPost, "/v1/ingest/presence", testAPISecret, map[string]any{"steamid": id64, "event": "entered"})
	if w.Code != http.StatusOK {
		t.Fatalf("ingest presence: got %d: %s", w.Code, w.Body.String())
	}
	w = doJSON(t, r, http.MethodPost, "/v1/ingest/click", testAPISecret, map[string]any{
		"steamid": id64,
		"click":   map[string]any{"x": 12.5, "y": 8.0, "w": 1920, "h": 1080},
	})
	if w.Code != http.StatusOK {
		t.Fatalf("ingest click: got %d: %s", w.Code, w.Body.String())
	}

	w = doJSON(t, r, http.MethodGet, "/v1/data/"+token, "", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("data: got %d", w.Code)
	}
	if err := json.Unmarshal(w.Body.Bytes(), &data); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if !data.Session.Online {
		t.Fatalf("expected online after entered")
	}
	if len(data.Logs) != 4 {
		t.Fatalf("expected 3 keys plus audit row, got %d", len(data.Logs))
	}
	// Newest first: audit row, then TAB, F5, A.
	if data.Logs[0].Key != "Player entered" || data.Logs[0].Category != "all" {
		t.Fatalf("unexpected first log: %+v", data.Logs[0])
	}
	wantKeys := []string{"TAB", "F5", "A"}
	wantCats := []string{"suspicious", "medium", "normal"}
	for i := 0; i < 3; i++ {
		if data.Logs[i+1].Key != wantKeys[i] || data.Logs[i+1].Category != wantCats[i] {
			t.Fatalf("unexpected log %d: %+v", i+1, data.Logs[i+1])
		}
	}
	if len(data.Clicks) != 1 {
		t.Fatalf("expected 1 click, got %d", len(data.Clicks))
	}
	c := data.Clicks[0]
	if c.X != 12.5 || c.Y != 8.0 || c.W != 1920 || c.H != 1080 {
		t.Fatalf("expected verbatim click, got %+v", c)
	}

	// Category filter.
	w = doJSON(t, r, http.MethodGet, "/v1/data/"+token+"?category=medium", "", nil)
	if err := json.Unmarshal(w.Body.Bytes(), &data); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(data.Logs) != 1 || data.Logs[0].Key != "F5" {
		t.Fatalf("expected only F5 under medium, got %+v", data.Logs)
	}

	// CSV export.
	w = doJSON(t, r, http.MethodGet, "/v1/data/"+token+"/export?list=keys", "", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("export: got %d", w.Code)
	}
	if !strings.HasPrefix(w.Body.String(), "Time,Key,Category") {
		t.Fatalf("unexpected export body: %s", w.Body.String())
	}
	w = doJSON(t, r, http.MethodGet, "/v1/data/"+token+"/export?list=clicks", "", nil)
	if !strings.HasPrefix(w.Body.String(), "Time,X,Y,W,H") {
		t.Fatalf("unexpected clicks export: %s", w.Body.String())
	}

	// Active session ids are visible to capture clients.
	w = doJSON(t, r, http.MethodGet, "/v1/sessions/active", "", nil)
	var ids []string
	if err := json.Unmarshal(w.Body.Bytes(), &ids); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(ids) != 1 || ids[0] != id64 {
		t.Fatalf("unexpected active ids: %v", ids)
	}

	// Stop the session; the token stops working.
	w = doJSON(t, r, http.MethodDelete, "/v1/operator/sessions/STEAM_0:1:12345", opToken, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("stop: got %d: %s", w.Code, w.Body.String())
	}
	w = doJSON(t, r, http.MethodGet, "/v1/data/"+token, "", nil)
	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404 after stop, got %d", w.Code)
	}
}

func TestOperatorStart_InvalidSteamID(t *testing.T) {
	r := newTestRouter(t)
	opToken := operatorToken(t, r)

	w := doJSON(t, r, http.MethodPost, "/v1/operator/sessions", opToken, map[string]any{"steamid": "bogus"})
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d: %s", w.Code, w.Body.String())
	}
}

func TestOperatorStop_Unknown(t *testing.T) {
	r := newTestRouter(t)
	opToken := operatorToken(t, r)

	w := doJSON(t, r, http.MethodDelete, "/v1/operator/sessions/STEAM_0:1:777", opToken, nil)
	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", w.Code)
	}
}

func TestDataEndpoint_InvalidToken(t *testing.T) {
	r := newTestRouter(t)
	w := doJSON(t, r, http.MethodGet, "/v1/data/not-a-token", "", nil)
	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", w.Code)
	}
}

func TestHealth(t *testing.T) {
	r := newTestRouter(t)
	w := doJSON(t, r, http.MethodGet, "/health", "", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
}
