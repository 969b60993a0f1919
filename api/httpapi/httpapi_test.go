package httpapi

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	mem "levelkit/adapters/memory"
	"levelkit/analytics"
	"levelkit/core"
	"levelkit/engine"
	"levelkit/gamify"
)

func do(t *testing.T, h http.Handler, method, path, body string, hdr ...string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	for i := 0; i+1 < len(hdr); i += 2 {
		req.Header.Set(hdr[i], hdr[i+1])
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var resp map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode %q: %v", rec.Body.String(), err)
	}
	return resp
}

func TestJoinAndAward(t *testing.T) {
	handler := NewMux(newTestService(), nil, Options{PathPrefix: "/api"})

	rec := do(t, handler, http.MethodPost, "/api/communities/g1/members/alice", "")
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d", rec.Code)
	}
	rec = do(t, handler, http.MethodPost, "/api/communities/g1/members/alice", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 on second join, got %d", rec.Code)
	}

	rec = do(t, handler, http.MethodPost, "/api/communities/g1/members/alice/award", `{"amount":300,"actor_id":"mod"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if resp := decodeBody(t, rec); resp["total"] != float64(300) {
		t.Fatalf("expected total 300, got %v", resp["total"])
	}

	rec = do(t, handler, http.MethodGet, "/api/communities/g1/members/alice/level", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if resp := decodeBody(t, rec); resp["score"] != float64(300) {
		t.Fatalf("expected score 300, got %v", resp["score"])
	}

	rec = do(t, handler, http.MethodGet, "/api/communities/g1/members/alice/history", "")
	var hist struct {
		Entries []core.LedgerEntry `json:"entries"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &hist); err != nil || len(hist.Entries) != 2 {
		t.Fatalf("expected 2 history entries, got %s", rec.Body.String())
	}
}

func TestAwardUnknownMember(t *testing.T) {
	handler := NewMux(newTestService(), nil, Options{})

	rec := do(t, handler, http.MethodPost, "/communities/g1/members/ghost/award", `{"amount":5,"actor_id":"mod"}`)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
	if resp := decodeBody(t, rec); !strings.Contains(resp["message"].(string), "<@!ghost>") {
		t.Fatalf("expected mention in message, got %v", resp["message"])
	}
}

func TestAwardValidation(t *testing.T) {
	handler := NewMux(newTestService(), nil, Options{})
	do(t, handler, http.MethodPost, "/communities/g1/members/alice", "")

	for name, body := range map[string]string{
		"negative":      `{"amount":-1,"actor_id":"mod"}`,
		"missing actor": `{"amount":1}`,
		"unknown field": `{"amount":1,"actor_id":"mod","metric":"xp"}`,
		"malformed":     `{"amount":`,
	} {
		rec := do(t, handler, http.MethodPost, "/communities/g1/members/alice/award", body)
		if rec.Code != http.StatusBadRequest {
			t.Fatalf("%s: expected 400, got %d", name, rec.Code)
		}
	}
}

func TestReclaim(t *testing.T) {
	handler := NewMux(newTestService(), nil, Options{})
	do(t, handler, http.MethodPost, "/communities/g1/members/alice", "")
	do(t, handler, http.MethodPost, "/communities/g1/members/alice/award", `{"amount":100,"actor_id":"mod"}`)

	rec := do(t, handler, http.MethodPost, "/communities/g1/members/alice/reclaim", `{"amount":30,"actor_id":"mod"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if resp := decodeBody(t, rec); resp["total"] != float64(70) {
		t.Fatalf("expected total 70, got %v", resp)
	}

	rec = do(t, handler, http.MethodPost, "/communities/g1/members/alice/reclaim", `{"all":true,"actor_id":"mod"}`)
	if resp := decodeBody(t, rec); rec.Code != http.StatusOK || resp["total"] != float64(0) {
		t.Fatalf("expected total 0, got %d %v", rec.Code, resp)
	}

	for _, body := range []string{
		`{"actor_id":"mod"}`,
		`{"amount":0,"actor_id":"mod"}`,
		`{"all":true,"amount":5,"actor_id":"mod"}`,
	} {
		rec = do(t, handler, http.MethodPost, "/communities/g1/members/alice/reclaim", body)
		if rec.Code != http.StatusBadRequest {
			t.Fatalf("%s: expected 400, got %d", body, rec.Code)
		}
	}
}

func TestLeaderboardAndSettings(t *testing.T) {
	handler := NewMux(newTestService(), nil, Options{})
	for _, u := range []string{"alice", "bob"} {
		do(t, handler, http.MethodPost, "/communities/g1/members/"+u, "")
	}
	do(t, handler, http.MethodPost, "/communities/g1/members/bob/award", `{"amount":50,"actor_id":"mod"}`)

	rec := do(t, handler, http.MethodGet, "/communities/g1/leaderboard?focus=alice", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var page engine.LeaderboardPage
	if err := json.Unmarshal(rec.Body.Bytes(), &page); err != nil {
		t.Fatal(err)
	}
	if len(page.Entries) != 2 || page.Entries[0].User != "bob" {
		t.Fatalf("unexpected page %+v", page)
	}

	rec = do(t, handler, http.MethodGet, "/communities/g1/leaderboard?focus=nobody", "")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown focus, got %d", rec.Code)
	}

	rec = do(t, handler, http.MethodPut, "/communities/g1/rewards/r5", `{"level":5,"message":"nice"}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d", rec.Code)
	}
	rec = do(t, handler, http.MethodPut, "/communities/g1/rewards/r5", `{"level":0}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for level 0, got %d", rec.Code)
	}
	rec = do(t, handler, http.MethodDelete, "/communities/g1/rewards/r5", "")
	if rec.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", rec.Code)
	}
	rec = do(t, handler, http.MethodDelete, "/communities/g1/rewards/r5", "")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}

	rec = do(t, handler, http.MethodPut, "/communities/g1/settings/curve", `{"base":10,"modifier":0,"amount":5}`)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", rec.Code)
	}
	rec = do(t, handler, http.MethodPut, "/communities/g1/settings/log-channel", `{"channel_id":"audit"}`)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", rec.Code)
	}
	rec = do(t, handler, http.MethodPost, "/communities/g1/members/bob/award", `{"amount":1,"actor_id":"mod"}`)
	if resp := decodeBody(t, rec); resp["log_channel_id"] != "audit" {
		t.Fatalf("expected log channel audit, got %v", resp)
	}
}

func TestExemptionsAndEarn(t *testing.T) {
	handler := NewMux(newTestService(), nil, Options{})

	rec := do(t, handler, http.MethodPut, "/communities/g1/exemptions/role/bots", `{"exempt":true}`)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", rec.Code)
	}
	rec = do(t, handler, http.MethodPut, "/communities/g1/exemptions/planet/x", `{"exempt":true}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for bad kind, got %d", rec.Code)
	}

	rec = do(t, handler, http.MethodPost, "/communities/g1/members/alice/exempt", `{"held_role_ids":["bots"]}`)
	if resp := decodeBody(t, rec); resp["exempt"] != true {
		t.Fatalf("expected exempt, got %v", resp)
	}

	rec = do(t, handler, http.MethodPost, "/communities/g1/members/alice/earn", `{"held_role_ids":["bots"]}`)
	if resp := decodeBody(t, rec); resp["exempt"] != true || resp["earned"] != float64(0) {
		t.Fatalf("expected exempt earn, got %v", resp)
	}
	rec = do(t, handler, http.MethodPost, "/communities/g1/members/alice/earn", `{"channel_id":"general"}`)
	if resp := decodeBody(t, rec); resp["earned"] != float64(core.DefaultCurve().Amount) {
		t.Fatalf("expected default amount earned, got %v", resp)
	}
}

func TestHealthz(t *testing.T) {
	handler := NewMux(newTestService(), nil, Options{PathPrefix: "/api", APIKeys: []string{"secret"}})
	rec := do(t, handler, http.MethodGet, "/api/healthz", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if resp := decodeBody(t, rec); resp["status"] != "healthy" {
		t.Fatalf("unexpected health %v", resp)
	}
}

func TestMetricsRoute(t *testing.T) {
	metrics := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) { _, _ = w.Write([]byte("ok")) })
	handler := NewMux(newTestService(), nil, Options{APIKeys: []string{"secret"}, Metrics: metrics})
	rec := do(t, handler, http.MethodGet, "/metrics", "")
	if rec.Code != http.StatusOK || rec.Body.String() != "ok" {
		t.Fatalf("expected open metrics route, got %d", rec.Code)
	}
}

func TestAPIKeyAuth(t *testing.T) {
	handler := NewMux(newTestService(), nil, Options{
		PathPrefix:      "/api",
		APIKeys:         []string{"secret"},
		AllowCORSOrigin: "*",
	})

	rec := do(t, handler, http.MethodGet, "/api/communities/g1/leaderboard", "")
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}

	rec = do(t, handler, http.MethodGet, "/api/communities/g1/leaderboard", "", "Authorization", "Bearer secret")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	rec = do(t, handler, http.MethodOptions, "/api/communities/g1/leaderboard", "")
	if rec.Code != http.StatusNoContent || rec.Header().Get("Access-Control-Allow-Origin") != "*" {
		t.Fatalf("expected CORS preflight, got %d", rec.Code)
	}
}

func TestRateLimit(t *testing.T) {
	handler := NewMux(newTestService(), nil, Options{
		PathPrefix:       "/api",
		APIKeys:          []string{"k"},
		RateLimitEnabled: true,
		RateLimitRPM:     1,
		RateLimitBurst:   1,
	})

	rec := do(t, handler, http.MethodGet, "/api/communities/g1/leaderboard", "", "X-API-Key", "k")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 first request, got %d", rec.Code)
	}
	rec = do(t, handler, http.MethodGet, "/api/communities/g1/leaderboard", "", "X-API-Key", "k")
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", rec.Code)
	}
	if rec.Header().Get("Retry-After") == "" {
		t.Fatal("missing Retry-After on 429")
	}
	// buckets are per caller
	rec = do(t, handler, http.MethodGet, "/api/communities/g1/leaderboard", "", "Authorization", "Bearer k")
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("same key via bearer should share the bucket, got %d", rec.Code)
	}
}

func TestDailyStats(t *testing.T) {
	activity := analytics.NewActivity(0)
	svc := gamify.New(
		gamify.WithStorage(mem.New()),
		gamify.WithDispatchMode(engine.DispatchSync),
		gamify.WithHooks(activity),
	)
	defer svc.Close()
	handler := NewMux(svc, nil, Options{PathPrefix: "/api", Stats: activity})

	do(t, handler, http.MethodPost, "/api/communities/g1/members/alice", "")
	do(t, handler, http.MethodPost, "/api/communities/g1/members/alice/award", `{"amount":120,"actor_id":"mod"}`)
	do(t, handler, http.MethodPost, "/api/communities/g1/members/alice/reclaim", `{"amount":20,"actor_id":"mod"}`)

	rec := do(t, handler, http.MethodGet, "/api/communities/g1/stats", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	resp := decodeBody(t, rec)
	if resp["day"] != time.Now().UTC().Format(time.DateOnly) || resp["active_members"] != 1.0 ||
		resp["joined"] != 1.0 || resp["xp_awarded"] != 120.0 || resp["xp_reclaimed"] != 20.0 {
		t.Fatalf("unexpected stats %v", resp)
	}

	rec = do(t, handler, http.MethodGet, "/api/communities/g1/stats?day=2001-01-01", "")
	if resp := decodeBody(t, rec); rec.Code != http.StatusOK || resp["joined"] != 0.0 || resp["day"] != "2001-01-01" {
		t.Fatalf("expected zeroed stats, got %d %v", rec.Code, resp)
	}

	rec = do(t, handler, http.MethodGet, "/api/communities/g1/stats?day=yesterday", "")
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}

	rec = do(t, NewMux(newTestService(), nil, Options{}), http.MethodGet, "/communities/g1/stats", "")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("stats route should be absent without a reader, got %d", rec.Code)
	}
}

func newTestService() *engine.Service {
	return engine.NewService(mem.New(), engine.NewEventBus(engine.DispatchSync), engine.DefaultRuleEngine())
}
