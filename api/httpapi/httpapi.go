package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	wsadapter "levelkit/adapters/websocket"
	"levelkit/analytics"
	"levelkit/core"
	"levelkit/engine"
	"levelkit/realtime"
)

// Options configures the HTTP API surface.
type Options struct {
	// PathPrefix, if set, is prepended to all routes (e.g., "/api").
	PathPrefix string
	// AllowCORSOrigin, if non-empty, enables basic CORS with the given origin (use "*" for any).
	AllowCORSOrigin string
	// APIKeys, if non-empty, enables static API key auth via Authorization: Bearer or X-API-Key.
	APIKeys []string
	// RateLimitEnabled toggles rate limiting.
	RateLimitEnabled bool
	// RateLimitRPM is the allowed requests per minute per client key.
	RateLimitRPM int
	// RateLimitBurst defines burst capacity.
	RateLimitBurst int
	// Metrics, if set, is served unauthenticated at /metrics.
	Metrics http.Handler
	// Stats, if set, backs GET {prefix}/communities/{cid}/stats.
	Stats StatsReader
	// Logger receives access logs and unexpected failures.
	Logger *slog.Logger
}

// StatsReader returns the activity rollup of one community for one UTC day.
type StatsReader interface {
	Day(community core.CommunityID, day string) (analytics.DailyStats, bool)
}

type api struct {
	svc    *engine.Service
	stats  StatsReader
	logger *slog.Logger
}

// NewMux builds an http.Handler exposing the leveling REST API and WebSocket
// stream. Member routes live under {prefix}/communities/{cid}:
//   - POST   members/{uid}                join
//   - POST   members/{uid}/award          award
//   - POST   members/{uid}/reclaim        reclaim
//   - POST   members/{uid}/earn           earn
//   - GET    members/{uid}/level          level info
//   - GET    members/{uid}/history        ledger entries
//   - GET    leaderboard?focus={uid}      leaderboard page
//   - POST   members/{uid}/exempt         exemption check
//   - PUT    exemptions/{kind}/{id}       mark or unmark an exemption
//   - PUT    rewards/{rid}                upsert reward
//   - DELETE rewards/{rid}                remove reward
//   - PUT    settings/curve               level curve
//   - PUT    settings/log-channel         log channel
//   - GET    stats?day=YYYY-MM-DD         daily activity (when Options.Stats is set)
//
// plus GET {prefix}/healthz and WS {prefix}/ws.
func NewMux(svc *engine.Service, hub *realtime.Hub, opts Options) http.Handler {
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	}
	a := &api{svc: svc, stats: opts.Stats, logger: logger}
	mux := http.NewServeMux()
	route := func(method, path string, h http.HandlerFunc) {
		mux.HandleFunc(method+" "+withPrefix(opts.PathPrefix, path), h)
	}

	healthz := withPrefix(opts.PathPrefix, "/healthz")
	mux.HandleFunc("GET "+healthz, a.healthCheck)
	open := []string{healthz}
	if opts.Metrics != nil {
		mux.Handle("GET /metrics", opts.Metrics)
		open = append(open, "/metrics")
	}
	if hub != nil {
		mux.Handle("GET "+withPrefix(opts.PathPrefix, "/ws"), wsadapter.Handler(hub))
	}

	const c = "/communities/{cid}"
	route(http.MethodPost, c+"/members/{uid}", a.join)
	route(http.MethodPost, c+"/members/{uid}/award", a.award)
	route(http.MethodPost, c+"/members/{uid}/reclaim", a.reclaim)
	route(http.MethodPost, c+"/members/{uid}/earn", a.earn)
	route(http.MethodPost, c+"/members/{uid}/exempt", a.exempt)
	route(http.MethodGet, c+"/members/{uid}/level", a.level)
	route(http.MethodGet, c+"/members/{uid}/history", a.history)
	route(http.MethodGet, c+"/leaderboard", a.leaderboard)
	route(http.MethodPut, c+"/exemptions/{kind}/{id}", a.setExemption)
	route(http.MethodPut, c+"/rewards/{rid}", a.upsertReward)
	route(http.MethodDelete, c+"/rewards/{rid}", a.removeReward)
	route(http.MethodPut, c+"/settings/curve", a.setCurve)
	route(http.MethodPut, c+"/settings/log-channel", a.setLogChannel)
	if opts.Stats != nil {
		route(http.MethodGet, c+"/stats", a.dailyStats)
	}

	var limit middleware
	if opts.RateLimitEnabled {
		limit = throttle(opts.RateLimitRPM, opts.RateLimitBurst)
	}
	return chain(mux,
		accessLog(logger),
		corsPolicy(opts.AllowCORSOrigin),
		limit,
		requireAPIKey(opts.APIKeys, open...),
	)
}

func memberKey(r *http.Request) core.MemberKey {
	return core.MemberKey{
		Community: core.CommunityID(r.PathValue("cid")),
		User:      core.UserID(r.PathValue("uid")),
	}
}

func (a *api) join(w http.ResponseWriter, r *http.Request) {
	created, err := a.svc.Join(r.Context(), memberKey(r))
	if err != nil {
		a.fail(w, r, err)
		return
	}
	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	writeJSONStatus(w, status, map[string]any{"created": created})
}

func (a *api) award(w http.ResponseWriter, r *http.Request) {
	var body awardBody
	if err := decode(w, r, &body); err != nil {
		a.fail(w, r, err)
		return
	}
	res, err := a.svc.Award(r.Context(), engine.AwardRequest{
		Member: memberKey(r),
		Amount: body.Amount,
		Actor:  core.UserID(body.Actor),
	})
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, res)
}

func (a *api) reclaim(w http.ResponseWriter, r *http.Request) {
	var body reclaimBody
	if err := decode(w, r, &body); err != nil {
		a.fail(w, r, err)
		return
	}
	opt, err := body.option()
	if err != nil {
		a.fail(w, r, err)
		return
	}
	res, err := a.svc.Reclaim(r.Context(), engine.ReclaimRequest{
		Member: memberKey(r),
		Option: opt,
		Actor:  core.UserID(body.Actor),
	})
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, res)
}

func (a *api) earn(w http.ResponseWriter, r *http.Request) {
	var body activityBody
	if err := decode(w, r, &body); err != nil {
		a.fail(w, r, err)
		return
	}
	res, err := a.svc.Earn(r.Context(), body.query(memberKey(r)))
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, res)
}

func (a *api) exempt(w http.ResponseWriter, r *http.Request) {
	var body activityBody
	if err := decode(w, r, &body); err != nil {
		a.fail(w, r, err)
		return
	}
	exempt, err := a.svc.IsExempt(r.Context(), body.query(memberKey(r)))
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, map[string]any{"exempt": exempt})
}

func (a *api) level(w http.ResponseWriter, r *http.Request) {
	info, err := a.svc.GetLevel(r.Context(), memberKey(r))
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, info)
}

func (a *api) history(w http.ResponseWriter, r *http.Request) {
	entries, err := a.svc.History(r.Context(), memberKey(r))
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, map[string]any{"entries": entries})
}

func (a *api) leaderboard(w http.ResponseWriter, r *http.Request) {
	req := engine.LeaderboardRequest{Community: core.CommunityID(r.PathValue("cid"))}
	if focus := r.URL.Query().Get("focus"); focus != "" {
		u := core.UserID(focus)
		req.Focus = &u
	}
	page, err := a.svc.GetLeaderboard(r.Context(), req)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, page)
}

func (a *api) setExemption(w http.ResponseWriter, r *http.Request) {
	var body exemptionBody
	if err := decode(w, r, &body); err != nil {
		a.fail(w, r, err)
		return
	}
	err := a.svc.SetExempt(r.Context(), core.CommunityID(r.PathValue("cid")),
		core.ExemptionKind(r.PathValue("kind")), r.PathValue("id"), *body.Exempt)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *api) upsertReward(w http.ResponseWriter, r *http.Request) {
	var body rewardBody
	if err := decode(w, r, &body); err != nil {
		a.fail(w, r, err)
		return
	}
	res, err := a.svc.UpsertReward(r.Context(), engine.UpsertRewardRequest{
		Community: core.CommunityID(r.PathValue("cid")),
		Role:      core.RoleID(r.PathValue("rid")),
		Level:     body.Level,
		Message:   body.Message,
	})
	if err != nil {
		a.fail(w, r, err)
		return
	}
	status := http.StatusOK
	if res.IsNew {
		status = http.StatusCreated
	}
	writeJSONStatus(w, status, res)
}

func (a *api) removeReward(w http.ResponseWriter, r *http.Request) {
	err := a.svc.RemoveReward(r.Context(), core.CommunityID(r.PathValue("cid")), core.RoleID(r.PathValue("rid")))
	if err != nil {
		a.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *api) setCurve(w http.ResponseWriter, r *http.Request) {
	var body curveBody
	if err := decode(w, r, &body); err != nil {
		a.fail(w, r, err)
		return
	}
	curve := core.LevelCurve{Base: body.Base, Modifier: body.Modifier, Amount: body.Amount}
	if err := a.svc.SetLevelCurve(r.Context(), core.CommunityID(r.PathValue("cid")), curve); err != nil {
		a.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *api) setLogChannel(w http.ResponseWriter, r *http.Request) {
	var body logChannelBody
	if err := decode(w, r, &body); err != nil {
		a.fail(w, r, err)
		return
	}
	var ch *core.ChannelID
	if body.Channel != nil {
		c := core.ChannelID(*body.Channel)
		ch = &c
	}
	if err := a.svc.SetLogChannel(r.Context(), core.CommunityID(r.PathValue("cid")), ch); err != nil {
		a.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// dailyStats reports one day of activity, today (UTC) when day is omitted.
// Days without activity come back zeroed.
func (a *api) dailyStats(w http.ResponseWriter, r *http.Request) {
	community, err := core.NormalizeID(r.PathValue("cid"))
	if err != nil {
		a.fail(w, r, core.InvalidArgumentf("community id: %v", err))
		return
	}
	day := r.URL.Query().Get("day")
	if day == "" {
		day = time.Now().UTC().Format(time.DateOnly)
	} else if _, err := time.Parse(time.DateOnly, day); err != nil {
		a.fail(w, r, core.InvalidArgumentf("day must be formatted YYYY-MM-DD, got %q", day))
		return
	}
	cid := core.CommunityID(community)
	st, ok := a.stats.Day(cid, day)
	if !ok {
		st = analytics.DailyStats{Day: day, Community: cid}
	}
	writeJSON(w, st)
}

// healthCheck verifies storage answers by reading an empty reserved community.
func (a *api) healthCheck(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	_, err := a.svc.GetLeaderboard(ctx, engine.LeaderboardRequest{Community: "healthcheck"})

	status := map[string]any{
		"status": "healthy",
		"checks": map[string]any{"storage": "ok"},
	}
	code := http.StatusOK
	if err != nil {
		a.logger.Warn("health check failed", "error", err)
		code = http.StatusServiceUnavailable
		status["status"] = "unhealthy"
		status["checks"] = map[string]any{"storage": "failed"}
	}
	writeJSONStatus(w, code, status)
}

// fail maps the core error taxonomy onto HTTP status codes.
func (a *api) fail(w http.ResponseWriter, r *http.Request, err error) {
	var msg string
	var ce *core.Error
	if errors.As(err, &ce) {
		msg = ce.Message
	} else {
		msg = err.Error()
	}
	switch {
	case errors.Is(err, core.ErrNotFound):
		writeError(w, http.StatusNotFound, "not_found", msg, nil)
	case errors.Is(err, core.ErrInvalidArgument):
		writeError(w, http.StatusBadRequest, "invalid_argument", msg, nil)
	default:
		a.logger.Error("request failed", "method", r.Method, "path", r.URL.Path, "error", err)
		writeError(w, http.StatusInternalServerError, "internal", "internal error", nil)
	}
}

func withPrefix(prefix, path string) string {
	if prefix == "" || prefix == "/" {
		return path
	}
	if prefix[len(prefix)-1] == '/' {
		return prefix[:len(prefix)-1] + path
	}
	return prefix + path
}

func writeJSON(w http.ResponseWriter, v any) { writeJSONStatus(w, http.StatusOK, v) }

func writeJSONStatus(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

type apiError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

func writeError(w http.ResponseWriter, status int, code, msg string, details any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(apiError{Code: code, Message: msg, Details: details})
}
