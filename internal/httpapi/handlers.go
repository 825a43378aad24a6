package httpapi

import (
	"context"
	"database/sql"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"tallybook.org/internal/auth"
	"tallybook.org/internal/obs"
)

const serviceName = "tallybook-auth"

// ReadyProbe checks that the database answers.
type ReadyProbe struct {
	DB *sql.DB
}

func (rp ReadyProbe) Check(ctx context.Context) error {
	if rp.DB == nil {
		return nil
	}
	return rp.DB.PingContext(ctx)
}

type readinessChecker interface {
	Check(ctx context.Context) error
}

// Options wires the authorization core into the HTTP layer.
type Options struct {
	Tokens        *auth.TokenService
	Gateway       *auth.Gateway
	Roles         *auth.RoleAdmin
	Ready         readinessChecker
	Version       string
	MaxBodyBytes  int64
	RateBurst     int
	RatePerSecond float64
	// TrustedProxies may set X-Forwarded-For for rate limiting.
	TrustedProxies TrustedProxies
	Logger         *slog.Logger
}

// API is the HTTP layer.
type API struct {
	mux        *http.ServeMux
	tokens     *auth.TokenService
	gateway    *auth.Gateway
	roles      *auth.RoleAdmin
	readyProbe readinessChecker
	version    string
	maxBody    int64
	rateBurst  int
	ratePerSec float64
	proxies    TrustedProxies
	logger     *slog.Logger
}

func New(opts Options) *API {
	a := &API{
		mux:        http.NewServeMux(),
		tokens:     opts.Tokens,
		gateway:    opts.Gateway,
		roles:      opts.Roles,
		readyProbe: opts.Ready,
		version:    opts.Version,
		maxBody:    opts.MaxBodyBytes,
		rateBurst:  opts.RateBurst,
		ratePerSec: opts.RatePerSecond,
		proxies:    opts.TrustedProxies,
		logger:     opts.Logger,
	}
	if a.readyProbe == nil {
		a.readyProbe = ReadyProbe{}
	}
	if a.maxBody <= 0 {
		a.maxBody = 64 << 10
	}
	if a.rateBurst <= 0 {
		a.rateBurst = 20
	}
	if a.ratePerSec <= 0 {
		a.ratePerSec = 10
	}
	if a.logger == nil {
		a.logger = obs.Logger()
	}

	a.mux.HandleFunc("/healthz", a.Healthz)
	a.mux.HandleFunc("/readyz", a.Ready)
	a.mux.HandleFunc("/v1/info", a.Info)
	a.mux.Handle("/metrics", obs.Handler())

	authRoutes := http.NewServeMux()
	authRoutes.HandleFunc("/v1/auth/login", a.handleLogin)
	authRoutes.HandleFunc("/v1/auth/refresh", a.handleRefresh)
	authRoutes.HandleFunc("/v1/auth/logout", a.handleLogout)
	authRoutes.Handle("/v1/auth/password", a.authenticated(a.handleChangePassword))
	a.mux.Handle("/v1/auth/", RateLimit(authRoutes, a.rateBurst, a.ratePerSec, a.proxies))

	a.mux.Handle("/v1/me", a.authenticated(a.handleMe))
	a.mux.HandleFunc("/v1/authz/check", a.handleAuthzCheck)
	a.mux.HandleFunc("/v1/roles/", a.handleRoleResource)
	a.mux.HandleFunc("/v1/users/", a.handleUserResource)

	a.mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		writeError(w, r, http.StatusNotFound, "resource not found")
	})

	return a
}

// Handler returns the fully wrapped handler for the server.
func (a *API) Handler() http.Handler {
	var h http.Handler = obs.Instrument(a.mux)
	h = MaxBodyBytes(h, a.maxBody)
	h = SecurityHeaders(h)
	h = LoggingJSON(h)
	return RequestID(h)
}

func (a *API) Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"service": serviceName,
		"version": a.version,
	})
}

func (a *API) Ready(w http.ResponseWriter, r *http.Request) {
	if err := a.readyProbe.Check(r.Context()); err != nil {
		a.logger.WarnContext(r.Context(), "readiness check failed", "error", err)
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"status": "not_ready",
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ready",
	})
}

func (a *API) Info(w http.ResponseWriter, r *http.Request) {
	info := map[string]any{
		"name":    serviceName,
		"time":    time.Now().UTC().Format(time.RFC3339),
		"version": a.version,
	}
	if a.tokens != nil {
		info["access_ttl_ms"] = a.tokens.AccessTTL().Milliseconds()
	}
	writeJSON(w, http.StatusOK, info)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
