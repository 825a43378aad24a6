package obs

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestCanonicalPath(t *testing.T) {
	cases := map[string]string{
		"":                                      "/",
		"/metrics":                              "/metrics",
		"/v1/auth/login":                        "/v1/auth/login",
		"/v1/roles/ADMIN/permissions":           "/v1/roles/:name/permissions",
		"/v1/roles/USER/permissions/grant":      "/v1/roles/:name/permissions/grant",
		"/v1/roles/USER/permissions/revoke?x=1": "/v1/roles/:name/permissions/revoke",
		"/v1/roles/USER/extra":                  "other",
		"/v1/roles/USER/permissions/delete":     "other",
		"/no/such/route/123":                    "other",
		"/v1/auth/password":                     "/v1/auth/password",
		"/v1/users/alice/password":              "/v1/users/:username/password",
		"/v1/me?verbose=1":                      "/v1/me",
	}
	for input, expected := range cases {
		if got := CanonicalPath(input); got != expected {
			t.Fatalf("CanonicalPath(%q)=%q, want %q", input, got, expected)
		}
	}
}

func TestInstrumentCountsRequests(t *testing.T) {
	Init()
	Init()

	h := Instrument(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))
	before := testutil.ToFloat64(httpRequestsTotal.WithLabelValues(http.MethodGet, "/v1/users/:username/password", "418"))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/v1/users/bob/password", nil))
	after := testutil.ToFloat64(httpRequestsTotal.WithLabelValues(http.MethodGet, "/v1/users/:username/password", "418"))
	if after-before != 1 {
		t.Fatalf("expected one counted request, got %v", after-before)
	}
}

func TestAuthCounters(t *testing.T) {
	before := testutil.ToFloat64(authDecisionsTotal.WithLabelValues("forbidden"))
	ObserveAuthDecision("forbidden")
	if got := testutil.ToFloat64(authDecisionsTotal.WithLabelValues("forbidden")) - before; got != 1 {
		t.Fatalf("expected decision counter +1, got %v", got)
	}

	purgedBefore := testutil.ToFloat64(revocationsPurgedTotal)
	AddPurged(0)
	AddPurged(3)
	if got := testutil.ToFloat64(revocationsPurgedTotal) - purgedBefore; got != 3 {
		t.Fatalf("expected purged counter +3, got %v", got)
	}
}
