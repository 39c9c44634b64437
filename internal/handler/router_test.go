package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/hitoshi/authflow/internal/metrics"
	"github.com/hitoshi/authflow/internal/model"
	"github.com/hitoshi/authflow/internal/oauth"
	"github.com/hitoshi/authflow/internal/repository"
)

// newFakeGitHub はトークンエンドポイントとユーザー情報エンドポイントを持つ偽プロバイダーを起動する。
func newFakeGitHub(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/login/oauth/access_token", func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil {
			t.Errorf("ParseForm: %v", err)
		}
		if r.PostForm.Get("code") != "good-code" {
			w.WriteHeader(http.StatusBadRequest)
			fmt.Fprint(w, `{"error":"bad_verification_code"}`)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"access_token":"gho_token","token_type":"bearer"}`)
	})
	mux.HandleFunc("/user", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer gho_token" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"id":42,"login":"octocat","email":null,"avatar_url":"https://avatars.githubusercontent.com/u/42"}`)
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

type routerFixture struct {
	handler   http.Handler
	collector *metrics.Collector
	store     *repository.MemoryPendingLoginStore
}

func newRouterFixture(t *testing.T, health HealthChecker) *routerFixture {
	t.Helper()
	provider := newFakeGitHub(t)

	registry, err := oauth.NewRegistry(oauth.ProviderConfig{
		ID:           model.ProviderGitHub,
		AuthURL:      provider.URL + "/login/oauth/authorize",
		TokenURL:     provider.URL + "/login/oauth/access_token",
		UserInfoURL:  provider.URL + "/user",
		ClientID:     "client-id",
		ClientSecret: "client-secret",
		RedirectURL:  "http://localhost:8080/auth/github/callback",
		Scopes:       []string{"read:user"},
		UsePKCE:      true,
	})
	if err != nil {
		t.Fatalf("NewRegistry() error = %v", err)
	}

	store := repository.NewMemoryPendingLoginStore(0)
	reg := prometheus.NewRegistry()
	collector := metrics.NewCollector(reg)
	svc := oauth.NewService(
		registry,
		oauth.NewStateStore(store, time.Minute),
		oauth.NewExchanger(oauth.ExchangerConfig{HTTPClient: provider.Client(), Timeout: 5 * time.Second}),
		nil,
		collector,
	)

	return &routerFixture{
		handler: NewRouter(&RouterDeps{
			AuthService:    svc,
			HealthChecker:  health,
			Metrics:        collector,
			MetricsHandler: metrics.Handler(reg),
		}),
		collector: collector,
		store:     store,
	}
}

func (f *routerFixture) get(t *testing.T, target string) *http.Response {
	t.Helper()
	w := httptest.NewRecorder()
	f.handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, target, nil))
	return w.Result()
}

func TestRouter_LoginAndCallback_RoundTrip(t *testing.T) {
	f := newRouterFixture(t, nil)

	resp := f.get(t, "/auth/github")
	if resp.StatusCode != http.StatusFound {
		t.Fatalf("login status = %d, want %d", resp.StatusCode, http.StatusFound)
	}
	location, err := url.Parse(resp.Header.Get("Location"))
	if err != nil {
		t.Fatalf("invalid Location: %v", err)
	}
	q := location.Query()
	state := q.Get("state")
	if state == "" {
		t.Fatal("authorize URL has no state")
	}
	if q.Get("code_challenge_method") != "S256" || q.Get("code_challenge") == "" {
		t.Errorf("authorize URL missing PKCE params: %s", location)
	}
	if q.Get("client_id") != "client-id" || q.Get("response_type") != "code" {
		t.Errorf("authorize URL = %s", location)
	}

	resp = f.get(t, "/auth/github/callback?state="+url.QueryEscape(state)+"&code=good-code")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("callback status = %d, want %d", resp.StatusCode, http.StatusOK)
	}
	var identity model.CanonicalIdentity
	if err := json.NewDecoder(resp.Body).Decode(&identity); err != nil {
		t.Fatalf("failed to decode identity: %v", err)
	}
	if identity.Provider != model.ProviderGitHub || identity.ProviderUserID != "42" || identity.DisplayName != "octocat" {
		t.Errorf("identity = %+v", identity)
	}

	// 同じstateの再利用は拒否される
	resp = f.get(t, "/auth/github/callback?state="+url.QueryEscape(state)+"&code=good-code")
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("replay status = %d, want %d", resp.StatusCode, http.StatusBadRequest)
	}
	if body := decodeErrorBody(t, resp); body.Code != model.ErrCodeInvalidState {
		t.Errorf("replay code = %q, want %q", body.Code, model.ErrCodeInvalidState)
	}
}

func TestRouter_Callback_BadCode_ReturnsTokenExchangeFailed(t *testing.T) {
	f := newRouterFixture(t, nil)

	location, _ := url.Parse(f.get(t, "/auth/github").Header.Get("Location"))
	state := location.Query().Get("state")

	resp := f.get(t, "/auth/github/callback?state="+url.QueryEscape(state)+"&code=bad-code")
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want %d", resp.StatusCode, http.StatusBadRequest)
	}
	if body := decodeErrorBody(t, resp); body.Code != model.ErrCodeTokenExchangeFailed {
		t.Errorf("code = %q, want %q", body.Code, model.ErrCodeTokenExchangeFailed)
	}
}

func TestRouter_Login_UnknownProvider_LeavesStoreUntouched(t *testing.T) {
	f := newRouterFixture(t, nil)

	resp := f.get(t, "/auth/google")
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d, want %d", resp.StatusCode, http.StatusBadRequest)
	}
	if count, _ := f.store.Count(context.Background()); count != 0 {
		t.Errorf("store count = %d, want 0", count)
	}
}

func TestRouter_SetsSecurityHeaders(t *testing.T) {
	f := newRouterFixture(t, nil)

	resp := f.get(t, "/auth/github")
	if got := resp.Header.Get("Cache-Control"); got != "no-store" {
		t.Errorf("Cache-Control = %q, want no-store", got)
	}
	if got := resp.Header.Get("X-Content-Type-Options"); got != "nosniff" {
		t.Errorf("X-Content-Type-Options = %q, want nosniff", got)
	}
}

func TestRouter_Health(t *testing.T) {
	f := newRouterFixture(t, nil)

	resp := f.get(t, "/health")
	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d, want %d", resp.StatusCode, http.StatusOK)
	}
	var body map[string]string
	json.NewDecoder(resp.Body).Decode(&body)
	if body["status"] != "ok" {
		t.Errorf("status = %q, want ok", body["status"])
	}
}

func TestRouter_Health_DependencyDown_Returns503(t *testing.T) {
	f := newRouterFixture(t, HealthCheckerFunc(func(ctx context.Context) error {
		return errors.New("dial tcp: connection refused")
	}))

	resp := f.get(t, "/health")
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want %d", resp.StatusCode, http.StatusServiceUnavailable)
	}
}

func TestRouter_Metrics_ExposesCounters(t *testing.T) {
	f := newRouterFixture(t, nil)

	f.get(t, "/auth/github")
	f.get(t, "/auth/github/callback?state=missing&code=x")

	resp := f.get(t, "/metrics")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want %d", resp.StatusCode, http.StatusOK)
	}
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("failed to read metrics: %v", err)
	}
	out := string(raw)
	for _, want := range []string{
		`authflow_logins_issued_total{provider="github"} 1`,
		`authflow_callbacks_total{outcome="invalid_state",provider="github"} 1`,
		`authflow_http_responses_total{status_code="302"} 1`,
	} {
		if !strings.Contains(out, want) {
			t.Errorf("metrics output missing %q", want)
		}
	}
}

func TestRouter_UnknownRoute_Returns404(t *testing.T) {
	f := newRouterFixture(t, nil)

	if resp := f.get(t, "/api/feeds"); resp.StatusCode != http.StatusNotFound {
		t.Errorf("status = %d, want %d", resp.StatusCode, http.StatusNotFound)
	}
}
