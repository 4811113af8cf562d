package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/arielgw/castkit/internal/chatkit"
	"github.com/arielgw/castkit/internal/config"
	"github.com/arielgw/castkit/internal/facts"
	"github.com/arielgw/castkit/internal/identity"
	"github.com/arielgw/castkit/internal/observability"
)

type stubCreator struct {
	calls  int
	params chatkit.SessionParams
	result chatkit.SessionResult
	err    error
	panics bool
}

func (s *stubCreator) CreateSession(_ context.Context, params chatkit.SessionParams) (chatkit.SessionResult, error) {
	s.calls++
	s.params = params
	if s.panics {
		panic("stub exploded")
	}
	return s.result, s.err
}

var metricsSeq atomic.Int64

func newTestServer(t *testing.T, cfg config.Config, upstream SessionCreator) *Server {
	t.Helper()
	if cfg.CookieName == "" {
		cfg.CookieName = "chatkit_session_id"
	}
	if cfg.CookieMaxAge == 0 {
		cfg.CookieMaxAge = 2592000 * time.Second
	}
	if cfg.ScriptTimeout == 0 {
		cfg.ScriptTimeout = 5 * time.Second
	}
	resolver := identity.NewResolver(cfg.CookieName, cfg.CookieMaxAge, cfg.Production())
	metrics := observability.NewMetrics(fmt.Sprintf("test_httpapi_%d", metricsSeq.Add(1)))
	return New(cfg, resolver, upstream, facts.NewInMemoryStore(), metrics)
}

func postCreateSession(t *testing.T, ts *httptest.Server, body []byte, cookie *http.Cookie) *http.Response {
	t.Helper()
	req, err := http.NewRequest(http.MethodPost, ts.URL+"/api/create-session", bytes.NewReader(body))
	if err != nil {
		t.Fatalf("build request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if cookie != nil {
		req.AddCookie(cookie)
	}
	res, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("create-session request error = %v", err)
	}
	return res
}

func decodeBody(t *testing.T, res *http.Response) map[string]any {
	t.Helper()
	defer res.Body.Close()
	var out map[string]any
	if err := json.NewDecoder(res.Body).Decode(&out); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return out
}

func sessionCookie(t *testing.T, res *http.Response, name string) *http.Cookie {
	t.Helper()
	for _, c := range res.Cookies() {
		if c.Name == name {
			return c
		}
	}
	return nil
}

func TestCreateSessionIssuesCookieWithDocumentedAttributes(t *testing.T) {
	upstream := &stubCreator{result: chatkit.SessionResult{ClientSecret: "sk_abc", ExpiresAfter: json.RawMessage("123")}}
	srv := newTestServer(t, config.Config{
		OpenAIAPIKey:      "sk-test",
		DefaultWorkflowID: "wf_default",
	}, upstream)
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	res := postCreateSession(t, ts, nil, nil)
	body := decodeBody(t, res)

	if res.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want %d", res.StatusCode, http.StatusOK)
	}
	if body["client_secret"] != "sk_abc" {
		t.Fatalf("client_secret = %v, want sk_abc", body["client_secret"])
	}
	if body["expires_after"] != float64(123) {
		t.Fatalf("expires_after = %v, want 123", body["expires_after"])
	}

	c := sessionCookie(t, res, "chatkit_session_id")
	if c == nil {
		t.Fatalf("missing Set-Cookie for chatkit_session_id")
	}
	if _, err := uuid.Parse(c.Value); err != nil {
		t.Fatalf("cookie value %q is not a UUID: %v", c.Value, err)
	}
	if c.Path != "/" || c.MaxAge != 2592000 || !c.HttpOnly {
		t.Fatalf("cookie attributes = Path=%q MaxAge=%d HttpOnly=%v", c.Path, c.MaxAge, c.HttpOnly)
	}
	if c.Secure {
		t.Fatalf("cookie Secure = true outside production")
	}
	if upstream.params.UserID != c.Value {
		t.Fatalf("forwarded caller id = %q, cookie = %q", upstream.params.UserID, c.Value)
	}
}

func TestCreateSessionReusesExistingCookie(t *testing.T) {
	upstream := &stubCreator{result: chatkit.SessionResult{ClientSecret: "sk_abc"}}
	srv := newTestServer(t, config.Config{
		OpenAIAPIKey:      "sk-test",
		DefaultWorkflowID: "wf_default",
	}, upstream)
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	existing := uuid.NewString()
	res := postCreateSession(t, ts, nil, &http.Cookie{Name: "chatkit_session_id", Value: existing})
	defer res.Body.Close()

	if c := sessionCookie(t, res, "chatkit_session_id"); c != nil {
		t.Fatalf("unexpected Set-Cookie %q for request with valid cookie", c.Value)
	}
	if upstream.params.UserID != existing {
		t.Fatalf("forwarded caller id = %q, want %q", upstream.params.UserID, existing)
	}
}

func TestCreateSessionMissingWorkflowID(t *testing.T) {
	upstream := &stubCreator{}
	srv := newTestServer(t, config.Config{OpenAIAPIKey: "sk-test"}, upstream)
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	res := postCreateSession(t, ts, []byte(`{}`), nil)
	body := decodeBody(t, res)

	if res.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want %d", res.StatusCode, http.StatusBadRequest)
	}
	if body["error"] != "Missing workflow id" {
		t.Fatalf("error = %v, want %q", body["error"], "Missing workflow id")
	}
	if upstream.calls != 0 {
		t.Fatalf("upstream calls = %d, want 0", upstream.calls)
	}
}

func TestCreateSessionMissingAPIKey(t *testing.T) {
	upstream := &stubCreator{}
	srv := newTestServer(t, config.Config{DefaultWorkflowID: "wf_default"}, upstream)
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	res := postCreateSession(t, ts, nil, nil)
	body := decodeBody(t, res)

	if res.StatusCode != http.StatusInternalServerError {
		t.Fatalf("status = %d, want %d", res.StatusCode, http.StatusInternalServerError)
	}
	if body["error"] != "Missing OPENAI_API_KEY environment variable" {
		t.Fatalf("error = %v", body["error"])
	}
	if upstream.calls != 0 {
		t.Fatalf("upstream calls = %d, want 0", upstream.calls)
	}
}

func TestCreateSessionUpstreamErrorPassthrough(t *testing.T) {
	upstream := &stubCreator{err: &chatkit.APIError{Status: http.StatusPaymentRequired, Message: "boom"}}
	srv := newTestServer(t, config.Config{
		OpenAIAPIKey:      "sk-test",
		DefaultWorkflowID: "wf_default",
	}, upstream)
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	res := postCreateSession(t, ts, nil, nil)
	body := decodeBody(t, res)

	if res.StatusCode != http.StatusPaymentRequired {
		t.Fatalf("status = %d, want %d", res.StatusCode, http.StatusPaymentRequired)
	}
	if body["error"] != "boom" {
		t.Fatalf("error = %v, want boom", body["error"])
	}
	if sessionCookie(t, res, "chatkit_session_id") == nil {
		t.Fatalf("identity cookie must still be attached on upstream failure")
	}
}

func TestCreateSessionMalformedBodyFallsBackToConfiguredWorkflow(t *testing.T) {
	upstream := &stubCreator{result: chatkit.SessionResult{ClientSecret: "sk_abc"}}
	srv := newTestServer(t, config.Config{
		OpenAIAPIKey:      "sk-test",
		DefaultWorkflowID: "wf_default",
	}, upstream)
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	res := postCreateSession(t, ts, []byte(`{not json at all`), nil)
	defer res.Body.Close()

	if res.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want %d", res.StatusCode, http.StatusOK)
	}
	if upstream.params.WorkflowID != "wf_default" {
		t.Fatalf("workflow id = %q, want wf_default", upstream.params.WorkflowID)
	}
}

func TestCreateSessionWorkflowPrecedence(t *testing.T) {
	cases := []struct {
		name string
		body string
		want string
	}{
		{"nested_wins", `{"workflow":{"id":"wf_nested"},"workflowId":"wf_flat"}`, "wf_nested"},
		{"flat_second", `{"workflowId":"wf_flat"}`, "wf_flat"},
		{"config_default", `{}`, "wf_default"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			upstream := &stubCreator{result: chatkit.SessionResult{ClientSecret: "sk_abc"}}
			srv := newTestServer(t, config.Config{
				OpenAIAPIKey:      "sk-test",
				DefaultWorkflowID: "wf_default",
			}, upstream)
			ts := httptest.NewServer(srv.Router())
			defer ts.Close()

			res := postCreateSession(t, ts, []byte(tc.body), nil)
			res.Body.Close()
			if upstream.params.WorkflowID != tc.want {
				t.Fatalf("workflow id = %q, want %q", upstream.params.WorkflowID, tc.want)
			}
		})
	}
}

func TestCreateSessionForwardsEpisodeMetadata(t *testing.T) {
	upstream := &stubCreator{result: chatkit.SessionResult{ClientSecret: "sk_abc"}}
	srv := newTestServer(t, config.Config{
		OpenAIAPIKey:      "sk-test",
		DefaultWorkflowID: "wf_default",
	}, upstream)
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	res := postCreateSession(t, ts, []byte(`{"episodeCode":"ep42","title":"Deep Dive","mp3":"https://cdn.example.com/ep42.mp3"}`), nil)
	res.Body.Close()

	m := upstream.params.Metadata
	if m["episodeCode"] != "ep42" || m["title"] != "Deep Dive" || m["mp3"] != "https://cdn.example.com/ep42.mp3" {
		t.Fatalf("forwarded metadata = %+v", m)
	}
}

func TestCreateSessionNullClientSecret(t *testing.T) {
	upstream := &stubCreator{result: chatkit.SessionResult{}}
	srv := newTestServer(t, config.Config{
		OpenAIAPIKey:      "sk-test",
		DefaultWorkflowID: "wf_default",
	}, upstream)
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	res := postCreateSession(t, ts, nil, nil)
	body := decodeBody(t, res)

	if body["client_secret"] != nil {
		t.Fatalf("client_secret = %v, want null", body["client_secret"])
	}
	if body["expires_after"] != nil {
		t.Fatalf("expires_after = %v, want null", body["expires_after"])
	}
}

func TestCreateSessionUnexpectedPanicYieldsGeneric500(t *testing.T) {
	upstream := &stubCreator{panics: true}
	srv := newTestServer(t, config.Config{
		OpenAIAPIKey:      "sk-test",
		DefaultWorkflowID: "wf_default",
	}, upstream)
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	res := postCreateSession(t, ts, nil, nil)
	body := decodeBody(t, res)

	if res.StatusCode != http.StatusInternalServerError {
		t.Fatalf("status = %d, want %d", res.StatusCode, http.StatusInternalServerError)
	}
	if body["error"] != "Unexpected error" {
		t.Fatalf("error = %v, want %q", body["error"], "Unexpected error")
	}
	if sessionCookie(t, res, "chatkit_session_id") == nil {
		t.Fatalf("identity cookie must still be attached on unexpected failure")
	}
}

func TestEpisodeContextPrefersReferrer(t *testing.T) {
	srv := newTestServer(t, config.Config{OpenAIAPIKey: "sk-test", DefaultWorkflowID: "wf"}, &stubCreator{})
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	req, _ := http.NewRequest(http.MethodGet, ts.URL+"/api/episode-context?code=ep_self", nil)
	req.Header.Set("Referer", "https://example.com/listen?code=ep_ref&title=Referred")
	res, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("episode-context request error = %v", err)
	}
	body := decodeBody(t, res)

	if body["resolved"] != true {
		t.Fatalf("resolved = %v, want true", body["resolved"])
	}
	ctx, _ := body["context"].(map[string]any)
	if ctx["episodeCode"] != "ep_ref" {
		t.Fatalf("episodeCode = %v, want ep_ref", ctx["episodeCode"])
	}
}

func TestEpisodeContextUnresolved(t *testing.T) {
	srv := newTestServer(t, config.Config{OpenAIAPIKey: "sk-test", DefaultWorkflowID: "wf"}, &stubCreator{})
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	res, err := http.Get(ts.URL + "/api/episode-context")
	if err != nil {
		t.Fatalf("episode-context request error = %v", err)
	}
	body := decodeBody(t, res)
	if body["resolved"] != false {
		t.Fatalf("resolved = %v, want false", body["resolved"])
	}
}

func TestListFactsWithoutCookieIsEmpty(t *testing.T) {
	srv := newTestServer(t, config.Config{OpenAIAPIKey: "sk-test", DefaultWorkflowID: "wf"}, &stubCreator{})
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	res, err := http.Get(ts.URL + "/api/facts")
	if err != nil {
		t.Fatalf("facts request error = %v", err)
	}
	if c := sessionCookie(t, res, "chatkit_session_id"); c != nil {
		t.Fatalf("GET /api/facts minted a cookie")
	}
	body := decodeBody(t, res)
	list, ok := body["facts"].([]any)
	if !ok || len(list) != 0 {
		t.Fatalf("facts = %v, want empty list", body["facts"])
	}
}

func TestPanelRoutes(t *testing.T) {
	srv := newTestServer(t, config.Config{OpenAIAPIKey: "sk-test", DefaultWorkflowID: "wf"}, &stubCreator{})
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	client := &http.Client{
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}

	rootRes, err := client.Get(ts.URL + "/")
	if err != nil {
		t.Fatalf("GET / error = %v", err)
	}
	defer rootRes.Body.Close()
	if rootRes.StatusCode != http.StatusTemporaryRedirect {
		t.Fatalf("GET / status = %d, want %d", rootRes.StatusCode, http.StatusTemporaryRedirect)
	}
	if got := rootRes.Header.Get("Location"); got != "/panel/" {
		t.Fatalf("GET / location = %q, want /panel/", got)
	}

	panelRes, err := http.Get(ts.URL + "/panel/")
	if err != nil {
		t.Fatalf("GET /panel/ error = %v", err)
	}
	defer panelRes.Body.Close()
	if panelRes.StatusCode != http.StatusOK {
		t.Fatalf("GET /panel/ status = %d, want %d", panelRes.StatusCode, http.StatusOK)
	}
	var buf bytes.Buffer
	if _, err := buf.ReadFrom(panelRes.Body); err != nil {
		t.Fatalf("reading /panel/ body failed: %v", err)
	}
	if !bytes.Contains(buf.Bytes(), []byte(`id="panel"`)) {
		t.Fatalf("GET /panel/ body missing expected content")
	}
}
