package http

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/yanqian/sqlassistant/internal/domain/assistant"
	"github.com/yanqian/sqlassistant/internal/domain/conversation"
	"github.com/yanqian/sqlassistant/internal/infra/config"
	"github.com/yanqian/sqlassistant/internal/infra/sessionstore"
	apperrors "github.com/yanqian/sqlassistant/pkg/errors"
)

const cookieName = "sqlassistant_session"

func TestRouter_AskSuccess(t *testing.T) {
	svc := &stubAssistant{
		askFn: func(ctx context.Context, session conversation.Session, question string) (assistant.Result, error) {
			require.Equal(t, "How many white Nike t-shirts are in stock?", question)
			return assistant.Result{Question: question, SQL: "SELECT 91", RawResult: "[(91,)]", Answer: "91"}, nil
		},
	}
	server := newRouterUnderTest(t, svc, config.RateLimitConfig{})

	recorder := performJSON(server, http.MethodPost, "/api/v1/questions", `{"question":"How many white Nike t-shirts are in stock?"}`, nil)
	require.Equal(t, http.StatusOK, recorder.Code)

	var got assistant.Result
	require.NoError(t, json.Unmarshal(recorder.Body.Bytes(), &got))
	require.Equal(t, "91", got.Answer)
	require.Equal(t, "[(91,)]", got.RawResult)
	require.NotNil(t, sessionCookie(recorder))
}

func TestRouter_AskInvalidJSON(t *testing.T) {
	server := newRouterUnderTest(t, &stubAssistant{}, config.RateLimitConfig{})

	recorder := performJSON(server, http.MethodPost, "/api/v1/questions", `{"question":123}`, nil)
	require.Equal(t, http.StatusBadRequest, recorder.Code)

	errBody := decodeErrorBody(t, recorder.Body.Bytes())
	require.Equal(t, "invalid_request", errBody["error"]["code"])
	require.NotEmpty(t, errBody["error"]["message"])
}

func TestRouter_AskErrorStatuses(t *testing.T) {
	cases := []struct {
		code   string
		status int
	}{
		{code: apperrors.CodeInvalidInput, status: http.StatusBadRequest},
		{code: apperrors.CodeLLM, status: http.StatusBadGateway},
		{code: apperrors.CodeSQL, status: http.StatusUnprocessableEntity},
		{code: apperrors.CodeGeneration, status: http.StatusUnprocessableEntity},
		{code: apperrors.CodeIndex, status: http.StatusInternalServerError},
		{code: apperrors.CodeSession, status: http.StatusInternalServerError},
	}
	for _, tc := range cases {
		t.Run(tc.code, func(t *testing.T) {
			svc := &stubAssistant{
				askFn: func(context.Context, conversation.Session, string) (assistant.Result, error) {
					return assistant.Result{}, apperrors.Wrap(tc.code, "step failed", nil)
				},
			}
			recorder := performJSON(newRouterUnderTest(t, svc, config.RateLimitConfig{}), http.MethodPost, "/api/v1/questions", `{"question":"q"}`, nil)
			require.Equal(t, tc.status, recorder.Code)
			errBody := decodeErrorBody(t, recorder.Body.Bytes())
			require.Equal(t, tc.code, errBody["error"]["code"])
			require.Equal(t, "step failed", errBody["error"]["message"])
		})
	}
}

func TestRouter_HistoryFollowsCookie(t *testing.T) {
	server := newRouterUnderTest(t, recordingAssistant(), config.RateLimitConfig{})

	first := performJSON(server, http.MethodPost, "/api/v1/questions", `{"question":"first"}`, nil)
	require.Equal(t, http.StatusOK, first.Code)
	cookie := sessionCookie(first)
	require.NotNil(t, cookie)

	second := performJSON(server, http.MethodPost, "/api/v1/questions", `{"question":"second"}`, cookie)
	require.Equal(t, http.StatusOK, second.Code)
	require.Nil(t, sessionCookie(second), "existing session must be reused")

	recorder := performJSON(server, http.MethodGet, "/api/v1/history", "", cookie)
	require.Equal(t, http.StatusOK, recorder.Code)
	var body struct {
		SessionID string               `json:"sessionId"`
		Entries   []conversation.Entry `json:"entries"`
	}
	require.NoError(t, json.Unmarshal(recorder.Body.Bytes(), &body))
	require.Equal(t, cookie.Value, body.SessionID)
	require.Len(t, body.Entries, 2)
	require.Equal(t, "second", body.Entries[0].Question)
	require.Equal(t, "first", body.Entries[1].Question)

	fresh := performJSON(server, http.MethodGet, "/api/v1/history", "", nil)
	require.NoError(t, json.Unmarshal(fresh.Body.Bytes(), &body))
	require.Empty(t, body.Entries)
}

func TestRouter_UnknownCookieStartsNewSession(t *testing.T) {
	server := newRouterUnderTest(t, recordingAssistant(), config.RateLimitConfig{})
	stale := &http.Cookie{Name: cookieName, Value: "not-a-uuid"}

	recorder := performJSON(server, http.MethodGet, "/api/v1/history", "", stale)
	require.Equal(t, http.StatusOK, recorder.Code)
	cookie := sessionCookie(recorder)
	require.NotNil(t, cookie)
	require.NotEqual(t, stale.Value, cookie.Value)
}

func TestRouter_FormSubmitRedirectsAndRendersHistory(t *testing.T) {
	server := newRouterUnderTest(t, recordingAssistant(), config.RateLimitConfig{})

	first := performForm(server, "How many Levi's?", nil)
	require.Equal(t, http.StatusSeeOther, first.Code)
	require.Equal(t, "/", first.Header().Get("Location"))
	cookie := sessionCookie(first)
	require.NotNil(t, cookie)

	second := performForm(server, "How many Nike?", cookie)
	require.Equal(t, http.StatusSeeOther, second.Code)

	page := performJSON(server, http.MethodGet, "/", "", cookie)
	require.Equal(t, http.StatusOK, page.Code)
	body := page.Body.String()
	require.Contains(t, body, "<form")
	newest := strings.Index(body, "How many Nike?")
	oldest := strings.Index(body, "How many Levi&#39;s?")
	require.True(t, newest >= 0 && oldest >= 0)
	require.Less(t, newest, oldest)
	require.Contains(t, body, "answer to How many Nike?")
}

func TestRouter_FormErrorRendersInline(t *testing.T) {
	calls := 0
	history := conversation.NewService(sessionstore.NewMemoryStore(), newTestLogger())
	svc := &stubAssistant{
		askFn: func(context.Context, conversation.Session, string) (assistant.Result, error) {
			calls++
			return assistant.Result{}, apperrors.Wrap(apperrors.CodeLLM, "language model request failed", nil)
		},
	}
	server := newRouterWithHistory(t, svc, history, config.RateLimitConfig{})

	recorder := performForm(server, "How many white Nike t-shirts?", nil)
	require.Equal(t, http.StatusBadGateway, recorder.Code)
	body := recorder.Body.String()
	require.Contains(t, body, "Error processing your query: language model request failed")
	require.Contains(t, body, "How many white Nike t-shirts?")
	require.Equal(t, 1, calls)

	cookie := sessionCookie(recorder)
	require.NotNil(t, cookie)
	page := performJSON(server, http.MethodGet, "/", "", cookie)
	require.NotContains(t, page.Body.String(), "chat-message query")
}

func TestRouter_RateLimit(t *testing.T) {
	server := newRouterUnderTest(t, recordingAssistant(), config.RateLimitConfig{Enabled: true, RequestsPerMinute: 1, Burst: 1})

	first := performJSON(server, http.MethodPost, "/api/v1/questions", `{"question":"one"}`, nil)
	require.Equal(t, http.StatusOK, first.Code)

	second := performJSON(server, http.MethodPost, "/api/v1/questions", `{"question":"two"}`, nil)
	require.Equal(t, http.StatusTooManyRequests, second.Code)
	require.Equal(t, "rate_limit_exceeded", decodeErrorBody(t, second.Body.Bytes())["error"]["code"])

	history := performJSON(server, http.MethodGet, "/api/v1/history", "", nil)
	require.Equal(t, http.StatusOK, history.Code)
}

func TestRouter_SchemaRefresh(t *testing.T) {
	svc := &stubAssistant{
		refreshFn: func(context.Context) (string, error) {
			return "CREATE TABLE t_shirts (\n\tt_shirt_id INTEGER NOT NULL\n)", nil
		},
	}
	recorder := performJSON(newRouterUnderTest(t, svc, config.RateLimitConfig{}), http.MethodPost, "/api/v1/schema/refresh", "", nil)
	require.Equal(t, http.StatusOK, recorder.Code)
	require.Contains(t, recorder.Body.String(), "CREATE TABLE t_shirts")
}

func TestRouter_HealthzAndMetrics(t *testing.T) {
	probe := &stubProbe{}
	handler := NewHandler(&stubAssistant{}, conversation.NewService(sessionstore.NewMemoryStore(), newTestLogger()), probe, newTestLogger())
	server := NewRouter(testConfig(config.RateLimitConfig{}), handler)

	recorder := performJSON(server, http.MethodGet, "/healthz", "", nil)
	require.Equal(t, http.StatusServiceUnavailable, recorder.Code)

	probe.ready = true
	recorder = performJSON(server, http.MethodGet, "/healthz", "", nil)
	require.Equal(t, http.StatusOK, recorder.Code)
	require.Nil(t, sessionCookie(recorder))

	recorder = performJSON(server, http.MethodGet, "/metrics", "", nil)
	require.Equal(t, http.StatusOK, recorder.Code)
	require.Contains(t, recorder.Body.String(), `sqlassistant_http_requests_total{method="GET",path="/healthz",status="200"}`)
}

func TestRateLimiterRefills(t *testing.T) {
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	limiter := newIPRateLimiter(config.RateLimitConfig{RequestsPerMinute: 60, Burst: 1})
	limiter.now = func() time.Time { return now }

	require.True(t, limiter.allow("10.0.0.1"))
	require.False(t, limiter.allow("10.0.0.1"))
	require.True(t, limiter.allow("10.0.0.2"))

	now = now.Add(time.Second)
	require.True(t, limiter.allow("10.0.0.1"))
}

func performJSON(server *http.Server, method, path, body string, cookie *http.Cookie) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, bytes.NewBufferString(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	if cookie != nil {
		req.AddCookie(cookie)
	}
	rec := httptest.NewRecorder()
	server.Handler.ServeHTTP(rec, req)
	return rec
}

func performForm(server *http.Server, question string, cookie *http.Cookie) *httptest.ResponseRecorder {
	form := url.Values{"question": {question}}
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	if cookie != nil {
		req.AddCookie(cookie)
	}
	rec := httptest.NewRecorder()
	server.Handler.ServeHTTP(rec, req)
	return rec
}

func sessionCookie(rec *httptest.ResponseRecorder) *http.Cookie {
	for _, cookie := range rec.Result().Cookies() {
		if cookie.Name == cookieName {
			return cookie
		}
	}
	return nil
}

func testConfig(limit config.RateLimitConfig) *config.Config {
	return &config.Config{
		HTTP: config.HTTPConfig{
			Address:      ":0",
			ReadTimeout:  time.Second,
			WriteTimeout: time.Second,
			RateLimit:    limit,
		},
		Session: config.SessionConfig{CookieName: cookieName, TTL: time.Hour},
	}
}

func newRouterUnderTest(t *testing.T, svc *stubAssistant, limit config.RateLimitConfig) *http.Server {
	t.Helper()
	history := conversation.NewService(sessionstore.NewMemoryStore(), newTestLogger())
	return newRouterWithHistory(t, svc, history, limit)
}

func newRouterWithHistory(t *testing.T, svc *stubAssistant, history conversation.Service, limit config.RateLimitConfig) *http.Server {
	t.Helper()
	if svc.history == nil {
		svc.history = history
	}
	handler := NewHandler(svc, history, &stubProbe{ready: true}, newTestLogger())
	return NewRouter(testConfig(limit), handler)
}

func newTestLogger() *slog.Logger {
	handler := slog.NewTextHandler(io.Discard, nil)
	return slog.New(handler)
}

// recordingAssistant answers every question and records it like the real pipeline does.
func recordingAssistant() *stubAssistant {
	svc := &stubAssistant{}
	svc.askFn = func(ctx context.Context, session conversation.Session, question string) (assistant.Result, error) {
		answer := "answer to " + question
		if err := svc.history.Append(ctx, session, conversation.Entry{Question: question, Answer: answer}); err != nil {
			return assistant.Result{}, err
		}
		return assistant.Result{Question: question, Answer: answer}, nil
	}
	return svc
}

type stubAssistant struct {
	askFn     func(ctx context.Context, session conversation.Session, question string) (assistant.Result, error)
	refreshFn func(ctx context.Context) (string, error)
	history   conversation.Service
}

func (s *stubAssistant) Ask(ctx context.Context, session conversation.Session, question string) (assistant.Result, error) {
	if s.askFn != nil {
		return s.askFn(ctx, session, question)
	}
	return assistant.Result{}, nil
}

func (s *stubAssistant) RefreshSchema(ctx context.Context) (string, error) {
	if s.refreshFn != nil {
		return s.refreshFn(ctx)
	}
	return "", nil
}

type stubProbe struct {
	ready bool
}

func (p *stubProbe) Ready() bool { return p.ready }

func decodeErrorBody(t *testing.T, raw []byte) map[string]map[string]string {
	t.Helper()
	var body map[string]map[string]string
	require.NoError(t, json.Unmarshal(raw, &body))
	return body
}
