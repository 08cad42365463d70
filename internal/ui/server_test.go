package ui

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/joelklabo/shep/internal/app"
	"github.com/joelklabo/shep/internal/checkpoint"
	"github.com/joelklabo/shep/internal/config"
	"github.com/joelklabo/shep/internal/domain"
	"github.com/joelklabo/shep/internal/executor"
)

func newTestServer(t *testing.T, token string) (*Server, *app.Container) {
	t.Helper()
	cfg := config.Default()
	cfg.Storage.Path = filepath.Join(t.TempDir(), "state.db")
	cfg.Storage.CheckpointPath = checkpoint.Memory
	cfg.UI.AuthToken = token
	c, err := app.Build(context.Background(), cfg, nil, app.WithExecutor(executor.Echo{}))
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	svc := Services{
		GetJoke:         c.GetJoke,
		LoadSettings:    c.LoadSettings,
		UpdateSettings:  c.UpdateSettings,
		ListAgentRuns:   c.ListAgentRuns,
		ShowAgentRun:    c.ShowAgentRun,
		ApproveRun:      c.ApproveRun,
		ListCheckpoints: c.ListCheckpoints,
	}
	return New(cfg.UI, svc, nil), c
}

func do(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Host = "127.0.0.1:3030"
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestJokeEndpoint(t *testing.T) {
	s, c := newTestServer(t, "")
	rec := do(t, s.Handler(), http.MethodGet, "/api/joke", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Contains(t, []string(c.Selector.Corpus()), body["joke"])
	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestNavMarksActive(t *testing.T) {
	s, _ := newTestServer(t, "")
	rec := do(t, s.Handler(), http.MethodGet, "/api/nav?active=/runs", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var items []NavItem
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &items))
	require.Len(t, items, len(navigation))
	for _, it := range items {
		assert.Equal(t, it.Href == "/runs", it.Active, it.Label)
	}
}

func TestSettingsRoundTrip(t *testing.T) {
	s, c := newTestServer(t, "")
	h := s.Handler()

	rec := do(t, h, http.MethodGet, "/api/settings", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	_, err := c.InitializeSettings.Execute(context.Background())
	require.NoError(t, err)

	rec = do(t, h, http.MethodPut, "/api/settings", `{"workflow":{"approval_gates":{"allow_prd":true}}}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var got domain.Settings
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.True(t, got.Workflow.ApprovalGates.AllowPRD)
	assert.Equal(t, domain.AgentCodexCLI, got.Agent.Type, "fields absent from the body are kept")

	rec = do(t, h, http.MethodPut, "/api/settings", `{"agent":{"type":"bogus"}}`)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	rec = do(t, h, http.MethodPut, "/api/settings", `{`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestRunsEndpoints(t *testing.T) {
	s, c := newTestServer(t, "")
	h := s.Handler()
	ctx := context.Background()
	_, err := c.InitializeSettings.Execute(ctx)
	require.NoError(t, err)
	run, err := c.StartFeature.Execute(ctx, "dark mode")
	require.NoError(t, err)

	rec := do(t, h, http.MethodGet, "/api/runs?status=waiting_approval", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var runs []domain.AgentRun
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &runs))
	require.Len(t, runs, 1)

	assert.Equal(t, http.StatusBadRequest, do(t, h, http.MethodGet, "/api/runs?status=bogus", "").Code)
	assert.Equal(t, http.StatusBadRequest, do(t, h, http.MethodGet, "/api/runs?limit=x", "").Code)
	assert.Equal(t, http.StatusNotFound, do(t, h, http.MethodGet, "/api/runs/missing", "").Code)

	rec = do(t, h, http.MethodGet, "/api/runs/"+run.ID+"/checkpoints", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var cps []json.RawMessage
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &cps))
	assert.Len(t, cps, 2)

	rec = do(t, h, http.MethodPost, "/api/runs/"+run.ID+"/approve", "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var approved domain.AgentRun
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &approved))
	assert.Equal(t, domain.PhaseImplement, approved.Phase)

	_, err = c.CancelRun.Execute(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, http.StatusConflict, do(t, h, http.MethodPost, "/api/runs/"+run.ID+"/approve", "").Code)
}

func TestAuthToken(t *testing.T) {
	s, _ := newTestServer(t, "sekret")
	h := s.Handler()

	assert.Equal(t, http.StatusUnauthorized, do(t, h, http.MethodGet, "/api/joke", "").Code)
	assert.Equal(t, http.StatusNoContent, do(t, h, http.MethodOptions, "/api/joke", "").Code)

	req := httptest.NewRequest(http.MethodGet, "/api/joke", nil)
	req.Header.Set("Authorization", "Bearer sekret")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestCrossOriginRequestsRejected(t *testing.T) {
	s, c := newTestServer(t, "")
	h := s.Handler()
	_, err := c.InitializeSettings.Execute(context.Background())
	require.NoError(t, err)

	cases := []struct {
		name   string
		method string
		host   string
		origin string
		want   int
	}{
		{"foreign origin read", http.MethodGet, "127.0.0.1:3030", "https://evil.example", http.StatusForbidden},
		{"foreign origin write", http.MethodPut, "127.0.0.1:3030", "https://evil.example", http.StatusForbidden},
		{"foreign preflight", http.MethodOptions, "127.0.0.1:3030", "https://evil.example", http.StatusForbidden},
		{"rebound host", http.MethodGet, "evil.example:3030", "", http.StatusForbidden},
		{"same origin", http.MethodGet, "127.0.0.1:3030", "http://127.0.0.1:3030", http.StatusOK},
		{"localhost without origin", http.MethodGet, "localhost:3030", "", http.StatusOK},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			body := ""
			if tc.method == http.MethodPut {
				body = `{"workflow":{"push_on_implementation_complete":true}}`
			}
			req := httptest.NewRequest(tc.method, "/api/settings", strings.NewReader(body))
			req.Host = tc.host
			if tc.origin != "" {
				req.Header.Set("Origin", tc.origin)
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)
			assert.Equal(t, tc.want, rec.Code)
			if tc.want == http.StatusOK && tc.origin != "" {
				assert.Equal(t, tc.origin, rec.Header().Get("Access-Control-Allow-Origin"))
			}
		})
	}

	got, err := c.LoadSettings.Execute(context.Background())
	require.NoError(t, err)
	assert.False(t, got.Workflow.PushOnImplementationComplete)
}

func TestSettingsNeverExposeToken(t *testing.T) {
	s, c := newTestServer(t, "")
	h := s.Handler()
	ctx := context.Background()
	st, err := c.InitializeSettings.Execute(ctx)
	require.NoError(t, err)
	st.Agent.AuthMethod = "token"
	st.Agent.Token = "sk-live-123"
	_, err = c.UpdateSettings.Execute(ctx, st)
	require.NoError(t, err)

	rec := do(t, h, http.MethodGet, "/api/settings", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.NotContains(t, rec.Body.String(), "sk-live-123")
	assert.Contains(t, rec.Body.String(), domain.RedactedSecret)

	// Sending the redacted view back keeps the stored token.
	rec = do(t, h, http.MethodPut, "/api/settings", rec.Body.String())
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.NotContains(t, rec.Body.String(), "sk-live-123")
	stored, err := c.LoadSettings.Execute(ctx)
	require.NoError(t, err)
	assert.Equal(t, "sk-live-123", stored.Agent.Token)
}

func TestLayoutPage(t *testing.T) {
	s, _ := newTestServer(t, "")
	rec := do(t, s.Handler(), http.MethodGet, "/runs", "")
	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, "<title>Runs · shep</title>")
	assert.Contains(t, body, `aria-current="page"`)
	assert.Contains(t, body, "No runs yet")
}

func TestStartStopsOnCancel(t *testing.T) {
	defer goleak.VerifyNone(t)

	s := New(config.UIConfig{Addr: "127.0.0.1:0"}, Services{}, nil)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Start(ctx) }()
	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not stop")
	}
}
