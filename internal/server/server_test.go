package server

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/leapstack-labs/leaplint/internal/loader"
	"github.com/leapstack-labs/leaplint/internal/session"
	"github.com/leapstack-labs/leaplint/internal/starengine"
	starctx "github.com/leapstack-labs/leaplint/internal/starlark"
	"github.com/leapstack-labs/leaplint/internal/state"
	"github.com/leapstack-labs/leaplint/internal/testutil"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const importantCSS = "body { color: red !important; }"

func newFactory(t *testing.T, store state.Port, reg prometheus.Registerer) Factory {
	t.Helper()
	logger := testutil.NewTestLogger(t)
	return func(source string) (*session.Session, error) {
		eng := starengine.New(starengine.WithLogger(logger))
		ld := loader.New(
			loader.WithFetcher(loader.DefaultFetcher(starengine.Bundles())),
			loader.WithInstaller(eng.Install),
			loader.WithLogger(logger),
		)
		return session.New(session.Config{
			Adapter:        eng,
			Loader:         ld,
			BundleURL:      "builtin:" + starengine.DefaultBundle,
			LoadTimeout:    5 * time.Second,
			Store:          store,
			Compiler:       starctx.NewCompiler(),
			DefaultEnabled: []string{"important"},
			Source:         source,
			Logger:         logger,
			Registerer:     reg,
		})
	}
}

type fixture struct {
	srv *Server
	ts  *httptest.Server
}

func setup(t *testing.T, cfg Config) *fixture {
	t.Helper()
	if cfg.Factory == nil {
		cfg.Factory = newFactory(t, state.NewMemoryStore(), nil)
	}
	cfg.Logger = testutil.NewTestLogger(t)
	srv, err := New(cfg)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	require.NoError(t, srv.Open(ctx))

	sess, err := srv.Session()
	require.NoError(t, err)
	require.NoError(t, sess.WaitReady(testutil.Context(t)))

	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return &fixture{srv: srv, ts: ts}
}

func (f *fixture) do(t *testing.T, method, path, contentType, body string) (*http.Response, []byte) {
	t.Helper()
	req, err := http.NewRequestWithContext(testutil.Context(t), method, f.ts.URL+path, strings.NewReader(body))
	require.NoError(t, err)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	resp, err := f.ts.Client().Do(req)
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, data
}

func (f *fixture) json(t *testing.T, method, path, body string, want int, out any) {
	t.Helper()
	resp, data := f.do(t, method, path, "application/json", body)
	require.Equal(t, want, resp.StatusCode, "body: %s", data)
	if out != nil {
		require.NoError(t, json.Unmarshal(data, out), "body: %s", data)
	}
}

func TestNew_RequiresFactory(t *testing.T) {
	_, err := New(Config{})
	require.Error(t, err)
}

func TestServer_NotStarted(t *testing.T) {
	srv, err := New(Config{Factory: newFactory(t, state.NewMemoryStore(), nil)})
	require.NoError(t, err)

	_, err = srv.Session()
	require.ErrorIs(t, err, ErrNotStarted)

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/state", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestServer_Healthz(t *testing.T) {
	f := setup(t, Config{})
	resp, body := f.do(t, http.MethodGet, "/healthz", "", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "ok\n", string(body))
	assert.NotEmpty(t, resp.Header.Get("Content-Type"))
}

func TestServer_State(t *testing.T) {
	f := setup(t, Config{Source: importantCSS})

	var st StateResponse
	f.json(t, http.MethodGet, "/api/diagnostics?wait=true", "", http.StatusOK, nil)
	f.json(t, http.MethodGet, "/api/state", "", http.StatusOK, &st)

	assert.Equal(t, importantCSS, st.Source)
	assert.True(t, st.HasRun)
	assert.Equal(t, 1, st.EnabledRules)
	assert.NotEmpty(t, st.Rules)
	assert.NotNil(t, st.Rejections)
	require.Len(t, st.Diagnostics, 1)
	assert.Equal(t, "important", st.Diagnostics[0].RuleID)
}

func TestServer_Rules(t *testing.T) {
	f := setup(t, Config{})

	var rules RulesResponse
	f.json(t, http.MethodGet, "/api/rules", "", http.StatusOK, &rules)
	assert.Equal(t, 1, rules.Enabled)
	assert.Equal(t, len(rules.Rules), rules.Total)

	var flag RuleFlagResponse
	f.json(t, http.MethodPut, "/api/rules/ids", `{"enabled": true}`, http.StatusOK, &flag)
	assert.Equal(t, RuleFlagResponse{ID: "ids", Enabled: true}, flag)

	f.json(t, http.MethodPost, "/api/rules/important/toggle", "", http.StatusOK, &flag)
	assert.Equal(t, RuleFlagResponse{ID: "important", Enabled: false}, flag)

	f.json(t, http.MethodGet, "/api/rules", "", http.StatusOK, &rules)
	assert.Equal(t, 1, rules.Enabled)
}

func TestServer_RuleErrors(t *testing.T) {
	f := setup(t, Config{})

	var errResp ErrorResponse
	f.json(t, http.MethodPut, "/api/rules/nope", `{"enabled": true}`, http.StatusNotFound, &errResp)
	assert.Contains(t, errResp.Error, "nope")

	f.json(t, http.MethodPost, "/api/rules/nope/toggle", "", http.StatusNotFound, nil)

	f.json(t, http.MethodPut, "/api/rules/ids", `{}`, http.StatusBadRequest, &errResp)
	assert.Equal(t, "enabled", errResp.Field)

	f.json(t, http.MethodPut, "/api/rules/ids", `{"enabled": true, "extra": 1}`, http.StatusBadRequest, nil)
	f.json(t, http.MethodPut, "/api/rules/ids", `not json`, http.StatusBadRequest, nil)
}

func TestServer_SetSource(t *testing.T) {
	f := setup(t, Config{})

	t.Run("json and wait", func(t *testing.T) {
		var diags DiagnosticsResponse
		f.json(t, http.MethodPut, "/api/source?wait=true", `{"source": "a { color: red !important; }"}`, http.StatusOK, &diags)
		assert.True(t, diags.Linted)
		require.Len(t, diags.Diagnostics, 1)
		assert.Equal(t, "important", diags.Diagnostics[0].RuleID)
		assert.Equal(t, 0, diags.Errors)
		assert.Equal(t, 1, diags.Warnings)
		assert.Equal(t, 1, diags.EnabledRules)
	})

	t.Run("raw body", func(t *testing.T) {
		resp, _ := f.do(t, http.MethodPut, "/api/source", "text/css", "a { color: red; }")
		assert.Equal(t, http.StatusAccepted, resp.StatusCode)

		var diags DiagnosticsResponse
		f.json(t, http.MethodGet, "/api/diagnostics?wait=true", "", http.StatusOK, &diags)
		assert.Empty(t, diags.Diagnostics)
		assert.NotNil(t, diags.Diagnostics)

		var st StateResponse
		f.json(t, http.MethodGet, "/api/state", "", http.StatusOK, &st)
		assert.Equal(t, "a { color: red; }", st.Source)
	})
}

func TestServer_CustomRules(t *testing.T) {
	store := state.NewMemoryStore()
	f := setup(t, Config{Factory: newFactory(t, store, nil), Source: ".modal { z-index: 5000; }"})

	body, err := json.Marshal(CustomRuleRequest{Name: starengine.ExampleRuleName, Source: starengine.ExampleRule})
	require.NoError(t, err)

	var created map[string]any
	f.json(t, http.MethodPost, "/api/custom-rules", string(body), http.StatusCreated, &created)
	assert.Equal(t, "high-z-index", created["id"])

	var diags DiagnosticsResponse
	f.json(t, http.MethodGet, "/api/diagnostics?wait=true", "", http.StatusOK, &diags)
	require.Len(t, diags.Diagnostics, 1)
	assert.Equal(t, "high-z-index", diags.Diagnostics[0].RuleID)

	var list CustomRulesResponse
	f.json(t, http.MethodGet, "/api/custom-rules", "", http.StatusOK, &list)
	require.Len(t, list.Rules, 1)
	assert.Equal(t, starengine.ExampleRuleName, list.Rules[0].Name)
	assert.Equal(t, "high-z-index", list.Rules[0].ID)
	assert.Empty(t, list.Rejections)

	saved, err := store.Load(testutil.Context(t))
	require.NoError(t, err)
	assert.Len(t, saved, 1)

	t.Run("collision", func(t *testing.T) {
		dup, err := json.Marshal(CustomRuleRequest{Name: "other", Source: starengine.ExampleRule})
		require.NoError(t, err)
		var errResp ErrorResponse
		f.json(t, http.MethodPost, "/api/custom-rules", string(dup), http.StatusConflict, &errResp)
		assert.Equal(t, "high-z-index", errResp.Rule)
	})

	t.Run("invalid", func(t *testing.T) {
		var errResp ErrorResponse
		f.json(t, http.MethodPost, "/api/custom-rules", `{"name": "bad", "source": "rule = {}"}`, http.StatusUnprocessableEntity, &errResp)
		assert.NotEmpty(t, errResp.Error)
	})

	t.Run("remove", func(t *testing.T) {
		resp, _ := f.do(t, http.MethodDelete, "/api/custom-rules/"+starengine.ExampleRuleName, "", "")
		assert.Equal(t, http.StatusNoContent, resp.StatusCode)

		resp, _ = f.do(t, http.MethodDelete, "/api/custom-rules/"+starengine.ExampleRuleName, "", "")
		assert.Equal(t, http.StatusNotFound, resp.StatusCode)

		f.json(t, http.MethodGet, "/api/diagnostics?wait=true", "", http.StatusOK, &diags)
		assert.Empty(t, diags.Diagnostics)
	})
}

func TestServer_Reload(t *testing.T) {
	f := setup(t, Config{Source: importantCSS})
	before, err := f.srv.Session()
	require.NoError(t, err)

	f.json(t, http.MethodPut, "/api/rules/important", `{"enabled": false}`, http.StatusOK, nil)

	var st StateResponse
	f.json(t, http.MethodPost, "/api/reload", "", http.StatusOK, &st)
	assert.Equal(t, importantCSS, st.Source, "source carries over")
	assert.Equal(t, 1, st.EnabledRules, "flags start from the defaults")

	after, err := f.srv.Session()
	require.NoError(t, err)
	assert.NotSame(t, before, after)

	select {
	case <-before.Done():
	case <-time.After(testutil.DefaultTimeout):
		t.Fatal("previous session still running")
	}
}

func TestServer_Events(t *testing.T) {
	f := setup(t, Config{})

	ctx, cancel := context.WithCancel(testutil.Context(t))
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.ts.URL+"/api/events", nil)
	require.NoError(t, err)
	resp, err := f.ts.Client().Do(req)
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	events := make(chan StateResponse, 16)
	go func() {
		defer close(events)
		scanner := bufio.NewScanner(resp.Body)
		scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)
		for scanner.Scan() {
			data, ok := strings.CutPrefix(scanner.Text(), "data: ")
			if !ok {
				continue
			}
			var st StateResponse
			if json.Unmarshal([]byte(data), &st) == nil {
				events <- st
			}
		}
	}()

	first := testutil.Receive(t, events)
	assert.Equal(t, "ready", first.Readiness.String())

	resp2, _ := f.do(t, http.MethodPut, "/api/source", "text/css", importantCSS)
	require.Equal(t, http.StatusAccepted, resp2.StatusCode)

	deadline := time.After(testutil.DefaultTimeout)
	for {
		select {
		case st, ok := <-events:
			require.True(t, ok, "stream closed early")
			if st.Source == importantCSS && st.HasRun && len(st.Diagnostics) == 1 {
				return
			}
		case <-deadline:
			t.Fatal("no event carried the new diagnostics")
		}
	}
}

func TestServer_Metrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	f := setup(t, Config{
		Factory:  newFactory(t, state.NewMemoryStore(), reg),
		Gatherer: reg,
		Source:   importantCSS,
	})
	f.json(t, http.MethodGet, "/api/diagnostics?wait=true", "", http.StatusOK, nil)

	resp, body := f.do(t, http.MethodGet, "/metrics", "", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.True(t, bytes.Contains(body, []byte("leaplint_")), "body: %s", body)

	// Reloading reuses the registered collectors.
	f.json(t, http.MethodPost, "/api/reload", "", http.StatusOK, nil)
	resp, _ = f.do(t, http.MethodGet, "/metrics", "", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestServer_NoMetricsWithoutGatherer(t *testing.T) {
	f := setup(t, Config{})
	resp, _ := f.do(t, http.MethodGet, "/metrics", "", "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestServer_WatchPath(t *testing.T) {
	path := testutil.WriteFile(t, t.TempDir(), "site.css", importantCSS)
	f := setup(t, Config{WatchPath: path})

	var st StateResponse
	f.json(t, http.MethodGet, "/api/state", "", http.StatusOK, &st)
	assert.Equal(t, importantCSS, st.Source)

	f.srv.sync(testutil.Context(t), path)
	var diags DiagnosticsResponse
	f.json(t, http.MethodGet, "/api/diagnostics?wait=true", "", http.StatusOK, &diags)
	assert.Len(t, diags.Diagnostics, 1)
}
