package http

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"keygate/internal/activation"
	"keygate/internal/clock"
	"keygate/internal/config"
	"keygate/internal/identity"
	"keygate/internal/registry"
	"keygate/internal/security"
	"keygate/internal/store"
	"keygate/pkg/contracts/domain"
)

var epoch = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

func durationPtr(d time.Duration) *time.Duration { return &d }
func intPtr(n int) *int                          { return &n }

type countingNotifier struct{ n atomic.Int32 }

func (c *countingNotifier) Notify() { c.n.Add(1) }

// ActivationAPISuite drives the router over a real file store
type ActivationAPISuite struct {
	suite.Suite
	clock    *clock.Manual
	store    *store.FileStore
	notifier *countingNotifier
	server   *httptest.Server
}

func TestActivationAPISuite(t *testing.T) {
	suite.Run(t, new(ActivationAPISuite))
}

func (s *ActivationAPISuite) SetupTest() {
	logger := slog.New(slog.NewJSONHandler(io.Discard, nil))

	reg, err := registry.New([]domain.ActivationCode{
		{Code: "PERM-0000-0001", Type: domain.CodeTypePermanent},
		{Code: "TIME-0000-0007", Type: domain.CodeTypeTimeLimited, TimeLimit: durationPtr(7 * 24 * time.Hour)},
		{Code: "USES-0000-0002", Type: domain.CodeTypeUsageLimited, UsageLimit: intPtr(2)},
	})
	s.Require().NoError(err)

	signer, err := security.NewSigner([]byte("test"), "activation")
	s.Require().NoError(err)
	s.store, err = store.NewFileStore(filepath.Join(s.T().TempDir(), store.RecordFile), signer)
	s.Require().NoError(err)

	s.clock = clock.NewManual(epoch, time.Hour, "boot-1")
	guard := clock.NewGuard(s.clock, clock.DefaultTolerance)
	id := identity.Static("device-a")

	cfg := config.Default().Server
	cfg.RateLimit = config.RateLimitConfig{Enabled: true, RPS: 0.001, Burst: 4}

	s.notifier = &countingNotifier{}
	s.server = httptest.NewServer(NewRouter(RouterDeps{
		Activation: activation.NewValidator(reg, s.store, guard, id, activation.WithLogger(logger)),
		Status:     activation.NewService(reg, s.store, guard, id, activation.WithLogger(logger)),
		Notifier:   s.notifier,
		Server:     cfg,
		Logger:     logger,
	}))
}

func (s *ActivationAPISuite) TearDownTest() {
	s.server.Close()
}

func (s *ActivationAPISuite) do(method, path, body string) (int, map[string]interface{}) {
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req, err := http.NewRequest(method, s.server.URL+path, reader)
	s.Require().NoError(err)
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	s.Require().NoError(err)
	defer resp.Body.Close()

	var out map[string]interface{}
	data, _ := io.ReadAll(resp.Body)
	if len(data) > 0 {
		s.Require().NoError(json.Unmarshal(data, &out), string(data))
	}
	return resp.StatusCode, out
}

func (s *ActivationAPISuite) TestStatusBeforeActivation() {
	code, body := s.do(http.MethodGet, "/api/activation/status", "")
	s.Equal(http.StatusOK, code)
	s.Equal(string(domain.StateNotActivated), body["state"])
	s.NotContains(body, "status")
}

func (s *ActivationAPISuite) TestActivateAndStatus() {
	code, body := s.do(http.MethodPost, "/api/activation/activate", `{"code":"time-0000-0007"}`)
	s.Require().Equal(http.StatusOK, code)
	s.Equal(true, body["granted"])
	s.NotEmpty(body["trace_id"])

	status := body["status"].(map[string]interface{})
	s.Equal(string(domain.StateActive), status["state"])
	s.Equal(float64((7 * 24 * time.Hour).Milliseconds()), status["remaining_time_ms"])
	s.Equal(int32(1), s.notifier.n.Load())

	s.clock.Advance(8 * 24 * time.Hour)
	code, body = s.do(http.MethodGet, "/api/activation/status", "")
	s.Equal(http.StatusOK, code)
	s.Equal(string(domain.StateExpired), body["state"])
}

func (s *ActivationAPISuite) TestDeniedResultsRenderProblems() {
	tests := []struct {
		body       string
		wantStatus int
		wantType   string
	}{
		{`{"code":"NOPE-NOPE"}`, http.StatusUnprocessableEntity, "/errors/activation/invalid"},
		{`{"code":"  -- "}`, http.StatusBadRequest, "/errors/activation/empty"},
	}
	for _, tt := range tests {
		code, body := s.do(http.MethodPost, "/api/activation/activate", tt.body)
		s.Equal(tt.wantStatus, code, tt.body)
		s.Equal(tt.wantType, body["type"], tt.body)
		s.Equal("denied", body["access"])
	}

	_, _ = s.do(http.MethodPost, "/api/activation/activate", `{"code":"PERM-0000-0001"}`)
	code, body := s.do(http.MethodPost, "/api/activation/activate", `{"code":"TIME-0000-0007"}`)
	s.Equal(http.StatusConflict, code)
	s.Equal(string(domain.ResultAlreadyActivated), body["result"])
}

func (s *ActivationAPISuite) TestRequestValidation() {
	code, body := s.do(http.MethodPost, "/api/activation/activate", `{"code":`)
	s.Equal(http.StatusBadRequest, code)
	s.Equal("/errors/validation", body["type"])

	long := strings.Repeat("A", 200)
	code, body = s.do(http.MethodPost, "/api/activation/activate", `{"code":"`+long+`"}`)
	s.Equal(http.StatusBadRequest, code)
	s.Equal("/errors/validation", body["type"])
	s.Require().Contains(body, "errors")
}

func (s *ActivationAPISuite) TestEmptyInputIsEmptyResult() {
	for _, input := range []string{`{}`, `{"code":""}`, `{"code":"   "}`} {
		code, body := s.do(http.MethodPost, "/api/activation/activate", input)
		s.Equal(http.StatusBadRequest, code, input)
		s.Equal("/errors/activation/empty", body["type"], input)
		s.Equal(string(domain.ResultEmpty), body["result"], input)
	}
}

func (s *ActivationAPISuite) TestUnicodeSeparatorsAreNormalized() {
	code, body := s.do(http.MethodPost, "/api/activation/activate", `{"code":"perm\u20130000\u20130001"}`)
	s.Require().Equal(http.StatusOK, code, body)
	s.Equal(true, body["granted"])

	code, body = s.do(http.MethodPost, "/api/activation/activate", `{"code":"PERM–0000–0001"}`)
	s.Equal(http.StatusOK, code, body)
	s.Equal(string(domain.ResultSuccess), body["result"].(map[string]interface{})["kind"])
}

func (s *ActivationAPISuite) TestUsageFlow() {
	code, _ := s.do(http.MethodPost, "/api/activation/activate", `{"code":"USES-0000-0002"}`)
	s.Require().Equal(http.StatusOK, code)

	for i := 0; i < 2; i++ {
		code, body := s.do(http.MethodPost, "/api/activation/usage", "")
		s.Require().Equal(http.StatusOK, code)
		status := body["status"].(map[string]interface{})
		s.Equal(float64(i+1), status["usage_count"])
	}

	code, body := s.do(http.MethodPost, "/api/activation/usage", "")
	s.Equal(http.StatusForbidden, code)
	s.Equal("/errors/activation/usage-exceeded", body["type"])

	code, _ = s.do(http.MethodPost, "/api/activation/check", "")
	s.Equal(http.StatusForbidden, code)
}

func (s *ActivationAPISuite) TestCheckWithoutActivation() {
	code, body := s.do(http.MethodPost, "/api/activation/check", "")
	s.Equal(http.StatusUnprocessableEntity, code)
	s.Equal(domain.ReasonNotActivated, body["detail"])
}

func (s *ActivationAPISuite) TestActivationIsThrottled() {
	for i := 0; i < 4; i++ {
		code, _ := s.do(http.MethodPost, "/api/activation/activate", `{"code":"WRONG-`+string(rune('A'+i))+`"}`)
		s.Equal(http.StatusUnprocessableEntity, code)
	}
	code, body := s.do(http.MethodPost, "/api/activation/activate", `{"code":"PERM-0000-0001"}`)
	s.Equal(http.StatusTooManyRequests, code)
	s.Equal("/errors/rate-limit", body["type"])

	// status and check are not throttled
	code, _ = s.do(http.MethodGet, "/api/activation/status", "")
	s.Equal(http.StatusOK, code)
}

func (s *ActivationAPISuite) TestTamperedStoreFailsClosed() {
	code, _ := s.do(http.MethodPost, "/api/activation/activate", `{"code":"PERM-0000-0001"}`)
	s.Require().Equal(http.StatusOK, code)

	path := s.store.Path()
	s.Require().NoError(overwrite(path, `{"schema":"keygate.activation-record","version":1,"record":{},"signature":"00"}`))

	for _, req := range [][2]string{
		{http.MethodGet, "/api/activation/status"},
		{http.MethodPost, "/api/activation/check"},
	} {
		code, body := s.do(req[0], req[1], "")
		s.Equal(http.StatusServiceUnavailable, code, req[1])
		s.Equal("denied", body["access"])
	}

	code, _ = s.do(http.MethodGet, "/readyz", "")
	s.Equal(http.StatusServiceUnavailable, code)
}

func (s *ActivationAPISuite) TestProbesAndHeaders() {
	resp, err := http.Get(s.server.URL + "/healthz")
	s.Require().NoError(err)
	defer resp.Body.Close()
	s.Equal(http.StatusOK, resp.StatusCode)
	s.Equal("nosniff", resp.Header.Get("X-Content-Type-Options"))
	s.NotEmpty(resp.Header.Get("X-Request-ID"))

	code, body := s.do(http.MethodGet, "/readyz", "")
	s.Equal(http.StatusOK, code)
	s.Equal("ready", body["status"])

	code, body = s.do(http.MethodGet, "/nowhere", "")
	s.Equal(http.StatusNotFound, code)
	s.Equal("/errors/not-found", body["type"])
}

func (s *ActivationAPISuite) TestClientLog() {
	code, _ := s.do(http.MethodPost, "/api/client-log", `{"level":"warn","message":"activation form shown","source":"ui"}`)
	s.Equal(http.StatusAccepted, code)

	code, body := s.do(http.MethodPost, "/api/client-log", `{"level":"fatal","message":"x"}`)
	s.Equal(http.StatusBadRequest, code)
	s.Equal("/errors/validation", body["type"])
}

// failingActivation always fails with a storage error
type failingActivation struct{}

func (failingActivation) Activate(context.Context, string) (domain.ActivationResult, error) {
	return domain.ActivationResult{}, errors.New("boom")
}
func (failingActivation) RecordUsage(context.Context) (domain.ActivationResult, error) {
	panic("unexpected")
}
func (failingActivation) Check(context.Context) (domain.ActivationResult, error) {
	return domain.ActivationResult{}, errors.New("boom")
}

type nilStatus struct{}

func (nilStatus) Status(context.Context) (*domain.ActivationStatus, error) { return nil, nil }

func TestRouter_ErrorsAndPanics(t *testing.T) {
	var logs bytes.Buffer
	router := NewRouter(RouterDeps{
		Activation: failingActivation{},
		Status:     nilStatus{},
		Server:     config.Default().Server,
		Logger:     slog.New(slog.NewJSONHandler(&logs, nil)),
	})

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/api/activation/check", nil))
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.NotContains(t, w.Body.String(), "boom")

	w = httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/api/activation/usage", nil))
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Contains(t, logs.String(), "panic recovered")
}

func TestRouter_MountsOptionalHandlers(t *testing.T) {
	hit := func(name string) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte(name))
		})
	}
	router := NewRouter(RouterDeps{
		Activation: failingActivation{},
		Status:     nilStatus{},
		WebSocket:  hit("ws"),
		Metrics:    hit("metrics"),
		Server:     config.Default().Server,
		Logger:     slog.New(slog.NewJSONHandler(io.Discard, nil)),
	})

	for path, want := range map[string]string{"/ws": "ws", "/metrics": "metrics"} {
		w := httptest.NewRecorder()
		router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, nil))
		require.Equal(t, http.StatusOK, w.Code, path)
		assert.Equal(t, want, w.Body.String())
	}
}
