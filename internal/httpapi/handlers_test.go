package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"os"
	"testing"
	"time"

	"negotiator/internal/audit"
	"negotiator/internal/auth"
	"negotiator/internal/config"
	"negotiator/internal/evidence"
	"negotiator/internal/mock"
	"negotiator/internal/negotiation"
	"negotiator/internal/orchestrator"
	"negotiator/internal/rbac"
	"negotiator/internal/reporting"
	"negotiator/internal/voice"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "s3cret"

type testEnv struct {
	router   *gin.Engine
	handlers Handlers
	dir      string
}

func newTestEnv(t *testing.T, mockDelay time.Duration, gw voice.Gateway) *testEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)

	reg := negotiation.NewRegistry(negotiation.NewMemoryStore(), audit.NewService(audit.NewMemoryRepo()))
	gen := mock.NewGenerator(mock.Config{MinDelay: mockDelay, MaxDelay: mockDelay}, 1)
	responder := mock.NewResponder(reg.IngestWebhook, gen)
	t.Cleanup(responder.Stop)

	dir := t.TempDir()
	store, err := evidence.NewLocalStore(dir, 1024)
	require.NoError(t, err)

	am, err := auth.NewManager(config.AuthConfig{
		JWTSecret:       "test-secret",
		AccessTokenTTL:  time.Minute,
		RefreshTokenTTL: time.Hour,
	})
	require.NoError(t, err)

	h := Handlers{
		Negotiations:     orchestrator.New(reg, gw, responder, orchestrator.Config{DispatchTimeout: time.Second}),
		Voice:            gw,
		Evidence:         store,
		MaxEvidenceBytes: 1024,
		CSR:              mock.NewCSR(1),
		Auth:             am,
		Reporting:        reporting.NewService(reporting.NewRegistryRepo(reg)),
	}

	r := gin.New()
	optional := auth.OptionalAccessToken(am)
	r.GET("/health", h.Health)
	r.POST("/start", optional, h.Start)
	r.GET("/status/:negotiationId", h.Status)
	r.POST("/log", WebhookSecret(testSecret), h.Webhook)
	r.POST("/mock-csr", h.MockCSR)
	r.GET("/phone-numbers", h.PhoneNumbers)
	r.GET("/calls", h.ListCalls)
	r.GET("/calls/:callId", h.GetCall)
	r.GET("/calls/:callId/transcript", h.GetTranscript)
	r.POST("/v1/auth/token", optional, h.Token)
	r.POST("/v1/auth/refresh", h.Refresh)
	v1 := r.Group("/v1/negotiations", auth.RequireAccessToken(am), rbac.RequireUser())
	v1.GET("", h.ListNegotiations)
	v1.GET("/summary", h.Summary)

	return &testEnv{router: r, handlers: h, dir: dir}
}

func (e *testEnv) do(t *testing.T, method, path string, body any, header http.Header) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range header {
		req.Header[k] = v
	}
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out), w.Body.String())
	return out
}

func (e *testEnv) start(t *testing.T, header http.Header) string {
	t.Helper()
	w := e.do(t, http.MethodPost, "/start", gin.H{
		"phoneNumber": "+15551234567",
		"prompt":      "I want a refund for my damaged item",
		"orderNumber": "12345",
	}, header)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	out := decode(t, w)
	id, _ := out["negotiationId"].(string)
	require.NotEmpty(t, id)
	return id
}

func TestStart_MockLifecycle(t *testing.T) {
	env := newTestEnv(t, 10*time.Millisecond, nil)

	w := env.do(t, http.MethodPost, "/start", gin.H{
		"phoneNumber": "+1 (555) 123-4567",
		"prompt":      "I want a refund for my damaged item",
		"orderNumber": "12345",
	}, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	out := decode(t, w)
	assert.Equal(t, true, out["success"])
	assert.Equal(t, "Negotiation started successfully", out["message"])
	assert.Equal(t, "refund", out["category"])
	id := out["negotiationId"].(string)

	require.Eventually(t, func() bool {
		w := env.do(t, http.MethodGet, "/status/"+id, nil, nil)
		return w.Code == http.StatusOK && decode(t, w)["status"] == "completed"
	}, 2*time.Second, 10*time.Millisecond)

	v := decode(t, env.do(t, http.MethodGet, "/status/"+id, nil, nil))
	assert.Equal(t, "+15551234567", v["phoneNumber"])
	outcome, ok := v["outcome"].(map[string]any)
	require.True(t, ok, "outcome must be set once completed")
	assert.NotEmpty(t, outcome["confirmationCode"])
	assert.Nil(t, v["failureReason"])
}

func TestStart_ValidationErrors(t *testing.T) {
	env := newTestEnv(t, time.Hour, nil)

	w := env.do(t, http.MethodPost, "/start", gin.H{"prompt": "refund please", "orderNumber": "1"}, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	fields, _ := decode(t, w)["fields"].(map[string]any)
	assert.Contains(t, fields, "phoneNumber")

	w = env.do(t, http.MethodPost, "/start", gin.H{"phoneNumber": "+15551234567", "prompt": "refund please"}, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code, "order number or screenshot required")

	req := httptest.NewRequest(http.MethodPost, "/start", bytes.NewBufferString("{"))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	env.router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func multipartStart(t *testing.T, fields map[string]string, filename, contentType string, content []byte) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for k, v := range fields {
		require.NoError(t, mw.WriteField(k, v))
	}
	if filename != "" {
		hdr := make(textproto.MIMEHeader)
		hdr.Set("Content-Disposition", `form-data; name="screenshot"; filename="`+filename+`"`)
		hdr.Set("Content-Type", contentType)
		part, err := mw.CreatePart(hdr)
		require.NoError(t, err)
		_, err = part.Write(content)
		require.NoError(t, err)
	}
	require.NoError(t, mw.Close())
	req := httptest.NewRequest(http.MethodPost, "/start", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

func TestStart_MultipartScreenshot(t *testing.T) {
	env := newTestEnv(t, time.Hour, nil)
	fields := map[string]string{"phoneNumber": "+15551234567", "prompt": "my order arrived broken"}

	w := httptest.NewRecorder()
	env.router.ServeHTTP(w, multipartStart(t, fields, "receipt.png", "image/png", []byte("\x89PNG fake")))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	id := decode(t, w)["negotiationId"].(string)

	v := decode(t, env.do(t, http.MethodGet, "/status/"+id, nil, nil))
	ref, _ := v["evidenceRef"].(string)
	require.NotEmpty(t, ref)
	_, err := os.Stat(ref)
	assert.NoError(t, err, "screenshot stored on disk")

	w = httptest.NewRecorder()
	env.router.ServeHTTP(w, multipartStart(t, fields, "notes.txt", "text/plain", []byte("hello")))
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, evidence.ErrNotImage.Error(), decode(t, w)["error"])

	w = httptest.NewRecorder()
	env.router.ServeHTTP(w, multipartStart(t, fields, "big.png", "image/png", bytes.Repeat([]byte{1}, 2048)))
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, evidence.ErrTooLarge.Error(), decode(t, w)["error"])

	// Invalid request: nothing written.
	entries, err := os.ReadDir(env.dir)
	require.NoError(t, err)
	before := len(entries)
	w = httptest.NewRecorder()
	env.router.ServeHTTP(w, multipartStart(t, map[string]string{"prompt": "x"}, "a.png", "image/png", []byte("png")))
	assert.Equal(t, http.StatusBadRequest, w.Code)
	entries, err = os.ReadDir(env.dir)
	require.NoError(t, err)
	assert.Len(t, entries, before)
}

func TestStatus_NotFound(t *testing.T) {
	env := newTestEnv(t, time.Hour, nil)
	w := env.do(t, http.MethodGet, "/status/neg_missing", nil, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "Negotiation not found", decode(t, w)["error"])
}

func TestWebhook(t *testing.T) {
	env := newTestEnv(t, time.Hour, nil)
	id := env.start(t, nil)
	secret := http.Header{WebhookSecretHeader: []string{testSecret}}
	payload := gin.H{"negotiationId": id, "refund": "$25.5", "code": "REF-2024-001"}

	w := env.do(t, http.MethodPost, "/log", payload, nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = env.do(t, http.MethodPost, "/log", payload, secret)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	first := decode(t, w)
	assert.Equal(t, true, first["success"])

	w = env.do(t, http.MethodPost, "/log", gin.H{"negotiationId": id, "refund": 99, "code": "OTHER"}, secret)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, first, decode(t, w), "duplicate delivery gets the same ack")

	w = env.do(t, http.MethodGet, "/status/"+id, nil, nil)
	assert.Contains(t, w.Body.String(), `"refundAmount":25.50`)
	v := decode(t, w)
	assert.Equal(t, "completed", v["status"])
	outcome := v["outcome"].(map[string]any)
	assert.Equal(t, "REF-2024-001", outcome["confirmationCode"])

	w = env.do(t, http.MethodPost, "/log", gin.H{"negotiationId": "neg_missing", "refund": 1}, secret)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = env.do(t, http.MethodPost, "/log", gin.H{"message": gin.H{"type": "status-update"}}, secret)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "event ignored", decode(t, w)["message"])
}

func TestMockCSR(t *testing.T) {
	env := newTestEnv(t, time.Hour, nil)

	w := env.do(t, http.MethodPost, "/mock-csr", gin.H{"message": "I need a refund", "orderNumber": "A1"}, nil)
	require.Equal(t, http.StatusOK, w.Code)
	out := decode(t, w)
	assert.NotEmpty(t, out["response"])
	assert.Equal(t, "A1", out["orderNumber"])

	w = env.do(t, http.MethodPost, "/mock-csr", gin.H{"message": "  "}, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestCallEndpoints_NoProvider(t *testing.T) {
	env := newTestEnv(t, time.Hour, nil)
	for _, path := range []string{"/phone-numbers", "/calls", "/calls/c1", "/calls/c1/transcript"} {
		w := env.do(t, http.MethodGet, path, nil, nil)
		assert.Equal(t, http.StatusBadRequest, w.Code, path)
		assert.Equal(t, voice.ErrNotConfigured.Error(), decode(t, w)["error"], path)
	}
}

type fakeVoice struct {
	voice.Gateway
	recErr error
	calls  []voice.ListCallsRequest
}

func (f *fakeVoice) Name() string { return "fake" }

func (f *fakeVoice) ConfigureAgent(ctx context.Context, cfg voice.AgentConfig) (voice.Agent, error) {
	return voice.Agent{ID: "asst"}, nil
}

func (f *fakeVoice) PlaceCall(ctx context.Context, req voice.PlaceCallRequest) (voice.PlaceCallResult, error) {
	return voice.PlaceCallResult{CallID: "call_1"}, nil
}

func (f *fakeVoice) GetCall(ctx context.Context, id string) (voice.Call, error) {
	if id == "missing" {
		return voice.Call{}, &voice.GatewayError{Op: "get call", StatusCode: http.StatusNotFound}
	}
	return voice.Call{ID: id, Status: "ended"}, nil
}

func (f *fakeVoice) GetRecording(ctx context.Context, id string) (voice.Recording, error) {
	if f.recErr != nil {
		return voice.Recording{}, f.recErr
	}
	return voice.Recording{CallID: id, URL: "https://rec/" + id}, nil
}

func (f *fakeVoice) ListCalls(ctx context.Context, req voice.ListCallsRequest) ([]voice.Call, error) {
	f.calls = append(f.calls, req)
	return []voice.Call{{ID: "c1"}, {ID: "c2"}}, nil
}

func TestCallEndpoints_WithProvider(t *testing.T) {
	fv := &fakeVoice{}
	env := newTestEnv(t, time.Hour, fv)

	w := env.do(t, http.MethodGet, "/calls?limit=10&offset=5", nil, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.EqualValues(t, 2, decode(t, w)["total"])
	assert.Equal(t, []voice.ListCallsRequest{{Limit: 10, Offset: 5}}, fv.calls)

	w = env.do(t, http.MethodGet, "/calls?limit=abc", nil, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = env.do(t, http.MethodGet, "/calls/c9", nil, nil)
	require.Equal(t, http.StatusOK, w.Code)
	out := decode(t, w)
	assert.Equal(t, "https://rec/c9", out["recording"].(map[string]any)["url"])

	fv.recErr = errors.New("boom")
	w = env.do(t, http.MethodGet, "/calls/c9", nil, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Nil(t, decode(t, w)["recording"])

	w = env.do(t, http.MethodGet, "/calls/missing", nil, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestTokenAndOwnerScopedRoutes(t *testing.T) {
	env := newTestEnv(t, time.Hour, nil)

	w := env.do(t, http.MethodPost, "/v1/auth/token", gin.H{"userId": "u1"}, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	pair := decode(t, w)
	tok := pair["accessToken"].(string)
	w = env.do(t, http.MethodPost, "/v1/auth/refresh", gin.H{"refreshToken": pair["refreshToken"]}, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.NotEmpty(t, decode(t, w)["accessToken"])
	bearer := http.Header{"Authorization": []string{"Bearer " + tok}}

	w = env.do(t, http.MethodPost, "/v1/auth/refresh", gin.H{"refreshToken": "nope"}, nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = env.do(t, http.MethodPost, "/v1/auth/token", gin.H{"userId": "u1", "role": "admin"}, nil)
	assert.Equal(t, http.StatusForbidden, w.Code, "anonymous callers cannot mint admin tokens")

	id := env.start(t, bearer)
	env.start(t, nil)

	w = env.do(t, http.MethodGet, "/v1/negotiations", nil, bearer)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	out := decode(t, w)
	assert.EqualValues(t, 1, out["total"])
	list := out["negotiations"].([]any)
	assert.Equal(t, id, list[0].(map[string]any)["negotiationId"])

	w = env.do(t, http.MethodGet, "/v1/negotiations?ownerId=u2", nil, bearer)
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = env.do(t, http.MethodGet, "/v1/negotiations", nil, nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = env.do(t, http.MethodGet, "/v1/negotiations/summary?category=refund", nil, bearer)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.EqualValues(t, 1, decode(t, w)["total_negotiations"])

	w = env.do(t, http.MethodGet, "/v1/negotiations/summary?from=yesterday", nil, bearer)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestRateLimit(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.GET("/", RateLimit(1, 1), func(c *gin.Context) { c.Status(http.StatusNoContent) })

	codes := make([]int, 0, 2)
	for i := 0; i < 2; i++ {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.RemoteAddr = "203.0.113.7:4000"
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		codes = append(codes, w.Code)
	}
	assert.Equal(t, []int{http.StatusNoContent, http.StatusTooManyRequests}, codes)
}

func TestHealth(t *testing.T) {
	env := newTestEnv(t, time.Hour, nil)
	w := env.do(t, http.MethodGet, "/health", nil, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "ok", decode(t, w)["status"])
	assert.Equal(t, orchestrator.ModeMock, decode(t, w)["mode"])
}

func TestReady(t *testing.T) {
	env := newTestEnv(t, time.Hour, nil)
	env.handlers.Checks = map[string]func(context.Context) error{
		"postgres": func(context.Context) error { return nil },
	}
	env.router.GET("/readyz", env.handlers.Ready)

	w := env.do(t, http.MethodGet, "/readyz", nil, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, true, decode(t, w)["ready"])

	env.handlers.Checks["redis"] = func(context.Context) error { return errors.New("down") }
	w = env.do(t, http.MethodGet, "/readyz", nil, nil)
	require.Equal(t, http.StatusServiceUnavailable, w.Code)
	out := decode(t, w)
	assert.Equal(t, false, out["ready"])
	assert.Equal(t, "unavailable", out["checks"].(map[string]any)["redis"])
}
