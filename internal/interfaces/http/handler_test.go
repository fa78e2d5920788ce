package http

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"project_wainbox/internal/entities"
	"project_wainbox/internal/infrastructure"
	"project_wainbox/internal/repository"
	"project_wainbox/internal/usecases"
)

const testSecret = "test-secret"

// stubConnections is a minimal connection store keyed by id
type stubConnections struct {
	rows map[int64]*entities.Connection
}

func (s *stubConnections) GetByID(_ context.Context, id int64) (*entities.Connection, error) {
	if c, ok := s.rows[id]; ok {
		cp := *c
		return &cp, nil
	}
	return nil, repository.ErrNotFound
}

func (s *stubConnections) GetByInstance(_ context.Context, instance string) (*entities.Connection, error) {
	for _, c := range s.rows {
		if c.InstanceName == instance {
			cp := *c
			return &cp, nil
		}
	}
	return nil, nil
}

func (s *stubConnections) ListByTenant(_ context.Context, tenantID string) ([]entities.Connection, error) {
	var out []entities.Connection
	for _, c := range s.rows {
		if c.TenantID == tenantID {
			out = append(out, *c)
		}
	}
	return out, nil
}

func (s *stubConnections) ListAll(context.Context) ([]entities.Connection, error) { return nil, nil }

func (s *stubConnections) Create(_ context.Context, c *entities.Connection) error {
	for _, existing := range s.rows {
		if existing.InstanceName == c.InstanceName {
			return repository.ErrDuplicate
		}
	}
	c.ID = int64(len(s.rows) + 1)
	cp := *c
	s.rows[c.ID] = &cp
	return nil
}

func (s *stubConnections) Delete(_ context.Context, id int64) error {
	delete(s.rows, id)
	return nil
}

func (s *stubConnections) UpdateStatus(_ context.Context, id int64, status entities.ConnectionStatus) (entities.ConnectionStatus, bool, error) {
	c := s.rows[id]
	prev := c.Status
	c.Status = status
	return prev, prev != status, nil
}

type testServer struct {
	router      *gin.Engine
	conns       *stubConnections
	diagnostics *infrastructure.WebhookDiagnostics
	storage     *infrastructure.LocalBlobStorage
}

func newTestServer(t *testing.T, webhookToken string) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	storage, err := infrastructure.NewLocalBlobStorage(t.TempDir(), "http://localhost:8080", 1<<20)
	require.NoError(t, err)

	conns := &stubConnections{rows: map[int64]*entities.Connection{
		1: {ID: 1, TenantID: "t1", InstanceName: "acme", Status: entities.ConnectionConnected},
	}}
	connSvc := usecases.NewConnectionService(conns, nil, nil, infrastructure.NoopPublisher{}, nil)
	ingestion := usecases.NewIngestionService(usecases.IngestionDeps{
		Connections: conns,
		Status:      connSvc,
		Events:      infrastructure.NoopPublisher{},
	}, nil)
	diagnostics := infrastructure.NewWebhookDiagnostics(10)

	r := gin.New()
	SetupRoutes(r, Services{
		Ingestion:   ingestion,
		Connections: connSvc,
		Storage:     storage,
		Diagnostics: diagnostics,
	}, NewMiddleware(testSecret, webhookToken), nil)

	return &testServer{router: r, conns: conns, diagnostics: diagnostics, storage: storage}
}

func (s *testServer) do(req *http.Request) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	return w
}

func bearer(t *testing.T, claims jwt.MapClaims) string {
	t.Helper()
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(testSecret))
	require.NoError(t, err)
	return "Bearer " + token
}

func TestWebhookAcknowledgesEvenOnProcessingError(t *testing.T) {
	srv := newTestServer(t, "")

	body := `{"event":"connection.update","instance":"ghost","data":{"state":"open"}}`
	w := srv.do(httptest.NewRequest(http.MethodPost, "/webhook", strings.NewReader(body)))

	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status":"received"}`, w.Body.String())

	recent, total := srv.diagnostics.Snapshot()
	require.Len(t, recent, 1)
	assert.Equal(t, uint64(1), total)
	assert.Equal(t, "connection.update", recent[0].Event)
	assert.Equal(t, "ghost", recent[0].Instance)
	assert.NotEmpty(t, recent[0].Error)
}

func TestWebhookAppliesConnectionUpdate(t *testing.T) {
	srv := newTestServer(t, "")

	body := `{"instance":"acme","data":{"state":"close"}}`
	w := srv.do(httptest.NewRequest(http.MethodPost, "/webhook/CONNECTION_UPDATE", strings.NewReader(body)))

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, entities.ConnectionDisconnected, srv.conns.rows[1].Status)
}

func TestWebhookRejectsMalformedJSON(t *testing.T) {
	srv := newTestServer(t, "")

	w := srv.do(httptest.NewRequest(http.MethodPost, "/webhook", strings.NewReader(`{"event":`)))

	assert.Equal(t, http.StatusBadRequest, w.Code)
	_, total := srv.diagnostics.Snapshot()
	assert.Zero(t, total)
}

func TestWebhookToken(t *testing.T) {
	srv := newTestServer(t, "s3cret")
	body := `{"event":"qrcode.updated","instance":"acme"}`

	w := srv.do(httptest.NewRequest(http.MethodPost, "/webhook", strings.NewReader(body)))
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	req := httptest.NewRequest(http.MethodPost, "/webhook", strings.NewReader(body))
	req.Header.Set("apikey", "s3cret")
	assert.Equal(t, http.StatusOK, srv.do(req).Code)

	w = srv.do(httptest.NewRequest(http.MethodPost, "/webhook?token=s3cret", strings.NewReader(body)))
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestAPIRequiresTenantToken(t *testing.T) {
	srv := newTestServer(t, "")

	w := srv.do(httptest.NewRequest(http.MethodGet, "/api/connections", nil))
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	req := httptest.NewRequest(http.MethodGet, "/api/connections", nil)
	req.Header.Set("Authorization", "Bearer not-a-token")
	assert.Equal(t, http.StatusUnauthorized, srv.do(req).Code)

	req = httptest.NewRequest(http.MethodGet, "/api/connections", nil)
	req.Header.Set("Authorization", bearer(t, jwt.MapClaims{"sub": "u1"}))
	assert.Equal(t, http.StatusForbidden, srv.do(req).Code)

	req = httptest.NewRequest(http.MethodGet, "/api/connections", nil)
	req.Header.Set("Authorization", bearer(t, jwt.MapClaims{"tenant_id": "t1", "exp": time.Now().Add(time.Hour).Unix()}))
	w = srv.do(req)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"instance_name":"acme"`)

	req = httptest.NewRequest(http.MethodGet, "/api/connections", nil)
	req.Header.Set("Authorization", bearer(t, jwt.MapClaims{"tenant_id": "t2"}))
	w = srv.do(req)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `[]`, w.Body.String())
}

func TestCreateConnection(t *testing.T) {
	srv := newTestServer(t, "")
	auth := bearer(t, jwt.MapClaims{"tenant_id": "t1"})

	post := func(body string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/api/connections", strings.NewReader(body))
		req.Header.Set("Authorization", auth)
		req.Header.Set("Content-Type", "application/json")
		return srv.do(req)
	}

	assert.Equal(t, http.StatusCreated, post(`{"instance_name":"shop-2","groups_enabled":true}`).Code)
	assert.Equal(t, http.StatusConflict, post(`{"instance_name":"acme"}`).Code)
	assert.Equal(t, http.StatusBadRequest, post(`{"instance_name":"bad name!"}`).Code)
	assert.Equal(t, http.StatusBadRequest, post(`{}`).Code)
}

func TestConnectionOwnershipIsEnforced(t *testing.T) {
	srv := newTestServer(t, "")

	req := httptest.NewRequest(http.MethodDelete, "/api/connections/1", nil)
	req.Header.Set("Authorization", bearer(t, jwt.MapClaims{"tenant_id": "t2"}))
	assert.Equal(t, http.StatusNotFound, srv.do(req).Code)
	assert.Contains(t, srv.conns.rows, int64(1))

	req = httptest.NewRequest(http.MethodDelete, "/api/connections/abc", nil)
	req.Header.Set("Authorization", bearer(t, jwt.MapClaims{"tenant_id": "t1"}))
	assert.Equal(t, http.StatusBadRequest, srv.do(req).Code)
}

func TestRateLimitPerTenant(t *testing.T) {
	gin.SetMode(gin.TestMode)
	m := NewMiddleware(testSecret, "")
	r := gin.New()
	r.GET("/x", func(c *gin.Context) { c.Set(tenantKey, c.Query("t")) }, m.RateLimitPerTenant(0, 2), func(c *gin.Context) {
		c.Status(http.StatusNoContent)
	})

	codes := make([]int, 0, 3)
	for i := 0; i < 3; i++ {
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/x?t=a", nil))
		codes = append(codes, w.Code)
	}
	assert.Equal(t, []int{http.StatusNoContent, http.StatusNoContent, http.StatusTooManyRequests}, codes)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/x?t=b", nil))
	assert.Equal(t, http.StatusNoContent, w.Code)
}

func TestServeMedia(t *testing.T) {
	srv := newTestServer(t, "")
	require.NoError(t, srv.storage.Put(context.Background(), "0b7c1f6e-1111-4a2b-9c3d-123456789abc.png", bytes.NewReader([]byte("png-bytes"))))

	w := srv.do(httptest.NewRequest(http.MethodGet, "/media/0b7c1f6e-1111-4a2b-9c3d-123456789abc.png", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "image/png", w.Header().Get("Content-Type"))
	assert.Equal(t, "png-bytes", w.Body.String())

	w = srv.do(httptest.NewRequest(http.MethodGet, "/media/missing.png", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)
	w = srv.do(httptest.NewRequest(http.MethodGet, "/media/..%2Fetc.png", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestValidators(t *testing.T) {
	assert.True(t, ValidInstanceName("shop_2.main-1"))
	assert.False(t, ValidInstanceName(""))
	assert.False(t, ValidInstanceName("has space"))
	assert.False(t, ValidInstanceName(strings.Repeat("a", MaxInstanceNameLength+1)))

	assert.True(t, ValidBlobName("0b7c1f6e-1111-4a2b-9c3d-123456789abc.jpg"))
	assert.False(t, ValidBlobName("../secret"))
	assert.False(t, ValidBlobName("a/b.png"))

	assert.Equal(t, "ab", SanitizeString("a\x00b"))
	assert.Equal(t, "ok", SanitizeString("o\xffk"))

	id, ok := parseID("42")
	assert.True(t, ok)
	assert.Equal(t, int64(42), id)
	_, ok = parseID("-1")
	assert.False(t, ok)
}

func TestWriteErrorStatusCodes(t *testing.T) {
	h := &Handler{log: slog.Default()}
	cases := []struct {
		err  error
		code int
	}{
		{usecases.ErrConversationNotFound, http.StatusNotFound},
		{usecases.ErrInstanceTaken, http.StatusConflict},
		{usecases.ErrEmptyMessage, http.StatusBadRequest},
		{fmt.Errorf("%w: retry in 2s", usecases.ErrSendThrottled), http.StatusTooManyRequests},
		{fmt.Errorf("send text: %w", infrastructure.ErrGatewayUnavailable), http.StatusBadGateway},
		{context.DeadlineExceeded, http.StatusInternalServerError},
	}
	for _, tc := range cases {
		w := httptest.NewRecorder()
		c, _ := gin.CreateTestContext(w)
		c.Request = httptest.NewRequest(http.MethodGet, "/", nil)
		h.writeError(c, tc.err)
		assert.Equal(t, tc.code, w.Code, tc.err.Error())
	}
}
