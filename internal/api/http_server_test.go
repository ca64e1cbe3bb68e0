package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"partnerqueue/internal/config"
	"partnerqueue/internal/database"
	"partnerqueue/internal/handlers"
	"partnerqueue/internal/models"
	"partnerqueue/internal/queue"
	"partnerqueue/internal/settings"
	"partnerqueue/internal/tenant"
)

var hotel7 = models.Tenant{ID: 7, Code: "RYD07", Name: "Riyadh", DatabaseName: "ryd07"}

type testServer struct {
	ts    *httptest.Server
	queue *queue.Service
	db    *database.DB
}

func newTestServer(t *testing.T, cfg *config.Config) *testServer {
	t.Helper()
	logger := zerolog.Nop()
	dir := t.TempDir()
	ctx := context.Background()

	master, err := database.NewMasterDB(filepath.Join(dir, "master.db"), &logger)
	require.NoError(t, err)
	t.Cleanup(func() { master.Close() })
	require.NoError(t, tenant.Seed(ctx, master, []models.Tenant{hotel7}))

	router := tenant.NewRouter(master, filepath.Join(dir, "tenants"), nil, &logger)
	t.Cleanup(func() { router.Close() })

	db, err := router.Open(ctx, &hotel7)
	require.NoError(t, err)
	require.NoError(t, db.SaveHotelSettings(ctx, &models.HotelSettings{HotelID: 7, HotelName: "Riyadh"}))

	services := handlers.DefaultExpenseServices(&logger)
	reg, err := queue.NewRegistry(handlers.All(services, &logger)...)
	require.NoError(t, err)
	require.NoError(t, reg.Validate(ProducerKeys()...))

	provider := settings.NewProvider(cfg.PartnerQueue)
	svc := queue.NewService(router, reg, provider, &logger)

	srv := NewHTTPServer(cfg, Deps{Queue: svc, Tenants: router, Settings: provider, Expenses: services}, &logger)
	ts := httptest.NewServer(srv.server.Handler)
	t.Cleanup(ts.Close)

	return &testServer{ts: ts, queue: svc, db: db}
}

func queueModeConfig(middleware bool) *config.Config {
	return &config.Config{
		PartnerQueue: config.PartnerQueueConfig{EnableQueueMode: true, UseMiddleware: middleware},
		Exports:      config.ExportConfig{MaxRows: 100},
	}
}

func (s *testServer) do(t *testing.T, method, path, code string, body any) *http.Response {
	t.Helper()
	var rd io.Reader
	switch b := body.(type) {
	case nil:
	case string:
		rd = bytes.NewBufferString(b)
	default:
		raw, err := json.Marshal(b)
		require.NoError(t, err)
		rd = bytes.NewReader(raw)
	}
	req, err := http.NewRequest(method, s.ts.URL+path, rd)
	require.NoError(t, err)
	if code != "" {
		req.Header.Set(models.HotelCodeHeader, code)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decodeBody(t *testing.T, resp *http.Response, v any) {
	t.Helper()
	require.NoError(t, json.NewDecoder(resp.Body).Decode(v))
}

func TestHealth(t *testing.T) {
	s := newTestServer(t, queueModeConfig(false))

	resp := s.do(t, http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestTenantHeader(t *testing.T) {
	s := newTestServer(t, queueModeConfig(false))

	resp := s.do(t, http.MethodGet, "/api/partner-requests", "", nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp = s.do(t, http.MethodGet, "/api/partner-requests", "NOPE", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp = s.do(t, http.MethodGet, "/api/partner-requests", "ryd07", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestExpenseCreate_QueuedThenBatch(t *testing.T) {
	s := newTestServer(t, queueModeConfig(false))

	resp := s.do(t, http.MethodPost, "/api/expenses", "RYD07", map[string]any{"expenseNo": "EX-7", "totalAmount": 99.5})
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	var ack struct {
		Queued     bool   `json:"queued"`
		RequestRef string `json:"requestRef"`
	}
	decodeBody(t, resp, &ack)
	assert.True(t, ack.Queued)
	assert.Len(t, ack.RequestRef, 32)

	list, err := s.db.ListExpenses(context.Background(), 10)
	require.NoError(t, err)
	assert.Empty(t, list)

	resp = s.do(t, http.MethodGet, "/api/partner-requests?search="+ack.RequestRef, "RYD07", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var page models.QueuePage
	decodeBody(t, resp, &page)
	require.Len(t, page.Items, 1)
	assert.Equal(t, handlers.KeyExpenseCreate, page.Items[0].Key())
	assert.Equal(t, "EX-7", *page.Items[0].BusinessRef)
	assert.Equal(t, models.StatusPending, page.Items[0].Status)

	resp = s.do(t, http.MethodPost, "/api/partner-requests/run-batch", "RYD07", map[string]any{"limit": 10})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var res models.BatchResult
	decodeBody(t, resp, &res)
	assert.Equal(t, models.BatchResult{Pulled: 1, Succeeded: 1}, res)

	resp = s.do(t, http.MethodGet, "/api/expenses", "RYD07", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var expenses struct {
		Items []models.Expense `json:"items"`
	}
	decodeBody(t, resp, &expenses)
	require.Len(t, expenses.Items, 1)
	assert.Equal(t, 99.5, expenses.Items[0].TotalAmount)
}

func TestExpenseCreate_InterceptorOnEnqueuesOnce(t *testing.T) {
	s := newTestServer(t, queueModeConfig(true))
	bound := tenant.WithTenant(context.Background(), &hotel7)

	resp := s.do(t, http.MethodPost, "/api/expenses", "RYD07", map[string]any{"expenseNo": "EX-8", "totalAmount": 5})
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	var ack struct {
		Queued     bool    `json:"queued"`
		RequestRef string  `json:"requestRef"`
		Operation  *string `json:"operation"`
	}
	decodeBody(t, resp, &ack)
	assert.True(t, ack.Queued)
	assert.Nil(t, ack.Operation, "answered by the producer route, not the interceptor")

	page, err := s.queue.List(bound, models.QueueFilter{})
	require.NoError(t, err)
	assert.Equal(t, int64(1), page.Total)
	require.Len(t, page.Items, 1)
	assert.Equal(t, handlers.KeyExpenseCreate, page.Items[0].Key())
	assert.Equal(t, ack.RequestRef, page.Items[0].RequestRef)
}

func TestExpenseCreate_Synchronous(t *testing.T) {
	s := newTestServer(t, &config.Config{})

	resp := s.do(t, http.MethodPost, "/api/expenses", "RYD07", map[string]any{"totalAmount": 12})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	var e models.Expense
	decodeBody(t, resp, &e)
	assert.NotZero(t, e.ID)

	resp = s.do(t, http.MethodPut, fmt.Sprintf("/api/expenses/%d", e.ID), "RYD07", map[string]any{"totalAmount": 14})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp = s.do(t, http.MethodDelete, fmt.Sprintf("/api/expenses/%d", e.ID), "RYD07", nil)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp = s.do(t, http.MethodGet, fmt.Sprintf("/api/expenses/%d", e.ID), "RYD07", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp = s.do(t, http.MethodPost, "/api/expenses", "RYD07", `{broken`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	page, err := s.db.ListQueueItems(context.Background(), models.QueueFilter{Take: 10})
	require.NoError(t, err)
	assert.Zero(t, page.Total)
}

func TestExpenseProducers_Keys(t *testing.T) {
	s := newTestServer(t, queueModeConfig(true))

	cases := []struct {
		method, path string
		key          string
		target       int64
	}{
		{http.MethodPut, "/api/expenses/5", handlers.KeyExpenseUpdateByID, 5},
		{http.MethodPut, "/api/expenses/by-number/EX-1", handlers.KeyExpenseUpdateByNumber, 0},
		{http.MethodDelete, "/api/expenses/5", handlers.KeyExpenseDelete, 5},
		{http.MethodPost, "/api/expenses/5/rooms", handlers.KeyExpenseRoomAdd, 5},
		{http.MethodPut, "/api/expenses/rooms/9", handlers.KeyExpenseRoomUpdate, 9},
		{http.MethodDelete, "/api/expenses/rooms/9", handlers.KeyExpenseRoomDelete, 9},
	}
	for _, c := range cases {
		t.Run(c.key, func(t *testing.T) {
			resp := s.do(t, c.method, c.path, "RYD07", map[string]any{})
			require.Equal(t, http.StatusAccepted, resp.StatusCode)
			var ack struct {
				RequestRef string `json:"requestRef"`
			}
			decodeBody(t, resp, &ack)

			page, err := s.db.ListQueueItems(context.Background(), models.QueueFilter{Search: ack.RequestRef, Take: 10})
			require.NoError(t, err)
			require.Len(t, page.Items, 1)
			item := page.Items[0]
			assert.Equal(t, c.key, item.Key())
			assert.Equal(t, c.path, item.Operation)
			if c.target > 0 {
				require.NotNil(t, item.TargetID)
				assert.Equal(t, c.target, *item.TargetID)
			}
			if c.key == handlers.KeyExpenseUpdateByNumber {
				assert.Equal(t, "EX-1", *item.BusinessRef)
			}
		})
	}

	page, err := s.db.ListQueueItems(context.Background(), models.QueueFilter{Take: 100})
	require.NoError(t, err)
	assert.Equal(t, int64(len(cases)), page.Total, "self-enqueuing routes must not be intercepted as well")
}

func TestIngressInterceptor(t *testing.T) {
	s := newTestServer(t, queueModeConfig(true))

	resp := s.do(t, http.MethodPost, "/api/bookings", "RYD07", `{"guest":"x"}`)
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	var ack struct {
		Queued     bool   `json:"queued"`
		RequestRef string `json:"requestRef"`
		Operation  string `json:"operation"`
		HotelID    int64  `json:"hotelId"`
	}
	decodeBody(t, resp, &ack)
	assert.True(t, ack.Queued)
	assert.Equal(t, "/api/bookings", ack.Operation)
	assert.Equal(t, int64(7), ack.HotelID)

	page, err := s.db.ListQueueItems(context.Background(), models.QueueFilter{Search: ack.RequestRef, Take: 10})
	require.NoError(t, err)
	require.Len(t, page.Items, 1)
	assert.Nil(t, page.Items[0].OperationKey)
	assert.Equal(t, `{"guest":"x"}`, page.Items[0].PayloadJSON)

	// reads pass through
	resp = s.do(t, http.MethodGet, "/api/bookings", "RYD07", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp = s.do(t, http.MethodPost, "/api/bookings", "", `{}`)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestIngressInterceptor_Disabled(t *testing.T) {
	s := newTestServer(t, queueModeConfig(false))

	resp := s.do(t, http.MethodPost, "/api/bookings", "RYD07", `{}`)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestPartnerRequests_ManualOperations(t *testing.T) {
	s := newTestServer(t, queueModeConfig(false))
	bound := tenant.WithTenant(context.Background(), &hotel7)

	key := "Nonexistent.Key"
	_, err := s.queue.Enqueue(bound, models.EnqueueRequest{Operation: "/api/expenses", OperationKey: &key})
	require.NoError(t, err)

	resp := s.do(t, http.MethodPost, "/api/partner-requests/run-batch", "RYD07", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp = s.do(t, http.MethodGet, "/api/partner-requests?status=Failed&search=nonexistent", "RYD07", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var page models.QueuePage
	decodeBody(t, resp, &page)
	require.Len(t, page.Items, 1)
	item := page.Items[0]
	assert.Contains(t, *item.LastError, "Nonexistent.Key")

	resp = s.do(t, http.MethodGet, fmt.Sprintf("/api/partner-requests/%d", item.ID), "RYD07", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var details models.QueueDetails
	decodeBody(t, resp, &details)
	assert.Len(t, details.Logs, 2)
	assert.Equal(t, models.StatusFailed, details.Logs[0].Status)

	resp = s.do(t, http.MethodPost, fmt.Sprintf("/api/partner-requests/%d/process", item.ID), "RYD07", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var res queue.ProcessResult
	decodeBody(t, resp, &res)
	assert.False(t, res.Processed)
	assert.Equal(t, 2, res.Item.Attempts)

	resp = s.do(t, http.MethodGet, "/api/partner-requests/stats", "RYD07", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var stats map[string]int64
	decodeBody(t, resp, &stats)
	assert.Equal(t, int64(1), stats[models.StatusFailed])
	assert.Equal(t, int64(0), stats[models.StatusPending])

	resp = s.do(t, http.MethodDelete, fmt.Sprintf("/api/partner-requests/%d", item.ID), "RYD07", nil)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	resp = s.do(t, http.MethodDelete, fmt.Sprintf("/api/partner-requests/%d", item.ID), "RYD07", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp = s.do(t, http.MethodGet, "/api/partner-requests/abc", "RYD07", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = s.do(t, http.MethodGet, "/api/partner-requests?status=Unknown", "RYD07", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = s.do(t, http.MethodGet, "/api/partner-requests/dead-letters", "RYD07", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestPartnerRequests_Export(t *testing.T) {
	s := newTestServer(t, queueModeConfig(false))
	bound := tenant.WithTenant(context.Background(), &hotel7)

	for i := 0; i < 3; i++ {
		key := handlers.KeyExpenseDelete
		_, err := s.queue.Enqueue(bound, models.EnqueueRequest{Operation: "/api/expenses", OperationKey: &key, TargetID: models.Int64Ptr(int64(i + 1))})
		require.NoError(t, err)
	}

	resp := s.do(t, http.MethodGet, "/api/partner-requests/export?status=Pending", "RYD07", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, xlsxContentType, resp.Header.Get("Content-Type"))
	assert.Contains(t, resp.Header.Get("Content-Disposition"), "partner-requests-")

	f, err := excelize.OpenReader(resp.Body)
	require.NoError(t, err)
	defer f.Close()

	rows, err := f.GetRows(exportSheet)
	require.NoError(t, err)
	require.Len(t, rows, 4)
	assert.Equal(t, exportHeaders[1], rows[0][1])
	assert.Equal(t, handlers.KeyExpenseDelete, rows[1][4])
	assert.Equal(t, models.StatusPending, rows[1][9])
}

func TestAuth(t *testing.T) {
	cfg := queueModeConfig(false)
	cfg.API.Auth = config.APIAuthConfig{
		Enabled: true,
		APIKeys: []config.APIClientKey{
			{Key: "reader", Extra: "r-secret", Permissions: []string{PermReadQueue}},
			{Key: "admin", Extra: "a-secret"},
		},
	}
	s := newTestServer(t, cfg)

	call := func(method, path, key, extra string) int {
		req, err := http.NewRequest(method, s.ts.URL+path, bytes.NewBufferString("{}"))
		require.NoError(t, err)
		req.Header.Set(models.HotelCodeHeader, "RYD07")
		if key != "" {
			req.Header.Set("X-API-Key", key)
			req.Header.Set("X-API-Extra", extra)
		}
		resp, err := http.DefaultClient.Do(req)
		require.NoError(t, err)
		resp.Body.Close()
		return resp.StatusCode
	}

	assert.Equal(t, http.StatusOK, call(http.MethodGet, "/health", "", ""))
	assert.Equal(t, http.StatusUnauthorized, call(http.MethodGet, "/api/partner-requests", "", ""))
	assert.Equal(t, http.StatusUnauthorized, call(http.MethodGet, "/api/partner-requests", "reader", "wrong"))
	assert.Equal(t, http.StatusOK, call(http.MethodGet, "/api/partner-requests", "reader", "r-secret"))
	assert.Equal(t, http.StatusForbidden, call(http.MethodPost, "/api/partner-requests/run-batch", "reader", "r-secret"))
	assert.Equal(t, http.StatusForbidden, call(http.MethodGet, "/api/expenses", "reader", "r-secret"))
	assert.Equal(t, http.StatusOK, call(http.MethodPost, "/api/partner-requests/run-batch", "admin", "a-secret"))
}

func TestRateLimit(t *testing.T) {
	cfg := queueModeConfig(false)
	cfg.API.RateLimit = config.APIRateLimitConfig{RPS: 0.001, Burst: 1}
	s := newTestServer(t, cfg)

	resp := s.do(t, http.MethodGet, "/api/partner-requests", "RYD07", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	resp = s.do(t, http.MethodGet, "/api/partner-requests", "RYD07", nil)
	assert.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
}

func TestRequiredPermission(t *testing.T) {
	tests := []struct {
		method, path, want string
	}{
		{http.MethodGet, "/api/partner-requests", PermReadQueue},
		{http.MethodDelete, "/api/partner-requests/1", PermWriteQueue},
		{http.MethodGet, "/api/expenses/1", PermReadExpenses},
		{http.MethodPost, "/api/expenses", PermWriteExpenses},
		{http.MethodPost, "/api/bookings", PermWriteQueue},
		{http.MethodGet, "/health", ""},
	}
	for _, tt := range tests {
		req := httptest.NewRequest(tt.method, tt.path, nil)
		assert.Equal(t, tt.want, requiredPermission(req), "%s %s", tt.method, tt.path)
	}
}
