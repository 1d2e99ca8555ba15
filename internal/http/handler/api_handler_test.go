package handler

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/gofiber/fiber/v2"
	"github.com/sifan077/PowerPulse/internal/app/model"
	"github.com/sifan077/PowerPulse/internal/app/repository"
	"github.com/sifan077/PowerPulse/internal/app/service"
	"github.com/sifan077/PowerPulse/internal/http/middleware"
	httpUtil "github.com/sifan077/PowerPulse/internal/http/util"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mockClickService struct {
	createFn  func(ctx context.Context, in service.CreateClickInput) (*model.ClickEventView, error)
	historyFn func(ctx context.Context, urlID, userID string, limit int) ([]model.ClickEventView, error)
}

func (m *mockClickService) CreateClick(ctx context.Context, in service.CreateClickInput) (*model.ClickEventView, error) {
	if m.createFn != nil {
		return m.createFn(ctx, in)
	}
	return &model.ClickEventView{ID: 1}, nil
}

func (m *mockClickService) GetClickHistory(ctx context.Context, urlID, userID string, limit int) ([]model.ClickEventView, error) {
	if m.historyFn != nil {
		return m.historyFn(ctx, urlID, userID, limit)
	}
	return []model.ClickEventView{}, nil
}

type mockStatsService struct {
	statsFn    func(ctx context.Context, urlID, userID string) (*model.StatsView, error)
	overviewFn func(ctx context.Context, urlID, userID string) (*model.Overview, error)
}

func (m *mockStatsService) GetStats(ctx context.Context, urlID, userID string) (*model.StatsView, error) {
	if m.statsFn != nil {
		return m.statsFn(ctx, urlID, userID)
	}
	return &model.StatsView{}, nil
}

func (m *mockStatsService) GetOverview(ctx context.Context, urlID, userID string) (*model.Overview, error) {
	if m.overviewFn != nil {
		return m.overviewFn(ctx, urlID, userID)
	}
	return &model.Overview{}, nil
}

func (m *mockStatsService) GetSystemStats(context.Context) (*model.SystemStats, error) {
	return &model.SystemStats{TotalLocations: 3, ConnectedClients: 2}, nil
}

func (m *mockStatsService) Snapshot(context.Context, string) (*model.StatsView, error) {
	return &model.StatsView{}, nil
}

type mockDimensionService struct {
	service.DimensionService
	getLocationFn func(ctx context.Context, id int64) (*model.LocationView, error)
}

func (m *mockDimensionService) GetLocation(ctx context.Context, id int64) (*model.LocationView, error) {
	return m.getLocationFn(ctx, id)
}

func newTestApp(h *APIHandler) *fiber.App {
	app := fiber.New(fiber.Config{JSONEncoder: json.Marshal, JSONDecoder: json.Unmarshal})
	app.Use(middleware.Identity())
	h.Register(app)
	return app
}

func doRequest(t *testing.T, app *fiber.App, method, target, body, userID string) (int, string) {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, target, reader)
	if body != "" {
		req.Header.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)
	}
	if userID != "" {
		req.Header.Set(middleware.UserIDHeader, userID)
	}
	resp, err := app.Test(req, -1)
	require.NoError(t, err)
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, string(raw)
}

func TestCreateClick_DistinguishesAbsentAndEmptyFields(t *testing.T) {
	var got service.CreateClickInput
	clicks := &mockClickService{createFn: func(_ context.Context, in service.CreateClickInput) (*model.ClickEventView, error) {
		got = in
		return &model.ClickEventView{ID: 9, ClickedAt: time.Now()}, nil
	}}
	app := newTestApp(NewAPIHandler(APIDeps{Clicks: clicks}))

	status, body := doRequest(t, app, fiber.MethodPost, "/api/click-events",
		`{"urlId":"42","countryCode":"US","city":"","deviceType":"mobile"}`, "")
	require.Equal(t, fiber.StatusCreated, status, body)
	assert.Contains(t, body, `"id":9`)

	require.NotNil(t, got.URLID)
	assert.Equal(t, "42", *got.URLID)
	require.NotNil(t, got.City)
	assert.Equal(t, "", *got.City)
	assert.Nil(t, got.BrowserName)
}

func TestCreateClick_ValidationFailures(t *testing.T) {
	app := newTestApp(NewAPIHandler(APIDeps{Clicks: &mockClickService{}}))

	for _, body := range []string{
		`{"countryCode":"USA"}`,
		`{"deviceType":"fridge"}`,
		`{"ipAddress":"not-an-ip"}`,
		`{"urlId":"abc"}`,
		`{not json`,
	} {
		status, _ := doRequest(t, app, fiber.MethodPost, "/api/click-events", body, "")
		assert.Equal(t, fiber.StatusBadRequest, status, body)
	}
}

func TestCreateClick_StatusMapping(t *testing.T) {
	cases := map[error]int{
		fmt.Errorf("%w: urlId must be a positive integer", service.ErrValidation): fiber.StatusBadRequest,
		fmt.Errorf("create click: %w: %w", service.ErrUpstreamUnavailable, errors.New("dial tcp")): fiber.StatusServiceUnavailable,
		errors.New("boom"): fiber.StatusInternalServerError,
	}
	for err, want := range cases {
		clicks := &mockClickService{createFn: func(context.Context, service.CreateClickInput) (*model.ClickEventView, error) {
			return nil, err
		}}
		app := newTestApp(NewAPIHandler(APIDeps{Clicks: clicks}))
		status, body := doRequest(t, app, fiber.MethodPost, "/api/click-events", `{"urlId":"1"}`, "")
		assert.Equal(t, want, status, body)
		assert.NotContains(t, body, "dial tcp")
	}
}

func TestGetClickHistory(t *testing.T) {
	clicks := &mockClickService{historyFn: func(_ context.Context, urlID, userID string, limit int) ([]model.ClickEventView, error) {
		if userID != "owner-1" {
			return nil, service.ErrAccessDenied
		}
		assert.Equal(t, "42", urlID)
		assert.Equal(t, 5, limit)
		return []model.ClickEventView{{ID: 2}, {ID: 1}}, nil
	}}
	app := newTestApp(NewAPIHandler(APIDeps{Clicks: clicks}))

	status, body := doRequest(t, app, fiber.MethodGet, "/api/click-events?urlId=42&limit=5", "", "owner-1")
	require.Equal(t, fiber.StatusOK, status, body)
	var views []model.ClickEventView
	require.NoError(t, json.Unmarshal([]byte(body), &views))
	assert.Len(t, views, 2)

	status, body = doRequest(t, app, fiber.MethodGet, "/api/click-events?urlId=42&limit=5", "", "intruder")
	assert.Equal(t, fiber.StatusForbidden, status)
	assert.JSONEq(t, `{"error":"access denied"}`, body)

	status, _ = doRequest(t, app, fiber.MethodGet, "/api/click-events?urlId=42&limit=11", "", "owner-1")
	assert.Equal(t, fiber.StatusBadRequest, status)

	status, _ = doRequest(t, app, fiber.MethodGet, "/api/click-events", "", "owner-1")
	assert.Equal(t, fiber.StatusBadRequest, status)
}

func TestGetStatsAndOverview(t *testing.T) {
	stats := &mockStatsService{
		statsFn: func(_ context.Context, urlID, userID string) (*model.StatsView, error) {
			return &model.StatsView{TotalClicks: 1, TodayClicks: 1, TopCountries: []model.CountryCount{}, TopDevices: []model.DeviceCount{}}, nil
		},
		overviewFn: func(context.Context, string, string) (*model.Overview, error) {
			return nil, service.ErrUpstreamUnavailable
		},
	}
	app := newTestApp(NewAPIHandler(APIDeps{Stats: stats}))

	status, body := doRequest(t, app, fiber.MethodGet, "/api/click-events/stats?urlId=42", "", "owner-1")
	require.Equal(t, fiber.StatusOK, status)
	assert.JSONEq(t, `{"totalClicks":1,"todayClicks":1,"topCountries":[],"topDevices":[]}`, body)

	status, _ = doRequest(t, app, fiber.MethodGet, "/api/analytics/overview?urlId=42", "", "owner-1")
	assert.Equal(t, fiber.StatusServiceUnavailable, status)

	status, body = doRequest(t, app, fiber.MethodGet, "/api/analytics/system", "", "")
	assert.Equal(t, fiber.StatusOK, status)
	assert.Contains(t, body, `"totalLocations":3`)
}

func TestGetLocation_NotFoundAndBadID(t *testing.T) {
	dims := &mockDimensionService{getLocationFn: func(_ context.Context, id int64) (*model.LocationView, error) {
		if id == 1 {
			return &model.LocationView{ID: 1, CountryCode: "US", CountryName: "United States"}, nil
		}
		return nil, fmt.Errorf("get location: %w", repository.ErrNotFound)
	}}
	app := newTestApp(NewAPIHandler(APIDeps{Dimensions: dims}))

	status, _ := doRequest(t, app, fiber.MethodGet, "/api/locations/1", "", "")
	assert.Equal(t, fiber.StatusOK, status)
	status, _ = doRequest(t, app, fiber.MethodGet, "/api/locations/2", "", "")
	assert.Equal(t, fiber.StatusNotFound, status)
	status, _ = doRequest(t, app, fiber.MethodGet, "/api/locations/abc", "", "")
	assert.Equal(t, fiber.StatusBadRequest, status)
}

func TestIssueTicket(t *testing.T) {
	signer := httpUtil.NewTokenSigner([]byte("secret"), time.Minute)
	app := newTestApp(NewAPIHandler(APIDeps{Tickets: signer}))

	status, _ := doRequest(t, app, fiber.MethodPost, "/api/realtime/tickets", "", "")
	assert.Equal(t, fiber.StatusUnauthorized, status)

	status, body := doRequest(t, app, fiber.MethodPost, "/api/realtime/tickets", "", "user-1")
	require.Equal(t, fiber.StatusCreated, status)

	var resp struct {
		Ticket    string `json:"ticket"`
		ExpiresIn int    `json:"expiresIn"`
	}
	require.NoError(t, json.Unmarshal([]byte(body), &resp))
	assert.Equal(t, 60, resp.ExpiresIn)
	assert.NoError(t, signer.Validate("user-1", resp.Ticket))

	noSecret := newTestApp(NewAPIHandler(APIDeps{Tickets: httpUtil.NewTokenSigner(nil, time.Minute)}))
	status, _ = doRequest(t, noSecret, fiber.MethodPost, "/api/realtime/tickets", "", "user-1")
	assert.Equal(t, fiber.StatusServiceUnavailable, status)
}

func TestHealth(t *testing.T) {
	app := fiber.New()
	NewHealthHandler(map[string]HealthCheck{
		"postgres": func(context.Context) error { return nil },
		"redis":    func(context.Context) error { return nil },
	}).Register(app)

	status, body := doRequest(t, app, fiber.MethodGet, "/health", "", "")
	assert.Equal(t, fiber.StatusOK, status)
	assert.Contains(t, body, `"status":"ok"`)

	degraded := fiber.New()
	NewHealthHandler(map[string]HealthCheck{
		"nats": func(context.Context) error { return errors.New("disconnected") },
	}).Register(degraded)
	status, body = doRequest(t, degraded, fiber.MethodGet, "/health", "", "")
	assert.Equal(t, fiber.StatusServiceUnavailable, status)
	assert.Contains(t, body, "disconnected")
}
