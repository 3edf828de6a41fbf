package web

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"meetcal/internal/config"
	"meetcal/internal/kdate"
	"meetcal/internal/schedule"
)

type fakeService struct {
	months       int
	text         string
	participants []string
	candidate    string
	days, top    int
	refreshed    string
	err          error
}

func (f *fakeService) MySchedule(ctx context.Context, userID string, months int) (schedule.MyScheduleResponse, error) {
	f.months = months
	return schedule.MyScheduleResponse{UserID: userID, RequestedMonths: months, KoreanDateFormat: "10월 1"}, f.err
}

func (f *fakeService) Overlap(ctx context.Context, userID, text string) (schedule.ScheduleOverlapResponse, error) {
	f.text = text
	if f.err != nil {
		return schedule.ScheduleOverlapResponse{}, f.err
	}
	return schedule.ScheduleOverlapResponse{UserID: userID, TotalMatches: 2, InputTotal: 3}, nil
}

func (f *fakeService) Recommend(ctx context.Context, participants []string, candidate string, days, topN int) (schedule.DualRecommendationResponse, error) {
	f.participants, f.candidate, f.days, f.top = participants, candidate, days, topN
	return schedule.DualRecommendationResponse{ParticipantCount: len(participants), ConfidenceLevel: 1}, f.err
}

func (f *fakeService) Refresh(userID string) error {
	f.refreshed = userID
	return f.err
}

func newTestServer(svc Service, auth *config.BasicAuthConfig) http.Handler {
	cfg := config.DefaultConfig()
	cfg.BasicAuth = auth
	return NewServer(cfg, svc).Handler()
}

func do(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestHealth(t *testing.T) {
	rec := do(t, newTestServer(&fakeService{}, nil), http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "OK", rec.Body.String())
}

func TestHealthReportsFailingDependency(t *testing.T) {
	h := NewServer(&config.Config{}, &fakeService{}).
		WithHealthCheck(func(context.Context) error { return errors.New("database is closed") }).
		Handler()

	rec := do(t, h, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestSchedule(t *testing.T) {
	svc := &fakeService{}
	rec := do(t, newTestServer(svc, nil), http.MethodGet, "/api/users/u1/schedule?months=2", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var resp schedule.MyScheduleResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "u1", resp.UserID)
	assert.Equal(t, 2, svc.months)
	assert.Contains(t, rec.Body.String(), `"koreanDateFormat":"10월 1"`)

	rec = do(t, newTestServer(svc, nil), http.MethodGet, "/api/users/u1/schedule?months=two", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestOverlap(t *testing.T) {
	svc := &fakeService{}
	rec := do(t, newTestServer(svc, nil), http.MethodPost, "/api/users/u1/overlap", `{"text":"10월 1 2 3"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "10월 1 2 3", svc.text)
	assert.Contains(t, rec.Body.String(), `"totalMatches":2`)
}

func TestOverlapParseErrorIsBadRequest(t *testing.T) {
	svc := &fakeService{err: fmt.Errorf("wrapped: %w", &kdate.ParseError{Segment: "1 2", Reason: "missing prefix"})}
	rec := do(t, newTestServer(svc, nil), http.MethodPost, "/api/users/u1/overlap", `{"text":"1 2"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "1 2")
}

func TestMalformedBody(t *testing.T) {
	h := newTestServer(&fakeService{}, nil)
	assert.Equal(t, http.StatusBadRequest, do(t, h, http.MethodPost, "/api/recommendations", `{"participants":`).Code)
	assert.Equal(t, http.StatusBadRequest, do(t, h, http.MethodPost, "/api/recommendations", `{"unknown":1}`).Code)
}

func TestRecommend(t *testing.T) {
	svc := &fakeService{}
	body := `{"participants":["a","b"],"candidate":"c","days":14,"top":3}`
	rec := do(t, newTestServer(svc, nil), http.MethodPost, "/api/recommendations", body)
	require.Equal(t, http.StatusOK, rec.Code)

	assert.Equal(t, []string{"a", "b"}, svc.participants)
	assert.Equal(t, "c", svc.candidate)
	assert.Equal(t, 14, svc.days)
	assert.Equal(t, 3, svc.top)
	assert.Contains(t, rec.Body.String(), `"participantCount":2`)
}

func TestErrorMapping(t *testing.T) {
	tests := []struct {
		err  error
		code int
	}{
		{schedule.ErrInvalidRequest, http.StatusBadRequest},
		{context.DeadlineExceeded, http.StatusServiceUnavailable},
		{errors.New("disk on fire"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		svc := &fakeService{err: tt.err}
		rec := do(t, newTestServer(svc, nil), http.MethodPost, "/api/users/u1/refresh", "")
		assert.Equal(t, tt.code, rec.Code, tt.err.Error())
	}
}

func TestRefresh(t *testing.T) {
	svc := &fakeService{}
	rec := do(t, newTestServer(svc, nil), http.MethodPost, "/api/users/u9/refresh", "")
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "u9", svc.refreshed)
}

func TestMethodNotAllowed(t *testing.T) {
	rec := do(t, newTestServer(&fakeService{}, nil), http.MethodGet, "/api/recommendations", "")
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestBasicAuth(t *testing.T) {
	h := newTestServer(&fakeService{}, &config.BasicAuthConfig{Username: "admin", Password: "secret"})

	assert.Equal(t, http.StatusOK, do(t, h, http.MethodGet, "/health", "").Code)

	rec := do(t, h, http.MethodGet, "/api/users/u1/schedule", "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("WWW-Authenticate"))

	req := httptest.NewRequest(http.MethodGet, "/api/users/u1/schedule", nil)
	req.SetBasicAuth("admin", "secret")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)

	req = httptest.NewRequest(http.MethodGet, "/metrics", nil)
	req.SetBasicAuth("admin", "wrong")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestMetricsEndpoint(t *testing.T) {
	rec := do(t, newTestServer(&fakeService{}, nil), http.MethodGet, "/metrics", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "go_goroutines")
}
