package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"mailflow/internal/dispatch"
	"mailflow/internal/models"
	"mailflow/internal/ratelimit"
)

type fakeScheduler struct {
	lastReq dispatch.BatchRequest
	res     *dispatch.BatchResult
	err     error
}

func (f *fakeScheduler) Schedule(ctx context.Context, req dispatch.BatchRequest) (*dispatch.BatchResult, error) {
	f.lastReq = req
	return f.res, f.err
}

func (f *fakeScheduler) SendNow(ctx context.Context, req dispatch.BatchRequest) (*dispatch.BatchResult, error) {
	f.lastReq = req
	return f.res, f.err
}

type fakeJobReader struct {
	scheduled []models.Job
	terminal  []models.Job
	err       error
}

func (f *fakeJobReader) FindScheduled(ctx context.Context, userID string) ([]models.Job, error) {
	return f.scheduled, f.err
}

func (f *fakeJobReader) FindTerminal(ctx context.Context, userID string) ([]models.Job, error) {
	return f.terminal, f.err
}

type fakeRateReader struct {
	status ratelimit.Status
}

func (f *fakeRateReader) Status(ctx context.Context, sender string) ratelimit.Status {
	return f.status
}

func newTestHandler(s *fakeScheduler, jobs *fakeJobReader, rates *fakeRateReader) http.Handler {
	return NewHandler(s, jobs, rates, zap.NewNop()).Routes()
}

func postJSON(t *testing.T, h http.Handler, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	buf, err := json.Marshal(body)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(buf))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func validPayload() map[string]interface{} {
	return map[string]interface{}{
		"subject":            "hello",
		"body":               "<p>hi</p>",
		"recipients":         []string{"a@b.com"},
		"startTime":          "2030-01-01T10:00:00Z",
		"delayBetweenEmails": 60,
		"sender":             "sender@b.com",
		"userId":             "u1",
	}
}

func TestScheduleEmailsSuccess(t *testing.T) {
	start := time.Date(2030, 1, 1, 10, 0, 0, 0, time.UTC)
	scheduler := &fakeScheduler{res: &dispatch.BatchResult{
		Accepted:         1,
		FirstScheduledAt: start,
		LastScheduledAt:  start,
	}}
	h := newTestHandler(scheduler, &fakeJobReader{}, &fakeRateReader{})

	rec := postJSON(t, h, "/api/schedule-emails", validPayload())
	require.Equal(t, http.StatusCreated, rec.Code)

	var resp map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, float64(1), resp["emailCount"])

	assert.Equal(t, start, scheduler.lastReq.StartTime)
	assert.Equal(t, 60*time.Second, scheduler.lastReq.DelayBetween)
}

func TestScheduleEmailsMissingFields(t *testing.T) {
	h := newTestHandler(&fakeScheduler{}, &fakeJobReader{}, &fakeRateReader{})

	for _, field := range []string{"subject", "body", "recipients", "sender"} {
		payload := validPayload()
		delete(payload, field)
		rec := postJSON(t, h, "/api/schedule-emails", payload)
		assert.Equal(t, http.StatusBadRequest, rec.Code, "missing %s", field)
	}
}

func TestScheduleEmailsBadStartTime(t *testing.T) {
	h := newTestHandler(&fakeScheduler{}, &fakeJobReader{}, &fakeRateReader{})

	payload := validPayload()
	payload["startTime"] = "next tuesday"
	rec := postJSON(t, h, "/api/schedule-emails", payload)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	delete(payload, "startTime")
	rec = postJSON(t, h, "/api/schedule-emails", payload)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestScheduleEmailsInvalidJSON(t *testing.T) {
	h := newTestHandler(&fakeScheduler{}, &fakeJobReader{}, &fakeRateReader{})

	req := httptest.NewRequest(http.MethodPost, "/api/schedule-emails", bytes.NewBufferString("{"))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestScheduleEmailsDispatcherValidationMapsTo400(t *testing.T) {
	scheduler := &fakeScheduler{err: fmt.Errorf("%w: bad batch", dispatch.ErrValidation)}
	h := newTestHandler(scheduler, &fakeJobReader{}, &fakeRateReader{})

	rec := postJSON(t, h, "/api/schedule-emails", validPayload())
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestScheduleEmailsAcceptsCSVRecipients(t *testing.T) {
	scheduler := &fakeScheduler{res: &dispatch.BatchResult{Accepted: 2}}
	h := newTestHandler(scheduler, &fakeJobReader{}, &fakeRateReader{})

	payload := validPayload()
	delete(payload, "recipients")
	payload["recipientsCsv"] = "Email\na@b.com\nc@d.com\n"

	rec := postJSON(t, h, "/api/schedule-emails", payload)
	require.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, []string{"a@b.com", "c@d.com"}, scheduler.lastReq.Recipients)
}

func TestSendNowReturnsJobs(t *testing.T) {
	scheduler := &fakeScheduler{res: &dispatch.BatchResult{
		Accepted: 1,
		Jobs:     []*models.Job{{ID: "j1", Recipient: "a@b.com", Status: models.StatusScheduled}},
	}}
	h := newTestHandler(scheduler, &fakeJobReader{}, &fakeRateReader{})

	payload := validPayload()
	delete(payload, "startTime")
	rec := postJSON(t, h, "/api/send-now", payload)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		EmailCount int          `json:"emailCount"`
		Jobs       []models.Job `json:"jobs"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, 1, resp.EmailCount)
	require.Len(t, resp.Jobs, 1)
	assert.Equal(t, "j1", resp.Jobs[0].ID)
}

func TestListEndpointsRequireUserID(t *testing.T) {
	h := newTestHandler(&fakeScheduler{}, &fakeJobReader{}, &fakeRateReader{})

	for _, path := range []string{"/api/scheduled-emails", "/api/sent-emails"} {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusBadRequest, rec.Code, path)
	}
}

func TestScheduledEmailsEmptyListIsNotAnError(t *testing.T) {
	h := newTestHandler(&fakeScheduler{}, &fakeJobReader{scheduled: []models.Job{}}, &fakeRateReader{})

	req := httptest.NewRequest(http.MethodGet, "/api/scheduled-emails?userId=u1", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Count  int          `json:"count"`
		Emails []models.Job `json:"emails"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, 0, resp.Count)
	assert.NotNil(t, resp.Emails)
}

func TestSentEmailsReturnsTerminalJobs(t *testing.T) {
	sentAt := time.Date(2024, 6, 1, 10, 0, 0, 0, time.UTC)
	reader := &fakeJobReader{terminal: []models.Job{
		{ID: "j1", Status: models.StatusSent, SentAt: &sentAt},
		{ID: "j2", Status: models.StatusFailed},
	}}
	h := newTestHandler(&fakeScheduler{}, reader, &fakeRateReader{})

	req := httptest.NewRequest(http.MethodGet, "/api/sent-emails?userId=u1", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Count int `json:"count"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, 2, resp.Count)
}

func TestListEndpointsStoreError(t *testing.T) {
	reader := &fakeJobReader{err: errors.New("database down")}
	h := newTestHandler(&fakeScheduler{}, reader, &fakeRateReader{})

	req := httptest.NewRequest(http.MethodGet, "/api/scheduled-emails?userId=u1", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestRateLimitStatus(t *testing.T) {
	rates := &fakeRateReader{status: ratelimit.Status{Current: 42, Limit: 200, Remaining: 158}}
	h := newTestHandler(&fakeScheduler{}, &fakeJobReader{}, rates)

	req := httptest.NewRequest(http.MethodGet, "/api/rate-limit-status?sender=a@b.com", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var st ratelimit.Status
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &st))
	assert.Equal(t, int64(42), st.Current)
	assert.Equal(t, int64(158), st.Remaining)

	req = httptest.NewRequest(http.MethodGet, "/api/rate-limit-status", nil)
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHealth(t *testing.T) {
	h := newTestHandler(&fakeScheduler{}, &fakeJobReader{}, &fakeRateReader{})

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}
