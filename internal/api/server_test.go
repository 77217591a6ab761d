package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/coachflow/internal/delivery"
	"github.com/roach88/coachflow/internal/domain"
	"github.com/roach88/coachflow/internal/engine"
	"github.com/roach88/coachflow/internal/store"
	"github.com/roach88/coachflow/internal/testutil"
)

type testServer struct {
	srv     *Server
	store   *store.Store
	engine  *engine.Engine
	channel *delivery.CaptureChannel
	clock   *testutil.ManualClock
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	s, err := store.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	clock := testutil.NewManualClock(time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC))
	channel := delivery.NewCaptureChannel()
	eng := engine.New(s, channel, engine.DefaultConfig(),
		engine.WithClock(clock), engine.WithIDGenerator(testutil.NewSequenceIDs("rec")))

	return &testServer{
		srv:     NewServer(":0", s, eng, eng.Recorder()),
		store:   s,
		engine:  eng,
		channel: channel,
		clock:   clock,
	}
}

func (ts *testServer) do(method, path, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	ts.srv.Router().ServeHTTP(rec, req)
	return rec
}

const directiveBody = `{
	"mentor_id": "m1",
	"name": "Welcome nudge",
	"scope": {"kind": "all"},
	"trigger": {"event": {"event_type": "checkin_logged"}},
	"action": "encourage",
	"action_params": {"message": "Nice work."},
	"recipients": {"to_client": true},
	"is_active": true
}`

func TestDirectiveCRUD(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(http.MethodPut, "/v1/directives/d1", directiveBody)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = ts.do(http.MethodGet, "/v1/directives/d1", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var got domain.Directive
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, "d1", got.ID)
	assert.Equal(t, "Welcome nudge", got.Name)
	assert.True(t, got.IsActive)

	rec = ts.do(http.MethodGet, "/v1/directives?mentor_id=m1", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var list []domain.Directive
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	assert.Len(t, list, 1)

	rec = ts.do(http.MethodDelete, "/v1/directives/d1", "")
	require.Equal(t, http.StatusNoContent, rec.Code)
	rec = ts.do(http.MethodGet, "/v1/directives/d1", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestPutDirective_ValidationFailure(t *testing.T) {
	ts := newTestServer(t)

	// No trigger variant set.
	body := `{
		"mentor_id": "m1",
		"scope": {"kind": "all"},
		"trigger": {},
		"action": "encourage",
		"recipients": {"to_client": true}
	}`
	rec := ts.do(http.MethodPut, "/v1/directives/d1", body)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "trigger")
}

func TestListDirectives_RequiresMentorID(t *testing.T) {
	ts := newTestServer(t)
	rec := ts.do(http.MethodGet, "/v1/directives", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestActivateDeactivate(t *testing.T) {
	ts := newTestServer(t)
	require.Equal(t, http.StatusOK, ts.do(http.MethodPut, "/v1/directives/d1", directiveBody).Code)

	rec := ts.do(http.MethodPost, "/v1/directives/d1/deactivate", "")
	require.Equal(t, http.StatusNoContent, rec.Code)

	d, err := ts.store.GetDirective(context.Background(), "d1")
	require.NoError(t, err)
	assert.False(t, d.IsActive)

	require.Equal(t, http.StatusNoContent, ts.do(http.MethodPost, "/v1/directives/d1/activate", "").Code)
	d, err = ts.store.GetDirective(context.Background(), "d1")
	require.NoError(t, err)
	assert.True(t, d.IsActive)
}

func TestListFirings_LimitValidation(t *testing.T) {
	ts := newTestServer(t)
	assert.Equal(t, http.StatusBadRequest, ts.do(http.MethodGet, "/v1/directives/d1/firings?limit=0", "").Code)
	assert.Equal(t, http.StatusBadRequest, ts.do(http.MethodGet, "/v1/directives/d1/firings?limit=abc", "").Code)
	assert.Equal(t, http.StatusOK, ts.do(http.MethodGet, "/v1/directives/d1/firings?limit=5", "").Code)
}

func TestPutClient(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(http.MethodPut, "/v1/clients/c1", `{
		"mentor_id": "m1",
		"name": "Jordan",
		"timezone": "America/Chicago",
		"status": "active",
		"goal_targets": {"water_oz": 64}
	}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = ts.do(http.MethodGet, "/v1/clients/c1", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var got domain.Client
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, "America/Chicago", got.Timezone)
	assert.Equal(t, 64.0, got.GoalTargets["water_oz"])

	// mentor_id is mandatory.
	rec = ts.do(http.MethodPut, "/v1/clients/c2", `{"name": "Sam"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	assert.Equal(t, http.StatusNotFound, ts.do(http.MethodGet, "/v1/clients/ghost", "").Code)
}

func TestArchiveGroupDeactivatesScopedDirectives(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(http.MethodPut, "/v1/groups/g1", `{"mentor_id": "m1", "name": "Spring cohort"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	body := strings.Replace(directiveBody, `{"kind": "all"}`, `{"kind": "group", "group_id": "g1"}`, 1)
	require.Equal(t, http.StatusOK, ts.do(http.MethodPut, "/v1/directives/d1", body).Code)

	require.Equal(t, http.StatusNoContent, ts.do(http.MethodPost, "/v1/groups/g1/archive", "").Code)

	d, err := ts.store.GetDirective(context.Background(), "d1")
	require.NoError(t, err)
	assert.False(t, d.IsActive)
}

func TestPostEvent(t *testing.T) {
	ts := newTestServer(t)
	ctx := context.Background()

	require.NoError(t, ts.store.PutClient(ctx, domain.Client{
		ID: "c1", MentorID: "m1", Status: domain.ClientActive,
	}))
	require.Equal(t, http.StatusOK, ts.do(http.MethodPut, "/v1/directives/d1", directiveBody).Code)

	rec := ts.do(http.MethodPost, "/v1/events", `{"id": "e1", "client_id": "c1", "type": "checkin_logged"}`)
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())

	require.NoError(t, ts.engine.Drain(ctx))
	deliveries := ts.channel.Deliveries()
	require.Len(t, deliveries, 1)
	assert.Equal(t, "event:e1", deliveries[0].Payload.TriggeredBy)

	// client_id is mandatory.
	rec = ts.do(http.MethodPost, "/v1/events", `{"type": "checkin_logged"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestPostMetric(t *testing.T) {
	ts := newTestServer(t)
	ctx := context.Background()

	require.NoError(t, ts.store.PutClient(ctx, domain.Client{
		ID: "c1", MentorID: "m1", Status: domain.ClientActive,
	}))

	rec := ts.do(http.MethodPost, "/v1/metrics", `{"id": "s1", "client_id": "c1", "metric_id": "weight_kg", "value": 80}`)
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())

	latest, err := ts.store.LatestSnapshot(ctx, "c1", "weight_kg")
	require.NoError(t, err)
	require.NotNil(t, latest)
	assert.Equal(t, 80.0, latest.Value)

	rec = ts.do(http.MethodPost, "/v1/metrics", `{"client_id": "c1", "value": 80}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestPostFeedback(t *testing.T) {
	ts := newTestServer(t)
	ctx := context.Background()

	require.NoError(t, ts.store.PutClient(ctx, domain.Client{
		ID: "c1", MentorID: "m1", Status: domain.ClientActive,
	}))
	require.Equal(t, http.StatusOK, ts.do(http.MethodPut, "/v1/directives/d1", directiveBody).Code)
	require.Equal(t, http.StatusAccepted,
		ts.do(http.MethodPost, "/v1/events", `{"id": "e1", "client_id": "c1", "type": "checkin_logged"}`).Code)
	require.NoError(t, ts.engine.Drain(ctx))

	firings, err := ts.store.ListFirings(ctx, "d1", 10)
	require.NoError(t, err)
	require.Len(t, firings, 1)

	rec := ts.do(http.MethodPost, "/v1/firings/"+firings[0].ID+"/feedback", `{"signal": 0.8}`)
	require.Equal(t, http.StatusNoContent, rec.Code, rec.Body.String())

	// Out-of-range signals and unknown records are rejected.
	rec = ts.do(http.MethodPost, "/v1/firings/"+firings[0].ID+"/feedback", `{"signal": 1.5}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	rec = ts.do(http.MethodPost, "/v1/firings/ghost/feedback", `{"signal": 0.5}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
