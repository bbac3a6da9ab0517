package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"schooltrack/internal/assignment"
	"schooltrack/internal/auth"
	"schooltrack/internal/ingest"
	"schooltrack/internal/metrics"
	"schooltrack/internal/model"
	"schooltrack/internal/roster"
	"schooltrack/internal/store/memstore"
	"schooltrack/internal/trip"
)

type testServer struct {
	t            *testing.T
	router       *gin.Engine
	store        *memstore.Store
	tripID       uuid.UUID
	checkpointID uuid.UUID
	students     []model.Student
	outsider     model.Student
}

func newTestServer(t *testing.T, maxBatch int) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)
	ctx := context.Background()
	st := memstore.New()

	rs := roster.NewService(st)
	class, err := rs.CreateClass(ctx, "6B", nil)
	require.NoError(t, err)
	ts := &testServer{t: t, store: st}
	for _, n := range [][2]string{{"Inès", "Lambert"}, {"Jules", "Fontaine"}} {
		s, err := rs.CreateStudent(ctx, n[0], n[1], nil)
		require.NoError(t, err)
		ts.students = append(ts.students, s)
	}
	_, err = rs.EnrollStudents(ctx, class.ID, []uuid.UUID{ts.students[0].ID, ts.students[1].ID})
	require.NoError(t, err)
	ts.outsider, err = rs.CreateStudent(ctx, "Paul", "Henry", nil)
	require.NoError(t, err)

	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	as := assignment.NewService(st, zap.NewNop(), m)
	trips := trip.NewService(st, as, zap.NewNop())
	v, err := trips.Create(ctx, trip.CreateInput{
		Destination: "Bordeaux",
		Date:        time.Now().UTC().AddDate(0, 0, 14),
		ClassIDs:    []uuid.UUID{class.ID},
	})
	require.NoError(t, err)
	cp, err := trips.CreateCheckpoint(ctx, v.ID, "Départ bus", nil)
	require.NoError(t, err)
	ts.tripID, ts.checkpointID = v.ID, cp.ID

	ts.router = NewRouter(Deps{
		Assignments: as,
		Sync:        ingest.NewEngine(st, nil, zap.NewNop(), m),
		Trips:       trips,
		Roster:      rs,
		Auth: auth.NewService(st, auth.Options{
			Issuer: "schooltrack-test", SigningKey: "k", AccessTTL: time.Minute, RefreshTTL: time.Hour,
		}, zap.NewNop()),
		SyncLogs: st,
		Health:   map[string]HealthFunc{"store": st.Healthy},
		Metrics:  m,
		Gatherer: reg,
		Log:      zap.NewNop(),
		MaxBatch: maxBatch,
	})
	return ts
}

func (ts *testServer) do(method, path string, body any, header ...string) *httptest.ResponseRecorder {
	ts.t.Helper()
	var rd *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(ts.t, err)
		rd = bytes.NewReader(raw)
	} else {
		rd = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, rd)
	req.Header.Set("Content-Type", "application/json")
	for i := 0; i+1 < len(header); i += 2 {
		req.Header.Set(header[i], header[i+1])
	}
	w := httptest.NewRecorder()
	ts.router.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out), w.Body.String())
	return out
}

func (ts *testServer) assignBody(token string, s model.Student) gin.H {
	return gin.H{
		"token_uid":       token,
		"student_id":      s.ID,
		"trip_id":         ts.tripID,
		"assignment_type": "NFC_PHYSICAL",
	}
}

func TestHealthz(t *testing.T) {
	ts := newTestServer(t, 0)
	w := ts.do(http.MethodGet, "/healthz", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "ok", decode(t, w)["status"])
	assert.Equal(t, "nosniff", w.Header().Get("X-Content-Type-Options"))
}

func TestAssignEndpoint(t *testing.T) {
	ts := newTestServer(t, 0)

	w := ts.do(http.MethodPost, "/api/v1/tokens/assign", ts.assignBody("nfc-01", ts.students[0]))
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	assert.Equal(t, "NFC-01", decode(t, w)["token_uid"])

	w = ts.do(http.MethodPost, "/api/v1/tokens/assign", ts.assignBody("NFC-01", ts.students[1]))
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, string(assignment.CodeTokenAlreadyAssigned), decode(t, w)["code"])

	w = ts.do(http.MethodPost, "/api/v1/tokens/assign", ts.assignBody("NFC-02", ts.students[0]))
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, string(assignment.CodeStudentAlreadyAssigned), decode(t, w)["code"])

	w = ts.do(http.MethodPost, "/api/v1/tokens/assign", ts.assignBody("NFC-03", ts.outsider))
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, string(assignment.CodeNotParticipant), decode(t, w)["code"])

	body := ts.assignBody("  ", ts.students[1])
	body["assignment_type"] = "BARCODE"
	w = ts.do(http.MethodPost, "/api/v1/tokens/assign", body)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	fields, ok := decode(t, w)["fields"].(map[string]any)
	require.True(t, ok)
	assert.Len(t, fields, 2)

	w = ts.do(http.MethodGet, "/api/v1/trips/"+ts.tripID.String()+"/assignments", nil)
	require.Equal(t, http.StatusOK, w.Code)
	st := decode(t, w)
	assert.EqualValues(t, 2, st["total_students"])
	assert.EqualValues(t, 1, st["assigned_students"])
}

func TestReassignEndpoint(t *testing.T) {
	ts := newTestServer(t, 0)
	w := ts.do(http.MethodPost, "/api/v1/tokens/assign", ts.assignBody("NFC-01", ts.students[0]))
	require.Equal(t, http.StatusCreated, w.Code)

	body := ts.assignBody("NFC-09", ts.students[0])
	w = ts.do(http.MethodPost, "/api/v1/tokens/reassign", body)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	body["justification"] = "bracelet perdu"
	w = ts.do(http.MethodPost, "/api/v1/tokens/reassign", body)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	assert.Equal(t, "NFC-09", decode(t, w)["token_uid"])
}

func TestReassignUnknownTrip(t *testing.T) {
	ts := newTestServer(t, 0)
	body := ts.assignBody("NFC-01", ts.students[0])
	body["trip_id"] = uuid.New()
	body["justification"] = "bracelet perdu"
	w := ts.do(http.MethodPost, "/api/v1/tokens/reassign", body)
	assert.Equal(t, http.StatusNotFound, w.Code, w.Body.String())
}

func TestExportEndpoint(t *testing.T) {
	ts := newTestServer(t, 0)
	require.Equal(t, http.StatusCreated,
		ts.do(http.MethodPost, "/api/v1/tokens/assign", ts.assignBody("NFC-01", ts.students[0])).Code)

	w := ts.do(http.MethodGet, "/api/v1/trips/"+ts.tripID.String()+"/assignments/export", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "text/csv; charset=utf-8", w.Header().Get("Content-Type"))
	assert.Equal(t, "attachment; filename=assignations_"+ts.tripID.String()+".csv", w.Header().Get("Content-Disposition"))

	lines := strings.Split(strings.TrimSpace(strings.TrimPrefix(w.Body.String(), "\ufeff")), "\n")
	require.Len(t, lines, 2)
	assert.True(t, strings.HasPrefix(lines[1], "NFC-01;"+ts.students[0].ID.String()+";NFC_PHYSICAL;"))

	w = ts.do(http.MethodGet, "/api/v1/trips/not-a-uuid/assignments/export", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestTripNotFound(t *testing.T) {
	ts := newTestServer(t, 0)
	w := ts.do(http.MethodGet, "/api/v1/trips/"+uuid.NewString(), nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = ts.do(http.MethodGet, "/api/v1/trips/"+uuid.NewString()+"/offline-data", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestCreateTripValidation(t *testing.T) {
	ts := newTestServer(t, 0)
	w := ts.do(http.MethodPost, "/api/v1/trips", gin.H{"destination": "Nantes", "date": "14/03/2030", "class_ids": []string{uuid.NewString()}})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = ts.do(http.MethodPost, "/api/v1/trips", gin.H{"destination": "Nantes", "date": "2001-03-14", "class_ids": []string{uuid.NewString()}})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func (ts *testServer) deviceToken() string {
	ts.t.Helper()
	w := ts.do(http.MethodPost, "/api/v1/devices/register", gin.H{"device_id": "tablet-12"})
	require.Equal(ts.t, http.StatusCreated, w.Code, w.Body.String())
	tok, ok := decode(ts.t, w)["access_token"].(string)
	require.True(ts.t, ok)
	return tok
}

func (ts *testServer) scanBody(ids ...uuid.UUID) gin.H {
	scans := make([]gin.H, 0, len(ids))
	for _, id := range ids {
		scans = append(scans, gin.H{
			"client_uuid":   id,
			"trip_id":       ts.tripID,
			"checkpoint_id": ts.checkpointID,
			"student_id":    ts.students[0].ID,
			"scanned_at":    "2026-05-04T09:30:00Z",
			"scan_method":   "NFC",
		})
	}
	return gin.H{"scans": scans, "device_id": "spoofed"}
}

func TestSyncEndpoint(t *testing.T) {
	ts := newTestServer(t, 0)
	tok := ts.deviceToken()
	u1, u2 := uuid.New(), uuid.New()

	w := ts.do(http.MethodPost, "/api/sync/attendances", ts.scanBody(u1, u2, u1), "Authorization", "Bearer "+tok)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	res := decode(t, w)
	assert.Equal(t, []any{u1.String(), u2.String()}, res["accepted"])
	assert.Equal(t, []any{u1.String()}, res["duplicate"])
	assert.EqualValues(t, 3, res["total_received"])
	assert.EqualValues(t, 2, res["total_inserted"])

	rows, err := ts.store.Attendances(context.Background(), ts.tripID)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, model.ScanNFCPhysical, rows[0].ScanMethod)
	assert.Equal(t, 1, rows[0].ScanSequence)
}

func TestSyncEndpointRequiresDeviceToken(t *testing.T) {
	ts := newTestServer(t, 0)
	w := ts.do(http.MethodPost, "/api/sync/attendances", ts.scanBody(uuid.New()))
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = ts.do(http.MethodPost, "/api/sync/attendances", ts.scanBody(uuid.New()), "Authorization", "Bearer nope")
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestSyncEndpointRejectsOversizeAndBadScans(t *testing.T) {
	ts := newTestServer(t, 2)
	tok := ts.deviceToken()

	w := ts.do(http.MethodPost, "/api/sync/attendances", ts.scanBody(uuid.New(), uuid.New(), uuid.New()), "Authorization", "Bearer "+tok)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	body := ts.scanBody(uuid.New())
	body["scans"].([]gin.H)[0]["scan_method"] = "BLUETOOTH"
	w = ts.do(http.MethodPost, "/api/sync/attendances", body, "Authorization", "Bearer "+tok)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	rows, err := ts.store.Attendances(context.Background(), ts.tripID)
	require.NoError(t, err)
	assert.Empty(t, rows)
}

func TestSyncEndpointRetryable(t *testing.T) {
	ts := newTestServer(t, 0)
	tok := ts.deviceToken()

	ts.store.FailCommits(assert.AnError)
	w := ts.do(http.MethodPost, "/api/sync/attendances", ts.scanBody(uuid.New()), "Authorization", "Bearer "+tok)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Equal(t, "5", w.Header().Get("Retry-After"))
	assert.Equal(t, true, decode(t, w)["retryable"])
}

func TestSyncEndpointUnknownReference(t *testing.T) {
	ts := newTestServer(t, 0)
	tok := ts.deviceToken()

	body := ts.scanBody(uuid.New(), uuid.New())
	body["scans"].([]gin.H)[1]["checkpoint_id"] = uuid.New()
	w := ts.do(http.MethodPost, "/api/sync/attendances", body, "Authorization", "Bearer "+tok)
	assert.Equal(t, http.StatusBadRequest, w.Code, w.Body.String())
	assert.Empty(t, w.Header().Get("Retry-After"))

	rows, err := ts.store.Attendances(context.Background(), ts.tripID)
	require.NoError(t, err)
	assert.Empty(t, rows)
}

func TestMetricsEndpoint(t *testing.T) {
	ts := newTestServer(t, 0)
	ts.do(http.MethodGet, "/api/v1/trips", nil)
	w := ts.do(http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "schooltrack_http_requests_total")
}

func TestRosterEndpoints(t *testing.T) {
	ts := newTestServer(t, 0)
	w := ts.do(http.MethodPost, "/api/v1/classes", gin.H{"name": "6B"})
	assert.Equal(t, http.StatusConflict, w.Code)

	w = ts.do(http.MethodPost, "/api/v1/students", gin.H{"first_name": "Zoé", "last_name": "Perrin", "email": "not-an-email"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = ts.do(http.MethodPost, "/api/v1/students", gin.H{"first_name": "Zoé", "last_name": "Perrin"})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	id, _ := decode(t, w)["id"].(string)

	w = ts.do(http.MethodGet, "/api/v1/students/"+id, nil)
	assert.Equal(t, http.StatusOK, w.Code)
	w = ts.do(http.MethodGet, "/api/v1/students/"+uuid.NewString(), nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}
