package http

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ghostbus/internal/auth"
	"ghostbus/internal/config"
	"ghostbus/internal/detect"
	"ghostbus/internal/domain"
	"ghostbus/internal/fanout"
	"ghostbus/internal/gtfs"
	"ghostbus/internal/ingest"
	"ghostbus/internal/pipeline"
	"ghostbus/internal/state"
)

const (
	testAPIKey   = "test-key"
	testBoundKey = "b5-key"
)

func newTestServer(t *testing.T) (*httptest.Server, *ingest.Service) {
	t.Helper()
	log := logrus.New()
	log.SetOutput(io.Discard)

	store := state.NewStore(detect.NewDetector(detect.DefaultThresholds()), 60)
	fan := fanout.NewManager(store.All, 64, log)
	t.Cleanup(fan.Close)

	svc := ingest.NewService(store, fan, pipeline.NewDispatcher(64, 64), log)

	cfg := &config.Config{
		ValidAPIKeys:        []string{testAPIKey},
		VehicleAPIKeys:      map[string]string{testBoundKey: "B5"},
		AuthCacheTTLSeconds: 300,
	}
	authenticator := auth.NewAuthenticator(cfg, nil)

	server := NewServer(svc, fan, gtfs.NewLoader("", log), NewAuthMiddleware(authenticator), log)
	ts := httptest.NewServer(server.Routes())
	t.Cleanup(ts.Close)
	return ts, svc
}

func submitBus(t *testing.T, svc *ingest.Service, id string, ts float64) {
	t.Helper()
	_, err := svc.Submit(context.Background(), &domain.PositionReport{
		ID: id, Latitude: 39.7, Longitude: -104.99, RouteID: "R1", Timestamp: ts,
	})
	require.NoError(t, err)
}

func TestHealthEndpoint(t *testing.T) {
	ts, _ := newTestServer(t)

	resp, err := http.Get(ts.URL + "/")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var body map[string]string
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "healthy", body["status"])
}

func TestGetAllBuses(t *testing.T) {
	ts, svc := newTestServer(t)
	now := float64(time.Now().Unix())
	submitBus(t, svc, "B1", now)
	submitBus(t, svc, "B2", now)

	resp, err := http.Get(ts.URL + "/buses")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body struct {
		Buses []domain.VehicleStatus `json:"buses"`
		Total int                    `json:"total"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, 2, body.Total)
	assert.Len(t, body.Buses, 2)
}

func TestGetBus(t *testing.T) {
	ts, svc := newTestServer(t)
	submitBus(t, svc, "B1", float64(time.Now().Unix()))

	resp, err := http.Get(ts.URL + "/buses/B1")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var status domain.VehicleStatus
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&status))
	assert.Equal(t, "B1", status.ID)
	assert.Equal(t, domain.StatusActive, status.Status)
}

func TestGetBusStats(t *testing.T) {
	ts, svc := newTestServer(t)
	now := float64(time.Now().Unix())
	submitBus(t, svc, "B1", now-10)
	submitBus(t, svc, "B1", now)

	resp, err := http.Get(ts.URL + "/buses/B1/stats")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var stats state.VehicleStats
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&stats))
	assert.Equal(t, "B1", stats.VehicleID)
	assert.Equal(t, 2, stats.SampleCount)

	resp, err = http.Get(ts.URL + "/buses/UNKNOWN/stats")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestGetBus_NotFound(t *testing.T) {
	ts, _ := newTestServer(t)

	resp, err := http.Get(ts.URL + "/buses/UNKNOWN")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestUpdateBus_RequiresAPIKey(t *testing.T) {
	ts, _ := newTestServer(t)
	body := `{"id":"B1","lat":39.7,"lon":-104.99,"route_id":"R1","timestamp":1000}`

	// No key at all.
	resp, err := http.Post(ts.URL+"/buses/B1/update", "application/json", strings.NewReader(body))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	// Wrong key.
	req, _ := http.NewRequest(http.MethodPost, ts.URL+"/buses/B1/update", strings.NewReader(body))
	req.Header.Set("X-API-Key", "wrong")
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestUpdateBus(t *testing.T) {
	ts, svc := newTestServer(t)

	now := float64(time.Now().Unix())
	payload, _ := json.Marshal(domain.PositionReport{
		Latitude: 39.7, Longitude: -104.99, RouteID: "R1", Timestamp: now,
	})

	// The path id fills in the missing body id.
	req, _ := http.NewRequest(http.MethodPost, ts.URL+"/buses/B9/update", bytes.NewReader(payload))
	req.Header.Set("X-API-Key", testAPIKey)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	status, err := svc.Get("B9")
	require.NoError(t, err)
	assert.Equal(t, "B9", status.ID)
}

func TestUpdateBus_VehicleBoundKey(t *testing.T) {
	ts, svc := newTestServer(t)

	now := float64(time.Now().Unix())
	payload, _ := json.Marshal(domain.PositionReport{
		Latitude: 39.7, Longitude: -104.99, RouteID: "R1", Timestamp: now,
	})

	// A per-vehicle key cannot report for another vehicle.
	req, _ := http.NewRequest(http.MethodPost, ts.URL+"/buses/B1/update", bytes.NewReader(payload))
	req.Header.Set("X-API-Key", testBoundKey)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	_, err = svc.Get("B1")
	assert.ErrorIs(t, err, domain.ErrNotFound, "rejected report never enters state")

	// It works for its own vehicle.
	req, _ = http.NewRequest(http.MethodPost, ts.URL+"/buses/B5/update", bytes.NewReader(payload))
	req.Header.Set("X-API-Key", testBoundKey)
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	status, err := svc.Get("B5")
	require.NoError(t, err)
	assert.Equal(t, "B5", status.ID)
}

func TestUpdateBus_ValidationFailure(t *testing.T) {
	ts, _ := newTestServer(t)

	req, _ := http.NewRequest(http.MethodPost, ts.URL+"/buses/B1/update",
		strings.NewReader(`{"id":"B1","lat":999,"lon":-104.99,"route_id":"R1"}`))
	req.Header.Set("X-API-Key", testAPIKey)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
}

func TestUpdateBus_MalformedBody(t *testing.T) {
	ts, _ := newTestServer(t)

	req, _ := http.NewRequest(http.MethodPost, ts.URL+"/buses/B1/update", strings.NewReader("{not json"))
	req.Header.Set("X-API-Key", testAPIKey)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestWebSocket_SnapshotThenUpdates(t *testing.T) {
	ts, svc := newTestServer(t)
	now := float64(time.Now().Unix())
	submitBus(t, svc, "B1", now)

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
	conn, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	if resp != nil {
		resp.Body.Close()
	}
	defer conn.Close()

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var snapshot struct {
		Type string                 `json:"type"`
		Data []domain.VehicleStatus `json:"data"`
	}
	require.NoError(t, conn.ReadJSON(&snapshot))
	assert.Equal(t, fanout.MessageSnapshot, snapshot.Type)
	require.Len(t, snapshot.Data, 1)
	assert.Equal(t, "B1", snapshot.Data[0].ID)

	submitBus(t, svc, "B2", now)

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var update struct {
		Type string               `json:"type"`
		Data domain.VehicleStatus `json:"data"`
	}
	require.NoError(t, conn.ReadJSON(&update))
	assert.Equal(t, fanout.MessageBusUpdate, update.Type)
	assert.Equal(t, "B2", update.Data.ID)
}
