package server

import (
	"context"
	"encoding/json"
	"errors"
	"image"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pokerassist/internal/cards"
	"pokerassist/internal/history"
	"pokerassist/internal/models"
	processing "pokerassist/processing/detector"
)

type fakeSession struct {
	table   *cards.Table
	dets    []models.Detection
	err     error
	preview *image.RGBA
}

func (f *fakeSession) Capture() (*models.InferenceResponse, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.table.ReplaceHand(f.dets)
	return &models.InferenceResponse{Success: true, Detections: f.dets, Count: len(f.dets)}, nil
}

func (f *fakeSession) Status() processing.Status {
	return processing.Status{Active: true, FPS: 20, Cadence: 2}
}

func (f *fakeSession) Preview() *image.RGBA {
	return f.preview
}

type fakeHistory struct {
	captures []history.Capture
	err      error
	limit    int
}

func (f *fakeHistory) Recent(_ context.Context, limit int) ([]history.Capture, error) {
	f.limit = limit
	return f.captures, f.err
}

func det(label string, y float64) models.Detection {
	return models.Detection{Label: label, Confidence: 0.9, BBox: models.BBox{Y1: y}}
}

func newTestServer(t *testing.T, sess *fakeSession, hist HistoryReader) (*Server, *httptest.Server) {
	t.Helper()

	if sess.table == nil {
		sess.table = cards.NewTable(2)
	}
	s := New(sess, sess.table, hist)
	ts := httptest.NewServer(s.Handler())
	t.Cleanup(ts.Close)
	return s, ts
}

func decode(t *testing.T, resp *http.Response, v interface{}) {
	t.Helper()
	defer resp.Body.Close()
	require.NoError(t, json.NewDecoder(resp.Body).Decode(v))
}

func TestCaptureReturnsTable(t *testing.T) {
	sess := &fakeSession{dets: []models.Detection{det("AS", 0.8), det("KH", 0.9)}}
	_, ts := newTestServer(t, sess, nil)

	resp, err := http.Post(ts.URL+"/capture", "", nil)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var snap cards.Snapshot
	decode(t, resp, &snap)
	require.Len(t, snap.Hand, 2)
	assert.Equal(t, "AS", snap.Hand[0].String())
}

func TestCaptureErrorStatus(t *testing.T) {
	tests := []struct {
		err    error
		status int
		code   string
	}{
		{processing.ErrNoFrame, http.StatusServiceUnavailable, "no_frame"},
		{processing.ErrCaptureInProgress, http.StatusConflict, "capture_in_progress"},
		{processing.ErrTimeout, http.StatusGatewayTimeout, "inference_timeout"},
		{&processing.ServerError{StatusCode: 500, Body: "boom"}, http.StatusBadGateway, "inference_server_error"},
		{processing.ErrDecoding, http.StatusBadGateway, "inference_decoding_error"},
		{errors.New("connection refused"), http.StatusBadGateway, "inference_failed"},
	}

	for _, tt := range tests {
		t.Run(tt.code, func(t *testing.T) {
			_, ts := newTestServer(t, &fakeSession{err: tt.err}, nil)

			resp, err := http.Post(ts.URL+"/capture", "", nil)
			require.NoError(t, err)
			assert.Equal(t, tt.status, resp.StatusCode)

			var body ErrorResponse
			decode(t, resp, &body)
			assert.Equal(t, tt.code, body.Code)
		})
	}
}

func TestTableRoutes(t *testing.T) {
	sess := &fakeSession{table: cards.NewTable(2)}
	sess.table.MergeBoard([]models.Detection{det("2C", 0.1), det("3D", 0.2)})
	_, ts := newTestServer(t, sess, nil)

	resp, err := http.Get(ts.URL + "/table")
	require.NoError(t, err)
	var snap cards.Snapshot
	decode(t, resp, &snap)
	assert.Len(t, snap.Board, 2)

	req, _ := http.NewRequest(http.MethodPut, ts.URL+"/table/players", strings.NewReader(`{"players":6}`))
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	decode(t, resp, &snap)
	assert.Equal(t, 6, snap.Players)

	req, _ = http.NewRequest(http.MethodPut, ts.URL+"/table/players", strings.NewReader(`{"players":0}`))
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, err = http.Post(ts.URL+"/table/reset", "", nil)
	require.NoError(t, err)
	decode(t, resp, &snap)
	assert.Empty(t, snap.Board)
	assert.Equal(t, 6, snap.Players)
}

func TestStatusAndMetrics(t *testing.T) {
	_, ts := newTestServer(t, &fakeSession{}, nil)

	resp, err := http.Get(ts.URL + "/status")
	require.NoError(t, err)
	var st processing.Status
	decode(t, resp, &st)
	assert.True(t, st.Active)
	assert.Equal(t, uint(2), st.Cadence)

	resp, err = http.Get(ts.URL + "/metrics")
	require.NoError(t, err)
	var m map[string]interface{}
	decode(t, resp, &m)
	assert.Contains(t, m, "scheduler")
	assert.Equal(t, 0.0, m["ws_clients"])
}

func TestHistory(t *testing.T) {
	_, ts := newTestServer(t, &fakeSession{}, nil)
	resp, err := http.Get(ts.URL + "/history")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	hist := &fakeHistory{captures: []history.Capture{{ID: "a", Players: 3}}}
	_, ts = newTestServer(t, &fakeSession{}, hist)

	resp, err = http.Get(ts.URL + "/history?limit=5")
	require.NoError(t, err)
	var got []history.Capture
	decode(t, resp, &got)
	require.Len(t, got, 1)
	assert.Equal(t, "a", got[0].ID)
	assert.Equal(t, 5, hist.limit)

	resp, err = http.Get(ts.URL + "/history?limit=x")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestPreview(t *testing.T) {
	sess := &fakeSession{}
	_, ts := newTestServer(t, sess, nil)

	resp, err := http.Get(ts.URL + "/preview.jpg")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)

	sess.preview = image.NewRGBA(image.Rect(0, 0, 16, 16))
	resp, err = http.Get(ts.URL + "/preview.jpg")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "image/jpeg", resp.Header.Get("Content-Type"))

	_, format, err := image.DecodeConfig(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, "jpeg", format)
}

func TestWebsocketPushesTable(t *testing.T) {
	sess := &fakeSession{table: cards.NewTable(2)}
	s, ts := newTestServer(t, sess, nil)

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))

	var snap cards.Snapshot
	require.NoError(t, conn.ReadJSON(&snap))
	assert.Empty(t, snap.Board)

	require.Eventually(t, func() bool { return s.Hub().Len() == 1 }, time.Second, 10*time.Millisecond)

	sess.table.MergeBoard([]models.Detection{det("QS", 0.3)})

	require.NoError(t, conn.ReadJSON(&snap))
	require.Len(t, snap.Board, 1)
	assert.Equal(t, "QS", snap.Board[0].String())

	conn.Close()
	assert.Eventually(t, func() bool { return s.Hub().Len() == 0 }, 2*time.Second, 10*time.Millisecond)
}

func TestWebsocketRejectsCrossOrigin(t *testing.T) {
	s, ts := newTestServer(t, &fakeSession{}, nil)
	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"

	_, resp, err := websocket.DefaultDialer.Dial(url, http.Header{"Origin": {"http://evil.example"}})
	require.ErrorIs(t, err, websocket.ErrBadHandshake)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	assert.Equal(t, 0, s.Hub().Len())

	conn, _, err := websocket.DefaultDialer.Dial(url, http.Header{"Origin": {ts.URL}})
	require.NoError(t, err)
	conn.Close()
}
