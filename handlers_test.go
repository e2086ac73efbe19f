package main

import (
	"bytes"
	"context"
	"encoding/base64"
	"image"
	"image/color"
	"image/png"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/Tutortoise/yolo-overlay-service/capture"
	"github.com/Tutortoise/yolo-overlay-service/detections"
	"github.com/Tutortoise/yolo-overlay-service/metrics"
	"github.com/Tutortoise/yolo-overlay-service/models"
	"github.com/Tutortoise/yolo-overlay-service/overlay"
	"github.com/Tutortoise/yolo-overlay-service/pipeline"
)

type fakeProcessor struct {
	settings pipeline.Settings
	snapshot *models.Snapshot
	err      error
	seen     image.Rectangle
}

func (p *fakeProcessor) Process(_ context.Context, img image.Image) (*models.Snapshot, error) {
	p.seen = img.Bounds()
	return p.snapshot, p.err
}

func (p *fakeProcessor) Settings() pipeline.Settings { return p.settings }

func (p *fakeProcessor) UpdateSettings(s pipeline.Settings) error {
	if err := s.Validate(); err != nil {
		return err
	}
	p.settings = s
	return nil
}

func (p *fakeProcessor) State() pipeline.State { return pipeline.StateIdle }

func testSnapshot() *models.Snapshot {
	dets := []models.Detection{{ClassID: 0, Confidence: 0.95, X: 32, Y: 32, Width: 20, Height: 30}}
	res := overlay.Render(64, 64, dets, overlay.DefaultOptions())
	return &models.Snapshot{
		CycleID:    "cycle-1",
		CapturedAt: time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
		Width:      64,
		Height:     64,
		Detections: res.Detections,
		Report:     res.Report,
		Overlay:    res.Overlay,
	}
}

func newTestState(t *testing.T) (*AppState, *fakeProcessor) {
	t.Helper()
	proc := &fakeProcessor{settings: pipeline.DefaultSettings(), snapshot: testSnapshot()}
	mailbox := capture.NewMailbox()
	t.Cleanup(mailbox.Close)
	return &AppState{
		Driver:  proc,
		Store:   &snapshotStore{},
		Mailbox: mailbox,
		Metrics: metrics.New(),
		Labels:  detections.CocoLabels,
		Logger:  zap.NewNop().Sugar(),
	}, proc
}

func pngBytes(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	img.SetNRGBA(0, 0, color.NRGBA{R: 10, G: 20, B: 30, A: 255})
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func serve(s *AppState, req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	s.routes().ServeHTTP(rec, req)
	return rec
}

func TestOverlayBeforeFirstCycle(t *testing.T) {
	s, _ := newTestState(t)

	for _, path := range []string{"/overlay.png", "/report", "/detections"} {
		rec := serve(s, httptest.NewRequest(http.MethodGet, path, nil))
		assert.Equal(t, http.StatusNotFound, rec.Code, path)

		var resp ErrorResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		assert.Equal(t, "no_overlay", resp.Code)
	}
}

func TestOverlayAfterPublish(t *testing.T) {
	s, _ := newTestState(t)
	s.Store.Publish(testSnapshot())

	rec := serve(s, httptest.NewRequest(http.MethodGet, "/overlay.png", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "image/png", rec.Header().Get("Content-Type"))
	assert.Equal(t, "cycle-1", rec.Header().Get("X-Cycle-ID"))

	img, err := png.Decode(rec.Body)
	require.NoError(t, err)
	assert.Equal(t, image.Rect(0, 0, 64, 64), img.Bounds())
	_, _, _, a := img.At(0, 0).RGBA()
	assert.Zero(t, a)
}

func TestReportAndDetections(t *testing.T) {
	s, _ := newTestState(t)
	s.Store.Publish(testSnapshot())

	rec := serve(s, httptest.NewRequest(http.MethodGet, "/report", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "Detected Objects:\nperson: 0.95 - Pos: (32.00, 32.00), Size: 20.00x30.00\n", rec.Body.String())

	rec = serve(s, httptest.NewRequest(http.MethodGet, "/detections", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var resp DetectionsResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "cycle-1", resp.CycleID)
	assert.Equal(t, 1, resp.Count)
	require.Len(t, resp.Detections, 1)
	assert.Equal(t, "person", resp.Detections[0].Label)
	assert.InDelta(t, 0.95, resp.Detections[0].Confidence, 1e-6)
}

func TestPushFrame(t *testing.T) {
	s, _ := newTestState(t)
	body := pngBytes(t, 8, 6)

	req := httptest.NewRequest(http.MethodPost, "/frames", bytes.NewReader(body))
	req.Header.Set("Content-Type", "image/png")
	rec := serve(s, req)
	require.Equal(t, http.StatusAccepted, rec.Code)
	assert.Contains(t, rec.Body.String(), `"replaced":false`)

	req = httptest.NewRequest(http.MethodPost, "/frames", bytes.NewReader(body))
	rec = serve(s, req)
	require.Equal(t, http.StatusAccepted, rec.Code)
	assert.Contains(t, rec.Body.String(), `"replaced":true`)
	assert.EqualValues(t, 1, s.Mailbox.Dropped())

	img, _, err := s.Mailbox.Next(context.Background())
	require.NoError(t, err)
	assert.Equal(t, image.Rect(0, 0, 8, 6), img.Bounds())
}

func TestPushFrameWithFileSource(t *testing.T) {
	s, _ := newTestState(t)
	s.Mailbox = nil

	rec := serve(s, httptest.NewRequest(http.MethodPost, "/frames", bytes.NewReader(pngBytes(t, 2, 2))))
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestPushFrameRejectsGarbage(t *testing.T) {
	s, _ := newTestState(t)
	rec := serve(s, httptest.NewRequest(http.MethodPost, "/frames", strings.NewReader("definitely not an image")))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestDetectJSONAndMultipart(t *testing.T) {
	s, proc := newTestState(t)
	encoded := base64.StdEncoding.EncodeToString(pngBytes(t, 12, 10))

	req := httptest.NewRequest(http.MethodPost, "/detect", strings.NewReader(`{"image":"`+encoded+`"}`))
	req.Header.Set("Content-Type", "application/json; charset=utf-8")
	rec := serve(s, req)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, image.Rect(0, 0, 12, 10), proc.seen)

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	part, err := mw.CreateFormFile("file", "frame.png")
	require.NoError(t, err)
	_, err = part.Write(pngBytes(t, 5, 7))
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	req = httptest.NewRequest(http.MethodPost, "/detect", &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	rec = serve(s, req)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, image.Rect(0, 0, 5, 7), proc.seen)

	// Detect does not publish.
	assert.Nil(t, s.Store.Latest())
}

func TestDetectErrorStatus(t *testing.T) {
	s, proc := newTestState(t)

	proc.err = detections.InferenceUnavailable(context.DeadlineExceeded)
	rec := serve(s, httptest.NewRequest(http.MethodPost, "/detect", bytes.NewReader(pngBytes(t, 2, 2))))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), "inference_unavailable")

	proc.err = detections.ErrInvalidModelOutput
	rec = serve(s, httptest.NewRequest(http.MethodPost, "/detect", bytes.NewReader(pngBytes(t, 2, 2))))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Contains(t, rec.Body.String(), "invalid_model_output")
}

func TestSettingsRoundTrip(t *testing.T) {
	s, proc := newTestState(t)

	rec := serve(s, httptest.NewRequest(http.MethodGet, "/settings", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"target_label":"person"`)

	rec = serve(s, httptest.NewRequest(http.MethodPut, "/settings", strings.NewReader(`{"target_label":"dog","line_thickness":3}`)))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "dog", proc.settings.TargetLabel)
	assert.Equal(t, 3, proc.settings.LineThickness)
	assert.Equal(t, "#ff0000", proc.settings.BoxColor)

	rec = serve(s, httptest.NewRequest(http.MethodPut, "/settings", strings.NewReader(`{"iou_threshold":3}`)))
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Equal(t, float32(0.5), proc.settings.IOUThreshold)

	rec = serve(s, httptest.NewRequest(http.MethodPut, "/settings", strings.NewReader(`{`)))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHealthAndMetrics(t *testing.T) {
	s, _ := newTestState(t)
	s.Store.Publish(testSnapshot())
	s.Metrics.ObserveCycle(testSnapshot())

	rec := serve(s, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var health map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &health))
	assert.Equal(t, "idle", health["state"])
	assert.EqualValues(t, 1, health["published"])
	assert.Equal(t, "cycle-1", health["last_cycle_id"])

	rec = serve(s, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `overlay_cycles_total{outcome="ok"} 1`)
	assert.Contains(t, rec.Body.String(), "overlay_last_detections 1")
}
