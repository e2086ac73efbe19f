package main

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"image"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/disintegration/imaging"
	"github.com/gorilla/mux"
	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/Tutortoise/yolo-overlay-service/capture"
	"github.com/Tutortoise/yolo-overlay-service/detections"
	"github.com/Tutortoise/yolo-overlay-service/metrics"
	"github.com/Tutortoise/yolo-overlay-service/models"
	"github.com/Tutortoise/yolo-overlay-service/overlay"
	"github.com/Tutortoise/yolo-overlay-service/pipeline"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

const maxUploadSize = 10 << 20

// processor is the part of pipeline.Driver the handlers use.
type processor interface {
	Process(ctx context.Context, img image.Image) (*models.Snapshot, error)
	Settings() pipeline.Settings
	UpdateSettings(s pipeline.Settings) error
	State() pipeline.State
}

type AppState struct {
	Driver  processor
	Store   *snapshotStore
	Mailbox *capture.Mailbox
	Pool    *ModelSessionPool
	Metrics *metrics.Metrics
	Labels  []string
	Logger  *zap.SugaredLogger
}

type DetectionView struct {
	Label      string  `json:"label"`
	ClassID    int     `json:"class_id"`
	Confidence float32 `json:"confidence"`
	X          float32 `json:"x"`
	Y          float32 `json:"y"`
	Width      float32 `json:"width"`
	Height     float32 `json:"height"`
}

type DetectionsResponse struct {
	CycleID    string          `json:"cycle_id"`
	CapturedAt time.Time       `json:"captured_at"`
	Width      int             `json:"width"`
	Height     int             `json:"height"`
	Count      int             `json:"count"`
	Detections []DetectionView `json:"detections"`
	Report     string          `json:"report"`
}

type ErrorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details string `json:"details,omitempty"`
}

func (s *AppState) routes() *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/overlay.png", s.handleOverlay).Methods("GET")
	r.HandleFunc("/report", s.handleReport).Methods("GET")
	r.HandleFunc("/detections", s.handleDetections).Methods("GET")
	r.HandleFunc("/frames", s.handlePushFrame).Methods("POST")
	r.HandleFunc("/detect", s.handleDetect).Methods("POST")
	r.HandleFunc("/settings", s.handleGetSettings).Methods("GET")
	r.HandleFunc("/settings", s.handlePutSettings).Methods("PUT")
	s.addMonitoringRoutes(r)
	return r
}

func (s *AppState) addMonitoringRoutes(r *mux.Router) {
	r.HandleFunc("/healthz", s.handleHealth).Methods("GET")
	if s.Metrics != nil {
		r.Handle("/metrics", s.Metrics.Handler()).Methods("GET")
	}
}

func (s *AppState) handleOverlay(w http.ResponseWriter, _ *http.Request) {
	snapshot := s.Store.Latest()
	if snapshot == nil || snapshot.Overlay == nil {
		sendErrorResponse(w, "no_overlay", MsgNoOverlay, http.StatusNotFound)
		return
	}

	var buf bytes.Buffer
	if err := overlay.EncodePNG(&buf, snapshot.Overlay); err != nil {
		sendErrorResponse(w, "encode_error", err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Cache-Control", "no-store")
	w.Header().Set("X-Cycle-ID", snapshot.CycleID)
	w.Write(buf.Bytes())
}

func (s *AppState) handleReport(w http.ResponseWriter, _ *http.Request) {
	snapshot := s.Store.Latest()
	if snapshot == nil {
		sendErrorResponse(w, "no_overlay", MsgNoOverlay, http.StatusNotFound)
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Header().Set("X-Cycle-ID", snapshot.CycleID)
	io.WriteString(w, snapshot.Report)
}

func (s *AppState) handleDetections(w http.ResponseWriter, _ *http.Request) {
	snapshot := s.Store.Latest()
	if snapshot == nil {
		sendErrorResponse(w, "no_overlay", MsgNoOverlay, http.StatusNotFound)
		return
	}
	sendJSON(w, http.StatusOK, s.detectionsResponse(snapshot))
}

func (s *AppState) handlePushFrame(w http.ResponseWriter, r *http.Request) {
	if s.Mailbox == nil {
		sendErrorResponse(w, "file_source", MsgFileSource, http.StatusConflict)
		return
	}

	img, err := readImage(r)
	if err != nil {
		sendErrorResponse(w, "invalid_image", "Failed to decode image", http.StatusBadRequest)
		return
	}

	replaced, err := s.Mailbox.Push(img)
	if err != nil {
		sendErrorResponse(w, "source_closed", err.Error(), http.StatusServiceUnavailable)
		return
	}
	msg := MsgFrameAccepted
	if replaced {
		msg = MsgFrameReplaced
	}
	sendJSON(w, http.StatusAccepted, map[string]interface{}{
		"replaced": replaced,
		"message":  msg,
	})
}

func (s *AppState) handleDetect(w http.ResponseWriter, r *http.Request) {
	img, err := readImage(r)
	if err != nil {
		sendErrorResponse(w, "invalid_image", "Failed to decode image", http.StatusBadRequest)
		return
	}

	snapshot, err := s.Driver.Process(r.Context(), img)
	if err != nil {
		status := http.StatusInternalServerError
		code := "processing_error"
		switch detections.KindOf(err) {
		case detections.KindInferenceUnavailable:
			status, code = http.StatusServiceUnavailable, "inference_unavailable"
		case detections.KindShapeMismatch, detections.KindInvalidModelOutput:
			code = detections.KindOf(err).String()
		}
		s.Logger.Warnw("one-shot detection failed", "error", err)
		sendErrorResponse(w, code, err.Error(), status)
		return
	}

	s.Logger.Debugw("one-shot detection",
		"cycle_id", snapshot.CycleID,
		"detections", len(snapshot.Detections),
		"total", snapshot.Timings.Total)
	sendJSON(w, http.StatusOK, s.detectionsResponse(snapshot))
}

func (s *AppState) handleGetSettings(w http.ResponseWriter, _ *http.Request) {
	sendJSON(w, http.StatusOK, s.Driver.Settings())
}

func (s *AppState) handlePutSettings(w http.ResponseWriter, r *http.Request) {
	settings := s.Driver.Settings()
	if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(&settings); err != nil {
		sendErrorResponse(w, "invalid_request", err.Error(), http.StatusBadRequest)
		return
	}
	if err := s.Driver.UpdateSettings(settings); err != nil {
		sendErrorResponse(w, "invalid_settings", err.Error(), http.StatusUnprocessableEntity)
		return
	}
	sendJSON(w, http.StatusOK, settings)
}

func (s *AppState) handleHealth(w http.ResponseWriter, _ *http.Request) {
	response := map[string]interface{}{
		"state":     s.Driver.State().String(),
		"published": s.Store.Published(),
	}
	if snapshot := s.Store.Latest(); snapshot != nil {
		response["last_cycle_id"] = snapshot.CycleID
		response["last_cycle_at"] = snapshot.CapturedAt
	}
	if s.Pool != nil {
		response["pool"] = s.Pool.GetMetrics()
	}
	if s.Mailbox != nil {
		response["frames_dropped"] = s.Mailbox.Dropped()
	}
	sendJSON(w, http.StatusOK, response)
}

func (s *AppState) detectionsResponse(snapshot *models.Snapshot) DetectionsResponse {
	views := make([]DetectionView, len(snapshot.Detections))
	for i, d := range snapshot.Detections {
		views[i] = DetectionView{
			Label:      detections.LabelFor(s.Labels, d.ClassID),
			ClassID:    d.ClassID,
			Confidence: d.Confidence,
			X:          d.X,
			Y:          d.Y,
			Width:      d.Width,
			Height:     d.Height,
		}
	}
	return DetectionsResponse{
		CycleID:    snapshot.CycleID,
		CapturedAt: snapshot.CapturedAt,
		Width:      snapshot.Width,
		Height:     snapshot.Height,
		Count:      len(views),
		Detections: views,
		Report:     snapshot.Report,
	}
}

// readImage accepts a JSON body with a base64 "image" field, a multipart
// form with a "file" part, or the raw encoded image.
func readImage(r *http.Request) (image.Image, error) {
	contentType := r.Header.Get("Content-Type")

	var imgBytes []byte
	var err error

	switch {
	case strings.HasPrefix(contentType, "application/json"):
		imgBytes, err = handleJSONRequest(r)
	case strings.HasPrefix(contentType, "multipart/form-data"):
		imgBytes, err = handleMultipartRequest(r)
	default:
		imgBytes, err = handleRawRequest(r)
	}
	if err != nil {
		return nil, err
	}
	if len(imgBytes) == 0 {
		return nil, errors.New("empty image")
	}
	return decodeImage(imgBytes)
}

func handleJSONRequest(r *http.Request) ([]byte, error) {
	var req struct {
		Image string `json:"image"`
	}
	if err := json.NewDecoder(io.LimitReader(r.Body, maxUploadSize*2)).Decode(&req); err != nil {
		return nil, err
	}
	return base64.StdEncoding.DecodeString(req.Image)
}

func handleMultipartRequest(r *http.Request) ([]byte, error) {
	if err := r.ParseMultipartForm(maxUploadSize); err != nil {
		return nil, err
	}

	file, _, err := r.FormFile("file")
	if err != nil {
		return nil, err
	}
	defer file.Close()

	return io.ReadAll(file)
}

func handleRawRequest(r *http.Request) ([]byte, error) {
	return io.ReadAll(io.LimitReader(r.Body, maxUploadSize))
}

func decodeImage(data []byte) (image.Image, error) {
	return imaging.Decode(bytes.NewReader(data), imaging.AutoOrientation(true))
}

func sendJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func sendErrorResponse(w http.ResponseWriter, code, message string, status int) {
	sendJSON(w, status, ErrorResponse{
		Code:    code,
		Message: message,
	})
}
