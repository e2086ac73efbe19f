// Package config loads service configuration from the environment, with an
// optional .env file underneath.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"runtime"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/spf13/cast"

	"github.com/Tutortoise/yolo-overlay-service/overlay"
)

type Config struct {
	ModelPath  string `validate:"required"`
	OrtLibDir  string `validate:"required"`
	LabelsPath string
	SourcePath string
	ListenAddr string `validate:"required,hostname_port"`
	PoolSize   int    `validate:"gte=1,lte=64"`

	ConfidenceThreshold float32 `validate:"gte=0,lte=1"`
	IOUThreshold        float32 `validate:"gte=0,lte=1"`
	ClassAwareNMS       bool
	TargetLabel         string
	BoxColor            string `validate:"required,hexcolor"`
	LineThickness       int    `validate:"gte=1,lte=64"`
	MaxDetections       int    `validate:"gte=1"`
	Captions            bool

	CycleInterval    time.Duration `validate:"gte=0"`
	InferenceTimeout time.Duration `validate:"gt=0"`
	DecodeWorkers    int           `validate:"gte=1"`

	LogLevel string `validate:"omitempty,oneof=debug info warn error"`
	LogFile  string
	Debug    bool
}

func Default() Config {
	return Config{
		ModelPath:           "../models/yolov8n.onnx",
		OrtLibDir:           "lib",
		ListenAddr:          "127.0.0.1:8080",
		PoolSize:            4,
		ConfidenceThreshold: 0.5,
		IOUThreshold:        0.5,
		TargetLabel:         overlay.DefaultTargetLabel,
		BoxColor:            "#ff0000",
		LineThickness:       overlay.DefaultThickness,
		MaxDetections:       overlay.DefaultMaxDetections,
		CycleInterval:       3 * time.Second,
		InferenceTimeout:    5 * time.Second,
		DecodeWorkers:       runtime.NumCPU(),
		LogLevel:            "info",
	}
}

// Load reads envFile (when it exists) into the process environment without
// overriding variables already set, then builds a Config from the
// environment.
func Load(envFile string) (Config, error) {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return Config{}, fmt.Errorf("load %s: %w", envFile, err)
		}
	}
	return FromEnv(os.LookupEnv)
}

// FromEnv builds a Config from lookup, falling back to Default for unset
// variables.
func FromEnv(lookup func(string) (string, bool)) (Config, error) {
	cfg := Default()
	r := reader{lookup: lookup}

	r.setString("MODEL_PATH", &cfg.ModelPath)
	r.setString("ORT_LIB_DIR", &cfg.OrtLibDir)
	r.setString("LABELS_PATH", &cfg.LabelsPath)
	r.setString("SOURCE_PATH", &cfg.SourcePath)
	r.setString("LISTEN_ADDR", &cfg.ListenAddr)
	r.setInt("POOL_SIZE", &cfg.PoolSize)

	r.setFloat32("CONFIDENCE_THRESHOLD", &cfg.ConfidenceThreshold)
	r.setFloat32("IOU_THRESHOLD", &cfg.IOUThreshold)
	r.setBool("CLASS_AWARE_NMS", &cfg.ClassAwareNMS)
	r.setString("TARGET_LABEL", &cfg.TargetLabel)
	r.setString("BOX_COLOR", &cfg.BoxColor)
	r.setInt("LINE_THICKNESS", &cfg.LineThickness)
	r.setInt("MAX_DETECTIONS", &cfg.MaxDetections)
	r.setBool("CAPTIONS", &cfg.Captions)

	r.setDuration("CYCLE_INTERVAL", &cfg.CycleInterval)
	r.setDuration("INFERENCE_TIMEOUT", &cfg.InferenceTimeout)
	r.setInt("DECODE_WORKERS", &cfg.DecodeWorkers)

	r.setString("LOG_LEVEL", &cfg.LogLevel)
	r.setString("LOG_FILE", &cfg.LogFile)
	r.setBool("DEBUG", &cfg.Debug)

	if len(r.errs) > 0 {
		return Config{}, errors.Join(r.errs...)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

var validate = validator.New()

func (c Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	if _, err := overlay.ParseColor(c.BoxColor); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	return nil
}

// reader collects conversion errors so every bad variable is reported at
// once.
type reader struct {
	lookup func(string) (string, bool)
	errs   []error
}

func (r *reader) get(key string) (string, bool) {
	v, ok := r.lookup(key)
	if !ok || v == "" {
		return "", false
	}
	return v, true
}

func (r *reader) fail(key, value string, err error) {
	r.errs = append(r.errs, fmt.Errorf("%s=%q: %w", key, value, err))
}

func (r *reader) setString(key string, dst *string) {
	if v, ok := r.get(key); ok {
		*dst = v
	}
}

func (r *reader) setInt(key string, dst *int) {
	v, ok := r.get(key)
	if !ok {
		return
	}
	n, err := cast.ToIntE(v)
	if err != nil {
		r.fail(key, v, err)
		return
	}
	*dst = n
}

func (r *reader) setFloat32(key string, dst *float32) {
	v, ok := r.get(key)
	if !ok {
		return
	}
	f, err := cast.ToFloat32E(v)
	if err != nil {
		r.fail(key, v, err)
		return
	}
	*dst = f
}

func (r *reader) setBool(key string, dst *bool) {
	v, ok := r.get(key)
	if !ok {
		return
	}
	b, err := cast.ToBoolE(v)
	if err != nil {
		r.fail(key, v, err)
		return
	}
	*dst = b
}

func (r *reader) setDuration(key string, dst *time.Duration) {
	v, ok := r.get(key)
	if !ok {
		return
	}
	d, err := cast.ToDurationE(v)
	if err != nil {
		r.fail(key, v, err)
		return
	}
	*dst = d
}
