// Package config loads runtime settings from the environment and an
// optional .env file.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	log "github.com/sirupsen/logrus"

	"github.com/dudu/eyebox/internal/frame"
	"github.com/dudu/eyebox/internal/pipeline"
	"github.com/dudu/eyebox/internal/session"
)

type Config struct {
	CameraIndex     int
	CameraFPS       int
	CameraWidth     int
	CameraHeight    int
	CameraRotation  int
	DisplayRotation int
	MirrorX         bool

	pipeline.Options

	ClassifierModel  string
	ClassifierInput  string
	ClassifierOutput string
	ClassifierLayout string
	ClassifierCoreML bool
	Threads          int
	ONNXRuntimeLib   string

	FaceCascade  string
	PupilCascade string

	SessionBackend string
	SessionDSN     string
	RedisAddr      string

	AlarmCommand string

	HTTPAddr          string
	LogLevel          string
	Preview           bool
	PauseOnMicrosleep bool
	OverlayInterval   time.Duration
}

// LoadConfig reads files (default .env) into the environment and builds a
// Config from it. Missing files are not an error.
func LoadConfig(files ...string) *Config {
	if err := godotenv.Load(files...); err != nil {
		log.Debug("No .env file found, using system environment variables")
	}

	defaults := pipeline.DefaultOptions()

	return &Config{
		CameraIndex:     getEnvInt("CAMERA_INDEX", 0),
		CameraFPS:       getEnvInt("CAMERA_FPS", 30),
		CameraWidth:     getEnvInt("CAMERA_WIDTH", 640),
		CameraHeight:    getEnvInt("CAMERA_HEIGHT", 480),
		CameraRotation:  getEnvInt("CAMERA_ROTATION", 0),
		DisplayRotation: getEnvInt("DISPLAY_ROTATION", 0),
		MirrorX:         getEnvBool("MIRROR_X", true),

		Options: pipeline.Options{
			CloseThresh:        float32(getEnvFloat("CLOSE_THRESH", float64(defaults.CloseThresh))),
			OpenThresh:         float32(getEnvFloat("OPEN_THRESH", float64(defaults.OpenThresh))),
			Margin:             getEnvFloat("EYE_MARGIN", defaults.Margin),
			CropSize:           getEnvInt("CROP_SIZE", defaults.CropSize),
			MicrosleepDuration: getEnvMillis("MICROSLEEP_MS", defaults.MicrosleepDuration),
			Deskew:             getEnvBool("DESKEW", defaults.Deskew),
		},

		ClassifierModel:  getEnv("CLASSIFIER_MODEL", "models/eye_state.onnx"),
		ClassifierInput:  getEnv("CLASSIFIER_INPUT", "input"),
		ClassifierOutput: getEnv("CLASSIFIER_OUTPUT", "output"),
		ClassifierLayout: strings.ToLower(getEnv("CLASSIFIER_LAYOUT", "nhwc")),
		ClassifierCoreML: getEnvBool("CLASSIFIER_COREML", false),
		Threads:          getEnvInt("CLASSIFIER_THREADS", 1),
		ONNXRuntimeLib:   getEnv("ONNXRUNTIME_LIB", ""),

		FaceCascade:  getEnv("FACE_CASCADE", "models/facefinder"),
		PupilCascade: getEnv("PUPIL_CASCADE", "models/puploc"),

		SessionBackend: strings.ToLower(getEnv("SESSION_BACKEND", session.BackendSQLite)),
		SessionDSN:     getEnv("SESSION_DSN", "eyebox.db"),
		RedisAddr:      getEnv("REDIS_ADDR", "127.0.0.1:6379"),

		AlarmCommand: getEnv("ALARM_COMMAND", ""),

		HTTPAddr:          getEnv("HTTP_ADDR", ":8081"),
		LogLevel:          getEnv("LOG_LEVEL", "info"),
		Preview:           getEnvBool("PREVIEW", true),
		PauseOnMicrosleep: getEnvBool("PAUSE_ON_MICROSLEEP", false),
		OverlayInterval:   getEnvMillis("OVERLAY_INTERVAL_MS", pipeline.DefaultOverlayInterval),
	}
}

// Validate checks settings that would otherwise fail deep inside a component.
func (c *Config) Validate() error {
	var errs []error

	if err := c.Options.Validate(); err != nil {
		errs = append(errs, err)
	}
	if !frame.ValidRotation(c.CameraRotation) {
		errs = append(errs, fmt.Errorf("CAMERA_ROTATION must be 0, 90, 180 or 270, got %d", c.CameraRotation))
	}
	if !frame.ValidRotation(c.DisplayRotation) {
		errs = append(errs, fmt.Errorf("DISPLAY_ROTATION must be 0, 90, 180 or 270, got %d", c.DisplayRotation))
	}
	if c.CameraFPS <= 0 {
		errs = append(errs, fmt.Errorf("CAMERA_FPS must be positive, got %d", c.CameraFPS))
	}
	if c.ClassifierModel == "" {
		errs = append(errs, errors.New("CLASSIFIER_MODEL is required"))
	}

	switch c.SessionBackend {
	case session.BackendSQLite, session.BackendPostgres:
		if c.SessionDSN == "" {
			errs = append(errs, fmt.Errorf("SESSION_DSN is required for the %s backend", c.SessionBackend))
		}
	case session.BackendRedis:
		if c.RedisAddr == "" {
			errs = append(errs, errors.New("REDIS_ADDR is required for the redis backend"))
		}
	case session.BackendMemory:
	default:
		errs = append(errs, fmt.Errorf("unknown SESSION_BACKEND %q", c.SessionBackend))
	}

	if _, err := log.ParseLevel(c.LogLevel); err != nil {
		errs = append(errs, fmt.Errorf("invalid LOG_LEVEL: %w", err))
	}

	return errors.Join(errs...)
}

// SetupLogging applies LogLevel to the standard logger.
func (c *Config) SetupLogging() error {
	level, err := log.ParseLevel(c.LogLevel)
	if err != nil {
		return fmt.Errorf("failed to parse log level: %w", err)
	}
	log.SetLevel(level)
	log.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	return nil
}

// DSNForLog returns the session DSN with any password masked, in both the
// URL form and the key=value form.
func (c *Config) DSNForLog() string {
	dsn := c.SessionDSN
	if u, err := url.Parse(dsn); err == nil && u.Scheme != "" && u.User != nil {
		dsn = u.Redacted()
	}
	return maskPassword(dsn)
}

func maskPassword(dsn string) string {
	i := strings.Index(dsn, "password=")
	if i < 0 {
		return dsn
	}
	start := i + len("password=")
	end := strings.IndexAny(dsn[start:], " &")
	if end < 0 {
		return dsn[:start] + "***"
	}
	return dsn[:start] + "***" + dsn[start+end:]
}

func getEnv(key string, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	if v := os.Getenv(key); v != "" {
		if intVal, err := strconv.Atoi(v); err == nil {
			return intVal
		}
		log.Warnf("ignoring invalid %s=%q", key, v)
	}
	return defaultVal
}

func getEnvFloat(key string, defaultVal float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
		log.Warnf("ignoring invalid %s=%q", key, v)
	}
	return defaultVal
}

func getEnvBool(key string, defaultVal bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
		log.Warnf("ignoring invalid %s=%q", key, v)
	}
	return defaultVal
}

func getEnvMillis(key string, defaultVal time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if ms, err := strconv.Atoi(v); err == nil {
			return time.Duration(ms) * time.Millisecond
		}
		log.Warnf("ignoring invalid %s=%q", key, v)
	}
	return defaultVal
}
