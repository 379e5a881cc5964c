package config

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all runtime settings for the service. Every field has an
// environment variable override; defaults match a single-machine deployment.
type Config struct {
	Addr            string
	Debug           bool
	DatabasePath    string
	RedisAddr       string
	SegmenterAddr   string // base URL of the segmentation sidecar; empty selects the built-in segmenter
	UploadDir       string
	MaxUploadBytes  int64
	MaxImageSide    int
	DetectTimeout   time.Duration
	ShutdownTimeout time.Duration

	// Detection pipeline tuning.
	AcceptanceThreshold float64
	PixelsPerMeter      float64
	MinDepthM           float64
	DepthGain           float64
	MaxDepthM           float64
	ContrastFloor       float64
	LowAreaM2           float64
	HighAreaM2          float64
	DangerDepthM        float64
}

// Load reads an optional .env file and assembles the configuration from the
// environment.
func Load() *Config {
	_ = godotenv.Load()

	return &Config{
		Addr:            getEnv("ADDR", ":8080"),
		Debug:           getBool("DEBUG", false),
		DatabasePath:    getEnv("DATABASE_PATH", "potholes.db"),
		RedisAddr:       os.Getenv("REDIS_ADDR"),
		SegmenterAddr:   os.Getenv("SEGMENTER_ADDR"),
		UploadDir:       getEnv("UPLOAD_DIR", "uploads"),
		MaxUploadBytes:  getInt64("MAX_UPLOAD_BYTES", 16<<20),
		MaxImageSide:    int(getInt64("MAX_IMAGE_SIDE", 4096)),
		DetectTimeout:   getDuration("DETECT_TIMEOUT", 30*time.Second),
		ShutdownTimeout: getDuration("SHUTDOWN_TIMEOUT", 15*time.Second),

		AcceptanceThreshold: getFloat("ACCEPTANCE_THRESHOLD", 0.5),
		PixelsPerMeter:      getFloat("PIXELS_PER_METER", 100),
		MinDepthM:           getFloat("MIN_DEPTH_M", 0.05),
		DepthGain:           getFloat("DEPTH_GAIN", 0.5),
		MaxDepthM:           getFloat("MAX_DEPTH_M", 0.55),
		ContrastFloor:       getFloat("CONTRAST_FLOOR", 0.04),
		LowAreaM2:           getFloat("LOW_AREA_M2", 0.1),
		HighAreaM2:          getFloat("HIGH_AREA_M2", 0.3),
		DangerDepthM:        getFloat("DANGER_DEPTH_M", 0.3),
	}
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func getBool(key string, fallback bool) bool {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseBool(value); err == nil {
			return parsed
		}
	}
	return fallback
}

func getInt64(key string, fallback int64) int64 {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseInt(value, 10, 64); err == nil {
			return parsed
		}
	}
	return fallback
}

func getFloat(key string, fallback float64) float64 {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseFloat(value, 64); err == nil {
			return parsed
		}
	}
	return fallback
}

func getDuration(key string, fallback time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if parsed, err := time.ParseDuration(value); err == nil {
			return parsed
		}
	}
	return fallback
}
