package config

import (
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Port          int
	Width         int
	Height        int
	Framerate     int
	Source        string // auto, stdin, cmd, file:<path>, tcp:<addr>
	CameraCommand string // Explicit camera command line, overrides autodetection
	Device        string // V4L2 device for the ffmpeg fallback
	RestartDelay  time.Duration
	ReadChunkSize int
	MaxFrameSize  int // Bytes buffered for one frame before the producer is considered broken
	WriteTimeout  time.Duration
	HistoryDB     string // Empty disables the session history
	HistoryFlush  time.Duration
	LogLevel      string
	LogDirectory  string // Empty logs to stdout only
}

// Load reads an optional .env file from the working directory and then the
// process environment. Variables already set in the environment win.
func Load() *Config {
	_ = godotenv.Load()

	cfg := &Config{
		Port:          getEnvAsInt("PORT", 8000),
		Width:         getEnvAsInt("FRAME_WIDTH", 640),
		Height:        getEnvAsInt("FRAME_HEIGHT", 480),
		Framerate:     getEnvAsInt("FRAMERATE", 24),
		Source:        getEnv("SOURCE", "auto"),
		CameraCommand: getEnv("CAMERA_CMD", ""),
		Device:        getEnv("VIDEO_DEVICE", "/dev/video0"),
		RestartDelay:  getEnvAsSeconds("RESTART_DELAY", 2),
		ReadChunkSize: getEnvAsInt("READ_CHUNK_SIZE", 4096),
		MaxFrameSize:  getEnvAsInt("MAX_FRAME_SIZE", 0),
		WriteTimeout:  getEnvAsSeconds("WRITE_TIMEOUT", 10),
		HistoryDB:     getEnv("HISTORY_DB", filepath.Join(".", "data", "sessions.db")),
		HistoryFlush:  getEnvAsSeconds("HISTORY_FLUSH_INTERVAL", 30),
		LogLevel:      getEnv("LOG_LEVEL", "info"),
		LogDirectory:  getEnv("LOG_DIR", filepath.Join(".", "logs")),
	}

	if cfg.MaxFrameSize <= 0 {
		cfg.MaxFrameSize = DefaultMaxFrameSize(cfg.Width, cfg.Height)
	}
	return cfg
}

// DefaultMaxFrameSize allows eight times the size of an uncompressed 8-bit
// frame. A JPEG is far smaller, so hitting this means the producer has lost
// its end markers.
func DefaultMaxFrameSize(width, height int) int {
	if width <= 0 || height <= 0 {
		return 8 << 20
	}
	return 8 * width * height
}

// Address is the listen address for the HTTP server.
func (c *Config) Address() string {
	return ":" + strconv.Itoa(c.Port)
}

func getEnv(key, defaultValue string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvAsSeconds(key string, defaultValue int) time.Duration {
	return time.Duration(getEnvAsInt(key, defaultValue)) * time.Second
}
