package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// DefaultAllowedExtensions are the upload extensions accepted when
// ALLOWED_EXTENSIONS is unset.
var DefaultAllowedExtensions = []string{"mp4", "avi", "mov", "mkv", "wmv", "flv", "webm"}

const (
	DefaultPort                    = "5000"
	DefaultUploadDir               = "uploads"
	DefaultStreamDir               = "streams"
	DefaultMaxUploadBytes          = 100 << 20
	DefaultFFmpegPath              = "ffmpeg"
	DefaultHLSSegmentSeconds       = 10
	DefaultMaxConcurrentTranscodes = 2
)

// Config is the process-wide configuration. It is built once at startup and
// handed to the components that need it.
type Config struct {
	Port      string
	UploadDir string
	StreamDir string

	MaxUploadBytes    int64
	AllowedExtensions []string

	FFmpegPath              string
	HLSSegmentSeconds       int
	TranscodeTimeout        time.Duration
	MaxConcurrentTranscodes int

	LogLevel  string
	LogFormat string
}

// FromEnv builds a Config from the environment, falling back to defaults for
// unset or malformed values. Call Load first to pick up a .env file.
func FromEnv() Config {
	return Config{
		Port:                    GetEnv("PORT", DefaultPort),
		UploadDir:               GetEnv("UPLOAD_DIR", DefaultUploadDir),
		StreamDir:               GetEnv("STREAM_DIR", DefaultStreamDir),
		MaxUploadBytes:          GetEnvInt64("MAX_UPLOAD_BYTES", DefaultMaxUploadBytes),
		AllowedExtensions:       GetEnvList("ALLOWED_EXTENSIONS", DefaultAllowedExtensions),
		FFmpegPath:              GetEnv("FFMPEG_PATH", DefaultFFmpegPath),
		HLSSegmentSeconds:       GetEnvInt("HLS_SEGMENT_SECONDS", DefaultHLSSegmentSeconds),
		TranscodeTimeout:        GetEnvDuration("TRANSCODE_TIMEOUT", 0),
		MaxConcurrentTranscodes: GetEnvInt("MAX_CONCURRENT_TRANSCODES", DefaultMaxConcurrentTranscodes),
		LogLevel:                GetEnv("LOG_LEVEL", "info"),
		LogFormat:               GetEnv("LOG_FORMAT", "json"),
	}
}

// Load reads the .env file from the current working directory and sets
// environment variables. If .env does not exist, Load returns an error but
// callers can ignore it and use system env or defaults. Pass one or more paths
// to load from specific files (e.g. ".env"); with no paths, ".env" is used.
func Load(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	return godotenv.Load(paths...)
}

// GetEnv returns the value of the environment variable named by key, or fallback
// if the variable is unset or empty.
func GetEnv(key, fallback string) string {
	if s := os.Getenv(key); s != "" {
		return s
	}
	return fallback
}

// GetEnvInt returns the integer value of the environment variable named by key,
// or fallback if the variable is unset, empty, or not a valid integer.
func GetEnvInt(key string, fallback int) int {
	if s := os.Getenv(key); s != "" {
		if n, err := strconv.Atoi(s); err == nil {
			return n
		}
	}
	return fallback
}

// GetEnvInt64 is GetEnvInt for 64-bit values such as byte sizes.
func GetEnvInt64(key string, fallback int64) int64 {
	if s := os.Getenv(key); s != "" {
		if n, err := strconv.ParseInt(s, 10, 64); err == nil {
			return n
		}
	}
	return fallback
}

// GetEnvDuration parses values like "30m" or "90s".
func GetEnvDuration(key string, fallback time.Duration) time.Duration {
	if s := os.Getenv(key); s != "" {
		if d, err := time.ParseDuration(s); err == nil {
			return d
		}
	}
	return fallback
}

// GetEnvList splits a comma separated variable, trimming blanks and lowercasing
// each item. An unset or all-blank variable yields a copy of fallback.
func GetEnvList(key string, fallback []string) []string {
	var out []string
	for _, item := range strings.Split(os.Getenv(key), ",") {
		item = strings.ToLower(strings.TrimSpace(item))
		if item != "" {
			out = append(out, item)
		}
	}
	if len(out) == 0 {
		return append([]string(nil), fallback...)
	}
	return out
}
