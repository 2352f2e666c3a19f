package config

import (
	_ "embed"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

//go:embed defaults.yaml
var defaultsYAML []byte

type Config struct {
	Database   DatabaseConfig
	Embedding  EmbeddingConfig
	Matching   MatchingConfig
	Classifier ClassifierConfig
	Web        WebConfig
	Log        LogConfig

	// AllowedExtensions lists accepted image file extensions (lower case, no dot)
	AllowedExtensions []string
}

type DatabaseConfig struct {
	URL          string // PostgreSQL connection URL
	MaxOpenConns int    // Maximum open connections (default 25)
	MaxIdleConns int    // Maximum idle connections (default 5)
}

type EmbeddingConfig struct {
	URL          string  // face extractor base URL, defaults to http://localhost:8000
	Dim          int     // expected embedding dimension, defaults to 128
	ResizeFactor float64 // downscale applied before extraction, defaults to 0.5
	Workers      int     // parallel extractor calls per enrollment
}

type MatchingConfig struct {
	Threshold  float64 // strict upper bound on accepted Euclidean distance
	MinSamples int     // minimum images and valid embeddings per enrollment
}

type ClassifierConfig struct {
	Neighbors int    // k of the kNN vote
	Path      string // snapshot file, empty disables persistence
}

type WebConfig struct {
	Host           string
	Port           int
	SessionSecret  string
	AllowedOrigins string
}

type LogConfig struct {
	Env   string // "dev" or "prod"
	Level string
}

// defaults mirrors defaults.yaml
type defaults struct {
	Database struct {
		MaxOpenConns int `yaml:"max_open_conns"`
		MaxIdleConns int `yaml:"max_idle_conns"`
	} `yaml:"database"`
	Embedding struct {
		URL          string  `yaml:"url"`
		Dim          int     `yaml:"dim"`
		ResizeFactor float64 `yaml:"resize_factor"`
		Workers      int     `yaml:"workers"`
	} `yaml:"embedding"`
	Matching struct {
		Threshold  float64 `yaml:"threshold"`
		MinSamples int     `yaml:"min_samples"`
	} `yaml:"matching"`
	Classifier struct {
		Neighbors int    `yaml:"neighbors"`
		Path      string `yaml:"path"`
	} `yaml:"classifier"`
	Web struct {
		Host string `yaml:"host"`
		Port int    `yaml:"port"`
	} `yaml:"web"`
	Log struct {
		Env   string `yaml:"env"`
		Level string `yaml:"level"`
	} `yaml:"log"`
	AllowedExtensions []string `yaml:"allowed_extensions"`
}

// envInt reads an environment variable and parses it as a positive integer.
// Returns the default value if the env var is unset, empty, or invalid.
func envInt(key string, defaultVal int) int {
	s := os.Getenv(key)
	if s == "" {
		return defaultVal
	}
	if n, err := strconv.Atoi(s); err == nil && n > 0 {
		return n
	}
	return defaultVal
}

// envFloat reads an environment variable and parses it as a positive float.
// Returns the default value if the env var is unset, empty, or invalid.
func envFloat(key string, defaultVal float64) float64 {
	s := os.Getenv(key)
	if s == "" {
		return defaultVal
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil && f > 0 {
		return f
	}
	return defaultVal
}

func envString(key, defaultVal string) string {
	if s := os.Getenv(key); s != "" {
		return s
	}
	return defaultVal
}

// envList reads a comma-separated list, lower-casing and trimming each entry.
func envList(key string, defaultVal []string) []string {
	s := os.Getenv(key)
	if s == "" {
		return defaultVal
	}
	var out []string
	for item := range strings.SplitSeq(s, ",") {
		item = strings.ToLower(strings.TrimPrefix(strings.TrimSpace(item), "."))
		if item != "" {
			out = append(out, item)
		}
	}
	if len(out) == 0 {
		return defaultVal
	}
	return out
}

func loadDefaults() defaults {
	var d defaults
	if err := yaml.Unmarshal(defaultsYAML, &d); err != nil {
		// This is an embedded file so this error should never happen in practice
		panic("failed to unmarshal embedded defaults.yaml: " + err.Error())
	}
	return d
}

func Load() *Config {
	d := loadDefaults()

	resize := envFloat("IMAGE_RESIZE_FACTOR", d.Embedding.ResizeFactor)
	if resize > 1 {
		resize = d.Embedding.ResizeFactor
	}

	return &Config{
		Database: DatabaseConfig{
			URL:          os.Getenv("DATABASE_URL"),
			MaxOpenConns: envInt("DATABASE_MAX_OPEN_CONNS", d.Database.MaxOpenConns),
			MaxIdleConns: envInt("DATABASE_MAX_IDLE_CONNS", d.Database.MaxIdleConns),
		},
		Embedding: EmbeddingConfig{
			URL:          envString("EMBEDDING_URL", d.Embedding.URL),
			Dim:          envInt("EMBEDDING_DIM", d.Embedding.Dim),
			ResizeFactor: resize,
			Workers:      envInt("EXTRACT_WORKERS", d.Embedding.Workers),
		},
		Matching: MatchingConfig{
			Threshold:  envFloat("MATCH_THRESHOLD", d.Matching.Threshold),
			MinSamples: envInt("ENROLL_MIN_SAMPLES", d.Matching.MinSamples),
		},
		Classifier: ClassifierConfig{
			Neighbors: envInt("CLASSIFIER_NEIGHBORS", d.Classifier.Neighbors),
			Path:      envString("CLASSIFIER_PATH", d.Classifier.Path),
		},
		Web: WebConfig{
			Host:           envString("WEB_HOST", d.Web.Host),
			Port:           envInt("WEB_PORT", d.Web.Port),
			SessionSecret:  os.Getenv("WEB_SESSION_SECRET"),
			AllowedOrigins: os.Getenv("WEB_ALLOWED_ORIGINS"),
		},
		Log: LogConfig{
			Env:   envString("LOG_ENV", d.Log.Env),
			Level: envString("LOG_LEVEL", d.Log.Level),
		},
		AllowedExtensions: envList("ALLOWED_EXTENSIONS", d.AllowedExtensions),
	}
}

// IsAllowedExtension reports whether ext (with or without leading dot) is accepted.
func (c *Config) IsAllowedExtension(ext string) bool {
	ext = strings.ToLower(strings.TrimPrefix(ext, "."))
	for _, allowed := range c.AllowedExtensions {
		if allowed == ext {
			return true
		}
	}
	return false
}
