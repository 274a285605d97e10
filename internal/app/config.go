package app

import (
	_ "embed"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/yungbote/adforge-backend/internal/modules/matrix"
	"github.com/yungbote/adforge-backend/internal/observability"
	"github.com/yungbote/adforge-backend/internal/platform/envutil"
	"github.com/yungbote/adforge-backend/internal/platform/logger"
)

//go:embed matrix_engine.yaml
var defaultEngineYAML []byte

type Config struct {
	Port         string
	JWTSecretKey string
	CORSOrigins  []string

	Engine   EngineConfig
	Renderer RendererConfig
	Redis    RedisConfig
	Otel     observability.OtelConfig
}

type EngineConfig struct {
	DefaultMaxRows  int
	MaxRowsLimit    int
	Concurrency     int
	JobTimeout      time.Duration
	SkipLockedRows  bool
	StaleClaimAfter time.Duration
	ShutdownTimeout time.Duration
}

type RendererConfig struct {
	Mode string // "http" or "preview"

	ServiceURL   string
	ServiceToken string
	HTTPTimeout  time.Duration
	MaxAttempts  int
	Backoff      time.Duration

	PreviewWidth     int
	PreviewHeight    int
	PreviewFont      string
	PreviewFontSize  float64
	PreviewOutputDir string
	PreviewBaseURL   string
	PreviewBucket    string
	PreviewCDNDomain string
	StorageEmulator  string
}

type RedisConfig struct {
	Addr     string
	Password string
	Channel  string
}

// engineFile mirrors matrix_engine.yaml.
type engineFile struct {
	Generation struct {
		DefaultMaxRows int `yaml:"default_max_rows"`
		MaxRowsLimit   int `yaml:"max_rows_limit"`
	} `yaml:"generation"`
	Render struct {
		Concurrency     int           `yaml:"concurrency"`
		JobTimeout      time.Duration `yaml:"job_timeout"`
		SkipLockedRows  bool          `yaml:"skip_locked_rows"`
		StaleClaimAfter time.Duration `yaml:"stale_claim_after"`
		ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
		Mode            string        `yaml:"mode"`
		HTTP            struct {
			Timeout     time.Duration `yaml:"timeout"`
			MaxAttempts int           `yaml:"max_attempts"`
			Backoff     time.Duration `yaml:"backoff"`
		} `yaml:"http"`
		Preview struct {
			Width     int     `yaml:"width"`
			Height    int     `yaml:"height"`
			FontSize  float64 `yaml:"font_size"`
			OutputDir string  `yaml:"output_dir"`
		} `yaml:"preview"`
	} `yaml:"render"`
	Redis struct {
		Channel string `yaml:"channel"`
	} `yaml:"redis"`
	HTTP struct {
		CORSOrigins []string `yaml:"cors_origins"`
	} `yaml:"http"`
}

func parseEngineFile(raw []byte) (engineFile, error) {
	var f engineFile
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return engineFile{}, fmt.Errorf("parse engine config: %w", err)
	}
	return f, nil
}

// LoadConfig reads the embedded engine defaults (or MATRIX_ENGINE_YAML) and
// then applies environment overrides.
func LoadConfig(log *logger.Logger) (Config, error) {
	raw := defaultEngineYAML
	if path := envutil.String("MATRIX_ENGINE_YAML", ""); path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read %s: %w", path, err)
		}
		log.Info("Using engine config file", "path", path)
		raw = b
	}
	f, err := parseEngineFile(raw)
	if err != nil {
		return Config{}, err
	}
	return configFromFile(f), nil
}

func configFromFile(f engineFile) Config {
	cfg := Config{
		Port:         envutil.String("PORT", "8080"),
		JWTSecretKey: envutil.String("JWT_SECRET_KEY", ""),
		CORSOrigins:  f.HTTP.CORSOrigins,
		Engine: EngineConfig{
			DefaultMaxRows:  envutil.Int("MATRIX_DEFAULT_MAX_ROWS", f.Generation.DefaultMaxRows),
			MaxRowsLimit:    envutil.Int("MATRIX_MAX_ROWS_LIMIT", f.Generation.MaxRowsLimit),
			Concurrency:     envutil.Int("MATRIX_RENDER_CONCURRENCY", f.Render.Concurrency),
			JobTimeout:      envutil.Duration("MATRIX_RENDER_TIMEOUT", f.Render.JobTimeout),
			SkipLockedRows:  envutil.Bool("MATRIX_RENDER_SKIP_LOCKED", f.Render.SkipLockedRows),
			StaleClaimAfter: envutil.Duration("MATRIX_RENDER_STALE_AFTER", f.Render.StaleClaimAfter),
			ShutdownTimeout: envutil.Duration("MATRIX_SHUTDOWN_TIMEOUT", f.Render.ShutdownTimeout),
		},
		Renderer: RendererConfig{
			Mode:             strings.ToLower(envutil.String("RENDERER_MODE", f.Render.Mode)),
			ServiceURL:       envutil.String("RENDER_SERVICE_URL", ""),
			ServiceToken:     envutil.String("RENDER_SERVICE_TOKEN", ""),
			HTTPTimeout:      envutil.Duration("RENDER_SERVICE_TIMEOUT", f.Render.HTTP.Timeout),
			MaxAttempts:      envutil.Int("RENDER_SERVICE_MAX_ATTEMPTS", f.Render.HTTP.MaxAttempts),
			Backoff:          envutil.Duration("RENDER_SERVICE_BACKOFF", f.Render.HTTP.Backoff),
			PreviewWidth:     f.Render.Preview.Width,
			PreviewHeight:    f.Render.Preview.Height,
			PreviewFont:      envutil.String("PREVIEW_FONT", ""),
			PreviewFontSize:  f.Render.Preview.FontSize,
			PreviewOutputDir: envutil.String("PREVIEW_OUTPUT_DIR", f.Render.Preview.OutputDir),
			PreviewBaseURL:   envutil.String("PREVIEW_BASE_URL", ""),
			PreviewBucket:    envutil.String("PREVIEW_GCS_BUCKET_NAME", ""),
			PreviewCDNDomain: envutil.String("PREVIEW_CDN_DOMAIN", ""),
			StorageEmulator:  envutil.String("STORAGE_EMULATOR_HOST", ""),
		},
		Redis: RedisConfig{
			Addr:     envutil.String("REDIS_ADDR", ""),
			Password: envutil.String("REDIS_PASSWORD", ""),
			Channel:  envutil.String("REDIS_CHANNEL", f.Redis.Channel),
		},
		Otel: observability.OtelConfig{
			Enabled:     envutil.Bool("OTEL_ENABLED", false),
			ServiceName: envutil.String("OTEL_SERVICE_NAME", "adforge-backend"),
			Environment: envutil.String("OTEL_ENVIRONMENT", envutil.String("APP_ENV", "development")),
			Version:     envutil.String("OTEL_SERVICE_VERSION", ""),
			Endpoint:    envutil.String("OTEL_EXPORTER_OTLP_ENDPOINT", ""),
			Headers:     envutil.String("OTEL_EXPORTER_OTLP_HEADERS", ""),
			Insecure:    envutil.Bool("OTEL_EXPORTER_OTLP_INSECURE", false),
			SampleRatio: envutil.Float("OTEL_SAMPLER_RATIO", 1),
		},
	}
	if origins := envutil.String("CORS_ORIGINS", ""); origins != "" {
		cfg.CORSOrigins = splitList(origins)
	}
	return cfg
}

func (c EngineConfig) Limits() matrix.Limits {
	return matrix.Limits{DefaultMaxRows: c.DefaultMaxRows, MaxRowsLimit: c.MaxRowsLimit}
}

func (c EngineConfig) Orchestrator() matrix.OrchestratorConfig {
	return matrix.OrchestratorConfig{
		Concurrency:    c.Concurrency,
		JobTimeout:     c.JobTimeout,
		SkipLockedRows: c.SkipLockedRows,
		StaleAfter:     c.StaleClaimAfter,
	}
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
