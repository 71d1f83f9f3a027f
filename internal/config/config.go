package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	HTTPAddr             string
	RunMode              string // all | api | worker
	DatabaseDriver       string // postgres | mysql | sqlite
	DatabaseURL          string
	CORSAllowedOrigins   []string
	CORSAllowCredentials bool

	JWTSecret string

	LogLevel  string
	LogFormat string

	WorkerID string
	Dispatch Dispatch

	GatewayURL   string
	GatewayToken string

	WakeBus       string // none | postgres | redis
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	RabbitURL   string
	RabbitQueue string

	CreateRatePerMin int

	ConfigFile string
}

// Dispatch holds the settings that may change while the process runs.
type Dispatch struct {
	DefaultDelay  time.Duration
	PollInterval  time.Duration
	ReconcileSpec string
}

func Load() (Config, error) {
	_ = godotenv.Load()

	cfg := Config{
		HTTPAddr:             getenv("HTTP_ADDR", ":8080"),
		RunMode:              strings.ToLower(getenv("RUN_MODE", "all")),
		DatabaseDriver:       strings.ToLower(getenv("DATABASE_DRIVER", "postgres")),
		DatabaseURL:          mustGetenv("DATABASE_URL"),
		CORSAllowCredentials: getenv("CORS_ALLOW_CREDENTIALS", "false") == "true",

		LogLevel:  getenv("LOG_LEVEL", "info"),
		LogFormat: getenv("LOG_FORMAT", "console"),

		WorkerID: getenv("WORKER_ID", "worker-1"),

		GatewayURL:   getenv("GATEWAY_URL", ""),
		GatewayToken: getenv("GATEWAY_TOKEN", ""),

		WakeBus:       strings.ToLower(getenv("WAKE_BUS", "none")),
		RedisAddr:     getenv("REDIS_ADDR", "127.0.0.1:6379"),
		RedisPassword: getenv("REDIS_PASSWORD", ""),

		RabbitURL:   getenv("RABBIT_URL", ""),
		RabbitQueue: getenv("RABBIT_QUEUE", "bulksend.job_events"),

		ConfigFile: getenv("CONFIG_FILE", ""),
	}

	origins := strings.Split(getenv("CORS_ALLOWED_ORIGINS", ""), ",")
	for _, o := range origins {
		o = strings.TrimSpace(o)
		if o != "" {
			cfg.CORSAllowedOrigins = append(cfg.CORSAllowedOrigins, o)
		}
	}

	var err error
	if cfg.RedisDB, err = getenvInt("REDIS_DB", 0); err != nil {
		return cfg, err
	}
	if cfg.CreateRatePerMin, err = getenvInt("CREATE_RATE_PER_MIN", 10); err != nil {
		return cfg, err
	}
	if cfg.Dispatch.DefaultDelay, err = getenvDuration("DISPATCH_DEFAULT_DELAY", 5*time.Second); err != nil {
		return cfg, err
	}
	if cfg.Dispatch.PollInterval, err = getenvDuration("POLL_INTERVAL", 5*time.Second); err != nil {
		return cfg, err
	}
	cfg.Dispatch.ReconcileSpec = getenv("RECONCILE_SPEC", "@every 15m")

	switch cfg.RunMode {
	case "all", "api", "worker":
	default:
		return cfg, fmt.Errorf("config: RUN_MODE %q (want all, api or worker)", cfg.RunMode)
	}
	switch cfg.WakeBus {
	case "none", "postgres", "redis":
	default:
		return cfg, fmt.Errorf("config: WAKE_BUS %q (want none, postgres or redis)", cfg.WakeBus)
	}

	if cfg.ConfigFile != "" {
		d, err := LoadFile(cfg.ConfigFile, cfg.Dispatch)
		if err != nil {
			return cfg, err
		}
		cfg.Dispatch = d
	}

	cfg.JWTSecret = mustGetenv("JWT_SECRET")
	return cfg, nil
}

func (c Config) RunsAPI() bool    { return c.RunMode == "all" || c.RunMode == "api" }
func (c Config) RunsWorker() bool { return c.RunMode == "all" || c.RunMode == "worker" }

func getenv(key, def string) string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	return v
}

func mustGetenv(key string) string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		panic("missing env: " + key)
	}
	return v
}

func getenvInt(key string, def int) (int, error) {
	v := getenv(key, "")
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("config: %s: %w", key, err)
	}
	return n, nil
}

func getenvDuration(key string, def time.Duration) (time.Duration, error) {
	v := getenv(key, "")
	if v == "" {
		return def, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("config: %s: %w", key, err)
	}
	return d, nil
}
