package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net/netip"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Env      string
	Server   ServerConfig
	Database DatabaseConfig
	Redis    RedisConfig
	Auth     AuthConfig
	Files    FilesConfig
	Limits   LimitsConfig
	Worker   WorkerConfig
	Engine   EngineConfig
}

type ServerConfig struct {
	Host        string
	Port        int
	CORSOrigins []string
	BurstRPS    float64
	Burst       int
	// TrustedProxies are the peers whose X-Forwarded-For and X-Real-IP
	// headers are honored. Empty means the TCP peer is always the client.
	TrustedProxies []netip.Prefix
}

type DatabaseConfig struct {
	URL               string
	MaxConns          int
	MinConns          int
	MaxConnIdleTime   time.Duration
	HealthCheckPeriod time.Duration
	ConnectTimeout    time.Duration
	ApplicationName   string
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

type AuthConfig struct {
	JWTSecret    string
	JWTExpiry    time.Duration
	APIKeyHeader string
	UserCacheTTL time.Duration
}

// FilesConfig holds per-tier upload ceilings and output retention.
type FilesConfig struct {
	TempDir            string
	ExpiryFree         time.Duration
	ExpiryPro          time.Duration
	MaxFileSizeFreeMB  int
	MaxFileSizeProMB   int
	MaxImageSizeFreeMB int
	MaxImageSizeProMB  int
	MaxFilesMergeFree  int
	MaxFilesMergePro   int
	MaxImagesFree      int
	MaxImagesPro       int
}

// LimitsConfig holds the free-tier daily quota per tool.
type LimitsConfig struct {
	CompressFree   int
	MergeFree      int
	ImageToPDFFree int
}

type WorkerConfig struct {
	Concurrency       int
	ProcessingTimeout time.Duration
	StaleJobTimeout   time.Duration
	SweepInterval     time.Duration
	OrphanMaxAge      time.Duration
	JobRetention      time.Duration
}

type EngineConfig struct {
	GhostscriptPath string
}

// Load reads configuration from the environment. Values from .env.local and
// .env are applied first without overriding variables that are already set.
func Load() (*Config, error) {
	for _, f := range []string{".env.local", ".env"} {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("load %s: %w", f, err)
		}
	}

	l := &loader{}

	cfg := &Config{
		Env: getEnv("APP_ENV", "production"),
		Server: ServerConfig{
			Host:        getEnv("SERVER_HOST", "0.0.0.0"),
			Port:        l.int("SERVER_PORT", 8080),
			CORSOrigins: getEnvList("CORS_ORIGINS", []string{"https://slimpdf.io", "https://dev.slimpdf.io", "http://localhost:3000"}),
			BurstRPS:    l.float("BURST_RATE_RPS", 10),
			Burst:       l.int("BURST_RATE_BURST", 30),

			TrustedProxies: l.prefixes("TRUSTED_PROXIES"),
		},
		Database: DatabaseConfig{
			URL:               getEnv("DATABASE_URL", ""),
			MaxConns:          l.int("DB_MAX_CONNS", 20),
			MinConns:          l.int("DB_MIN_CONNS", 2),
			MaxConnIdleTime:   l.duration("DB_MAX_CONN_IDLE_TIME", 30*time.Minute),
			HealthCheckPeriod: l.duration("DB_HEALTH_CHECK_PERIOD", time.Minute),
			ConnectTimeout:    l.duration("DB_CONNECT_TIMEOUT", 10*time.Second),
			ApplicationName:   getEnv("DB_APPLICATION_NAME", "slimpdf"),
		},
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", "localhost:6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       l.int("REDIS_DB", 0),
		},
		Auth: AuthConfig{
			JWTSecret:    getEnv("JWT_SECRET", ""),
			JWTExpiry:    time.Duration(l.int("JWT_EXPIRY_HOURS", 24)) * time.Hour,
			APIKeyHeader: getEnv("API_KEY_HEADER", "X-API-Key"),
			UserCacheTTL: l.duration("USER_CACHE_TTL", 5*time.Minute),
		},
		Files: FilesConfig{
			TempDir:            getEnv("TEMP_FILE_DIR", "/tmp/slimpdf"),
			ExpiryFree:         time.Duration(l.int("FILE_EXPIRY_FREE_HOURS", 1)) * time.Hour,
			ExpiryPro:          time.Duration(l.int("FILE_EXPIRY_PRO_HOURS", 24)) * time.Hour,
			MaxFileSizeFreeMB:  l.int("MAX_FILE_SIZE_FREE_MB", 20),
			MaxFileSizeProMB:   l.int("MAX_FILE_SIZE_PRO_MB", 100),
			MaxImageSizeFreeMB: l.int("MAX_IMAGE_SIZE_FREE_MB", 5),
			MaxImageSizeProMB:  l.int("MAX_IMAGE_SIZE_PRO_MB", 20),
			MaxFilesMergeFree:  l.int("MAX_FILES_MERGE_FREE", 5),
			MaxFilesMergePro:   l.int("MAX_FILES_MERGE_PRO", 50),
			MaxImagesFree:      l.int("MAX_IMAGES_FREE", 10),
			MaxImagesPro:       l.int("MAX_IMAGES_PRO", 100),
		},
		Limits: LimitsConfig{
			CompressFree:   l.int("RATE_LIMIT_COMPRESS_FREE", 2),
			MergeFree:      l.int("RATE_LIMIT_MERGE_FREE", 3),
			ImageToPDFFree: l.int("RATE_LIMIT_IMAGE_TO_PDF_FREE", 3),
		},
		Worker: WorkerConfig{
			Concurrency:       l.int("WORKER_CONCURRENCY", 4),
			ProcessingTimeout: l.duration("PROCESSING_TIMEOUT", 10*time.Minute),
			StaleJobTimeout:   l.duration("STALE_JOB_TIMEOUT", time.Hour),
			SweepInterval:     l.duration("SWEEP_INTERVAL", 15*time.Minute),
			OrphanMaxAge:      l.duration("ORPHAN_MAX_AGE", 24*time.Hour),
			JobRetention:      l.duration("JOB_RETENTION", 7*24*time.Hour),
		},
		Engine: EngineConfig{
			GhostscriptPath: getEnv("GHOSTSCRIPT_PATH", "gs"),
		},
	}

	if l.err != nil {
		return nil, l.err
	}
	return cfg, nil
}

func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}

func (c *Config) IsDevelopment() bool {
	return c.Env == "development"
}

func (c *Config) Validate() error {
	var missing []string
	if c.Database.URL == "" {
		missing = append(missing, "DATABASE_URL")
	}
	if c.Auth.JWTSecret == "" {
		missing = append(missing, "JWT_SECRET")
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing required env vars: %s", strings.Join(missing, ", "))
	}
	if c.Limits.CompressFree < 1 || c.Limits.MergeFree < 1 || c.Limits.ImageToPDFFree < 1 {
		return fmt.Errorf("free tier daily limits must be at least 1")
	}
	if c.Worker.StaleJobTimeout <= c.Worker.ProcessingTimeout {
		return fmt.Errorf("STALE_JOB_TIMEOUT (%s) must exceed PROCESSING_TIMEOUT (%s)", c.Worker.StaleJobTimeout, c.Worker.ProcessingTimeout)
	}
	return nil
}

// loader keeps the first parse error so Load can build the struct in one literal.
type loader struct {
	err error
}

func (l *loader) int(key string, fallback int) int {
	v, err := getEnvInt(key, fallback)
	if err != nil && l.err == nil {
		l.err = fmt.Errorf("invalid %s: %w", key, err)
	}
	return v
}

func (l *loader) float(key string, fallback float64) float64 {
	v, err := getEnvFloat(key, fallback)
	if err != nil && l.err == nil {
		l.err = fmt.Errorf("invalid %s: %w", key, err)
	}
	return v
}

func (l *loader) duration(key string, fallback time.Duration) time.Duration {
	v, err := getEnvDuration(key, fallback)
	if err != nil && l.err == nil {
		l.err = fmt.Errorf("invalid %s: %w", key, err)
	}
	return v
}

// prefixes reads a comma separated list of CIDRs or bare addresses.
func (l *loader) prefixes(key string) []netip.Prefix {
	var out []netip.Prefix
	for _, s := range getEnvList(key, nil) {
		p, err := parsePrefix(s)
		if err != nil {
			if l.err == nil {
				l.err = fmt.Errorf("invalid %s: %w", key, err)
			}
			continue
		}
		out = append(out, p)
	}
	return out
}

func parsePrefix(s string) (netip.Prefix, error) {
	if strings.Contains(s, "/") {
		p, err := netip.ParsePrefix(s)
		return p.Masked(), err
	}
	addr, err := netip.ParseAddr(s)
	if err != nil {
		return netip.Prefix{}, err
	}
	addr = addr.Unmap()
	return netip.PrefixFrom(addr, addr.BitLen()), nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	return strconv.Atoi(v)
}

func getEnvFloat(key string, fallback float64) (float64, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	return strconv.ParseFloat(v, 64)
}

func getEnvDuration(key string, fallback time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	return time.ParseDuration(v)
}

func getEnvList(key string, fallback []string) []string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	var out []string
	for _, part := range strings.Split(v, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
