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
	Server   ServerConfig
	Scraper  ScraperConfig
	Identity IdentityConfig
	Browser  BrowserConfig
	Captcha  CaptchaConfig
	Imaging  ImagingConfig
	Output   OutputConfig
	Database DatabaseConfig
	Redis    RedisConfig
	Logging  LoggingConfig
}

type ServerConfig struct {
	Port            string
	Host            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
}

type ScraperConfig struct {
	DelayMin         time.Duration
	DelayMax         time.Duration
	MaxAttempts      int
	RequestsPerMin   int
	BlockRatioWindow int
	ConcurrentTasks  int
	FetchTimeout     time.Duration
	UserAgents       []string
}

type IdentityConfig struct {
	Proxies          []string
	CooldownAfter    int
	CooldownWindow   time.Duration
	BlacklistCeiling int
}

type BrowserConfig struct {
	Headless       bool
	Timeout        time.Duration
	MaxSessions    int
	ViewportWidth  int
	ViewportHeight int
	AcceptLanguage string
	TimezoneID     string
	Locale         string
	TraceDir       string
}

type CaptchaConfig struct {
	Endpoint     string
	APIKey       string
	PollInterval time.Duration
	Timeout      time.Duration
}

type ImagingConfig struct {
	TemplatePath  string
	MetadataPath  string
	MatchMin      float64
	NearThreshold float64
	CropEpsilon   int
	JPEGQuality   int
	MaxWidth      int
	Workers       int
}

type OutputConfig struct {
	Root           string
	CSVName        string
	SummaryName    string
	AuditLogName   string
	ZipOutputs     bool
	ZipImagesName  string
	ZipShotsName   string
	AuditStream    string
}

type DatabaseConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	DBName   string
	SSLMode  string
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

type LoggingConfig struct {
	Level  string
	Format string
}

func Load() (*Config, error) {
	// Optional .env, real environment wins.
	_ = godotenv.Load()

	cfg := &Config{
		Server: ServerConfig{
			Port:            getEnvOrDefault("SERVER_PORT", "8080"),
			Host:            getEnvOrDefault("SERVER_HOST", "0.0.0.0"),
			ReadTimeout:     getDurationOrDefault("SERVER_READ_TIMEOUT", 30*time.Second),
			WriteTimeout:    getDurationOrDefault("SERVER_WRITE_TIMEOUT", 30*time.Second),
			ShutdownTimeout: getDurationOrDefault("SERVER_SHUTDOWN_TIMEOUT", 10*time.Second),
		},
		Scraper: ScraperConfig{
			DelayMin:         getDurationOrDefault("SCRAPER_DELAY_MIN", 3*time.Second),
			DelayMax:         getDurationOrDefault("SCRAPER_DELAY_MAX", 10*time.Second),
			MaxAttempts:      getIntOrDefault("SCRAPER_MAX_ATTEMPTS", 2),
			RequestsPerMin:   getIntOrDefault("SCRAPER_REQUESTS_PER_MIN", 60),
			BlockRatioWindow: getIntOrDefault("SCRAPER_BLOCK_RATIO_WINDOW", 100),
			ConcurrentTasks:  getIntOrDefault("SCRAPER_CONCURRENT_TASKS", 8),
			FetchTimeout:     getDurationOrDefault("SCRAPER_FETCH_TIMEOUT", 30*time.Second),
			UserAgents:       getStringSliceOrDefault("SCRAPER_USER_AGENTS", defaultUserAgents()),
		},
		Identity: IdentityConfig{
			Proxies:          getStringSliceOrDefault("IDENTITY_PROXIES", []string{}),
			CooldownAfter:    getIntOrDefault("IDENTITY_COOLDOWN_AFTER", 3),
			CooldownWindow:   getDurationOrDefault("IDENTITY_COOLDOWN_WINDOW", 5*time.Minute),
			BlacklistCeiling: getIntOrDefault("IDENTITY_BLACKLIST_CEILING", 10),
		},
		Browser: BrowserConfig{
			Headless:       getBoolOrDefault("BROWSER_HEADLESS", true),
			Timeout:        getDurationOrDefault("BROWSER_TIMEOUT", 30*time.Second),
			MaxSessions:    getIntOrDefault("BROWSER_MAX_SESSIONS", 3),
			ViewportWidth:  getIntOrDefault("BROWSER_VIEWPORT_WIDTH", 1920),
			ViewportHeight: getIntOrDefault("BROWSER_VIEWPORT_HEIGHT", 1080),
			AcceptLanguage: getEnvOrDefault("BROWSER_ACCEPT_LANGUAGE", "ko-KR,ko;q=0.9,en;q=0.8"),
			TimezoneID:     getEnvOrDefault("BROWSER_TIMEZONE", "Asia/Seoul"),
			Locale:         getEnvOrDefault("BROWSER_LOCALE", "ko-KR"),
			TraceDir:       getEnvOrDefault("BROWSER_TRACE_DIR", "output/traces"),
		},
		Captcha: CaptchaConfig{
			Endpoint:     getEnvOrDefault("CAPTCHA_ENDPOINT", "https://api.2captcha.com"),
			APIKey:       getEnvOrDefault("CAPTCHA_API_KEY", ""),
			PollInterval: getDurationOrDefault("CAPTCHA_POLL_INTERVAL", 5*time.Second),
			Timeout:      getDurationOrDefault("CAPTCHA_TIMEOUT", 2*time.Minute),
		},
		Imaging: ImagingConfig{
			TemplatePath:  getEnvOrDefault("IMAGING_TEMPLATE_PATH", "templates/detail_header.png"),
			MetadataPath:  getEnvOrDefault("IMAGING_METADATA_PATH", "templates/detail_header.json"),
			MatchMin:      getFloatOrDefault("IMAGING_MATCH_MIN", 0.8),
			NearThreshold: getFloatOrDefault("IMAGING_NEAR_THRESHOLD", 0.8),
			CropEpsilon:   getIntOrDefault("IMAGING_CROP_EPSILON", 10),
			JPEGQuality:   getIntOrDefault("IMAGING_JPEG_QUALITY", 90),
			MaxWidth:      getIntOrDefault("IMAGING_MAX_WIDTH", 1200),
			Workers:       getIntOrDefault("IMAGING_WORKERS", 4),
		},
		Output: OutputConfig{
			Root:          getEnvOrDefault("OUTPUT_ROOT", "output"),
			CSVName:       getEnvOrDefault("OUTPUT_CSV_NAME", "shopify_import.csv"),
			SummaryName:   getEnvOrDefault("OUTPUT_SUMMARY_NAME", "run_summary.json"),
			AuditLogName:  getEnvOrDefault("OUTPUT_AUDIT_LOG_NAME", "audit.jsonl"),
			ZipOutputs:    getBoolOrDefault("OUTPUT_ZIP", true),
			ZipImagesName: getEnvOrDefault("OUTPUT_ZIP_IMAGES_NAME", "images.zip"),
			ZipShotsName:  getEnvOrDefault("OUTPUT_ZIP_SCREENSHOTS_NAME", "screenshots.zip"),
			AuditStream:   getEnvOrDefault("OUTPUT_AUDIT_STREAM", "stream:harvester_audit"),
		},
		Database: DatabaseConfig{
			Host:     getEnvOrDefault("DB_HOST", "localhost"),
			Port:     getIntOrDefault("DB_PORT", 5432),
			User:     getEnvOrDefault("DB_USER", "postgres"),
			Password: getEnvOrDefault("DB_PASSWORD", ""),
			DBName:   getEnvOrDefault("DB_NAME", "cafe24_harvester"),
			SSLMode:  getEnvOrDefault("DB_SSL_MODE", "disable"),
		},
		Redis: RedisConfig{
			Addr:     getEnvOrDefault("REDIS_ADDR", ""),
			Password: getEnvOrDefault("REDIS_PASSWORD", ""),
			DB:       getIntOrDefault("REDIS_DB", 0),
		},
		Logging: LoggingConfig{
			Level:  getEnvOrDefault("LOG_LEVEL", "info"),
			Format: getEnvOrDefault("LOG_FORMAT", "json"),
		},
	}

	return cfg, nil
}

func (c *Config) Validate() error {
	if c.Scraper.ConcurrentTasks < 1 {
		return fmt.Errorf("SCRAPER_CONCURRENT_TASKS must be at least 1")
	}

	if c.Scraper.DelayMin > c.Scraper.DelayMax {
		return fmt.Errorf("SCRAPER_DELAY_MIN cannot be greater than SCRAPER_DELAY_MAX")
	}

	if c.Scraper.MaxAttempts < 1 {
		return fmt.Errorf("SCRAPER_MAX_ATTEMPTS must be at least 1")
	}

	if c.Browser.MaxSessions < 1 {
		return fmt.Errorf("BROWSER_MAX_SESSIONS must be at least 1")
	}

	if c.Imaging.MatchMin < 0 || c.Imaging.MatchMin > 1 {
		return fmt.Errorf("IMAGING_MATCH_MIN must be within [0,1]")
	}

	if c.Imaging.JPEGQuality < 1 || c.Imaging.JPEGQuality > 100 {
		return fmt.Errorf("IMAGING_JPEG_QUALITY must be within [1,100]")
	}

	return nil
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getIntOrDefault(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func getFloatOrDefault(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getBoolOrDefault(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func getDurationOrDefault(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

func getStringSliceOrDefault(key string, defaultValue []string) []string {
	if value := os.Getenv(key); value != "" {
		return strings.Split(value, ",")
	}
	return defaultValue
}

func defaultUserAgents() []string {
	return []string{
		"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
		"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/119.0.0.0 Safari/537.36",
		"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
		"Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
	}
}
