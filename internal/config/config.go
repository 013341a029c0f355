package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config содержит все настройки процесса
type Config struct {
	HTTP      HTTPConfig
	Paths     PathsConfig
	Telegram  TelegramConfig
	Bybit     BybitConfig
	Database  DatabaseConfig
	Redis     RedisConfig
	Scheduler SchedulerConfig
	Guard     GuardConfig
	LogLevel  string
	LogFormat string
}

type HTTPConfig struct {
	Port     int
	APIToken string
}

type PathsConfig struct {
	AuditRoot     string
	StateDir      string
	TenantsFile   string
	PolicyFile    string
	AuditTimezone string
}

type TelegramConfig struct {
	BotToken string
	ChatID   int64
	AdminIDs string
}

type BybitConfig struct {
	APIKey            string
	APISecret         string
	BaseURL           string
	RequestsPerSecond float64
}

type DatabaseConfig struct {
	Enabled         bool
	Host            string
	Port            int
	User            string
	Password        string
	DBName          string
	SSLMode         string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

type RedisConfig struct {
	URL    string
	Prefix string
}

type SchedulerConfig struct {
	Workers          int
	Tick             time.Duration
	DailyWindowStart string // HH:MM в часовом поясе аудита
	DailyWindow      time.Duration
}

type GuardConfig struct {
	ProbeSymbol       string
	HeartbeatInterval time.Duration
}

// Load загружает конфигурацию из .env файла и окружения
func Load() (*Config, error) {
	// Загружаем .env файл (если есть)
	_ = godotenv.Load()

	p := &envParser{}
	config := &Config{
		HTTP: HTTPConfig{
			Port:     p.int("HTTP_PORT", "8080"),
			APIToken: getEnv("API_TOKEN", ""),
		},
		Paths: PathsConfig{
			AuditRoot:     getEnv("AUDIT_ROOT", "./data/audit"),
			StateDir:      getEnv("STATE_DIR", "./data/state"),
			TenantsFile:   getEnv("TENANTS_FILE", "./configs/tenants.yaml"),
			PolicyFile:    getEnv("POLICY_FILE", ""),
			AuditTimezone: getEnv("AUDIT_TZ", "America/New_York"),
		},
		Telegram: TelegramConfig{
			BotToken: getEnv("TELEGRAM_BOT_TOKEN", ""),
			ChatID:   p.int64("TELEGRAM_CHAT_ID", "0"),
			AdminIDs: getEnv("TELEGRAM_ADMIN_IDS", ""),
		},
		Bybit: BybitConfig{
			APIKey:            getEnv("BYBIT_API_KEY", ""),
			APISecret:         getEnv("BYBIT_API_SECRET", ""),
			BaseURL:           getEnv("BYBIT_BASE_URL", "https://api.bybit.com"),
			RequestsPerSecond: p.float("BYBIT_RPS", "10"),
		},
		Database: DatabaseConfig{
			Enabled:         p.bool("DB_ENABLED", "false"),
			Host:            getEnv("DB_HOST", "localhost"),
			Port:            p.int("DB_PORT", "5432"),
			User:            getEnv("DB_USER", "postgres"),
			Password:        getEnv("DB_PASSWORD", ""),
			DBName:          getEnv("DB_NAME", "riskgate"),
			SSLMode:         getEnv("DB_SSLMODE", "disable"),
			MaxOpenConns:    p.int("DB_MAX_OPEN_CONNS", "25"),
			MaxIdleConns:    p.int("DB_MAX_IDLE_CONNS", "5"),
			ConnMaxLifetime: p.duration("DB_CONN_MAX_LIFETIME", "5m"),
		},
		Redis: RedisConfig{
			URL:    getEnv("REDIS_URL", ""),
			Prefix: getEnv("REDIS_PREFIX", "riskgate"),
		},
		Scheduler: SchedulerConfig{
			Workers:          p.int("SCHEDULER_WORKERS", "8"),
			Tick:             p.duration("SCHEDULER_TICK", "1m"),
			DailyWindowStart: getEnv("DAILY_WINDOW_START", "17:00"),
			DailyWindow:      p.duration("DAILY_WINDOW", "5m"),
		},
		Guard: GuardConfig{
			ProbeSymbol:       getEnv("GUARD_PROBE_SYMBOL", ""),
			HeartbeatInterval: p.duration("GUARD_HEARTBEAT", "60s"),
		},
		LogLevel:  getEnv("LOG_LEVEL", "info"),
		LogFormat: getEnv("LOG_FORMAT", "json"),
	}
	if p.err != nil {
		return nil, p.err
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}

// Validate проверяет согласованность настроек
func (c *Config) Validate() error {
	if c.HTTP.Port <= 0 || c.HTTP.Port > 65535 {
		return fmt.Errorf("HTTP_PORT out of range: %d", c.HTTP.Port)
	}
	if c.Paths.AuditRoot == "" {
		return fmt.Errorf("AUDIT_ROOT is required")
	}
	if c.Paths.StateDir == "" && !c.Database.Enabled {
		return fmt.Errorf("STATE_DIR is required when DB_ENABLED=false")
	}
	if _, err := c.Location(); err != nil {
		return fmt.Errorf("invalid AUDIT_TZ: %w", err)
	}
	if c.Bybit.APIKey != "" && c.Bybit.APISecret == "" {
		return fmt.Errorf("BYBIT_API_SECRET is required when BYBIT_API_KEY is set")
	}
	if c.Database.Enabled && c.Database.Password == "" {
		return fmt.Errorf("DB_PASSWORD is required")
	}
	if c.Scheduler.Workers <= 0 {
		return fmt.Errorf("SCHEDULER_WORKERS must be positive")
	}
	if _, _, err := c.DailyWindowClock(); err != nil {
		return err
	}
	return nil
}

// Location часовой пояс аудита и дневного окна
func (c *Config) Location() (*time.Location, error) {
	return time.LoadLocation(c.Paths.AuditTimezone)
}

// DailyWindowClock час и минута начала дневного окна
func (c *Config) DailyWindowClock() (int, int, error) {
	parts := strings.Split(c.Scheduler.DailyWindowStart, ":")
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("invalid DAILY_WINDOW_START %q", c.Scheduler.DailyWindowStart)
	}
	hour, err1 := strconv.Atoi(parts[0])
	minute, err2 := strconv.Atoi(parts[1])
	if err1 != nil || err2 != nil || hour < 0 || hour > 23 || minute < 0 || minute > 59 {
		return 0, 0, fmt.Errorf("invalid DAILY_WINDOW_START %q", c.Scheduler.DailyWindowStart)
	}
	return hour, minute, nil
}

// envParser запоминает первую ошибку разбора
type envParser struct {
	err error
}

func (p *envParser) fail(key string, err error) {
	if p.err == nil {
		p.err = fmt.Errorf("invalid %s: %w", key, err)
	}
}

func (p *envParser) int(key, def string) int {
	v, err := strconv.Atoi(getEnv(key, def))
	if err != nil {
		p.fail(key, err)
	}
	return v
}

func (p *envParser) int64(key, def string) int64 {
	v, err := strconv.ParseInt(getEnv(key, def), 10, 64)
	if err != nil {
		p.fail(key, err)
	}
	return v
}

func (p *envParser) float(key, def string) float64 {
	v, err := strconv.ParseFloat(getEnv(key, def), 64)
	if err != nil {
		p.fail(key, err)
	}
	return v
}

func (p *envParser) bool(key, def string) bool {
	v, err := strconv.ParseBool(getEnv(key, def))
	if err != nil {
		p.fail(key, err)
	}
	return v
}

func (p *envParser) duration(key, def string) time.Duration {
	v, err := time.ParseDuration(getEnv(key, def))
	if err != nil {
		p.fail(key, err)
	}
	return v
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
