package profile

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
)

// Profile is configuration to start main server.
type Profile struct {
	// Server
	Mode       string
	Addr       string
	Data       string
	Driver     string
	DSN        string
	Version    string
	InstanceID string // lease holder identity for distributed per-user locks
	Port       int
	GRPCPort   int

	// Logging
	LogLevel  string // debug, info, warn, error
	LogFormat string // json or text

	// Frequency governor
	DefaultMaxPerDay  int
	DefaultMaxPerWeek int
	EnforceBackoff    bool
	WeekendDelayHours int

	// Per-user lock
	LockWait time.Duration
	LeaseTTL time.Duration

	// Delivery
	PushTimeout  time.Duration
	EmailTimeout time.Duration
	ChannelRPS   float64
	ChannelBurst int
	MaxInFlight  int

	// Batch
	BatchConcurrency int
	BatchSize        int

	// Store
	ProfileCacheTTL time.Duration

	// Scheduled triggers (cron specs, evaluated in UTC)
	CronEnabled         bool
	DailyTipSchedule    string
	StreakCheckSchedule string
	EveningSchedule     string

	// Channels
	TelegramBotToken string
	PushWebhookURL   string
	ResendAPIKey     string
	EmailFrom        string

	// AI content variant (OpenAI-compatible protocol)
	LLMProvider   string
	LLMAPIKey     string
	LLMBaseURL    string
	LLMModel      string
	LLMTimeout    time.Duration
	AIVariantRate float64
}

// Provider default configurations for LLM.
// Used when NUDGER_LLM_BASE_URL is not explicitly set.
var llmProviderDefaults = map[string]struct {
	BaseURL string
	Model   string
}{
	"openai": {
		BaseURL: "https://api.openai.com/v1",
		Model:   "gpt-4o-mini",
	},
	"deepseek": {
		BaseURL: "https://api.deepseek.com",
		Model:   "deepseek-chat",
	},
	"siliconflow": {
		BaseURL: "https://api.siliconflow.cn/v1",
		Model:   "Qwen/Qwen2.5-7B-Instruct",
	},
	"ollama": {
		BaseURL: "http://localhost:11434/v1",
		Model:   "llama3.1",
	},
}

func (p *Profile) IsDev() bool {
	return p.Mode != "prod"
}

// IsAIEnabled returns true if LLM API key is configured and some traffic is sampled.
func (p *Profile) IsAIEnabled() bool {
	return p.LLMAPIKey != "" && p.AIVariantRate > 0
}

// getEnvOrDefault returns environment variable value or default value.
func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvOrDefaultInt returns environment variable value as int or default value.
func getEnvOrDefaultInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvOrDefaultFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getEnvOrDefaultBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

// getEnvOrDefaultDuration accepts Go duration strings ("90s", "5m").
func getEnvOrDefaultDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
		slog.Warn("invalid duration in environment, using default", "key", key, "value", value)
	}
	return defaultValue
}

// FromEnv loads configuration from environment variables.
func (p *Profile) FromEnv() {
	p.LogLevel = getEnvOrDefault("NUDGER_LOG_LEVEL", "info")
	p.LogFormat = getEnvOrDefault("NUDGER_LOG_FORMAT", "text")
	if p.InstanceID == "" {
		host, _ := os.Hostname()
		p.InstanceID = getEnvOrDefault("NUDGER_INSTANCE_ID", fmt.Sprintf("%s-%d", host, os.Getpid()))
	}
	if p.GRPCPort == 0 {
		p.GRPCPort = getEnvOrDefaultInt("NUDGER_GRPC_PORT", 0)
	}

	p.DefaultMaxPerDay = getEnvOrDefaultInt("NUDGER_DEFAULT_MAX_PER_DAY", 3)
	p.DefaultMaxPerWeek = getEnvOrDefaultInt("NUDGER_DEFAULT_MAX_PER_WEEK", 10)
	p.EnforceBackoff = getEnvOrDefaultBool("NUDGER_ENFORCE_BACKOFF", false)
	p.WeekendDelayHours = getEnvOrDefaultInt("NUDGER_WEEKEND_DELAY_HOURS", 2)

	p.LockWait = getEnvOrDefaultDuration("NUDGER_LOCK_WAIT", 0)
	p.LeaseTTL = getEnvOrDefaultDuration("NUDGER_LEASE_TTL", 2*time.Minute)

	p.PushTimeout = getEnvOrDefaultDuration("NUDGER_PUSH_TIMEOUT", 10*time.Second)
	p.EmailTimeout = getEnvOrDefaultDuration("NUDGER_EMAIL_TIMEOUT", 15*time.Second)
	p.ChannelRPS = getEnvOrDefaultFloat("NUDGER_CHANNEL_RPS", 20)
	p.ChannelBurst = getEnvOrDefaultInt("NUDGER_CHANNEL_BURST", 10)
	p.MaxInFlight = getEnvOrDefaultInt("NUDGER_MAX_IN_FLIGHT", 32)

	p.BatchConcurrency = getEnvOrDefaultInt("NUDGER_BATCH_CONCURRENCY", 8)
	p.BatchSize = getEnvOrDefaultInt("NUDGER_BATCH_SIZE", 500)

	p.ProfileCacheTTL = getEnvOrDefaultDuration("NUDGER_PROFILE_CACHE_TTL", time.Minute)

	p.CronEnabled = getEnvOrDefaultBool("NUDGER_CRON_ENABLED", true)
	p.DailyTipSchedule = getEnvOrDefault("NUDGER_CRON_DAILY_TIP", "0 * * * *")
	p.StreakCheckSchedule = getEnvOrDefault("NUDGER_CRON_STREAK_CHECK", "30 * * * *")
	p.EveningSchedule = getEnvOrDefault("NUDGER_CRON_EVENING", "0 * * * *")

	p.TelegramBotToken = getEnvOrDefault("NUDGER_TELEGRAM_BOT_TOKEN", "")
	p.PushWebhookURL = getEnvOrDefault("NUDGER_PUSH_WEBHOOK_URL", "")
	p.ResendAPIKey = getEnvOrDefault("NUDGER_RESEND_API_KEY", "")
	p.EmailFrom = getEnvOrDefault("NUDGER_EMAIL_FROM", "")

	p.LLMProvider = getEnvOrDefault("NUDGER_LLM_PROVIDER", "openai")
	p.LLMAPIKey = getEnvOrDefault("NUDGER_LLM_API_KEY", "")
	p.LLMBaseURL = getEnvOrDefault("NUDGER_LLM_BASE_URL", "")
	p.LLMModel = getEnvOrDefault("NUDGER_LLM_MODEL", "")
	p.LLMTimeout = getEnvOrDefaultDuration("NUDGER_LLM_TIMEOUT", 20*time.Second)
	p.AIVariantRate = getEnvOrDefaultFloat("NUDGER_AI_VARIANT_RATE", 0.1)

	if _, ok := llmProviderDefaults[p.LLMProvider]; !ok {
		slog.Warn("Unknown LLM provider, using default: openai", "provider", p.LLMProvider)
		p.LLMProvider = "openai"
	}
	defaults := llmProviderDefaults[p.LLMProvider]
	if p.LLMBaseURL == "" {
		p.LLMBaseURL = defaults.BaseURL
	}
	if p.LLMModel == "" {
		p.LLMModel = defaults.Model
	}
}

func checkDataDir(dataDir string) (string, error) {
	// Convert to absolute path if relative path is supplied.
	if !filepath.IsAbs(dataDir) {
		relativeDir := filepath.Join(filepath.Dir(os.Args[0]), dataDir)
		absDir, err := filepath.Abs(relativeDir)
		if err != nil {
			return "", err
		}
		dataDir = absDir
	}

	// Trim trailing \ or / in case user supplies
	dataDir = strings.TrimRight(dataDir, "\\/")
	if _, err := os.Stat(dataDir); err != nil {
		return "", errors.Wrapf(err, "unable to access data folder %s", dataDir)
	}
	return dataDir, nil
}

func (p *Profile) Validate() error {
	if p.Mode != "demo" && p.Mode != "dev" && p.Mode != "prod" {
		p.Mode = "demo"
	}

	if p.Mode == "prod" && p.Data == "" {
		if runtime.GOOS == "windows" {
			p.Data = filepath.Join(os.Getenv("ProgramData"), "nudger")
			if _, err := os.Stat(p.Data); os.IsNotExist(err) {
				if err := os.MkdirAll(p.Data, 0770); err != nil {
					slog.Error("failed to create data directory", slog.String("data", p.Data), slog.String("error", err.Error()))
					return err
				}
			}
		} else {
			p.Data = "/var/opt/nudger"
		}
	}

	dataDir, err := checkDataDir(p.Data)
	if err != nil {
		slog.Error("failed to check dsn", slog.String("data", dataDir), slog.String("error", err.Error()))
		return err
	}

	p.Data = dataDir
	if p.Driver == "sqlite" && p.DSN == "" {
		p.DSN = filepath.Join(dataDir, fmt.Sprintf("nudger_%s.db", p.Mode))
	}
	if p.Driver == "postgres" && p.DSN == "" {
		return errors.New("dsn required for postgres driver")
	}

	if p.DefaultMaxPerDay < 0 || p.DefaultMaxPerWeek < 0 {
		return errors.Errorf("frequency caps must not be negative: day=%d week=%d", p.DefaultMaxPerDay, p.DefaultMaxPerWeek)
	}
	if p.AIVariantRate < 0 || p.AIVariantRate > 1 {
		return errors.Errorf("ai variant rate must be within [0, 1], got %v", p.AIVariantRate)
	}
	return nil
}
