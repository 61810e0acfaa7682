package infra

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config represents application configuration resolved from the environment
// and an optional YAML file.
type Config struct {
	AppEnv           string
	Port             string
	HTTPReadTimeout  time.Duration
	HTTPWriteTimeout time.Duration
	HTTPIdleTimeout  time.Duration
	RateLimitPerMin  int
	CORSAllowOrigins []string

	OpenRouterAPIKey  string
	OpenRouterBaseURL string
	PromptModel       string
	PromptMaxTokens   int
	PromptReferer     string
	PromptAppTitle    string

	HuggingFaceAPIKey         string
	HuggingFaceEndpoints      string
	HuggingFaceAttemptTimeout time.Duration

	ReplicateAPIKey       string
	ReplicateBaseURL      string
	ReplicateModelVersion string
	ReplicatePollInterval time.Duration
	ReplicateMaxAttempts  int

	APIURL string

	LogLevel          string
	LogFile           string
	LogFileMaxSizeMB  int
	LogFileMaxBackups int
	LogFileMaxAgeDays int
}

// Each key lists its environment names in lookup order; VITE_ names are kept
// for deployments that share an env file with the web client.
var envBindings = map[string][]string{
	"app_env":                    {"APP_ENV"},
	"port":                       {"PORT"},
	"http_read_timeout_seconds":  {"HTTP_READ_TIMEOUT_SECONDS"},
	"http_write_timeout_seconds": {"HTTP_WRITE_TIMEOUT_SECONDS"},
	"http_idle_timeout_seconds":  {"HTTP_IDLE_TIMEOUT_SECONDS"},
	"rate_limit_per_minute":      {"RATE_LIMIT_PER_MINUTE"},
	"cors_allowed_origins":       {"CORS_ALLOWED_ORIGINS"},

	"openrouter_api_key":  {"OPENROUTER_API_KEY", "VITE_OPENROUTER_API_KEY"},
	"openrouter_base_url": {"OPENROUTER_BASE_URL"},
	"prompt_model":        {"PROMPT_MODEL"},
	"prompt_max_tokens":   {"PROMPT_MAX_TOKENS"},
	"prompt_referer":      {"PROMPT_REFERER"},
	"prompt_app_title":    {"PROMPT_APP_TITLE"},

	"huggingface_api_key":                 {"HUGGINGFACE_API_KEY", "VITE_HUGGINGFACE_API_KEY"},
	"huggingface_endpoints":               {"HUGGINGFACE_ENDPOINTS"},
	"huggingface_attempt_timeout_seconds": {"HUGGINGFACE_ATTEMPT_TIMEOUT_SECONDS"},

	"replicate_api_key":          {"REPLICATE_API_KEY", "VITE_REPLICATE_API_KEY"},
	"replicate_base_url":         {"REPLICATE_BASE_URL"},
	"replicate_model_version":    {"REPLICATE_MODEL_VERSION"},
	"replicate_poll_interval_ms": {"REPLICATE_POLL_INTERVAL_MS"},
	"replicate_max_attempts":     {"REPLICATE_MAX_ATTEMPTS"},

	"api_url": {"API_URL", "VITE_API_URL"},

	"log_level":             {"LOG_LEVEL"},
	"log_file":              {"LOG_FILE"},
	"log_file_max_size_mb":  {"LOG_FILE_MAX_SIZE_MB"},
	"log_file_max_backups":  {"LOG_FILE_MAX_BACKUPS"},
	"log_file_max_age_days": {"LOG_FILE_MAX_AGE_DAYS"},
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app_env", "development")
	v.SetDefault("port", "3001")
	v.SetDefault("http_read_timeout_seconds", 15)
	v.SetDefault("http_write_timeout_seconds", 150)
	v.SetDefault("http_idle_timeout_seconds", 60)
	v.SetDefault("rate_limit_per_minute", 30)
	v.SetDefault("cors_allowed_origins", "*")

	v.SetDefault("openrouter_base_url", "https://openrouter.ai/api/v1")
	v.SetDefault("prompt_model", "openai/gpt-4o-mini")
	v.SetDefault("prompt_max_tokens", 200)
	v.SetDefault("prompt_referer", "http://localhost:3000")
	v.SetDefault("prompt_app_title", "Image Generator App")

	v.SetDefault("huggingface_attempt_timeout_seconds", 60)

	v.SetDefault("replicate_base_url", "https://api.replicate.com/v1")
	v.SetDefault("replicate_poll_interval_ms", 1000)
	v.SetDefault("replicate_max_attempts", 60)

	v.SetDefault("log_file_max_size_mb", 100)
	v.SetDefault("log_file_max_backups", 3)
	v.SetDefault("log_file_max_age_days", 28)
}

// LoadDotEnv loads .env.local and then .env into the process environment.
// Variables that are already set win; missing files are ignored.
func LoadDotEnv() error {
	for _, name := range []string{".env.local", ".env"} {
		if _, err := os.Stat(name); err != nil {
			continue
		}
		if err := godotenv.Load(name); err != nil {
			return fmt.Errorf("infra: load %s: %w", name, err)
		}
	}
	return nil
}

// LoadConfig resolves configuration once. Credentials are optional here;
// their absence is reported per request.
func LoadConfig() (*Config, error) {
	v := viper.New()
	setDefaults(v)
	for key, names := range envBindings {
		args := append([]string{key}, names...)
		if err := v.BindEnv(args...); err != nil {
			return nil, fmt.Errorf("infra: bind %s: %w", key, err)
		}
	}
	if path := strings.TrimSpace(os.Getenv("CONFIG_FILE")); path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("infra: read config file %s: %w", path, err)
		}
	}

	cfg := &Config{
		AppEnv:           strings.TrimSpace(v.GetString("app_env")),
		Port:             strings.TrimSpace(v.GetString("port")),
		HTTPReadTimeout:  time.Second * time.Duration(v.GetInt("http_read_timeout_seconds")),
		HTTPWriteTimeout: time.Second * time.Duration(v.GetInt("http_write_timeout_seconds")),
		HTTPIdleTimeout:  time.Second * time.Duration(v.GetInt("http_idle_timeout_seconds")),
		RateLimitPerMin:  v.GetInt("rate_limit_per_minute"),
		CORSAllowOrigins: splitList(v.GetString("cors_allowed_origins")),

		OpenRouterAPIKey:  strings.TrimSpace(v.GetString("openrouter_api_key")),
		OpenRouterBaseURL: strings.TrimSpace(v.GetString("openrouter_base_url")),
		PromptModel:       strings.TrimSpace(v.GetString("prompt_model")),
		PromptMaxTokens:   v.GetInt("prompt_max_tokens"),
		PromptReferer:     strings.TrimSpace(v.GetString("prompt_referer")),
		PromptAppTitle:    strings.TrimSpace(v.GetString("prompt_app_title")),

		HuggingFaceAPIKey:         strings.TrimSpace(v.GetString("huggingface_api_key")),
		HuggingFaceEndpoints:      strings.TrimSpace(v.GetString("huggingface_endpoints")),
		HuggingFaceAttemptTimeout: time.Second * time.Duration(v.GetInt("huggingface_attempt_timeout_seconds")),

		ReplicateAPIKey:       strings.TrimSpace(v.GetString("replicate_api_key")),
		ReplicateBaseURL:      strings.TrimSpace(v.GetString("replicate_base_url")),
		ReplicateModelVersion: strings.TrimSpace(v.GetString("replicate_model_version")),
		ReplicatePollInterval: time.Millisecond * time.Duration(v.GetInt("replicate_poll_interval_ms")),
		ReplicateMaxAttempts:  v.GetInt("replicate_max_attempts"),

		APIURL: strings.TrimRight(strings.TrimSpace(v.GetString("api_url")), "/"),

		LogLevel:          strings.TrimSpace(v.GetString("log_level")),
		LogFile:           strings.TrimSpace(v.GetString("log_file")),
		LogFileMaxSizeMB:  v.GetInt("log_file_max_size_mb"),
		LogFileMaxBackups: v.GetInt("log_file_max_backups"),
		LogFileMaxAgeDays: v.GetInt("log_file_max_age_days"),
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	var errs []error
	if c.Port == "" {
		errs = append(errs, errors.New("PORT must not be empty"))
	}
	if c.RateLimitPerMin < 0 {
		errs = append(errs, errors.New("RATE_LIMIT_PER_MINUTE must not be negative"))
	}
	if c.ReplicatePollInterval < 0 {
		errs = append(errs, errors.New("REPLICATE_POLL_INTERVAL_MS must not be negative"))
	}
	if c.ReplicateMaxAttempts <= 0 {
		errs = append(errs, errors.New("REPLICATE_MAX_ATTEMPTS must be positive"))
	}
	if c.HuggingFaceAttemptTimeout <= 0 {
		errs = append(errs, errors.New("HUGGINGFACE_ATTEMPT_TIMEOUT_SECONDS must be positive"))
	}
	if len(errs) > 0 {
		return fmt.Errorf("infra: invalid config: %w", errors.Join(errs...))
	}
	return nil
}

// IsDevelopment reports whether the service runs in development mode.
func (c *Config) IsDevelopment() bool {
	return c.AppEnv == "development"
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
