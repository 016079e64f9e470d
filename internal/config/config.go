package config

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

const (
	BusyPolicyDrop  = "drop"
	BusyPolicyQueue = "queue"
)

var ErrMissingOpenAIKey = errors.New("openai api key is required")

type Config struct {
	OpenAIKey      string        `yaml:"-"`
	OpenAIBaseURL  string        `yaml:"openai_base_url"`
	TelegramToken  string        `yaml:"-"`
	Model          string        `yaml:"model"`
	Greeting       string        `yaml:"greeting"`
	MaxReplyTokens int           `yaml:"max_tokens"`
	RequestTimeout time.Duration `yaml:"request_timeout"`
	DispatchDelay  time.Duration `yaml:"dispatch_delay"`
	BusyPolicy     string        `yaml:"busy_policy"`
	AdminUserIDs   []int64       `yaml:"admin_user_ids"`
	AllowedUserIDs []int64       `yaml:"allowed_user_ids"`
	SessionTTL     time.Duration `yaml:"session_ttl"`
}

func Defaults() Config {
	return Config{
		Model:          "gpt-3.5-turbo",
		Greeting:       "Hello! How can I help you today?",
		MaxReplyTokens: 4096,
		RequestTimeout: 60 * time.Second,
		BusyPolicy:     BusyPolicyDrop,
		SessionTTL:     120 * time.Minute,
	}
}

// Load builds the configuration from defaults, the optional YAML file at
// filePath and the environment, in increasing order of precedence. Values
// from dotEnvPath never override variables already set in the environment.
func Load(dotEnvPath, filePath string, logger *zap.Logger) (Config, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if err := loadDotEnv(dotEnvPath); err != nil {
		logger.Debug("could not read .env", zap.String("path", dotEnvPath), zap.Error(err))
	}

	cfg := Defaults()
	if filePath != "" {
		if err := loadFile(filePath, &cfg); err != nil {
			return cfg, err
		}
	}

	env := envReader{logger: logger}
	cfg.OpenAIBaseURL = env.str("OPENAI_BASE_URL", cfg.OpenAIBaseURL)
	cfg.Model = env.str("OPENAI_MODEL", cfg.Model)
	cfg.Greeting = env.str("GREETING", cfg.Greeting)
	cfg.MaxReplyTokens = env.int("MAX_TOKENS", cfg.MaxReplyTokens)
	cfg.RequestTimeout = env.duration("REQUEST_TIMEOUT_SECONDS", time.Second, cfg.RequestTimeout)
	cfg.DispatchDelay = env.duration("DISPATCH_DELAY_MS", time.Millisecond, cfg.DispatchDelay)
	cfg.BusyPolicy = strings.ToLower(env.str("BUSY_POLICY", cfg.BusyPolicy))
	cfg.SessionTTL = env.duration("SESSION_TTL_MINUTES", time.Minute, cfg.SessionTTL)
	if raw, ok := os.LookupEnv("ADMIN_USER_IDS"); ok {
		cfg.AdminUserIDs = parseIDs(raw, logger)
	}
	if raw, ok := os.LookupEnv("ALLOWED_TELEGRAM_USER_IDS"); ok {
		cfg.AllowedUserIDs = parseIDs(raw, logger)
	}

	cfg.OpenAIKey = os.Getenv("OPENAI_API_KEY")
	cfg.TelegramToken = os.Getenv("TELEGRAM_BOT_TOKEN")

	return cfg, cfg.Validate()
}

func (c Config) Validate() error {
	if c.OpenAIKey == "" {
		return ErrMissingOpenAIKey
	}
	if c.BusyPolicy != BusyPolicyDrop && c.BusyPolicy != BusyPolicyQueue {
		return fmt.Errorf("unknown busy policy %q", c.BusyPolicy)
	}
	if c.MaxReplyTokens < 0 {
		return fmt.Errorf("max tokens must not be negative, got %d", c.MaxReplyTokens)
	}
	return nil
}

func loadFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}
	return nil
}

type envReader struct {
	logger *zap.Logger
}

func (e envReader) str(key, def string) string {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	return v
}

func (e envReader) int(key string, def int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		e.logger.Warn("invalid int, using default",
			zap.String("key", key), zap.String("value", v), zap.Int("default", def))
		return def
	}
	return n
}

func (e envReader) duration(key string, unit, def time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		e.logger.Warn("invalid duration, using default",
			zap.String("key", key), zap.String("value", v), zap.Duration("default", def))
		return def
	}
	return time.Duration(n) * unit
}

func parseIDs(raw string, logger *zap.Logger) []int64 {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}

	parts := strings.Split(raw, ",")
	ids := make([]int64, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		v, err := strconv.ParseInt(p, 10, 64)
		if err != nil {
			logger.Warn("skipping user id", zap.String("id", p), zap.Error(err))
			continue
		}
		ids = append(ids, v)
	}
	return ids
}

func loadDotEnv(path string) error {
	file, err := os.Open(path)
	if err != nil {
		return err
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		key, val, ok := parseEnvLine(line)
		if !ok {
			continue
		}
		if _, exists := os.LookupEnv(key); !exists {
			_ = os.Setenv(key, val)
		}
	}
	return scanner.Err()
}

func parseEnvLine(line string) (string, string, bool) {
	if strings.HasPrefix(line, "export ") {
		line = strings.TrimSpace(strings.TrimPrefix(line, "export "))
	}
	key, val, ok := strings.Cut(line, "=")
	if !ok {
		return "", "", false
	}
	key = strings.TrimSpace(key)
	val = strings.Trim(strings.TrimSpace(val), `"'`)
	if key == "" {
		return "", "", false
	}
	return key, val, true
}
