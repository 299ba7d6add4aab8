package config

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/cloudwego/eino-ext/components/model/ark"
	"github.com/cloudwego/eino/components/model"
)

// Config aggregates the configuration sections. Only the sections filled in
// by the loader that produced it are populated.
type Config struct {
	Client ClientConfig
	Server ServerConfig
	AI     AIConfig
	Log    LogConfig
}

// LoadClient reads the sync client and log sections from the environment.
// Server settings are neither read nor validated.
func LoadClient() (*Config, error) {
	client, err := loadClientConfig()
	if err != nil {
		return nil, err
	}

	logCfg, err := loadLogConfig()
	if err != nil {
		return nil, err
	}

	return &Config{Client: client, Log: logCfg}, nil
}

// LoadServer reads the development server, assistant and log sections from
// the environment.
func LoadServer() (*Config, error) {
	server, err := loadServerConfig()
	if err != nil {
		return nil, err
	}

	ai, err := loadAIConfig()
	if err != nil {
		return nil, err
	}

	logCfg, err := loadLogConfig()
	if err != nil {
		return nil, err
	}

	return &Config{Server: server, AI: ai, Log: logCfg}, nil
}

// ClientConfig describes how the sync client reaches the quote backend.
type ClientConfig struct {
	APIURL            string
	WSURL             string
	Token             string
	Username          string
	Password          string
	SessionID         string
	HTTPTimeout       time.Duration
	HighlightDuration time.Duration
}

// HasCredentials reports whether a login can be attempted.
func (c ClientConfig) HasCredentials() bool {
	return c.Username != "" && c.Password != ""
}

func loadClientConfig() (ClientConfig, error) {
	apiURL := getEnvOrDefault("QUOTE_API_URL", "http://localhost:8002")
	if _, err := url.ParseRequestURI(apiURL); err != nil {
		return ClientConfig{}, fmt.Errorf("invalid QUOTE_API_URL value %q: %w", apiURL, err)
	}

	wsURL := getEnvOrDefault("QUOTE_WS_URL", "ws://localhost:8002/ws")
	parsed, err := url.Parse(wsURL)
	if err != nil {
		return ClientConfig{}, fmt.Errorf("invalid QUOTE_WS_URL value %q: %w", wsURL, err)
	}
	if parsed.Scheme != "ws" && parsed.Scheme != "wss" {
		return ClientConfig{}, fmt.Errorf("invalid QUOTE_WS_URL scheme %q: want ws or wss", parsed.Scheme)
	}

	timeout, err := parseDurationSecondsEnv("HTTP_TIMEOUT", 15*time.Second)
	if err != nil {
		return ClientConfig{}, err
	}

	highlight := 1200 * time.Millisecond
	if ms, err := parseOptionalIntEnv("HIGHLIGHT_MS"); err != nil {
		return ClientConfig{}, err
	} else if ms != nil && *ms > 0 {
		highlight = time.Duration(*ms) * time.Millisecond
	}

	return ClientConfig{
		APIURL:            strings.TrimRight(apiURL, "/"),
		WSURL:             wsURL,
		Token:             strings.TrimSpace(os.Getenv("QUOTE_TOKEN")),
		Username:          strings.TrimSpace(os.Getenv("QUOTE_USERNAME")),
		Password:          os.Getenv("QUOTE_PASSWORD"),
		SessionID:         strings.TrimSpace(os.Getenv("QUOTE_SESSION_ID")),
		HTTPTimeout:       timeout,
		HighlightDuration: highlight,
	}, nil
}

// ServerConfig describes the development quote server.
type ServerConfig struct {
	Addr         string
	JWTSecret    string
	TokenTTL     time.Duration
	SessionStore string
	RedisURL     string
	SessionTTL   time.Duration
	// Users maps username to password for the login endpoint.
	Users map[string]string
}

func loadServerConfig() (ServerConfig, error) {
	addr, err := parseAddr(getEnvOrDefault("PORT", "8002"))
	if err != nil {
		return ServerConfig{}, err
	}

	tokenTTL, err := parseDurationSecondsEnv("TOKEN_TTL", time.Hour)
	if err != nil {
		return ServerConfig{}, err
	}

	sessionTTL, err := parseDurationSecondsEnv("SESSION_TTL", 24*time.Hour)
	if err != nil {
		return ServerConfig{}, err
	}

	store := strings.ToLower(getEnvOrDefault("SESSION_STORE", "memory"))
	if store != "memory" && store != "redis" {
		return ServerConfig{}, fmt.Errorf("invalid SESSION_STORE value %q: want memory or redis", store)
	}

	redisURL := strings.TrimSpace(os.Getenv("REDIS_URL"))
	if store == "redis" && redisURL == "" {
		return ServerConfig{}, fmt.Errorf("REDIS_URL is required when SESSION_STORE=redis")
	}

	users, err := parseUsers(getEnvOrDefault("DEV_USERS", "demo:demo"))
	if err != nil {
		return ServerConfig{}, err
	}

	return ServerConfig{
		Addr:         addr,
		JWTSecret:    getEnvOrDefault("JWT_SECRET", "dev-secret"),
		TokenTTL:     tokenTTL,
		SessionStore: store,
		RedisURL:     redisURL,
		SessionTTL:   sessionTTL,
		Users:        users,
	}, nil
}

// AIConfig describes the Ark chat model that writes assistant replies.
type AIConfig struct {
	APIKey      string
	AccessKey   string
	SecretKey   string
	Model       string
	BaseURL     string
	Region      string
	Temperature *float64
	TopP        *float64
	MaxTokens   *int
}

// Enabled reports whether a model and credentials are configured.
func (c AIConfig) Enabled() bool {
	return c.Model != "" && (c.APIKey != "" || (c.AccessKey != "" && c.SecretKey != ""))
}

// NewChatModel creates the configured Ark chat model.
func (c AIConfig) NewChatModel(ctx context.Context) (model.ChatModel, error) {
	if !c.Enabled() {
		return nil, fmt.Errorf("ark credentials or model missing: set ARK_MODEL and ARK_API_KEY or ARK_ACCESS_KEY/ARK_SECRET_KEY")
	}

	var temperature *float32
	if c.Temperature != nil {
		val := float32(*c.Temperature)
		temperature = &val
	}

	var topP *float32
	if c.TopP != nil {
		val := float32(*c.TopP)
		topP = &val
	}

	return ark.NewChatModel(ctx, &ark.ChatModelConfig{
		BaseURL:     c.BaseURL,
		Region:      c.Region,
		APIKey:      c.APIKey,
		AccessKey:   c.AccessKey,
		SecretKey:   c.SecretKey,
		Model:       c.Model,
		MaxTokens:   c.MaxTokens,
		Temperature: temperature,
		TopP:        topP,
	})
}

func loadAIConfig() (AIConfig, error) {
	temperature, err := parseOptionalFloatEnv("ARK_TEMPERATURE")
	if err != nil {
		return AIConfig{}, err
	}

	topP, err := parseOptionalFloatEnv("ARK_TOP_P")
	if err != nil {
		return AIConfig{}, err
	}

	maxTokens, err := parseOptionalIntEnv("ARK_MAX_TOKENS")
	if err != nil {
		return AIConfig{}, err
	}

	return AIConfig{
		APIKey:      strings.TrimSpace(os.Getenv("ARK_API_KEY")),
		AccessKey:   strings.TrimSpace(os.Getenv("ARK_ACCESS_KEY")),
		SecretKey:   strings.TrimSpace(os.Getenv("ARK_SECRET_KEY")),
		Model:       strings.TrimSpace(os.Getenv("ARK_MODEL")),
		BaseURL:     getEnvOrDefault("ARK_BASE_URL", "https://ark.cn-beijing.volces.com/api/v3"),
		Region:      getEnvOrDefault("ARK_REGION", "cn-beijing"),
		Temperature: temperature,
		TopP:        topP,
		MaxTokens:   maxTokens,
	}, nil
}

// LogConfig configures the zap logger.
type LogConfig struct {
	Level string
	File  string
	JSON  bool
}

func loadLogConfig() (LogConfig, error) {
	jsonOut, err := parseBoolEnv("LOG_JSON", false)
	if err != nil {
		return LogConfig{}, err
	}
	return LogConfig{
		Level: getEnvOrDefault("LOG_LEVEL", "info"),
		File:  strings.TrimSpace(os.Getenv("LOG_FILE")),
		JSON:  jsonOut,
	}, nil
}

// parseUsers reads "name:password" pairs separated by commas.
func parseUsers(raw string) (map[string]string, error) {
	users := make(map[string]string)
	for _, pair := range strings.Split(raw, ",") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		name, password, ok := strings.Cut(pair, ":")
		if !ok || strings.TrimSpace(name) == "" || password == "" {
			return nil, fmt.Errorf("invalid DEV_USERS entry %q: want name:password", pair)
		}
		users[strings.TrimSpace(name)] = password
	}
	return users, nil
}

// parseAddr accepts "8080", ":8080" or "127.0.0.1:8080".
func parseAddr(port string) (string, error) {
	if strings.Contains(port, ":") {
		return port, nil
	}
	if strings.Contains(port, " ") {
		return "", fmt.Errorf("invalid PORT value: %q", port)
	}
	if _, err := strconv.Atoi(port); err != nil {
		return "", fmt.Errorf("invalid PORT value %q: %w", port, err)
	}
	return ":" + port, nil
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return defaultValue
}

func parseBoolEnv(key string, defaultValue bool) (bool, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return defaultValue, nil
	}

	val, err := strconv.ParseBool(raw)
	if err != nil {
		return false, fmt.Errorf("invalid %s value %q: %w", key, raw, err)
	}
	return val, nil
}

func parseOptionalIntEnv(key string) (*int, error) {
	raw, ok := os.LookupEnv(key)
	if !ok {
		return nil, nil
	}

	value := strings.TrimSpace(raw)
	if value == "" {
		return nil, nil
	}

	val, err := strconv.Atoi(value)
	if err != nil {
		return nil, fmt.Errorf("invalid %s value %q: %w", key, value, err)
	}
	return &val, nil
}

func parseOptionalFloatEnv(key string) (*float64, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return nil, nil
	}

	val, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid %s value %q: %w", key, raw, err)
	}
	return &val, nil
}

func parseDurationSecondsEnv(key string, defaultValue time.Duration) (time.Duration, error) {
	seconds, err := parseOptionalIntEnv(key)
	if err != nil {
		return 0, err
	}
	if seconds == nil {
		return defaultValue, nil
	}
	if *seconds <= 0 {
		return 0, fmt.Errorf("invalid %s value %d: must be positive", key, *seconds)
	}
	return time.Duration(*seconds) * time.Second, nil
}
