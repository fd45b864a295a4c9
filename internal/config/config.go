package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type ServerConfig struct {
	Port         int
	TLSPort      int
	EnableTLS    bool
	AutoCert     bool
	Domain       string
	CertFile     string
	KeyFile      string
	AutoCertDir  string
	Email        string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

type LoggingConfig struct {
	Level  string
	Format string
}

type OTPConfig struct {
	CodeDigits       int
	TTL              time.Duration
	MaxAttempts      int
	LockoutThreshold int
	LockoutWindow    time.Duration
	CleanupInterval  time.Duration
}

type RateLimitConfig struct {
	SendPerIP    int
	SendPerEmail int
	Window       time.Duration
	Shards       int
}

// SecretsConfig carries the purpose-scoped HMAC secrets. The three purposes
// must never share a secret, otherwise an envelope minted for one purpose
// could be replayed as another.
type SecretsConfig struct {
	FlowCookie    string
	SessionCookie string
	Callback      string
}

type SessionConfig struct {
	FlowTTL     time.Duration
	UserTTL     time.Duration
	CallbackTTL time.Duration
}

type RedisConfig struct {
	URL      string
	Password string
	DB       int
	PoolSize int
}

type ScyllaConfig struct {
	Nodes    []string
	Keyspace string
	Username string
	Password string
}

type KafkaConfig struct {
	Brokers []string
	Topic   string
}

type ClickhouseConfig struct {
	URL      string
	Username string
	Password string
	Database string
	Table    string
}

type RelyingConfig struct {
	Issuer      string
	ClientID    string
	RedirectURI string
	ParEndpoint string
	TokenURL    string
	AuthorizeURL string
	Timeout     time.Duration
}

type Config struct {
	Environment  string
	StoreBackend string // memory | redis | scylla
	AuditEnabled bool
	MailEnabled  bool

	Server     ServerConfig
	Logging    LoggingConfig
	OTP        OTPConfig
	RateLimit  RateLimitConfig
	Secrets    SecretsConfig
	Session    SessionConfig
	Redis      RedisConfig
	Scylla     ScyllaConfig
	Kafka      KafkaConfig
	Clickhouse ClickhouseConfig
	Relying    RelyingConfig
}

// LoadConfig reads configuration from the environment, with an optional .env
// file for development. Missing values fall back to safe defaults; secrets
// have no defaults and are validated separately.
func LoadConfig() *Config {
	// .env is optional; env vars win in containers
	_ = godotenv.Load()

	cfg := &Config{
		Environment:  GetEnv("ENVIRONMENT", "development"),
		StoreBackend: GetEnv("STORE_BACKEND", "memory"),
		AuditEnabled: getEnvBool("AUDIT_ENABLED", false),
		MailEnabled:  getEnvBool("MAIL_ENABLED", false),
		Server: ServerConfig{
			Port:         getEnvInt("SERVER_PORT", 8080),
			TLSPort:      getEnvInt("SERVER_TLS_PORT", 8443),
			EnableTLS:    getEnvBool("SERVER_ENABLE_TLS", false),
			AutoCert:     getEnvBool("SERVER_AUTOCERT", false),
			Domain:       GetEnv("SERVER_DOMAIN", ""),
			CertFile:     GetEnv("SERVER_CERT_FILE", ""),
			KeyFile:      GetEnv("SERVER_KEY_FILE", ""),
			AutoCertDir:  GetEnv("SERVER_AUTOCERT_DIR", "/var/lib/authcore/autocert"),
			Email:        GetEnv("SERVER_ACME_EMAIL", ""),
			ReadTimeout:  getEnvDuration("SERVER_READ_TIMEOUT", 10*time.Second),
			WriteTimeout: getEnvDuration("SERVER_WRITE_TIMEOUT", 15*time.Second),
			IdleTimeout:  getEnvDuration("SERVER_IDLE_TIMEOUT", 60*time.Second),
		},
		Logging: LoggingConfig{
			Level:  GetEnv("LOG_LEVEL", "info"),
			Format: GetEnv("LOG_FORMAT", "json"),
		},
		OTP: OTPConfig{
			CodeDigits:       getEnvInt("OTP_CODE_DIGITS", 8),
			TTL:              getEnvDuration("OTP_TTL", 10*time.Minute),
			MaxAttempts:      getEnvInt("OTP_MAX_ATTEMPTS", 5),
			LockoutThreshold: getEnvInt("OTP_LOCKOUT_THRESHOLD", 15),
			LockoutWindow:    getEnvDuration("OTP_LOCKOUT_WINDOW", time.Hour),
			CleanupInterval:  getEnvDuration("OTP_CLEANUP_INTERVAL", 5*time.Minute),
		},
		RateLimit: RateLimitConfig{
			SendPerIP:    getEnvInt("RATE_LIMIT_SEND_PER_IP", 10),
			SendPerEmail: getEnvInt("RATE_LIMIT_SEND_PER_EMAIL", 3),
			Window:       getEnvDuration("RATE_LIMIT_WINDOW", time.Minute),
			Shards:       getEnvInt("RATE_LIMIT_SHARDS", 16),
		},
		Secrets: SecretsConfig{
			FlowCookie:    GetEnv("SECRET_FLOW_COOKIE", ""),
			SessionCookie: GetEnv("SECRET_SESSION_COOKIE", ""),
			Callback:      GetEnv("SECRET_CALLBACK", ""),
		},
		Session: SessionConfig{
			FlowTTL:     getEnvDuration("SESSION_FLOW_TTL", 10*time.Minute),
			UserTTL:     getEnvDuration("SESSION_USER_TTL", 24*time.Hour),
			CallbackTTL: getEnvDuration("SESSION_CALLBACK_TTL", 2*time.Minute),
		},
		Redis: RedisConfig{
			URL:      GetEnv("REDIS_URL", "redis://localhost:6379"),
			Password: GetEnv("REDIS_PASSWORD", ""),
			DB:       getEnvInt("REDIS_DB", 0),
			PoolSize: getEnvInt("REDIS_POOL_SIZE", 20),
		},
		Scylla: ScyllaConfig{
			Nodes:    getEnvSlice("SCYLLA_NODES", []string{"localhost:9042"}),
			Keyspace: GetEnv("SCYLLA_KEYSPACE", "authcore"),
			Username: GetEnv("SCYLLA_USERNAME", ""),
			Password: GetEnv("SCYLLA_PASSWORD", ""),
		},
		Kafka: KafkaConfig{
			Brokers: getEnvSlice("KAFKA_BROKERS", []string{"localhost:9092"}),
			Topic:   GetEnv("KAFKA_OTP_TOPIC", "otp-email"),
		},
		Clickhouse: ClickhouseConfig{
			URL:      GetEnv("CLICKHOUSE_URL", "localhost:9000"),
			Username: GetEnv("CLICKHOUSE_USERNAME", "default"),
			Password: GetEnv("CLICKHOUSE_PASSWORD", ""),
			Database: GetEnv("CLICKHOUSE_DATABASE", "authcore"),
			Table:    GetEnv("CLICKHOUSE_TABLE", "security_events"),
		},
		Relying: RelyingConfig{
			Issuer:       GetEnv("RELYING_ISSUER", ""),
			ClientID:     GetEnv("RELYING_CLIENT_ID", ""),
			RedirectURI:  GetEnv("RELYING_REDIRECT_URI", ""),
			ParEndpoint:  GetEnv("RELYING_PAR_ENDPOINT", ""),
			TokenURL:     GetEnv("RELYING_TOKEN_URL", ""),
			AuthorizeURL: GetEnv("RELYING_AUTHORIZE_URL", ""),
			Timeout:      getEnvDuration("RELYING_TIMEOUT", 10*time.Second),
		},
	}

	return cfg
}

// Validate rejects configurations that cannot run safely.
func (c *Config) Validate() error {
	s := c.Secrets
	if s.FlowCookie == "" || s.SessionCookie == "" || s.Callback == "" {
		return fmt.Errorf("all purpose secrets must be set (SECRET_FLOW_COOKIE, SECRET_SESSION_COOKIE, SECRET_CALLBACK)")
	}
	if s.FlowCookie == s.SessionCookie || s.FlowCookie == s.Callback || s.SessionCookie == s.Callback {
		return fmt.Errorf("purpose secrets must be distinct")
	}
	switch c.StoreBackend {
	case "memory", "redis", "scylla":
	default:
		return fmt.Errorf("unknown STORE_BACKEND %q", c.StoreBackend)
	}
	if c.OTP.CodeDigits < 6 || c.OTP.CodeDigits > 10 {
		return fmt.Errorf("OTP_CODE_DIGITS out of range: %d", c.OTP.CodeDigits)
	}
	return nil
}

func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}

func (c *Config) IsDevelopment() bool {
	return c.Environment == "development"
}

func (c *Config) GetServerAddress() string {
	return fmt.Sprintf(":%d", c.Server.Port)
}

// GetEnv reads a string env var with a default.
func GetEnv(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}

func getEnvSlice(key string, fallback []string) []string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		parts := strings.Split(v, ",")
		out := make([]string, 0, len(parts))
		for _, p := range parts {
			if p = strings.TrimSpace(p); p != "" {
				out = append(out, p)
			}
		}
		if len(out) > 0 {
			return out
		}
	}
	return fallback
}
