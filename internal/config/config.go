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
	Database DatabaseConfig
	Redis    RedisConfig
	Server   ServerConfig
	Auth     AuthConfig
	Email    EmailConfig
}

type DatabaseConfig struct {
	Host              string
	Port              int
	User              string
	Password          string
	Name              string
	SSLMode           string
	MaxConns          int32
	MinConns          int32
	MaxConnLifetime   time.Duration
	MaxConnIdleTime   time.Duration
	HealthCheckPeriod time.Duration
	QueryTimeout      time.Duration
}

type RedisConfig struct {
	Addr         string
	Password     string
	DB           int
	TLSEnabled   bool
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

type ServerConfig struct {
	Port           string
	Env            string
	LogLevel       string
	AllowedOrigins []string
	TrustedProxies []string
}

type AuthConfig struct {
	SessionSecret        string
	SessionTimeout       time.Duration
	SessionContextTTL    time.Duration
	PendingLoginTTL      time.Duration
	CSRFTokenTTL         time.Duration
	LockoutThreshold     int
	LockoutDuration      time.Duration
	OTPTTL               time.Duration
	OTPResendCooldown    time.Duration
	OTPMaxAttempts       int
	CleanupInterval      time.Duration
	IPRequestsPerMinute  int
	TimingDelayBaseMs    int
	TimingDelayRandomMs  int
	TimingDelayOnSuccess bool
	CookieSecure         bool
	CookieDomain         string
}

type EmailConfig struct {
	AWSRegion   string
	FromAddress string
	SendTimeout time.Duration
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	sessionSecret := getEnv("SESSION_SECRET", "")
	if sessionSecret == "" {
		return nil, fmt.Errorf("SESSION_SECRET is required")
	}

	env := getEnv("ENV", "development")

	cfg := &Config{
		Database: DatabaseConfig{
			Host:              getEnv("DB_HOST", "localhost"),
			Port:              getEnvAsInt("DB_PORT", 5432),
			User:              getEnv("DB_USER", "postgres"),
			Password:          getEnv("DB_PASSWORD", ""),
			Name:              getEnv("DB_NAME", "registrar"),
			SSLMode:           getEnv("DB_SSLMODE", "disable"),
			MaxConns:          int32(getEnvAsInt("DB_MAX_CONNS", 25)),
			MinConns:          int32(getEnvAsInt("DB_MIN_CONNS", 5)),
			MaxConnLifetime:   getEnvAsDuration("DB_MAX_CONN_LIFETIME", 5*time.Minute),
			MaxConnIdleTime:   getEnvAsDuration("DB_MAX_CONN_IDLE_TIME", 1*time.Minute),
			HealthCheckPeriod: getEnvAsDuration("DB_HEALTH_CHECK_PERIOD", 1*time.Minute),
			QueryTimeout:      getEnvAsDuration("DB_QUERY_TIMEOUT", 3*time.Second),
		},
		Redis: RedisConfig{
			Addr:         getEnv("REDIS_ADDR", "localhost:6379"),
			Password:     getEnv("REDIS_PASSWORD", ""),
			DB:           getEnvAsInt("REDIS_DB", 0),
			TLSEnabled:   getEnvAsBool("REDIS_TLS", false),
			DialTimeout:  getEnvAsDuration("REDIS_DIAL_TIMEOUT", 5*time.Second),
			ReadTimeout:  getEnvAsDuration("REDIS_READ_TIMEOUT", 1*time.Second),
			WriteTimeout: getEnvAsDuration("REDIS_WRITE_TIMEOUT", 1*time.Second),
		},
		Server: ServerConfig{
			Port:           getEnv("PORT", "8080"),
			Env:            env,
			LogLevel:       getEnv("LOG_LEVEL", "info"),
			AllowedOrigins: parseAllowedOrigins(env),
			TrustedProxies: parseList(getEnv("TRUSTED_PROXIES", "")),
		},
		Auth: AuthConfig{
			SessionSecret:        sessionSecret,
			SessionTimeout:       getEnvAsDuration("SESSION_TIMEOUT", 1*time.Hour),
			SessionContextTTL:    getEnvAsDuration("SESSION_CONTEXT_TTL", 2*time.Hour),
			PendingLoginTTL:      getEnvAsDuration("PENDING_LOGIN_TTL", 10*time.Minute),
			CSRFTokenTTL:         getEnvAsDuration("CSRF_TOKEN_TTL", 1*time.Hour),
			LockoutThreshold:     getEnvAsInt("LOCKOUT_THRESHOLD", 5),
			LockoutDuration:      getEnvAsDuration("LOCKOUT_DURATION", 15*time.Minute),
			OTPTTL:               getEnvAsDuration("OTP_TTL", 300*time.Second),
			OTPResendCooldown:    getEnvAsDuration("OTP_RESEND_COOLDOWN", 60*time.Second),
			OTPMaxAttempts:       getEnvAsInt("OTP_MAX_ATTEMPTS", 3),
			CleanupInterval:      getEnvAsDuration("CLEANUP_INTERVAL", 15*time.Minute),
			IPRequestsPerMinute:  getEnvAsInt("IP_REQUESTS_PER_MINUTE", 30),
			TimingDelayBaseMs:    getEnvAsInt("TIMING_DELAY_BASE_MS", 250),
			TimingDelayRandomMs:  getEnvAsInt("TIMING_DELAY_RANDOM_MS", 150),
			TimingDelayOnSuccess: getEnvAsBool("TIMING_DELAY_ON_SUCCESS", false),
			CookieSecure:         getEnvAsBool("COOKIE_SECURE", env == "production"),
			CookieDomain:         getEnv("COOKIE_DOMAIN", ""),
		},
		Email: EmailConfig{
			AWSRegion:   getEnv("AWS_REGION", "us-east-1"),
			FromAddress: getEnv("EMAIL_FROM_ADDRESS", "no-reply@registrar.local"),
			SendTimeout: getEnvAsDuration("EMAIL_SEND_TIMEOUT", 10*time.Second),
		},
	}

	if cfg.Database.Password == "" {
		return nil, fmt.Errorf("DB_PASSWORD is required")
	}

	if err := validateSessionSecret(sessionSecret, env); err != nil {
		return nil, err
	}

	if err := cfg.Auth.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// validateSessionSecret enforces minimum security standards for the cookie signing secret
func validateSessionSecret(secret, env string) error {
	minLength := 16
	if env == "production" {
		minLength = 32
	}

	if len(secret) < minLength {
		return fmt.Errorf("SESSION_SECRET must be at least %d characters in %s environment (got %d)",
			minLength, env, len(secret))
	}

	weakSecrets := []string{
		"secret", "test", "password", "12345", "changeme",
		"admin", "root", "default", "example",
	}

	secretLower := strings.ToLower(secret)
	for _, weak := range weakSecrets {
		if secretLower == weak {
			return fmt.Errorf("SESSION_SECRET cannot be a common weak value")
		}
	}

	return nil
}

func (a *AuthConfig) validate() error {
	switch {
	case a.LockoutThreshold < 1:
		return fmt.Errorf("LOCKOUT_THRESHOLD must be at least 1")
	case a.OTPMaxAttempts < 1:
		return fmt.Errorf("OTP_MAX_ATTEMPTS must be at least 1")
	case a.OTPTTL <= 0 || a.SessionTimeout <= 0 || a.PendingLoginTTL <= 0 || a.CSRFTokenTTL <= 0:
		return fmt.Errorf("OTP_TTL, SESSION_TIMEOUT, PENDING_LOGIN_TTL and CSRF_TOKEN_TTL must be positive")
	case a.OTPResendCooldown >= a.OTPTTL:
		return fmt.Errorf("OTP_RESEND_COOLDOWN must be shorter than OTP_TTL")
	case a.SessionContextTTL < a.SessionTimeout:
		return fmt.Errorf("SESSION_CONTEXT_TTL must not be shorter than SESSION_TIMEOUT")
	}
	return nil
}

func (c *DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Name, c.SSLMode,
	)
}

func getEnv(key, defaultVal string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultVal
}

func getEnvAsInt(key string, defaultVal int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultVal
}

func getEnvAsBool(key string, defaultVal bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultVal
}

func getEnvAsDuration(key string, defaultVal time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultVal
}

func parseList(raw string) []string {
	if raw == "" {
		return []string{}
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func parseAllowedOrigins(env string) []string {
	if env == "production" {
		return parseList(getEnv("ALLOWED_ORIGINS", ""))
	}

	// Development: allow localhost variants
	return []string{
		"http://localhost:3000",
		"http://localhost:8080",
		"http://localhost:5173", // Vite default
		"http://127.0.0.1:3000",
		"http://127.0.0.1:8080",
		"http://127.0.0.1:5173",
	}
}
