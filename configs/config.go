package configs

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	ServerPort  string
	DatabaseURL string
	RedisURL    string

	// Auth
	JWTSecret          string
	CredentialTTL      time.Duration
	RefreshTTL         time.Duration
	TimestampSkew      time.Duration
	AdminKeyBcryptHash string

	// Upstream providers
	TranslationAPIURL string
	TranslationAPIKey string
	ContextAPIURL     string
	ContextAPIKey     string
	ContextModel      string
	ContextDeadline   time.Duration
	ProviderTimeout   time.Duration
	ProviderRetries   int
	ChunkSize         int

	// Quotas
	HourlyWordLimit     int64
	DailyWordLimit      int64
	BYOKHourlyWordLimit int64
	BYOKDailyWordLimit  int64
	LargeBodyBytes      int64
	LargeBodyMultiplier int64
	MaxBodyBytes        int64
	ConfigRatePerMinute int64

	// Cost circuit breaker
	CostPerCharacterUSD  float64
	HourlyCostCeilingUSD float64
	DailyCostCeilingUSD  float64

	// Cache
	CacheTTL           time.Duration
	MaxVariations      int
	SupportedLanguages []string
}

// Load reads configuration from the environment. A .env file is honored when
// present so local runs behave like the deployed service.
func Load() (*Config, error) {
	godotenv.Load()

	cfg := &Config{
		ServerPort:  getEnv("SERVER_PORT", "8080"),
		DatabaseURL: getEnv("DATABASE_URL", "root:password@tcp(localhost:3306)/translation_gateway?charset=utf8mb4&parseTime=True&loc=Local"),
		RedisURL:    getEnv("REDIS_URL", "localhost:6379"),

		JWTSecret:          getEnv("JWT_SECRET", "your-secret-key-change-in-production"),
		CredentialTTL:      parseDuration(getEnv("CREDENTIAL_TTL", "1008h"), 42*24*time.Hour),
		RefreshTTL:         parseDuration(getEnv("REFRESH_TTL", "168h"), 7*24*time.Hour),
		TimestampSkew:      parseDuration(getEnv("TIMESTAMP_SKEW", "5m"), 5*time.Minute),
		AdminKeyBcryptHash: getEnv("ADMIN_KEY_HASH", ""),

		TranslationAPIURL: getEnv("TRANSLATION_API_URL", "https://translation.example.com/v2/translate"),
		TranslationAPIKey: getEnv("TRANSLATION_API_KEY", ""),
		ContextAPIURL:     getEnv("CONTEXT_API_URL", "https://llm.example.com/v1"),
		ContextAPIKey:     getEnv("CONTEXT_API_KEY", ""),
		ContextModel:      getEnv("CONTEXT_MODEL", "gpt-4o-mini"),
		ContextDeadline:   parseDuration(getEnv("CONTEXT_DEADLINE", "1s"), time.Second),
		ProviderTimeout:   parseDuration(getEnv("PROVIDER_TIMEOUT", "20s"), 20*time.Second),
		ProviderRetries:   parseInt(getEnv("PROVIDER_RETRIES", "3"), 3),
		ChunkSize:         parseInt(getEnv("TRANSLATION_CHUNK_SIZE", "25"), 25),

		HourlyWordLimit:     parseInt64(getEnv("HOURLY_WORD_LIMIT", "100"), 100),
		DailyWordLimit:      parseInt64(getEnv("DAILY_WORD_LIMIT", "500"), 500),
		BYOKHourlyWordLimit: parseInt64(getEnv("BYOK_HOURLY_WORD_LIMIT", "1000"), 1000),
		BYOKDailyWordLimit:  parseInt64(getEnv("BYOK_DAILY_WORD_LIMIT", "5000"), 5000),
		LargeBodyBytes:      parseInt64(getEnv("LARGE_BODY_BYTES", "5120"), 5120),
		LargeBodyMultiplier: parseInt64(getEnv("LARGE_BODY_MULTIPLIER", "2"), 2),
		MaxBodyBytes:        parseInt64(getEnv("MAX_BODY_BYTES", "10240"), 10240),
		ConfigRatePerMinute: parseInt64(getEnv("CONFIG_RATE_PER_MINUTE", "30"), 30),

		CostPerCharacterUSD:  parseFloat(getEnv("COST_PER_CHARACTER_USD", "0.00002"), 0.00002),
		HourlyCostCeilingUSD: parseFloat(getEnv("HOURLY_COST_CEILING_USD", "1.0"), 1.0),
		DailyCostCeilingUSD:  parseFloat(getEnv("DAILY_COST_CEILING_USD", "10.0"), 10.0),

		CacheTTL:      parseDuration(getEnv("CACHE_TTL", "1h"), time.Hour),
		MaxVariations: parseInt(getEnv("MAX_CONTEXT_VARIATIONS", "5"), 5),
		SupportedLanguages: parseList(getEnv("SUPPORTED_LANGUAGES",
			"es,fr,de,it,pt,ja,ko,zh,ru,ar,hi,nl,pl,tr")),
	}

	return cfg, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func parseInt(s string, fallback int) int {
	i, err := strconv.Atoi(s)
	if err != nil {
		return fallback
	}
	return i
}

func parseInt64(s string, fallback int64) int64 {
	i, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return fallback
	}
	return i
}

func parseFloat(s string, fallback float64) float64 {
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return fallback
	}
	return f
}

func parseDuration(s string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil {
		return fallback
	}
	return d
}

func parseList(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
