package config

import (
	"os"
	"strconv"
	"time"

	_ "github.com/joho/godotenv/autoload"
)

type Config struct {
	Addr           string
	DatabaseURL    string
	MigrationsDir  string
	TokenSecret    string
	CORSOrigin     string
	MeiliURL       string
	MeiliMasterKey string
	// Redis is optional; without it thread listings read the store directly.
	RedisURL       string
	ThreadCacheTTL time.Duration
	NameCacheSize  int
	NameCacheTTL   time.Duration
	LogLevel       string
	LogFile        string
}

// Load reads the environment. A .env file in the working directory is
// loaded first, without overriding variables that are already set.
func Load() Config {
	return Config{
		Addr: getenv("API_ADDR", ":8787"),
		// Empty DATABASE_URL selects the in-memory store.
		DatabaseURL:    getenv("DATABASE_URL", ""),
		MigrationsDir:  getenv("CLINCHEM_MIGRATIONS_DIR", ""),
		TokenSecret:    getenv("CLINCHEM_TOKEN_SECRET", "clinchem-dev-secret"),
		CORSOrigin:     getenv("CLINCHEM_CORS_ORIGIN", "*"),
		MeiliURL:       getenv("MEILI_URL", ""),
		MeiliMasterKey: getenv("MEILI_MASTER_KEY", ""),
		RedisURL:       getenv("REDIS_URL", ""),
		ThreadCacheTTL: time.Duration(getenvInt("CLINCHEM_THREAD_CACHE_TTL_SECONDS", 30)) * time.Second,
		NameCacheSize:  getenvInt("CLINCHEM_NAME_CACHE_SIZE", 1024),
		NameCacheTTL:   time.Duration(getenvInt("CLINCHEM_NAME_CACHE_TTL_SECONDS", 300)) * time.Second,
		LogLevel:       getenv("CLINCHEM_LOG_LEVEL", "info"),
		LogFile:        getenv("CLINCHEM_LOG_FILE", ""),
	}
}

func getenv(key, fallback string) string {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	return value
}

func getenvInt(key string, fallback int) int {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return parsed
}
