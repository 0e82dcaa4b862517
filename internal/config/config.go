package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// Config содержит конфигурацию сервера генерации книг
type Config struct {
	// Настройки HTTP сервера
	ServerPort         int           `envconfig:"SERVER_PORT" default:"8080"`
	ServerBasePath     string        `envconfig:"SERVER_BASE_PATH" default:"/api"`
	ServerReadTimeout  time.Duration `envconfig:"SERVER_READ_TIMEOUT" default:"15s"`
	ServerWriteTimeout time.Duration `envconfig:"SERVER_WRITE_TIMEOUT" default:"15s"`
	ServerIdleTimeout  time.Duration `envconfig:"SERVER_IDLE_TIMEOUT" default:"60s"`
	ShutdownTimeout    time.Duration `envconfig:"SHUTDOWN_TIMEOUT" default:"30s"`

	// Настройки логгера
	LogLevel    string `envconfig:"LOG_LEVEL" default:"info"`
	LogEncoding string `envconfig:"LOG_ENCODING" default:"json"`

	// CORS
	CORSAllowedOrigins string `envconfig:"CORS_ALLOWED_ORIGINS" default:"http://localhost:3000,http://localhost:8080"`

	// Настройки AI (OpenAI-совместимый API)
	AIBaseURL        string        `envconfig:"AI_BASE_URL" default:"https://api.openai.com/v1"`
	AIModel          string        `envconfig:"AI_MODEL" default:"gpt-4o-mini"`
	AIImageModel     string        `envconfig:"AI_IMAGE_MODEL" default:"dall-e-3"`
	AITimeout        time.Duration `envconfig:"AI_TIMEOUT" default:"120s"`
	AIMaxAttempts    int           `envconfig:"AI_MAX_ATTEMPTS" default:"3"`
	AIBaseRetryDelay time.Duration `envconfig:"AI_BASE_RETRY_DELAY" default:"1s"`
	// Секретное поле БЕЗ envconfig тега
	AIAPIKey string

	// Настройки пайплайна
	IllustrationWorkers int `envconfig:"ILLUSTRATION_WORKERS" default:"3"`

	// Хранилище сессий: memory, redis или postgres
	SessionStoreDriver string `envconfig:"SESSION_STORE" default:"memory"`

	// Настройки Redis
	RedisAddr string `envconfig:"REDIS_ADDR" default:"localhost:6379"`
	RedisDB   int    `envconfig:"REDIS_DB" default:"0"`
	// Секретное поле БЕЗ envconfig тега
	RedisPassword string

	// Настройки PostgreSQL
	DBHost     string `envconfig:"DB_HOST" default:"localhost"`
	DBPort     string `envconfig:"DB_PORT" default:"5432"`
	DBUser     string `envconfig:"DB_USER" default:"postgres"`
	DBName     string `envconfig:"DB_NAME" default:"storybook_db"`
	DBSSLMode  string `envconfig:"DB_SSL_MODE" default:"disable"`
	DBMaxConns int    `envconfig:"DB_MAX_CONNECTIONS" default:"10"`
	// Секретное поле БЕЗ envconfig тега
	DBPassword string

	// Хранилище артефактов (файловая система + публичный базовый URL)
	ArtifactDir     string `envconfig:"ARTIFACT_DIR" default:"./data/artifacts"`
	ArtifactBaseURL string `envconfig:"ARTIFACT_BASE_URL" default:"http://localhost:8080/files"`
}

// GetDSN возвращает строку подключения (DSN) для PostgreSQL
func (c *Config) GetDSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s",
		c.DBUser, c.DBPassword, c.DBHost, c.DBPort, c.DBName, c.DBSSLMode)
}

// AllowedOrigins возвращает список разрешенных CORS origin'ов.
func (c *Config) AllowedOrigins() []string {
	parts := strings.Split(c.CORSAllowedOrigins, ",")
	origins := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			origins = append(origins, trimmed)
		}
	}
	return origins
}

// Load загружает конфигурацию из переменных окружения и секретов
func Load() (*Config, error) {
	var cfg Config
	// Загружаем НЕсекретные переменные
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("ошибка загрузки конфигурации: %w", err)
	}

	// Секреты: сначала Docker Secrets, затем переменные окружения
	cfg.AIAPIKey = readSecret("ai_api_key", "AI_API_KEY")
	cfg.RedisPassword = readSecret("redis_password", "REDIS_PASSWORD")
	cfg.DBPassword = readSecret("db_password", "DB_PASSWORD")

	switch cfg.SessionStoreDriver {
	case "memory", "redis", "postgres":
	default:
		return nil, fmt.Errorf("неизвестный драйвер хранилища сессий: %q", cfg.SessionStoreDriver)
	}
	if cfg.IllustrationWorkers <= 0 {
		cfg.IllustrationWorkers = 1
	}

	return &cfg, nil
}

// readSecret читает секрет из файла в стандартном пути Docker Secrets,
// с fallback на переменную окружения для локальной разработки.
func readSecret(secretName, envName string) string {
	filePath := fmt.Sprintf("/run/secrets/%s", secretName)
	if secretBytes, err := os.ReadFile(filePath); err == nil {
		if secret := strings.TrimSpace(string(secretBytes)); secret != "" {
			return secret
		}
	}
	return os.Getenv(envName)
}
