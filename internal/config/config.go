package config

import (
	"fmt"

	"github.com/caarlos0/env/v11"
)

// Config is the client configuration, read from the environment. A
// .env file is loaded by main before parsing.
type Config struct {
	RAGBaseURL string `env:"RAG_API_BASE_URL" envDefault:"http://localhost:8000/api/v1"`
	LMSBaseURL string `env:"LMS_API_BASE_URL" envDefault:"http://localhost:8080/api"`

	Email     string `env:"LMS_EMAIL,required,notEmpty"`
	Password  string `env:"LMS_PASSWORD,required,notEmpty"`
	StudentID string `env:"STUDENT_ID,required,notEmpty"`

	CacheDBPath string `env:"CACHE_DB_PATH" envDefault:"tutorchat.db"`
	LogLevel    string `env:"LOG_LEVEL" envDefault:"info"`
}

func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config from environment: %w", err)
	}
	return cfg, nil
}
