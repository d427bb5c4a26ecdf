package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"

	"github.com/spf13/viper"
)

type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	Database   DatabaseConfig   `mapstructure:"database"`
	LLM        LLMConfig        `mapstructure:"llm"`
	Classifier ClassifierConfig `mapstructure:"classifier"`
	Upload     UploadConfig     `mapstructure:"upload"`
	PDF        PDFConfig        `mapstructure:"pdf"`
	Telegram   TelegramConfig   `mapstructure:"telegram"`
	Log        LogConfig        `mapstructure:"log"`
}

type ServerConfig struct {
	Addr           string  `mapstructure:"addr"`
	CORSOrigin     string  `mapstructure:"cors_origin"`
	RateLimit      float64 `mapstructure:"rate_limit"`
	RateBurst      int     `mapstructure:"rate_burst"`
	MaxUploadBytes int64   `mapstructure:"max_upload_bytes"`
}

type DatabaseConfig struct {
	Driver   string `mapstructure:"driver"`
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	DBName   string `mapstructure:"dbname"`
	SSLMode  string `mapstructure:"sslmode"`
	MongoURI string `mapstructure:"mongo_uri"`
	MongoDB  string `mapstructure:"mongo_db"`
}

type LLMConfig struct {
	APIKey       string  `mapstructure:"api_key"`
	BaseURL      string  `mapstructure:"base_url"`
	Model        string  `mapstructure:"model"`
	MaxTokens    int     `mapstructure:"max_tokens"`
	Temperature  float64 `mapstructure:"temperature"`
	HistoryTurns int     `mapstructure:"history_turns"`
}

type ClassifierConfig struct {
	DefaultJurisdiction string `mapstructure:"default_jurisdiction"`
}

type UploadConfig struct {
	MaxChars int `mapstructure:"max_chars"`
}

type PDFConfig struct {
	Dir string `mapstructure:"dir"`
}

type TelegramConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Token   string `mapstructure:"token"`
}

type LogConfig struct {
	Level       string `mapstructure:"level"`
	Development bool   `mapstructure:"development"`
}

const (
	groqBaseURL   = "https://api.groq.com/openai/v1"
	groqModel     = "llama-3.1-8b-instant"
	openAIBaseURL = "https://api.openai.com/v1"
	openAIModel   = "gpt-4o-mini"
)

func parseDatabaseURL(dbURL string) (DatabaseConfig, error) {
	u, err := url.Parse(dbURL)
	if err != nil {
		return DatabaseConfig{}, err
	}
	if u.Scheme != "postgres" && u.Scheme != "postgresql" {
		return DatabaseConfig{}, fmt.Errorf("unsupported scheme %q", u.Scheme)
	}

	password, _ := u.User.Password()
	port := 5432 // default PostgreSQL port
	if u.Port() != "" {
		if _, err := fmt.Sscanf(u.Port(), "%d", &port); err != nil {
			return DatabaseConfig{}, fmt.Errorf("invalid port %q", u.Port())
		}
	}

	// Remove leading slash from path to get database name
	dbName := strings.TrimPrefix(u.Path, "/")

	sslMode := u.Query().Get("sslmode")
	if sslMode == "" {
		sslMode = "disable"
	}

	return DatabaseConfig{
		Driver:   "postgres",
		Host:     u.Hostname(),
		Port:     port,
		User:     u.User.Username(),
		Password: password,
		DBName:   dbName,
		SSLMode:  sslMode,
	}, nil
}

// LoadConfig reads path if it exists, then applies environment overrides.
// A missing file is fine: defaults and the environment are enough to run.
func LoadConfig(path string) (*Config, error) {
	v := viper.New()

	// Set default values
	v.SetDefault("server.addr", ":10000")
	v.SetDefault("server.cors_origin", "*")
	v.SetDefault("server.rate_limit", 1.0)
	v.SetDefault("server.rate_burst", 5)
	v.SetDefault("server.max_upload_bytes", 10<<20)
	v.SetDefault("database.driver", "memory")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.user", "postgres")
	v.SetDefault("database.dbname", "legalsathi")
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("database.mongo_db", "legalsathi")
	v.SetDefault("llm.max_tokens", 2048)
	v.SetDefault("llm.temperature", 0.3)
	v.SetDefault("llm.history_turns", 6)
	v.SetDefault("classifier.default_jurisdiction", "India")
	v.SetDefault("upload.max_chars", 8000)
	v.SetDefault("pdf.dir", "generated_pdfs")
	v.SetDefault("log.level", "info")

	// Enable environment variable support, e.g. LLM_MODEL for llm.model
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		if _, err := os.Stat(path); err == nil {
			v.SetConfigFile(path)
			if err := v.ReadInConfig(); err != nil {
				return nil, fmt.Errorf("failed to read config %s: %w", path, err)
			}
		} else if !errors.Is(err, os.ErrNotExist) {
			return nil, err
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, err
	}

	// Check for DATABASE_URL environment variable
	if dbURL := v.GetString("DATABASE_URL"); dbURL != "" {
		dbConfig, err := parseDatabaseURL(dbURL)
		if err != nil {
			return nil, fmt.Errorf("failed to parse DATABASE_URL: %w", err)
		}
		dbConfig.MongoDB = config.Database.MongoDB
		config.Database = dbConfig
	}
	if mongoURI := v.GetString("MONGODB_URI"); mongoURI != "" {
		config.Database.Driver = "mongo"
		config.Database.MongoURI = mongoURI
	}

	// Get other environment variables
	if token := v.GetString("TELEGRAM_TOKEN"); token != "" {
		config.Telegram.Token = token
		config.Telegram.Enabled = true
	}

	// Groq is the default backend; a bare OpenAI key switches to OpenAI unless a base URL is configured
	if apiKey := v.GetString("GROQ_API_KEY"); apiKey != "" {
		config.LLM.APIKey = apiKey
	} else if apiKey := v.GetString("OPENAI_API_KEY"); apiKey != "" {
		config.LLM.APIKey = apiKey
		if config.LLM.BaseURL == "" {
			config.LLM.BaseURL = openAIBaseURL
			if config.LLM.Model == "" {
				config.LLM.Model = openAIModel
			}
		}
	}
	if config.LLM.BaseURL == "" {
		config.LLM.BaseURL = groqBaseURL
	}
	if config.LLM.Model == "" {
		config.LLM.Model = groqModel
	}

	if port := v.GetString("PORT"); port != "" {
		config.Server.Addr = ":" + port
	}
	if origin := v.GetString("FRONTEND_ORIGIN"); origin != "" {
		config.Server.CORSOrigin = origin
	}

	if err := config.validate(); err != nil {
		return nil, err
	}
	return &config, nil
}

func (c *Config) validate() error {
	switch c.Database.Driver {
	case "memory", "postgres":
	case "mongo":
		if c.Database.MongoURI == "" {
			return errors.New("database.mongo_uri is required for the mongo driver")
		}
	default:
		return fmt.Errorf("unknown database.driver %q", c.Database.Driver)
	}
	if c.Telegram.Enabled && c.Telegram.Token == "" {
		return errors.New("telegram.token is required when telegram is enabled")
	}
	if c.Upload.MaxChars <= 0 {
		return errors.New("upload.max_chars must be positive")
	}
	return nil
}
