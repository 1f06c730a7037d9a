package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

type Config struct {
	LLM struct {
		Provider       string  `yaml:"provider"`
		BaseURL        string  `yaml:"base_url"`
		APIKey         string  `yaml:"api_key"`
		Model          string  `yaml:"model"`
		EmbeddingModel string  `yaml:"embedding_model"`
		MaxTokens      int     `yaml:"max_tokens"`
		Temperature    float64 `yaml:"temperature"`
		RateLimit      float64 `yaml:"rate_limit"`
	} `yaml:"llm"`

	Database struct {
		URL       string `yaml:"url"`
		VectorDim int    `yaml:"vector_dim"`
	} `yaml:"database"`

	Processor struct {
		MaxChars           int  `yaml:"max_chars"` // 0 sends the whole document
		CollapseWhitespace bool `yaml:"collapse_whitespace"`
	} `yaml:"processor"`

	Intake struct {
		MaxUploadMB    int     `yaml:"max_upload_mb"`
		MaxPages       int     `yaml:"max_pages"` // 0 reads every page
		AllowRemote    bool    `yaml:"allow_remote"`
		FetchTimeout   int     `yaml:"fetch_timeout"`
		FetchRateLimit float64 `yaml:"fetch_rate_limit"`
	} `yaml:"intake"`

	Service struct {
		Cache          bool `yaml:"cache"`
		EmbedSummaries bool `yaml:"embed_summaries"`
	} `yaml:"service"`

	Server struct {
		Port         int `yaml:"port"`
		ReadTimeout  int `yaml:"read_timeout"`
		WriteTimeout int `yaml:"write_timeout"`
	} `yaml:"server"`

	Log struct {
		Level       string `yaml:"level"`
		Development bool   `yaml:"development"`
	} `yaml:"log"`
}

func LoadConfig(path string) (*Config, error) {
	// If no path provided, try default locations
	if path == "" {
		locations := []string{
			"config.yaml",
			"config.yml",
			filepath.Join(os.Getenv("HOME"), ".config/claimcheck/config.yaml"),
			"/etc/claimcheck/config.yaml",
		}

		for _, loc := range locations {
			if _, err := os.Stat(loc); err == nil {
				path = loc
				break
			}
		}
	}

	if path == "" {
		return getDefaultConfig()
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("error reading config file: %w", err)
	}

	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("error parsing config file: %w", err)
	}

	mergeWithEnv(&config)
	applyDefaults(&config)

	return &config, nil
}

func getDefaultConfig() (*Config, error) {
	config := &Config{}
	mergeWithEnv(config)
	applyDefaults(config)
	return config, nil
}

func applyDefaults(config *Config) {
	if config.LLM.Provider == "" {
		config.LLM.Provider = "openai"
	}
	if config.LLM.Model == "" {
		if config.LLM.Provider == "ollama" {
			config.LLM.Model = "mistral"
		} else {
			config.LLM.Model = "gpt-4"
		}
	}
	if config.LLM.EmbeddingModel == "" {
		if config.LLM.Provider == "ollama" {
			config.LLM.EmbeddingModel = "nomic-embed-text:latest"
		} else {
			config.LLM.EmbeddingModel = "text-embedding-3-small"
		}
	}
	if config.LLM.BaseURL == "" && config.LLM.Provider == "ollama" {
		config.LLM.BaseURL = "http://localhost:11434"
	}
	if config.LLM.MaxTokens == 0 {
		config.LLM.MaxTokens = 2000
	}
	if config.LLM.Temperature == 0 {
		config.LLM.Temperature = 0.2
	}
	if config.LLM.RateLimit == 0 {
		config.LLM.RateLimit = 1.0
	}

	if config.Database.VectorDim == 0 {
		if config.LLM.Provider == "ollama" {
			config.Database.VectorDim = 768
		} else {
			config.Database.VectorDim = 1536
		}
	}

	if config.Intake.MaxUploadMB == 0 {
		config.Intake.MaxUploadMB = 20
	}
	if config.Intake.FetchTimeout == 0 {
		config.Intake.FetchTimeout = 30
	}
	if config.Intake.FetchRateLimit == 0 {
		config.Intake.FetchRateLimit = 2.0
	}

	if config.Server.Port == 0 {
		config.Server.Port = 8080
	}
	if config.Server.ReadTimeout == 0 {
		config.Server.ReadTimeout = 60
	}
	if config.Server.WriteTimeout == 0 {
		config.Server.WriteTimeout = 300
	}

	if config.Log.Level == "" {
		config.Log.Level = "info"
	}
}

func mergeWithEnv(config *Config) {
	if provider := os.Getenv("LLM_PROVIDER"); provider != "" {
		config.LLM.Provider = provider
	}
	if apiKey := os.Getenv("OPENAI_API_KEY"); apiKey != "" && config.LLM.APIKey == "" {
		config.LLM.APIKey = apiKey
	}
	if baseURL := os.Getenv("OLLAMA_BASE_URL"); baseURL != "" {
		config.LLM.BaseURL = baseURL
	}
	if dbURL := os.Getenv("DATABASE_URL"); dbURL != "" {
		config.Database.URL = dbURL
	}
	if port := os.Getenv("PORT"); port != "" {
		var p int
		if _, err := fmt.Sscanf(port, "%d", &p); err == nil {
			config.Server.Port = p
		}
	}
}
