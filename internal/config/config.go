package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration wraps time.Duration so yaml values can be written as "30m".
type Duration time.Duration

func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	var raw string
	if err := node.Decode(&raw); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", raw, err)
	}
	*d = Duration(parsed)
	return nil
}

func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Retrieval RetrievalConfig `yaml:"retrieval"`
	Analyzer  AnalyzerConfig  `yaml:"analyzer"`
	Extractor ExtractorConfig `yaml:"extractor"`
	Sweeper   SweeperConfig   `yaml:"sweeper"`
	Hub       HubConfig       `yaml:"hub"`
}

type ServerConfig struct {
	Port           int      `yaml:"port"`
	Host           string   `yaml:"host"`
	AllowedOrigins []string `yaml:"allowed_origins"`
}

type RetrievalConfig struct {
	BaseURL      string   `yaml:"base_url"`
	ProbeTimeout Duration `yaml:"probe_timeout"`
	QueryK       int      `yaml:"query_k"`
	HybridSearch bool     `yaml:"hybrid_search"`
}

type AnalyzerConfig struct {
	BaseURL         string   `yaml:"base_url"`
	Model           string   `yaml:"model"`
	APIKey          string   `yaml:"api_key"`
	Temperature     float64  `yaml:"temperature"`
	MaxOutputTokens int      `yaml:"max_output_tokens"`
	Timeout         Duration `yaml:"timeout"`
}

type ExtractorConfig struct {
	Languages string   `yaml:"languages"`
	Timeout   Duration `yaml:"timeout"`
}

type SweeperConfig struct {
	Interval  Duration `yaml:"interval"`
	Retention Duration `yaml:"retention"`
}

type HubConfig struct {
	SendBuffer int `yaml:"send_buffer"`
}

func defaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Port: 8080,
			Host: "0.0.0.0",
		},
		Retrieval: RetrievalConfig{
			BaseURL:      "http://rag-service:5000",
			ProbeTimeout: Duration(2 * time.Second),
			QueryK:       5,
			HybridSearch: true,
		},
		Analyzer: AnalyzerConfig{
			BaseURL:         "https://generativelanguage.googleapis.com",
			Model:           "gemini-pro",
			Temperature:     0.2,
			MaxOutputTokens: 1024,
			Timeout:         Duration(60 * time.Second),
		},
		Extractor: ExtractorConfig{
			Languages: "eng",
			Timeout:   Duration(30 * time.Second),
		},
		Sweeper: SweeperConfig{
			Interval:  Duration(30 * time.Minute),
			Retention: Duration(24 * time.Hour),
		},
		Hub: HubConfig{
			SendBuffer: 64,
		},
	}
}

// Load reads the yaml config at path over the defaults. Environment
// variables GEMINI_API_KEY and RAG_SERVICE_URL take precedence over file
// values so deployments can keep secrets out of the file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	cfg := defaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}
	applyEnv(cfg)

	return cfg, nil
}

func applyEnv(cfg *Config) {
	if key := os.Getenv("GEMINI_API_KEY"); key != "" {
		cfg.Analyzer.APIKey = key
	}
	if url := os.Getenv("RAG_SERVICE_URL"); url != "" {
		cfg.Retrieval.BaseURL = url
	}
}
