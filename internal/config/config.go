// Package config loads filesift settings from defaults, a YAML file, .env
// files and FILESIFT_* environment variables, in increasing precedence.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
	"github.com/mordilloSan/go-logger/logger"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"filesift/internal/chunker"
	"filesift/internal/embedder"
	"filesift/internal/vecindex"
)

// EnvPrefix is prepended to every environment override.
const EnvPrefix = "FILESIFT"

// IndexConfig selects the vector index built by the search pipeline.
type IndexConfig struct {
	Type            string `mapstructure:"type" yaml:"type"`
	Metric          string `mapstructure:"metric" yaml:"metric"`
	vecindex.Params `mapstructure:",squash" yaml:",inline"`
}

// ReportConfig holds the report defaults.
type ReportConfig struct {
	BatchSize     int  `mapstructure:"batch_size" yaml:"batch_size"`
	CharLimit     int  `mapstructure:"char_limit" yaml:"char_limit"`
	SplitMetadata bool `mapstructure:"split_metadata" yaml:"split_metadata"`
}

// DecoratorConfig locates the OCR and transcription executables. Empty
// directories mean PATH.
type DecoratorConfig struct {
	Tesseract    string `mapstructure:"tesseract" yaml:"tesseract"`
	PDFImages    string `mapstructure:"pdfimages" yaml:"pdfimages"`
	Whisper      string `mapstructure:"whisper" yaml:"whisper"`
	WhisperModel string `mapstructure:"whisper_model" yaml:"whisper_model"`
	Language     string `mapstructure:"language" yaml:"language"`
}

// LLMConfig configures the Ollama chat model used by ask.
type LLMConfig struct {
	OllamaURL string `mapstructure:"ollama_url" yaml:"ollama_url"`
	Model     string `mapstructure:"model" yaml:"model"`
}

// SearchConfig configures the search pipeline.
type SearchConfig struct {
	EmbedBatchSize int `mapstructure:"embed_batch_size" yaml:"embed_batch_size"`
	TopK           int `mapstructure:"top_k" yaml:"top_k"`
}

// Config is the root configuration.
type Config struct {
	Embedder   embedder.Config `mapstructure:"embedder" yaml:"embedder"`
	Chunker    chunker.Config  `mapstructure:"chunker" yaml:"chunker"`
	Index      IndexConfig     `mapstructure:"index" yaml:"index"`
	Report     ReportConfig    `mapstructure:"report" yaml:"report"`
	Decorators DecoratorConfig `mapstructure:"decorators" yaml:"decorators"`
	LLM        LLMConfig       `mapstructure:"llm" yaml:"llm"`
	Search     SearchConfig    `mapstructure:"search" yaml:"search"`
}

// New returns a viper instance carrying the defaults and environment
// bindings.
func New() *viper.Viper {
	v := viper.New()
	v.SetDefault("embedder.type", "ollama")
	v.SetDefault("embedder.ollama_url", "http://localhost:11434")
	v.SetDefault("embedder.model", "nomic-embed-text")
	v.SetDefault("embedder.openai_base_url", "")
	v.SetDefault("embedder.openai_api_key_env", "OPENAI_API_KEY")
	v.SetDefault("embedder.timeout_secs", 120)

	v.SetDefault("chunker.size", chunker.DefaultSize)
	v.SetDefault("chunker.overlap", chunker.DefaultOverlap)
	v.SetDefault("chunker.length", "chars")
	v.SetDefault("chunker.token_model", chunker.DefaultTokenModel)

	v.SetDefault("index.type", string(vecindex.KindFlat))
	v.SetDefault("index.metric", "l2")
	v.SetDefault("index.nlist", 0)
	v.SetDefault("index.nprobe", 1)
	v.SetDefault("index.m", 32)
	v.SetDefault("index.ef_construction", 40)
	v.SetDefault("index.ef_search", 16)
	v.SetDefault("index.seed", 0)

	v.SetDefault("report.batch_size", 100)
	v.SetDefault("report.char_limit", 32000)
	v.SetDefault("report.split_metadata", false)

	v.SetDefault("decorators.tesseract", "")
	v.SetDefault("decorators.pdfimages", "")
	v.SetDefault("decorators.whisper", "")
	v.SetDefault("decorators.whisper_model", "base")
	v.SetDefault("decorators.language", "eng")

	v.SetDefault("llm.ollama_url", "http://localhost:11434")
	v.SetDefault("llm.model", "llama3.2")

	v.SetDefault("search.embed_batch_size", 32)
	v.SetDefault("search.top_k", 5)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()
	return v
}

// Load reads path, or the first of ./filesift.yaml and
// ~/.config/filesift/config.yaml that exists, into v and decodes the result.
// A missing file leaves the defaults. It returns the file used, if any.
func Load(v *viper.Viper, path string) (*Config, string, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		logger.Warnf("reading .env: %v", err)
	}

	if path == "" {
		path = findConfig()
	}
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, "", fmt.Errorf("read config %s: %w", path, err)
		}
		logger.Debugf("using config file %s", path)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, "", fmt.Errorf("decode config: %w", err)
	}
	return &cfg, path, nil
}

func findConfig() string {
	candidates := []string{"filesift.yaml"}
	if p, err := UserPath(); err == nil {
		candidates = append(candidates, p)
	}
	for _, c := range candidates {
		if _, err := os.Stat(c); err == nil {
			return c
		}
	}
	return ""
}

// UserPath is ~/.config/filesift/config.yaml.
func UserPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".config", "filesift", "config.yaml"), nil
}

// Save writes cfg as YAML, creating directories as needed.
func Save(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}
