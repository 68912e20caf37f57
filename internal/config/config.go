package config

import (
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Store    StoreConfig    `yaml:"store" mapstructure:"store"`
	LLM      LLMConfig      `yaml:"llm" mapstructure:"llm"`
	PubMed   PubMedConfig   `yaml:"pubmed" mapstructure:"pubmed"`
	Tavily   TavilyConfig   `yaml:"tavily" mapstructure:"tavily"`
	Pipeline PipelineConfig `yaml:"pipeline" mapstructure:"pipeline"`
	Server   ServerConfig   `yaml:"server" mapstructure:"server"`
	Log      LogConfig      `yaml:"log" mapstructure:"log"`
}

// StoreConfig configures the database backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
}

// LLMConfig holds Anthropic API settings for the language-model collaborator.
type LLMConfig struct {
	Key       string `yaml:"key" mapstructure:"key"`
	Model     string `yaml:"model" mapstructure:"model"`
	MaxTokens int64  `yaml:"max_tokens" mapstructure:"max_tokens"`
}

// PubMedConfig holds NCBI E-utilities settings.
type PubMedConfig struct {
	BaseURL         string  `yaml:"base_url" mapstructure:"base_url"`
	FulltextBaseURL string  `yaml:"fulltext_base_url" mapstructure:"fulltext_base_url"`
	Email           string  `yaml:"email" mapstructure:"email"`
	RatePerSec      float64 `yaml:"rate_per_sec" mapstructure:"rate_per_sec"`
}

// TavilyConfig holds Tavily search/extract API settings.
type TavilyConfig struct {
	Key     string `yaml:"key" mapstructure:"key"`
	BaseURL string `yaml:"base_url" mapstructure:"base_url"`
}

// Checkpoints holds the per-stage progress values. The exact numbers are
// configuration, not load-bearing logic; the only requirement is that they
// are non-decreasing across a healthy run.
type Checkpoints struct {
	Create        int `yaml:"create" mapstructure:"create"`
	SearchStart   int `yaml:"search_start" mapstructure:"search_start"`
	SearchDone    int `yaml:"search_done" mapstructure:"search_done"`
	RetrieveStart int `yaml:"retrieve_start" mapstructure:"retrieve_start"`
	RetrieveDone  int `yaml:"retrieve_done" mapstructure:"retrieve_done"`
	AnalyzeStart  int `yaml:"analyze_start" mapstructure:"analyze_start"`
	AnalyzeDone   int `yaml:"analyze_done" mapstructure:"analyze_done"`
	SaveArticle   int `yaml:"save_article" mapstructure:"save_article"`
	Publish       int `yaml:"publish" mapstructure:"publish"`
}

// PipelineConfig configures stage behavior.
type PipelineConfig struct {
	Checkpoints        Checkpoints `yaml:"checkpoints" mapstructure:"checkpoints"`
	MaxPMIDsPerQuery   int         `yaml:"max_pmids_per_query" mapstructure:"max_pmids_per_query"`
	TopPapersPerQuery  int         `yaml:"top_papers_per_query" mapstructure:"top_papers_per_query"`
	WebResultsPerQuery int         `yaml:"web_results_per_query" mapstructure:"web_results_per_query"`
	TopWebSources      int         `yaml:"top_web_sources" mapstructure:"top_web_sources"`
	ExtractBatchSize   int         `yaml:"extract_batch_size" mapstructure:"extract_batch_size"`
	FulltextMaxChars   int         `yaml:"fulltext_max_chars" mapstructure:"fulltext_max_chars"`
	PreviewMaxChars    int         `yaml:"preview_max_chars" mapstructure:"preview_max_chars"`
}

// ServerConfig configures the read-only HTTP API.
type ServerConfig struct {
	Port int `yaml:"port" mapstructure:"port"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("CONCEPT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.database_url", "concepts.db")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("server.port", 8080)
	v.SetDefault("llm.model", "claude-sonnet-4-5-20250929")
	v.SetDefault("llm.max_tokens", 4096)
	v.SetDefault("pubmed.base_url", "https://eutils.ncbi.nlm.nih.gov/entrez/eutils")
	v.SetDefault("pubmed.fulltext_base_url", "https://www.ncbi.nlm.nih.gov/research/bionlp/RESTful/pmcoa.cgi")
	v.SetDefault("pubmed.email", "research@loader.land")
	v.SetDefault("pubmed.rate_per_sec", 3)
	v.SetDefault("tavily.base_url", "https://api.tavily.com")
	v.SetDefault("pipeline.max_pmids_per_query", 15)
	v.SetDefault("pipeline.top_papers_per_query", 5)
	v.SetDefault("pipeline.web_results_per_query", 5)
	v.SetDefault("pipeline.top_web_sources", 8)
	v.SetDefault("pipeline.extract_batch_size", 20)
	v.SetDefault("pipeline.fulltext_max_chars", 15000)
	v.SetDefault("pipeline.preview_max_chars", 12000)
	v.SetDefault("pipeline.checkpoints.create", 5)
	v.SetDefault("pipeline.checkpoints.search_start", 10)
	v.SetDefault("pipeline.checkpoints.search_done", 25)
	v.SetDefault("pipeline.checkpoints.retrieve_start", 28)
	v.SetDefault("pipeline.checkpoints.retrieve_done", 40)
	v.SetDefault("pipeline.checkpoints.analyze_start", 42)
	v.SetDefault("pipeline.checkpoints.analyze_done", 60)
	v.SetDefault("pipeline.checkpoints.save_article", 90)
	v.SetDefault("pipeline.checkpoints.publish", 100)

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
