// Package config provides configuration management for the chunk
// materialization pipeline. It follows Uber Go Style Guide conventions for
// struct organization and error handling.
package config

import (
	"errors"
	"fmt"
	"runtime"

	"github.com/spf13/viper"
)

// Common configuration errors.
var (
	ErrConfigNotFound = errors.New("configuration file not found")
	ErrInvalidConfig  = errors.New("invalid configuration")
)

// ServiceConfig holds common configuration for an external HTTP service
// client (parse service, chunk store, embedding model).
type ServiceConfig struct {
	BaseURL string `mapstructure:"base_url" validate:"required,url"`
	APIKey  string `mapstructure:"api_key"`
	Model   string `mapstructure:"model"`
}

// ChunkingConfig defines MarkdownSplitter parameters, per spec.md §6.
type ChunkingConfig struct {
	Strategy        string  `mapstructure:"strategy" validate:"oneof=basic smart advanced strict_regex"`
	ChunkTokenNum    int     `mapstructure:"chunk_token_num" validate:"min=50,max=2048"`
	ChunkTokenNumMax int     `mapstructure:"chunk_token_num_max" validate:"min=50"`
	MinChunkTokens   int     `mapstructure:"min_chunk_tokens" validate:"min=10,max=500"`
	OverlapRatio     float64 `mapstructure:"overlap_ratio" validate:"min=0,max=0.5"`
	RegexPattern     string  `mapstructure:"regex_pattern"`
	SplitAtHeadings  []int   `mapstructure:"split_at_heading_levels"`
}

// Validate checks the chunking configuration and fills in defaults for
// zero-valued fields.
func (c *ChunkingConfig) Validate() error {
	if c.Strategy == "" {
		c.Strategy = "smart"
	}
	if c.ChunkTokenNum == 0 {
		c.ChunkTokenNum = 256
	}
	if c.ChunkTokenNumMax == 0 {
		c.ChunkTokenNumMax = c.ChunkTokenNum * 2
	}
	if c.MinChunkTokens == 0 {
		c.MinChunkTokens = 20
	}
	if len(c.SplitAtHeadings) == 0 {
		c.SplitAtHeadings = []int{1, 2}
	}

	switch c.Strategy {
	case "basic", "smart", "advanced", "strict_regex":
	default:
		return fmt.Errorf("%w: unknown chunking strategy %q", ErrInvalidConfig, c.Strategy)
	}
	if c.Strategy == "strict_regex" && c.RegexPattern == "" {
		return fmt.Errorf("%w: strict_regex strategy requires regex_pattern", ErrInvalidConfig)
	}
	if c.ChunkTokenNumMax < c.ChunkTokenNum {
		return fmt.Errorf("%w: chunk_token_num_max must be >= chunk_token_num", ErrInvalidConfig)
	}
	if c.OverlapRatio < 0 || c.OverlapRatio > 0.5 {
		return fmt.Errorf("%w: overlap_ratio must be within [0, 0.5]", ErrInvalidConfig)
	}
	return nil
}

// ExcelConfig defines SpreadsheetSplitter parameters, per spec.md §6.
type ExcelConfig struct {
	DefaultStrategy       string `mapstructure:"default_strategy" validate:"oneof=html row auto"`
	HTMLChunkRows         int    `mapstructure:"html_chunk_rows"` // 0 == smart/derived
	PreprocessMergedCells bool   `mapstructure:"preprocess_merged_cells"`
	NumberFormatting      bool   `mapstructure:"number_formatting"`
}

func (c *ExcelConfig) setDefaults() {
	if c.DefaultStrategy == "" {
		c.DefaultStrategy = "auto"
	}
}

// PipelineConfig defines orchestrator-wide toggles, per spec.md §6.
type PipelineConfig struct {
	DevMode             bool `mapstructure:"dev_mode"`
	CleanupTempFiles    bool `mapstructure:"cleanup_temp_files"`
	WorkerCount         int  `mapstructure:"worker_count"`
	SubBatchSize        int  `mapstructure:"sub_batch_size"`
	SubBatchRetries     int  `mapstructure:"sub_batch_retries"`
	DynamicBatching     bool `mapstructure:"dynamic_batching"`
	EmbedWriteBatchSize int  `mapstructure:"embed_write_batch_size"`
}

func (c *PipelineConfig) setDefaults() {
	if c.SubBatchSize == 0 {
		c.SubBatchSize = 10
	}
	if c.SubBatchRetries == 0 {
		c.SubBatchRetries = 2
	}
	if c.WorkerCount == 0 {
		c.WorkerCount = runtime.GOMAXPROCS(0)
	}
	if c.EmbedWriteBatchSize == 0 {
		c.EmbedWriteBatchSize = 20
	}
}

// ParseServiceConfig carries the parse-service passthrough parameters, per
// spec.md §6.
type ParseServiceConfig struct {
	ServiceConfig  `mapstructure:",squash"`
	Backend        string `mapstructure:"backend"`
	ParseMethod    string `mapstructure:"parse_method"`
	Lang           string `mapstructure:"lang"`
	FormulaEnable  bool   `mapstructure:"formula_enable"`
	TableEnable    bool   `mapstructure:"table_enable"`
}

// Config represents the complete application configuration. Structs are
// organized by functional domain with clear separation, mirroring the
// teacher's grouping style.
type Config struct {
	Database struct {
		Host     string `mapstructure:"host" validate:"required,hostname"`
		Port     int    `mapstructure:"port" validate:"required,min=1,max=65535"`
		User     string `mapstructure:"user" validate:"required"`
		Password string `mapstructure:"password" validate:"required"`
		DBName   string `mapstructure:"dbname" validate:"required"`
	} `mapstructure:"database"`

	Redis struct {
		Host     string `mapstructure:"host" validate:"required,hostname"`
		Port     int    `mapstructure:"port" validate:"required,min=1,max=65535"`
		Password string `mapstructure:"password"`
		DB       int    `mapstructure:"db" validate:"min=0,max=15"`
	} `mapstructure:"redis"`

	ObjectStore struct {
		Endpoint        string `mapstructure:"endpoint" validate:"required"`
		AccessKeyID     string `mapstructure:"access_key_id" validate:"required"`
		SecretAccessKey string `mapstructure:"secret_access_key" validate:"required"`
		BucketName      string `mapstructure:"bucket_name" validate:"required"`
		PublicBaseURL   string `mapstructure:"public_base_url"`
		UseSSL          bool   `mapstructure:"use_ssl"`
	} `mapstructure:"object_store"`

	Queue struct {
		ListKey string `mapstructure:"list_key"`
	} `mapstructure:"queue"`

	Chunking ChunkingConfig `mapstructure:"chunking"`
	Excel    ExcelConfig    `mapstructure:"excel"`
	Pipeline PipelineConfig `mapstructure:"pipeline"`

	ParseService     ParseServiceConfig `mapstructure:"parse_service"`
	ChunkStore       ServiceConfig      `mapstructure:"chunk_store"`
	EmbeddingService ServiceConfig      `mapstructure:"embedding_service"`
}

// Validate performs configuration validation and sets defaults.
func (c *Config) Validate() error {
	if err := c.Chunking.Validate(); err != nil {
		return fmt.Errorf("chunking config: %w", err)
	}
	c.Excel.setDefaults()
	c.Pipeline.setDefaults()
	return nil
}

// LoadConfig loads configuration from file and environment variables.
func LoadConfig(configPath string) (*Config, error) {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(configPath)
	viper.AutomaticEnv()

	setDefaults()

	if err := viper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) {
			return nil, fmt.Errorf("%w: %v", ErrConfigNotFound, err)
		}
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

// setDefaults configures sensible default values, mirroring spec.md §6's
// enumerated configuration surface.
func setDefaults() {
	viper.SetDefault("chunking.strategy", "smart")
	viper.SetDefault("chunking.chunk_token_num", 256)
	viper.SetDefault("chunking.chunk_token_num_max", 512)
	viper.SetDefault("chunking.min_chunk_tokens", 20)
	viper.SetDefault("chunking.overlap_ratio", 0.1)

	viper.SetDefault("excel.default_strategy", "auto")
	viper.SetDefault("excel.preprocess_merged_cells", true)
	viper.SetDefault("excel.number_formatting", true)

	viper.SetDefault("pipeline.dev_mode", false)
	viper.SetDefault("pipeline.cleanup_temp_files", true)
	viper.SetDefault("pipeline.worker_count", runtime.GOMAXPROCS(0))
	viper.SetDefault("pipeline.sub_batch_size", 10)
	viper.SetDefault("pipeline.sub_batch_retries", 2)
	viper.SetDefault("pipeline.dynamic_batching", false)
	viper.SetDefault("pipeline.embed_write_batch_size", 20)

	viper.SetDefault("redis.host", "localhost")
	viper.SetDefault("redis.port", 6379)
	viper.SetDefault("redis.db", 0)

	viper.SetDefault("object_store.use_ssl", false)

	viper.SetDefault("queue.list_key", "pipeline:jobs")
}

// MustLoadConfig loads configuration and panics on failure. Use this only
// in main()/init() where failure should be fatal.
func MustLoadConfig(configPath string) *Config {
	cfg, err := LoadConfig(configPath)
	if err != nil {
		panic(fmt.Sprintf("failed to load configuration: %v", err))
	}
	return cfg
}
