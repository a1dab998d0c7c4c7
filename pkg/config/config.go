package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/spf13/viper"

	"github.com/user/crawl-orchestrator/internal/entity"
)

// EnvPrefix prefixes every environment variable override, e.g. ORCH_MAX_CONCURRENT.
const EnvPrefix = "ORCH"

// DefaultConfigName is looked up in the working directory when no config path is given.
const DefaultConfigName = "orchestrator"

// Config holds the application configuration.
type Config struct {
	Log           LogConfig     `mapstructure:"log"`
	ScheduleFile  string        `mapstructure:"schedule_file"`
	Timezone      string        `mapstructure:"timezone"`
	TickInterval  time.Duration `mapstructure:"tick_interval"`
	MaxConcurrent int           `mapstructure:"max_concurrent"`
	RunTimeout    time.Duration `mapstructure:"run_timeout"`
	OutputDir     string        `mapstructure:"output_dir"`
	Crawler       CrawlerConfig `mapstructure:"crawler"`
	State         StateConfig   `mapstructure:"state"`
	Sink          SinkConfig    `mapstructure:"sink"`
	SQL           SQLConfig     `mapstructure:"sql"`
	HTTP          HTTPConfig    `mapstructure:"http"`
}

type LogConfig struct {
	Level       string `mapstructure:"level"`
	Development bool   `mapstructure:"development"`
}

// CrawlerConfig describes the external crawler. Args may contain the {url} and {output}
// placeholders.
type CrawlerConfig struct {
	Path           string   `mapstructure:"path"`
	Args           []string `mapstructure:"args"`
	ExportPatterns []string `mapstructure:"export_patterns"`
}

// StateConfig selects the run state backend: file, redis or postgres.
type StateConfig struct {
	Kind          string `mapstructure:"kind"`
	Path          string `mapstructure:"path"`
	RedisAddr     string `mapstructure:"redis_addr"`
	RedisPassword string `mapstructure:"redis_password"`
	RedisDB       int    `mapstructure:"redis_db"`
	PostgresURL   string `mapstructure:"postgres_url"`
}

// SinkConfig selects where generated statements go: file, postgres, amqp or redis.
type SinkConfig struct {
	Kind        string `mapstructure:"kind"`
	Path        string `mapstructure:"path"`
	PostgresURL string `mapstructure:"postgres_url"`
	AMQPURL     string `mapstructure:"amqp_url"`
	Queue       string `mapstructure:"queue"`
	RedisAddr   string `mapstructure:"redis_addr"`
	RedisKey    string `mapstructure:"redis_key"`
}

type SQLConfig struct {
	Table   string                 `mapstructure:"table"`
	Columns []entity.ColumnMapping `mapstructure:"columns"`
}

// HTTPConfig configures the status API. An empty Addr disables it.
type HTTPConfig struct {
	Addr string `mapstructure:"addr"`
}

// DefaultCrawlerArgs reproduce a headless Screaming Frog crawl exporting the Internal:All tab.
var DefaultCrawlerArgs = []string{
	"--crawl", "{url}",
	"--headless",
	"--output-folder", "{output}",
	"--export-tabs", "Internal:All",
	"--export-format", "csv",
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("log.level", "info")
	v.SetDefault("log.development", false)
	v.SetDefault("schedule_file", "schedule.txt")
	v.SetDefault("timezone", "Local")
	v.SetDefault("tick_interval", "1m")
	v.SetDefault("max_concurrent", 1)
	v.SetDefault("run_timeout", "6h")
	v.SetDefault("output_dir", "crawls")

	v.SetDefault("crawler.path", "screamingfrogseospider")
	v.SetDefault("crawler.args", DefaultCrawlerArgs)
	v.SetDefault("crawler.export_patterns", []string{"internal_all.csv"})

	v.SetDefault("state.kind", "file")
	v.SetDefault("state.path", "state.json")
	v.SetDefault("state.redis_addr", "localhost:6379")
	v.SetDefault("state.redis_password", "")
	v.SetDefault("state.redis_db", 0)
	v.SetDefault("state.postgres_url", "")

	v.SetDefault("sink.kind", "file")
	v.SetDefault("sink.path", "")
	v.SetDefault("sink.postgres_url", "")
	v.SetDefault("sink.amqp_url", "")
	v.SetDefault("sink.queue", "crawl_statements")
	v.SetDefault("sink.redis_addr", "localhost:6379")
	v.SetDefault("sink.redis_key", "orchestrator:statements")

	v.SetDefault("sql.table", "crawl_results")
	v.SetDefault("sql.columns", []map[string]any{
		{"column_name": "target_url", "source_field": entity.FieldTargetURL, "type": "text"},
		{"column_name": "run_id", "source_field": entity.FieldRunID, "type": "text"},
		{"column_name": "crawled_at", "source_field": entity.FieldCrawledAt, "type": "timestamp"},
		{"column_name": "address", "source_field": "Address", "type": "text"},
		{"column_name": "status_code", "source_field": "Status Code", "type": "integer"},
		{"column_name": "indexability", "source_field": "Indexability", "type": "text"},
		{"column_name": "title", "source_field": "Title 1", "type": "text"},
		{"column_name": "meta_description", "source_field": "Meta Description 1", "type": "text"},
		{"column_name": "h1", "source_field": "H1-1", "type": "text"},
		{"column_name": "word_count", "source_field": "Word Count", "type": "integer"},
		{"column_name": "crawl_depth", "source_field": "Crawl Depth", "type": "integer"},
	})

	v.SetDefault("http.addr", ":8080")
}

// Load reads configuration from the YAML file at path (or ./orchestrator.yaml when path is
// empty), a .env file in the working directory and ORCH_ prefixed environment variables.
// Environment variables take precedence over both files.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := loadDotEnv(".env"); err != nil {
		return nil, &entity.ConfigError{Source: ".env", Err: err}
	}

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, &entity.ConfigError{Source: path, Err: err}
		}
	} else {
		v.SetConfigName(DefaultConfigName)
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, &entity.ConfigError{Source: DefaultConfigName + ".yaml", Err: err}
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, &entity.ConfigError{Source: "config", Err: err}
	}
	return &cfg, nil
}

// loadDotEnv exports the variables of an optional dotenv file without overriding
// variables already present in the environment.
func loadDotEnv(path string) error {
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return nil
	}

	env := viper.New()
	env.SetConfigFile(path)
	env.SetConfigType("env")
	if err := env.ReadInConfig(); err != nil {
		return err
	}

	for _, key := range env.AllKeys() {
		name := strings.ToUpper(key)
		if _, ok := os.LookupEnv(name); ok {
			continue
		}
		if err := os.Setenv(name, env.GetString(key)); err != nil {
			return err
		}
	}
	return nil
}

// Location resolves the configured timezone.
func (c *Config) Location() (*time.Location, error) {
	if c.Timezone == "" || c.Timezone == "Local" {
		return time.Local, nil
	}
	return time.LoadLocation(c.Timezone)
}

// Validate reports every configuration problem at once as a ConfigError.
func (c *Config) Validate() error {
	var result *multierror.Error

	if c.ScheduleFile == "" {
		result = multierror.Append(result, errors.New("schedule_file is required"))
	}
	if _, err := c.Location(); err != nil {
		result = multierror.Append(result, fmt.Errorf("timezone: %w", err))
	}
	if c.TickInterval <= 0 {
		result = multierror.Append(result, errors.New("tick_interval must be positive"))
	}
	if c.MaxConcurrent < 1 {
		result = multierror.Append(result, errors.New("max_concurrent must be at least 1"))
	}
	if c.RunTimeout <= 0 {
		result = multierror.Append(result, errors.New("run_timeout must be positive"))
	}
	if c.OutputDir == "" {
		result = multierror.Append(result, errors.New("output_dir is required"))
	}
	if c.Crawler.Path == "" {
		result = multierror.Append(result, errors.New("crawler.path is required"))
	}

	switch c.State.Kind {
	case "file":
		if c.State.Path == "" {
			result = multierror.Append(result, errors.New("state.path is required for the file state store"))
		}
	case "redis":
		if c.State.RedisAddr == "" {
			result = multierror.Append(result, errors.New("state.redis_addr is required for the redis state store"))
		}
	case "postgres":
		if c.State.PostgresURL == "" {
			result = multierror.Append(result, errors.New("state.postgres_url is required for the postgres state store"))
		}
	default:
		result = multierror.Append(result, fmt.Errorf("unknown state.kind %q", c.State.Kind))
	}

	switch c.Sink.Kind {
	case "file":
	case "postgres":
		if c.Sink.PostgresURL == "" {
			result = multierror.Append(result, errors.New("sink.postgres_url is required for the postgres sink"))
		}
	case "amqp":
		if c.Sink.AMQPURL == "" {
			result = multierror.Append(result, errors.New("sink.amqp_url is required for the amqp sink"))
		}
	case "redis":
		if c.Sink.RedisAddr == "" {
			result = multierror.Append(result, errors.New("sink.redis_addr is required for the redis sink"))
		}
	default:
		result = multierror.Append(result, fmt.Errorf("unknown sink.kind %q", c.Sink.Kind))
	}

	if c.SQL.Table == "" {
		result = multierror.Append(result, errors.New("sql.table is required"))
	}
	if len(c.SQL.Columns) == 0 {
		result = multierror.Append(result, errors.New("sql.columns must map at least one column"))
	}
	for i, col := range c.SQL.Columns {
		if _, err := entity.ParseColumnType(string(col.Type)); err != nil {
			result = multierror.Append(result, fmt.Errorf("sql.columns[%d]: %w", i, err))
		}
	}

	if err := result.ErrorOrNil(); err != nil {
		return &entity.ConfigError{Source: "config", Err: err}
	}
	return nil
}
