package config

import (
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config 服务配置
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Database DatabaseConfig `mapstructure:"database"`
	Redis    RedisConfig    `mapstructure:"redis"`
	Feed     FeedConfig     `mapstructure:"feed"`
	Tasks    TasksConfig    `mapstructure:"tasks"`
	Log      LogConfig      `mapstructure:"log"`
	Sentry   SentryConfig   `mapstructure:"sentry"`
	Tracing  TracingConfig  `mapstructure:"tracing"`
}

type ServerConfig struct {
	Port            int           `mapstructure:"port"`
	Mode            string        `mapstructure:"mode"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

type DatabaseConfig struct {
	Driver       string `mapstructure:"driver"` // postgres | sqlite
	DSN          string `mapstructure:"dsn"`
	MaxOpenConns int    `mapstructure:"max_open_conns"`
	MaxIdleConns int    `mapstructure:"max_idle_conns"`
	AutoMigrate  bool   `mapstructure:"auto_migrate"`
}

type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// FeedConfig 时间线 / 缓存相关参数
type FeedConfig struct {
	PageSize       int           `mapstructure:"page_size"`
	MaxPageSize    int           `mapstructure:"max_page_size"`
	CacheListLimit int           `mapstructure:"cache_list_limit"`
	CacheTTL       time.Duration `mapstructure:"cache_ttl"`
	ObjectTTL      time.Duration `mapstructure:"object_ttl"`
	FanoutBatch    int           `mapstructure:"fanout_batch_size"`
}

// TasksConfig 异步任务池参数；Queues 为 routing key -> worker 数
type TasksConfig struct {
	Queues      map[string]int `mapstructure:"queues"`
	QueueSize   int            `mapstructure:"queue_size"`
	TimeLimit   time.Duration  `mapstructure:"time_limit"`
	MaxAttempts int            `mapstructure:"max_attempts"`
	RetryDelay  time.Duration  `mapstructure:"retry_delay"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"` // json | console
}

type SentryConfig struct {
	DSN         string `mapstructure:"dsn"`
	Environment string `mapstructure:"environment"`
}

type TracingConfig struct {
	Endpoint    string `mapstructure:"endpoint"`
	ServiceName string `mapstructure:"service_name"`
}

// Load 读取 ./config/config.yaml 或 ./config.yaml，环境变量 NEWSFEED_* 覆盖
func Load() (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath("./config")
	v.AddConfigPath(".")
	v.SetEnvPrefix("NEWSFEED")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.mode", "debug")
	v.SetDefault("server.shutdown_timeout", 10*time.Second)

	v.SetDefault("database.driver", "postgres")
	v.SetDefault("database.dsn", "host=localhost user=postgres password=postgres dbname=newsfeed port=5432 sslmode=disable")
	v.SetDefault("database.max_open_conns", 50)
	v.SetDefault("database.max_idle_conns", 10)
	v.SetDefault("database.auto_migrate", true)

	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.db", 0)

	v.SetDefault("feed.page_size", 20)
	v.SetDefault("feed.max_page_size", 100)
	v.SetDefault("feed.cache_list_limit", 200)
	v.SetDefault("feed.cache_ttl", 24*time.Hour)
	v.SetDefault("feed.object_ttl", time.Hour)
	v.SetDefault("feed.fanout_batch_size", 1000)

	v.SetDefault("tasks.queues", map[string]int{"default": 2, "fanout": 8})
	v.SetDefault("tasks.queue_size", 10000)
	v.SetDefault("tasks.time_limit", time.Hour)
	v.SetDefault("tasks.max_attempts", 5)
	v.SetDefault("tasks.retry_delay", 200*time.Millisecond)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	v.SetDefault("tracing.service_name", "newsfeed")
}
