package conf

import (
	"fmt"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"

	"github.com/go-crucible/crucible/pkg/cache"
	"github.com/go-crucible/crucible/pkg/database"
	"github.com/go-crucible/crucible/pkg/log"
	"github.com/go-crucible/crucible/pkg/metrics"
	"github.com/go-crucible/crucible/pkg/sandbox"
	"github.com/go-crucible/crucible/pkg/storage"
)

// Sandbox carries the runtime resource envelope defaults.
type Sandbox struct {
	Runtime        string        `mapstructure:"runtime"`
	Timeout        time.Duration `mapstructure:"timeout"`
	MemoryLimitMiB int64         `mapstructure:"memoryLimitMiB"`
}

// Options converts the configured envelope into the executor's default
// sandbox options. Unset fields keep the runtime defaults.
func (s Sandbox) Options() *sandbox.Options {
	opts := sandbox.DefaultOptions()
	if s.Timeout > 0 {
		opts.Timeout = s.Timeout
	}
	if s.MemoryLimitMiB > 0 {
		opts.MemoryLimit = s.MemoryLimitMiB << 20
	}
	return opts
}

// Executor tunes admission control.
type Executor struct {
	MaxConcurrent int64 `mapstructure:"maxConcurrent"`

	// RateLimitBackend selects "memory" or "redis" for the sliding window.
	RateLimitBackend string `mapstructure:"rateLimitBackend"`
}

type AppConfig struct {
	Log      log.Conf
	Database database.Config
	Redis    cache.Redis
	Minio    storage.MinioConfig
	Metrics  metrics.Config
	Sandbox  Sandbox
	Executor Executor
}

var (
	cfg  AppConfig
	once sync.Once
)

func NewConf(confFile string) AppConfig {
	once.Do(func() {
		var err error
		cfg, err = LoadConfigFile(confFile)
		if err != nil {
			panic(fmt.Sprintf("load conf file error: %s", err))
		}
	})
	return cfg
}

// LoadConfigFile reads and watches the config file.
func LoadConfigFile(confFile string) (AppConfig, error) {
	config := viper.New()
	config.SetConfigFile(confFile)
	config.AddConfigPath("./conf.d")
	config.SetConfigName("config")
	config.SetConfigType("toml")
	if err := config.ReadInConfig(); err != nil {
		return cfg, fmt.Errorf("failed to read configuration file: %v", err)
	}

	config.WatchConfig()
	config.OnConfigChange(func(e fsnotify.Event) {
		log.Infof("configuration changed, reloading: %s", e.Name)
		if err := config.Unmarshal(&cfg); err != nil {
			log.Errorf("failed to unmarshal configuration file: %v", err)
		}
	})
	if err := config.Unmarshal(&cfg); err != nil {
		return cfg, fmt.Errorf("failed to unmarshal configuration file: %v", err)
	}
	return cfg, nil
}
