package conf

import (
	"github.com/google/wire"

	"github.com/go-crucible/crucible/pkg/cache"
	"github.com/go-crucible/crucible/pkg/database"
	"github.com/go-crucible/crucible/pkg/log"
	"github.com/go-crucible/crucible/pkg/metrics"
	"github.com/go-crucible/crucible/pkg/storage"
)

// ProviderSet provides configuration dependencies.
var ProviderSet = wire.NewSet(
	ProvideConf,
	ProvideLogConf,
	ProvideDatabaseConf,
	ProvideRedisConf,
	ProvideMinioConf,
	ProvideMetricsConf,
)

func ProvideConf(configFile string) AppConfig {
	return NewConf(configFile)
}

func ProvideLogConf(appConf AppConfig) *log.Conf {
	return &appConf.Log
}

func ProvideDatabaseConf(appConf AppConfig) database.Config {
	return appConf.Database
}

func ProvideRedisConf(appConf AppConfig) cache.Redis {
	return appConf.Redis
}

func ProvideMinioConf(appConf AppConfig) storage.MinioConfig {
	return appConf.Minio
}

func ProvideMetricsConf(appConf AppConfig) metrics.Config {
	return appConf.Metrics
}
