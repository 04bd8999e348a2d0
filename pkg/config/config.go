package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

type Config struct {
	Group     GroupConfig     `mapstructure:"group"`
	Backend   BackendConfig   `mapstructure:"backend"`
	Discovery DiscoveryConfig `mapstructure:"discovery"`
	Telemetry TelemetryConfig `mapstructure:"telemetry"`
	Logger    LoggerConfig    `mapstructure:"logger"`
}

// GroupConfig identifies this process within its process group.
type GroupConfig struct {
	ID   string `mapstructure:"id"`
	Task int    `mapstructure:"task"`
	Size int    `mapstructure:"size"`
}

// BackendConfig selects and configures the transport a Data container
// runs its transitions over: "singleprocess" for in-process tests and
// single-binary examples, "wsmesh" for a real multi-process run.
type BackendConfig struct {
	Kind       string `mapstructure:"kind"`
	ListenAddr string `mapstructure:"listen_addr"`
}

type DiscoveryConfig struct {
	Kind        string `mapstructure:"kind"`
	EtcdEndpoints []string `mapstructure:"etcd_endpoints"`
	LeaseTTLSeconds int64 `mapstructure:"lease_ttl_seconds"`
}

type TelemetryConfig struct {
	Enabled      bool    `mapstructure:"enabled"`
	JaegerURL    string  `mapstructure:"jaeger_url"`
	ServiceName  string  `mapstructure:"service_name"`
	SamplingRate float64 `mapstructure:"sampling_rate"`
}

type LoggerConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	Output     string `mapstructure:"output"`
	AddCaller  bool   `mapstructure:"add_caller"`
	Stacktrace bool   `mapstructure:"stacktrace"`
}

func Load(serviceName string) (*Config, error) {
	viper.SetConfigName(serviceName)
	viper.SetConfigType("yaml")
	viper.AddConfigPath("./configs")
	viper.AddConfigPath("/etc/distgrid")

	setDefaults()

	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.SetEnvPrefix("DISTGRID")

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	overrideFromEnv(&config)

	return &config, nil
}

func setDefaults() {
	viper.SetDefault("group.id", "default")
	viper.SetDefault("group.task", 0)
	viper.SetDefault("group.size", 1)

	viper.SetDefault("backend.kind", "singleprocess")
	viper.SetDefault("backend.listen_addr", "0.0.0.0:7070")

	viper.SetDefault("discovery.kind", "inmemory")
	viper.SetDefault("discovery.lease_ttl_seconds", 10)

	viper.SetDefault("telemetry.enabled", true)
	viper.SetDefault("telemetry.jaeger_url", "http://localhost:14268/api/traces")
	viper.SetDefault("telemetry.service_name", "distgrid")
	viper.SetDefault("telemetry.sampling_rate", 1.0)

	viper.SetDefault("logger.level", "info")
	viper.SetDefault("logger.format", "json")
	viper.SetDefault("logger.output", "stdout")
	viper.SetDefault("logger.add_caller", true)
	viper.SetDefault("logger.stacktrace", false)
}

func overrideFromEnv(cfg *Config) {
	if task := viper.GetInt("GROUP_TASK"); task != 0 {
		cfg.Group.Task = task
	}
	if size := viper.GetInt("GROUP_SIZE"); size != 0 {
		cfg.Group.Size = size
	}
	if addr := viper.GetString("BACKEND_LISTEN_ADDR"); addr != "" {
		cfg.Backend.ListenAddr = addr
	}
	if endpoints := viper.GetString("DISCOVERY_ETCD_ENDPOINTS"); endpoints != "" {
		cfg.Discovery.EtcdEndpoints = strings.Split(endpoints, ",")
	}
}
