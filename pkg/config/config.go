package config

import (
	"os"
	"path/filepath"
	"reflect"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"
)

const fileName = "proxy_hub.yaml"

// Config is read from proxy_hub.yaml files and then overridden by
// PROXYHUB_* environment variables (a .env file in the working directory is
// loaded first).
type Config struct {
	DSN             string   `yaml:"dsn" envconfig:"DSN"`
	BoltPath        string   `yaml:"bolt_path" envconfig:"BOLT_PATH"`
	ListenAddr      string   `yaml:"listen_addr" envconfig:"LISTEN_ADDR"`
	ZapProduction   bool     `yaml:"zap_production" envconfig:"ZAP_PRODUCTION"`
	ZapLogLevel     string   `yaml:"zap_log_level" envconfig:"ZAP_LOG_LEVEL"`
	ParallelTests   int      `yaml:"parallel_tests" envconfig:"PARALLEL_TESTS"`
	ProxyTimeoutS   int      `yaml:"proxy_timeout_s" envconfig:"PROXY_TIMEOUT_S"`
	BatchDeadlineS  int      `yaml:"batch_deadline_s" envconfig:"BATCH_DEADLINE_S"`
	EchoURLs        []string `yaml:"echo_urls" envconfig:"ECHO_URLS"`
	DefaultTags     []string `yaml:"default_tags" envconfig:"DEFAULT_TAGS"`
	GeoIPPath       string   `yaml:"geoip_path" envconfig:"GEOIP_PATH"`
	PyroscopeURL    string   `yaml:"pyroscope_url" envconfig:"PYROSCOPE_URL"`
	RetestIntervalS int      `yaml:"retest_interval_s" envconfig:"RETEST_INTERVAL_S"`
	RetestAfterS    int      `yaml:"retest_after_s" envconfig:"RETEST_AFTER_S"`
}

func LoadConfigFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var config Config
	err = yaml.Unmarshal(data, &config)
	if err != nil {
		return nil, err
	}
	return &config, nil
}

func LoadConfigFromEnv() (*Config, error) {
	_ = godotenv.Load()

	var config Config
	if err := envconfig.Process("PROXYHUB", &config); err != nil {
		return nil, err
	}
	return &config, nil
}

func MergeStructs(target interface{}, source interface{}) {
	targetVal := reflect.ValueOf(target).Elem()
	sourceVal := reflect.ValueOf(source).Elem()
	for i := 0; i < sourceVal.NumField(); i++ {
		field := sourceVal.Field(i)
		if !field.IsZero() {
			targetVal.Field(i).Set(field)
		}
	}
}

func Defaults() *Config {
	return &Config{
		ListenAddr:     "127.0.0.1:8000",
		ParallelTests:  5,
		ProxyTimeoutS:  15,
		BatchDeadlineS: 300,
		RetestAfterS:   3600,
		DefaultTags:    []string{"Default"},
	}
}

func NewConfig() *Config {
	var paths []string

	homeDir, err := os.UserHomeDir()
	if err == nil {
		paths = append(paths, filepath.Join(homeDir, fileName))
	}

	pwd, err := os.Getwd()
	if err == nil {
		paths = append(paths, filepath.Join(pwd, fileName))
	}

	exePath, err := os.Executable()
	if err == nil {
		exeDir := filepath.Dir(exePath)
		paths = append(paths, filepath.Join(exeDir, fileName))
	}

	return Load(paths...)
}

// Load merges the defaults, every readable file in paths (later files win)
// and the environment.
func Load(paths ...string) *Config {
	finalConfig := Defaults()

	for _, path := range paths {
		if _, err := os.Stat(path); err == nil {
			config, err := LoadConfigFromFile(path)
			if err == nil {
				MergeStructs(finalConfig, config)
			}
		}
	}

	if envConfig, err := LoadConfigFromEnv(); err == nil {
		MergeStructs(finalConfig, envConfig)
	}

	finalConfig.ParallelTests = max(min(finalConfig.ParallelTests, 1000), 1)
	finalConfig.ProxyTimeoutS = max(finalConfig.ProxyTimeoutS, 1)
	finalConfig.BatchDeadlineS = max(finalConfig.BatchDeadlineS, finalConfig.ProxyTimeoutS)

	return finalConfig
}
