package config

import (
	"fmt"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"
)

// Config корневая структура конфигурации редактора.
// Отсутствующие поля заполняются значениями по умолчанию.
type Config struct {
	History HistoryConfig `yaml:"history"`
	Storage StorageConfig `yaml:"storage"`
	Server  ServerConfig  `yaml:"server"`
	Log     LogConfig     `yaml:"log"`
	Procgen ProcgenConfig `yaml:"procgen"`
	Blocks  BlocksConfig  `yaml:"blocks"`
	Tracing TracingConfig `yaml:"tracing"`
}

type HistoryConfig struct {
	MaxNodes int `yaml:"max_nodes"`
}

type StorageConfig struct {
	Path        string `yaml:"path"`        // пусто: хранение в памяти
	Compression string `yaml:"compression"` // fastest, default, better, best
	Workers     int    `yaml:"workers"`
}

type ServerConfig struct {
	RESTPort    int `yaml:"rest_port"`
	MetricsPort int `yaml:"metrics_port"`
}

type LogConfig struct {
	Level     string `yaml:"level"`
	FileLevel string `yaml:"file_level"`
	Dir       string `yaml:"dir"`
}

type ProcgenConfig struct {
	Seed    int64   `yaml:"seed"`
	Scale   float64 `yaml:"scale"`
	MaxArea int64   `yaml:"max_area"` // лимит столбцов рельефа, 0: встроенный
}

type BlocksConfig struct {
	Limit int64 `yaml:"limit"` // лимит живых блоков, 0: без ограничения
}

type TracingConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Endpoint string `yaml:"endpoint"` // OTLP HTTP host:port
	Insecure bool   `yaml:"insecure"`
}

// Default возвращает конфигурацию по умолчанию
func Default() *Config {
	return &Config{
		History: HistoryConfig{MaxNodes: 256},
		Storage: StorageConfig{Compression: "default"},
		Log:     LogConfig{Level: "info", FileLevel: "debug"},
		Procgen: ProcgenConfig{Seed: 1, Scale: 32},
	}
}

// GetRESTPort возвращает REST API порт с поддержкой fallback значений
func (s *ServerConfig) GetRESTPort() int {
	return getPortWithEnvFallback(s.RESTPort, "VOXEDIT_REST_PORT", 8088)
}

// GetMetricsPort возвращает порт Prometheus метрик с поддержкой fallback значений.
// 0 в конфиге и окружении: метрики отдаются REST-сервером.
func (s *ServerConfig) GetMetricsPort() int {
	return getPortWithEnvFallback(s.MetricsPort, "VOXEDIT_METRICS_PORT", 0)
}

// getPortWithEnvFallback возвращает порт с приоритетом: config -> env -> default
func getPortWithEnvFallback(configPort int, envVar string, defaultPort int) int {
	// Если порт задан в конфиге и больше 0, используем его
	if configPort > 0 {
		return configPort
	}

	// Пробуем прочитать из environment variable
	if envVal := os.Getenv(envVar); envVal != "" {
		if port, err := strconv.Atoi(envVal); err == nil && port > 0 {
			return port
		}
	}

	return defaultPort
}

// Load читает YAML файл конфигурации поверх значений по умолчанию.
// Если path == "", берет путь из VOXEDIT_CONFIG; если и он пуст,
// возвращает конфигурацию по умолчанию.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		path = os.Getenv("VOXEDIT_CONFIG")
		if path == "" {
			return cfg, nil
		}
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("чтение конфигурации %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("разбор конфигурации %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate проверяет значения
func (c *Config) Validate() error {
	if c.History.MaxNodes < 0 {
		return fmt.Errorf("history.max_nodes не может быть отрицательным: %d", c.History.MaxNodes)
	}
	if c.Blocks.Limit < 0 {
		return fmt.Errorf("blocks.limit не может быть отрицательным: %d", c.Blocks.Limit)
	}
	if c.Procgen.MaxArea < 0 {
		return fmt.Errorf("procgen.max_area не может быть отрицательным: %d", c.Procgen.MaxArea)
	}
	if c.Procgen.Scale < 0 {
		return fmt.Errorf("procgen.scale не может быть отрицательным: %v", c.Procgen.Scale)
	}
	return nil
}
