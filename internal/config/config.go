package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config корневая структура конфигурации сервера синхронизации сцены.
type Config struct {
	Sync      SyncConfig      `yaml:"sync"`
	Server    ServerConfig    `yaml:"server"`
	Cluster   ClusterConfig   `yaml:"cluster"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
}

// SyncConfig управляет таймингами и порогами реплицирующего тика,
// зеркалируя параметры конструктора кодового SyncManager.
type SyncConfig struct {
	// UpdatePeriodSeconds — интервал между проходами ProcessSyncState. По умолчанию 1/20s.
	UpdatePeriodSeconds float64 `yaml:"update_period_seconds" env:"SYNC_UPDATE_PERIOD"`

	// PriorityUpdatePeriodSeconds — интервал пересортировки dirty-очереди по приоритету наблюдателя.
	PriorityUpdatePeriodSeconds float64 `yaml:"priority_update_period_seconds" env:"SYNC_PRIORITY_PERIOD"`

	// MaxLinExtrapTimeSeconds — верхняя граница времени линейной экстраполяции положения.
	MaxLinExtrapTimeSeconds float64 `yaml:"max_lin_extrap_time_seconds" env:"SYNC_MAX_EXTRAP"`

	// NoClientPhysicsHandoff отключает передачу управления телом клиентской физике
	// после интервала без обновлений.
	NoClientPhysicsHandoff bool `yaml:"no_client_physics_handoff" env:"SYNC_NO_PHYSICS_HANDOFF"`

	// InterestManagementEnabled включает приоритизацию по дистанции до наблюдателя.
	InterestManagementEnabled bool `yaml:"interest_management_enabled" env:"SYNC_INTEREST_MGMT"`

	// MaxMessageBytes — верхняя граница размера одного исходящего сетевого сообщения.
	MaxMessageBytes int `yaml:"max_message_bytes" env:"SYNC_MAX_MESSAGE_BYTES"`
}

func (s SyncConfig) UpdatePeriod() time.Duration {
	return durationOrDefault(s.UpdatePeriodSeconds, 1.0/20.0)
}

func (s SyncConfig) PriorityUpdatePeriod() time.Duration {
	return durationOrDefault(s.PriorityUpdatePeriodSeconds, 1.0)
}

func (s SyncConfig) MaxLinExtrapTime() time.Duration {
	return durationOrDefault(s.MaxLinExtrapTimeSeconds, 3.0)
}

func (s SyncConfig) MaxMessageSize() int {
	if s.MaxMessageBytes > 0 {
		return s.MaxMessageBytes
	}
	return 1400
}

func durationOrDefault(seconds, def float64) time.Duration {
	if seconds <= 0 {
		seconds = def
	}
	return time.Duration(seconds * float64(time.Second))
}

// ServerConfig описывает листенеры, выставляемые процессом.
type ServerConfig struct {
	ListenAddr  string `yaml:"listen_addr"`
	AdminPort   int    `yaml:"admin_port"`
	MetricsPort int    `yaml:"metrics_port"`
}

func (s *ServerConfig) GetAdminPort() int {
	return getPortWithEnvFallback(s.AdminPort, "SCENESYNC_ADMIN_PORT", 8088)
}

func (s *ServerConfig) GetMetricsPort() int {
	return getPortWithEnvFallback(s.MetricsPort, "SCENESYNC_METRICS_PORT", 2112)
}

func (s *ServerConfig) GetListenAddr() string {
	if s.ListenAddr != "" {
		return s.ListenAddr
	}
	if v := os.Getenv("SCENESYNC_LISTEN_ADDR"); v != "" {
		return v
	}
	return ":2345"
}

// ClusterConfig configures cross-node component-type broadcast over NATS.
type ClusterConfig struct {
	Enabled bool   `yaml:"enabled" env:"CLUSTER_ENABLED"`
	NATSURL string `yaml:"nats_url" env:"CLUSTER_NATS_URL"`
	Subject string `yaml:"subject" env:"CLUSTER_SUBJECT"`
	NodeID  string `yaml:"node_id" env:"CLUSTER_NODE_ID"`
}

// TelemetryConfig configures OpenTelemetry span export for sync ticks.
type TelemetryConfig struct {
	Enabled        bool   `yaml:"enabled" env:"TELEMETRY_ENABLED"`
	OTLPEndpoint   string `yaml:"otlp_endpoint" env:"TELEMETRY_OTLP_ENDPOINT"`
	ServiceName    string `yaml:"service_name" env:"TELEMETRY_SERVICE_NAME"`
}

func getPortWithEnvFallback(configPort int, envVar string, defaultPort int) int {
	if configPort > 0 {
		return configPort
	}
	if envVal := os.Getenv(envVar); envVal != "" {
		if port, err := strconv.Atoi(envVal); err == nil && port > 0 {
			return port
		}
	}
	return defaultPort
}

// Load читает YAML файл конфигурации. Если path == "", читает путь из SCENESYNC_CONFIG,
// а если эта переменная тоже пуста — возвращает Default().
func Load(path string) (*Config, error) {
	if path == "" {
		path = os.Getenv("SCENESYNC_CONFIG")
		if path == "" {
			return Default(), nil
		}
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	return cfg, nil
}

// Default возвращает конфигурацию, воспроизводящую значения конструктора
// SyncManager по умолчанию.
func Default() *Config {
	return &Config{
		Sync: SyncConfig{
			UpdatePeriodSeconds:         1.0 / 20.0,
			PriorityUpdatePeriodSeconds: 1.0,
			MaxLinExtrapTimeSeconds:     3.0,
			NoClientPhysicsHandoff:      false,
			InterestManagementEnabled:   true,
			MaxMessageBytes:             1400,
		},
		Server: ServerConfig{
			ListenAddr:  ":2345",
			AdminPort:   8088,
			MetricsPort: 2112,
		},
		Cluster: ClusterConfig{
			Enabled: false,
			Subject: "scenesync.component_types",
		},
		Telemetry: TelemetryConfig{
			Enabled:     false,
			ServiceName: "scenesync",
		},
	}
}
