package config

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
)

const (
	RelayLocal    = "local"
	RelayKafka    = "kafka"
	RelayNATS     = "nats"
	RelayPostgres = "postgres"
)

type Config struct {
	Env       string              `yaml:"env" env:"ENV" env-default:"local"`
	AppSecret string              `yaml:"app_secret" env:"APP_SECRET"`
	HTTP      HTTPConfig          `yaml:"http"`
	GRPC      GRPCConfig          `yaml:"grpc"`
	Live      LiveConfig          `yaml:"live"`
	Relay     RelayConfig         `yaml:"relay"`
	Kafka     KafkaConfig         `yaml:"kafka"`
	NATS      NATSConfig          `yaml:"nats"`
	Postgres  PostgresConfig      `yaml:"postgres"`
	Rounds    RoundsServiceConfig `yaml:"rounds_service"`
}

// WriteTimeout covers a whole connection and is off by default; live frames
// are bounded by LiveConfig.WriteTimeout.
type HTTPConfig struct {
	Host           string        `yaml:"host" env:"HTTP_HOST" env-default:"0.0.0.0"`
	Port           int           `yaml:"port" env:"HTTP_PORT" env-default:"8080"`
	ReadTimeout    time.Duration `yaml:"read_timeout" env-default:"5s"`
	WriteTimeout   time.Duration `yaml:"write_timeout" env-default:"0s"`
	IdleTimeout    time.Duration `yaml:"idle_timeout" env-default:"60s"`
	MaxConnections int           `yaml:"max_connections" env:"HTTP_MAX_CONNECTIONS" env-default:"10000"`
	AllowedOrigins []string      `yaml:"allowed_origins" env:"HTTP_ALLOWED_ORIGINS" env-default:"http://localhost:3000"`
}

type GRPCConfig struct {
	Enabled bool   `yaml:"enabled" env:"GRPC_ENABLED" env-default:"true"`
	Host    string `yaml:"host" env-default:"0.0.0.0"`
	Port    int    `yaml:"port" env:"GRPC_PORT" env-default:"9090"`
}

type LiveConfig struct {
	QueueSize        int           `yaml:"queue_size" env:"LIVE_QUEUE_SIZE" env-default:"64"`
	PublishBuffer    int           `yaml:"publish_buffer" env-default:"256"`
	PingInterval     time.Duration `yaml:"ping_interval" env-default:"30s"`
	WriteTimeout     time.Duration `yaml:"write_timeout" env-default:"10s"`
	SnapshotTTL      time.Duration `yaml:"snapshot_ttl" env-default:"6h"`
	SnapshotMaxBytes int64         `yaml:"snapshot_max_bytes" env-default:"16777216"`
}

// PublishTimeout bounds one score submission handed to the relay.
type RelayConfig struct {
	Driver         string        `yaml:"driver" env:"RELAY_DRIVER" env-default:"local"`
	PublishTimeout time.Duration `yaml:"publish_timeout" env:"RELAY_PUBLISH_TIMEOUT" env-default:"5s"`
}

type KafkaConfig struct {
	Brokers      []string      `yaml:"brokers" env:"KAFKA_BROKERS"`
	UpdatesTopic string        `yaml:"updates_topic" env-default:"score-updates"`
	GroupID      string        `yaml:"group_id" env:"KAFKA_GROUP_ID"`
	MaxWait      time.Duration `yaml:"max_wait" env-default:"500ms"`
}

type NATSConfig struct {
	URL     string `yaml:"url" env:"NATS_URL" env-default:"nats://127.0.0.1:4222"`
	Subject string `yaml:"subject" env-default:"scores.updates"`
}

type PostgresConfig struct {
	URL     string `yaml:"url" env:"DATABASE_URL"`
	Channel string `yaml:"channel" env-default:"score_updates"`
}

type RoundsServiceConfig struct {
	BaseURL string        `yaml:"base_url" env:"ROUNDS_SERVICE_URL"`
	Timeout time.Duration `yaml:"timeout" env-default:"3s"`
}

func MustLoad() *Config {
	configPath := fetchConfigPath()
	if configPath == "" {
		panic("config path is empty")
	}

	return MustLoadPath(configPath)
}

func MustLoadPath(configPath string) *Config {
	cfg, err := LoadPath(configPath)
	if err != nil {
		panic(err.Error())
	}
	return cfg
}

// LoadPath reads the YAML file at configPath, applies environment overrides
// and validates the result.
func LoadPath(configPath string) (*Config, error) {
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		return nil, fmt.Errorf("config file does not exist: %s", configPath)
	}

	var cfg Config

	if err := cleanenv.ReadConfig(configPath, &cfg); err != nil {
		return nil, fmt.Errorf("cannot read config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &cfg, nil
}

func (c *Config) Validate() error {
	var errs []error
	if c.AppSecret == "" {
		errs = append(errs, errors.New("app_secret is required (set app_secret or APP_SECRET)"))
	}
	if c.Live.QueueSize <= 0 {
		errs = append(errs, errors.New("live.queue_size must be greater than zero"))
	}
	if c.Live.PublishBuffer < 0 {
		errs = append(errs, errors.New("live.publish_buffer must not be negative"))
	}
	if c.Live.SnapshotMaxBytes <= 0 {
		errs = append(errs, errors.New("live.snapshot_max_bytes must be greater than zero"))
	}

	if c.Relay.PublishTimeout <= 0 {
		errs = append(errs, errors.New("relay.publish_timeout must be greater than zero"))
	}

	switch c.Relay.Driver {
	case RelayLocal:
	case RelayKafka:
		if len(c.Kafka.Brokers) == 0 {
			errs = append(errs, errors.New("kafka.brokers are required for the kafka relay"))
		}
		if c.Kafka.GroupID == "" {
			errs = append(errs, errors.New("kafka.group_id is required for the kafka relay"))
		}
	case RelayNATS:
		if c.NATS.URL == "" {
			errs = append(errs, errors.New("nats.url is required for the nats relay"))
		}
	case RelayPostgres:
		if c.Postgres.URL == "" {
			errs = append(errs, errors.New("postgres.url is required for the postgres relay"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown relay driver %q", c.Relay.Driver))
	}

	return errors.Join(errs...)
}

func fetchConfigPath() string {
	var res string

	flag.StringVar(&res, "config", "", "path to config file")
	flag.Parse()

	if res == "" {
		res = os.Getenv("CONFIG_PATH")
	}

	return res
}
