package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/viper"
)

const envPrefix = "ESTIMATE_WORKFLOW"

type Config struct {
	ServiceName string     `mapstructure:"service_name"`
	Env         string     `mapstructure:"env"`
	Port        string     `mapstructure:"port"`
	LogLevel    string     `mapstructure:"log_level"`
	Storage     Storage    `mapstructure:"storage"`
	Database    Database   `mapstructure:"database"`
	AWS         AWS        `mapstructure:"aws"`
	Telemetry   Telemetry  `mapstructure:"telemetry"`
	Subscriber  Subscriber `mapstructure:"subscriber"`
	Workflow    Workflow   `mapstructure:"workflow"`
}

type Storage struct {
	// Driver is "postgres" or "memory"
	Driver string `mapstructure:"driver"`
}

type Database struct {
	URL          string `mapstructure:"url"`
	Host         string `mapstructure:"host"`
	Port         int    `mapstructure:"port"`
	User         string `mapstructure:"user"`
	Password     string `mapstructure:"password"`
	Database     string `mapstructure:"database"`
	SSLMode      string `mapstructure:"ssl_mode"`
	MaxOpenConns int    `mapstructure:"max_open_conns"`
	MaxIdleConns int    `mapstructure:"max_idle_conns"`
	AutoMigrate  bool   `mapstructure:"auto_migrate"`
}

type AWS struct {
	Region             string `mapstructure:"region"`
	EndpointSNS        string `mapstructure:"endpoint_sns"`
	EndpointSQS        string `mapstructure:"endpoint_sqs"`
	SNSTopicArn        string `mapstructure:"sns_topic_arn"`
	SQSQueueURL        string `mapstructure:"sqs_queue_url"`
	DeadLetterQueueURL string `mapstructure:"dead_letter_queue_url"`
}

type Telemetry struct {
	Enabled      bool   `mapstructure:"enabled"`
	OTLPEndpoint string `mapstructure:"otlp_endpoint"`
}

type Subscriber struct {
	Workers           int32 `mapstructure:"workers"`
	Readers           int32 `mapstructure:"readers"`
	MaxReceiveCount   int   `mapstructure:"max_receive_count"`
	VisibilityTimeout int32 `mapstructure:"visibility_timeout"`
	WaitTimeSeconds   int32 `mapstructure:"wait_time_seconds"`
}

type Workflow struct {
	ConflictMaxAttempts    int           `mapstructure:"conflict_max_attempts"`
	ConflictInitialBackoff time.Duration `mapstructure:"conflict_initial_backoff"`
	ConflictMaxBackoff     time.Duration `mapstructure:"conflict_max_backoff"`
	OutboxPollInterval     time.Duration `mapstructure:"outbox_poll_interval"`
	OutboxBatchSize        int           `mapstructure:"outbox_batch_size"`
	OutboxMaxAttempts      int           `mapstructure:"outbox_max_attempts"`
	OutboxClaimTTL         time.Duration `mapstructure:"outbox_claim_ttl"`
	StallTimeout           time.Duration `mapstructure:"stall_timeout"`
	SweepInterval          time.Duration `mapstructure:"sweep_interval"`
	SweepBatchSize         int           `mapstructure:"sweep_batch_size"`
}

// ReadConfig loads the file named after ENVIRONMENT (default "local") that
// sits next to this package, then applies ESTIMATE_WORKFLOW_* overrides
func ReadConfig() (*Config, error) {
	_, filename, _, ok := runtime.Caller(0)
	if !ok {
		return nil, errors.New("unable to get current file")
	}

	return Load(filepath.Dir(filename), getConfigName())
}

// Load reads configuration name from dir. A missing file is not an error:
// defaults and environment variables still apply.
func Load(dir, name string) (*Config, error) {
	v := viper.New()
	v.SetConfigName(name)
	v.SetConfigType("json")
	v.AddConfigPath(dir)

	// ESTIMATE_WORKFLOW_DATABASE_HOST overrides database.host
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, errors.Wrap(err, "error reading config file")
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, errors.Wrap(err, "error unmarshaling config")
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return &config, nil
}

func getConfigName() string {
	env := os.Getenv("ENVIRONMENT")
	if env == "" {
		return "local"
	}
	return env
}

func setDefaults(v *viper.Viper) {
	// Service defaults
	v.SetDefault("service_name", "estimate-workflow-service")
	v.SetDefault("env", "local")
	v.SetDefault("port", "8080")
	v.SetDefault("log_level", "info")
	v.SetDefault("storage.driver", "postgres")

	// Database defaults
	v.SetDefault("database.url", "")
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "postgres")
	v.SetDefault("database.password", "password")
	v.SetDefault("database.database", "lawn_platform")
	v.SetDefault("database.ssl_mode", "disable")
	v.SetDefault("database.max_open_conns", 20)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.auto_migrate", true)

	// AWS defaults
	v.SetDefault("aws.region", "us-east-1")
	v.SetDefault("aws.endpoint_sns", "")
	v.SetDefault("aws.endpoint_sqs", "")
	v.SetDefault("aws.sns_topic_arn", "")
	v.SetDefault("aws.sqs_queue_url", "")
	v.SetDefault("aws.dead_letter_queue_url", "")

	v.SetDefault("telemetry.enabled", true)
	v.SetDefault("telemetry.otlp_endpoint", "")

	v.SetDefault("subscriber.workers", 10)
	v.SetDefault("subscriber.readers", 2)
	v.SetDefault("subscriber.max_receive_count", 5)
	v.SetDefault("subscriber.visibility_timeout", 30)
	v.SetDefault("subscriber.wait_time_seconds", 20)

	v.SetDefault("workflow.conflict_max_attempts", 5)
	v.SetDefault("workflow.conflict_initial_backoff", "50ms")
	v.SetDefault("workflow.conflict_max_backoff", "2s")
	v.SetDefault("workflow.outbox_poll_interval", "5s")
	v.SetDefault("workflow.outbox_batch_size", 100)
	v.SetDefault("workflow.outbox_max_attempts", 10)
	v.SetDefault("workflow.outbox_claim_ttl", "30s")
	v.SetDefault("workflow.stall_timeout", "30m")
	v.SetDefault("workflow.sweep_interval", "1m")
	v.SetDefault("workflow.sweep_batch_size", 100)
}

// Validate rejects configurations the service cannot start with
func (c *Config) Validate() error {
	switch c.Storage.Driver {
	case "postgres", "memory":
	default:
		return errors.Errorf("unsupported storage driver %q", c.Storage.Driver)
	}

	if c.AWS.SNSTopicArn == "" {
		return errors.New("aws.sns_topic_arn is required")
	}

	if c.AWS.SQSQueueURL == "" {
		return errors.New("aws.sqs_queue_url is required")
	}

	if c.Workflow.OutboxPollInterval <= 0 || c.Workflow.SweepInterval <= 0 {
		return errors.New("workflow poll and sweep intervals must be positive")
	}

	return nil
}

// GetDatabaseURL returns database.url when set, otherwise builds one from the parts
func (c *Config) GetDatabaseURL() string {
	if c.Database.URL != "" {
		return c.Database.URL
	}

	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.Database.User,
		c.Database.Password,
		c.Database.Host,
		c.Database.Port,
		c.Database.Database,
		c.Database.SSLMode,
	)
}
