package config

import (
	"fmt"
	"log"
	"os"
	"time"

	"worldvote/shared/utils"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// Config holds the application configuration.
type Config struct {
	Env         string `envconfig:"ENV" default:"development"`
	LogLevel    string `envconfig:"LOG_LEVEL" default:"info"`
	LogEncoding string `envconfig:"LOG_ENCODING" default:"json"`
	ServerPort  string `envconfig:"SERVER_PORT" default:"8090"`

	// Key-value store
	StoreDriver    string        `envconfig:"STORE_DRIVER" default:"redis"` // redis | memory
	RedisAddr      string        `envconfig:"REDIS_ADDR" default:"localhost:6379"`
	RedisDB        int           `envconfig:"REDIS_DB" default:"0"`
	KeyPrefix      string        `envconfig:"KEY_PREFIX" default:"wv"`
	StoreOpTimeout time.Duration `envconfig:"STORE_OP_TIMEOUT" default:"2s"`
	// Секретное поле БЕЗ envconfig тега
	RedisPassword string

	// Cache TTL policy per key class
	CacheTTLAttributes time.Duration `envconfig:"CACHE_TTL_ATTRIBUTES" default:"5m"`
	CacheTTLDecision   time.Duration `envconfig:"CACHE_TTL_DECISION" default:"10m"`
	CacheTTLTally      time.Duration `envconfig:"CACHE_TTL_TALLY" default:"30m"`
	CacheTTLScene      time.Duration `envconfig:"CACHE_TTL_SCENE" default:"1h"`

	// Engine policy
	ProfileTTL                  time.Duration `envconfig:"PROFILE_TTL" default:"8760h"`
	VoteTTL                     time.Duration `envconfig:"VOTE_TTL" default:"2160h"`
	ResolutionLeaseTTL          time.Duration `envconfig:"RESOLUTION_LEASE_TTL" default:"2m"`
	LockWait                    time.Duration `envconfig:"LOCK_WAIT" default:"5s"`
	DefaultEligibleParticipants int           `envconfig:"DEFAULT_ELIGIBLE_PARTICIPANTS" default:"100"`
	StreakGap                   time.Duration `envconfig:"STREAK_GAP" default:"48h"`
	LeaderboardDefaultLimit     int           `envconfig:"LEADERBOARD_DEFAULT_LIMIT" default:"10"`
	DefaultOptionID             string        `envconfig:"DEFAULT_OPTION_ID" default:""`

	// RabbitMQ
	RabbitMQEnabled     bool   `envconfig:"RABBITMQ_ENABLED" default:"false"`
	ResultsQueue        string `envconfig:"RESULTS_QUEUE" default:"world_vote_results"`
	CommandsQueue       string `envconfig:"COMMANDS_QUEUE" default:"world_vote_commands"`
	ConsumerConcurrency int    `envconfig:"CONSUMER_CONCURRENCY" default:"4"`
	// Секретное поле БЕЗ envconfig тега
	RabbitMQURL string

	// Postgres result archive
	ArchiveEnabled bool   `envconfig:"ARCHIVE_ENABLED" default:"false"`
	DBHost         string `envconfig:"DB_HOST" default:"localhost"`
	DBPort         string `envconfig:"DB_PORT" default:"5432"`
	DBUser         string `envconfig:"DB_USER" default:"worldvote"`
	DBName         string `envconfig:"DB_NAME" default:"worldvote"`
	DBSSLMode      string `envconfig:"DB_SSL_MODE" default:"disable"`
	DBMaxConns     int    `envconfig:"DB_MAX_CONNS" default:"5"`
	// Секретное поле БЕЗ envconfig тега
	DBPassword string
}

// PostgresDSN builds the archive connection string.
func (c *Config) PostgresDSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s",
		c.DBUser, c.DBPassword, c.DBHost, c.DBPort, c.DBName, c.DBSSLMode)
}

// Validate checks cross-field constraints envconfig cannot express.
func (c *Config) Validate() error {
	switch c.StoreDriver {
	case "redis", "memory":
	default:
		return fmt.Errorf("unsupported STORE_DRIVER %q", c.StoreDriver)
	}
	if c.StoreOpTimeout <= 0 {
		return fmt.Errorf("STORE_OP_TIMEOUT must be positive")
	}
	if c.ResolutionLeaseTTL <= 0 {
		return fmt.Errorf("RESOLUTION_LEASE_TTL must be positive")
	}
	if c.RabbitMQEnabled && c.RabbitMQURL == "" {
		return fmt.Errorf("RABBITMQ_ENABLED requires the rabbitmq_url secret or RABBITMQ_URL")
	}
	if c.ArchiveEnabled && c.DBPassword == "" {
		return fmt.Errorf("ARCHIVE_ENABLED requires the db_password secret")
	}
	return nil
}

// LoadConfig loads configuration from an optional .env file, environment variables and secrets.
func LoadConfig(envFilePath string) (*Config, error) {
	if envFilePath != "" {
		if _, err := os.Stat(envFilePath); err == nil {
			if err = godotenv.Load(envFilePath); err != nil {
				log.Printf("Warning: Could not load %s file: %v", envFilePath, err)
			} else {
				log.Printf("Loaded configuration from %s", envFilePath)
			}
		} else if !os.IsNotExist(err) {
			log.Printf("Warning: Error checking %s file: %v", envFilePath, err)
		}
	}

	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("error processing env vars: %w", err)
	}

	// Необязательные секреты
	if v, err := utils.ReadSecret("redis_password"); err == nil {
		cfg.RedisPassword = v
	}
	if v, err := utils.ReadSecret("rabbitmq_url"); err == nil {
		cfg.RabbitMQURL = v
	} else if v := os.Getenv("RABBITMQ_URL"); v != "" {
		cfg.RabbitMQURL = v
	}
	if v, err := utils.ReadSecret("db_password"); err == nil {
		cfg.DBPassword = v
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}
