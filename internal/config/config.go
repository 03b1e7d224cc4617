package config

import (
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"github.com/rs/zerolog"
)

var logger = zerolog.New(os.Stdout).With().Timestamp().Logger()

// Authority configures cmd/order-authority.
type Authority struct {
	Env  string `envconfig:"ENV" default:"development"`
	Port string `envconfig:"PORT" default:"8082"`

	// MySQL DSNs, one per shard, e.g. "user:pass@tcp(db1:3306)/orders?parseTime=true".
	Shards       []string `envconfig:"MYSQL_DSNS" required:"true"`
	ConnRetries  int      `envconfig:"MYSQL_CONN_RETRIES" default:"10"`
	MigrateTries int      `envconfig:"MIGRATE_RETRIES" default:"3"`

	RedisAddr      string        `envconfig:"REDIS_ADDR" default:"localhost:6379"`
	ScheduleTTL    time.Duration `envconfig:"SCHEDULE_TTL" default:"5m"`
	IdempotencyTTL time.Duration `envconfig:"IDEMPOTENCY_TTL" default:"24h"`

	KafkaBrokers   []string `envconfig:"KAFKA_BROKERS" default:"localhost:9092,localhost:9093,localhost:9094"`
	OrderTopic     string   `envconfig:"ORDER_TOPIC" default:"order-topic"`
	InventoryGroup string   `envconfig:"INVENTORY_GROUP" default:"inventory-group"`

	JWTSecret string  `envconfig:"JWT_SECRET" required:"true"`
	RateLimit float64 `envconfig:"RATE_LIMIT" default:"5"`
	RateBurst int     `envconfig:"RATE_BURST" default:"10"`
}

// Client configures cmd/order-chat. Variables carry the CHAT_ prefix.
type Client struct {
	AuthorityURL string        `envconfig:"AUTHORITY_URL" default:"http://localhost:8082"`
	Token        string        `envconfig:"TOKEN"`
	SessionID    string        `envconfig:"SESSION_ID"`
	Timeout      time.Duration `envconfig:"TIMEOUT" default:"5s"`
	HintSize     int           `envconfig:"HINT_SIZE" default:"256"`

	SyncAttempts   uint64        `envconfig:"SYNC_ATTEMPTS" default:"3"`
	SyncBackoff    time.Duration `envconfig:"SYNC_BACKOFF" default:"200ms"`
	SyncMaxBackoff time.Duration `envconfig:"SYNC_MAX_BACKOFF" default:"2s"`

	// JWTSecret lets the dev token command sign tokens locally.
	JWTSecret string `envconfig:"JWT_SECRET"`
}

// LoadEnv reads .env into the environment outside production. Variables
// already set win.
func LoadEnv() {
	if os.Getenv("ENV") == "production" {
		return
	}
	if err := godotenv.Load(); err != nil {
		logger.Debug().Msg("No .env file, using process environment")
	}
}

func LoadAuthority() (Authority, error) {
	LoadEnv()
	var c Authority
	err := envconfig.Process("", &c)
	return c, err
}

func LoadClient() (Client, error) {
	LoadEnv()
	var c Client
	err := envconfig.Process("chat", &c)
	return c, err
}
