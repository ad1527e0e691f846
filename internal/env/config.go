package env

import (
	"context"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/sethvargo/go-envconfig"
)

type Config struct {
	RedisHost        string        `env:"LANTERN_REDIS_HOST,default=127.0.0.1"`
	RedisPort        int           `env:"LANTERN_REDIS_PORT,default=6379"`
	RedisPath        string        `env:"LANTERN_REDIS_PATH"`
	RedisPassword    string        `env:"LANTERN_REDIS_PASSWORD"`
	RedisDB          int           `env:"LANTERN_REDIS_DB,default=0"`
	RedisDialTimeout time.Duration `env:"LANTERN_REDIS_DIAL_TIMEOUT,default=5s"`

	ReconnectDelay    time.Duration `env:"LANTERN_RECONNECT_DELAY,default=1s"`
	ReconnectMaxDelay time.Duration `env:"LANTERN_RECONNECT_MAX_DELAY,default=30s"`

	StatsStream   string        `env:"LANTERN_STATS_STREAM,default=lantern:stats"`
	StatsInterval time.Duration `env:"LANTERN_STATS_INTERVAL,default=1s"`
	KeyPrefix     string        `env:"LANTERN_KEY_PREFIX,default=lantern:"`

	LogLevel  string `env:"LANTERN_LOG_LEVEL,default=info"`
	DebugHTTP bool   `env:"LANTERN_DEBUG_HTTP"`
}

func LoadConfig(ctx context.Context) (*Config, error) {
	config := Config{}

	if err := godotenv.Load(".env.local"); err != nil {
		if !os.IsNotExist(err) {
			return nil, err
		}
	}

	if err := envconfig.Process(ctx, &config); err != nil {
		return nil, err
	}

	return &config, nil
}
