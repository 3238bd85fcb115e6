package config

import (
	"fmt"
	"os"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
)

const ModeTest = "test"

type Config struct {
	LogLevel   string `yaml:"log-level" env:"LOG_LEVEL" env-default:"info"`
	HTTPPort   string `yaml:"http-port" env:"HTTP_PORT" env-default:"9090"`
	SocketPort string `yaml:"socket-port" env:"SOCKET_PORT" env-default:"8080"`
	Mode       string `yaml:"mode" env:"APP_MODE" env-default:""`
	Redis      Redis  `yaml:"redis"`
	AI         AI     `yaml:"ai"`
	Limits     Limits `yaml:"limits"`
}

type Redis struct {
	Host string `yaml:"host" env:"REDIS_HOST" env-default:"localhost"`
	Port string `yaml:"port" env:"REDIS_PORT" env-default:"6379"`
}

type AI struct {
	ComputeTimeout    time.Duration `yaml:"compute-timeout" env:"AI_COMPUTE_TIMEOUT" env-default:"5s"`
	TargetSimulations int           `yaml:"target-simulations" env:"AI_TARGET_SIMULATIONS" env-default:"200"`
	Epsilon           float64       `yaml:"epsilon" env:"AI_EPSILON" env-default:"0.05"`
}

type Limits struct {
	MaxGames              int `yaml:"max-games" env:"MAX_GAMES" env-default:"100"`
	MaxGamesPerClient     int `yaml:"max-games-per-client" env:"MAX_GAMES_PER_CLIENT" env-default:"5"`
	MaxConnections        int `yaml:"max-connections" env:"MAX_CONNECTIONS" env-default:"500"`
	MaxConnectionsPerGame int `yaml:"max-connections-per-game" env:"MAX_CONNECTIONS_PER_GAME" env-default:"8"`
}

// MustLoad - load all configuration from config.yml, or from the environment
// when no file is present.
func MustLoad(path string) *Config {
	config := &Config{}

	if _, err := os.Stat(path); err == nil {
		if err = cleanenv.ReadConfig(path, config); err != nil {
			panic(fmt.Errorf("unable to load config file: %w", err))
		}

		return config
	}

	if err := cleanenv.ReadEnv(config); err != nil {
		panic(fmt.Errorf("unable to read environment: %w", err))
	}

	return config
}

func (that *Redis) GetRedisAddr() string {
	return fmt.Sprintf("%s:%s", that.Host, that.Port)
}

// EvictionPolicy picks the stale-game timeout and sweep interval once at
// process start: aggressive under test mode, conservative otherwise.
func (that *Config) EvictionPolicy() (inactivityTimeout, interval time.Duration) {
	if that.Mode == ModeTest {
		return 60 * time.Second, 10 * time.Second
	}

	return time.Hour, time.Minute
}
