package config

import (
	"fmt"

	"github.com/ilyakaznacheev/cleanenv"
)

type Config struct {
	LogLevel   string `yaml:"log-level" env-default:"info"`
	HTTPPort   string `yaml:"http-port" env-default:"9090"`
	SocketPort string `yaml:"socket-port" env-default:"8080"`
	Game       Game   `yaml:"game"`
	Tokens     Tokens `yaml:"tokens"`
	Redis      Redis  `yaml:"redis"`
}

type Game struct {
	BoardSize int `yaml:"board-size" env-default:"3"`
}

type Tokens struct {
	RoomSecret string `yaml:"room-secret" env:"ROOM_TOKEN_SECRET"`
	UserSecret string `yaml:"user-secret" env:"USER_TOKEN_SECRET"`
}

// Redis is optional: an empty host disables the match archive.
type Redis struct {
	Host string `yaml:"host" env-default:""`
	Port string `yaml:"port" env-default:"6379"`
}

// MustLoad - load all configurations in config.yml file.
func MustLoad(path string) *Config {
	config := &Config{}

	if err := cleanenv.ReadConfig(path, config); err != nil {
		panic(fmt.Errorf("unable to load config file: %w", err))
	}

	return config
}

func (that *Redis) GetRedisAddr() string {
	if that.Host == "" {
		return ""
	}
	return fmt.Sprintf("%s:%s", that.Host, that.Port)
}
