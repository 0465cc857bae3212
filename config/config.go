package config

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Store    StoreConfig    `mapstructure:"store"`
	Database DatabaseConfig `mapstructure:"database"`
	Redis    RedisConfig    `mapstructure:"redis"`
	Notifier NotifierConfig `mapstructure:"notifier"`
	Room     RoomConfig     `mapstructure:"room"`
	Session  SessionConfig  `mapstructure:"session"`
	Log      LogConfig      `mapstructure:"log"`
}

type ServerConfig struct {
	HTTPAddress    string `mapstructure:"http_address"`
	RPCAddress     string `mapstructure:"rpc_address"`
	MetricsAddress string `mapstructure:"metrics_address"`
}

// StoreConfig selects where room documents live: memory, postgres, sqlite or redis.
type StoreConfig struct {
	Backend   string `mapstructure:"backend"`
	KeyPrefix string `mapstructure:"key_prefix"`
}

type DatabaseConfig struct {
	Postgres PostgresConfig `mapstructure:"postgres"`
	SQLite   SQLiteConfig   `mapstructure:"sqlite"`
}

type PostgresConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	DBName   string `mapstructure:"dbname"`
}

type SQLiteConfig struct {
	Path string `mapstructure:"path"`
}

type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// NotifierConfig selects the change feed: local, redis or postgres.
type NotifierConfig struct {
	Backend string `mapstructure:"backend"`
}

type RoomConfig struct {
	CodeLength  int      `mapstructure:"code_length"`
	Deck        []string `mapstructure:"deck"`
	Concurrency string   `mapstructure:"concurrency"`
}

type SessionConfig struct {
	IdleTimeout      time.Duration `mapstructure:"idle_timeout"`
	PresenceInterval time.Duration `mapstructure:"presence_interval"`
}

type LogConfig struct {
	Level string `mapstructure:"level"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.http_address", ":8080")
	v.SetDefault("server.rpc_address", ":9090")
	v.SetDefault("server.metrics_address", ":9100")

	v.SetDefault("store.backend", "memory")
	v.SetDefault("store.key_prefix", "planning-poker:room:")

	v.SetDefault("database.postgres.host", "localhost")
	v.SetDefault("database.postgres.port", 5432)
	v.SetDefault("database.postgres.user", "postgres")
	v.SetDefault("database.postgres.password", "")
	v.SetDefault("database.postgres.dbname", "planningpoker")
	v.SetDefault("database.sqlite.path", "planningpoker.db")

	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)

	v.SetDefault("notifier.backend", "local")

	v.SetDefault("room.code_length", 5)
	v.SetDefault("room.deck", []string{})
	v.SetDefault("room.concurrency", "last_write_wins")

	v.SetDefault("session.idle_timeout", 2*time.Minute)
	v.SetDefault("session.presence_interval", 30*time.Second)

	v.SetDefault("log.level", "info")
}

// LoadConfig reads config.yaml from path, a .env file from the same directory
// and the environment. A missing config file leaves the defaults in place.
func LoadConfig(path string) (config *Config, err error) {
	_ = godotenv.Load(filepath.Join(path, ".env"))

	v := viper.New()
	setDefaults(v)

	v.AddConfigPath(path)
	v.SetConfigName("config")
	v.SetConfigType("yaml")

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err = v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, err
		}
	}

	err = v.Unmarshal(&config)
	return
}

// DSN renders the connection string understood by lib/pq and gorm's postgres driver.
func (p PostgresConfig) DSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=disable",
		p.Host, p.Port, p.User, p.Password, p.DBName)
}
