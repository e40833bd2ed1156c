package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// Config stores all configuration for the application.
// The values are read by viper from a config file or environment variables.
type Config struct {
	Market    string
	Server    ServerConfig
	Scout     ScoutConfig
	Poller    PollerConfig
	Arbitrage ArbitrageConfig
	Database  DatabaseConfig
	Redis     RedisConfig
}

// ServerConfig defines the HTTP API settings.
type ServerConfig struct {
	Port        int      `mapstructure:"port"`
	CORSOrigins []string `mapstructure:"cors_origins"`
}

// ScoutConfig defines the market data source settings.
type ScoutConfig struct {
	Source         string `mapstructure:"source"`
	BaseURL        string `mapstructure:"base_url"`
	TimeoutSeconds int    `mapstructure:"timeout_seconds"`
	MaxRetries     int    `mapstructure:"max_retries"`
}

// PollerConfig defines the background refresh settings.
type PollerConfig struct {
	IntervalSeconds int `mapstructure:"interval_seconds"`
	TTLSeconds      int `mapstructure:"ttl_seconds"`
}

// ArbitrageConfig defines the default search policy and the scheduled scan.
type ArbitrageConfig struct {
	MinProfitPercentage float64  `mapstructure:"min_profit_percentage"`
	Hops                int      `mapstructure:"hops"`
	SlippagePerStep     float64  `mapstructure:"slippage_per_step"`
	MaxResults          int      `mapstructure:"max_results"`
	WatchCurrencies     []string `mapstructure:"watch_currencies"`
	ScanAmount          float64  `mapstructure:"scan_amount"`
}

// DatabaseConfig defines the database connection settings.
type DatabaseConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	DBName   string
}

// URL builds a postgres connection string from the settings.
func (d DatabaseConfig) URL() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s", d.User, d.Password, d.Host, d.Port, d.DBName)
}

// RedisConfig defines the snapshot cache connection settings.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// LoadConfig reads configuration from file or environment variables.
func LoadConfig(path string) (config Config, err error) {
	viper.AddConfigPath(path)
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")

	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	err = viper.ReadInConfig()
	if err != nil {
		return
	}

	err = viper.Unmarshal(&config)
	return
}
