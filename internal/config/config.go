package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/levelupgamer/backend/internal/infrastructure/mysql"
)

type Config struct {
	App      AppConfig      `mapstructure:"app"`
	Server   ServerConfig   `mapstructure:"server"`
	Store    StoreConfig    `mapstructure:"store"`
	Pricing  PricingConfig  `mapstructure:"pricing"`
	Payment  PaymentConfig  `mapstructure:"payment"`
	Checkout CheckoutConfig `mapstructure:"checkout"`
	Seed     []SeedProduct  `mapstructure:"seed"`
}

type AppConfig struct {
	Name string `mapstructure:"name"`
	Env  string `mapstructure:"env"` // development, staging, production
}

type ServerConfig struct {
	Addr            string        `mapstructure:"addr"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

type StoreConfig struct {
	Type  string       `mapstructure:"type"` // memory, mysql
	MySQL mysql.Config `mapstructure:"mysql"`
}

type PricingConfig struct {
	TaxRate      float64 `mapstructure:"tax_rate"`
	ShippingCost int64   `mapstructure:"shipping_cost"`
}

type PaymentConfig struct {
	Backend   string          `mapstructure:"backend"` // simulator, webpay
	Simulator SimulatorConfig `mapstructure:"simulator"`
	Webpay    WebpayConfig    `mapstructure:"webpay"`
}

type SimulatorConfig struct {
	ApprovalRate float64 `mapstructure:"approval_rate"`
	ReturnURL    string  `mapstructure:"return_url"`
}

type WebpayConfig struct {
	BaseURL        string        `mapstructure:"base_url"`
	ReturnURL      string        `mapstructure:"return_url"`
	ConnectTimeout time.Duration `mapstructure:"connect_timeout"`
	ReadTimeout    time.Duration `mapstructure:"read_timeout"`
}

type CheckoutConfig struct {
	PendingTTL    time.Duration `mapstructure:"pending_ttl"`
	SweepInterval time.Duration `mapstructure:"sweep_interval"`
}

// SeedProduct is catalog data loaded at startup when the memory store is
// selected.
type SeedProduct struct {
	ID    string `mapstructure:"id"`
	Name  string `mapstructure:"name"`
	Price int64  `mapstructure:"price"`
	Stock int    `mapstructure:"stock"`
}

func (c *Config) IsProduction() bool {
	return c.App.Env == "production"
}

// Load reads configuration from the given file (or ./config.yaml), letting
// LEVELUP_* environment variables override any key.
func Load(configPath string) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
	}

	v.SetEnvPrefix("LEVELUP")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		// No file is fine, defaults plus env cover everything.
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.name", "levelup-backend")
	v.SetDefault("app.env", "development")

	v.SetDefault("server.addr", ":8080")
	v.SetDefault("server.read_timeout", "15s")
	v.SetDefault("server.write_timeout", "15s")
	v.SetDefault("server.shutdown_timeout", "10s")

	v.SetDefault("store.type", "memory")
	v.SetDefault("store.mysql.host", "localhost")
	v.SetDefault("store.mysql.port", "3306")
	v.SetDefault("store.mysql.username", "root")
	v.SetDefault("store.mysql.password", "")
	v.SetDefault("store.mysql.database", "levelup")
	v.SetDefault("store.mysql.max_open_conns", 25)
	v.SetDefault("store.mysql.max_idle_conns", 5)
	v.SetDefault("store.mysql.conn_max_lifetime", "5m")

	v.SetDefault("pricing.tax_rate", 0.19)
	v.SetDefault("pricing.shipping_cost", 3990)

	v.SetDefault("payment.backend", "simulator")
	v.SetDefault("payment.simulator.approval_rate", 0.8)
	v.SetDefault("payment.simulator.return_url", "http://localhost:8080/payment/return")
	v.SetDefault("payment.webpay.base_url", "http://localhost:8081")
	v.SetDefault("payment.webpay.return_url", "http://localhost:8080/payment/return")
	v.SetDefault("payment.webpay.connect_timeout", "3s")
	v.SetDefault("payment.webpay.read_timeout", "10s")

	v.SetDefault("checkout.pending_ttl", "30m")
	v.SetDefault("checkout.sweep_interval", "5m")
}
