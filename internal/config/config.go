package config

import (
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/caarlos0/env/v10"
	"github.com/go-sql-driver/mysql"
	"github.com/joho/godotenv"
)

const production = "production"

type Config struct {
	Environment Environment
	Log         Log
	HTTP        HTTPServer
	GRPC        GRPCServer
	AdminIDs    []int64 `env:"ADMIN_IDS" envSeparator:","`

	MySQL     MySQL     `envPrefix:"MYSQL_"`
	Redis     Redis     `envPrefix:"REDIS_"`
	S3        S3        `envPrefix:"S3_"`
	Telegram  Telegram  `envPrefix:"TELEGRAM_"`
	Catalog   Catalog   `envPrefix:"CATALOG_"`
	Cart      Cart      `envPrefix:"CART_"`
	Orders    Orders    `envPrefix:"ORDER_"`
	Store     Store     `envPrefix:"STORE_"`
	Tasks     Tasks     `envPrefix:"TASK_"`
	RateLimit RateLimit `envPrefix:"RATE_LIMIT_"`
}

type Environment struct {
	Name string `env:"ENVIRONMENT" envDefault:"development"`
}

type Log struct {
	Level  string `env:"LOG_LEVEL" envDefault:"info"`
	Format string `env:"LOG_FORMAT" envDefault:"console"`
}

type HTTPServer struct {
	Host            string        `env:"HTTP_HOST" envDefault:"0.0.0.0"`
	Port            string        `env:"HTTP_PORT" envDefault:"8080"`
	ShutdownTimeout time.Duration `env:"HTTP_SHUTDOWN_TIMEOUT" envDefault:"15s"`
}

type GRPCServer struct {
	Host string `env:"GRPC_HOST" envDefault:"0.0.0.0"`
	Port string `env:"GRPC_PORT" envDefault:"9090"`
}

type MySQL struct {
	// DSN wins over the individual fields when set.
	DSN          string `env:"DSN"`
	Host         string `env:"HOST" envDefault:"localhost"`
	Port         string `env:"PORT" envDefault:"3306"`
	User         string `env:"USER" envDefault:"root"`
	Password     string `env:"PASSWORD"`
	Database     string `env:"DATABASE" envDefault:"storefront"`
	MaxOpenConns int    `env:"MAX_OPEN_CONNS" envDefault:"50"`
	MaxIdleConns int    `env:"MAX_IDLE_CONNS" envDefault:"10"`
}

type Redis struct {
	Addr     string `env:"ADDR" envDefault:"localhost:6379"`
	Password string `env:"PASSWORD"`
	DB       int    `env:"DB" envDefault:"0"`
}

type S3 struct {
	Bucket    string `env:"BUCKET"`
	Region    string `env:"REGION" envDefault:"us-east-1"`
	AccessKey string `env:"ACCESS_KEY"`
	SecretKey string `env:"SECRET_KEY"`
	Endpoint  string `env:"ENDPOINT"`
	BasePath  string `env:"BASE_PATH"`
}

type Telegram struct {
	BotToken      string        `env:"BOT_TOKEN"`
	APIURL        string        `env:"API_URL" envDefault:"https://api.telegram.org"`
	WebhookSecret string        `env:"WEBHOOK_SECRET"`
	Timeout       time.Duration `env:"TIMEOUT" envDefault:"10s"`
}

type Catalog struct {
	CacheTTL   time.Duration `env:"CACHE_TTL" envDefault:"600s"`
	VersionTTL time.Duration `env:"VERSION_TTL" envDefault:"10s"`
}

type Cart struct {
	ExpireAfter time.Duration `env:"EXPIRE_AFTER" envDefault:"30m"`
	MaxAttempts int           `env:"MAX_ATTEMPTS" envDefault:"5"`
}

type Orders struct {
	RestoreWindow   time.Duration `env:"RESTORE_WINDOW" envDefault:"10m"`
	MaxReceiptBytes int64         `env:"MAX_RECEIPT_BYTES" envDefault:"10485760"`
}

type Store struct {
	StatusCacheTTL time.Duration `env:"STATUS_CACHE_TTL" envDefault:"30s"`
	ListenerBuffer int           `env:"LISTENER_BUFFER" envDefault:"16"`
	StreamPing     time.Duration `env:"STREAM_PING" envDefault:"25s"`
}

type Tasks struct {
	// PurgeInterval defaults to 60s, or 300s in production.
	PurgeInterval  time.Duration `env:"PURGE_INTERVAL"`
	SweepInterval  time.Duration `env:"SWEEP_INTERVAL" envDefault:"60s"`
	WakeInterval   time.Duration `env:"WAKE_INTERVAL" envDefault:"30s"`
	BatchSize      int           `env:"BATCH_SIZE" envDefault:"100"`
	BackgroundTime time.Duration `env:"BACKGROUND_TIMEOUT" envDefault:"30s"`
}

// RateLimit values are requests per minute per client.
type RateLimit struct {
	Enabled *bool `env:"ENABLED"`
	Default int   `env:"DEFAULT" envDefault:"100"`
	Cart    int   `env:"CART" envDefault:"30"`
	Order   int   `env:"ORDER" envDefault:"10"`
	Admin   int   `env:"ADMIN" envDefault:"200"`
}

// Load reads .env when present, then the process environment.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Tasks.PurgeInterval <= 0 {
		c.Tasks.PurgeInterval = 60 * time.Second
		if c.IsProduction() {
			c.Tasks.PurgeInterval = 300 * time.Second
		}
	}
	if c.RateLimit.Enabled == nil {
		enabled := c.IsProduction()
		c.RateLimit.Enabled = &enabled
	}
}

func (c *Config) Validate() error {
	var errs []error
	if c.Catalog.VersionTTL <= 0 || c.Catalog.CacheTTL <= 0 {
		errs = append(errs, errors.New("catalog TTLs must be positive"))
	}
	if c.Cart.ExpireAfter <= 0 {
		errs = append(errs, errors.New("CART_EXPIRE_AFTER must be positive"))
	}
	if c.Orders.RestoreWindow <= 0 {
		errs = append(errs, errors.New("ORDER_RESTORE_WINDOW must be positive"))
	}
	if c.IsProduction() && c.S3.Bucket == "" {
		errs = append(errs, errors.New("S3_BUCKET is required in production"))
	}
	return errors.Join(errs...)
}

func (c *Config) IsProduction() bool {
	return c.Environment.Name == production
}

func (c *Config) RateLimitEnabled() bool {
	return c.RateLimit.Enabled != nil && *c.RateLimit.Enabled
}

func (c *Config) HTTPAddr() string {
	return net.JoinHostPort(c.HTTP.Host, c.HTTP.Port)
}

func (c *Config) GRPCAddr() string {
	return net.JoinHostPort(c.GRPC.Host, c.GRPC.Port)
}

// FormatDSN returns a driver DSN with the options the storage adapter
// depends on forced on.
func (m MySQL) FormatDSN() (string, error) {
	var cfg *mysql.Config
	if m.DSN != "" {
		parsed, err := mysql.ParseDSN(m.DSN)
		if err != nil {
			return "", fmt.Errorf("parse MYSQL_DSN: %w", err)
		}
		cfg = parsed
	} else {
		cfg = mysql.NewConfig()
		cfg.Net = "tcp"
		cfg.Addr = net.JoinHostPort(m.Host, m.Port)
		cfg.User = m.User
		cfg.Passwd = m.Password
		cfg.DBName = m.Database
	}
	cfg.ParseTime = true
	cfg.ClientFoundRows = true
	cfg.Loc = time.UTC
	return cfg.FormatDSN(), nil
}
