package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
	"gopkg.in/yaml.v3"
)

const (
	EnvDev   = "dev"
	EnvStage = "stage"
	EnvProd  = "prod"
)

const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

var (
	ErrUnknownDriver       = errors.New("unknown storage driver")
	ErrInvalidCodeLength   = errors.New("short code length must be between 6 and 8")
	ErrInvalidMaxRetries   = errors.New("short code max retries must be positive")
	ErrInvalidStoreTimeout = errors.New("storage timeout must be positive")
)

type Config struct {
	Env        string `yaml:"env" env:"APP_ENV"`
	LogLevel   string `yaml:"log_level" env:"LOG_LEVEL"`
	Storage    `yaml:"storage"`
	ShortCode  `yaml:"short_code"`
	HTTPServer `yaml:"http_server"`
	Postgres   `yaml:"postgres"`
	SQLite     `yaml:"sqlite"`
}

type Storage struct {
	Driver  string        `yaml:"driver" env:"STORAGE_DRIVER"`
	Timeout time.Duration `yaml:"timeout" env:"STORAGE_TIMEOUT"`
}

var defaultStorage = Storage{
	Driver:  DriverPostgres,
	Timeout: 3 * time.Second,
}

type ShortCode struct {
	Length     int `yaml:"length" env:"SHORT_CODE_LENGTH"`
	MaxRetries int `yaml:"max_retries" env:"SHORT_CODE_MAX_RETRIES"`
}

var defaultShortCode = ShortCode{
	Length:     6,
	MaxRetries: 5,
}

type HTTPServer struct {
	Port           int           `yaml:"port" env:"HTTP_PORT"`
	ReadTimeout    time.Duration `yaml:"read_timeout"`
	WriteTimeout   time.Duration `yaml:"write_timeout"`
	IdleTimeout    time.Duration `yaml:"idle_timeout"`
	MaxHeaderBytes int           `yaml:"max_header_bytes"`
	CertFile       string        `yaml:"cert_file" env:"HTTP_CERT_FILE"`
	KeyFile        string        `yaml:"key_file" env:"HTTP_KEY_FILE"`
}

var defaultHTTPServer = HTTPServer{
	Port:           8080,
	ReadTimeout:    5 * time.Second,
	WriteTimeout:   10 * time.Second,
	IdleTimeout:    time.Minute,
	MaxHeaderBytes: 1 << 20,
}

func (s *HTTPServer) Addr() string {
	return fmt.Sprintf(":%d", s.Port)
}

type Postgres struct {
	// URL wins over the individual connection fields when set.
	URL             string        `yaml:"url" env:"DATABASE_URL"`
	User            string        `yaml:"user" env:"POSTGRES_USER"`
	Password        string        `yaml:"password" env:"POSTGRES_PASSWORD"`
	Host            string        `yaml:"host" env:"POSTGRES_HOST"`
	Port            int           `yaml:"port" env:"POSTGRES_PORT"`
	DB              string        `yaml:"db" env:"POSTGRES_DB"`
	SSLMode         string        `yaml:"sslmode" env:"POSTGRES_SSLMODE"`
	ConnectTimeout  time.Duration `yaml:"connect_timeout"`
	ConnMaxIdleTime time.Duration `yaml:"conn_max_idle_time"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
}

var defaultPostgres = Postgres{
	Host:            "localhost",
	Port:            5432,
	SSLMode:         "disable",
	ConnectTimeout:  5 * time.Second,
	ConnMaxIdleTime: 5 * time.Minute,
	ConnMaxLifetime: 30 * time.Minute,
	MaxIdleConns:    5,
	MaxOpenConns:    25,
}

func (p *Postgres) DSN() string {
	if p.URL != "" {
		return p.URL
	}

	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		p.User, p.Password, p.Host, p.Port, p.DB, p.SSLMode)
}

type SQLite struct {
	Path string `yaml:"path" env:"SQLITE_PATH"`
}

var defaultSQLite = SQLite{
	Path: "tinylink.db",
}

// Load reads the YAML file at path on top of the defaults and then applies
// environment overrides.
func Load(path string) (*Config, error) {
	const op = "config.Load"

	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%s: failed to open config file: %w", op, err)
	}
	defer f.Close()

	var cfg Config
	setDefaults(&cfg)

	if err := yaml.NewDecoder(f).Decode(&cfg); err != nil {
		return nil, fmt.Errorf("%s: failed to decode config file: %w", op, err)
	}

	if err := cleanenv.ReadEnv(&cfg); err != nil {
		return nil, fmt.Errorf("%s: failed to read environment: %w", op, err)
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("%s: invalid config: %w", op, err)
	}

	return &cfg, nil
}

func (cfg *Config) validate() error {
	switch cfg.Storage.Driver {
	case DriverPostgres, DriverSQLite:
	default:
		return fmt.Errorf("%w: %q", ErrUnknownDriver, cfg.Storage.Driver)
	}

	if cfg.Storage.Timeout <= 0 {
		return ErrInvalidStoreTimeout
	}
	if cfg.ShortCode.Length < 6 || cfg.ShortCode.Length > 8 {
		return ErrInvalidCodeLength
	}
	if cfg.ShortCode.MaxRetries <= 0 {
		return ErrInvalidMaxRetries
	}

	return nil
}

func setDefaults(cfg *Config) {
	cfg.Env = EnvDev
	cfg.LogLevel = "info"
	cfg.Storage = defaultStorage
	cfg.ShortCode = defaultShortCode
	cfg.HTTPServer = defaultHTTPServer
	cfg.Postgres = defaultPostgres
	cfg.SQLite = defaultSQLite
}
