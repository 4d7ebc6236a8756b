package config

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// Config application configuration structure
type Config struct {
	Server      ServerConfig      `yaml:"server"`
	Database    DatabaseConfig    `yaml:"database"`
	NATS        NATSConfig        `yaml:"nats"`
	Redis       RedisConfig       `yaml:"redis"`
	Chain       ChainConfig       `yaml:"chain"`
	Oracle      OracleConfig      `yaml:"oracle"`
	Coordinator CoordinatorConfig `yaml:"coordinator"`
	Automation  AutomationConfig  `yaml:"automation"`
	Bridge      BridgeConfig      `yaml:"bridge"`
	Prices      PricesConfig      `yaml:"prices"`
	Auth        AuthConfig        `yaml:"auth"`
	CORS        CORSConfig        `yaml:"cors"`  // CORS configuration
	Admin       AdminConfig       `yaml:"admin"` // Admin API access control configuration
}

// ServerConfig server configuration
type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port" validate:"gte=0,lte=65535"`
}

// DatabaseConfig Database configuration
type DatabaseConfig struct {
	DSN    string `yaml:"dsn"`
	Driver string `yaml:"driver" validate:"omitempty,oneof=postgres sqlite"`
}

// NATSConfig NATS message server configuration
type NATSConfig struct {
	URL             string `yaml:"url"`
	Timeout         int    `yaml:"timeout"`
	ReconnectWait   int    `yaml:"reconnect_wait"`
	MaxReconnects   int    `yaml:"max_reconnects"`
	EnableJetStream bool   `yaml:"enable_jetstream"`
	SubjectPrefix   string `yaml:"subject_prefix"`
}

// RedisConfig price cache configuration
type RedisConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	Timeout  int    `yaml:"timeout"`
}

// ChainConfig identifies the domain this instance custodies and mints on
type ChainConfig struct {
	Domain      uint64 `yaml:"domain" validate:"required"`
	Name        string `yaml:"name"`
	NativeAsset string `yaml:"nativeAsset"` // address used for the native coin inside baskets
	Vault       string `yaml:"vault"`       // initial custody vault when none is persisted
}

// OracleConfig risk-assessment oracle service configuration
type OracleConfig struct {
	BaseURL             string `yaml:"base_url"`
	CallbackURL         string `yaml:"callback_url"`
	CallbackToken       string `yaml:"callback_token"` // shared secret expected in X-Oracle-Token
	Timeout             int    `yaml:"timeout"`        // seconds
	FixedFee            string `yaml:"fixed_fee"`      // used when the oracle has no fee endpoint
	UseQuotedFee        bool   `yaml:"use_quoted_fee"`
	ConfidenceThreshold int    `yaml:"confidence_threshold" validate:"gte=0,lte=100"`
}

// CoordinatorConfig request lifecycle configuration
type CoordinatorConfig struct {
	TimeoutWindow    int `yaml:"timeout_window"`     // seconds before the owner may ask for manual processing
	OwnerManualDelay int `yaml:"owner_manual_delay"` // seconds after the manual request before the owner may self-process
	MinRatio         int `yaml:"min_ratio" validate:"gte=0"`
	MaxRatio         int `yaml:"max_ratio" validate:"gte=0"`
	BreakerThreshold int `yaml:"breaker_threshold" validate:"gte=0"`
	BreakerCooldown  int `yaml:"breaker_cooldown"` // seconds
	SweepInterval    int `yaml:"sweep_interval"`   // seconds
}

// AutomationConfig emergency withdrawal automation configuration
type AutomationConfig struct {
	Enabled        bool   `yaml:"enabled"`
	Interval       int    `yaml:"interval"`        // seconds between scheduler cycles
	EmergencyDelay int    `yaml:"emergency_delay"` // seconds a request may stay pending before emergency exit
	MaxBatch       int    `yaml:"max_batch" validate:"gte=0"`
	KeeperToken    string `yaml:"keeper_token"`
}

// FeeSchedule bridge fee for one fee currency
type FeeSchedule struct {
	Base    string `yaml:"base"`
	PerByte string `yaml:"perByte"`
}

// BridgeConfig cross-chain bridge configuration
type BridgeConfig struct {
	LocalAddress  string                 `yaml:"localAddress"` // address peers register as our trusted sender
	Router        string                 `yaml:"router"`
	FeeToken      string                 `yaml:"feeToken"`
	Fees          map[string]FeeSchedule `yaml:"fees"` // keyed by fee currency (NATIVE, FEE_TOKEN)
	RelayInterval int                    `yaml:"relay_interval"`
	RelayerToken  string                 `yaml:"relayer_token"`
}

// PricesConfig collateral price lookup configuration
type PricesConfig struct {
	Static          map[string]string `yaml:"static"` // asset address -> USD price
	FeedURL         string            `yaml:"feed_url"`
	CacheTTL        int               `yaml:"cache_ttl"`        // seconds
	RefreshInterval int               `yaml:"refresh_interval"` // seconds between feed refreshes of held assets
}

// AuthConfig JWT configuration
type AuthConfig struct {
	JWTSecret     string `yaml:"jwt_secret"`
	TokenTTL      int    `yaml:"token_ttl"`      // seconds
	SignatureSkew int    `yaml:"signature_skew"` // seconds a signed login message stays valid
}

// CORSConfig CORS configuration
type CORSConfig struct {
	AllowedOrigins   []string `yaml:"allowedOrigins"`   // List of allowed origins
	AllowCredentials bool     `yaml:"allowCredentials"` // Whether to allow credentials
	MaxAge           int      `yaml:"maxAge"`           // Max age for preflight requests (seconds)
}

// AdminConfig Admin API access control configuration
type AdminConfig struct {
	AllowedIPs   []string `yaml:"allowedIPs"` // List of allowed IP addresses or CIDR ranges
	Operators    []string `yaml:"operators"`  // addresses allowed to run privileged operations
	Owner        string   `yaml:"owner"`      // initial owner when none is persisted
	Username     string   `yaml:"username"`
	PasswordHash string   `yaml:"password_hash"` // bcrypt
	TOTPSecret   string   `yaml:"totp_secret"`
	JWTSecret    string   `yaml:"jwt_secret"`
	Address      string   `yaml:"address"` // caller identity admin sessions act as
}

var AppConfig *Config

// LoadConfig Load configuration file
func LoadConfig(configPath string) error {
	if configPath == "" {
		configPath = "config.yaml"
		if _, err := os.Stat("config.local.yaml"); err == nil {
			configPath = "config.local.yaml"
			log.Printf("🔧 Using local configuration file: config.local.yaml")
		}
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	cfg, err := Parse(data)
	if err != nil {
		return err
	}
	fmt.Printf("✅ [%s] Loading configuration from config file: %s\n", time.Now().Format("2006-01-02 15:04:05"), configPath)

	if len(cfg.Admin.AllowedIPs) > 0 {
		fmt.Printf("📋 [Config] Admin IP whitelist loaded: %d IPs/CIDRs configured\n", len(cfg.Admin.AllowedIPs))
	} else {
		fmt.Printf("📋 [Config] Admin IP whitelist: not configured (localhost-only mode)\n")
	}
	fmt.Printf("📋 [Config] Chain domain=%d name=%s, oracle=%s\n", cfg.Chain.Domain, cfg.Chain.Name, cfg.Oracle.BaseURL)

	AppConfig = cfg
	return nil
}

// Parse decodes YAML, applies environment overrides and defaults, then validates.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	overrideFromEnv(&cfg)
	applyDefaults(&cfg)

	if err := Validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks struct tags and cross-field constraints
func Validate(cfg *Config) error {
	if err := validator.New().Struct(cfg); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	if cfg.Coordinator.MinRatio > cfg.Coordinator.MaxRatio {
		return fmt.Errorf("invalid config: coordinator.min_ratio %d exceeds max_ratio %d",
			cfg.Coordinator.MinRatio, cfg.Coordinator.MaxRatio)
	}
	return nil
}

func applyDefaults(cfg *Config) {
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Database.Driver == "" {
		cfg.Database.Driver = "postgres"
	}
	if cfg.Oracle.Timeout == 0 {
		cfg.Oracle.Timeout = 30
	}
	if cfg.Oracle.FixedFee == "" {
		cfg.Oracle.FixedFee = "0"
	}
	if cfg.Oracle.ConfidenceThreshold == 0 {
		cfg.Oracle.ConfidenceThreshold = 50
	}
	c := &cfg.Coordinator
	if c.MinRatio == 0 {
		c.MinRatio = 125
	}
	if c.MaxRatio == 0 {
		c.MaxRatio = 200
	}
	if c.TimeoutWindow == 0 {
		c.TimeoutWindow = 3600
	}
	if c.OwnerManualDelay == 0 {
		c.OwnerManualDelay = 24 * 3600
	}
	if c.BreakerThreshold == 0 {
		c.BreakerThreshold = 3
	}
	if c.BreakerCooldown == 0 {
		c.BreakerCooldown = 600
	}
	if c.SweepInterval == 0 {
		c.SweepInterval = 60
	}
	a := &cfg.Automation
	if a.Interval == 0 {
		a.Interval = 300
	}
	if a.EmergencyDelay == 0 {
		a.EmergencyDelay = 7 * 24 * 3600
	}
	if a.MaxBatch == 0 {
		a.MaxBatch = 10
	}
	if cfg.Bridge.RelayInterval == 0 {
		cfg.Bridge.RelayInterval = 30
	}
	if cfg.Prices.CacheTTL == 0 {
		cfg.Prices.CacheTTL = 60
	}
	if cfg.Prices.RefreshInterval == 0 {
		cfg.Prices.RefreshInterval = 60
	}
	if cfg.Auth.TokenTTL == 0 {
		cfg.Auth.TokenTTL = 24 * 3600
	}
	if cfg.Auth.SignatureSkew == 0 {
		cfg.Auth.SignatureSkew = 300
	}
	if cfg.Admin.Username == "" {
		cfg.Admin.Username = "admin"
	}
	if cfg.NATS.SubjectPrefix == "" {
		cfg.NATS.SubjectPrefix = "collateral"
	}
}

// overrideFromEnv Override configuration
func overrideFromEnv(config *Config) {
	if dsn := os.Getenv("DATABASE_DSN"); dsn != "" {
		config.Database.DSN = dsn
	}

	if host := os.Getenv("SERVER_HOST"); host != "" {
		config.Server.Host = host
	}
	if port := os.Getenv("SERVER_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			config.Server.Port = p
		}
	}

	if natsURL := os.Getenv("NATS_URL"); natsURL != "" {
		config.NATS.URL = natsURL
	}
	if natsTimeout := os.Getenv("NATS_TIMEOUT"); natsTimeout != "" {
		if t, err := strconv.Atoi(natsTimeout); err == nil {
			config.NATS.Timeout = t
		}
	}

	if redisHost := os.Getenv("REDIS_HOST"); redisHost != "" {
		config.Redis.Host = redisHost
	}
	if redisPort := os.Getenv("REDIS_PORT"); redisPort != "" {
		if p, err := strconv.Atoi(redisPort); err == nil {
			config.Redis.Port = p
		}
	}
	if redisPassword := os.Getenv("REDIS_PASSWORD"); redisPassword != "" {
		config.Redis.Password = redisPassword
	}

	if domain := os.Getenv("CHAIN_DOMAIN"); domain != "" {
		if d, err := strconv.ParseUint(domain, 10, 64); err == nil {
			config.Chain.Domain = d
		}
	}

	if oracleURL := os.Getenv("RISK_ORACLE_BASE_URL"); oracleURL != "" {
		config.Oracle.BaseURL = oracleURL
	}
	if token := os.Getenv("RISK_ORACLE_CALLBACK_TOKEN"); token != "" {
		config.Oracle.CallbackToken = token
	}

	if keeper := os.Getenv("AUTOMATION_KEEPER_TOKEN"); keeper != "" {
		config.Automation.KeeperToken = keeper
	}
	if enabled := os.Getenv("AUTOMATION_ENABLED"); enabled != "" {
		config.Automation.Enabled = enabled == "true"
	}

	if router := os.Getenv("BRIDGE_ROUTER"); router != "" {
		config.Bridge.Router = router
	}
	if relayer := os.Getenv("BRIDGE_RELAYER_TOKEN"); relayer != "" {
		config.Bridge.RelayerToken = relayer
	}

	if secret := os.Getenv("JWT_SECRET"); secret != "" {
		config.Auth.JWTSecret = secret
	}

	if corsOrigins := os.Getenv("CORS_ALLOWED_ORIGINS"); corsOrigins != "" {
		origins := strings.Split(corsOrigins, ",")
		config.CORS.AllowedOrigins = make([]string, 0, len(origins))
		for _, origin := range origins {
			trimmed := strings.TrimSpace(origin)
			if trimmed != "" {
				config.CORS.AllowedOrigins = append(config.CORS.AllowedOrigins, trimmed)
			}
		}
	}

	if secret := os.Getenv("ADMIN_TOTP_SECRET"); secret != "" {
		config.Admin.TOTPSecret = secret
	}
	if hash := os.Getenv("ADMIN_PASSWORD_HASH"); hash != "" {
		config.Admin.PasswordHash = hash
	}
	if secret := os.Getenv("ADMIN_JWT_SECRET"); secret != "" {
		config.Admin.JWTSecret = secret
	}

	if operators := os.Getenv("ADMIN_OPERATORS"); operators != "" {
		config.Admin.Operators = strings.Split(operators, ",")
	}
}

// Seconds converts a seconds setting into a duration
func Seconds(s int) time.Duration {
	return time.Duration(s) * time.Second
}
