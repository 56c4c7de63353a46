package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/joho/godotenv"
)

var (
	config     *Config
	configOnce sync.Once
	configErr  error
)

type Config struct {
	Server struct {
		Port     string `json:"port"`
		Host     string `json:"host"`
		LogLevel string `json:"log_level"`
	} `json:"server"`

	Database struct {
		Driver      string `json:"driver"`
		Path        string `json:"path"`
		RqliteNodes string `json:"rqlite_nodes"`
		RqliteUser  string `json:"rqlite_username"`
		RqlitePass  string `json:"rqlite_password"`
	} `json:"database"`

	Security struct {
		JWTSecret                      string  `json:"jwt_secret"`
		JWTExpiryHours                 int     `json:"jwt_expiry_hours"`
		OpaqueServerKey                string  `json:"opaque_server_key"`
		TOTPMasterKey                  string  `json:"totp_master_key"`
		SessionTTLHours                int     `json:"session_ttl_hours"`
		RevokeSessionsOnPasswordChange bool    `json:"revoke_sessions_on_password_change"`
		EntityIDSecret                 string  `json:"entity_id_secret"`
		RateLimitPerSecond             float64 `json:"rate_limit_per_second"`
	} `json:"security"`

	Logging struct {
		Directory  string `json:"directory"`
		MaxSize    int64  `json:"max_size"`
		MaxBackups int    `json:"max_backups"`
	} `json:"logging"`

	Client struct {
		ServerURL  string `json:"server_url"`
		StorePath  string `json:"store_path"`
		KDFProfile string `json:"kdf_profile"`
	} `json:"client"`
}

// JWTExpiry returns the access token lifetime.
func (c *Config) JWTExpiry() time.Duration {
	return time.Duration(c.Security.JWTExpiryHours) * time.Hour
}

// SessionTTL returns how long a server-side session stays valid.
func (c *Config) SessionTTL() time.Duration {
	return time.Duration(c.Security.SessionTTLHours) * time.Hour
}

// LoadConfig loads the server configuration from defaults, .env, the
// environment, and an optional JSON file named by CONFIG_FILE, in that order.
func LoadConfig() (*Config, error) {
	configOnce.Do(func() {
		cfg := &Config{}
		godotenv.Load()

		loadDefaultConfig(cfg)

		if configErr = loadEnvConfig(cfg); configErr != nil {
			return
		}

		if configPath := os.Getenv("CONFIG_FILE"); configPath != "" {
			if configErr = loadJSONConfig(cfg, configPath); configErr != nil {
				return
			}
		}

		if configErr = validateConfig(cfg); configErr != nil {
			return
		}
		config = cfg
	})

	if configErr != nil {
		return nil, configErr
	}
	return config, nil
}

// LoadClientConfig reads only the client settings. It never fails on
// missing server secrets.
func LoadClientConfig() *Config {
	cfg := &Config{}
	godotenv.Load()
	loadDefaultConfig(cfg)
	loadClientEnv(cfg)
	return cfg
}

func loadDefaultConfig(cfg *Config) {
	cfg.Server.Port = "8080"
	cfg.Server.Host = "localhost"
	cfg.Server.LogLevel = "info"
	cfg.Database.Driver = "sqlite3"
	cfg.Database.Path = "./arkvault.db"
	cfg.Database.RqliteNodes = "localhost:4001"
	cfg.Security.JWTExpiryHours = 24
	cfg.Security.SessionTTLHours = 24 * 7
	cfg.Security.RevokeSessionsOnPasswordChange = true
	cfg.Security.RateLimitPerSecond = 10
	cfg.Logging.Directory = "logs"
	cfg.Logging.MaxSize = 10 * 1024 * 1024 // 10MB
	cfg.Logging.MaxBackups = 5
	cfg.Client.ServerURL = "http://localhost:8080"
	cfg.Client.KDFProfile = "interactive"
}

func loadEnvConfig(cfg *Config) error {
	if port := os.Getenv("PORT"); port != "" {
		cfg.Server.Port = port
	}
	if host := os.Getenv("HOST"); host != "" {
		cfg.Server.Host = host
	}
	if level := os.Getenv("LOG_LEVEL"); level != "" {
		cfg.Server.LogLevel = level
	}

	if driver := os.Getenv("DATABASE_DRIVER"); driver != "" {
		cfg.Database.Driver = driver
	}
	if path := os.Getenv("DATABASE_PATH"); path != "" {
		cfg.Database.Path = path
	}
	if nodes := os.Getenv("RQLITE_NODES"); nodes != "" {
		cfg.Database.RqliteNodes = nodes
	}
	cfg.Database.RqliteUser = os.Getenv("RQLITE_USERNAME")
	cfg.Database.RqlitePass = os.Getenv("RQLITE_PASSWORD")

	cfg.Security.JWTSecret = os.Getenv("JWT_SECRET")
	cfg.Security.OpaqueServerKey = os.Getenv("OPAQUE_SERVER_KEY")
	cfg.Security.TOTPMasterKey = os.Getenv("TOTP_MASTER_KEY")
	cfg.Security.EntityIDSecret = os.Getenv("ENTITY_ID_SECRET")

	var err error
	if cfg.Security.JWTExpiryHours, err = envInt("JWT_EXPIRY_HOURS", cfg.Security.JWTExpiryHours); err != nil {
		return err
	}
	if cfg.Security.SessionTTLHours, err = envInt("SESSION_TTL_HOURS", cfg.Security.SessionTTLHours); err != nil {
		return err
	}
	if v := os.Getenv("REVOKE_SESSIONS_ON_PASSWORD_CHANGE"); v != "" {
		revoke, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("invalid REVOKE_SESSIONS_ON_PASSWORD_CHANGE: %w", err)
		}
		cfg.Security.RevokeSessionsOnPasswordChange = revoke
	}

	if v := os.Getenv("RATE_LIMIT_PER_SECOND"); v != "" {
		limit, err := strconv.ParseFloat(v, 64)
		if err != nil || limit < 0 {
			return fmt.Errorf("invalid RATE_LIMIT_PER_SECOND: %q", v)
		}
		cfg.Security.RateLimitPerSecond = limit
	}

	if dir, ok := os.LookupEnv("LOG_DIR"); ok {
		cfg.Logging.Directory = dir
	}

	loadClientEnv(cfg)
	return nil
}

func loadClientEnv(cfg *Config) {
	if url := os.Getenv("ARKVAULT_SERVER_URL"); url != "" {
		cfg.Client.ServerURL = strings.TrimRight(url, "/")
	}
	if path := os.Getenv("ARKVAULT_STORE"); path != "" {
		cfg.Client.StorePath = path
	}
	if profile := os.Getenv("ARKVAULT_KDF_PROFILE"); profile != "" {
		cfg.Client.KDFProfile = profile
	}
}

func envInt(name string, fallback int) (int, error) {
	v := os.Getenv(name)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", name, err)
	}
	return n, nil
}

func loadJSONConfig(cfg *Config, path string) error {
	file, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("failed to open config file: %w", err)
	}
	defer file.Close()

	decoder := json.NewDecoder(file)
	if err := decoder.Decode(cfg); err != nil {
		return fmt.Errorf("failed to decode config file: %w", err)
	}

	return nil
}

func validateConfig(cfg *Config) error {
	if cfg.Security.JWTSecret == "" {
		return fmt.Errorf("JWT_SECRET is required")
	}
	if len(cfg.Security.JWTSecret) < 32 {
		return fmt.Errorf("JWT_SECRET must be at least 32 characters")
	}
	if cfg.Security.TOTPMasterKey == "" {
		return fmt.Errorf("TOTP_MASTER_KEY is required")
	}

	switch cfg.Database.Driver {
	case "sqlite3", "rqlite":
	default:
		return fmt.Errorf("unsupported DATABASE_DRIVER %q", cfg.Database.Driver)
	}

	if cfg.Security.JWTExpiryHours <= 0 {
		return fmt.Errorf("JWT_EXPIRY_HOURS must be positive")
	}
	if cfg.Security.SessionTTLHours <= 0 {
		return fmt.Errorf("SESSION_TTL_HOURS must be positive")
	}
	return nil
}

// GetConfig returns the current configuration
func GetConfig() *Config {
	if config == nil {
		panic("Configuration not loaded")
	}
	return config
}

// ResetConfigForTest clears the loaded configuration so the next LoadConfig
// call reads the environment again.
func ResetConfigForTest() {
	config = nil
	configErr = nil
	configOnce = sync.Once{}
}
