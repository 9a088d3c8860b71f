package config

import (
	"fmt"
	"net/netip"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"meshnode/pkg/router"
	"meshnode/pkg/store"
)

// DefaultAPIAddr is the admin API bind address when none is configured.
const DefaultAPIAddr = "127.0.0.1:8989"

// Config application configuration structure
type Config struct {
	API   APIConfig   `yaml:"api"`
	Node  NodeConfig  `yaml:"node"`
	Store StoreConfig `yaml:"store"`
	Log   LogConfig   `yaml:"log"`
}

// APIConfig admin HTTP server configuration
type APIConfig struct {
	Listen                   string `yaml:"listen"`
	ReadHeaderTimeoutSeconds int    `yaml:"read_header_timeout"`
	// ShutdownTimeoutSeconds bounds the graceful drain; 0 waits for
	// in-flight requests without bound.
	ShutdownTimeoutSeconds int        `yaml:"shutdown_timeout"`
	TLS                    TLSConfig  `yaml:"tls"`
	Auth                   AuthConfig `yaml:"auth"` // empty means an open API
	DisableMetrics         bool       `yaml:"disable_metrics"`
}

// TLSConfig enables HTTPS when both cert and key are set.
type TLSConfig struct {
	Cert     string `yaml:"cert"`
	Key      string `yaml:"key"`
	ClientCA string `yaml:"client_ca"` // require client certs signed by this CA
}

func (t TLSConfig) Enabled() bool { return t.Cert != "" && t.Key != "" }

// AuthConfig bearer-token authentication. Token is a static shared secret;
// JWTSecret enables HS256 tokens issued by the login endpoint for Username
// whose bcrypt hash is PasswordHash.
type AuthConfig struct {
	Token           string `yaml:"token"`
	JWTSecret       string `yaml:"jwt_secret"`
	Username        string `yaml:"username"`
	PasswordHash    string `yaml:"password_hash"`
	TokenTTLMinutes int    `yaml:"token_ttl_minutes"`
}

// NodeConfig identity and static state of the node
type NodeConfig struct {
	Subnet string        `yaml:"subnet"` // overlay subnet, e.g. "400:1234:5678:9abc::/64"
	Peers  []string      `yaml:"peers"`  // static peer endpoints added at startup
	Routes []RouteConfig `yaml:"routes"` // static routes installed in the table
}

// RouteConfig a statically installed route. Metric "infinite" marks a
// withdrawn route; Fallback keeps it out of the selected set.
type RouteConfig struct {
	Subnet   string `yaml:"subnet"`
	NextHop  string `yaml:"next_hop"`
	Metric   string `yaml:"metric"`
	Seqno    uint16 `yaml:"seqno"`
	Fallback bool   `yaml:"fallback"`
}

// StoreConfig persistence backend
type StoreConfig struct {
	Type         string `yaml:"type"` // memory|sqlite|consul|mysql
	SQLitePath   string `yaml:"sqlite_path"`
	ConsulAddr   string `yaml:"consul_addr"`
	ConsulPrefix string `yaml:"consul_prefix"`
	MySQLDSN     string `yaml:"mysql_dsn"`
}

// LogConfig log configuration
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// LoadConfig loads configuration from file, then applies defaults and
// environment overrides. A ".env" file in the working directory is loaded
// first when present.
func LoadConfig(configPath string) (*Config, error) {
	if err := loadDotEnv(); err != nil {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}

	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		return nil, fmt.Errorf("config file not found: %s", configPath)
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	config.SetDefaults()
	config.ApplyEnvOverrides()
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &config, nil
}

// Default returns a configuration built only from defaults and the environment.
func Default() *Config {
	_ = loadDotEnv()
	c := &Config{}
	c.SetDefaults()
	c.ApplyEnvOverrides()
	return c
}

func loadDotEnv() error {
	if _, err := os.Stat(".env"); err == nil {
		return godotenv.Load(".env")
	}
	return nil
}

// SetDefaults sets default values
func (c *Config) SetDefaults() {
	if c.API.Listen == "" {
		c.API.Listen = DefaultAPIAddr
	}
	if c.API.ReadHeaderTimeoutSeconds == 0 {
		c.API.ReadHeaderTimeoutSeconds = 5
	}
	if c.API.Auth.TokenTTLMinutes == 0 {
		c.API.Auth.TokenTTLMinutes = 24 * 60
	}
	if c.Node.Subnet == "" {
		c.Node.Subnet = "400::/64"
	}
	if c.Store.Type == "" {
		c.Store.Type = store.BackendMemory
	}
	if c.Store.Type == store.BackendSQLite && c.Store.SQLitePath == "" {
		c.Store.SQLitePath = "/var/lib/meshnode/state.db"
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "text"
	}
}

// ApplyEnvOverrides applies environment variable overrides
func (c *Config) ApplyEnvOverrides() {
	if val := os.Getenv("MESHNODE_API_ADDR"); val != "" {
		c.API.Listen = val
	}
	if val := os.Getenv("MESHNODE_SHUTDOWN_TIMEOUT_SECONDS"); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			c.API.ShutdownTimeoutSeconds = i
		}
	}
	if val := os.Getenv("MESHNODE_API_TOKEN"); val != "" {
		c.API.Auth.Token = val
	}
	if val := os.Getenv("JWT_SECRET"); val != "" {
		c.API.Auth.JWTSecret = val
	}
	if val := os.Getenv("MESHNODE_SUBNET"); val != "" {
		c.Node.Subnet = val
	}
	if val := os.Getenv("MESHNODE_PEERS"); val != "" {
		c.Node.Peers = splitList(val)
	}
	if val := os.Getenv("MESHNODE_STORE"); val != "" {
		c.Store.Type = strings.ToLower(val)
	}
	if val := os.Getenv("MESHNODE_SQLITE_PATH"); val != "" {
		c.Store.SQLitePath = val
	}
	if val := os.Getenv("CONSUL_HTTP_ADDR"); val != "" {
		c.Store.ConsulAddr = val
	}
	if val := os.Getenv("MYSQL_DSN"); val != "" {
		c.Store.MySQLDSN = val
	}
	if val := os.Getenv("LOG_LEVEL"); val != "" {
		c.Log.Level = strings.ToLower(val)
	}
	if val := os.Getenv("LOG_FORMAT"); val != "" {
		c.Log.Format = strings.ToLower(val)
	}
}

// Validate rejects settings the node cannot start with.
func (c *Config) Validate() error {
	switch c.Store.Type {
	case store.BackendMemory, store.BackendSQLite, store.BackendConsul, store.BackendMySQL:
	default:
		return fmt.Errorf("unsupported store type: %s", c.Store.Type)
	}
	if _, err := netip.ParsePrefix(c.Node.Subnet); err != nil {
		return fmt.Errorf("node subnet: %w", err)
	}
	for _, rc := range c.Node.Routes {
		if _, err := rc.Record(); err != nil {
			return err
		}
	}
	if (c.API.TLS.Cert == "") != (c.API.TLS.Key == "") {
		return fmt.Errorf("tls requires both cert and key")
	}
	if c.API.Auth.Username != "" && (c.API.Auth.PasswordHash == "" || c.API.Auth.JWTSecret == "") {
		return fmt.Errorf("auth username requires password_hash and jwt_secret")
	}
	return nil
}

// GetReadHeaderTimeout gets the HTTP read header timeout
func (c *Config) GetReadHeaderTimeout() time.Duration {
	return time.Duration(c.API.ReadHeaderTimeoutSeconds) * time.Second
}

// GetShutdownTimeout gets the graceful shutdown bound; zero means unbounded
func (c *Config) GetShutdownTimeout() time.Duration {
	return time.Duration(c.API.ShutdownTimeoutSeconds) * time.Second
}

// GetTokenTTL gets the lifetime of issued login tokens
func (c *Config) GetTokenTTL() time.Duration {
	return time.Duration(c.API.Auth.TokenTTLMinutes) * time.Minute
}

// StoreOptions maps the store section onto store.Options.
func (c *Config) StoreOptions() store.Options {
	return store.Options{
		Type:         c.Store.Type,
		SQLitePath:   c.Store.SQLitePath,
		ConsulAddr:   c.Store.ConsulAddr,
		ConsulPrefix: c.Store.ConsulPrefix,
		MySQLDSN:     c.Store.MySQLDSN,
	}
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// Record converts the route into a table record.
func (r RouteConfig) Record() (router.RouteRecord, error) {
	subnet, err := netip.ParsePrefix(r.Subnet)
	if err != nil {
		return router.RouteRecord{}, fmt.Errorf("route subnet: %w", err)
	}
	if r.NextHop == "" {
		return router.RouteRecord{}, fmt.Errorf("route %s: next_hop is required", r.Subnet)
	}
	metric := router.Infinite
	if !strings.EqualFold(r.Metric, "infinite") {
		v, err := strconv.ParseUint(r.Metric, 10, 16)
		if err != nil || router.Metric(v).IsInfinite() {
			return router.RouteRecord{}, fmt.Errorf("route %s: invalid metric %q", r.Subnet, r.Metric)
		}
		metric = router.Metric(v)
	}
	return router.RouteRecord{
		Subnet:  subnet.Masked(),
		NextHop: r.NextHop,
		Metric:  metric,
		Seqno:   r.Seqno,
	}, nil
}
