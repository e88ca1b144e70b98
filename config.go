package bendload

import (
	"fmt"
	"net"
	"net/url"
	"strconv"
	"time"
)

const (
	defaultClientTimeout = 900 * time.Second // network round trip + read out http response
	defaultDomain        = "app.databend.com"

	// Transfer retry budget defaults. Both ceilings apply independently:
	// retrying stops when either the attempt count or the elapsed time
	// since the first attempt reaches its ceiling.
	defaultMaxRetryAttempts = 5
	defaultRetryTimeout     = 5 * time.Minute
)

// Config is a set of configuration parameters for a stage transfer client.
type Config struct {
	Tenant    string // Tenant
	Warehouse string // Warehouse
	User      string // Username
	Password  string // Password (requires User)
	Database  string // Database name

	AccessToken       string
	AccessTokenFile   string
	AccessTokenLoader AccessTokenLoader

	Scheme  string
	Host    string
	Timeout time.Duration

	// MaxRetryAttempts and RetryTimeout bound the transfer retry budget.
	MaxRetryAttempts int
	RetryTimeout     time.Duration

	PresignedURLDisabled bool
	EnableOpenTelemetry  bool
	Debug                bool
	Params               map[string]string

	// Logger receives the client's log output. Defaults to a stdout text
	// logger at error level when nil.
	Logger Logger
}

// NewConfig creates a new config with default values.
func NewConfig() *Config {
	return &Config{
		Scheme:           "https",
		Host:             fmt.Sprintf("%s:443", defaultDomain),
		Timeout:          defaultClientTimeout,
		MaxRetryAttempts: defaultMaxRetryAttempts,
		RetryTimeout:     defaultRetryTimeout,
		Params:           make(map[string]string),
	}
}

// FormatDSN formats the given Config into a DSN string which can be passed
// back to ParseDSN.
func (cfg *Config) FormatDSN() string {
	u := cfg.url(nil, true)
	query := u.Query()
	if cfg.Tenant != "" {
		query.Set("tenant", cfg.Tenant)
	}
	if cfg.Warehouse != "" {
		query.Set("warehouse", cfg.Warehouse)
	}
	if cfg.Timeout != 0 && cfg.Timeout != defaultClientTimeout {
		query.Set("timeout", cfg.Timeout.String())
	}
	if cfg.MaxRetryAttempts != 0 && cfg.MaxRetryAttempts != defaultMaxRetryAttempts {
		query.Set("retry_attempts", strconv.Itoa(cfg.MaxRetryAttempts))
	}
	if cfg.RetryTimeout != 0 && cfg.RetryTimeout != defaultRetryTimeout {
		query.Set("retry_timeout", cfg.RetryTimeout.String())
	}
	if cfg.AccessToken != "" {
		query.Set("access_token", cfg.AccessToken)
	}
	if cfg.AccessTokenFile != "" {
		query.Set("access_token_file", cfg.AccessTokenFile)
	}
	if cfg.Debug {
		query.Set("debug", "1")
	}
	if cfg.PresignedURLDisabled {
		query.Set("presigned_url_disabled", "1")
	}
	if cfg.EnableOpenTelemetry {
		query.Set("enable_otel", "1")
	}

	u.RawQuery = query.Encode()
	return u.String()
}

func (cfg *Config) url(extra map[string]string, dsn bool) *url.URL {
	u := &url.URL{
		Host:   cfg.Host,
		Scheme: cfg.Scheme,
		Path:   "/",
	}
	if len(cfg.User) > 0 {
		if len(cfg.Password) > 0 {
			u.User = url.UserPassword(cfg.User, cfg.Password)
		} else {
			u.User = url.User(cfg.User)
		}
	}
	query := u.Query()
	if len(cfg.Database) > 0 {
		if dsn {
			u.Path += cfg.Database
		} else {
			query.Set("database", cfg.Database)
		}
	}
	for k, v := range cfg.Params {
		query.Set(k, v)
	}
	for k, v := range extra {
		query.Set(k, v)
	}

	u.RawQuery = query.Encode()
	return u
}

// ParseDSN parses the DSN string to a Config.
func ParseDSN(dsn string) (*Config, error) {
	u, err := url.Parse(dsn)
	if err != nil {
		return nil, err
	}
	cfg := NewConfig()

	switch u.Scheme {
	case "http", "https":
		cfg.Scheme = u.Scheme
	case "db+http", "db+https":
		cfg.Scheme = u.Scheme[len("db+"):]
	case "databend+http", "databend+https":
		cfg.Scheme = u.Scheme[len("databend+"):]
	case "databend", "db":
		if u.Query().Get("sslmode") == "disable" {
			cfg.Scheme = "http"
		} else {
			cfg.Scheme = "https"
		}
	default:
		return nil, fmt.Errorf("invalid scheme: %s", u.Scheme)
	}

	if _, _, err := net.SplitHostPort(u.Host); err == nil {
		cfg.Host = u.Host
	} else {
		switch cfg.Scheme {
		case "http":
			cfg.Host = net.JoinHostPort(u.Host, "80")
		case "https":
			cfg.Host = net.JoinHostPort(u.Host, "443")
		default:
			return nil, fmt.Errorf("invalid scheme: %s", cfg.Scheme)
		}
	}

	if len(u.Path) > 1 {
		// skip '/'
		cfg.Database = u.Path[1:]
	}
	if u.User != nil {
		// it is expected that empty password will be dropped out on Parse and Format
		cfg.User = u.User.Username()
		if passwd, ok := u.User.Password(); ok {
			cfg.Password = passwd
		}
	}
	if err = parseDSNParams(cfg, map[string][]string(u.Query())); err != nil {
		return nil, err
	}
	return cfg, nil
}

// parseDSNParams parses the DSN "query string".
// Values must be url.QueryEscape'ed.
func parseDSNParams(cfg *Config, params map[string][]string) (err error) {
	for k, v := range params {
		if len(v) == 0 {
			continue
		}

		switch k {
		case "timeout":
			cfg.Timeout, err = time.ParseDuration(v[0])
		case "retry_attempts":
			cfg.MaxRetryAttempts, err = strconv.Atoi(v[0])
		case "retry_timeout":
			cfg.RetryTimeout, err = time.ParseDuration(v[0])
		case "debug":
			cfg.Debug, err = strconv.ParseBool(v[0])
		case "default_format", "query", "database":
			err = fmt.Errorf("unknown option '%s'", k)
		case "presigned_url_disabled":
			cfg.PresignedURLDisabled, err = strconv.ParseBool(v[0])
			cfg.Params[k] = v[0]
		case "enable_otel":
			cfg.EnableOpenTelemetry, err = strconv.ParseBool(v[0])
		case "tenant":
			cfg.Tenant = v[0]
		case "warehouse":
			cfg.Warehouse = v[0]
		case "access_token":
			cfg.AccessToken = v[0]
		case "access_token_file":
			cfg.AccessTokenFile = v[0]
		case "sslmode":
			// handled by scheme
		default:
			cfg.Params[k] = v[0]
		}
		if err != nil {
			return err
		}
	}

	return
}
