// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"errors"
	"fmt"
	"os"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Environment selects which override section applies.
type Environment string

const (
	Development Environment = "development"
	Staging     Environment = "staging"
	Production  Environment = "production"
)

// EnvPrefix prefixes every environment variable the loader reads.
const EnvPrefix = "EVENTMESH_"

// Config is the full client configuration.
type Config struct {
	Environment Environment `yaml:"environment" env:"ENVIRONMENT"`

	// ServiceKey is the path of a service key document. Optional.
	ServiceKey string `yaml:"service_key" env:"SERVICE_KEY"`

	Auth   AuthConfig   `yaml:"auth"`
	Broker BrokerConfig `yaml:"broker"`
	Client ClientConfig `yaml:"client"`

	// Bindings maps logical names ("in_queue", "out_queue") to broker
	// addresses.
	Bindings map[string]BindingConfig `yaml:"bindings" env:"-"`

	// Properties are JVM-style system properties consulted by the token
	// client (http.proxyHost, http.proxyPort, https.proxyHost, ...).
	Properties Properties `yaml:"properties" env:"-"`

	Development *Overrides `yaml:"development,omitempty" env:"-"`
	Staging     *Overrides `yaml:"staging,omitempty" env:"-"`
	Production  *Overrides `yaml:"production,omitempty" env:"-"`
}

// AuthConfig configures the OAuth2 client-credentials grant.
type AuthConfig struct {
	GrantType string `yaml:"grant_type" env:"GRANT_TYPE"`
	TokenURL  string `yaml:"token_url" env:"TOKEN_URL"`
	ClientID  string `yaml:"client_id" env:"CLIENT_ID"`

	// ClientSecret is the inline secret. Prefer ClientSecretFile; the
	// binary moves whichever is set into protected memory.
	ClientSecret     string `yaml:"client_secret" env:"CLIENT_SECRET"`
	ClientSecretFile string `yaml:"client_secret_file" env:"CLIENT_SECRET_FILE"`

	// Timeout bounds one token request end to end.
	Timeout time.Duration `yaml:"timeout" env:"TOKEN_TIMEOUT"`
}

// BrokerConfig configures the AMQP 1.0 transport.
type BrokerConfig struct {
	// URI is amqp://, amqps://, ws:// or wss://.
	URI string `yaml:"uri" env:"BROKER_URI"`

	// SASL is "anonymous", "plain" or "xoauth2". WebSocket connections
	// authenticate with the bearer token and always use anonymous.
	SASL     string `yaml:"sasl" env:"BROKER_SASL"`
	Username string `yaml:"username" env:"BROKER_USERNAME"`
	Password string `yaml:"password" env:"BROKER_PASSWORD"`

	ConnectTimeout time.Duration `yaml:"connect_timeout" env:"BROKER_CONNECT_TIMEOUT"`
	IdleTimeout    time.Duration `yaml:"idle_timeout" env:"BROKER_IDLE_TIMEOUT"`

	// Credit is the receiver link credit (prefetch window).
	Credit int `yaml:"credit" env:"BROKER_CREDIT"`

	// InsecureSkipVerify disables TLS verification. Development only.
	InsecureSkipVerify bool `yaml:"insecure_skip_verify" env:"BROKER_INSECURE_SKIP_VERIFY"`
}

// ClientConfig tunes the message client runtime.
type ClientConfig struct {
	InboxCapacity  int           `yaml:"inbox_capacity" env:"INBOX_CAPACITY"`
	ReceiveTimeout time.Duration `yaml:"receive_timeout" env:"RECEIVE_TIMEOUT"`
	CloseGrace     time.Duration `yaml:"close_grace" env:"CLOSE_GRACE"`
}

// BindingConfig is one entry of the bindings table.
type BindingConfig struct {
	Address string `yaml:"address"`
	// Kind is "queue" (default) or "topic".
	Kind string `yaml:"kind"`
}

// Overrides holds the fields an environment section may override.
// Zero values leave the base value in place.
type Overrides struct {
	Auth   *AuthConfig   `yaml:"auth,omitempty"`
	Broker *BrokerConfig `yaml:"broker,omitempty"`
	Client *ClientConfig `yaml:"client,omitempty"`
}

// Properties is a string-keyed property table.
type Properties map[string]string

// Lookup returns the trimmed value of key and whether it is set and
// non-blank.
func (p Properties) Lookup(key string) (string, bool) {
	value, ok := p[key]
	value = strings.TrimSpace(value)
	return value, ok && value != ""
}

// Default returns the configuration every file is merged into.
func Default() *Config {
	return &Config{
		Environment: Development,
		Auth: AuthConfig{
			GrantType: "client_credentials",
			Timeout:   30 * time.Second,
		},
		Broker: BrokerConfig{
			SASL:           "anonymous",
			ConnectTimeout: 30 * time.Second,
			Credit:         16,
		},
		Client: ClientConfig{
			InboxCapacity:  1000,
			ReceiveTimeout: 30 * time.Second,
			CloseGrace:     3 * time.Second,
		},
		Bindings:   map[string]BindingConfig{},
		Properties: Properties{},
	}
}

// Load loads the file named by EVENTMESH_CONFIG.
func Load() (*Config, error) {
	path := os.Getenv(EnvPrefix + "CONFIG")
	if path == "" {
		return nil, fmt.Errorf("%sCONFIG environment variable not set; "+
			"set it to the path of your eventmesh.yaml, or use --config", EnvPrefix)
	}
	return LoadFile(path)
}

// LoadFile loads path and applies every layer described in the package
// documentation. The result is not validated; call Validate.
func LoadFile(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: parsing %s: %w", path, err)
	}
	if cfg.Bindings == nil {
		cfg.Bindings = map[string]BindingConfig{}
	}
	if cfg.Properties == nil {
		cfg.Properties = Properties{}
	}

	// Both select later layers, so the environment is consulted early.
	if value := os.Getenv(EnvPrefix + "SERVICE_KEY"); value != "" {
		cfg.ServiceKey = value
	}
	if value := os.Getenv(EnvPrefix + "ENVIRONMENT"); value != "" {
		cfg.Environment = Environment(value)
	}
	if cfg.ServiceKey != "" {
		key, err := LoadServiceKey(expandVars(cfg.ServiceKey))
		if err != nil {
			return nil, err
		}
		if err := cfg.applyServiceKey(key); err != nil {
			return nil, err
		}
	}

	cfg.applyEnvironmentOverrides()

	if err := env.ParseWithOptions(cfg, env.Options{Prefix: EnvPrefix}); err != nil {
		return nil, fmt.Errorf("config: reading %s* environment: %w", EnvPrefix, err)
	}

	cfg.expandVariables()
	return cfg, nil
}

// LoadDotEnv loads the given .env files into the process environment,
// skipping files that do not exist. Variables already set win. Returns
// the number of files loaded.
func LoadDotEnv(files ...string) (int, error) {
	var existing []string
	for _, file := range files {
		if _, err := os.Stat(file); err == nil {
			existing = append(existing, file)
		}
	}
	if len(existing) == 0 {
		return 0, nil
	}
	if err := godotenv.Load(existing...); err != nil {
		return 0, fmt.Errorf("config: loading %v: %w", existing, err)
	}
	return len(existing), nil
}

func (c *Config) applyEnvironmentOverrides() {
	var overrides *Overrides
	switch c.Environment {
	case Development:
		overrides = c.Development
	case Staging:
		overrides = c.Staging
	case Production:
		overrides = c.Production
	}
	if overrides == nil {
		return
	}

	if o := overrides.Auth; o != nil {
		setString(&c.Auth.GrantType, o.GrantType)
		setString(&c.Auth.TokenURL, o.TokenURL)
		setString(&c.Auth.ClientID, o.ClientID)
		setString(&c.Auth.ClientSecret, o.ClientSecret)
		setString(&c.Auth.ClientSecretFile, o.ClientSecretFile)
		setDuration(&c.Auth.Timeout, o.Timeout)
	}
	if o := overrides.Broker; o != nil {
		setString(&c.Broker.URI, o.URI)
		setString(&c.Broker.SASL, o.SASL)
		setString(&c.Broker.Username, o.Username)
		setString(&c.Broker.Password, o.Password)
		setDuration(&c.Broker.ConnectTimeout, o.ConnectTimeout)
		setDuration(&c.Broker.IdleTimeout, o.IdleTimeout)
		if o.Credit > 0 {
			c.Broker.Credit = o.Credit
		}
		// A bool cannot express "unset"; an override section that
		// mentions the broker always decides verification.
		c.Broker.InsecureSkipVerify = o.InsecureSkipVerify
	}
	if o := overrides.Client; o != nil {
		if o.InboxCapacity > 0 {
			c.Client.InboxCapacity = o.InboxCapacity
		}
		setDuration(&c.Client.ReceiveTimeout, o.ReceiveTimeout)
		setDuration(&c.Client.CloseGrace, o.CloseGrace)
	}
}

func setString(target *string, value string) {
	if value != "" {
		*target = value
	}
}

func setDuration(target *time.Duration, value time.Duration) {
	if value > 0 {
		*target = value
	}
}

func (c *Config) expandVariables() {
	c.Auth.TokenURL = expandVars(c.Auth.TokenURL)
	c.Auth.ClientID = expandVars(c.Auth.ClientID)
	c.Auth.ClientSecret = expandVars(c.Auth.ClientSecret)
	c.Auth.ClientSecretFile = expandVars(c.Auth.ClientSecretFile)
	c.Broker.URI = expandVars(c.Broker.URI)
	c.Broker.Username = expandVars(c.Broker.Username)
	c.Broker.Password = expandVars(c.Broker.Password)
	for name, binding := range c.Bindings {
		binding.Address = expandVars(binding.Address)
		c.Bindings[name] = binding
	}
}

var varPattern = regexp.MustCompile(`\$\{([^}:]+)(?::-([^}]*))?\}`)

// expandVars replaces ${VAR} and ${VAR:-default} from the environment.
func expandVars(s string) string {
	return varPattern.ReplaceAllStringFunc(s, func(match string) string {
		parts := varPattern.FindStringSubmatch(match)
		if value := os.Getenv(parts[1]); value != "" {
			return value
		}
		return parts[2]
	})
}

// Validate reports every configuration error at once.
func (c *Config) Validate() error {
	var errs []error

	switch c.Environment {
	case Development, Staging, Production:
	default:
		errs = append(errs, fmt.Errorf("invalid environment: %q", c.Environment))
	}

	if c.Auth.TokenURL == "" {
		errs = append(errs, errors.New("auth.token_url is required"))
	}
	if c.Auth.ClientID == "" {
		errs = append(errs, errors.New("auth.client_id is required"))
	}
	if c.Auth.ClientSecret == "" && c.Auth.ClientSecretFile == "" {
		errs = append(errs, errors.New("auth.client_secret or auth.client_secret_file is required"))
	}
	if c.Auth.Timeout <= 0 {
		errs = append(errs, errors.New("auth.timeout must be positive"))
	}

	if c.Broker.URI == "" {
		errs = append(errs, errors.New("broker.uri is required"))
	}
	switch c.Broker.SASL {
	case "anonymous", "xoauth2":
	case "plain":
		if c.Broker.Username == "" {
			errs = append(errs, errors.New("broker.username is required for sasl=plain"))
		}
	default:
		errs = append(errs, fmt.Errorf("broker.sasl must be anonymous, plain or xoauth2, got %q", c.Broker.SASL))
	}
	if c.Broker.Credit <= 0 {
		errs = append(errs, errors.New("broker.credit must be positive"))
	}

	if c.Client.InboxCapacity <= 0 {
		errs = append(errs, errors.New("client.inbox_capacity must be positive"))
	}
	if c.Client.ReceiveTimeout <= 0 {
		errs = append(errs, errors.New("client.receive_timeout must be positive"))
	}
	if c.Client.CloseGrace <= 0 {
		errs = append(errs, errors.New("client.close_grace must be positive"))
	}

	if len(c.Bindings) == 0 {
		errs = append(errs, errors.New("at least one binding is required"))
	}
	for _, name := range c.BindingNames() {
		binding := c.Bindings[name]
		if strings.TrimSpace(binding.Address) == "" {
			errs = append(errs, fmt.Errorf("bindings.%s.address is required", name))
		}
		switch binding.Kind {
		case "", "queue", "topic":
		default:
			errs = append(errs, fmt.Errorf("bindings.%s.kind must be queue or topic, got %q", name, binding.Kind))
		}
	}

	return errors.Join(errs...)
}

// BindingNames returns the configured binding names in sorted order.
func (c *Config) BindingNames() []string {
	names := make([]string, 0, len(c.Bindings))
	for name := range c.Bindings {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
