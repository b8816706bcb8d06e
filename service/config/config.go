package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/brojonat/dustpan/service/solana"
	solanago "github.com/gagliardetto/solana-go"
	"gopkg.in/yaml.v3"
)

// MissingAmountSkip leaves accounts without a token amount alone.
const MissingAmountSkip = "skip"

// DefaultKeypairPath is where the Solana CLI keeps its default keypair.
const DefaultKeypairPath = "~/.config/solana/id.json"

// Config holds all application configuration. Values come from defaults, then
// an optional YAML file, then environment variables, then CLI flags.
type Config struct {
	// Solana configuration
	RPCURLs          []string `yaml:"rpc_urls"`
	KeypairPath      string   `yaml:"keypair_path"`
	Commitment       string   `yaml:"commitment"`
	AccountEncoding  string   `yaml:"account_encoding"`
	IncludeToken2022 bool     `yaml:"include_token_2022"`

	// Cleanup behaviour
	MissingAmount   string `yaml:"missing_amount"`
	RentDestination string `yaml:"rent_destination"`
	Strict          bool   `yaml:"strict"`

	// Confirmation
	ConfirmTimeout      time.Duration `yaml:"confirm_timeout"`
	ConfirmPollInterval time.Duration `yaml:"confirm_poll_interval"`

	LogLevel string `yaml:"log_level"`

	// Optional sinks
	DatabaseURL    string `yaml:"database_url"`
	NATSURL        string `yaml:"nats_url"`
	PushgatewayURL string `yaml:"pushgateway_url"`
}

// Default returns the configuration used when nothing else is set.
func Default() *Config {
	return &Config{
		RPCURLs:             []string{"https://api.devnet.solana.com"},
		KeypairPath:         DefaultKeypairPath,
		Commitment:          "confirmed",
		AccountEncoding:     "base64",
		MissingAmount:       MissingAmountSkip,
		ConfirmTimeout:      90 * time.Second,
		ConfirmPollInterval: 2 * time.Second,
		LogLevel:            "info",
	}
}

// Load builds the configuration from defaults, the YAML file at path (if
// path is non-empty) and environment variables, then applies overrides in
// order and validates the result.
func Load(path string, overrides ...func(*Config)) (*Config, error) {
	cfg := Default()

	if path != "" {
		if err := cfg.loadFile(path); err != nil {
			return nil, err
		}
	}

	var errs []error
	errs = append(errs, cfg.loadEnv()...)
	if len(errs) > 0 {
		return nil, fmt.Errorf("configuration validation failed: %v", errs)
	}

	for _, override := range overrides {
		override(cfg)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return nil
}

func (c *Config) loadEnv() []error {
	var errs []error

	if v := os.Getenv("SOLANA_RPC_URL"); v != "" {
		c.RPCURLs = SplitList(v)
	}
	c.KeypairPath = getEnvOrDefault("KEYPAIR_PATH", c.KeypairPath)
	c.Commitment = getEnvOrDefault("COMMITMENT", c.Commitment)
	c.AccountEncoding = getEnvOrDefault("ACCOUNT_ENCODING", c.AccountEncoding)
	c.MissingAmount = getEnvOrDefault("MISSING_AMOUNT", c.MissingAmount)
	c.RentDestination = getEnvOrDefault("RENT_DESTINATION", c.RentDestination)
	c.LogLevel = getEnvOrDefault("LOG_LEVEL", c.LogLevel)
	c.DatabaseURL = getEnvOrDefault("DATABASE_URL", c.DatabaseURL)
	c.NATSURL = getEnvOrDefault("NATS_URL", c.NATSURL)
	c.PushgatewayURL = getEnvOrDefault("PUSHGATEWAY_URL", c.PushgatewayURL)

	var err error
	if c.IncludeToken2022, err = parseBool("INCLUDE_TOKEN_2022", c.IncludeToken2022); err != nil {
		errs = append(errs, err)
	}
	if c.Strict, err = parseBool("STRICT", c.Strict); err != nil {
		errs = append(errs, err)
	}
	if c.ConfirmTimeout, err = parseDuration("CONFIRM_TIMEOUT", c.ConfirmTimeout); err != nil {
		errs = append(errs, err)
	}
	if c.ConfirmPollInterval, err = parseDuration("CONFIRM_POLL_INTERVAL", c.ConfirmPollInterval); err != nil {
		errs = append(errs, err)
	}
	return errs
}

// Validate checks if the configuration is valid.
// This is useful for testing configuration without loading from env.
func (c *Config) Validate() error {
	var errs []error

	if len(c.RPCURLs) == 0 {
		errs = append(errs, fmt.Errorf("at least one RPC URL is required (SOLANA_RPC_URL)"))
	}
	for _, u := range c.RPCURLs {
		if !strings.HasPrefix(u, "http://") && !strings.HasPrefix(u, "https://") {
			errs = append(errs, fmt.Errorf("RPC URL %q must be http or https", u))
		}
	}

	if c.KeypairPath == "" {
		errs = append(errs, fmt.Errorf("KeypairPath is required"))
	}

	if _, err := solana.ParseCommitment(c.Commitment); err != nil {
		errs = append(errs, err)
	}
	if _, err := solana.ParseEncoding(c.AccountEncoding); err != nil {
		errs = append(errs, err)
	}
	if _, err := c.DefaultAmount(); err != nil {
		errs = append(errs, err)
	}
	if _, err := c.RentDestinationKey(); err != nil {
		errs = append(errs, err)
	}

	if c.ConfirmTimeout <= 0 {
		errs = append(errs, fmt.Errorf("ConfirmTimeout must be positive"))
	}
	if c.ConfirmPollInterval <= 0 {
		errs = append(errs, fmt.Errorf("ConfirmPollInterval must be positive"))
	}
	if c.ConfirmPollInterval > c.ConfirmTimeout {
		errs = append(errs, fmt.Errorf("ConfirmPollInterval (%v) cannot be greater than ConfirmTimeout (%v)",
			c.ConfirmPollInterval, c.ConfirmTimeout))
	}

	switch strings.ToLower(c.LogLevel) {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Errorf("invalid log level %q", c.LogLevel))
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration validation failed: %v", errors.Join(errs...))
	}
	return nil
}

// DefaultAmount returns the amount to assume when account data has none, or
// nil when such accounts should be skipped.
func (c *Config) DefaultAmount() (*uint64, error) {
	if c.MissingAmount == "" || strings.EqualFold(c.MissingAmount, MissingAmountSkip) {
		return nil, nil
	}
	n, err := strconv.ParseUint(c.MissingAmount, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("MissingAmount must be %q or a non-negative integer, got %q", MissingAmountSkip, c.MissingAmount)
	}
	return &n, nil
}

// RentDestinationKey returns the configured rent destination, or the zero key
// when reclaimed rent should go back to the wallet.
func (c *Config) RentDestinationKey() (solanago.PublicKey, error) {
	if c.RentDestination == "" {
		return solanago.PublicKey{}, nil
	}
	pk, err := solanago.PublicKeyFromBase58(c.RentDestination)
	if err != nil {
		return solanago.PublicKey{}, fmt.Errorf("invalid rent destination %q: %w", c.RentDestination, err)
	}
	return pk, nil
}

// TokenPrograms returns the token programs to scan.
func (c *Config) TokenPrograms() []solanago.PublicKey {
	if c.IncludeToken2022 {
		return []solanago.PublicKey{solana.TokenProgramID, solana.Token2022ProgramID}
	}
	return []solanago.PublicKey{solana.TokenProgramID}
}

// SplitList splits a comma-separated list, dropping blanks.
func SplitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// getEnvOrDefault returns the environment variable value or a default if not set.
func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// parseDuration parses a duration from an environment variable or uses a default.
func parseDuration(key string, defaultValue time.Duration) (time.Duration, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	duration, err := time.ParseDuration(value)
	if err != nil {
		return defaultValue, fmt.Errorf("%s: invalid duration %q: %w", key, value, err)
	}
	return duration, nil
}

func parseBool(key string, defaultValue bool) (bool, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	result, err := strconv.ParseBool(value)
	if err != nil {
		return defaultValue, fmt.Errorf("%s: invalid boolean %q: %w", key, value, err)
	}
	return result, nil
}
