// Package config assembles the service settings from defaults, an optional
// JSON file, environment variables and command-line flags, in increasing
// order of precedence.
package config

import (
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"net"
	"os"
	"time"

	env "github.com/caarlos0/env/v6"
	validator "github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"golang.org/x/crypto/bcrypt"
)

const minSigningKeyBytes = 32

// Config holds every setting of the service.
type Config struct {
	RunAddr           string        `env:"SERVER_ADDRESS" validate:"hostname_port"`
	ShortURLBase      string        `env:"BASE_URL" validate:"url"`
	LogLevel          string        `env:"LOG_LEVEL" validate:"loglevel"`
	LogFile           string        `env:"LOG_FILE"`
	SessionCookieName string        `env:"SESSION_COOKIE_NAME" validate:"required"`
	SessionSigningKey string        `env:"SESSION_SIGNING_KEY" validate:"signingkey"`
	SessionLifetime   time.Duration `env:"SESSION_LIFETIME" validate:"gt=0"`
	TrustedSubnet     string        `env:"TRUSTED_SUBNET" validate:"cidr_or_empty"`
	PasswordHashCost  int           `env:"PASSWORD_HASH_COST" validate:"min=4,max=31"`
	ShutdownTimeout   time.Duration `env:"SHUTDOWN_TIMEOUT" validate:"gt=0"`
	ConfigFile        string        `env:"CONFIG"`
}

// fileConfig mirrors Config in the JSON file, where durations are written as strings like "24h".
type fileConfig struct {
	RunAddr           string `json:"server_address"`
	ShortURLBase      string `json:"base_url"`
	LogLevel          string `json:"log_level"`
	LogFile           string `json:"log_file"`
	SessionCookieName string `json:"session_cookie_name"`
	SessionSigningKey string `json:"session_signing_key"`
	SessionLifetime   string `json:"session_lifetime"`
	TrustedSubnet     string `json:"trusted_subnet"`
	PasswordHashCost  int    `json:"password_hash_cost"`
	ShutdownTimeout   string `json:"shutdown_timeout"`
}

var defaultConfig = Config{
	RunAddr:           ":8080",
	ShortURLBase:      "http://localhost:8080",
	LogLevel:          "info",
	SessionCookieName: "session",
	SessionLifetime:   24 * time.Hour,
	TrustedSubnet:     "",
	PasswordHashCost:  bcrypt.DefaultCost,
	ShutdownTimeout:   10 * time.Second,
}

type InitOption func(*initOptions)

type initOptions struct {
	disableFlagsParsing bool
}

// WithDisableFlagsParsing makes New ignore the command line. Tests use it.
func WithDisableFlagsParsing(disableFlagsParsing bool) InitOption {
	return func(options *initOptions) {
		options.disableFlagsParsing = disableFlagsParsing
	}
}

// New builds and validates the configuration.
func New(optionsProto ...InitOption) (*Config, error) {
	options := &initOptions{
		disableFlagsParsing: false,
	}
	for _, protoOption := range optionsProto {
		protoOption(options)
	}

	err := godotenv.Load()
	if err != nil && !os.IsNotExist(err) {
		log.Printf("Unable to load .env file: %v", err)
	}

	values := Config{}
	if !options.disableFlagsParsing {
		values, err = parseFlags(os.Args)
		if err != nil {
			return nil, err
		}
	}

	var valuesFromEnv Config
	err = env.Parse(&valuesFromEnv)
	if err != nil {
		return nil, fmt.Errorf("in internal/config/config.go/New(): error while `env.Parse()` calling: %w", err)
	}
	applyDefaults(&values, valuesFromEnv)

	if values.ConfigFile != "" {
		valuesFromFile, err := loadFile(values.ConfigFile)
		if err != nil {
			return nil, err
		}
		applyDefaults(&values, valuesFromFile)
	}

	applyDefaults(&values, defaultConfig)

	if values.SessionSigningKey == "" {
		values.SessionSigningKey, err = generateSigningKey()
		if err != nil {
			return nil, err
		}
		log.Printf("SESSION_SIGNING_KEY is not set, sessions are signed with a random key and end with the process")
	}

	err = values.validate()
	if err != nil {
		return nil, err
	}

	return &values, nil
}

// SigningKey returns the decoded session signing key.
func (c *Config) SigningKey() ([]byte, error) {
	return base64.URLEncoding.DecodeString(c.SessionSigningKey)
}

func generateSigningKey() (string, error) {
	key := make([]byte, minSigningKeyBytes)
	if _, err := rand.Read(key); err != nil {
		return "", fmt.Errorf("in internal/config/config.go/generateSigningKey(): error while `rand.Read()` calling: %w", err)
	}

	return base64.URLEncoding.EncodeToString(key), nil
}

func parseFlags(args []string) (Config, error) {
	values := Config{}
	flags := flag.NewFlagSet(args[0], flag.ContinueOnError)
	flags.StringVar(&values.RunAddr, "a", "", "address and port to run server")
	flags.StringVar(&values.ShortURLBase, "b", "", "base address of the resulting shortened URL")
	flags.StringVar(&values.LogLevel, "l", "", "logger level")
	flags.StringVar(&values.TrustedSubnet, "t", "", "CIDR of the subnet allowed to read internal stats")
	flags.StringVar(&values.ConfigFile, "c", "", "path to a JSON configuration file")

	err := flags.Parse(args[1:])
	if err != nil {
		return Config{}, fmt.Errorf("in internal/config/config.go/parseFlags(): error while `flags.Parse()` calling: %w", err)
	}

	return values, nil
}

func loadFile(path string) (Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("in internal/config/config.go/loadFile(): error while `os.ReadFile()` calling: %w", err)
	}

	var fromFile fileConfig
	err = json.Unmarshal(raw, &fromFile)
	if err != nil {
		return Config{}, fmt.Errorf("in internal/config/config.go/loadFile(): error while `json.Unmarshal()` calling: %w", err)
	}

	values := Config{
		RunAddr:           fromFile.RunAddr,
		ShortURLBase:      fromFile.ShortURLBase,
		LogLevel:          fromFile.LogLevel,
		LogFile:           fromFile.LogFile,
		SessionCookieName: fromFile.SessionCookieName,
		SessionSigningKey: fromFile.SessionSigningKey,
		TrustedSubnet:     fromFile.TrustedSubnet,
		PasswordHashCost:  fromFile.PasswordHashCost,
	}
	if values.SessionLifetime, err = parseOptionalDuration(fromFile.SessionLifetime); err != nil {
		return Config{}, err
	}
	if values.ShutdownTimeout, err = parseOptionalDuration(fromFile.ShutdownTimeout); err != nil {
		return Config{}, err
	}

	return values, nil
}

func parseOptionalDuration(value string) (time.Duration, error) {
	if value == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("in internal/config/config.go/parseOptionalDuration(): error while `time.ParseDuration()` calling: %w", err)
	}

	return d, nil
}

// applyDefaults fills every zero field of values from defaults.
func applyDefaults(values *Config, defaults Config) {
	if values.RunAddr == "" {
		values.RunAddr = defaults.RunAddr
	}
	if values.ShortURLBase == "" {
		values.ShortURLBase = defaults.ShortURLBase
	}
	if values.LogLevel == "" {
		values.LogLevel = defaults.LogLevel
	}
	if values.LogFile == "" {
		values.LogFile = defaults.LogFile
	}
	if values.SessionCookieName == "" {
		values.SessionCookieName = defaults.SessionCookieName
	}
	if values.SessionSigningKey == "" {
		values.SessionSigningKey = defaults.SessionSigningKey
	}
	if values.SessionLifetime == 0 {
		values.SessionLifetime = defaults.SessionLifetime
	}
	if values.TrustedSubnet == "" {
		values.TrustedSubnet = defaults.TrustedSubnet
	}
	if values.PasswordHashCost == 0 {
		values.PasswordHashCost = defaults.PasswordHashCost
	}
	if values.ShutdownTimeout == 0 {
		values.ShutdownTimeout = defaults.ShutdownTimeout
	}
	if values.ConfigFile == "" {
		values.ConfigFile = defaults.ConfigFile
	}
}

func validateLogLevel(fieldLevel validator.FieldLevel) bool {
	allowedLogLevels := map[string]bool{
		"debug":  true,
		"info":   true,
		"warn":   true,
		"error":  true,
		"dpanic": true,
		"panic":  true,
		"fatal":  true,
	}

	return allowedLogLevels[fieldLevel.Field().String()]
}

func validateCIDROrEmpty(fieldLevel validator.FieldLevel) bool {
	value := fieldLevel.Field().String()
	if value == "" {
		return true
	}
	_, _, err := net.ParseCIDR(value)

	return err == nil
}

func validateSigningKey(fieldLevel validator.FieldLevel) bool {
	key, err := base64.URLEncoding.DecodeString(fieldLevel.Field().String())

	return err == nil && len(key) >= minSigningKeyBytes
}

func (c *Config) validate() error {
	validate := validator.New()

	err := validate.RegisterValidation("loglevel", validateLogLevel)
	if err != nil {
		return err
	}

	err = validate.RegisterValidation("cidr_or_empty", validateCIDROrEmpty)
	if err != nil {
		return err
	}

	err = validate.RegisterValidation("signingkey", validateSigningKey)
	if err != nil {
		return err
	}

	return validate.Struct(c)
}
