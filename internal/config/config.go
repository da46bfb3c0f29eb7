package config

import (
	"bytes"
	_ "embed"
	"fmt"
	"net"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/Shugur-Network/publisher/internal/errors"
	"github.com/Shugur-Network/publisher/internal/logger"
	validator "github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

//go:embed defaults.yaml
var defaultYAML []byte

// Version is set at runtime from build information
var Version = "dev"

var validate = validator.New()

var hostnamePattern = regexp.MustCompile(`^[a-zA-Z0-9]([a-zA-Z0-9\-]{0,61}[a-zA-Z0-9])?(\.[a-zA-Z0-9]([a-zA-Z0-9\-]{0,61}[a-zA-Z0-9])?)*$`)

// Config holds every sub‑config.
type Config struct {
	Logging   LoggingConfig   `mapstructure:"logging"   validate:"required"`
	Metrics   MetricsConfig   `mapstructure:"metrics"   validate:"required"`
	Relays    RelaysConfig    `mapstructure:"relays"    validate:"required"`
	Transport TransportConfig `mapstructure:"transport" validate:"required"`
	Identity  IdentityConfig  `mapstructure:"identity"  validate:"required"`
}

func init() {
	registerCustomValidators()
	validate.RegisterStructValidation(performCrossFieldValidation, Config{})
}

// registerCustomValidators registers custom validation functions
func registerCustomValidators() {
	// Relay endpoints are websocket URLs with a host.
	if err := validate.RegisterValidation("relayurl", func(fl validator.FieldLevel) bool {
		return isRelayURL(fl.Field().String())
	}); err != nil {
		logger.Error("Failed to register relayurl validator", zap.Error(err))
	}

	// ":port" or "host:port"
	if err := validate.RegisterValidation("listen_addr", func(fl validator.FieldLevel) bool {
		return isListenAddr(fl.Field().String())
	}); err != nil {
		logger.Error("Failed to register listen_addr validator", zap.Error(err))
	}

	// Validate duration is reasonable (not too short or too long)
	if err := validate.RegisterValidation("reasonable_duration", func(fl validator.FieldLevel) bool {
		duration := fl.Field().Interface().(time.Duration)
		return duration >= time.Second && duration <= 24*time.Hour
	}); err != nil {
		logger.Error("Failed to register reasonable_duration validator", zap.Error(err))
	}

	// Validate timeout duration (shorter range)
	if err := validate.RegisterValidation("timeout_duration", func(fl validator.FieldLevel) bool {
		duration := fl.Field().Interface().(time.Duration)
		return duration >= 100*time.Millisecond && duration <= time.Hour
	}); err != nil {
		logger.Error("Failed to register timeout_duration validator", zap.Error(err))
	}

	if err := validate.RegisterValidation("log_level", func(fl validator.FieldLevel) bool {
		switch fl.Field().String() {
		case "debug", "info", "warn", "error", "fatal":
			return true
		}
		return false
	}); err != nil {
		logger.Error("Failed to register log_level validator", zap.Error(err))
	}

	if err := validate.RegisterValidation("log_format", func(fl validator.FieldLevel) bool {
		format := fl.Field().String()
		return format == "console" || format == "json"
	}); err != nil {
		logger.Error("Failed to register log_format validator", zap.Error(err))
	}
}

func isRelayURL(raw string) bool {
	u, err := url.Parse(raw)
	if err != nil {
		return false
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return false
	}
	return u.Hostname() != ""
}

func isListenAddr(addr string) bool {
	host, port, err := net.SplitHostPort(addr)
	if err != nil || port == "" {
		return false
	}
	if _, err := net.LookupPort("tcp", port); err != nil {
		return false
	}
	if host == "" || net.ParseIP(host) != nil {
		return true
	}
	return hostnamePattern.MatchString(host)
}

// performCrossFieldValidation performs validation across multiple fields
func performCrossFieldValidation(sl validator.StructLevel) {
	cfg := sl.Current().Interface().(Config)

	if cfg.Metrics.Enabled && cfg.Metrics.ListenAddr == "" {
		sl.ReportError(cfg.Metrics.ListenAddr, "ListenAddr", "ListenAddr", "required_when_enabled", "")
	}

	// A frame write must fit inside the send budget the manager grants it.
	if cfg.Transport.WriteTimeout > cfg.Relays.SendTimeout {
		sl.ReportError(cfg.Transport.WriteTimeout, "WriteTimeout", "WriteTimeout", "write_timeout_exceeds_send", "")
	}

	if cfg.Transport.RateLimit > 0 && cfg.Transport.Burst < 1 {
		sl.ReportError(cfg.Transport.Burst, "Burst", "Burst", "burst_required", "")
	}
}

/* ------------------------------------------------------------------ *
|  Public API                                                         |
* -------------------------------------------------------------------*/

// SetVersion sets the version from build information
func SetVersion(v string) {
	Version = v
}

// Load merges defaults → file (optional) → env vars, validates, and returns cfg.
func Load(path string, log *zap.Logger) (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")
	v.SetEnvPrefix("PUBLISHER") // PUBLISHER_RELAYS_FAN_OUT_LIMIT
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// 1. defaults.yaml (embedded)
	if err := v.ReadConfig(bytes.NewReader(defaultYAML)); err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConfig, "CONFIG_DEFAULTS", "read defaults")
	}

	// 2. optional user file
	if path != "" {
		v.SetConfigFile(path)
		if err := v.MergeInConfig(); err != nil {
			return nil, errors.Wrap(err, errors.ErrorTypeConfig, "CONFIG_FILE", "read config file").
				WithDetails(path)
		}
	} else {
		v.SetConfigName("config")
		v.AddConfigPath(".")
		if err := v.MergeInConfig(); err != nil {
			if log != nil {
				log.Info("No config.yaml found, using defaults")
			}
		} else if log != nil {
			log.Info("Loaded config.yaml from current directory")
		}
	}

	// 3. env already merged by AutomaticEnv()

	var cfg Config
	if err := v.UnmarshalExact(&cfg); err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConfig, "CONFIG_UNMARSHAL", "unmarshal config")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	if log != nil {
		log.Info("configuration loaded", zap.String("version", Version))
	}
	if err := InitLogger(cfg.Logging); err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConfig, "LOGGER_INIT", "initialize logger")
	}
	return &cfg, nil
}

// Validate checks cfg against its tags and cross-field rules. Callers that
// override fields after Load run it again.
func (c *Config) Validate() error {
	if err := validate.Struct(*c); err != nil {
		return formatValidationError(err)
	}
	return nil
}

// InitLogger initializes the logger using the LoggingConfig
func InitLogger(loggingConfig LoggingConfig) error {
	return logger.Init(
		logger.WithLevel(loggingConfig.Level),
		logger.WithFormat(loggingConfig.Format),
		logger.WithFile(loggingConfig.FilePath),
		logger.WithVersion(Version),
		logger.WithComponent("publisher"),
		logger.WithRotation(loggingConfig.MaxSize, loggingConfig.MaxBackups, loggingConfig.MaxAge),
	)
}

// formatValidationError converts validator errors into user-friendly messages
func formatValidationError(err error) error {
	if validationErrors, ok := err.(validator.ValidationErrors); ok {
		messages := make([]string, 0, len(validationErrors))
		for _, fieldError := range validationErrors {
			messages = append(messages, getFieldErrorMessage(fieldError))
		}
		return errors.New(errors.ErrorTypeConfig, "CONFIG_INVALID",
			fmt.Sprintf("configuration validation failed:\n  - %s", strings.Join(messages, "\n  - ")))
	}
	return errors.Wrap(err, errors.ErrorTypeConfig, "CONFIG_INVALID", "configuration validation failed")
}

// getFieldErrorMessage returns a user-friendly error message for a field validation error
func getFieldErrorMessage(fe validator.FieldError) string {
	field := fe.Namespace()
	value := fe.Value()
	param := fe.Param()

	switch fe.Tag() {
	case "required":
		return fmt.Sprintf("%s is required but not provided", field)
	case "min":
		return fmt.Sprintf("%s must be at least %s (got: %v)", field, param, value)
	case "max":
		return fmt.Sprintf("%s must be at most %s (got: %v)", field, param, value)
	case "relayurl":
		return fmt.Sprintf("%s must be a ws:// or wss:// URL with a host (got: %v)", field, value)
	case "listen_addr":
		return fmt.Sprintf("%s must be an address in format ':port' or 'host:port' (got: %v)", field, value)
	case "reasonable_duration":
		return fmt.Sprintf("%s must be between 1 second and 24 hours (got: %v)", field, value)
	case "timeout_duration":
		return fmt.Sprintf("%s must be between 100ms and 1 hour (got: %v)", field, value)
	case "log_level":
		return fmt.Sprintf("%s must be one of: debug, info, warn, error, fatal (got: %v)", field, value)
	case "log_format":
		return fmt.Sprintf("%s must be either 'console' or 'json' (got: %v)", field, value)
	case "required_when_enabled":
		return fmt.Sprintf("%s is required when metrics are enabled", field)
	case "write_timeout_exceeds_send":
		return fmt.Sprintf("%s must not exceed the relay send timeout (got: %v)", field, value)
	case "burst_required":
		return fmt.Sprintf("%s must be at least 1 when a rate limit is set", field)
	default:
		return fmt.Sprintf("%s validation failed: %s (got: %v)", field, fe.Tag(), value)
	}
}
