package config

import "time"

// RelaysConfig holds the relay set and fan-out settings. ReconnectInterval
// is how often the daemon reopens missing default relays; 0 disables it.
type RelaysConfig struct {
	Defaults          []string      `mapstructure:"DEFAULTS"           json:"defaults"           validate:"required,min=1,dive,relayurl"`
	FanOutLimit       int           `mapstructure:"FAN_OUT_LIMIT"      json:"fan_out_limit"      validate:"required,min=1,max=1024"`
	HandshakeTimeout  time.Duration `mapstructure:"HANDSHAKE_TIMEOUT"  json:"handshake_timeout"  validate:"required,timeout_duration"`
	SendTimeout       time.Duration `mapstructure:"SEND_TIMEOUT"       json:"send_timeout"       validate:"required,timeout_duration"`
	CloseTimeout      time.Duration `mapstructure:"CLOSE_TIMEOUT"      json:"close_timeout"      validate:"required,timeout_duration"`
	ReconnectInterval time.Duration `mapstructure:"RECONNECT_INTERVAL" json:"reconnect_interval" validate:"omitempty,reasonable_duration"`
}

// TransportConfig holds websocket client settings.
type TransportConfig struct {
	UserAgent    string        `mapstructure:"USER_AGENT"    json:"user_agent"    validate:"required,max=200"`
	WriteTimeout time.Duration `mapstructure:"WRITE_TIMEOUT" json:"write_timeout" validate:"required,timeout_duration"`
	PingInterval time.Duration `mapstructure:"PING_INTERVAL" json:"ping_interval" validate:"required,reasonable_duration"`
	ReadLimit    int64         `mapstructure:"READ_LIMIT"    json:"read_limit"    validate:"min=0,max=16777216"`
	RateLimit    float64       `mapstructure:"RATE_LIMIT"    json:"rate_limit"    validate:"min=0,max=10000"`
	Burst        int           `mapstructure:"BURST"         json:"burst"         validate:"min=0,max=1000"`
	Compression  bool          `mapstructure:"COMPRESSION"   json:"compression"`
}

// IdentityConfig locates the signing key.
type IdentityConfig struct {
	KeyFile string `mapstructure:"KEY_FILE" json:"key_file" validate:"required"`
}
