package config

// MetricsConfig holds metrics configuration settings. ListenAddr also serves
// the health and publish endpoints.
type MetricsConfig struct {
	Enabled    bool   `mapstructure:"ENABLED"     json:"enabled"`
	ListenAddr string `mapstructure:"LISTEN_ADDR" json:"listen_addr" validate:"omitempty,listen_addr"`
}
