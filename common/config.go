package common

import "github.com/spf13/viper"

// ===============================================================================
// Upstream Transit Feed Related Config

// UpstreamConfig defines parameters for reaching the upstream transit feeds
type UpstreamConfig struct {
	// FeedURLs is the set of GTFS-Realtime trip update feeds to poll
	FeedURLs []string `mapstructure:"feed_urls" json:"feed_urls" validate:"required,min=1,dive,uri"`
	// RequestTimeout is the max duration of one feed fetch in seconds
	RequestTimeout int `mapstructure:"request_timeout_sec" json:"request_timeout_sec" validate:"gte=1"`
	// APIKeyHeader is the HTTP header carrying the feed API credential
	APIKeyHeader string `mapstructure:"api_key_header" json:"api_key_header" validate:"required"`
}

// ===============================================================================
// Refresh Related Config

// RefreshConfig defines the departure refresh cycle parameters
type RefreshConfig struct {
	// Interval is the duration between periodic full refreshes in seconds.
	// The interval applies uniformly to all connected clients.
	Interval int `mapstructure:"interval_sec" json:"interval_sec" validate:"gte=1"`
}

// ===============================================================================
// HTTP Related Config

// HTTPServerConfig defines the HTTP server parameters
type HTTPServerConfig struct {
	// ListenOn is the interface the HTTP server will listen on
	ListenOn string `mapstructure:"listen_on" json:"listen_on" validate:"required,ip"`
	// Port is the port the HTTP server will listen on
	Port uint16 `mapstructure:"listen_port" json:"listen_port" validate:"required,gt=0,lt=65536"`
	// ReadTimeout is the maximum duration for reading the entire
	// request, including the body in seconds. A zero or negative
	// value means there will be no timeout.
	ReadTimeout int `mapstructure:"read_timeout_sec" json:"read_timeout_sec" validate:"gte=0"`
	// WriteTimeout is the maximum duration before timing out
	// writes of the response in seconds. A zero or negative value
	// means there will be no timeout. It must be zero for the board
	// endpoint, which holds its connections open indefinitely.
	WriteTimeout int `mapstructure:"write_timeout_sec" json:"write_timeout_sec" validate:"gte=0"`
	// IdleTimeout is the maximum amount of time to wait for the
	// next request when keep-alives are enabled in seconds. If
	// IdleTimeout is zero, the value of ReadTimeout is used. If
	// both are zero, there is no timeout.
	IdleTimeout int `mapstructure:"idle_timeout_sec" json:"idle_timeout_sec" validate:"gte=0"`
}

// HTTPRequestLogging defines HTTP request logging parameters
type HTTPRequestLogging struct {
	// RequestIDHeader is the HTTP header containing the API request ID
	RequestIDHeader string `mapstructure:"request_id_header" json:"request_id_header"`
	// DoNotLogHeaders is the list of headers to not include in logging metadata
	DoNotLogHeaders []string `mapstructure:"do_not_log_headers" json:"do_not_log_headers"`
}

// HTTPConfig defines HTTP API / server parameters
type HTTPConfig struct {
	// Server defines HTTP server parameters
	Server HTTPServerConfig `mapstructure:"server_config" json:"server_config" validate:"required,dive"`
	// Logging defines operation logging parameters
	Logging HTTPRequestLogging `mapstructure:"logging_config" json:"logging_config" validate:"required,dive"`
}

// ===============================================================================
// Board Server Related Config

// BoardEndpointConfig defines board API endpoint config
type BoardEndpointConfig struct {
	// PathPrefix is the end-point path prefix for the board APIs
	PathPrefix string `mapstructure:"path_prefix" json:"path_prefix" validate:"required"`
}

// BoardServerConfig defines configuration for the departure board API server
type BoardServerConfig struct {
	// HTTPSetting is the HTTP API / server parameters for the board API server
	HTTPSetting HTTPConfig `mapstructure:"api_server" json:"api_server" validate:"required,dive"`
	// Endpoints is the API endpoint config parameters for the board API server
	Endpoints BoardEndpointConfig `mapstructure:"endpoint_config" json:"endpoint_config" validate:"required,dive"`
}

// ===============================================================================
// Complete Config

// SystemConfig defines the complete system config for the push server
type SystemConfig struct {
	// Upstream are the transit feed related config parameters
	Upstream UpstreamConfig `mapstructure:"upstream" json:"upstream" validate:"required,dive"`
	// Refresh are the refresh cycle config parameters
	Refresh RefreshConfig `mapstructure:"refresh" json:"refresh" validate:"required,dive"`
	// Board are the board API server configs
	Board BoardServerConfig `mapstructure:"board" json:"board" validate:"required,dive"`
}

// ===============================================================================

// InstallDefaultConfigValues installs default config parameters in viper
func InstallDefaultConfigValues() {
	// Default upstream settings
	viper.SetDefault("upstream.request_timeout_sec", 10)
	viper.SetDefault("upstream.api_key_header", "x-api-key")

	// Default refresh settings
	viper.SetDefault("refresh.interval_sec", 30)

	// Default board server settings
	viper.SetDefault("board.endpoint_config.path_prefix", "/")
	viper.SetDefault("board.api_server.server_config.listen_on", "0.0.0.0")
	viper.SetDefault("board.api_server.server_config.listen_port", 3000)
	viper.SetDefault("board.api_server.server_config.read_timeout_sec", 60)
	viper.SetDefault("board.api_server.server_config.write_timeout_sec", 0)
	viper.SetDefault("board.api_server.server_config.idle_timeout_sec", 600)
	viper.SetDefault(
		"board.api_server.logging_config.request_id_header", "Depboard-Request-ID",
	)
	viper.SetDefault(
		"board.api_server.logging_config.do_not_log_headers", []string{
			"WWW-Authenticate", "Authorization", "Proxy-Authenticate", "Proxy-Authorization",
		},
	)
}
