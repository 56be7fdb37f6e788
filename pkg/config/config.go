package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v2"
)

type IceServer struct {
	URLs       []string `yaml:"urls"`
	Username   string   `yaml:"username,omitempty"`
	Credential string   `yaml:"credential,omitempty"`
}

type Config struct {
	// Control is the HTTP surface the UI drives the call core through.
	Control struct {
		Address         string        `yaml:"address"`
		ReadTimeout     time.Duration `yaml:"read_timeout"`
		WriteTimeout    time.Duration `yaml:"write_timeout"`
		ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
		// RequireAuth demands a bearer token signed with auth.jwt_secret.
		RequireAuth bool `yaml:"require_auth"`
	} `yaml:"control"`

	// Device identifies this endpoint on the messaging service.
	Device struct {
		Recipient       string `yaml:"recipient"`
		DeviceID        uint32 `yaml:"device_id"`
		IdentityKeyPath string `yaml:"identity_key_path"`
	} `yaml:"device"`

	// Signal configures the client side of the signalling relay.
	Signal struct {
		URL            string        `yaml:"url"`
		PingInterval   time.Duration `yaml:"ping_interval"`
		PongTimeout    time.Duration `yaml:"pong_timeout"`
		ReconnectDelay time.Duration `yaml:"reconnect_delay"`
	} `yaml:"signal"`

	Relay struct {
		Address         string        `yaml:"address"`
		PingInterval    time.Duration `yaml:"ping_interval"`
		PongTimeout     time.Duration `yaml:"pong_timeout"`
		ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	} `yaml:"relay"`

	WebRTC struct {
		ICEServers []IceServer `yaml:"ice_servers"`
		PortRange  struct {
			Min uint16 `yaml:"min"`
			Max uint16 `yaml:"max"`
		} `yaml:"port_range"`
		RingTimeout       time.Duration `yaml:"ring_timeout"`
		MaxOfferAge       time.Duration `yaml:"max_offer_age"`
		IceBatchInterval  time.Duration `yaml:"ice_batch_interval"`
		IceBatchSize      int           `yaml:"ice_batch_size"`
		DisconnectTimeout time.Duration `yaml:"disconnect_timeout"`
	} `yaml:"webrtc"`

	Turn struct {
		Enabled        bool          `yaml:"enabled"`
		URL            string        `yaml:"url"`
		Timeout        time.Duration `yaml:"timeout"`
		CacheTTL       time.Duration `yaml:"cache_ttl"`
		MaxAttempts    int           `yaml:"max_attempts"`
		FailureRatio   float64       `yaml:"failure_ratio"`
		BreakerTimeout time.Duration `yaml:"breaker_timeout"`
		Token          string        `yaml:"token"`
		Static         IceServer     `yaml:"static"`
	} `yaml:"turn"`

	// Media configures the headless capture devices.
	Media struct {
		// CameraRTPAddress is the UDP address local camera RTP is read from.
		// Empty means the device has no camera.
		CameraRTPAddress string `yaml:"camera_rtp_address"`
		CameraCount      int    `yaml:"camera_count"`
	} `yaml:"media"`

	Contacts struct {
		System        []string `yaml:"system"`
		Blocked       []string `yaml:"blocked"`
		AcceptUnknown bool     `yaml:"accept_unknown"`
	} `yaml:"contacts"`

	// Backup snapshots the call log when the memory repository is used.
	Backup struct {
		Enabled   bool          `yaml:"enabled"`
		Storage   string        `yaml:"storage"` // file or s3
		Directory string        `yaml:"directory"`
		Interval  time.Duration `yaml:"interval"`
		Keep      int           `yaml:"keep"`

		S3 struct {
			Bucket   string `yaml:"bucket"`
			Prefix   string `yaml:"prefix"`
			Region   string `yaml:"region"`
			Endpoint string `yaml:"endpoint"`
		} `yaml:"s3"`
	} `yaml:"backup"`

	Calls struct {
		AlwaysTurn     bool          `yaml:"always_turn"`
		SendTimeout    time.Duration `yaml:"send_timeout"`
		CallLogTimeout time.Duration `yaml:"call_log_timeout"`
		CallLogLimit   int           `yaml:"call_log_limit"`
	} `yaml:"calls"`

	Monitoring struct {
		PrometheusEnabled bool `yaml:"prometheus_enabled"`
	} `yaml:"monitoring"`

	Tracing struct {
		Enabled        bool    `yaml:"enabled"`
		JaegerEndpoint string  `yaml:"jaeger_endpoint"`
		SampleRate     float64 `yaml:"sample_rate"`
	} `yaml:"tracing"`

	Logging struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
	} `yaml:"logging"`

	Redis struct {
		Enabled  bool   `yaml:"enabled"`
		Address  string `yaml:"address"`
		Password string `yaml:"password"`
		DB       int    `yaml:"db"`
		PoolSize int    `yaml:"pool_size"`
		// Channel is the pub/sub channel posted view models are published on.
		Channel string `yaml:"channel"`
	} `yaml:"redis"`

	Auth struct {
		JWTSecret      string        `yaml:"jwt_secret"`
		TokenTTL       time.Duration `yaml:"token_ttl"`
		AllowedOrigins []string      `yaml:"allowed_origins"`
	} `yaml:"auth"`

	RateLimiting struct {
		Enabled bool `yaml:"enabled"`

		HTTP struct {
			RequestsPerSecond float64 `yaml:"requests_per_second"`
			Burst             int     `yaml:"burst"`
		} `yaml:"http"`

		WebSocket struct {
			MessagesPerSecond   float64 `yaml:"messages_per_second"`
			Burst               int     `yaml:"burst"`
			MaxMessageSizeBytes int64   `yaml:"max_message_size_bytes"`
		} `yaml:"websocket"`
	} `yaml:"rate_limiting"`
}

// Validate checks that configuration values are within acceptable ranges.
func (c *Config) Validate() error {
	if c.Control.Address == "" {
		return fmt.Errorf("control.address must not be empty")
	}
	if c.Control.ReadTimeout <= 0 || c.Control.WriteTimeout <= 0 {
		return fmt.Errorf("control read and write timeouts must be > 0")
	}
	if c.Control.ShutdownTimeout <= 0 {
		return fmt.Errorf("control.shutdown_timeout must be > 0")
	}

	if c.Device.Recipient == "" {
		return fmt.Errorf("device.recipient must not be empty")
	}
	if c.Device.DeviceID == 0 {
		return fmt.Errorf("device.device_id must be > 0")
	}

	if c.Signal.PingInterval <= 0 {
		return fmt.Errorf("signal.ping_interval must be > 0")
	}
	if c.Signal.PongTimeout <= c.Signal.PingInterval {
		return fmt.Errorf("signal.pong_timeout must be greater than signal.ping_interval")
	}

	if c.Relay.Address == "" {
		return fmt.Errorf("relay.address must not be empty")
	}
	if c.Relay.PingInterval <= 0 || c.Relay.PongTimeout <= 0 {
		return fmt.Errorf("relay ping and pong intervals must be > 0")
	}

	if c.WebRTC.PortRange.Min > 0 || c.WebRTC.PortRange.Max > 0 {
		if c.WebRTC.PortRange.Min == 0 || c.WebRTC.PortRange.Max == 0 {
			return fmt.Errorf("webrtc.port_range.min and max must both be set when one is set")
		}
		if c.WebRTC.PortRange.Min >= c.WebRTC.PortRange.Max {
			return fmt.Errorf("webrtc.port_range.min must be < max")
		}
	}
	if c.WebRTC.RingTimeout <= 0 {
		return fmt.Errorf("webrtc.ring_timeout must be > 0")
	}
	if c.WebRTC.MaxOfferAge <= 0 {
		return fmt.Errorf("webrtc.max_offer_age must be > 0")
	}
	if c.WebRTC.IceBatchSize <= 0 || c.WebRTC.IceBatchInterval <= 0 {
		return fmt.Errorf("webrtc ice batching must have a positive size and interval")
	}

	if c.Turn.Enabled {
		if c.Turn.URL == "" {
			return fmt.Errorf("turn.url must not be empty when turn.enabled=true")
		}
		if c.Turn.MaxAttempts <= 0 {
			return fmt.Errorf("turn.max_attempts must be > 0")
		}
		if c.Turn.FailureRatio <= 0 || c.Turn.FailureRatio > 1 {
			return fmt.Errorf("turn.failure_ratio must be in (0, 1]")
		}
	}

	if c.Media.CameraCount < 0 || c.Media.CameraCount > 2 {
		return fmt.Errorf("media.camera_count must be between 0 and 2")
	}

	if c.Backup.Enabled {
		switch c.Backup.Storage {
		case "file":
			if c.Backup.Directory == "" {
				return fmt.Errorf("backup.directory must not be empty when backup.enabled=true")
			}
		case "s3":
			if c.Backup.S3.Bucket == "" {
				return fmt.Errorf("backup.s3.bucket must not be empty for s3 storage")
			}
		default:
			return fmt.Errorf("unknown backup.storage %q", c.Backup.Storage)
		}
		if c.Backup.Interval <= 0 || c.Backup.Keep <= 0 {
			return fmt.Errorf("backup needs a positive interval and keep count")
		}
	}

	if c.Calls.SendTimeout <= 0 {
		return fmt.Errorf("calls.send_timeout must be > 0")
	}
	if c.Calls.CallLogLimit <= 0 {
		return fmt.Errorf("calls.call_log_limit must be > 0")
	}

	if c.Tracing.Enabled && (c.Tracing.SampleRate < 0 || c.Tracing.SampleRate > 1) {
		return fmt.Errorf("tracing.sample_rate must be in [0, 1]")
	}

	if c.Logging.Level == "" {
		return fmt.Errorf("logging.level must not be empty")
	}

	if c.Redis.Enabled {
		if c.Redis.Address == "" {
			return fmt.Errorf("redis.address must not be empty when redis.enabled=true")
		}
		if c.Redis.PoolSize <= 0 {
			return fmt.Errorf("redis.pool_size must be > 0 when redis.enabled=true")
		}
	}

	if c.Auth.JWTSecret == "" {
		return fmt.Errorf("auth.jwt_secret must not be empty")
	}
	if c.Auth.TokenTTL <= 0 {
		return fmt.Errorf("auth.token_ttl must be > 0")
	}

	if c.RateLimiting.Enabled {
		if c.RateLimiting.HTTP.RequestsPerSecond <= 0 || c.RateLimiting.HTTP.Burst <= 0 {
			return fmt.Errorf("rate_limiting.http needs a positive rate and burst when rate limiting is enabled")
		}
		if c.RateLimiting.WebSocket.MessagesPerSecond <= 0 || c.RateLimiting.WebSocket.Burst <= 0 {
			return fmt.Errorf("rate_limiting.websocket needs a positive rate and burst when rate limiting is enabled")
		}
		if c.RateLimiting.WebSocket.MaxMessageSizeBytes < 0 {
			return fmt.Errorf("rate_limiting.websocket.max_message_size_bytes must be >= 0")
		}
	}

	return nil
}

// Load reads configuration from YAML file, applies defaults and env overrides.
func Load(configPath string) (*Config, error) {
	cfg := DefaultConfig()

	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		cfg.applyEnvOverrides()
		return cfg, nil
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", configPath, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config yaml: %w", err)
	}

	cfg.applyEnvOverrides()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// LoadFirst tries each path in order and falls back to defaults.
func LoadFirst(paths ...string) (*Config, string, error) {
	var lastErr error
	for _, path := range paths {
		if _, err := os.Stat(path); err != nil {
			continue
		}
		cfg, err := Load(path)
		if err == nil {
			return cfg, path, nil
		}
		lastErr = err
	}
	if lastErr != nil {
		return nil, "", lastErr
	}
	cfg := DefaultConfig()
	cfg.applyEnvOverrides()
	return cfg, "", nil
}

// DefaultConfig returns configuration with sane defaults.
func DefaultConfig() *Config {
	cfg := &Config{}

	cfg.Control.Address = ":8080"
	cfg.Control.RequireAuth = true
	cfg.Control.ReadTimeout = 30 * time.Second
	cfg.Control.WriteTimeout = 30 * time.Second
	cfg.Control.ShutdownTimeout = 15 * time.Second

	cfg.Device.Recipient = "local"
	cfg.Device.DeviceID = 1

	cfg.Signal.URL = "ws://localhost:8081/v1/signal"
	cfg.Signal.PingInterval = 20 * time.Second
	cfg.Signal.PongTimeout = 60 * time.Second
	cfg.Signal.ReconnectDelay = 2 * time.Second

	cfg.Relay.Address = ":8081"
	cfg.Relay.PingInterval = 30 * time.Second
	cfg.Relay.PongTimeout = 60 * time.Second
	cfg.Relay.ShutdownTimeout = 15 * time.Second

	cfg.WebRTC.ICEServers = []IceServer{{URLs: []string{"stun:stun.l.google.com:19302"}}}
	cfg.WebRTC.RingTimeout = 60 * time.Second
	cfg.WebRTC.MaxOfferAge = 120 * time.Second
	cfg.WebRTC.IceBatchInterval = 100 * time.Millisecond
	cfg.WebRTC.IceBatchSize = 10
	cfg.WebRTC.DisconnectTimeout = 10 * time.Second

	cfg.Turn.Enabled = false
	cfg.Turn.Timeout = 10 * time.Second
	cfg.Turn.CacheTTL = 12 * time.Hour
	cfg.Turn.MaxAttempts = 3
	cfg.Turn.FailureRatio = 0.6
	cfg.Turn.BreakerTimeout = 30 * time.Second

	cfg.Media.CameraCount = 2

	cfg.Contacts.AcceptUnknown = true

	cfg.Backup.Enabled = false
	cfg.Backup.Storage = "file"
	cfg.Backup.Directory = "data/backups"
	cfg.Backup.Interval = 5 * time.Minute
	cfg.Backup.Keep = 3

	cfg.Calls.AlwaysTurn = false
	cfg.Calls.SendTimeout = 10 * time.Second
	cfg.Calls.CallLogTimeout = 5 * time.Second
	cfg.Calls.CallLogLimit = 100

	cfg.Monitoring.PrometheusEnabled = true

	cfg.Tracing.Enabled = false
	cfg.Tracing.JaegerEndpoint = "http://localhost:14268/api/traces"
	cfg.Tracing.SampleRate = 1.0

	cfg.Logging.Level = "info"
	cfg.Logging.Format = "json"

	cfg.Redis.Enabled = false
	cfg.Redis.Address = "localhost:6379"
	cfg.Redis.PoolSize = 10
	cfg.Redis.Channel = "callcore:state"

	cfg.Auth.JWTSecret = "change-me-in-production"
	cfg.Auth.TokenTTL = 24 * time.Hour
	cfg.Auth.AllowedOrigins = []string{"*"}

	cfg.RateLimiting.Enabled = false
	cfg.RateLimiting.HTTP.RequestsPerSecond = 50
	cfg.RateLimiting.HTTP.Burst = 100
	cfg.RateLimiting.WebSocket.MessagesPerSecond = 50
	cfg.RateLimiting.WebSocket.Burst = 100
	cfg.RateLimiting.WebSocket.MaxMessageSizeBytes = 256 * 1024

	return cfg
}

func (c *Config) applyEnvOverrides() {
	if addr := os.Getenv("CALLCORE_CONTROL_ADDRESS"); addr != "" {
		c.Control.Address = addr
	}
	if addr := os.Getenv("CALLCORE_RELAY_ADDRESS"); addr != "" {
		c.Relay.Address = addr
	}
	if url := os.Getenv("CALLCORE_SIGNAL_URL"); url != "" {
		c.Signal.URL = url
	}
	if recipient := os.Getenv("CALLCORE_RECIPIENT"); recipient != "" {
		c.Device.Recipient = recipient
	}
	if device := os.Getenv("CALLCORE_DEVICE_ID"); device != "" {
		if id, err := strconv.ParseUint(device, 10, 32); err == nil {
			c.Device.DeviceID = uint32(id)
		}
	}
	if url := os.Getenv("CALLCORE_TURN_URL"); url != "" {
		c.Turn.URL = url
		c.Turn.Enabled = true
	}
	if token := os.Getenv("CALLCORE_TURN_TOKEN"); token != "" {
		c.Turn.Token = token
	}
	if level := os.Getenv("CALLCORE_LOG_LEVEL"); level != "" {
		c.Logging.Level = level
	}
	if secret := os.Getenv("CALLCORE_JWT_SECRET"); secret != "" {
		c.Auth.JWTSecret = secret
	}
	if bucket := os.Getenv("CALLCORE_BACKUP_S3_BUCKET"); bucket != "" {
		c.Backup.Storage = "s3"
		c.Backup.S3.Bucket = bucket
	}
	if addr := os.Getenv("CALLCORE_REDIS_ADDRESS"); addr != "" {
		c.Redis.Address = addr
		c.Redis.Enabled = true
	}
}
