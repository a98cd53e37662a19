// Package config loads voicebridge's configuration: SIP listener settings,
// RTP port range, the SIP user directory, outbound trunks, and the AI
// bridge connection, all from a single YAML file.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	defaultSIPPort       = 5060
	defaultRealm         = "voicebridge"
	defaultRTPPortMin    = 10000
	defaultRTPPortMax    = 20000
	defaultJitterFrames  = 3
	defaultMaxConcurrent = 500
	defaultAdminAddr     = ":8080"
)

// Config is voicebridge's fully resolved runtime configuration.
type Config struct {
	SIP   SIPConfig
	Media MediaConfig
	Bridge BridgeConfig
	Admin AdminConfig
	Users []UserConfig
	Trunks []TrunkConfig
}

// SIPConfig configures the SIP listener and registrar.
type SIPConfig struct {
	BindAddr      string
	Port          int
	AdvertiseAddr string
	Realm         string
	GlobalMaxConcurrent int64
}

// MediaConfig configures the RTP port pool and jitter buffer depth.
type MediaConfig struct {
	RTPPortMin        int
	RTPPortMax        int
	JitterDepthFrames int
}

// BridgeConfig configures the AI WebSocket backend connection.
type BridgeConfig struct {
	URL              string
	Secret           string
	Token            string
	HandshakeTimeout time.Duration
	SendQueueSize    int
}

// AdminConfig configures the REST admin surface.
type AdminConfig struct {
	BindAddr string
}

// UserConfig is a statically provisioned SIP registrar/auth principal.
// HA1 is MD5(username:realm:password). Load keeps Password as given; when
// HA1 is empty, app.NewServer hashes Password into HA1 with the SIP realm.
type UserConfig struct {
	Username           string
	Password           string
	HA1                string
	AOR                string
	MaxConcurrentCalls int
}

// TrunkConfig is a statically provisioned outbound/inbound egress peer.
type TrunkConfig struct {
	ID                 string
	ProxyAddress       string
	ProxyPort          int
	Transport          string
	Username           string
	Password           string
	Realm              string
	SupportsInbound    bool
	SupportsOutbound   bool
	MaxConcurrentCalls int
	CallsPerSecond     float64
	PreferredCodecs    []string
}

type yamlConfig struct {
	SIP struct {
		BindAddr      string `yaml:"bind_addr"`
		Port          int    `yaml:"port"`
		AdvertiseAddr string `yaml:"advertise_addr"`
		Realm         string `yaml:"realm"`
		MaxConcurrentCalls int64 `yaml:"max_concurrent_calls"`
	} `yaml:"sip"`
	Media struct {
		RTPPortMin        int `yaml:"rtp_port_min"`
		RTPPortMax        int `yaml:"rtp_port_max"`
		JitterDepthFrames int `yaml:"jitter_depth_frames"`
	} `yaml:"media"`
	Bridge struct {
		URL              string `yaml:"url"`
		Secret           string `yaml:"secret"`
		Token            string `yaml:"token"`
		HandshakeTimeout string `yaml:"handshake_timeout"`
		SendQueueSize    int    `yaml:"send_queue_size"`
	} `yaml:"bridge"`
	Admin struct {
		BindAddr string `yaml:"bind_addr"`
	} `yaml:"admin"`
	Users []struct {
		Username           string `yaml:"username"`
		Password           string `yaml:"password"`
		HA1                string `yaml:"ha1"`
		AOR                string `yaml:"aor"`
		MaxConcurrentCalls int    `yaml:"max_concurrent_calls"`
	} `yaml:"users"`
	Trunks []struct {
		ID                 string   `yaml:"id"`
		ProxyAddress       string   `yaml:"proxy_address"`
		ProxyPort          int      `yaml:"proxy_port"`
		Transport          string   `yaml:"transport"`
		Username           string   `yaml:"username"`
		Password           string   `yaml:"password"`
		Realm              string   `yaml:"realm"`
		SupportsInbound    bool     `yaml:"supports_inbound"`
		SupportsOutbound   bool     `yaml:"supports_outbound"`
		MaxConcurrentCalls int      `yaml:"max_concurrent_calls"`
		CallsPerSecond     float64  `yaml:"calls_per_second"`
		PreferredCodecs    []string `yaml:"preferred_codecs"`
	} `yaml:"trunks"`
}

// Load reads and validates a YAML config file from path, applying defaults
// for anything left unset. Environment variables override a handful of
// deployment-specific fields that are awkward to template in a config file
// checked into source control.
func Load(path string) (Config, error) {
	cfg := Config{
		SIP: SIPConfig{
			Port:                defaultSIPPort,
			BindAddr:            "0.0.0.0",
			Realm:               defaultRealm,
			GlobalMaxConcurrent: defaultMaxConcurrent,
		},
		Media: MediaConfig{
			RTPPortMin:        defaultRTPPortMin,
			RTPPortMax:        defaultRTPPortMax,
			JitterDepthFrames: defaultJitterFrames,
		},
		Bridge: BridgeConfig{
			HandshakeTimeout: 5 * time.Second,
			SendQueueSize:    64,
		},
		Admin: AdminConfig{BindAddr: defaultAdminAddr},
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("config: read %s: %w", path, err)
	}

	var yc yamlConfig
	if err := yaml.Unmarshal(data, &yc); err != nil {
		return Config{}, fmt.Errorf("config: parse %s: %w", path, err)
	}

	if yc.SIP.BindAddr != "" {
		cfg.SIP.BindAddr = yc.SIP.BindAddr
	}
	if yc.SIP.Port > 0 {
		cfg.SIP.Port = yc.SIP.Port
	}
	cfg.SIP.AdvertiseAddr = yc.SIP.AdvertiseAddr
	if yc.SIP.Realm != "" {
		cfg.SIP.Realm = yc.SIP.Realm
	}
	if yc.SIP.MaxConcurrentCalls > 0 {
		cfg.SIP.GlobalMaxConcurrent = yc.SIP.MaxConcurrentCalls
	}

	if yc.Media.RTPPortMin > 0 {
		cfg.Media.RTPPortMin = yc.Media.RTPPortMin
	}
	if yc.Media.RTPPortMax > 0 {
		cfg.Media.RTPPortMax = yc.Media.RTPPortMax
	}
	if cfg.Media.RTPPortMax <= cfg.Media.RTPPortMin {
		return Config{}, fmt.Errorf("config: media.rtp_port_max (%d) must exceed media.rtp_port_min (%d)", cfg.Media.RTPPortMax, cfg.Media.RTPPortMin)
	}
	if yc.Media.JitterDepthFrames > 0 {
		cfg.Media.JitterDepthFrames = yc.Media.JitterDepthFrames
	}

	if yc.Bridge.URL == "" {
		return Config{}, errors.New("config: bridge.url is required")
	}
	cfg.Bridge.URL = yc.Bridge.URL
	cfg.Bridge.Secret = yc.Bridge.Secret
	cfg.Bridge.Token = yc.Bridge.Token
	if yc.Bridge.HandshakeTimeout != "" {
		d, err := time.ParseDuration(yc.Bridge.HandshakeTimeout)
		if err != nil {
			return Config{}, fmt.Errorf("config: invalid bridge.handshake_timeout: %w", err)
		}
		cfg.Bridge.HandshakeTimeout = d
	}
	if yc.Bridge.SendQueueSize > 0 {
		cfg.Bridge.SendQueueSize = yc.Bridge.SendQueueSize
	}

	if yc.Admin.BindAddr != "" {
		cfg.Admin.BindAddr = yc.Admin.BindAddr
	}

	for _, u := range yc.Users {
		if u.Username == "" {
			return Config{}, errors.New("config: users[].username is required")
		}
		if u.HA1 == "" && u.Password == "" {
			return Config{}, fmt.Errorf("config: user %q needs either ha1 or password", u.Username)
		}
		cfg.Users = append(cfg.Users, UserConfig{
			Username:           u.Username,
			Password:           u.Password,
			HA1:                u.HA1,
			AOR:                u.AOR,
			MaxConcurrentCalls: u.MaxConcurrentCalls,
		})
	}

	for _, t := range yc.Trunks {
		if t.ID == "" || t.ProxyAddress == "" {
			return Config{}, errors.New("config: trunks[].id and trunks[].proxy_address are required")
		}
		if t.Transport == "" {
			t.Transport = "UDP"
		}
		if t.CallsPerSecond <= 0 {
			t.CallsPerSecond = 5
		}
		cfg.Trunks = append(cfg.Trunks, TrunkConfig{
			ID:                 t.ID,
			ProxyAddress:       t.ProxyAddress,
			ProxyPort:          t.ProxyPort,
			Transport:          t.Transport,
			Username:           t.Username,
			Password:           t.Password,
			Realm:              t.Realm,
			SupportsInbound:    t.SupportsInbound,
			SupportsOutbound:   t.SupportsOutbound,
			MaxConcurrentCalls: t.MaxConcurrentCalls,
			CallsPerSecond:     t.CallsPerSecond,
			PreferredCodecs:    t.PreferredCodecs,
		})
	}

	if env := os.Getenv("VOICEBRIDGE_ADVERTISE_ADDR"); env != "" {
		cfg.SIP.AdvertiseAddr = env
	}
	if env := os.Getenv("VOICEBRIDGE_BRIDGE_SECRET"); env != "" {
		cfg.Bridge.Secret = env
	}

	return cfg, nil
}
