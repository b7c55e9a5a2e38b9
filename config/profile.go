package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// MediaProfile is an optional YAML override for the media worker settings.
// An empty path or absent file means the compiled defaults apply.
type MediaProfile struct {
	RTCMinPort  int    `yaml:"rtcMinPort"`
	RTCMaxPort  int    `yaml:"rtcMaxPort"`
	ListenIP    string `yaml:"listenIp"`
	AnnouncedIP string `yaml:"announcedIp"`

	// InitialOutgoingBitrate seeds the transport's bandwidth estimator.
	InitialOutgoingBitrate int `yaml:"initialOutgoingBitrate"`

	Codecs []CodecProfile `yaml:"codecs"`
}

// CodecProfile describes one router media codec.
type CodecProfile struct {
	Kind      string `yaml:"kind"`
	MimeType  string `yaml:"mimeType"`
	ClockRate int    `yaml:"clockRate"`
	Channels  int    `yaml:"channels"`
}

// LoadMediaProfile reads a media profile from a YAML file.
func LoadMediaProfile(path string) (*MediaProfile, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read media profile %q: %w", path, err)
	}
	var p MediaProfile
	if err := yaml.Unmarshal(raw, &p); err != nil {
		return nil, fmt.Errorf("parse media profile %q: %w", path, err)
	}
	return &p, nil
}

// Apply overlays the profile's non-zero fields onto the config.
func (p *MediaProfile) Apply(c *SignalConfig) {
	if p.RTCMinPort > 0 {
		c.RTCMinPort = p.RTCMinPort
	}
	if p.RTCMaxPort > 0 {
		c.RTCMaxPort = p.RTCMaxPort
	}
	if p.ListenIP != "" {
		c.ListenIP = p.ListenIP
	}
	if p.AnnouncedIP != "" {
		c.AnnouncedIP = p.AnnouncedIP
	}
	if p.InitialOutgoingBitrate > 0 {
		c.InitialOutgoingBitrate = p.InitialOutgoingBitrate
	}
}
