package config

import (
	"os"
	"path/filepath"
	"testing"
)

func writeProfile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "profile.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadMediaProfile(t *testing.T) {
	path := writeProfile(t, `
rtcMinPort: 50000
rtcMaxPort: 50999
announcedIp: 203.0.113.10
initialOutgoingBitrate: 1200000
codecs:
  - kind: audio
    mimeType: audio/opus
    clockRate: 48000
    channels: 2
`)

	p, err := LoadMediaProfile(path)
	if err != nil {
		t.Fatalf("LoadMediaProfile: %v", err)
	}
	if p.RTCMinPort != 50000 || p.RTCMaxPort != 50999 {
		t.Errorf("ports = %d-%d, want 50000-50999", p.RTCMinPort, p.RTCMaxPort)
	}
	if p.AnnouncedIP != "203.0.113.10" {
		t.Errorf("announcedIp = %q", p.AnnouncedIP)
	}
	if len(p.Codecs) != 1 || p.Codecs[0].MimeType != "audio/opus" {
		t.Errorf("codecs = %+v", p.Codecs)
	}
}

func TestLoadMediaProfileMissingFile(t *testing.T) {
	if _, err := LoadMediaProfile(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Error("missing file loaded without error")
	}
}

func TestLoadMediaProfileBadYAML(t *testing.T) {
	path := writeProfile(t, "rtcMinPort: [not a number")
	if _, err := LoadMediaProfile(path); err == nil {
		t.Error("malformed yaml loaded without error")
	}
}

func TestApplyOverlaysNonZeroFields(t *testing.T) {
	cfg := SignalConfig{
		RTCMinPort:             40000,
		RTCMaxPort:             49999,
		ListenIP:               "0.0.0.0",
		AnnouncedIP:            "127.0.0.1",
		InitialOutgoingBitrate: 800000,
	}

	p := &MediaProfile{RTCMinPort: 50000, AnnouncedIP: "203.0.113.10"}
	p.Apply(&cfg)

	if cfg.RTCMinPort != 50000 {
		t.Errorf("rtcMinPort = %d, want 50000", cfg.RTCMinPort)
	}
	if cfg.AnnouncedIP != "203.0.113.10" {
		t.Errorf("announcedIp = %q", cfg.AnnouncedIP)
	}
	// Zero-valued profile fields leave the config untouched.
	if cfg.RTCMaxPort != 49999 || cfg.ListenIP != "0.0.0.0" || cfg.InitialOutgoingBitrate != 800000 {
		t.Errorf("untouched fields changed: %+v", cfg)
	}
}
