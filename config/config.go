package config

import (
	"github.com/pitabwire/frame/config"
)

// SignalConfig holds configuration for the signaling service.
type SignalConfig struct {
	config.ConfigurationDefault
	SignalPort              int    `envDefault:"4001"      env:"SIGNAL_PORT"`
	SignalPath              string `envDefault:"/ws"       env:"SIGNAL_PATH"`
	RTCMinPort              int    `envDefault:"40000"     env:"RTC_MIN_PORT"`
	RTCMaxPort              int    `envDefault:"49999"     env:"RTC_MAX_PORT"`
	ListenIP                string `envDefault:"0.0.0.0"   env:"LISTEN_IP"`
	AnnouncedIP             string `envDefault:"127.0.0.1" env:"ANNOUNCED_IP"`
	InitialOutgoingBitrate  int    `envDefault:"800000"    env:"INITIAL_OUTGOING_BITRATE"`
	AudioObserverIntervalMs int    `envDefault:"800"       env:"AUDIO_OBSERVER_INTERVAL_MS"`
	AudioObserverThreshold  int    `envDefault:"-80"       env:"AUDIO_OBSERVER_THRESHOLD_DB"`
	WorkerLogLevel          string `envDefault:"warn"      env:"MEDIA_WORKER_LOG_LEVEL"`
	MediaProfilePath        string `envDefault:""          env:"MEDIA_PROFILE_PATH"`
}
