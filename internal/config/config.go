package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config holds application level configuration aggregated from env/config files.
type Config struct {
	Server struct {
		Addr string
	}
	Database struct {
		Path string
	}
	Engine struct {
		Mode                  string // "embedded" or "remote"
		BaseURL               string
		APIToken              string
		DataDir               string
		StatusInterval        time.Duration
		Seed                  bool
		ListenPort            int
		DisableDHT            bool
		DisablePortForwarding bool
		Trackers              []string
	}
	Auth struct {
		JWTSecret        string
		RegisterPassword string
		TokenTTLMinutes  int
	}
	Storage struct {
		Bucket            string
		KeyPrefix         string
		Region            string
		Endpoint          string
		PresignTTLMinutes int
	}
	AWS struct {
		Profile string
	}
	Playback struct {
		MinReadyProgress float64
		PollInterval     time.Duration
		InfoRetries      int
		ResumeMinSeconds float64
		ResumeTimeout    time.Duration
	}
	Progress struct {
		SaveInterval     time.Duration
		Debounce         time.Duration
		MinSeconds       float64
		CompletedPercent float64
	}
	Recovery struct {
		RetryDelay time.Duration
		MaxRetries int
	}
	Session struct {
		IdleTimeout time.Duration
	}
}

// Engine modes: embedded runs the torrent engine in-process, remote talks to
// another instance's engine API.
const (
	EngineModeEmbedded = "embedded"
	EngineModeRemote   = "remote"
)

// Load reads configuration from environment variables and optional config files.
func Load() (Config, error) {
	_ = godotenv.Load() // optional .env, real env wins

	v := viper.New()
	v.SetEnvPrefix("STREAMWATCH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("server.addr", "0.0.0.0:8080")
	v.SetDefault("database.path", "data/streamwatch.db")

	v.SetDefault("engine.mode", EngineModeEmbedded)
	v.SetDefault("engine.baseurl", "")
	v.SetDefault("engine.apitoken", "")
	v.SetDefault("engine.datadir", "data/downloads")
	v.SetDefault("engine.statusinterval", 2*time.Second)
	v.SetDefault("engine.seed", false)
	v.SetDefault("engine.listenport", 42069)
	v.SetDefault("engine.disabledht", false)
	v.SetDefault("engine.disableportforwarding", false)
	v.SetDefault("engine.trackers", []string{})

	v.SetDefault("auth.jwtsecret", "")
	v.SetDefault("auth.registerpassword", "")
	v.SetDefault("auth.tokenttlminutes", 720)

	v.SetDefault("storage.bucket", "")
	v.SetDefault("storage.keyprefix", "streamwatch-archive")
	v.SetDefault("storage.region", "us-east-1")
	v.SetDefault("storage.endpoint", "")
	v.SetDefault("storage.presignttlminutes", 60)
	v.SetDefault("aws.profile", "")

	// Streaming and persistence policy. These mirror the named defaults in
	// the owning packages; override here rather than editing code.
	v.SetDefault("playback.minreadyprogress", 5.0)
	v.SetDefault("playback.pollinterval", 5*time.Second)
	v.SetDefault("playback.inforetries", 3)
	v.SetDefault("playback.resumeminseconds", 30.0)
	v.SetDefault("playback.resumetimeout", 10*time.Second)

	v.SetDefault("progress.saveinterval", 30*time.Second)
	v.SetDefault("progress.debounce", 5*time.Second)
	v.SetDefault("progress.minseconds", 5.0)
	v.SetDefault("progress.completedpercent", 98.0)

	v.SetDefault("recovery.retrydelay", 3*time.Second)
	v.SetDefault("recovery.maxretries", 1)

	v.SetDefault("session.idletimeout", 2*time.Hour)

	v.SetConfigName("config")
	v.AddConfigPath(".")
	_ = v.ReadInConfig() // optional file

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return cfg, nil
}
