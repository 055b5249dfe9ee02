// Package conf loads the core's configuration from a single YAML file via
// viper, the same section-by-section UnmarshalKey shape the teacher's
// pkg/conf uses for its TG/GPT/WEB/DB sections.
package conf

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/viper"

	"github.com/clinround/sessioncore/pkg/mode"
)

type Conf struct {
	DB     DBConfig
	Bus    BusConfig
	Timing TimingConfig
	Code   CodeConfig
	Retry  RetryConfig
}

type DBConfig struct {
	Host     string `mapstructure:"host"`
	Name     string `mapstructure:"name"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
}

// BusConfig configures the message bus (C1) queue depth and the SSE
// stream endpoint (C9) settings.
type BusConfig struct {
	ListenAddr    string `mapstructure:"listenaddr"`
	QueueDepth    int    `mapstructure:"queuedepth"`
	StreamBufSize int    `mapstructure:"streambufsize"`
}

// TimingConfig holds default phase durations and idle detection knobs.
type TimingConfig struct {
	DefaultReadingMinutes      int `mapstructure:"readingminutes"`
	DefaultConsultationMinutes int `mapstructure:"consultationminutes"`
	FeedbackSeconds            int `mapstructure:"feedbackseconds"`
	IdleMinutes                int `mapstructure:"idleminutes"`
}

func (t TimingConfig) IdleTimeout() time.Duration {
	return time.Duration(t.IdleMinutes) * time.Minute
}

func (t TimingConfig) FeedbackTimeout() time.Duration {
	return time.Duration(t.FeedbackSeconds) * time.Second
}

// CodeConfig configures session-code generation (§6.4).
type CodeConfig struct {
	Length int `mapstructure:"length"`
}

// RetryConfig configures repository-retry behavior for Transient errors.
type RetryConfig struct {
	MaxAttempts int           `mapstructure:"maxattempts"`
	BaseDelay   time.Duration `mapstructure:"basedelay"`
}

// NewConf reads the config file named by CONFIG_PATH, defaulting to
// "cfg.env", the same env-var convention as the teacher's NewConf.
func NewConf() (*Conf, error) {
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "cfg.env"
	}

	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		return nil, fmt.Errorf("config file does not exist: %s", configPath)
	}

	v := viper.New()
	v.SetConfigFile(configPath)
	v.SetConfigType("yaml")

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("error reading config file: %w", err)
	}

	c := &Conf{}

	var db DBConfig
	if err := v.UnmarshalKey("db", &db); err != nil {
		return nil, fmt.Errorf("error parsing db section: %w", err)
	}
	c.DB = db

	var bus BusConfig
	if err := v.UnmarshalKey("bus", &bus); err != nil {
		return nil, fmt.Errorf("error parsing bus section: %w", err)
	}
	if bus.QueueDepth == 0 {
		bus.QueueDepth = mode.SubscriberQueueDepth
	}
	c.Bus = bus

	var timing TimingConfig
	if err := v.UnmarshalKey("timing", &timing); err != nil {
		return nil, fmt.Errorf("error parsing timing section: %w", err)
	}
	if timing.FeedbackSeconds == 0 {
		timing.FeedbackSeconds = mode.DefaultFeedbackSeconds
	}
	if timing.IdleMinutes == 0 {
		timing.IdleMinutes = mode.DefaultIdleMinutes
	}
	c.Timing = timing

	var code CodeConfig
	if err := v.UnmarshalKey("code", &code); err != nil {
		return nil, fmt.Errorf("error parsing code section: %w", err)
	}
	if code.Length == 0 {
		code.Length = mode.DefaultSessionCodeLength
	}
	c.Code = code

	var retry RetryConfig
	if err := v.UnmarshalKey("retry", &retry); err != nil {
		return nil, fmt.Errorf("error parsing retry section: %w", err)
	}
	if retry.MaxAttempts == 0 {
		retry.MaxAttempts = mode.RetryMaxAttempts
	}
	if retry.BaseDelay == 0 {
		retry.BaseDelay = mode.RetryBaseDelay
	}
	c.Retry = retry

	// The rest of the core reads its tunables off pkg/mode directly rather
	// than threading *Conf through every constructor, so loading a config
	// file means pushing its values into those package vars here.
	mode.SubscriberQueueDepth = c.Bus.QueueDepth
	mode.IdleTimeout = c.Timing.IdleTimeout()
	mode.FeedbackTimeout = c.Timing.FeedbackTimeout()
	mode.SessionCodeLength = c.Code.Length
	mode.RetryMaxAttempts = c.Retry.MaxAttempts
	mode.RetryBaseDelay = c.Retry.BaseDelay

	return c, nil
}
