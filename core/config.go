package orchestration

import "time"

const (
	DefaultCoalesceMinLength   = 20
	DefaultCoalesceQuietPeriod = 150 * time.Millisecond
	DefaultRetryAttempts       = 1
	DefaultRetryBackoff        = 800 * time.Millisecond
	DefaultAnnotationCacheSize = 64
	DefaultActivityLogSize     = 50
	DefaultPreflightWindow     = 10 * time.Minute
)

// ServerConfig describes a remote tool server offered to the model.
type ServerConfig struct {
	Label           string `mapstructure:"label" json:"label" jsonschema:"required,description=Label the model uses to address the server"`
	URL             string `mapstructure:"url" json:"url,omitempty"`
	ConnectorID     string `mapstructure:"connector_id" json:"connector_id,omitempty" jsonschema:"description=Hosted connector id used instead of a URL"`
	Token           string `mapstructure:"token" json:"token,omitempty"`
	RequireApproval string `mapstructure:"require_approval" json:"require_approval,omitempty" jsonschema:"enum=always,enum=never"`
}

type AutomationConfig struct {
	BridgeURL     string `mapstructure:"bridge_url" json:"bridge_url,omitempty" jsonschema:"description=Websocket URL of the controlled surface; automation is off when empty"`
	DisplayWidth  int    `mapstructure:"display_width" json:"display_width,omitempty"`
	DisplayHeight int    `mapstructure:"display_height" json:"display_height,omitempty"`
	Environment   string `mapstructure:"environment" json:"environment,omitempty" jsonschema:"enum=browser,enum=mac,enum=windows,enum=ubuntu"`
	MaxIterations int    `mapstructure:"max_iterations" json:"max_iterations,omitempty"`
	WaitThreshold int    `mapstructure:"wait_threshold" json:"wait_threshold,omitempty"`
}

type Config struct {
	Model        string `mapstructure:"model" json:"model"`
	Instructions string `mapstructure:"instructions" json:"instructions,omitempty"`
	Streaming    bool   `mapstructure:"streaming" json:"streaming"`

	CoalesceMinLength   int           `mapstructure:"coalesce_min_length" json:"coalesce_min_length,omitempty"`
	CoalesceQuietPeriod time.Duration `mapstructure:"coalesce_quiet_period" json:"coalesce_quiet_period,omitempty"`

	RetryAttempts int           `mapstructure:"retry_attempts" json:"retry_attempts,omitempty"`
	RetryBackoff  time.Duration `mapstructure:"retry_backoff" json:"retry_backoff,omitempty"`

	// ReasoningReplay requests encrypted reasoning and replays it with tool
	// outputs.
	ReasoningReplay bool `mapstructure:"reasoning_replay" json:"reasoning_replay,omitempty"`

	AnnotationCacheSize int           `mapstructure:"annotation_cache_size" json:"annotation_cache_size,omitempty"`
	ActivityLogSize     int           `mapstructure:"activity_log_size" json:"activity_log_size,omitempty"`
	PreflightWindow     time.Duration `mapstructure:"preflight_window" json:"preflight_window,omitempty"`

	Servers    []ServerConfig   `mapstructure:"servers" json:"servers,omitempty"`
	Automation AutomationConfig `mapstructure:"automation" json:"automation"`
}

func DefaultConfig() Config {
	return Config{
		Model:               "gpt-4.1",
		Streaming:           true,
		CoalesceMinLength:   DefaultCoalesceMinLength,
		CoalesceQuietPeriod: DefaultCoalesceQuietPeriod,
		RetryAttempts:       DefaultRetryAttempts,
		RetryBackoff:        DefaultRetryBackoff,
		AnnotationCacheSize: DefaultAnnotationCacheSize,
		ActivityLogSize:     DefaultActivityLogSize,
		PreflightWindow:     DefaultPreflightWindow,
		Automation: AutomationConfig{
			DisplayWidth:  1024,
			DisplayHeight: 768,
			Environment:   "browser",
		},
	}
}

// withDefaults fills zero values with defaults. Streaming and retry
// attempts are left alone since zero is meaningful for them.
func (c Config) withDefaults() Config {
	defaults := DefaultConfig()
	if c.Model == "" {
		c.Model = defaults.Model
	}
	if c.CoalesceMinLength <= 0 {
		c.CoalesceMinLength = defaults.CoalesceMinLength
	}
	if c.CoalesceQuietPeriod <= 0 {
		c.CoalesceQuietPeriod = defaults.CoalesceQuietPeriod
	}
	if c.RetryAttempts < 0 {
		c.RetryAttempts = 0
	}
	if c.RetryBackoff <= 0 {
		c.RetryBackoff = defaults.RetryBackoff
	}
	if c.AnnotationCacheSize <= 0 {
		c.AnnotationCacheSize = defaults.AnnotationCacheSize
	}
	if c.ActivityLogSize <= 0 {
		c.ActivityLogSize = defaults.ActivityLogSize
	}
	if c.PreflightWindow <= 0 {
		c.PreflightWindow = defaults.PreflightWindow
	}
	if c.Automation.DisplayWidth <= 0 {
		c.Automation.DisplayWidth = defaults.Automation.DisplayWidth
	}
	if c.Automation.DisplayHeight <= 0 {
		c.Automation.DisplayHeight = defaults.Automation.DisplayHeight
	}
	if c.Automation.Environment == "" {
		c.Automation.Environment = defaults.Automation.Environment
	}
	return c
}

func (c Config) serverLabels() []string {
	labels := make([]string, 0, len(c.Servers))
	for _, server := range c.Servers {
		labels = append(labels, server.Label)
	}
	return labels
}
