package gatehouse

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Default endpoints; every one is overridable per option.
const (
	DefaultSpecsURL    = "https://api.statsigcdn.com/v2/download_config_specs"
	DefaultLogEventURL = "https://statsigapi.net/v1/log_event"
	DefaultIDListsURL  = "https://statsigapi.net/v1/get_id_lists"
)

const (
	defaultSpecsSyncInterval   = 10 * time.Second
	defaultIDListsSyncInterval = 60 * time.Second
	defaultEventFlushInterval  = 60 * time.Second
	defaultInitTimeout         = 10 * time.Second
)

// Options configures a Client. The zero value is usable; normalize fills in
// every default.
type Options struct {
	SpecsURL    string
	LogEventURL string
	IDListsURL  string

	SpecsSyncInterval   time.Duration
	IDListsSyncInterval time.Duration

	EventFlushInterval     time.Duration
	EventQueueSize         int
	EventMaxPendingBatches int
	EventMaxLogRetries     int

	EnableIDLists        bool
	FallbackToStatsigAPI bool

	// Environment is the tier tag ("development", "staging", "production")
	// stamped on every logged user.
	Environment string

	DisableNetwork    bool
	DisableAllLogging bool

	// OutputLogLevel controls internal logging: debug, info, warn, error, none.
	OutputLogLevel string

	// MetricsBackend selects the internal metrics provider: prometheus
	// (default), otel, or noop.
	MetricsBackend string

	InitTimeout time.Duration

	// EnableStreaming switches the specs adapter to the streaming variant
	// with the polling adapter as its fallback.
	EnableStreaming bool
	StreamingURL    string
	// StreamingFallbackThreshold is the consecutive-failure count after which
	// the stream yields to polling. Zero keeps the built-in default.
	StreamingFallbackThreshold uint32

	// Injection points; none are serializable.
	SpecsAdapter        SpecsAdapter
	IDListsAdapter      IDListsAdapter
	EventLoggingAdapter EventLoggingAdapter
	OverrideAdapter     OverrideAdapter
	DataStore           DataStore
	ObservabilityClient ObservabilityClient
}

// optionsFile is the YAML shape; intervals are milliseconds on the wire.
type optionsFile struct {
	SpecsURL    string `yaml:"specs_url"`
	LogEventURL string `yaml:"log_event_url"`
	IDListsURL  string `yaml:"id_lists_url"`

	SpecsSyncIntervalMS   int64 `yaml:"specs_sync_interval_ms"`
	IDListsSyncIntervalMS int64 `yaml:"id_lists_sync_interval_ms"`

	EventFlushIntervalMS   int64 `yaml:"event_logging_flush_interval_ms"`
	EventQueueSize         int   `yaml:"event_logging_max_queue_size"`
	EventMaxPendingBatches int   `yaml:"event_logging_max_pending_batch_queue_size"`
	EventMaxLogRetries     int   `yaml:"event_logging_max_retries"`

	EnableIDLists        bool `yaml:"enable_id_lists"`
	FallbackToStatsigAPI bool `yaml:"fallback_to_statsig_api"`

	Environment string `yaml:"environment"`

	DisableNetwork    bool `yaml:"disable_network"`
	DisableAllLogging bool `yaml:"disable_all_logging"`

	OutputLogLevel string `yaml:"output_log_level"`
	MetricsBackend string `yaml:"metrics_backend"`

	InitTimeoutMS int64 `yaml:"init_timeout_ms"`

	EnableStreaming            bool   `yaml:"enable_streaming"`
	StreamingURL               string `yaml:"streaming_url"`
	StreamingFallbackThreshold uint32 `yaml:"streaming_fallback_threshold"`
}

// OptionsFromFile loads a YAML options document.
func OptionsFromFile(path string) (*Options, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read options file: %w", err)
	}
	var file optionsFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse options file: %w", err)
	}
	opts := &Options{
		SpecsURL:                   file.SpecsURL,
		LogEventURL:                file.LogEventURL,
		IDListsURL:                 file.IDListsURL,
		SpecsSyncInterval:          time.Duration(file.SpecsSyncIntervalMS) * time.Millisecond,
		IDListsSyncInterval:        time.Duration(file.IDListsSyncIntervalMS) * time.Millisecond,
		EventFlushInterval:         time.Duration(file.EventFlushIntervalMS) * time.Millisecond,
		EventQueueSize:             file.EventQueueSize,
		EventMaxPendingBatches:     file.EventMaxPendingBatches,
		EventMaxLogRetries:         file.EventMaxLogRetries,
		EnableIDLists:              file.EnableIDLists,
		FallbackToStatsigAPI:       file.FallbackToStatsigAPI,
		Environment:                file.Environment,
		DisableNetwork:             file.DisableNetwork,
		DisableAllLogging:          file.DisableAllLogging,
		OutputLogLevel:             file.OutputLogLevel,
		MetricsBackend:             file.MetricsBackend,
		InitTimeout:                time.Duration(file.InitTimeoutMS) * time.Millisecond,
		EnableStreaming:            file.EnableStreaming,
		StreamingURL:               file.StreamingURL,
		StreamingFallbackThreshold: file.StreamingFallbackThreshold,
	}
	return opts, nil
}

func (o *Options) normalize() {
	if o.SpecsURL == "" {
		o.SpecsURL = DefaultSpecsURL
	}
	if o.LogEventURL == "" {
		o.LogEventURL = DefaultLogEventURL
	}
	if o.IDListsURL == "" {
		o.IDListsURL = DefaultIDListsURL
	}
	if o.SpecsSyncInterval <= 0 {
		o.SpecsSyncInterval = defaultSpecsSyncInterval
	}
	if o.IDListsSyncInterval <= 0 {
		o.IDListsSyncInterval = defaultIDListsSyncInterval
	}
	if o.EventFlushInterval <= 0 {
		o.EventFlushInterval = defaultEventFlushInterval
	}
	if o.InitTimeout <= 0 {
		o.InitTimeout = defaultInitTimeout
	}
}
