package gatehouse

import (
	"context"
	"time"

	"gatehouse/internal/events"
	"gatehouse/internal/idlists"
	"gatehouse/internal/specs"
	"gatehouse/internal/specsync"
)

// SpecsUpdate is the raw ruleset payload an adapter delivers to the store.
type SpecsUpdate = specs.Update

// SpecsUpdateListener is handed to a SpecsAdapter at Initialize; updates flow
// back through it.
type SpecsUpdateListener = specsync.Listener

// SpecsAdapter feeds the spec store. Start returns once the first ruleset has
// been applied (or errors); ScheduleBackgroundSync spawns the refresh task.
type SpecsAdapter interface {
	Initialize(listener SpecsUpdateListener)
	Start(ctx context.Context) error
	ScheduleBackgroundSync()
	Shutdown(timeout time.Duration) error
}

// IDListUpdate is one list's changeset plus new metadata.
type IDListUpdate = idlists.Update

// IDListMetadata mirrors the manifest entry for one list.
type IDListMetadata = idlists.Metadata

// IDListsUpdateListener receives applied manifests.
type IDListsUpdateListener = idlists.UpdateListener

// IDListsAdapter feeds segment membership lists, symmetric to SpecsAdapter.
type IDListsAdapter interface {
	Initialize(listener IDListsUpdateListener)
	Start(ctx context.Context) error
	ScheduleBackgroundSync()
	Shutdown(timeout time.Duration) error
}

// LogEventRequest is one event batch plus its metadata envelope.
type LogEventRequest = events.Request

// EventLoggingAdapter ships event batches. Returning (false, nil) or an error
// both count as failures; the error's retry classification decides requeue
// versus drop.
type EventLoggingAdapter interface {
	LogEvents(ctx context.Context, request LogEventRequest) (bool, error)
}

// OverrideAdapter short-circuits evaluations before the ruleset is consulted.
// A false second return means no override applies and evaluation proceeds.
type OverrideAdapter interface {
	GetGateOverride(user User, name string) (value bool, ok bool)
	GetConfigOverride(user User, name string) (value map[string]interface{}, ok bool)
	GetExperimentOverride(user User, name string) (value map[string]interface{}, groupName *string, ok bool)
	GetLayerOverride(user User, name string) (value map[string]interface{}, ok bool)
}

// DataStore backs offline bootstrap and ruleset backup. Keys are derived from
// the hashed SDK key.
type DataStore interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, lcut int64) error
}

// ObservabilityClient is an embedder-supplied sink for metrics and error
// callbacks. When set it replaces the built-in metrics backend.
type ObservabilityClient interface {
	Init() error
	Increment(metricName string, value float64, tags map[string]string)
	Gauge(metricName string, value float64, tags map[string]string)
	Distribution(metricName string, value float64, tags map[string]string)
	Error(tag string, message string)
}
