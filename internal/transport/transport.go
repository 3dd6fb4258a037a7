// Package transport defines the event channel contract between conversion
// workers and the job lifecycle core, with in-process and WebSocket-backed
// deliveries. Channels are ordered FIFO and delivery is at-least-once; the
// consuming side is responsible for dropping stale or duplicate events.
package transport

// Channel names shared by every delivery mechanism.
const (
	ChannelProgress = "conversion:progress"
	ChannelStatus   = "conversion:status"
	ChannelComplete = "conversion:complete"
	ChannelError    = "conversion:error"
)

// ProgressEvent reports incremental progress for the active job. All fields
// are optional on the wire; pointer fields distinguish absent from zero.
type ProgressEvent struct {
	ID          string `json:"id,omitempty"`
	File        string `json:"file,omitempty"`
	Status      string `json:"status,omitempty"`
	Progress    *int   `json:"progress,omitempty"`
	Completed   *int   `json:"completed,omitempty"`
	Errored     *int   `json:"errored,omitempty"`
	Total       *int   `json:"total,omitempty"`
	SitemapURLs *int   `json:"sitemapUrls,omitempty"`
	CrawledURLs *int   `json:"crawledUrls,omitempty"`
	Section     string `json:"section,omitempty"`
}

// StatusEvent reports a raw worker status change for a job.
type StatusEvent struct {
	ID     string `json:"id"`
	Status string `json:"status"`
	File   string `json:"file,omitempty"`
	Error  string `json:"error,omitempty"`
}

// CompleteEvent signals successful termination of a job.
type CompleteEvent struct {
	ID     string `json:"id"`
	Result any    `json:"result,omitempty"`
}

// ErrorEvent signals failed termination of a job.
type ErrorEvent struct {
	ID    string `json:"id"`
	Error string `json:"error"`
}

// Subscription is the teardown handle returned by every subscribe call.
// Unsubscribe is idempotent.
type Subscription interface {
	Unsubscribe()
}

// Subscriber is the consuming side of the four conversion channels.
type Subscriber interface {
	OnConversionProgress(func(ProgressEvent)) (Subscription, error)
	OnConversionStatus(func(StatusEvent)) (Subscription, error)
	OnConversionComplete(func(CompleteEvent)) (Subscription, error)
	OnConversionError(func(ErrorEvent)) (Subscription, error)
}

// Emitter is the producing side used by conversion engines and bridges.
type Emitter interface {
	EmitProgress(ProgressEvent)
	EmitStatus(StatusEvent)
	EmitComplete(CompleteEvent)
	EmitError(ErrorEvent)
}
