package model

import "time"

// MapperKeys lists the mapped field keys in their canonical order. Every
// StandardMapping and FinalMapping is keyed by exactly this set, and each
// key has one template column on Configuration.
var MapperKeys = []string{
	"name",
	"organizer_name",
	"place_name",
	"start",
	"description",
	"end",
	"allday",
	"external_link",
}

// RequiredKeys are the mapped fields that produce a hint when missing or
// empty after template evaluation. Hints are informational only; they do
// not block sending the event to the directory.
var RequiredKeys = []string{"name", "organizer_name", "place_name", "start"}

// DefaultTemplate returns the default template for a mapped field key,
// which renders the standard value verbatim.
func DefaultTemplate(key string) string {
	return "{{ .Standard." + key + " }}"
}

// Configuration binds one calendar feed to one organization in the remote
// event directory, with per-field mapping templates.
type Configuration struct {
	ID    int64  `json:"id"`
	Title string `json:"title"`

	// URL is the ICS feed endpoint.
	URL string `json:"url"`

	// OrganizationID is the remote directory organization the events are
	// mirrored into.
	OrganizationID string `json:"organization_id"`

	// IdentifierTag distinguishes this configuration's events in the
	// remote directory. Together with the fixed prefix it forms the
	// configuration tag used for rediscovery.
	IdentifierTag string `json:"identifier_tag"`

	// Templates maps each MapperKeys entry to its field template.
	Templates map[string]string `json:"templates"`

	// ExpandRecurring enables expansion of recurring feed events into
	// per-occurrence events within ExpandHorizonDays.
	ExpandRecurring   bool `json:"expand_recurring"`
	ExpandHorizonDays int  `json:"expand_horizon_days"`
}

// NewConfiguration returns a Configuration with default templates for
// every mapped field.
func NewConfiguration() *Configuration {
	templates := make(map[string]string, len(MapperKeys))
	for _, key := range MapperKeys {
		templates[key] = DefaultTemplate(key)
	}
	return &Configuration{Templates: templates}
}

// CorrelationRecord links one feed event (by uid) to one remote directory
// event. Snapshot is the FinalMapping last sent successfully; a nil
// Snapshot forces a full resend on the next diff.
type CorrelationRecord struct {
	UID           string            `json:"uid"`
	RemoteEventID int64             `json:"remote_event_id"`
	Snapshot      map[string]string `json:"snapshot,omitempty"`
}

// Run statuses.
const (
	RunSuccess = "success"
	RunFailure = "failure"
)

// LogEntry types.
const (
	LogTypeEvent   = "event"
	LogTypeDeleted = "deleted"
)

// Run records one reconciliation pass over a feed.
type Run struct {
	ID              int64     `json:"id"`
	ConfigurationID int64     `json:"configuration_id"`
	CreatedAt       time.Time `json:"created_at"`
	Status          string    `json:"status"` // success, failure

	// Settings is a snapshot of the configuration in effect at run time
	// (url, organization id, identifier tag, all field templates).
	Settings map[string]string `json:"settings"`

	FailureEventCount   int `json:"failure_event_count"`
	SkippedEventCount   int `json:"skipped_event_count"`
	NewEventCount       int `json:"new_event_count"`
	UpdatedEventCount   int `json:"updated_event_count"`
	UnchangedEventCount int `json:"unchanged_event_count"`
	DeletedEventCount   int `json:"deleted_event_count"`

	LogEntries []LogEntry `json:"log_entries,omitempty"`
}

// NewRun returns a Run with status success, zeroed counters and a settings
// snapshot taken from the configuration.
func NewRun(cfg *Configuration, now time.Time) *Run {
	settings := map[string]string{
		"url":             cfg.URL,
		"organization_id": cfg.OrganizationID,
		"identifier_tag":  cfg.IdentifierTag,
	}
	for _, key := range MapperKeys {
		settings[key] = cfg.Templates[key]
	}

	return &Run{
		ConfigurationID: cfg.ID,
		CreatedAt:       now,
		Status:          RunSuccess,
		Settings:        settings,
	}
}

// LogEntry is one structured, append-only record in a Run.
type LogEntry struct {
	ID        int64          `json:"id"`
	RunID     int64          `json:"run_id"`
	CreatedAt time.Time      `json:"created_at"`
	Message   string         `json:"message"`
	Type      string         `json:"type"` // event, deleted
	Context   map[string]any `json:"context,omitempty"`
}
