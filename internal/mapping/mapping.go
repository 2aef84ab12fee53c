// Package mapping derives the mapped field set for one calendar event:
// first a standard mapping extracted verbatim from the event, then a
// final mapping produced by evaluating the configuration's per-field
// templates. Template failures are contained per field; one broken
// template never aborts the mapping of the remaining fields.
package mapping

import (
	"fmt"
	"strings"
	"text/template"
	"time"

	"icalsync/internal/ics"
	"icalsync/internal/model"
)

// FieldError records one failed template evaluation.
type FieldError struct {
	Key     string `json:"key"`
	Message string `json:"msg"`
}

// Hint is a non-fatal finding about a mapped event, surfaced in the run
// log. Hints never block sending the event to the directory.
type Hint struct {
	Key     string `json:"key,omitempty"`
	Message string `json:"msg"`
}

// TemplateData is the variable scope available to field templates:
// {{ .Standard.<key> }} for the standard mapping and {{ .VEvent.<Field> }}
// for the raw parsed calendar event.
type TemplateData struct {
	Standard map[string]string
	VEvent   ics.Event
}

// BuildStandard derives the standard mapping for one event. Pure function
// of the event and the feed display name.
//
// Start/end are rendered as RFC3339 so that every mapped value is a plain
// string: diffable, template-friendly and JSON-safe. An absent end is the
// empty string.
func BuildStandard(ev ics.Event, feedName string) map[string]string {
	standard := make(map[string]string, len(model.MapperKeys))
	standard["place_name"] = ev.Location
	standard["organizer_name"] = firstNonEmpty(ev.Organizer, feedName)
	standard["name"] = ev.Name
	standard["description"] = ev.Description
	standard["start"] = ev.Start.Format(time.RFC3339)
	standard["end"] = ""
	if ev.HasEnd {
		standard["end"] = ev.End.Format(time.RFC3339)
	}
	standard["allday"] = fmt.Sprintf("%t", ev.AllDay)
	standard["external_link"] = ""
	return standard
}

// ApplyTemplates evaluates the configured template for every standard key
// and returns the final mapping plus one FieldError per failed template.
// An erroring key is absent from the final mapping; a key without a
// template copies the standard value unchanged.
func ApplyTemplates(standard map[string]string, ev ics.Event, templates map[string]string) (map[string]string, []FieldError) {
	final := make(map[string]string, len(standard))
	var fieldErrors []FieldError

	data := TemplateData{Standard: standard, VEvent: ev}

	for _, key := range model.MapperKeys {
		tmplStr, ok := templates[key]
		if !ok {
			final[key] = standard[key]
			continue
		}

		rendered, err := render(key, tmplStr, data)
		if err != nil {
			fieldErrors = append(fieldErrors, FieldError{Key: key, Message: err.Error()})
			continue
		}
		final[key] = rendered
	}

	return final, fieldErrors
}

func render(key, tmplStr string, data TemplateData) (string, error) {
	tmpl, err := template.New(key).Parse(tmplStr)
	if err != nil {
		return "", err
	}

	var b strings.Builder
	if err := tmpl.Execute(&b, data); err != nil {
		return "", err
	}
	return strings.TrimSpace(b.String()), nil
}

// CheckRequired returns one hint per required key that is missing or
// empty in the final mapping.
func CheckRequired(final map[string]string) []Hint {
	var hints []Hint
	for _, key := range model.RequiredKeys {
		if final[key] == "" {
			hints = append(hints, Hint{Key: key, Message: fmt.Sprintf("Required %s is missing", key)})
		}
	}
	return hints
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
