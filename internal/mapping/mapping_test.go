package mapping

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"icalsync/internal/ics"
	"icalsync/internal/model"
)

func sampleEvent() ics.Event {
	start := time.Date(2026, 3, 14, 19, 30, 0, 0, time.UTC)
	return ics.Event{
		UID:         "uid-1",
		Name:        "Spring Concert",
		Description: "Doors open at 19:00",
		Location:    "Town Hall",
		Organizer:   "Culture Club",
		Start:       start,
		End:         start.Add(2 * time.Hour),
		HasEnd:      true,
	}
}

func TestBuildStandard(t *testing.T) {
	ev := sampleEvent()
	standard := BuildStandard(ev, "Feed Name")

	assert.Equal(t, "Spring Concert", standard["name"])
	assert.Equal(t, "Culture Club", standard["organizer_name"])
	assert.Equal(t, "Town Hall", standard["place_name"])
	assert.Equal(t, "Doors open at 19:00", standard["description"])
	assert.Equal(t, "2026-03-14T19:30:00Z", standard["start"])
	assert.Equal(t, "2026-03-14T21:30:00Z", standard["end"])
	assert.Equal(t, "false", standard["allday"])
	assert.Equal(t, "", standard["external_link"])
}

func TestBuildStandard_OrganizerFallsBackToFeedName(t *testing.T) {
	ev := sampleEvent()
	ev.Organizer = ""

	standard := BuildStandard(ev, "Feed Name")
	assert.Equal(t, "Feed Name", standard["organizer_name"])

	standard = BuildStandard(ev, "")
	assert.Equal(t, "", standard["organizer_name"])
}

func TestBuildStandard_NoEnd(t *testing.T) {
	ev := sampleEvent()
	ev.HasEnd = false

	standard := BuildStandard(ev, "")
	assert.Equal(t, "", standard["end"])
}

func TestBuildStandard_AllDay(t *testing.T) {
	ev := sampleEvent()
	ev.AllDay = true

	standard := BuildStandard(ev, "")
	assert.Equal(t, "true", standard["allday"])
}

func TestApplyTemplates_Defaults(t *testing.T) {
	ev := sampleEvent()
	standard := BuildStandard(ev, "Feed Name")

	cfg := model.NewConfiguration()
	final, fieldErrors := ApplyTemplates(standard, ev, cfg.Templates)

	require.Empty(t, fieldErrors)
	assert.Equal(t, standard, final)
}

func TestApplyTemplates_CustomTemplates(t *testing.T) {
	ev := sampleEvent()
	standard := BuildStandard(ev, "Feed Name")

	cfg := model.NewConfiguration()
	cfg.Templates["name"] = "[Imported] {{ .Standard.name }}"
	cfg.Templates["organizer_name"] = "Always This Organizer"
	cfg.Templates["description"] = "{{ .VEvent.Description }} ({{ .VEvent.UID }})"

	final, fieldErrors := ApplyTemplates(standard, ev, cfg.Templates)
	require.Empty(t, fieldErrors)

	assert.Equal(t, "[Imported] Spring Concert", final["name"])
	assert.Equal(t, "Always This Organizer", final["organizer_name"])
	assert.Equal(t, "Doors open at 19:00 (uid-1)", final["description"])
	// Untouched keys keep their default rendering.
	assert.Equal(t, standard["start"], final["start"])
}

func TestApplyTemplates_TrimsWhitespace(t *testing.T) {
	ev := sampleEvent()
	standard := BuildStandard(ev, "")

	templates := map[string]string{"name": "  {{ .Standard.name }}\n"}
	final, fieldErrors := ApplyTemplates(standard, ev, templates)

	require.Empty(t, fieldErrors)
	assert.Equal(t, "Spring Concert", final["name"])
}

func TestApplyTemplates_BrokenTemplateIsContained(t *testing.T) {
	ev := sampleEvent()
	standard := BuildStandard(ev, "Feed Name")

	cfg := model.NewConfiguration()
	cfg.Templates["description"] = "{{ .Standard.description " // parse error

	final, fieldErrors := ApplyTemplates(standard, ev, cfg.Templates)

	require.Len(t, fieldErrors, 1)
	assert.Equal(t, "description", fieldErrors[0].Key)
	assert.NotEmpty(t, fieldErrors[0].Message)

	// The broken key is absent; everything else still mapped.
	_, has := final["description"]
	assert.False(t, has)
	assert.Equal(t, "Spring Concert", final["name"])
	assert.Equal(t, "Town Hall", final["place_name"])
}

func TestApplyTemplates_MissingTemplateCopiesStandard(t *testing.T) {
	ev := sampleEvent()
	standard := BuildStandard(ev, "")

	final, fieldErrors := ApplyTemplates(standard, ev, map[string]string{})
	require.Empty(t, fieldErrors)
	assert.Equal(t, standard, final)
}

func TestCheckRequired(t *testing.T) {
	final := map[string]string{
		"name":           "Spring Concert",
		"organizer_name": "",
		"place_name":     "Town Hall",
		"start":          "2026-03-14T19:30:00Z",
	}

	hints := CheckRequired(final)
	require.Len(t, hints, 1)
	assert.Equal(t, "organizer_name", hints[0].Key)
	assert.Equal(t, "Required organizer_name is missing", hints[0].Message)
}

func TestCheckRequired_AllPresent(t *testing.T) {
	ev := sampleEvent()
	hints := CheckRequired(BuildStandard(ev, "Feed Name"))
	assert.Empty(t, hints)
}

func TestCheckRequired_AllMissing(t *testing.T) {
	hints := CheckRequired(map[string]string{})
	require.Len(t, hints, len(model.RequiredKeys))
	for i, key := range model.RequiredKeys {
		assert.Equal(t, key, hints[i].Key)
	}
}
