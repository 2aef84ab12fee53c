package importer

import "strings"

// Tag prefixes marking directory events owned by this importer. The
// configuration tag scopes rediscovery to one configuration; the vevent
// tag embeds the feed uid so correlation state can be rebuilt from the
// remote directory alone.
const (
	TagConfigurationPrefix = "ical-importer-cfg-"
	TagVEventPrefix        = "ical-importer-vevent-"
)

// ConfigurationTag builds the per-configuration ownership tag. Commas are
// stripped because the directory stores tags as a comma-joined list.
func ConfigurationTag(identifier string) string {
	return TagConfigurationPrefix + stripCommas(identifier)
}

// VEventTag builds the per-event tag embedding the feed uid.
func VEventTag(uid string) string {
	return TagVEventPrefix + stripCommas(uid)
}

// EventTags builds the comma-joined tag list sent with every mirrored
// event: configuration tag first, vevent tag second.
func EventTags(identifier, uid string) string {
	return ConfigurationTag(identifier) + "," + VEventTag(uid)
}

// uidFromTags extracts the feed uid from a remote event's tag list, or
// returns "" when no vevent tag is present (the event is not ours).
func uidFromTags(tags string) string {
	for _, tag := range strings.Split(tags, ",") {
		if uid, ok := strings.CutPrefix(tag, TagVEventPrefix); ok && uid != "" {
			return uid
		}
	}
	return ""
}

func stripCommas(s string) string {
	return strings.ReplaceAll(s, ",", "")
}
