package importer

// Diff computes the field-level difference between the final mapping and
// the last snapshot sent to the directory. A nil snapshot means the event
// was never sent (or was adopted by rediscovery) and yields the entire
// final mapping, forcing a full resend. A key missing from the snapshot
// counts as changed.
//
// An empty diff is the sole gate for skipping remote calls on an event.
func Diff(final, snapshot map[string]string) map[string]string {
	diff := make(map[string]string, len(final))

	if snapshot == nil {
		for key, value := range final {
			diff[key] = value
		}
		return diff
	}

	for key, value := range final {
		if prev, ok := snapshot[key]; !ok || prev != value {
			diff[key] = value
		}
	}
	return diff
}
