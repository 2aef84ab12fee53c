package importer

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDiff_NilSnapshotReturnsEverything(t *testing.T) {
	final := map[string]string{"name": "A", "start": "2026-05-01T18:00:00Z"}
	assert.Equal(t, final, Diff(final, nil))
}

func TestDiff_EqualMapsAreEmpty(t *testing.T) {
	final := map[string]string{"name": "A", "start": "2026-05-01T18:00:00Z"}
	snapshot := map[string]string{"name": "A", "start": "2026-05-01T18:00:00Z"}
	assert.Empty(t, Diff(final, snapshot))
}

func TestDiff_ChangedAndMissingKeys(t *testing.T) {
	final := map[string]string{"name": "B", "start": "2026-05-01T18:00:00Z", "end": ""}
	snapshot := map[string]string{"name": "A", "start": "2026-05-01T18:00:00Z"}

	diff := Diff(final, snapshot)
	assert.Equal(t, map[string]string{"name": "B", "end": ""}, diff)
}

func TestDiff_KeysOnlyInSnapshotAreIgnored(t *testing.T) {
	final := map[string]string{"name": "A"}
	snapshot := map[string]string{"name": "A", "leftover": "x"}
	assert.Empty(t, Diff(final, snapshot))
}
