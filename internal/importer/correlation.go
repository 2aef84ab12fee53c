package importer

import (
	"sort"

	"icalsync/internal/model"
)

// Correlations is the in-memory correlation store for one configuration
// during one pass: the mapping from feed uid to the remote event last
// synced for it. It is populated from persisted records, corrected by
// rediscovery against the remote directory, mutated only after successful
// remote calls, and handed back for persistence when the pass ends.
//
// Not safe for concurrent use; one pass owns one Correlations value.
type Correlations struct {
	records map[string]*model.CorrelationRecord
}

// NewCorrelations builds the store from persisted records. Later records
// with a duplicate uid overwrite earlier ones; at most one record per uid
// is the store's invariant.
func NewCorrelations(records []model.CorrelationRecord) *Correlations {
	c := &Correlations{records: make(map[string]*model.CorrelationRecord, len(records))}
	for i := range records {
		rec := records[i]
		c.records[rec.UID] = &rec
	}
	return c
}

// Find returns the record for a feed uid, or nil.
func (c *Correlations) Find(uid string) *model.CorrelationRecord {
	return c.records[uid]
}

// Upsert records a successful remote create/update: the remote id and the
// final mapping that was sent. A nil snapshot marks an adopted record
// whose remote content is unknown, forcing a full resend on next diff.
func (c *Correlations) Upsert(uid string, remoteEventID int64, snapshot map[string]string) {
	c.records[uid] = &model.CorrelationRecord{
		UID:           uid,
		RemoteEventID: remoteEventID,
		Snapshot:      snapshot,
	}
}

// Remove drops the record for a feed uid, if any.
func (c *Correlations) Remove(uid string) {
	delete(c.records, uid)
}

// Len returns the number of records.
func (c *Correlations) Len() int {
	return len(c.records)
}

// Records returns a copy of all records ordered by uid. The copy is safe
// to iterate while the store is mutated.
func (c *Correlations) Records() []model.CorrelationRecord {
	out := make([]model.CorrelationRecord, 0, len(c.records))
	for _, rec := range c.records {
		out = append(out, *rec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UID < out[j].UID })
	return out
}
