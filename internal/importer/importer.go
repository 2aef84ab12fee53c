// Package importer implements the calendar-to-directory reconciliation
// engine: one pass loads a feed, maps every event through the configured
// field templates, diffs it against the last synced snapshot and drives
// the remote directory toward exactly mirroring the feed. Every feed
// event produces one structured log entry; failures are contained per
// item and summarized in the run counters.
package importer

import (
	"context"
	"fmt"
	"runtime/debug"
	"strconv"
	"time"

	"github.com/google/uuid"

	"icalsync/internal/directory"
	"icalsync/internal/ics"
	appLog "icalsync/internal/log"
	"icalsync/internal/mapping"
	"icalsync/internal/model"
)

const defaultExpandHorizonDays = 90

// Directory is the subset of the remote directory API the engine calls.
// Implemented by *directory.API in production and by fakes in tests.
type Directory interface {
	FindEventsByTag(ctx context.Context, tag string) ([]directory.Event, error)
	UpsertPlace(ctx context.Context, name string) (int64, error)
	UpsertOrganizer(ctx context.Context, name string) (int64, error)
	InsertEvent(ctx context.Context, payload directory.EventPayload) (int64, error)
	UpdateEvent(ctx context.Context, id int64, payload directory.EventPayload) error
	DeleteEvent(ctx context.Context, id int64) error
}

// FeedLoader loads and parses one calendar feed. Implemented by
// *ics.Fetcher.
type FeedLoader interface {
	Load(ctx context.Context, url string) (*ics.Feed, error)
}

// Importer runs reconciliation passes. All collaborators are injected;
// the importer holds no ambient state and issues no remote calls in dry
// mode, which makes a dry Importer usable without a Directory at all.
type Importer struct {
	loader FeedLoader
	dir    Directory
	dry    bool
	now    func() time.Time
}

// Option configures an Importer.
type Option func(*Importer)

// WithClock injects the time source used for run and log timestamps.
func WithClock(now func() time.Time) Option {
	return func(imp *Importer) {
		imp.now = now
	}
}

// New creates an Importer. dir may be nil when dry is true; a non-dry
// Importer without a Directory panics on first use.
func New(loader FeedLoader, dir Directory, dry bool, opts ...Option) *Importer {
	imp := &Importer{
		loader: loader,
		dir:    dir,
		dry:    dry,
		// Timestamps are stored; UTC keeps them comparable across hosts.
		now: func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(imp)
	}
	return imp
}

// Result is the outcome of one pass: the populated run (with its ordered
// log entries) and the possibly-mutated correlation record set, both to
// be persisted by the caller.
type Result struct {
	Run          *model.Run
	Correlations []model.CorrelationRecord
}

// Perform executes one reconciliation pass for the configuration against
// the given persisted correlation records. It never returns an error:
// per-item failures are recorded in the run log and counters, and any
// unexpected panic is caught at this boundary, captured with its stack
// into one log entry, and turns the run status to failure. Correlation
// mutations committed before such a failure remain in effect.
func (imp *Importer) Perform(ctx context.Context, cfg *model.Configuration, records []model.CorrelationRecord) (result *Result) {
	p := &pass{
		Importer:     imp,
		cfg:          cfg,
		run:          model.NewRun(cfg, imp.now()),
		correlations: NewCorrelations(records),
		places:       make(map[string]int64),
		organizers:   make(map[string]int64),
		seen:         make(map[string]bool),
	}

	result = &Result{Run: p.run}

	defer func() {
		if r := recover(); r != nil {
			p.log(fmt.Sprintf("Error: %v %s", r, debug.Stack()), "", nil)
			p.run.Status = model.RunFailure
		}
		result.Correlations = p.correlations.Records()
	}()

	passID := uuid.NewString()
	appLog.Info("sync pass starting",
		"pass_id", passID,
		"configuration_id", cfg.ID,
		"dry", imp.dry,
	)

	p.perform(ctx)

	appLog.Info("sync pass finished",
		"pass_id", passID,
		"configuration_id", cfg.ID,
		"status", p.run.Status,
		"new", p.run.NewEventCount,
		"updated", p.run.UpdatedEventCount,
		"unchanged", p.run.UnchangedEventCount,
		"skipped", p.run.SkippedEventCount,
		"deleted", p.run.DeletedEventCount,
		"failure", p.run.FailureEventCount,
	)
	return result
}

// pass holds the state of one Perform invocation.
type pass struct {
	*Importer

	cfg          *model.Configuration
	run          *model.Run
	correlations *Correlations

	feedName string

	// In-run caches of remote ids resolved by name, pre-seeded by
	// rediscovery.
	places     map[string]int64
	organizers map[string]int64

	// seen marks every feed uid processed in this pass; records whose
	// uid is absent are pruned afterwards.
	seen map[string]bool
}

func (p *pass) perform(ctx context.Context) {
	if !p.dry {
		if err := p.rediscover(ctx); err != nil {
			p.log("Error loading remote events: "+err.Error(), "", nil)
			p.run.Status = model.RunFailure
			return
		}
	}

	feed, err := p.loader.Load(ctx, p.cfg.URL)
	if err != nil {
		p.log("Error loading url: "+err.Error(), "", nil)
		p.run.Status = model.RunFailure
		return
	}
	p.feedName = feed.Name

	if p.cfg.ExpandRecurring {
		feed, err = p.expand(feed)
		if err != nil {
			p.log("Error expanding recurring events: "+err.Error(), "", nil)
			p.run.Status = model.RunFailure
			return
		}
	}

	for _, ev := range feed.Events {
		p.processEvent(ctx, ev)
	}

	if !p.dry {
		p.prune(ctx)
	}
}

func (p *pass) expand(feed *ics.Feed) (*ics.Feed, error) {
	horizon := p.cfg.ExpandHorizonDays
	if horizon <= 0 {
		horizon = defaultExpandHorizonDays
	}
	now := p.now()
	return ics.ExpandRecurring(feed, ics.ExpandConfig{
		RangeStart: now.AddDate(0, 0, -1),
		RangeEnd:   now.AddDate(0, 0, horizon),
	})
}

// rediscover rebuilds the correlation state from the remote directory:
// every event tagged for this configuration confirms or creates a record,
// and local records not confirmed remotely are dropped. Remote state wins
// over stale local state, so a lost or diverged local table self-heals.
// The place/organizer caches are seeded from the returned payloads.
func (p *pass) rediscover(ctx context.Context) error {
	events, err := p.dir.FindEventsByTag(ctx, ConfigurationTag(p.cfg.IdentifierTag))
	if err != nil {
		return err
	}

	confirmed := make(map[string]bool, len(events))
	for _, ev := range events {
		uid := uidFromTags(ev.Tags)
		if uid == "" {
			continue
		}

		if rec := p.correlations.Find(uid); rec == nil {
			// Remote event with no local record: adopt it. The nil
			// snapshot forces a full resend on the next diff.
			p.correlations.Upsert(uid, ev.ID, nil)
		}
		confirmed[uid] = true

		if ev.Place.ID != 0 && ev.Place.Name != "" {
			p.places[ev.Place.Name] = ev.Place.ID
		}
		if ev.Organizer.ID != 0 && ev.Organizer.Name != "" {
			p.organizers[ev.Organizer.Name] = ev.Organizer.ID
		}
	}

	for _, rec := range p.correlations.Records() {
		if !confirmed[rec.UID] {
			p.correlations.Remove(rec.UID)
		}
	}
	return nil
}

// eventState accumulates everything known about one feed event while it
// is processed, and ends up in its log entry.
type eventState struct {
	ev       ics.Event
	standard map[string]string
	final    map[string]string
	hints    []mapping.Hint
	errors   []mapping.FieldError
	diff     map[string]string

	record    *model.CorrelationRecord
	unchanged bool
	outcome   string // "", "created", "updated"
}

func (p *pass) processEvent(ctx context.Context, ev ics.Event) {
	st := &eventState{ev: ev}
	p.seen[ev.UID] = true

	st.standard = mapping.BuildStandard(ev, p.feedName)
	st.final, st.errors = mapping.ApplyTemplates(st.standard, ev, p.cfg.Templates)
	st.hints = mapping.CheckRequired(st.final)
	st.record = p.correlations.Find(ev.UID)

	if !p.dry {
		st.diff = Diff(st.final, snapshotOf(st.record))
		if len(st.diff) == 0 {
			st.unchanged = true
			st.hints = append(st.hints, mapping.Hint{Message: "Event did not change since last run"})
		} else {
			p.send(ctx, st)
		}
	}

	p.finishEvent(st)
}

// send resolves place and organizer ids, builds the remote payload and
// creates or updates the directory event. Remote failures are captured
// as event-level errors; the item still gets classified and logged, and
// the next scheduled pass retries it via the diff/correlation model.
func (p *pass) send(ctx context.Context, st *eventState) {
	placeID, err := p.resolveNamed(ctx, p.places, st.final["place_name"], p.dir.UpsertPlace)
	if err != nil {
		st.errors = append(st.errors, mapping.FieldError{Key: "place_name", Message: err.Error()})
		return
	}
	organizerID, err := p.resolveNamed(ctx, p.organizers, st.final["organizer_name"], p.dir.UpsertOrganizer)
	if err != nil {
		st.errors = append(st.errors, mapping.FieldError{Key: "organizer_name", Message: err.Error()})
		return
	}

	payload := p.buildPayload(st, placeID, organizerID)

	if st.record == nil {
		p.create(ctx, st, payload)
		return
	}

	err = p.dir.UpdateEvent(ctx, st.record.RemoteEventID, payload)
	if directory.IsNotFound(err) {
		// The correlated remote event is gone: the stale id is orphaned.
		// Fall back to create and adopt the new id.
		appLog.Warn("correlated event gone, recreating",
			"uid", st.ev.UID,
			"remote_event_id", st.record.RemoteEventID,
		)
		p.create(ctx, st, payload)
		return
	}
	if err != nil {
		st.errors = append(st.errors, mapping.FieldError{Message: err.Error()})
		return
	}

	p.correlations.Upsert(st.ev.UID, st.record.RemoteEventID, st.final)
	st.outcome = "updated"
}

func (p *pass) create(ctx context.Context, st *eventState, payload directory.EventPayload) {
	id, err := p.dir.InsertEvent(ctx, payload)
	if err != nil {
		st.errors = append(st.errors, mapping.FieldError{Message: err.Error()})
		return
	}
	p.correlations.Upsert(st.ev.UID, id, st.final)
	st.outcome = "created"
}

// resolveNamed resolves a place/organizer id by name, reusing an id
// already resolved earlier in this run for the same name.
func (p *pass) resolveNamed(ctx context.Context, cache map[string]int64, name string, upsert func(context.Context, string) (int64, error)) (int64, error) {
	if id, ok := cache[name]; ok {
		return id, nil
	}
	id, err := upsert(ctx, name)
	if err != nil {
		return 0, err
	}
	cache[name] = id
	return id, nil
}

func (p *pass) buildPayload(st *eventState, placeID, organizerID int64) directory.EventPayload {
	dateDef := directory.DateDefinition{
		Start:  st.final["start"],
		AllDay: parseBool(st.final["allday"]),
	}
	if end := st.final["end"]; end != "" {
		dateDef.End = end
	}

	return directory.EventPayload{
		Name:            st.final["name"],
		Description:     st.final["description"],
		ExternalLink:    st.final["external_link"],
		Tags:            EventTags(p.cfg.IdentifierTag, st.ev.UID),
		Place:           directory.Ref{ID: placeID},
		Organizer:       directory.Ref{ID: organizerID},
		DateDefinitions: []directory.DateDefinition{dateDef},
	}
}

// finishEvent classifies the processed event into exactly one counter and
// appends its log entry. Classification order: errors, unchanged, hints,
// then the send outcome. Exactly one counter per event keeps the counter
// sum equal to the number of items processed.
func (p *pass) finishEvent(st *eventState) {
	var message string

	switch {
	case len(st.errors) > 0:
		p.run.Status = model.RunFailure
		p.run.FailureEventCount++
		message = "Error reading event"
	case st.unchanged:
		p.run.UnchangedEventCount++
		message = "Event skipped because it did not change"
	case len(st.hints) > 0:
		p.run.SkippedEventCount++
		message = "Event skipped (see hints)"
	case st.outcome == "updated":
		p.run.UpdatedEventCount++
		message = "Event updated"
	case st.outcome == "created":
		p.run.NewEventCount++
		message = "Event imported"
	default:
		// Dry mode preview of an event that would be sent.
		message = "Event imported"
	}

	context := map[string]any{
		"vevent":   st.ev,
		"standard": st.standard,
		"event":    st.final,
		"hints":    st.hints,
		"errors":   st.errors,
	}
	if st.record != nil {
		context["correlation"] = map[string]any{
			"uid":             st.record.UID,
			"remote_event_id": st.record.RemoteEventID,
		}
	}
	if len(st.diff) > 0 {
		context["diff"] = st.diff
	}

	p.log(message, model.LogTypeEvent, context)
}

// prune deletes remote events whose feed uid was not seen in this pass.
// A 404 from the directory means already deleted and counts as success.
// Other failures are contained per record: the run is marked failure but
// the remaining prunable records are still processed.
func (p *pass) prune(ctx context.Context) {
	for _, rec := range p.correlations.Records() {
		if p.seen[rec.UID] {
			continue
		}

		var errs []mapping.FieldError
		if err := p.dir.DeleteEvent(ctx, rec.RemoteEventID); err != nil {
			errs = append(errs, mapping.FieldError{Message: err.Error()})
			p.run.Status = model.RunFailure
			p.run.FailureEventCount++
		} else {
			p.correlations.Remove(rec.UID)
			p.run.DeletedEventCount++
		}

		context := map[string]any{
			"correlation": map[string]any{
				"uid":             rec.UID,
				"remote_event_id": rec.RemoteEventID,
				"event":           rec.Snapshot,
			},
			"errors": errs,
		}
		p.log("Event deleted", model.LogTypeDeleted, context)
	}
}

func (p *pass) log(message, entryType string, context map[string]any) {
	p.run.LogEntries = append(p.run.LogEntries, model.LogEntry{
		CreatedAt: p.now(),
		Message:   message,
		Type:      entryType,
		Context:   context,
	})
}

func snapshotOf(rec *model.CorrelationRecord) map[string]string {
	if rec == nil {
		return nil
	}
	return rec.Snapshot
}

func parseBool(s string) bool {
	b, err := strconv.ParseBool(s)
	if err != nil {
		return false
	}
	return b
}
