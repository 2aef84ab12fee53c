package directory

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"

	appLog "icalsync/internal/log"
)

const perPage = 50

// Named is an id/name pair as returned by the directory for places and
// organizers.
type Named struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

// Event is the read representation of a directory event, as returned by
// the tag search. Tags is the comma-joined tag list.
type Event struct {
	ID        int64  `json:"id"`
	Tags      string `json:"tags"`
	Place     Named  `json:"place"`
	Organizer Named  `json:"organizer"`
}

// Ref references an existing directory entity by id.
type Ref struct {
	ID int64 `json:"id"`
}

// DateDefinition is one date block of an event payload. Start/End are
// RFC3339 strings; End is omitted when empty.
type DateDefinition struct {
	Start  string `json:"start"`
	End    string `json:"end,omitempty"`
	AllDay bool   `json:"allday"`
}

// Photo is an optional event image. The directory validates the image
// behind the URL, which is why photo errors get special retry treatment.
type Photo struct {
	ImageURL string `json:"image_url,omitempty"`
}

// EventPayload is the write representation of a directory event.
type EventPayload struct {
	Name            string           `json:"name"`
	Description     string           `json:"description"`
	ExternalLink    string           `json:"external_link"`
	Tags            string           `json:"tags"`
	Place           Ref              `json:"place"`
	Organizer       Ref              `json:"organizer"`
	DateDefinitions []DateDefinition `json:"date_definitions"`
	Photo           *Photo           `json:"photo,omitempty"`
}

// withoutPhoto returns a copy of the payload with the photo stripped,
// for the one-shot retry after a photo validation error.
func (p EventPayload) withoutPhoto() EventPayload {
	p.Photo = nil
	return p
}

// API wraps a Client with the organization scope all search and create
// endpoints require. One API value serves one configuration's pass.
type API struct {
	client         *Client
	OrganizationID string
}

// NewAPI scopes a Client to one directory organization.
func NewAPI(client *Client, organizationID string) *API {
	return &API{client: client, OrganizationID: organizationID}
}

type eventsPage struct {
	Items   []Event `json:"items"`
	HasNext bool    `json:"has_next"`
}

type namedPage struct {
	Items []Named `json:"items"`
}

// FindEventsByTag returns all events of the organization carrying the
// given tag, walking the paginated search sequentially until the API
// reports no further pages.
func (a *API) FindEventsByTag(ctx context.Context, tag string) ([]Event, error) {
	events := make([]Event, 0)
	page := 1

	for {
		path := fmt.Sprintf("/organizations/%s/events/search?tag=%s&per_page=%d&page=%d",
			url.PathEscape(a.OrganizationID), url.QueryEscape(tag), perPage, page)

		body, err := a.client.get(ctx, path)
		if err != nil {
			return nil, fmt.Errorf("search events by tag %q page %d: %w", tag, page, err)
		}

		var p eventsPage
		if err := json.Unmarshal(body, &p); err != nil {
			return nil, fmt.Errorf("decode event search page %d: %w", page, err)
		}
		events = append(events, p.Items...)

		if !p.HasNext {
			return events, nil
		}
		page++
	}
}

// FindPlaceByName returns the place with exactly the given name, or nil.
func (a *API) FindPlaceByName(ctx context.Context, name string) (*Named, error) {
	return a.findNamed(ctx, "places", name)
}

// InsertPlace creates a place and returns its id.
func (a *API) InsertPlace(ctx context.Context, place Named) (int64, error) {
	appLog.Debug("insert place", "name", place.Name)
	return a.insertNamed(ctx, "places", place)
}

// UpdatePlace overwrites an existing place.
func (a *API) UpdatePlace(ctx context.Context, id int64, place Named) error {
	appLog.Debug("update place", "id", id, "name", place.Name)
	return a.client.put(ctx, fmt.Sprintf("/places/%d", id), map[string]string{"name": place.Name})
}

// UpsertPlace resolves a place id by exact name match, creating the place
// when absent. An existing place is returned as-is.
func (a *API) UpsertPlace(ctx context.Context, name string) (int64, error) {
	existing, err := a.FindPlaceByName(ctx, name)
	if err != nil {
		return 0, err
	}
	if existing == nil {
		appLog.Debug("place does not exist", "name", name)
		return a.InsertPlace(ctx, Named{Name: name})
	}
	appLog.Debug("place already exists", "id", existing.ID, "name", name)
	return existing.ID, nil
}

// FindOrganizerByName returns the organizer with exactly the given name,
// or nil.
func (a *API) FindOrganizerByName(ctx context.Context, name string) (*Named, error) {
	return a.findNamed(ctx, "organizers", name)
}

// InsertOrganizer creates an organizer and returns its id.
func (a *API) InsertOrganizer(ctx context.Context, organizer Named) (int64, error) {
	appLog.Debug("insert organizer", "name", organizer.Name)
	return a.insertNamed(ctx, "organizers", organizer)
}

// UpdateOrganizer overwrites an existing organizer.
func (a *API) UpdateOrganizer(ctx context.Context, id int64, organizer Named) error {
	appLog.Debug("update organizer", "id", id, "name", organizer.Name)
	return a.client.put(ctx, fmt.Sprintf("/organizers/%d", id), map[string]string{"name": organizer.Name})
}

// UpsertOrganizer resolves an organizer id by exact name match, creating
// the organizer when absent. An existing organizer is updated in place.
func (a *API) UpsertOrganizer(ctx context.Context, name string) (int64, error) {
	existing, err := a.FindOrganizerByName(ctx, name)
	if err != nil {
		return 0, err
	}
	if existing == nil {
		appLog.Debug("organizer does not exist", "name", name)
		return a.InsertOrganizer(ctx, Named{Name: name})
	}
	appLog.Debug("organizer already exists", "id", existing.ID, "name", name)
	if err := a.UpdateOrganizer(ctx, existing.ID, Named{Name: name}); err != nil {
		return 0, err
	}
	return existing.ID, nil
}

// InsertEvent creates an event and returns its id. A 422 whose sole
// offending field is "photo" is retried once without the photo.
func (a *API) InsertEvent(ctx context.Context, payload EventPayload) (int64, error) {
	appLog.Debug("insert event", "name", payload.Name)
	path := fmt.Sprintf("/organizations/%s/events", url.PathEscape(a.OrganizationID))

	body, err := a.client.post(ctx, path, payload)
	if err != nil {
		if !isPhotoValidation(err) {
			return 0, err
		}
		appLog.Warn("insert event: retrying without photo", "name", payload.Name)
		body, err = a.client.post(ctx, path, payload.withoutPhoto())
		if err != nil {
			return 0, err
		}
	}

	var created Ref
	if err := json.Unmarshal(body, &created); err != nil {
		return 0, fmt.Errorf("decode created event: %w", err)
	}
	return created.ID, nil
}

// UpdateEvent overwrites an existing event, with the same one-shot photo
// retry as InsertEvent. A 404 is returned as NotFoundError so the caller
// can fall back to create.
func (a *API) UpdateEvent(ctx context.Context, id int64, payload EventPayload) error {
	appLog.Debug("update event", "id", id)
	path := fmt.Sprintf("/events/%d", id)

	err := a.client.put(ctx, path, payload)
	if err != nil && isPhotoValidation(err) {
		appLog.Warn("update event: retrying without photo", "id", id)
		err = a.client.put(ctx, path, payload.withoutPhoto())
	}
	return err
}

// PatchEvent partially updates an existing event, with the same one-shot
// photo retry as InsertEvent.
func (a *API) PatchEvent(ctx context.Context, id int64, payload EventPayload) error {
	appLog.Debug("patch event", "id", id)
	path := fmt.Sprintf("/events/%d", id)

	err := a.client.patch(ctx, path, payload)
	if err != nil && isPhotoValidation(err) {
		appLog.Warn("patch event: retrying without photo", "id", id)
		err = a.client.patch(ctx, path, payload.withoutPhoto())
	}
	return err
}

// DeleteEvent deletes an event. A 404 means the event is already gone
// and is not an error.
func (a *API) DeleteEvent(ctx context.Context, id int64) error {
	appLog.Debug("delete event", "id", id)

	err := a.client.delete(ctx, fmt.Sprintf("/events/%d", id))
	if IsNotFound(err) {
		appLog.Debug("event already deleted", "id", id)
		return nil
	}
	return err
}

func (a *API) findNamed(ctx context.Context, kind, name string) (*Named, error) {
	path := fmt.Sprintf("/organizations/%s/%s?name=%s",
		url.PathEscape(a.OrganizationID), kind, url.QueryEscape(name))

	body, err := a.client.get(ctx, path)
	if err != nil {
		return nil, fmt.Errorf("search %s by name %q: %w", kind, name, err)
	}

	var p namedPage
	if err := json.Unmarshal(body, &p); err != nil {
		return nil, fmt.Errorf("decode %s search: %w", kind, err)
	}

	// The search matches substrings; we require an exact name match.
	for _, item := range p.Items {
		if item.Name == name {
			return &item, nil
		}
	}
	return nil, nil
}

func (a *API) insertNamed(ctx context.Context, kind string, item Named) (int64, error) {
	path := fmt.Sprintf("/organizations/%s/%s", url.PathEscape(a.OrganizationID), kind)

	body, err := a.client.post(ctx, path, map[string]string{"name": item.Name})
	if err != nil {
		return 0, err
	}

	var created Ref
	if err := json.Unmarshal(body, &created); err != nil {
		return 0, fmt.Errorf("decode created %s: %w", kind, err)
	}
	return created.ID, nil
}

func isPhotoValidation(err error) bool {
	var ve *ValidationError
	if !errors.As(err, &ve) {
		return false
	}
	return ve.OnlyField("photo")
}
