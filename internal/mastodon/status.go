// Package mastodon speaks the upstream instance protocol: the REST timeline
// endpoint, the streaming endpoint discovery probe, and the raw wire types
// both emit. The protocol is consumed as-is, never redesigned.
package mastodon

// Account is the author block of a raw status.
type Account struct {
	Username    string `json:"username"`
	Acct        string `json:"acct"`
	DisplayName string `json:"display_name"`
	Avatar      string `json:"avatar"`
}

// MediaAttachment is a raw attachment. Kinds outside the relay's closed set
// are coerced during normalization.
type MediaAttachment struct {
	Type       string `json:"type"`
	PreviewURL string `json:"preview_url"`
}

// Tag is a raw hashtag entry.
type Tag struct {
	Name string `json:"name"`
}

// Status is the raw upstream status object, decoded only as deeply as the
// relay needs. The id is an opaque string: snowflakes on Mastodon proper,
// flake ids on Pleroma/Akkoma, never interpreted numerically.
type Status struct {
	ID               string            `json:"id"`
	CreatedAt        string            `json:"created_at"`
	URL              string            `json:"url"`
	Language         string            `json:"language"`
	Content          string            `json:"content"`
	Account          Account           `json:"account"`
	Tags             []Tag             `json:"tags"`
	MediaAttachments []MediaAttachment `json:"media_attachments"`
	ReblogsCount     int               `json:"reblogs_count"`
	FavouritesCount  int               `json:"favourites_count"`
}

// StreamEvent is the envelope emitted by the streaming endpoint. Payload is a
// JSON-encoded string; for "update" events it decodes to a Status.
type StreamEvent struct {
	Event   string `json:"event"`
	Payload string `json:"payload"`
}

// EventUpdate is the only streaming event type the relay acts on; everything
// else (delete, notification, filters_changed, ...) is ignored.
const EventUpdate = "update"
