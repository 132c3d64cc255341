// Package models defines the canonical domain types shared by the live relay
// and the snapshot API.
package models

// Platform identifies the source network of a post. Currently only Mastodon
// instances are relayed.
type Platform string

const (
	// PlatformMastodon is the only supported source platform.
	PlatformMastodon Platform = "mastodon"
)

// MediaType is the closed set of attachment kinds exposed to clients.
type MediaType string

const (
	MediaImage MediaType = "image"
	MediaVideo MediaType = "video"
)

// Author holds display metadata for a post's author. It is not an identity
// concept; nothing authenticates against it.
type Author struct {
	Name      string `json:"name"`
	Handle    string `json:"handle"`
	AvatarURL string `json:"avatarUrl,omitempty"`
}

// Media is a single attachment preview.
type Media struct {
	Type     MediaType `json:"type"`
	ThumbURL string    `json:"thumbUrl"`
}

// Metrics carries advisory engagement counters. They are never used for
// identity or ordering.
type Metrics struct {
	Reposts int `json:"reposts"`
	Likes   int `json:"likes"`
}

// Post is the normalized, platform-agnostic representation of an upstream
// status. It is an immutable value once constructed: normalization is a pure
// function of the raw upstream object, so re-normalizing identical input
// yields an identical Post.
type Post struct {
	ID        string   `json:"id"`
	Platform  Platform `json:"platform"`
	Author    Author   `json:"author"`
	Text      string   `json:"text"`
	CreatedAt string   `json:"createdAt"`
	URL       string   `json:"url"`
	Media     []Media  `json:"media"`
	Hashtags  []string `json:"hashtags"`
	Metrics   *Metrics `json:"metrics,omitempty"`
}

// HasTag reports whether the post carries the given lowercase tag name.
func (p *Post) HasTag(tag string) bool {
	for _, t := range p.Hashtags {
		if t == tag {
			return true
		}
	}
	return false
}
