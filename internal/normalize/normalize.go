// Package normalize maps raw upstream statuses into the canonical post
// representation. Normalization is pure: no hidden state, no errors on
// missing optional fields, identical input yields an identical Post.
package normalize

import (
	"html"
	"regexp"
	"strings"

	goaway "github.com/TwiN/go-away"
	"github.com/microcosm-cc/bluemonday"

	"fediwall/internal/mastodon"
	"fediwall/internal/models"
)

var whitespace = regexp.MustCompile(`\s+`)

// TextTransform is applied to post bodies after markup stripping. The default
// censors profanity; tests may substitute an identity transform.
type TextTransform func(string) string

// Normalizer converts raw statuses for one instance host. The host is needed
// to synthesize permalinks when the source omits them.
type Normalizer struct {
	instanceHost string
	policy       *bluemonday.Policy
	transform    TextTransform
}

// New returns a Normalizer with profanity censoring enabled.
func New(instanceHost string) *Normalizer {
	return &Normalizer{
		instanceHost: instanceHost,
		policy:       bluemonday.StrictPolicy(),
		transform:    goaway.Censor,
	}
}

// NewWithTransform returns a Normalizer using the given text transform in
// place of the default profanity censor.
func NewWithTransform(instanceHost string, transform TextTransform) *Normalizer {
	n := New(instanceHost)
	n.transform = transform
	return n
}

// Normalize builds the canonical Post for a raw status. Missing optional
// fields are substituted, never rejected: author name falls back to username
// and then to "Unknown", and a missing permalink is synthesized from the
// instance host, author handle and status id.
func (n *Normalizer) Normalize(s *mastodon.Status) models.Post {
	acct := s.Account

	name := acct.DisplayName
	if name == "" {
		name = acct.Username
	}
	if name == "" {
		name = "Unknown"
	}

	handle := acct.Acct
	if handle == "" {
		handle = acct.Username
	}
	if handle == "" {
		handle = "unknown"
	}

	text := n.cleanText(s.Content)

	postURL := s.URL
	if postURL == "" {
		postURL = "https://" + n.instanceHost + "/@" + handle + "/" + s.ID
	}

	post := models.Post{
		ID:       s.ID,
		Platform: models.PlatformMastodon,
		Author: models.Author{
			Name:      name,
			Handle:    handle,
			AvatarURL: acct.Avatar,
		},
		Text:      text,
		CreatedAt: s.CreatedAt,
		URL:       postURL,
		Media:     make([]models.Media, 0, len(s.MediaAttachments)),
		Hashtags:  normalizeTags(s.Tags),
	}

	for _, m := range s.MediaAttachments {
		kind := models.MediaImage
		if m.Type == "video" {
			kind = models.MediaVideo
		}
		post.Media = append(post.Media, models.Media{Type: kind, ThumbURL: m.PreviewURL})
	}

	post.Metrics = &models.Metrics{
		Reposts: s.ReblogsCount,
		Likes:   s.FavouritesCount,
	}

	return post
}

// cleanText strips markup, unescapes entities, collapses whitespace and
// applies the text transform.
func (n *Normalizer) cleanText(content string) string {
	text := n.policy.Sanitize(content)
	text = html.UnescapeString(text)
	text = strings.TrimSpace(whitespace.ReplaceAllString(text, " "))
	if n.transform != nil {
		text = n.transform(text)
	}
	return text
}

// normalizeTags lowercases tag names and de-duplicates by name while keeping
// insertion order for display.
func normalizeTags(tags []mastodon.Tag) []string {
	out := make([]string, 0, len(tags))
	seen := make(map[string]struct{}, len(tags))
	for _, t := range tags {
		name := strings.ToLower(t.Name)
		if name == "" {
			continue
		}
		if _, dup := seen[name]; dup {
			continue
		}
		seen[name] = struct{}{}
		out = append(out, name)
	}
	return out
}
