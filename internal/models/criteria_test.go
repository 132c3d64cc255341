package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func newTestPost(text string, tags ...string) *Post {
	return &Post{
		ID:       "1",
		Platform: PlatformMastodon,
		Text:     text,
		Hashtags: tags,
	}
}

func TestCriteria_MatchesAllAbsent(t *testing.T) {
	posts := []*Post{
		newTestPost(""),
		newTestPost("hello world"),
		newTestPost("tagged", "news", "tech"),
	}
	for _, p := range posts {
		assert.True(t, Criteria{}.Matches(p, "en", nil))
	}
}

func TestCriteria_BannedWordBeatsEverything(t *testing.T) {
	post := newTestPost("this is SPAM", "news")
	banned := []string{"spam"}

	// Suppressed for a session with no other filters.
	assert.False(t, Criteria{}.Matches(post, "en", banned))

	// Suppressed even when every other criterion would match.
	c := NewCriteria("spam", "en", []string{"news"}, false)
	assert.False(t, c.Matches(post, "en", banned))

	// Case-insensitive substring.
	assert.False(t, Criteria{}.Matches(newTestPost("sPaMmy content"), "en", banned))
}

func TestCriteria_Language(t *testing.T) {
	post := newTestPost("bonjour")

	c := NewCriteria("", "FR", nil, false)
	assert.True(t, c.Matches(post, "fr", nil))
	assert.True(t, c.Matches(post, "FR", nil))
	assert.False(t, c.Matches(post, "en", nil))
	assert.False(t, c.Matches(post, "", nil))
}

func TestCriteria_TagIntersection(t *testing.T) {
	post := newTestPost("tagged post", "news", "golang")

	assert.True(t, NewCriteria("", "", []string{"news"}, false).Matches(post, "", nil))
	assert.True(t, NewCriteria("", "", []string{"sports", "golang"}, false).Matches(post, "", nil))
	assert.False(t, NewCriteria("", "", []string{"sports"}, false).Matches(post, "", nil))

	// Requested tags are lowercased at parse time; post tags are already
	// lowercase from normalization.
	assert.True(t, NewCriteria("", "", []string{"NEWS"}, false).Matches(post, "", nil))
}

func TestCriteria_KeywordQuery(t *testing.T) {
	post := newTestPost("Breaking update on releases", "golang")

	assert.True(t, NewCriteria("breaking", "", nil, false).Matches(post, "", nil))
	// Keyword also matches #-prefixed hashtags.
	assert.True(t, NewCriteria("#golang", "", nil, false).Matches(post, "", nil))
	assert.True(t, NewCriteria("#go", "", nil, false).Matches(post, "", nil))
	assert.False(t, NewCriteria("rustlang", "", nil, false).Matches(post, "", nil))
}

func TestCriteria_EmptyStringIsNotRequested(t *testing.T) {
	post := newTestPost("anything at all")

	c := NewCriteria("", "", []string{"", "  "}, false)
	assert.Empty(t, c.Tags)
	assert.True(t, c.Matches(post, "xx", nil))
}

func TestCriteria_StreamKey(t *testing.T) {
	tests := []struct {
		name     string
		criteria Criteria
		want     StreamKey
		stream   string
	}{
		{
			name:     "no filters",
			criteria: NewCriteria("", "", nil, false),
			want:     StreamKey{Scope: ScopeGlobal},
			stream:   "public",
		},
		{
			name:     "local scope",
			criteria: NewCriteria("", "", nil, true),
			want:     StreamKey{Scope: ScopeLocal},
			stream:   "public:local",
		},
		{
			name:     "single tag",
			criteria: NewCriteria("", "", []string{"News"}, false),
			want:     StreamKey{Scope: ScopeGlobal, Tag: "news"},
			stream:   "hashtag",
		},
		{
			name:     "single tag local",
			criteria: NewCriteria("", "", []string{"news"}, true),
			want:     StreamKey{Scope: ScopeLocal, Tag: "news"},
			stream:   "hashtag:local",
		},
		{
			name:     "multiple tags fall back to broad key",
			criteria: NewCriteria("", "", []string{"news", "tech"}, false),
			want:     StreamKey{Scope: ScopeGlobal},
			stream:   "public",
		},
		{
			name:     "keyword and language do not affect the key",
			criteria: NewCriteria("query", "fr", nil, false),
			want:     StreamKey{Scope: ScopeGlobal},
			stream:   "public",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			key := tt.criteria.StreamKey()
			assert.Equal(t, tt.want, key)
			assert.Equal(t, tt.stream, key.UpstreamStream())
		})
	}
}

func TestCriteria_SharedKeyDifferentFilters(t *testing.T) {
	// Sessions differing only in keyword/language share one logical key.
	a := NewCriteria("", "", []string{"news"}, false)
	b := NewCriteria("", "fr", []string{"news"}, false)
	assert.Equal(t, a.StreamKey(), b.StreamKey())

	french := newTestPost("une annonce", "news")
	english := newTestPost("an announcement", "news")

	assert.True(t, a.Matches(french, "fr", nil))
	assert.True(t, a.Matches(english, "en", nil))
	assert.True(t, b.Matches(french, "fr", nil))
	assert.False(t, b.Matches(english, "en", nil))
}
