package models

import "strings"

// Scope selects whether a stream covers the whole federated network or only
// locally-originated content.
type Scope string

const (
	ScopeGlobal Scope = "global"
	ScopeLocal  Scope = "local"
)

// StreamKey is the coarse-grained subscription identity the upstream protocol
// natively supports: a scope plus at most one hashtag. Sessions whose criteria
// reduce to the same key share one upstream connection; everything finer
// (keyword, language, multi-tag) is filtered downstream.
type StreamKey struct {
	Scope Scope
	Tag   string
}

// UpstreamStream returns the value of the upstream `stream` query parameter
// for this key.
func (k StreamKey) UpstreamStream() string {
	switch {
	case k.Tag != "" && k.Scope == ScopeLocal:
		return "hashtag:local"
	case k.Tag != "":
		return "hashtag"
	case k.Scope == ScopeLocal:
		return "public:local"
	default:
		return "public"
	}
}

func (k StreamKey) String() string {
	if k.Tag == "" {
		return string(k.Scope)
	}
	return string(k.Scope) + ":" + k.Tag
}

// Criteria is a downstream client's requested filter set. A zero value (or an
// empty string for any field) means that criterion is not requested and always
// passes; the relay is permissive on input and never rejects a connection for
// malformed filter values.
type Criteria struct {
	Query string
	Lang  string
	Tags  []string
	Local bool
}

// NewCriteria builds a Criteria from raw query-parameter values, lowercasing
// and discarding empties.
func NewCriteria(query, lang string, tags []string, local bool) Criteria {
	c := Criteria{
		Query: strings.ToLower(strings.TrimSpace(query)),
		Lang:  strings.ToLower(strings.TrimSpace(lang)),
		Local: local,
	}
	for _, t := range tags {
		t = strings.ToLower(strings.TrimSpace(t))
		if t != "" {
			c.Tags = append(c.Tags, t)
		}
	}
	return c
}

// StreamKey derives the logical stream key for these criteria. Exactly one
// requested tag maps to the upstream hashtag stream; zero or several tags fall
// back to the broad scope key with all tag filtering applied downstream.
func (c Criteria) StreamKey() StreamKey {
	key := StreamKey{Scope: ScopeGlobal}
	if c.Local {
		key.Scope = ScopeLocal
	}
	if len(c.Tags) == 1 {
		key.Tag = c.Tags[0]
	}
	return key
}

// Matches reports whether a normalized post passes this criteria set, given
// the source-reported language of the raw event and the globally configured
// banned-word list. It is evaluated once per session per upstream message, so
// it stays cheap: the post text is lowered at most once and only when needed.
//
// Rules, ANDed, with absent criteria always passing:
//   - banned words: any case-insensitive substring hit in the post text
//     suppresses the post outright, regardless of everything else;
//   - language: case-insensitive exact match against the raw event language;
//   - tags: the post's hashtag set must intersect the requested set;
//   - keyword: substring of the post text, or of any "#"-prefixed hashtag.
func (c Criteria) Matches(post *Post, rawLang string, banned []string) bool {
	lowered := ""
	if len(banned) > 0 || c.Query != "" {
		lowered = strings.ToLower(post.Text)
	}

	for _, w := range banned {
		if w != "" && strings.Contains(lowered, w) {
			return false
		}
	}

	if c.Lang != "" && !strings.EqualFold(rawLang, c.Lang) {
		return false
	}

	if len(c.Tags) > 0 {
		hit := false
		for _, want := range c.Tags {
			if post.HasTag(want) {
				hit = true
				break
			}
		}
		if !hit {
			return false
		}
	}

	if c.Query != "" {
		if strings.Contains(lowered, c.Query) {
			return true
		}
		for _, h := range post.Hashtags {
			if strings.Contains("#"+h, c.Query) {
				return true
			}
		}
		return false
	}

	return true
}
