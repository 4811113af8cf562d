package episode

import (
	"net/url"
	"strings"
)

// Context is the metadata bundle grounding the assistant in the episode the
// listener is viewing.
type Context struct {
	Code   string `json:"episodeCode"`
	Title  string `json:"title,omitempty"`
	MP3URL string `json:"mp3,omitempty"`
}

// Empty reports whether no episode code was resolved. Title and mp3 without a
// code carry no context.
func (c Context) Empty() bool {
	return c.Code == ""
}

// Metadata flattens the context into the string map sent upstream.
func (c Context) Metadata() map[string]string {
	if c.Empty() {
		return nil
	}
	m := map[string]string{"episodeCode": c.Code}
	if c.Title != "" {
		m["title"] = c.Title
	}
	if c.MP3URL != "" {
		m["mp3"] = c.MP3URL
	}
	return m
}

// Resolve determines episode context with the documented precedence: the
// embedding page's referrer URL first, the panel's own URL second. A source
// only wins when it parses and yields an episode code.
func Resolve(referrerURL, selfURL string) (Context, bool) {
	if ctx, ok := fromURL(referrerURL); ok {
		return ctx, true
	}
	if ctx, ok := fromURL(selfURL); ok {
		return ctx, true
	}
	return Context{}, false
}

func fromURL(raw string) (Context, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return Context{}, false
	}
	u, err := url.Parse(raw)
	if err != nil {
		return Context{}, false
	}
	return FromQuery(u.Query())
}

// FromQuery extracts context from already-parsed query values.
func FromQuery(q url.Values) (Context, bool) {
	ctx := Context{
		Code:   firstNonEmpty(q, "code", "episode", "ep"),
		Title:  strings.TrimSpace(q.Get("title")),
		MP3URL: strings.TrimSpace(q.Get("mp3")),
	}
	if ctx.Empty() {
		return Context{}, false
	}
	return ctx, true
}

func firstNonEmpty(q url.Values, keys ...string) string {
	for _, k := range keys {
		if v := strings.TrimSpace(q.Get(k)); v != "" {
			return v
		}
	}
	return ""
}
