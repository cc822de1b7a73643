package scoring

import (
	"net/url"
	"strings"
)

var trackingParams = map[string]struct{}{
	"gclid":  {},
	"yclid":  {},
	"fbclid": {},
}

// CanonicalizeURL drops tracking parameters and the fragment. Unparseable
// input is returned unchanged.
func CanonicalizeURL(raw string) string {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return raw
	}
	u.Fragment = ""
	u.RawFragment = ""
	if u.RawQuery != "" {
		q := u.Query()
		for key := range q {
			lower := strings.ToLower(key)
			if _, ok := trackingParams[lower]; ok || strings.HasPrefix(lower, "utm_") {
				q.Del(key)
			}
		}
		u.RawQuery = q.Encode()
	}
	return u.String()
}
