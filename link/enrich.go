package link

import (
	"net/url"
	"strings"
)

// Query keys an unnamed link carries in its own URL.
const (
	queryLink                 = "link"
	querySocialTitle          = "st"
	querySocialDescription    = "sd"
	querySocialImageURL       = "si"
	queryEnableForcedRedirect = "efr"
	queryAndroidFallbackURL   = "afl"
	queryIOSFallbackURL       = "ifl"
	queryReferrer             = "referrer"
	queryIOSDeferredEnabled   = "ide"
)

// Enrich fills the fields of an unnamed link (one without DeepLinkValue)
// from the query string of requestURL. Fields whose key is missing or fails
// to decode keep their current value. Links with a DeepLinkValue are
// returned unchanged.
func Enrich(requestURL string, d Data) Data {
	if d.DeepLinkValue != nil {
		return d
	}

	u, err := url.Parse(requestURL)
	if err != nil || u.RawQuery == "" {
		return d
	}

	params := decodeQuery(u.RawQuery)

	if v, ok := params[queryLink]; ok {
		d.URL = &v
	}
	if v, ok := params[querySocialTitle]; ok {
		d.SocialTitle = &v
	}
	if v, ok := params[querySocialDescription]; ok {
		d.SocialDescription = &v
	}
	if v, ok := params[querySocialImageURL]; ok {
		d.SocialImageURL = &v
	}
	if b, ok := strictBool(params, queryEnableForcedRedirect); ok {
		d.EnableForcedRedirect = &b
	}
	if v, ok := params[queryAndroidFallbackURL]; ok {
		d.AndroidFallbackURL = &v
	}
	if v, ok := params[queryIOSFallbackURL]; ok {
		d.IOSFallbackURL = &v
	}
	if v, ok := params[queryReferrer]; ok {
		d.Referrer = &v
	}
	if b, ok := strictBool(params, queryIOSDeferredEnabled); ok {
		d.IOSDeferredDeepLinkingEnabled = &b
	}

	return d
}

// decodeQuery percent-decodes each key=value pair. Pairs that fail to decode
// are skipped and the first occurrence of a key wins.
func decodeQuery(rawQuery string) map[string]string {
	params := make(map[string]string)
	for _, part := range strings.Split(rawQuery, "&") {
		rawKey, rawValue, _ := strings.Cut(part, "=")
		key, err := url.QueryUnescape(rawKey)
		if err != nil || key == "" {
			continue
		}
		value, err := url.QueryUnescape(rawValue)
		if err != nil {
			continue
		}
		if _, seen := params[key]; !seen {
			params[key] = value
		}
	}
	return params
}

func strictBool(params map[string]string, key string) (bool, bool) {
	switch params[key] {
	case "true":
		return true, true
	case "false":
		return false, true
	default:
		return false, false
	}
}
