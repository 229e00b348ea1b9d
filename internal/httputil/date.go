package httputil

import "time"

// HTTPDateLayout is the preferred RFC-7231 IMF-fixdate layout, the only
// one http_date ever produces; ParseHTTPDate additionally accepts the two
// legacy layouts RFC 7231 requires servers to tolerate on input.
const HTTPDateLayout = "Mon, 02 Jan 2006 15:04:05 GMT"

var legacyDateLayouts = []string{
	time.RFC850,
	time.ANSIC,
}

// ParseHTTPDate parses an RFC-7231 date header value (If-Modified-Since,
// Last-Modified, Date), trying the preferred layout first and falling
// back to the two legacy ones.
func ParseHTTPDate(s string) (time.Time, bool) {
	if t, err := time.Parse(HTTPDateLayout, s); err == nil {
		return t.UTC(), true
	}
	for _, layout := range legacyDateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), true
		}
	}
	return time.Time{}, false
}

// FormatHTTPDate renders t in the IMF-fixdate layout. http_date(t) round
// trips through ParseHTTPDate for any t formatted by this function.
func FormatHTTPDate(t time.Time) string {
	return t.UTC().Format(HTTPDateLayout)
}
