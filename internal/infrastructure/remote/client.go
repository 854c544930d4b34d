package remote

import (
	"net/http"
	"net/http/cookiejar"
	"time"

	"golang.org/x/net/publicsuffix"
)

// NewSessionHTTPClient returns an http.Client with a public-suffix aware
// cookie jar, for remotes that tie CSRF or session state to cookies.
func NewSessionHTTPClient(timeout time.Duration) *http.Client {
	jar, err := cookiejar.New(&cookiejar.Options{PublicSuffixList: publicsuffix.List})
	if err != nil {
		return &http.Client{Timeout: timeout}
	}
	return &http.Client{Timeout: timeout, Jar: jar}
}

// ParseTimestamp accepts the handful of layouts catalogue platforms emit and
// returns the zero time when none match.
func ParseTimestamp(value string) time.Time {
	for _, layout := range []string{
		time.RFC3339Nano,
		"2006-01-02T15:04:05.000-0700",
		"2006-01-02T15:04:05Z0700",
		"2006-01-02 15:04:05.999",
		"2006-01-02 15:04:05",
		"2006-01-02",
	} {
		if parsed, err := time.Parse(layout, value); err == nil {
			return parsed.UTC()
		}
	}
	return time.Time{}
}
