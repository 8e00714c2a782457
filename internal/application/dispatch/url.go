package dispatch

import (
	"net/url"
	"strings"
)

// IsURL reports whether text is a single http(s) URL worth analysing: the
// host must contain a dot and a bare "/" path is rejected.
func IsURL(text string) bool {
	if text == "" || strings.ContainsAny(text, " \t\r\n") {
		return false
	}
	u, err := url.Parse(text)
	if err != nil {
		return false
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return false
	}
	if u.Host == "" || !strings.Contains(u.Hostname(), ".") {
		return false
	}
	return u.Path != "/"
}
