package parser

import (
	"net/url"
	"strings"
)

var loginMarkers = []string{
	"passport.weibo.com",
	"login.sina.com.cn",
	"Sina Visitor System",
	"newlogin",
	"请先登录",
	"登录 - 新浪",
}

// LooksLikeLogin reports whether html is a login wall rather than a result
// page.
func LooksLikeLogin(html string) bool {
	if strings.TrimSpace(html) == "" {
		return false
	}
	for _, marker := range loginMarkers {
		if strings.Contains(html, marker) {
			return true
		}
	}
	return false
}

// IsLoginURL reports whether a navigation ended on a login host.
func IsLoginURL(rawURL string) bool {
	u, err := url.Parse(rawURL)
	if err != nil {
		return false
	}
	host := strings.ToLower(u.Hostname())
	return strings.HasPrefix(host, "passport.") ||
		strings.HasPrefix(host, "login.") ||
		strings.Contains(strings.ToLower(u.Path), "login")
}
