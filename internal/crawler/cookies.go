package crawler

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Cookie is a single credential cookie injected into fetch sessions.
type Cookie struct {
	Name    string   `json:"name"`
	Value   string   `json:"value"`
	Domain  string   `json:"domain,omitempty"`
	Path    string   `json:"path,omitempty"`
	Expires *float64 `json:"expires,omitempty"`
}

// ParseCookies accepts either a JSON array of cookie objects or a
// "k=v; k2=v2" header string. Cookies without a domain get defaultDomain and
// cookies without a path get "/".
func ParseCookies(raw string, defaultDomain string) ([]Cookie, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}
	var cookies []Cookie
	if strings.HasPrefix(raw, "[") {
		if err := json.Unmarshal([]byte(raw), &cookies); err != nil {
			return nil, fmt.Errorf("decode cookie json: %w", err)
		}
	} else {
		cookies = parseCookieHeader(raw)
	}
	out := cookies[:0]
	for _, c := range cookies {
		if c.Name == "" {
			continue
		}
		if c.Domain == "" {
			c.Domain = defaultDomain
		}
		if c.Path == "" {
			c.Path = "/"
		}
		out = append(out, c)
	}
	return out, nil
}

func parseCookieHeader(raw string) []Cookie {
	parts := strings.Split(raw, ";")
	cookies := make([]Cookie, 0, len(parts))
	for _, part := range parts {
		name, value, ok := strings.Cut(strings.TrimSpace(part), "=")
		if !ok {
			continue
		}
		cookies = append(cookies, Cookie{
			Name:  strings.TrimSpace(name),
			Value: strings.TrimSpace(value),
		})
	}
	return cookies
}

// CookieHeader renders cookies back into a Cookie request header value.
func CookieHeader(cookies []Cookie) string {
	pairs := make([]string, 0, len(cookies))
	for _, c := range cookies {
		pairs = append(pairs, c.Name+"="+c.Value)
	}
	return strings.Join(pairs, "; ")
}
