package app

import (
	"strings"
	"testing"
)

func redirectTestService(environment string, extraOrigins []string) *Service {
	return NewService(nil, nil, nil, nil, nil, "https://app.example.com", extraOrigins, environment, "2025-01", "key", 0)
}

func TestBuildRedirectURL_BarePathRootsAtFrontendOrigin(t *testing.T) {
	service := redirectTestService("production", nil)

	url, ok := service.BuildRedirectURL("/screening/success", "/fallback", "orderId=abc")
	if !ok {
		t.Fatal("expected bare path to be accepted")
	}
	if url != "https://app.example.com/screening/success?orderId=abc" {
		t.Fatalf("unexpected redirect url %q", url)
	}
}

func TestBuildRedirectURL_EmptyRequestUsesDefaultPath(t *testing.T) {
	service := redirectTestService("production", nil)

	url, ok := service.BuildRedirectURL("", "/screening/cancelled", "")
	if !ok {
		t.Fatal("expected default path to be accepted")
	}
	if url != "https://app.example.com/screening/cancelled" {
		t.Fatalf("unexpected redirect url %q", url)
	}
}

func TestBuildRedirectURL_OriginAllowlist(t *testing.T) {
	cases := []struct {
		name        string
		environment string
		extra       []string
		requested   string
		allowed     bool
	}{
		{"frontend origin", "production", nil, "https://app.example.com/done", true},
		{"configured extra origin", "production", []string{"https://partner.example.com"}, "https://partner.example.com/done", true},
		{"vercel preview", "production", nil, "https://pr-42-rentora.vercel.app/done", true},
		{"localhost in development", "development", nil, "http://localhost:3000/done", true},
		{"localhost in production", "production", nil, "http://localhost:3000/done", false},
		{"unlisted origin", "production", nil, "https://evil.com/phish", false},
		{"scheme mismatch on frontend", "production", nil, "http://app.example.com/done", false},
		{"non-http scheme", "production", nil, "javascript:alert(1)", false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			service := redirectTestService(tc.environment, tc.extra)
			url, ok := service.BuildRedirectURL(tc.requested, "/fallback", "")
			if ok != tc.allowed {
				t.Fatalf("expected allowed=%t for %q, got %t (url=%q)", tc.allowed, tc.requested, ok, url)
			}
			if ok && !strings.HasPrefix(url, tc.requested) {
				t.Fatalf("expected accepted target to be preserved, got %q", url)
			}
		})
	}
}

func TestBuildRedirectURL_QueryAppendedWithExistingQuery(t *testing.T) {
	service := redirectTestService("production", nil)

	url, ok := service.BuildRedirectURL("https://app.example.com/done?tab=orders", "/fallback", "orderId=abc")
	if !ok {
		t.Fatal("expected frontend origin to be accepted")
	}
	if url != "https://app.example.com/done?tab=orders&orderId=abc" {
		t.Fatalf("unexpected redirect url %q", url)
	}
}

func TestQueryParams_PreservesSessionPlaceholder(t *testing.T) {
	query := queryParams(map[string]string{
		"orderId":   "o_1",
		"sessionId": "{CHECKOUT_SESSION_ID}",
		"empty":     "",
	})
	if query != "orderId=o_1&sessionId={CHECKOUT_SESSION_ID}" {
		t.Fatalf("unexpected query string %q", query)
	}
}
