package api

import (
	"net/http/httptest"
	"testing"
)

func TestCheckOrigin(t *testing.T) {
	cases := []struct {
		name          string
		allowedOrigin string
		isDev         bool
		origin        string
		want          bool
	}{
		{"exact match", "https://example.com", false, "https://example.com", true},
		{"trailing slash normalized", "https://example.com/", false, "https://example.com", true},
		{"lookalike suffix host rejected", "https://example.com", false, "https://example.com.evil.com", false},
		{"different host rejected", "https://example.com", false, "https://evil.com", false},
		{"subdomain rejected", "https://example.com", false, "https://sub.example.com", false},
		{"no origin header allowed", "https://example.com", false, "", true},
		{"dev mode allows anything", "https://example.com", true, "https://evil.com", true},
		{"unconfigured origin allows anything", "", false, "https://anywhere.com", true},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			h := NewWebSocketHandler(&fakeService{}, tc.allowedOrigin, tc.isDev)
			r := httptest.NewRequest("GET", "/ws/chat", nil)
			if tc.origin != "" {
				r.Header.Set("Origin", tc.origin)
			}
			if got := h.checkOrigin(r); got != tc.want {
				t.Errorf("checkOrigin(origin=%q, allowed=%q, dev=%v) = %v, want %v",
					tc.origin, tc.allowedOrigin, tc.isDev, got, tc.want)
			}
		})
	}
}
