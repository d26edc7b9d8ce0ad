package obs

import "testing"

func TestCanonicalPath(t *testing.T) {
	cases := map[string]string{
		"":         "/",
		"/metrics": "/metrics",
		"/user/6f1c0b1e-2d3a-4b5c-8d9e-0f1a2b3c4d5e":       "/user/:id",
		"/role/6f1c0b1e-2d3a-4b5c-8d9e-0f1a2b3c4d5e/extra": "/role/:id/extra",
		"/user/admin":         "/user/admin",
		"/history?limit=10":   "/history",
		"/history/01HZX3Y6W3J5Q4R8T0V1B2N3M4": "/history/:id",
		"/upload/file":        "/upload/file",
	}
	for input, expected := range cases {
		if got := CanonicalPath(input); got != expected {
			t.Fatalf("CanonicalPath(%q)=%q, want %q", input, got, expected)
		}
	}
}
