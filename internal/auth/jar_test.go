package auth

import (
	"net/http"
	"net/url"
	"testing"
)

func TestJarResetDropsCookies(t *testing.T) {
	jar, err := NewJar()
	if err != nil {
		t.Fatal(err)
	}
	u, _ := url.Parse("https://api.example.com/")
	jar.SetCookies(u, []*http.Cookie{{Name: "session", Value: "abc"}})
	if got := jar.Cookies(u); len(got) != 1 {
		t.Fatalf("got %d cookies, want 1", len(got))
	}

	jar.Reset()

	if got := jar.Cookies(u); len(got) != 0 {
		t.Errorf("cookies survive reset: %v", got)
	}

	// The jar stays usable after a reset.
	jar.SetCookies(u, []*http.Cookie{{Name: "session", Value: "new"}})
	if got := jar.Cookies(u); len(got) != 1 {
		t.Errorf("jar unusable after reset: %v", got)
	}
}
