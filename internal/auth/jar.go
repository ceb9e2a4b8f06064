package auth

import (
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"sync"
)

// Jar is a cookie jar whose contents can be discarded on logout while the
// HTTP clients holding it keep working.
type Jar struct {
	mu    sync.RWMutex
	inner http.CookieJar
}

// NewJar creates an empty session cookie jar.
func NewJar() (*Jar, error) {
	inner, err := cookiejar.New(nil)
	if err != nil {
		return nil, err
	}
	return &Jar{inner: inner}, nil
}

// SetCookies implements http.CookieJar.
func (j *Jar) SetCookies(u *url.URL, cookies []*http.Cookie) {
	j.mu.RLock()
	defer j.mu.RUnlock()
	j.inner.SetCookies(u, cookies)
}

// Cookies implements http.CookieJar.
func (j *Jar) Cookies(u *url.URL) []*http.Cookie {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return j.inner.Cookies(u)
}

// Reset discards all stored cookies.
func (j *Jar) Reset() {
	inner, err := cookiejar.New(nil)
	if err != nil {
		return
	}
	j.mu.Lock()
	j.inner = inner
	j.mu.Unlock()
}
