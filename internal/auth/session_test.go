package auth

import (
	"encoding/base64"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"golang.org/x/oauth2"
)

func testSession(t *testing.T) *Session {
	t.Helper()
	s, err := New(Config{
		BaseURL:      "https://api.example.com",
		ClientID:     "cid",
		ClientSecret: "secret",
		RedirectURI:  "app://oauth",
	}, nil, filepath.Join(t.TempDir(), "token.json"), nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	return s
}

// unsignedJWT builds a token string with the given claims object and an
// empty signature. Identity decoding never verifies signatures.
func unsignedJWT(t *testing.T, claims any) string {
	t.Helper()
	header, _ := json.Marshal(map[string]string{"alg": "none", "typ": "JWT"})
	payload, err := json.Marshal(claims)
	if err != nil {
		t.Fatal(err)
	}
	enc := base64.RawURLEncoding
	return enc.EncodeToString(header) + "." + enc.EncodeToString(payload) + "."
}

func validToken(accessToken string) *oauth2.Token {
	return &oauth2.Token{
		AccessToken: accessToken,
		TokenType:   "Bearer",
		Expiry:      time.Now().Add(time.Hour),
	}
}

func TestIsAuthorized(t *testing.T) {
	s := testSession(t)
	if s.IsAuthorized() {
		t.Error("fresh session reports authorized")
	}

	if err := s.SetToken(validToken("x")); err != nil {
		t.Fatal(err)
	}
	if !s.IsAuthorized() {
		t.Error("session with valid token reports unauthorized")
	}

	expired := &oauth2.Token{AccessToken: "x", Expiry: time.Now().Add(-time.Hour)}
	if err := s.SetToken(expired); err != nil {
		t.Fatal(err)
	}
	if s.IsAuthorized() {
		t.Error("expired token reports authorized")
	}
}

func TestIdentityFromTokenClaims(t *testing.T) {
	s := testSession(t)

	tok := unsignedJWT(t, map[string]any{
		"user": map[string]any{"id": "12345", "nick": "SomeNick"},
		"exp":  time.Now().Add(time.Hour).Unix(),
	})
	if err := s.SetToken(validToken(tok)); err != nil {
		t.Fatal(err)
	}

	id, ok := s.Identity()
	if !ok {
		t.Fatal("no identity from valid claims")
	}
	if id.MemberID != "12345" || id.Nickname != "SomeNick" {
		t.Errorf("identity = %+v", id)
	}
}

func TestIdentityMalformedToken(t *testing.T) {
	cases := []struct {
		name  string
		token string
	}{
		{"not a jwt", "garbage"},
		{"bad payload", "eyJhbGciOiJub25lIn0.###."},
		{"no user claim", ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			s := testSession(t)
			tok := tc.token
			if tok == "" {
				tok = unsignedJWT(t, map[string]any{"sub": "nobody"})
			}
			if err := s.SetToken(validToken(tok)); err != nil {
				t.Fatal(err)
			}
			if _, ok := s.Identity(); ok {
				t.Error("identity decoded from malformed token")
			}
		})
	}
}

func TestIdentityWithoutToken(t *testing.T) {
	s := testSession(t)
	if _, ok := s.Identity(); ok {
		t.Error("identity without a token")
	}
}

func TestTokenPersistsAcrossSessions(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "token.json")
	cfg := Config{BaseURL: "https://api.example.com", ClientID: "cid", ClientSecret: "s"}

	s1, err := New(cfg, nil, path, nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	if err := s1.SetToken(validToken("persisted")); err != nil {
		t.Fatal(err)
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatal(err)
	}
	if info.Mode().Perm() != 0600 {
		t.Errorf("token file mode = %o, want 0600", info.Mode().Perm())
	}

	s2, err := New(cfg, nil, path, nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	tok, ok := s2.Token()
	if !ok || tok.AccessToken != "persisted" {
		t.Errorf("reloaded token = %+v", tok)
	}
}

func TestCorruptTokenFileIsDiscarded(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "token.json")
	if err := os.WriteFile(path, []byte("{not json"), 0600); err != nil {
		t.Fatal(err)
	}

	s, err := New(Config{BaseURL: "https://x", ClientID: "c", ClientSecret: "s"}, nil, path, nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	if s.IsAuthorized() {
		t.Error("authorized after corrupt token file")
	}
}

func TestLogoutForgetsEverything(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "token.json")
	s, err := New(Config{BaseURL: "https://x", ClientID: "c", ClientSecret: "s"}, nil, path, nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	if err := s.SetToken(validToken("x")); err != nil {
		t.Fatal(err)
	}
	before := s.Epoch()

	s.Logout()

	if s.IsAuthorized() {
		t.Error("authorized after logout")
	}
	if _, ok := s.Token(); ok {
		t.Error("token survives logout")
	}
	if s.Epoch() != before+1 {
		t.Errorf("epoch = %d, want %d", s.Epoch(), before+1)
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Error("token file survives logout")
	}

	// Logging out twice is harmless.
	s.Logout()
	if s.Epoch() != before+2 {
		t.Errorf("second logout epoch = %d, want %d", s.Epoch(), before+2)
	}
}

func TestAuthCodeURL(t *testing.T) {
	s := testSession(t)
	u := s.AuthCodeURL("st4te")
	if want := "https://api.example.com/oauth/authorize"; len(u) < len(want) || u[:len(want)] != want {
		t.Errorf("auth url = %q", u)
	}
}
