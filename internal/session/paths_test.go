package session

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestDir(t *testing.T) {
	home, _ := os.UserHomeDir()
	got := Dir("main")
	want := filepath.Join(home, ".fetmsg", "sessions", "main")
	if got != want {
		t.Errorf("Dir(main) = %q, want %q", got, want)
	}
}

func TestSessionScopedPaths(t *testing.T) {
	cases := []struct {
		name   string
		got    string
		suffix string
	}{
		{"db", DBPath("test"), filepath.Join("sessions", "test", "fetmsg.db")},
		{"token", TokenPath("test"), filepath.Join("sessions", "test", "token.json")},
		{"lock", LockPath("test"), filepath.Join("sessions", "test", "LOCK")},
		{"log", LogPath("test"), filepath.Join("sessions", "test", "logs", "fetmsgd.log")},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if !strings.HasSuffix(tc.got, tc.suffix) {
				t.Errorf("got %q, want suffix %q", tc.got, tc.suffix)
			}
		})
	}
}

func TestConfigPathIsGlobal(t *testing.T) {
	got := ConfigPath()
	if strings.Contains(got, "sessions") {
		t.Errorf("ConfigPath() = %q, must not be session-scoped", got)
	}
	if !strings.HasSuffix(got, filepath.Join(".fetmsg", "config.toml")) {
		t.Errorf("ConfigPath() = %q", got)
	}
}
