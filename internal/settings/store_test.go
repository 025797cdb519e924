package settings

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeSettings(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
}

func TestParseFetchStrategy(t *testing.T) {
	tests := []struct {
		in   string
		want FetchStrategy
	}{
		{"websocket", FetchWebsocket},
		{"rest", FetchREST},
		{" REST ", FetchREST},
		{"", FetchWebsocket},
		{"carrier-pigeon", FetchWebsocket},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, ParseFetchStrategy(tt.in), "input %q", tt.in)
	}
}

func TestSettings_IsCensored(t *testing.T) {
	assert.False(t, Settings{}.IsCensored())
	assert.True(t, Settings{Censored: true}.IsCensored())
	assert.False(t, Settings{Censored: true, Proxy: "proxy.example.org:443"}.IsCensored())
}

func TestStore_LoadMissingFile(t *testing.T) {
	s := NewStore(filepath.Join(t.TempDir(), "settings.yaml"), nil)
	require.NoError(t, s.Load())

	assert.False(t, s.Registered())
	assert.False(t, s.PushEnabled())
	assert.Equal(t, FetchWebsocket, s.FetchStrategy())
}

func TestStore_Load(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.yaml")
	writeSettings(t, path, `
registered: true
force_websocket: true
censored: true
push:
  endpoint: https://push.example.org/up/abc
  fetch_strategy: rest
`)

	s := NewStore(path, nil)
	require.NoError(t, s.Load())

	assert.True(t, s.Registered())
	assert.False(t, s.Locked())
	assert.True(t, s.ForceWebsocket())
	assert.True(t, s.Censored())
	assert.True(t, s.PushEnabled())
	assert.Equal(t, FetchREST, s.FetchStrategy())
}

func TestStore_LoadInvalid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.yaml")
	writeSettings(t, path, "registered: [not a bool")

	s := NewStore(path, nil)
	err := s.Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "parse settings")
}

func TestStore_UpdatePersistsAndNotifies(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.yaml")
	s := NewStore(path, nil)
	require.NoError(t, s.Load())

	var changes []Settings
	s.OnChange(func(old, cur Settings) {
		assert.False(t, old.Registered)
		changes = append(changes, cur)
	})

	require.NoError(t, s.Update(func(st *Settings) {
		st.Registered = true
		st.Push.Endpoint = "https://push.example.org/up/xyz"
	}))

	require.Len(t, changes, 1)
	assert.True(t, changes[0].Registered)
	assert.Equal(t, FetchWebsocket, changes[0].Push.FetchStrategy)

	reloaded := NewStore(path, nil)
	require.NoError(t, reloaded.Load())
	assert.Equal(t, s.Current(), reloaded.Current())
}

func TestStore_NoChangeNoNotify(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.yaml")
	writeSettings(t, path, "registered: true\n")

	s := NewStore(path, nil)
	require.NoError(t, s.Load())

	calls := 0
	s.OnChange(func(Settings, Settings) { calls++ })

	require.NoError(t, s.Load())
	assert.Equal(t, 0, calls)
}

func TestStore_WatchReloads(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "settings.yaml")
	writeSettings(t, path, "registered: false\n")

	s := NewStore(path, nil)
	require.NoError(t, s.Load())

	var mu sync.Mutex
	var seen []Settings
	s.OnChange(func(_, cur Settings) {
		mu.Lock()
		seen = append(seen, cur)
		mu.Unlock()
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Watch(ctx) }()
	defer func() {
		cancel()
		<-done
	}()

	// Give the watcher time to register the directory.
	time.Sleep(100 * time.Millisecond)

	// Unrelated files in the directory are ignored.
	writeSettings(t, filepath.Join(dir, "other.yaml"), "registered: true\n")
	writeSettings(t, path, "registered: true\nlocked: true\n")

	require.Eventually(t, func() bool {
		return s.Registered() && s.Locked()
	}, 2*time.Second, 10*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	require.NotEmpty(t, seen)
	assert.True(t, seen[len(seen)-1].Locked)
}
