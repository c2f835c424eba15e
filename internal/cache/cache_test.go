package cache

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupCacheDir(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("XDG_CACHE_HOME", dir)
	return dir
}

func TestGetCacheDir(t *testing.T) {
	dir := setupCacheDir(t)

	cacheDir, err := GetCacheDir()
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "tasksync"), cacheDir)

	info, err := os.Stat(cacheDir)
	require.NoError(t, err)
	assert.True(t, info.IsDir())
}

func TestGetCacheDirDefaultsToHome(t *testing.T) {
	home := t.TempDir()
	t.Setenv("XDG_CACHE_HOME", "")
	t.Setenv("HOME", home)

	cacheDir, err := GetCacheDir()
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(home, ".cache", "tasksync"), cacheDir)
}

func TestLoadPeersEmpty(t *testing.T) {
	setupCacheDir(t)

	peers, err := LoadPeers()
	require.NoError(t, err)
	assert.Empty(t, peers)
	assert.Equal(t, "", LastPeerAddr())
}

func TestRememberPeer(t *testing.T) {
	setupCacheDir(t)
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	require.NoError(t, RememberPeer("192.168.1.20:7420", now))
	require.NoError(t, RememberPeer("192.168.1.30:7420", now.Add(time.Minute)))
	require.NoError(t, RememberPeer("192.168.1.20:7420", now.Add(2*time.Minute)))

	peers, err := LoadPeers()
	require.NoError(t, err)
	require.Len(t, peers, 2)
	assert.Equal(t, "192.168.1.20:7420", peers[0].Addr)
	assert.Equal(t, now.Add(2*time.Minute).Unix(), peers[0].LastUsed)
	assert.Equal(t, "192.168.1.30:7420", peers[1].Addr)
	assert.Equal(t, "192.168.1.20:7420", LastPeerAddr())
}

func TestRememberPeerIgnoresEmpty(t *testing.T) {
	setupCacheDir(t)
	require.NoError(t, RememberPeer("", time.Now()))

	cacheFile, err := GetCacheFile()
	require.NoError(t, err)
	_, err = os.Stat(cacheFile)
	assert.True(t, os.IsNotExist(err))
}

func TestRememberPeerCapsList(t *testing.T) {
	setupCacheDir(t)
	now := time.Now()
	for i := 0; i < MaxPeers+3; i++ {
		require.NoError(t, RememberPeer("10.0.0."+strings.Repeat("1", i+1)+":7420", now))
	}

	peers, err := LoadPeers()
	require.NoError(t, err)
	assert.Len(t, peers, MaxPeers)
}

func TestCacheFileFormat(t *testing.T) {
	setupCacheDir(t)
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	require.NoError(t, RememberPeer("192.168.1.20:7420", now))

	cacheFile, err := GetCacheFile()
	require.NoError(t, err)
	data, err := os.ReadFile(cacheFile)
	require.NoError(t, err)

	var cached CachedData
	require.NoError(t, json.Unmarshal(data, &cached))
	assert.Equal(t, now.Unix(), cached.Timestamp)
	assert.Contains(t, string(data), `"addr": "192.168.1.20:7420"`)
}

func TestCorruptCacheIsRebuilt(t *testing.T) {
	setupCacheDir(t)
	cacheFile, err := GetCacheFile()
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(cacheFile, []byte("{not json"), 0644))

	_, err = LoadPeers()
	assert.Error(t, err)
	assert.Equal(t, "", LastPeerAddr())

	require.NoError(t, RememberPeer("192.168.1.20:7420", time.Now()))
	assert.Equal(t, "192.168.1.20:7420", LastPeerAddr())
}

func TestForgetPeers(t *testing.T) {
	setupCacheDir(t)
	require.NoError(t, ForgetPeers())

	require.NoError(t, RememberPeer("192.168.1.20:7420", time.Now()))
	require.NoError(t, ForgetPeers())
	assert.Equal(t, "", LastPeerAddr())
}

func TestHostAddr(t *testing.T) {
	setupCacheDir(t)
	assert.Equal(t, "", HostAddr(""))

	require.NoError(t, RememberPeer("192.168.1.20:7420", time.Now()))
	assert.Equal(t, "192.168.1.20:7420", HostAddr(""))
	assert.Equal(t, "10.0.0.1:7420", HostAddr("10.0.0.1:7420"))
}
