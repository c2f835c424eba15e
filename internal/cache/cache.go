package cache

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"time"
)

// MaxPeers is how many recent hosts are remembered.
const MaxPeers = 5

// Peer is a host this device joined before.
type Peer struct {
	Addr     string `json:"addr"`
	LastUsed int64  `json:"last_used"`
}

// CachedData represents the structure of the peer cache file
type CachedData struct {
	Peers     []Peer `json:"peers"`
	Timestamp int64  `json:"timestamp"`
}

// GetCacheDir returns the XDG-compliant cache directory path
func GetCacheDir() (string, error) {
	cacheDir := os.Getenv("XDG_CACHE_HOME")
	if cacheDir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		cacheDir = filepath.Join(home, ".cache")
	}
	cacheDir = filepath.Join(cacheDir, "tasksync")
	return cacheDir, os.MkdirAll(cacheDir, 0755)
}

// GetCacheFile returns the full path to the peer cache file
func GetCacheFile() (string, error) {
	cacheDir, err := GetCacheDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(cacheDir, "peers.json"), nil
}

// LoadPeers returns remembered hosts, most recently used first. A missing
// cache file is an empty list.
func LoadPeers() ([]Peer, error) {
	cacheFile, err := GetCacheFile()
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(cacheFile)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var cached CachedData
	if err := json.Unmarshal(data, &cached); err != nil {
		return nil, err
	}
	return cached.Peers, nil
}

// RememberPeer moves addr to the front of the cache.
func RememberPeer(addr string, now time.Time) error {
	if addr == "" {
		return nil
	}
	peers, err := LoadPeers()
	if err != nil {
		// a corrupt cache is rebuilt
		peers = nil
	}

	next := []Peer{{Addr: addr, LastUsed: now.Unix()}}
	for _, p := range peers {
		if p.Addr != addr && len(next) < MaxPeers {
			next = append(next, p)
		}
	}
	return savePeers(next, now)
}

// ForgetPeers empties the cache.
func ForgetPeers() error {
	cacheFile, err := GetCacheFile()
	if err != nil {
		return err
	}
	if err := os.Remove(cacheFile); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}

// LastPeerAddr returns the most recently joined host, or "".
func LastPeerAddr() string {
	peers, err := LoadPeers()
	if err != nil || len(peers) == 0 {
		return ""
	}
	return peers[0].Addr
}

// HostAddr picks the address for joining with a bare code: the configured
// one, else the last host joined.
func HostAddr(configured string) string {
	if configured != "" {
		return configured
	}
	return LastPeerAddr()
}

func savePeers(peers []Peer, now time.Time) error {
	cacheFile, err := GetCacheFile()
	if err != nil {
		return err
	}

	cached := CachedData{
		Peers:     peers,
		Timestamp: now.Unix(),
	}

	data, err := json.MarshalIndent(cached, "", "  ")
	if err != nil {
		return err
	}

	return os.WriteFile(cacheFile, data, 0644)
}
