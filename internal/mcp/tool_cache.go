package mcp

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/samsaffron/chatstream/internal/config"
)

const toolCacheFile = "mcp-tools-cache.json"

// CachedTools is the tool list a server reported the last time it started.
type CachedTools struct {
	Tools    []ToolSpec `json:"tools"`
	CachedAt time.Time  `json:"cached_at"`
}

type toolCacheFileData struct {
	Servers map[string]CachedTools `json:"servers"`
}

func toolCachePath() (string, error) {
	dir, err := config.GetConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, toolCacheFile), nil
}

// CacheTools records the tools of a started server so `mcp list` can show
// them without starting it again.
func CacheTools(server string, tools []ToolSpec) error {
	return updateToolCache(func(servers map[string]CachedTools) {
		servers[server] = CachedTools{Tools: tools, CachedAt: time.Now().UTC()}
	})
}

// ForgetCachedTools drops the cached tools of a removed server.
func ForgetCachedTools(server string) error {
	return updateToolCache(func(servers map[string]CachedTools) {
		delete(servers, server)
	})
}

// LoadCachedTools returns the cached tools of a server.
func LoadCachedTools(server string) (CachedTools, bool) {
	path, err := toolCachePath()
	if err != nil {
		return CachedTools{}, false
	}
	cached, ok := readToolCache(path)[server]
	return cached, ok
}

func readToolCache(path string) map[string]CachedTools {
	var data toolCacheFileData
	raw, err := os.ReadFile(path)
	if err == nil {
		_ = json.Unmarshal(raw, &data)
	}
	if data.Servers == nil {
		data.Servers = make(map[string]CachedTools)
	}
	return data.Servers
}

// updateToolCache rewrites the cache through a temp file so a concurrent
// reader never sees a partial file.
func updateToolCache(update func(map[string]CachedTools)) error {
	path, err := toolCachePath()
	if err != nil {
		return err
	}
	servers := readToolCache(path)
	update(servers)

	raw, err := json.MarshalIndent(toolCacheFileData{Servers: servers}, "", "  ")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create cache dir: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), toolCacheFile+".*")
	if err != nil {
		return fmt.Errorf("write tool cache: %w", err)
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(raw); err != nil {
		tmp.Close()
		return fmt.Errorf("write tool cache: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("write tool cache: %w", err)
	}
	return os.Rename(tmp.Name(), path)
}
