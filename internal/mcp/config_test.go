package mcp

import (
	"os"
	"path/filepath"
	"reflect"
	"testing"
)

func TestServerConfigTransportType(t *testing.T) {
	tests := []struct {
		name string
		cfg  ServerConfig
		want string
	}{
		{"command", ServerConfig{Command: "npx"}, "stdio"},
		{"url", ServerConfig{URL: "https://example.com/mcp"}, "http"},
		{"explicit http", ServerConfig{Type: "http"}, "http"},
		{"empty", ServerConfig{}, "stdio"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.cfg.TransportType(); got != tt.want {
				t.Errorf("TransportType() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestServerConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     ServerConfig
		wantErr bool
	}{
		{"stdio ok", ServerConfig{Command: "server"}, false},
		{"http ok", ServerConfig{URL: "https://example.com"}, false},
		{"stdio missing command", ServerConfig{}, true},
		{"http missing url", ServerConfig{Type: "http"}, true},
		{"both", ServerConfig{URL: "https://example.com", Command: "server"}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestLoadConfigMissingFile(t *testing.T) {
	cfg, err := LoadConfigFromPath(filepath.Join(t.TempDir(), "mcp.json"))
	if err != nil {
		t.Fatalf("LoadConfigFromPath: %v", err)
	}
	if cfg.Servers == nil || len(cfg.Servers) != 0 {
		t.Errorf("expected empty server map, got %v", cfg.Servers)
	}
}

func TestConfigRoundTripJSONAndYAML(t *testing.T) {
	for _, name := range []string{"mcp.json", "mcp.yaml"} {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), name)
			cfg := &Config{}
			cfg.AddServer("files", ServerConfig{Command: "mcp-files", Args: []string{"--root", "/tmp"}, Env: map[string]string{"DEBUG": "1"}})
			cfg.AddServer("search", ServerConfig{URL: "https://search.example/mcp", Headers: map[string]string{"Authorization": "Bearer $TOKEN"}})
			if err := cfg.SaveToPath(path); err != nil {
				t.Fatalf("SaveToPath: %v", err)
			}

			loaded, err := LoadConfigFromPath(path)
			if err != nil {
				t.Fatalf("LoadConfigFromPath: %v", err)
			}
			if !reflect.DeepEqual(loaded.Servers, cfg.Servers) {
				t.Errorf("servers = %+v, want %+v", loaded.Servers, cfg.Servers)
			}
			if got := loaded.ServerNames(); !reflect.DeepEqual(got, []string{"files", "search"}) {
				t.Errorf("ServerNames() = %v", got)
			}
		})
	}
}

func TestLoadConfigRejectsInvalidServer(t *testing.T) {
	path := filepath.Join(t.TempDir(), "mcp.yaml")
	data := "servers:\n  broken:\n    args: [\"--x\"]\n"
	if err := os.WriteFile(path, []byte(data), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadConfigFromPath(path); err == nil {
		t.Fatal("expected validation error for server without command")
	}
}

func TestDefaultConfigPathPrefersJSON(t *testing.T) {
	home := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", home)
	dir := filepath.Join(home, "chatstream")

	path, err := DefaultConfigPath()
	if err != nil {
		t.Fatal(err)
	}
	if path != filepath.Join(dir, "mcp.json") {
		t.Errorf("default path = %s", path)
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "mcp.yaml"), []byte("servers: {}\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	if path, _ := DefaultConfigPath(); path != filepath.Join(dir, "mcp.yaml") {
		t.Errorf("with only yaml present, path = %s", path)
	}

	if err := os.WriteFile(filepath.Join(dir, "mcp.json"), []byte("{}"), 0o600); err != nil {
		t.Fatal(err)
	}
	if path, _ := DefaultConfigPath(); path != filepath.Join(dir, "mcp.json") {
		t.Errorf("with both present, path = %s", path)
	}
}

func TestRemoveServer(t *testing.T) {
	cfg := &Config{}
	cfg.AddServer("a", ServerConfig{Command: "a"})
	if !cfg.RemoveServer("a") {
		t.Error("RemoveServer(a) = false")
	}
	if cfg.RemoveServer("a") {
		t.Error("second RemoveServer(a) = true")
	}
}
