package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/samsaffron/chatstream/internal/llm"
)

// ServerStatus represents the current state of an MCP server.
type ServerStatus string

const (
	StatusStopped  ServerStatus = "stopped"
	StatusStarting ServerStatus = "starting"
	StatusReady    ServerStatus = "ready"
	StatusFailed   ServerStatus = "failed"
)

// ServerState holds the state of a managed MCP server.
type ServerState struct {
	Name   string
	Status ServerStatus
	Error  error
	Client *Client
}

// StatusUpdate is sent when a server's status changes.
type StatusUpdate struct {
	Name   string
	Status ServerStatus
	Error  error
}

// Manager handles MCP server lifecycle and exposes server tools as llm.Tools.
type Manager struct {
	config   *Config
	clients  map[string]*Client
	statuses map[string]*ServerState
	logger   *slog.Logger
	mu       sync.RWMutex

	// Channel for status updates (optional)
	statusChan chan StatusUpdate

	// ready is signalled whenever a server leaves StatusStarting.
	ready chan struct{}
}

// NewManager creates a new MCP manager.
func NewManager(logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		clients:  make(map[string]*Client),
		statuses: make(map[string]*ServerState),
		logger:   logger,
		ready:    make(chan struct{}, 1),
	}
}

// LoadConfig loads the MCP configuration from the default path.
func (m *Manager) LoadConfig() error {
	cfg, err := LoadConfig()
	if err != nil {
		return err
	}
	m.SetConfig(cfg)
	return nil
}

// SetConfig replaces the server configuration. Running servers are not
// affected.
func (m *Manager) SetConfig(cfg *Config) {
	m.mu.Lock()
	m.config = cfg
	m.mu.Unlock()
}

// Config returns the current configuration.
func (m *Manager) Config() *Config {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.config
}

// SetStatusChannel sets a channel to receive status updates.
func (m *Manager) SetStatusChannel(ch chan StatusUpdate) {
	m.mu.Lock()
	m.statusChan = ch
	m.mu.Unlock()
}

func (m *Manager) sendStatus(name string, status ServerStatus, err error) {
	m.mu.RLock()
	ch := m.statusChan
	m.mu.RUnlock()
	if ch != nil {
		select {
		case ch <- StatusUpdate{Name: name, Status: status, Error: err}:
		default:
		}
	}
}

// AvailableServers returns the names of all configured servers.
func (m *Manager) AvailableServers() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.config == nil {
		return nil
	}
	return m.config.ServerNames()
}

// EnabledServers returns the sorted names of running or starting servers.
func (m *Manager) EnabledServers() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var names []string
	for name, state := range m.statuses {
		if state.Status == StatusStarting || state.Status == StatusReady {
			names = append(names, name)
		}
	}
	slices.Sort(names)
	return names
}

// ServerStatus returns the current status of a server.
func (m *Manager) ServerStatus(name string) (ServerStatus, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	state, ok := m.statuses[name]
	if !ok {
		return StatusStopped, nil
	}
	return state.Status, state.Error
}

// Enable starts an MCP server in the background (non-blocking).
func (m *Manager) Enable(ctx context.Context, name string) error {
	m.mu.Lock()
	if m.config == nil {
		m.mu.Unlock()
		return fmt.Errorf("no MCP configuration loaded")
	}
	serverCfg, ok := m.config.Servers[name]
	if !ok {
		m.mu.Unlock()
		return fmt.Errorf("unknown MCP server: %s", name)
	}

	if state, ok := m.statuses[name]; ok {
		if state.Status == StatusStarting || state.Status == StatusReady {
			m.mu.Unlock()
			return nil
		}
	}

	client := NewClient(name, serverCfg)
	m.clients[name] = client
	m.statuses[name] = &ServerState{
		Name:   name,
		Status: StatusStarting,
		Client: client,
	}
	m.mu.Unlock()

	m.sendStatus(name, StatusStarting, nil)

	go func() {
		err := client.Start(ctx)

		m.mu.Lock()
		state, ok := m.statuses[name]
		if !ok || state.Client != client {
			// Disabled while starting.
			m.mu.Unlock()
			client.Stop()
			return
		}
		if err != nil {
			state.Status = StatusFailed
			state.Error = err
		} else {
			state.Status = StatusReady
			state.Error = nil
		}
		status := state.Status
		m.mu.Unlock()

		if err != nil {
			m.logger.Warn("mcp server failed to start", "server", name, "error", err)
		} else {
			m.logger.Debug("mcp server ready", "server", name, "tools", len(client.Tools()))
		}
		m.sendStatus(name, status, err)
		select {
		case m.ready <- struct{}{}:
		default:
		}
	}()

	return nil
}

// EnableAll starts every configured server and waits until none is still
// starting, or until timeout. Servers that fail are logged and skipped.
func (m *Manager) EnableAll(ctx context.Context, timeout time.Duration) error {
	for _, name := range m.AvailableServers() {
		if err := m.Enable(ctx, name); err != nil {
			return err
		}
	}
	return m.WaitReady(ctx, timeout)
}

// WaitReady blocks until no server is in StatusStarting.
func (m *Manager) WaitReady(ctx context.Context, timeout time.Duration) error {
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	for {
		if !m.anyStarting() {
			return nil
		}
		select {
		case <-m.ready:
		case <-timer.C:
			return fmt.Errorf("timed out waiting for MCP servers after %s", timeout)
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (m *Manager) anyStarting() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, state := range m.statuses {
		if state.Status == StatusStarting {
			return true
		}
	}
	return false
}

// Disable stops an MCP server.
func (m *Manager) Disable(name string) error {
	m.mu.Lock()
	client, ok := m.clients[name]
	if !ok {
		m.mu.Unlock()
		return nil
	}
	delete(m.clients, name)
	if state, ok := m.statuses[name]; ok {
		state.Status = StatusStopped
		state.Error = nil
		state.Client = nil
	}
	m.mu.Unlock()

	m.sendStatus(name, StatusStopped, nil)

	return client.Stop()
}

// Restart stops and restarts an MCP server.
func (m *Manager) Restart(ctx context.Context, name string) error {
	if err := m.Disable(name); err != nil {
		return err
	}
	return m.Enable(ctx, name)
}

// StopAll stops all running MCP servers.
func (m *Manager) StopAll() {
	m.mu.Lock()
	clients := make([]*Client, 0, len(m.clients))
	for _, c := range m.clients {
		clients = append(clients, c)
	}
	m.clients = make(map[string]*Client)
	m.statuses = make(map[string]*ServerState)
	m.mu.Unlock()

	for _, c := range clients {
		c.Stop()
	}
}

// AllTools returns all tools from all running MCP servers, sorted by name.
// Tool names are prefixed with the server name to avoid collisions.
func (m *Manager) AllTools() []ToolSpec {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var allTools []ToolSpec
	for name, state := range m.statuses {
		if state.Status != StatusReady || state.Client == nil {
			continue
		}
		for _, tool := range state.Client.Tools() {
			allTools = append(allTools, prefixTool(name, tool))
		}
	}
	slices.SortFunc(allTools, func(a, b ToolSpec) int { return strings.Compare(a.Name, b.Name) })
	return allTools
}

func prefixTool(server string, tool ToolSpec) ToolSpec {
	return ToolSpec{
		Name:        server + "__" + tool.Name,
		Description: fmt.Sprintf("[%s] %s", server, tool.Description),
		Schema:      tool.Schema,
	}
}

// Tools returns the running servers' tools wrapped as llm.Tools.
func (m *Manager) Tools() []llm.Tool {
	specs := m.AllTools()
	tools := make([]llm.Tool, 0, len(specs))
	for _, spec := range specs {
		tools = append(tools, NewMCPTool(m, spec))
	}
	return tools
}

// CallTool routes a tool call to the appropriate MCP server.
// Tool names should be prefixed with "servername__".
func (m *Manager) CallTool(ctx context.Context, fullName string, args json.RawMessage) (string, error) {
	serverName, toolName := parseToolName(fullName)
	if serverName == "" {
		return "", fmt.Errorf("invalid MCP tool name: %s (expected servername__toolname)", fullName)
	}

	m.mu.RLock()
	state, ok := m.statuses[serverName]
	m.mu.RUnlock()

	if !ok || state.Status != StatusReady || state.Client == nil {
		return "", fmt.Errorf("MCP server %s is not running", serverName)
	}

	return state.Client.CallTool(ctx, toolName, args)
}

// parseToolName extracts server name and tool name from prefixed name.
func parseToolName(fullName string) (serverName, toolName string) {
	if i := strings.Index(fullName, "__"); i >= 0 {
		return fullName[:i], fullName[i+2:]
	}
	return "", fullName
}

// GetAllStates returns the current state of all servers, sorted by name.
func (m *Manager) GetAllStates() []ServerState {
	m.mu.RLock()
	defer m.mu.RUnlock()

	states := make([]ServerState, 0, len(m.statuses))
	for _, state := range m.statuses {
		states = append(states, ServerState{
			Name:   state.Name,
			Status: state.Status,
			Error:  state.Error,
		})
	}
	slices.SortFunc(states, func(a, b ServerState) int { return strings.Compare(a.Name, b.Name) })
	return states
}
