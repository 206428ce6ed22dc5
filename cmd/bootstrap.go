package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/samsaffron/chatstream/internal/chat"
	"github.com/samsaffron/chatstream/internal/completion"
	"github.com/samsaffron/chatstream/internal/config"
	"github.com/samsaffron/chatstream/internal/llm"
	"github.com/samsaffron/chatstream/internal/logger"
	"github.com/samsaffron/chatstream/internal/mcp"
	"github.com/samsaffron/chatstream/internal/store"
	"github.com/samsaffron/chatstream/internal/tracer"
)

const mcpStartTimeout = 30 * time.Second

func loadConfig() (*config.Config, error) {
	var cfg *config.Config
	var err error
	if configPath != "" {
		cfg, err = config.LoadFile(configPath)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	provider, model := parseProviderFlag(providerFlag)
	cfg.ApplyOverrides(provider, model)
	if debugFlag {
		cfg.Log.Level = "debug"
	}
	return cfg, nil
}

// parseProviderFlag splits "provider:model". Either side may be empty.
func parseProviderFlag(flag string) (provider, model string) {
	provider, model, _ = strings.Cut(strings.TrimSpace(flag), ":")
	return provider, model
}

// app holds everything a command needs, built from the config.
type app struct {
	cfg       *config.Config
	logger    *slog.Logger
	provider  llm.Provider
	session   *completion.Session
	store     store.Store
	mcp       *mcp.Manager
	assistant completion.Assistant
	closers   []func() error
}

// newApp wires logging, tracing, storage and, when withProvider is set, the
// provider stack and completion session.
func newApp(ctx context.Context, withProvider bool) (*app, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	log, closeLog, err := logger.New(cfg.Log)
	if err != nil {
		return nil, err
	}
	a := &app{cfg: cfg, logger: log, closers: []func() error{closeLog}}

	shutdown, err := tracer.Setup(ctx, cfg.Trace)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.closers = append(a.closers, func() error {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return shutdown(ctx)
	})

	st, err := store.New(cfg.Store)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("open conversation store: %w", err)
	}
	a.store = store.NewLoggingStore(st, log)
	a.closers = append(a.closers, st.Close)

	if !withProvider {
		return a, nil
	}

	providers, err := llm.NewProvider(cfg, log)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.provider = providers.Provider
	a.session = completion.NewSession(providers.Provider,
		completion.WithEncoder(newEncoder(cfg.Chat, providers)),
		completion.WithLogger(log),
		completion.WithMaxDepth(cfg.Completion.MaxDepth),
	)
	a.assistant = completion.AssistantFromConfig(cfg.Assistant, cfg.ActiveModel())
	return a, nil
}

// newEncoder uploads large PDFs only to providers that take file
// references.
func newEncoder(cfg config.ChatConfig, providers *llm.Providers) *chat.Encoder {
	opts := []chat.EncoderOption{chat.WithPDFInlineLimit(cfg.PDFInlineLimit)}
	if providers.Provider.Capabilities().FileReferences && providers.Files != nil {
		opts = append(opts, chat.WithFileStore(providers.Files))
	}
	return chat.NewEncoder(opts...)
}

// startTools starts the configured MCP servers and returns their tools.
// Servers that fail to start are logged and skipped.
func (a *app) startTools(ctx context.Context) []llm.Tool {
	a.mcp = mcp.NewManager(a.logger)
	if err := a.mcp.LoadConfig(); err != nil {
		a.logger.Warn("load MCP config", "error", err)
		return nil
	}
	if len(a.mcp.AvailableServers()) == 0 {
		return nil
	}
	a.closers = append(a.closers, func() error {
		a.mcp.StopAll()
		return nil
	})
	if err := a.mcp.EnableAll(ctx, mcpStartTimeout); err != nil {
		a.logger.Warn("starting MCP servers", "error", err)
	}
	a.logger.Debug("MCP servers running", "servers", a.mcp.EnabledServers())
	return a.mcp.Tools()
}

// Close releases resources in reverse order of creation.
func (a *app) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
