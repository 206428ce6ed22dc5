package llm

import (
	"fmt"
	"log/slog"

	"github.com/samsaffron/chatstream/internal/config"
)

// Providers bundles the configured provider with the collaborators that
// depend on the concrete vendor.
type Providers struct {
	// Provider is the vendor adapter wrapped with rate limiting, circuit
	// breaking and retries, innermost first.
	Provider Provider
	// Files is set only when the vendor offers a file store.
	Files *GeminiFileStore
}

// NewProvider builds the provider selected by cfg.Provider.
func NewProvider(cfg *config.Config, logger *slog.Logger) (*Providers, error) {
	if logger == nil {
		logger = slog.Default()
	}

	var base Provider
	var files *GeminiFileStore
	switch cfg.Provider {
	case "gemini":
		if cfg.Gemini.APIKey == "" {
			return nil, fmt.Errorf("gemini API key not configured. Set GEMINI_API_KEY or gemini.api_key")
		}
		gemini := NewGeminiProvider(cfg.Gemini.APIKey, cfg.Gemini.BaseURL, cfg.Gemini.Model)
		base = gemini
		files = NewGeminiFileStore(gemini)
	case "openai":
		if cfg.OpenAI.APIKey == "" && cfg.OpenAI.BaseURL == "" {
			return nil, fmt.Errorf("openai API key not configured. Set OPENAI_API_KEY or openai.api_key")
		}
		base = NewOpenAIProvider(cfg.OpenAI.APIKey, cfg.OpenAI.BaseURL, cfg.OpenAI.Model)
	case "anthropic":
		if cfg.Anthropic.APIKey == "" {
			return nil, fmt.Errorf("anthropic API key not configured. Set ANTHROPIC_API_KEY or anthropic.api_key")
		}
		base = NewAnthropicProvider(cfg.Anthropic.APIKey, cfg.Anthropic.Model)
	default:
		return nil, fmt.Errorf("unknown provider: %s", cfg.Provider)
	}

	p := WrapWithRateLimit(base, cfg.RateLimit.RequestsPerMin, cfg.RateLimit.Burst)
	p = WrapWithBreaker(p, BreakerConfig{
		MaxFailures: cfg.Breaker.MaxFailures,
		Timeout:     cfg.Breaker.Timeout,
		Interval:    cfg.Breaker.Interval,
	}, logger)
	p = WrapWithRetry(p, RetryConfig{
		MaxAttempts: cfg.Retry.MaxAttempts,
		BaseBackoff: cfg.Retry.BaseBackoff,
		MaxBackoff:  cfg.Retry.MaxBackoff,
	}, logger)

	return &Providers{Provider: p, Files: files}, nil
}
