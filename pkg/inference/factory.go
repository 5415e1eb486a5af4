package inference

import (
	"github.com/pkg/errors"

	"github.com/go-go-golems/memoir/pkg/config"
)

// NewEngineFromSettings builds the configured streaming engine.
func NewEngineFromSettings(settings config.ModelSettings) (StreamingEngine, error) {
	switch settings.Provider {
	case "echo":
		return NewEchoEngine(), nil
	case "openai":
		if settings.APIKey == "" {
			return nil, errors.New("openai provider requires an api key")
		}
		return NewOpenAIEngine(settings.APIKey, settings.BaseURL), nil
	case "ollama":
		return NewOllamaEngineFromEnvironment()
	default:
		return nil, errors.Errorf("unknown model provider %q", settings.Provider)
	}
}
