package config

import (
	"os"
	"time"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// BackendType selects the primary store implementation.
type BackendType string

const (
	BackendMemory BackendType = "memory"
	BackendRedis  BackendType = "redis"
)

type RedisSettings struct {
	URL string `yaml:"url"`
}

// ArchiveSettings enables the advisory archival sink. Only valid together
// with the redis backend: the in-memory backend is for tests and one-off
// runs, where archival makes no sense.
type ArchiveSettings struct {
	DSN string `yaml:"dsn"`
}

// VectorSettings names an external embedding capability. The engine never
// implements vector search; these settings only tell callers which provider
// to wire in.
type VectorSettings struct {
	Provider   string `yaml:"provider"`
	Model      string `yaml:"model"`
	Dimensions int    `yaml:"dimensions,omitempty"`
}

// BackendSettings is the memory-backend variant: plain memory, redis-only,
// redis+archival-db or redis+vector. Validate rejects the combinations the
// type system alone cannot rule out.
type BackendSettings struct {
	Type    BackendType      `yaml:"type"`
	Redis   *RedisSettings   `yaml:"redis,omitempty"`
	Archive *ArchiveSettings `yaml:"archive,omitempty"`
	Vector  *VectorSettings  `yaml:"vector,omitempty"`
}

func (b *BackendSettings) Validate() error {
	switch b.Type {
	case BackendMemory:
		if b.Redis != nil {
			return errors.New("memory backend does not take redis settings")
		}
		if b.Archive != nil {
			return errors.New("archive sink requires the redis backend")
		}
		if b.Vector != nil {
			return errors.New("vector capability requires the redis backend")
		}
	case BackendRedis:
		if b.Redis == nil || b.Redis.URL == "" {
			return errors.New("redis backend requires redis.url")
		}
		if b.Archive != nil && b.Archive.DSN == "" {
			return errors.New("archive sink requires archive.dsn")
		}
		if b.Vector != nil && b.Vector.Provider == "" {
			return errors.New("vector capability requires vector.provider")
		}
	case "":
		return errors.New("backend.type is required (memory or redis)")
	default:
		return errors.Errorf("unknown backend type %q", b.Type)
	}
	return nil
}

// ModelSettings select the inference backend for the demo CLI and the chat
// service.
type ModelSettings struct {
	// Provider is one of echo, openai, ollama.
	Provider string `yaml:"provider"`
	Name     string `yaml:"name,omitempty"`
	APIKey   string `yaml:"apiKey,omitempty"`
	BaseURL  string `yaml:"baseUrl,omitempty"`
}

type Settings struct {
	Backend    BackendSettings `yaml:"backend"`
	Model      ModelSettings   `yaml:"model"`
	SessionTTL time.Duration   `yaml:"sessionTTL,omitempty"`

	// TokenizerModel, when set, switches token estimation from the
	// chars/4 heuristic to the model's tiktoken codec.
	TokenizerModel string `yaml:"tokenizerModel,omitempty"`
}

func DefaultSettings() *Settings {
	return &Settings{
		Backend: BackendSettings{Type: BackendMemory},
		Model: ModelSettings{
			Provider: "echo",
		},
		SessionTTL: 24 * time.Hour,
	}
}

func (s *Settings) Validate() error {
	if err := s.Backend.Validate(); err != nil {
		return err
	}
	switch s.Model.Provider {
	case "echo", "ollama":
	case "openai":
		if s.Model.APIKey == "" {
			return errors.New("openai provider requires model.apiKey")
		}
	case "":
		return errors.New("model.provider is required")
	default:
		return errors.Errorf("unknown model provider %q", s.Model.Provider)
	}
	return nil
}

// LoadFromFile reads and validates settings from a YAML file.
func LoadFromFile(path string) (*Settings, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "reading config %s", path)
	}

	settings := DefaultSettings()
	if err := yaml.Unmarshal(b, settings); err != nil {
		return nil, errors.Wrap(err, "parsing config")
	}
	if err := settings.Validate(); err != nil {
		return nil, err
	}
	return settings, nil
}
