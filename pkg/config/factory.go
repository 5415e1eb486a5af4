package config

import (
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/go-go-golems/memoir/pkg/archive"
	"github.com/go-go-golems/memoir/pkg/embeddings"
	"github.com/go-go-golems/memoir/pkg/store"
	"github.com/go-go-golems/memoir/pkg/tokens"
)

// NewKV builds the primary store backend for the configured variant.
func NewKV(settings *Settings) (store.KV, error) {
	if err := settings.Backend.Validate(); err != nil {
		return nil, err
	}

	switch settings.Backend.Type {
	case BackendMemory:
		return store.NewMemoryKV(), nil
	case BackendRedis:
		kv, err := store.NewRedisKV(settings.Backend.Redis.URL)
		if err != nil {
			return nil, err
		}
		if err := kv.Ping(); err != nil {
			return nil, errors.Wrap(err, "redis unreachable")
		}
		return kv, nil
	default:
		return nil, errors.Errorf("unknown backend type %q", settings.Backend.Type)
	}
}

// NewArchiver builds the advisory archival sink, a NullArchiver when none is
// configured.
func NewArchiver(settings *Settings) (archive.Archiver, error) {
	if settings.Backend.Archive == nil {
		return archive.NewNullArchiver(), nil
	}
	archiver, err := archive.NewGormArchiver(settings.Backend.Archive.DSN)
	if err != nil {
		// Archival is advisory; a missing database degrades, never breaks.
		log.Warn().Err(err).Msg("archive database unavailable, continuing without archival")
		return archive.NewNullArchiver(), nil
	}
	return archiver, nil
}

// NewEstimator builds the token estimator: the model's tiktoken codec when
// configured, the chars/4 heuristic otherwise.
func NewEstimator(settings *Settings) tokens.Estimator {
	if settings.TokenizerModel != "" {
		est, err := tokens.NewTiktokenEstimator(settings.TokenizerModel)
		if err == nil {
			return est
		}
		log.Warn().Err(err).Str("model", settings.TokenizerModel).Msg("falling back to heuristic token estimator")
	}
	return tokens.NewHeuristic()
}

// NewEmbeddingsProvider builds the configured embedding provider, nil when
// the vector capability is not enabled.
func NewEmbeddingsProvider(settings *Settings) (embeddings.Provider, error) {
	vector := settings.Backend.Vector
	if vector == nil {
		return nil, nil
	}
	switch vector.Provider {
	case "openai":
		return embeddings.NewOpenAIProvider(settings.Model.APIKey, settings.Model.BaseURL, vector.Model, vector.Dimensions), nil
	default:
		return nil, errors.Errorf("unknown embedding provider %q", vector.Provider)
	}
}

// NewSessionStore wires KV, locker, TTL and archiver into a SessionStore.
func NewSessionStore(settings *Settings) (*store.SessionStore, error) {
	kv, err := NewKV(settings)
	if err != nil {
		return nil, err
	}
	archiver, err := NewArchiver(settings)
	if err != nil {
		return nil, err
	}

	opts := []store.StoreOption{
		store.WithArchiver(archiver),
	}
	if settings.SessionTTL > 0 {
		opts = append(opts, store.WithSessionTTL(settings.SessionTTL))
	}
	return store.NewSessionStore(kv, opts...), nil
}
