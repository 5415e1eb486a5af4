package tokens

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/go-go-golems/memoir/pkg/conversation"
)

func TestHeuristicEstimateTokens(t *testing.T) {
	h := NewHeuristic()

	assert.Equal(t, 0, h.EstimateTokens(""))
	assert.Equal(t, 1, h.EstimateTokens("a"))
	assert.Equal(t, 1, h.EstimateTokens("abcd"))
	assert.Equal(t, 2, h.EstimateTokens("abcde"))
	assert.Equal(t, 25, h.EstimateTokens(strings.Repeat("x", 100)))
}

func TestHeuristicZeroCharsPerTokenFallsBack(t *testing.T) {
	h := &Heuristic{}
	assert.Equal(t, 2, h.EstimateTokens("abcdefgh"))
}

func TestForMessagePrefersStoredEstimate(t *testing.T) {
	h := NewHeuristic()
	msg := conversation.NewMessage(conversation.NewSessionID(), conversation.RoleUser, "hello world")

	assert.Equal(t, 3, ForMessage(msg, h))

	msg.SetMetadata(conversation.MetadataTokenEstimate, 42)
	assert.Equal(t, 42, ForMessage(msg, h))

	// JSON round-trips store numbers as float64.
	msg.SetMetadata(conversation.MetadataTokenEstimate, float64(7))
	assert.Equal(t, 7, ForMessage(msg, h))
}

func TestTiktokenEstimatorUnknownModel(t *testing.T) {
	_, err := NewTiktokenEstimator("definitely-not-a-model")
	require.Error(t, err)
}
