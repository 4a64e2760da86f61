package vector

import (
	"testing"

	"github.com/qdrant/go-client/qdrant"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSearchFilterConditionTypes(t *testing.T) {
	f := searchFilter(map[string]any{
		"language":         "python",
		"embedding_failed": true,
		"line_count":       12,
	}, "example.com")

	require.NotNil(t, f)
	require.Len(t, f.Must, 4)

	byKey := map[string]*qdrant.Match{}
	for _, c := range f.Must {
		field := c.GetField()
		require.NotNil(t, field)
		byKey[field.Key] = field.Match
	}

	assert.Equal(t, "python", byKey["metadata.language"].GetKeyword())
	assert.Equal(t, true, byKey["metadata.embedding_failed"].GetBoolean())
	assert.Equal(t, int64(12), byKey["metadata.line_count"].GetInteger())
	assert.Equal(t, "example.com", byKey["source_id"].GetKeyword())
}

func TestSearchFilterSkipsUnsupportedValues(t *testing.T) {
	f := searchFilter(map[string]any{
		"headers": []string{"# Guide"},
		"weights": map[string]any{"a": 1},
	}, "")

	assert.Nil(t, f, "unmatched value types must not produce conditions")
}

func TestSearchFilterNilWhenEmpty(t *testing.T) {
	assert.Nil(t, searchFilter(nil, ""))
}
