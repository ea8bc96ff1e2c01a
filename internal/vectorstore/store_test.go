package vectorstore

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateCollectionName(t *testing.T) {
	valid := []string{"knowd_chunks", "a", "tenant_42", strings.Repeat("x", 64)}
	for _, name := range valid {
		assert.NoError(t, ValidateCollectionName(name), name)
	}

	invalid := []string{"", "Knowd", "has-dash", "has space", "dots.here", strings.Repeat("x", 65)}
	for _, name := range invalid {
		assert.ErrorIs(t, ValidateCollectionName(name), ErrInvalidCollectionName, name)
	}
}

func TestRecordMetadata_WireRoundTrip(t *testing.T) {
	uploaded := time.Date(2026, 8, 30, 12, 0, 0, 123456789, time.UTC)
	md := RecordMetadata{
		TenantID:     "acme",
		Filename:     "notes.txt",
		Text:         "The sky is blue.",
		ChunkID:      "chunk-1",
		ChunkIndex:   3,
		UploadedAt:   uploaded,
		ChunkSize:    500,
		ChunkOverlap: 50,
	}

	got := metadataFromMap(md.toMap())
	assert.Equal(t, md, got)
}

func TestRecordMetadata_MalformedFieldsDegrade(t *testing.T) {
	got := metadataFromMap(map[string]string{
		metaTenantID:    "acme",
		metaChunkIndex:  "not-a-number",
		metaUploadedAt:  "not-a-time",
		metaChunkSize:   "",
	})

	assert.Equal(t, "acme", got.TenantID)
	assert.Zero(t, got.ChunkIndex)
	assert.True(t, got.UploadedAt.IsZero())
}

func TestRecordMetadata_SetExtra(t *testing.T) {
	var md RecordMetadata
	require.NoError(t, md.SetExtra(map[string]any{"source": "upload", "page": 4}))
	assert.Contains(t, md.Extra, `"source":"upload"`)

	m := md.toMap()
	assert.Equal(t, md.Extra, m[metaExtra])
}
