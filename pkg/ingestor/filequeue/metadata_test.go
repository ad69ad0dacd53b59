package filequeue

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNodeMetadataRoundTrip(t *testing.T) {
	t.Parallel()

	in := NodeMetadata{
		FilePath:      "данные/файл 😀.parquet",
		ProcessingID:  "b5c1…",
		Retries:       3,
		LastException: "read timed out",
	}
	data, err := in.Encode()
	require.NoError(t, err)

	out, err := DecodeNodeMetadata(data)
	require.NoError(t, err)
	assert.Equal(t, in, out)
}

func TestNodeMetadataToleratesUnknownFields(t *testing.T) {
	t.Parallel()

	payload := []byte(`{"file_path":"a","retries":1,"introduced_later":{"x":1}}`)
	out, err := DecodeNodeMetadata(payload)
	require.NoError(t, err)
	assert.Equal(t, "a", out.FilePath)
	assert.Equal(t, 1, out.Retries)
}

func TestNodeMetadataRejectsOversizedPayload(t *testing.T) {
	t.Parallel()

	m := NodeMetadata{FilePath: strings.Repeat("p", MaxNodePayload+1)}
	_, err := m.Encode()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "limit")
}

func TestDecodeNodeMetadataRejectsGarbage(t *testing.T) {
	t.Parallel()

	_, err := DecodeNodeMetadata([]byte("not json"))
	assert.Error(t, err)
}
