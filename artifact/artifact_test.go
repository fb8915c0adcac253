package artifact

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBlobIDHasSchemePrefix(t *testing.T) {
	id := BlobID([]byte("hello world"))
	assert.True(t, strings.HasPrefix(id, BlobScheme))
}

func TestBlobIDIsDeterministic(t *testing.T) {
	a := BlobID([]byte("same content"))
	b := BlobID([]byte("same content"))
	assert.Equal(t, a, b)
}

func TestBlobIDDiffersForDifferentContent(t *testing.T) {
	a := BlobID([]byte("content a"))
	b := BlobID([]byte("content b"))
	assert.NotEqual(t, a, b)
}

func TestBlobIDEmptyContent(t *testing.T) {
	id := BlobID(nil)
	assert.True(t, strings.HasPrefix(id, BlobScheme))
}
