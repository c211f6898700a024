package proxy

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDetectBinaryByContentType(t *testing.T) {
	assert.True(t, DetectBinary("image/png", []byte("whatever")))
	assert.True(t, DetectBinary("application/octet-stream", nil))
	assert.False(t, DetectBinary("application/json", []byte(`{"a":1}`)))
}

func TestDetectBinaryBySniff(t *testing.T) {
	text := bytes.Repeat([]byte("hello world\n"), 10)
	assert.False(t, DetectBinary("", text))

	binary := make([]byte, 100)
	for i := range binary {
		binary[i] = byte(i % 5)
	}
	assert.True(t, DetectBinary("", binary))
}
