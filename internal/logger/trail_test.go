package logger

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLogTrail(t *testing.T) {
	var buf bytes.Buffer
	SetTrailWriter(&buf)
	defer SetTrailWriter(nil)

	assert.True(t, TrailEnabled())
	LogTrail("commit", "sha256:abc", TrailSection{Title: "trace", Body: `{"a":1}`})

	out := buf.String()
	assert.Contains(t, out, "[TRAIL][commit][sha256:abc]")
	assert.Contains(t, out, "--- TRACE ---\n{\"a\":1}\n")
	assert.Contains(t, out, "=====")
}

func TestLogTrailDisabled(t *testing.T) {
	SetTrailWriter(nil)
	assert.False(t, TrailEnabled())
	assert.NotPanics(t, func() { LogTrail("append", "1-x") })
}
