package log

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfigureOnce(t *testing.T) {
	var buf bytes.Buffer
	Configure(Config{Output: &buf, Service: "test-service"})
	// the second call must not reconfigure
	Configure(Config{Service: "other-service"})

	l := WithComponent("demo")
	l.Info().Msg("hello")

	out := buf.String()
	assert.True(t, strings.Contains(out, `"component":"demo"`), out)
	assert.True(t, strings.Contains(out, `"service":"test-service"`), out)
	assert.False(t, strings.Contains(out, "other-service"), out)
}

func TestSessionIDContext(t *testing.T) {
	ctx := ContextWithSessionID(context.Background(), "abc-123")
	require.Equal(t, "abc-123", SessionIDFromContext(ctx))
	assert.Empty(t, SessionIDFromContext(context.Background()))
}
