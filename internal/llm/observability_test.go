package llm

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLogRedactedPromptNoopWhenDisabled(t *testing.T) {
	ConfigureLogging(false, 0)
	// Must not panic and must not require a live logger sink.
	LogRedactedPrompt(context.Background(), []Message{TextMessage("user", "hello")})
}

func TestLogRedactedPromptEnabledDoesNotPanic(t *testing.T) {
	ConfigureLogging(true, 0)
	defer ConfigureLogging(false, 0)

	msgs := []Message{TextMessage("user", "api_key=shouldnotleak")}
	// RedactJSON only strips keyed fields in a marshaled struct; Message has
	// no "api_key" field, so this call only exercises the no-panic path. The
	// redaction guarantee itself is covered in internal/observability.
	require.NotPanics(t, func() {
		LogRedactedPrompt(context.Background(), msgs)
	})
}

func TestStartRequestSpanReturnsSpan(t *testing.T) {
	_, span := StartRequestSpan(context.Background(), "chat", "claude-sonnet", 3, 5)
	require.NotNil(t, span)
	span.End()
}

func TestRecordTokenAttributesNilSpanIsNoop(t *testing.T) {
	require.NotPanics(t, func() {
		RecordTokenAttributes(nil, 1, 2, 3)
	})
}
