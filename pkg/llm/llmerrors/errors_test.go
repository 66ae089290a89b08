package llmerrors

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClassifyStatus(t *testing.T) {
	tests := []struct {
		status int
		want   ErrorType
	}{
		{401, ErrorTypeAuth},
		{403, ErrorTypeAuth},
		{429, ErrorTypeRateLimit},
		{400, ErrorTypeBadPrompt},
		{413, ErrorTypeBadPrompt},
		{500, ErrorTypeTransient},
		{503, ErrorTypeTransient},
		{302, ErrorTypeUnknown},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprint(tt.status), func(t *testing.T) {
			assert.Equal(t, tt.want, ClassifyStatus(tt.status))
		})
	}
}

func TestClassifyMessage(t *testing.T) {
	assert.Equal(t, ErrorTypeRateLimit, ClassifyMessage("429 Too Many Requests"))
	assert.Equal(t, ErrorTypeAuth, ClassifyMessage("invalid x-api-key"))
	assert.Equal(t, ErrorTypeBadPrompt, ClassifyMessage("prompt is too long: maximum context length"))
	assert.Equal(t, ErrorTypeTransient, ClassifyMessage("read tcp: connection reset by peer"))
	assert.Equal(t, ErrorTypeTransient, ClassifyMessage("unexpected EOF"))
	assert.Equal(t, ErrorTypeUnknown, ClassifyMessage("something odd"))
}

func TestClassify(t *testing.T) {
	assert.NoError(t, Classify(nil, 500, ""))

	base := errors.New("upstream said no")
	err := Classify(base, 503, "<html>")
	require.Error(t, err)
	assert.True(t, Is(err, ErrorTypeTransient))
	assert.ErrorIs(t, err, base)

	var llmErr *Error
	require.ErrorAs(t, err, &llmErr)
	assert.Equal(t, 503, llmErr.StatusCode)
	assert.Equal(t, "<html>", llmErr.BodyStub)

	// Falls back to text when the status is uninformative.
	err = Classify(errors.New("rate limit exceeded"), 0, "")
	assert.Equal(t, ErrorTypeRateLimit, TypeOf(err))

	// Already classified errors pass through.
	auth := NewErrorWithStatus(ErrorTypeAuth, 401, "bad key")
	assert.Same(t, auth, Classify(auth, 500, "").(*Error))
}

func TestErrorFormatting(t *testing.T) {
	assert.Equal(t, "LLM error (auth): bad key", NewError(ErrorTypeAuth, "bad key").Error())
	assert.Equal(t, "LLM error (transient): status 502", (&Error{Type: ErrorTypeTransient, StatusCode: 502}).Error())
	assert.Equal(t, ErrorTypeUnknown, TypeOf(errors.New("plain")))
	assert.Equal(t, "invalid", ErrorType(99).String())
}
