package fault

import (
	stderrors "errors"
	"net/http"
	"testing"

	"github.com/jmgilman/go/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHTTPStatus(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{name: "out of bounds", err: OutOfBounds("/data", "../x", "/x"), want: http.StatusBadRequest},
		{name: "invalid", err: InvalidArgument("bad format %q", "rar"), want: http.StatusBadRequest},
		{name: "not found", err: NotFound("Folder not found: %s", "/data/a"), want: http.StatusNotFound},
		{name: "conflict", err: Conflict("/output/a"), want: http.StatusConflict},
		{name: "unauthorized", err: Unauthorized(), want: http.StatusUnauthorized},
		{name: "forbidden", err: Forbidden("remote ip %s is not allowed", "10.0.0.1"), want: http.StatusForbidden},
		{name: "tool", err: ToolFailed(CodeExtractionFailed, "7z", stderrors.New("exit 2"), "Wrong password", 2), want: http.StatusInternalServerError},
		{name: "plain", err: stderrors.New("boom"), want: http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, HTTPStatus(tt.err))
		})
	}
}

func TestToolFailed_CarriesDiagnostic(t *testing.T) {
	cause := stderrors.New("exit status 2")
	err := ToolFailed(CodeCompressionFailed, "7z", cause, "Cannot open file", 2)

	require.True(t, Is(err, CodeCompressionFailed))
	assert.ErrorIs(t, err, cause)

	resp := errors.ToJSON(err)
	require.NotNil(t, resp)
	assert.Equal(t, "COMPRESSION_FAILED", resp.Code)
	assert.Equal(t, "7z failed: Cannot open file", resp.Message)
	assert.Equal(t, "Cannot open file", resp.Context["diagnostic"])
	assert.Equal(t, 2, resp.Context["exit_code"])
}

func TestIs_NilError(t *testing.T) {
	assert.False(t, Is(nil, CodeOutOfBounds))
}
