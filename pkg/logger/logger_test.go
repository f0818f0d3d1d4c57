package logger

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func captureLogger(level Level) (*StdLogger, *[]string) {
	lines := &[]string{}
	l := NewStdLogger(false, level)
	l.printf = func(format string, args ...interface{}) {
		*lines = append(*lines, fmt.Sprintf(format, args...))
	}
	return l, lines
}

func TestStdLogger_LevelFiltering(t *testing.T) {
	l, lines := captureLogger(NoticeLevel)

	l.Debug("debug %d", 1)
	l.Info("info %d", 2)
	l.Notice("notice %d", 3)
	l.Error("error %d", 4)

	require.Len(t, *lines, 2)
	assert.Equal(t, "[NOTICE] notice 3", (*lines)[0])
	assert.Equal(t, "[ERROR]  error 4", (*lines)[1])
}

func TestStdLogger_DomainPrefix(t *testing.T) {
	l, lines := captureLogger(DebugLevel)

	l.InfoWithDomain(6, "relay %s", "ok")
	l.ErrorWithDomain(0, "relay failed")
	l.DebugWithDomain(42, "unknown domain")

	require.Len(t, *lines, 3)
	assert.Equal(t, "[INFO]   [BASE] relay ok", (*lines)[0])
	assert.Equal(t, "[ERROR]  [ETH]  relay failed", (*lines)[1])
	assert.Equal(t, "[DEBUG]  [D42]  unknown domain", (*lines)[2])
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		input    string
		expected Level
		isErr    bool
	}{
		{input: "debug", expected: DebugLevel},
		{input: "INFO", expected: InfoLevel},
		{input: "", expected: InfoLevel},
		{input: "notice", expected: NoticeLevel},
		{input: " error ", expected: ErrorLevel},
		{input: "verbose", isErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := ParseLevel(tt.input)
			if tt.isErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.expected, got)
		})
	}
}
