package logging

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func TestNewPresets(t *testing.T) {
	t.Parallel()

	for _, development := range []bool{true, false} {
		logger, err := New(development)
		require.NoError(t, err)
		require.NotNil(t, logger)
		require.True(t, logger.Core().Enabled(zapcore.InfoLevel))
		require.Equal(t, development, logger.Core().Enabled(zapcore.DebugLevel))
		logger.Info("logger ready", zap.Bool("development", development))
	}
}

func TestNewWithLevel(t *testing.T) {
	t.Parallel()

	logger, err := NewWithLevel(true, "warn")
	require.NoError(t, err)
	require.False(t, logger.Core().Enabled(zapcore.InfoLevel))
	require.True(t, logger.Core().Enabled(zapcore.WarnLevel))

	_, err = NewWithLevel(false, "loud")
	require.ErrorContains(t, err, "parse log level")
}

func TestRedact(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name    string
		text    string
		secrets []string
		want    string
	}{
		{
			name:    "query string",
			text:    `Get "https://app.example/api/v1?api_key=s3cr3t&url=x": dial tcp`,
			secrets: []string{"s3cr3t"},
			want:    `Get "https://app.example/api/v1?api_key=REDACTED&url=x": dial tcp`,
		},
		{
			name:    "escaped form",
			text:    "api_key=a%2Bb%2Fc",
			secrets: []string{"a+b/c"},
			want:    "api_key=REDACTED",
		},
		{
			name:    "empty secret is ignored",
			text:    "nothing to hide",
			secrets: []string{""},
			want:    "nothing to hide",
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			require.Equal(t, tc.want, Redact(tc.text, tc.secrets...))
		})
	}
}

func TestRedactErrorKeepsChain(t *testing.T) {
	t.Parallel()

	require.NoError(t, RedactError(nil, "k"))

	err := RedactError(fmt.Errorf("call ?api_key=k9 failed: %w", context.DeadlineExceeded), "k9")
	require.EqualError(t, err, "call ?api_key=REDACTED failed: context deadline exceeded")
	require.True(t, errors.Is(err, context.DeadlineExceeded))
}
