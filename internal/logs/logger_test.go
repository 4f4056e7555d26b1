package logs

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	cases := map[string]logrus.Level{
		"trace":   logrus.TraceLevel,
		"debug":   logrus.DebugLevel,
		"warn":    logrus.WarnLevel,
		"warning": logrus.WarnLevel,
		"error":   logrus.ErrorLevel,
		"":        logrus.InfoLevel,
		"bogus":   logrus.InfoLevel,
	}
	for in, want := range cases {
		assert.Equal(t, want, ParseLevel(in), in)
	}
}

func TestInit_JSONToFile(t *testing.T) {
	prev := Logger
	t.Cleanup(func() { Logger = prev })

	prefix := filepath.Join(t.TempDir(), "dsctrack")
	require.NoError(t, Init(Options{Level: "debug", Format: "json", File: prefix}))
	assert.Equal(t, logrus.DebugLevel, Logger.GetLevel())
	assert.IsType(t, &logrus.JSONFormatter{}, Logger.Formatter)

	Logger.Info("hello")
	matches, err := filepath.Glob(prefix + "_*.log")
	require.NoError(t, err)
	require.Len(t, matches, 1)
	b, err := os.ReadFile(matches[0])
	require.NoError(t, err)
	assert.Contains(t, string(b), `"msg":"hello"`)
}

func TestInit_BadFile(t *testing.T) {
	prev := Logger
	t.Cleanup(func() { Logger = prev })

	err := Init(Options{File: filepath.Join(t.TempDir(), "missing", "dir", "x")})
	assert.Error(t, err)
	assert.Same(t, prev, Logger)
}
