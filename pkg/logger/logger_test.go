package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewLogger(t *testing.T) {
	logger := newLogger()

	assert.NotNil(t, logger)
	formatter, ok := logger.Formatter.(*logrus.TextFormatter)
	require.True(t, ok)

	assert.Equal(t, time.RFC3339Nano, formatter.TimestampFormat)
	assert.True(t, formatter.FullTimestamp)
}

func TestGetLogger_WithContextLogger(t *testing.T) {
	customLogger := logrus.NewEntry(logrus.New()).WithField("test", "value")
	ctx := WithLogger(context.Background(), customLogger)

	retrieved := G(ctx)
	require.NotNil(t, retrieved)
	assert.Equal(t, "value", retrieved.Data["test"])
}

func TestGetLogger_WithoutContextLogger(t *testing.T) {
	retrieved := G(context.Background())
	assert.Equal(t, L.Logger, retrieved.Logger)

	//nolint:staticcheck // nil context falls back to the global logger
	assert.Equal(t, L, GetLogger(nil))
}

func TestWithDocument(t *testing.T) {
	ctx := WithDocument(context.Background(), "abc123", "guide.txt")
	ctx = WithFields(ctx, logrus.Fields{"chunk": 3})

	entry := G(ctx)
	assert.Equal(t, "abc123", entry.Data["address"])
	assert.Equal(t, "guide.txt", entry.Data["source"])
	assert.Equal(t, 3, entry.Data["chunk"])
}

func TestSetLogFormat(t *testing.T) {
	l := logrus.New()
	var buf bytes.Buffer
	l.SetOutput(&buf)

	setLoggerFormat(l, "json")
	l.WithField("address", "abc").Info("hello")

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &decoded))
	assert.Equal(t, "hello", decoded["message"])
	assert.Equal(t, "info", decoded["logLevel"])
	assert.Equal(t, "abc", decoded["address"])
	assert.Contains(t, decoded, "timestamp")
}

func TestSetLogLevel(t *testing.T) {
	original := L.Logger.GetLevel()
	defer L.Logger.SetLevel(original)

	require.NoError(t, SetLogLevel("debug"))
	assert.Equal(t, logrus.DebugLevel, L.Logger.GetLevel())

	assert.Error(t, SetLogLevel("loud"))
}
