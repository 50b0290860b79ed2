package logger

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
)

func TestParseLevel(t *testing.T) {
	assert.Equal(t, zapcore.DebugLevel, ParseLevel("debug"))
	assert.Equal(t, zapcore.InfoLevel, ParseLevel("info"))
	assert.Equal(t, zapcore.WarnLevel, ParseLevel("warn"))
	assert.Equal(t, zapcore.ErrorLevel, ParseLevel("error"))
	// unknown values fall back to info
	assert.Equal(t, zapcore.InfoLevel, ParseLevel("verbose"))
	assert.Equal(t, zapcore.InfoLevel, ParseLevel(""))
}

func TestNewLogger_RejectsUnknownService(t *testing.T) {
	_, err := NewLogger("info", "json", "sassi-unknown")
	require.Error(t, err)

	for _, name := range []string{"sassi-ingestion", "sassi-ews", "sassi-alert"} {
		l, err := NewLogger("info", "console", name)
		require.NoError(t, err)
		require.NotNil(t, l)
	}
}

func TestCorrelationFields(t *testing.T) {
	f := Patient("P1")
	assert.Equal(t, FieldPatient, f.Key)
	assert.Equal(t, "P1", f.String)

	assert.Equal(t, FieldNode, Node("node-1").Key)
	assert.Equal(t, FieldConsensus, Consensus("c1").Key)
	assert.Equal(t, FieldEvent, Event("e1").Key)
	assert.Equal(t, FieldAlert, Alert("a1").Key)
}
