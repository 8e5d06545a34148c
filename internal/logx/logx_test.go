package logx

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestNew(t *testing.T) {
	lg, err := New("debug", true)
	require.NoError(t, err)
	assert.True(t, lg.Core().Enabled(zap.DebugLevel))

	lg, err = New("warn", false)
	require.NoError(t, err)
	assert.False(t, lg.Core().Enabled(zap.InfoLevel))
	assert.True(t, lg.Core().Enabled(zap.WarnLevel))

	_, err = New("loud", false)
	require.Error(t, err)
}
