package optipass

import (
	"context"
	"errors"
	"runtime"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRealCommandBuilder(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("uses sh")
	}

	b := NewRealCommandBuilder()
	out, err := b.BuildCommand(context.Background(), "sh", "-c", "echo budget $0", "500000").Run()
	require.NoError(t, err)
	assert.Equal(t, "budget 500000", strings.TrimSpace(string(out)))
}

func TestRealCommandBuilder_Cancel(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("uses sleep")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err := NewRealCommandBuilder().BuildCommand(ctx, "sleep", "5").Run()
	assert.Error(t, err)
	assert.Less(t, time.Since(start), 4*time.Second)
}

func TestMockCommandExecutor(t *testing.T) {
	wrote := false
	m := &MockCommandExecutor{
		Output: []byte("done"),
		OnRun:  func() error { wrote = true; return nil },
	}
	out, err := m.Run()
	require.NoError(t, err)
	assert.True(t, m.RunCalled)
	assert.True(t, wrote)
	assert.Equal(t, "done", string(out))

	boom := errors.New("boom")
	m = &MockCommandExecutor{OnRun: func() error { return boom }}
	_, err = m.Run()
	assert.ErrorIs(t, err, boom)
}

func TestMockCommandBuilder_Records(t *testing.T) {
	b := NewMockCommandBuilder()
	assert.Nil(t, b.LastCommand())

	b.BuildCommand(context.Background(), "wine", "OptiPassMain.exe", "-b", "0")
	b.BuildCommand(context.Background(), "wine", "OptiPassMain.exe", "-b", "100")

	require.Len(t, b.Commands, 2)
	assert.Equal(t, MockBuiltCommand{Name: "wine", Args: []string{"OptiPassMain.exe", "-b", "100"}}, *b.LastCommand())
}
