package optipass

import (
	"context"
	"os/exec"
	"sync"
)

// CommandExecutor runs one optimizer process.
// This abstraction enables unit testing without a real optimizer binary.
type CommandExecutor interface {
	// Run executes the command and returns the combined output (stdout+stderr).
	Run() ([]byte, error)
}

// CommandBuilder builds optimizer processes from an explicit argument
// vector. No shell is involved.
type CommandBuilder interface {
	// BuildCommand creates a CommandExecutor bound to ctx; cancelling ctx
	// kills the process.
	BuildCommand(ctx context.Context, name string, args ...string) CommandExecutor
}

// RealCommandExecutor wraps exec.Cmd to implement CommandExecutor.
type RealCommandExecutor struct {
	cmd *exec.Cmd
}

// Run executes the command and returns combined output.
func (r *RealCommandExecutor) Run() ([]byte, error) {
	return r.cmd.CombinedOutput()
}

// RealCommandBuilder implements CommandBuilder using exec.CommandContext.
type RealCommandBuilder struct {
	// Dir is the working directory for built commands; empty means the
	// current directory.
	Dir string
}

// NewRealCommandBuilder creates a new RealCommandBuilder.
func NewRealCommandBuilder() *RealCommandBuilder {
	return &RealCommandBuilder{}
}

// BuildCommand creates a CommandExecutor for the given command and arguments.
func (b *RealCommandBuilder) BuildCommand(ctx context.Context, name string, args ...string) CommandExecutor {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Dir = b.Dir
	return &RealCommandExecutor{cmd: cmd}
}

// MockCommandExecutor implements CommandExecutor for testing.
type MockCommandExecutor struct {
	// Output is the output to return from Run.
	Output []byte
	// Err is the error to return from Run.
	Err error
	// OnRun, if set, is called before returning so tests can write the
	// output artifact the real optimizer would have produced.
	OnRun func() error
	// RunCalled indicates whether Run was called.
	RunCalled bool
}

// Run returns the configured output and error.
func (m *MockCommandExecutor) Run() ([]byte, error) {
	m.RunCalled = true
	if m.OnRun != nil {
		if err := m.OnRun(); err != nil {
			return m.Output, err
		}
	}
	return m.Output, m.Err
}

// MockBuiltCommand records details of a built command.
type MockBuiltCommand struct {
	Name string
	Args []string
}

// MockCommandBuilder implements CommandBuilder for testing.
type MockCommandBuilder struct {
	mu sync.Mutex
	// Commands records all commands that were built.
	Commands []MockBuiltCommand
	// ExecutorFactory allows creating executors dynamically based on command.
	ExecutorFactory func(ctx context.Context, name string, args []string) *MockCommandExecutor
}

// NewMockCommandBuilder creates a new MockCommandBuilder.
func NewMockCommandBuilder() *MockCommandBuilder {
	return &MockCommandBuilder{}
}

// BuildCommand records the command and returns an executor from
// ExecutorFactory, or an empty MockCommandExecutor.
func (b *MockCommandBuilder) BuildCommand(ctx context.Context, name string, args ...string) CommandExecutor {
	b.mu.Lock()
	b.Commands = append(b.Commands, MockBuiltCommand{Name: name, Args: args})
	b.mu.Unlock()

	if b.ExecutorFactory != nil {
		return b.ExecutorFactory(ctx, name, args)
	}
	return &MockCommandExecutor{}
}

// LastCommand returns the most recently built command, or nil if none.
func (b *MockCommandBuilder) LastCommand() *MockBuiltCommand {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.Commands) == 0 {
		return nil
	}
	return &b.Commands[len(b.Commands)-1]
}
