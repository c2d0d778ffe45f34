package shell

import (
	"context"
	"fmt"
	"regexp"
	"sync"
)

// MockCommand is a canned response for commands matching Pattern. Pattern is
// matched literally first and then as a regular expression.
type MockCommand struct {
	Pattern string
	Output  string
	Error   error
}

// MockExecutor answers commands from a list of MockCommands. When several
// entries match the same command they are consumed in order, and the last one
// keeps answering.
type MockExecutor struct {
	mu       sync.Mutex
	commands []MockCommand
	used     []bool
	calls    []string
}

// NewMockExecutor returns an executor answering from commands.
func NewMockExecutor(commands []MockCommand) *MockExecutor {
	return &MockExecutor{
		commands: commands,
		used:     make([]bool, len(commands)),
	}
}

func (m *MockExecutor) ExecCmd(ctx context.Context, cmdStr string, envVal []string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, cmdStr)
	return m.lookup(cmdStr)
}

// Calls returns every command string the executor has seen, in order.
func (m *MockExecutor) Calls() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.calls...)
}

func (m *MockExecutor) lookup(cmdStr string) (string, error) {
	matches := make([]int, 0, 2)
	for i, c := range m.commands {
		if matchPattern(c.Pattern, cmdStr) {
			matches = append(matches, i)
		}
	}
	if len(matches) == 0 {
		return "", fmt.Errorf("unexpected command for mock executor: %s", cmdStr)
	}

	idx := matches[len(matches)-1]
	for _, i := range matches {
		if !m.used[i] {
			idx = i
			break
		}
	}
	m.used[idx] = true
	c := m.commands[idx]
	return c.Output, c.Error
}

func matchPattern(pattern, cmdStr string) bool {
	if pattern == cmdStr {
		return true
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		return false
	}
	return re.MatchString(cmdStr)
}
