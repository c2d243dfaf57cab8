package main

import (
	"strings"
	"sync"

	"github.com/chzyer/readline"
)

// Console wraps readline so asynchronous output lands above the prompt
// instead of corrupting the line being typed.
type Console struct {
	rl        *readline.Instance
	mu        sync.Mutex
	closeOnce sync.Once
}

func NewConsole(prompt string) (*Console, error) {
	rl, err := readline.New(prompt)
	if err != nil {
		return nil, err
	}
	return &Console{rl: rl}, nil
}

// Close unblocks a pending Readline. It is safe to call more than once.
func (c *Console) Close() {
	c.closeOnce.Do(func() { _ = c.rl.Close() })
}

func (c *Console) SetPrompt(p string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.rl.SetPrompt(p)
	c.rl.Refresh()
}

func (c *Console) Println(msg string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, _ = c.rl.Stdout().Write([]byte("\r" + msg + "\n"))
	c.rl.Refresh()
}

func (c *Console) Readline() (string, error) {
	return c.rl.Readline()
}

// Write lets the console serve as log output.
func (c *Console) Write(p []byte) (int, error) {
	c.Println(strings.TrimRight(string(p), "\n"))
	return len(p), nil
}
