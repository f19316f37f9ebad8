package handlers

import (
	"bufio"
	"fmt"
	"io"
	"strings"
	"sync"
)

// PromptConfirmer asks yes/no questions on a terminal.
type PromptConfirmer struct {
	mu  sync.Mutex
	in  *bufio.Reader
	out io.Writer
}

func NewPromptConfirmer(in io.Reader, out io.Writer) *PromptConfirmer {
	return &PromptConfirmer{in: bufio.NewReader(in), out: out}
}

// Confirm defaults to no on empty input or EOF.
func (c *PromptConfirmer) Confirm(prompt string) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, err := fmt.Fprintf(c.out, "%s [y/N] ", prompt); err != nil {
		return false, err
	}

	line, err := c.in.ReadString('\n')
	if err != nil && err != io.EOF {
		return false, fmt.Errorf("failed to read confirmation: %w", err)
	}

	switch strings.ToLower(strings.TrimSpace(line)) {
	case "y", "yes":
		return true, nil
	default:
		return false, nil
	}
}

// AutoConfirmer answers every question with the same value, for --yes and
// non-interactive runs.
type AutoConfirmer struct {
	Answer bool
}

func (c AutoConfirmer) Confirm(prompt string) (bool, error) {
	return c.Answer, nil
}
