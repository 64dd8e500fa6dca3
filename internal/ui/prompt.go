package ui

import (
	"bufio"
	"fmt"
	"io"
	"strings"
	"sync"
)

// LockPrompt asks the operator whether to retry a locked export target.
// Bulk workers share one prompt; questions are asked one at a time.
type LockPrompt struct {
	In  io.Reader
	Out io.Writer

	mu     sync.Mutex
	reader *bufio.Reader
}

// ConfirmRetry matches export.Policy.BeforeRetry. Enter retries; "s", "skip"
// or a closed input go straight to the timestamped fallback.
func (p *LockPrompt) ConfirmRetry(path string, attempt int) bool {
	if p.In == nil || p.Out == nil {
		return false
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.reader == nil {
		p.reader = bufio.NewReader(p.In)
	}
	fmt.Fprintf(p.Out, "File %s appears locked (attempt %d). Close it and press Enter to retry, or type 's' to skip and write a timestamped fallback: ", path, attempt)
	line, err := p.reader.ReadString('\n')
	if err != nil && line == "" {
		fmt.Fprintln(p.Out)
		return false
	}
	switch strings.ToLower(strings.TrimSpace(line)) {
	case "s", "skip":
		return false
	}
	return true
}
