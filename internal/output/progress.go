package output

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/mattn/go-isatty"
)

// writerIsTTY returns true if the given writer exposes an Fd() method
// (e.g. *os.File) and that fd is a terminal. Falls back to false for
// plain io.Writer values such as *bytes.Buffer.
func writerIsTTY(w io.Writer) bool {
	type fder interface {
		Fd() uintptr
	}
	if f, ok := w.(fder); ok {
		return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
	}
	return false
}

// Spinner shows activity while a blocking management-service call runs.
// Example: / Resolving "App1" (12s remaining)
type Spinner struct {
	message    string
	running    bool
	chars      []string
	mu         sync.Mutex
	writer     io.Writer
	ticker     *time.Ticker
	done       chan struct{}
	timeout    time.Duration
	startTime  time.Time
	showTiming bool
	lastWidth  int
}

// NewSpinner creates a spinner writing to stderr, so piped stdout stays
// clean. Call Start to show it.
func NewSpinner(message string) *Spinner {
	return &Spinner{
		message: message,
		chars:   []string{"|", "/", "-", "\\"},
		writer:  os.Stderr,
		done:    make(chan struct{}),
	}
}

// WithTimeout shows the time left before timeout, or the elapsed time when
// timeout is zero. It must be called before Start.
func (s *Spinner) WithTimeout(timeout time.Duration) *Spinner {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.timeout = timeout
	s.showTiming = true
	return s
}

// SetWriter sets the output writer (useful for testing).
func (s *Spinner) SetWriter(w io.Writer) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.writer = w
}

// Start begins the animation. On a non-TTY writer nothing is drawn.
func (s *Spinner) Start() *Spinner {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return s
	}
	s.running = true
	s.startTime = time.Now()
	s.done = make(chan struct{})
	s.lastWidth = 0

	if !writerIsTTY(s.writer) {
		return s
	}

	s.ticker = time.NewTicker(100 * time.Millisecond)
	ticker, done := s.ticker, s.done
	go func() {
		idx := 0
		for {
			select {
			case <-ticker.C:
				s.mu.Lock()
				if !s.running {
					s.mu.Unlock()
					return
				}
				line := fmt.Sprintf("%s  %s", s.chars[idx], s.formatMessage())
				fmt.Fprintf(s.writer, "\r%s", line)
				s.lastWidth = len(line)
				idx = (idx + 1) % len(s.chars)
				s.mu.Unlock()
			case <-done:
				return
			}
		}
	}()
	return s
}

// formatMessage must be called with the lock held.
func (s *Spinner) formatMessage() string {
	if !s.showTiming {
		return s.message
	}
	elapsed := time.Since(s.startTime)
	if s.timeout > 0 {
		remaining := s.timeout - elapsed
		if remaining < 0 {
			remaining = 0
		}
		return fmt.Sprintf("%s (%ds remaining)", s.message, int(remaining.Seconds()))
	}
	return fmt.Sprintf("%s (%ds elapsed)", s.message, int(elapsed.Seconds()))
}

// Running reports whether the spinner has been started and not stopped.
func (s *Spinner) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// Stop ends the animation and clears its line. It is safe to call more
// than once.
func (s *Spinner) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return
	}
	s.running = false
	if s.ticker != nil {
		s.ticker.Stop()
	}
	close(s.done)

	if s.lastWidth > 0 {
		fmt.Fprintf(s.writer, "\r%s\r", strings.Repeat(" ", s.lastWidth))
	}
}

// UpdateMessage replaces the message while the spinner runs.
func (s *Spinner) UpdateMessage(message string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.message = message
}

// StopWithMessage stops the spinner and prints a final line.
func (s *Spinner) StopWithMessage(message string) {
	s.Stop()
	s.mu.Lock()
	defer s.mu.Unlock()
	fmt.Fprintln(s.writer, message)
}
