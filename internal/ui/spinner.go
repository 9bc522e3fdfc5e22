package ui

import (
	"fmt"
	"sync"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
)

// SimpleSpinner animates one status line until the room view takes over the
// terminal.
type SimpleSpinner struct {
	message  string
	spinner  spinner.Spinner
	done     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewConnectionSpinner creates a spinner for network operations (Globe style).
func NewConnectionSpinner(message string) *SimpleSpinner {
	return &SimpleSpinner{
		message: message,
		spinner: spinner.Globe,
		done:    make(chan struct{}),
	}
}

// NewWaitingSpinner creates a spinner for waiting on the hub (Points style).
func NewWaitingSpinner(message string) *SimpleSpinner {
	return &SimpleSpinner{
		message: message,
		spinner: spinner.Points,
		done:    make(chan struct{}),
	}
}

func (s *SimpleSpinner) Start() {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(s.spinner.FPS)
		defer ticker.Stop()

		frames := s.spinner.Frames
		for i := 0; ; i++ {
			frame := SpinnerStyle.Render(frames[i%len(frames)])
			fmt.Fprintf(Output, "\r%s %s", frame, s.message)
			select {
			case <-s.done:
				return
			case <-ticker.C:
			}
		}
	}()
}

// Stop clears the spinner line. Safe to call more than once.
func (s *SimpleSpinner) Stop() {
	s.stopOnce.Do(func() {
		close(s.done)
		s.wg.Wait()
		fmt.Fprint(Output, "\r\033[K")
	})
}

func (s *SimpleSpinner) Success(message string) {
	s.Stop()
	PrintSuccess(message)
}

func (s *SimpleSpinner) Error(message string) {
	s.Stop()
	PrintError(message)
}
