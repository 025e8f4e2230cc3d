package ui

import (
	"context"
	"errors"
	"sync"

	"adbdash/internal/backend"

	tea "github.com/charmbracelet/bubbletea"
)

// ErrPromptClosed is returned by DevicePrompt.Ask after the dashboard quit.
var ErrPromptClosed = errors.New("ui: dashboard closed")

type promptAnswer struct {
	Addr string
	OK   bool
}

// DevicePrompt lets a backend.PromptRequester ask the user for a device
// address through the add-device modal. Ask blocks until the user answers.
type DevicePrompt struct {
	requests  chan promptMsg
	done      chan struct{}
	closeOnce sync.Once
}

// NewDevicePrompt creates a prompt for one dashboard.
func NewDevicePrompt() *DevicePrompt {
	return &DevicePrompt{
		requests: make(chan promptMsg),
		done:     make(chan struct{}),
	}
}

// Ask has the signature of backend.PromptFunc.
func (p *DevicePrompt) Ask(ctx context.Context) (string, bool, error) {
	reply := make(chan promptAnswer, 1)
	select {
	case p.requests <- promptMsg{reply: reply}:
	case <-p.done:
		return "", false, ErrPromptClosed
	case <-ctx.Done():
		return "", false, ctx.Err()
	}
	select {
	case a := <-reply:
		return a.Addr, a.OK, nil
	case <-p.done:
		return "", false, ErrPromptClosed
	case <-ctx.Done():
		return "", false, ctx.Err()
	}
}

// Close makes pending and future Ask calls fail.
func (p *DevicePrompt) Close() {
	p.closeOnce.Do(func() { close(p.done) })
}

// Requester returns a requester that prompts through p.
func (p *DevicePrompt) Requester() *backend.PromptRequester {
	return &backend.PromptRequester{Prompt: p.Ask}
}

// wait returns a command delivering the next prompt request.
func (p *DevicePrompt) wait() tea.Cmd {
	return func() tea.Msg {
		select {
		case req := <-p.requests:
			return req
		case <-p.done:
			return nil
		}
	}
}
