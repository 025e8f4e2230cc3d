// Package ui is the terminal dashboard, built on Bubble Tea.
//
// The app keeps a ViewStack of screens (the backend picker, then the device
// screen once a session is open) and an OverlayStack of modals drawn over
// them: confirmations, errors, the connecting spinner, the add-device
// prompt, the interactive shell, the packet log and the span tree.
//
// Keys go to an overlay that captures input first, then to the KeyHandler
// (SPC leader bindings filtered by screen), then to the top overlay, then to
// the screen. Other messages reach every overlay and the current screen.
//
// Controller, monitor, packet log and tracer run in their own goroutines and
// reach the program through channel-waiting commands; signals carry no state
// and handlers read it fresh.
package ui
