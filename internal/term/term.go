// Package term bridges a local terminal to an interactive device shell.
package term

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"adbdash/internal/adb"

	"github.com/creack/pty"
	xterm "golang.org/x/term"
)

// Size represents terminal dimensions in rows and columns.
type Size struct {
	Rows uint16
	Cols uint16
}

// SizeOf returns the size of the terminal behind f.
func SizeOf(f *os.File) (Size, error) {
	ws, err := pty.GetsizeFull(f)
	if err != nil {
		return Size{}, err
	}
	return Size{Rows: ws.Rows, Cols: ws.Cols}, nil
}

// SttyCommand is the line typed into a fresh device shell so it wraps at
// the local terminal width. It starts with a space so shells that honour
// ignorespace keep it out of history.
func SttyCommand(size Size) string {
	return fmt.Sprintf(" stty rows %d cols %d\n", size.Rows, size.Cols)
}

// IsTerminal reports whether r is a terminal file.
func IsTerminal(r io.Reader) (*os.File, bool) {
	f, ok := r.(*os.File)
	if !ok || !xterm.IsTerminal(int(f.Fd())) {
		return nil, false
	}
	return f, true
}

// Bridge connects in and out to an interactive shell stream. When in is a
// terminal it is put in raw mode for the duration and the device shell is
// sized to match it. Bridge returns when the stream ends, in reaches EOF or
// ctx is cancelled; the stream is closed in every case.
//
// The goroutine reading in cannot be interrupted and may outlive Bridge
// until the next keystroke.
func Bridge(ctx context.Context, st *adb.Stream, in io.Reader, out io.Writer) error {
	defer st.Close()

	if f, ok := IsTerminal(in); ok {
		state, err := xterm.MakeRaw(int(f.Fd()))
		if err != nil {
			return fmt.Errorf("raw mode: %w", err)
		}
		defer xterm.Restore(int(f.Fd()), state)
		if size, err := SizeOf(f); err == nil && size.Rows > 0 {
			if _, err := st.Write([]byte(SttyCommand(size))); err != nil {
				return err
			}
		}
	}

	inputDone := make(chan error, 1)
	go func() {
		buf := make([]byte, 1024)
		for {
			n, err := in.Read(buf)
			if n > 0 {
				if _, werr := st.Write(buf[:n]); werr != nil {
					inputDone <- nil
					return
				}
			}
			if err != nil {
				if errors.Is(err, io.EOF) {
					err = nil
				}
				inputDone <- err
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case err := <-inputDone:
			return err
		case chunk, ok := <-st.Data():
			if !ok {
				return st.Err()
			}
			if _, err := out.Write(chunk); err != nil {
				return err
			}
		}
	}
}
