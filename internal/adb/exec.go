package adb

import (
	"context"
	"errors"
	"io"
	"strings"

	"go.opentelemetry.io/otel/attribute"
	oteltrace "go.opentelemetry.io/otel/trace"
)

// Opener opens a service on a device and returns its stream.
type Opener func(ctx context.Context, service string) (*Stream, error)

// RunShell opens a shell for cmd through open, buffers everything it
// prints and returns it once the device closes the stream. target only
// labels spans and errors.
//
// With shellV2 the service is "shell,v2,raw:" and a non-zero exit status
// becomes a *CommandError whose Output holds stdout followed by stderr.
// Without it the output of "shell:" is returned as is and the exit status
// is unknown.
func RunShell(ctx context.Context, target string, open Opener, cmd string, shellV2 bool) (string, error) {
	ctx, span := tracer.Start(ctx, "adb.exec", oteltrace.WithAttributes(
		attribute.String("adb.target", target),
		attribute.String("adb.command", cmd),
		attribute.Bool("adb.shell_v2", shellV2),
	))
	defer span.End()

	service := "shell:" + cmd
	if shellV2 {
		service = "shell,v2,raw:" + cmd
	}
	st, err := open(ctx, service)
	if err != nil {
		span.RecordError(err)
		if errors.Is(err, ErrDisposed) {
			return "", err
		}
		return "", &CommandError{Command: cmd, ExitCode: -1, Err: err}
	}
	defer st.Close()

	out, exitCode, err := collect(ctx, st, shellV2)
	if err != nil {
		span.RecordError(err)
		return "", &CommandError{Command: cmd, ExitCode: exitCode, Output: out, Err: err}
	}
	if exitCode > 0 {
		span.SetAttributes(attribute.Int("adb.exit_code", exitCode))
		return "", &CommandError{Command: cmd, ExitCode: exitCode, Output: out}
	}
	return out, nil
}

func collect(ctx context.Context, st *Stream, v2 bool) (string, int, error) {
	var raw strings.Builder
	dec := NewShellDecoder()
	for {
		select {
		case <-ctx.Done():
			return raw.String(), -1, ctx.Err()
		case chunk, ok := <-st.Data():
			if !ok {
				if err := st.Err(); err != nil {
					return raw.String() + string(dec.Stdout), -1, err
				}
				if !v2 {
					return raw.String(), 0, nil
				}
				if dec.ExitCode > 0 {
					return string(dec.Stdout) + string(dec.Stderr), dec.ExitCode, nil
				}
				return string(dec.Stdout), dec.ExitCode, nil
			}
			if !v2 {
				raw.Write(chunk)
				continue
			}
			if err := dec.Feed(chunk); err != nil {
				return string(dec.Stdout), -1, err
			}
		}
	}
}

// NewConnStream wraps a socket that already carries a service (as the adb
// server hands out after "host:transport:<serial>"). The stream ends when
// the socket reaches EOF; when ended is closed first the stream reports
// ErrDisposed.
func NewConnStream(rwc io.ReadWriteCloser, ended <-chan struct{}) *Stream {
	c := &connStream{rwc: rwc}
	st := newStream(c, int(DefaultMaxPayload), 1)
	go func() {
		buf := make([]byte, 32*1024)
		for {
			n, err := rwc.Read(buf)
			if n > 0 {
				chunk := make([]byte, n)
				copy(chunk, buf[:n])
				if !st.deliver(chunk) {
					st.finish(nil)
					return
				}
			}
			if err != nil {
				select {
				case <-ended:
					st.finish(ErrDisposed)
					return
				default:
				}
				if errors.Is(err, io.EOF) {
					st.finish(nil)
					return
				}
				select {
				case <-st.local:
					st.finish(nil)
				default:
					st.finish(err)
				}
				return
			}
		}
	}()
	return st
}

type connStream struct {
	rwc io.ReadWriteCloser
}

func (c *connStream) write(p []byte) error {
	_, err := c.rwc.Write(p)
	return err
}

func (c *connStream) ack() {}

func (c *connStream) close() error {
	return c.rwc.Close()
}
