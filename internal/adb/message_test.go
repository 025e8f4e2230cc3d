package adb

import (
	"bytes"
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMessageEncodeLayout(t *testing.T) {
	m := Message{Command: CmdOPEN, Arg0: 7, Arg1: 0, Payload: []byte("shell:ls\x00")}
	buf := m.Encode()

	require.Len(t, buf, headerSize+len(m.Payload))
	assert.Equal(t, []byte("OPEN"), buf[0:4])
	assert.Equal(t, uint32(7), binary.LittleEndian.Uint32(buf[4:]))
	assert.Equal(t, uint32(len(m.Payload)), binary.LittleEndian.Uint32(buf[12:]))
	assert.Equal(t, checksum(m.Payload), binary.LittleEndian.Uint32(buf[16:]))
	assert.Equal(t, CmdOPEN^0xffffffff, binary.LittleEndian.Uint32(buf[20:]))
}

func TestReadMessageRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	want := Message{Command: CmdWRTE, Arg0: 3, Arg1: 9, Payload: []byte("hello")}
	require.NoError(t, WriteMessage(&buf, want))
	require.NoError(t, WriteMessage(&buf, Message{Command: CmdOKAY, Arg0: 9, Arg1: 3}))

	got, err := ReadMessage(&buf)
	require.NoError(t, err)
	assert.Equal(t, want, got)

	okay, err := ReadMessage(&buf)
	require.NoError(t, err)
	assert.Equal(t, CmdOKAY, okay.Command)
	assert.Nil(t, okay.Payload)
}

func TestReadMessageRejectsBadMagic(t *testing.T) {
	buf := Message{Command: CmdCLSE}.Encode()
	binary.LittleEndian.PutUint32(buf[20:], 0)

	_, err := ReadMessage(bytes.NewReader(buf))
	assert.ErrorContains(t, err, "bad magic")
}

func TestReadMessageChecksum(t *testing.T) {
	buf := Message{Command: CmdWRTE, Payload: []byte("abc")}.Encode()
	binary.LittleEndian.PutUint32(buf[16:], 1)
	_, err := ReadMessage(bytes.NewReader(buf))
	assert.ErrorContains(t, err, "checksum")

	// zero means "not computed"
	binary.LittleEndian.PutUint32(buf[16:], 0)
	m, err := ReadMessage(bytes.NewReader(buf))
	require.NoError(t, err)
	assert.Equal(t, "abc", string(m.Payload))
}

func TestReadMessageLimit(t *testing.T) {
	buf := Message{Command: CmdWRTE}.Encode()
	binary.LittleEndian.PutUint32(buf[12:], maxAcceptedPayload+1)
	_, err := ReadMessage(bytes.NewReader(buf))
	assert.ErrorContains(t, err, "exceeds limit")
}

func TestCommandName(t *testing.T) {
	assert.Equal(t, "CNXN", CommandName(CmdCNXN))
	assert.Equal(t, "0x00000001", CommandName(1))
	assert.Equal(t, "WRTE(1, 2, 3 bytes)", Message{Command: CmdWRTE, Arg0: 1, Arg1: 2, Payload: []byte("abc")}.String())
}

func TestParseBanner(t *testing.T) {
	b := ParseBanner("device::ro.product.name=sdk;ro.product.model=Pixel 7;ro.product.device=panther;features=shell_v2,cmd,,stat_v2\x00")

	assert.Equal(t, "device", b.State)
	assert.Equal(t, "sdk", b.Product)
	assert.Equal(t, "Pixel 7", b.Model)
	assert.Equal(t, "panther", b.Device)
	assert.Equal(t, []string{"shell_v2", "cmd", "stat_v2"}, b.Features)
	assert.True(t, b.HasFeature("shell_v2"))
	assert.False(t, b.HasFeature("abb"))
}

func TestParseBannerUnknownKeys(t *testing.T) {
	b := ParseBanner("recovery::ro.build.id=X1;junk")
	assert.Equal(t, "recovery", b.State)
	assert.Equal(t, "X1", b.Properties["ro.build.id"])
	assert.Empty(t, b.Features)
}

func TestShellDecoderAcrossChunks(t *testing.T) {
	var stream []byte
	stream = append(stream, EncodeShellPacket(ShellStdout, []byte("hello "))...)
	stream = append(stream, EncodeShellPacket(ShellStderr, []byte("oops"))...)
	stream = append(stream, EncodeShellPacket(ShellStdout, []byte("world"))...)
	stream = append(stream, EncodeShellPacket(ShellExit, []byte{2})...)

	d := NewShellDecoder()
	// feed three bytes at a time so headers split
	for i := 0; i < len(stream); i += 3 {
		end := min(i+3, len(stream))
		require.NoError(t, d.Feed(stream[i:end]))
	}
	assert.Equal(t, "hello world", string(d.Stdout))
	assert.Equal(t, "oops", string(d.Stderr))
	assert.True(t, d.Exited)
	assert.Equal(t, 2, d.ExitCode)
}

func TestShellDecoderEmptyExit(t *testing.T) {
	d := NewShellDecoder()
	assert.Error(t, d.Feed(EncodeShellPacket(ShellExit, nil)))
	assert.Equal(t, -1, NewShellDecoder().ExitCode)
}
