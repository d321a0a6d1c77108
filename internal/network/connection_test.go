package network

import (
	"context"
	"io"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReadReturnsNothingWhenIdle(t *testing.T) {
	client, server := net.Pipe()
	defer server.Close()
	conn := NewConnection(client)
	defer conn.Close()

	buf := make([]byte, 16)
	n, err := conn.Read(buf)
	assert.NoError(t, err)
	assert.Zero(t, n)
}

func TestReadReturnsBufferedBytes(t *testing.T) {
	client, server := net.Pipe()
	defer server.Close()
	conn := NewConnection(client)
	conn.SetPollTimeout(time.Second)
	defer conn.Close()

	go server.Write([]byte("hello"))

	buf := make([]byte, 16)
	n, err := conn.Read(buf)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(buf[:n]))

	in, _ := conn.Stats()
	assert.Equal(t, uint64(5), in)
}

func TestWriteDeliversFrame(t *testing.T) {
	client, server := net.Pipe()
	defer server.Close()
	conn := NewConnection(client)
	defer conn.Close()

	got := make(chan []byte, 1)
	go func() {
		buf := make([]byte, 7)
		_, _ = io.ReadFull(server, buf)
		got <- buf
	}()

	require.NoError(t, conn.Write([]byte{0, 7, 'P', 'O', 'N', 'G', 0}))
	assert.Equal(t, []byte{0, 7, 'P', 'O', 'N', 'G', 0}, <-got)
}

func TestPeerCloseIsAnError(t *testing.T) {
	client, server := net.Pipe()
	conn := NewConnection(client)
	conn.SetPollTimeout(time.Second)
	defer conn.Close()

	server.Close()

	_, err := conn.Read(make([]byte, 16))
	assert.Error(t, err)
}

func TestClosedConnection(t *testing.T) {
	client, server := net.Pipe()
	defer server.Close()
	conn := NewConnection(client)

	require.NoError(t, conn.Close())
	require.NoError(t, conn.Close())
	assert.True(t, conn.IsClosed())

	_, err := conn.Read(make([]byte, 1))
	assert.ErrorIs(t, err, net.ErrClosed)
	assert.Error(t, conn.Write([]byte{1}))
}

func TestDial(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	go func() {
		c, err := ln.Accept()
		if err == nil {
			c.Write([]byte("hi"))
			time.Sleep(100 * time.Millisecond)
			c.Close()
		}
	}()

	conn, err := Dial(context.Background(), ln.Addr().String(), time.Second)
	require.NoError(t, err)
	defer conn.Close()

	conn.SetPollTimeout(time.Second)
	buf := make([]byte, 2)
	n, err := conn.Read(buf)
	require.NoError(t, err)
	assert.Equal(t, "hi", string(buf[:n]))
}
