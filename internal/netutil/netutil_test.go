//go:build linux || darwin

package netutil

import (
	"net"
	"strconv"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestListenTCPEphemeral(t *testing.T) {
	fd, err := ListenTCP("127.0.0.1:0", 4)
	require.NoError(t, err)
	defer Close(fd)

	port, err := LocalPort(fd)
	require.NoError(t, err)
	require.NotZero(t, port)

	addr, err := LocalAddr(fd)
	require.NoError(t, err)
	require.Equal(t, port, addr.Port)

	c, err := net.Dial("tcp", net.JoinHostPort("127.0.0.1", strconv.Itoa(port)))
	require.NoError(t, err)
	defer c.Close()
}

func TestListenUDPEphemeral(t *testing.T) {
	fd, err := ListenUDP("127.0.0.1:0")
	require.NoError(t, err)
	defer Close(fd)

	port, err := LocalPort(fd)
	require.NoError(t, err)
	require.NotZero(t, port)
}

func TestListenTCPBadAddress(t *testing.T) {
	_, err := ListenTCP("not-an-address", 1)
	require.Error(t, err)
}
