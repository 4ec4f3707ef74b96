package transport_test

import (
	"bytes"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/camcore/rtspd/pkg/transport"
)

func TestInterleavedTransportFramesRTP(t *testing.T) {
	var buf bytes.Buffer
	var mu sync.Mutex
	tr := transport.NewInterleavedTransport(&buf, &mu, 0)

	payload := []byte{0x01, 0x02, 0x03}
	require.NoError(t, tr.WriteRTP(payload))

	out := buf.Bytes()
	require.Equal(t, byte(0x24), out[0])
	require.Equal(t, byte(0), out[1])
	require.Equal(t, []byte{0x00, 0x03}, out[2:4])
	require.Equal(t, payload, out[4:])
}

func TestInterleavedTransportUsesOddChannelForRTCP(t *testing.T) {
	var buf bytes.Buffer
	var mu sync.Mutex
	tr := transport.NewInterleavedTransport(&buf, &mu, 4)

	require.NoError(t, tr.WriteRTCP([]byte{0xAA}))
	out := buf.Bytes()
	require.Equal(t, byte(5), out[1])
}

func TestAllocatePortPairReturnsEvenOddPair(t *testing.T) {
	ut, err := transport.AllocatePortPair("127.0.0.1")
	require.NoError(t, err)
	defer ut.Close()

	require.Equal(t, 0, ut.ServerRTPPort%2)
	require.Equal(t, ut.ServerRTPPort+1, ut.ServerRTCPPort)
}
