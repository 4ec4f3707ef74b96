// Package transport implements the two RTP delivery modes SETUP can
// negotiate (component E: spec.md §4.E): UDP unicast port pairs and
// TCP interleaving over the control connection. The interleaved
// framing inverts the teacher's ReadPackets loop (pkg/rtsp/client.go),
// which peeks a '$' magic byte and reads channel/length/payload off a
// bufio.Reader — this package writes that same frame shape instead of
// reading it, and the write-serialization mutex mirrors the teacher's
// writeMu guarding concurrent control-socket writes.
package transport

import (
	"encoding/binary"
	"fmt"
	"io"
	"net"
	"sync"
)

// PortRangeLow and PortRangeHigh bound UDP port-pair allocation
// (spec.md §4.E).
const (
	PortRangeLow  = 50000
	PortRangeHigh = 60000
)

// Mode selects how RTP/RTCP travel for a session's media track.
type Mode int

const (
	ModeUDP Mode = iota
	ModeTCPInterleaved
)

// interleavedMarker is the '$' byte that begins every interleaved
// frame (RFC 2326 §10.12).
const interleavedMarker = 0x24

// Transport delivers RTP and RTCP payloads for one media track of one
// session, abstracting over UDP unicast vs TCP interleaving.
type Transport interface {
	WriteRTP(payload []byte) error
	WriteRTCP(payload []byte) error
	Close() error
}

// UDPTransport sends RTP/RTCP to a client's negotiated UDP endpoints
// and accepts incoming RTCP on the server's RTCP socket.
type UDPTransport struct {
	rtpConn  *net.UDPConn
	rtcpConn *net.UDPConn

	clientRTPAddr  *net.UDPAddr
	clientRTCPAddr *net.UDPAddr

	ServerRTPPort  int
	ServerRTCPPort int
}

// AllocatePortPair binds a consecutive even/odd UDP port pair in
// [PortRangeLow, PortRangeHigh] for RTP and RTCP respectively. A
// caller that exhausts the range should fail SETUP with 500.
func AllocatePortPair(listenIP string) (*UDPTransport, error) {
	for port := PortRangeLow; port < PortRangeHigh; port += 2 {
		rtpConn, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.ParseIP(listenIP), Port: port})
		if err != nil {
			continue
		}
		rtcpConn, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.ParseIP(listenIP), Port: port + 1})
		if err != nil {
			rtpConn.Close()
			continue
		}
		return &UDPTransport{
			rtpConn:        rtpConn,
			rtcpConn:       rtcpConn,
			ServerRTPPort:  port,
			ServerRTCPPort: port + 1,
		}, nil
	}
	return nil, fmt.Errorf("transport: no free UDP port pair in [%d,%d]", PortRangeLow, PortRangeHigh)
}

// SetClientEndpoints records where RTP and RTCP should be sent, parsed
// from the SETUP request's client_port parameter.
func (u *UDPTransport) SetClientEndpoints(clientIP string, clientRTPPort, clientRTCPPort int) {
	u.clientRTPAddr = &net.UDPAddr{IP: net.ParseIP(clientIP), Port: clientRTPPort}
	u.clientRTCPAddr = &net.UDPAddr{IP: net.ParseIP(clientIP), Port: clientRTCPPort}
}

func (u *UDPTransport) WriteRTP(payload []byte) error {
	if u.clientRTPAddr == nil {
		return fmt.Errorf("transport: client RTP endpoint not set")
	}
	_, err := u.rtpConn.WriteToUDP(payload, u.clientRTPAddr)
	return err
}

func (u *UDPTransport) WriteRTCP(payload []byte) error {
	if u.clientRTCPAddr == nil {
		return fmt.Errorf("transport: client RTCP endpoint not set")
	}
	_, err := u.rtcpConn.WriteToUDP(payload, u.clientRTCPAddr)
	return err
}

// ReadRTCP blocks for one incoming RTCP packet from the client,
// logged by callers for statistics (spec.md §4.D says it never alters
// send rate).
func (u *UDPTransport) ReadRTCP(buf []byte) (int, error) {
	n, _, err := u.rtcpConn.ReadFromUDP(buf)
	return n, err
}

func (u *UDPTransport) Close() error {
	var err1, err2 error
	if u.rtpConn != nil {
		err1 = u.rtpConn.Close()
	}
	if u.rtcpConn != nil {
		err2 = u.rtcpConn.Close()
	}
	if err1 != nil {
		return err1
	}
	return err2
}

// InterleavedTransport frames RTP/RTCP on the control connection
// itself, serialized against response writes with the same discipline
// as the teacher's writeMu.
type InterleavedTransport struct {
	writeMu      *sync.Mutex // shared with the owning session's response writer
	conn         io.Writer
	rtpChannel   byte
	rtcpChannel  byte
}

// NewInterleavedTransport wraps conn's writes, serialized through
// writeMu (owned by the session so response writes and RTP writes
// never interleave on the wire).
func NewInterleavedTransport(conn io.Writer, writeMu *sync.Mutex, rtpChannel byte) *InterleavedTransport {
	return &InterleavedTransport{
		writeMu:     writeMu,
		conn:        conn,
		rtpChannel:  rtpChannel,
		rtcpChannel: rtpChannel + 1,
	}
}

func (i *InterleavedTransport) WriteRTP(payload []byte) error {
	return i.writeFrame(i.rtpChannel, payload)
}

func (i *InterleavedTransport) WriteRTCP(payload []byte) error {
	return i.writeFrame(i.rtcpChannel, payload)
}

func (i *InterleavedTransport) writeFrame(channel byte, payload []byte) error {
	if len(payload) > 0xFFFF {
		return fmt.Errorf("transport: interleaved payload too large (%d bytes)", len(payload))
	}
	frame := make([]byte, 4+len(payload))
	frame[0] = interleavedMarker
	frame[1] = channel
	binary.BigEndian.PutUint16(frame[2:4], uint16(len(payload)))
	copy(frame[4:], payload)

	i.writeMu.Lock()
	defer i.writeMu.Unlock()
	_, err := i.conn.Write(frame)
	return err
}

// Close is a no-op: the interleaved transport shares the control
// connection's lifetime, which the session owns.
func (i *InterleavedTransport) Close() error { return nil }
