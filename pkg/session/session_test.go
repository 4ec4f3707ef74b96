package session_test

import (
	"net"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/camcore/rtspd/pkg/auth"
	"github.com/camcore/rtspd/pkg/logger"
	"github.com/camcore/rtspd/pkg/registry"
	"github.com/camcore/rtspd/pkg/session"
	"github.com/camcore/rtspd/pkg/transport"
	"github.com/camcore/rtspd/pkg/wire"
)

func newTestSession(t *testing.T) (*session.Session, net.Conn) {
	t.Helper()
	server, client := net.Pipe()
	t.Cleanup(func() { client.Close() })

	reg := registry.New()
	stream := &registry.Stream{Path: "/vs0", Name: "vs0", VideoPT: 96}
	stream.PublishParameterSets([]byte{0x67, 0x42, 0x00, 0x1f}, []byte{0x68, 0xce})
	reg.Register(stream)

	log, err := logger.New(logger.NewConfig())
	require.NoError(t, err)

	s := session.New("sess-1", server, session.Config{
		Registry:       reg,
		Verifier:       auth.NewVerifier(auth.PolicyNone, "cam", nil),
		Logger:         log,
		ServerIP:       "127.0.0.1",
		ServerPort:     554,
		SessionTimeout: 60 * time.Second,
		RTPMTU:         1400,
		MaxQueueDepth:  64,
	})
	return s, client
}

func mustParse(t *testing.T, raw string) *wire.Request {
	t.Helper()
	req, _, status, perr := wire.Parse([]byte(raw))
	require.Equal(t, wire.Complete, status)
	require.Nil(t, perr)
	return req
}

func TestOptionsAlwaysAllowed(t *testing.T) {
	s, _ := newTestSession(t)
	req := mustParse(t, "OPTIONS rtsp://h/vs0 RTSP/1.0\r\nCSeq: 1\r\n\r\n")
	resp := s.Handle(req)
	require.Equal(t, 200, resp.StatusCode)
	require.Contains(t, resp.Header.Get("Public"), "DESCRIBE")
}

func TestDescribeUnknownStreamIs404(t *testing.T) {
	s, _ := newTestSession(t)
	req := mustParse(t, "DESCRIBE rtsp://h/nope RTSP/1.0\r\nCSeq: 2\r\n\r\n")
	resp := s.Handle(req)
	require.Equal(t, 404, resp.StatusCode)
}

func TestDescribeReturnsSDP(t *testing.T) {
	s, _ := newTestSession(t)
	req := mustParse(t, "DESCRIBE rtsp://h/vs0 RTSP/1.0\r\nCSeq: 2\r\n\r\n")
	resp := s.Handle(req)
	require.Equal(t, 200, resp.StatusCode)
	require.Equal(t, "application/sdp", resp.Header.Get("Content-Type"))
	require.Contains(t, string(resp.Body), "m=video 0 RTP/AVP 96")
}

func TestSetupTCPInterleavedEchoesChannels(t *testing.T) {
	s, _ := newTestSession(t)
	req := mustParse(t, "SETUP rtsp://h/vs0/trackID=0 RTSP/1.0\r\nCSeq: 3\r\nTransport: RTP/AVP/TCP;unicast;interleaved=0-1\r\n\r\n")
	resp := s.Handle(req)
	require.Equal(t, 200, resp.StatusCode)
	require.Contains(t, resp.Header.Get("Transport"), "interleaved=0-1")
	require.Contains(t, resp.Header.Get("Session"), "sess-1")
	require.Equal(t, session.StateReady, s.State())
}

func TestSetupUDPAllocatesEvenOddPortPair(t *testing.T) {
	s, _ := newTestSession(t)
	req := mustParse(t, "SETUP rtsp://h/vs0/trackID=0 RTSP/1.0\r\nCSeq: 3\r\nTransport: RTP/AVP;unicast;client_port=9000-9001\r\n\r\n")
	resp := s.Handle(req)
	require.Equal(t, 200, resp.StatusCode)
	transportHeader := resp.Header.Get("Transport")
	require.Contains(t, transportHeader, "server_port=")

	idx := strings.Index(transportHeader, "server_port=")
	rest := transportHeader[idx+len("server_port="):]
	rest = strings.Split(rest, ";")[0]
	lo, hi, ok := strings.Cut(rest, "-")
	require.True(t, ok)

	loN, err := strconv.Atoi(lo)
	require.NoError(t, err)
	hiN, err := strconv.Atoi(hi)
	require.NoError(t, err)
	require.GreaterOrEqual(t, loN, transport.PortRangeLow)
	require.Less(t, loN, transport.PortRangeHigh)
	require.Equal(t, 0, loN%2)
	require.Equal(t, loN+1, hiN)
}

func TestPlayRequiresSetupFirst(t *testing.T) {
	s, _ := newTestSession(t)
	req := mustParse(t, "PLAY rtsp://h/vs0 RTSP/1.0\r\nCSeq: 4\r\nSession: sess-1\r\n\r\n")
	resp := s.Handle(req)
	require.Equal(t, 455, resp.StatusCode)
}

func TestFullLifecycle(t *testing.T) {
	s, _ := newTestSession(t)

	setup := mustParse(t, "SETUP rtsp://h/vs0/trackID=0 RTSP/1.0\r\nCSeq: 1\r\nTransport: RTP/AVP/TCP;unicast;interleaved=0-1\r\n\r\n")
	require.Equal(t, 200, s.Handle(setup).StatusCode)
	require.Equal(t, session.StateReady, s.State())

	play := mustParse(t, "PLAY rtsp://h/vs0 RTSP/1.0\r\nCSeq: 2\r\nSession: sess-1\r\n\r\n")
	require.Equal(t, 200, s.Handle(play).StatusCode)
	require.Equal(t, session.StatePlaying, s.State())

	pause := mustParse(t, "PAUSE rtsp://h/vs0 RTSP/1.0\r\nCSeq: 3\r\nSession: sess-1\r\n\r\n")
	require.Equal(t, 200, s.Handle(pause).StatusCode)
	require.Equal(t, session.StateReady, s.State())

	teardown := mustParse(t, "TEARDOWN rtsp://h/vs0 RTSP/1.0\r\nCSeq: 4\r\nSession: sess-1\r\n\r\n")
	require.Equal(t, 200, s.Handle(teardown).StatusCode)
	require.Equal(t, session.StateClosed, s.State())

	// Second TEARDOWN is idempotent-failure: 454 per spec.md §8.
	resp := s.Handle(teardown)
	require.Equal(t, 454, resp.StatusCode)
}

func TestGetParameterActsAsKeepalive(t *testing.T) {
	s, _ := newTestSession(t)
	before := s.IdleFor()
	time.Sleep(2 * time.Millisecond)
	req := mustParse(t, "GET_PARAMETER rtsp://h/vs0 RTSP/1.0\r\nCSeq: 9\r\nSession: sess-1\r\n\r\n")
	resp := s.Handle(req)
	require.Equal(t, 200, resp.StatusCode)
	require.Less(t, s.IdleFor(), before)
}

func TestDigestAuthChallengesUnauthenticatedDescribe(t *testing.T) {
	server, client := net.Pipe()
	defer client.Close()

	reg := registry.New()
	reg.Register(&registry.Stream{Path: "/vs0"})

	log, err := logger.New(logger.NewConfig())
	require.NoError(t, err)

	verifier := auth.NewVerifier(auth.PolicyDigest, "rtspd", auth.UserTable{"admin": "secret"})
	s := session.New("sess-2", server, session.Config{
		Registry: reg, Verifier: verifier, Logger: log,
		ServerIP: "127.0.0.1", ServerPort: 554, SessionTimeout: time.Minute,
	})

	req := mustParse(t, "DESCRIBE rtsp://h/vs0 RTSP/1.0\r\nCSeq: 1\r\n\r\n")
	resp := s.Handle(req)
	require.Equal(t, 401, resp.StatusCode)
	require.Contains(t, resp.Header.Get("WWW-Authenticate"), "Digest")
}
