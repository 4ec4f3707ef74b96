// Package session implements the per-connection RTSP state machine
// (component F: spec.md §4.F). The request/response plumbing and
// Transport-header parsing invert the teacher's client-side
// pkg/rtsp/client.go (which builds a Transport request header and
// reads the server's echoed response); here the session is the
// server side that parses the client's Transport header and builds
// the echo. Lifecycle bookkeeping (a close-once guard, write-mutex-
// guarded socket writes) follows the teacher's CameraRelay/Client shape.
package session

import (
	"fmt"
	"net"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/camcore/rtspd/pkg/auth"
	"github.com/camcore/rtspd/pkg/logger"
	"github.com/camcore/rtspd/pkg/registry"
	"github.com/camcore/rtspd/pkg/rtppkt"
	"github.com/camcore/rtspd/pkg/rtsperr"
	"github.com/camcore/rtspd/pkg/sdp"
	"github.com/camcore/rtspd/pkg/transport"
	"github.com/camcore/rtspd/pkg/wire"
)

// State is a position in the session state machine (spec.md §4.F).
type State int

const (
	StateInit State = iota
	StateReady
	StatePlaying
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateInit:
		return "Init"
	case StateReady:
		return "Ready"
	case StatePlaying:
		return "Playing"
	case StateClosed:
		return "Closed"
	default:
		return "Unknown"
	}
}

// Track is one media track negotiated via SETUP.
type Track struct {
	Index     int // 0 = video, 1 = audio, per spec.md trackID convention
	Kind      string // "video" | "audio"
	Transport transport.Transport
	SSRC      uint32
}

// Session is one RTSP control connection's state. The conn write is
// guarded by writeMu, shared with any InterleavedTransport created for
// this session's tracks so response writes and interleaved RTP never
// interleave on the wire (spec.md §5).
type Session struct {
	ID   string
	conn net.Conn

	writeMu sync.Mutex

	registry *registry.Registry
	verifier *auth.Verifier
	log      *logger.Logger

	serverIP        string
	serverPort      int
	sessionTimeout  time.Duration
	rtpMTU          int
	maxQueueDepth   int

	mu           sync.Mutex
	state        State
	stream       *registry.Stream
	tracks       map[int]*Track
	authFailures int
	authed       bool

	lastActivity atomic.Int64 // unix nanos

	closeOnce sync.Once
}

// Config bundles the fixed, per-server parameters every Session needs;
// it's built once by the server and passed to each new Session.
type Config struct {
	Registry       *registry.Registry
	Verifier       *auth.Verifier
	Logger         *logger.Logger
	ServerIP       string
	ServerPort     int
	SessionTimeout time.Duration
	RTPMTU         int
	MaxQueueDepth  int
}

// New builds a Session in Init state for an accepted connection.
func New(id string, conn net.Conn, cfg Config) *Session {
	s := &Session{
		ID:             id,
		conn:           conn,
		registry:       cfg.Registry,
		verifier:       cfg.Verifier,
		log:            cfg.Logger,
		serverIP:       cfg.ServerIP,
		serverPort:     cfg.ServerPort,
		sessionTimeout: cfg.SessionTimeout,
		rtpMTU:         cfg.RTPMTU,
		maxQueueDepth:  cfg.MaxQueueDepth,
		state:          StateInit,
		tracks:         make(map[int]*Track),
	}
	s.Touch()
	return s
}

// Conn returns the underlying control connection, for the server's
// per-connection reader loop.
func (s *Session) Conn() net.Conn { return s.conn }

// Touch records activity now, resetting the reaper's idle clock.
func (s *Session) Touch() {
	s.lastActivity.Store(time.Now().UnixNano())
}

// IdleFor reports how long the session has gone without activity.
func (s *Session) IdleFor() time.Duration {
	last := time.Unix(0, s.lastActivity.Load())
	return time.Since(last)
}

// State returns the session's current state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Stream returns the stream this session is bound to, or nil before
// the first SETUP.
func (s *Session) Stream() *registry.Stream {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stream
}

// Tracks returns a snapshot of the session's negotiated tracks.
func (s *Session) Tracks() []*Track {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*Track, 0, len(s.tracks))
	for _, t := range s.tracks {
		out = append(out, t)
	}
	return out
}

// WriteResponse serializes and writes resp, serialized against any
// interleaved RTP writes on the same connection.
func (s *Session) WriteResponse(resp *wire.Response, cseq string) error {
	out := wire.Format(resp, cseq)
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	_, err := s.conn.Write(out)
	return err
}

// Handle dispatches one parsed request through the state machine and
// returns the response to write. It never returns a nil response: all
// error paths produce a populated wire.Response with the right status
// code (spec.md §7).
func (s *Session) Handle(req *wire.Request) *wire.Response {
	s.Touch()

	if req.Method != wire.MethodOptions && req.Method != wire.MethodTeardown {
		if resp, ok := s.checkAuth(req); !ok {
			return resp
		}
	}

	switch req.Method {
	case wire.MethodOptions:
		return s.handleOptions()
	case wire.MethodDescribe:
		return s.handleDescribe(req)
	case wire.MethodSetup:
		return s.handleSetup(req)
	case wire.MethodPlay:
		return s.handlePlay(req)
	case wire.MethodPause:
		return s.handlePause(req)
	case wire.MethodTeardown:
		return s.handleTeardown(req)
	case wire.MethodGetParameter:
		return s.handleGetParameter(req)
	case wire.MethodSetParameter:
		return s.handleSetParameter(req)
	default:
		return statusResponse(rtsperr.StatusNotImplemented)
	}
}

func (s *Session) checkAuth(req *wire.Request) (*wire.Response, bool) {
	if s.verifier == nil || s.verifier.Policy() == auth.PolicyNone {
		return nil, true
	}

	s.mu.Lock()
	alreadyAuthed := s.authed
	s.mu.Unlock()
	if alreadyAuthed {
		return nil, true
	}

	authorization := req.Header.Get("Authorization")
	if authorization != "" && s.verifier.Verify(authorization, req.Method, req.URI) {
		s.mu.Lock()
		s.authed = true
		s.mu.Unlock()
		return nil, true
	}

	s.mu.Lock()
	s.authFailures++
	failures := s.authFailures
	s.mu.Unlock()

	resp := wire.NewResponse(rtsperr.StatusUnauthorized, rtsperr.Reason(rtsperr.StatusUnauthorized))
	resp.Header.Set("WWW-Authenticate", s.verifier.Challenge())

	if failures >= 5 {
		// Repeated failures close the connection per spec.md §7; the
		// caller's reader loop observes the write error (or a
		// subsequent read error) and tears the session down.
		s.log.DebugAuth("closing connection after repeated auth failures", "session", s.ID, "failures", failures)
		defer s.conn.Close()
	}

	return resp, false
}

func (s *Session) handleOptions() *wire.Response {
	resp := wire.NewResponse(rtsperr.StatusOK, "OK")
	resp.Header.Set("Public", strings.Join(wire.SupportedMethods, ", "))
	return resp
}

func (s *Session) handleDescribe(req *wire.Request) *wire.Response {
	path := stripTrackID(requestPath(req.URI))
	stream, ok := s.registry.Lookup(path)
	if !ok {
		return statusResponse(rtsperr.StatusNotFound)
	}
	if degraded, _ := stream.Degraded(); degraded {
		return s.unavailableResponse()
	}

	params := stream.ParameterSets()
	if params == nil {
		return s.unavailableResponse()
	}

	var audioTrack *sdp.AudioTrack
	if stream.Audio != nil {
		audioTrack = &sdp.AudioTrack{
			PayloadType: stream.Audio.PayloadType,
			Encoding:    stream.Audio.Encoding,
			ClockRate:   stream.Audio.ClockRate,
			Channels:    stream.Audio.Channels,
		}
	}

	body, err := sdp.Build(sdp.Stream{
		Name: stream.Name,
		Video: sdp.VideoTrack{
			PayloadType: stream.VideoPT,
			SPS:         params.SPS,
			PPS:         params.PPS,
		},
		Audio: audioTrack,
	}, s.serverIP, stream.NextSessionID())
	if err != nil {
		return s.unavailableResponse()
	}

	resp := wire.NewResponse(rtsperr.StatusOK, "OK")
	resp.Header.Set("Content-Type", "application/sdp")
	resp.Header.Set("Content-Base", fmt.Sprintf("rtsp://%s:%d%s/", s.serverIP, s.serverPort, stream.Path))
	resp.Body = body

	s.mu.Lock()
	s.stream = stream
	s.mu.Unlock()

	return resp
}

func (s *Session) unavailableResponse() *wire.Response {
	resp := wire.NewResponse(rtsperr.StatusServiceUnavailable, rtsperr.Reason(rtsperr.StatusServiceUnavailable))
	resp.Header.Set("Retry-After", "2")
	return resp
}

func (s *Session) handleSetup(req *wire.Request) *wire.Response {
	st := s.State()
	if st != StateInit && st != StateReady {
		return statusResponse(rtsperr.StatusMethodNotValidInState)
	}

	path := requestPath(req.URI)
	trackIndex := trackIDFromPath(path)
	streamPath := stripTrackID(path)

	stream, ok := s.registry.Lookup(streamPath)
	if !ok {
		return statusResponse(rtsperr.StatusNotFound)
	}

	transportHeader := req.Header.Get("Transport")
	track, resp := s.negotiateTransport(transportHeader, trackIndex, stream)
	if resp != nil {
		return resp
	}

	s.mu.Lock()
	s.stream = stream
	s.tracks[trackIndex] = track
	s.state = StateReady
	s.mu.Unlock()

	resp = wire.NewResponse(rtsperr.StatusOK, "OK")
	resp.Header.Set("Session", fmt.Sprintf("%s;timeout=%d", s.ID, int(s.sessionTimeout.Seconds())))
	resp.Header.Set("Transport", transportResponseHeader(transportHeader, track))
	return resp
}

func (s *Session) negotiateTransport(header string, trackIndex int, stream *registry.Stream) (*Track, *wire.Response) {
	params := parseTransportHeader(header)
	if params == nil {
		return nil, statusResponse(rtsperr.StatusUnsupportedTransport)
	}

	kind := "video"
	if trackIndex == 1 {
		kind = "audio"
	}

	if params.tcp {
		tr := transport.NewInterleavedTransport(s.conn, &s.writeMu, byte(trackIndex*2))
		return &Track{Index: trackIndex, Kind: kind, Transport: tr, SSRC: newSSRC()}, nil
	}

	ut, err := transport.AllocatePortPair(s.serverIP)
	if err != nil {
		return nil, statusResponse(rtsperr.StatusInternalServerError)
	}
	host, _, _ := net.SplitHostPort(s.conn.RemoteAddr().String())
	ut.SetClientEndpoints(host, params.clientRTPPort, params.clientRTCPPort)

	return &Track{Index: trackIndex, Kind: kind, Transport: ut, SSRC: newSSRC()}, nil
}

type transportParams struct {
	tcp            bool
	clientRTPPort  int
	clientRTCPPort int
	interleavedLo  int
	interleavedHi  int
}

func parseTransportHeader(header string) *transportParams {
	if header == "" {
		return nil
	}
	parts := strings.Split(header, ";")
	if len(parts) == 0 {
		return nil
	}

	p := &transportParams{}
	proto := strings.TrimSpace(parts[0])
	p.tcp = strings.Contains(proto, "TCP")

	for _, part := range parts[1:] {
		key, value, _ := strings.Cut(strings.TrimSpace(part), "=")
		switch key {
		case "client_port":
			lo, hi, ok := splitPortRange(value)
			if !ok {
				return nil
			}
			p.clientRTPPort, p.clientRTCPPort = lo, hi
		case "interleaved":
			lo, hi, ok := splitPortRange(value)
			if !ok {
				return nil
			}
			p.interleavedLo, p.interleavedHi = lo, hi
		}
	}

	if !p.tcp && p.clientRTPPort == 0 {
		return nil
	}
	return p
}

func splitPortRange(value string) (int, int, bool) {
	lo, hi, ok := strings.Cut(value, "-")
	if !ok {
		return 0, 0, false
	}
	loN, err1 := strconv.Atoi(lo)
	hiN, err2 := strconv.Atoi(hi)
	if err1 != nil || err2 != nil {
		return 0, 0, false
	}
	return loN, hiN, true
}

func transportResponseHeader(requestHeader string, track *Track) string {
	switch t := track.Transport.(type) {
	case *transport.UDPTransport:
		return fmt.Sprintf("RTP/AVP;unicast;client_port=%s;server_port=%d-%d;ssrc=%08x",
			clientPortFromHeader(requestHeader), t.ServerRTPPort, t.ServerRTCPPort, track.SSRC)
	default:
		return requestHeaderInterleaved(requestHeader)
	}
}

func clientPortFromHeader(header string) string {
	for _, part := range strings.Split(header, ";") {
		key, value, _ := strings.Cut(strings.TrimSpace(part), "=")
		if key == "client_port" {
			return value
		}
	}
	return ""
}

func requestHeaderInterleaved(header string) string {
	for _, part := range strings.Split(header, ";") {
		trimmed := strings.TrimSpace(part)
		if strings.HasPrefix(trimmed, "interleaved=") {
			return "RTP/AVP/TCP;unicast;" + trimmed
		}
	}
	return "RTP/AVP/TCP;unicast;interleaved=0-1"
}

func (s *Session) handlePlay(req *wire.Request) *wire.Response {
	if req.Session() != "" && req.Session() != s.ID {
		return statusResponse(rtsperr.StatusSessionNotFound)
	}
	st := s.State()
	if st != StateReady && st != StatePlaying {
		return statusResponse(rtsperr.StatusMethodNotValidInState)
	}

	s.mu.Lock()
	s.state = StatePlaying
	s.mu.Unlock()

	resp := wire.NewResponse(rtsperr.StatusOK, "OK")
	resp.Header.Set("Session", s.ID)
	resp.Header.Set("Range", "npt=0.000-")
	return resp
}

func (s *Session) handlePause(req *wire.Request) *wire.Response {
	if req.Session() != "" && req.Session() != s.ID {
		return statusResponse(rtsperr.StatusSessionNotFound)
	}
	if s.State() != StatePlaying {
		return statusResponse(rtsperr.StatusMethodNotValidInState)
	}

	s.mu.Lock()
	s.state = StateReady
	s.mu.Unlock()

	resp := wire.NewResponse(rtsperr.StatusOK, "OK")
	resp.Header.Set("Session", s.ID)
	return resp
}

func (s *Session) handleTeardown(req *wire.Request) *wire.Response {
	st := s.State()
	if st == StateClosed {
		return statusResponse(rtsperr.StatusSessionNotFound)
	}

	s.mu.Lock()
	s.state = StateClosed
	tracks := s.tracks
	s.tracks = make(map[int]*Track)
	s.mu.Unlock()

	for _, t := range tracks {
		teardownTrack(t)
	}

	resp := wire.NewResponse(rtsperr.StatusOK, "OK")
	resp.Header.Set("Session", s.ID)
	return resp
}

func (s *Session) handleGetParameter(req *wire.Request) *wire.Response {
	if req.Session() != "" && req.Session() != s.ID {
		return statusResponse(rtsperr.StatusSessionNotFound)
	}
	// Empty body GET_PARAMETER is a keepalive; Touch already ran above.
	return wire.NewResponse(rtsperr.StatusOK, "OK")
}

func (s *Session) handleSetParameter(req *wire.Request) *wire.Response {
	if req.Session() != "" && req.Session() != s.ID {
		return statusResponse(rtsperr.StatusSessionNotFound)
	}
	return wire.NewResponse(rtsperr.StatusOK, "OK")
}

// Close releases the session's tracks and marks it Closed. Safe to
// call multiple times.
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.state = StateClosed
		tracks := s.tracks
		s.tracks = nil
		s.mu.Unlock()

		for _, t := range tracks {
			teardownTrack(t)
		}
		s.conn.Close()
	})
}

// teardownTrack emits the RTCP BYE a torn-down track's SSRC owes its
// peer (RFC 3550 §6.3.7, spec.md §4.D/§7) before releasing the
// transport. The write is best-effort: a torn-down session's peer may
// already be gone, and a failed BYE must never block teardown.
func teardownTrack(t *Track) {
	_ = t.Transport.WriteRTCP(rtppkt.ByePacket(t.SSRC))
	t.Transport.Close()
}

func statusResponse(code int) *wire.Response {
	return wire.NewResponse(code, rtsperr.Reason(code))
}

func requestPath(uri string) string {
	// Accept both absolute rtsp://host/path and bare path forms.
	if idx := strings.Index(uri, "://"); idx >= 0 {
		rest := uri[idx+3:]
		if slash := strings.IndexByte(rest, '/'); slash >= 0 {
			return rest[slash:]
		}
		return "/"
	}
	return uri
}

func stripTrackID(path string) string {
	if idx := strings.Index(path, "/trackID="); idx >= 0 {
		return path[:idx]
	}
	return path
}

func trackIDFromPath(path string) int {
	const marker = "/trackID="
	idx := strings.Index(path, marker)
	if idx < 0 {
		return 0
	}
	n, err := strconv.Atoi(path[idx+len(marker):])
	if err != nil {
		return 0
	}
	return n
}

func newSSRC() uint32 {
	return uint32(time.Now().UnixNano())
}
