// Package server implements the four long-lived concurrent activities
// of component H (spec.md §4.H): accept loop, per-connection reader,
// per-stream encoder pump, and reaper. The supervision shape — a
// ctx/cancel pair, a sync.WaitGroup joined on shutdown, a
// map[string]*T guarded by sync.RWMutex, and a reconcile-style ticker
// loop — is adapted from the teacher's MultiCameraRelay
// (pkg/relay/multi_relay.go) and CameraRelay (pkg/relay/relay.go);
// the video pump's rate limiter adapts the teacher's Pacer
// (pkg/bridge/pacer.go), generalized from WebRTC track writes to RTP
// packetizer output. There is no per-session send queue: each packet
// is written straight to every playing session's transport, and a
// failed write drops that packet for that session only.
package server

import (
	"context"
	"encoding/binary"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/camcore/rtspd/pkg/auth"
	"github.com/camcore/rtspd/pkg/logger"
	"github.com/camcore/rtspd/pkg/registry"
	"github.com/camcore/rtspd/pkg/rtppkt"
	"github.com/camcore/rtspd/pkg/session"
	"github.com/camcore/rtspd/pkg/wire"
)

// Config bundles the server's listen and policy parameters.
type Config struct {
	ListenAddress  string
	ListenPort     int
	ServerIP       string // advertised in SDP/Content-Base; defaults to ListenAddress
	SessionTimeout time.Duration
	RTPMTU         int
	MaxQueueDepth  int
	Verifier       *auth.Verifier
}

// Server owns the listener, the session table, and one encoder pump
// goroutine per registered stream.
type Server struct {
	cfg      Config
	registry *registry.Registry
	log      *logger.Logger

	listener net.Listener

	mu       sync.RWMutex
	sessions map[string]*session.Session

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New builds a Server bound to reg, not yet listening.
func New(cfg Config, reg *registry.Registry, log *logger.Logger) *Server {
	if cfg.ServerIP == "" {
		cfg.ServerIP = cfg.ListenAddress
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Server{
		cfg:      cfg,
		registry: reg,
		log:      log,
		sessions: make(map[string]*session.Session),
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Start binds the listener and launches the accept loop, one encoder
// pump per stream, and the reaper.
func (srv *Server) Start() error {
	addr := net.JoinHostPort(srv.cfg.ListenAddress, fmt.Sprintf("%d", srv.cfg.ListenPort))
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", addr, err)
	}
	srv.listener = ln

	srv.log.Info("server listening", "addr", addr)

	srv.wg.Add(1)
	go srv.acceptLoop()

	for _, stream := range srv.registry.All() {
		pump := newEncoderPump(srv, stream)
		srv.wg.Add(1)
		go func() {
			defer srv.wg.Done()
			pump.run(srv.ctx)
		}()
	}

	srv.wg.Add(1)
	go srv.reaperLoop()

	return nil
}

// Addr returns the listener's bound address. Only valid after Start.
func (srv *Server) Addr() net.Addr { return srv.listener.Addr() }

// Stop closes the listener, unblocks all readers, tears down every
// session (emitting RTCP BYE), and joins all goroutines.
func (srv *Server) Stop() error {
	srv.log.Info("server stopping")
	srv.cancel()
	if srv.listener != nil {
		srv.listener.Close()
	}

	srv.mu.Lock()
	sessions := make([]*session.Session, 0, len(srv.sessions))
	for _, s := range srv.sessions {
		sessions = append(sessions, s)
	}
	srv.sessions = make(map[string]*session.Session)
	srv.mu.Unlock()

	for _, s := range sessions {
		s.Close()
	}

	srv.wg.Wait()
	srv.log.Info("server stopped")
	return nil
}

func (srv *Server) acceptLoop() {
	defer srv.wg.Done()

	for {
		conn, err := srv.listener.Accept()
		if err != nil {
			select {
			case <-srv.ctx.Done():
				return
			default:
				srv.log.Error("accept failed", "error", err)
				return
			}
		}

		id := uuid.NewString()
		sess := session.New(id, conn, session.Config{
			Registry:       srv.registry,
			Verifier:       srv.cfg.Verifier,
			Logger:         srv.log,
			ServerIP:       srv.cfg.ServerIP,
			ServerPort:     srv.cfg.ListenPort,
			SessionTimeout: srv.cfg.SessionTimeout,
			RTPMTU:         srv.cfg.RTPMTU,
			MaxQueueDepth:  srv.cfg.MaxQueueDepth,
		})

		srv.mu.Lock()
		srv.sessions[id] = sess
		srv.mu.Unlock()

		srv.wg.Add(1)
		go func() {
			defer srv.wg.Done()
			srv.connReader(sess)
		}()
	}
}

// connReader drains bytes into a receive buffer, feeds the parser,
// and dispatches complete requests through the session's state
// machine, writing each response in CSeq order (spec.md §4.H.2, §5).
func (srv *Server) connReader(sess *session.Session) {
	defer srv.removeSession(sess)

	conn := sess.Conn()
	buf := make([]byte, 0, 4096)
	chunk := make([]byte, 4096)

	for {
		if err := conn.SetReadDeadline(time.Now().Add(srv.cfg.SessionTimeout)); err != nil {
			return
		}
		n, err := conn.Read(chunk)
		if n > 0 {
			buf = append(buf, chunk[:n]...)
		}
		if err != nil {
			return
		}

		for {
			req, consumed, status, perr := wire.Parse(buf)
			if status == wire.NeedMore {
				break
			}
			if status == wire.Malformed {
				resp := wire.NewResponse(perr.Code, perr.Reason)
				sess.WriteResponse(resp, "0")
				buf = buf[consumed:]
				if perr.Code == 414 {
					return
				}
				continue
			}

			resp := sess.Handle(req)
			if err := sess.WriteResponse(resp, req.CSeq()); err != nil {
				return
			}
			buf = buf[consumed:]

			if sess.State() == session.StateClosed {
				return
			}
		}
	}
}

func (srv *Server) removeSession(sess *session.Session) {
	srv.mu.Lock()
	delete(srv.sessions, sess.ID)
	srv.mu.Unlock()
	sess.Close()
}

// reaperLoop sweeps the session table at 1Hz, closing any session
// idle beyond its timeout (spec.md §4.H.4).
func (srv *Server) reaperLoop() {
	defer srv.wg.Done()

	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-srv.ctx.Done():
			return
		case <-ticker.C:
			srv.sweepIdleSessions()
		}
	}
}

func (srv *Server) sweepIdleSessions() {
	srv.mu.RLock()
	var expired []*session.Session
	for _, s := range srv.sessions {
		if s.IdleFor() > srv.cfg.SessionTimeout {
			expired = append(expired, s)
		}
	}
	srv.mu.RUnlock()

	for _, s := range expired {
		srv.log.DebugRTSP("session timed out", "session", s.ID)
		srv.removeSession(s)
	}
}

// encoderPump pulls frames for one stream and fans them out to every
// session currently PLAYING that stream.
type encoderPump struct {
	srv    *Server
	stream *registry.Stream

	video *rtppkt.H264Packetizer
	audio *rtppkt.AudioPacketizer

	packetsSent atomic.Uint64
	octetsSent  atomic.Uint64
}

// newEncoderPump builds the pump's packetizers with a placeholder
// SSRC: every outgoing packet's SSRC field is rewritten to the
// receiving session's own negotiated Track.SSRC in fanOut before it
// ever reaches the wire, so the packetizer's own SSRC never surfaces.
func newEncoderPump(srv *Server, stream *registry.Stream) *encoderPump {
	p := &encoderPump{
		srv:    srv,
		stream: stream,
		video:  rtppkt.NewH264Packetizer(stream.VideoPT, 0, srv.cfg.RTPMTU, 0),
	}
	if stream.Audio != nil {
		p.audio = rtppkt.NewAudioPacketizer(stream.Audio.PayloadType, 0, 0, 0)
	}
	return p
}

func (p *encoderPump) run(ctx context.Context) {
	frameInterval, err := p.stream.Source.Start(ctx)
	if err != nil {
		p.srv.log.Error("encoder start failed", "stream", p.stream.Path, "error", err)
		p.stream.MarkDegraded(err.Error())
		return
	}
	defer p.stream.Source.Stop()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		p.runVideo(ctx, frameInterval)
	}()

	if p.audio != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			p.runAudio(ctx)
		}()
	}

	srReport := time.NewTicker(5 * time.Second)
	defer srReport.Stop()

	for {
		select {
		case <-ctx.Done():
			wg.Wait()
			return
		case <-srReport.C:
			p.emitSenderReports()
		}
	}
}

func (p *encoderPump) runVideo(ctx context.Context, frameInterval time.Duration) {
	limiter := rate.NewLimiter(rate.Limit(1000), 50) // smooths catch-up bursts after a stall
	ceiling := frameInterval * 2

	for {
		if ctx.Err() != nil {
			return
		}

		frameCtx, cancel := context.WithTimeout(ctx, ceiling)
		frame, err := p.stream.Source.NextVideoFrame(frameCtx)
		cancel()
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			p.srv.log.Warn("video frame source error", "stream", p.stream.Path, "error", err)
			p.stream.MarkDegraded(err.Error())
			continue
		}
		p.stream.ClearDegraded()

		if frame.IsIDR && len(frame.SPS) > 0 && len(frame.PPS) > 0 {
			p.stream.PublishParameterSets(frame.SPS, frame.PPS)
		}

		nalus := frame.NALUs
		if frame.IsIDR && len(frame.SPS) > 0 && len(frame.PPS) > 0 {
			nalus = append([][]byte{frame.SPS, frame.PPS}, nalus...)
		}

		ts := rtppkt.TimestampFromPTS(frame.PTSNanos)
		packets := p.video.Packetize(nalus, ts)

		for _, pkt := range packets {
			if err := limiter.Wait(ctx); err != nil {
				return
			}
			raw, err := pkt.Marshal()
			if err != nil {
				continue
			}
			p.packetsSent.Add(1)
			p.octetsSent.Add(uint64(len(raw)))
			p.fanOut(0, raw)
		}
	}
}

func (p *encoderPump) runAudio(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}
		frame, err := p.stream.Source.NextAudioFrame(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			continue
		}

		pkt := p.audio.PacketizeG711(frame.Payload)
		if p.stream.Audio.Encoding == "AAC" {
			pkt = p.audio.PacketizeAAC(frame.Payload)
		}

		raw, err := pkt.Marshal()
		if err != nil {
			continue
		}
		p.packetsSent.Add(1)
		p.octetsSent.Add(uint64(len(raw)))
		p.fanOut(1, raw)
	}
}

// fanOut sends raw to every session PLAYING this stream on track
// trackIndex. Each write goes directly to the session's transport; a
// write error is logged and only that packet is dropped for that
// session, which stays in place. No per-session queue exists and
// MaxQueueDepth is not consulted. raw's SSRC field is rewritten to
// each session's own negotiated Track.SSRC before the write: one pump
// serves many independently-SETUP sessions, and spec.md §3's data
// model requires each session's ssrc to be its own, not shared with
// every other viewer of the same stream.
func (p *encoderPump) fanOut(trackIndex int, raw []byte) {
	for _, sess := range p.srv.sessionsForStream(p.stream) {
		if sess.State() != session.StatePlaying {
			continue
		}
		for _, track := range sess.Tracks() {
			if track.Index != trackIndex {
				continue
			}
			pkt := rewriteRTPSSRC(raw, track.SSRC)
			if err := track.Transport.WriteRTP(pkt); err != nil {
				p.srv.log.DebugTransport("write RTP failed, dropping packet", "session", sess.ID, "error", err)
			}
		}
	}
}

// rewriteRTPSSRC returns a copy of an RTP packet with its SSRC field
// (header bytes 8-11, RFC 3550 §5.1) overwritten.
func rewriteRTPSSRC(raw []byte, ssrc uint32) []byte {
	if len(raw) < 12 {
		return raw
	}
	out := append([]byte(nil), raw...)
	binary.BigEndian.PutUint32(out[8:12], ssrc)
	return out
}

func (p *encoderPump) emitSenderReports() {
	sent, octets := p.packetsSent.Load(), p.octetsSent.Load()
	cname := fmt.Sprintf("rtspd/%s", p.stream.Path)
	for _, sess := range p.srv.sessionsForStream(p.stream) {
		if sess.State() != session.StatePlaying {
			continue
		}
		for _, track := range sess.Tracks() {
			raw := rtppkt.SenderReport(track.SSRC, cname, time.Now(), 0, uint32(sent), uint32(octets))
			track.Transport.WriteRTCP(raw)
		}
	}
}

func (srv *Server) sessionsForStream(stream *registry.Stream) []*session.Session {
	srv.mu.RLock()
	defer srv.mu.RUnlock()
	var out []*session.Session
	for _, s := range srv.sessions {
		if s.Stream() == stream {
			out = append(out, s)
		}
	}
	return out
}
