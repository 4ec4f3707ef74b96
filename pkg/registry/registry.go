// Package registry maps RTSP URI paths to Streams (component G:
// spec.md §4.G). The map+RWMutex shape is grounded on the teacher's
// pkg/nest multi-stream managers (MultiStreamManager/MultiCameraRelay
// both guard a map[string]*T with sync.RWMutex and expose narrow
// accessor methods) — repurposed here from camera-device bookkeeping
// to stream lookup and the SPS/PPS atomic publication barrier.
package registry

import (
	"fmt"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/camcore/rtspd/pkg/framesource"
)

// ParameterSets is the SPS/PPS pair cached from the stream's most
// recent IDR, published atomically so DESCRIBE never observes one half
// written without the other.
type ParameterSets struct {
	SPS []byte
	PPS []byte
}

// AudioConfig describes a stream's optional audio track.
type AudioConfig struct {
	PayloadType uint8
	Encoding    string // "PCMU" | "PCMA" | "AAC"
	ClockRate   uint32
	Channels    int
}

// Stream is one registered media source: its frame source, codec
// configuration, and the atomically published parameter-set cache
// DESCRIBE and the encoder pump share.
type Stream struct {
	Path        string
	Name        string
	VideoPT     uint8
	Audio       *AudioConfig
	Source      framesource.Source

	params atomic.Pointer[ParameterSets]

	mu       sync.RWMutex
	degraded bool
	degradedReason string

	sessionIDCounter atomic.Uint64
}

// ParameterSets returns the cached SPS/PPS, or nil if the stream
// hasn't produced an IDR yet.
func (s *Stream) ParameterSets() *ParameterSets {
	return s.params.Load()
}

// PublishParameterSets stores sps/pps atomically. Safe to call from
// the encoder pump on every IDR; the cache is overwritten in place
// (later IDRs may carry renegotiated parameter sets).
func (s *Stream) PublishParameterSets(sps, pps []byte) {
	s.params.Store(&ParameterSets{SPS: append([]byte(nil), sps...), PPS: append([]byte(nil), pps...)})
}

// NextSessionID mints a small monotonically increasing id, a new one
// per call; DESCRIBE uses it as the SDP o= line's session-id (not a
// network identifier).
func (s *Stream) NextSessionID() uint64 {
	return s.sessionIDCounter.Add(1)
}

// MarkDegraded records that the stream's encoder pipeline has failed;
// new DESCRIBE/SETUP requests fail 503 until ClearDegraded is called
// (spec.md §7 propagation policy).
func (s *Stream) MarkDegraded(reason string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.degraded = true
	s.degradedReason = reason
}

// ClearDegraded marks the stream healthy again.
func (s *Stream) ClearDegraded() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.degraded = false
	s.degradedReason = ""
}

// Degraded reports the stream's health and, when degraded, why.
func (s *Stream) Degraded() (bool, string) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.degraded, s.degradedReason
}

// Registry is the path → Stream table. One Registry per server.
type Registry struct {
	mu      sync.RWMutex
	streams map[string]*Stream
}

// New builds an empty registry.
func New() *Registry {
	return &Registry{streams: make(map[string]*Stream)}
}

// Register adds a stream at path, normalized to a leading-slash form.
func (r *Registry) Register(stream *Stream) {
	path := NormalizePath(stream.Path)
	stream.Path = path

	r.mu.Lock()
	defer r.mu.Unlock()
	r.streams[path] = stream
}

// Lookup resolves a request URI path to its Stream. Track suffixes
// ("/trackID=0") are stripped before matching (spec.md §4.G).
func (r *Registry) Lookup(uriPath string) (*Stream, bool) {
	path := NormalizePath(stripTrackSuffix(uriPath))
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.streams[path]
	return s, ok
}

// All returns every registered stream, for shutdown/reaper sweeps.
func (r *Registry) All() []*Stream {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Stream, 0, len(r.streams))
	for _, s := range r.streams {
		out = append(out, s)
	}
	return out
}

// NormalizePath lowercases nothing (paths are case-sensitive) but
// trims surrounding spaces, adds a leading slash when there is none,
// and removes trailing slashes (except from "/" itself).
func NormalizePath(path string) string {
	path = strings.TrimSpace(path)
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	if len(path) > 1 {
		path = strings.TrimRight(path, "/")
	}
	return path
}

func stripTrackSuffix(path string) string {
	if idx := strings.Index(path, "/trackID="); idx >= 0 {
		return path[:idx]
	}
	return path
}

// PublicationInfo is the stream-URI publication helper from
// SPEC_FULL's supplemented features: given a stream path, it
// describes how an external media-discovery service should reach it.
type PublicationInfo struct {
	URI                string
	RecommendedTimeout int
	InvalidAfterConnect bool
	InvalidAfterReboot  bool
}

// Publish builds the PublicationInfo for stream, reachable at
// rtsp://deviceIP:port<path>.
func Publish(stream *Stream, deviceIP string, port int) PublicationInfo {
	return PublicationInfo{
		URI:                 fmt.Sprintf("rtsp://%s:%d%s", deviceIP, port, stream.Path),
		RecommendedTimeout:  60,
		InvalidAfterConnect: false,
		InvalidAfterReboot:  false,
	}
}
