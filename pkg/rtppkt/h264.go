// Package rtppkt packetizes encoder output into RTP (component D:
// spec.md §4.D). It inverts the teacher's pkg/rtp depacketizers
// (H264Processor, AACProcessor) — those consume RTP payloads and
// reassemble NAL units / AAC frames; these build RTP payloads from
// NAL units / AAC frames instead. Packet framing (header fields,
// fragmentation rules) mirrors the teacher's naming and NALU type
// constants; the send direction is new.
package rtppkt

import (
	"github.com/pion/rtp"
)

// H.264 NAL unit types (RFC 6184), named the same as the teacher's
// depacketizer for continuity.
const (
	NALUTypeUnspecified = 0
	NALUTypePFrame      = 1
	NALUTypeIFrame      = 5
	NALUTypeSEI         = 6
	NALUTypeSPS         = 7
	NALUTypePPS         = 8
	NALUTypeAUD         = 9
	NALUTypeSTAPA       = 24
	NALUTypeFUA         = 28
)

// DefaultMTU is the default RTP payload budget (spec.md §4.D).
const DefaultMTU = 1400

// H264Packetizer turns access units (sequences of raw NAL units,
// start-code stripped) into a sequence of RTP packets.
type H264Packetizer struct {
	MTU         int
	PayloadType uint8
	SSRC        uint32

	seq uint16
}

// NewH264Packetizer builds a packetizer whose first packet carries
// startSeq. A non-positive mtu selects DefaultMTU.
func NewH264Packetizer(payloadType uint8, ssrc uint32, mtu int, startSeq uint16) *H264Packetizer {
	if mtu <= 0 {
		mtu = DefaultMTU
	}
	return &H264Packetizer{MTU: mtu, PayloadType: payloadType, SSRC: ssrc, seq: startSeq}
}

// NextSeq returns the sequence number the next emitted packet will
// carry, without consuming it.
func (p *H264Packetizer) NextSeq() uint16 { return p.seq }

// Packetize builds the RTP packets for one access unit. nalus are raw
// NAL units (no start codes, no length prefixes). timestamp is the
// 90kHz RTP timestamp shared by every packet in the access unit
// (spec.md §4.D: ts = frame_pts_ns * 90_000 / 1_000_000_000).
func (p *H264Packetizer) Packetize(nalus [][]byte, timestamp uint32) []*rtp.Packet {
	var packets []*rtp.Packet
	for i, nalu := range nalus {
		last := i == len(nalus)-1
		if len(nalu) == 0 {
			continue
		}
		if len(nalu)+12 <= p.MTU {
			packets = append(packets, p.singleNALU(nalu, timestamp, last))
		} else {
			packets = append(packets, p.fragmentFUA(nalu, timestamp, last)...)
		}
	}
	return packets
}

func (p *H264Packetizer) singleNALU(nalu []byte, timestamp uint32, marker bool) *rtp.Packet {
	pkt := &rtp.Packet{
		Header: rtp.Header{
			Version:        2,
			PayloadType:    p.PayloadType,
			SequenceNumber: p.seq,
			Timestamp:      timestamp,
			SSRC:           p.SSRC,
			Marker:         marker,
		},
		Payload: append([]byte(nil), nalu...),
	}
	p.seq++
	return pkt
}

// fragmentFUA splits a single NALU larger than the MTU into FU-A
// fragments (RFC 6184 §5.8).
func (p *H264Packetizer) fragmentFUA(nalu []byte, timestamp uint32, lastNALUInAU bool) []*rtp.Packet {
	header := nalu[0]
	forbiddenAndRef := header & 0xE0 // forbidden_zero_bit | nal_ref_idc
	naluType := header & 0x1F
	body := nalu[1:]

	// Room for the 2-byte FU indicator+header inside the MTU.
	chunkSize := p.MTU - 12 - 2
	if chunkSize <= 0 {
		chunkSize = 1
	}

	var packets []*rtp.Packet
	for offset := 0; offset < len(body); offset += chunkSize {
		end := offset + chunkSize
		if end > len(body) {
			end = len(body)
		}
		start := offset == 0
		final := end == len(body)

		fuIndicator := forbiddenAndRef | NALUTypeFUA
		fuHeader := naluType
		if start {
			fuHeader |= 0x80
		}
		if final {
			fuHeader |= 0x40
		}

		payload := make([]byte, 0, 2+(end-offset))
		payload = append(payload, fuIndicator, fuHeader)
		payload = append(payload, body[offset:end]...)

		marker := final && lastNALUInAU
		packets = append(packets, &rtp.Packet{
			Header: rtp.Header{
				Version:        2,
				PayloadType:    p.PayloadType,
				SequenceNumber: p.seq,
				Timestamp:      timestamp,
				SSRC:           p.SSRC,
				Marker:         marker,
			},
			Payload: payload,
		})
		p.seq++
	}
	return packets
}

// TimestampFromPTS derives the 90kHz RTP timestamp for a frame
// presentation time given in nanoseconds (spec.md §4.D).
func TimestampFromPTS(ptsNanos int64) uint32 {
	return uint32((ptsNanos * 90000) / 1_000_000_000)
}

// IsIDR reports whether nalu (start-code stripped) is an IDR slice.
func IsIDR(nalu []byte) bool {
	return len(nalu) > 0 && nalu[0]&0x1F == NALUTypeIFrame
}

// IsParameterSet reports whether nalu is an SPS or PPS.
func IsParameterSet(nalu []byte) bool {
	if len(nalu) == 0 {
		return false
	}
	t := nalu[0] & 0x1F
	return t == NALUTypeSPS || t == NALUTypePPS
}
