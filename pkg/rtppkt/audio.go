package rtppkt

import (
	"github.com/pion/rtp"
)

// G711FrameSamples is the sample count of one 20ms frame at 8kHz
// (spec.md §4.D).
const G711FrameSamples = 160

// AACSamplesPerFrame is the AAC-LC access unit size in samples.
const AACSamplesPerFrame = 1024

// AudioPacketizer packetizes G.711 or AAC frames into RTP packets.
// One instance handles one stream's audio track; the encoding is
// fixed for the stream's lifetime.
type AudioPacketizer struct {
	PayloadType uint8
	SSRC        uint32

	seq       uint16
	timestamp uint32
}

// NewAudioPacketizer builds a packetizer starting at startSeq/startTS.
func NewAudioPacketizer(payloadType uint8, ssrc uint32, startSeq uint16, startTS uint32) *AudioPacketizer {
	return &AudioPacketizer{PayloadType: payloadType, SSRC: ssrc, seq: startSeq, timestamp: startTS}
}

// PacketizeG711 wraps one 160-byte G.711 frame in an RTP packet and
// advances the timestamp by G711FrameSamples.
func (p *AudioPacketizer) PacketizeG711(frame []byte) *rtp.Packet {
	pkt := &rtp.Packet{
		Header: rtp.Header{
			Version:        2,
			PayloadType:    p.PayloadType,
			SequenceNumber: p.seq,
			Timestamp:      p.timestamp,
			SSRC:           p.SSRC,
			Marker:         true,
		},
		Payload: append([]byte(nil), frame...),
	}
	p.seq++
	p.timestamp += G711FrameSamples
	return pkt
}

// PacketizeAAC wraps one AAC access unit per RFC 3640 AU-header
// framing: a 2-byte AU-headers-length (bits, fixed at 0x0010 for one
// 16-bit header), then the 16-bit AU header itself (13-bit size,
// 3-bit index), then the raw AU payload. Advances the timestamp by
// AACSamplesPerFrame.
func (p *AudioPacketizer) PacketizeAAC(au []byte) *rtp.Packet {
	payload := make([]byte, 0, 4+len(au))
	payload = append(payload, 0x00, 0x10) // AU-headers-length = 16 bits
	size := uint16(len(au)) << 3          // sizelength=13, index=0
	payload = append(payload, byte(size>>8), byte(size))
	payload = append(payload, au...)

	pkt := &rtp.Packet{
		Header: rtp.Header{
			Version:        2,
			PayloadType:    p.PayloadType,
			SequenceNumber: p.seq,
			Timestamp:      p.timestamp,
			SSRC:           p.SSRC,
			Marker:         true,
		},
		Payload: payload,
	}
	p.seq++
	p.timestamp += AACSamplesPerFrame
	return pkt
}
