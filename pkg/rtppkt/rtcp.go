package rtppkt

import (
	"time"

	"github.com/pion/rtcp"
)

// ntpEpochOffset is the number of seconds between the NTP epoch
// (1900-01-01) and the Unix epoch (1970-01-01).
const ntpEpochOffset = 2208988800

// toNTP converts a wall-clock time to a 64-bit NTP timestamp (32-bit
// seconds, 32-bit fraction) per RFC 3550 §4.
func toNTP(t time.Time) uint64 {
	secs := uint64(t.Unix()+ntpEpochOffset) << 32
	frac := uint64(t.Nanosecond()) * (1 << 32) / 1_000_000_000
	return secs | frac
}

// SenderReport builds the compound RTCP packet (Sender Report + SDES
// with CNAME) a stream emits every 5 seconds. Teardown does not use
// it: a torn-down track is sent ByePacket alone, with no Sender Report.
func SenderReport(ssrc uint32, cname string, wallClock time.Time, rtpTimestamp uint32, packetsSent, octetsSent uint32) []byte {
	sr := &rtcp.SenderReport{
		SSRC:        ssrc,
		NTPTime:     toNTP(wallClock),
		RTPTime:     rtpTimestamp,
		PacketCount: packetsSent,
		OctetCount:  octetsSent,
	}
	sdes := &rtcp.SourceDescription{
		Chunks: []rtcp.SourceDescriptionChunk{
			{
				Source: ssrc,
				Items: []rtcp.SourceDescriptionItem{
					{Type: rtcp.SDESCNAME, Text: cname},
				},
			},
		},
	}

	out, err := rtcp.Marshal([]rtcp.Packet{sr, sdes})
	if err != nil {
		// Marshal only fails on packets this package never constructs
		// (oversized SDES items, malformed reception reports).
		return nil
	}
	return out
}

// ByePacket builds the RTCP BYE sent when a stream is torn down.
func ByePacket(ssrc uint32) []byte {
	bye := &rtcp.Goodbye{Sources: []uint32{ssrc}}
	out, err := rtcp.Marshal([]rtcp.Packet{bye})
	if err != nil {
		return nil
	}
	return out
}
