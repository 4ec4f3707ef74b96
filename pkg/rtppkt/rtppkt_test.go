package rtppkt_test

import (
	"testing"
	"time"

	"github.com/pion/rtcp"
	"github.com/stretchr/testify/require"

	"github.com/camcore/rtspd/pkg/rtppkt"
)

func TestH264SingleNALUUnderMTU(t *testing.T) {
	p := rtppkt.NewH264Packetizer(96, 0x1234, 1400, 1000)
	nalu := []byte{0x65, 0xaa, 0xbb, 0xcc} // IDR, small
	pkts := p.Packetize([][]byte{nalu}, 90000)

	require.Len(t, pkts, 1)
	require.True(t, pkts[0].Marker)
	require.Equal(t, uint16(1000), pkts[0].SequenceNumber)
	require.Equal(t, uint32(90000), pkts[0].Timestamp)
	require.Equal(t, nalu, pkts[0].Payload)
}

func TestH264FragmentsOversizedNALU(t *testing.T) {
	p := rtppkt.NewH264Packetizer(96, 0x1234, 100, 0)
	big := make([]byte, 300)
	big[0] = 0x65 // forbidden_zero_bit=0, nal_ref_idc=3, type=IDR
	for i := 1; i < len(big); i++ {
		big[i] = byte(i)
	}

	pkts := p.Packetize([][]byte{big}, 5000)
	require.Greater(t, len(pkts), 1)

	first := pkts[0]
	require.Equal(t, uint8(rtppkt.NALUTypeFUA), first.Payload[0]&0x1F)
	require.NotZero(t, first.Payload[1]&0x80, "S bit set on first fragment")
	require.Zero(t, first.Payload[1]&0x40, "E bit clear on first fragment")

	last := pkts[len(pkts)-1]
	require.Zero(t, last.Payload[1]&0x80, "S bit clear on last fragment")
	require.NotZero(t, last.Payload[1]&0x40, "E bit set on last fragment")
	require.True(t, last.Marker)

	for i, pkt := range pkts {
		require.Equal(t, uint32(5000), pkt.Timestamp)
		if i > 0 {
			require.False(t, pkt.Marker)
		}
	}
}

func TestTimestampFromPTS(t *testing.T) {
	require.Equal(t, uint32(90000), rtppkt.TimestampFromPTS(1_000_000_000))
	require.Equal(t, uint32(0), rtppkt.TimestampFromPTS(0))
}

func TestAudioPacketizerG711AdvancesTimestamp(t *testing.T) {
	p := rtppkt.NewAudioPacketizer(0, 0xabcd, 10, 0)
	frame := make([]byte, rtppkt.G711FrameSamples)

	pkt1 := p.PacketizeG711(frame)
	pkt2 := p.PacketizeG711(frame)

	require.Equal(t, uint32(0), pkt1.Timestamp)
	require.Equal(t, uint32(rtppkt.G711FrameSamples), pkt2.Timestamp)
	require.Equal(t, uint16(10), pkt1.SequenceNumber)
	require.Equal(t, uint16(11), pkt2.SequenceNumber)
}

func TestAudioPacketizerAACFraming(t *testing.T) {
	p := rtppkt.NewAudioPacketizer(97, 1, 0, 0)
	au := []byte{0xAA, 0xBB, 0xCC}
	pkt := p.PacketizeAAC(au)

	require.Equal(t, []byte{0x00, 0x10}, pkt.Payload[0:2])
	size := uint16(pkt.Payload[2])<<8 | uint16(pkt.Payload[3])
	require.Equal(t, uint16(len(au))<<3, size)
	require.Equal(t, au, pkt.Payload[4:])
}

func TestSenderReportRoundTrips(t *testing.T) {
	raw := rtppkt.SenderReport(0x1111, "cam0", time.Unix(1700000000, 0), 90000, 42, 1024)
	require.NotNil(t, raw)

	packets, err := rtcp.Unmarshal(raw)
	require.NoError(t, err)
	require.Len(t, packets, 2)

	sr, ok := packets[0].(*rtcp.SenderReport)
	require.True(t, ok)
	require.Equal(t, uint32(0x1111), sr.SSRC)
	require.Equal(t, uint32(42), sr.PacketCount)

	sdes, ok := packets[1].(*rtcp.SourceDescription)
	require.True(t, ok)
	require.Equal(t, "cam0", sdes.Chunks[0].Items[0].Text)
}

func TestByePacket(t *testing.T) {
	raw := rtppkt.ByePacket(0x2222)
	packets, err := rtcp.Unmarshal(raw)
	require.NoError(t, err)
	bye, ok := packets[0].(*rtcp.Goodbye)
	require.True(t, ok)
	require.Equal(t, []uint32{0x2222}, bye.Sources)
}
