// Package sdp builds the SDP session description returned by DESCRIBE
// (component B: spec.md §4.B). It builds pion/sdp/v3 SessionDescription
// values and serializes with its Marshal, rather than hand-formatting
// strings line by line.
package sdp

import (
	"fmt"

	psdp "github.com/pion/sdp/v3"

	"github.com/camcore/rtspd/pkg/wire"
)

// VideoTrack describes the cached H.264 parameter sets for a stream's
// video media. SPS and PPS are the raw (non-base64) NAL payloads as
// cached by the registry's atomic publication barrier.
type VideoTrack struct {
	PayloadType uint8
	ClockRate   uint32
	SPS         []byte
	PPS         []byte
}

// AudioTrack describes a stream's optional audio media.
type AudioTrack struct {
	PayloadType uint8
	Encoding    string
	ClockRate   uint32
	Channels    int
}

// Stream is the subset of registry.Stream the builder needs. Kept
// narrow and local so this package doesn't import registry.
type Stream struct {
	Name  string
	Video VideoTrack
	Audio *AudioTrack // nil when the stream carries no audio
}

// ErrParameterSetsMissing is returned when the video track has no
// cached SPS/PPS yet; the session layer turns this into a 503 with a
// retry hint per spec.md §4.B.
var ErrParameterSetsMissing = fmt.Errorf("sprop-parameter-sets not yet cached")

// Build renders the SDP for stream as seen from serverIP, with sessionID
// on the o= line. The session layer passes a fresh id from the registry
// on every DESCRIBE, so repeat DESCRIBEs differ in that field.
func Build(stream Stream, serverIP string, sessionID uint64) ([]byte, error) {
	if len(stream.Video.SPS) == 0 || len(stream.Video.PPS) == 0 {
		return nil, ErrParameterSetsMissing
	}

	desc := &psdp.SessionDescription{
		Origin: psdp.Origin{
			Username:       "-",
			SessionID:      sessionID,
			SessionVersion: 1,
			NetworkType:    "IN",
			AddressType:    "IP4",
			UnicastAddress: serverIP,
		},
		SessionName: psdp.SessionName(stream.Name),
		ConnectionInformation: &psdp.ConnectionInformation{
			NetworkType: "IN",
			AddressType: "IP4",
			Address:     &psdp.Address{Address: "0.0.0.0"},
		},
		TimeDescriptions: []psdp.TimeDescription{
			{Timing: psdp.Timing{StartTime: 0, StopTime: 0}},
		},
	}

	videoMedia := &psdp.MediaDescription{
		MediaName: psdp.MediaName{
			Media:   "video",
			Port:    psdp.RangedPort{Value: 0},
			Protos:  []string{"RTP", "AVP"},
			Formats: []string{fmt.Sprintf("%d", stream.Video.PayloadType)},
		},
		Attributes: []psdp.Attribute{
			{Key: "rtpmap", Value: fmt.Sprintf("%d H264/%d", stream.Video.PayloadType, clockRateOrDefault(stream.Video.ClockRate))},
			{Key: "fmtp", Value: fmt.Sprintf("%d packetization-mode=1; profile-level-id=%s; sprop-parameter-sets=%s,%s",
				stream.Video.PayloadType,
				profileLevelID(stream.Video.SPS),
				wire.Base64Encode(stream.Video.SPS),
				wire.Base64Encode(stream.Video.PPS),
			)},
			{Key: "control", Value: "trackID=0"},
		},
	}
	desc.MediaDescriptions = append(desc.MediaDescriptions, videoMedia)

	if a := stream.Audio; a != nil {
		audioMedia := &psdp.MediaDescription{
			MediaName: psdp.MediaName{
				Media:   "audio",
				Port:    psdp.RangedPort{Value: 0},
				Protos:  []string{"RTP", "AVP"},
				Formats: []string{fmt.Sprintf("%d", a.PayloadType)},
			},
			Attributes: []psdp.Attribute{
				{Key: "rtpmap", Value: fmt.Sprintf("%d %s/%d/%d", a.PayloadType, a.Encoding, a.ClockRate, a.Channels)},
				{Key: "control", Value: "trackID=1"},
			},
		}
		desc.MediaDescriptions = append(desc.MediaDescriptions, audioMedia)
	}

	return desc.Marshal()
}

func clockRateOrDefault(rate uint32) uint32 {
	if rate == 0 {
		return 90000
	}
	return rate
}

// profileLevelID extracts profile_idc, constraint flags, and level_idc
// from the three bytes that follow the SPS NAL header byte. sps must
// include its NAL header, as the registry caches it.
func profileLevelID(sps []byte) string {
	if len(sps) < 4 {
		return "000000"
	}
	// sps[0] is the NAL header; profile_idc/constraint/level_idc start
	// at sps[1] per RFC 6184 §8.1.
	return fmt.Sprintf("%02X%02X%02X", sps[1], sps[2], sps[3])
}
