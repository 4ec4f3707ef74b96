package framesource

import (
	"context"
	"fmt"
	"os"
	"time"
)

// FileSource loops playback of a local H.264 Annex-B elementary
// stream, grouping NAL units into access units by slice boundary. It
// exists so cmd/rtspd is runnable end to end without a live encoder
// attached; a production deployment would replace it with a Source
// backed by a capture device or an upstream RTSP/RTMP ingest.
type FileSource struct {
	Path string
	FPS  float64

	units         []accessUnit
	idx           int
	frameInterval time.Duration
}

type accessUnit struct {
	nalus [][]byte
	sps   []byte
	pps   []byte
	idr   bool
}

// NewFileSource builds a source that plays path back at fps, looping.
func NewFileSource(path string, fps float64) *FileSource {
	if fps <= 0 {
		fps = 25
	}
	return &FileSource{Path: path, FPS: fps}
}

func (f *FileSource) Start(ctx context.Context) (time.Duration, error) {
	data, err := os.ReadFile(f.Path)
	if err != nil {
		return 0, fmt.Errorf("framesource: read %s: %w", f.Path, err)
	}
	f.units = groupAccessUnits(splitAnnexB(data))
	if len(f.units) == 0 {
		return 0, fmt.Errorf("framesource: %s contains no access units", f.Path)
	}
	f.frameInterval = time.Duration(float64(time.Second) / f.FPS)
	return f.frameInterval, nil
}

func (f *FileSource) Stop() error { return nil }

func (f *FileSource) NextVideoFrame(ctx context.Context) (VideoFrame, error) {
	select {
	case <-ctx.Done():
		return VideoFrame{}, ctx.Err()
	case <-time.After(f.frameInterval):
	}

	u := f.units[f.idx]
	f.idx = (f.idx + 1) % len(f.units)

	return VideoFrame{
		PTSNanos: time.Now().UnixNano(),
		IsIDR:    u.idr,
		NALUs:    u.nalus,
		SPS:      u.sps,
		PPS:      u.pps,
	}, nil
}

// NextAudioFrame blocks until ctx is done and then returns ErrNoAudio:
// FileSource is video-only.
func (f *FileSource) NextAudioFrame(ctx context.Context) (AudioFrame, error) {
	<-ctx.Done()
	return AudioFrame{}, ErrNoAudio
}

// splitAnnexB splits raw Annex-B bytes on 3- or 4-byte start codes,
// returning each NAL unit with its start code stripped.
func splitAnnexB(data []byte) [][]byte {
	var starts []int
	for i := 0; i+2 < len(data); i++ {
		if data[i] == 0 && data[i+1] == 0 && data[i+2] == 1 {
			starts = append(starts, i+3)
		}
	}

	var nalus [][]byte
	for n, start := range starts {
		end := len(data)
		if n+1 < len(starts) {
			end = starts[n+1] - 3
			for end > start && data[end-1] == 0 {
				end-- // trailing zero byte of a 4-byte start code
			}
		}
		if end > start {
			nalus = append(nalus, data[start:end])
		}
	}
	return nalus
}

// groupAccessUnits buffers parameter-set and non-slice NALs until a
// coded slice (type 1 or 5) closes out one access unit.
func groupAccessUnits(nalus [][]byte) []accessUnit {
	var units []accessUnit
	var cur accessUnit

	for _, n := range nalus {
		if len(n) == 0 {
			continue
		}
		switch n[0] & 0x1F {
		case 7:
			cur.sps = n
		case 8:
			cur.pps = n
		case 1:
			cur.nalus = append(cur.nalus, n)
			units = append(units, cur)
			cur = accessUnit{}
		case 5:
			cur.nalus = append(cur.nalus, n)
			cur.idr = true
			units = append(units, cur)
			cur = accessUnit{}
		default:
			cur.nalus = append(cur.nalus, n)
		}
	}
	return units
}
