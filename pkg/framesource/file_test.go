package framesource_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/camcore/rtspd/pkg/framesource"
)

func writeAnnexB(t *testing.T) string {
	t.Helper()
	var data []byte
	data = append(data, 0x00, 0x00, 0x00, 0x01, 0x67, 0x42, 0x00, 0x1f) // SPS
	data = append(data, 0x00, 0x00, 0x00, 0x01, 0x68, 0xce)             // PPS
	data = append(data, 0x00, 0x00, 0x00, 0x01, 0x65, 0xaa, 0xbb)       // IDR slice
	data = append(data, 0x00, 0x00, 0x00, 0x01, 0x41, 0xcc, 0xdd)       // P slice

	path := filepath.Join(t.TempDir(), "stream.h264")
	require.NoError(t, os.WriteFile(path, data, 0o644))
	return path
}

func TestFileSourceGroupsAccessUnits(t *testing.T) {
	src := framesource.NewFileSource(writeAnnexB(t), 1000) // fast fps, keeps the test quick
	ctx := context.Background()

	interval, err := src.Start(ctx)
	require.NoError(t, err)
	require.Greater(t, interval, time.Duration(0))
	defer src.Stop()

	idr, err := src.NextVideoFrame(ctx)
	require.NoError(t, err)
	require.True(t, idr.IsIDR)
	require.Equal(t, []byte{0x67, 0x42, 0x00, 0x1f}, idr.SPS)
	require.Equal(t, []byte{0x68, 0xce}, idr.PPS)
	require.Len(t, idr.NALUs, 1)

	p, err := src.NextVideoFrame(ctx)
	require.NoError(t, err)
	require.False(t, p.IsIDR)
	require.Nil(t, p.SPS)

	// Loops back to the IDR.
	again, err := src.NextVideoFrame(ctx)
	require.NoError(t, err)
	require.True(t, again.IsIDR)
}

func TestFileSourceNoAudio(t *testing.T) {
	src := framesource.NewFileSource(writeAnnexB(t), 1000)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Millisecond)
	defer cancel()

	_, err := src.NextAudioFrame(ctx)
	require.ErrorIs(t, err, framesource.ErrNoAudio)
}

func TestFileSourceMissingFile(t *testing.T) {
	src := framesource.NewFileSource("/nonexistent/path.h264", 25)
	_, err := src.Start(context.Background())
	require.Error(t, err)
}
