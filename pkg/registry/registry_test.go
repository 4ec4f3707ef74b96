package registry_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/camcore/rtspd/pkg/registry"
)

func TestLookupStripsTrackSuffix(t *testing.T) {
	r := registry.New()
	r.Register(&registry.Stream{Path: "/front-door"})

	s, ok := r.Lookup("/front-door/trackID=0")
	require.True(t, ok)
	require.Equal(t, "/front-door", s.Path)
}

func TestLookupUnknownPathMisses(t *testing.T) {
	r := registry.New()
	_, ok := r.Lookup("/nope")
	require.False(t, ok)
}

func TestParameterSetsPublicationBarrier(t *testing.T) {
	s := &registry.Stream{Path: "/cam0"}
	require.Nil(t, s.ParameterSets())

	s.PublishParameterSets([]byte{0x67, 0x01}, []byte{0x68, 0x02})
	ps := s.ParameterSets()
	require.NotNil(t, ps)
	require.Equal(t, []byte{0x67, 0x01}, ps.SPS)
	require.Equal(t, []byte{0x68, 0x02}, ps.PPS)
}

func TestDegradedState(t *testing.T) {
	s := &registry.Stream{Path: "/cam0"}
	degraded, _ := s.Degraded()
	require.False(t, degraded)

	s.MarkDegraded("encoder lost")
	degraded, reason := s.Degraded()
	require.True(t, degraded)
	require.Equal(t, "encoder lost", reason)

	s.ClearDegraded()
	degraded, _ = s.Degraded()
	require.False(t, degraded)
}

func TestPublish(t *testing.T) {
	s := &registry.Stream{Path: "/front-door"}
	info := registry.Publish(s, "192.0.2.5", 554)
	require.Equal(t, "rtsp://192.0.2.5:554/front-door", info.URI)
	require.Equal(t, 60, info.RecommendedTimeout)
	require.False(t, info.InvalidAfterConnect)
	require.False(t, info.InvalidAfterReboot)
}

func TestNormalizePath(t *testing.T) {
	require.Equal(t, "/a", registry.NormalizePath("a"))
	require.Equal(t, "/a", registry.NormalizePath("/a/"))
	require.Equal(t, "/", registry.NormalizePath("/"))
}
