package wire_test

import (
	"strings"
	"testing"

	"github.com/camcore/rtspd/pkg/wire"
	"github.com/stretchr/testify/require"
)

func TestParseNeedMoreOnPartialRequest(t *testing.T) {
	partial := []byte("OPTIONS rtsp://h/vs0 RTSP/1.0\r\nCSeq: 1\r\n")
	_, _, status, perr := wire.Parse(partial)
	require.Equal(t, wire.NeedMore, status)
	require.Nil(t, perr)
}

func TestParseCompleteOptions(t *testing.T) {
	raw := []byte("OPTIONS rtsp://h/vs0 RTSP/1.0\r\nCSeq: 1\r\n\r\n")
	req, consumed, status, perr := wire.Parse(raw)
	require.Equal(t, wire.Complete, status)
	require.Nil(t, perr)
	require.Equal(t, len(raw), consumed)
	require.Equal(t, wire.MethodOptions, req.Method)
	require.Equal(t, "1", req.CSeq())
}

func TestParseWaitsForDeclaredBody(t *testing.T) {
	head := "SET_PARAMETER rtsp://h/vs0 RTSP/1.0\r\nCSeq: 9\r\nContent-Length: 10\r\n\r\n"
	_, _, status, perr := wire.Parse([]byte(head))
	require.Equal(t, wire.NeedMore, status)
	require.Nil(t, perr)

	full := head + "0123456789"
	req, consumed, status, perr := wire.Parse([]byte(full))
	require.Equal(t, wire.Complete, status)
	require.Nil(t, perr)
	require.Equal(t, len(full), consumed)
	require.Equal(t, "0123456789", string(req.Body))
}

func TestParseMissingCSeqIsMalformed(t *testing.T) {
	raw := []byte("OPTIONS rtsp://h/vs0 RTSP/1.0\r\n\r\n")
	_, _, status, perr := wire.Parse(raw)
	require.Equal(t, wire.Malformed, status)
	require.Equal(t, 400, perr.Code)
}

func TestParseOversizedRequestIsTooLarge(t *testing.T) {
	huge := "OPTIONS " + strings.Repeat("a", wire.MaxRequestSize+1) + " RTSP/1.0\r\nCSeq: 1\r\n"
	_, _, status, perr := wire.Parse([]byte(huge))
	require.Equal(t, wire.Malformed, status)
	require.Equal(t, 414, perr.Code)
}

func TestParseSessionHeaderStripsTimeoutSuffix(t *testing.T) {
	raw := []byte("PLAY rtsp://h/vs0 RTSP/1.0\r\nCSeq: 4\r\nSession: abc123;timeout=60\r\n\r\n")
	req, _, status, _ := wire.Parse(raw)
	require.Equal(t, wire.Complete, status)
	require.Equal(t, "abc123", req.Session())
}

func TestFormatOptionsResponse(t *testing.T) {
	resp := wire.NewResponse(200, "OK")
	resp.Header.Set("Public", strings.Join(wire.SupportedMethods, ", "))

	out := string(wire.Format(resp, "1"))
	require.True(t, strings.HasPrefix(out, "RTSP/1.0 200 OK\r\n"))
	require.Contains(t, out, "CSeq: 1\r\n")
	require.Contains(t, out, "Public: OPTIONS, DESCRIBE, SETUP, PLAY, PAUSE, TEARDOWN, GET_PARAMETER, SET_PARAMETER\r\n")
	require.Contains(t, out, "Server: "+wire.ServerName)
	require.True(t, strings.HasSuffix(out, "\r\n\r\n"))
}

func TestFormatIncludesContentLengthWithBody(t *testing.T) {
	resp := wire.NewResponse(200, "OK")
	resp.Header.Set("Content-Type", "application/sdp")
	resp.Body = []byte("v=0\r\n")

	out := string(wire.Format(resp, "2"))
	require.Contains(t, out, "Content-Length: 5\r\n")
	require.True(t, strings.HasSuffix(out, "v=0\r\n"))
}

func TestBase64RoundTrip(t *testing.T) {
	data := []byte{0x00, 0x01, 0x7f, 0x80, 0xff, 'a', 'b', 'c'}
	enc := wire.Base64Encode(data)
	dec, err := wire.Base64Decode(enc)
	require.NoError(t, err)
	require.Equal(t, data, dec)
}
