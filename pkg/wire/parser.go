package wire

import (
	"bytes"
	"net/textproto"
	"strconv"
	"strings"
)

// ParseStatus describes the outcome of a single Parse call.
type ParseStatus int

const (
	// NeedMore means the buffer does not yet contain a complete message;
	// the caller should read more bytes and call Parse again.
	NeedMore ParseStatus = iota
	// Complete means a full request (headers and any declared body) was
	// parsed out of the front of the buffer.
	Complete
	// Malformed means the buffer can never produce a valid request —
	// the connection should be failed with the carried status code.
	Malformed
)

// MaxRequestSize is the maximum number of bytes accepted for a single
// RTSP request (spec.md §4.A).
const MaxRequestSize = 16 * 1024

// crlfcrlf is the blank-line terminator of the header block.
var crlfcrlf = []byte("\r\n\r\n")

// Parse attempts to parse one RTSP request from the front of buf. It
// returns the number of bytes consumed from buf (valid only when status
// is Complete or Malformed-with-a-recoverable-boundary), the parsed
// request (valid only when status is Complete), and a *ParseError
// describing why the message is Malformed (nil otherwise).
func Parse(buf []byte) (req *Request, consumed int, status ParseStatus, statusErr *ParseError) {
	idx := bytes.Index(buf, crlfcrlf)
	if idx < 0 {
		if len(buf) > MaxRequestSize {
			return nil, 0, Malformed, &ParseError{Code: 414, Reason: "Request-URI Too Large"}
		}
		return nil, 0, NeedMore, nil
	}

	headerBlock := buf[:idx]
	bodyStart := idx + len(crlfcrlf)

	req, perr := parseHeaderBlock(headerBlock)
	if perr != nil {
		// The header block is syntactically complete but invalid; the
		// caller can still discard exactly this much of the buffer.
		return nil, bodyStart, Malformed, perr
	}

	contentLength := req.ContentLength()
	if bodyStart+contentLength > MaxRequestSize {
		return nil, 0, Malformed, &ParseError{Code: 414, Reason: "Request-URI Too Large"}
	}
	if len(buf) < bodyStart+contentLength {
		return nil, 0, NeedMore, nil
	}

	if contentLength > 0 {
		req.Body = append([]byte(nil), buf[bodyStart:bodyStart+contentLength]...)
	}

	return req, bodyStart + contentLength, Complete, nil
}

// ParseError is the reason a Malformed parse result was produced,
// expressed as the RTSP status code the session should respond with.
type ParseError struct {
	Code   int
	Reason string
}

func (e *ParseError) Error() string { return e.Reason }

func parseHeaderBlock(block []byte) (*Request, *ParseError) {
	lines := strings.Split(string(block), "\r\n")
	if len(lines) == 0 || lines[0] == "" {
		return nil, &ParseError{Code: 400, Reason: "Bad Request"}
	}

	requestLine := strings.Fields(lines[0])
	if len(requestLine) != 3 {
		return nil, &ParseError{Code: 400, Reason: "Bad Request"}
	}

	method, uri, version := requestLine[0], requestLine[1], requestLine[2]
	if version != "RTSP/1.0" {
		return nil, &ParseError{Code: 400, Reason: "RTSP Version Not Supported"}
	}

	header := make(textproto.MIMEHeader)
	for _, line := range lines[1:] {
		if line == "" {
			continue
		}
		colon := strings.IndexByte(line, ':')
		if colon < 0 {
			return nil, &ParseError{Code: 400, Reason: "Bad Request"}
		}
		key := textproto.CanonicalMIMEHeaderKey(strings.TrimSpace(line[:colon]))
		value := strings.TrimSpace(line[colon+1:])
		header.Add(key, value)
	}

	if header.Get("CSeq") == "" {
		return nil, &ParseError{Code: 400, Reason: "Bad Request"}
	}
	if _, err := strconv.Atoi(header.Get("CSeq")); err != nil {
		return nil, &ParseError{Code: 400, Reason: "Bad Request"}
	}

	return &Request{
		Method:  method,
		URI:     uri,
		Version: version,
		Header:  header,
	}, nil
}
