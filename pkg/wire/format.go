package wire

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// ServerName is advertised in every response's Server header.
const ServerName = "rtspd/1.0"

// Format renders resp as wire bytes, echoing cseq and stamping Date and
// Server. Header order is deterministic (sorted) so tests can assert on
// exact bytes; RTSP clients don't care about header order.
func Format(resp *Response, cseq string) []byte {
	var b strings.Builder

	fmt.Fprintf(&b, "RTSP/1.0 %d %s\r\n", resp.StatusCode, resp.Reason)
	fmt.Fprintf(&b, "CSeq: %s\r\n", cseq)
	fmt.Fprintf(&b, "Date: %s\r\n", time.Now().UTC().Format(http11Date))
	fmt.Fprintf(&b, "Server: %s\r\n", ServerName)

	keys := make([]string, 0, len(resp.Header))
	for k := range resp.Header {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, k := range keys {
		for _, v := range resp.Header[k] {
			fmt.Fprintf(&b, "%s: %s\r\n", k, v)
		}
	}

	if len(resp.Body) > 0 {
		fmt.Fprintf(&b, "Content-Length: %d\r\n", len(resp.Body))
	}

	b.WriteString("\r\n")
	out := []byte(b.String())
	if len(resp.Body) > 0 {
		out = append(out, resp.Body...)
	}
	return out
}

// http11Date is RFC 1123 with GMT, the date format RTSP/1.0 borrows
// from HTTP/1.1 (RFC 2326 §12.19).
const http11Date = "Mon, 02 Jan 2006 15:04:05 GMT"
