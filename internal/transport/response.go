package transport

import (
	"bytes"
	"fmt"
	"net"
	"net/http"
	"strings"
)

// responseRecorder is a minimal http.ResponseWriter that buffers the body
// in memory and frames it with Content-Length on the wire. Description
// documents and SOAP/GENA bodies handled by this module are always small,
// so buffering avoids implementing HTTP/1.1 chunked output framing; chunked
// only needs to be accepted on input, which http.ReadRequest already
// dechunks for us.
type responseRecorder struct {
	header          http.Header
	body            bytes.Buffer
	status          int
	wroteHeader     bool
	connectionClose bool
}

func newResponseRecorder() *responseRecorder {
	return &responseRecorder{header: make(http.Header), status: http.StatusOK}
}

func (r *responseRecorder) Header() http.Header { return r.header }

func (r *responseRecorder) WriteHeader(status int) {
	if r.wroteHeader {
		return
	}
	r.status = status
	r.wroteHeader = true
}

func (r *responseRecorder) Write(b []byte) (int, error) {
	if !r.wroteHeader {
		r.WriteHeader(http.StatusOK)
	}
	return r.body.Write(b)
}

func (r *responseRecorder) writeTo(conn net.Conn, req *http.Request) error {
	if strings.EqualFold(r.header.Get("Connection"), "close") {
		r.connectionClose = true
	}

	var buf bytes.Buffer
	fmt.Fprintf(&buf, "HTTP/1.1 %d %s\r\n", r.status, http.StatusText(r.status))
	if r.header.Get("Content-Type") == "" && r.body.Len() > 0 {
		r.header.Set("Content-Type", "text/xml; charset=\"utf-8\"")
	}
	r.header.Set("Content-Length", fmt.Sprintf("%d", r.body.Len()))
	if err := r.header.Write(&buf); err != nil {
		return err
	}
	buf.WriteString("\r\n")
	if req.Method != http.MethodHead {
		buf.Write(r.body.Bytes())
	}
	_, err := conn.Write(buf.Bytes())
	return err
}
