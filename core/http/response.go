package http

import (
	"errors"
	"strconv"
)

// HeaderSlack is the space reserved at the head of the header buffer for
// the status line, Connection and Content-Type headers.
const HeaderSlack = 160

const (
	DefaultStatus      = "200 OK"
	DefaultContentType = "text/html; charset=UTF-8"

	defaultKeepAliveHead = "HTTP/1.1 200 OK\r\n" +
		"Connection: keep-alive\r\n" +
		"Content-Type: text/html; charset=UTF-8\r\n"
	defaultCloseHead = "HTTP/1.1 200 OK\r\n" +
		"Connection: close\r\n" +
		"Content-Type: text/html; charset=UTF-8\r\n"

	connKeepAlive = "Connection: keep-alive\r\n"
	connClose     = "Connection: close\r\n"
)

// ErrHeadersTooLarge is returned by Compose when a custom status and
// content type do not fit in HeaderSlack.
var ErrHeadersTooLarge = errors.New("http: status line and content type exceed header slack")

// Response accumulates one response: extra header lines and the body.
// The status line, Connection and Content-Type headers are only rendered by
// Compose, into the slack region in front of the extra headers.
type Response struct {
	KeepAlive bool
	Body      []byte

	status      string
	contentType string
	hdr         []byte
	extraEnd    int
}

// Reset prepares the response for a new request.
func (r *Response) Reset(keepAlive bool) {
	if cap(r.hdr) < HeaderSlack {
		r.hdr = make([]byte, HeaderSlack, HeaderSlack+256)
	}
	r.hdr = r.hdr[:HeaderSlack]
	r.extraEnd = HeaderSlack
	r.Body = r.Body[:0]
	r.status = ""
	r.contentType = ""
	r.KeepAlive = keepAlive
}

// SetStatus overrides the status ("404 Not Found") and content type. Empty
// values keep the defaults. Both strings must stay valid until Compose.
func (r *Response) SetStatus(status, contentType string) {
	r.status = status
	r.contentType = contentType
}

// SetStatusCode sets the status from a numeric code.
func (r *Response) SetStatusCode(code int) {
	r.status = StatusLine(code)
}

// SetContentType overrides only the content type.
func (r *Response) SetContentType(contentType string) {
	r.contentType = contentType
}

func (r *Response) Status() string {
	if r.status == "" {
		return DefaultStatus
	}
	return r.status
}

func (r *Response) ContentType() string {
	if r.contentType == "" {
		return DefaultContentType
	}
	return r.contentType
}

// AddHeader appends "name: value" to the extra headers.
func (r *Response) AddHeader(name, value string) {
	if cap(r.hdr) < HeaderSlack {
		r.Reset(r.KeepAlive)
	}
	r.hdr = r.hdr[:r.extraEnd]
	r.hdr = append(r.hdr, name...)
	r.hdr = append(r.hdr, ": "...)
	r.hdr = append(r.hdr, value...)
	r.hdr = append(r.hdr, "\r\n"...)
	r.extraEnd = len(r.hdr)
}

// Write appends p to the body.
func (r *Response) Write(p []byte) (int, error) {
	r.Body = append(r.Body, p...)
	return len(p), nil
}

// WriteString appends s to the body.
func (r *Response) WriteString(s string) (int, error) {
	r.Body = append(r.Body, s...)
	return len(s), nil
}

// Compose renders the complete header block. dateLine must be a full
// "Date: ...\r\n" line. The returned slice aliases the response and stays
// valid until the next Reset, AddHeader or Compose.
func (r *Response) Compose(dateLine []byte, contentLength int64) ([]byte, error) {
	if cap(r.hdr) < HeaderSlack {
		r.Reset(r.KeepAlive)
	}
	r.hdr = r.hdr[:r.extraEnd]

	var start int
	if r.status == "" && r.contentType == "" {
		head := defaultCloseHead
		if r.KeepAlive {
			head = defaultKeepAliveHead
		}
		start = HeaderSlack - len(head)
		copy(r.hdr[start:HeaderSlack], head)
	} else {
		var ok bool
		if start, ok = r.composeCustom(); !ok {
			return nil, ErrHeadersTooLarge
		}
	}

	r.hdr = append(r.hdr, "Content-Length: "...)
	r.hdr = strconv.AppendInt(r.hdr, contentLength, 10)
	r.hdr = append(r.hdr, "\r\n"...)
	r.hdr = append(r.hdr, dateLine...)
	r.hdr = append(r.hdr, "\r\n"...)

	return r.hdr[start:], nil
}

// composeCustom writes the head backward from the end of the slack.
func (r *Response) composeCustom() (int, bool) {
	status, contentType := r.Status(), r.ContentType()
	conn := connClose
	if r.KeepAlive {
		conn = connKeepAlive
	}

	need := len("HTTP/1.1 ") + len(status) + 2 + len(conn) +
		len("Content-Type: ") + len(contentType) + 2
	if need > HeaderSlack {
		return 0, false
	}

	w := HeaderSlack
	w = r.putBack(w, "\r\n")
	w = r.putBack(w, contentType)
	w = r.putBack(w, "Content-Type: ")
	w = r.putBack(w, conn)
	w = r.putBack(w, "\r\n")
	w = r.putBack(w, status)
	w = r.putBack(w, "HTTP/1.1 ")
	return w, true
}

func (r *Response) putBack(w int, s string) int {
	w -= len(s)
	copy(r.hdr[w:], s)
	return w
}
