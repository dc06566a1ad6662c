package http

import "time"

// TimeFormat is the RFC 1123 layout used by the Date header.
const TimeFormat = "Mon, 02 Jan 2006 15:04:05 GMT"

// AppendDateHeader appends a complete "Date: ...\r\n" line for t.
func AppendDateHeader(dst []byte, t time.Time) []byte {
	dst = append(dst, "Date: "...)
	dst = t.UTC().AppendFormat(dst, TimeFormat)
	return append(dst, "\r\n"...)
}
