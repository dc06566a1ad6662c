package http

// statusText returns the HTTP status text for the given code
func statusText(code int) string {
	switch code {
	case 200:
		return "OK"
	case 201:
		return "Created"
	case 204:
		return "No Content"
	case 301:
		return "Moved Permanently"
	case 302:
		return "Found"
	case 304:
		return "Not Modified"
	case 400:
		return "Bad Request"
	case 403:
		return "Forbidden"
	case 404:
		return "Not Found"
	case 405:
		return "Method Not Allowed"
	case 413:
		return "Request Entity Too Large"
	case 500:
		return "Internal Server Error"
	case 503:
		return "Service Unavailable"
	default:
		return "Unknown"
	}
}

var statusLines = map[int]string{}

func init() {
	for _, code := range []int{200, 201, 204, 301, 302, 304, 400, 403, 404, 405, 413, 500, 503} {
		statusLines[code] = string(appendStatus(nil, code))
	}
}

// StatusLine returns the "<code> <text>" form used on the response status
// line, e.g. "404 Not Found".
func StatusLine(code int) string {
	if s, ok := statusLines[code]; ok {
		return s
	}
	return string(appendStatus(nil, code))
}

func appendStatus(b []byte, code int) []byte {
	b = appendInt(b, code)
	b = append(b, ' ')
	return append(b, statusText(code)...)
}

// appendInt appends an integer to a byte slice
func appendInt(b []byte, i int) []byte {
	if i == 0 {
		return append(b, '0')
	}

	if i < 0 {
		b = append(b, '-')
		i = -i
	}

	// Calculate number of digits
	digits := 0
	tmp := i
	for tmp > 0 {
		digits++
		tmp /= 10
	}

	start := len(b)
	for j := 0; j < digits; j++ {
		b = append(b, '0')
	}

	// Fill digits from right to left
	for j := digits - 1; j >= 0; j-- {
		b[start+j] = byte('0' + i%10)
		i /= 10
	}

	return b
}
