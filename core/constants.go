package core

import "errors"

// HTTP header constants
const (
	HeaderContentType = "Content-Type"
	HeaderConnection  = "Connection"
	HeaderUpgrade     = "Upgrade"
	HeaderLocation    = "Location"

	contentTypeHTML  = "text/html; charset=UTF-8"
	contentTypePlain = "text/plain"
	contentTypeJSON  = "application/json"
)

// Error definitions
var (
	ErrScratchInUse = errors.New("core: scratch slot already allocated for this request")
	ErrHandlerPanic = errors.New("core: handler panicked")
	ErrNotHandling  = errors.New("core: connection is not handling a request")
)
