package filecache

import (
	"path"
	"strings"
)

// DefaultMIMEType is served for unknown extensions.
const DefaultMIMEType = "application/octet-stream"

var mimeTypes = map[string]string{
	".html":  "text/html; charset=utf-8",
	".htm":   "text/html; charset=utf-8",
	".css":   "text/css; charset=utf-8",
	".js":    "application/javascript; charset=utf-8",
	".mjs":   "application/javascript; charset=utf-8",
	".json":  "application/json; charset=utf-8",
	".xml":   "application/xml; charset=utf-8",
	".txt":   "text/plain; charset=utf-8",
	".md":    "text/markdown; charset=utf-8",
	".csv":   "text/csv; charset=utf-8",
	".jpg":   "image/jpeg",
	".jpeg":  "image/jpeg",
	".png":   "image/png",
	".gif":   "image/gif",
	".webp":  "image/webp",
	".svg":   "image/svg+xml",
	".ico":   "image/x-icon",
	".pdf":   "application/pdf",
	".zip":   "application/zip",
	".gz":    "application/gzip",
	".wasm":  "application/wasm",
	".woff":  "font/woff",
	".woff2": "font/woff2",
	".mp4":   "video/mp4",
	".mp3":   "audio/mpeg",
}

// ContentType returns the MIME type for name, consulting overrides first.
func ContentType(name string, overrides map[string]string) string {
	ext := strings.ToLower(path.Ext(name))
	if ext == "" {
		return DefaultMIMEType
	}
	if t, ok := overrides[ext]; ok {
		return t
	}
	if t, ok := mimeTypes[ext]; ok {
		return t
	}
	return DefaultMIMEType
}
