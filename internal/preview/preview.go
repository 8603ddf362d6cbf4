// Package preview decides how stored bytes are presented to a browser:
// download versus inline preview, the Content-Type to send, and a text
// rendering for PDFs.
package preview

import (
	"mime"
	"path/filepath"
	"strings"
)

const plainText = "text/plain; charset=utf-8"

// codeExtensions are shown as text when previewed, whatever their declared type.
var codeExtensions = map[string]bool{
	".py": true, ".php": true, ".js": true, ".ts": true, ".c": true, ".cpp": true,
	".h": true, ".java": true, ".rb": true, ".go": true, ".rs": true, ".sh": true,
	".bat": true, ".cmd": true, ".ps1": true, ".sql": true, ".xml": true,
	".yaml": true, ".yml": true, ".json": true, ".md": true, ".log": true,
	".ini": true, ".conf": true, ".m3u": true, ".txt": true,
}

// forcedPlain are always served as text/plain on preview so the browser
// shows the source instead of executing or downloading it.
var forcedPlain = map[string]bool{".py": true, ".php": true}

// ContentType returns the header value for serving a file. Downloads keep
// the declared type; previews of text-like files get a UTF-8 charset.
func ContentType(filename, declared string, inline bool) string {
	if declared == "" {
		declared = "application/octet-stream"
	}
	if !inline {
		return declared
	}
	ext := strings.ToLower(filepath.Ext(filename))
	if forcedPlain[ext] {
		return plainText
	}
	if !codeExtensions[ext] && !isTextual(declared) {
		return declared
	}
	if strings.Contains(strings.ToLower(declared), "charset=") {
		return declared
	}
	return declared + "; charset=utf-8"
}

func isTextual(mimeType string) bool {
	m := strings.ToLower(mimeType)
	return strings.HasPrefix(m, "text/") || m == "application/json" || m == "application/javascript"
}

// Disposition returns a Content-Disposition value. Non-ASCII names are
// encoded per RFC 2231 by mime.FormatMediaType.
func Disposition(filename string, inline bool) string {
	kind := "attachment"
	if inline {
		kind = "inline"
	}
	v := mime.FormatMediaType(kind, map[string]string{"filename": filename})
	if v == "" {
		return kind
	}
	return v
}

// IsPDF reports whether a file should be rendered through ExtractText on preview.
func IsPDF(filename, declared string) bool {
	return strings.EqualFold(filepath.Ext(filename), ".pdf") ||
		strings.HasPrefix(strings.ToLower(declared), "application/pdf")
}
