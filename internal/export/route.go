// Package export packages the public file set into a zip archive laid out
// by a fixed routing table.
package export

import (
	"path"
	"strings"
)

const (
	prefixData   = "json/"
	prefixScript = "spider/js/"
	prefixPHP    = "spider/php/"
	prefixPython = "spider/py/"
	prefixErrors = "errors/"
)

// Route returns the archive folder for a file, or ok=false when its
// extension is not exported. Script files carrying marker land in a
// marker-specific folder.
func Route(filename string, tags []string, marker string) (prefix string, ok bool) {
	switch strings.ToLower(path.Ext(baseName(filename))) {
	case ".json", ".txt", ".m3u":
		return prefixData, true
	case ".js":
		if marker != "" && hasTag(tags, marker) {
			return "spider/js_" + marker + "/", true
		}
		return prefixScript, true
	case ".php":
		return prefixPHP, true
	case ".py":
		return prefixPython, true
	default:
		return "", false
	}
}

// Hidden reports the underscore convention for files kept out of exports.
func Hidden(filename string) bool {
	return strings.HasPrefix(baseName(filename), "_")
}

func hasTag(tags []string, want string) bool {
	for _, t := range tags {
		if t == want {
			return true
		}
	}
	return false
}

// baseName strips any directory part a client may have sent, using either
// separator, so entries cannot escape their folder.
func baseName(filename string) string {
	name := path.Base(strings.ReplaceAll(filename, `\`, "/"))
	if name == "." || name == "/" || name == ".." {
		return "unnamed"
	}
	return name
}

// withSuffix inserts suffix before the extension: a.js -> a_suffix.js.
func withSuffix(name, suffix string) string {
	ext := path.Ext(name)
	return strings.TrimSuffix(name, ext) + "_" + suffix + ext
}
