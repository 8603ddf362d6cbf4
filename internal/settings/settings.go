// Package settings provides the policy configuration consulted by every
// upload, download and retag. Values live in a key/value table so operators
// can change them at runtime; callers re-read the Policy on each operation.
package settings

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"slices"
	"sort"
	"strconv"
	"strings"
)

// Setting keys. They match the names used by the settings table and the CLI.
const (
	KeyAllowedExtensions = "allowed_extensions"
	KeyMaxFileSize       = "max_file_size"
	KeyAllowedTags       = "allowed_tags"
	KeyAnonymousUpload   = "anonymous_upload"
	KeyAnonymousPreview  = "anonymous_preview"
	KeyAnonymousDownload = "anonymous_download"
	KeyExportMarkerTag   = "export_marker_tag"
)

// ErrUnknownKey is returned when Get or Set is called with an unsupported key.
var ErrUnknownKey = errors.New("unknown setting")

// Defaults returns the built-in values for every known key.
func Defaults() map[string]string {
	return map[string]string{
		KeyAllowedExtensions: ".json,.txt,.py,.php,.js,.m3u",
		KeyMaxFileSize:       "204800",
		KeyAllowedTags:       "ds,dr2,cat,php,hipy,优,失效",
		KeyAnonymousUpload:   "false",
		KeyAnonymousPreview:  "false",
		KeyAnonymousDownload: "false",
		KeyExportMarkerTag:   "dr2",
	}
}

// Keys lists the known setting keys in a stable order.
func Keys() []string {
	keys := make([]string, 0, len(Defaults()))
	for k := range Defaults() {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Policy is a parsed, read-only snapshot of the settings.
type Policy struct {
	AllowedExtensions []string
	MaxUploadBytes    int64
	AllowedTags       []string
	AnonymousUpload   bool
	AnonymousPreview  bool
	AnonymousDownload bool
	ExportMarkerTag   string
}

// ExtensionAllowed reports whether filename's extension is in the allowlist.
func (p Policy) ExtensionAllowed(filename string) bool {
	return ExtensionAllowed(p.AllowedExtensions, filename)
}

// ExtensionAllowed matches filename's extension against a normalised
// allowlist such as Policy.AllowedExtensions. Comparison is
// case-insensitive; a name without an extension never matches.
func ExtensionAllowed(allowed []string, filename string) bool {
	ext := strings.ToLower(filepath.Ext(filename))
	if ext == "" {
		return false
	}
	return slices.Contains(allowed, ext)
}

// TagAllowed reports exact membership in the current vocabulary.
func (p Policy) TagAllowed(tag string) bool {
	for _, t := range p.AllowedTags {
		if t == tag {
			return true
		}
	}
	return false
}

// Provider hands out the current Policy. Implementations must reflect
// changes made through Set without a restart.
type Provider interface {
	Policy(ctx context.Context) (Policy, error)
}

// Store is a Provider that can also be inspected and edited.
type Store interface {
	Provider
	List(ctx context.Context) (map[string]string, error)
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, value string) error
}

// Parse turns raw key/value pairs into a Policy. Missing keys fall back to
// Defaults.
func Parse(values map[string]string) (Policy, error) {
	merged := Defaults()
	for k, v := range values {
		merged[k] = v
	}
	maxSize, err := strconv.ParseInt(strings.TrimSpace(merged[KeyMaxFileSize]), 10, 64)
	if err != nil {
		return Policy{}, fmt.Errorf("%s: %w", KeyMaxFileSize, err)
	}
	p := Policy{
		AllowedExtensions: parseExtensions(merged[KeyAllowedExtensions]),
		MaxUploadBytes:    maxSize,
		AllowedTags:       splitList(merged[KeyAllowedTags]),
		ExportMarkerTag:   strings.TrimSpace(merged[KeyExportMarkerTag]),
	}
	for key, dst := range map[string]*bool{
		KeyAnonymousUpload:   &p.AnonymousUpload,
		KeyAnonymousPreview:  &p.AnonymousPreview,
		KeyAnonymousDownload: &p.AnonymousDownload,
	} {
		b, err := strconv.ParseBool(strings.TrimSpace(merged[key]))
		if err != nil {
			return Policy{}, fmt.Errorf("%s: %w", key, err)
		}
		*dst = b
	}
	return p, nil
}

// Validate checks that value is acceptable for key before it is persisted.
func Validate(key, value string) error {
	if _, ok := Defaults()[key]; !ok {
		return fmt.Errorf("%w: %q", ErrUnknownKey, key)
	}
	_, err := Parse(map[string]string{key: value})
	return err
}

func splitList(raw string) []string {
	var out []string
	for _, item := range strings.Split(raw, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

func parseExtensions(raw string) []string {
	items := splitList(raw)
	for i, ext := range items {
		ext = strings.ToLower(ext)
		if !strings.HasPrefix(ext, ".") {
			ext = "." + ext
		}
		items[i] = ext
	}
	return items
}
