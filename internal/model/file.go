// Package model contains simple struct definitions shared across packages.
package model

import (
	"time"
)

// Visibility controls whether non-owners may read a record. Declaring it as
// "type X string" keeps the JSON form readable while giving us a distinct type.
type Visibility string

const (
	VisibilityPublic  Visibility = "public"
	VisibilityPrivate Visibility = "private"
)

// Valid reports whether v is one of the known visibility values.
func (v Visibility) Valid() bool {
	return v == VisibilityPublic || v == VisibilityPrivate
}

// FileRecord holds metadata about one successful ingest. Everything except
// Visibility and Tags is immutable once the record is committed.
type FileRecord struct {
	ID         string     `json:"id"`
	ContentID  string     `json:"cid"`
	Filename   string     `json:"filename"`
	MimeType   string     `json:"mimetype"`
	SizeBytes  int64      `json:"size"`
	OwnerID    string     `json:"user_id,omitempty"`
	Visibility Visibility `json:"visibility"`
	Tags       []string   `json:"tags"`
	// CreatedAt is the ingest time in UTC. Listings sort on it, then on ID.
	CreatedAt time.Time `json:"created_at"`
}

// HasOwner reports whether the record was uploaded by an authenticated principal.
func (r *FileRecord) HasOwner() bool {
	return r.OwnerID != ""
}

// IsPublic is a small convenience used by listing and export code.
func (r *FileRecord) IsPublic() bool {
	return r.Visibility == VisibilityPublic
}

// HasTag reports exact membership of tag in the record's tag set.
func (r *FileRecord) HasTag(tag string) bool {
	for _, t := range r.Tags {
		if t == tag {
			return true
		}
	}
	return false
}

// Clone returns a deep copy so callers cannot mutate shared tag slices.
func (r *FileRecord) Clone() *FileRecord {
	out := *r
	if r.Tags != nil {
		out.Tags = append([]string(nil), r.Tags...)
	}
	return &out
}
