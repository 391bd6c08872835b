package domain

import "time"

// Comparison field names accepted in the synchronizer's compare list. They
// match the keys of the sidecar metadata file.
const (
	FieldETag          = "etag"
	FieldLastModified  = "last_modified_utc"
	FieldContentLength = "content_length"
)

// KnownFingerprintFields lists every comparable fingerprint field.
var KnownFingerprintFields = []string{FieldETag, FieldLastModified, FieldContentLength}

// Fingerprint is the metadata tuple used to detect a remote change without
// downloading the archive.
type Fingerprint struct {
	ETag            string `json:"etag"`
	LastModifiedUTC string `json:"last_modified_utc"` // RFC 3339, UTC; empty when the header was absent
	ContentLength   *int64 `json:"content_length"`    // nil when the server did not report a size
}

// Field returns the comparable value of a named field and whether the name is known.
// Absent values compare as nil.
func (f Fingerprint) Field(name string) (any, bool) {
	switch name {
	case FieldETag:
		if f.ETag == "" {
			return nil, true
		}
		return f.ETag, true
	case FieldLastModified:
		if f.LastModifiedUTC == "" {
			return nil, true
		}
		return f.LastModifiedUTC, true
	case FieldContentLength:
		if f.ContentLength == nil {
			return nil, true
		}
		return *f.ContentLength, true
	default:
		return nil, false
	}
}

// SidecarMeta is the on-disk JSON stored next to each archive.
type SidecarMeta struct {
	Fingerprint
	SyncedUTC string `json:"synced_utc"`
}

// StorageState describes what exists on disk for a date.
type StorageState int

const (
	StateAbsent StorageState = iota
	StateZipOnly
	StateExtracted
)

func (s StorageState) String() string {
	switch s {
	case StateZipOnly:
		return "zip_only"
	case StateExtracted:
		return "extracted"
	default:
		return "absent"
	}
}

// RasterEntry is the synchronizer's view of one day.
type RasterEntry struct {
	Date   time.Time
	State  StorageState
	Remote *Fingerprint // nil when the remote reported not found
	Local  *Fingerprint // nil when no trusted sidecar exists
}

// WindowDay is one slot of a trailing window. Path is empty when no raster
// exists for the date; such days contribute an all-zero layer.
type WindowDay struct {
	Date time.Time
	Path string
}

// Present reports whether a raster path was resolved for the day.
func (w WindowDay) Present() bool { return w.Path != "" }
