// Package notes holds the note domain: the record normalizer, the store
// adapter that maps video ids onto storage keys, the note collection rules
// and the title auto-fill policy.
//
// Records read from storage are never trusted. Every value passes through
// NormalizeVideo, which accepts any historical shape (objects, JSON-encoded
// strings, partial notes) and never fails.
package notes
