package model

import (
	"path"
	"path/filepath"
	"strings"
)

// FileSource tells the pipeline how a FileReference's bytes are addressed.
type FileSource string

const (
	// FileSourceBlob is a locator inside the blob store ("<job id>/<name>").
	FileSourceBlob FileSource = "blob"
	// FileSourceLocal is an absolute path on the worker's filesystem.
	FileSourceLocal FileSource = "local"
	// FileSourceURL is a fully qualified http(s) URL.
	FileSourceURL FileSource = "url"
)

// FileReference is the canonical description of one input file of a job.
type FileReference struct {
	Filename string `json:"filename"`
	Locator  string `json:"file_path"`
	Suffix   string `json:"suffix"`
	Size     *int64 `json:"size"`
}

// Source classifies the locator. Exactly one addressing scheme applies per file.
func (r FileReference) Source() FileSource {
	l := strings.TrimSpace(r.Locator)
	switch {
	case strings.HasPrefix(l, "http://") || strings.HasPrefix(l, "https://"):
		return FileSourceURL
	case filepath.IsAbs(l):
		return FileSourceLocal
	default:
		return FileSourceBlob
	}
}

// FileReferenceFromLocator expands a bare locator into a reference. The filename is the
// final path segment and the suffix its extension; size is unknown.
func FileReferenceFromLocator(locator string) FileReference {
	name := locator
	if strings.Contains(locator, "/") {
		name = path.Base(locator)
	}
	return FileReference{
		Filename: name,
		Locator:  locator,
		Suffix:   path.Ext(name),
	}
}

// BlobLocators returns the locators of references stored in the blob store.
func BlobLocators(refs []FileReference) []string {
	out := make([]string, 0, len(refs))
	for _, r := range refs {
		if r.Source() == FileSourceBlob && r.Locator != "" {
			out = append(out, r.Locator)
		}
	}
	return out
}
