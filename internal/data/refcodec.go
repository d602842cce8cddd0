package data

import (
	"encoding/json"
	"errors"
	"fmt"
	"path"
	"strings"

	"github.com/target/docflow/internal/domain/model"
)

// DecodeTier records which representation a file reference column was stored in.
type DecodeTier int

const (
	// TierNative means the driver returned an already decoded sequence.
	TierNative DecodeTier = iota + 1
	// TierJSON means the value was a JSON document.
	TierJSON
	// TierUnescaped means the value was a quoted, escaped JSON string.
	TierUnescaped
)

// DecodeOutcome tags the result of DecodeFileReferences.
type DecodeOutcome int

const (
	// DecodeEmpty means nothing was stored.
	DecodeEmpty DecodeOutcome = iota
	// DecodeOK means Refs holds at least one reference.
	DecodeOK
	// DecodeMalformed means a value was stored but could not be interpreted.
	DecodeMalformed
)

// Decoded is the tagged result of decoding a file reference column.
type Decoded struct {
	Outcome DecodeOutcome
	Refs    []model.FileReference
	Tier    DecodeTier
	Err     error
}

// ErrEmptyReferenceList is reported when a column decodes to an empty sequence.
var ErrEmptyReferenceList = errors.New("file reference list is empty")

// maxDecodeDepth bounds repeated string decoding of double encoded values.
const maxDecodeDepth = 3

// DecodeFileReferences interprets a stored file reference column. It accepts a native
// sequence, JSON bytes or string, a JSON string wrapping another JSON string, and a
// quoted value with escaped quotes, newlines and backslashes. Object entries may name the
// locator file_path, storage_url, path or locator; bare strings are taken as locators.
func DecodeFileReferences(raw any) Decoded {
	switch v := raw.(type) {
	case nil:
		return Decoded{Outcome: DecodeEmpty}
	case []model.FileReference:
		return fromRefs(v, TierNative)
	case []map[string]any:
		items := make([]any, len(v))
		for i := range v {
			items[i] = v[i]
		}
		return fromItems(items, TierNative)
	case []any:
		return fromItems(v, TierNative)
	case []string:
		items := make([]any, len(v))
		for i := range v {
			items[i] = v[i]
		}
		return fromItems(items, TierNative)
	case json.RawMessage:
		return decodeText(string(v))
	case []byte:
		return decodeText(string(v))
	case string:
		return decodeText(v)
	default:
		return malformed(fmt.Errorf("unsupported file reference type %T", raw))
	}
}

func decodeText(s string) Decoded {
	s = strings.TrimSpace(s)
	if s == "" || s == "null" {
		return Decoded{Outcome: DecodeEmpty}
	}

	if items, err := parseJSONList(s); err == nil {
		return fromItems(items, TierJSON)
	}

	unescaped := unescapeStored(s)
	items, err := parseJSONList(unescaped)
	if err != nil {
		return malformed(fmt.Errorf("decode file references: %w", err))
	}
	return fromItems(items, TierUnescaped)
}

// parseJSONList decodes s and, while the result is itself a JSON string, decodes again.
func parseJSONList(s string) ([]any, error) {
	current := s
	for range maxDecodeDepth {
		var v any
		if err := json.Unmarshal([]byte(current), &v); err != nil {
			return nil, err
		}
		switch t := v.(type) {
		case []any:
			return t, nil
		case string:
			current = t
		default:
			return nil, fmt.Errorf("expected a list, got %T", v)
		}
	}
	return nil, errors.New("too many encoding layers")
}

// unescapeStored strips one layer of surrounding quotes and reverses the escaping
// applied when a JSON document was stored as a quoted string.
func unescapeStored(s string) string {
	if len(s) >= 2 && (s[0] == '"' && s[len(s)-1] == '"' || s[0] == '\'' && s[len(s)-1] == '\'') {
		s = s[1 : len(s)-1]
	}
	r := strings.NewReplacer(`\\`, `\`, `\"`, `"`, `\n`, "\n")
	return r.Replace(s)
}

func fromItems(items []any, tier DecodeTier) Decoded {
	if len(items) == 0 {
		return malformed(ErrEmptyReferenceList)
	}
	refs := make([]model.FileReference, 0, len(items))
	for i, item := range items {
		ref, err := referenceFromItem(item)
		if err != nil {
			return malformed(fmt.Errorf("entry %d: %w", i, err))
		}
		refs = append(refs, ref)
	}
	return Decoded{Outcome: DecodeOK, Refs: refs, Tier: tier}
}

func fromRefs(refs []model.FileReference, tier DecodeTier) Decoded {
	if len(refs) == 0 {
		return malformed(ErrEmptyReferenceList)
	}
	out := make([]model.FileReference, len(refs))
	copy(out, refs)
	return Decoded{Outcome: DecodeOK, Refs: out, Tier: tier}
}

var locatorKeys = []string{"file_path", "storage_url", "path", "locator"}

func referenceFromItem(item any) (model.FileReference, error) {
	switch v := item.(type) {
	case string:
		if strings.TrimSpace(v) == "" {
			return model.FileReference{}, errors.New("empty locator")
		}
		return model.FileReferenceFromLocator(v), nil
	case map[string]any:
		return referenceFromObject(v)
	default:
		return model.FileReference{}, fmt.Errorf("unsupported entry type %T", item)
	}
}

func referenceFromObject(obj map[string]any) (model.FileReference, error) {
	var ref model.FileReference
	for _, k := range locatorKeys {
		if s, ok := obj[k].(string); ok && strings.TrimSpace(s) != "" {
			ref.Locator = s
			if k == "storage_url" {
				ref.Locator = StorageURLToLocator(s)
			}
			break
		}
	}
	if ref.Locator == "" {
		return ref, errors.New("entry has no locator")
	}

	ref.Filename, _ = obj["filename"].(string)
	if ref.Filename == "" {
		ref.Filename = path.Base(ref.Locator)
	}
	ref.Suffix, _ = obj["suffix"].(string)
	if ref.Suffix == "" {
		ref.Suffix = path.Ext(ref.Filename)
	}
	if n, ok := obj["size"].(float64); ok && n >= 0 {
		size := int64(n)
		ref.Size = &size
	}
	return ref, nil
}

// publicObjectMarker separates the bucket prefix from the locator in legacy public URLs.
const publicObjectMarker = "/object/public/inbox-files/"

// StorageURLToLocator converts a legacy public storage URL into a blob locator. Values
// without the public object marker are returned unchanged.
func StorageURLToLocator(u string) string {
	if i := strings.Index(u, publicObjectMarker); i >= 0 {
		return u[i+len(publicObjectMarker):]
	}
	return u
}

func malformed(err error) Decoded {
	return Decoded{Outcome: DecodeMalformed, Err: err}
}

// EncodeFileReferences renders references for the full metadata column, and the simple
// locator list for the locator column.
func EncodeFileReferences(refs []model.FileReference) ([]byte, []string, error) {
	if refs == nil {
		refs = []model.FileReference{}
	}
	meta, err := json.Marshal(refs)
	if err != nil {
		return nil, nil, fmt.Errorf("encode file references: %w", err)
	}
	locators := make([]string, len(refs))
	for i, r := range refs {
		locators[i] = r.Locator
	}
	return meta, locators, nil
}
