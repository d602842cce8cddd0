package data

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/target/docflow/internal/domain/model"
)

func sampleRefs() []model.FileReference {
	size := int64(1024)
	return []model.FileReference{
		{Filename: "invoice.pdf", Locator: "job-1/invoice.pdf", Suffix: ".pdf", Size: &size},
		{Filename: "notes.txt", Locator: "job-1/notes.txt", Suffix: ".txt"},
	}
}

func TestDecodeFileReferences_RepresentationsAgree(t *testing.T) {
	want := sampleRefs()

	encoded, err := json.Marshal(want)
	require.NoError(t, err)

	var native []any
	require.NoError(t, json.Unmarshal(encoded, &native))

	doubleEncoded, err := json.Marshal(string(encoded))
	require.NoError(t, err)

	tests := []struct {
		name string
		raw  any
		tier DecodeTier
	}{
		{name: "native sequence", raw: native, tier: TierNative},
		{name: "typed sequence", raw: want, tier: TierNative},
		{name: "json bytes", raw: encoded, tier: TierJSON},
		{name: "json string", raw: string(encoded), tier: TierJSON},
		{name: "double encoded string", raw: string(doubleEncoded), tier: TierJSON},
		{name: "quoted escaped string", raw: `'` + escapeForStorage(string(encoded)) + `'`, tier: TierUnescaped},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := DecodeFileReferences(tt.raw)
			require.Equal(t, DecodeOK, got.Outcome, "err: %v", got.Err)
			assert.Equal(t, tt.tier, got.Tier)
			assert.Equal(t, want, got.Refs)
		})
	}
}

// escapeForStorage mimics a JSON document written through a layer that escaped quotes
// without producing valid JSON string syntax.
func escapeForStorage(s string) string {
	out := make([]byte, 0, len(s)+8)
	for i := 0; i < len(s); i++ {
		if s[i] == '"' {
			out = append(out, '\\')
		}
		out = append(out, s[i])
	}
	return string(out) + `\n`
}

func TestDecodeFileReferences_Empty(t *testing.T) {
	for _, raw := range []any{nil, "", "  ", "null", []byte(nil)} {
		got := DecodeFileReferences(raw)
		assert.Equal(t, DecodeEmpty, got.Outcome, "raw=%#v", raw)
	}
}

func TestDecodeFileReferences_Malformed(t *testing.T) {
	tests := []struct {
		name string
		raw  any
	}{
		{name: "garbage", raw: "not json at all"},
		{name: "object not list", raw: `{"filename":"a.txt"}`},
		{name: "empty list", raw: `[]`},
		{name: "entry without locator", raw: `[{"filename":"a.txt"}]`},
		{name: "unsupported type", raw: 42},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := DecodeFileReferences(tt.raw)
			assert.Equal(t, DecodeMalformed, got.Outcome)
			assert.Error(t, got.Err)
			assert.Empty(t, got.Refs)
		})
	}
}

func TestDecodeFileReferences_HistoricalKeys(t *testing.T) {
	raw := `[
		{"filename":"a.pdf","storage_url":"https://files.example.com/storage/v1/object/public/inbox-files/job-9/a.pdf"},
		{"path":"job-9/b.docx"},
		{"locator":"/tmp/docflow_jobs/job-9/c.txt","filename":"c.txt","size":12}
	]`

	got := DecodeFileReferences(raw)
	require.Equal(t, DecodeOK, got.Outcome, "err: %v", got.Err)
	require.Len(t, got.Refs, 3)

	assert.Equal(t, "job-9/a.pdf", got.Refs[0].Locator)
	assert.Equal(t, ".pdf", got.Refs[0].Suffix)

	assert.Equal(t, "b.docx", got.Refs[1].Filename)
	assert.Equal(t, ".docx", got.Refs[1].Suffix)

	assert.Equal(t, model.FileSourceLocal, got.Refs[2].Source())
	require.NotNil(t, got.Refs[2].Size)
	assert.Equal(t, int64(12), *got.Refs[2].Size)
}

func TestDecodeFileReferences_BareLocators(t *testing.T) {
	got := DecodeFileReferences([]string{"job-2/x.xlsx", "job-2/y.html"})
	require.Equal(t, DecodeOK, got.Outcome)
	assert.Equal(t, "x.xlsx", got.Refs[0].Filename)
	assert.Equal(t, ".html", got.Refs[1].Suffix)
	assert.Nil(t, got.Refs[1].Size)
}

func TestEncodeFileReferences(t *testing.T) {
	meta, locators, err := EncodeFileReferences(sampleRefs())
	require.NoError(t, err)
	assert.Equal(t, []string{"job-1/invoice.pdf", "job-1/notes.txt"}, locators)

	back := DecodeFileReferences(meta)
	require.Equal(t, DecodeOK, back.Outcome)
	assert.Equal(t, sampleRefs(), back.Refs)
}

func TestStorageURLToLocator(t *testing.T) {
	assert.Equal(t, "j/a.pdf", StorageURLToLocator("https://x/storage/v1/object/public/inbox-files/j/a.pdf"))
	assert.Equal(t, "j/a.pdf", StorageURLToLocator("j/a.pdf"))
}
