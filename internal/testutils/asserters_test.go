package testutils

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingT struct {
	errors []string
}

func (r *recordingT) Errorf(format string, args ...interface{}) {
	r.errors = append(r.errors, fmt.Sprintf(format, args...))
}

func TestTextAsserter_DefaultOptions(t *testing.T) {
	opts := NewTextAsserter(t).GetOptions()

	assert.True(t, opts.IgnoreTrailingWhitespace, "trailing whitespace MUST be ignored by default")
	assert.True(t, opts.TrimSpace, "text MUST be trimmed by default")
	assert.True(t, opts.StripANSI, "color sequences MUST be stripped by default")
	assert.False(t, opts.IgnoreEmptyLines, "empty lines MUST be significant by default")
	assert.False(t, opts.EnableColors, "diff colors MUST be off by default")
}

func TestTextAsserter_StripsColorSequences(t *testing.T) {
	rec := &recordingT{}
	ok := NewTextAsserter(rec).Assert("\x1b[32msubscribed\x1b[0m   \n", "subscribed")

	assert.True(t, ok, "colored output MUST match its plain text")
	assert.Empty(t, rec.errors)
}

func TestTextAsserter_ReportsUnifiedDiff(t *testing.T) {
	rec := &recordingT{}
	ok := NewTextAsserter(rec).Assert("a\nb\nc", "a\nx\nc")

	require.False(t, ok)
	require.Len(t, rec.errors, 1)
	assert.Contains(t, rec.errors[0], "--- expected")
	assert.Contains(t, rec.errors[0], "+++ actual")
	assert.Contains(t, rec.errors[0], "-x")
	assert.Contains(t, rec.errors[0], "+b")
}

func TestTextAsserter_Options(t *testing.T) {
	rec := &recordingT{}
	ta := NewTextAsserter(rec).WithOptions(WithIgnoreEmptyLines(true), WithStripANSI(false))

	assert.True(t, ta.Assert("a\n\n\nb", "a\nb"), "empty lines MUST be ignored when requested")
	assert.False(t, ta.Assert("\x1b[1ma\x1b[0m", "a"), "color sequences MUST count when stripping is disabled")
}

func TestJSONAsserter_IgnoresExtraKeysAndFields(t *testing.T) {
	rec := &recordingT{}
	ja := NewJSONAsserter(rec).WithOptions(WithIgnoredFields("time"))

	ok := ja.Assert(
		`{"peer":"p1","message":"connected","time":"2024-01-01T00:00:00Z","seq":1}`,
		`{"peer":"p1","message":"connected","time":"ignored"}`,
	)

	assert.True(t, ok, "extra keys and ignored fields MUST not affect the comparison")
	assert.Empty(t, rec.errors)
}

func TestJSONAsserter_PresencePlaceholder(t *testing.T) {
	rec := &recordingT{}
	ja := NewJSONAsserter(rec)

	assert.True(t, ja.Assert(`[{"seq":7,"kind":"value"}]`, `[{"seq":"<<PRESENCE>>","kind":"value"}]`))
	assert.False(t, ja.Assert(`[{"kind":"value"}]`, `[{"seq":"<<PRESENCE>>","kind":"value"}]`),
		"placeholder MUST require the key to be present")
}

func TestJSONAsserter_ReportsMismatch(t *testing.T) {
	rec := &recordingT{}
	ok := NewJSONAsserter(rec).Assert(`{"stage":"failed"}`, `{"stage":"subscribed"}`)

	require.False(t, ok)
	require.Len(t, rec.errors, 1)
	assert.Contains(t, rec.errors[0], "subscribed")
}

func TestJSONAsserter_InvalidJSON(t *testing.T) {
	diff := NewJSONAsserter(t).Diff(`{`, `{}`)
	assert.Contains(t, diff, "invalid actual JSON")
}

func TestPeripheralBuilder_FromJSON(t *testing.T) {
	p := CreateMockPeripheralFromJSON(`{
		"id": "%s",
		"name": "Thermo",
		"services": [
			{"uuid": "AAAA", "characteristics": [{"uuid": "BBBB", "properties": "notify"}]}
		]
	}`, "p1").Build()

	assert.Equal(t, "p1", string(p.PeerID()))
	assert.Equal(t, "Thermo", p.Info().Name)
	require.Len(t, p.Services, 1)
	assert.Equal(t, "BBBB", p.Services[0].Characteristics[0].UUID)
}

func TestPeripheralBuilder_WithCharacteristicRequiresService(t *testing.T) {
	assert.Panics(t, func() {
		NewPeripheralBuilder().WithID("p1").WithCharacteristic("BBBB", "notify")
	})
}

func TestJSONAsserter_StrictKeys(t *testing.T) {
	rec := &recordingT{}
	ja := NewJSONAsserter(rec).WithOptions(WithIgnoreExtraKeys(false), WithAllowPresencePlaceholder(false))

	actual := MustJSON(map[string]any{"peer": "p1", "seq": 3})
	assert.False(t, ja.Assert(actual, `{"peer":"p1"}`), "extra keys MUST fail when strict")
	assert.True(t, ja.Assert(actual, `{"peer":"p1","seq":3}`))
}
