package wire

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ============================================================================
// Tag round-trip
// ============================================================================

func TestTagsRoundTrip(t *testing.T) {
	tags := make(TagSet)
	tags.Add(TagServiceName, []byte("internet"))
	tags.Add(TagHostUniq, []byte{0x01, 0x02, 0x03, 0x04})
	tags.Add(TagHostUniq, []byte{}) // zero-length value is legal
	tags.Add(TagACCookie, []byte("cookie-value"))

	payload := TagsToPayload(tags)
	got, err := ParsePayload(payload)
	require.NoError(t, err)

	name, ok := got.First(TagServiceName)
	require.True(t, ok)
	assert.Equal(t, "internet", string(name))

	assert.Len(t, got[TagHostUniq], 2)
	assert.Equal(t, []byte{0x01, 0x02, 0x03, 0x04}, got[TagHostUniq][0])
	assert.Equal(t, []byte{}, got[TagHostUniq][1])

	cookie, ok := got.First(TagACCookie)
	require.True(t, ok)
	assert.Equal(t, "cookie-value", string(cookie))
}

func TestTagsFirstRequiresExactlyOne(t *testing.T) {
	tags := make(TagSet)
	_, ok := tags.First(TagServiceName)
	assert.False(t, ok, "absent tag")

	tags.Add(TagServiceName, []byte("a"))
	tags.Add(TagServiceName, []byte("b"))
	_, ok = tags.First(TagServiceName)
	assert.False(t, ok, "duplicate tag")
}

func TestParsePayloadEndOfList(t *testing.T) {
	var payload []byte
	payload = append(payload, 0x01, 0x01, 0x00, 0x01, 'x')  // Service-Name "x"
	payload = append(payload, 0x00, 0x00, 0x00, 0x00)       // End-Of-List
	payload = append(payload, 0xde, 0xad, 0xbe, 0xef, 0x00) // garbage, must be ignored

	tags, err := ParsePayload(payload)
	require.NoError(t, err)
	name, ok := tags.First(TagServiceName)
	require.True(t, ok)
	assert.Equal(t, "x", string(name))
}

func TestParsePayloadMalformed(t *testing.T) {
	cases := map[string][]byte{
		"truncated header":          {0x01, 0x01, 0x00},
		"value shorter than length": {0x01, 0x01, 0x00, 0x05, 'a', 'b'},
		"end-of-list with length":   {0x00, 0x00, 0x00, 0x01, 0x00},
	}
	for name, payload := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := ParsePayload(payload)
			assert.ErrorIs(t, err, ErrMalformedTag)
		})
	}
}

// ============================================================================
// Header pack/parse round-trip
// ============================================================================

func TestHeaderRoundTrip(t *testing.T) {
	h := Header{
		Dest:          MAC{0x00, 0x11, 0x22, 0x33, 0x44, 0x55},
		Src:           MAC{0xaa, 0xbb, 0xcc, 0xdd, 0xee, 0xff},
		EtherType:     EtherTypeDiscovery,
		Code:          CodePADI,
		SessionID:     0,
		PayloadLength: 12,
	}
	buf := h.Pack()
	assert.Len(t, buf, HeaderSize)

	got, err := ParseHeader(append(buf, make([]byte, 12)...))
	require.NoError(t, err)
	assert.Equal(t, h, got)
}

func TestParseHeaderShortFrame(t *testing.T) {
	_, err := ParseHeader(make([]byte, HeaderSize-1))
	assert.ErrorIs(t, err, ErrShortFrame)
}

func TestParseHeaderBadVerType(t *testing.T) {
	h := Header{EtherType: EtherTypeDiscovery, Code: CodePADI}
	buf := h.Pack()
	buf[14] = 0x22
	_, err := ParseHeader(buf)
	assert.ErrorIs(t, err, ErrBadVerType)
}

// ============================================================================
// MAC parsing
// ============================================================================

func TestParseMAC(t *testing.T) {
	m, err := ParseMAC("00:11:22:33:44:55")
	require.NoError(t, err)
	assert.Equal(t, MAC{0x00, 0x11, 0x22, 0x33, 0x44, 0x55}, m)
	assert.Equal(t, "00:11:22:33:44:55", m.String())

	_, err = ParseMAC("not-a-mac")
	assert.ErrorIs(t, err, ErrBadMAC)
}
