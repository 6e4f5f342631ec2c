package wire

import (
	"encoding/binary"
	"errors"
	"sort"
)

// PPPoE discovery tag types (RFC 2516).
const (
	TagEndOfList        uint16 = 0x0000
	TagServiceName      uint16 = 0x0101
	TagACName           uint16 = 0x0102
	TagHostUniq         uint16 = 0x0103
	TagACCookie         uint16 = 0x0104
	TagVendorSpecific   uint16 = 0x0105
	TagRelaySessionID   uint16 = 0x0110
	TagServiceNameError uint16 = 0x0201
	TagACSystemError    uint16 = 0x0202
	TagGenericError     uint16 = 0x0203
)

const tagHeaderSize = 4

// ErrMalformedTag is returned by ParsePayload when a tag header or value
// is truncated, or an End-Of-List tag carries a non-zero length value.
var ErrMalformedTag = errors.New("wire: malformed PPPoE tag")

// TagSet maps a tag type to the ordered list of values present for that
// type. Duplicate tag types and zero-length values are both legal; tag
// order within a payload has no semantic meaning on receive, and the
// order values are appended here is the order TagsToPayload will emit
// them in.
type TagSet map[uint16][][]byte

// Add appends value to the list of values for tagType.
func (t TagSet) Add(tagType uint16, value []byte) {
	t[tagType] = append(t[tagType], value)
}

// First returns the sole value present for tagType, and whether exactly
// one value was present. PADI/PADR handling requires "exactly one"
// Service-Name tag; this is the check that enforces it.
func (t TagSet) First(tagType uint16) ([]byte, bool) {
	v := t[tagType]
	if len(v) != 1 {
		return nil, false
	}
	return v[0], true
}

// TagsToPayload concatenates tags as type(2)|length(2)|value(length)
// records, big-endian, in a stable order: ascending tag type, and the
// values of one type in the order they were added.
func TagsToPayload(tags TagSet) []byte {
	types := make([]uint16, 0, len(tags))
	for tagType := range tags {
		types = append(types, tagType)
	}
	sort.Slice(types, func(i, j int) bool { return types[i] < types[j] })
	var out []byte
	for _, tagType := range types {
		for _, value := range tags[tagType] {
			var hdr [tagHeaderSize]byte
			binary.BigEndian.PutUint16(hdr[0:2], tagType)
			binary.BigEndian.PutUint16(hdr[2:4], uint16(len(value)))
			out = append(out, hdr[:]...)
			out = append(out, value...)
		}
	}
	return out
}

// ParsePayload decodes a discovery payload into a TagSet. Parsing stops
// successfully at an End-Of-List tag (0x0000 with zero-length value);
// any trailing bytes after it are discarded. It fails with
// ErrMalformedTag if fewer than 4 bytes remain for a tag header, fewer
// than the declared length remain for a value, or End-Of-List carries a
// non-zero length.
func ParsePayload(payload []byte) (TagSet, error) {
	tags := make(TagSet)
	for len(payload) > 0 {
		if len(payload) < tagHeaderSize {
			return nil, ErrMalformedTag
		}
		tagType := binary.BigEndian.Uint16(payload[0:2])
		valueLen := binary.BigEndian.Uint16(payload[2:4])
		payload = payload[tagHeaderSize:]
		if len(payload) < int(valueLen) {
			return nil, ErrMalformedTag
		}
		value := payload[:valueLen]
		payload = payload[valueLen:]
		if tagType == TagEndOfList {
			if valueLen != 0 {
				return nil, ErrMalformedTag
			}
			return tags, nil
		}
		// Copy out of the shared read buffer: the caller may reuse it
		// for the next packet as soon as this function returns.
		v := make([]byte, len(value))
		copy(v, value)
		tags.Add(tagType, v)
	}
	return tags, nil
}
