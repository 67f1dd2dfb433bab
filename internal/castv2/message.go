// Package castv2 implements the Cast V2 application protocol: the framed
// protobuf envelope, the per-connection namespace state machine and the TLS
// listener senders connect to.
package castv2

import (
	"fmt"

	"google.golang.org/protobuf/encoding/protowire"
)

// ProtocolVersion is the CastMessage protocol_version enum.
type ProtocolVersion int32

const ProtocolVersionCastV2 ProtocolVersion = 0 // CASTV2_1_0

// PayloadType is the CastMessage payload_type enum.
type PayloadType int32

const (
	PayloadTypeString PayloadType = 0
	PayloadTypeBinary PayloadType = 1
)

// CastMessage field numbers from the cast_channel proto.
const (
	fieldProtocolVersion = 1
	fieldSourceID        = 2
	fieldDestinationID   = 3
	fieldNamespace       = 4
	fieldPayloadType     = 5
	fieldPayloadUTF8     = 6
	fieldPayloadBinary   = 7
)

// Message is the single protobuf envelope exchanged on a Cast V2 stream.
// The envelope is a fixed seven-field message, so it is encoded directly
// with the protobuf wire package rather than generated descriptor code.
type Message struct {
	ProtocolVersion ProtocolVersion
	SourceID        string
	DestinationID   string
	Namespace       string
	PayloadType     PayloadType
	PayloadUTF8     string
	PayloadBinary   []byte
}

// size returns the exact serialized length of m.
func (m *Message) size() int {
	n := protowire.SizeTag(fieldProtocolVersion) + protowire.SizeVarint(uint64(m.ProtocolVersion))
	n += protowire.SizeTag(fieldSourceID) + protowire.SizeBytes(len(m.SourceID))
	n += protowire.SizeTag(fieldDestinationID) + protowire.SizeBytes(len(m.DestinationID))
	n += protowire.SizeTag(fieldNamespace) + protowire.SizeBytes(len(m.Namespace))
	n += protowire.SizeTag(fieldPayloadType) + protowire.SizeVarint(uint64(m.PayloadType))
	if m.PayloadType == PayloadTypeBinary {
		n += protowire.SizeTag(fieldPayloadBinary) + protowire.SizeBytes(len(m.PayloadBinary))
	} else {
		n += protowire.SizeTag(fieldPayloadUTF8) + protowire.SizeBytes(len(m.PayloadUTF8))
	}
	return n
}

// appendTo serializes m onto buf. Required fields are always emitted, even
// when zero, matching proto2 required-field semantics.
func (m *Message) appendTo(buf []byte) []byte {
	buf = protowire.AppendTag(buf, fieldProtocolVersion, protowire.VarintType)
	buf = protowire.AppendVarint(buf, uint64(m.ProtocolVersion))
	buf = protowire.AppendTag(buf, fieldSourceID, protowire.BytesType)
	buf = protowire.AppendString(buf, m.SourceID)
	buf = protowire.AppendTag(buf, fieldDestinationID, protowire.BytesType)
	buf = protowire.AppendString(buf, m.DestinationID)
	buf = protowire.AppendTag(buf, fieldNamespace, protowire.BytesType)
	buf = protowire.AppendString(buf, m.Namespace)
	buf = protowire.AppendTag(buf, fieldPayloadType, protowire.VarintType)
	buf = protowire.AppendVarint(buf, uint64(m.PayloadType))
	if m.PayloadType == PayloadTypeBinary {
		buf = protowire.AppendTag(buf, fieldPayloadBinary, protowire.BytesType)
		buf = protowire.AppendBytes(buf, m.PayloadBinary)
	} else {
		buf = protowire.AppendTag(buf, fieldPayloadUTF8, protowire.BytesType)
		buf = protowire.AppendString(buf, m.PayloadUTF8)
	}
	return buf
}

// unmarshalMessage decodes a serialized CastMessage. Unknown fields are
// skipped; a wire-level error is returned as-is so the framing layer can
// drop the frame without desynchronizing the stream.
func unmarshalMessage(data []byte) (*Message, error) {
	m := &Message{}
	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return nil, fmt.Errorf("castv2: malformed tag: %w", protowire.ParseError(n))
		}
		data = data[n:]

		switch {
		case num == fieldProtocolVersion && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(data)
			if n < 0 {
				return nil, fmt.Errorf("castv2: malformed protocol_version: %w", protowire.ParseError(n))
			}
			m.ProtocolVersion = ProtocolVersion(v)
			data = data[n:]
		case num == fieldSourceID && typ == protowire.BytesType:
			v, n := protowire.ConsumeString(data)
			if n < 0 {
				return nil, fmt.Errorf("castv2: malformed source_id: %w", protowire.ParseError(n))
			}
			m.SourceID = v
			data = data[n:]
		case num == fieldDestinationID && typ == protowire.BytesType:
			v, n := protowire.ConsumeString(data)
			if n < 0 {
				return nil, fmt.Errorf("castv2: malformed destination_id: %w", protowire.ParseError(n))
			}
			m.DestinationID = v
			data = data[n:]
		case num == fieldNamespace && typ == protowire.BytesType:
			v, n := protowire.ConsumeString(data)
			if n < 0 {
				return nil, fmt.Errorf("castv2: malformed namespace: %w", protowire.ParseError(n))
			}
			m.Namespace = v
			data = data[n:]
		case num == fieldPayloadType && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(data)
			if n < 0 {
				return nil, fmt.Errorf("castv2: malformed payload_type: %w", protowire.ParseError(n))
			}
			m.PayloadType = PayloadType(v)
			data = data[n:]
		case num == fieldPayloadUTF8 && typ == protowire.BytesType:
			v, n := protowire.ConsumeString(data)
			if n < 0 {
				return nil, fmt.Errorf("castv2: malformed payload_utf8: %w", protowire.ParseError(n))
			}
			m.PayloadUTF8 = v
			data = data[n:]
		case num == fieldPayloadBinary && typ == protowire.BytesType:
			v, n := protowire.ConsumeBytes(data)
			if n < 0 {
				return nil, fmt.Errorf("castv2: malformed payload_binary: %w", protowire.ParseError(n))
			}
			m.PayloadBinary = append([]byte(nil), v...)
			data = data[n:]
		default:
			n := protowire.ConsumeFieldValue(num, typ, data)
			if n < 0 {
				return nil, fmt.Errorf("castv2: malformed field %d: %w", num, protowire.ParseError(n))
			}
			data = data[n:]
		}
	}
	return m, nil
}
