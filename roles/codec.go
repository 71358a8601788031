package roles

import (
	"bytes"
	"encoding/binary"
	"errors"
	"io"
)

const codecVersion1 = 1

// Encode serializes a Set for embedding in session records. Layout:
// version byte, encoding byte, then either a big-endian uint64 mask or a
// uint16 count followed by length-prefixed names.
func Encode(s Set) ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte(codecVersion1)
	buf.WriteByte(byte(s.enc))

	switch s.enc {
	case 0:
		// empty set, no payload
	case EncodingBits:
		if err := binary.Write(&buf, binary.BigEndian, s.bits); err != nil {
			return nil, err
		}
	case EncodingNames:
		if len(s.names) > 65535 {
			return nil, errors.New("role set too large")
		}
		names, _ := s.NameList()
		if err := binary.Write(&buf, binary.BigEndian, uint16(len(names))); err != nil {
			return nil, err
		}
		for _, n := range names {
			if len(n) > 255 {
				return nil, errors.New("role name too long")
			}
			buf.WriteByte(byte(len(n)))
			buf.WriteString(n)
		}
	default:
		return nil, errors.New("invalid role encoding")
	}

	return buf.Bytes(), nil
}

// Decode reverses [Encode].
func Decode(data []byte) (Set, error) {
	reader := bytes.NewReader(data)

	version, err := reader.ReadByte()
	if err != nil {
		return Set{}, err
	}
	if version != codecVersion1 {
		return Set{}, errors.New("invalid role set version")
	}

	encByte, err := reader.ReadByte()
	if err != nil {
		return Set{}, err
	}

	switch Encoding(encByte) {
	case 0:
		return Set{}, nil
	case EncodingBits:
		var mask uint64
		if err := binary.Read(reader, binary.BigEndian, &mask); err != nil {
			return Set{}, err
		}
		return Set{enc: EncodingBits, bits: mask}, nil
	case EncodingNames:
		var count uint16
		if err := binary.Read(reader, binary.BigEndian, &count); err != nil {
			return Set{}, err
		}
		m := make(map[string]struct{}, count)
		for i := 0; i < int(count); i++ {
			nameLen, err := reader.ReadByte()
			if err != nil {
				return Set{}, err
			}
			name := make([]byte, nameLen)
			if _, err := io.ReadFull(reader, name); err != nil {
				return Set{}, err
			}
			m[string(name)] = struct{}{}
		}
		return Set{enc: EncodingNames, names: m}, nil
	default:
		return Set{}, errors.New("invalid role set encoding")
	}
}
