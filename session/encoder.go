package session

import (
	"bytes"
	"encoding/binary"
	"errors"
	"io"
)

const recordVersion1 = 1

const maxFieldLen = 65535

func writeString(buf *bytes.Buffer, s string) error {
	if len(s) > maxFieldLen {
		return errors.New("session field too long")
	}
	if err := binary.Write(buf, binary.BigEndian, uint16(len(s))); err != nil {
		return err
	}
	buf.WriteString(s)
	return nil
}

func readString(r *bytes.Reader) (string, error) {
	var n uint16
	if err := binary.Read(r, binary.BigEndian, &n); err != nil {
		return "", err
	}
	b := make([]byte, n)
	if _, err := io.ReadFull(r, b); err != nil {
		return "", err
	}
	return string(b), nil
}

// Encode serializes a session record as a versioned binary blob.
func Encode(s *Session) ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte(recordVersion1)

	for _, field := range []string{s.SessionID, s.UserID, s.IP, s.UserAgent} {
		if err := writeString(&buf, field); err != nil {
			return nil, err
		}
	}

	if len(s.Roles) > maxFieldLen {
		return nil, errors.New("session roles payload too long")
	}
	if err := binary.Write(&buf, binary.BigEndian, uint16(len(s.Roles))); err != nil {
		return nil, err
	}
	buf.Write(s.Roles)

	if len(s.Scopes) > maxFieldLen {
		return nil, errors.New("session scope list too long")
	}
	if err := binary.Write(&buf, binary.BigEndian, uint16(len(s.Scopes))); err != nil {
		return nil, err
	}
	for _, scope := range s.Scopes {
		if err := writeString(&buf, scope); err != nil {
			return nil, err
		}
	}

	buf.Write(s.RefreshHash[:])
	buf.Write(s.PrevRefreshHash[:])

	for _, ts := range []int64{s.CreatedAt, s.ExpiresAt, s.InvalidatedAt} {
		if err := binary.Write(&buf, binary.BigEndian, ts); err != nil {
			return nil, err
		}
	}

	return buf.Bytes(), nil
}

// Decode reverses [Encode]. A blob with an unknown version or truncated
// payload is corrupt, never partially decoded.
func Decode(data []byte) (*Session, error) {
	reader := bytes.NewReader(data)

	version, err := reader.ReadByte()
	if err != nil {
		return nil, err
	}
	if version != recordVersion1 {
		return nil, errors.New("invalid session record version")
	}

	s := &Session{}
	for _, dst := range []*string{&s.SessionID, &s.UserID, &s.IP, &s.UserAgent} {
		v, err := readString(reader)
		if err != nil {
			return nil, err
		}
		*dst = v
	}

	var rolesLen uint16
	if err := binary.Read(reader, binary.BigEndian, &rolesLen); err != nil {
		return nil, err
	}
	if rolesLen > 0 {
		s.Roles = make([]byte, rolesLen)
		if _, err := io.ReadFull(reader, s.Roles); err != nil {
			return nil, err
		}
	}

	var scopeCount uint16
	if err := binary.Read(reader, binary.BigEndian, &scopeCount); err != nil {
		return nil, err
	}
	for i := 0; i < int(scopeCount); i++ {
		scope, err := readString(reader)
		if err != nil {
			return nil, err
		}
		s.Scopes = append(s.Scopes, scope)
	}

	if _, err := io.ReadFull(reader, s.RefreshHash[:]); err != nil {
		return nil, err
	}
	if _, err := io.ReadFull(reader, s.PrevRefreshHash[:]); err != nil {
		return nil, err
	}

	for _, dst := range []*int64{&s.CreatedAt, &s.ExpiresAt, &s.InvalidatedAt} {
		if err := binary.Read(reader, binary.BigEndian, dst); err != nil {
			return nil, err
		}
	}

	return s, nil
}
