package session

import (
	"bytes"
	"encoding/binary"
	"errors"
	"io"
)

const formatVersionCurrent = 1

// MaxUserAgentLength caps the stored user agent. Longer values are truncated
// on Encode.
const MaxUserAgentLength = 512

var errInvalidVersion = errors.New("invalid session version")

// Encode serializes s. SessionID is not part of the payload; it is the key.
//
// Layout (v1): version | len8 accountID | len8 ip | len16 userAgent |
// refreshHash[32] | createdAt int64 | expiresAt int64. Integers are big endian.
func Encode(s *Session) ([]byte, error) {
	var buf bytes.Buffer
	buf.Grow(1 + 1 + len(s.AccountID) + 1 + len(s.IP) + 2 + len(s.UserAgent) + 32 + 16)

	buf.WriteByte(formatVersionCurrent)

	if s.AccountID == "" {
		return nil, errors.New("accountID is required")
	}
	if len(s.AccountID) > 255 {
		return nil, errors.New("accountID too long")
	}
	buf.WriteByte(byte(len(s.AccountID)))
	buf.WriteString(s.AccountID)

	if len(s.IP) > 255 {
		return nil, errors.New("ip too long")
	}
	buf.WriteByte(byte(len(s.IP)))
	buf.WriteString(s.IP)

	ua := s.UserAgent
	if len(ua) > MaxUserAgentLength {
		ua = ua[:MaxUserAgentLength]
	}
	if err := binary.Write(&buf, binary.BigEndian, uint16(len(ua))); err != nil {
		return nil, err
	}
	buf.WriteString(ua)

	buf.Write(s.RefreshHash[:])

	if err := binary.Write(&buf, binary.BigEndian, s.CreatedAt); err != nil {
		return nil, err
	}
	if err := binary.Write(&buf, binary.BigEndian, s.ExpiresAt); err != nil {
		return nil, err
	}

	return buf.Bytes(), nil
}

// Decode parses the output of Encode. The returned Session has no SessionID.
func Decode(data []byte) (*Session, error) {
	reader := bytes.NewReader(data)

	version, err := reader.ReadByte()
	if err != nil {
		return nil, err
	}
	if version != formatVersionCurrent {
		return nil, errInvalidVersion
	}

	s := &Session{}

	accountID, err := readString8(reader)
	if err != nil {
		return nil, err
	}
	if accountID == "" {
		return nil, errors.New("empty accountID")
	}
	s.AccountID = accountID

	if s.IP, err = readString8(reader); err != nil {
		return nil, err
	}

	var uaLen uint16
	if err := binary.Read(reader, binary.BigEndian, &uaLen); err != nil {
		return nil, err
	}
	ua := make([]byte, uaLen)
	if _, err := io.ReadFull(reader, ua); err != nil {
		return nil, err
	}
	s.UserAgent = string(ua)

	if _, err := io.ReadFull(reader, s.RefreshHash[:]); err != nil {
		return nil, err
	}
	if err := binary.Read(reader, binary.BigEndian, &s.CreatedAt); err != nil {
		return nil, err
	}
	if err := binary.Read(reader, binary.BigEndian, &s.ExpiresAt); err != nil {
		return nil, err
	}
	if reader.Len() != 0 {
		return nil, errors.New("trailing bytes in session payload")
	}

	return s, nil
}

func readString8(r *bytes.Reader) (string, error) {
	n, err := r.ReadByte()
	if err != nil {
		return "", err
	}
	b := make([]byte, n)
	if _, err := io.ReadFull(r, b); err != nil {
		return "", err
	}
	return string(b), nil
}
