package internal

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
)

// ID is a 128-bit random identifier rendered as unpadded base64url.
// Session ids and challenge ids share this shape.
type ID [16]byte

const (
	challengeSecretSize   = 32
	challengeTokenRawSize = len(ID{}) + challengeSecretSize
)

var (
	errIDSize             = errors.New("invalid id size")
	errChallengeTokenSize = errors.New("invalid challenge token size")
)

// NewID reads 16 bytes from crypto/rand.
func NewID() (ID, error) {
	var id ID
	_, err := rand.Read(id[:])
	return id, err
}

// NewSessionID returns a fresh session identifier.
func NewSessionID() (string, error) {
	id, err := NewID()
	if err != nil {
		return "", err
	}
	return id.String(), nil
}

func (id ID) String() string {
	return base64.RawURLEncoding.EncodeToString(id[:])
}

// ParseID decodes the output of ID.String.
func ParseID(s string) (ID, error) {
	var id ID

	raw, err := base64.RawURLEncoding.DecodeString(s)
	if err != nil {
		return id, err
	}
	if len(raw) != len(id) {
		return id, errIDSize
	}

	copy(id[:], raw)
	return id, nil
}

// NewChallengeSecret returns 256 bits of randomness for a reset or verification token.
func NewChallengeSecret() ([challengeSecretSize]byte, error) {
	var secret [challengeSecretSize]byte
	_, err := rand.Read(secret[:])
	return secret, err
}

// HashChallengeSecret is the digest persisted in place of a challenge secret.
func HashChallengeSecret(secret [challengeSecretSize]byte) [32]byte {
	return sha256.Sum256(secret[:])
}

// HashTokenID is the digest persisted for a refresh token's jti.
func HashTokenID(jti string) [32]byte {
	return sha256.Sum256([]byte(jti))
}

// EncodeChallengeToken packs the challenge id and secret into the opaque string
// handed to the account owner.
func EncodeChallengeToken(challengeID string, secret [challengeSecretSize]byte) (string, error) {
	rid, err := ParseID(challengeID)
	if err != nil {
		return "", err
	}

	var raw [challengeTokenRawSize]byte
	copy(raw[:len(rid)], rid[:])
	copy(raw[len(rid):], secret[:])

	return base64.RawURLEncoding.EncodeToString(raw[:]), nil
}

// DecodeChallengeToken reverses EncodeChallengeToken.
func DecodeChallengeToken(token string) (string, [challengeSecretSize]byte, error) {
	var secret [challengeSecretSize]byte

	raw, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil {
		return "", secret, err
	}
	if len(raw) != challengeTokenRawSize {
		return "", secret, errChallengeTokenSize
	}

	var rid ID
	copy(rid[:], raw[:len(rid)])
	copy(secret[:], raw[len(rid):])

	return rid.String(), secret, nil
}

// NewChallengeToken generates a challenge id, a secret and their encoded token.
func NewChallengeToken() (challengeID string, token string, secretHash [32]byte, err error) {
	rid, err := NewID()
	if err != nil {
		return "", "", secretHash, err
	}
	secret, err := NewChallengeSecret()
	if err != nil {
		return "", "", secretHash, err
	}
	challengeID = rid.String()
	token, err = EncodeChallengeToken(challengeID, secret)
	if err != nil {
		return "", "", secretHash, err
	}
	return challengeID, token, HashChallengeSecret(secret), nil
}
