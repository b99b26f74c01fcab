package password

import "errors"

// ErrMalformedHash is returned by Verify and NeedsUpgrade when the stored
// hash cannot be parsed by the hasher.
var ErrMalformedHash = errors.New("malformed password hash")

// ErrEmptyPassword is returned by Hash for an empty password.
var ErrEmptyPassword = errors.New("password must not be empty")

// Hasher hashes and verifies passwords with a salted adaptive algorithm.
//
// Verify returns (false, nil) on mismatch and a non-nil error only when the
// stored hash is unusable. Implementations compare in constant time.
type Hasher interface {
	Hash(password string) (string, error)
	Verify(password, encodedHash string) (bool, error)
	NeedsUpgrade(encodedHash string) (bool, error)
}

var (
	_ Hasher = (*Bcrypt)(nil)
	_ Hasher = (*Argon2)(nil)
)
