package session

// Session is the persisted form of one login. Timestamps are unix seconds.
// Only the SHA-256 of the current refresh token id is stored.
type Session struct {
	SessionID   string
	AccountID   string
	IP          string
	UserAgent   string
	RefreshHash [32]byte
	CreatedAt   int64
	ExpiresAt   int64
}
