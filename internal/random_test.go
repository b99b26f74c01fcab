package internal

import "testing"

func TestChallengeTokenRoundTrip(t *testing.T) {
	challengeID, token, hash, err := NewChallengeToken()
	if err != nil {
		t.Fatalf("NewChallengeToken error: %v", err)
	}

	gotID, secret, err := DecodeChallengeToken(token)
	if err != nil {
		t.Fatalf("DecodeChallengeToken error: %v", err)
	}
	if gotID != challengeID {
		t.Fatalf("expected challenge id %q, got %q", challengeID, gotID)
	}
	if HashChallengeSecret(secret) != hash {
		t.Fatal("decoded secret does not hash to the issued digest")
	}
}

func TestChallengeTokensAreUnique(t *testing.T) {
	seen := make(map[string]struct{}, 64)
	for i := 0; i < 64; i++ {
		_, token, _, err := NewChallengeToken()
		if err != nil {
			t.Fatalf("NewChallengeToken error: %v", err)
		}
		if _, dup := seen[token]; dup {
			t.Fatalf("duplicate challenge token after %d draws", i)
		}
		seen[token] = struct{}{}
	}
}

func TestDecodeChallengeTokenRejectsWrongSize(t *testing.T) {
	if _, _, err := DecodeChallengeToken("dG9vLXNob3J0"); err == nil {
		t.Fatal("expected short token to be rejected")
	}
	if _, _, err := DecodeChallengeToken("!!!"); err == nil {
		t.Fatal("expected non-base64 token to be rejected")
	}
}

func TestParseIDRejectsWrongSize(t *testing.T) {
	sid, err := NewSessionID()
	if err != nil {
		t.Fatalf("NewSessionID error: %v", err)
	}
	if _, err := ParseID(sid); err != nil {
		t.Fatalf("ParseID(%q) error: %v", sid, err)
	}
	if _, err := ParseID("aGVsbG8"); err == nil {
		t.Fatal("expected short id to be rejected")
	}
}

// FuzzDecodeChallengeToken must never panic, and anything it accepts must
// survive a re-encode.
func FuzzDecodeChallengeToken(f *testing.F) {
	f.Add("")
	f.Add("abc")
	f.Add("!!!not-base64!!!")
	f.Add("AAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAA")
	if _, token, _, err := NewChallengeToken(); err == nil {
		f.Add(token)
	}

	f.Fuzz(func(t *testing.T, input string) {
		challengeID, secret, err := DecodeChallengeToken(input)
		if err != nil {
			return
		}
		again, err := EncodeChallengeToken(challengeID, secret)
		if err != nil {
			t.Fatalf("re-encode failed: %v", err)
		}
		id2, secret2, err := DecodeChallengeToken(again)
		if err != nil {
			t.Fatalf("decode of re-encoded token failed: %v", err)
		}
		if id2 != challengeID || secret2 != secret {
			t.Fatal("re-encoded token decodes to different values")
		}
	})
}
