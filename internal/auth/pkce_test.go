package auth

import "testing"

func TestGenerateCodeVerifier_Length(t *testing.T) {
	verifier, err := GenerateCodeVerifier()
	if err != nil {
		t.Fatalf("GenerateCodeVerifier() error = %v", err)
	}

	// 32バイトのbase64url（パディングなし）は43文字
	if len(verifier) != 43 {
		t.Errorf("verifier length = %d, want 43", len(verifier))
	}
}

func TestCodeChallengeS256_KnownVector(t *testing.T) {
	// RFC 7636 Appendix B のテストベクタ
	verifier := "dBjftJeZ4CVP-mB92K27uhbUJU1p1r_wW1gFWFOEjXk"
	want := "E9Melhoa2OwvFrEMTJguCHaoeK1t8URWbuGJSstw-cM"

	got := CodeChallengeS256(verifier)
	if got != want {
		t.Errorf("CodeChallengeS256() = %q, want %q", got, want)
	}
}

func TestCodeChallengeS256_Deterministic(t *testing.T) {
	verifier, err := GenerateCodeVerifier()
	if err != nil {
		t.Fatalf("GenerateCodeVerifier() error = %v", err)
	}

	if CodeChallengeS256(verifier) != CodeChallengeS256(verifier) {
		t.Error("challenge should be deterministic for the same verifier")
	}
}
