package creds

import (
	"encoding/base64"
	"testing"
)

func TestLoadEmptyIsReadOnly(t *testing.T) {
	t.Parallel()

	cred, err := Load("", "")
	if err != nil {
		t.Fatalf("Load(\"\", \"\") error: %v", err)
	}
	if cred != nil {
		t.Errorf("Load(\"\", \"\") = %+v, want nil", cred)
	}
}

func TestLoadDecodesKeyAndSecret(t *testing.T) {
	t.Parallel()

	secret := base64.StdEncoding.EncodeToString(make([]byte, 64))
	cred, err := Load("0123-4567-89ab-cdef", secret)
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cred == nil {
		t.Fatal("Load() = nil, want non-nil Credential")
	}
	if len(cred.Key) != 8 {
		t.Errorf("len(Key) = %d, want 8", len(cred.Key))
	}
	if len(cred.Secret) != 64 {
		t.Errorf("len(Secret) = %d, want 64", len(cred.Secret))
	}
	if !cred.HasSecret() {
		t.Errorf("HasSecret() = false, want true")
	}
}

func TestLoadRejectsBadEncoding(t *testing.T) {
	t.Parallel()

	if _, err := Load("not-hex-zz", base64.StdEncoding.EncodeToString(make([]byte, 64))); err == nil {
		t.Error("Load() with invalid hex key = nil error, want error")
	}
	if _, err := Load("0123456789abcdef", "not base64!!"); err == nil {
		t.Error("Load() with invalid base64 secret = nil error, want error")
	}
}
