package auth

import "testing"

func TestHashAndVerifyToken(t *testing.T) {
	hash, err := HashToken("s3cr3t-token")
	if err != nil {
		t.Fatalf("HashToken: %v", err)
	}
	if !VerifyToken(hash, "s3cr3t-token") {
		t.Fatalf("expected token to verify against its own hash")
	}
	if VerifyToken(hash, "wrong-token") {
		t.Fatalf("expected wrong token to fail verification")
	}
}

func TestRegistryIssueAndAllowed(t *testing.T) {
	r := NewRegistry()
	hash, err := r.Issue("token-a", []string{"fs_read", "fs_write"})
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	if !r.Allowed("token-a", "fs_read") {
		t.Fatalf("expected token-a to be allowed to call fs_read")
	}
	if r.Allowed("token-a", "net_connect") {
		t.Fatalf("expected token-a to be denied an ungranted function")
	}
	if r.Allowed("token-b", "fs_read") {
		t.Fatalf("expected an unissued token to be denied")
	}

	r.Revoke(hash)
	if r.Allowed("token-a", "fs_read") {
		t.Fatalf("expected revoked token to be denied")
	}
}

func TestRegistryMultipleGrants(t *testing.T) {
	r := NewRegistry()
	if _, err := r.Issue("token-a", []string{"fs_read"}); err != nil {
		t.Fatalf("Issue: %v", err)
	}
	if _, err := r.Issue("token-b", []string{"net_connect"}); err != nil {
		t.Fatalf("Issue: %v", err)
	}
	if !r.Allowed("token-b", "net_connect") {
		t.Fatalf("expected token-b to be allowed net_connect")
	}
	if r.Allowed("token-b", "fs_read") {
		t.Fatalf("expected token-b to be denied fs_read")
	}
}
