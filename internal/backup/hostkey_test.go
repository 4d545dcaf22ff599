package backup

import (
	"crypto/ed25519"
	"crypto/rand"
	"net"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"golang.org/x/crypto/ssh"
)

func TestHostKeyCallbackTrustOnFirstUse(t *testing.T) {
	knownHostsPath := filepath.Join(t.TempDir(), "ssh", "known_hosts")

	callback, err := NewHostKeyCallback(knownHostsPath, true)
	if err != nil {
		t.Fatalf("failed to create callback: %v", err)
	}

	key1 := generateTestPublicKey(t)
	addr := &net.TCPAddr{IP: net.ParseIP("192.0.2.10"), Port: 2222}

	if err := callback("nas.example:2222", addr, key1); err != nil {
		t.Fatalf("expected first key to be accepted, got %v", err)
	}

	data, err := os.ReadFile(knownHostsPath)
	if err != nil {
		t.Fatalf("expected known_hosts file to be written: %v", err)
	}
	if !strings.Contains(string(data), "[nas.example]:2222") || !strings.Contains(string(data), "[192.0.2.10]:2222") {
		t.Fatalf("unexpected known_hosts entry: %q", data)
	}

	callback, err = NewHostKeyCallback(knownHostsPath, true)
	if err != nil {
		t.Fatalf("failed to recreate callback: %v", err)
	}
	if err := callback("nas.example:2222", addr, key1); err != nil {
		t.Fatalf("expected recorded key to verify, got %v", err)
	}
	if err := callback("nas.example:2222", addr, generateTestPublicKey(t)); err == nil {
		t.Fatalf("expected host key change to be rejected")
	}
}

func TestHostKeyCallbackRejectsUnknownWhenDisabled(t *testing.T) {
	callback, err := NewHostKeyCallback(filepath.Join(t.TempDir(), "known_hosts"), false)
	if err != nil {
		t.Fatalf("failed to create callback: %v", err)
	}

	addr := &net.TCPAddr{IP: net.ParseIP("192.0.2.10"), Port: 22}
	if err := callback("nas.example:22", addr, generateTestPublicKey(t)); err == nil {
		t.Fatalf("expected unknown host key to be rejected")
	}
}

func TestHostKeyCallbackRequiresPath(t *testing.T) {
	if _, err := NewHostKeyCallback(" ", true); err == nil {
		t.Fatalf("expected empty known_hosts path to fail")
	}
}

func generateTestPublicKey(t *testing.T) ssh.PublicKey {
	t.Helper()
	pub, _, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("failed to generate key: %v", err)
	}

	key, err := ssh.NewPublicKey(pub)
	if err != nil {
		t.Fatalf("failed to create public key: %v", err)
	}
	return key
}
