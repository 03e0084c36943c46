package keys

import (
	"crypto/tls"
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"golang.org/x/crypto/ssh"
)

func Test_GenerateECDSAKey(t *testing.T) {
	tests := []struct {
		keySize int
		wantErr bool
	}{
		{224, false},
		{256, false},
		{384, false},
		{521, false},
		{1024, true},
	}

	for _, tt := range tests {
		t.Run("ECDSAKeySize"+fmt.Sprintf("%d", tt.keySize), func(t *testing.T) {
			key, keyPEM, err := GenerateECDSAKey(tt.keySize)
			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v", err)
			}
			if tt.wantErr {
				return
			}
			if key.Curve.Params().BitSize != tt.keySize {
				t.Errorf("curve size %d", key.Curve.Params().BitSize)
			}
			block, _ := pem.Decode(keyPEM)
			if block == nil || block.Type != "EC PRIVATE KEY" {
				t.Fatalf("bad PEM: %s", keyPEM)
			}
			if _, err := x509.ParseECPrivateKey(block.Bytes); err != nil {
				t.Error(err)
			}
		})
	}
}

func Test_SelfSignedCert(t *testing.T) {
	certPEM, keyPEM, err := SelfSignedCert([]string{"ftp.example.com", "127.0.0.1"}, time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	block, _ := pem.Decode(certPEM)
	cert, err := x509.ParseCertificate(block.Bytes)
	if err != nil {
		t.Fatal(err)
	}
	if err := cert.VerifyHostname("ftp.example.com"); err != nil {
		t.Error(err)
	}
	if err := cert.VerifyHostname("127.0.0.1"); err != nil {
		t.Error(err)
	}

	dir := t.TempDir()
	crtFile, keyFile := filepath.Join(dir, "server.crt"), filepath.Join(dir, "server.key")
	if err := os.WriteFile(crtFile, certPEM, 0o600); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(keyFile, keyPEM, 0o600); err != nil {
		t.Fatal(err)
	}
	cfg, err := LoadTLSConfig(crtFile, keyFile)
	if err != nil {
		t.Fatal(err)
	}
	if len(cfg.Certificates) != 1 || cfg.MinVersion != tls.VersionTLS12 {
		t.Errorf("unexpected config %+v", cfg)
	}

	if _, _, err := SelfSignedCert(nil, time.Hour); err == nil {
		t.Error("no hosts accepted")
	}
}

func Test_SelfSignedTLSConfig(t *testing.T) {
	cfg, err := SelfSignedTLSConfig("localhost")
	if err != nil {
		t.Fatal(err)
	}
	if len(cfg.Certificates) != 1 {
		t.Errorf("certificates = %d", len(cfg.Certificates))
	}
}

func Test_ParseSSHPublicKey(t *testing.T) {
	key, _, err := GenerateECDSAKey(256)
	if err != nil {
		t.Fatal(err)
	}
	pub, err := ssh.NewPublicKey(&key.PublicKey)
	if err != nil {
		t.Fatal(err)
	}
	parsed, err := ParseSSHPublicKey(string(ssh.MarshalAuthorizedKey(pub)))
	if err != nil {
		t.Fatal(err)
	}
	if parsed.Type() != "ecdsa-sha2-nistp256" {
		t.Errorf("type = %s", parsed.Type())
	}
	if _, err := ParseSSHPublicKey("garbage"); err == nil {
		t.Error("garbage accepted")
	}
}
