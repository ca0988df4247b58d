package security

import (
	"bytes"
	"encoding/hex"
	"os"
	"path/filepath"
	"testing"
)

func TestLoadOrCreateKey(t *testing.T) {
	t.Setenv(KeyEnv, "")
	path := filepath.Join(t.TempDir(), "upload.key")

	c1, created, err := LoadOrCreateKey(path)
	if err != nil || !created {
		t.Fatalf("first LoadOrCreateKey() = created %v, err %v", created, err)
	}
	c2, created, err := LoadOrCreateKey(path)
	if err != nil || created {
		t.Fatalf("second LoadOrCreateKey() = created %v, err %v", created, err)
	}

	sealed, err := c1.Seal([]byte("crash report"))
	if err != nil {
		t.Fatalf("Seal() error = %v", err)
	}
	opened, err := c2.Open(sealed)
	if err != nil {
		t.Fatalf("Open() with reloaded key error = %v", err)
	}
	if string(opened) != "crash report" {
		t.Errorf("Open() = %q", opened)
	}

	info, _ := os.Stat(path)
	if info.Mode().Perm() != 0600 {
		t.Errorf("key file mode = %v, want 0600", info.Mode().Perm())
	}
}

func TestLoadOrCreateKey_Env(t *testing.T) {
	key := bytes.Repeat([]byte{7}, 32)
	t.Setenv(KeyEnv, hex.EncodeToString(key))
	path := filepath.Join(t.TempDir(), "unused.key")

	c, created, err := LoadOrCreateKey(path)
	if err != nil || created {
		t.Fatalf("LoadOrCreateKey() = created %v, err %v", created, err)
	}
	if !bytes.Equal(c.key, key) {
		t.Error("env key not used")
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Error("key file written although env key was set")
	}
}

func TestCipher_Tampering(t *testing.T) {
	c, err := NewCipher(bytes.Repeat([]byte{1}, 32))
	if err != nil {
		t.Fatal(err)
	}
	sealed, _ := c.Seal([]byte("payload"))
	sealed[len(sealed)-1] ^= 0xff
	if _, err := c.Open(sealed); err == nil {
		t.Error("Open() accepted tampered ciphertext")
	}
	if _, err := c.Open([]byte{1, 2}); err != ErrShortCiphertext {
		t.Errorf("Open() short input error = %v", err)
	}
}

func TestNewCipher_KeySize(t *testing.T) {
	if _, err := NewCipher(make([]byte, 16)); err == nil {
		t.Error("NewCipher() accepted a 16-byte key")
	}
}
