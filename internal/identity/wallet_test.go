package identity

import (
	"encoding/hex"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/bondings/bondings/internal/signature"
)

func TestLoadWallet_EmptyDir(t *testing.T) {
	_, err := LoadWallet(t.TempDir())
	if !errors.Is(err, ErrNoWallet) {
		t.Fatalf("expected ErrNoWallet, got %v", err)
	}
}

func TestLoadWallet_CreatesDir(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "nonexistent", "keystore")

	if _, err := LoadWallet(dir); !errors.Is(err, ErrNoWallet) {
		t.Fatalf("expected ErrNoWallet, got %v", err)
	}

	info, err := os.Stat(dir)
	if err != nil {
		t.Fatalf("expected directory to be created: %v", err)
	}
	if perm := info.Mode().Perm(); perm != 0700 {
		t.Errorf("expected keystore dir permissions 0700, got %04o", perm)
	}
}

func TestCreateWallet_ThenLoad(t *testing.T) {
	dir := t.TempDir()
	password := "test-password-123"

	w, err := CreateWallet(dir, password)
	if err != nil {
		t.Fatalf("CreateWallet: %v", err)
	}
	if w.Address() == (common.Address{}) {
		t.Error("expected non-zero address")
	}
	if w.KeystoreDir() != dir {
		t.Errorf("KeystoreDir = %s, want %s", w.KeystoreDir(), dir)
	}
	if w.KeyFile() == "" {
		t.Error("expected key file path")
	}

	loaded, err := LoadWallet(dir)
	if err != nil {
		t.Fatalf("LoadWallet: %v", err)
	}
	if loaded.Address() != w.Address() {
		t.Errorf("address mismatch: %s vs %s", loaded.Address().Hex(), w.Address().Hex())
	}

	if _, err := CreateWallet(dir, password); err == nil {
		t.Error("expected error creating a second wallet")
	}
}

func TestUnlock_WrongPassword(t *testing.T) {
	w, err := CreateWallet(t.TempDir(), "right")
	if err != nil {
		t.Fatalf("CreateWallet: %v", err)
	}
	if _, err := w.Unlock("wrong"); err == nil {
		t.Fatal("expected error with wrong password")
	}
}

func TestUnlock_CachesUntilLock(t *testing.T) {
	password := "cache-test-password"
	w, err := CreateWallet(t.TempDir(), password)
	if err != nil {
		t.Fatalf("CreateWallet: %v", err)
	}

	key1, err := w.Unlock(password)
	if err != nil {
		t.Fatalf("Unlock: %v", err)
	}
	key2, err := w.Unlock("")
	if err != nil {
		t.Fatalf("cached Unlock: %v", err)
	}
	if key1 != key2 {
		t.Error("expected cached key")
	}

	w.Lock()
	if key1.D.Sign() != 0 {
		t.Error("expected key material to be zeroed")
	}
	if _, err := w.Unlock(""); err == nil {
		t.Error("expected error after Lock with empty password")
	}
}

func TestImportWallet_RoundTrip(t *testing.T) {
	key, err := crypto.GenerateKey()
	if err != nil {
		t.Fatal(err)
	}
	keyHex := "0x" + hex.EncodeToString(crypto.FromECDSA(key))
	password := "import-pw"

	dir := t.TempDir()
	w, err := ImportWallet(dir, keyHex, password)
	if err != nil {
		t.Fatalf("ImportWallet: %v", err)
	}
	if want := crypto.PubkeyToAddress(key.PublicKey); w.Address() != want {
		t.Errorf("address = %s, want %s", w.Address().Hex(), want.Hex())
	}

	got, err := LoadKeyFile(w.KeyFile(), password)
	if err != nil {
		t.Fatalf("LoadKeyFile: %v", err)
	}
	if got.D.Cmp(key.D) != 0 {
		t.Error("decrypted key does not match imported key")
	}

	if _, err := ImportWallet(dir, keyHex, password); err == nil {
		t.Error("expected error importing into a non-empty keystore")
	}
}

func TestImportWallet_InvalidHex(t *testing.T) {
	if _, err := ImportWallet(t.TempDir(), "not-hex", "pw"); err == nil {
		t.Error("expected error for invalid hex")
	}
}

func TestLoadKeyFile_Missing(t *testing.T) {
	if _, err := LoadKeyFile(filepath.Join(t.TempDir(), "nope.json"), "pw"); err == nil {
		t.Error("expected error for missing key file")
	}
}

func TestSignRegistration(t *testing.T) {
	password := "signer-pw"
	w, err := CreateWallet(t.TempDir(), password)
	if err != nil {
		t.Fatalf("CreateWallet: %v", err)
	}

	user := common.HexToAddress("0xb54e978a34Af50228a3564662dB6005E9fB04f5a")
	sig, err := w.SignRegistration("hello", user, 1700000000, password)
	if err != nil {
		t.Fatalf("SignRegistration: %v", err)
	}
	if len(sig) != 65 {
		t.Fatalf("signature length = %d, want 65", len(sig))
	}

	signer, err := signature.RecoverAddress(signature.PackRegister("hello", user, 1700000000), sig)
	if err != nil {
		t.Fatalf("RecoverAddress: %v", err)
	}
	if signer != w.Address() {
		t.Errorf("recovered %s, want %s", signer.Hex(), w.Address().Hex())
	}

	other, err := signature.RecoverAddress(signature.PackRegister("hello", user, 1700000001), sig)
	if err == nil && other == w.Address() {
		t.Error("signature must not verify for a different timestamp")
	}
}

func TestResolvePassword_EnvWins(t *testing.T) {
	t.Setenv(PasswordEnv, "from-env")

	file := filepath.Join(t.TempDir(), "pw")
	if err := os.WriteFile(file, []byte("from-file\n"), 0600); err != nil {
		t.Fatal(err)
	}

	pw, err := ResolvePassword(file)
	if err != nil {
		t.Fatalf("ResolvePassword: %v", err)
	}
	if pw != "from-env" {
		t.Errorf("password = %q, want from-env", pw)
	}
}

func TestResolvePassword_File(t *testing.T) {
	t.Setenv(PasswordEnv, "")
	os.Unsetenv(PasswordEnv)

	file := filepath.Join(t.TempDir(), "pw")
	if err := os.WriteFile(file, []byte("from-file\r\n"), 0600); err != nil {
		t.Fatal(err)
	}

	pw, err := ResolvePassword(file)
	if err != nil {
		t.Fatalf("ResolvePassword: %v", err)
	}
	if pw != "from-file" {
		t.Errorf("password = %q, want from-file", pw)
	}

	if _, err := ResolvePassword(filepath.Join(t.TempDir(), "missing")); err == nil {
		t.Error("expected error for missing password file")
	}
}
