package session

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func TestCredentialStoreRoundTrip(t *testing.T) {
	t.Parallel()

	dir := filepath.Join(t.TempDir(), "auth_info")
	st, err := OpenCredentialStore(dir)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if b, err := st.Load(); err != nil || b != nil {
		t.Fatalf("empty store: b=%q err=%v", b, err)
	}
	if st.Exists() {
		t.Fatalf("empty store reports existing blob")
	}

	if err := st.Save([]byte(`{"v":1}`)); err != nil {
		t.Fatalf("save: %v", err)
	}
	if err := st.Save([]byte(`{"v":2}`)); err != nil {
		t.Fatalf("save: %v", err)
	}

	reopened, err := OpenCredentialStore(dir)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	b, err := reopened.Load()
	if err != nil || string(b) != `{"v":2}` {
		t.Fatalf("reload: b=%q err=%v", b, err)
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("readdir: %v", err)
	}
	if len(entries) != 1 || entries[0].Name() != CredentialsFile {
		t.Fatalf("unexpected files in auth dir: %v", entries)
	}
}

func TestCredentialStoreSeedsOnce(t *testing.T) {
	t.Parallel()

	st, err := OpenCredentialStore(t.TempDir())
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if err := st.Seed([]byte("seed")); err != nil {
		t.Fatalf("seed: %v", err)
	}
	if err := st.Save([]byte("rotated")); err != nil {
		t.Fatalf("save: %v", err)
	}
	if err := st.Seed([]byte("seed")); !errors.Is(err, ErrAlreadySeeded) {
		t.Fatalf("second seed: got %v want ErrAlreadySeeded", err)
	}
	if b, _ := st.Load(); string(b) != "rotated" {
		t.Fatalf("seed overwrote rotated credentials: %q", b)
	}
}

func TestCredentialStoreClear(t *testing.T) {
	t.Parallel()

	st, err := OpenCredentialStore(t.TempDir())
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if err := st.Clear(); err != nil {
		t.Fatalf("clear empty: %v", err)
	}
	_ = st.Save([]byte("x"))
	if err := st.Clear(); err != nil || st.Exists() {
		t.Fatalf("clear: err=%v exists=%v", err, st.Exists())
	}
}
