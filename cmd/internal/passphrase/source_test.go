package passphrase

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func TestSourceReadsEnvironment(t *testing.T) {
	t.Setenv("NFTLEND_TEST_PASS", "hunter2")
	s := NewSource("NFTLEND_TEST_PASS")
	got, err := s.Get()
	if err != nil || got != "hunter2" {
		t.Fatalf("expected env passphrase, got %q %v", got, err)
	}
	t.Setenv("NFTLEND_TEST_PASS", "changed")
	if again, _ := s.Get(); again != "hunter2" {
		t.Fatalf("expected cached passphrase, got %q", again)
	}
}

func TestSourceRejectsBlankEnvironment(t *testing.T) {
	t.Setenv("NFTLEND_TEST_PASS", "   ")
	if _, err := NewSource("NFTLEND_TEST_PASS").Get(); err == nil {
		t.Fatalf("expected blank passphrase to be rejected")
	}
}

func TestSourceReadsFileCompanion(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pass")
	if err := os.WriteFile(path, []byte("from-file\n"), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	t.Setenv("NFTLEND_TEST_PASS_FILE", path)
	got, err := NewSource("NFTLEND_TEST_PASS").Get()
	if err != nil || got != "from-file" {
		t.Fatalf("expected file passphrase, got %q %v", got, err)
	}
}

func scripted(answers ...string) *Source {
	s := NewSource("NFTLEND_UNSET_PASS")
	s.isTerminal = func() bool { return true }
	s.readSecret = func(string) (string, error) {
		next := answers[0]
		answers = answers[1:]
		return next, nil
	}
	return s
}

func TestSourceConfirmsNewPassphrase(t *testing.T) {
	if got, err := scripted("lend", "lend").Resolve(true); err != nil || got != "lend" {
		t.Fatalf("expected confirmed passphrase, got %q %v", got, err)
	}
	if _, err := scripted("lend", "lent").Resolve(true); !errors.Is(err, ErrMismatch) {
		t.Fatalf("expected mismatch, got %v", err)
	}
	if got, err := scripted("lend").Get(); err != nil || got != "lend" {
		t.Fatalf("unlocking must prompt once, got %q %v", got, err)
	}
}

func TestSourceWithoutTerminal(t *testing.T) {
	s := NewSource("NFTLEND_UNSET_PASS")
	s.isTerminal = func() bool { return false }
	if _, err := s.Get(); err == nil {
		t.Fatalf("expected an error without env or terminal")
	}
}
