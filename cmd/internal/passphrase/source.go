package passphrase

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"

	"golang.org/x/term"
)

// ErrMismatch is returned when a new passphrase and its confirmation differ.
var ErrMismatch = errors.New("passphrases do not match")

// Source resolves the passphrase protecting a signer keystore. Lookup order:
// the environment variable itself, then a file named by <envVar>_FILE, then an
// interactive prompt. The first successful answer is cached.
type Source struct {
	envVar string

	isTerminal func() bool
	readSecret func(prompt string) (string, error)

	once  sync.Once
	value string
	err   error
}

// NewSource returns a Source keyed on envVar, prompting on the controlling
// terminal when neither the variable nor its _FILE companion is set.
func NewSource(envVar string) *Source {
	return &Source{
		envVar:     strings.TrimSpace(envVar),
		isTerminal: func() bool { return term.IsTerminal(int(os.Stdin.Fd())) },
		readSecret: readTerminal,
	}
}

func readTerminal(prompt string) (string, error) {
	fmt.Fprint(os.Stderr, prompt)
	raw, err := term.ReadPassword(int(os.Stdin.Fd()))
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", fmt.Errorf("read passphrase: %w", err)
	}
	return string(raw), nil
}

// Get returns the passphrase unlocking an existing keystore.
func (s *Source) Get() (string, error) { return s.Resolve(false) }

// Resolve returns the cached passphrase or looks it up. When confirm is set
// and the operator is prompted, the passphrase must be typed twice; use it
// when the answer will seal a newly generated key.
func (s *Source) Resolve(confirm bool) (string, error) {
	s.once.Do(func() {
		s.value, s.err = s.lookup(confirm)
	})
	return s.value, s.err
}

func (s *Source) lookup(confirm bool) (string, error) {
	if s.envVar != "" {
		if value, ok := os.LookupEnv(s.envVar); ok {
			return checkBlank(value, s.envVar+" is set but empty")
		}
		if path, ok := os.LookupEnv(s.envVar + "_FILE"); ok {
			raw, err := os.ReadFile(strings.TrimSpace(path))
			if err != nil {
				return "", fmt.Errorf("read %s_FILE: %w", s.envVar, err)
			}
			return checkBlank(strings.TrimRight(string(raw), "\r\n"), s.envVar+"_FILE names an empty file")
		}
	}

	if !s.isTerminal() {
		if s.envVar != "" {
			return "", fmt.Errorf("keystore passphrase required; set %s, %s_FILE or run interactively", s.envVar, s.envVar)
		}
		return "", errors.New("keystore passphrase required and no terminal available")
	}
	value, err := s.readSecret("Keystore passphrase: ")
	if err != nil {
		return "", err
	}
	if value, err = checkBlank(value, "keystore passphrase cannot be empty"); err != nil {
		return "", err
	}
	if confirm {
		again, err := s.readSecret("Repeat passphrase: ")
		if err != nil {
			return "", err
		}
		if again != value {
			return "", ErrMismatch
		}
	}
	return value, nil
}

func checkBlank(value, msg string) (string, error) {
	if strings.TrimSpace(value) == "" {
		return "", errors.New(msg)
	}
	return value, nil
}
