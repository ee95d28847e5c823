package breakglass

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/ppiankov/hostguard/internal/turns"
)

// Store records consumed override tokens on disk, one file per token.
type Store struct {
	dir string
	mu  sync.Mutex
}

// NewStore creates a Store backed by the given directory.
func NewStore(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("cannot create breakglass directory: %w", err)
	}
	return &Store{dir: dir}, nil
}

// DefaultDir returns the default break-glass store directory.
func DefaultDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), "hostguard-breakglass")
	}
	return filepath.Join(home, ".hostguard", "breakglass")
}

// IsUsed returns true if a token with id has been consumed.
func (s *Store) IsUsed(id string) bool {
	if validateID(id) != nil {
		return true // fail closed
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := os.Stat(s.path(id))
	return err == nil
}

// UsedOn returns how many tokens were consumed on the given UTC day.
func (s *Store) UsedOn(day string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.usedOnLocked(day)
}

// MarkUsed records tok as consumed at now, failing if it was already consumed
// or if the day already holds maxPerDay consumed tokens.
func (s *Store) MarkUsed(tok Token, now time.Time, maxPerDay int) error {
	if err := validateID(tok.ID); err != nil {
		return fmt.Errorf("invalid token id: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := os.Stat(s.path(tok.ID)); err == nil {
		return ErrAlreadyUsed
	}
	n, err := s.usedOnLocked(turns.DayKey(now))
	if err != nil {
		return err
	}
	if n >= maxPerDay {
		return ErrDailyLimit
	}

	used := now.UTC()
	tok.UsedAt = &used
	return s.writeAtomic(s.path(tok.ID), &tok)
}

// List returns all consumed tokens in the store.
func (s *Store) List() ([]Token, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.listLocked()
}

// Cleanup removes consumed tokens that expired before now and were not
// consumed on now's UTC day. Expired tokens can never validate again, and
// today's tokens still count toward the daily limit.
func (s *Store) Cleanup(now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tokens, err := s.listLocked()
	if err != nil {
		return err
	}
	today := turns.DayKey(now)
	var errs []error
	for _, t := range tokens {
		if t.UsedAt == nil || turns.DayKey(*t.UsedAt) == today || !now.After(t.ExpiresAt) {
			continue
		}
		if err := os.Remove(s.path(t.ID)); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (s *Store) usedOnLocked(day string) (int, error) {
	tokens, err := s.listLocked()
	if err != nil {
		return 0, err
	}
	n := 0
	for _, t := range tokens {
		if t.UsedAt != nil && turns.DayKey(*t.UsedAt) == day {
			n++
		}
	}
	return n, nil
}

func (s *Store) listLocked() ([]Token, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	var tokens []Token
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		id := strings.TrimSuffix(e.Name(), ".json")
		token, err := s.read(id)
		if err != nil {
			continue
		}
		tokens = append(tokens, *token)
	}
	return tokens, nil
}

func (s *Store) path(id string) string {
	return filepath.Join(s.dir, id+".json")
}

func (s *Store) read(id string) (*Token, error) {
	data, err := os.ReadFile(s.path(id))
	if err != nil {
		return nil, err
	}
	var token Token
	if err := json.Unmarshal(data, &token); err != nil {
		return nil, err
	}
	return &token, nil
}

func (s *Store) writeAtomic(path string, token *Token) error {
	data, err := json.MarshalIndent(token, "", "  ")
	if err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0600); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}
