// Package jsonl implements the session state store as one append-only JSONL
// file per session. The first line is a header, every later line a full
// snapshot of the state; the last snapshot wins.
package jsonl

import (
	"bufio"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/nstogner/agentx/pkg/domain"
	"github.com/nstogner/agentx/pkg/store"
)

const (
	typeHeader   = "session"
	typeSnapshot = "state"
)

type line struct {
	Type      string               `json:"type"`
	Key       *domain.SessionKey   `json:"key,omitempty"`
	State     *domain.SessionState `json:"state,omitempty"`
	Timestamp time.Time            `json:"timestamp"`
}

// Store implements store.SessionStore using JSONL files below a directory.
type Store struct {
	dir   string
	locks store.KeyLock

	mu   sync.RWMutex
	subs []chan domain.SessionKey
}

var _ store.SessionStore = (*Store)(nil)

// New creates a Store rooted at dir.
func New(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating sessions directory: %w", err)
	}
	return &Store{dir: dir}, nil
}

// Subscribe returns a channel that receives the key of every updated session.
// Slow subscribers miss notifications rather than block writers.
func (s *Store) Subscribe() <-chan domain.SessionKey {
	s.mu.Lock()
	defer s.mu.Unlock()
	ch := make(chan domain.SessionKey, 16)
	s.subs = append(s.subs, ch)
	return ch
}

func (s *Store) publish(key domain.SessionKey) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, sub := range s.subs {
		select {
		case sub <- key:
		default:
		}
	}
}

func (s *Store) path(key domain.SessionKey) string {
	sum := sha256.Sum256([]byte(store.SessionLockKey(key.App, key.User, key.SessionID)))
	return filepath.Join(s.dir, hex.EncodeToString(sum[:16])+".jsonl")
}

func (s *Store) lock(key domain.SessionKey) func() {
	return s.locks.Lock(store.SessionLockKey(key.App, key.User, key.SessionID))
}

func (s *Store) CreateOrGetSession(ctx context.Context, key domain.SessionKey, initial *domain.SessionState) (*domain.SessionState, error) {
	unlock := s.lock(key)
	defer unlock()

	state, err := s.load(key)
	if err == nil {
		return state, nil
	}
	if !errors.Is(err, domain.ErrSessionNotFound) {
		return nil, err
	}

	if initial == nil {
		initial = domain.NewSessionState()
	}
	state = initial.Clone()
	now := time.Now().UTC()
	state.UpdatedAt = now

	// A file can exist without a snapshot when a previous create was torn
	// after the header; the header is then not repeated.
	k := key
	err = s.appendLines(key, func(empty bool) []line {
		ls := []line{{Type: typeSnapshot, State: state, Timestamp: now}}
		if empty {
			ls = append([]line{{Type: typeHeader, Key: &k, Timestamp: now}}, ls...)
		}
		return ls
	})
	if err != nil {
		return nil, fmt.Errorf("writing session state: %w", err)
	}
	s.publish(key)
	return state.Clone(), nil
}

func (s *Store) GetSession(ctx context.Context, key domain.SessionKey) (*domain.SessionState, error) {
	unlock := s.lock(key)
	defer unlock()
	return s.load(key)
}

func (s *Store) UpdateSession(ctx context.Context, key domain.SessionKey, fn func(*domain.SessionState) error) (*domain.SessionState, error) {
	unlock := s.lock(key)
	defer unlock()

	state, err := s.load(key)
	if err != nil {
		return nil, err
	}
	if err := fn(state); err != nil {
		return nil, err
	}
	state.UpdatedAt = time.Now().UTC()

	err = s.appendLines(key, func(bool) []line {
		return []line{{Type: typeSnapshot, State: state, Timestamp: state.UpdatedAt}}
	})
	if err != nil {
		return nil, fmt.Errorf("writing session state: %w", err)
	}
	s.publish(key)
	return state.Clone(), nil
}

func (s *Store) load(key domain.SessionKey) (*domain.SessionState, error) {
	f, err := os.Open(s.path(key))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", domain.ErrSessionNotFound, key.SessionID)
	}
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var last *domain.SessionState
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 64*1024*1024)
	for scanner.Scan() {
		var l line
		if err := json.Unmarshal(scanner.Bytes(), &l); err != nil {
			continue // skip torn or corrupt lines
		}
		if l.Type == typeSnapshot && l.State != nil {
			last = l.State
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	if last == nil {
		return nil, fmt.Errorf("%w: %s", domain.ErrSessionNotFound, key.SessionID)
	}
	if last.Files == nil {
		last.Files = map[string]string{}
	}
	return last, nil
}

// appendLines appends the lines built by fn to the session file, creating it
// if needed. fn is told whether the file is empty. A torn trailing line is
// terminated first so the new lines stay readable.
func (s *Store) appendLines(key domain.SessionKey, fn func(empty bool) []line) error {
	f, err := os.OpenFile(s.path(key), os.O_CREATE|os.O_RDWR|os.O_APPEND, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return err
	}
	var buf []byte
	if size := info.Size(); size > 0 {
		last := make([]byte, 1)
		if _, err := f.ReadAt(last, size-1); err != nil {
			return fmt.Errorf("reading session file tail: %w", err)
		}
		if last[0] != '\n' {
			buf = append(buf, '\n')
		}
	}
	for _, l := range fn(info.Size() == 0) {
		data, err := json.Marshal(l)
		if err != nil {
			return err
		}
		buf = append(buf, data...)
		buf = append(buf, '\n')
	}
	_, err = f.Write(buf)
	return err
}
