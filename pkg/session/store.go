package session

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/attribute"

	"github.com/harun/lainbot/internal/observability"
	"github.com/harun/lainbot/internal/tracing"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// maxLineSize bounds a single JSONL line; tool results can be large.
const maxLineSize = 8 * 1024 * 1024

// PersistenceError reports a session file that could not be read or written.
type PersistenceError struct {
	Op   string
	Path string
	Err  error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("session %s %s: %v", e.Op, e.Path, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

// ErrCorrupt is wrapped by load errors caused by undecodable content.
var ErrCorrupt = errors.New("corrupt session file")

// Store persists one named session as a JSONL file.
type Store struct {
	dir  string
	name string
	mu   sync.Mutex
}

// NewStore creates the sessions directory if needed.
func NewStore(dir, name string) (*Store, error) {
	if dir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("failed to get home directory: %w", err)
		}
		dir = filepath.Join(homeDir, ".lainbot", "sessions")
	}
	if err := validateName(name); err != nil {
		return nil, err
	}
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create sessions directory: %w", err)
	}

	log.Info().Str("dir", dir).Str("session", name).Msg("Session store initialized")
	return &Store{dir: dir, name: name}, nil
}

// validateName keeps the session name path-safe.
func validateName(name string) error {
	if name == "" {
		return fmt.Errorf("session name cannot be empty")
	}
	if strings.Contains(name, "..") {
		return fmt.Errorf("session name cannot contain '..'")
	}
	if strings.ContainsAny(name, "/\\") {
		return fmt.Errorf("session name cannot contain path separators")
	}
	if strings.Contains(name, "\x00") {
		return fmt.Errorf("session name cannot contain null bytes")
	}
	return nil
}

// Name returns the session name.
func (s *Store) Name() string { return s.name }

// Path returns the session file path.
func (s *Store) Path() string {
	return filepath.Join(s.dir, s.name+".jsonl")
}

// Load reads the session. A missing file yields an empty history and no
// error. Any undecodable or invalid line makes the whole file count as
// corrupt; the error wraps ErrCorrupt and no messages are returned.
func (s *Store) Load(ctx context.Context) (msgs []Message, err error) {
	ctx, span := tracing.StartSpan(tracing.WithSession(ctx, s.name), "session.load",
		attribute.String("session", s.name),
	)
	defer func() { tracing.EndSpan(span, err) }()
	logger := tracing.LoggerFromContext(ctx, log.Logger)
	start := time.Now()
	defer func() { observability.RecordSessionLoad(time.Since(start)) }()

	s.mu.Lock()
	defer s.mu.Unlock()

	path := s.Path()
	file, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		logger.Debug().Str("path", path).Msg("Session does not exist")
		return nil, nil
	}
	if err != nil {
		return nil, &PersistenceError{Op: "open", Path: path, Err: err}
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineSize)
	lineNum := 0
	for scanner.Scan() {
		lineNum++
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}

		var entry Entry
		if err := json.Unmarshal(line, &entry); err != nil {
			return nil, &PersistenceError{Op: "decode", Path: path, Err: fmt.Errorf("%w: line %d: %v", ErrCorrupt, lineNum, err)}
		}
		if !entry.Message.valid() {
			return nil, &PersistenceError{Op: "decode", Path: path, Err: fmt.Errorf("%w: line %d: invalid role %q", ErrCorrupt, lineNum, entry.Message.Role)}
		}
		msgs = append(msgs, entry.Message)
	}
	if err := scanner.Err(); err != nil {
		return nil, &PersistenceError{Op: "read", Path: path, Err: err}
	}

	logger.Debug().Int("messages", len(msgs)).Msg("Session loaded")
	return msgs, nil
}

// Save replaces the session file with msgs. The new content is written to
// a temporary file in the same directory and renamed over the old one.
func (s *Store) Save(ctx context.Context, msgs []Message) (err error) {
	ctx, span := tracing.StartSpan(tracing.WithSession(ctx, s.name), "session.save",
		attribute.String("session", s.name),
		attribute.Int("messages", len(msgs)),
	)
	defer func() { tracing.EndSpan(span, err) }()
	logger := tracing.LoggerFromContext(ctx, log.Logger)
	start := time.Now()
	defer func() { observability.RecordSessionSave(time.Since(start)) }()

	var buf bytes.Buffer
	for _, m := range msgs {
		data, err := json.Marshal(Entry{Session: s.name, Message: m})
		if err != nil {
			return &PersistenceError{Op: "encode", Path: s.Path(), Err: err}
		}
		buf.Write(data)
		buf.WriteByte('\n')
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	path := s.Path()
	tmp, err := os.CreateTemp(s.dir, "."+s.name+"-*.tmp")
	if err != nil {
		return &PersistenceError{Op: "write", Path: path, Err: err}
	}
	tmpName := tmp.Name()
	defer func() {
		if err != nil {
			_ = os.Remove(tmpName)
		}
	}()

	if _, err = tmp.Write(buf.Bytes()); err != nil {
		tmp.Close()
		return &PersistenceError{Op: "write", Path: path, Err: err}
	}
	if err = tmp.Sync(); err != nil {
		tmp.Close()
		return &PersistenceError{Op: "sync", Path: path, Err: err}
	}
	if err = tmp.Close(); err != nil {
		return &PersistenceError{Op: "write", Path: path, Err: err}
	}
	if err = os.Chmod(tmpName, 0600); err != nil {
		return &PersistenceError{Op: "chmod", Path: path, Err: err}
	}
	if err = os.Rename(tmpName, path); err != nil {
		return &PersistenceError{Op: "rename", Path: path, Err: err}
	}

	logger.Debug().Int("messages", len(msgs)).Msg("Session saved")
	return nil
}
