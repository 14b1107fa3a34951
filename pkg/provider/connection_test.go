package provider

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/harun/lainbot/pkg/catalog"
)

type fakeSession struct {
	initErr   error
	initBlock bool
	listErr   error
	tools     []catalog.Descriptor
	callFn    func(ctx context.Context, name string, args map[string]any) (string, error)
	closeErr  error

	closed atomic.Int32
	calls  atomic.Int32
}

func (s *fakeSession) Initialize(ctx context.Context) error {
	if s.initBlock {
		<-ctx.Done()
		return ctx.Err()
	}
	return s.initErr
}

func (s *fakeSession) ListTools(ctx context.Context) ([]catalog.Descriptor, error) {
	return s.tools, s.listErr
}

func (s *fakeSession) CallTool(ctx context.Context, name string, args map[string]any) (string, error) {
	s.calls.Add(1)
	if s.callFn != nil {
		return s.callFn(ctx, name, args)
	}
	return "ok:" + name, nil
}

func (s *fakeSession) Close() error {
	s.closed.Add(1)
	return s.closeErr
}

func dialerFor(sess *fakeSession) Dialer {
	return DialerFunc(func(ctx context.Context, cfg Config) (Session, error) {
		return sess, nil
	})
}

func testConfig(name string) Config {
	return Config{Name: name, Kind: KindLocalProcess, Transport: TransportStdio, Command: "fake"}
}

func startConnection(t *testing.T, conn *Connection) chan error {
	t.Helper()
	errCh := make(chan error, 1)
	go func() { errCh <- conn.Run(context.Background()) }()
	return errCh
}

func waitState(t *testing.T, conn *Connection, want State) {
	t.Helper()
	assert.Eventually(t, func() bool { return conn.State() == want }, 2*time.Second, 5*time.Millisecond,
		"expected state %s, got %s", want, conn.State())
}

func TestConnectionLifecycle(t *testing.T) {
	logger := zerolog.Nop()

	t.Run("should reach ready with discovered tools and close on stop", func(t *testing.T) {
		sess := &fakeSession{tools: []catalog.Descriptor{{Provider: "alpha", Name: "ping"}}}
		var changes []State
		var mu sync.Mutex
		conn := NewConnection(testConfig("alpha"), dialerFor(sess), Options{
			Logger: logger,
			OnChange: func(c *Connection) {
				mu.Lock()
				changes = append(changes, c.State())
				mu.Unlock()
			},
		})
		errCh := startConnection(t, conn)

		waitState(t, conn, StateReady)
		require.Len(t, conn.Tools(), 1)
		assert.Equal(t, "ping", conn.Tools()[0].Name)

		conn.Stop()
		require.NoError(t, <-errCh)
		assert.Equal(t, StateClosed, conn.State())
		assert.Equal(t, int32(1), sess.closed.Load())

		mu.Lock()
		defer mu.Unlock()
		assert.Equal(t, []State{StateReady, StateClosing, StateClosed}, changes)
	})

	t.Run("should stay usable with empty tools when discovery fails", func(t *testing.T) {
		sess := &fakeSession{listErr: errors.New("boom")}
		conn := NewConnection(testConfig("alpha"), dialerFor(sess), Options{Logger: logger})
		errCh := startConnection(t, conn)

		waitState(t, conn, StateReady)
		assert.Empty(t, conn.Tools())

		out, err := conn.CallTool(context.Background(), "hidden", nil)
		require.NoError(t, err)
		assert.Equal(t, "ok:hidden", out)

		conn.Stop()
		require.NoError(t, <-errCh)
	})

	t.Run("should fail when the dialer fails", func(t *testing.T) {
		dialer := DialerFunc(func(ctx context.Context, cfg Config) (Session, error) {
			return nil, errors.New("no such command")
		})
		conn := NewConnection(testConfig("broken"), dialer, Options{Logger: logger})

		err := conn.Run(context.Background())
		var connErr *ConnectionError
		require.ErrorAs(t, err, &connErr)
		assert.Equal(t, "broken", connErr.Provider)
		assert.Equal(t, StateFailed, conn.State())
		assert.Equal(t, err, conn.Err())
	})

	t.Run("should fail and close the session when the handshake fails", func(t *testing.T) {
		sess := &fakeSession{initErr: errors.New("bad protocol")}
		conn := NewConnection(testConfig("alpha"), dialerFor(sess), Options{Logger: logger})

		err := conn.Run(context.Background())
		require.Error(t, err)
		assert.Equal(t, StateFailed, conn.State())
		assert.Equal(t, int32(1), sess.closed.Load())
	})

	t.Run("should close when stopped mid-handshake", func(t *testing.T) {
		sess := &fakeSession{initBlock: true}
		conn := NewConnection(testConfig("slow"), dialerFor(sess), Options{Logger: logger})
		errCh := startConnection(t, conn)

		time.Sleep(20 * time.Millisecond)
		conn.Stop()

		select {
		case err := <-errCh:
			require.NoError(t, err)
		case <-time.After(2 * time.Second):
			t.Fatal("run did not return after stop")
		}
		assert.Equal(t, StateClosed, conn.State())
		assert.Equal(t, int32(1), sess.closed.Load())
	})

	t.Run("should close when stopped before run", func(t *testing.T) {
		sess := &fakeSession{initBlock: true}
		conn := NewConnection(testConfig("early"), dialerFor(sess), Options{Logger: logger})
		conn.Stop()

		require.NoError(t, conn.Run(context.Background()))
		assert.Equal(t, StateClosed, conn.State())
	})

	t.Run("should report failed when session close fails", func(t *testing.T) {
		sess := &fakeSession{closeErr: errors.New("pipe busted")}
		conn := NewConnection(testConfig("alpha"), dialerFor(sess), Options{Logger: logger})
		errCh := startConnection(t, conn)
		waitState(t, conn, StateReady)

		conn.Stop()
		require.Error(t, <-errCh)
		assert.Equal(t, StateFailed, conn.State())
	})

	t.Run("should reject a second run", func(t *testing.T) {
		sess := &fakeSession{}
		conn := NewConnection(testConfig("alpha"), dialerFor(sess), Options{Logger: logger})
		errCh := startConnection(t, conn)
		waitState(t, conn, StateReady)

		assert.Error(t, conn.Run(context.Background()))

		conn.Stop()
		<-errCh
	})
}

func TestConnectionCallTool(t *testing.T) {
	logger := zerolog.Nop()

	t.Run("should reject calls before ready", func(t *testing.T) {
		conn := NewConnection(testConfig("alpha"), dialerFor(&fakeSession{}), Options{Logger: logger})
		_, err := conn.CallTool(context.Background(), "ping", nil)
		assert.ErrorIs(t, err, ErrNotReady)
	})

	t.Run("should reject calls after close", func(t *testing.T) {
		conn := NewConnection(testConfig("alpha"), dialerFor(&fakeSession{}), Options{Logger: logger})
		errCh := startConnection(t, conn)
		waitState(t, conn, StateReady)
		conn.Stop()
		<-errCh

		_, err := conn.CallTool(context.Background(), "ping", nil)
		assert.ErrorIs(t, err, ErrStopped)
	})

	t.Run("should pass tool errors through without changing state", func(t *testing.T) {
		sess := &fakeSession{callFn: func(ctx context.Context, name string, args map[string]any) (string, error) {
			return "", &ToolInvocationError{Provider: "alpha", Tool: name, Payload: "file not found"}
		}}
		conn := NewConnection(testConfig("alpha"), dialerFor(sess), Options{Logger: logger})
		errCh := startConnection(t, conn)
		waitState(t, conn, StateReady)

		_, err := conn.CallTool(context.Background(), "read", map[string]any{"path": "/nope"})
		var toolErr *ToolInvocationError
		require.ErrorAs(t, err, &toolErr)
		assert.Equal(t, "file not found", toolErr.Payload)
		assert.Equal(t, StateReady, conn.State())

		conn.Stop()
		<-errCh
	})

	t.Run("should be serving while a call is in flight", func(t *testing.T) {
		release := make(chan struct{})
		sess := &fakeSession{callFn: func(ctx context.Context, name string, args map[string]any) (string, error) {
			<-release
			return "done", nil
		}}
		conn := NewConnection(testConfig("alpha"), dialerFor(sess), Options{Logger: logger})
		errCh := startConnection(t, conn)
		waitState(t, conn, StateReady)

		resCh := make(chan string, 1)
		go func() {
			out, _ := conn.CallTool(context.Background(), "slow", nil)
			resCh <- out
		}()

		waitState(t, conn, StateServing)
		close(release)
		assert.Equal(t, "done", <-resCh)
		waitState(t, conn, StateReady)

		conn.Stop()
		<-errCh
	})

	t.Run("should cancel in-flight calls on stop and still close", func(t *testing.T) {
		started := make(chan struct{})
		sess := &fakeSession{callFn: func(ctx context.Context, name string, args map[string]any) (string, error) {
			close(started)
			<-ctx.Done()
			return "", ctx.Err()
		}}
		conn := NewConnection(testConfig("alpha"), dialerFor(sess), Options{Logger: logger})
		errCh := startConnection(t, conn)
		waitState(t, conn, StateReady)

		callErr := make(chan error, 1)
		go func() {
			_, err := conn.CallTool(context.Background(), "hang", nil)
			callErr <- err
		}()
		<-started

		conn.Stop()
		require.NoError(t, <-errCh)
		assert.Equal(t, StateClosed, conn.State())
		assert.Error(t, <-callErr)
	})

	t.Run("should abandon calls that ignore cancellation", func(t *testing.T) {
		block := make(chan struct{})
		defer close(block)
		started := make(chan struct{})
		sess := &fakeSession{callFn: func(ctx context.Context, name string, args map[string]any) (string, error) {
			close(started)
			<-block
			return "late", nil
		}}
		conn := NewConnection(testConfig("alpha"), dialerFor(sess), Options{Logger: logger, CloseGrace: 20 * time.Millisecond})
		errCh := startConnection(t, conn)
		waitState(t, conn, StateReady)

		go func() { _, _ = conn.CallTool(context.Background(), "stuck", nil) }()
		<-started

		conn.Stop()
		select {
		case err := <-errCh:
			require.NoError(t, err)
		case <-time.After(2 * time.Second):
			t.Fatal("teardown did not respect the close grace")
		}
		assert.Equal(t, StateClosed, conn.State())
	})

	t.Run("should honour the caller deadline", func(t *testing.T) {
		sess := &fakeSession{callFn: func(ctx context.Context, name string, args map[string]any) (string, error) {
			<-ctx.Done()
			return "", ctx.Err()
		}}
		conn := NewConnection(testConfig("alpha"), dialerFor(sess), Options{Logger: logger})
		errCh := startConnection(t, conn)
		waitState(t, conn, StateReady)

		ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
		defer cancel()
		_, err := conn.CallTool(ctx, "slow", nil)
		assert.ErrorIs(t, err, context.DeadlineExceeded)

		conn.Stop()
		<-errCh
	})
}

func TestConfigValidate(t *testing.T) {
	t.Run("should accept local process with command", func(t *testing.T) {
		assert.NoError(t, testConfig("fs").Validate())
	})

	t.Run("should reject separator in name", func(t *testing.T) {
		assert.Error(t, testConfig("bad__name").Validate())
	})

	t.Run("should reject a trailing underscore in name", func(t *testing.T) {
		assert.Error(t, testConfig("a_").Validate())
		assert.NoError(t, testConfig("_a").Validate())
		assert.NoError(t, testConfig("my_fs").Validate())
	})

	t.Run("should require url for remote endpoints", func(t *testing.T) {
		cfg := Config{Name: "web", Kind: KindRemoteEndpoint, Transport: TransportSSE}
		assert.Error(t, cfg.Validate())
		cfg.URL = "http://localhost:8080/sse"
		assert.NoError(t, cfg.Validate())
	})

	t.Run("should compare configs", func(t *testing.T) {
		a := Config{Name: "fs", Kind: KindLocalProcess, Command: "npx", Args: []string{"-y", "fs"}, Env: map[string]string{"A": "1"}}
		b := a
		b.Env = map[string]string{"A": "1"}
		assert.True(t, a.Equal(b))
		b.Env = map[string]string{"A": "2"}
		assert.False(t, a.Equal(b))
	})
}
