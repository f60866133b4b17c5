package server

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"sync"
	"time"

	"golang.org/x/sys/unix"

	"github.com/zhubert/hopper/internal/config"
	herrors "github.com/zhubert/hopper/internal/errors"
	"github.com/zhubert/hopper/internal/logger"
	"github.com/zhubert/hopper/internal/state"
)

// liveCheckTimeout bounds the liveness check against an existing socket file.
const liveCheckTimeout = 500 * time.Millisecond

// readBufferSize is the per-connection read buffer. Longer messages are
// assembled across reads up to MaxMessageSize.
const readBufferSize = 64 * 1024

// WindowChecker reports whether a terminal window still exists.
type WindowChecker interface {
	WindowExists(ctx context.Context, ref string) (bool, error)
}

// Server is the single hopper state server of one data directory.
type Server struct {
	cfg        *config.Config
	store      *state.Store
	registry   *Registry
	bus        *Bus
	dispatcher *Dispatcher
	windows    WindowChecker

	listener net.Listener
	lock     *Lock

	closed   bool         // Set once shutdown begins
	closedMu sync.RWMutex // Guards closed
	inflight sync.WaitGroup
	wg       sync.WaitGroup // Accept loop and connection goroutines
	stop     chan struct{}
	stopOnce sync.Once
	log      *slog.Logger
}

// Option is a functional option for configuring Server
type Option func(*Server)

// WithWindowChecker enables clearing window references whose window is gone
// when the server starts.
func WithWindowChecker(w WindowChecker) Option {
	return func(s *Server) {
		s.windows = w
	}
}

// WithLock hands the server a claim taken with Claim, so Listen does not
// claim the data directory again.
func WithLock(l *Lock) Option {
	return func(s *Server) {
		s.lock = l
	}
}

// New creates a server over store. Nothing is bound until Listen.
func New(cfg *config.Config, store *state.Store, opts ...Option) *Server {
	s := &Server{
		cfg:   cfg,
		store: store,
		stop:  make(chan struct{}),
		log:   logger.ComponentLogger("server"),
	}
	s.registry = NewRegistry(store.Sessions)
	s.bus = NewBus(func() StateChanged { return snapshot(store) })
	s.dispatcher = NewDispatcher(store, s.registry, s.bus, s.Stop)
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// SocketPath returns the path of the server socket
func (s *Server) SocketPath() string {
	return s.cfg.SocketPath
}

// Lock is a held claim on a data directory.
type Lock struct {
	file *os.File
}

// Release gives up the claim. It is safe to call more than once.
func (l *Lock) Release() {
	if l == nil || l.file == nil {
		return
	}
	releaseLock(l.file)
	l.file = nil
}

// Claim makes the caller the data directory's only server. It fails with a
// SingletonConflict error when another server is live and removes a stale
// socket file left by a dead one. Nothing in the directory is read, so a
// second server is refused before it touches state.
func Claim(cfg *config.Config) (*Lock, error) {
	op := herrors.Op("server.Claim")
	path := cfg.SocketPath

	for _, dir := range []string{cfg.DataDir, filepath.Dir(path)} {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return nil, herrors.E(op, herrors.KindIO, err)
		}
	}

	if isLive(path) {
		return nil, herrors.SingletonConflict(path)
	}
	f, err := acquireLock(cfg.Layout().Lock(), path)
	if err != nil {
		return nil, err
	}
	if err := removeStale(path); err != nil {
		releaseLock(f)
		return nil, herrors.E(op, herrors.KindIO, err)
	}
	return &Lock{file: f}, nil
}

// Listen binds the socket, claiming the data directory first unless
// WithLock supplied a claim. Session activity is reset before any client
// can connect.
func (s *Server) Listen(ctx context.Context) error {
	op := herrors.Op("server.Listen")
	path := s.cfg.SocketPath

	if s.lock == nil {
		lock, err := Claim(s.cfg)
		if err != nil {
			return err
		}
		s.lock = lock
	}
	if err := s.reconcile(ctx); err != nil {
		s.releaseLock()
		return err
	}

	ln, err := net.Listen("unix", path)
	if err != nil {
		s.releaseLock()
		return herrors.E(op, herrors.KindIO, err)
	}
	if err := os.Chmod(path, 0o600); err != nil {
		s.log.Warn("failed to restrict socket permissions", "socketPath", path, "error", err)
	}

	s.listener = ln
	s.log.Info("listening", "socketPath", path, "pid", os.Getpid())
	return nil
}

func (s *Server) releaseLock() {
	s.lock.Release()
	s.lock = nil
}

// reconcile clears state no live connection can vouch for.
func (s *Server) reconcile(ctx context.Context) error {
	n, err := s.store.Sessions.ResetActive()
	if err != nil {
		return err
	}
	if n > 0 {
		s.log.Info("reset stale active sessions", "count", n)
	}

	if s.windows == nil || !s.cfg.ReconcileWindows {
		return nil
	}
	cleared, err := s.store.Sessions.ClearWindows(func(ref string) bool {
		exists, err := s.windows.WindowExists(ctx, ref)
		if err != nil {
			s.log.Debug("window check failed, keeping reference", "windowRef", ref, "error", err)
			return false
		}
		return !exists
	})
	if err != nil {
		return err
	}
	if cleared > 0 {
		s.log.Info("cleared references to closed windows", "count", cleared)
	}
	return nil
}

// Serve accepts connections until ctx is cancelled or Stop is called, then
// shuts down. Listen is called first if it has not been.
func (s *Server) Serve(ctx context.Context) error {
	if s.listener == nil {
		if err := s.Listen(ctx); err != nil {
			return err
		}
	}

	s.wg.Add(1)
	go s.acceptLoop()

	select {
	case <-ctx.Done():
		s.log.Info("context cancelled")
	case <-s.stop:
	}
	return s.shutdown()
}

// Stop asks Serve to shut down. It does not wait.
func (s *Server) Stop() {
	s.stopOnce.Do(func() { close(s.stop) })
}

func (s *Server) isClosed() bool {
	s.closedMu.RLock()
	defer s.closedMu.RUnlock()
	return s.closed
}

func (s *Server) acceptLoop() {
	defer s.wg.Done()

	for {
		nc, err := s.listener.Accept()
		if err != nil {
			if s.isClosed() || errors.Is(err, net.ErrClosed) {
				s.log.Info("listener closed, stopping accept loop")
				return
			}
			s.log.Warn("accept error (continuing)", "error", err)
			continue
		}

		s.wg.Add(1)
		go s.handleConnection(nc)
	}
}

// register makes c visible to the bus unless shutdown has begun.
func (s *Server) register(c *conn) bool {
	s.closedMu.RLock()
	defer s.closedMu.RUnlock()
	if s.closed {
		return false
	}
	s.bus.register(c)
	return true
}

// beginDispatch counts a request as in flight unless shutdown has begun.
func (s *Server) beginDispatch() bool {
	s.closedMu.RLock()
	defer s.closedMu.RUnlock()
	if s.closed {
		return false
	}
	s.inflight.Add(1)
	return true
}

func (s *Server) handleConnection(nc net.Conn) {
	defer s.wg.Done()

	c := newConn(nc, s.cfg.OutboundQueue, s.cfg.WriteTimeout)
	if !s.register(c) {
		nc.Close()
		return
	}
	defer s.teardown(c)
	c.log.Debug("connection accepted")

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		c.writeLoop()
	}()

	reader := bufio.NewReaderSize(nc, readBufferSize)
	for {
		line, tooLong, err := readLine(reader, MaxMessageSize)
		if err != nil {
			if !errors.Is(err, io.EOF) && !c.closed() {
				c.log.Warn("read error", "error", err)
			}
			return
		}
		if tooLong {
			c.log.Warn("discarding oversized message", "limit", MaxMessageSize)
			c.send(s.dispatcher.Reject(herrors.BadRequest(herrors.Op("server.read"),
				fmt.Sprintf("message exceeds %d bytes", MaxMessageSize))))
			continue
		}
		if len(bytes.TrimSpace(line)) == 0 {
			continue
		}
		if !s.beginDispatch() {
			c.log.Debug("dropping request received during shutdown")
			continue
		}
		c.send(s.dispatcher.Handle(c.id, line))
		s.inflight.Done()
	}
}

// readLine reads one newline-terminated message without its newline. A
// message longer than limit is consumed through its newline and reported
// as tooLong, leaving the reader at the start of the next message. An
// unterminated final message is returned before io.EOF.
func readLine(r *bufio.Reader, limit int) ([]byte, bool, error) {
	var (
		line    []byte
		tooLong bool
	)
	for {
		frag, err := r.ReadSlice('\n')
		terminated := err == nil
		frag = bytes.TrimSuffix(frag, []byte{'\n'})
		if !tooLong {
			if len(line)+len(frag) > limit {
				tooLong, line = true, nil
			} else {
				line = append(line, frag...)
			}
		}
		switch {
		case terminated:
			return line, tooLong, nil
		case errors.Is(err, bufio.ErrBufferFull):
			continue
		case errors.Is(err, io.EOF) && (len(line) > 0 || tooLong):
			return line, tooLong, nil
		default:
			return nil, false, err
		}
	}
}

// teardown detaches whatever c owned and closes it. It runs once per
// connection, from the goroutine that read from it.
func (s *Server) teardown(c *conn) {
	s.bus.unregister(c)
	c.close()

	sessionID, changed, err := s.registry.Detach(c.id)
	if err != nil {
		c.log.Error("failed to release session on disconnect", "sessionID", sessionID, "error", err)
	}
	if changed {
		s.bus.Publish()
	}
	c.log.Debug("connection closed", "sessionID", sessionID)
}

// shutdown stops accepting, lets in-flight requests finish, tells clients,
// flushes their queues and releases the socket and lock.
func (s *Server) shutdown() error {
	s.log.Info("shutting down", "clients", s.bus.Len())

	s.closedMu.Lock()
	s.closed = true
	s.closedMu.Unlock()

	err := s.listener.Close()
	if errors.Is(err, net.ErrClosed) {
		err = nil
	}
	s.inflight.Wait()

	s.bus.Notify(ServerStopping{Type: TypeServerStopping, TS: nowMillis()})
	for _, c := range s.bus.targets() {
		c.drain()
	}

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(DrainTimeout + s.cfg.WriteTimeout):
		s.log.Warn("clients did not drain in time, closing")
		for _, c := range s.bus.targets() {
			c.close()
		}
		<-done
	}

	if removeErr := os.Remove(s.cfg.SocketPath); removeErr != nil && !os.IsNotExist(removeErr) {
		s.log.Warn("failed to remove socket file", "socketPath", s.cfg.SocketPath, "error", removeErr)
	}
	s.releaseLock()
	s.log.Info("stopped")
	return err
}

// isLive reports whether something accepts connections on path.
func isLive(path string) bool {
	nc, err := net.DialTimeout("unix", path, liveCheckTimeout)
	if err != nil {
		return false
	}
	nc.Close()
	return true
}

// removeStale deletes a leftover socket file. Anything that is not a
// socket is left alone and reported.
func removeStale(path string) error {
	fi, err := os.Lstat(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return err
	}
	if fi.Mode()&fs.ModeSocket == 0 {
		return fmt.Errorf("%s exists and is not a socket", path)
	}
	logger.Info("removing stale socket %s", path)
	return os.Remove(path)
}

// acquireLock takes an exclusive flock on path for the life of the server.
func acquireLock(path, socketPath string) (*os.File, error) {
	op := herrors.Op("server.acquireLock")
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o600)
	if err != nil {
		return nil, herrors.E(op, herrors.KindIO, err)
	}
	if err := unix.Flock(int(f.Fd()), unix.LOCK_EX|unix.LOCK_NB); err != nil {
		f.Close()
		if errors.Is(err, unix.EWOULDBLOCK) {
			return nil, herrors.SingletonConflict(socketPath)
		}
		return nil, herrors.E(op, herrors.KindIO, err)
	}
	if err := f.Truncate(0); err == nil {
		fmt.Fprintf(f, "%d\n", os.Getpid())
	}
	return f, nil
}

func releaseLock(f *os.File) {
	if f == nil {
		return
	}
	unix.Flock(int(f.Fd()), unix.LOCK_UN)
	f.Close()
}
