// Package daemon runs the HTTP and socket servers until a signal or an
// explicit shutdown, then drains them in order.
package daemon

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// DefaultShutdownTimeout bounds the whole drain sequence.
const DefaultShutdownTimeout = 15 * time.Second

// SocketServer is the realtime server; stopping it closes every session.
type SocketServer interface {
	Stop(ctx context.Context) error
}

// Drainer waits for background work started by request handlers.
type Drainer interface {
	Wait()
}

// BackgroundFunc runs for the lifetime of the process. Returning a non-nil
// error other than context.Canceled stops the process.
type BackgroundFunc func(ctx context.Context) error

// Lifecycle manages startup, signal handling and graceful shutdown.
type Lifecycle struct {
	server          *http.Server
	sockets         SocketServer
	drainers        []Drainer
	background      []BackgroundFunc
	pidFile         string
	shutdownTimeout time.Duration
	log             *zap.Logger

	mu    sync.RWMutex
	addr  string
	ready chan struct{}

	shutdownCh   chan struct{}
	shutdownOnce sync.Once
}

// NewLifecycle creates a lifecycle for server. server.Addr is the listen
// address; ":0" picks a free port.
func NewLifecycle(server *http.Server, log *zap.Logger) *Lifecycle {
	if log == nil {
		log = zap.NewNop()
	}
	return &Lifecycle{
		server:          server,
		shutdownTimeout: DefaultShutdownTimeout,
		log:             log,
		ready:           make(chan struct{}),
		shutdownCh:      make(chan struct{}),
	}
}

// SetSocketServer registers the realtime server, stopped before HTTP.
func (l *Lifecycle) SetSocketServer(s SocketServer) { l.sockets = s }

// AddDrainer registers work to wait for after the servers stop.
func (l *Lifecycle) AddDrainer(d Drainer) { l.drainers = append(l.drainers, d) }

// AddBackground registers a task started with Run and canceled on shutdown.
func (l *Lifecycle) AddBackground(fn BackgroundFunc) { l.background = append(l.background, fn) }

// SetPIDFile makes Run refuse to start while another live process owns path,
// and write its own PID there otherwise.
func (l *Lifecycle) SetPIDFile(path string) { l.pidFile = path }

// SetShutdownTimeout overrides DefaultShutdownTimeout.
func (l *Lifecycle) SetShutdownTimeout(d time.Duration) {
	if d > 0 {
		l.shutdownTimeout = d
	}
}

// Ready is closed once the listener is bound.
func (l *Lifecycle) Ready() <-chan struct{} { return l.ready }

// Addr returns the bound listen address, or "" before Ready.
func (l *Lifecycle) Addr() string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.addr
}

// Run starts everything and blocks until ctx ends, SIGINT or SIGTERM
// arrives, Shutdown is called, or a server or background task fails.
func (l *Lifecycle) Run(ctx context.Context) error {
	if l.pidFile != "" {
		running, info, err := CheckPIDFileJSON(l.pidFile)
		if err != nil {
			l.log.Warn("failed to read existing PID file", zap.Error(err))
		} else if running && info.PID != os.Getpid() {
			return fmt.Errorf("already running (PID %d on %s)", info.PID, info.Addr)
		}
	}

	ln, err := net.Listen("tcp", l.server.Addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", l.server.Addr, err)
	}

	l.mu.Lock()
	l.addr = ln.Addr().String()
	l.mu.Unlock()

	if l.pidFile != "" {
		info := PIDInfo{PID: os.Getpid(), Addr: l.Addr(), StartedAt: time.Now().UTC()}
		if err := WritePIDFileJSON(l.pidFile, info); err != nil {
			_ = ln.Close()
			return err
		}
		defer func() {
			if err := RemovePIDFile(l.pidFile); err != nil {
				l.log.Warn("failed to remove PID file", zap.Error(err))
			}
		}()
	}

	bgCtx, cancelBackground := context.WithCancel(ctx)
	defer cancelBackground()
	g, gctx := errgroup.WithContext(bgCtx)
	for _, fn := range l.background {
		g.Go(func() error { return fn(gctx) })
	}

	serveErr := make(chan error, 1)
	go func() {
		serveErr <- l.server.Serve(ln)
	}()

	close(l.ready)
	l.log.Info("listening", zap.String("addr", l.Addr()))

	sigCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var runErr error
	select {
	case <-sigCtx.Done():
		l.log.Info("shutdown signal received")
	case <-l.shutdownCh:
	case err := <-serveErr:
		if !errors.Is(err, http.ErrServerClosed) {
			runErr = fmt.Errorf("serve: %w", err)
		}
	case <-gctx.Done():
	}

	if err := l.shutdown(); err != nil && runErr == nil {
		runErr = err
	}

	cancelBackground()
	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) && runErr == nil {
		runErr = fmt.Errorf("background task: %w", err)
	}
	return runErr
}

// shutdown stops sockets first so no new frames arrive, then HTTP, then
// waits for drainers. Every step runs even when an earlier one fails.
func (l *Lifecycle) shutdown() error {
	l.log.Info("starting graceful shutdown")
	ctx, cancel := context.WithTimeout(context.Background(), l.shutdownTimeout)
	defer cancel()

	var errs []error
	if l.sockets != nil {
		if err := l.sockets.Stop(ctx); err != nil {
			errs = append(errs, fmt.Errorf("stop socket server: %w", err))
		}
	}
	if err := l.server.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("stop http server: %w", err))
	}

	drained := make(chan struct{})
	go func() {
		for _, d := range l.drainers {
			d.Wait()
		}
		close(drained)
	}()
	select {
	case <-drained:
	case <-ctx.Done():
		errs = append(errs, errors.New("timed out draining background work"))
	}

	if err := errors.Join(errs...); err != nil {
		l.log.Error("shutdown finished with errors", zap.Error(err))
		return err
	}
	l.log.Info("graceful shutdown complete")
	return nil
}

// Shutdown triggers a graceful shutdown. Safe to call more than once.
func (l *Lifecycle) Shutdown() {
	l.shutdownOnce.Do(func() {
		close(l.shutdownCh)
	})
}
