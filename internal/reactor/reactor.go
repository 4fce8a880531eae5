// Package reactor implements the single-threaded I/O-multiplexing core
// described in spec.md §4.6: one Reactor goroutine owns the Poller, the
// TimerHeap, the connection registry, and the listen socket, and hands
// per-connection I/O off to a fixed worker pool. Grounded on
// original_source/code/server/webserver.cpp's Start/DealListen_/DealRead_/
// DealWrite_/OnRead_/OnProcess/OnWrite_/InitSocket_/InitEventMode_/
// SetFdNonblock, translated to golang.org/x/sys/unix syscalls in place of
// the original's raw sockaddr_in/fcntl calls.
package reactor

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sys/unix"

	"github.com/reactorweb/server/internal/audit"
	"github.com/reactorweb/server/internal/conn"
	"github.com/reactorweb/server/internal/config"
	"github.com/reactorweb/server/internal/dbpool"
	"github.com/reactorweb/server/internal/httpproto"
	"github.com/reactorweb/server/internal/logging"
	"github.com/reactorweb/server/internal/metrics"
	"github.com/reactorweb/server/internal/poller"
	"github.com/reactorweb/server/internal/pool"
	"github.com/reactorweb/server/internal/ratelimit"
	"github.com/reactorweb/server/internal/timer"
)

// Reactor is the server's main loop. Construct with New, then call Run.
type Reactor struct {
	cfg     config.Config
	docRoot string
	log     *logging.Logger

	listenFD  int
	poller    poller.Poller
	timerHeap *timer.Heap
	workers   *pool.Pool
	registry  *registry
	liveCount atomic.Int64

	readMask  poller.Event
	writeMask poller.Event

	dbPool   *dbpool.Pool
	auditPub *audit.Publisher
	limiter  *ratelimit.Limiter
	verifier httpproto.Verifier
}

// New wires every Domain Stack collaborator (DB pool, audit publisher,
// accept-rate limiter, request verifier) and opens the listen socket, per
// spec.md §4.6's construction order: resolve document root, init DB pool,
// set event masks, then open/bind/listen.
func New(cfg config.Config, log *logging.Logger) (*Reactor, error) {
	docRoot, err := resolveDocRoot(cfg.DocRootName)
	if err != nil {
		return nil, fmt.Errorf("reactor: resolve doc root: %w", err)
	}

	p, err := poller.New(1024)
	if err != nil {
		return nil, fmt.Errorf("reactor: new poller: %w", err)
	}

	dbPool, err := dbpool.Open(context.Background(), dbpool.Config{
		Host:     cfg.DBHost,
		Port:     cfg.DBPort,
		User:     cfg.DBUser,
		Password: cfg.DBPassword,
		DBName:   cfg.DBName,
		PoolSize: cfg.DBPoolSize,
	})
	if err != nil {
		_ = p.Close()
		return nil, fmt.Errorf("reactor: open db pool: %w", err)
	}

	var auditPub *audit.Publisher
	if cfg.NATSURL != "" {
		auditPub, err = audit.Connect(audit.Config{
			URL:           cfg.NATSURL,
			Name:          "reactorweb",
			ReconnectWait: 2 * time.Second,
			MaxReconnects: -1,
		}, log)
		if err != nil {
			log.Warnf("reactor: audit publisher unavailable: %v", err)
			auditPub = nil
		}
	}

	var redisClient *redis.Client
	if cfg.RedisAddr != "" {
		redisClient = redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	}

	r := &Reactor{
		cfg:       cfg,
		docRoot:   docRoot,
		log:       log,
		poller:    p,
		timerHeap: timer.New(),
		workers:   pool.New(cfg.ThreadPoolSize, 0),
		registry:  newRegistry(),
		dbPool:    dbPool,
		auditPub:  auditPub,
		limiter:   ratelimit.New(redisClient, log),
		readMask:  connBaseMask(cfg) | poller.Read,
		writeMask: connBaseMask(cfg) | poller.Write,
	}
	r.verifier = httpproto.NewDBVerifier(dbPool, log, auditPub)

	if err := r.setupListener(); err != nil {
		_ = r.Close()
		return nil, err
	}
	return r, nil
}

func resolveDocRoot(name string) (string, error) {
	cwd, err := os.Getwd()
	if err != nil {
		return "", err
	}
	return filepath.Join(cwd, name), nil
}

func connBaseMask(cfg config.Config) poller.Event {
	mask := poller.OneShot | poller.ReadHup
	if cfg.ConnTrigEdge() {
		mask |= poller.Edge
	}
	return mask
}

// setupListener opens, binds, and listens on cfg.Port, per InitSocket_.
func (r *Reactor) setupListener() error {
	if r.cfg.Port < 1024 || r.cfg.Port > 65535 {
		return fmt.Errorf("reactor: port %d out of range 1024-65535", r.cfg.Port)
	}

	fd, err := unix.Socket(unix.AF_INET, unix.SOCK_STREAM, 0)
	if err != nil {
		return fmt.Errorf("reactor: socket: %w", err)
	}

	var linger unix.Linger
	if r.cfg.OpenLinger {
		linger.Onoff = 1
		linger.Linger = 1
	}
	if err := unix.SetsockoptLinger(fd, unix.SOL_SOCKET, unix.SO_LINGER, &linger); err != nil {
		unix.Close(fd)
		return fmt.Errorf("reactor: setsockopt SO_LINGER: %w", err)
	}
	if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); err != nil {
		unix.Close(fd)
		return fmt.Errorf("reactor: setsockopt SO_REUSEADDR: %w", err)
	}

	sa := &unix.SockaddrInet4{Port: r.cfg.Port}
	if err := unix.Bind(fd, sa); err != nil {
		unix.Close(fd)
		return fmt.Errorf("reactor: bind port %d: %w", r.cfg.Port, err)
	}
	if err := unix.Listen(fd, 6); err != nil {
		unix.Close(fd)
		return fmt.Errorf("reactor: listen: %w", err)
	}
	if err := unix.SetNonblock(fd, true); err != nil {
		unix.Close(fd)
		return fmt.Errorf("reactor: set listen fd nonblocking: %w", err)
	}

	listenMask := poller.Read | poller.ReadHup
	if r.cfg.ListenTrigEdge() {
		listenMask |= poller.Edge
	}
	if err := r.poller.Add(fd, listenMask); err != nil {
		unix.Close(fd)
		return fmt.Errorf("reactor: poller add listen fd: %w", err)
	}

	r.listenFD = fd
	r.log.Infof("reactor: listening on port %d (listen-ET=%v conn-ET=%v)",
		r.cfg.Port, r.cfg.ListenTrigEdge(), r.cfg.ConnTrigEdge())
	return nil
}

// Run executes the main loop described in spec.md §4.6 until ctx is
// canceled or the poller returns a fatal error.
func (r *Reactor) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		timeoutMS := r.timerHeap.NextTickMS()
		n, err := r.poller.Wait(timeoutMS)
		if err != nil {
			if errors.Is(err, unix.EINTR) {
				continue
			}
			return fmt.Errorf("reactor: poller wait: %w", err)
		}

		for i := 0; i < n; i++ {
			fd := r.poller.EventFD(i)
			mask := r.poller.EventMask(i)

			if fd == r.listenFD {
				r.handleAccept()
				continue
			}

			c, ok := r.registry.get(fd)
			if !ok {
				continue
			}

			switch {
			case mask.Has(poller.Hup) || mask.Has(poller.ReadHup) || mask.Has(poller.Err):
				r.closeConnection(c)
			case mask.Has(poller.Read):
				r.timerHeap.Adjust(fd, r.cfg.TimeoutMS)
				r.workers.Submit(func() { r.handleRead(c) })
			case mask.Has(poller.Write):
				r.timerHeap.Adjust(fd, r.cfg.TimeoutMS)
				r.workers.Submit(func() { r.handleWrite(c) })
			default:
				r.log.Warnf("reactor: unexpected event mask %d for fd %d", mask, fd)
			}
		}
	}
}

// handleAccept drains the listen backlog, per DealListen_: looping is
// mandatory under edge-triggering and a single pass otherwise.
func (r *Reactor) handleAccept() {
	for {
		nfd, sa, err := unix.Accept(r.listenFD)
		if err != nil {
			if !errors.Is(err, unix.EAGAIN) && !errors.Is(err, unix.EWOULDBLOCK) {
				r.log.Warnf("reactor: accept: %v", err)
			}
			return
		}
		r.acceptOne(nfd, sa)
		if !r.cfg.ListenTrigEdge() {
			return
		}
	}
}

func (r *Reactor) acceptOne(fd int, sa unix.Sockaddr) {
	if int(r.liveCount.Load()) >= r.cfg.MaxConnections {
		sendBusy(fd)
		metrics.BusyRejectedTotal.Inc()
		r.log.Warnf("reactor: live-connection cap reached, rejected fd %d", fd)
		return
	}

	ip := sockaddrIP(sa)
	throttleKey := ip
	if v4, ok := sa.(*unix.SockaddrInet4); ok {
		throttleKey = fmt.Sprintf("%d.%d.%d.%d", v4.Addr[0], v4.Addr[1], v4.Addr[2], v4.Addr[3])
	}
	if !r.limiter.AllowAccept(context.Background(), throttleKey) {
		unix.Close(fd)
		metrics.ThrottledTotal.Inc()
		return
	}

	if err := unix.SetNonblock(fd, true); err != nil {
		r.log.Warnf("reactor: set nonblocking fd %d: %v", fd, err)
		unix.Close(fd)
		return
	}

	c := conn.New(fd, ip, r.docRoot, r.cfg.ConnTrigEdge(), r.verifier, &r.liveCount)
	r.registry.add(c)
	r.liveCount.Add(1)
	metrics.AcceptedTotal.Inc()
	metrics.LiveConnections.Set(float64(r.liveCount.Load()))
	r.log.Debugf("reactor: accepted fd %d from %s (id=%s)", fd, ip, c.ID())

	if r.cfg.TimeoutMS > 0 {
		r.timerHeap.Add(fd, r.cfg.TimeoutMS, r.idleCloseCallback(fd))
	}
	if err := r.poller.Add(fd, r.readMask); err != nil {
		r.log.Warnf("reactor: poller add fd %d: %v", fd, err)
		r.closeConnection(c)
	}
}

func (r *Reactor) idleCloseCallback(fd int) timer.Callback {
	return func() {
		c, ok := r.registry.get(fd)
		if !ok {
			return
		}
		r.registry.remove(fd)
		_ = r.poller.Remove(fd)
		_ = c.Close()
		metrics.TimeoutsTotal.Inc()
		metrics.LiveConnections.Set(float64(r.liveCount.Load()))
	}
}

// closeConnection tears down a live connection from a non-timer path
// (hang-up, permanent I/O error, or a full non-keep-alive write). It runs
// on both the Reactor goroutine (the Hup/ReadHup/Err case in Run) and
// worker-pool goroutines (handleRead, handleWrite, onProcess), so
// registry.remove is mutex-guarded rather than relying on single-thread
// ownership. It removes the registry entry before calling DoWork, so the
// idle-timeout callback that DoWork fires finds no entry and does nothing.
func (r *Reactor) closeConnection(c *conn.Connection) {
	fd := c.Fd()
	r.registry.remove(fd)
	_ = r.poller.Remove(fd)
	r.timerHeap.DoWork(fd)
	_ = c.Close()
	metrics.LiveConnections.Set(float64(r.liveCount.Load()))
}

// handleRead runs on a worker goroutine, per OnRead_.
func (r *Reactor) handleRead(c *conn.Connection) {
	n, err := c.Read()
	if err != nil && !isAgain(err) {
		r.closeConnection(c)
		return
	}
	if n == 0 && err == nil {
		r.closeConnection(c)
		return
	}
	r.onProcess(c)
}

// onProcess runs the request parser/response builder and re-arms for
// read or write depending on the result, per OnProcess.
func (r *Reactor) onProcess(c *conn.Connection) {
	var mask poller.Event
	if c.Process(context.Background()) {
		mask = r.writeMask
	} else {
		mask = r.readMask
	}
	if err := r.poller.Modify(c.Fd(), mask); err != nil {
		r.closeConnection(c)
	}
}

// handleWrite runs on a worker goroutine, per OnWrite_.
func (r *Reactor) handleWrite(c *conn.Connection) {
	_, headerDone, fileDone, err := c.Write()

	if headerDone && fileDone {
		metrics.RequestDuration.WithLabelValues(statusClass(c.StatusCode())).Observe(time.Since(c.RequestStarted()).Seconds())
		if c.IsKeepAlive() {
			_ = c.ResetForNextRequest()
			r.onProcess(c)
			return
		}
		r.closeConnection(c)
		return
	}

	if err != nil && isAgain(err) {
		if modErr := r.poller.Modify(c.Fd(), r.writeMask); modErr != nil {
			r.closeConnection(c)
		}
		return
	}

	r.closeConnection(c)
}

func statusClass(code int) string {
	switch {
	case code >= 500:
		return "5xx"
	case code >= 400:
		return "4xx"
	case code >= 200:
		return "2xx"
	default:
		return "unknown"
	}
}

func isAgain(err error) bool {
	return errors.Is(err, unix.EAGAIN) || errors.Is(err, unix.EWOULDBLOCK)
}

func sendBusy(fd int) {
	_, _ = unix.Write(fd, []byte("Server busy!"))
	unix.Close(fd)
}

func sockaddrIP(sa unix.Sockaddr) string {
	if v4, ok := sa.(*unix.SockaddrInet4); ok {
		return fmt.Sprintf("%d.%d.%d.%d:%d", v4.Addr[0], v4.Addr[1], v4.Addr[2], v4.Addr[3], v4.Port)
	}
	return "unknown"
}

// Close shuts down the worker pool, closes every live connection, the
// poller, the listen fd, the audit publisher and the DB pool. The Redis
// client behind the accept limiter is not closed. Safe to call after a
// failed New.
func (r *Reactor) Close() error {
	if r.workers != nil {
		r.workers.Close()
	}
	if r.registry != nil {
		for _, c := range r.registry.all() {
			_ = c.Close()
		}
	}
	if r.poller != nil {
		_ = r.poller.Close()
	}
	if r.listenFD != 0 {
		unix.Close(r.listenFD)
	}
	if r.timerHeap != nil {
		r.timerHeap.Clear()
	}
	if r.auditPub != nil {
		r.auditPub.Close()
	}
	if r.dbPool != nil {
		_ = r.dbPool.Close()
	}
	return nil
}
