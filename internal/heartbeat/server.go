package heartbeat

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	cmap "github.com/orcaman/concurrent-map/v2"

	"keepalive/internal/unixsock"
)

// Session is the per-connection state the server keeps while a peer is
// connected.
type Session struct {
	ID       string
	PeerID   uint32
	OpenedAt time.Time

	link *link
}

// LastSeq returns the highest sequence number received on the session.
func (s *Session) LastSeq() uint64 { return s.link.lastSeq.Load() }

// SessionInfo is a read-only view of a session.
type SessionInfo struct {
	ID       string
	PeerID   uint32
	OpenedAt time.Time
	LastSeq  uint64
}

// ServerConfig configures the runtime side of the heartbeat link.
type ServerConfig struct {
	Path     string
	SenderID uint32
	Interval time.Duration
	Monitor  *Monitor
}

// Server accepts heartbeat connections from the watcher on a unix socket.
type Server struct {
	cfg      ServerConfig
	ln       net.Listener
	sessions cmap.ConcurrentMap[string, *Session]
	seq      atomic.Uint64
	peer     Cell
	log      *slog.Logger

	wg       sync.WaitGroup
	closeMu  sync.Mutex
	cancel   context.CancelFunc
	done     chan struct{}
	closed   bool
	sayBye   atomic.Bool
	shutdown chan struct{}
}

// Listen binds the heartbeat socket. Failure is returned as *BindError.
func Listen(cfg ServerConfig) (*Server, error) {
	ln, err := unixsock.Listen(cfg.Path)
	if err != nil {
		return nil, &BindError{Path: cfg.Path, Err: err}
	}
	return &Server{
		cfg:      cfg,
		ln:       ln,
		sessions: cmap.New[*Session](),
		log:      slog.With("component", "heartbeat-server", "path", cfg.Path),
		shutdown: make(chan struct{}),
	}, nil
}

// Serve accepts connections until ctx ends or the server is closed.
func (s *Server) Serve(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	s.closeMu.Lock()
	if s.closed {
		s.closeMu.Unlock()
		return nil
	}
	s.cancel = cancel
	s.done = make(chan struct{})
	done := s.done
	s.closeMu.Unlock()
	defer close(done)

	go func() {
		select {
		case <-ctx.Done():
			_ = s.ln.Close()
		case <-s.shutdown:
		}
	}()

	for {
		conn, err := s.ln.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				s.wg.Wait()
				return nil
			}
			s.log.Warn("accept failed", "err", err)
			continue
		}
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.serveConn(ctx, conn)
		}()
	}
}

func (s *Server) serveConn(ctx context.Context, conn net.Conn) {
	defer conn.Close()

	id := uuid.NewString()
	log := s.log.With("session", id)
	l := &link{
		conn:     conn,
		senderID: s.cfg.SenderID,
		interval: s.cfg.Interval,
		seq:      &s.seq,
		monitor:  s.cfg.Monitor,
		peer:     &s.peer,
		log:      log,
	}

	hello, err := l.handshake(false)
	if err != nil {
		log.Debug("handshake failed", "err", err)
		return
	}
	sess := &Session{ID: id, PeerID: hello.SenderID, OpenedAt: time.Now(), link: l}
	s.sessions.Set(id, sess)
	defer s.sessions.Remove(id)
	log.Info("watcher connected", "peer_id", hello.SenderID)

	intentional, err := l.run(ctx)
	if ctx.Err() != nil {
		if s.sayBye.Load() {
			if err := l.send(KindBye); err != nil {
				log.Debug("send bye failed", "err", err)
			}
		}
		return
	}
	if intentional {
		log.Info("watcher said goodbye")
	} else {
		log.Warn("watcher connection lost", "err", err)
	}
	s.cfg.Monitor.Closed(intentional)
}

// Sessions returns a snapshot of the connected peers.
func (s *Server) Sessions() []SessionInfo {
	out := make([]SessionInfo, 0, s.sessions.Count())
	for _, sess := range s.sessions.Items() {
		out = append(out, SessionInfo{
			ID:       sess.ID,
			PeerID:   sess.PeerID,
			OpenedAt: sess.OpenedAt,
			LastSeq:  sess.LastSeq(),
		})
	}
	return out
}

// Peer returns the last record received from any peer.
func (s *Server) Peer() (Record, bool) { return s.peer.Load() }

// Shutdown sends bye on every session and closes the socket. Peers treat it
// as an intentional stop.
func (s *Server) Shutdown() { s.close(true) }

// Abandon closes the socket without bye. Peers treat it as a death.
func (s *Server) Abandon() { s.close(false) }

func (s *Server) close(bye bool) {
	s.closeMu.Lock()
	if s.closed {
		s.closeMu.Unlock()
		return
	}
	s.closed = true
	s.sayBye.Store(bye)
	cancel, done := s.cancel, s.done
	s.closeMu.Unlock()

	close(s.shutdown)
	_ = s.ln.Close()
	if cancel != nil {
		cancel()
	}
	if done != nil {
		<-done
	}
}
