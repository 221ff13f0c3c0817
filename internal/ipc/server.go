package ipc

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/rpc"
	"net/rpc/jsonrpc"
	"os"
	"strings"
	"sync"
	"time"

	"log/slog"

	"roadie/internal/daemon"
	"roadie/internal/history"
	"roadie/internal/logging"
	"roadie/internal/logs"
)

// defaultHistoryLimit bounds History responses when the request leaves the
// limit unset.
const defaultHistoryLimit = 20

// shutdownDelay gives the codec time to flush the Shutdown response before
// the host process starts tearing the server down.
const shutdownDelay = 100 * time.Millisecond

// Server exposes daemon control via JSON-RPC over a Unix domain socket.
type Server struct {
	path      string
	daemon    *daemon.Daemon
	logger    *slog.Logger
	listener  net.Listener
	rpcServer *rpc.Server

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	connMu sync.Mutex
	conns  map[net.Conn]struct{}
}

// ServerOption adjusts server construction.
type ServerOption func(*service)

// WithShutdownFunc installs the callback invoked by the Shutdown RPC. The
// daemon entrypoint passes its signal-context stop so a client can terminate
// the whole process.
func WithShutdownFunc(fn func()) ServerOption {
	return func(s *service) {
		s.shutdown = fn
	}
}

// NewServer configures the IPC server at the given socket path.
func NewServer(ctx context.Context, path string, d *daemon.Daemon, logger *slog.Logger, opts ...ServerOption) (*Server, error) {
	if d == nil {
		return nil, errors.New("ipc server requires daemon")
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	logger = logging.NewComponentLogger(logger, "ipc")

	if err := os.RemoveAll(path); err != nil {
		return nil, fmt.Errorf("remove existing socket: %w", err)
	}

	listener, err := net.Listen("unix", path)
	if err != nil {
		return nil, fmt.Errorf("listen on socket: %w", err)
	}

	rpcServer := rpc.NewServer()
	srv := &service{daemon: d, logger: logger, ctx: ctx}
	for _, opt := range opts {
		opt(srv)
	}
	if err := rpcServer.RegisterName("Roadie", srv); err != nil {
		listener.Close()
		return nil, fmt.Errorf("register rpc service: %w", err)
	}

	serverCtx, cancel := context.WithCancel(ctx)
	return &Server{
		path:      path,
		daemon:    d,
		logger:    logger,
		listener:  listener,
		rpcServer: rpcServer,
		ctx:       serverCtx,
		cancel:    cancel,
		conns:     make(map[net.Conn]struct{}),
	}, nil
}

// Serve starts accepting RPC connections until the context is canceled.
func (s *Server) Serve() {
	s.logger.Debug("ipc server listening", logging.String("socket", s.path))
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		for {
			conn, err := s.listener.Accept()
			if err != nil {
				select {
				case <-s.ctx.Done():
					return
				default:
				}
				s.logger.Warn("accept failed", logging.Error(err))
				continue
			}
			s.track(conn)
			s.wg.Add(1)
			go func(c net.Conn) {
				defer s.wg.Done()
				defer s.untrack(c)
				s.rpcServer.ServeCodec(jsonrpc.NewServerCodec(c))
			}(conn)
		}
	}()
}

// Close stops the server, disconnects live clients, and removes the socket
// file.
func (s *Server) Close() {
	s.cancel()
	if s.listener != nil {
		_ = s.listener.Close()
	}
	s.connMu.Lock()
	for c := range s.conns {
		_ = c.Close()
	}
	s.connMu.Unlock()
	s.wg.Wait()
	if err := os.RemoveAll(s.path); err != nil {
		s.logger.Warn("failed to remove socket",
			logging.String("socket", s.path),
			logging.Error(err))
	}
}

func (s *Server) track(c net.Conn) {
	s.connMu.Lock()
	s.conns[c] = struct{}{}
	s.connMu.Unlock()
}

func (s *Server) untrack(c net.Conn) {
	s.connMu.Lock()
	delete(s.conns, c)
	s.connMu.Unlock()
}

type service struct {
	daemon   *daemon.Daemon
	logger   *slog.Logger
	ctx      context.Context
	shutdown func()
}

func (s *service) log() *slog.Logger {
	if s.logger == nil {
		return logging.NewNop()
	}
	return s.logger
}

func historyRecord(rec *history.Record) HistoryRecord {
	return HistoryRecord{
		InstanceID:      rec.InstanceID,
		Unit:            rec.Unit,
		Attempt:         rec.Attempt,
		PID:             rec.PID,
		State:           rec.State,
		Outcome:         rec.Outcome,
		ExitDescription: rec.ExitDescription,
		StartedAt:       rec.StartedAt,
		ReadyAt:         rec.ReadyAt,
		ExitedAt:        rec.ExitedAt,
	}
}

func (s *service) Ping(_ PingRequest, resp *PingResponse) error {
	resp.PID = os.Getpid()
	return nil
}

func (s *service) Status(_ StatusRequest, resp *Status) error {
	*resp = s.daemon.Status()
	return nil
}

func (s *service) StartUnit(req StartUnitRequest, resp *StartUnitResponse) error {
	name := strings.TrimSpace(req.Unit)
	if name == "" {
		return errors.New("unit name is required")
	}
	s.log().Debug("unit start requested", logging.String(logging.FieldUnit, name))
	if err := s.daemon.StartUnit(s.ctx, name); err != nil {
		return err
	}
	resp.Unit = name
	return nil
}

func (s *service) StopUnit(req StopUnitRequest, resp *StopUnitResponse) error {
	name := strings.TrimSpace(req.Unit)
	if name == "" {
		return errors.New("unit name is required")
	}
	s.log().Debug("unit stop requested", logging.String(logging.FieldUnit, name))
	if err := s.daemon.StopUnit(s.ctx, name); err != nil {
		return err
	}
	resp.Unit = name
	return nil
}

func (s *service) RestartUnit(req RestartUnitRequest, resp *RestartUnitResponse) error {
	name := strings.TrimSpace(req.Unit)
	if name == "" {
		return errors.New("unit name is required")
	}
	s.log().Debug("unit restart requested", logging.String(logging.FieldUnit, name))
	if err := s.daemon.RestartUnit(s.ctx, name); err != nil {
		return err
	}
	resp.Unit = name
	return nil
}

func (s *service) ReloadUnits(_ ReloadUnitsRequest, resp *ReloadResult) error {
	s.log().Debug("unit reload requested")
	result, err := s.daemon.ReloadUnits(s.ctx)
	if err != nil {
		return err
	}
	*resp = result
	return nil
}

func (s *service) History(req HistoryRequest, resp *HistoryResponse) error {
	limit := req.Limit
	if limit <= 0 {
		limit = defaultHistoryLimit
	}
	records, err := s.daemon.UnitHistory(s.ctx, strings.TrimSpace(req.Unit), limit)
	if err != nil {
		return err
	}
	resp.Records = make([]HistoryRecord, 0, len(records))
	for _, rec := range records {
		if rec == nil {
			continue
		}
		resp.Records = append(resp.Records, historyRecord(rec))
	}
	return nil
}

func (s *service) HistoryStats(_ HistoryStatsRequest, resp *HistoryStatsResponse) error {
	stats, err := s.daemon.HistoryStats(s.ctx)
	if err != nil {
		return err
	}
	resp.Stats = make([]UnitHistoryStats, 0, len(stats))
	for _, st := range stats {
		resp.Stats = append(resp.Stats, UnitHistoryStats{
			Unit:        st.Unit,
			Attempts:    st.Attempts,
			Failures:    st.Failures,
			LastOutcome: st.LastOutcome,
		})
	}
	return nil
}

func (s *service) LogTail(req LogTailRequest, resp *LogTailResponse) error {
	wait := time.Duration(req.WaitMillis) * time.Millisecond
	if wait <= 0 && req.Follow {
		wait = time.Second
	}
	options := logs.TailOptions{
		Offset: req.Offset,
		Limit:  req.Limit,
		Follow: req.Follow,
		Wait:   wait,
	}
	ctx := s.ctx
	if req.Follow && wait > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(s.ctx, wait+500*time.Millisecond)
		defer cancel()
	}
	var (
		result logs.TailResult
		err    error
	)
	if name := strings.TrimSpace(req.Unit); name != "" {
		result, err = s.daemon.TailUnitLog(ctx, name, options)
	} else {
		result, err = s.daemon.TailDaemonLog(ctx, options)
	}
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			resp.Offset = result.Offset
			return nil
		}
		return err
	}
	resp.Lines = result.Lines
	resp.Offset = result.Offset
	return nil
}

func (s *service) TestNotification(_ TestNotificationRequest, resp *TestNotificationResponse) error {
	sent, message, err := s.daemon.TestNotification(s.ctx)
	resp.Sent = sent
	resp.Message = message
	return err
}

func (s *service) Shutdown(_ ShutdownRequest, resp *ShutdownResponse) error {
	if s.shutdown == nil {
		return errors.New("shutdown is not supported by this server")
	}
	s.log().Info("shutdown requested")
	resp.Stopping = true
	time.AfterFunc(shutdownDelay, s.shutdown)
	return nil
}
