// Package wsserver serves the chess protocol over websockets.
package wsserver

import (
	"context"
	"errors"
	"net"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"
	"nhooyr.io/websocket"

	"github.com/park285/Cheese-arena/internal/dispatch"
	"github.com/park285/Cheese-arena/internal/obslog"
)

type Options struct {
	Addr            string
	Path            string
	MaxMessageBytes int64
	// AllowedOrigins are host patterns accepted besides same-origin requests.
	AllowedOrigins []string
	Logger         *zap.Logger
}

type Server struct {
	opts       Options
	dispatcher *dispatch.Dispatcher
	log        *zap.Logger
	http       *http.Server

	// connections in flight; Shutdown waits for their read loops
	wg     sync.WaitGroup
	ctx    context.Context
	cancel context.CancelFunc
}

func New(d *dispatch.Dispatcher, opts Options) *Server {
	if opts.Path == "" {
		opts.Path = "/ws"
	}
	if opts.MaxMessageBytes <= 0 {
		opts.MaxMessageBytes = 4096
	}
	if opts.Logger == nil {
		opts.Logger = obslog.L()
	}
	ctx, cancel := context.WithCancel(context.Background())
	s := &Server{opts: opts, dispatcher: d, log: opts.Logger, ctx: ctx, cancel: cancel}
	s.http = &http.Server{
		Addr:              opts.Addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Handler exposes the routes so tests can mount them on httptest.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	mux.HandleFunc(s.opts.Path, s.serveWS)
	return mux
}

// ListenAndServe blocks until the server stops. It returns nil after Shutdown.
func (s *Server) ListenAndServe() error {
	ln, err := net.Listen("tcp", s.opts.Addr)
	if err != nil {
		return err
	}
	return s.Serve(ln)
}

func (s *Server) Serve(ln net.Listener) error {
	s.log.Info("ws_listen", zap.String("addr", ln.Addr().String()), zap.String("path", s.opts.Path))
	if err := s.http.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops accepting, cancels every read loop and waits for them.
func (s *Server) Shutdown(ctx context.Context) error {
	err := s.http.Shutdown(ctx)
	s.cancel()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-done:
		return err
	}
}

func (s *Server) serveWS(w http.ResponseWriter, r *http.Request) {
	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns:  s.opts.AllowedOrigins,
		CompressionMode: websocket.CompressionNoContextTakeover,
	})
	if err != nil {
		s.log.Debug("ws_accept_error", zap.String("remote", r.RemoteAddr), zap.Error(err))
		return
	}
	ws.SetReadLimit(s.opts.MaxMessageBytes)

	s.wg.Add(1)
	defer s.wg.Done()

	conn := newConn(ws, r.RemoteAddr)
	client := s.dispatcher.NewClient(conn)
	s.log.Debug("ws_open", zap.String("remote", conn.remote))
	defer func() {
		conn.markClosed()
		client.Disconnect()
		_ = ws.Close(websocket.StatusNormalClosure, "bye")
		s.log.Debug("ws_close", zap.String("remote", conn.remote))
	}()

	for {
		typ, frame, err := ws.Read(s.ctx)
		if err != nil {
			if status := websocket.CloseStatus(err); status == -1 && s.ctx.Err() == nil {
				s.log.Debug("ws_read_error", zap.String("remote", conn.remote), zap.Error(err))
			}
			return
		}
		if typ != websocket.MessageText {
			s.log.Debug("ws_non_text_frame", zap.String("remote", conn.remote))
			continue
		}
		if err := client.Handle(s.ctx, frame); err != nil {
			if errors.Is(err, dispatch.ErrProtocol) {
				s.log.Info("ws_protocol_error", zap.String("remote", conn.remote), zap.Error(err))
				continue
			}
			s.log.Warn("ws_request_error", zap.String("remote", conn.remote), zap.Error(err))
		}
	}
}
