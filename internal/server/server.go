// Package server accepts caption events from capture sources over a
// websocket and forwards them to a workspace sink.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/meetscribe/livenotes/internal/transcript"
)

const (
	readTimeout  = 60 * time.Second
	pingInterval = 30 * time.Second
	writeTimeout = 10 * time.Second
)

// Sink receives the caption feed of one channel. The workspace Channel
// satisfies it.
type Sink interface {
	HandleRaw(raw transcript.RawMessage) error
	HandleStatus(connected bool, message string)
}

// Resolver maps a channel name from the connection URL to its sink.
type Resolver func(channel string) (Sink, error)

// CaptureServer is the websocket ingress for capture sources. One connection
// carries one channel's caption feed.
type CaptureServer struct {
	addr     string
	resolve  Resolver
	upgrader websocket.Upgrader
	logger   *logrus.Entry
	httpSrv  *http.Server
}

// New creates a capture server listening on addr.
func New(addr string, resolve Resolver, logger *logrus.Entry) *CaptureServer {
	if logger == nil {
		logger = logrus.NewEntry(logrus.StandardLogger())
	}
	return &CaptureServer{
		addr:    addr,
		resolve: resolve,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// Capture sources run as browser extensions with arbitrary
			// origins; authentication is out of scope here.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		logger: logger.WithField("component", "capture_server"),
	}
}

// Start begins serving. It blocks until Stop is called or the listener
// fails.
func (s *CaptureServer) Start() error {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws/captions", s.handleCaptions)
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		fmt.Fprintln(w, "ok")
	})

	s.httpSrv = &http.Server{Addr: s.addr, Handler: mux}
	s.logger.WithField("addr", s.addr).Info("Capture server listening")

	err := s.httpSrv.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Stop shuts the server down gracefully.
func (s *CaptureServer) Stop(ctx context.Context) error {
	if s.httpSrv == nil {
		return nil
	}
	return s.httpSrv.Shutdown(ctx)
}

func (s *CaptureServer) handleCaptions(w http.ResponseWriter, r *http.Request) {
	channel := r.URL.Query().Get("channel")
	if channel == "" {
		channel = "default"
	}

	sink, err := s.resolve(channel)
	if err != nil {
		s.logger.WithError(err).WithField("channel", channel).Warn("Rejecting capture connection")
		http.Error(w, "unknown channel", http.StatusNotFound)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.WithError(err).Warn("Websocket upgrade failed")
		return
	}

	log := s.logger.WithFields(logrus.Fields{"channel": channel, "remote": conn.RemoteAddr().String()})
	log.Info("Capture source connected")
	sink.HandleStatus(true, "capture source connected")

	done := make(chan struct{})
	go s.pingLoop(conn, done, log)
	s.readLoop(conn, sink, log)
	close(done)

	sink.HandleStatus(false, "capture source disconnected")
	log.Info("Capture source disconnected")
}

func (s *CaptureServer) readLoop(conn *websocket.Conn, sink Sink, log *logrus.Entry) {
	defer conn.Close()

	conn.SetReadDeadline(time.Now().Add(readTimeout))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(readTimeout))
		return nil
	})

	for {
		var raw transcript.RawMessage
		if err := conn.ReadJSON(&raw); err != nil {
			if websocket.IsUnexpectedCloseError(err,
				websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.WithError(err).Warn("Capture connection error")
			}
			return
		}
		conn.SetReadDeadline(time.Now().Add(readTimeout))

		if err := sink.HandleRaw(raw); err != nil {
			log.WithError(err).Warn("Sink rejected caption event, closing connection")
			return
		}
	}
}

func (s *CaptureServer) pingLoop(conn *websocket.Conn, done chan struct{}, log *logrus.Entry) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			deadline := time.Now().Add(writeTimeout)
			if err := conn.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
				if !errors.Is(err, net.ErrClosed) {
					log.WithError(err).Debug("Ping failed, reader will close the connection")
				}
				return
			}
		case <-done:
			return
		}
	}
}
