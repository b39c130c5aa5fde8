package feed

import (
	"bufio"
	"context"
	"errors"
	"net"

	"github.com/rs/zerolog"
)

// Server accepts raw TCP subscribers.
type Server struct {
	Addr string
	Hub  *Hub

	log zerolog.Logger
}

func NewServer(addr string, hub *Hub, log zerolog.Logger) *Server {
	return &Server{Addr: addr, Hub: hub, log: log}
}

// Run listens until ctx is cancelled.
func (s *Server) Run(ctx context.Context) error {
	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", s.Addr)
	if err != nil {
		return err
	}
	return s.Serve(ctx, ln)
}

func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	s.log.Info().Str("addr", ln.Addr().String()).Msg("tcp feed listening")
	go func() {
		<-ctx.Done()
		_ = ln.Close()
	}()

	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return nil
			}
			s.log.Warn().Err(err).Msg("accept failed")
			continue
		}

		_, _ = conn.Write(s.Hub.welcome())
		s.Hub.Add(conn)
		s.log.Debug().Str("remote", conn.RemoteAddr().String()).Msg("client connected")

		go func(c net.Conn) {
			defer func() {
				s.Hub.Remove(c)
				s.log.Debug().Str("remote", c.RemoteAddr().String()).Msg("client disconnected")
			}()
			// subscribers never send anything useful; drain until they hang up
			sc := bufio.NewScanner(c)
			for sc.Scan() {
			}
		}(conn)
	}
}
