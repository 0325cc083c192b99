package sshd

import (
	"context"
	"errors"
	"net"
	"os"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/log"
	"github.com/charmbracelet/ssh"
	"github.com/charmbracelet/wish"
	"github.com/charmbracelet/wish/activeterm"
	bm "github.com/charmbracelet/wish/bubbletea"
	"github.com/charmbracelet/wish/logging"

	"go-sitewatch/internal/monitor"
	"go-sitewatch/internal/tui"
)

type Config struct {
	Addr               string
	HostKeyPath        string
	AuthorizedKeysPath string
}

// Server hands every authenticated SSH session its own read-only dashboard.
type Server struct {
	cfg    Config
	srv    *ssh.Server
	logger *log.Logger
}

func New(cfg Config, board *monitor.Board, logger *log.Logger) (*Server, error) {
	if logger == nil {
		logger = log.Default()
	}

	srv, err := wish.NewServer(
		wish.WithAddress(cfg.Addr),
		wish.WithHostKeyPath(cfg.HostKeyPath),

		// the file is re-read on every attempt so keys can be rotated live
		wish.WithPublicKeyAuth(func(ctx ssh.Context, key ssh.PublicKey) bool {
			data, err := os.ReadFile(cfg.AuthorizedKeysPath)
			if err != nil {
				logger.Warn("cannot read authorized keys", "path", cfg.AuthorizedKeysPath, "error", err)
				return false
			}
			return isKeyAllowed(data, key)
		}),

		wish.WithMiddleware(
			bm.Middleware(func(s ssh.Session) (tea.Model, []tea.ProgramOption) {
				return tui.New(board), []tea.ProgramOption{tea.WithAltScreen()}
			}),
			activeterm.Middleware(),
			logging.MiddlewareWithLogger(logger),
		),
	)
	if err != nil {
		return nil, err
	}

	return &Server{cfg: cfg, srv: srv, logger: logger}, nil
}

func (s *Server) ListenAndServe() error {
	s.logger.Info("SSH server listening", "addr", s.cfg.Addr)
	return ignoreClosed(s.srv.ListenAndServe())
}

// Serve accepts sessions on l until Shutdown.
func (s *Server) Serve(l net.Listener) error {
	return ignoreClosed(s.srv.Serve(l))
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}

func ignoreClosed(err error) error {
	if errors.Is(err, ssh.ErrServerClosed) {
		return nil
	}
	return err
}

func isKeyAllowed(authFileData []byte, incomingKey ssh.PublicKey) bool {
	for len(authFileData) > 0 {
		allowedKey, _, _, rest, err := ssh.ParseAuthorizedKey(authFileData)
		if err != nil {
			return false
		}
		if ssh.KeysEqual(allowedKey, incomingKey) {
			return true
		}
		authFileData = rest
	}
	return false
}
