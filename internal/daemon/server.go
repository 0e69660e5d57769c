package daemon

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/gofiber/fiber/v2"
	fiberrecover "github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/rs/zerolog"
)

// Server exposes a Handler over HTTP. The daemon serves it on a unix socket.
type Server struct {
	app            *fiber.App
	handler        *Handler
	log            zerolog.Logger
	requestTimeout time.Duration
}

// NewServer builds the routes for h. Each request gets at most
// requestTimeout to finish its work.
func NewServer(h *Handler, log zerolog.Logger, requestTimeout time.Duration) *Server {
	s := &Server{handler: h, log: log, requestTimeout: requestTimeout}

	s.app = fiber.New(fiber.Config{
		AppName:               "gitclock",
		DisableStartupMessage: true,
		ErrorHandler:          s.handleError,
	})
	s.app.Use(fiberrecover.New(fiberrecover.Config{
		EnableStackTrace: true,
		StackTraceHandler: func(c *fiber.Ctx, e interface{}) {
			s.log.Error().Str("path", c.Path()).Str("panic", fmt.Sprint(e)).Msg("panic in request handler")
		},
	}))

	s.app.Post(PathStart, s.start)
	s.app.Post(PathStop, s.stop)
	s.app.Get(PathStatus, s.status)
	s.app.Post(PathSync, s.sync)
	s.app.Get(PathLogs, s.logs)
	s.app.Post(PathClearLogs, s.clearLogs)
	return s
}

// App returns the underlying fiber app.
func (s *Server) App() *fiber.App {
	return s.app
}

// Serve accepts connections on ln until Shutdown.
func (s *Server) Serve(ln net.Listener) error {
	return s.app.Listener(ln)
}

// Shutdown stops accepting connections and waits for in-flight requests
// until ctx expires.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.app.ShutdownWithContext(ctx)
}

func (s *Server) start(c *fiber.Ctx) error {
	var req StartRequest
	if err := decode(c, &req); err != nil {
		return err
	}
	ctx, cancel := s.requestContext(c)
	defer cancel()
	sess, err := s.handler.Start(ctx, req)
	if err != nil {
		return err
	}
	return respond(c, sess)
}

func (s *Server) stop(c *fiber.Ctx) error {
	var req StopRequest
	if err := decode(c, &req); err != nil {
		return err
	}
	ctx, cancel := s.requestContext(c)
	defer cancel()
	entry, err := s.handler.Stop(ctx, req)
	if err != nil {
		return err
	}
	if entry == nil {
		return respond(c, nil)
	}
	return respond(c, entry)
}

func (s *Server) status(c *fiber.Ctx) error {
	return respond(c, s.handler.Status())
}

func (s *Server) sync(c *fiber.Ctx) error {
	var req SyncRequest
	if err := decode(c, &req); err != nil {
		return err
	}
	ctx, cancel := s.requestContext(c)
	defer cancel()
	res, err := s.handler.Sync(ctx, req)
	if err != nil {
		return err
	}
	return respond(c, res)
}

func (s *Server) logs(c *fiber.Ctx) error {
	entries, err := s.handler.Logs(LogsRequest{
		Date:         c.Query("date"),
		UnsyncedOnly: c.QueryBool("unsynced", false),
	})
	if err != nil {
		return err
	}
	return respond(c, entries)
}

func (s *Server) clearLogs(c *fiber.Ctx) error {
	return respond(c, s.handler.ClearLogs())
}

func (s *Server) requestContext(c *fiber.Ctx) (context.Context, context.CancelFunc) {
	if s.requestTimeout <= 0 {
		return context.WithCancel(c.UserContext())
	}
	return context.WithTimeout(c.UserContext(), s.requestTimeout)
}

// handleError turns any handler error into a failure envelope.
func (s *Server) handleError(c *fiber.Ctx, err error) error {
	var (
		valErr   *ValidationError
		fiberErr *fiber.Error
	)
	status, code := fiber.StatusUnprocessableEntity, CodeOperationFailed
	switch {
	case errors.As(err, &valErr):
		status, code = fiber.StatusBadRequest, CodeBadRequest
	case errors.As(err, &fiberErr):
		status, code = fiberErr.Code, CodeBadRequest
	default:
		s.log.Error().Err(err).Str("path", c.Path()).Msg("request failed")
	}
	return c.Status(status).JSON(Envelope{Success: false, Error: err.Error(), Code: code})
}

// decode parses a JSON body into v. An empty body leaves v zero.
func decode(c *fiber.Ctx, v any) error {
	body := c.Body()
	if len(body) == 0 {
		return nil
	}
	if err := json.Unmarshal(body, v); err != nil {
		return &ValidationError{Msg: "malformed JSON: " + err.Error()}
	}
	return nil
}

func respond(c *fiber.Ctx, data any) error {
	raw, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("encode response: %w", err)
	}
	return c.JSON(Envelope{Success: true, Data: raw})
}
