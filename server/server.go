// Copyright 2025 Poiesic Systems
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.


// Package server exposes newsrag over HTTP.
//
// Chat turns stream as server-sent events: every session.Event becomes one
// "data: {json}" frame. Closing the connection cancels the turn.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/poiesic/newsrag"
	"github.com/poiesic/newsrag/core"
	"github.com/poiesic/newsrag/ingestion"
	"github.com/poiesic/newsrag/session"
)

// App is the service behind the HTTP API. *newsrag.App implements it.
type App interface {
	CreateSession(ctx context.Context) (*core.Session, error)
	History(ctx context.Context, id string) ([]core.Message, error)
	DeleteSession(ctx context.Context, id string) error
	Turn(ctx context.Context, id, text string, clientTime time.Time) (<-chan session.Event, error)
	Refresh(ctx context.Context) (ingestion.Report, error)
	Status(ctx context.Context) (newsrag.Status, error)
}

var _ App = (*newsrag.App)(nil)

// Server is the echo HTTP server.
type Server struct {
	echo    *echo.Echo
	app     App
	metrics http.Handler
	logger  *slog.Logger
}

// Option configures a Server.
type Option func(*Server) error

// WithMetricsHandler serves h at /metrics.
func WithMetricsHandler(h http.Handler) Option {
	return func(s *Server) error {
		s.metrics = h
		return nil
	}
}

// WithLogger sets a custom logger.
// Default is slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) error {
		if logger == nil {
			logger = slog.Default()
		}
		s.logger = logger.With("component", "http")
		return nil
	}
}

// New creates a server for app.
func New(app App, opts ...Option) (*Server, error) {
	if app == nil {
		return nil, errors.New("app required")
	}
	s := &Server{
		app:    app,
		logger: slog.Default().With("component", "http"),
	}
	for _, opt := range opts {
		if err := opt(s); err != nil {
			return nil, err
		}
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.HTTPErrorHandler = s.handleError
	e.Use(middleware.Recover())
	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogMethod:  true,
		LogURI:     true,
		LogStatus:  true,
		LogLatency: true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			s.logger.Debug("request", "method", v.Method, "uri", v.URI, "status", v.Status, "latency", v.Latency)
			return nil
		},
	}))
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: []string{"*"},
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions},
		AllowHeaders: []string{echo.HeaderContentType},
	}))

	e.GET("/healthz", func(c echo.Context) error { return c.String(http.StatusOK, "ok") })
	if s.metrics != nil {
		e.GET("/metrics", echo.WrapHandler(s.metrics))
	}

	api := e.Group("/api")
	api.POST("/sessions", s.createSession)
	api.GET("/sessions/:id/history", s.history)
	api.DELETE("/sessions/:id", s.deleteSession)
	api.POST("/sessions/:id/messages", s.sendMessage)
	api.POST("/refresh", s.refresh)
	api.GET("/status", s.status)

	s.echo = e
	return s, nil
}

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.echo
}

// Start listens on addr until Shutdown is called.
func (s *Server) Start(addr string) error {
	s.logger.Info("listening", "addr", addr)
	if err := s.echo.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops accepting connections and waits for handlers to return.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.echo.Shutdown(ctx)
}

// statusCode maps domain errors onto HTTP status codes.
func statusCode(err error) int {
	var he *echo.HTTPError
	switch {
	case errors.As(err, &he):
		return he.Code
	case errors.Is(err, session.ErrSessionNotFound), errors.Is(err, session.ErrSessionClosed):
		return http.StatusNotFound
	case errors.Is(err, session.ErrTurnInFlight), errors.Is(err, ingestion.ErrRefreshInProgress):
		return http.StatusConflict
	case errors.Is(err, core.ErrEmptyContent), errors.Is(err, core.ErrContentTooLong):
		return http.StatusBadRequest
	case errors.Is(err, context.Canceled):
		return 499
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) handleError(err error, c echo.Context) {
	code := statusCode(err)
	msg := err.Error()
	var he *echo.HTTPError
	if errors.As(err, &he) && he.Message != nil {
		msg = fmt.Sprint(he.Message)
	}
	if code >= http.StatusInternalServerError {
		msg = http.StatusText(code)
	}
	req := c.Request()
	s.logger.Warn("request failed", "status", code, "method", req.Method, "path", req.URL.Path, "err", err)
	if !c.Response().Committed {
		_ = c.JSON(code, map[string]string{"error": msg})
	}
}

type sessionResponse struct {
	SessionID string    `json:"session_id"`
	CreatedAt time.Time `json:"created_at"`
}

func (s *Server) createSession(c echo.Context) error {
	sess, err := s.app.CreateSession(c.Request().Context())
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, sessionResponse{SessionID: sess.ID, CreatedAt: sess.CreatedAt})
}

type historyResponse struct {
	SessionID string         `json:"session_id"`
	Messages  []core.Message `json:"messages"`
}

func (s *Server) history(c echo.Context) error {
	id := c.Param("id")
	msgs, err := s.app.History(c.Request().Context(), id)
	if err != nil {
		return err
	}
	if msgs == nil {
		msgs = []core.Message{}
	}
	return c.JSON(http.StatusOK, historyResponse{SessionID: id, Messages: msgs})
}

func (s *Server) deleteSession(c echo.Context) error {
	if err := s.app.DeleteSession(c.Request().Context(), c.Param("id")); err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]string{"status": "success", "message": "Session cleared"})
}

type messageRequest struct {
	Message   string `json:"message"`
	Timestamp string `json:"timestamp"`
}

func (r messageRequest) clientTime() (time.Time, error) {
	if strings.TrimSpace(r.Timestamp) == "" {
		return time.Time{}, nil
	}
	return time.Parse(time.RFC3339Nano, r.Timestamp)
}

func (s *Server) sendMessage(c echo.Context) error {
	var req messageRequest
	if err := c.Bind(&req); err != nil {
		return err
	}
	ts, err := req.clientTime()
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "timestamp must be RFC 3339")
	}

	ctx := c.Request().Context()
	events, err := s.app.Turn(ctx, c.Param("id"), req.Message, ts)
	if err != nil {
		return err
	}

	resp := c.Response()
	resp.Header().Set(echo.HeaderContentType, "text/event-stream")
	resp.Header().Set(echo.HeaderCacheControl, "no-cache")
	resp.Header().Set("Connection", "keep-alive")
	resp.WriteHeader(http.StatusOK)

	for ev := range events {
		data, err := json.Marshal(ev)
		if err != nil {
			return err
		}
		if _, err := resp.Write([]byte("data: " + string(data) + "\n\n")); err != nil {
			s.logger.Debug("client went away mid-stream", "session", c.Param("id"), "err", err)
			return nil
		}
		resp.Flush()
	}
	return nil
}

func (s *Server) refresh(c echo.Context) error {
	report, err := s.app.Refresh(c.Request().Context())
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, report)
}

func (s *Server) status(c echo.Context) error {
	st, err := s.app.Status(c.Request().Context())
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, st)
}
