// Package httpapi serves the ingest and search surface of the bazaar
// engine: harvested posts come in, matched listings go out.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"

	"horse.fit/bazaar/internal/db"
	"horse.fit/bazaar/internal/globaltime"
	"horse.fit/bazaar/internal/langdetect"
	"horse.fit/bazaar/internal/match"
	"horse.fit/bazaar/internal/retrieval"
	payloadschema "horse.fit/bazaar/schema"
)

const (
	defaultScanLimit  = 200
	maxScanLimit      = 2000
	defaultHitLimit   = 20
	maxHitLimit       = 100
	maxIngestBodySize = 1 << 20
)

// ScanRunner drives one matching pass over unscanned posts.
type ScanRunner interface {
	ScanPending(ctx context.Context, limit int) (match.ScanResult, error)
}

// Finder answers ad-hoc retrieval queries over the post archive.
type Finder interface {
	Find(ctx context.Context, query retrieval.Query) ([]retrieval.Hit, error)
}

// HealthChecker reports whether the embedding backend is reachable.
type HealthChecker interface {
	Health(ctx context.Context) error
}

type Options struct {
	Host            string
	Port            int
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
}

type Server struct {
	pool    *db.Pool
	scanner ScanRunner
	finder  Finder
	embed   HealthChecker
	logger  zerolog.Logger
	opts    Options
}

type ingestResponse struct {
	PostID   int64  `json:"post_id"`
	Inserted bool   `json:"inserted"`
	Language string `json:"language"`
}

type searchHit struct {
	PostID     int64     `json:"post_id"`
	GroupID    int64     `json:"group_id"`
	MessageID  int64     `json:"message_id"`
	GroupTitle string    `json:"group_title,omitempty"`
	Text       string    `json:"text"`
	HasPhoto   bool      `json:"has_photo"`
	PhotoURL   *string   `json:"photo_url,omitempty"`
	PostedAt   time.Time `json:"posted_at"`
	Deleted    bool      `json:"deleted"`
	Score      float64   `json:"score"`
	Strategy   string    `json:"strategy"`
}

func NewServer(pool *db.Pool, scanner ScanRunner, finder Finder, embed HealthChecker, logger zerolog.Logger, opts Options) *Server {
	host := strings.TrimSpace(opts.Host)
	if host == "" {
		host = "0.0.0.0"
	}
	port := opts.Port
	if port <= 0 {
		port = 8091
	}
	readTimeout := opts.ReadTimeout
	if readTimeout <= 0 {
		readTimeout = 10 * time.Second
	}
	writeTimeout := opts.WriteTimeout
	if writeTimeout <= 0 {
		// scan requests wait on LLM round trips
		writeTimeout = 120 * time.Second
	}
	shutdownTimeout := opts.ShutdownTimeout
	if shutdownTimeout <= 0 {
		shutdownTimeout = 10 * time.Second
	}

	return &Server{
		pool:    pool,
		scanner: scanner,
		finder:  finder,
		embed:   embed,
		logger:  logger,
		opts: Options{
			Host:            host,
			Port:            port,
			ReadTimeout:     readTimeout,
			WriteTimeout:    writeTimeout,
			ShutdownTimeout: shutdownTimeout,
		},
	}
}

func (s *Server) Start(ctx context.Context) error {
	if s == nil || s.pool == nil {
		return fmt.Errorf("server is not initialized")
	}

	e := s.buildEcho()

	addr := fmt.Sprintf("%s:%d", s.opts.Host, s.opts.Port)
	httpServer := &http.Server{
		Addr:         addr,
		Handler:      e,
		ReadTimeout:  s.opts.ReadTimeout,
		WriteTimeout: s.opts.WriteTimeout,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.opts.ShutdownTimeout)
		defer cancel()
		if shutdownErr := e.Shutdown(shutdownCtx); shutdownErr != nil {
			s.logger.Error().Err(shutdownErr).Msg("server shutdown failed")
		}
	}()

	s.logger.Info().Str("addr", addr).Msg("bazaar api server started")

	if err := e.StartServer(httpServer); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("start server: %w", err)
	}
	s.logger.Info().Msg("bazaar api server stopped")
	return nil
}

func (s *Server) buildEcho() *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.HTTPErrorHandler = s.httpErrorHandler

	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())
	e.Use(middleware.BodyLimit(strconv.Itoa(maxIngestBodySize)))
	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogStatus:    true,
		LogURI:       true,
		LogMethod:    true,
		LogLatency:   true,
		LogRemoteIP:  true,
		LogRequestID: true,
		LogError:     true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			if v.Error != nil {
				s.logger.Error().
					Err(v.Error).
					Str("method", v.Method).
					Str("uri", v.URI).
					Int("status", v.Status).
					Dur("latency", v.Latency).
					Str("remote_ip", v.RemoteIP).
					Str("request_id", v.RequestID).
					Msg("http request failed")
				return nil
			}

			s.logger.Info().
				Str("method", v.Method).
				Str("uri", v.URI).
				Int("status", v.Status).
				Dur("latency", v.Latency).
				Str("remote_ip", v.RemoteIP).
				Str("request_id", v.RequestID).
				Msg("http request")
			return nil
		},
	}))

	api := e.Group("/api/v1")
	api.GET("/health", s.handleHealth)
	api.POST("/posts", s.handleIngestPost)
	api.PATCH("/posts/:post_id", s.handleEditPost)
	api.DELETE("/posts/:post_id", s.handleDeletePost)
	api.POST("/scan", s.handleScan)
	api.GET("/search", s.handleSearch)

	return e
}

func (s *Server) httpErrorHandler(err error, c echo.Context) {
	if c.Response().Committed {
		return
	}

	status := http.StatusInternalServerError
	message := "Internal server error"
	if he, ok := err.(*echo.HTTPError); ok {
		status = he.Code
		switch v := he.Message.(type) {
		case string:
			if strings.TrimSpace(v) != "" {
				message = v
			}
		default:
			if text := strings.TrimSpace(http.StatusText(status)); text != "" {
				message = text
			}
		}
	} else if err != nil {
		message = err.Error()
	}

	if status >= 500 {
		_ = internalError(c, "Internal server error")
		return
	}
	_ = fail(c, status, message, nil)
}

func (s *Server) handleHealth(c echo.Context) error {
	ctx := c.Request().Context()

	dbStatus := "ok"
	if err := s.pool.Ping(ctx); err != nil {
		s.logger.Error().Err(err).Msg("health ping failed")
		dbStatus = "unreachable"
	}

	embedStatus := "ok"
	if s.embed == nil {
		embedStatus = "disabled"
	} else if err := s.embed.Health(ctx); err != nil {
		s.logger.Warn().Err(err).Msg("embedding backend health failed")
		embedStatus = "unreachable"
	}

	data := map[string]any{
		"service":   "bazaar",
		"time":      globaltime.UTC(),
		"database":  dbStatus,
		"embedding": embedStatus,
	}
	if dbStatus != "ok" {
		return c.JSON(http.StatusServiceUnavailable, jsendResponse{Status: "error", Data: data, Message: "database unreachable", Code: http.StatusServiceUnavailable})
	}
	return success(c, data)
}

func (s *Server) handleIngestPost(c echo.Context) error {
	body, err := io.ReadAll(io.LimitReader(c.Request().Body, maxIngestBodySize))
	if err != nil {
		return failValidation(c, map[string]string{"body": "could not read request body"})
	}

	payload, err := payloadschema.ValidatePostPayload(json.RawMessage(body))
	if err != nil {
		return failValidation(c, map[string]string{"payload": err.Error()})
	}

	postedAt, err := payload.PostedAtTime()
	if err != nil {
		return failValidation(c, map[string]string{"posted_at": err.Error()})
	}

	ctx := c.Request().Context()
	now := globaltime.UTC()

	if err := s.pool.UpsertGroup(ctx, payload.GroupID, payload.GroupTitle, now); err != nil {
		s.logger.Error().Err(err).Int64("group_id", payload.GroupID).Msg("upsert group failed")
		return internalError(c, "Failed to store post")
	}

	post := db.Post{
		GroupID:    payload.GroupID,
		MessageID:  payload.MessageID,
		GroupTitle: payload.GroupTitle,
		Text:       payload.Text,
		Sender:     payload.Sender,
		Language:   langdetect.DetectISO6391(payload.Text),
		HasPhoto:   payload.HasPhoto,
		PhotoURL:   payload.PhotoURL,
		PostedAt:   postedAt,
	}

	inserted, err := s.pool.InsertPost(ctx, &post)
	if err != nil {
		s.logger.Error().Err(err).
			Int64("group_id", payload.GroupID).
			Int64("message_id", payload.MessageID).
			Msg("insert post failed")
		return internalError(c, "Failed to store post")
	}

	status := http.StatusCreated
	if !inserted {
		status = http.StatusOK
	}
	return successWithStatus(c, status, ingestResponse{
		PostID:   post.PostID,
		Inserted: inserted,
		Language: post.Language,
	})
}

func (s *Server) handleEditPost(c echo.Context) error {
	postID, err := parsePostID(c.Param("post_id"))
	if err != nil {
		return failValidation(c, map[string]string{"post_id": err.Error()})
	}

	var body struct {
		Text string `json:"text"`
	}
	if err := c.Bind(&body); err != nil {
		return failValidation(c, map[string]string{"body": "must be a JSON object"})
	}
	if strings.TrimSpace(body.Text) == "" {
		return failValidation(c, map[string]string{"text": "must not be empty"})
	}

	ctx := c.Request().Context()
	if _, found, err := s.pool.GetPost(ctx, postID); err != nil {
		s.logger.Error().Err(err).Int64("post_id", postID).Msg("load post failed")
		return internalError(c, "Failed to update post")
	} else if !found {
		return failNotFound(c, "Post not found")
	}

	if err := s.pool.UpdatePostText(ctx, postID, body.Text, globaltime.UTC()); err != nil {
		s.logger.Error().Err(err).Int64("post_id", postID).Msg("update post text failed")
		return internalError(c, "Failed to update post")
	}
	return success(c, map[string]any{"post_id": postID, "rescan": true})
}

func (s *Server) handleDeletePost(c echo.Context) error {
	postID, err := parsePostID(c.Param("post_id"))
	if err != nil {
		return failValidation(c, map[string]string{"post_id": err.Error()})
	}

	ctx := c.Request().Context()
	if _, found, err := s.pool.GetPost(ctx, postID); err != nil {
		s.logger.Error().Err(err).Int64("post_id", postID).Msg("load post failed")
		return internalError(c, "Failed to delete post")
	} else if !found {
		return failNotFound(c, "Post not found")
	}

	if err := s.pool.SoftDeletePost(ctx, postID, globaltime.UTC()); err != nil {
		s.logger.Error().Err(err).Int64("post_id", postID).Msg("soft delete post failed")
		return internalError(c, "Failed to delete post")
	}
	return success(c, map[string]any{"post_id": postID, "deleted": true})
}

func (s *Server) handleScan(c echo.Context) error {
	if s.scanner == nil {
		return fail(c, http.StatusServiceUnavailable, "Matching is not configured", nil)
	}

	limit, err := parsePositiveInt(c.QueryParam("limit"), defaultScanLimit, 1, maxScanLimit)
	if err != nil {
		return failValidation(c, map[string]string{"limit": err.Error()})
	}

	result, err := s.scanner.ScanPending(c.Request().Context(), limit)
	if err != nil {
		s.logger.Error().Err(err).Msg("scan pass failed")
		return internalError(c, "Scan failed")
	}

	return success(c, map[string]any{
		"posts":      result.Posts,
		"matches":    result.Matches,
		"dispatched": result.Dispatched,
		"errors":     result.Errors,
	})
}

func (s *Server) handleSearch(c echo.Context) error {
	if s.finder == nil {
		return fail(c, http.StatusServiceUnavailable, "Search is not configured", nil)
	}

	text := strings.TrimSpace(c.QueryParam("q"))
	if text == "" {
		return failValidation(c, map[string]string{"q": "is required"})
	}

	limit, err := parsePositiveInt(c.QueryParam("limit"), defaultHitLimit, 1, maxHitLimit)
	if err != nil {
		return failValidation(c, map[string]string{"limit": err.Error()})
	}

	groupIDs, err := parseGroupIDs(c.QueryParam("group_ids"))
	if err != nil {
		return failValidation(c, map[string]string{"group_ids": err.Error()})
	}

	query := retrieval.Query{
		Text:     text,
		Negative: splitList(c.QueryParam("negative")),
		GroupIDs: groupIDs,
		Limit:    limit,
	}

	hits, err := s.finder.Find(c.Request().Context(), query)
	if err != nil {
		s.logger.Error().Err(err).Str("query", text).Msg("search failed")
		return internalError(c, "Search failed")
	}

	items := make([]searchHit, 0, len(hits))
	for _, hit := range hits {
		items = append(items, searchHit{
			PostID:     hit.Post.PostID,
			GroupID:    hit.Post.GroupID,
			MessageID:  hit.Post.MessageID,
			GroupTitle: hit.Post.GroupTitle,
			Text:       hit.Post.Text,
			HasPhoto:   hit.Post.HasPhoto,
			PhotoURL:   hit.Post.PhotoURL,
			PostedAt:   hit.Post.PostedAt,
			Deleted:    hit.Post.DeletedAt != nil,
			Score:      hit.Score,
			Strategy:   hit.Strategy,
		})
	}

	return success(c, map[string]any{
		"items": items,
		"query": map[string]any{
			"q":         text,
			"negative":  query.Negative,
			"group_ids": query.GroupIDs,
			"limit":     limit,
		},
	})
}

func parsePostID(raw string) (int64, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return 0, fmt.Errorf("is required")
	}
	id, err := strconv.ParseInt(trimmed, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("must be a positive integer")
	}
	return id, nil
}

func parsePositiveInt(raw string, defaultValue, minValue, maxValue int) (int, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return defaultValue, nil
	}

	value, err := strconv.Atoi(trimmed)
	if err != nil {
		return 0, fmt.Errorf("must be an integer")
	}
	if value < minValue || value > maxValue {
		return 0, fmt.Errorf("must be between %d and %d", minValue, maxValue)
	}
	return value, nil
}

func parseGroupIDs(raw string) ([]int64, error) {
	parts := splitList(raw)
	if len(parts) == 0 {
		return nil, nil
	}
	ids := make([]int64, 0, len(parts))
	for _, part := range parts {
		id, err := strconv.ParseInt(part, 10, 64)
		if err != nil || id == 0 {
			return nil, fmt.Errorf("must be a comma-separated list of chat ids")
		}
		ids = append(ids, id)
	}
	return ids, nil
}

func splitList(raw string) []string {
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
