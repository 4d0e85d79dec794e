package app

import (
	"context"
	"database/sql"
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
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"proin/api/internal/auth"
	"proin/api/internal/logging"
)

const (
	identityKey = "identity"

	// maxBodySize bounds JSON bodies, which carry base64 file payloads.
	maxBodySize    = "25M"
	maxSearchLimit = 100
)

type HTTPServer struct {
	service    *Service
	echo       *echo.Echo
	logger     *logging.Logger
	corsOrigin string
}

func NewHTTPServer(service *Service, corsOrigin string, logger *logging.Logger) *HTTPServer {
	if logger == nil {
		logger = logging.NewNop()
	}
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	s := &HTTPServer{
		service:    service,
		echo:       e,
		logger:     logger.Named("http"),
		corsOrigin: corsOrigin,
	}
	e.HTTPErrorHandler = s.handleError

	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())
	e.Use(s.accessLog)
	e.Use(middleware.BodyLimit(maxBodySize))
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: []string{corsOrigin},
		AllowHeaders: []string{echo.HeaderContentType, echo.HeaderAuthorization, echo.HeaderXRequestID},
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPatch, http.MethodDelete, http.MethodOptions},
	}))

	s.registerRoutes()
	return s
}

func (s *HTTPServer) Handler() http.Handler {
	return s.echo
}

func (s *HTTPServer) Start(addr string) error {
	s.logger.Info(context.Background(), "starting http server", zap.String("addr", addr))
	return s.echo.Start(addr)
}

func (s *HTTPServer) Shutdown(ctx context.Context) error {
	s.logger.Info(ctx, "shutting down http server")
	return s.echo.Shutdown(ctx)
}

func (s *HTTPServer) registerRoutes() {
	s.echo.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	api := s.echo.Group("/api")
	api.GET("/health", s.handleHealth)
	api.HEAD("/health", s.handleHealth)
	api.GET("/ready", s.handleReady)
	api.HEAD("/ready", s.handleReady)

	users := api.Group("/users")
	users.POST("/signup", s.handleSignUp)
	users.POST("/login", s.handleLogin)
	users.POST("/forgot-password", s.handleForgotPassword)
	users.POST("/reset-password", s.handleResetPassword)
	users.GET("/me", s.handleMe, s.requireAuth)

	authed := api.Group("", s.requireAuth)
	s.registerProjectRoutes(authed)
	s.registerTaskRoutes(authed)
	s.registerTransactionRoutes(authed)
	authed.GET("/search", s.handleSearch)
}

func (s *HTTPServer) accessLog(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		started := time.Now()
		requestID := c.Response().Header().Get(echo.HeaderXRequestID)
		req := c.Request()
		c.SetRequest(req.WithContext(logging.WithRequestID(req.Context(), requestID)))

		err := next(c)
		if err != nil {
			c.Error(err)
		}

		s.logger.Info(c.Request().Context(), "http request",
			zap.String("method", req.Method),
			zap.String("path", req.URL.Path),
			zap.Int("status", c.Response().Status),
			zap.Duration("duration", time.Since(started)),
		)
		return nil
	}
}

// requireAuth resolves the bearer token into an Identity for the handlers.
func (s *HTTPServer) requireAuth(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		token := bearerToken(c.Request())
		if token == "" {
			return unauthorized("Authentication failed!")
		}
		id, err := s.service.IdentityFromToken(token)
		if err != nil {
			if errors.Is(err, auth.ErrExpiredToken) || errors.Is(err, auth.ErrInvalidToken) {
				return unauthorized("Authentication failed!")
			}
			return err
		}
		c.Set(identityKey, id)
		req := c.Request()
		c.SetRequest(req.WithContext(logging.WithUserID(req.Context(), id.UserID)))
		return next(c)
	}
}

func identityFrom(c echo.Context) Identity {
	id, _ := c.Get(identityKey).(Identity)
	return id
}

func (s *HTTPServer) handleError(err error, c echo.Context) {
	if c.Response().Committed {
		return
	}

	var httpErr *echo.HTTPError
	if errors.As(err, &httpErr) {
		message := http.StatusText(httpErr.Code)
		if text, ok := httpErr.Message.(string); ok && text != "" {
			message = text
		}
		_ = writeError(c, httpErr.Code, codeForStatus(httpErr.Code), message, nil)
		return
	}

	status, code, message, details := mapError(err)
	if status >= http.StatusInternalServerError {
		s.logger.Error(c.Request().Context(), "request failed", zap.String("code", code), zap.Error(err))
	}
	_ = writeError(c, status, code, message, details)
}

func codeForStatus(status int) string {
	switch status {
	case http.StatusNotFound:
		return CodeNotFound
	case http.StatusUnauthorized:
		return CodeUnauthorized
	case http.StatusForbidden:
		return CodeForbidden
	case http.StatusBadRequest:
		return CodeInvalidBody
	case http.StatusMethodNotAllowed:
		return "METHOD_NOT_ALLOWED"
	case http.StatusRequestEntityTooLarge:
		return "PAYLOAD_TOO_LARGE"
	default:
		return CodeServerError
	}
}

func mapError(err error) (status int, code, message string, details any) {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Status, domainErr.Code, domainErr.Message, domainErr.Details
	}
	if errors.Is(err, sql.ErrNoRows) {
		return http.StatusNotFound, CodeNotFound, "Not found", nil
	}
	if errors.Is(err, auth.ErrInvalidToken) || errors.Is(err, auth.ErrExpiredToken) {
		return http.StatusUnauthorized, CodeUnauthorized, "Unauthorized", nil
	}
	return http.StatusInternalServerError, CodeServerError, "Server error", nil
}

func writeError(c echo.Context, status int, code, message string, details any) error {
	response := map[string]any{
		"code":  code,
		"error": message,
	}
	if details != nil {
		response["details"] = details
	}
	if c.Request().Method == http.MethodHead {
		return c.NoContent(status)
	}
	return c.JSON(status, response)
}

// decodeBody reads a JSON body. An empty body leaves target untouched.
func decodeBody(c echo.Context, target any) error {
	body := c.Request().Body
	if body == nil {
		return nil
	}
	defer body.Close()
	if err := json.NewDecoder(body).Decode(target); err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		return invalidBody("invalid JSON body")
	}
	return nil
}

func bearerToken(r *http.Request) string {
	header := strings.TrimSpace(r.Header.Get(echo.HeaderAuthorization))
	if !strings.HasPrefix(header, "Bearer ") {
		return ""
	}
	return strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
}

func queryInt(c echo.Context, name string, fallback int) int {
	raw := strings.TrimSpace(c.QueryParam(name))
	if raw == "" {
		return fallback
	}
	value, err := strconv.Atoi(raw)
	if err != nil || value < 0 {
		return fallback
	}
	return value
}

func message(text string) map[string]any {
	return map[string]any{"message": text}
}

func (s *HTTPServer) handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]any{"ok": true})
}

func (s *HTTPServer) handleReady(c echo.Context) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()

	status := "ready"
	statusCode := http.StatusOK
	checks := map[string]any{
		"database": map[string]any{"status": "ok"},
	}
	if err := s.service.Ping(ctx); err != nil {
		status = "not_ready"
		statusCode = http.StatusServiceUnavailable
		checks["database"] = map[string]any{
			"status": "error",
			"error":  err.Error(),
		}
	}
	return c.JSON(statusCode, map[string]any{
		"ok":     status == "ready",
		"status": status,
		"checks": checks,
	})
}

func (s *HTTPServer) handleSignUp(c echo.Context) error {
	var body struct {
		Email    string `json:"email"`
		Password string `json:"password"`
		Name     string `json:"name"`
	}
	if err := decodeBody(c, &body); err != nil {
		return err
	}
	result, err := s.service.SignUp(c.Request().Context(), body.Email, body.Password, body.Name)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, result)
}

func (s *HTTPServer) handleLogin(c echo.Context) error {
	var body struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := decodeBody(c, &body); err != nil {
		return err
	}
	result, err := s.service.Login(c.Request().Context(), body.Email, body.Password)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, result)
}

func (s *HTTPServer) handleForgotPassword(c echo.Context) error {
	var body struct {
		Email string `json:"email"`
	}
	if err := decodeBody(c, &body); err != nil {
		return err
	}
	text, err := s.service.ForgotPassword(c.Request().Context(), body.Email)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, message(text))
}

func (s *HTTPServer) handleResetPassword(c echo.Context) error {
	var body struct {
		Token    string `json:"token"`
		Password string `json:"password"`
	}
	if err := decodeBody(c, &body); err != nil {
		return err
	}
	result, err := s.service.ResetPassword(c.Request().Context(), body.Token, body.Password)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, result)
}

func (s *HTTPServer) handleMe(c echo.Context) error {
	user, err := s.service.Me(c.Request().Context(), identityFrom(c))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]any{"user": user})
}

func (s *HTTPServer) handleSearch(c echo.Context) error {
	limit := queryInt(c, "limit", 20)
	if limit == 0 || limit > maxSearchLimit {
		return validation(fmt.Sprintf("limit must be between 1 and %d", maxSearchLimit), map[string]any{"limit": limit})
	}
	resp, err := s.service.Search(c.Request().Context(), identityFrom(c),
		c.QueryParam("q"), c.QueryParam("type"), limit, queryInt(c, "offset", 0))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, resp)
}

func pathParam(c echo.Context, name string) (string, error) {
	value := strings.TrimSpace(c.Param(name))
	if value == "" {
		return "", validation(fmt.Sprintf("%s is required", name), nil)
	}
	return value, nil
}
