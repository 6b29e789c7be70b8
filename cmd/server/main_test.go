package main

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"github.com/tyemirov/blogauth/internal/authkit"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"
	"google.golang.org/api/idtoken"
)

func TestZapLoggerMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)

	router := gin.New()
	router.Use(requestIDMiddleware())
	router.Use(zapLoggerMiddleware(zaptest.NewLogger(t)))
	router.GET("/ping", func(contextGin *gin.Context) {
		contextGin.Status(http.StatusNoContent)
	})

	recorder := httptest.NewRecorder()
	request := httptest.NewRequest(http.MethodGet, "/ping", nil)
	router.ServeHTTP(recorder, request)

	if recorder.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", recorder.Code)
	}
	if recorder.Header().Get(requestIDHeader) == "" {
		t.Fatalf("expected generated request id")
	}
}

func TestRequestIDMiddlewareKeepsInboundID(t *testing.T) {
	gin.SetMode(gin.TestMode)

	router := gin.New()
	router.Use(requestIDMiddleware())
	router.GET("/ping", func(contextGin *gin.Context) {
		contextGin.String(http.StatusOK, contextGin.GetString(requestIDHeader))
	})

	recorder := httptest.NewRecorder()
	request := httptest.NewRequest(http.MethodGet, "/ping", nil)
	request.Header.Set(requestIDHeader, "req-123")
	router.ServeHTTP(recorder, request)

	if recorder.Header().Get(requestIDHeader) != "req-123" || recorder.Body.String() != "req-123" {
		t.Fatalf("expected inbound request id to propagate, got header %q body %q", recorder.Header().Get(requestIDHeader), recorder.Body.String())
	}
}

func TestRunServerMissingConfig(t *testing.T) {
	gin.SetMode(gin.TestMode)

	viper.Reset()
	defer viper.Reset()

	err := runServer(&cobra.Command{}, nil)
	if err == nil {
		t.Fatalf("expected configuration error")
	}

	expectedMessage := "config.uninitialized_server_config: server configuration not prepared; PreRunE must execute before RunE"
	if err.Error() != expectedMessage {
		t.Fatalf("expected error %q, got %q", expectedMessage, err.Error())
	}
}

func setRequiredConfig() {
	viper.Set("listen_addr", ":0")
	viper.Set("jwt_secret_key", "signing-secret-0123456789")
	viper.Set("google_client_id", "client")
	viper.Set("google_client_secret", "client-secret")
}

func TestLoadServerConfigValidation(t *testing.T) {
	testCases := []struct {
		name            string
		configure       func()
		expectedMessage string
	}{
		{
			name:            "missing secret",
			configure:       func() { viper.Set("jwt_secret_key", "") },
			expectedMessage: "config.missing_jwt_secret_key: jwt_secret_key must be provided",
		},
		{
			name:            "missing google client",
			configure:       func() { viper.Set("google_client_id", "") },
			expectedMessage: "config.missing_google_client_id: google_client_id must be provided",
		},
		{
			name:            "missing google secret",
			configure:       func() { viper.Set("google_client_secret", "") },
			expectedMessage: "config.missing_google_client_secret: google_client_secret must be provided",
		},
		{
			name:            "zero access ttl",
			configure:       func() { viper.Set("access_token_ttl", 0) },
			expectedMessage: "config.invalid_access_token_ttl: access_token_ttl must be greater than zero",
		},
		{
			name:            "negative refreshed ttl",
			configure:       func() { viper.Set("refreshed_access_token_ttl", -time.Minute) },
			expectedMessage: "config.invalid_refreshed_access_token_ttl: refreshed_access_token_ttl must be greater than zero",
		},
		{
			name:            "zero refresh ttl",
			configure:       func() { viper.Set("refresh_token_ttl", 0) },
			expectedMessage: "config.invalid_refresh_token_ttl: refresh_token_ttl must be greater than zero",
		},
		{
			name:            "relative post login path",
			configure:       func() { viper.Set("post_login_path", "articles") },
			expectedMessage: "config.invalid_post_login_path: post_login_path must start with /",
		},
		{
			name:            "unknown driver",
			configure:       func() { viper.Set("database_driver", "mysql") },
			expectedMessage: `config.invalid_database_driver: database_driver "mysql" is not one of gorm, pgx`,
		},
	}

	for _, testCase := range testCases {
		t.Run(testCase.name, func(t *testing.T) {
			viper.Reset()
			defer viper.Reset()
			setRequiredConfig()
			testCase.configure()

			_, err := LoadServerConfig()
			if err == nil || err.Error() != testCase.expectedMessage {
				t.Fatalf("expected error %q, got %v", testCase.expectedMessage, err)
			}
		})
	}
}

func TestLoadServerConfigDefaults(t *testing.T) {
	viper.Reset()
	defer viper.Reset()
	setRequiredConfig()

	config, err := LoadServerConfig()
	if err != nil {
		t.Fatalf("expected configuration load to succeed, got %v", err)
	}
	if config.JWTIssuer != "blogauth" || string(config.JWTSigningKey) != "signing-secret-0123456789" {
		t.Fatalf("unexpected token settings %#v", config)
	}
	if config.AccessTokenTTL != authkit.DefaultAccessTokenTTL || config.RefreshedAccessTokenTTL != authkit.DefaultRefreshedAccessTokenTTL || config.RefreshTokenTTL != authkit.DefaultRefreshTokenTTL {
		t.Fatalf("unexpected lifetimes %#v", config)
	}
	if config.PostLoginPath != authkit.DefaultPostLoginPath || config.LoginPath != authkit.DefaultLoginPath {
		t.Fatalf("unexpected paths %#v", config)
	}
}

func runWithConfig(t *testing.T) error {
	t.Helper()
	config, err := LoadServerConfig()
	if err != nil {
		t.Fatalf("expected configuration load to succeed, got %v", err)
	}
	command := &cobra.Command{}
	command.SetContext(context.WithValue(context.Background(), serverConfigContextKey, config))
	return runServer(command, nil)
}

func TestRunServerValidatorInitFailure(t *testing.T) {
	gin.SetMode(gin.TestMode)

	viper.Reset()
	defer viper.Reset()

	restoreServe := withServeHTTPStub(func(server *http.Server) error {
		return http.ErrServerClosed
	})
	defer restoreServe()

	restoreValidator := withGoogleValidatorBuilderStub(func(ctx context.Context) (authkit.GoogleTokenValidator, error) {
		return nil, errors.New("validator_fail")
	})
	defer restoreValidator()

	setRequiredConfig()

	if err := runWithConfig(t); err == nil || err.Error() != "config.google_validator_init: validator_fail" {
		t.Fatalf("expected google validator init error, got %v", err)
	}
}

func TestRunServerSuccess(t *testing.T) {
	gin.SetMode(gin.TestMode)

	viper.Reset()
	defer viper.Reset()

	restoreServe := withServeHTTPStub(func(server *http.Server) error {
		if server.Handler == nil {
			t.Fatalf("expected handler to be configured")
		}
		recorder := httptest.NewRecorder()
		server.Handler.ServeHTTP(recorder, httptest.NewRequest(http.MethodGet, "/oauth2/authorization/google", nil))
		if recorder.Code != http.StatusFound || !strings.HasPrefix(recorder.Header().Get("Location"), "https://accounts.google.com/") {
			t.Fatalf("expected redirect to google, got %d %q", recorder.Code, recorder.Header().Get("Location"))
		}
		loginRecorder := httptest.NewRecorder()
		server.Handler.ServeHTTP(loginRecorder, httptest.NewRequest(http.MethodGet, "/login", nil))
		if loginRecorder.Code != http.StatusOK || !strings.Contains(loginRecorder.Body.String(), "/oauth2/authorization/google") {
			t.Fatalf("expected login page, got %d", loginRecorder.Code)
		}
		meRecorder := httptest.NewRecorder()
		server.Handler.ServeHTTP(meRecorder, httptest.NewRequest(http.MethodGet, "/api/me", nil))
		if meRecorder.Code != http.StatusUnauthorized {
			t.Fatalf("expected anonymous /api/me to be rejected, got %d", meRecorder.Code)
		}
		return http.ErrServerClosed
	})
	defer restoreServe()

	restoreValidator := withGoogleValidatorBuilderStub(func(ctx context.Context) (authkit.GoogleTokenValidator, error) {
		return noopGoogleValidator{}, nil
	})
	defer restoreValidator()

	setRequiredConfig()
	viper.Set("cookie_domain", "localhost")
	viper.Set("dev_insecure_http", true)
	viper.Set("database_url", "sqlite://"+filepath.Join(t.TempDir(), "blogauth.db"))
	viper.Set("enable_cors", true)
	viper.Set("cors_allowed_origins", []string{"http://localhost:3000"})

	if err := runWithConfig(t); err != nil {
		t.Fatalf("expected runServer to succeed, got %v", err)
	}
}

func TestRunServerInMemoryStore(t *testing.T) {
	gin.SetMode(gin.TestMode)

	viper.Reset()
	defer viper.Reset()

	restoreServe := withServeHTTPStub(func(server *http.Server) error {
		return http.ErrServerClosed
	})
	defer restoreServe()

	restoreValidator := withGoogleValidatorBuilderStub(func(ctx context.Context) (authkit.GoogleTokenValidator, error) {
		return noopGoogleValidator{}, nil
	})
	defer restoreValidator()

	setRequiredConfig()
	viper.Set("dev_insecure_http", true)

	if err := runWithConfig(t); err != nil {
		t.Fatalf("expected runServer to succeed with in-memory store, got %v", err)
	}
}

func TestRunServerCORSRequiresOrigins(t *testing.T) {
	gin.SetMode(gin.TestMode)

	viper.Reset()
	defer viper.Reset()

	setRequiredConfig()
	viper.Set("enable_cors", true)

	err := runWithConfig(t)
	if err == nil || !strings.HasPrefix(err.Error(), configCodeMissingCORSAllowedOrigin) {
		t.Fatalf("expected missing origins error, got %v", err)
	}
}

func TestOpenStoresReportsUnreachablePostgres(t *testing.T) {
	viper.Reset()
	defer viper.Reset()

	viper.Set("database_driver", databaseDriverPGX)
	viper.Set("database_url", "postgres://blogauth@127.0.0.1:1/blogauth?sslmode=disable&connect_timeout=1")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if _, _, _, err := openStores(ctx, zap.NewNop()); err == nil {
		t.Fatalf("expected unreachable postgres to fail")
	}
}

func TestOpenStoresRejectsUnsupportedScheme(t *testing.T) {
	viper.Reset()
	defer viper.Reset()

	viper.Set("database_url", "mysql://localhost/blogauth")
	if _, _, _, err := openStores(context.Background(), zap.NewNop()); !errors.Is(err, authkit.ErrUnsupportedDialect) {
		t.Fatalf("expected unsupported dialect, got %v", err)
	}
}

func TestNewRootCommandHelp(t *testing.T) {
	cmd := newRootCommand()
	cmd.SetArgs([]string{"--help"})
	if err := cmd.Execute(); err != nil {
		t.Fatalf("expected help execution to succeed: %v", err)
	}
}

func withServeHTTPStub(stub func(server *http.Server) error) func() {
	previous := serveHTTP
	serveHTTP = stub
	return func() {
		serveHTTP = previous
	}
}

type noopGoogleValidator struct{}

func (noopGoogleValidator) Validate(ctx context.Context, token string, audience string) (*idtoken.Payload, error) {
	return &idtoken.Payload{}, nil
}

func withGoogleValidatorBuilderStub(stub func(ctx context.Context) (authkit.GoogleTokenValidator, error)) func() {
	previous := buildGoogleTokenValidator
	buildGoogleTokenValidator = stub
	return func() {
		buildGoogleTokenValidator = previous
	}
}
