package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"github.com/tyemirov/blogauth/internal/authkit"
	"github.com/tyemirov/blogauth/internal/authkitpg"
	"github.com/tyemirov/blogauth/internal/web"
	webassets "github.com/tyemirov/blogauth/web"
	"go.uber.org/zap"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
)

var serveHTTP = func(server *http.Server) error {
	return server.ListenAndServe()
}

var buildGoogleTokenValidator = func(ctx context.Context) (authkit.GoogleTokenValidator, error) {
	return authkit.NewGoogleTokenValidator(ctx)
}

func main() {
	if err := newRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:     "blogauth",
		Short:   "Stateless blog authentication: OAuth2 login, HS256 access tokens, and refresh token exchange",
		PreRunE: prepareServerConfig,
		RunE:    runServer,
	}

	rootCmd.Flags().String("listen_addr", ":8080", "HTTP listen address")
	rootCmd.Flags().String("jwt_issuer", "blogauth", "Issuer claim for minted tokens")
	rootCmd.Flags().String("jwt_secret_key", "", "HS256 signing secret")
	rootCmd.Flags().Duration("access_token_ttl", authkit.DefaultAccessTokenTTL, "Lifetime of the access token minted at login")
	rootCmd.Flags().Duration("refreshed_access_token_ttl", authkit.DefaultRefreshedAccessTokenTTL, "Lifetime of access tokens minted by the refresh exchange")
	rootCmd.Flags().Duration("refresh_token_ttl", authkit.DefaultRefreshTokenTTL, "Refresh token lifetime")
	rootCmd.Flags().String("post_login_path", authkit.DefaultPostLoginPath, "Path that receives the access token after login")
	rootCmd.Flags().String("cookie_domain", "", "Cookie domain; empty for host-only")
	rootCmd.Flags().String("database_url", "", "Database URL (postgres:// or sqlite://; leave empty for in-memory stores)")
	rootCmd.Flags().String("database_driver", databaseDriverGORM, "Database access layer for postgres URLs (gorm or pgx)")
	rootCmd.Flags().String("google_client_id", "", "Google OAuth2 client ID")
	rootCmd.Flags().String("google_client_secret", "", "Google OAuth2 client secret")
	rootCmd.Flags().String("oauth2_redirect_base_url", "http://localhost:8080", "Public base URL used to build provider callback URLs")
	rootCmd.Flags().Bool("enable_cors", false, "Enable CORS for cross-origin clients")
	rootCmd.Flags().StringSlice("cors_allowed_origins", []string{}, "Allowed origins when CORS is enabled (required if enable_cors is true)")
	rootCmd.Flags().Bool("dev_insecure_http", false, "Allow insecure HTTP for local dev")
	rootCmd.Flags().Float64("token_rate_limit", 5, "Refresh exchanges per second per client IP; zero disables limiting")
	rootCmd.Flags().Int("token_rate_burst", 10, "Refresh exchange burst per client IP")

	for _, name := range []string{
		"listen_addr", "jwt_issuer", "jwt_secret_key", "access_token_ttl", "refreshed_access_token_ttl",
		"refresh_token_ttl", "post_login_path", "cookie_domain", "database_url", "database_driver",
		"google_client_id", "google_client_secret", "oauth2_redirect_base_url", "enable_cors",
		"cors_allowed_origins", "dev_insecure_http", "token_rate_limit", "token_rate_burst",
	} {
		_ = viper.BindPFlag(name, rootCmd.Flags().Lookup(name))
	}

	viper.SetEnvPrefix("APP")
	viper.AutomaticEnv()

	return rootCmd
}

const (
	databaseDriverGORM = "gorm"
	databaseDriverPGX  = "pgx"

	googleProviderName = "google"

	configCodeMissingJWTSecretKey      = "config.missing_jwt_secret_key"
	configCodeMissingGoogleClientID    = "config.missing_google_client_id"
	configCodeMissingGoogleSecret      = "config.missing_google_client_secret"
	configCodeInvalidAccessTokenTTL    = "config.invalid_access_token_ttl"
	configCodeInvalidRefreshedTTL      = "config.invalid_refreshed_access_token_ttl"
	configCodeInvalidRefreshTokenTTL   = "config.invalid_refresh_token_ttl"
	configCodeInvalidPostLoginPath     = "config.invalid_post_login_path"
	configCodeInvalidDatabaseDriver    = "config.invalid_database_driver"
	configCodeUninitializedServerConf  = "config.uninitialized_server_config"
	configCodeGoogleValidatorInit      = "config.google_validator_init"
	configCodeMissingCORSAllowedOrigin = "config.missing_cors_allowed_origins"
)

type contextKey string

const serverConfigContextKey contextKey = "serverConfig"

func prepareServerConfig(command *cobra.Command, arguments []string) error {
	serverConfig, loadErr := LoadServerConfig()
	if loadErr != nil {
		return loadErr
	}
	existingContext := command.Context()
	if existingContext == nil {
		existingContext = context.Background()
	}
	command.SetContext(context.WithValue(existingContext, serverConfigContextKey, serverConfig))
	return nil
}

func configError(code, message string) error {
	return fmt.Errorf("%s: %s", code, message)
}

// LoadServerConfig validates the bound flags and environment into the core configuration.
func LoadServerConfig() (authkit.ServerConfig, error) {
	jwtSecretKey := viper.GetString("jwt_secret_key")
	if jwtSecretKey == "" {
		return authkit.ServerConfig{}, configError(configCodeMissingJWTSecretKey, "jwt_secret_key must be provided")
	}

	if viper.GetString("google_client_id") == "" {
		return authkit.ServerConfig{}, configError(configCodeMissingGoogleClientID, "google_client_id must be provided")
	}
	if viper.GetString("google_client_secret") == "" {
		return authkit.ServerConfig{}, configError(configCodeMissingGoogleSecret, "google_client_secret must be provided")
	}

	accessTokenTTL := durationOrDefault("access_token_ttl", authkit.DefaultAccessTokenTTL)
	if accessTokenTTL <= 0 {
		return authkit.ServerConfig{}, configError(configCodeInvalidAccessTokenTTL, "access_token_ttl must be greater than zero")
	}
	refreshedTTL := durationOrDefault("refreshed_access_token_ttl", authkit.DefaultRefreshedAccessTokenTTL)
	if refreshedTTL <= 0 {
		return authkit.ServerConfig{}, configError(configCodeInvalidRefreshedTTL, "refreshed_access_token_ttl must be greater than zero")
	}
	refreshTokenTTL := durationOrDefault("refresh_token_ttl", authkit.DefaultRefreshTokenTTL)
	if refreshTokenTTL <= 0 {
		return authkit.ServerConfig{}, configError(configCodeInvalidRefreshTokenTTL, "refresh_token_ttl must be greater than zero")
	}

	postLoginPath := viper.GetString("post_login_path")
	if postLoginPath == "" {
		postLoginPath = authkit.DefaultPostLoginPath
	}
	if !strings.HasPrefix(postLoginPath, "/") {
		return authkit.ServerConfig{}, configError(configCodeInvalidPostLoginPath, "post_login_path must start with /")
	}

	switch driver := viper.GetString("database_driver"); driver {
	case "", databaseDriverGORM, databaseDriverPGX:
	default:
		return authkit.ServerConfig{}, configError(configCodeInvalidDatabaseDriver, fmt.Sprintf("database_driver %q is not one of gorm, pgx", driver))
	}

	issuer := viper.GetString("jwt_issuer")
	if issuer == "" {
		issuer = "blogauth"
	}

	return authkit.ServerConfig{
		JWTIssuer:               issuer,
		JWTSigningKey:           []byte(jwtSecretKey),
		CookieDomain:            viper.GetString("cookie_domain"),
		AllowInsecureHTTP:       viper.GetBool("dev_insecure_http"),
		AccessTokenTTL:          accessTokenTTL,
		RefreshedAccessTokenTTL: refreshedTTL,
		RefreshTokenTTL:         refreshTokenTTL,
		PostLoginPath:           postLoginPath,
		LoginPath:               authkit.DefaultLoginPath,
		TokenRateLimit:          viper.GetFloat64("token_rate_limit"),
		TokenRateBurst:          viper.GetInt("token_rate_burst"),
	}, nil
}

func durationOrDefault(key string, fallback time.Duration) time.Duration {
	if !viper.IsSet(key) {
		return fallback
	}
	return viper.GetDuration(key)
}

func runServer(command *cobra.Command, arguments []string) error {
	logger, loggerErr := zap.NewProduction()
	if loggerErr != nil {
		return loggerErr
	}
	defer func() { _ = logger.Sync() }()

	commandContext := command.Context()
	var contextValue any
	if commandContext != nil {
		contextValue = commandContext.Value(serverConfigContextKey)
	}
	serverConfig, ok := contextValue.(authkit.ServerConfig)
	if !ok {
		return configError(configCodeUninitializedServerConf, "server configuration not prepared; PreRunE must execute before RunE")
	}

	listenAddr := viper.GetString("listen_addr")
	enableCORS := viper.GetBool("enable_cors")
	corsAllowedOrigins := viper.GetStringSlice("cors_allowed_origins")

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(requestIDMiddleware())
	router.Use(zapLoggerMiddleware(logger))

	if enableCORS {
		if len(corsAllowedOrigins) == 0 {
			return configError(configCodeMissingCORSAllowedOrigin, "cors_allowed_origins must be provided when enable_cors is true")
		}
		corsMiddleware, corsErr := web.ConfigureCORS(logger, corsAllowedOrigins)
		if corsErr != nil {
			return corsErr
		}
		router.Use(corsMiddleware)
		serverConfig.SameSiteMode = http.SameSiteNoneMode
	}

	users, refreshTokens, closeStores, storeErr := openStores(commandContext, logger)
	if storeErr != nil {
		return storeErr
	}
	defer closeStores()

	validator, validatorErr := buildGoogleTokenValidator(commandContext)
	if validatorErr != nil {
		return fmt.Errorf("%s: %w", configCodeGoogleValidatorInit, validatorErr)
	}
	googleConfig := &oauth2.Config{
		ClientID:     viper.GetString("google_client_id"),
		ClientSecret: viper.GetString("google_client_secret"),
		Endpoint:     google.Endpoint,
		RedirectURL:  strings.TrimRight(viper.GetString("oauth2_redirect_base_url"), "/") + authkit.CallbackRoutePrefix + "/" + googleProviderName,
		Scopes:       []string{"openid", "email", "profile"},
	}

	metricsRecorder := authkit.NewCounterMetrics()
	core, coreErr := authkit.NewCore(serverConfig, authkit.Dependencies{
		Users:         users,
		RefreshTokens: refreshTokens,
		Providers: []authkit.OAuthProvider{{
			Name:       googleProviderName,
			Config:     googleConfig,
			Attributes: authkit.GoogleIDTokenAttributes{Validator: validator},
		}},
		Logger:  logger,
		Metrics: metricsRecorder,
	})
	if coreErr != nil {
		return coreErr
	}

	loginPage, pageErr := web.NewLoginPage(webassets.FS, webassets.LoginTemplate, web.LoginPageConfig{
		Providers:           core.Login.ProviderNames(),
		AuthorizationPrefix: authkit.AuthorizationRoutePrefix,
	})
	if pageErr != nil {
		return pageErr
	}

	router.Use(authkit.TokenAuthenticationFilter(core.Codec))
	authkit.MountAuthRoutes(router, core)

	router.GET(authkit.DefaultLoginPath, loginPage.Handle)
	router.GET("/client-config.js", func(contextGin *gin.Context) {
		web.ServeClientConfig(contextGin, web.ClientConfig{
			TokenPath:     authkit.TokenRoutePath,
			LogoutPath:    authkit.LogoutRoutePath,
			LoginPath:     authkit.DefaultLoginPath,
			PostLoginPath: serverConfig.PostLoginPath,
		})
	})
	router.GET("/static/token-client.js", func(contextGin *gin.Context) {
		web.ServeEmbeddedStaticJS(contextGin, webassets.FS, webassets.TokenClientScript)
	})

	protected := router.Group("/api")
	protected.Use(authkit.RequirePrincipal())
	protected.GET("/me", web.HandleWhoAmI(logger, users))

	server := &http.Server{
		Addr:              listenAddr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	shutdownCtx, shutdownCancel := context.WithCancel(context.Background())
	defer shutdownCancel()

	go func() {
		stopSignals := make(chan os.Signal, 1)
		signal.Notify(stopSignals, syscall.SIGINT, syscall.SIGTERM)
		select {
		case <-stopSignals:
		case <-shutdownCtx.Done():
			return
		}
		graceCtx, graceCancel := context.WithTimeout(shutdownCtx, 10*time.Second)
		defer graceCancel()
		if err := server.Shutdown(graceCtx); err != nil {
			logger.Error("server shutdown error", zap.Error(err))
		}
	}()

	logger.Info("listening", zap.String("addr", listenAddr), zap.Strings("providers", core.Login.ProviderNames()))
	if err := serveHTTP(server); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("listen error: %w", err)
	}
	logger.Info("auth counters", zap.Any("counts", metricsRecorder.Snapshot()))
	return nil
}

// openStores selects the user and refresh token stores from database_url and database_driver.
func openStores(ctx context.Context, logger *zap.Logger) (authkit.UserStore, authkit.RefreshTokenStore, func(), error) {
	if ctx == nil {
		ctx = context.Background()
	}
	databaseURL := viper.GetString("database_url")
	if databaseURL == "" {
		logger.Info("using in-memory stores")
		return authkit.NewMemoryUserStore(), authkit.NewMemoryRefreshTokenStore(), func() {}, nil
	}

	if viper.GetString("database_driver") == databaseDriverPGX {
		pool, err := authkitpg.BuildPool(ctx, databaseURL)
		if err != nil {
			return nil, nil, nil, err
		}
		if err := authkitpg.EnsureSchema(ctx, pool); err != nil {
			pool.Close()
			return nil, nil, nil, err
		}
		logger.Info("using persistent stores", zap.String("driver", databaseDriverPGX))
		return authkitpg.NewPostgresUserStore(pool), authkitpg.NewPostgresRefreshTokenStore(pool), pool.Close, nil
	}

	database, err := authkit.OpenDatabase(ctx, databaseURL)
	if err != nil {
		return nil, nil, nil, err
	}
	logger.Info("using persistent stores", zap.String("driver", database.Driver()))
	closeDatabase := func() {
		if closeErr := database.Close(); closeErr != nil {
			logger.Warn("database close failed", zap.Error(closeErr))
		}
	}
	return database.Users(), database.RefreshTokens(), closeDatabase, nil
}

const requestIDHeader = "X-Request-ID"

func requestIDMiddleware() gin.HandlerFunc {
	return func(contextGin *gin.Context) {
		requestID := contextGin.GetHeader(requestIDHeader)
		if requestID == "" {
			requestID = uuid.NewString()
		}
		contextGin.Set(requestIDHeader, requestID)
		contextGin.Header(requestIDHeader, requestID)
		contextGin.Next()
	}
}

func zapLoggerMiddleware(logger *zap.Logger) gin.HandlerFunc {
	return func(contextGin *gin.Context) {
		startTime := time.Now()
		contextGin.Next()
		duration := time.Since(startTime)
		logger.Info("http",
			zap.String("method", contextGin.Request.Method),
			zap.String("path", contextGin.Request.URL.Path),
			zap.Int("status", contextGin.Writer.Status()),
			zap.String("ip", contextGin.ClientIP()),
			zap.String("request_id", contextGin.GetString(requestIDHeader)),
			zap.Duration("elapsed", duration),
		)
	}
}
