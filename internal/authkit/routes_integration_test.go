package authkit

import (
	"context"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap/zaptest"
	"golang.org/x/oauth2"
)

const testProviderName = "test"

// fakeProvider implements the token and userinfo endpoints of an authorization server.
type fakeProvider struct {
	mutex      sync.Mutex
	challenges map[string]string
	attributes map[string]any
	server     *httptest.Server
}

func newFakeProvider(t *testing.T, attributes map[string]any) *fakeProvider {
	t.Helper()
	provider := &fakeProvider{challenges: make(map[string]string), attributes: attributes}
	mux := http.NewServeMux()
	mux.HandleFunc("/token", provider.handleToken)
	mux.HandleFunc("/userinfo", provider.handleUserInfo)
	provider.server = httptest.NewServer(mux)
	t.Cleanup(provider.server.Close)
	return provider
}

// authorize records the PKCE challenge for a code, as the provider would after user consent.
func (provider *fakeProvider) authorize(code string, challenge string) {
	provider.mutex.Lock()
	defer provider.mutex.Unlock()
	provider.challenges[code] = challenge
}

func (provider *fakeProvider) handleToken(writer http.ResponseWriter, request *http.Request) {
	if err := request.ParseForm(); err != nil {
		http.Error(writer, "bad form", http.StatusBadRequest)
		return
	}
	code := request.PostForm.Get("code")
	verifier := request.PostForm.Get("code_verifier")
	provider.mutex.Lock()
	challenge, ok := provider.challenges[code]
	delete(provider.challenges, code)
	provider.mutex.Unlock()

	digest := sha256.Sum256([]byte(verifier))
	if !ok || request.PostForm.Get("grant_type") != "authorization_code" || base64.RawURLEncoding.EncodeToString(digest[:]) != challenge {
		writer.Header().Set("Content-Type", "application/json")
		writer.WriteHeader(http.StatusBadRequest)
		_, _ = writer.Write([]byte(`{"error":"invalid_grant"}`))
		return
	}
	writer.Header().Set("Content-Type", "application/json")
	_, _ = writer.Write([]byte(`{"access_token":"provider-access","token_type":"Bearer","expires_in":3600}`))
}

func (provider *fakeProvider) setAttributes(attributes map[string]any) {
	provider.mutex.Lock()
	defer provider.mutex.Unlock()
	provider.attributes = attributes
}

func (provider *fakeProvider) handleUserInfo(writer http.ResponseWriter, request *http.Request) {
	if request.Header.Get("Authorization") != "Bearer provider-access" {
		writer.WriteHeader(http.StatusUnauthorized)
		return
	}
	provider.mutex.Lock()
	attributes := provider.attributes
	provider.mutex.Unlock()
	writer.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(writer).Encode(attributes)
}

func (provider *fakeProvider) oauthProvider() OAuthProvider {
	return OAuthProvider{
		Name: testProviderName,
		Config: &oauth2.Config{
			ClientID:     "client-id",
			ClientSecret: "client-secret",
			RedirectURL:  "https://blog.example.com" + CallbackRoutePrefix + "/" + testProviderName,
			Scopes:       []string{"email", "profile"},
			Endpoint: oauth2.Endpoint{
				AuthURL:   provider.server.URL + "/authorize",
				TokenURL:  provider.server.URL + "/token",
				AuthStyle: oauth2.AuthStyleInParams,
			},
		},
		Attributes: UserInfoAttributes{Endpoint: provider.server.URL + "/userinfo"},
	}
}

type integrationHarness struct {
	core          *Core
	router        *gin.Engine
	users         *MemoryUserStore
	refreshTokens *MemoryRefreshTokenStore
	metrics       *CounterMetrics
	provider      *fakeProvider
}

func newTestServerConfig() ServerConfig {
	return ServerConfig{
		JWTIssuer:         "blogauth-test",
		JWTSigningKey:     []byte("integration-secret-0123456789"),
		AllowInsecureHTTP: true,
	}
}

func newIntegrationHarness(t *testing.T, configuration ServerConfig) integrationHarness {
	t.Helper()
	gin.SetMode(gin.TestMode)

	provider := newFakeProvider(t, map[string]any{"email": "a@x.com", "name": "A"})
	users := NewMemoryUserStore()
	refreshTokens := NewMemoryRefreshTokenStore()
	metrics := NewCounterMetrics()
	core, err := NewCore(configuration, Dependencies{
		Users:         users,
		RefreshTokens: refreshTokens,
		Providers:     []OAuthProvider{provider.oauthProvider()},
		Logger:        zaptest.NewLogger(t),
		Metrics:       metrics,
	})
	if err != nil {
		t.Fatalf("core: %v", err)
	}

	router := gin.New()
	router.Use(TokenAuthenticationFilter(core.Codec))
	MountAuthRoutes(router, core)
	protected := router.Group("/api", RequirePrincipal())
	protected.GET("/profile", func(contextGin *gin.Context) {
		principal, _ := PrincipalFromContext(contextGin.Request.Context())
		contextGin.JSON(http.StatusOK, gin.H{"id": principal.UserID, "email": principal.Email, "role": principal.Role})
	})
	return integrationHarness{core: core, router: router, users: users, refreshTokens: refreshTokens, metrics: metrics, provider: provider}
}

func (harness integrationHarness) serve(request *http.Request) *httptest.ResponseRecorder {
	recorder := httptest.NewRecorder()
	harness.router.ServeHTTP(recorder, request)
	return recorder
}

func collectCookies(cookies []*http.Cookie) map[string]*http.Cookie {
	collected := make(map[string]*http.Cookie, len(cookies))
	for _, cookie := range cookies {
		collected[cookie.Name] = cookie
	}
	return collected
}

// beginLogin starts the flow and returns the envelope cookie plus the state and challenge sent to the provider.
func (harness integrationHarness) beginLogin(t *testing.T) (*http.Cookie, string, string) {
	t.Helper()
	recorder := harness.serve(httptest.NewRequest(http.MethodGet, AuthorizationRoutePrefix+"/"+testProviderName, nil))
	if recorder.Code != http.StatusFound {
		t.Fatalf("expected 302 from authorization route, got %d", recorder.Code)
	}
	location, err := url.Parse(recorder.Header().Get("Location"))
	if err != nil {
		t.Fatalf("parse location: %v", err)
	}
	if !strings.HasPrefix(location.String(), harness.provider.server.URL+"/authorize") {
		t.Fatalf("unexpected provider redirect %s", location)
	}
	query := location.Query()
	if query.Get("code_challenge_method") != "S256" || query.Get("client_id") != "client-id" || query.Get("response_type") != "code" {
		t.Fatalf("unexpected authorization query %v", query)
	}
	envelopeCookie := collectCookies(recorder.Result().Cookies())[AuthorizationRequestCookieName]
	if envelopeCookie == nil || envelopeCookie.MaxAge != 18000 || envelopeCookie.Path != "/" {
		t.Fatalf("expected envelope cookie, got %#v", envelopeCookie)
	}
	return envelopeCookie, query.Get("state"), query.Get("code_challenge")
}

func (harness integrationHarness) callback(envelopeCookie *http.Cookie, query url.Values) *httptest.ResponseRecorder {
	request := httptest.NewRequest(http.MethodGet, CallbackRoutePrefix+"/"+testProviderName+"?"+query.Encode(), nil)
	if envelopeCookie != nil {
		request.AddCookie(&http.Cookie{Name: envelopeCookie.Name, Value: envelopeCookie.Value})
	}
	return harness.serve(request)
}

func (harness integrationHarness) login(t *testing.T) (string, string) {
	t.Helper()
	envelopeCookie, state, challenge := harness.beginLogin(t)
	harness.provider.authorize("good-code", challenge)
	recorder := harness.callback(envelopeCookie, url.Values{"code": {"good-code"}, "state": {state}})
	if recorder.Code != http.StatusFound {
		t.Fatalf("expected 302 from callback, got %d", recorder.Code)
	}
	target, err := url.Parse(recorder.Header().Get("Location"))
	if err != nil {
		t.Fatalf("parse target: %v", err)
	}
	if target.Path != DefaultPostLoginPath || target.Query().Get("token") == "" {
		t.Fatalf("unexpected login target %s", target)
	}
	cookies := collectCookies(recorder.Result().Cookies())
	refreshCookie := cookies[RefreshTokenCookieName]
	if refreshCookie == nil || refreshCookie.MaxAge != 1209600 || !refreshCookie.HttpOnly {
		t.Fatalf("expected refresh cookie, got %#v", refreshCookie)
	}
	if cleared := cookies[AuthorizationRequestCookieName]; cleared == nil || cleared.MaxAge >= 0 || cleared.Value != "" {
		t.Fatalf("expected envelope deletion, got %#v", cleared)
	}
	return target.Query().Get("token"), refreshCookie.Value
}

func exchangeRequest(body string, refreshCookie string) *http.Request {
	request := httptest.NewRequest(http.MethodPost, TokenRoutePath, strings.NewReader(body))
	request.Header.Set("Content-Type", "application/json")
	if refreshCookie != "" {
		request.AddCookie(&http.Cookie{Name: RefreshTokenCookieName, Value: refreshCookie})
	}
	return request
}

func TestAuthLifecycle(t *testing.T) {
	harness := newIntegrationHarness(t, newTestServerConfig())
	accessToken, refreshToken := harness.login(t)

	profileRequest := httptest.NewRequest(http.MethodGet, "/api/profile", nil)
	profileRequest.Header.Set("Authorization", "Bearer "+accessToken)
	profile := harness.serve(profileRequest)
	if profile.Code != http.StatusOK {
		t.Fatalf("expected profile 200, got %d", profile.Code)
	}
	var profileBody map[string]any
	if err := json.Unmarshal(profile.Body.Bytes(), &profileBody); err != nil {
		t.Fatalf("decode profile: %v", err)
	}
	if profileBody["email"] != "a@x.com" || profileBody["role"] != RoleUser {
		t.Fatalf("unexpected profile %v", profileBody)
	}

	exchange := harness.serve(exchangeRequest(`{"refreshToken":"`+refreshToken+`"}`, ""))
	if exchange.Code != http.StatusCreated {
		t.Fatalf("expected 201 from exchange, got %d: %s", exchange.Code, exchange.Body.String())
	}
	var exchanged struct {
		AccessToken string `json:"accessToken"`
	}
	if err := json.Unmarshal(exchange.Body.Bytes(), &exchanged); err != nil || !harness.core.Codec.IsValid(exchanged.AccessToken) {
		t.Fatalf("expected a valid access token, got %q (%v)", exchanged.AccessToken, err)
	}

	fromCookie := harness.serve(exchangeRequest("", refreshToken))
	if fromCookie.Code != http.StatusCreated {
		t.Fatalf("expected cookie fallback exchange to succeed, got %d", fromCookie.Code)
	}

	logoutRequest := httptest.NewRequest(http.MethodPost, LogoutRoutePath, nil)
	logoutRequest.AddCookie(&http.Cookie{Name: RefreshTokenCookieName, Value: refreshToken})
	logout := harness.serve(logoutRequest)
	if logout.Code != http.StatusFound || logout.Header().Get("Location") != DefaultLoginPath {
		t.Fatalf("expected logout redirect, got %d %s", logout.Code, logout.Header().Get("Location"))
	}
	if cleared := collectCookies(logout.Result().Cookies())[RefreshTokenCookieName]; cleared == nil || cleared.MaxAge >= 0 {
		t.Fatalf("expected refresh cookie deletion, got %#v", cleared)
	}

	afterLogout := harness.serve(exchangeRequest(`{"refreshToken":"`+refreshToken+`"}`, ""))
	if afterLogout.Code != http.StatusUnauthorized {
		t.Fatalf("expected revoked refresh token to fail, got %d", afterLogout.Code)
	}

	expected := map[MetricEvent]int64{
		MetricLoginSuccess:   1,
		MetricRefreshSuccess: 2,
		MetricRefreshFailure: 1,
		MetricLogoutSuccess:  1,
	}
	for event, count := range expected {
		if harness.metrics.Count(event) != count {
			t.Fatalf("expected %s=%d, got %d", event, count, harness.metrics.Count(event))
		}
	}
}

func TestRepeatLoginKeepsIdentityAndSupersedesRefreshToken(t *testing.T) {
	harness := newIntegrationHarness(t, newTestServerConfig())
	firstAccess, firstRefresh := harness.login(t)
	harness.provider.setAttributes(map[string]any{"email": "a@x.com", "name": "Alice"})
	secondAccess, secondRefresh := harness.login(t)

	firstID, _ := harness.core.Codec.ExtractUserID(firstAccess)
	secondID, _ := harness.core.Codec.ExtractUserID(secondAccess)
	if firstID != secondID {
		t.Fatalf("expected same identity, got %d and %d", firstID, secondID)
	}
	if firstRefresh != secondRefresh {
		if response := harness.serve(exchangeRequest(`{"refreshToken":"`+firstRefresh+`"}`, "")); response.Code != http.StatusUnauthorized {
			t.Fatalf("expected superseded refresh token to be rejected, got %d", response.Code)
		}
	}
	if response := harness.serve(exchangeRequest(`{"refreshToken":"`+secondRefresh+`"}`, "")); response.Code != http.StatusCreated {
		t.Fatalf("expected current refresh token to succeed, got %d", response.Code)
	}
	user, err := harness.users.FindByID(context.Background(), firstID)
	if err != nil || user.Nickname != "Alice" {
		t.Fatalf("expected nickname update, got %#v %v", user, err)
	}
}

func TestCallbackFailuresRedirectToLogin(t *testing.T) {
	testCases := []struct {
		name     string
		callback func(t *testing.T, harness integrationHarness) *httptest.ResponseRecorder
	}{
		{
			name: "missing envelope",
			callback: func(t *testing.T, harness integrationHarness) *httptest.ResponseRecorder {
				return harness.callback(nil, url.Values{"code": {"good-code"}, "state": {"anything"}})
			},
		},
		{
			name: "state mismatch",
			callback: func(t *testing.T, harness integrationHarness) *httptest.ResponseRecorder {
				envelopeCookie, _, challenge := harness.beginLogin(t)
				harness.provider.authorize("good-code", challenge)
				return harness.callback(envelopeCookie, url.Values{"code": {"good-code"}, "state": {"forged"}})
			},
		},
		{
			name: "provider denied",
			callback: func(t *testing.T, harness integrationHarness) *httptest.ResponseRecorder {
				envelopeCookie, state, _ := harness.beginLogin(t)
				return harness.callback(envelopeCookie, url.Values{"error": {"access_denied"}, "state": {state}})
			},
		},
		{
			name: "missing code",
			callback: func(t *testing.T, harness integrationHarness) *httptest.ResponseRecorder {
				envelopeCookie, state, _ := harness.beginLogin(t)
				return harness.callback(envelopeCookie, url.Values{"state": {state}})
			},
		},
		{
			name: "exchange rejected",
			callback: func(t *testing.T, harness integrationHarness) *httptest.ResponseRecorder {
				envelopeCookie, state, _ := harness.beginLogin(t)
				return harness.callback(envelopeCookie, url.Values{"code": {"unknown-code"}, "state": {state}})
			},
		},
		{
			name: "missing email attribute",
			callback: func(t *testing.T, harness integrationHarness) *httptest.ResponseRecorder {
				harness.provider.setAttributes(map[string]any{"name": "No Email"})
				envelopeCookie, state, challenge := harness.beginLogin(t)
				harness.provider.authorize("good-code", challenge)
				return harness.callback(envelopeCookie, url.Values{"code": {"good-code"}, "state": {state}})
			},
		},
	}

	for _, testCase := range testCases {
		t.Run(testCase.name, func(t *testing.T) {
			harness := newIntegrationHarness(t, newTestServerConfig())
			recorder := testCase.callback(t, harness)
			if recorder.Code != http.StatusFound || recorder.Header().Get("Location") != DefaultLoginPath+"?error" {
				t.Fatalf("expected failure redirect, got %d %s", recorder.Code, recorder.Header().Get("Location"))
			}
			if _, ok := collectCookies(recorder.Result().Cookies())[RefreshTokenCookieName]; ok {
				t.Fatalf("expected no refresh cookie on failure")
			}
			if harness.metrics.Count(MetricLoginFailure) != 1 {
				t.Fatalf("expected one login failure, got %d", harness.metrics.Count(MetricLoginFailure))
			}
		})
	}
}

func TestFailedCallbackClearsEnvelope(t *testing.T) {
	harness := newIntegrationHarness(t, newTestServerConfig())
	envelopeCookie, _, _ := harness.beginLogin(t)
	recorder := harness.callback(envelopeCookie, url.Values{"code": {"x"}, "state": {"forged"}})
	cleared := collectCookies(recorder.Result().Cookies())[AuthorizationRequestCookieName]
	if cleared == nil || cleared.MaxAge >= 0 {
		t.Fatalf("expected envelope deletion after failure, got %#v", cleared)
	}
}

func TestUnknownProviderIsNotFound(t *testing.T) {
	harness := newIntegrationHarness(t, newTestServerConfig())
	recorder := harness.serve(httptest.NewRequest(http.MethodGet, AuthorizationRoutePrefix+"/nope", nil))
	if recorder.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", recorder.Code)
	}
}
