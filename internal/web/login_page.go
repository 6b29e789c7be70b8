package web

import (
	"bytes"
	"encoding/json"
	"fmt"
	"html/template"
	"io/fs"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

// LoginPageConfig describes what the login page offers.
type LoginPageConfig struct {
	Providers           []string
	AuthorizationPrefix string
}

type loginPageProvider struct {
	Name string
	Href string
}

type loginPageView struct {
	Providers []loginPageProvider
	Failed    bool
}

// LoginPage renders the embedded login template.
type LoginPage struct {
	template      *template.Template
	configuration LoginPageConfig
}

// NewLoginPage parses the named template from the filesystem.
func NewLoginPage(filesystem fs.FS, templateName string, configuration LoginPageConfig) (*LoginPage, error) {
	parsed, err := template.ParseFS(filesystem, templateName)
	if err != nil {
		return nil, fmt.Errorf("web.login_page.parse: %w", err)
	}
	return &LoginPage{template: parsed, configuration: configuration}, nil
}

// Handle renders the page; the "error" query flag marks a failed login attempt.
func (page *LoginPage) Handle(contextGin *gin.Context) {
	_, failed := contextGin.GetQuery("error")
	view := loginPageView{Failed: failed}
	for _, provider := range page.configuration.Providers {
		view.Providers = append(view.Providers, loginPageProvider{
			Name: provider,
			Href: page.configuration.AuthorizationPrefix + "/" + provider,
		})
	}
	var rendered bytes.Buffer
	if err := page.template.Execute(&rendered, view); err != nil {
		contextGin.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "web.login_page.render_failed"})
		return
	}
	contextGin.Header("Cache-Control", "no-store")
	contextGin.Data(http.StatusOK, "text/html; charset=utf-8", rendered.Bytes())
}

// ClientConfig contains the endpoints exposed to the token client script.
type ClientConfig struct {
	BaseURL       string
	TokenPath     string
	LogoutPath    string
	LoginPath     string
	PostLoginPath string
}

// ServeClientConfig emits a JavaScript payload that hydrates window.__BLOGAUTH_CONFIG.
func ServeClientConfig(contextGin *gin.Context, configuration ClientConfig) {
	baseURL := configuration.BaseURL
	if strings.TrimSpace(baseURL) == "" {
		host := contextGin.Request.Host
		if host == "" {
			host = "localhost"
		}
		baseURL = fmt.Sprintf("%s://%s", forwardedProto(contextGin.Request), host)
	}
	payload := struct {
		BaseURL       string `json:"baseUrl"`
		TokenPath     string `json:"tokenPath"`
		LogoutPath    string `json:"logoutPath"`
		LoginPath     string `json:"loginPath"`
		PostLoginPath string `json:"postLoginPath"`
	}{
		BaseURL:       baseURL,
		TokenPath:     configuration.TokenPath,
		LogoutPath:    configuration.LogoutPath,
		LoginPath:     configuration.LoginPath,
		PostLoginPath: configuration.PostLoginPath,
	}
	encoded, encodeErr := json.Marshal(payload)
	if encodeErr != nil {
		contextGin.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "web.client_config.encode_failed"})
		return
	}

	contextGin.Header("Cache-Control", "no-store, no-cache, must-revalidate, private")
	contextGin.Header("X-Content-Type-Options", "nosniff")
	contextGin.Data(http.StatusOK, "application/javascript; charset=utf-8",
		[]byte(fmt.Sprintf("window.__BLOGAUTH_CONFIG=Object.freeze(%s);", encoded)))
}

func forwardedProto(request *http.Request) string {
	if request == nil {
		return "https"
	}
	if headerValue := request.Header.Get("X-Forwarded-Proto"); headerValue != "" {
		return headerValue
	}
	if request.TLS != nil {
		return "https"
	}
	if request.URL != nil && request.URL.Scheme != "" {
		return request.URL.Scheme
	}
	return "http"
}
