package authkit

import (
	"net/http"
)

// CookieJar reads request cookies and writes response cookies.
type CookieJar interface {
	Cookie(name string) (*http.Cookie, error)
	SetCookie(cookie *http.Cookie)
}

type httpCookieJar struct {
	request *http.Request
	writer  http.ResponseWriter
}

// NewHTTPCookieJar adapts a request/response pair to a CookieJar.
func NewHTTPCookieJar(request *http.Request, writer http.ResponseWriter) CookieJar {
	return &httpCookieJar{request: request, writer: writer}
}

func (jar *httpCookieJar) Cookie(name string) (*http.Cookie, error) {
	if jar.request == nil {
		return nil, http.ErrNoCookie
	}
	return jar.request.Cookie(name)
}

func (jar *httpCookieJar) SetCookie(cookie *http.Cookie) {
	http.SetCookie(jar.writer, cookie)
}

// CookieSecurity carries the attributes shared by every cookie the core writes.
type CookieSecurity struct {
	Domain   string
	Secure   bool
	SameSite http.SameSite
}

func addCookie(jar CookieJar, security CookieSecurity, name string, value string, maxAgeSeconds int) {
	jar.SetCookie(&http.Cookie{
		Name:     name,
		Value:    value,
		Path:     "/",
		Domain:   security.Domain,
		MaxAge:   maxAgeSeconds,
		Secure:   security.Secure,
		HttpOnly: true,
		SameSite: security.SameSite,
	})
}

// deleteCookie expires the named cookie when the request carries it.
// A negative MaxAge is serialized as "Max-Age=0".
func deleteCookie(jar CookieJar, security CookieSecurity, name string) {
	existing, err := jar.Cookie(name)
	if err != nil || existing == nil {
		return
	}
	jar.SetCookie(&http.Cookie{
		Name:     name,
		Value:    "",
		Path:     "/",
		Domain:   security.Domain,
		MaxAge:   -1,
		Secure:   security.Secure,
		HttpOnly: true,
		SameSite: security.SameSite,
	})
}
