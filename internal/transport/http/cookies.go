package httpserver

import (
	"net/http"
	"time"
)

const refreshCookieName = "refreshToken"

type CookieConfig struct {
	Secure bool
	MaxAge time.Duration
}

func CreateCookie(name, value, path string, maxAge time.Duration, secure bool) *http.Cookie {
	return &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     path,
		MaxAge:   int(maxAge / time.Second),
		Expires:  time.Now().Add(maxAge),
		HttpOnly: true,
		Secure:   secure,
		SameSite: http.SameSiteLaxMode,
	}
}

func DeleteCookie(name, path string, secure bool) *http.Cookie {
	return &http.Cookie{
		Name:     name,
		Value:    "",
		Path:     path,
		MaxAge:   -1,
		Expires:  time.Unix(0, 0),
		HttpOnly: true,
		Secure:   secure,
		SameSite: http.SameSiteLaxMode,
	}
}

func (cc CookieConfig) refresh(value string) *http.Cookie {
	return CreateCookie(refreshCookieName, value, "/", cc.MaxAge, cc.Secure)
}

func (cc CookieConfig) clearRefresh() *http.Cookie {
	return DeleteCookie(refreshCookieName, "/", cc.Secure)
}
