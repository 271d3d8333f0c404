package server

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/Daskott/sheguard/colors"
	"github.com/Daskott/sheguard/server/apperr"
	"github.com/Daskott/sheguard/server/identity"
)

type RequestContextKey string

const sessionContextKey = RequestContextKey("session")

// resolvedSession is what initialContextMiddleware leaves in the request
// context: either a session or the reason there is none.
type resolvedSession struct {
	Session *identity.Session
	Err     error
}

type ResponseWriterWithStatus struct {
	http.ResponseWriter
	Status int
}

func (r *ResponseWriterWithStatus) WriteHeader(status int) {
	r.Status = status
	r.ResponseWriter.WriteHeader(status)
}

func loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		responseWriter := &ResponseWriterWithStatus{
			ResponseWriter: w,
			Status:         200,
		}

		defer func() {
			responseStatus := colors.Green(responseWriter.Status)
			if responseWriter.Status >= 400 {
				responseStatus = colors.Red(responseWriter.Status)
			}

			logg.Infof(
				"%v %v %v %v",
				r.Method,
				r.URL.Path,
				responseStatus,
				colors.Yellow(fmt.Sprintf("[%v]", time.Since(start))))
		}()

		next.ServeHTTP(responseWriter, r)
	})
}

func (app *App) initialContextMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Add("Content-Type", "application/json")

		session, err := app.service.ResolveSession(r.Context(), sessionToken(r))
		ctx := context.WithValue(r.Context(), sessionContextKey, resolvedSession{Session: session, Err: err})

		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func protectedRouteMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		resolved, _ := r.Context().Value(sessionContextKey).(resolvedSession)
		if resolved.Session == nil {
			err := resolved.Err
			if err == nil {
				err = apperr.New(apperr.KindAuthentication, "Not authenticated")
			}
			writeError(w, err)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// adminRouteMiddleware must run after protectedRouteMiddleware. The role is
// read from the stored record and checked against the admin list.
func (app *App) adminRouteMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := app.service.RequireAdmin(r.Context(), requestSession(r)); err != nil {
			writeError(w, err)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// ---------------------------------------------------------------------------------//
// Helper functions
// --------------------------------------------------------------------------------//

// sessionToken reads the session token from the Authorization header, falling
// back to the session cookie.
func sessionToken(r *http.Request) string {
	authHeaderList := strings.SplitN(r.Header.Get("Authorization"), "Bearer ", 2)
	if len(authHeaderList) == 2 && strings.TrimSpace(authHeaderList[1]) != "" {
		return strings.TrimSpace(authHeaderList[1])
	}

	cookie, err := r.Cookie(sessionCookieName)
	if err != nil {
		return ""
	}
	return cookie.Value
}

func requestSession(r *http.Request) identity.Session {
	resolved, _ := r.Context().Value(sessionContextKey).(resolvedSession)
	if resolved.Session == nil {
		return identity.Session{}
	}
	return *resolved.Session
}
