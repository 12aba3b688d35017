package api

import (
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"

	"github.com/gorilla/handlers"
)

const redacted = "REDACTED"

// redactedCombinedLog writes an Apache Combined Log Format line with the
// token query parameter masked.
func redactedCombinedLog(w io.Writer, p handlers.LogFormatterParams) {
	host, _, err := net.SplitHostPort(p.Request.RemoteAddr)
	if err != nil {
		host = p.Request.RemoteAddr
	}

	fmt.Fprintf(w, "%s - - [%s] \"%s %s %s\" %d %d %s %s\n",
		host,
		p.TimeStamp.Format("02/Jan/2006:15:04:05 -0700"),
		p.Request.Method,
		redactedURI(p.URL),
		p.Request.Proto,
		p.StatusCode,
		p.Size,
		strconv.Quote(p.Request.Referer()),
		strconv.Quote(p.Request.UserAgent()),
	)
}

func redactedURI(u url.URL) string {
	q := u.Query()
	if q.Has(tokenQueryKey) {
		q.Set(tokenQueryKey, redacted)
		u.RawQuery = q.Encode()
	}

	return u.RequestURI()
}

func (s *ChatApp) errorHandler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if err := recover(); err != nil {
				var panicError error
				switch e := err.(type) {
				case error:
					panicError = e
				default:
					panicError = fmt.Errorf("%v", e)
				}
				s.log.Printf("panic: %v", panicError)
				errResp := NewInternalServerError(panicError)
				w.Header().Set("Connection", "close")
				s.writeJson(w, errResp.StatusCode, errResp)
				return
			}
		}()

		next.ServeHTTP(w, r)
	})
}

func (s *ChatApp) authMiddleware(next http.HandlerFunc) http.HandlerFunc {
	return s.authenticate(next, false)
}

// wsAuthMiddleware also accepts the token as a query parameter. A failed
// check answers 401 before the connection is upgraded.
func (s *ChatApp) wsAuthMiddleware(next http.HandlerFunc) http.HandlerFunc {
	return s.authenticate(next, true)
}

func (s *ChatApp) authenticate(next http.HandlerFunc, allowQuery bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		identity, err := s.authn.Authenticate(tokenFromRequest(r, allowQuery))
		if err != nil {
			s.log.Printf("authenticate %s %s: %v", r.Method, r.URL.Path, err)
			errResp := NewUnauthorizedError()
			s.writeJson(w, errResp.StatusCode, errResp)
			return
		}

		ctx := WithIdentity(r.Context(), identity)
		w.Header().Set("Cache-Control", "no-store, no-cache, must-revalidate, private")

		next(w, r.WithContext(ctx))
	}
}
