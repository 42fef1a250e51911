package wsgate

import (
	"fmt"
	"net"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog"
)

const unauthorizedResponse = "HTTP/1.1 401 Unauthorized\r\n" +
	"WWW-Authenticate: Bearer\r\n" +
	"Content-Length: 0\r\n" +
	"Connection: close\r\n\r\n"

// authorize gates upgrade requests behind a bearer token when the
// server is configured with an HMAC secret. Browsers can't set the
// Authorization header on WebSocket handshakes, so the token is also
// accepted in the "access_token" query parameter (RFC 6750 section 2.3).
// A rejected request gets a 401 and its connection closed; without a
// configured secret every request passes.
func (s *Server) authorize(l zerolog.Logger, nc net.Conn, r *http.Request) bool {
	if len(s.authSecret) == 0 {
		return true
	}

	token := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
	if token == "" || token == r.Header.Get("Authorization") {
		token = r.URL.Query().Get("access_token")
	}

	if err := s.verifyToken(token); err != nil {
		l.Warn().Err(err).Msg("rejected unauthorized upgrade request")
		_, _ = nc.Write([]byte(unauthorizedResponse))
		_ = nc.Close()
		return false
	}

	return true
}

func (s *Server) verifyToken(token string) error {
	if token == "" {
		return fmt.Errorf("missing bearer token")
	}

	_, err := jwt.Parse(token, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return s.authSecret, nil
	}, jwt.WithValidMethods([]string{"HS256"}), jwt.WithExpirationRequired())
	if err != nil {
		return fmt.Errorf("failed to verify bearer token: %w", err)
	}

	return nil
}
