package auth

import (
	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"
)

// Identity is the authenticated member as claimed by the access token.
type Identity struct {
	MemberID string
	Nickname string
}

// tokenClaims is the claim shape embedded in the API's access tokens.
type tokenClaims struct {
	User struct {
		ID   string `json:"id"`
		Nick string `json:"nick"`
	} `json:"user"`
	jwt.RegisteredClaims
}

// Identity decodes the current access token's claims. A missing or
// malformed token yields no identity; it is logged, never fatal. The
// signature is not verified here; the token was issued to us by the
// server and only the embedded profile fields are read.
func (s *Session) Identity() (Identity, bool) {
	tok, ok := s.Token()
	if !ok {
		return Identity{}, false
	}

	var claims tokenClaims
	if _, _, err := jwt.NewParser().ParseUnverified(tok.AccessToken, &claims); err != nil {
		if s.logger != nil {
			s.logger.Warn("cannot decode access token claims", zap.Error(err))
		}
		return Identity{}, false
	}
	if claims.User.ID == "" {
		if s.logger != nil {
			s.logger.Warn("access token has no user claim")
		}
		return Identity{}, false
	}
	return Identity{MemberID: claims.User.ID, Nickname: claims.User.Nick}, true
}
