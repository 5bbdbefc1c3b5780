package auth

import (
	"fmt"
	"strconv"

	"github.com/golang-jwt/jwt/v4"

	"github.com/pavelanni/boost/internal/model"
)

const tokenIssuer = "boost"

// IssueToken wraps a session in a signed JWT for API clients. The token ID
// is the session ID, so signing out revokes the token.
func (s *Service) IssueToken(sess *model.Session) (string, error) {
	claims := jwt.RegisteredClaims{
		Issuer:    tokenIssuer,
		Subject:   strconv.FormatInt(sess.UserID, 10),
		ID:        sess.ID,
		IssuedAt:  jwt.NewNumericDate(sess.CreatedAt),
		ExpiresAt: jwt.NewNumericDate(sess.ExpiresAt),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(s.secret)
}

// ParseToken verifies a JWT and returns the session ID it carries.
func (s *Service) ParseToken(tokenString string) (string, error) {
	claims := &jwt.RegisteredClaims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", token.Header["alg"])
		}
		return s.secret, nil
	})
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if !token.Valid || claims.ID == "" || claims.Issuer != tokenIssuer {
		return "", ErrInvalidToken
	}
	return claims.ID, nil
}
