// Package qrtoken issues and checks the signed tokens printed as QR codes on
// each table.
package qrtoken

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/dgrijalva/jwt-go"

	"table-service/internal/apperrors"
	"table-service/internal/utils"
)

type Claims struct {
	TableID     string `json:"tableId"`
	TableNumber string `json:"tableNumber"`
	Zone        string `json:"zone,omitempty"`
	jwt.StandardClaims
}

type Manager struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

func NewManager(secret string, ttl time.Duration) *Manager {
	return &Manager{secret: []byte(secret), ttl: ttl, now: time.Now}
}

// WithClock swaps the time source, for tests.
func (m *Manager) WithClock(now func() time.Time) *Manager {
	m.now = now
	return m
}

// Issue signs a token for a table. The returned time is the token expiry.
func (m *Manager) Issue(tableID, tableNumber, zone string) (string, time.Time, error) {
	now := m.now()
	exp := now.Add(m.ttl)

	t := jwt.NewWithClaims(jwt.SigningMethodHS256, &Claims{
		TableID:     tableID,
		TableNumber: tableNumber,
		Zone:        zone,
		StandardClaims: jwt.StandardClaims{
			Id:        utils.GenerateUUID(),
			Subject:   tableID,
			ExpiresAt: exp.Unix(),
			IssuedAt:  now.Unix(),
		},
	})

	token, err := t.SignedString(m.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("failed to sign qr token: %w", err)
	}
	return token, exp, nil
}

func (m *Manager) keyFunc(t *jwt.Token) (interface{}, error) {
	if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
		return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
	}
	return m.secret, nil
}

// tokenError reports a validator failure. It is an external-service error
// like any other collaborator failure; handlers answer it with 401.
func tokenError(code, msg string) *apperrors.Error {
	return &apperrors.Error{Kind: apperrors.ErrExternalService, Code: code, Message: msg}
}

// Validate checks signature, structure and expiry. Failures carry one of
// TOKEN_MALFORMED, TOKEN_INVALID or TOKEN_EXPIRED.
func (m *Manager) Validate(token string) (*Claims, error) {
	token = strings.TrimSpace(token)
	if token == "" || strings.Count(token, ".") != 2 {
		return nil, tokenError(apperrors.CodeTokenMalformed, "qr token is malformed")
	}

	claims := &Claims{}
	parser := jwt.Parser{SkipClaimsValidation: true}
	_, err := parser.ParseWithClaims(token, claims, m.keyFunc)
	if err != nil {
		var verr *jwt.ValidationError
		if errors.As(err, &verr) && verr.Errors&jwt.ValidationErrorMalformed != 0 {
			return nil, tokenError(apperrors.CodeTokenMalformed, "qr token is malformed")
		}
		return nil, tokenError(apperrors.CodeTokenInvalid, "qr token signature is invalid")
	}

	if claims.TableID == "" {
		return nil, tokenError(apperrors.CodeTokenInvalid, "qr token does not name a table")
	}
	if claims.ExpiresAt != 0 && m.now().Unix() >= claims.ExpiresAt {
		return nil, tokenError(apperrors.CodeTokenExpired, "qr token has expired").With("tableId", claims.TableID)
	}
	return claims, nil
}

// IsTokenExpired reports whether token's expiry has passed. The signature is
// not checked; unparseable tokens count as expired.
func (m *Manager) IsTokenExpired(token string) bool {
	claims := &Claims{}
	if _, _, err := new(jwt.Parser).ParseUnverified(token, claims); err != nil {
		return true
	}
	return claims.ExpiresAt != 0 && m.now().Unix() >= claims.ExpiresAt
}
