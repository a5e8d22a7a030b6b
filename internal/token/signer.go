// Package token issues and verifies the credential embedded in a permit's
// scannable code. The token is a signed, self-contained encoding of the
// permit id and validity window: authenticity checks need no database access,
// so field scanners work under degraded connectivity. Freshness against
// current permit state is the scan service's separate step.
package token

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// ErrInvalid is returned for any token that fails decoding or signature
// verification. Callers record the failed attempt rather than treating it as
// a fault.
var ErrInvalid = errors.New("invalid verification token")

// dateLayout keeps validity dates day-granular in the payload; the window is
// inclusive of both endpoints.
const dateLayout = "2006-01-02"

// Payload is the verified content of a token.
type Payload struct {
	PermitID  uuid.UUID
	ValidFrom time.Time
	ValidTo   time.Time
}

// Claims is the canonical token payload. Subject carries the permit id. The
// validity window is business data checked by the scan service, deliberately
// not mapped to exp/nbf: a lapsed permit must verify as authentic so the scan
// can report LAPSED instead of a generic invalid.
type Claims struct {
	ValidFrom string `json:"valid_from"`
	ValidTo   string `json:"valid_to"`
	jwt.RegisteredClaims
}

// Signer signs and verifies permit credentials with HS256. Keys are held by
// version tag; the kid header names the key a token was signed with so old
// and new keys coexist during rotation.
type Signer struct {
	keys        map[string][]byte
	activeKeyID string
	issuer      string
}

func NewSigner(keys map[string]string, activeKeyID, issuer string) *Signer {
	byID := make(map[string][]byte, len(keys))
	for kid, secret := range keys {
		byID[kid] = []byte(secret)
	}
	return &Signer{keys: byID, activeKeyID: activeKeyID, issuer: issuer}
}

// Sign mints a credential binding the permit id to its validity window.
func (s *Signer) Sign(permitID uuid.UUID, validFrom, validTo time.Time) (string, error) {
	key, ok := s.keys[s.activeKeyID]
	if !ok {
		return "", errors.New("active signing key not configured")
	}
	t := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		ValidFrom: validFrom.Format(dateLayout),
		ValidTo:   validTo.Format(dateLayout),
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:  permitID.String(),
			Issuer:   s.issuer,
			IssuedAt: jwt.NewNumericDate(time.Now()),
			ID:       uuid.NewString(),
		},
	})
	t.Header["kid"] = s.activeKeyID
	return t.SignedString(key)
}

// Verify recomputes the signature over the decoded payload and returns the
// bound triple. Any malformed encoding, unknown key, missing field, or
// signature mismatch yields ErrInvalid.
func (s *Signer) Verify(tokenString string) (Payload, error) {
	parsed, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, jwt.ErrTokenUnverifiable
		}
		kid, _ := t.Header["kid"].(string)
		key, ok := s.keys[kid]
		if !ok {
			return nil, jwt.ErrTokenUnverifiable
		}
		return key, nil
	}, jwt.WithIssuer(s.issuer))
	if err != nil || !parsed.Valid {
		return Payload{}, ErrInvalid
	}

	claims, ok := parsed.Claims.(*Claims)
	if !ok {
		return Payload{}, ErrInvalid
	}
	permitID, err := uuid.Parse(claims.Subject)
	if err != nil {
		return Payload{}, ErrInvalid
	}
	validFrom, err := time.Parse(dateLayout, claims.ValidFrom)
	if err != nil {
		return Payload{}, ErrInvalid
	}
	validTo, err := time.Parse(dateLayout, claims.ValidTo)
	if err != nil {
		return Payload{}, ErrInvalid
	}

	return Payload{PermitID: permitID, ValidFrom: validFrom, ValidTo: validTo}, nil
}
