package auth

import (
	"errors"
	"fmt"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"
)

// ErrInvalidToken はセッショントークンが検証できない場合のエラー。
var ErrInvalidToken = errors.New("invalid session token")

// Claims はセッショントークンに格納するクレーム。
// subにユーザーID、sidにセッションIDを格納する。
type Claims struct {
	SessionID string `json:"sid"`
	WebID     string `json:"webid"`
	jwt.RegisteredClaims
}

// UserID はsubクレームのユーザーIDを返す。
func (c *Claims) UserID() string {
	return c.Subject
}

// TokenIssuer はHS256で署名されたセッショントークンを発行・検証する。
type TokenIssuer struct {
	secret []byte
	now    func() time.Time
}

// NewTokenIssuer はTokenIssuerを生成する。
func NewTokenIssuer(secret string) *TokenIssuer {
	return &TokenIssuer{secret: []byte(secret), now: time.Now}
}

// Issue はセッションに対応するトークンを署名して返す。
func (i *TokenIssuer) Issue(userID, sessionID, webID string, expiresAt time.Time) (string, error) {
	now := i.now()
	claims := Claims{
		SessionID: sessionID,
		WebID:     webID,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(i.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, nil
}

// Parse は署名、アルゴリズム、有効期限を検証してクレームを返す。
func (i *TokenIssuer) Parse(tokenStr string) (*Claims, error) {
	return i.parse(tokenStr, false)
}

// ParseAllowExpired は有効期限切れのトークンも受け入れる。ログアウト時のセッション削除に使う。
func (i *TokenIssuer) ParseAllowExpired(tokenStr string) (*Claims, error) {
	return i.parse(tokenStr, true)
}

func (i *TokenIssuer) parse(tokenStr string, allowExpired bool) (*Claims, error) {
	if tokenStr == "" {
		return nil, ErrInvalidToken
	}

	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(i.now),
	}
	if allowExpired {
		opts = append(opts, jwt.WithoutClaimsValidation())
	} else {
		opts = append(opts, jwt.WithExpirationRequired())
	}

	tok, err := jwt.ParseWithClaims(tokenStr, &Claims{}, func(t *jwt.Token) (interface{}, error) {
		if t.Method.Alg() != jwt.SigningMethodHS256.Alg() {
			return nil, errors.New("unexpected signing method")
		}
		return i.secret, nil
	}, opts...)
	if err != nil || !tok.Valid {
		if err == nil {
			err = errors.New("token is not valid")
		}
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	c, _ := tok.Claims.(*Claims)
	if c == nil || c.Subject == "" || c.SessionID == "" {
		return nil, fmt.Errorf("%w: missing claims", ErrInvalidToken)
	}
	return c, nil
}
