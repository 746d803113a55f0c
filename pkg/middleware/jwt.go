package middleware

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/nao1215/relay/pkg/headers"
	"github.com/nao1215/relay/pkg/identity"
)

// issuer はトークンの発行者。
const issuer = "relay-gateway"

// JWTClaims はJWTトークンのクレーム（ペイロード）を表す。
// Subject にユーザー名を格納する。
type JWTClaims struct {
	jwt.RegisteredClaims
	// UUID はユーザーの一意識別子。
	UUID string `json:"uuid,omitempty"`
	// Email はユーザーのメールアドレス。
	Email string `json:"email,omitempty"`
	// Authorities はユーザーに付与された権限。
	Authorities []string `json:"authorities,omitempty"`
}

// principal はクレームからPrincipalを組み立てる。
func (c *JWTClaims) principal() *identity.Principal {
	return identity.Normalize(&identity.Principal{
		Username:    c.Subject,
		UserUUID:    c.UUID,
		Email:       c.Email,
		Authorities: c.Authorities,
	})
}

// GenerateJWT はユーザー情報から24時間有効なJWTトークンを生成する。
func GenerateJWT(secret string, p identity.Principal) (string, error) {
	now := time.Now()
	claims := JWTClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   p.Username,
			ExpiresAt: jwt.NewNumericDate(now.Add(24 * time.Hour)),
			IssuedAt:  jwt.NewNumericDate(now),
			Issuer:    issuer,
		},
		UUID:        p.UserUUID,
		Email:       p.Email,
		Authorities: p.Authorities,
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(secret))
	if err != nil {
		return "", fmt.Errorf("JWTトークンの署名に失敗: %w", err)
	}
	return signed, nil
}

// Identity は呼び出し元のユーザーを解決するGinミドルウェアを返す。
//
// Authorizationヘッダーが無いリクエストは未認証のまま通す。
// Bearerトークンが検証できた場合はRequestContextにPrincipalを設定し、
// 形式不正・署名不一致・期限切れの場合は401を返す。
// secret が空の場合はトークンを検証せず、すべて未認証として扱う。
// Correlationミドルウェアの後に適用すること。
func Identity(secret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader(headers.Authorization)
		if authHeader == "" || secret == "" {
			c.Next()
			return
		}

		tokenString, found := strings.CutPrefix(authHeader, "Bearer ")
		if !found {
			abortWithError(c, http.StatusUnauthorized, "Bearer トークン形式が不正です")
			return
		}

		claims := &JWTClaims{}
		token, err := jwt.ParseWithClaims(tokenString, claims, func(_ *jwt.Token) (any, error) {
			return []byte(secret), nil
		}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
		if err != nil || !token.Valid {
			abortWithError(c, http.StatusUnauthorized, "トークンが無効です")
			return
		}

		if rc := GetRequestContext(c); rc != nil {
			rc.Principal = claims.principal()
		}
		c.Next()
	}
}

// GetPrincipal はGinコンテキストから呼び出し元のユーザーを取得する。
// 未認証の場合は nil を返す。
func GetPrincipal(c *gin.Context) *identity.Principal {
	if rc := GetRequestContext(c); rc != nil {
		return rc.Principal
	}
	return nil
}
