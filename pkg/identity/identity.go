// Package identity は検証済みのPrincipalからユーザー情報ヘッダーを導出する。
//
// トークンの発行・検証は外部のIDプロバイダーの責務であり、
// このパッケージは検証済みの結果だけを受け取る。
package identity

import (
	"strings"
	"time"

	"github.com/nao1215/relay/pkg/headers"
)

// Principal はIDプロバイダーが検証したユーザー。
type Principal struct {
	// Username はユーザー名（JWTの sub クレーム）。必須。
	Username string `json:"username"`
	// UserUUID はユーザーの一意識別子。
	UserUUID string `json:"uuid,omitempty"`
	// Email はユーザーのメールアドレス。
	Email string `json:"email,omitempty"`
	// Authorities は付与された順の権限名。
	Authorities []string `json:"authorities,omitempty"`
}

// Metadata はタグ付けするゲートウェイ自身の情報。
type Metadata struct {
	// Service はゲートウェイのサービス名。
	Service string
	// Version はゲートウェイのバージョン。
	Version string
}

// Normalize は必須項目が欠けたPrincipalを未認証（nil）として扱う。
// 空の権限名は取り除く。
func Normalize(p *Principal) *Principal {
	if p == nil || strings.TrimSpace(p.Username) == "" {
		return nil
	}
	out := *p
	out.Authorities = make([]string, 0, len(p.Authorities))
	for _, a := range p.Authorities {
		if a != "" {
			out.Authorities = append(out.Authorities, a)
		}
	}
	return &out
}

// Extract はPrincipalからユーザー情報ヘッダーとゲートウェイのメタデータヘッダーを導出する。
// Principalが無い場合は X-Anonymous-Request のみを付与する。
// 空のクレームに対応するヘッダーは出力しない。
func Extract(p *Principal, meta Metadata, now time.Time) *headers.Set {
	out := headers.New()

	if p = Normalize(p); p != nil {
		out.Set(headers.Username, p.Username)
		if p.UserUUID != "" {
			out.Set(headers.UserUUID, p.UserUUID)
		}
		if p.Email != "" {
			out.Set(headers.UserEmail, p.Email)
		}
		if len(p.Authorities) > 0 {
			out.Set(headers.UserAuthorities, strings.Join(p.Authorities, ","))
		}
	} else {
		out.Set(headers.AnonymousRequest, "true")
	}

	out.Set(headers.GatewayTimestamp, now.UTC().Format(time.RFC3339Nano))
	out.Set(headers.GatewayService, meta.Service)
	out.Set(headers.GatewayVersion, meta.Version)
	return out
}
