// Package httpclient は下流サービスへリクエストを転送するHTTPクライアントを提供する。
//
// プロキシがエンリッチ済みのヘッダーとボディをそのまま転送し、
// 下流サービスの応答をステータス・ボディともに加工せずに受け取るために使用する。
package httpclient
