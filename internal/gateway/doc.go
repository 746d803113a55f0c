// Package gateway はrelayのHTTPサーバーを提供する。
//
// /proxy/{service} で受けたリクエストに相関ID・リクエストID・ユーザー情報・
// エンリッチメント用のヘッダーを付与し、登録済みの下流サービスへ転送する。
// すべてのリクエストは受付時と完了時の2回、監査ログに記録する。
// ヘッダーの検査用エンドポイントと監査ログの参照用エンドポイントも提供する。
package gateway
