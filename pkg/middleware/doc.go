// Package middleware はGinベースのHTTP APIで使用する共通ミドルウェアを提供する。
//
// リクエストごとの相関ID・リクエストIDの付与、JWTによる呼び出し元ユーザーの解決、
// アクセスログ、パニックリカバリ、CORS設定を含む。
// 適用順は Recovery、Correlation、AccessLog、CORS、Identity とする。
package middleware
