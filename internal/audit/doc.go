// Package audit はリクエスト・レスポンスの監査ログを提供する。
//
// リクエストの受付時にPENDINGのレコードを作成し、完了時にSUCCESSまたはERRORへ
// 遷移させる2段階の記録を行う。書き込みは非同期で行い、永続化の失敗は
// リクエストの処理に影響させない。レコードはリクエストID・サービス名・状態・
// クライアントIP・時刻範囲で検索できる。
//
// 永続化先としてSQLite（SQLiteStore）とRedis（RedisStore）を提供する。
package audit
