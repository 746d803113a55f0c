// Package headers はサービス間で受け渡すHTTPヘッダーの名前と、
// 順序付きのヘッダー集合を提供する。
//
// ゲートウェイが付与する識別子ヘッダー、ユーザー情報ヘッダー、
// エンリッチメント用メタデータヘッダーの名前はすべてここで定義し、
// 下流サービスとの相互運用のために表記を固定する。
package headers
