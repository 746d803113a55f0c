package headers

// 相関・識別子ヘッダー。
const (
	// CorrelationID は論理トランザクション全体で共有される相関ID。
	CorrelationID = "X-Correlation-ID"
	// RequestID はホップごとに払い出されるリクエストID。
	RequestID = "X-Request-ID"
)

// ゲートウェイのメタデータヘッダー。
const (
	// GatewayTimestamp はゲートウェイがタグ付けした時刻（ISO-8601）。
	GatewayTimestamp = "X-Gateway-Timestamp"
	// GatewayService はタグ付けしたゲートウェイのサービス名。
	GatewayService = "X-Gateway-Service"
	// GatewayVersion はタグ付けしたゲートウェイのバージョン。
	GatewayVersion = "X-Gateway-Version"
)

// ユーザー情報ヘッダー。
const (
	// Username は認証済みユーザーのユーザー名。
	Username = "X-Username"
	// UserUUID は認証済みユーザーの一意識別子。
	UserUUID = "X-User-UUID"
	// UserEmail は認証済みユーザーのメールアドレス。
	UserEmail = "X-User-Email"
	// UserAuthorities は権限名をカンマ区切りで連結した値。
	UserAuthorities = "X-User-Authorities"
	// AnonymousRequest は未認証リクエストであることを示すマーカー。
	AnonymousRequest = "X-Anonymous-Request"
)

// エンリッチメントヘッダー。
const (
	Enriched       = "X-Enriched"
	EnrichedAt     = "X-Enriched-At"
	EnrichedBy     = "X-Enriched-By"
	ProcessingTime = "X-Processing-Time"
	TargetService  = "X-Target-Service"
	UserContext    = "X-User-Context"
	RequestSource  = "X-Request-Source"
)

// プロキシ経由であることを示すヘッダー。
const (
	// ViaInterceptor はプロキシを経由したリクエストであることを示す。
	ViaInterceptor = "X-Via-Interceptor"
	// ProxyService は転送を行ったサービス名。
	ProxyService = "X-Proxy-Service"
	// DirectAccess は下流サービスへ直接アクセスしたことを示す。
	DirectAccess = "X-Direct-Access"
)

// サービス固有ヘッダー。
const (
	ServiceCategory = "X-Service-Category"
	CacheStrategy   = "X-Cache-Strategy"
	AuditRequired   = "X-Audit-Required"
	Priority        = "X-Priority"
	DataSensitivity = "X-Data-Sensitivity"
)

// 標準ヘッダー。
const (
	Authorization = "Authorization"
	ContentType   = "Content-Type"
)

// IdentityNames はクライアントから受け取っても信用しないユーザー情報ヘッダーの一覧。
// ゲートウェイが検証済みのPrincipalから付け直す。
var IdentityNames = []string{
	Username,
	UserUUID,
	UserEmail,
	UserAuthorities,
	AnonymousRequest,
}
