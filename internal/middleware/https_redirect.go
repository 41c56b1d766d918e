package middleware

import "net/http"

// NewHTTPSRedirectMiddleware はリバースプロキシ背後でのHTTPリクエストを
// HTTPSへ301リダイレクトするミドルウェアを返す。
// X-Forwarded-Protoヘッダーで元のスキームを判定する（プロキシが付与する前提）。
// enabledがfalseの場合は何もしない（ローカル開発用）。
func NewHTTPSRedirectMiddleware(enabled bool) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if !enabled {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Header.Get("X-Forwarded-Proto") == "http" {
				target := "https://" + r.Host + r.URL.RequestURI()
				http.Redirect(w, r, target, http.StatusMovedPermanently)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
