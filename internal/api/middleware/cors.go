package middleware

import (
	"net/http"
	"strings"
)

// defaultOrigins - dev-серверы дашборда
var defaultOrigins = []string{
	"http://localhost:3000",
	"http://127.0.0.1:3000",
	"http://localhost:5173", // Vite dev server
	"http://127.0.0.1:5173",
}

// OriginPolicy - набор разрешённых Origin.
// Только чтение после создания, безопасен для конкурентного использования.
type OriginPolicy struct {
	allowed  map[string]struct{}
	allowAll bool
}

// NewOriginPolicy строит политику из списка CORS_ALLOWED_ORIGINS.
// Пустой список означает dev origins, "*" разрешает всё.
func NewOriginPolicy(origins []string) *OriginPolicy {
	p := &OriginPolicy{allowed: make(map[string]struct{})}
	if len(origins) == 0 {
		origins = defaultOrigins
	}
	for _, o := range origins {
		o = strings.TrimSpace(o)
		switch o {
		case "":
		case "*":
			p.allowAll = true
		default:
			p.allowed[o] = struct{}{}
		}
	}
	return p
}

// Allowed - запросы без Origin (curl, Prometheus) всегда разрешены
func (p *OriginPolicy) Allowed(origin string) bool {
	if origin == "" || p.allowAll {
		return true
	}
	_, ok := p.allowed[origin]
	return ok
}

// CheckOrigin - для websocket.Upgrader
func (p *OriginPolicy) CheckOrigin(r *http.Request) bool {
	return p.Allowed(r.Header.Get("Origin"))
}

// CORS выставляет заголовки для разрешённых origins.
// API только читает, поэтому разрешены GET и OPTIONS.
// Для неразрешённых origins заголовки не ставятся: браузер заблокирует ответ.
func CORS(p *OriginPolicy) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")

			if origin != "" && p.Allowed(origin) {
				w.Header().Set("Access-Control-Allow-Origin", origin)
				w.Header().Set("Access-Control-Allow-Credentials", "true")
				w.Header().Add("Vary", "Origin")
			}

			w.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Authorization, Content-Type, X-Request-ID")
			w.Header().Set("Access-Control-Max-Age", "86400") // 24 часа кеширования preflight

			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusNoContent)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
