package api

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"spotarb/internal/api/handlers"
	"spotarb/internal/api/middleware"
	"spotarb/pkg/utils"
)

// Dependencies содержит все зависимости для API handlers.
// Nil-поля допустимы: соответствующие endpoints отвечают 503.
type Dependencies struct {
	Gateways handlers.GatewayLister
	Engine   handlers.DealSnapshotter
	Journal  handlers.JournalReader
	// Stream - WebSocket поток событий; nil отключает /api/v1/stream
	Stream http.HandlerFunc

	Origins  *middleware.OriginPolicy
	Username string
	Password string
	Logger   *utils.Logger
}

// OPTIONS нужен, чтобы preflight дошёл до CORS middleware
var readMethods = []string{http.MethodGet, http.MethodOptions}

// SetupRoutes настраивает HTTP маршруты демона.
//
// API только читает состояние:
//
//	/health                     - liveness
//	/metrics                    - Prometheus
//	/api/v1/gateways            - шлюзы: состояние и балансы
//	/api/v1/deals               - удерживаемые сделки движка
//	/api/v1/journal/deals       - история сделок (?limit=N)
//	/api/v1/journal/orders      - история ордеров (?limit=N)
//	/api/v1/stream              - WebSocket: сделки, ордера, переводы
//
// Middleware: Recovery, Logging, CORS для всех маршрутов;
// BasicAuth только для /api/v1.
func SetupRoutes(deps *Dependencies) *mux.Router {
	if deps == nil {
		deps = &Dependencies{}
	}
	if deps.Origins == nil {
		deps.Origins = middleware.NewOriginPolicy(nil)
	}

	router := mux.NewRouter()

	// Глобальные middleware (применяются ко всем маршрутам)
	router.Use(middleware.Recovery(deps.Logger))
	router.Use(middleware.Logging(deps.Logger))
	router.Use(middleware.CORS(deps.Origins))

	router.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	}).Methods(http.MethodGet)
	router.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)

	statusHandler := handlers.NewStatusHandler(deps.Gateways, deps.Engine)
	journalHandler := handlers.NewJournalHandler(deps.Journal)

	api := router.PathPrefix("/api/v1").Subrouter()
	api.Use(middleware.BasicAuth(deps.Username, deps.Password))

	api.HandleFunc("/gateways", statusHandler.GetGateways).Methods(readMethods...)
	api.HandleFunc("/deals", statusHandler.GetDeals).Methods(readMethods...)
	api.HandleFunc("/journal/deals", journalHandler.GetDeals).Methods(readMethods...)
	api.HandleFunc("/journal/orders", journalHandler.GetOrders).Methods(readMethods...)
	if deps.Stream != nil {
		api.HandleFunc("/stream", deps.Stream).Methods(http.MethodGet)
	}

	return router
}
