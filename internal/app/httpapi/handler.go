// Package httpapi exposes the raffle layer over HTTP.
package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/holiman/uint256"

	app "github.com/R3E-Network/raffle_layer/internal/app"
	"github.com/R3E-Network/raffle_layer/internal/config"
	"github.com/R3E-Network/raffle_layer/internal/metrics"
	"github.com/R3E-Network/raffle_layer/internal/middleware"
	"github.com/R3E-Network/raffle_layer/pkg/logger"
)

// handler bundles HTTP endpoints for the application.
type handler struct {
	app      *app.Application
	log      *logger.Logger
	upgrader websocket.Upgrader
}

// NewHandler returns a router exposing the REST API, the event stream,
// health and metrics.
func NewHandler(application *app.Application, log *logger.Logger) http.Handler {
	if log == nil {
		log = logger.NewDefault("http")
	}
	h := &handler{
		app: application,
		log: log,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
	}

	r := mux.NewRouter()
	r.Use(middleware.NewTracingMiddleware(log).Handler, middleware.MetricsMiddleware())
	if origins := application.Config.Server.CORSOrigins; len(origins) > 0 {
		r.Use(middleware.NewCORSMiddleware(origins).Handler)
	}
	if limit := application.Config.Server.RateLimit; limit > 0 {
		r.Use(middleware.NewRateLimiter(limit, application.Config.Server.RateBurst, log.Named("ratelimit")).Handler)
	}

	r.HandleFunc("/healthz", h.health).Methods(http.MethodGet)
	r.Handle("/metrics", metrics.Handler()).Methods(http.MethodGet)

	operator := application.Auth.Require(middleware.RoleOperator)
	player := application.Auth.Require(middleware.RolePlayer)

	api := r.PathPrefix("/v1").Subrouter()
	api.HandleFunc("/raffle", h.snapshot).Methods(http.MethodGet)
	api.Handle("/raffle/entries", player(http.HandlerFunc(h.enter))).Methods(http.MethodPost)
	api.HandleFunc("/raffle/upkeep", h.checkUpkeep).Methods(http.MethodGet)
	api.HandleFunc("/raffle/upkeep", h.performUpkeep).Methods(http.MethodPost)
	api.HandleFunc("/raffle/players", h.players).Methods(http.MethodGet)
	api.HandleFunc("/raffle/players/{index}", h.player).Methods(http.MethodGet)
	api.HandleFunc("/raffle/winner", h.winner).Methods(http.MethodGet)
	api.HandleFunc("/raffle/rounds", h.rounds).Methods(http.MethodGet)
	api.HandleFunc("/raffle/rounds/{number}", h.round).Methods(http.MethodGet)

	api.Handle("/ledger/deposits", operator(http.HandlerFunc(h.deposit))).Methods(http.MethodPost)
	api.HandleFunc("/ledger/{address}", h.account).Methods(http.MethodGet)
	api.HandleFunc("/ledger/{address}/transfers", h.transfers).Methods(http.MethodGet)
	api.Handle("/ledger/{address}/freeze", operator(http.HandlerFunc(h.freeze))).Methods(http.MethodPost)
	api.Handle("/ledger/{address}/unfreeze", operator(http.HandlerFunc(h.unfreeze))).Methods(http.MethodPost)

	// Remote oracles call back over HTTP. The local coordinator delivers
	// proven words in process, so the callback route is not exposed.
	if application.Config.VRF.Mode == config.VRFModeRemote {
		oracle := application.Auth.Require(middleware.RoleOracle)
		api.Handle("/raffle/fulfillment", oracle(http.HandlerFunc(h.fulfill))).Methods(http.MethodPost)
	}

	if application.Coordinator != nil {
		api.Handle("/vrf/subscriptions", operator(http.HandlerFunc(h.createSubscription))).Methods(http.MethodPost)
		api.HandleFunc("/vrf/subscriptions/{id}", h.getSubscription).Methods(http.MethodGet)
		api.Handle("/vrf/subscriptions/{id}/fund", operator(http.HandlerFunc(h.fundSubscription))).Methods(http.MethodPost)
		api.Handle("/vrf/subscriptions/{id}/consumers", operator(http.HandlerFunc(h.addConsumer))).Methods(http.MethodPost)
		api.Handle("/vrf/subscriptions/{id}/consumers/{address}", operator(http.HandlerFunc(h.removeConsumer))).Methods(http.MethodDelete)
		api.HandleFunc("/vrf/requests", h.pendingRequests).Methods(http.MethodGet)
		api.HandleFunc("/vrf/requests/{id}", h.getRequest).Methods(http.MethodGet)
		api.Handle("/vrf/requests/{id}/fulfill", operator(http.HandlerFunc(h.fulfillRequest))).Methods(http.MethodPost)
		api.Handle("/vrf/requests/{id}/redeliver", operator(http.HandlerFunc(h.redeliverRequest))).Methods(http.MethodPost)
	}

	api.HandleFunc("/events", h.stream).Methods(http.MethodGet)
	api.HandleFunc("/events/recent", h.recentEvents).Methods(http.MethodGet)
	return r
}

func (h *handler) health(w http.ResponseWriter, r *http.Request) {
	if err := h.app.Ready(r.Context()); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable", "error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":   "ok",
		"phase":    h.app.Machine.Phase().String(),
		"round":    h.app.Machine.Round(),
		"services": h.app.Services(),
	})
}

func decodeJSON(body io.ReadCloser, dst interface{}) error {
	defer body.Close()
	dec := json.NewDecoder(body)
	dec.DisallowUnknownFields()
	return dec.Decode(dst)
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, err error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": err.Error()})
}

func parseAddress(raw string) (common.Address, error) {
	if !common.IsHexAddress(raw) {
		return common.Address{}, fmt.Errorf("invalid address %q", raw)
	}
	return common.HexToAddress(raw), nil
}

// parseAmount accepts a decimal string or a 0x prefixed hex string.
func parseAmount(raw string) (*uint256.Int, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, errors.New("amount is required")
	}
	if strings.HasPrefix(raw, "0x") || strings.HasPrefix(raw, "0X") {
		b, err := hexBytes(raw[2:])
		if err != nil || len(b) > 32 {
			return nil, fmt.Errorf("invalid hex amount %q", raw)
		}
		return new(uint256.Int).SetBytes(b), nil
	}
	v, err := uint256.FromDecimal(raw)
	if err != nil {
		return nil, fmt.Errorf("invalid amount %q: %w", raw, err)
	}
	return v, nil
}

func hexBytes(s string) ([]byte, error) {
	if len(s)%2 == 1 {
		s = "0" + s
	}
	return hexutil.Decode("0x" + s)
}

func parseLimit(r *http.Request, def int) (int, error) {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return def, nil
	}
	limit, err := strconv.Atoi(raw)
	if err != nil || limit < 0 {
		return 0, fmt.Errorf("invalid limit %q", raw)
	}
	return limit, nil
}

func parseUint(raw, field string) (uint64, error) {
	v, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q", field, raw)
	}
	return v, nil
}
