// Package httpapi exposes the engine's read-only HTTP surface: venue
// listing, quote scans, best-route selection, health and metrics. Swaps are
// deliberately not reachable over HTTP.
package httpapi

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"math/big"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/openliq/aggregator/internal/ledger"
	"github.com/openliq/aggregator/internal/router"
	"github.com/openliq/aggregator/internal/token"
)

// nativeDecimals is the display precision for the native asset.
const nativeDecimals = 18

// Server wraps the HTTP listener and its handlers.
type Server struct {
	engine *router.Router
	book   *ledger.Book
	log    *zap.Logger
	srv    *http.Server
}

// New builds the server. gatherer feeds /metrics; pass nil to disable it.
func New(engine *router.Router, book *ledger.Book, log *zap.Logger, listen string, gatherer prometheus.Gatherer) *Server {
	s := &Server{
		engine: engine,
		book:   book,
		log:    log.Named("httpapi"),
	}
	s.srv = &http.Server{
		Addr:         listen,
		Handler:      s.handler(gatherer),
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
	return s
}

func (s *Server) handler(gatherer prometheus.Gatherer) http.Handler {
	r := mux.NewRouter()
	r.HandleFunc("/healthz", s.handleHealth).Methods(http.MethodGet)
	r.HandleFunc("/v1/venues", s.handleVenues).Methods(http.MethodGet)
	r.HandleFunc("/v1/quotes", s.handleQuotes).Methods(http.MethodGet)
	r.HandleFunc("/v1/route/best", s.handleBestRoute).Methods(http.MethodGet)
	if gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	}
	return r
}

// Start serves until Shutdown or a listener error.
func (s *Server) Start() error {
	s.log.Info("HTTP API listening", zap.String("addr", s.srv.Addr))
	if err := s.srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.Error("Response encode failed", zap.Error(err))
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, err error) {
	s.writeJSON(w, status, map[string]string{"error": err.Error()})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"status": "ok",
		"paused": s.engine.Paused(),
	})
}

type venueResponse struct {
	VenueID string `json:"venueId"`
	Name    string `json:"name"`
	Address string `json:"address"`
}

func (s *Server) handleVenues(w http.ResponseWriter, _ *http.Request) {
	venues := s.engine.Venues()
	out := make([]venueResponse, len(venues))
	for i, v := range venues {
		out[i] = venueResponse{
			VenueID: v.ID.Hex(),
			Name:    v.Info.Name,
			Address: v.Info.PrimaryAddress.Hex(),
		}
	}
	s.writeJSON(w, http.StatusOK, out)
}

type quoteResponse struct {
	VenueID        string `json:"venueId"`
	Name           string `json:"name"`
	AmountOut      string `json:"amountOut"`
	AmountOutHuman string `json:"amountOutHuman"`
	VenueData      string `json:"venueData,omitempty"`
}

func (s *Server) handleQuotes(w http.ResponseWriter, r *http.Request) {
	tokenIn, tokenOut, amountIn, err := parseQuoteQuery(r)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}
	quotes, err := s.engine.GetAllQuotes(r.Context(), tokenIn, tokenOut, amountIn)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}
	out := make([]quoteResponse, len(quotes))
	for i, q := range quotes {
		out[i] = quoteResponse{
			VenueID:        q.VenueID.Hex(),
			Name:           q.Name,
			AmountOut:      q.AmountOut.String(),
			AmountOutHuman: s.humanize(tokenOut, q.AmountOut),
			VenueData:      hex.EncodeToString(q.VenueData),
		}
	}
	s.writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleBestRoute(w http.ResponseWriter, r *http.Request) {
	tokenIn, tokenOut, amountIn, err := parseQuoteQuery(r)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}
	venue, amountOut, data, err := s.engine.GetBestRoute(r.Context(), tokenIn, tokenOut, amountIn)
	if err != nil {
		s.writeError(w, http.StatusNotFound, err)
		return
	}
	s.writeJSON(w, http.StatusOK, quoteResponse{
		VenueID:        venue.Hex(),
		AmountOut:      amountOut.String(),
		AmountOutHuman: s.humanize(tokenOut, amountOut),
		VenueData:      hex.EncodeToString(data),
	})
}

// humanize renders a base-unit amount using the token's registered
// decimals. Unknown tokens fall back to the raw integer string.
func (s *Server) humanize(t token.Token, amount *big.Int) string {
	decimals := uint8(nativeDecimals)
	if !t.IsNative() {
		info, ok := s.book.Info(t)
		if !ok {
			return amount.String()
		}
		decimals = info.Decimals
	}
	return decimal.NewFromBigInt(amount, -int32(decimals)).String()
}

func parseQuoteQuery(r *http.Request) (token.Token, token.Token, *big.Int, error) {
	q := r.URL.Query()
	tokenIn, err := parseToken(q.Get("in"))
	if err != nil {
		return token.Token{}, token.Token{}, nil, err
	}
	tokenOut, err := parseToken(q.Get("out"))
	if err != nil {
		return token.Token{}, token.Token{}, nil, err
	}
	amount, ok := new(big.Int).SetString(q.Get("amount"), 10)
	if !ok || amount.Sign() <= 0 {
		return token.Token{}, token.Token{}, nil, router.ErrZeroAmount
	}
	return tokenIn, tokenOut, amount, nil
}

func parseToken(s string) (token.Token, error) {
	if s == "" {
		return token.Token{}, errors.New("missing token parameter")
	}
	if s == "native" {
		return token.Native(), nil
	}
	return token.FromHex(s), nil
}
