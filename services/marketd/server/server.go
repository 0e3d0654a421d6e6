package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/holiman/uint256"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"openlend/lending"
)

const maxRequestBody = 1 << 20 // 1 MiB

const headerRequestID = "X-Request-Id"

// Server is the HTTP front-end for the lending engines.
type Server struct {
	engine     *lending.Engine
	risk       *lending.RiskEngine
	liquidator *lending.LiquidationEngine
	rewards    *lending.RewardEngine
	log        *slog.Logger
	limiter    *rateLimiter
	registry   *prometheus.Registry
}

// Options carries the operational knobs that are not engine wiring.
type Options struct {
	Logger            *slog.Logger
	RequestsPerMinute float64
	Burst             int
	Registry          *prometheus.Registry
}

func New(engine *lending.Engine, risk *lending.RiskEngine, liquidator *lending.LiquidationEngine, rewards *lending.RewardEngine, opts Options) *Server {
	if engine == nil || risk == nil {
		panic("lending engines required")
	}
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	return &Server{
		engine:     engine,
		risk:       risk,
		liquidator: liquidator,
		rewards:    rewards,
		log:        log,
		limiter:    newRateLimiter(opts.RequestsPerMinute, opts.Burst),
		registry:   opts.Registry,
	}
}

// Router mounts the full route tree. Queries are unthrottled; the mutating
// routes share the per-client limiter.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(s.requestID)
	r.Use(s.accessLog)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	if s.registry != nil {
		r.Handle("/metrics", promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{}))
	}

	r.Route("/v1/lending", func(lr chi.Router) {
		lr.Get("/markets", s.listMarkets)
		lr.Post("/markets/get", s.getMarket)
		lr.Post("/positions/get", s.getPosition)
		lr.Post("/liquidity/get", s.getLiquidity)
		lr.Post("/rewards/accrued", s.getAccrued)

		lr.Group(func(mr chi.Router) {
			mr.Use(s.limiter.middleware)
			mr.Post("/markets/enter", s.enterMarkets)
			mr.Post("/supply", s.supplyAsset)
			mr.Post("/withdraw", s.withdrawAsset)
			mr.Post("/borrow", s.borrowAsset)
			mr.Post("/repay", s.repayAsset)
			mr.Post("/liquidate", s.liquidateBorrow)
			mr.Post("/rewards/claim", s.claimRewards)
		})
	})
	return r
}

func (s *Server) requestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(headerRequestID)
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set(headerRequestID, id)
		next.ServeHTTP(w, r)
	})
}

func (s *Server) accessLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		recorder := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(recorder, r)
		s.log.Info("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", recorder.status,
			"durationMs", time.Since(start).Milliseconds(),
			"requestId", recorder.Header().Get(headerRequestID),
		)
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (sr *statusRecorder) WriteHeader(status int) {
	sr.status = status
	sr.ResponseWriter.WriteHeader(status)
}

func (s *Server) decode(r *http.Request, v any) error {
	if r.Body == nil {
		return errors.New("missing request body")
	}
	defer r.Body.Close()
	data, err := io.ReadAll(io.LimitReader(r.Body, maxRequestBody))
	if err != nil {
		return fmt.Errorf("read request body: %w", err)
	}
	if len(data) == 0 {
		return errors.New("request body is empty")
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("decode request: %w", err)
	}
	return nil
}

func (s *Server) listMarkets(w http.ResponseWriter, r *http.Request) {
	symbols, err := s.engine.ListMarkets()
	if err != nil {
		writeEngineError(w, err)
		return
	}
	payloads := make([]marketPayload, 0, len(symbols))
	for _, symbol := range symbols {
		payload, err := s.marketPayload(symbol)
		if err != nil {
			writeEngineError(w, err)
			return
		}
		payloads = append(payloads, payload)
	}
	writeJSON(w, http.StatusOK, map[string]any{"markets": payloads})
}

func (s *Server) getMarket(w http.ResponseWriter, r *http.Request) {
	var req symbolRequest
	if err := s.decode(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	symbol, err := requireSymbol(req.Symbol)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	payload, err := s.marketPayload(symbol)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, payload)
}

func (s *Server) marketPayload(symbol string) (marketPayload, error) {
	market, err := s.engine.MarketSnapshot(symbol)
	if err != nil {
		return marketPayload{}, err
	}
	rate, err := s.engine.ExchangeRate(symbol)
	if err != nil {
		return marketPayload{}, err
	}
	borrowRate, supplyRate, utilization, err := s.engine.Rates(symbol)
	if err != nil {
		return marketPayload{}, err
	}
	return encodeMarket(market, rate, borrowRate, supplyRate, utilization), nil
}

func (s *Server) getPosition(w http.ResponseWriter, r *http.Request) {
	var req positionRequest
	if err := s.decode(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	symbol, err := requireSymbol(req.Symbol)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	pos, err := s.engine.Position(symbol, req.Account)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	underlying, err := s.engine.BalanceOfUnderlying(symbol, req.Account)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	debt, err := s.engine.BorrowBalance(symbol, req.Account)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, positionPayload{
		Account:         req.Account.String(),
		Market:          symbol,
		Receipts:        dec(pos.Receipts),
		Underlying:      dec(underlying),
		BorrowBalance:   dec(debt),
		BorrowPrincipal: dec(pos.BorrowPrincipal),
		InterestIndex:   dec(pos.InterestIndex),
	})
}

func (s *Server) getLiquidity(w http.ResponseWriter, r *http.Request) {
	var req accountRequest
	if err := s.decode(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	liquidity, shortfall, err := s.risk.AccountLiquidity(req.Account)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	markets, err := s.risk.Membership(req.Account)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, liquidityPayload{
		Account:   req.Account.String(),
		Liquidity: dec(liquidity),
		Shortfall: dec(shortfall),
		Markets:   markets,
	})
}

func (s *Server) getAccrued(w http.ResponseWriter, r *http.Request) {
	if s.rewards == nil {
		writeError(w, http.StatusNotFound, errors.New("rewards are not configured"))
		return
	}
	var req accountRequest
	if err := s.decode(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	accrued, err := s.rewards.Accrued(req.Account)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, amountResponse{Amount: dec(accrued)})
}

func (s *Server) enterMarkets(w http.ResponseWriter, r *http.Request) {
	var req enterMarketsRequest
	if err := s.decode(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if len(req.Symbols) == 0 {
		writeError(w, http.StatusBadRequest, errors.New("symbols are required"))
		return
	}
	if err := s.risk.EnterMarkets(req.Account, req.Symbols); err != nil {
		writeEngineError(w, err)
		return
	}
	markets, err := s.risk.Membership(req.Account)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"markets": markets})
}

func (s *Server) supplyAsset(w http.ResponseWriter, r *http.Request) {
	var req amountRequest
	if err := s.decode(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	amount, err := parseAmountString("amount", req.Amount)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	receipts, err := s.engine.Mint(req.Account, req.Symbol, amount)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, mintResponse{Receipts: dec(receipts)})
}

func (s *Server) withdrawAsset(w http.ResponseWriter, r *http.Request) {
	var req withdrawRequest
	if err := s.decode(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	hasReceipts := req.Receipts != ""
	hasUnderlying := req.Underlying != ""
	if hasReceipts == hasUnderlying {
		writeError(w, http.StatusBadRequest, errors.New("exactly one of receipts and underlying is required"))
		return
	}
	if hasReceipts {
		receipts, err := parseAmountString("receipts", req.Receipts)
		if err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		underlying, err := s.engine.Redeem(req.Account, req.Symbol, receipts)
		if err != nil {
			writeEngineError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, withdrawResponse{Receipts: dec(receipts), Underlying: dec(underlying)})
		return
	}
	underlying, err := parseAmountString("underlying", req.Underlying)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	receipts, err := s.engine.RedeemUnderlying(req.Account, req.Symbol, underlying)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, withdrawResponse{Receipts: dec(receipts), Underlying: dec(underlying)})
}

func (s *Server) borrowAsset(w http.ResponseWriter, r *http.Request) {
	var req amountRequest
	if err := s.decode(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	amount, err := parseAmountString("amount", req.Amount)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if err := s.engine.Borrow(req.Account, req.Symbol, amount); err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, amountResponse{Amount: dec(amount)})
}

func (s *Server) repayAsset(w http.ResponseWriter, r *http.Request) {
	var req repayRequest
	if err := s.decode(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	amount, err := parseRepayAmount(req.Amount)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	var repaid *uint256.Int
	if req.OnBehalfOf != nil {
		repaid, err = s.engine.RepayBorrowBehalf(req.Account, *req.OnBehalfOf, req.Symbol, amount)
	} else {
		repaid, err = s.engine.RepayBorrow(req.Account, req.Symbol, amount)
	}
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, repayResponse{Repaid: dec(repaid)})
}

func (s *Server) liquidateBorrow(w http.ResponseWriter, r *http.Request) {
	if s.liquidator == nil {
		writeError(w, http.StatusNotFound, errors.New("liquidation is not configured"))
		return
	}
	var req liquidateRequest
	if err := s.decode(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	repay, err := parseAmountString("repayAmount", req.RepayAmount)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	seized, err := s.liquidator.LiquidateBorrow(req.Liquidator, req.Borrower, req.BorrowedSymbol, repay, req.CollateralSymbol)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, liquidateResponse{Seized: dec(seized)})
}

func (s *Server) claimRewards(w http.ResponseWriter, r *http.Request) {
	if s.rewards == nil {
		writeError(w, http.StatusNotFound, errors.New("rewards are not configured"))
		return
	}
	var req accountRequest
	if err := s.decode(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	claimed, err := s.rewards.Claim(req.Account)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, amountResponse{Amount: dec(claimed)})
}
