// Package api provides the HTTP handlers for holdings, transactions,
// compliance replays, CSV imports and CGT reports.
//
// All monetary values use shopspring/decimal, never float64 for money.
package api

import (
	"cmp"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/taxlot/cgt-engine/internal/auth"
	"github.com/taxlot/cgt-engine/internal/compliance"
	"github.com/taxlot/cgt-engine/internal/harvest"
	"github.com/taxlot/cgt-engine/internal/ingest"
	"github.com/taxlot/cgt-engine/internal/metrics"
	"github.com/taxlot/cgt-engine/internal/model"
	"github.com/taxlot/cgt-engine/internal/report"
	"github.com/taxlot/cgt-engine/internal/security"
	"github.com/taxlot/cgt-engine/internal/store"
	"github.com/taxlot/cgt-engine/internal/taxyear"
	"github.com/taxlot/cgt-engine/internal/window"
)

// maxImportBytes bounds CSV uploads.
const maxImportBytes = 10 << 20

// Handler serves the /api/v1 routes.
type Handler struct {
	store      store.Store
	compliance *compliance.Service
	importer   *ingest.Importer
	reports    *report.Generator
	guard      *window.Guard
	harvests   *harvest.Service
	hub        *WSHub // optional
	now        func() time.Time
}

// NewHandler wires the HTTP layer. Pass nil for hub if WebSocket
// notifications are not served.
func NewHandler(st store.Store, svc *compliance.Service, importer *ingest.Importer,
	reports *report.Generator, guard *window.Guard, harvests *harvest.Service, hub *WSHub) *Handler {
	return &Handler{
		store:      st,
		compliance: svc,
		importer:   importer,
		reports:    reports,
		guard:      guard,
		harvests:   harvests,
		hub:        hub,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// Register mounts every route on r.
func (h *Handler) Register(r chi.Router) {
	if h.hub != nil {
		r.Get("/ws", h.hub.HandleWS)
	}

	r.Route("/holdings", func(r chi.Router) {
		r.Post("/", h.CreateHolding)
		r.Get("/", h.ListHoldings)

		r.Route("/{holdingID}", func(r chi.Router) {
			r.Get("/", h.GetHolding)
			r.Post("/transactions", h.RecordTransaction)
			r.Get("/transactions", h.ListTransactions)
			r.Post("/process", h.ProcessHolding)
			r.Get("/disposals", h.PreviewDisposals)
			r.Get("/pool", h.GetPool)
			r.Get("/matches", h.ListMatches)
			r.Get("/window", h.GetWindow)
			r.Post("/harvests", h.CreateHarvest)
			r.With(auth.Require(auth.Advisor, auth.Institution)).
				Delete("/compliance", h.ClearCompliance)
		})
	})

	r.Route("/harvests", func(r chi.Router) {
		r.Get("/", h.ListHarvests)
		r.Get("/{harvestID}", h.GetHarvest)
		r.Post("/{harvestID}/execute", h.ExecuteHarvest)
		r.Post("/{harvestID}/cancel", h.CancelHarvest)
	})

	r.Post("/clients/{clientID}/imports", h.ImportCSV)
	r.Get("/reports/{taxYear}", h.GetReport)
}

// --- Request types ---

// CreateHoldingRequest is the JSON body for holding creation.
type CreateHoldingRequest struct {
	ClientID string `json:"client_id"`
	Ticker   string `json:"ticker"`
	Name     string `json:"name"`
	ISIN     string `json:"isin"`
	SEDOL    string `json:"sedol"`
	Sector   string `json:"sector"`
}

// TransactionRequest is the JSON body for recording a transaction.
type TransactionRequest struct {
	Side      string          `json:"side"`       // "BUY" or "SELL"
	TradeDate string          `json:"trade_date"` // YYYY-MM-DD
	Quantity  decimal.Decimal `json:"quantity"`
	Price     decimal.Decimal `json:"price"`
	Fees      decimal.Decimal `json:"fees"`
	Account   string          `json:"account"` // defaults to GIA
}

// --- Holdings ---

// CreateHolding handles POST /api/v1/holdings
func (h *Handler) CreateHolding(w http.ResponseWriter, r *http.Request) {
	var req CreateHoldingRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if strings.TrimSpace(req.Name) == "" {
		writeError(w, "name is required", http.StatusBadRequest)
		return
	}
	sec, err := security.Parse(req.Ticker, req.ISIN, req.SEDOL)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}

	holding := &model.Holding{
		ID:        uuid.New().String(),
		ClientID:  req.ClientID,
		Ticker:    sec.Ticker,
		Name:      strings.TrimSpace(req.Name),
		ISIN:      sec.ISIN,
		SEDOL:     sec.SEDOL,
		Sector:    req.Sector,
		CreatedAt: h.now(),
	}
	if err := h.store.CreateHolding(r.Context(), holding); err != nil {
		writeError(w, err.Error(), http.StatusConflict)
		return
	}

	slog.Info("holding created",
		"id", holding.ID,
		"client", holding.ClientID,
		"ticker", holding.Ticker,
	)
	writeJSON(w, http.StatusCreated, holding)
}

// ListHoldings handles GET /api/v1/holdings?client_id=
func (h *Handler) ListHoldings(w http.ResponseWriter, r *http.Request) {
	holdings, err := h.store.ListHoldings(r.Context(), r.URL.Query().Get("client_id"))
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	if holdings == nil {
		holdings = []model.Holding{}
	}
	writeJSON(w, http.StatusOK, holdings)
}

// GetHolding handles GET /api/v1/holdings/{holdingID}
func (h *Handler) GetHolding(w http.ResponseWriter, r *http.Request) {
	holding, err := h.store.GetHolding(r.Context(), chi.URLParam(r, "holdingID"))
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, holding)
}

// --- Transactions ---

// RecordTransaction handles POST /api/v1/holdings/{holdingID}/transactions
// Transactions are immutable once recorded; the pool is only updated by
// processing the holding.
func (h *Handler) RecordTransaction(w http.ResponseWriter, r *http.Request) {
	holdingID := chi.URLParam(r, "holdingID")

	var req TransactionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	tradeDate, err := time.Parse(model.DateLayout, req.TradeDate)
	if err != nil {
		writeError(w, "trade_date must be YYYY-MM-DD", http.StatusBadRequest)
		return
	}
	account := req.Account
	if account == "" {
		account = "GIA"
	}

	tx := &model.Transaction{
		ID:        uuid.New().String(),
		HoldingID: holdingID,
		Side:      model.Side(strings.ToUpper(req.Side)),
		TradeDate: tradeDate,
		Quantity:  req.Quantity,
		Price:     req.Price,
		Fees:      req.Fees,
		Account:   account,
		CreatedAt: h.now(),
	}
	if err := tx.Validate(); err != nil {
		writeDomainError(w, r, err)
		return
	}

	ctx := r.Context()
	if _, err := h.store.GetHolding(ctx, holdingID); err != nil {
		writeDomainError(w, r, err)
		return
	}
	if err := h.store.InsertTransaction(ctx, tx); err != nil {
		writeDomainError(w, r, err)
		return
	}
	metrics.TransactionsRecorded.WithLabelValues(string(tx.Side), "api").Inc()

	slog.Info("transaction recorded",
		"id", tx.ID,
		"holding", holdingID,
		"side", tx.Side,
		"trade_date", tx.TradeDate.Format(model.DateLayout),
		"qty", tx.Quantity.String(),
		"price", tx.Price.String(),
	)
	writeJSON(w, http.StatusCreated, tx)
}

// ListTransactions handles GET /api/v1/holdings/{holdingID}/transactions
// Transactions are returned in replay order.
func (h *Handler) ListTransactions(w http.ResponseWriter, r *http.Request) {
	holdingID := chi.URLParam(r, "holdingID")
	ctx := r.Context()

	if _, err := h.store.GetHolding(ctx, holdingID); err != nil {
		writeDomainError(w, r, err)
		return
	}
	txs, err := h.store.ListTransactions(ctx, holdingID)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, model.SortForReplay(txs))
}

// --- Compliance ---

// ProcessHolding handles POST /api/v1/holdings/{holdingID}/process
func (h *Handler) ProcessHolding(w http.ResponseWriter, r *http.Request) {
	res, err := h.compliance.ProcessHolding(r.Context(), chi.URLParam(r, "holdingID"))
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// PreviewDisposals handles GET /api/v1/holdings/{holdingID}/disposals
// The replay is computed but not persisted. ?tax_year=2024-25 narrows the
// disposals to one tax year.
func (h *Handler) PreviewDisposals(w http.ResponseWriter, r *http.Request) {
	var ty *taxyear.TaxYear
	if v := r.URL.Query().Get("tax_year"); v != "" {
		parsed, err := taxyear.Parse(v)
		if err != nil {
			writeDomainError(w, r, err)
			return
		}
		ty = &parsed
	}

	res, err := h.compliance.PreviewHolding(r.Context(), chi.URLParam(r, "holdingID"))
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	if ty != nil {
		kept := res.Disposals[:0]
		for _, d := range res.Disposals {
			if ty.Contains(d.TradeDate) {
				kept = append(kept, d)
			}
		}
		res.Disposals = kept
	}
	writeJSON(w, http.StatusOK, res)
}

// GetPool handles GET /api/v1/holdings/{holdingID}/pool
func (h *Handler) GetPool(w http.ResponseWriter, r *http.Request) {
	p, err := h.store.GetPool(r.Context(), chi.URLParam(r, "holdingID"))
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, struct {
		*model.PoolState
		AverageCost decimal.Decimal `json:"average_cost"`
	}{p, p.AverageCost()})
}

// ListMatches handles GET /api/v1/holdings/{holdingID}/matches
func (h *Handler) ListMatches(w http.ResponseWriter, r *http.Request) {
	holdingID := chi.URLParam(r, "holdingID")
	ctx := r.Context()

	if _, err := h.store.GetHolding(ctx, holdingID); err != nil {
		writeDomainError(w, r, err)
		return
	}
	matches, err := h.store.ListMatches(ctx, holdingID)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	if matches == nil {
		matches = []model.DisposalMatch{}
	}
	writeJSON(w, http.StatusOK, matches)
}

// GetWindow handles GET /api/v1/holdings/{holdingID}/window?as_of=YYYY-MM-DD
func (h *Handler) GetWindow(w http.ResponseWriter, r *http.Request) {
	holdingID := chi.URLParam(r, "holdingID")
	asOf := h.now()
	if v := r.URL.Query().Get("as_of"); v != "" {
		parsed, err := time.Parse(model.DateLayout, v)
		if err != nil {
			writeError(w, "as_of must be YYYY-MM-DD", http.StatusBadRequest)
			return
		}
		asOf = parsed
	}

	ctx := r.Context()
	if _, err := h.store.GetHolding(ctx, holdingID); err != nil {
		writeDomainError(w, r, err)
		return
	}
	txs, err := h.store.ListTransactions(ctx, holdingID)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, h.guard.Check(txs, asOf))
}

// ClearCompliance handles DELETE /api/v1/holdings/{holdingID}/compliance
func (h *Handler) ClearCompliance(w http.ResponseWriter, r *http.Request) {
	if err := h.compliance.ClearHolding(r.Context(), chi.URLParam(r, "holdingID")); err != nil {
		writeDomainError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// --- Loss harvests ---

// HarvestRequest is the JSON body for creating a harvest. The sale price is
// the caller's; no market data is looked up.
type HarvestRequest struct {
	ClientID    string               `json:"client_id"`
	SellPrice   decimal.Decimal      `json:"sell_price"`
	SellFees    decimal.Decimal      `json:"sell_fees"`
	SellDate    string               `json:"sell_date"` // YYYY-MM-DD, defaults to today
	Replacement *harvest.Replacement `json:"replacement,omitempty"`
	Notes       string               `json:"notes"`
}

// CreateHarvest handles POST /api/v1/holdings/{holdingID}/harvests
func (h *Handler) CreateHarvest(w http.ResponseWriter, r *http.Request) {
	var req HarvestRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	var sellDate time.Time
	if req.SellDate != "" {
		parsed, err := time.Parse(model.DateLayout, req.SellDate)
		if err != nil {
			writeError(w, "sell_date must be YYYY-MM-DD", http.StatusBadRequest)
			return
		}
		sellDate = parsed
	}

	hv, err := h.harvests.Create(r.Context(), harvest.Request{
		HoldingID:   chi.URLParam(r, "holdingID"),
		ClientID:    req.ClientID,
		SellPrice:   req.SellPrice,
		SellFees:    req.SellFees,
		SellDate:    sellDate,
		Replacement: req.Replacement,
		Notes:       req.Notes,
	})
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, hv)
}

// ListHarvests handles GET /api/v1/harvests?client_id=&status=
func (h *Handler) ListHarvests(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	status := model.HarvestStatus(strings.ToUpper(q.Get("status")))
	list, err := h.harvests.List(r.Context(), q.Get("client_id"), status)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	if list == nil {
		list = []model.Harvest{}
	}
	writeJSON(w, http.StatusOK, list)
}

// GetHarvest handles GET /api/v1/harvests/{harvestID}
func (h *Handler) GetHarvest(w http.ResponseWriter, r *http.Request) {
	hv, err := h.harvests.Get(r.Context(), chi.URLParam(r, "harvestID"))
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, hv)
}

// ExecuteHarvest handles POST /api/v1/harvests/{harvestID}/execute
func (h *Handler) ExecuteHarvest(w http.ResponseWriter, r *http.Request) {
	hv, err := h.harvests.Execute(r.Context(), chi.URLParam(r, "harvestID"))
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, hv)
}

// CancelHarvest handles POST /api/v1/harvests/{harvestID}/cancel
func (h *Handler) CancelHarvest(w http.ResponseWriter, r *http.Request) {
	hv, err := h.harvests.Cancel(r.Context(), chi.URLParam(r, "harvestID"))
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, hv)
}

// --- Imports ---

// ImportResponse is returned from a CSV import.
type ImportResponse struct {
	Status string `json:"status"`
	ingest.Summary
	Replayed []compliance.Summary `json:"replayed,omitempty"`
	Failures []string             `json:"replay_errors,omitempty"`
}

// ImportCSV handles POST /api/v1/clients/{clientID}/imports
// The body is the CSV file. With ?process=true every touched holding is
// replayed afterwards; replay failures are reported, not fatal.
func (h *Handler) ImportCSV(w http.ResponseWriter, r *http.Request) {
	clientID := chi.URLParam(r, "clientID")
	ctx := r.Context()

	sum, err := h.importer.Import(ctx, clientID, http.MaxBytesReader(w, r.Body, maxImportBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, "upload too large", http.StatusRequestEntityTooLarge)
			return
		}
		if errors.Is(err, ingest.ErrMissingHeader) {
			writeDomainError(w, r, err)
			return
		}
		writeError(w, fmt.Sprintf("unreadable csv: %v", err), http.StatusBadRequest)
		return
	}

	resp := ImportResponse{Status: sum.Status(), Summary: sum}
	if process, _ := strconv.ParseBool(r.URL.Query().Get("process")); process {
		for _, id := range sum.HoldingIDs {
			res, err := h.compliance.ProcessHolding(ctx, id)
			if err != nil {
				resp.Failures = append(resp.Failures, fmt.Sprintf("holding %s: %v", id, err))
				continue
			}
			resp.Replayed = append(resp.Replayed, res.Summarize())
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

// --- Reports ---

// GetReport handles GET /api/v1/reports/{taxYear}
// Query: client_id, format=csv|json, skip_failed=true.
func (h *Handler) GetReport(w http.ResponseWriter, r *http.Request) {
	ty, err := taxyear.Parse(chi.URLParam(r, "taxYear"))
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	q := r.URL.Query()
	skip, _ := strconv.ParseBool(q.Get("skip_failed"))

	rep, err := h.reports.Generate(r.Context(), report.Request{
		TaxYear:    ty,
		ClientID:   q.Get("client_id"),
		SkipFailed: skip,
	})
	if err != nil {
		writeDomainError(w, r, err)
		return
	}

	format := strings.ToLower(q.Get("format"))
	metrics.ReportsGenerated.WithLabelValues(cmp.Or(format, "json")).Inc()
	if format == "csv" {
		w.Header().Set("Content-Type", "text/csv; charset=utf-8")
		w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="cgt_report_%s.csv"`, ty))
		if err := report.WriteCSV(w, rep); err != nil {
			slog.Error("write csv report", "tax_year", ty.String(), "err", err)
		}
		return
	}
	writeJSON(w, http.StatusOK, rep)
}
