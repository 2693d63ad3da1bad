package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/markethub/stock-saga/internal/core/domain"
	"github.com/markethub/stock-saga/internal/core/service"
)

type HTTPHandler struct {
	transactionService *service.TransactionService
	logger             *zap.Logger
}

func NewHTTPHandler(transactionService *service.TransactionService, logger *zap.Logger) *HTTPHandler {
	return &HTTPHandler{transactionService: transactionService, logger: logger}
}

type SubmitLineRequest struct {
	PositionID      string          `json:"position_id"`
	Amount          decimal.Decimal `json:"amount"`
	PositionVersion *int64          `json:"position_version"`
}

type SubmitRequest struct {
	BuyerID   string              `json:"buyer_id"`
	OrderLine []SubmitLineRequest `json:"order_line"`
}

type SubmitResponse struct {
	TransactionID string `json:"transaction_id"`
	Status        string `json:"status"`
}

type OrderLineResponse struct {
	ID              string          `json:"id"`
	PositionID      string          `json:"position_id"`
	Amount          decimal.Decimal `json:"amount"`
	PositionVersion *int64          `json:"position_version"`
}

type TransactionResponse struct {
	TransactionID string              `json:"transaction_id"`
	BuyerID       string              `json:"buyer_id"`
	Status        string              `json:"status"`
	CreatedAt     time.Time           `json:"created_at"`
	OrderLine     []OrderLineResponse `json:"order_line"`
}

type ErrorResponse struct {
	Message string `json:"message"`
}

// Transactions handles the collection endpoint: POST submits a new
// transaction, GET lists a buyer's transactions.
func (h *HTTPHandler) Transactions(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		h.submit(w, r)
	case http.MethodGet:
		h.list(w, r)
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

func (h *HTTPHandler) submit(w http.ResponseWriter, r *http.Request) {
	var req SubmitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Message: "invalid request body"})
		return
	}

	lines := make([]service.SubmitLine, 0, len(req.OrderLine))
	for _, l := range req.OrderLine {
		lines = append(lines, service.SubmitLine{
			PositionID:      l.PositionID,
			Amount:          l.Amount,
			PositionVersion: l.PositionVersion,
		})
	}

	txID, err := h.transactionService.Submit(r.Context(), req.BuyerID, lines)
	if err != nil {
		var verr *service.ValidationError
		if errors.As(err, &verr) {
			writeJSON(w, http.StatusBadRequest, ErrorResponse{Message: verr.Error()})
			return
		}
		h.logger.Error("submit failed", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, ErrorResponse{Message: "internal error"})
		return
	}

	// Accepted for processing; the terminal status arrives asynchronously
	writeJSON(w, http.StatusAccepted, SubmitResponse{
		TransactionID: txID,
		Status:        string(domain.TransactionStatusInProgress),
	})
}

func (h *HTTPHandler) list(w http.ResponseWriter, r *http.Request) {
	buyerID := r.URL.Query().Get("buyer_id")
	if buyerID == "" {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Message: "buyer_id is required"})
		return
	}

	page := 0
	if p := r.URL.Query().Get("page"); p != "" {
		parsed, err := strconv.Atoi(p)
		if err != nil || parsed < 0 {
			writeJSON(w, http.StatusBadRequest, ErrorResponse{Message: "page must be a non-negative integer"})
			return
		}
		page = parsed
	}

	txs, err := h.transactionService.ListForBuyer(r.Context(), buyerID, page)
	if err != nil {
		h.logger.Error("list failed", zap.String("buyer_id", buyerID), zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, ErrorResponse{Message: "internal error"})
		return
	}

	resp := make([]TransactionResponse, 0, len(txs))
	for _, tx := range txs {
		resp = append(resp, toTransactionResponse(tx))
	}
	writeJSON(w, http.StatusOK, resp)
}

// Transaction handles GET /api/transactions/{id}, the status polling
// surface for submitted transactions.
func (h *HTTPHandler) Transaction(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	id := strings.TrimPrefix(r.URL.Path, "/api/transactions/")
	if id == "" || strings.Contains(id, "/") {
		writeJSON(w, http.StatusNotFound, ErrorResponse{Message: "transaction not found"})
		return
	}

	tx, err := h.transactionService.GetTransaction(r.Context(), id)
	if err != nil {
		if errors.Is(err, domain.ErrTransactionNotFound) {
			writeJSON(w, http.StatusNotFound, ErrorResponse{Message: "transaction not found"})
			return
		}
		h.logger.Error("get transaction failed", zap.String("transaction_id", id), zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, ErrorResponse{Message: "internal error"})
		return
	}

	writeJSON(w, http.StatusOK, toTransactionResponse(*tx))
}

func (h *HTTPHandler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func toTransactionResponse(tx domain.UserTransaction) TransactionResponse {
	lines := make([]OrderLineResponse, 0, len(tx.Lines))
	for _, l := range tx.Lines {
		lines = append(lines, OrderLineResponse{
			ID:              l.ID,
			PositionID:      l.PositionID,
			Amount:          l.Amount,
			PositionVersion: l.PositionVersion,
		})
	}
	return TransactionResponse{
		TransactionID: tx.ID,
		BuyerID:       tx.BuyerID,
		Status:        string(tx.Status),
		CreatedAt:     tx.CreatedAt,
		OrderLine:     lines,
	}
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}
