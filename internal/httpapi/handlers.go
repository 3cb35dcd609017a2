package httpapi

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/mahfaza/walletd/internal/auth"
	"github.com/mahfaza/walletd/pkg/wallet"
)

// Stable error codes exposed to clients. Business failures carry one of
// these in a typed payload; transient storage failure is the only 5xx.
const (
	codeAccountNotFound   = "account_not_found"
	codeAccountBlocked    = "account_blocked"
	codeInsufficientFunds = "insufficient_funds"
	codeCodeNotFound      = "code_not_found"
	codeCodeAlreadyUsed   = "code_already_used"
	codeCodeExpired       = "code_expired"
	codeProductNotFound   = "product_not_found"
	codeOrderNotFound     = "order_not_found"
	codeInvalidRequest    = "invalid_request"
	codeStorage           = "storage_unavailable"
)

type errorResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
}

type transactionView struct {
	ID           string `json:"id"`
	Direction    string `json:"direction"`
	Amount       int64  `json:"amount"`
	BalanceAfter int64  `json:"balance_after"`
	Kind         string `json:"kind"`
	ReferenceID  string `json:"reference_id"`
	CreatedAt    int64  `json:"created_at"`
}

type orderView struct {
	ID           string `json:"id"`
	ProductID    string `json:"product_id"`
	ProductName  string `json:"product_name"`
	ProductPrice int64  `json:"product_price"`
	Quantity     int    `json:"quantity"`
	TotalAmount  int64  `json:"total_amount"`
	Status       string `json:"status"`
	AdminReply   string `json:"admin_reply,omitempty"`
	ReplyUnread  bool   `json:"reply_unread"`
	CreatedAt    int64  `json:"created_at"`
	UpdatedAt    int64  `json:"updated_at"`
}

func toTransactionView(transaction wallet.Transaction) transactionView {
	return transactionView{
		ID:           transaction.ID,
		Direction:    string(transaction.Direction),
		Amount:       transaction.Amount,
		BalanceAfter: transaction.BalanceAfter,
		Kind:         string(transaction.ReferenceKind),
		ReferenceID:  transaction.ReferenceID,
		CreatedAt:    transaction.CreatedUnixUTC,
	}
}

func toOrderView(order wallet.Order) orderView {
	return orderView{
		ID:           order.ID,
		ProductID:    order.ProductID,
		ProductName:  order.ProductName,
		ProductPrice: order.ProductPrice,
		Quantity:     order.Quantity,
		TotalAmount:  order.TotalAmount,
		Status:       string(order.Status),
		AdminReply:   order.AdminReply,
		ReplyUnread:  order.AdminReply != "" && order.ReplyReadAtUnixUTC == 0,
		CreatedAt:    order.CreatedUnixUTC,
		UpdatedAt:    order.UpdatedUnixUTC,
	}
}

// respondError translates domain errors into the wire taxonomy. Unknown
// errors are reported as storage failures rather than leaked verbatim.
func (server *Server) respondError(ctx *gin.Context, err error) {
	status := http.StatusServiceUnavailable
	code := codeStorage
	switch {
	case errors.Is(err, wallet.ErrAccountNotFound):
		status, code = http.StatusNotFound, codeAccountNotFound
	case errors.Is(err, wallet.ErrAccountBlocked):
		status, code = http.StatusForbidden, codeAccountBlocked
	case errors.Is(err, wallet.ErrInsufficientFunds):
		status, code = http.StatusOK, codeInsufficientFunds
	case errors.Is(err, wallet.ErrCodeNotFound):
		status, code = http.StatusOK, codeCodeNotFound
	case errors.Is(err, wallet.ErrCodeAlreadyUsed):
		status, code = http.StatusOK, codeCodeAlreadyUsed
	case errors.Is(err, wallet.ErrCodeExpired):
		status, code = http.StatusOK, codeCodeExpired
	case errors.Is(err, wallet.ErrProductNotFound):
		status, code = http.StatusNotFound, codeProductNotFound
	case errors.Is(err, wallet.ErrOrderNotFound):
		status, code = http.StatusNotFound, codeOrderNotFound
	case errors.Is(err, wallet.ErrInvalidAccountID),
		errors.Is(err, wallet.ErrInvalidAmount),
		errors.Is(err, wallet.ErrInvalidReference),
		errors.Is(err, wallet.ErrInvalidReply),
		errors.Is(err, wallet.ErrInvalidProduct):
		status, code = http.StatusBadRequest, codeInvalidRequest
	}
	ctx.JSON(status, errorResponse{Success: false, Error: code})
}

func (server *Server) requestContext(ctx *gin.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx.Request.Context(), server.cfg.RequestTimeout)
}

func pageParams(ctx *gin.Context) (int, int) {
	limit := defaultPageLimit
	if raw := ctx.Query("limit"); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil && parsed > 0 {
			limit = parsed
		}
	}
	if limit > maxPageLimit {
		limit = maxPageLimit
	}
	offset := 0
	if raw := ctx.Query("offset"); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil && parsed > 0 {
			offset = parsed
		}
	}
	return limit, offset
}

func (server *Server) handleWallet(ctx *gin.Context) {
	claims := auth.ClaimsFrom(ctx)
	requestCtx, cancel := server.requestContext(ctx)
	defer cancel()
	balance, err := server.service.Balance(requestCtx, claims.AccountID())
	if err != nil {
		server.respondError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"success": true, "balance": balance})
}

func (server *Server) handleTransactions(ctx *gin.Context) {
	claims := auth.ClaimsFrom(ctx)
	limit, offset := pageParams(ctx)
	requestCtx, cancel := server.requestContext(ctx)
	defer cancel()
	transactions, err := server.service.ListTransactions(requestCtx, claims.AccountID(), limit, offset)
	if err != nil {
		server.respondError(ctx, err)
		return
	}
	views := make([]transactionView, 0, len(transactions))
	for _, transaction := range transactions {
		views = append(views, toTransactionView(transaction))
	}
	ctx.JSON(http.StatusOK, gin.H{"success": true, "transactions": views})
}

type redeemRequest struct {
	Code string `json:"code" binding:"required"`
}

func (server *Server) handleRedeem(ctx *gin.Context) {
	claims := auth.ClaimsFrom(ctx)
	var request redeemRequest
	if err := ctx.ShouldBindJSON(&request); err != nil {
		ctx.JSON(http.StatusBadRequest, errorResponse{Success: false, Error: codeInvalidRequest})
		return
	}
	requestCtx, cancel := server.requestContext(ctx)
	defer cancel()
	result, err := server.service.Redeem(requestCtx, claims.AccountID(), request.Code)
	if err != nil {
		server.respondError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{
		"success":        true,
		"amount":         result.Amount,
		"balance":        result.NewBalance,
		"transaction_id": result.TransactionID,
	})
}

type purchaseRequest struct {
	ProductID string `json:"product_id" binding:"required"`
	RequestID string `json:"request_id" binding:"required"`
}

func (server *Server) handlePurchase(ctx *gin.Context) {
	claims := auth.ClaimsFrom(ctx)
	var request purchaseRequest
	if err := ctx.ShouldBindJSON(&request); err != nil {
		ctx.JSON(http.StatusBadRequest, errorResponse{Success: false, Error: codeInvalidRequest})
		return
	}
	requestCtx, cancel := server.requestContext(ctx)
	defer cancel()
	result, err := server.service.Purchase(requestCtx, claims.AccountID(), request.ProductID, request.RequestID)
	if err != nil {
		server.respondError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{
		"success":        true,
		"order_id":       result.OrderID,
		"transaction_id": result.TransactionID,
		"balance":        result.NewBalance,
	})
}

func (server *Server) handleOrders(ctx *gin.Context) {
	claims := auth.ClaimsFrom(ctx)
	limit, offset := pageParams(ctx)
	requestCtx, cancel := server.requestContext(ctx)
	defer cancel()
	orders, err := server.service.ListOrders(requestCtx, claims.AccountID(), limit, offset)
	if err != nil {
		server.respondError(ctx, err)
		return
	}
	views := make([]orderView, 0, len(orders))
	for _, order := range orders {
		views = append(views, toOrderView(order))
	}
	ctx.JSON(http.StatusOK, gin.H{"success": true, "orders": views})
}

func (server *Server) handleUnreadCount(ctx *gin.Context) {
	claims := auth.ClaimsFrom(ctx)
	requestCtx, cancel := server.requestContext(ctx)
	defer cancel()
	count, err := server.service.UnreadReplyCount(requestCtx, claims.AccountID())
	if err != nil {
		server.respondError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"success": true, "unread": count})
}

func (server *Server) handleMarkReplyRead(ctx *gin.Context) {
	claims := auth.ClaimsFrom(ctx)
	orderID := ctx.Param("id")
	requestCtx, cancel := server.requestContext(ctx)
	defer cancel()
	order, err := server.service.GetOrder(requestCtx, orderID)
	if err != nil {
		server.respondError(ctx, err)
		return
	}
	// Foreign orders are indistinguishable from missing ones.
	if order.AccountID != claims.AccountID() {
		ctx.JSON(http.StatusNotFound, errorResponse{Success: false, Error: codeOrderNotFound})
		return
	}
	if err := server.service.MarkReplyRead(requestCtx, orderID); err != nil {
		server.respondError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"success": true})
}

// handleOrderStream streams order events for the authenticated account as
// server-sent events until the client disconnects.
func (server *Server) handleOrderStream(ctx *gin.Context) {
	if server.subscriber == nil {
		ctx.JSON(http.StatusServiceUnavailable, errorResponse{Success: false, Error: codeStorage})
		return
	}
	claims := auth.ClaimsFrom(ctx)

	events := make(chan wallet.OrderEvent, 16)
	stop, err := server.subscriber.Subscribe(ctx.Request.Context(), claims.AccountID(), func(event wallet.OrderEvent) {
		select {
		case events <- event:
		default:
		}
	})
	if err != nil {
		server.respondError(ctx, err)
		return
	}
	defer func() { _ = stop() }()

	ctx.Writer.Header().Set("Content-Type", "text/event-stream")
	ctx.Writer.Header().Set("Cache-Control", "no-cache")
	ctx.Writer.Header().Set("Connection", "keep-alive")

	keepalive := time.NewTicker(30 * time.Second)
	defer keepalive.Stop()

	ctx.Stream(func(w io.Writer) bool {
		select {
		case event := <-events:
			ctx.SSEvent("order", event)
			return true
		case <-keepalive.C:
			ctx.SSEvent("ping", time.Now().Unix())
			return true
		case <-ctx.Request.Context().Done():
			return false
		}
	})
}

type adminReplyRequest struct {
	Reply string `json:"reply" binding:"required"`
}

func (server *Server) handleAdminReply(ctx *gin.Context) {
	var request adminReplyRequest
	if err := ctx.ShouldBindJSON(&request); err != nil {
		ctx.JSON(http.StatusBadRequest, errorResponse{Success: false, Error: codeInvalidRequest})
		return
	}
	requestCtx, cancel := server.requestContext(ctx)
	defer cancel()
	if err := server.service.SetAdminReply(requestCtx, ctx.Param("id"), request.Reply); err != nil {
		server.respondError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"success": true})
}

func (server *Server) handleAdminComplete(ctx *gin.Context) {
	requestCtx, cancel := server.requestContext(ctx)
	defer cancel()
	if err := server.service.CompleteOrder(requestCtx, ctx.Param("id")); err != nil {
		server.respondError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"success": true})
}

type adminAdjustRequest struct {
	AccountID    string `json:"account_id" binding:"required"`
	Delta        int64  `json:"delta" binding:"required"`
	AdjustmentID string `json:"adjustment_id" binding:"required"`
}

func (server *Server) handleAdminAdjust(ctx *gin.Context) {
	var request adminAdjustRequest
	if err := ctx.ShouldBindJSON(&request); err != nil {
		ctx.JSON(http.StatusBadRequest, errorResponse{Success: false, Error: codeInvalidRequest})
		return
	}
	requestCtx, cancel := server.requestContext(ctx)
	defer cancel()
	transaction, err := server.service.Adjust(requestCtx, request.AccountID, request.Delta, request.AdjustmentID)
	if err != nil {
		server.respondError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{
		"success":        true,
		"transaction_id": transaction.ID,
		"balance":        transaction.BalanceAfter,
	})
}

type adminMintRequest struct {
	Amount    int64  `json:"amount" binding:"required"`
	Count     int    `json:"count" binding:"required"`
	BatchID   string `json:"batch_id"`
	ExpiresAt int64  `json:"expires_at"`
}

func (server *Server) handleAdminMintCodes(ctx *gin.Context) {
	var request adminMintRequest
	if err := ctx.ShouldBindJSON(&request); err != nil {
		ctx.JSON(http.StatusBadRequest, errorResponse{Success: false, Error: codeInvalidRequest})
		return
	}
	requestCtx, cancel := server.requestContext(ctx)
	defer cancel()
	minted, err := server.service.MintCodes(requestCtx, request.Amount, request.Count, strings.TrimSpace(request.BatchID), request.ExpiresAt)
	if err != nil {
		server.respondError(ctx, err)
		return
	}
	codes := make([]gin.H, 0, len(minted))
	for _, entry := range minted {
		codes = append(codes, gin.H{"code_id": entry.CodeID, "code": entry.Code})
	}
	ctx.JSON(http.StatusOK, gin.H{"success": true, "codes": codes})
}

type adminProductRequest struct {
	Name     string `json:"name" binding:"required"`
	Price    int64  `json:"price" binding:"required"`
	Featured bool   `json:"featured"`
}

func (server *Server) handleAdminCreateProduct(ctx *gin.Context) {
	var request adminProductRequest
	if err := ctx.ShouldBindJSON(&request); err != nil {
		ctx.JSON(http.StatusBadRequest, errorResponse{Success: false, Error: codeInvalidRequest})
		return
	}
	requestCtx, cancel := server.requestContext(ctx)
	defer cancel()
	product, err := server.service.CreateProduct(requestCtx, request.Name, request.Price, request.Featured)
	if err != nil {
		server.respondError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"success": true, "product_id": product.ID})
}
