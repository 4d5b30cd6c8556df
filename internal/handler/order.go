package handler

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/efreitasn/hybridexchange/internal/domain"
	"github.com/efreitasn/hybridexchange/internal/service"
)

// OrderHandler handles HTTP requests for order endpoints.
type OrderHandler struct {
	marketSvc *service.MarketService
}

// NewOrderHandler creates a new OrderHandler.
func NewOrderHandler(marketSvc *service.MarketService) *OrderHandler {
	return &OrderHandler{marketSvc: marketSvc}
}

// placeOrderRequest is the JSON request body for POST /markets/{id}/orders.
// price and size are real values; quote_amount and min_out are atoms.
type placeOrderRequest struct {
	Type        string           `json:"type"`
	Owner       string           `json:"owner"`
	Side        string           `json:"side"`
	Price       *decimal.Decimal `json:"price"`
	Size        *decimal.Decimal `json:"size"`
	QuoteAmount *decimal.Decimal `json:"quote_amount"`
	MinOut      *decimal.Decimal `json:"min_out"`
	PostOnly    bool             `json:"post_only"`
	UseMargin   *bool            `json:"use_margin"`
}

// orderResponse is the JSON representation of an order. Market orders have
// a null price.
type orderResponse struct {
	OrderID       string         `json:"order_id"`
	MarketID      string         `json:"market_id"`
	Type          string         `json:"type"`
	Owner         string         `json:"owner"`
	Side          string         `json:"side"`
	Price         *string        `json:"price"`
	Size          string         `json:"size"`
	FilledSize    string         `json:"filled_size"`
	RemainingSize string         `json:"remaining_size"`
	PostOnly      bool           `json:"post_only"`
	Status        string         `json:"status"`
	Escrow        string         `json:"escrow"`
	AveragePrice  *string        `json:"average_price"`
	CreatedAt     string         `json:"created_at"`
	Fills         []fillResponse `json:"fills"`
}

// placeOrderResponse adds what the taker received net of fees.
type placeOrderResponse struct {
	orderResponse
	BaseOut     string `json:"base_out"`
	QuoteOut    string `json:"quote_out"`
	WalletError string `json:"wallet_error,omitempty"`
}

// cancelOrderResponse adds the escrow refunded to the owner.
type cancelOrderResponse struct {
	orderResponse
	Refunded    string `json:"refunded"`
	WalletError string `json:"wallet_error,omitempty"`
}

// fillResponse is a single fill. Amounts and fees are atoms.
type fillResponse struct {
	FillID       string `json:"fill_id"`
	TakerOrderID string `json:"taker_order_id"`
	MakerOrderID string `json:"maker_order_id,omitempty"`
	Taker        string `json:"taker"`
	Maker        string `json:"maker"`
	TakerSide    string `json:"taker_side"`
	Price        string `json:"price"`
	Size         string `json:"size"`
	BaseAmount   string `json:"base_amount"`
	QuoteAmount  string `json:"quote_amount"`
	TakerFee     string `json:"taker_fee"`
	MakerFee     string `json:"maker_fee"`
	FromVault    bool   `json:"from_vault"`
	ExecutedAt   string `json:"executed_at"`
}

// PlaceOrder handles POST /markets/{market_id}/orders.
func (h *OrderHandler) PlaceOrder(w http.ResponseWriter, r *http.Request) {
	var req placeOrderRequest
	if err := ParseJSON(r, &req); err != nil {
		WriteError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	minOut := decimal.Zero
	if req.MinOut != nil {
		minOut = *req.MinOut
	}

	res, err := h.marketSvc.PlaceOrder(service.PlaceOrderRequest{
		MarketID:    chi.URLParam(r, "market_id"),
		Caller:      r.Header.Get(relayerHeader),
		Owner:       req.Owner,
		Type:        domain.OrderType(req.Type),
		Side:        domain.Side(req.Side),
		Price:       req.Price,
		Size:        req.Size,
		QuoteAmount: req.QuoteAmount,
		MinOut:      minOut,
		PostOnly:    req.PostOnly,
		FromWallet:  !useMargin(req.UseMargin),
	})
	walletErr, ok := settlementError(res != nil, err)
	if !ok {
		mapError(w, err)
		return
	}

	codec := h.codec(res.Order.MarketID)
	WriteJSON(w, http.StatusCreated, placeOrderResponse{
		orderResponse: buildOrderResponse(codec, res.Order, res.Fills),
		BaseOut:       res.BaseOut.String(),
		QuoteOut:      res.QuoteOut.String(),
		WalletError:   walletErr,
	})
}

// GetOrder handles GET /markets/{market_id}/orders/{order_id}.
func (h *OrderHandler) GetOrder(w http.ResponseWriter, r *http.Request) {
	marketID := chi.URLParam(r, "market_id")
	orderID, ok := parseOrderID(w, r)
	if !ok {
		return
	}

	order, fills, err := h.marketSvc.GetOrder(marketID, orderID)
	if err != nil {
		mapError(w, err)
		return
	}

	WriteJSON(w, http.StatusOK, buildOrderResponse(h.codec(marketID), order, fills))
}

// CancelOrder handles DELETE /markets/{market_id}/orders/{order_id}?owner=.
func (h *OrderHandler) CancelOrder(w http.ResponseWriter, r *http.Request) {
	marketID := chi.URLParam(r, "market_id")
	orderID, ok := parseOrderID(w, r)
	if !ok {
		return
	}
	margin, err := queryBool(r, "use_margin", true)
	if err != nil {
		mapError(w, err)
		return
	}

	res, err := h.marketSvc.CancelOrder(service.CancelOrderRequest{
		MarketID:   marketID,
		Caller:     r.Header.Get(relayerHeader),
		Owner:      r.URL.Query().Get("owner"),
		OrderID:    orderID,
		FromWallet: !margin,
	})
	walletErr, ok := settlementError(res != nil, err)
	if !ok {
		mapError(w, err)
		return
	}

	WriteJSON(w, http.StatusOK, cancelOrderResponse{
		orderResponse: buildOrderResponse(h.codec(marketID), res.Order, nil),
		Refunded:      res.Refunded.String(),
		WalletError:   walletErr,
	})
}

// codec returns the codec of a market the request already resolved.
func (h *OrderHandler) codec(marketID string) domain.Codec {
	c, _ := h.marketSvc.Codec(marketID)
	return c
}

func parseOrderID(w http.ResponseWriter, r *http.Request) (uint64, bool) {
	id, err := strconv.ParseUint(chi.URLParam(r, "order_id"), 10, 64)
	if err != nil {
		WriteError(w, http.StatusBadRequest, "validation_error", "order_id must be a positive integer")
		return 0, false
	}
	return id, true
}

// buildOrderResponse converts a domain order and its fills to a response.
func buildOrderResponse(codec domain.Codec, o domain.Order, fills []*domain.Fill) orderResponse {
	resp := orderResponse{
		OrderID:       strconv.FormatUint(o.ID, 10),
		MarketID:      o.MarketID,
		Type:          string(o.Type),
		Owner:         o.Owner,
		Side:          string(o.Side),
		Size:          codec.FromLots(o.SizeLots).String(),
		FilledSize:    codec.FromLots(o.FilledLots).String(),
		RemainingSize: codec.FromLots(o.RemainingLots).String(),
		PostOnly:      o.PostOnly,
		Status:        string(o.Status),
		Escrow:        o.Escrow.String(),
		CreatedAt:     o.CreatedAt.UTC().Format(timeFormat),
		Fills:         buildFillResponses(codec, fills),
	}
	if o.Type == domain.OrderTypeLimit {
		p := codec.FromTicks(o.PriceTicks).String()
		resp.Price = &p
	}
	if avg, ok := domain.AveragePrice(fills); ok {
		p := codec.FromTicks(avg).String()
		resp.AveragePrice = &p
	}
	return resp
}

// buildFillResponses converts domain fills to response fills.
func buildFillResponses(codec domain.Codec, fills []*domain.Fill) []fillResponse {
	result := make([]fillResponse, len(fills))
	for i, f := range fills {
		result[i] = fillResponse{
			FillID:       f.FillID,
			TakerOrderID: strconv.FormatUint(f.TakerOrderID, 10),
			Taker:        f.Taker,
			Maker:        f.Maker,
			TakerSide:    string(f.TakerSide),
			Price:        codec.FromTicks(f.PriceTicks).String(),
			Size:         codec.FromLots(f.SizeLots).String(),
			BaseAmount:   f.BaseAmount.String(),
			QuoteAmount:  f.QuoteAmount.String(),
			TakerFee:     f.TakerFee.String(),
			MakerFee:     f.MakerFee.String(),
			FromVault:    f.FromVault(),
			ExecutedAt:   f.ExecutedAt.UTC().Format(timeFormat),
		}
		if !f.FromVault() {
			result[i].MakerOrderID = strconv.FormatUint(f.MakerOrderID, 10)
		}
	}
	return result
}
