package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/efreitasn/hybridexchange/internal/service"
)

// MarketHandler handles HTTP requests for market data endpoints.
type MarketHandler struct {
	marketSvc *service.MarketService
}

// NewMarketHandler creates a new MarketHandler.
func NewMarketHandler(marketSvc *service.MarketService) *MarketHandler {
	return &MarketHandler{marketSvc: marketSvc}
}

// marketResponse describes a deployed market.
type marketResponse struct {
	MarketID       string `json:"market_id"`
	BaseAsset      string `json:"base_asset"`
	QuoteAsset     string `json:"quote_asset"`
	BaseDecimals   int32  `json:"base_decimals"`
	QuoteDecimals  int32  `json:"quote_decimals"`
	TickSize       string `json:"tick_size"`
	MinSize        string `json:"min_size"`
	MaxSize        string `json:"max_size"`
	TakerFeeBps    int64  `json:"taker_fee_bps"`
	MakerFeeBps    int64  `json:"maker_fee_bps"`
	VaultSpreadBps int64  `json:"vault_spread_bps"`
	VaultDepthBps  int64  `json:"vault_depth_bps"`
	VaultCurve     string `json:"vault_curve"`
	VaultAddress   string `json:"vault_address"`
	ShareAsset     string `json:"share_asset"`
}

type marketListResponse struct {
	Markets []marketResponse `json:"markets"`
}

// bookLevelResponse is a single price level in the book response.
type bookLevelResponse struct {
	Price      string `json:"price"`
	Size       string `json:"size"`
	OrderCount int    `json:"order_count"`
}

// bookResponse is the JSON response for GET /markets/{market_id}/book.
type bookResponse struct {
	MarketID   string              `json:"market_id"`
	Bids       []bookLevelResponse `json:"bids"`
	Asks       []bookLevelResponse `json:"asks"`
	Spread     *string             `json:"spread"`
	SnapshotAt string              `json:"snapshot_at"`
}

// quoteLevelResponse is the best price on one side of the market.
type quoteLevelResponse struct {
	Price     string `json:"price"`
	Size      string `json:"size"`
	FromVault bool   `json:"from_vault"`
}

// quoteResponse is the JSON response for GET /markets/{market_id}/quote.
type quoteResponse struct {
	MarketID string              `json:"market_id"`
	Bid      *quoteLevelResponse `json:"bid"`
	Ask      *quoteLevelResponse `json:"ask"`
	QuotedAt string              `json:"quoted_at"`
}

type fillListResponse struct {
	MarketID string         `json:"market_id"`
	Fills    []fillResponse `json:"fills"`
}

// List handles GET /markets.
func (h *MarketHandler) List(w http.ResponseWriter, r *http.Request) {
	markets := h.marketSvc.Markets()
	resp := marketListResponse{Markets: make([]marketResponse, len(markets))}
	for i, m := range markets {
		cfg := m.Config
		codec, _ := h.marketSvc.Codec(cfg.ID)
		resp.Markets[i] = marketResponse{
			MarketID:       cfg.ID,
			BaseAsset:      cfg.BaseAsset,
			QuoteAsset:     cfg.QuoteAsset,
			BaseDecimals:   cfg.BaseDecimals,
			QuoteDecimals:  cfg.QuoteDecimals,
			TickSize:       codec.FromTicks(cfg.TickSize).String(),
			MinSize:        codec.FromLots(cfg.MinSize).String(),
			MaxSize:        codec.FromLots(cfg.MaxSize).String(),
			TakerFeeBps:    cfg.TakerFeeBps,
			MakerFeeBps:    cfg.MakerFeeBps,
			VaultSpreadBps: cfg.VaultSpreadBps,
			VaultDepthBps:  cfg.VaultDepthBps,
			VaultCurve:     string(cfg.VaultCurve),
			VaultAddress:   m.VaultAddress,
			ShareAsset:     m.ShareAsset,
		}
	}
	WriteJSON(w, http.StatusOK, resp)
}

// GetBook handles GET /markets/{market_id}/book.
func (h *MarketHandler) GetBook(w http.ResponseWriter, r *http.Request) {
	depth, err := queryInt(r, "depth", 10)
	if err != nil {
		mapError(w, err)
		return
	}

	book, err := h.marketSvc.Book(chi.URLParam(r, "market_id"), depth)
	if err != nil {
		mapError(w, err)
		return
	}

	resp := bookResponse{
		MarketID:   book.MarketID,
		Bids:       buildBookLevels(book.Bids),
		Asks:       buildBookLevels(book.Asks),
		SnapshotAt: book.SnapshotAt.UTC().Format(timeFormat),
	}
	if book.Spread != nil {
		s := book.Spread.String()
		resp.Spread = &s
	}
	WriteJSON(w, http.StatusOK, resp)
}

// GetQuote handles GET /markets/{market_id}/quote.
func (h *MarketHandler) GetQuote(w http.ResponseWriter, r *http.Request) {
	q, err := h.marketSvc.Quote(chi.URLParam(r, "market_id"))
	if err != nil {
		mapError(w, err)
		return
	}

	WriteJSON(w, http.StatusOK, quoteResponse{
		MarketID: q.MarketID,
		Bid:      buildQuoteLevel(q.Bid),
		Ask:      buildQuoteLevel(q.Ask),
		QuotedAt: q.QuotedAt.UTC().Format(timeFormat),
	})
}

// ListFills handles GET /markets/{market_id}/fills.
func (h *MarketHandler) ListFills(w http.ResponseWriter, r *http.Request) {
	marketID := chi.URLParam(r, "market_id")
	limit, err := queryInt(r, "limit", 50)
	if err != nil {
		mapError(w, err)
		return
	}

	fills, err := h.marketSvc.Fills(marketID, limit)
	if err != nil {
		mapError(w, err)
		return
	}

	codec, _ := h.marketSvc.Codec(marketID)
	WriteJSON(w, http.StatusOK, fillListResponse{
		MarketID: marketID,
		Fills:    buildFillResponses(codec, fills),
	})
}

func buildBookLevels(levels []service.BookLevel) []bookLevelResponse {
	result := make([]bookLevelResponse, len(levels))
	for i, l := range levels {
		result[i] = bookLevelResponse{
			Price:      l.Price.String(),
			Size:       l.Size.String(),
			OrderCount: l.OrderCount,
		}
	}
	return result
}

func buildQuoteLevel(l *service.QuoteLevel) *quoteLevelResponse {
	if l == nil {
		return nil
	}
	return &quoteLevelResponse{
		Price:     l.Price.String(),
		Size:      l.Size.String(),
		FromVault: l.FromVault,
	}
}
