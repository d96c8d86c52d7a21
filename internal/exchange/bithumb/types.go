package bithumb

import (
	"encoding/json"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/suhyunle/coin-trader/internal/domain"
)

// flexFloat unmarshals from a JSON number or a numeric string. Bithumb sends
// balances and order amounts as strings but prices as numbers.
type flexFloat float64

func (f *flexFloat) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		*f = 0
		return nil
	}
	var n float64
	if err := json.Unmarshal(data, &n); err == nil {
		*f = flexFloat(n)
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	s = strings.TrimSpace(s)
	if s == "" {
		*f = 0
		return nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return err
	}
	*f = flexFloat(v)
	return nil
}

// --------------------------------------------------------------------------
// Error envelope
// --------------------------------------------------------------------------

type apiErrorBody struct {
	Error *struct {
		Name    string `json:"name"`
		Message string `json:"message"`
	} `json:"error"`
}

// --------------------------------------------------------------------------
// Quotation DTOs
// --------------------------------------------------------------------------

type apiCandle struct {
	Market            string    `json:"market"`
	CandleDateTimeUTC string    `json:"candle_date_time_utc"`
	OpeningPrice      flexFloat `json:"opening_price"`
	HighPrice         flexFloat `json:"high_price"`
	LowPrice          flexFloat `json:"low_price"`
	TradePrice        flexFloat `json:"trade_price"`
	CandleAccTradeVol flexFloat `json:"candle_acc_trade_volume"`
	Timestamp         int64     `json:"timestamp"`
}

// toDomain converts the bar. The UTC bucket start is authoritative; the
// timestamp field is the last trade time inside the bucket.
func (c apiCandle) toDomain() domain.Candle {
	ts, err := time.Parse("2006-01-02T15:04:05", c.CandleDateTimeUTC)
	if err != nil {
		ts = time.UnixMilli(c.Timestamp)
	}
	return domain.Candle{
		Timestamp: ts.UTC(),
		Open:      float64(c.OpeningPrice),
		High:      float64(c.HighPrice),
		Low:       float64(c.LowPrice),
		Close:     float64(c.TradePrice),
		Volume:    float64(c.CandleAccTradeVol),
	}
}

// candlesOldestFirst converts a newest-first API page into ascending bars.
func candlesOldestFirst(in []apiCandle) []domain.Candle {
	out := make([]domain.Candle, 0, len(in))
	for _, c := range in {
		out = append(out, c.toDomain())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Timestamp.Before(out[j].Timestamp) })
	return out
}

type apiTicker struct {
	Market            string    `json:"market"`
	TradePrice        flexFloat `json:"trade_price"`
	OpeningPrice      flexFloat `json:"opening_price"`
	HighPrice         flexFloat `json:"high_price"`
	LowPrice          flexFloat `json:"low_price"`
	PrevClosingPrice  flexFloat `json:"prev_closing_price"`
	SignedChangeRate  flexFloat `json:"signed_change_rate"`
	AccTradeVolume24h flexFloat `json:"acc_trade_volume_24h"`
	Timestamp         int64     `json:"timestamp"`
}

func (t apiTicker) toDomain() domain.Ticker {
	return domain.Ticker{
		Market:         t.Market,
		TradePrice:     float64(t.TradePrice),
		OpeningPrice:   float64(t.OpeningPrice),
		HighPrice:      float64(t.HighPrice),
		LowPrice:       float64(t.LowPrice),
		PrevClosePrice: float64(t.PrevClosingPrice),
		ChangeRate:     float64(t.SignedChangeRate),
		Volume24h:      float64(t.AccTradeVolume24h),
		Timestamp:      time.UnixMilli(t.Timestamp).UTC(),
	}
}

type apiOrderbookUnit struct {
	AskPrice flexFloat `json:"ask_price"`
	BidPrice flexFloat `json:"bid_price"`
	AskSize  flexFloat `json:"ask_size"`
	BidSize  flexFloat `json:"bid_size"`
}

type apiOrderbook struct {
	Market    string             `json:"market"`
	Timestamp int64              `json:"timestamp"`
	Units     []apiOrderbookUnit `json:"orderbook_units"`
}

// toDomain splits paired units into sorted sides, dropping empty levels.
func (o apiOrderbook) toDomain() domain.OrderbookSnapshot {
	return unitsToSnapshot(o.Market, o.Units, o.Timestamp)
}

func unitsToSnapshot(market string, units []apiOrderbookUnit, tsMillis int64) domain.OrderbookSnapshot {
	snap := domain.OrderbookSnapshot{
		Market:    market,
		Timestamp: time.UnixMilli(tsMillis).UTC(),
	}
	for _, u := range units {
		if u.BidPrice > 0 && u.BidSize > 0 {
			snap.Bids = append(snap.Bids, domain.PriceLevel{Price: float64(u.BidPrice), Size: float64(u.BidSize)})
		}
		if u.AskPrice > 0 && u.AskSize > 0 {
			snap.Asks = append(snap.Asks, domain.PriceLevel{Price: float64(u.AskPrice), Size: float64(u.AskSize)})
		}
	}
	sort.Slice(snap.Bids, func(i, j int) bool { return snap.Bids[i].Price > snap.Bids[j].Price })
	sort.Slice(snap.Asks, func(i, j int) bool { return snap.Asks[i].Price < snap.Asks[j].Price })
	return snap
}

// --------------------------------------------------------------------------
// Exchange DTOs
// --------------------------------------------------------------------------

type apiAccount struct {
	Currency     string    `json:"currency"`
	Balance      flexFloat `json:"balance"`
	Locked       flexFloat `json:"locked"`
	AvgBuyPrice  flexFloat `json:"avg_buy_price"`
	UnitCurrency string    `json:"unit_currency"`
}

// accountsToBalance folds the account list into the quote/base pair of the
// traded market. Total is balance plus locked.
func accountsToBalance(accounts []apiAccount, quote, base string) domain.Balance {
	var b domain.Balance
	for _, a := range accounts {
		switch strings.ToUpper(a.Currency) {
		case quote:
			b.AvailableKRW = float64(a.Balance)
			b.TotalKRW = float64(a.Balance + a.Locked)
		case base:
			b.AvailableBTC = float64(a.Balance)
			b.TotalBTC = float64(a.Balance + a.Locked)
		}
	}
	return b
}

type apiChanceAccount struct {
	Currency string    `json:"currency"`
	Balance  flexFloat `json:"balance"`
	Locked   flexFloat `json:"locked"`
}

type apiChance struct {
	BidFee flexFloat `json:"bid_fee"`
	AskFee flexFloat `json:"ask_fee"`
	Market struct {
		ID    string `json:"id"`
		State string `json:"state"`
		Bid   struct {
			Currency string    `json:"currency"`
			MinTotal flexFloat `json:"min_total"`
		} `json:"bid"`
		Ask struct {
			Currency string    `json:"currency"`
			MinTotal flexFloat `json:"min_total"`
		} `json:"ask"`
		MaxTotal flexFloat `json:"max_total"`
	} `json:"market"`
	BidAccount apiChanceAccount `json:"bid_account"`
	AskAccount apiChanceAccount `json:"ask_account"`
}

func (c apiChance) toDomain() domain.OrderChance {
	return domain.OrderChance{
		MarketState:  c.Market.State,
		BidMinTotal:  float64(c.Market.Bid.MinTotal),
		MaxTotal:     float64(c.Market.MaxTotal),
		BidFee:       float64(c.BidFee),
		AskFee:       float64(c.AskFee),
		BidAvailable: float64(c.BidAccount.Balance),
		AskAvailable: float64(c.AskAccount.Balance),
	}
}

type apiTrade struct {
	Price  flexFloat `json:"price"`
	Volume flexFloat `json:"volume"`
	Funds  flexFloat `json:"funds"`
}

type apiOrder struct {
	UUID            string     `json:"uuid"`
	Side            string     `json:"side"`
	OrdType         string     `json:"ord_type"`
	Price           flexFloat  `json:"price"`
	State           string     `json:"state"`
	Market          string     `json:"market"`
	CreatedAt       string     `json:"created_at"`
	Volume          flexFloat  `json:"volume"`
	RemainingVolume flexFloat  `json:"remaining_volume"`
	ExecutedVolume  flexFloat  `json:"executed_volume"`
	PaidFee         flexFloat  `json:"paid_fee"`
	Trades          []apiTrade `json:"trades"`
}

func (o apiOrder) toDomain() domain.OrderInfo {
	side := domain.OrderSideBuy
	if o.Side == "ask" {
		side = domain.OrderSideSell
	}
	info := domain.OrderInfo{
		ID:             o.UUID,
		Side:           side,
		OrdType:        o.OrdType,
		Price:          float64(o.Price),
		Volume:         float64(o.Volume),
		ExecutedVolume: float64(o.ExecutedVolume),
		PaidFee:        float64(o.PaidFee),
		State:          domain.OrderState(o.State),
		CreatedAt:      parseOrderTime(o.CreatedAt),
	}
	for _, t := range o.Trades {
		info.Trades = append(info.Trades, domain.ExecutedTrade{
			Price:  float64(t.Price),
			Volume: float64(t.Volume),
			Funds:  float64(t.Funds),
		})
	}
	return info
}

// parseOrderTime accepts RFC 3339 with or without a zone offset.
func parseOrderTime(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t.UTC()
	}
	if t, err := time.Parse("2006-01-02T15:04:05", s); err == nil {
		return t.UTC()
	}
	return time.Time{}
}

type apiOrderResult struct {
	UUID string `json:"uuid"`
}

// --------------------------------------------------------------------------
// WebSocket DTOs
// --------------------------------------------------------------------------

type wsEnvelope struct {
	Type string `json:"type"`
	Code string `json:"code"`
}

type wsTrade struct {
	Type           string    `json:"type"`
	Code           string    `json:"code"`
	TradePrice     flexFloat `json:"trade_price"`
	TradeVolume    flexFloat `json:"trade_volume"`
	AskBid         string    `json:"ask_bid"`
	TradeTimestamp int64     `json:"trade_timestamp"`
	Timestamp      int64     `json:"timestamp"`
}

func (t wsTrade) toDomain() domain.Tick {
	ts := t.TradeTimestamp
	if ts == 0 {
		ts = t.Timestamp
	}
	side := domain.TickSideBuy
	if strings.EqualFold(t.AskBid, "ASK") {
		side = domain.TickSideSell
	}
	return domain.Tick{
		Symbol:    t.Code,
		Price:     float64(t.TradePrice),
		Volume:    float64(t.TradeVolume),
		Timestamp: time.UnixMilli(ts).UTC(),
		Side:      side,
	}
}

type wsOrderbook struct {
	Type      string             `json:"type"`
	Code      string             `json:"code"`
	Timestamp int64              `json:"timestamp"`
	Units     []apiOrderbookUnit `json:"orderbook_units"`
}
