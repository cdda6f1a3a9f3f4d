package common

import (
	"github.com/allenneverland/backtest-server/pkg/utility/fixed"
)

type AssetClass string

const (
	AssetClassEquity  AssetClass = "equity"
	AssetClassFutures AssetClass = "futures"
	AssetClassForex   AssetClass = "forex"
	AssetClassCrypto  AssetClass = "crypto"
)

// Instrument is immutable reference data, owned by the data layer and
// read-only to the engine.
type Instrument struct {
	Symbol   string      `json:"symbol"`
	Id       int64       `json:"id,omitempty"`
	Class    AssetClass  `json:"class"`
	Digits   int         `json:"digits"`
	TickSize fixed.Point `json:"tick_size"`
	LotSize  fixed.Point `json:"lot_size"`
	Currency string      `json:"currency,omitempty"`
}
