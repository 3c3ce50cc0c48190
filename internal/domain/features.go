package domain

import "time"

// Indicator names computed by the Feature Store on every candle close.
const (
	IndicatorSMA  = "sma"
	IndicatorEMA  = "ema"
	IndicatorRSI  = "rsi"
	IndicatorMACD = "macd"
	IndicatorBB   = "bbands"
	IndicatorATR  = "atr"
)

// MACDValue carries the three MACD outputs talib returns.
type MACDValue struct {
	MACD      float64 `json:"macd"`
	Signal    float64 `json:"signal"`
	Histogram float64 `json:"histogram"`
}

// BollingerValue carries the three Bollinger Band outputs.
type BollingerValue struct {
	Upper  float64 `json:"upper"`
	Middle float64 `json:"middle"`
	Lower  float64 `json:"lower"`
}

// FeatureVector is the current per-symbol snapshot of indicator values
// plus the last close. Immutable once produced; recomputed whole on
// every candle close so no partial update is ever observable
// invariant).
type FeatureVector struct {
	Symbol       string             `json:"symbol"`
	Timeframe    Timeframe          `json:"timeframe"`
	AsOf         time.Time          `json:"as_of"`
	LastClose    float64            `json:"last_close"`
	SMA          map[int]float64    `json:"sma"`
	EMA          map[int]float64    `json:"ema"`
	RSI          *float64           `json:"rsi,omitempty"`
	MACD         *MACDValue         `json:"macd,omitempty"`
	BollingerPos *float64           `json:"bollinger_position,omitempty"` // 0..1 within the bands
	Bollinger    *BollingerValue    `json:"bollinger,omitempty"`
	ATR          *float64           `json:"atr,omitempty"`
	Complete     bool               `json:"complete"` // true once every configured indicator is warm
	MissingWarm  []string           `json:"missing_warm,omitempty"`
}
