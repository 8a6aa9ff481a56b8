package dataflows

import (
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/shopspring/decimal"
)

// Indicators is the technical snapshot at the last bar of a series. A nil
// field means the series was too short for that indicator.
type Indicators struct {
	LastClose  decimal.Decimal
	SMA50      *decimal.Decimal
	SMA200     *decimal.Decimal
	EMA10      *decimal.Decimal
	RSI14      *decimal.Decimal
	MACD       *decimal.Decimal
	MACDSignal *decimal.Decimal
	BollUpper  *decimal.Decimal
	BollMiddle *decimal.Decimal
	BollLower  *decimal.Decimal
}

// ComputeIndicators sorts bars by date and evaluates the indicator set on
// closing prices.
func ComputeIndicators(bars []Bar) Indicators {
	sorted := append([]Bar(nil), bars...)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Date.Before(sorted[j].Date) })

	closes := make([]decimal.Decimal, len(sorted))
	for i, b := range sorted {
		closes[i] = b.Close
	}

	var ind Indicators
	if len(closes) == 0 {
		return ind
	}
	ind.LastClose = closes[len(closes)-1]
	ind.SMA50 = lastSMA(closes, 50)
	ind.SMA200 = lastSMA(closes, 200)
	ind.RSI14 = lastRSI(closes, 14)

	if ema := emaSeries(closes, 10); len(ema) > 0 {
		v := ema[len(ema)-1]
		ind.EMA10 = &v
	}

	fast, slow := emaSeries(closes, 12), emaSeries(closes, 26)
	if len(slow) > 0 {
		offset := len(fast) - len(slow)
		macd := make([]decimal.Decimal, len(slow))
		for i := range slow {
			macd[i] = fast[i+offset].Sub(slow[i])
		}
		m := macd[len(macd)-1]
		ind.MACD = &m
		if sig := emaSeries(macd, 9); len(sig) > 0 {
			s := sig[len(sig)-1]
			ind.MACDSignal = &s
		}
	}

	if mid := lastSMA(closes, 20); mid != nil {
		window := closes[len(closes)-20:]
		var variance float64
		m := mid.InexactFloat64()
		for _, c := range window {
			d := c.InexactFloat64() - m
			variance += d * d
		}
		std := decimal.NewFromFloat(math.Sqrt(variance / 20))
		up, lo := mid.Add(std.Mul(decimal.NewFromInt(2))), mid.Sub(std.Mul(decimal.NewFromInt(2)))
		ind.BollMiddle, ind.BollUpper, ind.BollLower = mid, &up, &lo
	}
	return ind
}

func lastSMA(values []decimal.Decimal, period int) *decimal.Decimal {
	if len(values) < period || period <= 0 {
		return nil
	}
	sum := decimal.Zero
	for _, v := range values[len(values)-period:] {
		sum = sum.Add(v)
	}
	avg := sum.Div(decimal.NewFromInt(int64(period)))
	return &avg
}

// emaSeries returns the EMA seeded with the SMA of the first period values.
// The result has len(values)-period+1 entries.
func emaSeries(values []decimal.Decimal, period int) []decimal.Decimal {
	if len(values) < period || period <= 0 {
		return nil
	}
	seed := lastSMA(values[:period], period)
	k := decimal.NewFromFloat(2.0 / float64(period+1))
	out := make([]decimal.Decimal, 0, len(values)-period+1)
	out = append(out, *seed)
	for _, v := range values[period:] {
		prev := out[len(out)-1]
		out = append(out, v.Sub(prev).Mul(k).Add(prev))
	}
	return out
}

// lastRSI uses Wilder smoothing.
func lastRSI(values []decimal.Decimal, period int) *decimal.Decimal {
	if len(values) <= period {
		return nil
	}
	p := decimal.NewFromInt(int64(period))
	gain, loss := decimal.Zero, decimal.Zero
	for i := 1; i <= period; i++ {
		ch := values[i].Sub(values[i-1])
		if ch.IsPositive() {
			gain = gain.Add(ch)
		} else {
			loss = loss.Sub(ch)
		}
	}
	gain, loss = gain.Div(p), loss.Div(p)
	for i := period + 1; i < len(values); i++ {
		ch := values[i].Sub(values[i-1])
		g, l := decimal.Zero, decimal.Zero
		if ch.IsPositive() {
			g = ch
		} else {
			l = ch.Neg()
		}
		gain = gain.Mul(p.Sub(decimal.NewFromInt(1))).Add(g).Div(p)
		loss = loss.Mul(p.Sub(decimal.NewFromInt(1))).Add(l).Div(p)
	}
	hundred := decimal.NewFromInt(100)
	if loss.IsZero() {
		return &hundred
	}
	rs := gain.Div(loss)
	rsi := hundred.Sub(hundred.Div(decimal.NewFromInt(1).Add(rs)))
	return &rsi
}

// Render formats the snapshot as a markdown list.
func (ind Indicators) Render() string {
	var b strings.Builder
	line := func(name string, v *decimal.Decimal) {
		if v == nil {
			fmt.Fprintf(&b, "- %s: n/a\n", name)
			return
		}
		fmt.Fprintf(&b, "- %s: %s\n", name, v.StringFixed(2))
	}
	fmt.Fprintf(&b, "- Last close: %s\n", ind.LastClose.StringFixed(2))
	line("10 EMA", ind.EMA10)
	line("50 SMA", ind.SMA50)
	line("200 SMA", ind.SMA200)
	line("RSI(14)", ind.RSI14)
	line("MACD", ind.MACD)
	line("MACD signal", ind.MACDSignal)
	line("Bollinger upper", ind.BollUpper)
	line("Bollinger middle", ind.BollMiddle)
	line("Bollinger lower", ind.BollLower)
	return strings.TrimRight(b.String(), "\n")
}
