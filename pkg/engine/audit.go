package engine

import (
	"time"

	"github.com/allenneverland/backtest-server/pkg/utility/fixed"
)

type accountSnapshot struct {
	cash   fixed.Point
	equity fixed.Point
	t      time.Time
}

type roundTrip struct {
	profit   fixed.Point
	openTime time.Time
	closed   time.Time
}

// Audit accumulates the run's equity curve and closed round trips, then
// condenses them into a Report once the stream ends.
type Audit struct {
	minSnapshotInterval time.Duration

	accountSnapshots []accountSnapshot
	roundTrips       []roundTrip
}

func NewAudit(minSnapshotInterval time.Duration) *Audit {
	return &Audit{
		minSnapshotInterval: minSnapshotInterval,
	}
}

func (a *Audit) AddAccountSnapshot(cash, equity fixed.Point, t time.Time) {
	if len(a.accountSnapshots) == 0 ||
		t.Sub(a.accountSnapshots[len(a.accountSnapshots)-1].t) >= a.minSnapshotInterval {
		a.accountSnapshots = append(a.accountSnapshots, accountSnapshot{
			cash:   cash,
			equity: equity,
			t:      t,
		})
	}
}

// AddRoundTrip records one closed position cycle with its realized profit
// net of costs.
func (a *Audit) AddRoundTrip(profit fixed.Point, openTime, closeTime time.Time) {
	a.roundTrips = append(a.roundTrips, roundTrip{
		profit:   profit,
		openTime: openTime,
		closed:   closeTime,
	})
}

func (a *Audit) GenerateReport() Report {
	report := Report{}
	if len(a.accountSnapshots) == 0 {
		return report
	}

	auditedDays := a.dayCount()
	year := fixed.FromInt64(36500, 2)

	report.InitialEquity = a.accountSnapshots[0].equity
	report.StartDate = a.accountSnapshots[0].t
	report.FinalEquity = a.accountSnapshots[len(a.accountSnapshots)-1].equity
	report.EndDate = a.accountSnapshots[len(a.accountSnapshots)-1].t

	report.TotalProfit = report.FinalEquity.Div(report.InitialEquity).Sub(fixed.One).MulInt64(100).Rescale(2)
	if auditedDays > 0 && report.InitialEquity.Gt(fixed.Zero) && report.FinalEquity.Gt(fixed.Zero) {
		ratio := report.FinalEquity.Div(report.InitialEquity)
		exponent := year.DivInt64(int64(auditedDays))
		report.AnnualizedReturn = ratio.Pow(exponent).Sub(fixed.One).MulInt64(100).Rescale(2)
	}

	maxEquity := report.InitialEquity
	for _, snapshot := range a.accountSnapshots {
		if snapshot.equity.Gt(maxEquity) {
			maxEquity = snapshot.equity
		}
		drawdown := maxEquity.Sub(snapshot.equity).Div(maxEquity)
		if drawdown.Gt(report.MaxDrawdown) {
			report.MaxDrawdown = drawdown
		}
	}

	var (
		totalDuration time.Duration
		totalProfit   fixed.Point
		totalLoss     fixed.Point
	)
	for _, trip := range a.roundTrips {
		report.TotalTrades++
		if !trip.openTime.IsZero() && trip.closed.After(trip.openTime) {
			totalDuration += trip.closed.Sub(trip.openTime)
		}
		if trip.profit.Gt(fixed.Zero) {
			totalProfit = totalProfit.Add(trip.profit)
			report.WinningTrades++
		} else {
			totalLoss = totalLoss.Add(trip.profit.Neg())
			report.LosingTrades++
		}
	}

	if report.WinningTrades > 0 {
		report.AverageWin = totalProfit.DivInt64(int64(report.WinningTrades))
	}
	if report.LosingTrades > 0 {
		report.AverageLoss = totalLoss.DivInt64(int64(report.LosingTrades))
	}
	if totalLoss.Gt(fixed.Zero) {
		report.ProfitFactor = totalProfit.Div(totalLoss)
	}
	if report.AverageLoss.Gt(fixed.Zero) {
		report.RiskRewardRatio = report.AverageWin.Div(report.AverageLoss)
	}
	if report.TotalTrades > 0 {
		report.Expectancy = totalProfit.Sub(totalLoss).DivInt64(int64(report.TotalTrades))
		report.AverageTradeDuration = totalDuration / time.Duration(report.TotalTrades)
		report.WinRate = fixed.FromInt64(int64(report.WinningTrades), 0).DivInt64(int64(report.TotalTrades)).MulInt64(100).Rescale(2)
	}
	if report.MaxDrawdown.Gt(fixed.Zero) {
		report.RecoveryFactor = report.TotalProfit.Div(report.MaxDrawdown)
	}
	report.MaxDrawdown = report.MaxDrawdown.MulInt64(100).Rescale(2)

	dailyReturns := a.dailyReturns()
	meanReturn := fixed.Mean(dailyReturns)
	vol := fixed.StdDev(dailyReturns, meanReturn)

	if !meanReturn.IsZero() && !vol.IsZero() {
		report.AnnualizedVolatility = vol.Mul(fixed.Sqrt252).MulInt64(100).Rescale(2)
		report.SharpeRatio = fixed.SharpeRatio(dailyReturns, fixed.Zero).Mul(fixed.Sqrt252).Rescale(5)
		report.SortinoRatio = fixed.SortinoRatio(dailyReturns, fixed.Zero).Mul(fixed.Sqrt252).Rescale(5)
	}

	return report
}

func (a *Audit) dayCount() int {
	if len(a.accountSnapshots) < 2 {
		return 1
	}
	start := a.accountSnapshots[0].t
	end := a.accountSnapshots[len(a.accountSnapshots)-1].t
	return int(end.Sub(start).Hours()/24) + 1
}

func (a *Audit) dailyReturns() []fixed.Point {
	var dailyReturns []fixed.Point
	if len(a.accountSnapshots) < 2 {
		return dailyReturns
	}

	var (
		prevDate   = a.accountSnapshots[0].t.Truncate(24 * time.Hour)
		prevEquity = a.accountSnapshots[0].equity
	)
	for _, snapshot := range a.accountSnapshots[1:] {
		currDate := snapshot.t.Truncate(24 * time.Hour)
		if currDate.After(prevDate) {
			dailyReturns = append(dailyReturns, snapshot.equity.Div(prevEquity).Sub(fixed.One))
			prevDate = currDate
			prevEquity = snapshot.equity
		}
	}
	return dailyReturns
}
