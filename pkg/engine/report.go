package engine

import (
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/allenneverland/backtest-server/pkg/utility/fixed"
)

// Report is the final metrics bundle for one completed run. Percentages
// are rescaled to two decimals, ratios to five.
type Report struct {
	StartDate            time.Time     `json:"start_date"`
	EndDate              time.Time     `json:"end_date"`
	InitialEquity        fixed.Point   `json:"initial_equity"`
	FinalEquity          fixed.Point   `json:"final_equity"`
	TotalProfit          fixed.Point   `json:"total_profit_pct"`
	AnnualizedReturn     fixed.Point   `json:"annualized_return_pct"`
	MaxDrawdown          fixed.Point   `json:"max_drawdown_pct"`
	TotalTrades          int           `json:"total_trades"`
	WinningTrades        int           `json:"winning_trades"`
	LosingTrades         int           `json:"losing_trades"`
	WinRate              fixed.Point   `json:"win_rate_pct"`
	Expectancy           fixed.Point   `json:"expectancy"`
	ProfitFactor         fixed.Point   `json:"profit_factor"`
	AverageWin           fixed.Point   `json:"average_win"`
	AverageLoss          fixed.Point   `json:"average_loss"`
	RiskRewardRatio      fixed.Point   `json:"risk_reward_ratio"`
	AverageTradeDuration time.Duration `json:"average_trade_duration"`
	RecoveryFactor       fixed.Point   `json:"recovery_factor"`
	SharpeRatio          fixed.Point   `json:"sharpe_ratio"`
	SortinoRatio         fixed.Point   `json:"sortino_ratio"`
	AnnualizedVolatility fixed.Point   `json:"annualized_volatility_pct"`
}

func (report Report) Print(logger *zap.Logger) {
	logger.Info("performance report",
		zap.String("initial_equity", report.InitialEquity.String()),
		zap.String("final_equity", report.FinalEquity.String()),
		zap.String("total_profit", fmt.Sprintf("%s%%", report.TotalProfit.String())),
		zap.String("annualized_return", fmt.Sprintf("%s%%", report.AnnualizedReturn.String())),
		zap.String("max_drawdown", fmt.Sprintf("%s%%", report.MaxDrawdown.String())),
		zap.String("recovery_factor", report.RecoveryFactor.String()),
	)

	logger.Info("trade statistics",
		zap.Int("total_trades", report.TotalTrades),
		zap.Int("winning_trades", report.WinningTrades),
		zap.Int("losing_trades", report.LosingTrades),
		zap.String("win_rate", fmt.Sprintf("%s%%", report.WinRate.String())),
		zap.String("expectancy", report.Expectancy.String()),
		zap.String("profit_factor", report.ProfitFactor.String()),
		zap.String("average_win", report.AverageWin.String()),
		zap.String("average_loss", report.AverageLoss.String()),
		zap.String("risk_reward_ratio", report.RiskRewardRatio.String()),
		zap.String("average_trade_duration", report.AverageTradeDuration.String()),
	)

	logger.Info("risk metrics",
		zap.String("sharpe_ratio", report.SharpeRatio.String()),
		zap.String("sortino_ratio", report.SortinoRatio.String()),
		zap.String("annualized_volatility", fmt.Sprintf("%s%%", report.AnnualizedVolatility.String())),
	)
}
