package service

import (
	"testing"
	"time"

	"budgetledger/internal/model"

	"github.com/stretchr/testify/require"
)

func spentAlloc(amount int64, spentAt time.Time) *model.Allocation {
	return &model.Allocation{
		Amount:  amount,
		Status:  model.AllocationStatusSpent,
		SpentAt: &spentAt,
	}
}

func TestAverageMonthlyBurn(t *testing.T) {
	jan := time.Date(2026, 1, 15, 0, 0, 0, 0, time.UTC)
	feb := time.Date(2026, 2, 3, 0, 0, 0, 0, time.UTC)
	apr := time.Date(2026, 4, 28, 0, 0, 0, 0, time.UTC)

	// 1月 3000、2月 6000、4月 3000；3月没有消耗，不计入分母
	spent := []*model.Allocation{
		spentAlloc(1000, jan),
		spentAlloc(2000, jan),
		spentAlloc(6000, feb),
		spentAlloc(3000, apr),
	}
	require.Equal(t, int64(4000), averageMonthlyBurn(spent))
}

func TestAverageMonthlyBurnNoSpend(t *testing.T) {
	require.Equal(t, int64(0), averageMonthlyBurn(nil))

	// SpentAt 缺失的记录直接跳过
	spent := []*model.Allocation{{Amount: 1000, Status: model.AllocationStatusSpent}}
	require.Equal(t, int64(0), averageMonthlyBurn(spent))
}

func TestProjectedMonths(t *testing.T) {
	require.Equal(t, 5, projectedMonths(50000, 10000))
	require.Equal(t, 3, projectedMonths(35000, 10000)) // 向下取整
	require.Equal(t, 0, projectedMonths(0, 10000))
	require.Equal(t, 0, projectedMonths(-100, 10000))

	// 月均消耗为0时返回哨兵值，不做除法
	require.Equal(t, ProjectedMonthsSentinel, projectedMonths(50000, 0))
}

func TestForecastStatusThresholds(t *testing.T) {
	require.Equal(t, ForecastStatusHealthy, forecastStatus(0))
	require.Equal(t, ForecastStatusHealthy, forecastStatus(74.99))
	require.Equal(t, ForecastStatusWarning, forecastStatus(75))
	require.Equal(t, ForecastStatusWarning, forecastStatus(89.99))
	require.Equal(t, ForecastStatusCritical, forecastStatus(90))
	require.Equal(t, ForecastStatusCritical, forecastStatus(100))
}

func TestUtilizationPercent(t *testing.T) {
	require.Equal(t, 30.0, utilizationPercent(&model.BudgetCode{Budget: 100000, Used: 30000}))
	require.Equal(t, 33.33, utilizationPercent(&model.BudgetCode{Budget: 3, Used: 1}))

	// 预算为0不做除法
	require.Equal(t, 0.0, utilizationPercent(&model.BudgetCode{Budget: 0, Used: 0}))
}

func TestForecastRecommendation(t *testing.T) {
	// 推荐文案只由状态和预计月数决定
	require.NotEmpty(t, forecastRecommendation(ForecastStatusCritical, 1))
	require.NotEmpty(t, forecastRecommendation(ForecastStatusCritical, 10))
	require.NotEmpty(t, forecastRecommendation(ForecastStatusWarning, 3))
	require.NotEmpty(t, forecastRecommendation(ForecastStatusWarning, ProjectedMonthsSentinel))
	require.NotEmpty(t, forecastRecommendation(ForecastStatusHealthy, 12))
	require.NotEmpty(t, forecastRecommendation(ForecastStatusHealthy, ProjectedMonthsSentinel))

	// 相同输入文案一致
	require.Equal(t,
		forecastRecommendation(ForecastStatusWarning, 3),
		forecastRecommendation(ForecastStatusWarning, 3))
	require.NotEqual(t,
		forecastRecommendation(ForecastStatusCritical, 10),
		forecastRecommendation(ForecastStatusHealthy, 10))
}
