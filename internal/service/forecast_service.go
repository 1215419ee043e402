package service

import (
	"context"
	"fmt"
	"time"

	"budgetledger/internal/model"
	"budgetledger/internal/repository"

	"github.com/shopspring/decimal"

	"gorm.io/gorm"
)

// ProjectedMonthsSentinel 月均消耗为0时的哨兵值，表示"可预见的未来内充足"
const ProjectedMonthsSentinel = 999

const forecastWindowMonths = 12

const (
	ForecastStatusHealthy  = "healthy"
	ForecastStatusWarning  = "warning"
	ForecastStatusCritical = "critical"
)

// ForecastService 预算消耗预测（只读分析，不产生任何写入）
type ForecastService struct {
	db        *gorm.DB
	codeRepo  *repository.BudgetCodeRepository
	allocRepo *repository.AllocationRepository
}

func NewForecastService(db *gorm.DB) *ForecastService {
	return &ForecastService{
		db:        db,
		codeRepo:  repository.NewBudgetCodeRepository(db),
		allocRepo: repository.NewAllocationRepository(db),
	}
}

// Forecast 预测结果
type Forecast struct {
	Code                    string  `json:"code"`
	Budget                  int64   `json:"budget"`
	Used                    int64   `json:"used"`
	Reserved                int64   `json:"reserved"`
	Remaining               int64   `json:"remaining"`
	UtilizationPercent      float64 `json:"utilization_percent"`
	AverageMonthlyBurn      int64   `json:"average_monthly_burn"`
	ProjectedMonths         int     `json:"projected_months"`
	ProjectedExhaustionDate string  `json:"projected_exhaustion_date,omitempty"`
	Status                  string  `json:"status"`
	Recommendation          string  `json:"recommendation"`
}

// GetForecast 计算指定预算编码的消耗预测
//
// 月均消耗只统计最近12个月内有落账记录的月份，
// 零消耗的月份不计入分母，避免拉低月均值导致预测过于乐观
func (s *ForecastService) GetForecast(ctx context.Context, code string) (*Forecast, error) {
	bc, err := s.codeRepo.GetByCode(ctx, code)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	since := now.AddDate(0, -forecastWindowMonths, 0)
	spent, err := s.allocRepo.ListSpentSince(ctx, bc.ID, since)
	if err != nil {
		return nil, err
	}

	burn := averageMonthlyBurn(spent)
	utilization := utilizationPercent(bc)
	months := projectedMonths(bc.Remaining(), burn)
	status := forecastStatus(utilization)

	forecast := &Forecast{
		Code:               bc.Code,
		Budget:             bc.Budget,
		Used:               bc.Used,
		Reserved:           bc.Reserved,
		Remaining:          bc.Remaining(),
		UtilizationPercent: utilization,
		AverageMonthlyBurn: burn,
		ProjectedMonths:    months,
		Status:             status,
		Recommendation:     forecastRecommendation(status, months),
	}
	if months != ProjectedMonthsSentinel {
		forecast.ProjectedExhaustionDate = now.AddDate(0, months, 0).Format("2006-01-02")
	}
	return forecast, nil
}

// averageMonthlyBurn 按落账时间的自然月分组求和，再对有消耗的月份取平均
func averageMonthlyBurn(spent []*model.Allocation) int64 {
	monthly := make(map[string]decimal.Decimal)
	for _, alloc := range spent {
		if alloc.SpentAt == nil {
			continue
		}
		key := alloc.SpentAt.Format("2006-01")
		monthly[key] = monthly[key].Add(decimal.NewFromInt(alloc.Amount))
	}
	if len(monthly) == 0 {
		return 0
	}

	total := decimal.Zero
	for _, sum := range monthly {
		total = total.Add(sum)
	}
	return total.Div(decimal.NewFromInt(int64(len(monthly)))).IntPart()
}

func utilizationPercent(bc *model.BudgetCode) float64 {
	if bc.Budget <= 0 {
		return 0
	}
	pct := decimal.NewFromInt(bc.Used).
		Div(decimal.NewFromInt(bc.Budget)).
		Mul(decimal.NewFromInt(100)).
		Round(2)
	f, _ := pct.Float64()
	return f
}

func projectedMonths(remaining, burn int64) int {
	if burn <= 0 {
		return ProjectedMonthsSentinel
	}
	if remaining <= 0 {
		return 0
	}
	return int(remaining / burn)
}

func forecastStatus(utilization float64) string {
	switch {
	case utilization >= 90:
		return ForecastStatusCritical
	case utilization >= 75:
		return ForecastStatusWarning
	default:
		return ForecastStatusHealthy
	}
}

func forecastRecommendation(status string, months int) string {
	switch status {
	case ForecastStatusCritical:
		if months != ProjectedMonthsSentinel && months <= 1 {
			return "预算已接近耗尽，请立即申请追加预算或冻结非必要支出"
		}
		return "预算使用率已超过90%，建议尽快提交预算调整申请"
	case ForecastStatusWarning:
		if months == ProjectedMonthsSentinel {
			return "预算使用率已超过75%，但近期无消耗记录，建议关注后续支出计划"
		}
		return fmt.Sprintf("预算使用率已超过75%%，按当前消耗速度预计还可支撑%d个月，建议提前规划", months)
	default:
		if months == ProjectedMonthsSentinel {
			return "近期无消耗记录，预算充足"
		}
		return fmt.Sprintf("预算使用健康，按当前消耗速度预计还可支撑%d个月", months)
	}
}
