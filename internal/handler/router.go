package handler

import (
	"budgetledger/internal/config"

	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
	"gorm.io/gorm"
)

// SetupRouter 配置路由
func SetupRouter(db *gorm.DB, rdb *redis.Client, cfg *config.Config) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)

	r := gin.New()

	r.Use(RecoveryMiddleware())
	r.Use(LoggerMiddleware())
	r.Use(CORSMiddleware())

	h := NewHandler(db, rdb, cfg)

	api := r.Group("/api/v1")
	{
		// 预算编码
		codes := api.Group("/budget-codes")
		{
			codes.POST("", h.CreateBudgetCode)
			codes.GET("", h.ListBudgetCodes)
			codes.GET("/:code", h.GetBudgetCode)
			codes.PUT("/:code", h.UpdateBudgetCode)
			codes.DELETE("/:code", h.DeleteBudgetCode)
			codes.POST("/:code/approve", h.ApproveBudgetCode)
			codes.POST("/:code/suspend", h.ToggleSuspend)

			// 资金台账
			codes.POST("/:code/reserve", h.Reserve)
			codes.POST("/:code/spend/:allocationNo", h.Spend)
			codes.POST("/:code/release/:requisitionId", h.Release)
			codes.POST("/:code/release-stale", h.ReleaseStale)
			codes.GET("/:code/forecast", h.GetForecast)
			codes.GET("/:code/history", h.GetHistory)

			// 预算调整
			codes.POST("/:code/revisions", h.CreateRevision)
			codes.GET("/:code/revisions", h.ListRevisions)
			codes.GET("/:code/revisions/:revNo", h.GetRevision)
			codes.POST("/:code/revisions/:revNo/approve", h.ApproveRevision)
		}

		// 预算划拨
		transfers := api.Group("/budget-transfers")
		{
			transfers.POST("", h.CreateTransfer)
			transfers.GET("", h.ListTransfers)
			transfers.GET("/:transferNo", h.GetTransfer)
			transfers.POST("/:transferNo/approve", h.ApproveTransfer)
			transfers.POST("/:transferNo/cancel", h.CancelTransfer)
		}

		// 待审批事项
		approvals := api.Group("/approvals")
		{
			approvals.GET("/pending", h.ListPendingApprovals)
			approvals.GET("/pending/mine", h.ListMyPendingApprovals)
		}
	}

	// 健康检查
	r.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok"})
	})

	return r
}
