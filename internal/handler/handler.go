package handler

import (
	"errors"
	"strconv"
	"time"

	"budgetledger/internal/config"
	"budgetledger/internal/model"
	"budgetledger/internal/repository"
	"budgetledger/internal/service"
	"budgetledger/pkg/response"

	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
	"gorm.io/gorm"
)

// Handler 统一处理器，包含所有服务依赖
type Handler struct {
	codeService     *service.BudgetCodeService
	ledgerService   *service.LedgerService
	approvalService *service.ApprovalService
	revisionService *service.RevisionService
	transferService *service.TransferService
	forecastService *service.ForecastService
	cfg             *config.Config
}

// NewHandler 创建处理器实例
func NewHandler(db *gorm.DB, rdb *redis.Client, cfg *config.Config) *Handler {
	resolver := service.NewConfigApproverResolver(&cfg.Approval)
	ledger := service.NewLedgerService(db, rdb, cfg)
	approval := service.NewApprovalService(db, rdb, cfg, resolver, ledger)

	return &Handler{
		codeService:     service.NewBudgetCodeService(db, cfg, approval),
		ledgerService:   ledger,
		approvalService: approval,
		revisionService: service.NewRevisionService(db, cfg, approval),
		transferService: service.NewTransferService(db, rdb, cfg, approval),
		forecastService: service.NewForecastService(db),
		cfg:             cfg,
	}
}

// handleError 把领域错误翻译成业务错误码
// 调用方只看 success 字段判断成败，code 用于细分错误类别
func handleError(c *gin.Context, err error) {
	var validationErr *service.ValidationError
	if errors.As(err, &validationErr) {
		response.BusinessError(c, response.CodeValidationError, validationErr.Message)
		return
	}

	switch {
	case errors.Is(err, repository.ErrBudgetCodeNotFound),
		errors.Is(err, repository.ErrAllocationNotFound),
		errors.Is(err, repository.ErrRevisionNotFound),
		errors.Is(err, repository.ErrTransferNotFound),
		errors.Is(err, repository.ErrChainNotFound):
		response.BusinessError(c, response.CodeEntityNotFound, err.Error())
	case errors.Is(err, repository.ErrInsufficientBudget):
		response.BusinessError(c, response.CodeInsufficientBudget, err.Error())
	case errors.Is(err, repository.ErrBudgetStatusInvalid),
		errors.Is(err, repository.ErrAllocationStatusInvalid),
		errors.Is(err, repository.ErrRevisionStatusInvalid),
		errors.Is(err, repository.ErrTransferStatusInvalid):
		response.BusinessError(c, response.CodeInvalidState, err.Error())
	case errors.Is(err, repository.ErrNotCurrentApprover):
		response.BusinessError(c, response.CodeNotCurrentApprover, err.Error())
	case errors.Is(err, repository.ErrAlreadyDecided):
		response.BusinessError(c, response.CodeAlreadyDecided, err.Error())
	case errors.Is(err, repository.ErrConstraintViolation):
		response.BusinessError(c, response.CodeConstraintViolation, err.Error())
	case errors.Is(err, repository.ErrDuplicateBudgetCode),
		errors.Is(err, repository.ErrDuplicateRequisition):
		response.BusinessError(c, response.CodeValidationError, err.Error())
	case errors.Is(err, repository.ErrOptimisticLock),
		errors.Is(err, repository.ErrChainStateConflict):
		response.BusinessError(c, response.CodeConflict, err.Error())
	default:
		response.ServerError(c, err.Error())
	}
}

// ============================================================
// 预算编码相关接口
// ============================================================

// CreateBudgetCodeRequest 创建预算编码请求
type CreateBudgetCodeRequest struct {
	Code         string `json:"code" binding:"required"`
	Name         string `json:"name" binding:"required"`
	Department   string `json:"department" binding:"required"`
	BudgetType   string `json:"budget_type" binding:"required"`
	BudgetPeriod string `json:"budget_period" binding:"required"`
	FiscalYear   int    `json:"fiscal_year" binding:"required"`
	Budget       int64  `json:"budget" binding:"required,gt=0"`
	OwnerName    string `json:"owner_name" binding:"required"`
	OwnerEmail   string `json:"owner_email" binding:"required,email"`
	StartDate    string `json:"start_date" binding:"required"` // 2006-01-02
	EndDate      string `json:"end_date"`
}

// CreateBudgetCode 创建预算编码（进入审批流，审批通过后才激活）
// POST /api/v1/budget-codes
func (h *Handler) CreateBudgetCode(c *gin.Context) {
	var req CreateBudgetCodeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "参数错误: "+err.Error())
		return
	}

	startDate, err := time.Parse("2006-01-02", req.StartDate)
	if err != nil {
		response.ParamError(c, "start_date 格式错误，应为 YYYY-MM-DD")
		return
	}
	var endDate *time.Time
	if req.EndDate != "" {
		d, err := time.Parse("2006-01-02", req.EndDate)
		if err != nil {
			response.ParamError(c, "end_date 格式错误，应为 YYYY-MM-DD")
			return
		}
		endDate = &d
	}

	serviceReq := &service.CreateBudgetCodeRequest{
		Code:         req.Code,
		Name:         req.Name,
		Department:   req.Department,
		BudgetType:   req.BudgetType,
		BudgetPeriod: req.BudgetPeriod,
		FiscalYear:   req.FiscalYear,
		Budget:       req.Budget,
		OwnerName:    req.OwnerName,
		OwnerEmail:   req.OwnerEmail,
		StartDate:    startDate,
		EndDate:      endDate,
	}

	bc, err := h.codeService.CreateBudgetCode(c.Request.Context(), serviceReq)
	if err != nil {
		handleError(c, err)
		return
	}

	response.Success(c, gin.H{
		"code":   bc.Code,
		"status": bc.Status,
		"budget": bc.Budget,
	})
}

// GetBudgetCode 查询预算编码详情（带余额和审批链）
// GET /api/v1/budget-codes/:code
func (h *Handler) GetBudgetCode(c *gin.Context) {
	detail, err := h.codeService.GetBudgetCode(c.Request.Context(), c.Param("code"))
	if err != nil {
		handleError(c, err)
		return
	}
	response.Success(c, detail)
}

// ListBudgetCodes 查询预算编码列表
// GET /api/v1/budget-codes?department=xxx&status=xxx&page=1&page_size=10
func (h *Handler) ListBudgetCodes(c *gin.Context) {
	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	pageSize, _ := strconv.Atoi(c.DefaultQuery("page_size", "10"))

	codes, total, err := h.codeService.ListBudgetCodes(c.Request.Context(),
		c.Query("department"), c.Query("status"), page, pageSize)
	if err != nil {
		handleError(c, err)
		return
	}

	response.Success(c, gin.H{
		"list":      codes,
		"total":     total,
		"page":      page,
		"page_size": pageSize,
	})
}

// UpdateBudgetCodeRequest 更新请求（只允许非资金字段）
type UpdateBudgetCodeRequest struct {
	Name       string `json:"name"`
	OwnerName  string `json:"owner_name"`
	OwnerEmail string `json:"owner_email"`
	EndDate    string `json:"end_date"`
}

// UpdateBudgetCode 更新预算编码的非资金字段
// PUT /api/v1/budget-codes/:code
func (h *Handler) UpdateBudgetCode(c *gin.Context) {
	var req UpdateBudgetCodeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "参数错误: "+err.Error())
		return
	}

	var endDate *time.Time
	if req.EndDate != "" {
		d, err := time.Parse("2006-01-02", req.EndDate)
		if err != nil {
			response.ParamError(c, "end_date 格式错误，应为 YYYY-MM-DD")
			return
		}
		endDate = &d
	}

	bc, err := h.codeService.UpdateBudgetCode(c.Request.Context(), c.Param("code"), &service.UpdateBudgetCodeRequest{
		Name:       req.Name,
		OwnerName:  req.OwnerName,
		OwnerEmail: req.OwnerEmail,
		EndDate:    endDate,
	})
	if err != nil {
		handleError(c, err)
		return
	}
	response.Success(c, bc)
}

// DeleteBudgetCode 删除预算编码（仅限未激活且无占用记录的编码）
// DELETE /api/v1/budget-codes/:code
func (h *Handler) DeleteBudgetCode(c *gin.Context) {
	if err := h.codeService.DeleteBudgetCode(c.Request.Context(), c.Param("code")); err != nil {
		handleError(c, err)
		return
	}
	response.Success(c, gin.H{"message": "预算编码已删除"})
}

// ToggleSuspend 暂停/恢复预算编码
// POST /api/v1/budget-codes/:code/suspend
func (h *Handler) ToggleSuspend(c *gin.Context) {
	bc, err := h.codeService.ToggleSuspend(c.Request.Context(), c.Param("code"))
	if err != nil {
		handleError(c, err)
		return
	}
	response.Success(c, gin.H{
		"code":   bc.Code,
		"status": bc.Status,
	})
}

// ============================================================
// 资金台账相关接口
// ============================================================

// ReserveRequest 资金占用请求
type ReserveRequest struct {
	RequisitionID string `json:"requisition_id" binding:"required"` // 外部请购单ID，幂等键
	Amount        int64  `json:"amount" binding:"required,gt=0"`
}

// Reserve 占用预算额度
// POST /api/v1/budget-codes/:code/reserve
//
// 【关键点】占用必须保证：
// 1. 幂等性：相同的 requisition_id 只会占用一次
// 2. 不超支：可用余额校验和扣减在同一条 CAS 更新里完成
func (h *Handler) Reserve(c *gin.Context) {
	var req ReserveRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "参数错误: "+err.Error())
		return
	}

	allocation, err := h.ledgerService.Reserve(c.Request.Context(), c.Param("code"), req.RequisitionID, req.Amount)
	if err != nil {
		handleError(c, err)
		return
	}

	response.Success(c, gin.H{
		"allocation_no":  allocation.AllocationNo,
		"requisition_id": allocation.RequisitionID,
		"amount":         allocation.Amount,
		"status":         allocation.Status,
	})
}

// Spend 落账：把占用中的额度转为已使用
// POST /api/v1/budget-codes/:code/spend/:allocationNo
func (h *Handler) Spend(c *gin.Context) {
	allocation, err := h.ledgerService.Spend(c.Request.Context(), c.Param("code"), c.Param("allocationNo"))
	if err != nil {
		handleError(c, err)
		return
	}

	response.Success(c, gin.H{
		"allocation_no": allocation.AllocationNo,
		"amount":        allocation.Amount,
		"status":        allocation.Status,
		"spent_at":      allocation.SpentAt,
	})
}

// ReleaseRequest 释放占用请求
type ReleaseRequest struct {
	Reason string `json:"reason"`
}

// Release 释放某个请购单的占用，额度回到资金池
// POST /api/v1/budget-codes/:code/release/:requisitionId
func (h *Handler) Release(c *gin.Context) {
	// 请求体可以省略，reason 为空时记一条缺省原因
	var req ReleaseRequest
	_ = c.ShouldBindJSON(&req)

	allocation, err := h.ledgerService.ReleaseByRequisition(c.Request.Context(),
		c.Param("code"), c.Param("requisitionId"), req.Reason)
	if err != nil {
		handleError(c, err)
		return
	}

	response.Success(c, gin.H{
		"allocation_no": allocation.AllocationNo,
		"status":        allocation.Status,
	})
}

// ReleaseStaleRequest 超期占用清理请求
type ReleaseStaleRequest struct {
	MaxAgeDays int `json:"max_age_days"` // 缺省使用配置值
}

// ReleaseStale 手动触发清理某编码下的超期占用
// POST /api/v1/budget-codes/:code/release-stale
func (h *Handler) ReleaseStale(c *gin.Context) {
	// 请求体可以省略，省略时全部使用配置缺省值
	var req ReleaseStaleRequest
	_ = c.ShouldBindJSON(&req)

	maxAgeDays := req.MaxAgeDays
	if maxAgeDays <= 0 {
		maxAgeDays = h.cfg.Business.StaleReservationDays
	}

	released, skipped, err := h.ledgerService.ReleaseStale(c.Request.Context(),
		c.Param("code"), maxAgeDays, h.cfg.Business.SweepBatchSize)
	if err != nil {
		handleError(c, err)
		return
	}

	response.Success(c, gin.H{
		"released": released,
		"skipped":  skipped,
	})
}

// GetForecast 查询预算消耗预测
// GET /api/v1/budget-codes/:code/forecast
func (h *Handler) GetForecast(c *gin.Context) {
	forecast, err := h.forecastService.GetForecast(c.Request.Context(), c.Param("code"))
	if err != nil {
		handleError(c, err)
		return
	}
	response.Success(c, forecast)
}

// GetHistory 查询预算变更历史
// GET /api/v1/budget-codes/:code/history?page=1&page_size=10
func (h *Handler) GetHistory(c *gin.Context) {
	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	pageSize, _ := strconv.Atoi(c.DefaultQuery("page_size", "10"))

	entries, total, err := h.ledgerService.History(c.Request.Context(), c.Param("code"), page, pageSize)
	if err != nil {
		handleError(c, err)
		return
	}

	response.Success(c, gin.H{
		"list":      entries,
		"total":     total,
		"page":      page,
		"page_size": pageSize,
	})
}

// ============================================================
// 审批相关接口
// ============================================================

// DecisionRequest 审批决策请求（通过/驳回共用一个入口）
type DecisionRequest struct {
	ApproverEmail string `json:"approver_email" binding:"required,email"`
	Decision      string `json:"decision" binding:"required"` // approved / rejected
	Comments      string `json:"comments"`                    // 驳回时必填
}

func (h *Handler) submitDecision(c *gin.Context, entityType, entityNo string) {
	var req DecisionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "参数错误: "+err.Error())
		return
	}

	chain, err := h.approvalService.SubmitDecision(c.Request.Context(), &service.DecisionRequest{
		EntityType: entityType,
		EntityNo:   entityNo,
		ActorEmail: req.ApproverEmail,
		Decision:   req.Decision,
		Comments:   req.Comments,
	})
	if err != nil {
		handleError(c, err)
		return
	}

	response.Success(c, gin.H{
		"entity_type":   chain.EntityType,
		"entity_no":     chain.EntityNo,
		"state":         chain.State,
		"current_level": chain.CurrentLevel,
		"total_levels":  chain.TotalLevels,
	})
}

// ApproveBudgetCode 预算编码创建审批
// POST /api/v1/budget-codes/:code/approve
func (h *Handler) ApproveBudgetCode(c *gin.Context) {
	h.submitDecision(c, model.EntityTypeBudgetCode, c.Param("code"))
}

// ApproveRevision 预算调整审批
// POST /api/v1/budget-codes/:code/revisions/:revNo/approve
func (h *Handler) ApproveRevision(c *gin.Context) {
	h.submitDecision(c, model.EntityTypeRevision, c.Param("revNo"))
}

// ApproveTransfer 预算划拨审批
// POST /api/v1/budget-transfers/:transferNo/approve
func (h *Handler) ApproveTransfer(c *gin.Context) {
	h.submitDecision(c, model.EntityTypeTransfer, c.Param("transferNo"))
}

// ListPendingApprovals 查询所有待审批事项
// GET /api/v1/approvals/pending
func (h *Handler) ListPendingApprovals(c *gin.Context) {
	pending, err := h.approvalService.PendingAll(c.Request.Context())
	if err != nil {
		handleError(c, err)
		return
	}
	response.Success(c, gin.H{"list": pending, "total": len(pending)})
}

// ListMyPendingApprovals 查询某审批人名下的待审批事项
// GET /api/v1/approvals/pending/mine?email=xxx
func (h *Handler) ListMyPendingApprovals(c *gin.Context) {
	email := c.Query("email")
	if email == "" {
		response.ParamError(c, "email 参数不能为空")
		return
	}

	pending, err := h.approvalService.PendingForApprover(c.Request.Context(), email)
	if err != nil {
		handleError(c, err)
		return
	}
	response.Success(c, gin.H{"list": pending, "total": len(pending)})
}

// ============================================================
// 预算调整相关接口
// ============================================================

// CreateRevisionRequest 提交预算调整请求
type CreateRevisionRequest struct {
	RequestedBudget int64  `json:"requested_budget" binding:"required,gte=0"`
	Reason          string `json:"reason" binding:"required"`
	RequestedBy     string `json:"requested_by" binding:"required"`
}

// CreateRevision 提交预算调整单（进入审批流）
// POST /api/v1/budget-codes/:code/revisions
func (h *Handler) CreateRevision(c *gin.Context) {
	var req CreateRevisionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "参数错误: "+err.Error())
		return
	}

	revision, err := h.revisionService.CreateRevision(c.Request.Context(), &service.CreateRevisionRequest{
		Code:            c.Param("code"),
		RequestedBudget: req.RequestedBudget,
		Reason:          req.Reason,
		RequestedBy:     req.RequestedBy,
	})
	if err != nil {
		handleError(c, err)
		return
	}

	response.Success(c, gin.H{
		"revision_no":      revision.RevisionNo,
		"previous_budget":  revision.PreviousBudget,
		"requested_budget": revision.RequestedBudget,
		"status":           revision.Status,
	})
}

// ListRevisions 查询某编码的调整单列表
// GET /api/v1/budget-codes/:code/revisions?page=1&page_size=10
func (h *Handler) ListRevisions(c *gin.Context) {
	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	pageSize, _ := strconv.Atoi(c.DefaultQuery("page_size", "10"))

	revisions, total, err := h.revisionService.ListRevisions(c.Request.Context(), c.Param("code"), page, pageSize)
	if err != nil {
		handleError(c, err)
		return
	}

	response.Success(c, gin.H{
		"list":      revisions,
		"total":     total,
		"page":      page,
		"page_size": pageSize,
	})
}

// GetRevision 查询调整单详情（带审批链）
// GET /api/v1/budget-codes/:code/revisions/:revNo
func (h *Handler) GetRevision(c *gin.Context) {
	detail, err := h.revisionService.GetRevision(c.Request.Context(), c.Param("revNo"))
	if err != nil {
		handleError(c, err)
		return
	}
	response.Success(c, detail)
}

// ============================================================
// 预算划拨相关接口
// ============================================================

// CreateTransferRequest 提交预算划拨请求
type CreateTransferRequest struct {
	FromCode    string `json:"from_code" binding:"required"`
	ToCode      string `json:"to_code" binding:"required"`
	Amount      int64  `json:"amount" binding:"required,gt=0"`
	Reason      string `json:"reason" binding:"required"`
	RequestedBy string `json:"requested_by" binding:"required"`
}

// CreateTransfer 提交预算划拨单（进入审批流）
// POST /api/v1/budget-transfers
func (h *Handler) CreateTransfer(c *gin.Context) {
	var req CreateTransferRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "参数错误: "+err.Error())
		return
	}

	transfer, err := h.transferService.CreateTransfer(c.Request.Context(), &service.CreateTransferRequest{
		FromCode:    req.FromCode,
		ToCode:      req.ToCode,
		Amount:      req.Amount,
		Reason:      req.Reason,
		RequestedBy: req.RequestedBy,
	})
	if err != nil {
		handleError(c, err)
		return
	}

	response.Success(c, gin.H{
		"transfer_no": transfer.TransferNo,
		"amount":      transfer.Amount,
		"status":      transfer.Status,
	})
}

// GetTransfer 查询划拨单详情（带审批链）
// GET /api/v1/budget-transfers/:transferNo
func (h *Handler) GetTransfer(c *gin.Context) {
	detail, err := h.transferService.GetTransfer(c.Request.Context(), c.Param("transferNo"))
	if err != nil {
		handleError(c, err)
		return
	}
	response.Success(c, detail)
}

// ListTransfers 查询某编码关联的划拨单（调出或调入）
// GET /api/v1/budget-transfers?code=&page=&page_size=
func (h *Handler) ListTransfers(c *gin.Context) {
	code := c.Query("code")
	if code == "" {
		response.ParamError(c, "参数错误: code 不能为空")
		return
	}
	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	pageSize, _ := strconv.Atoi(c.DefaultQuery("page_size", "10"))

	transfers, total, err := h.transferService.ListTransfers(c.Request.Context(), code, page, pageSize)
	if err != nil {
		handleError(c, err)
		return
	}

	response.Success(c, gin.H{
		"list":      transfers,
		"total":     total,
		"page":      page,
		"page_size": pageSize,
	})
}

// CancelTransferRequest 撤销划拨请求
type CancelTransferRequest struct {
	Operator string `json:"operator" binding:"required"`
}

// CancelTransfer 申请人撤销在途划拨单
// POST /api/v1/budget-transfers/:transferNo/cancel
func (h *Handler) CancelTransfer(c *gin.Context) {
	var req CancelTransferRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "参数错误: "+err.Error())
		return
	}

	if err := h.transferService.CancelTransfer(c.Request.Context(), c.Param("transferNo"), req.Operator); err != nil {
		handleError(c, err)
		return
	}
	response.Success(c, gin.H{"message": "划拨单已撤销"})
}
