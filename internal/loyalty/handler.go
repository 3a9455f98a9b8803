package loyalty

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/richxcame/store-loyalty/pkg/common"
	"github.com/richxcame/store-loyalty/pkg/middleware"
	"github.com/richxcame/store-loyalty/pkg/pagination"
)

// IdempotencyKeyHeader lets clients retry a redemption safely
const IdempotencyKeyHeader = "Idempotency-Key"

const maxIdempotencyKeyLen = 128

// Handler handles HTTP requests for the points ledger
type Handler struct {
	service *Service
}

// NewHandler creates a new loyalty handler
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

func parseID(c *gin.Context, name string) (int64, bool) {
	id, err := strconv.ParseInt(c.Param(name), 10, 64)
	if err != nil || id <= 0 {
		common.ErrorResponse(c, http.StatusBadRequest, "invalid "+name)
		return 0, false
	}
	return id, true
}

// AwardPoints credits a purchase to a customer
func (h *Handler) AwardPoints(c *gin.Context) {
	storeID, ok := parseID(c, "idstore")
	if !ok {
		return
	}
	customerID, ok := parseID(c, "idcustomer")
	if !ok {
		return
	}

	var req AwardPointsRequest
	if !middleware.ValidateAndBind(c, &req) {
		return
	}
	req.StoreID = storeID
	req.CustomerID = customerID

	balance, err := h.service.AwardPoints(c.Request.Context(), &req)
	if err != nil {
		common.HandleError(c, err)
		return
	}

	common.SuccessResponse(c, balance)
}

// RedeemPrize exchanges a customer's points for a prize
func (h *Handler) RedeemPrize(c *gin.Context) {
	storeID, ok := parseID(c, "idstore")
	if !ok {
		return
	}
	customerID, ok := parseID(c, "idcustomer")
	if !ok {
		return
	}
	prizeID, ok := parseID(c, "idprize")
	if !ok {
		return
	}

	key := c.GetHeader(IdempotencyKeyHeader)
	if len(key) > maxIdempotencyKeyLen {
		common.ErrorResponse(c, http.StatusBadRequest, "idempotency key too long")
		return
	}

	redemption, err := h.service.RedeemPrize(c.Request.Context(), &RedeemPrizeRequest{
		StoreID:        storeID,
		CustomerID:     customerID,
		PrizeID:        prizeID,
		IdempotencyKey: key,
	})
	if err != nil {
		common.HandleError(c, err)
		return
	}

	if redemption.Replay {
		c.Header("Idempotent-Replayed", "true")
	}
	common.SuccessResponse(c, redemption.Prize)
}

// GetCode returns the store's current promotional code
func (h *Handler) GetCode(c *gin.Context) {
	storeID, ok := parseID(c, "idstore")
	if !ok {
		return
	}

	code, err := h.service.CurrentCode(c.Request.Context(), storeID)
	if err != nil {
		common.HandleError(c, err)
		return
	}

	common.SuccessResponse(c, code)
}

// GetBalance returns one customer's balance at one store
func (h *Handler) GetBalance(c *gin.Context) {
	storeID, ok := parseID(c, "idstore")
	if !ok {
		return
	}
	customerID, ok := parseID(c, "idcustomer")
	if !ok {
		return
	}
	if !callerOwnsBalance(c, storeID, customerID) {
		common.AppErrorResponse(c, common.NewForbiddenError("insufficient permissions"))
		return
	}

	balance, err := h.service.GetBalance(c.Request.Context(), storeID, customerID)
	if err != nil {
		common.HandleError(c, err)
		return
	}

	common.SuccessResponse(c, balance)
}

// callerOwnsBalance allows the store, the customer and admins
func callerOwnsBalance(c *gin.Context, storeID, customerID int64) bool {
	id, err := middleware.GetUserID(c)
	if err != nil {
		return false
	}
	role, _ := middleware.GetUserRole(c)
	switch role {
	case middleware.RoleAdmin:
		return true
	case middleware.RoleStore:
		return id == storeID
	case middleware.RoleCustomer:
		return id == customerID
	}
	return false
}

// ListStoreCustomers returns the balances held at a store
func (h *Handler) ListStoreCustomers(c *gin.Context) {
	storeID, ok := parseID(c, "idstore")
	if !ok {
		return
	}
	params := pagination.ParseParams(c)

	balances, total, err := h.service.ListStoreBalances(c.Request.Context(), storeID, params.Limit, params.Offset)
	if err != nil {
		common.HandleError(c, err)
		return
	}

	common.SuccessResponseWithMeta(c, balances, pagination.BuildMeta(params.Limit, params.Offset, total))
}

// ListCustomerBalances returns a customer's balances across stores
func (h *Handler) ListCustomerBalances(c *gin.Context) {
	customerID, ok := parseID(c, "idcustomer")
	if !ok {
		return
	}

	balances, err := h.service.ListCustomerBalances(c.Request.Context(), customerID)
	if err != nil {
		common.HandleError(c, err)
		return
	}

	common.SuccessResponse(c, balances)
}

// ListPrizes returns a store's prize catalog
func (h *Handler) ListPrizes(c *gin.Context) {
	storeID, ok := parseID(c, "idstore")
	if !ok {
		return
	}

	prizes, err := h.service.ListPrizes(c.Request.Context(), storeID)
	if err != nil {
		common.HandleError(c, err)
		return
	}

	common.SuccessResponse(c, prizes)
}

// ListHistory returns the redemption audit trail
func (h *Handler) ListHistory(c *gin.Context) {
	var q HistoryQuery
	if !middleware.ValidateAndBindQuery(c, &q) {
		return
	}
	params := pagination.ParseParams(c)

	records, total, err := h.service.ListHistory(c.Request.Context(), HistoryFilter{
		StoreID:    q.StoreID,
		CustomerID: q.CustomerID,
		Sector:     q.Sector,
	}, params.Limit, params.Offset)
	if err != nil {
		common.HandleError(c, err)
		return
	}

	common.SuccessResponseWithMeta(c, records, pagination.BuildMeta(params.Limit, params.Offset, total))
}

// GetHistoryRecord returns one audit row
func (h *Handler) GetHistoryRecord(c *gin.Context) {
	id, ok := parseID(c, "id")
	if !ok {
		return
	}

	record, err := h.service.GetHistoryRecord(c.Request.Context(), id)
	if err != nil {
		common.HandleError(c, err)
		return
	}

	common.SuccessResponse(c, record)
}

// RegisterRoutes registers loyalty routes on a group that already runs AuthMiddleware
func (h *Handler) RegisterRoutes(rg *gin.RouterGroup) {
	stores := rg.Group("/stores/:idstore")
	{
		stores.PUT("/customers/:idcustomer/points",
			middleware.RequireSelf(middleware.RoleStore, "idstore", false), h.AwardPoints)
		stores.POST("/customers/:idcustomer/prizes/:idprize",
			middleware.RequireSelf(middleware.RoleCustomer, "idcustomer", false), h.RedeemPrize)
		stores.GET("/code", middleware.RequireSelf(middleware.RoleStore, "idstore", true), h.GetCode)
		stores.GET("/customers", middleware.RequireSelf(middleware.RoleStore, "idstore", true), h.ListStoreCustomers)
		stores.GET("/customers/:idcustomer/balance", h.GetBalance)
		stores.GET("/prizes", h.ListPrizes)
	}

	rg.GET("/customers/:idcustomer/balances",
		middleware.RequireSelf(middleware.RoleCustomer, "idcustomer", true), h.ListCustomerBalances)

	history := rg.Group("/history", middleware.RequireRole(middleware.RoleAdmin))
	{
		history.GET("", h.ListHistory)
		history.GET("/:id", h.GetHistoryRecord)
	}
}
