package loyalty

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/richxcame/store-loyalty/pkg/common"
	"github.com/richxcame/store-loyalty/pkg/middleware"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

const testSecret = "test-secret"

func init() {
	gin.SetMode(gin.TestMode)
}

func setupRouter(repo *mockLoyaltyRepository, codes *mockCodeStore) *gin.Engine {
	router := gin.New()
	api := router.Group("/api/v1", middleware.AuthMiddleware(testSecret))
	NewHandler(newTestService(repo, codes)).RegisterRoutes(api)
	return router
}

func doRequest(t *testing.T, router *gin.Engine, method, path, role string, userID int64, body interface{}, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()

	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if role != "" {
		token, err := middleware.GenerateToken(userID, role, testSecret)
		require.NoError(t, err)
		req.Header.Set("Authorization", "Bearer "+token)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func decodeResponse(t *testing.T, w *httptest.ResponseRecorder, data interface{}) common.Response {
	t.Helper()
	var resp common.Response
	if data != nil {
		resp.Data = data
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	return resp
}

// ========================================
// AWARD POINTS
// ========================================

func TestHandler_AwardPoints(t *testing.T) {
	repo := new(mockLoyaltyRepository)
	router := setupRouter(repo, new(mockCodeStore))

	repo.On("Accrue", mock.Anything, int64(1), int64(7), int64(50), CodeConsumer(nil)).Return(balanceOf(1, 7, 50), nil).Once()

	w := doRequest(t, router, http.MethodPut, "/api/v1/stores/1/customers/7/points",
		middleware.RoleStore, 1, gin.H{"income": 5}, nil)

	require.Equal(t, http.StatusOK, w.Code)
	var balance Balance
	resp := decodeResponse(t, w, &balance)
	assert.True(t, resp.Success)
	assert.Equal(t, Balance{StoreID: 1, CustomerID: 7, Points: 50}, balance)
	repo.AssertExpectations(t)
}

func TestHandler_AwardPoints_MissingIncome(t *testing.T) {
	repo := new(mockLoyaltyRepository)
	router := setupRouter(repo, new(mockCodeStore))

	w := doRequest(t, router, http.MethodPut, "/api/v1/stores/1/customers/7/points",
		middleware.RoleStore, 1, gin.H{"code": 4821}, nil)

	assert.Equal(t, http.StatusBadRequest, w.Code)
	repo.AssertNotCalled(t, "Accrue", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestHandler_AwardPoints_NegativeIncome(t *testing.T) {
	router := setupRouter(new(mockLoyaltyRepository), new(mockCodeStore))

	w := doRequest(t, router, http.MethodPut, "/api/v1/stores/1/customers/7/points",
		middleware.RoleStore, 1, gin.H{"income": -3}, nil)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestHandler_AwardPoints_InvalidPathID(t *testing.T) {
	router := setupRouter(new(mockLoyaltyRepository), new(mockCodeStore))

	w := doRequest(t, router, http.MethodPut, "/api/v1/stores/1/customers/abc/points",
		middleware.RoleStore, 1, gin.H{"income": 5}, nil)

	assert.Equal(t, http.StatusBadRequest, w.Code)
	resp := decodeResponse(t, w, nil)
	assert.Equal(t, "invalid idcustomer", resp.Error.Message)
}

func TestHandler_AwardPoints_Authorization(t *testing.T) {
	tests := []struct {
		name   string
		role   string
		userID int64
		want   int
	}{
		{"no token", "", 0, http.StatusUnauthorized},
		{"other store", middleware.RoleStore, 2, http.StatusForbidden},
		{"customer", middleware.RoleCustomer, 7, http.StatusForbidden},
		{"admin", middleware.RoleAdmin, 1, http.StatusForbidden},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo := new(mockLoyaltyRepository)
			router := setupRouter(repo, new(mockCodeStore))

			w := doRequest(t, router, http.MethodPut, "/api/v1/stores/1/customers/7/points",
				tt.role, tt.userID, gin.H{"income": 5}, nil)

			assert.Equal(t, tt.want, w.Code)
			repo.AssertNotCalled(t, "Accrue", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
		})
	}
}

// ========================================
// REDEEM PRIZE
// ========================================

func TestHandler_RedeemPrize(t *testing.T) {
	repo := new(mockLoyaltyRepository)
	router := setupRouter(repo, new(mockCodeStore))
	prize := setupRedemption(repo, 500, 200)
	repo.On("RedeemPrize", mock.Anything, mock.Anything).Return(int64(300), nil).Once()

	w := doRequest(t, router, http.MethodPost, "/api/v1/stores/1/customers/7/prizes/3",
		middleware.RoleCustomer, 7, nil, nil)

	require.Equal(t, http.StatusOK, w.Code)
	var got Prize
	decodeResponse(t, w, &got)
	assert.Equal(t, *prize, got)
	assert.Empty(t, w.Header().Get("Idempotent-Replayed"))
}

func TestHandler_RedeemPrize_InsufficientPoints(t *testing.T) {
	repo := new(mockLoyaltyRepository)
	router := setupRouter(repo, new(mockCodeStore))
	setupRedemption(repo, 200, 201)

	w := doRequest(t, router, http.MethodPost, "/api/v1/stores/1/customers/7/prizes/3",
		middleware.RoleCustomer, 7, nil, nil)

	assert.Equal(t, http.StatusBadRequest, w.Code)
	resp := decodeResponse(t, w, nil)
	assert.False(t, resp.Success)
	assert.Contains(t, resp.Error.Message, "insufficient points")
}

func TestHandler_RedeemPrize_Replay(t *testing.T) {
	repo := new(mockLoyaltyRepository)
	router := setupRouter(repo, new(mockCodeStore))

	stored := &HistoryRecord{ID: 11, CustomerID: 7, StoreID: 1, PrizeID: 3, Points: 200, Name: "Headphones", Category: "audio"}
	repo.On("GetHistoryByIdempotencyKey", mock.Anything, int64(7), "k-1").Return(stored, nil).Once()
	repo.On("GetBalance", mock.Anything, int64(1), int64(7)).Return(balanceOf(1, 7, 0), nil).Once()

	w := doRequest(t, router, http.MethodPost, "/api/v1/stores/1/customers/7/prizes/3",
		middleware.RoleCustomer, 7, nil, map[string]string{IdempotencyKeyHeader: "k-1"})

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "true", w.Header().Get("Idempotent-Replayed"))
	repo.AssertNotCalled(t, "RedeemPrize", mock.Anything, mock.Anything)
}

func TestHandler_RedeemPrize_KeyTooLong(t *testing.T) {
	router := setupRouter(new(mockLoyaltyRepository), new(mockCodeStore))

	long := string(bytes.Repeat([]byte("k"), maxIdempotencyKeyLen+1))
	w := doRequest(t, router, http.MethodPost, "/api/v1/stores/1/customers/7/prizes/3",
		middleware.RoleCustomer, 7, nil, map[string]string{IdempotencyKeyHeader: long})

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestHandler_RedeemPrize_OtherCustomer(t *testing.T) {
	router := setupRouter(new(mockLoyaltyRepository), new(mockCodeStore))

	w := doRequest(t, router, http.MethodPost, "/api/v1/stores/1/customers/7/prizes/3",
		middleware.RoleCustomer, 8, nil, nil)

	assert.Equal(t, http.StatusForbidden, w.Code)
}

// ========================================
// READS
// ========================================

func TestHandler_GetCode(t *testing.T) {
	codes := new(mockCodeStore)
	router := setupRouter(new(mockLoyaltyRepository), codes)
	codes.On("CurrentCode", mock.Anything, int64(1)).Return(4821, nil).Once()

	w := doRequest(t, router, http.MethodGet, "/api/v1/stores/1/code", middleware.RoleStore, 1, nil, nil)

	require.Equal(t, http.StatusOK, w.Code)
	var code CodeResponse
	decodeResponse(t, w, &code)
	assert.Equal(t, CodeResponse{StoreID: 1, Code: 4821}, code)

	w = doRequest(t, router, http.MethodGet, "/api/v1/stores/1/code", middleware.RoleCustomer, 7, nil, nil)
	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestHandler_GetBalance_Access(t *testing.T) {
	tests := []struct {
		name   string
		role   string
		userID int64
		want   int
	}{
		{"owning customer", middleware.RoleCustomer, 7, http.StatusOK},
		{"owning store", middleware.RoleStore, 1, http.StatusOK},
		{"admin", middleware.RoleAdmin, 99, http.StatusOK},
		{"other customer", middleware.RoleCustomer, 8, http.StatusForbidden},
		{"other store", middleware.RoleStore, 2, http.StatusForbidden},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo := new(mockLoyaltyRepository)
			router := setupRouter(repo, new(mockCodeStore))
			repo.On("GetBalance", mock.Anything, int64(1), int64(7)).Return(balanceOf(1, 7, 40), nil).Maybe()

			w := doRequest(t, router, http.MethodGet, "/api/v1/stores/1/customers/7/balance", tt.role, tt.userID, nil, nil)

			assert.Equal(t, tt.want, w.Code)
		})
	}
}

func TestHandler_ListStoreCustomers_Paginated(t *testing.T) {
	repo := new(mockLoyaltyRepository)
	router := setupRouter(repo, new(mockCodeStore))
	repo.On("ListBalancesByStore", mock.Anything, int64(1), 2, 0).
		Return([]*Balance{balanceOf(1, 7, 50), balanceOf(1, 8, 10)}, int64(5), nil).Once()

	w := doRequest(t, router, http.MethodGet, "/api/v1/stores/1/customers?limit=2&offset=0", middleware.RoleStore, 1, nil, nil)

	require.Equal(t, http.StatusOK, w.Code)
	var balances []Balance
	resp := decodeResponse(t, w, &balances)
	assert.Len(t, balances, 2)
	require.NotNil(t, resp.Meta)
	assert.Equal(t, int64(5), resp.Meta.Total)
	assert.True(t, resp.Meta.HasMore)
}

func TestHandler_ListPrizes(t *testing.T) {
	repo := new(mockLoyaltyRepository)
	router := setupRouter(repo, new(mockCodeStore))
	repo.On("ListPrizes", mock.Anything, int64(1)).Return([]*Prize{{ID: 3, StoreID: 1, Name: "Headphones", Points: 200}}, nil).Once()

	w := doRequest(t, router, http.MethodGet, "/api/v1/stores/1/prizes", middleware.RoleCustomer, 7, nil, nil)

	require.Equal(t, http.StatusOK, w.Code)
	var prizes []Prize
	decodeResponse(t, w, &prizes)
	require.Len(t, prizes, 1)
	assert.Equal(t, "Headphones", prizes[0].Name)
}

func TestHandler_ListCustomerBalances(t *testing.T) {
	repo := new(mockLoyaltyRepository)
	router := setupRouter(repo, new(mockCodeStore))
	repo.On("ListBalancesByCustomer", mock.Anything, int64(7)).Return([]*Balance{balanceOf(1, 7, 50), balanceOf(2, 7, 5)}, nil).Once()

	w := doRequest(t, router, http.MethodGet, "/api/v1/customers/7/balances", middleware.RoleCustomer, 7, nil, nil)
	require.Equal(t, http.StatusOK, w.Code)

	w = doRequest(t, router, http.MethodGet, "/api/v1/customers/7/balances", middleware.RoleCustomer, 8, nil, nil)
	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestHandler_ListHistory_AdminOnly(t *testing.T) {
	repo := new(mockLoyaltyRepository)
	router := setupRouter(repo, new(mockCodeStore))
	repo.On("ListHistory", mock.Anything, HistoryFilter{StoreID: 1, Sector: "tech"}, 20, 0).
		Return([]*HistoryRecord{{ID: 11, StoreID: 1, Sector: "tech"}}, int64(1), nil).Once()

	w := doRequest(t, router, http.MethodGet, "/api/v1/history?store_id=1&sector=tech", middleware.RoleAdmin, 1, nil, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var records []HistoryRecord
	resp := decodeResponse(t, w, &records)
	require.Len(t, records, 1)
	assert.Equal(t, int64(11), records[0].ID)
	assert.False(t, resp.Meta.HasMore)

	w = doRequest(t, router, http.MethodGet, "/api/v1/history", middleware.RoleStore, 1, nil, nil)
	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestHandler_ListHistory_InvalidFilter(t *testing.T) {
	router := setupRouter(new(mockLoyaltyRepository), new(mockCodeStore))

	w := doRequest(t, router, http.MethodGet, "/api/v1/history?store_id=-1", middleware.RoleAdmin, 1, nil, nil)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestHandler_GetHistoryRecord_NotFound(t *testing.T) {
	repo := new(mockLoyaltyRepository)
	router := setupRouter(repo, new(mockCodeStore))
	repo.On("GetHistoryRecord", mock.Anything, int64(12)).Return(nil, nil).Once()

	w := doRequest(t, router, http.MethodGet, "/api/v1/history/12", middleware.RoleAdmin, 1, nil, nil)

	assert.Equal(t, http.StatusNotFound, w.Code)
}
