package handlers

import (
	"net/http"
	"strconv"

	"github.com/fatflowers/creditledger/internal/app/api/middleware"
	"github.com/fatflowers/creditledger/internal/app/service/ledger"
	"github.com/fatflowers/creditledger/pkg/response"

	"github.com/gin-gonic/gin"
)

// @Summary      Current balance
// @Description  Returns the caller's credit balance across all pools plus the sync status.
// @Tags         Credits
// @Produce      json
// @Success      200  {object}  handlers.RespBalance
// @Router       /api/v1/credits/balance [get]
func ApiCurrentBalance(lg ledger.CreditLedger) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := middleware.IdentityFrom(c)
		if !ok {
			c.JSON(http.StatusOK, response.ErrorT[any](response.APIResponseCodeBadRequest, "missing identity"))
			return
		}
		view, err := lg.CurrentBalance(c.Request.Context(), id)
		if err != nil {
			c.JSON(http.StatusOK, response.ErrorT[any](response.APIResponseCodeError, err.Error()))
			return
		}
		c.JSON(http.StatusOK, response.OKT(view))
	}
}

// @Summary      Recent transactions
// @Description  Lists the caller's credit transactions, most recent first.
// @Tags         Credits
// @Produce      json
// @Param        limit query int false "max rows (default and cap 50)"
// @Success      200  {object}  handlers.RespTransactions
// @Router       /api/v1/credits/transactions [get]
func ApiRecentTransactions(lg ledger.CreditLedger) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := middleware.IdentityFrom(c)
		if !ok {
			c.JSON(http.StatusOK, response.ErrorT[any](response.APIResponseCodeBadRequest, "missing identity"))
			return
		}
		limit := 0
		if v := c.Query("limit"); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil || n < 0 {
				c.JSON(http.StatusOK, response.ErrorT[any](response.APIResponseCodeBadRequest, "invalid limit"))
				return
			}
			limit = n
		}
		rows, err := lg.RecentTransactions(c.Request.Context(), id, limit)
		if err != nil {
			c.JSON(http.StatusOK, response.ErrorT[any](response.APIResponseCodeError, err.Error()))
			return
		}
		c.JSON(http.StatusOK, response.OKT(rows))
	}
}

// @Summary      Deduct credits
// @Description  Charges the feature's cost. An unaffordable call is a normal allowed=false result, not an error.
// @Tags         Credits
// @Accept       json
// @Produce      json
// @Param        request body ledger.DeductRequest true "Deduct request"
// @Success      200  {object}  handlers.RespDeduct
// @Router       /api/v1/credits/deduct [post]
func ApiDeductCredits(lg ledger.CreditLedger) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := middleware.IdentityFrom(c)
		if !ok {
			c.JSON(http.StatusOK, response.ErrorT[any](response.APIResponseCodeBadRequest, "missing identity"))
			return
		}
		var req ledger.DeductRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusOK, response.ErrorT[any](response.APIResponseCodeBadRequest, err.Error()))
			return
		}
		if req.Feature == "" {
			c.JSON(http.StatusOK, response.ErrorT[any](response.APIResponseCodeBadRequest, "missing feature"))
			return
		}
		res, err := lg.Deduct(c.Request.Context(), id, &req)
		if err != nil {
			c.JSON(http.StatusOK, response.ErrorT[any](response.APIResponseCodeError, err.Error()))
			return
		}
		c.JSON(http.StatusOK, response.OKT(res))
	}
}

// @Summary      Refresh balance
// @Description  Forces a reload from the durable store; the remote record is authoritative.
// @Tags         Credits
// @Produce      json
// @Success      200  {object}  handlers.RespBalance
// @Router       /api/v1/credits/refresh [post]
func ApiRefreshBalance(lg ledger.CreditLedger) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := middleware.IdentityFrom(c)
		if !ok {
			c.JSON(http.StatusOK, response.ErrorT[any](response.APIResponseCodeBadRequest, "missing identity"))
			return
		}
		view, err := lg.Refresh(c.Request.Context(), id)
		if err != nil {
			c.JSON(http.StatusOK, response.ErrorT[any](response.APIResponseCodeError, err.Error()))
			return
		}
		c.JSON(http.StatusOK, response.OKT(view))
	}
}

func RegisterCreditRoutes(r gin.IRouter, lg ledger.CreditLedger) {
	r.GET("/balance", ApiCurrentBalance(lg))
	r.GET("/transactions", ApiRecentTransactions(lg))
	r.POST("/deduct", ApiDeductCredits(lg))
	r.POST("/refresh", ApiRefreshBalance(lg))
}
