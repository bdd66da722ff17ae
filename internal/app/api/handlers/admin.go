package handlers

import (
	"net/http"

	"github.com/fatflowers/creditledger/internal/app/service/audit"
	"github.com/fatflowers/creditledger/internal/app/service/ledger"
	"github.com/fatflowers/creditledger/pkg/response"
	"github.com/fatflowers/creditledger/pkg/types"

	"github.com/gin-gonic/gin"
)

type GrantCreditsRequest struct {
	UserID      string `json:"user_id"`
	Amount      int64  `json:"amount"`
	Description string `json:"description"`
	OperatorID  string `json:"operator_id"`
}

// @Summary      Grant bonus credits
// @Description  Credits the bonus pool for a user. Operator-initiated.
// @Tags         Admin
// @Accept       json
// @Produce      json
// @Param        request body handlers.GrantCreditsRequest true "Grant request"
// @Success      200  {object}  handlers.RespBalance
// @Router       /api/v1/admin/credits/grant [post]
func ApiGrantCredits(lg ledger.CreditLedger) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req GrantCreditsRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusOK, response.ErrorT[any](response.APIResponseCodeBadRequest, err.Error()))
			return
		}
		if req.UserID == "" || req.Amount <= 0 {
			c.JSON(http.StatusOK, response.ErrorT[any](response.APIResponseCodeBadRequest, "user_id and positive amount required"))
			return
		}
		desc := req.Description
		if desc == "" {
			desc = "Operator bonus grant"
		}
		view, err := lg.Credit(c.Request.Context(), types.Identity{UserID: req.UserID, Verified: true}, &ledger.CreditRequest{
			Amount:      req.Amount,
			Type:        types.CreditTransactionTypeBonus,
			Description: desc,
			RelatedID:   "operator:" + req.OperatorID,
		})
		if err != nil {
			c.JSON(http.StatusOK, response.ErrorT[any](response.APIResponseCodeError, err.Error()))
			return
		}
		c.JSON(http.StatusOK, response.OKT(view))
	}
}

// @Summary      Scan credit transactions
// @Description  Paginated, filterable admin listing over the transaction log.
// @Tags         Admin
// @Accept       json
// @Produce      json
// @Param        request body audit.ScanTransactionsRequest true "Scan request"
// @Success      200  {object}  handlers.RespScanTransactions
// @Router       /api/v1/admin/transactions/scan [post]
func ApiScanTransactions(svc *audit.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req audit.ScanTransactionsRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusOK, response.ErrorT[any](response.APIResponseCodeBadRequest, err.Error()))
			return
		}
		res, err := svc.ScanTransactions(c.Request.Context(), &req)
		if err != nil {
			c.JSON(http.StatusOK, response.ErrorT[any](response.APIResponseCodeError, err.Error()))
			return
		}
		c.JSON(http.StatusOK, response.OKT(res))
	}
}

func RegisterAdminRoutes(r gin.IRouter, lg ledger.CreditLedger, auditSvc *audit.Service) {
	r.POST("/credits/grant", ApiGrantCredits(lg))
	r.POST("/transactions/scan", ApiScanTransactions(auditSvc))
}
