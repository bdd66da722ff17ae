package handlers

import (
	"errors"
	"net/http"

	"github.com/fatflowers/creditledger/internal/app/service/purchase"
	"github.com/fatflowers/creditledger/pkg/response"

	"github.com/gin-gonic/gin"
)

// @Summary      Redeem credit pack purchase
// @Description  Verifies an App Store transaction and credits the purchased pool. Idempotent per transaction id.
// @Tags         Purchase
// @Accept       json
// @Produce      json
// @Param        request body purchase.RedeemRequest true "Redeem request"
// @Success      200  {object}  handlers.RespRedeem
// @Router       /api/v1/purchase/redeem [post]
func ApiRedeemTransaction(svc *purchase.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req purchase.RedeemRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusOK, response.ErrorT[any](response.APIResponseCodeBadRequest, err.Error()))
			return
		}
		res, err := svc.RedeemTransaction(c.Request.Context(), &req)
		if err != nil {
			if errors.Is(err, purchase.ErrDuplicateTransaction) {
				c.JSON(http.StatusOK, response.ErrorT[any](response.APIResponseCodeBadRequest, err.Error()))
				return
			}
			c.JSON(http.StatusOK, response.ErrorT[any](response.APIResponseCodeError, err.Error()))
			return
		}
		c.JSON(http.StatusOK, response.OKT(res))
	}
}

func RegisterPurchaseRoutes(r gin.IRouter, svc *purchase.Service) {
	r.POST("/redeem", ApiRedeemTransaction(svc))
}
