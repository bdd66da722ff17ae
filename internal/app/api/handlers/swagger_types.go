package handlers

import (
	"github.com/fatflowers/creditledger/internal/app/service/audit"
	"github.com/fatflowers/creditledger/internal/app/service/ledger"
	"github.com/fatflowers/creditledger/internal/app/service/purchase"
	"github.com/fatflowers/creditledger/internal/models"
	"github.com/fatflowers/creditledger/pkg/response"
)

// RespOK is a generic OK envelope for endpoints returning no specific data.
type RespOK struct {
	Code    response.APIResponseCode `json:"code"`
	Message string                   `json:"message"`
	Data    interface{}              `json:"data"`
}

// RespBalance wraps a BalanceView in the standard envelope.
type RespBalance struct {
	Code    response.APIResponseCode `json:"code"`
	Message string                   `json:"message"`
	Data    ledger.BalanceView       `json:"data"`
}

// RespDeduct wraps a DeductResult in the standard envelope.
type RespDeduct struct {
	Code    response.APIResponseCode `json:"code"`
	Message string                   `json:"message"`
	Data    ledger.DeductResult      `json:"data"`
}

// RespTransactions wraps a transaction list in the standard envelope.
type RespTransactions struct {
	Code    response.APIResponseCode    `json:"code"`
	Message string                      `json:"message"`
	Data    []*models.CreditTransaction `json:"data"`
}

// RespRedeem wraps a RedeemResult in the standard envelope.
type RespRedeem struct {
	Code    response.APIResponseCode `json:"code"`
	Message string                   `json:"message"`
	Data    purchase.RedeemResult    `json:"data"`
}

// RespScanTransactions wraps the admin scan response in the standard envelope.
type RespScanTransactions struct {
	Code    response.APIResponseCode       `json:"code"`
	Message string                         `json:"message"`
	Data    audit.ScanTransactionsResponse `json:"data"`
}
