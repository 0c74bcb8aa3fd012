package payment

import (
	"context"
	"fmt"
	"net/http"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// B2CRequest is the request for an M-Pesa B2C (Business to Customer) payout.
type B2CRequest struct {
	Amount      int64  // in KES (whole units)
	PhoneNumber string // e.g. 254112299271
	Remarks     string
	OrderID     string // unique
	CallbackURL string
}

// B2CResponse is the response from the B2C API.
type B2CResponse struct {
	UUID                     string `json:"uuid"`
	OrderID                  string `json:"order_id"`
	OriginatorConversationID string `json:"originator_conversation_id"`
	ConversationID           string `json:"conversation_id"`
	Amount                   int    `json:"amount"`
	PhoneNumber              string `json:"phone_number"`
	Status                   string `json:"status"`
	ResponseCode             string `json:"response_code"`
	ResponseDescription      string `json:"response_description"`
	CreatedAt                string `json:"created_at"`
}

type b2cBody struct {
	Amount      string `json:"amount"`
	PhoneNumber string `json:"phone_number"`
	Description string `json:"description"`
	Remarks     string `json:"remarks"`
	OrderID     string `json:"order_id"`
	CallbackURL string `json:"callback_url,omitempty"`
}

// InitiateB2C sends money to a phone number.
func (p *LiberecMpesaProvider) InitiateB2C(ctx context.Context, req B2CRequest) (*B2CResponse, error) {
	token, err := p.getToken(ctx, "b2c")
	if err != nil {
		return nil, err
	}
	orderID := req.OrderID
	if orderID == "" {
		orderID = "rf-" + uuid.NewString()
	}
	remarks := req.Remarks
	if remarks == "" {
		remarks = "Refund"
	}
	p.log.Info("b2c payout", zap.String("order_id", orderID), zap.Int64("amount", req.Amount))
	body, err := doJSON(ctx, p.client, ProviderMpesa, "b2c", jsonCall{
		method: http.MethodPost,
		url:    p.cfg.BaseURL + "/api/v1/transactions/mpesa/b2c",
		body: b2cBody{
			Amount:      fmt.Sprintf("%d", req.Amount),
			PhoneNumber: req.PhoneNumber,
			Description: DescriptionToken,
			Remarks:     remarks,
			OrderID:     orderID,
			CallbackURL: req.CallbackURL,
		},
		auth: "Bearer " + token,
	})
	if err != nil {
		return nil, err
	}
	var out B2CResponse
	if err := decode(ProviderMpesa, "b2c", body, &out); err != nil {
		return nil, err
	}
	if out.OrderID == "" {
		out.OrderID = orderID
	}
	return &out, nil
}

// Refund pays the amount back to the phone that made the original STK payment.
// M-Pesa has no reversal API for STK charges, so a refund is a B2C payout.
func (p *LiberecMpesaProvider) Refund(ctx context.Context, req RefundRequest) (*RefundResult, error) {
	tx, _, err := p.query(ctx, "refund lookup", req.ExternalID)
	if err != nil {
		return nil, err
	}
	if tx.CustomerPhone == "" {
		return nil, providerErr(ProviderMpesa, "refund", fmt.Errorf("original transaction has no customer phone"))
	}
	out, err := p.InitiateB2C(ctx, B2CRequest{
		Amount:      req.Amount.Round(0).IntPart(),
		PhoneNumber: tx.CustomerPhone,
		Remarks:     req.Reason,
		OrderID:     "rf-" + req.ExternalID + "-" + uuid.NewString()[:8],
	})
	if err != nil {
		return nil, err
	}
	return &RefundResult{RefundID: out.OrderID, Status: out.Status}, nil
}
