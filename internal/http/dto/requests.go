package dto

type CreateInvoiceRequest struct {
	InvoiceID   string  `json:"invoice_id,omitempty"` // generated when empty
	MerchantID  string  `json:"merchant_id"`
	AmountPi    string  `json:"amount_pi"`
	Description *string `json:"description,omitempty"`
}

type SetInvoiceStatusRequest struct {
	Status string `json:"status"`
}
