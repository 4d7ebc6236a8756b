package dto

// BridgeSendRequest outbound transfer
type BridgeSendRequest struct {
	DestinationDomain uint64 `json:"destination_domain" binding:"required"`
	Recipient         string `json:"recipient" binding:"required"`
	Amount            string `json:"amount" binding:"required"`
	FeeCurrency       string `json:"fee_currency"`
}

// BridgeFeeResponse quoted fee for a send
type BridgeFeeResponse struct {
	DestinationDomain uint64 `json:"destination_domain"`
	FeeCurrency       string `json:"fee_currency"`
	Fee               string `json:"fee"`
}
