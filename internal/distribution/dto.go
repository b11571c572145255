package distribution

// MintRequest asks the issuer to mint points to a holder.
type MintRequest struct {
	Recipient string `json:"recipient"`
	Amount    string `json:"amount"`
}

// TransferRequest asks the issuer to send points it holds to a holder.
type TransferRequest struct {
	Recipient string `json:"recipient"`
	Amount    string `json:"amount"`
}

// Response represents the API response for distribution actions.
type Response struct {
	Signature string `json:"signature"`
	Recipient string `json:"recipient"`
	Amount    string `json:"amount"`
	RawAmount uint64 `json:"raw_amount"`
	Symbol    string `json:"symbol"`
}
