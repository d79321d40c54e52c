package domain

import "time"

// Charge is one issued, time-bounded PIX payment request against the gateway.
// Charges are immutable: regeneration installs a replacement and abandons the
// previous payable code.
type Charge struct {
	AmountCentavos int64     `json:"amount_centavos"`
	Identifier     string    `json:"identifier"`   // unique per issuance
	PayableCode    string    `json:"payable_code"` // PIX copy-and-paste code
	IssuedAt       time.Time `json:"issued_at"`
}
