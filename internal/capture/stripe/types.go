package stripe

import "encoding/json"

type paymentIntent struct {
	ID               string            `json:"id"`
	Object           string            `json:"object"`
	Status           string            `json:"status"`
	Amount           int64             `json:"amount"`
	AmountReceived   int64             `json:"amount_received"`
	AmountCapturable int64             `json:"amount_capturable"`
	Currency         string            `json:"currency"`
	LatestCharge     json.RawMessage   `json:"latest_charge"`
	Metadata         map[string]string `json:"metadata"`
	ReceiptEmail     string            `json:"receipt_email"`
	Created          int64             `json:"created"`
}

type charge struct {
	ID             string         `json:"id"`
	BillingDetails billingDetails `json:"billing_details"`
	Created        int64          `json:"created"`
}

type billingDetails struct {
	Email string `json:"email"`
	Name  string `json:"name"`
}

type event struct {
	ID      string `json:"id"`
	Type    string `json:"type"`
	Created int64  `json:"created"`
	Data    struct {
		Object json.RawMessage `json:"object"`
	} `json:"data"`
}

type errorResponse struct {
	Error struct {
		Type        string `json:"type"`
		Code        string `json:"code"`
		DeclineCode string `json:"decline_code"`
		Message     string `json:"message"`
	} `json:"error"`
}
