package hdpay

// Outbound actions understood by the processor endpoint.
const (
	ActionCreateCheckout = "create_checkout"
	ActionRefund         = "refund"
)

// Customer is the billing contact block of a checkout session.
type Customer struct {
	Name     string `json:"name"`
	Email    string `json:"email"`
	Phone    string `json:"phone"`
	Address1 string `json:"address_1"`
	Address2 string `json:"address_2"`
	City     string `json:"city"`
	State    string `json:"state"`
	ZipCode  string `json:"zip_code"`
	Country  string `json:"country"`
}

// Item is one checkout line. Price is the line total in minor units.
type Item struct {
	Name     string `json:"name"`
	Quantity int    `json:"quantity"`
	Price    int64  `json:"price"`
	SKU      string `json:"sku"`
}

// CheckoutMetadata is echoed back by the processor on notifications.
type CheckoutMetadata struct {
	OrderID  int64  `json:"order_id"`
	OrderKey string `json:"order_key"`
	SiteURL  string `json:"site_url"`
}

// CheckoutRequest is the order_data of a create_checkout call.
type CheckoutRequest struct {
	OrderID     int64            `json:"order_id"`
	OrderKey    string           `json:"order_key"`
	Amount      int64            `json:"amount"`
	Currency    string           `json:"currency"`
	Customer    Customer         `json:"customer"`
	Items       []Item           `json:"items"`
	Description string           `json:"description"`
	SuccessURL  string           `json:"success_url"`
	CancelURL   string           `json:"cancel_url"`
	WebhookURL  string           `json:"webhook_url"`
	TestMode    bool             `json:"testmode"`
	ProjectID   string           `json:"project_id"`
	Metadata    CheckoutMetadata `json:"metadata"`
}

// CheckoutResponse is the processor answer to create_checkout.
type CheckoutResponse struct {
	CheckoutURL   string
	TransactionID string
	Raw           map[string]any
}

// RefundRequest is the body of a refund call. Amount is in minor units.
type RefundRequest struct {
	TransactionID string `json:"transaction_id"`
	Amount        int64  `json:"amount"`
	Reason        string `json:"reason"`
}

type checkoutEnvelope struct {
	Action    string          `json:"action"`
	OrderData CheckoutRequest `json:"order_data"`
}

type refundEnvelope struct {
	Action string `json:"action"`
	RefundRequest
}
