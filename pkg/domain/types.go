package domain

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
)

// ToolCall represents a tool invocation requested by the model.
type ToolCall struct {
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments"`
}

// Message is a single entry in a thread. The ordered sequence of messages is
// the model's working memory.
type Message struct {
	ID         string     `json:"id"`
	Role       Role       `json:"role"`
	Content    string     `json:"content"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty"`
	IsError    bool       `json:"is_error,omitempty"`
	Timestamp  time.Time  `json:"timestamp"`
}

// Invocation records how a requested tool call was resolved.
type Invocation struct {
	Call    ToolCall         `json:"call"`
	Status  InvocationStatus `json:"status"`
	Result  string           `json:"result,omitempty"`
	IsError bool             `json:"is_error,omitempty"`
}

// ThreadInfo is a lightweight summary of a thread, returned by list operations.
type ThreadInfo struct {
	ID           string    `json:"id"`
	State        State     `json:"state"`
	MessageCount int       `json:"message_count"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// Order is a customer order as exposed to the model.
type Order struct {
	OrderID         int             `json:"order_id" yaml:"order_id"`
	ProductCategory string          `json:"product_category" yaml:"product_category"`
	ProductName     string          `json:"product_name" yaml:"product_name"`
	Size            string          `json:"size" yaml:"size"`
	Quantity        int             `json:"quantity" yaml:"quantity"`
	Price           decimal.Decimal `json:"price_(usd)" yaml:"price_usd"`
	OrderDate       string          `json:"order_date" yaml:"order_date"`
	Status          string          `json:"status" yaml:"status"`
	PaymentMethod   string          `json:"payment_method" yaml:"payment_method"`
	ShippingAddress string          `json:"shipping_address" yaml:"shipping_address"`
	FinalSale       bool            `json:"final_sale" yaml:"final_sale"`

	// Gender is only used to match recommendations.
	Gender string `json:"-" yaml:"gender"`
}

// Policy is a short, pre-summarized policy statement tagged with intents.
type Policy struct {
	ID        string    `json:"id"`
	Text      string    `json:"text"`
	Intents   []string  `json:"intents"`
	UpdatedAt time.Time `json:"updated_at"`
}

// PolicyMatch is a policy ranked against a query.
type PolicyMatch struct {
	Policy Policy  `json:"policy"`
	Score  float64 `json:"score"`
}
