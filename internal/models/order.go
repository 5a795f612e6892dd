package models

type OrderType string

const (
	OrderTypeMulti  OrderType = "Multi"
	OrderTypeSingle OrderType = "Single"
	OrderTypeHeavy  OrderType = "Heavy"
)

type Order struct {
	ID       string    `json:"id"`
	Price    string    `json:"price"`
	Stores   []string  `json:"stores"`
	Distance string    `json:"distance"`
	Time     string    `json:"time"`
	Type     OrderType `json:"type"`
	Status   string    `json:"status"`
}

type OrderTaken struct {
	OrderID string `json:"orderId" binding:"required"`
}
