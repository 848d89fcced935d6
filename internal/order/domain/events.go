package domain

type ItemSnapshot struct {
	ProductID string `json:"product_id"`
	Quantity  int    `json:"quantity"`
	UnitPrice string `json:"unit_price"`
}

type OrderCreated struct {
	OrderID    string         `json:"order_id"`
	OwnerID    string         `json:"owner_id"`
	Method     string         `json:"method"`
	TotalPrice string         `json:"total_price"`
	Items      []ItemSnapshot `json:"items"`
}

type OrderPaid struct {
	OrderID    string `json:"order_id"`
	SessionRef string `json:"session_ref"`
	TotalPrice string `json:"total_price"`
}

type OrderPaymentFailed struct {
	OrderID    string `json:"order_id"`
	SessionRef string `json:"session_ref"`
	Reason     string `json:"reason"`
}

func Snapshot(items []OrderItem) []ItemSnapshot {
	out := make([]ItemSnapshot, 0, len(items))
	for _, item := range items {
		out = append(out, ItemSnapshot{
			ProductID: item.ProductID,
			Quantity:  item.Quantity,
			UnitPrice: item.UnitPrice.String(),
		})
	}
	return out
}
