package receipt

import (
	"bytes"
	"fmt"

	"github.com/go-pdf/fpdf"
	"github.com/shopspring/decimal"

	"github.com/dmehra2102/storefront-backend/internal/order/domain"
)

// Renderer produces the PDF receipt for a paid order: header, order info,
// a line-item table and the stored total.
type Renderer struct {
	storeName string
}

func NewRenderer(storeName string) *Renderer {
	return &Renderer{storeName: storeName}
}

func (r *Renderer) Render(o domain.Order) ([]byte, error) {
	doc := fpdf.New("P", "mm", "A4", "")
	doc.SetMargins(18, 18, 18)
	doc.AddPage()

	doc.SetFont("Helvetica", "B", 18)
	doc.CellFormat(0, 12, fmt.Sprintf("%s - Order Receipt", r.storeName), "", 1, "C", false, 0, "")
	doc.Ln(4)

	doc.SetFont("Helvetica", "", 11)
	doc.CellFormat(0, 6, fmt.Sprintf("Order ID: %s", o.ID), "", 1, "L", false, 0, "")
	doc.CellFormat(0, 6, fmt.Sprintf("Order Date: %s", o.CreatedAt.Format("2006-01-02 15:04:05 MST")), "", 1, "L", false, 0, "")
	doc.CellFormat(0, 6, fmt.Sprintf("Order Status: %s", o.OrderStatus), "", 1, "L", false, 0, "")
	doc.CellFormat(0, 6, fmt.Sprintf("Payment Status: %s", o.PaymentStatus), "", 1, "L", false, 0, "")
	doc.Ln(6)

	doc.SetFont("Helvetica", "B", 11)
	doc.CellFormat(18, 7, "Qty", "B", 0, "L", false, 0, "")
	doc.CellFormat(90, 7, "Product", "B", 0, "L", false, 0, "")
	doc.CellFormat(33, 7, "Unit Price", "B", 0, "R", false, 0, "")
	doc.CellFormat(33, 7, "Total", "B", 1, "R", false, 0, "")

	doc.SetFont("Helvetica", "", 11)
	for _, item := range o.Items {
		lineTotal := item.UnitPrice.Mul(decimal.NewFromInt(int64(item.Quantity)))
		doc.CellFormat(18, 7, fmt.Sprintf("%d", item.Quantity), "", 0, "L", false, 0, "")
		doc.CellFormat(90, 7, item.ProductName, "", 0, "L", false, 0, "")
		doc.CellFormat(33, 7, "$"+item.UnitPrice.StringFixed(2), "", 0, "R", false, 0, "")
		doc.CellFormat(33, 7, "$"+lineTotal.StringFixed(2), "", 1, "R", false, 0, "")
	}

	doc.Ln(4)
	doc.SetFont("Helvetica", "B", 12)
	doc.CellFormat(0, 8, "Total Price: $"+o.TotalPrice.StringFixed(2), "T", 1, "R", false, 0, "")

	var buf bytes.Buffer
	if err := doc.Output(&buf); err != nil {
		return nil, fmt.Errorf("render receipt pdf: %w", err)
	}
	return buf.Bytes(), nil
}
