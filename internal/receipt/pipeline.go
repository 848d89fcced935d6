package receipt

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/dmehra2102/storefront-backend/internal/order/domain"
)

// Pipeline renders a receipt and mails it to the order owner. It runs after
// the payment transition has committed, so every failure here is logged and
// swallowed: a lost receipt must never unwind a confirmed payment.
type Pipeline struct {
	log      *slog.Logger
	renderer *Renderer
	mailer   Mailer
}

func NewPipeline(log *slog.Logger, renderer *Renderer, mailer Mailer) *Pipeline {
	return &Pipeline{log: log, renderer: renderer, mailer: mailer}
}

func (p *Pipeline) Deliver(ctx context.Context, o domain.Order) {
	pdf, err := p.renderer.Render(o)
	if err != nil {
		p.log.Error("receipt render failed", "order_id", o.ID, "err", err)
		return
	}

	subject := fmt.Sprintf("Your receipt for order %s", o.ID)
	body := "Thank you for your purchase! Please find your receipt attached."
	attachment := Attachment{
		Filename: fmt.Sprintf("receipt-%s.pdf", o.ID),
		Content:  pdf,
	}
	if err := p.mailer.Send(ctx, o.OwnerEmail, subject, body, attachment); err != nil {
		p.log.Error("receipt email failed", "order_id", o.ID, "to", o.OwnerEmail, "err", err)
		return
	}
	p.log.Info("receipt sent", "order_id", o.ID, "to", o.OwnerEmail)
}
