package gateway

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/dmehra2102/storefront-backend/internal/payment/domain"
)

var (
	ErrBadSignature = errors.New("webhook signature verification failed")
	ErrBadPayload   = errors.New("webhook payload malformed")
)

// DefaultTolerance bounds how stale a signed timestamp may be before the
// event is rejected, limiting replay of captured webhook deliveries.
const DefaultTolerance = 5 * time.Minute

// Verifier checks and parses inbound gateway events. Verification runs over
// the raw request bytes; the payload must not be reparsed or re-serialized
// before the signature check.
type Verifier struct {
	secret    []byte
	tolerance time.Duration
	now       func() time.Time
}

func NewVerifier(secret string) *Verifier {
	return &Verifier{secret: []byte(secret), tolerance: DefaultTolerance, now: time.Now}
}

type eventPayload struct {
	ID   string `json:"id"`
	Type string `json:"type"`
	Data struct {
		Object struct {
			ID       string            `json:"id"`
			Metadata map[string]string `json:"metadata"`
		} `json:"object"`
	} `json:"data"`
	Created int64 `json:"created"`
}

// VerifyAndParse validates the signature header against the raw body and
// returns the decoded event. The header format is "t=<unix>,v1=<hex hmac>"
// where the mac is HMAC-SHA256 over "<unix>.<raw body>". Any verification
// failure rejects the event; no state is touched by this path.
func (v *Verifier) VerifyAndParse(rawBody []byte, sigHeader string) (domain.Event, error) {
	ts, mac, err := parseSignatureHeader(sigHeader)
	if err != nil {
		return domain.Event{}, err
	}

	if v.tolerance > 0 {
		drift := v.now().UTC().Sub(time.Unix(ts, 0).UTC())
		if drift > v.tolerance || drift < -v.tolerance {
			return domain.Event{}, fmt.Errorf("%w: timestamp outside tolerance", ErrBadSignature)
		}
	}

	h := hmac.New(sha256.New, v.secret)
	fmt.Fprintf(h, "%d.", ts)
	h.Write(rawBody)
	if !hmac.Equal(h.Sum(nil), mac) {
		return domain.Event{}, ErrBadSignature
	}

	var payload eventPayload
	if err := json.Unmarshal(rawBody, &payload); err != nil {
		return domain.Event{}, fmt.Errorf("%w: %v", ErrBadPayload, err)
	}

	switch domain.EventType(payload.Type) {
	case domain.SessionCompleted, domain.SessionExpired, domain.SessionPaymentFailed:
	default:
		return domain.Event{}, fmt.Errorf("%w: unknown event type %q", ErrBadPayload, payload.Type)
	}
	if payload.ID == "" {
		return domain.Event{}, fmt.Errorf("%w: missing event id", ErrBadPayload)
	}
	if payload.Data.Object.ID == "" {
		return domain.Event{}, fmt.Errorf("%w: missing session ref", ErrBadPayload)
	}

	return domain.Event{
		ID:         payload.ID,
		Type:       domain.EventType(payload.Type),
		SessionRef: payload.Data.Object.ID,
		OrderID:    payload.Data.Object.Metadata["order_id"],
		CreatedAt:  time.Unix(payload.Created, 0).UTC(),
	}, nil
}

func parseSignatureHeader(header string) (ts int64, mac []byte, err error) {
	var tsPart, macPart string
	for _, part := range strings.Split(header, ",") {
		k, v, ok := strings.Cut(strings.TrimSpace(part), "=")
		if !ok {
			continue
		}
		switch k {
		case "t":
			tsPart = v
		case "v1":
			macPart = v
		}
	}
	if tsPart == "" || macPart == "" {
		return 0, nil, fmt.Errorf("%w: malformed signature header", ErrBadSignature)
	}
	ts, err = strconv.ParseInt(tsPart, 10, 64)
	if err != nil {
		return 0, nil, fmt.Errorf("%w: bad timestamp", ErrBadSignature)
	}
	mac, err = hex.DecodeString(macPart)
	if err != nil {
		return 0, nil, fmt.Errorf("%w: bad hex digest", ErrBadSignature)
	}
	return ts, mac, nil
}
