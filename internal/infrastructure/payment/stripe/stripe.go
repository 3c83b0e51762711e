// Package stripe authenticates Stripe webhook deliveries and decodes the events the shop acts on.
package stripe

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	dompay "github.com/Zhima-Mochi/coffeeshop/internal/domain/payment"
)

// DefaultTolerance is the accepted clock skew between the signature timestamp and now.
const DefaultTolerance = 5 * time.Minute

type Verifier struct {
	secret    []byte
	tolerance time.Duration
}

func NewVerifier(secret string, tolerance time.Duration) *Verifier {
	if tolerance <= 0 {
		tolerance = DefaultTolerance
	}
	return &Verifier{secret: []byte(secret), tolerance: tolerance}
}

// Verify checks the Stripe-Signature header (t=<unix>,v1=<hex>) against the raw payload, then decodes it.
func (v *Verifier) Verify(payload []byte, header string, now time.Time) (*dompay.Event, error) {
	if len(v.secret) == 0 {
		return nil, fmt.Errorf("%w: webhook secret not configured", dompay.ErrInvalidSignature)
	}

	ts, signatures, err := parseHeader(header)
	if err != nil {
		return nil, err
	}
	if d := now.Sub(time.Unix(ts, 0)); d > v.tolerance || d < -v.tolerance {
		return nil, fmt.Errorf("%w: timestamp outside tolerance", dompay.ErrInvalidSignature)
	}

	expected := v.sign(ts, payload)
	matched := false
	for _, sig := range signatures {
		if hmac.Equal(expected, sig) {
			matched = true
			break
		}
	}
	if !matched {
		return nil, fmt.Errorf("%w: no matching v1 signature", dompay.ErrInvalidSignature)
	}

	return decode(payload)
}

func (v *Verifier) sign(ts int64, payload []byte) []byte {
	mac := hmac.New(sha256.New, v.secret)
	mac.Write([]byte(strconv.FormatInt(ts, 10)))
	mac.Write([]byte("."))
	mac.Write(payload)
	return mac.Sum(nil)
}

// SignatureHeader builds the header Stripe would send for payload at t.
func SignatureHeader(secret string, payload []byte, t time.Time) string {
	v := NewVerifier(secret, 0)
	ts := t.Unix()
	return fmt.Sprintf("t=%d,v1=%s", ts, hex.EncodeToString(v.sign(ts, payload)))
}

func parseHeader(header string) (int64, [][]byte, error) {
	var ts int64
	var sigs [][]byte
	for _, part := range strings.Split(header, ",") {
		k, val, ok := strings.Cut(strings.TrimSpace(part), "=")
		if !ok {
			continue
		}
		switch k {
		case "t":
			n, err := strconv.ParseInt(val, 10, 64)
			if err != nil {
				return 0, nil, fmt.Errorf("%w: bad timestamp", dompay.ErrInvalidSignature)
			}
			ts = n
		case "v1":
			b, err := hex.DecodeString(val)
			if err != nil {
				continue
			}
			sigs = append(sigs, b)
		}
	}
	if ts == 0 || len(sigs) == 0 {
		return 0, nil, fmt.Errorf("%w: header missing t or v1", dompay.ErrInvalidSignature)
	}
	return ts, sigs, nil
}

type event struct {
	ID   string `json:"id"`
	Type string `json:"type"`
	Data struct {
		Object json.RawMessage `json:"object"`
	} `json:"data"`
}

type charge struct {
	Amount         int64             `json:"amount"`
	Metadata       map[string]string `json:"metadata"`
	ReceiptEmail   string            `json:"receipt_email"`
	BillingDetails struct {
		Email string `json:"email"`
	} `json:"billing_details"`
}

func decode(payload []byte) (*dompay.Event, error) {
	var e event
	if err := json.Unmarshal(payload, &e); err != nil {
		return nil, fmt.Errorf("%w: %v", dompay.ErrMalformedEvent, err)
	}
	if e.Type == "" {
		return nil, fmt.Errorf("%w: missing type", dompay.ErrMalformedEvent)
	}

	out := &dompay.Event{ID: e.ID, Type: e.Type}
	if e.Type != dompay.EventChargeSucceeded {
		return out, nil
	}

	var c charge
	if err := json.Unmarshal(e.Data.Object, &c); err != nil {
		return nil, fmt.Errorf("%w: charge object: %v", dompay.ErrMalformedEvent, err)
	}
	email := c.BillingDetails.Email
	if email == "" {
		email = c.ReceiptEmail
	}
	out.Charge = &dompay.ChargeSucceeded{
		EventID:     e.ID,
		ProductID:   c.Metadata["productId"],
		Email:       email,
		AmountMinor: c.Amount,
	}
	return out, nil
}
