// internal/webhook/hosted.go
package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/Kena440/wathaci-connect-hub-sub003/internal/payment"
)

const SignatureHeader = "X-Gateway-Signature"

type hostedEvent struct {
	EventID   string `json:"event_id"`
	Reference string `json:"reference"`
	Status    string `json:"status"`
	Reason    string `json:"reason"`
}

// HostedProcessor verifies hosted gateway webhooks: the signature header is
// the hex HMAC-SHA256 of the raw body under the shared secret.
type HostedProcessor struct {
	secret []byte
}

func NewHostedProcessor(secret string) *HostedProcessor {
	return &HostedProcessor{secret: []byte(secret)}
}

func (p *HostedProcessor) Provider() string { return "hosted" }

// Sign returns the signature the gateway would send for body.
func (p *HostedProcessor) Sign(body []byte) string {
	mac := hmac.New(sha256.New, p.secret)
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

func (p *HostedProcessor) VerifyAndParse(payload []byte, headers http.Header) (*payment.NormalizedEvent, error) {
	if len(p.secret) == 0 {
		return nil, fmt.Errorf("%w: hosted webhook secret not set", payment.ErrGatewayMisconfigured)
	}
	got, err := hex.DecodeString(strings.TrimSpace(headers.Get(SignatureHeader)))
	if err != nil || len(got) == 0 {
		return nil, ErrInvalidSignature
	}
	want, _ := hex.DecodeString(p.Sign(payload))
	if !hmac.Equal(got, want) {
		return nil, ErrInvalidSignature
	}

	var ev hostedEvent
	if err := json.Unmarshal(payload, &ev); err != nil {
		return nil, fmt.Errorf("%w: malformed hosted webhook body", payment.ErrValidation)
	}
	status := payment.GatewayStatus(strings.ToLower(ev.Status))
	if ev.Reference == "" || !status.Valid() {
		return nil, fmt.Errorf("%w: hosted webhook needs reference and known status", payment.ErrValidation)
	}
	return &payment.NormalizedEvent{
		EventID:   ev.EventID,
		Provider:  p.Provider(),
		Reference: ev.Reference,
		Status:    status,
		Reason:    ev.Reason,
	}, nil
}
