// internal/checkout/service.go
package checkout

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/Kena440/wathaci-connect-hub-sub003/internal/ledger"
	"github.com/Kena440/wathaci-connect-hub-sub003/internal/payment"
	"github.com/Kena440/wathaci-connect-hub-sub003/internal/reconciler"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/singleflight"
)

// Input is one user's request to pay.
type Input struct {
	Kind        payment.Kind
	OwnerID     string // empty for anonymous donations
	SubjectID   string // plan, order or campaign id; optional for donations
	Amount      decimal.Decimal
	Method      payment.Method
	Provider    payment.Provider
	Phone       string
	PayerName   string
	PayerEmail  string
	Description string
}

// Outcome is what the user sees once Initiate returns.
type Outcome struct {
	PaymentID   uuid.UUID
	OwnerID     string
	Status      payment.Status
	Breakdown   payment.Breakdown
	Reference   string
	RedirectURL string
	Attempts    int
	Message     string
}

type Calculator interface {
	ForCategory(kind payment.Kind, gross decimal.Decimal) (payment.Breakdown, error)
}

type Ledger interface {
	EnsurePending(ctx context.Context, in ledger.Intent) (*payment.PendingPayment, error)
	AttachReference(ctx context.Context, id uuid.UUID, a ledger.Attachment) (*payment.PendingPayment, error)
	Get(ctx context.Context, id uuid.UUID) (*payment.PendingPayment, error)
}

type Reconciler interface {
	Reconcile(ctx context.Context, id uuid.UUID, progress reconciler.ProgressFunc) (*reconciler.Outcome, error)
}

type Config struct {
	MinAmount     decimal.Decimal
	MaxAmount     decimal.Decimal
	Currency      string
	ChargeTimeout time.Duration
}

func DefaultConfig() Config {
	return Config{
		MinAmount:     decimal.NewFromInt(1),
		MaxAmount:     decimal.NewFromInt(1_000_000),
		Currency:      "ZMW",
		ChargeTimeout: 15 * time.Second,
	}
}

// Service orchestrates one checkout: fees, pending record, charge,
// reference, confirmation.
type Service struct {
	calc       Calculator
	ledger     Ledger
	gateway    payment.Gateway
	reconciler Reconciler
	cfg        Config
	progress   *ProgressHub
	logger     *slog.Logger

	// sf dedupes concurrent checkouts for the same (owner, subject) inside
	// this process; across processes the ledger converges them.
	sf singleflight.Group

	mu      sync.Mutex
	running map[uuid.UUID]context.CancelFunc
	wg      sync.WaitGroup
}

func NewService(calc Calculator, l Ledger, gw payment.Gateway, rec Reconciler, cfg Config, hub *ProgressHub, logger *slog.Logger) *Service {
	if hub == nil {
		hub = NewProgressHub()
	}
	if cfg.ChargeTimeout <= 0 {
		cfg.ChargeTimeout = DefaultConfig().ChargeTimeout
	}
	return &Service{
		calc:       calc,
		ledger:     l,
		gateway:    gw,
		reconciler: rec,
		cfg:        cfg,
		progress:   hub,
		logger:     logger.With(slog.String("component", "checkout")),
		running:    make(map[uuid.UUID]context.CancelFunc),
	}
}

func (s *Service) Progress() *ProgressHub {
	return s.progress
}

type prepared struct {
	pending      *payment.PendingPayment
	instructions string
}

// Initiate runs the whole checkout and blocks until the payment is terminal,
// the confirmation budget runs out or ctx is cancelled. progress may be nil.
func (s *Service) Initiate(ctx context.Context, in Input, progress reconciler.ProgressFunc) (*Outcome, error) {
	in, err := s.normalize(in)
	if err != nil {
		return nil, err
	}

	key := fmt.Sprintf("checkout_%s_%s_%s", in.Kind, in.OwnerID, in.SubjectID)
	v, err, shared := s.sf.Do(key, func() (interface{}, error) {
		return s.run(ctx, in, progress)
	})
	if shared {
		s.logger.Debug("joined in-flight checkout", slog.String("subject_id", in.SubjectID))
	}
	if err != nil {
		return nil, err
	}
	return v.(*Outcome), nil
}

func (s *Service) run(ctx context.Context, in Input, progress reconciler.ProgressFunc) (*Outcome, error) {
	prep, err := s.prepare(ctx, in)
	if err != nil {
		return nil, err
	}
	p := prep.pending
	s.report(progress, p, prep.instructions)

	relay := func(pr reconciler.Progress) {
		pr.Instructions = prep.instructions
		s.progress.Publish(pr)
		if progress != nil {
			progress(pr)
		}
	}
	out, err := s.reconciler.Reconcile(ctx, p.ID, relay)
	s.releaseProgress(p.ID)
	if err != nil {
		return nil, err
	}
	return s.outcome(out.Payment), nil
}

// releaseProgress drops the hub's state for id unless a background task
// started by Start still reports on it.
func (s *Service) releaseProgress(id uuid.UUID) {
	s.mu.Lock()
	_, busy := s.running[id]
	s.mu.Unlock()
	if !busy {
		s.progress.Close(id)
	}
}

// Start runs checkout up to the attached reference and hands confirmation
// to a background task owned by the service, so closing the request does
// not stop it. Use Cancel to stop local polling.
func (s *Service) Start(ctx context.Context, in Input) (*Outcome, error) {
	in, err := s.normalize(in)
	if err != nil {
		return nil, err
	}
	key := fmt.Sprintf("start_%s_%s_%s", in.Kind, in.OwnerID, in.SubjectID)
	v, err, _ := s.sf.Do(key, func() (interface{}, error) {
		return s.prepare(ctx, in)
	})
	if err != nil {
		return nil, err
	}
	prep := v.(*prepared)
	p := prep.pending
	s.report(nil, p, prep.instructions)

	if p.Status.IsTerminal() {
		return s.outcome(p), nil
	}

	s.mu.Lock()
	if _, busy := s.running[p.ID]; busy {
		s.mu.Unlock()
		return s.outcome(p), nil
	}
	bgCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	s.running[p.ID] = cancel
	s.mu.Unlock()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer func() {
			s.mu.Lock()
			delete(s.running, p.ID)
			s.mu.Unlock()
			cancel()
		}()

		relay := func(pr reconciler.Progress) {
			pr.Instructions = prep.instructions
			s.progress.Publish(pr)
		}
		out, err := s.reconciler.Reconcile(bgCtx, p.ID, relay)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				s.logger.Info("confirmation polling cancelled", slog.String("payment_id", p.ID.String()))
			} else {
				s.logger.Error("confirmation stopped", slog.String("payment_id", p.ID.String()), slog.Any("error", err))
			}
			s.progress.Close(p.ID)
			return
		}
		s.progress.Publish(reconciler.Progress{
			PaymentID: out.PaymentID,
			Status:    out.Status,
			Attempt:   out.Attempts,
			Reference: p.GatewayReference,
		})
		s.progress.Close(p.ID)
	}()

	return s.outcome(p), nil
}

// Cancel stops local polling for a payment. The record is left as is; the
// sweeper or a webhook resolves it later.
func (s *Service) Cancel(id uuid.UUID) bool {
	s.mu.Lock()
	cancel, ok := s.running[id]
	s.mu.Unlock()
	if ok {
		cancel()
	}
	return ok
}

// Shutdown cancels background confirmations and waits for them to exit.
func (s *Service) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	for _, cancel := range s.running {
		cancel()
	}
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Service) Get(ctx context.Context, id uuid.UUID) (*Outcome, error) {
	p, err := s.ledger.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	return s.outcome(p), nil
}

// normalize validates input and fills defaults.
func (s *Service) normalize(in Input) (Input, error) {
	var problems []string

	if !in.Kind.Valid() {
		problems = append(problems, "unknown payment kind")
	}
	in.SubjectID = strings.TrimSpace(in.SubjectID)
	if in.SubjectID == "" {
		if in.Kind == payment.KindDonation {
			in.SubjectID = "donation:" + uuid.NewString()
		} else {
			problems = append(problems, "subject is required")
		}
	}
	if in.OwnerID == "" && in.Kind != payment.KindDonation {
		problems = append(problems, "sign in required")
	}
	if in.Amount.LessThan(s.cfg.MinAmount) || in.Amount.GreaterThan(s.cfg.MaxAmount) {
		problems = append(problems, fmt.Sprintf("amount must be between %s and %s",
			s.cfg.MinAmount.StringFixed(2), s.cfg.MaxAmount.StringFixed(2)))
	}
	if strings.TrimSpace(in.PayerName) == "" {
		problems = append(problems, "payer name is required")
	}

	switch in.Method {
	case payment.MethodMobileMoney:
		if !in.Provider.Valid() {
			problems = append(problems, "mobile money provider is required")
		} else if phone, err := payment.NormalizePhone(in.Provider, in.Phone); err != nil {
			problems = append(problems, "phone number does not match the provider")
		} else {
			in.Phone = phone
		}
	case payment.MethodCard:
		in.Provider = ""
		in.Phone = ""
	default:
		problems = append(problems, "payment method is required")
	}

	if len(problems) > 0 {
		return in, fmt.Errorf("%w: %s", payment.ErrValidation, strings.Join(problems, "; "))
	}
	if in.Description == "" {
		in.Description = defaultDescription(in.Kind)
	}
	return in, nil
}

func defaultDescription(k payment.Kind) string {
	switch k {
	case payment.KindSubscription:
		return "Subscription payment"
	case payment.KindOrder:
		return "Marketplace order"
	default:
		return "Donation"
	}
}

// prepare runs everything up to an attached gateway reference.
func (s *Service) prepare(ctx context.Context, in Input) (*prepared, error) {
	// 1. Fees
	breakdown, err := s.calc.ForCategory(in.Kind, in.Amount)
	if err != nil {
		return nil, err
	}

	// 2. Pending record before any network call
	p, err := s.ledger.EnsurePending(ctx, ledger.Intent{
		OwnerID:   in.OwnerID,
		SubjectID: in.SubjectID,
		Kind:      in.Kind,
		Breakdown: breakdown,
		Currency:  s.cfg.Currency,
		Method:    in.Method,
		Provider:  in.Provider,
	})
	if err != nil {
		return nil, err
	}
	log := s.logger.With(slog.String("payment_id", p.ID.String()))

	// Already at the gateway from an earlier attempt: resume confirmation.
	if p.GatewayReference != "" {
		log.Info("resuming payment already sent to gateway", slog.String("reference", p.GatewayReference))
		return &prepared{pending: p, instructions: instructionsFor(p, "")}, nil
	}

	// 3. Charge; the pending id is the idempotency key so a retry can never
	// double charge.
	chargeCtx, cancel := context.WithTimeout(ctx, s.cfg.ChargeTimeout)
	defer cancel()
	result, err := s.gateway.Charge(chargeCtx, payment.ChargeRequest{
		Amount:         p.TotalCharged,
		Currency:       p.Currency,
		Method:         in.Method,
		Provider:       in.Provider,
		Phone:          in.Phone,
		PayerName:      in.PayerName,
		PayerEmail:     in.PayerEmail,
		Description:    in.Description,
		IdempotencyKey: p.ID.String(),
	})
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			err = fmt.Errorf("%w: charge timed out", payment.ErrGatewayUnavailable)
		}
		log.Warn("charge failed, payment stays draft", slog.Any("error", err), slog.Bool("retryable", payment.IsRetryable(err)))
		return nil, err
	}

	// 4. Reference
	p, err = s.ledger.AttachReference(ctx, p.ID, ledger.Attachment{
		Reference:   result.Reference,
		Method:      in.Method,
		Provider:    in.Provider,
		RedirectURL: result.RedirectURL,
	})
	if err != nil {
		log.Error("CRITICAL: charge accepted but reference not recorded",
			slog.String("reference", result.Reference), slog.Any("error", err))
		return nil, err
	}
	return &prepared{pending: p, instructions: instructionsFor(p, result.Instructions)}, nil
}

func instructionsFor(p *payment.PendingPayment, fromGateway string) string {
	if fromGateway != "" {
		return fromGateway
	}
	if p.Method == payment.MethodCard {
		return "Complete the card payment on the secure page."
	}
	return "Check your phone and approve the payment prompt."
}

func (s *Service) report(progress reconciler.ProgressFunc, p *payment.PendingPayment, instructions string) {
	pr := reconciler.Progress{
		PaymentID:    p.ID,
		Status:       p.Status,
		Reference:    p.GatewayReference,
		RedirectURL:  p.RedirectURL,
		Instructions: instructions,
	}
	s.progress.Publish(pr)
	if progress != nil {
		progress(pr)
	}
}

func (s *Service) outcome(p *payment.PendingPayment) *Outcome {
	return &Outcome{
		PaymentID:   p.ID,
		OwnerID:     p.OwnerID,
		Status:      p.Status,
		Breakdown:   p.Breakdown(),
		Reference:   p.GatewayReference,
		RedirectURL: p.RedirectURL,
		Attempts:    p.PollAttempts,
		Message:     StatusMessage(p.Kind, p.Status),
	}
}
