package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"collateral-backend/internal/clients"
	"collateral-backend/internal/metrics"
	"collateral-backend/internal/models"
	"collateral-backend/internal/repository"
	"collateral-backend/internal/utils"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// Sources written on requests resolved without an oracle answer
const (
	SourceFallback = "FALLBACK"
	SourceManual   = "MANUAL"
)

// RiskOracle the external assessment service
type RiskOracle interface {
	QuoteFee(ctx context.Context, engine models.Engine) (decimal.Decimal, error)
	Dispatch(ctx context.Context, assessment *clients.AssessmentRequest) error
}

// CoordinatorConfig request lifecycle settings
type CoordinatorConfig struct {
	TimeoutWindow       time.Duration
	OwnerManualDelay    time.Duration
	MinRatio            int
	MaxRatio            int
	ConfidenceThreshold int
	FixedFee            decimal.Decimal
	UseQuotedFee        bool
	CallbackURL         string
	FeeAsset            string
	DispatchTimeout     time.Duration
}

// CallbackResult outcome of one oracle answer
type CallbackResult struct {
	Request   *models.RiskRequest `json:"request"`
	Position  *models.Position    `json:"position"`
	Deviation string              `json:"deviation,omitempty"`
}

// RiskRequestCoordinator drives requests from submission to a minting decision
type RiskRequestCoordinator struct {
	txm     *TxManager
	repos   repository.Repositories
	ledger  *PositionLedger
	oracle  RiskOracle
	breaker *CircuitBreaker
	access  *AccessControl
	cfg     CoordinatorConfig
	now     func() time.Time
	log     *logrus.Entry
}

// NewRiskRequestCoordinator creates the coordinator
func NewRiskRequestCoordinator(
	txm *TxManager,
	ledger *PositionLedger,
	oracle RiskOracle,
	breaker *CircuitBreaker,
	access *AccessControl,
	cfg CoordinatorConfig,
) *RiskRequestCoordinator {
	if cfg.MinRatio < MinCollateralRatio {
		cfg.MinRatio = MinCollateralRatio
	}
	if cfg.MaxRatio == 0 || cfg.MaxRatio > MaxCollateralRatio {
		cfg.MaxRatio = MaxCollateralRatio
	}
	if cfg.DispatchTimeout <= 0 {
		cfg.DispatchTimeout = 30 * time.Second
	}
	return &RiskRequestCoordinator{
		txm:     txm,
		repos:   txm.Repos(),
		ledger:  ledger,
		oracle:  oracle,
		breaker: breaker,
		access:  access,
		cfg:     cfg,
		now:     time.Now,
		log:     logrus.WithField("component", "risk_request_coordinator"),
	}
}

// SetClock overrides the coordinator clock
func (c *RiskRequestCoordinator) SetClock(now func() time.Time) {
	c.now = now
}

// Breaker exposes the circuit breaker for status and reset
func (c *RiskRequestCoordinator) Breaker() *CircuitBreaker {
	return c.breaker
}

func (c *RiskRequestCoordinator) run(ctx context.Context, tx *Tx, fn func(tx *Tx) error) error {
	if tx != nil {
		return fn(tx)
	}
	return c.txm.Do(ctx, fn)
}

// Submit opens a request for a position with nothing pending. With the breaker open the
// position is finalized at once at the floor ratio and no fee is taken. Otherwise the fee is
// charged from feePayment and the oracle is called after the unit of work commits.
func (c *RiskRequestCoordinator) Submit(ctx context.Context, tx *Tx, position *models.Position, engine models.Engine, feePayment decimal.Decimal) (*models.RiskRequest, error) {
	if position == nil {
		return nil, ErrPositionNotFound
	}
	if _, ok := models.ParseEngine(string(engine)); !ok {
		return nil, fmt.Errorf("%q: %w", engine, ErrInvalidEngine)
	}
	if feePayment.IsNegative() {
		return nil, fmt.Errorf("fee payment %s: %w", feePayment, ErrInvalidAmount)
	}

	// test-only engine never reaches the oracle and stays out of the breaker
	dispatch := engine == models.EngineTestTimeout || c.breaker.Allow()
	trial := dispatch && engine != models.EngineTestTimeout
	fee := decimal.Zero
	if dispatch {
		fee = c.quoteFee(ctx, engine)
		if feePayment.LessThan(fee) {
			if trial {
				c.breaker.CancelTrial()
			}
			return nil, fmt.Errorf("fee %s, paid %s: %w", fee, feePayment, ErrInsufficientFee)
		}
	}

	var request *models.RiskRequest
	err := c.run(ctx, tx, func(tx *Tx) error {
		current, err := getPosition(ctx, tx.Repos, position.ID)
		if err != nil {
			return err
		}
		if current.HasPendingRequest || current.CollateralRatio != 0 || current.WithdrawnAt != nil {
			return fmt.Errorf("position %d is not awaiting a request: %w", current.ID, ErrInvalidPosition)
		}

		vault, _, err := tx.Repos.GlobalConfig.Get(ctx, models.ConfigKeyVault)
		if err != nil {
			return err
		}
		digest, err := utils.BasketDigest(current.Basket.Tokens(), current.Basket.Amounts())
		if err != nil {
			return err
		}

		request = &models.RiskRequest{
			User:               current.Owner,
			PositionID:         current.ID,
			VaultRef:           vault,
			BasketDigest:       digest,
			CollateralValueUSD: current.TotalValueUSD,
			Engine:             engine,
			FeeCharged:         fee,
			SubmittedAt:        c.now(),
			Outcome:            models.OutcomePending,
		}
		if err := tx.Repos.Requests.Create(ctx, request); err != nil {
			return fmt.Errorf("failed to create risk request: %w", err)
		}
		if err := c.ledger.WithTx(tx).AttachRequest(ctx, current.ID, request.ID); err != nil {
			return err
		}
		if fee.IsPositive() {
			if vault == "" {
				return ErrVaultNotSet
			}
			if err := tx.Repos.Custody.Lock(ctx, vault, models.FeeAccount, c.cfg.FeeAsset, fee); err != nil {
				return fmt.Errorf("failed to collect oracle fee: %w", err)
			}
		}
		if err := tx.Record(ctx, "request.submitted", current.Owner, requestSubject(request.ID), map[string]interface{}{
			"request_id":    request.ID,
			"position_id":   current.ID,
			"engine":        engine,
			"fee_charged":   fee.String(),
			"basket_digest": digest,
			"dispatched":    dispatch,
		}); err != nil {
			return err
		}

		if !dispatch {
			_, err := c.resolve(ctx, tx, request, current, resolution{
				ratio:     c.cfg.MinRatio,
				outcome:   models.OutcomeFallback,
				source:    SourceFallback,
				deviation: "circuit breaker open",
			})
			return err
		}

		if engine != models.EngineTestTimeout {
			assessment := &clients.AssessmentRequest{
				RequestID:    request.ID,
				BasketDigest: digest,
				ValueHintUSD: current.TotalValueUSD.String(),
				Engine:       engine,
				CallbackURL:  c.cfg.CallbackURL,
			}
			tx.AfterCommit(func() { c.dispatch(assessment) })
		}
		return nil
	})
	if err != nil {
		if trial {
			c.breaker.CancelTrial()
		}
		return nil, err
	}

	metrics.RiskRequestsSubmitted.WithLabelValues(string(engine)).Inc()
	c.log.WithFields(logrus.Fields{
		"request_id":  request.ID,
		"position_id": request.PositionID,
		"engine":      engine,
		"fee":         fee.String(),
		"dispatched":  dispatch,
	}).Info("📤 Risk request submitted")
	return request, nil
}

// OnCallback applies an oracle answer. A malformed, out-of-band or low-confidence answer
// finalizes at the floor ratio instead of failing.
func (c *RiskRequestCoordinator) OnCallback(ctx context.Context, requestID uint64, payload string) (*CallbackResult, error) {
	parsed, parseErr := ParseOracleResponse(payload)

	res := resolution{outcome: models.OutcomeOracle}
	reason := ""
	switch {
	case parseErr != nil:
		reason = "malformed"
		res.deviation = fmt.Sprintf("malformed response: %v", parseErr)
	case parsed.Ratio < c.cfg.MinRatio || parsed.Ratio > c.cfg.MaxRatio:
		reason = "out_of_band"
		res.deviation = fmt.Sprintf("ratio %d outside [%d, %d]", parsed.Ratio, c.cfg.MinRatio, c.cfg.MaxRatio)
	case parsed.Confidence < c.cfg.ConfidenceThreshold:
		reason = "low_confidence"
		res.deviation = fmt.Sprintf("confidence %d below %d", parsed.Confidence, c.cfg.ConfidenceThreshold)
	}

	if parsed != nil {
		res.confidence = parsed.Confidence
		res.source = parsed.Source
		res.ratio = parsed.Ratio
	}
	if reason != "" {
		res.ratio = c.cfg.MinRatio
		res.outcome = models.OutcomeFallback
		if res.source == "" {
			res.source = SourceFallback
		}
	}

	var engine models.Engine
	result, err := c.finalizeRequest(ctx, requestID, res, func(ctx context.Context, tx *Tx, request *models.RiskRequest) error {
		engine = request.Engine
		if reason == "" {
			return nil
		}
		return tx.Record(ctx, "oracle.deviation", request.User, requestSubject(request.ID), map[string]interface{}{
			"request_id": request.ID,
			"payload":    payload,
			"reason":     reason,
			"detail":     res.deviation,
		})
	})
	if err != nil && !errors.Is(err, ErrNoPendingRequest) {
		return nil, err
	}

	testRequest := engine == models.EngineTestTimeout
	if reason == "" {
		if !testRequest {
			c.breaker.RecordSuccess()
		}
	} else {
		if !testRequest {
			c.breaker.RecordFailure()
		}
		metrics.OracleDeviations.WithLabelValues(reason).Inc()
		c.log.WithFields(logrus.Fields{
			"request_id": requestID,
			"reason":     reason,
			"payload":    payload,
		}).Warn("⚠️ Oracle response coerced to floor ratio")
	}
	if err != nil {
		return nil, err
	}
	return result, nil
}

// RequestManualProcessing lets the owner flag a request the oracle never answered
func (c *RiskRequestCoordinator) RequestManualProcessing(ctx context.Context, caller string, requestID uint64) (*models.RiskRequest, error) {
	var request *models.RiskRequest
	newlyTimedOut := false
	err := c.txm.Do(ctx, func(tx *Tx) error {
		var err error
		if request, err = getRequest(ctx, tx.Repos, requestID); err != nil {
			return err
		}
		if !sameAddress(request.User, caller) {
			return fmt.Errorf("caller is not the request owner: %w", ErrUnauthorized)
		}
		if request.Processed {
			return fmt.Errorf("request %d: %w", requestID, ErrAlreadyProcessed)
		}
		now := c.now()
		if now.Sub(request.SubmittedAt) <= c.cfg.TimeoutWindow {
			return fmt.Errorf("request %d is inside its timeout window: %w", requestID, ErrNotYetEligible)
		}
		if request.ManualProcessingRequested {
			return nil
		}
		ok, err := tx.Repos.Requests.MarkManualRequested(ctx, requestID, now)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("request %d: %w", requestID, ErrAlreadyProcessed)
		}
		newlyTimedOut = !request.TimedOut
		request.ManualProcessingRequested = true
		request.ManualRequestedAt = &now
		request.TimedOut = true
		return tx.Record(ctx, "request.manual_requested", request.User, requestSubject(requestID), map[string]interface{}{
			"request_id": requestID,
		})
	})
	if err != nil {
		return nil, err
	}
	// the sweeper skips requests already flagged here, so the timeout is counted now
	if newlyTimedOut {
		metrics.RiskRequestsTimedOut.Inc()
		if countsAgainstBreaker(request) {
			c.breaker.RecordFailure()
		}
	}
	return request, nil
}

// ProcessManually resolves an unanswered request. Operators may act once the timeout window
// has passed; the owner only after asking and waiting the owner delay.
func (c *RiskRequestCoordinator) ProcessManually(ctx context.Context, caller string, requestID uint64, ratio int, source string) (*CallbackResult, error) {
	if source == "" {
		source = SourceManual
	}
	res := resolution{
		ratio:   ratio,
		outcome: models.OutcomeManual,
		source:  source,
	}
	if ratio < c.cfg.MinRatio || ratio > c.cfg.MaxRatio {
		res.deviation = fmt.Sprintf("manual ratio %d coerced to %d", ratio, c.cfg.MinRatio)
		res.ratio = c.cfg.MinRatio
	}

	return c.finalizeRequest(ctx, requestID, res, func(ctx context.Context, tx *Tx, request *models.RiskRequest) error {
		now := c.now()
		operator, err := c.access.operatorIn(ctx, tx.Repos, caller)
		if err != nil {
			return err
		}
		switch {
		case operator:
			if now.Sub(request.SubmittedAt) <= c.cfg.TimeoutWindow {
				return fmt.Errorf("request %d is inside its timeout window: %w", requestID, ErrNotYetEligible)
			}
		case sameAddress(request.User, caller):
			if !request.ManualProcessingRequested || request.ManualRequestedAt == nil {
				return fmt.Errorf("manual processing was not requested: %w", ErrNotYetEligible)
			}
			if now.Before(request.ManualRequestedAt.Add(c.cfg.OwnerManualDelay)) {
				return fmt.Errorf("owner delay has not passed: %w", ErrNotYetEligible)
			}
		default:
			return fmt.Errorf("caller may not process request %d: %w", requestID, ErrUnauthorized)
		}
		return tx.Record(ctx, "request.processed_manually", caller, requestSubject(requestID), map[string]interface{}{
			"request_id":      requestID,
			"requested_ratio": ratio,
			"applied_ratio":   res.ratio,
			"source":          source,
		})
	})
}

// GetRequest returns one request
func (c *RiskRequestCoordinator) GetRequest(ctx context.Context, requestID uint64) (*models.RiskRequest, error) {
	return getRequest(ctx, c.repos, requestID)
}

// RequestsOf lists a user's requests
func (c *RiskRequestCoordinator) RequestsOf(ctx context.Context, user string) ([]*models.RiskRequest, error) {
	addr, err := validateAddress(user)
	if err != nil {
		return nil, err
	}
	return c.repos.Requests.FindByUser(ctx, addr)
}

// ResetBreaker closes the circuit breaker; operators only
func (c *RiskRequestCoordinator) ResetBreaker(ctx context.Context, caller string) error {
	if err := c.access.RequireOperator(ctx, caller); err != nil {
		return err
	}
	c.breaker.Reset()
	return c.txm.Do(ctx, func(tx *Tx) error {
		return tx.Record(ctx, "breaker.reset", caller, "circuit_breaker", map[string]interface{}{})
	})
}

type resolution struct {
	ratio      int
	confidence int
	outcome    models.RequestOutcome
	source     string
	deviation  string
}

// finalizeRequest resolves requestID once. guard runs inside the unit of work before any write.
// A request whose position already left through withdrawal is closed as abandoned and
// ErrNoPendingRequest is returned after the close commits.
func (c *RiskRequestCoordinator) finalizeRequest(
	ctx context.Context,
	requestID uint64,
	res resolution,
	guard func(ctx context.Context, tx *Tx, request *models.RiskRequest) error,
) (*CallbackResult, error) {
	var result *CallbackResult
	abandoned := false

	err := c.txm.Do(ctx, func(tx *Tx) error {
		request, err := getRequest(ctx, tx.Repos, requestID)
		if err != nil {
			return err
		}
		if request.Processed {
			return fmt.Errorf("request %d: %w", requestID, ErrAlreadyProcessed)
		}
		if guard != nil {
			if err := guard(ctx, tx, request); err != nil {
				return err
			}
		}
		position, err := getPosition(ctx, tx.Repos, request.PositionID)
		if err != nil {
			return err
		}

		if !position.HasPendingRequest || position.RequestID != request.ID || position.WithdrawnAt != nil {
			abandoned = true
			return c.abandon(ctx, tx, request)
		}
		result, err = c.resolve(ctx, tx, request, position, res)
		return err
	})
	if err != nil {
		return nil, err
	}
	if abandoned {
		return nil, fmt.Errorf("position of request %d was withdrawn: %w", requestID, ErrNoPendingRequest)
	}
	return result, nil
}

// resolve marks the request processed, finalizes the position and mints to its owner
func (c *RiskRequestCoordinator) resolve(ctx context.Context, tx *Tx, request *models.RiskRequest, position *models.Position, res resolution) (*CallbackResult, error) {
	now := c.now()
	ok, err := tx.Repos.Requests.MarkProcessed(ctx, request.ID, repository.ProcessResult{
		Outcome:    res.outcome,
		Ratio:      res.ratio,
		Confidence: res.confidence,
		Source:     res.source,
		Deviation:  res.deviation,
		At:         now,
	})
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("request %d: %w", request.ID, ErrAlreadyProcessed)
	}

	minted := MintAmount(position.TotalValueUSD, res.ratio)
	finalized, err := c.ledger.WithTx(tx).finalize(ctx, position.ID, request.ID, res.ratio, minted)
	if err != nil {
		return nil, err
	}
	if minted.IsPositive() {
		if err := tx.Repos.Tokens.Credit(ctx, position.Owner, minted); err != nil {
			return nil, fmt.Errorf("failed to mint to %s: %w", position.Owner, err)
		}
	}
	if err := tx.Record(ctx, "request.processed", request.User, requestSubject(request.ID), map[string]interface{}{
		"request_id":    request.ID,
		"position_id":   position.ID,
		"outcome":       res.outcome,
		"ratio":         res.ratio,
		"confidence":    res.confidence,
		"source":        res.source,
		"minted_amount": minted.String(),
	}); err != nil {
		return nil, err
	}

	request.Processed = true
	request.ProcessedAt = &now
	request.Outcome = res.outcome
	request.Ratio = res.ratio
	request.Confidence = res.confidence
	request.Source = res.source
	request.Deviation = res.deviation

	tx.AfterCommit(func() {
		metrics.RiskRequestsResolved.WithLabelValues(string(res.outcome)).Inc()
		mintedF, _ := minted.Float64()
		metrics.TokensMinted.Add(mintedF)
		c.log.WithFields(logrus.Fields{
			"request_id":  request.ID,
			"position_id": position.ID,
			"ratio":       res.ratio,
			"outcome":     res.outcome,
			"minted":      finalized.MintedAmount.String(),
		}).Info("✅ Risk request resolved")
	})
	return &CallbackResult{Request: request, Position: finalized, Deviation: res.deviation}, nil
}

func (c *RiskRequestCoordinator) abandon(ctx context.Context, tx *Tx, request *models.RiskRequest) error {
	ok, err := tx.Repos.Requests.MarkProcessed(ctx, request.ID, repository.ProcessResult{
		Outcome:   models.OutcomeAbandoned,
		Deviation: "position withdrawn before resolution",
		At:        c.now(),
	})
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("request %d: %w", request.ID, ErrAlreadyProcessed)
	}
	tx.AfterCommit(func() {
		metrics.RiskRequestsResolved.WithLabelValues(string(models.OutcomeAbandoned)).Inc()
	})
	return tx.Record(ctx, "request.abandoned", request.User, requestSubject(request.ID), map[string]interface{}{
		"request_id":  request.ID,
		"position_id": request.PositionID,
	})
}

func (c *RiskRequestCoordinator) quoteFee(ctx context.Context, engine models.Engine) decimal.Decimal {
	if engine == models.EngineTestTimeout || !c.cfg.UseQuotedFee || c.oracle == nil {
		return c.cfg.FixedFee
	}
	quoteCtx, cancel := context.WithTimeout(ctx, c.cfg.DispatchTimeout)
	defer cancel()
	fee, err := c.oracle.QuoteFee(quoteCtx, engine)
	if err != nil {
		c.log.WithError(err).Warn("⚠️ Fee quote failed, using fixed fee")
		return c.cfg.FixedFee
	}
	return fee
}

// dispatch runs after commit. A failed call leaves the request to the timeout path.
func (c *RiskRequestCoordinator) dispatch(assessment *clients.AssessmentRequest) {
	if c.oracle == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), c.cfg.DispatchTimeout)
	defer cancel()

	start := time.Now()
	err := c.oracle.Dispatch(ctx, assessment)
	metrics.OracleDispatchDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		c.breaker.RecordFailure()
		c.log.WithError(err).WithField("request_id", assessment.RequestID).Error("❌ Oracle dispatch failed")
		c.markDispatchFailed(assessment.RequestID, err)
		return
	}
	c.log.WithField("request_id", assessment.RequestID).Debug("📨 Oracle assessment dispatched")
}

// markDispatchFailed flags the request so its later timeout is not counted twice
func (c *RiskRequestCoordinator) markDispatchFailed(requestID uint64, cause error) {
	ctx := context.Background()
	err := c.txm.Do(ctx, func(tx *Tx) error {
		ok, err := tx.Repos.Requests.MarkDispatchFailed(ctx, requestID)
		if err != nil || !ok {
			return err
		}
		request, err := getRequest(ctx, tx.Repos, requestID)
		if err != nil {
			return err
		}
		return tx.Record(ctx, "request.dispatch_failed", request.User, requestSubject(requestID), map[string]interface{}{
			"request_id": requestID,
			"error":      cause.Error(),
		})
	})
	if err != nil {
		c.log.WithError(err).WithField("request_id", requestID).Error("❌ Failed to flag undispatched request")
	}
}

// MintAmount value * 100 / ratio, truncated to 18 decimals
func MintAmount(valueUSD decimal.Decimal, ratio int) decimal.Decimal {
	if ratio <= 0 {
		return decimal.Zero
	}
	q, _ := valueUSD.Mul(decimal.NewFromInt(100)).QuoRem(decimal.NewFromInt(int64(ratio)), utils.TokenDecimals)
	return q
}

func getRequest(ctx context.Context, repos repository.Repositories, id uint64) (*models.RiskRequest, error) {
	request, err := repos.Requests.GetByID(ctx, id)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("request %d: %w", id, ErrRequestNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load request %d: %w", id, err)
	}
	return request, nil
}

func requestSubject(id uint64) string {
	return fmt.Sprintf("request:%d", id)
}
