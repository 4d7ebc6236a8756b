package services

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"collateral-backend/internal/metrics"
	"collateral-backend/internal/models"
	"collateral-backend/internal/repository"
	"collateral-backend/internal/utils"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

// BridgeTransport hands envelopes to the peer domain
type BridgeTransport interface {
	PublishEnvelope(ctx context.Context, env *models.BridgeEnvelope) error
}

// FeeSchedule fee = Base + PerByte * len(payload)
type FeeSchedule struct {
	Base    decimal.Decimal
	PerByte decimal.Decimal
}

// BridgeConfig bridge settings
type BridgeConfig struct {
	LocalDomain  uint64
	LocalAddress string
	NativeAsset  string // custody asset NATIVE fees are collected under
	Fees         map[models.FeeCurrency]FeeSchedule
	RelayBatch   int
}

// BridgeService burns locally, relays an authenticated envelope, mints on receipt
type BridgeService struct {
	txm       *TxManager
	repos     repository.Repositories
	access    *AccessControl
	transport BridgeTransport
	cfg       BridgeConfig
	log       *logrus.Entry
}

// NewBridgeService creates the bridge
func NewBridgeService(txm *TxManager, access *AccessControl, transport BridgeTransport, cfg BridgeConfig) *BridgeService {
	if cfg.RelayBatch <= 0 {
		cfg.RelayBatch = 50
	}
	if addr := utils.NormalizeAddress(cfg.LocalAddress); addr != "" {
		cfg.LocalAddress = addr
	}
	if addr := utils.NormalizeAddress(cfg.NativeAsset); addr != "" {
		cfg.NativeAsset = addr
	}
	return &BridgeService{
		txm:       txm,
		repos:     txm.Repos(),
		access:    access,
		transport: transport,
		cfg:       cfg,
		log:       logrus.WithField("component", "bridge"),
	}
}

// LocalDomain domain this instance mints on
func (b *BridgeService) LocalDomain() uint64 {
	return b.cfg.LocalDomain
}

// CalculateFees quotes a send without side effects
func (b *BridgeService) CalculateFees(ctx context.Context, destinationDomain uint64, recipient string, amount decimal.Decimal, currency models.FeeCurrency) (decimal.Decimal, error) {
	if _, err := b.usableRoute(ctx, b.repos, destinationDomain); err != nil {
		return decimal.Zero, err
	}
	addr, err := validateAddress(recipient)
	if err != nil {
		return decimal.Zero, err
	}
	if err := validateWireAmount(amount); err != nil {
		return decimal.Zero, err
	}
	payload, err := utils.EncodeBridgePayload(addr, amount)
	if err != nil {
		return decimal.Zero, err
	}
	return b.fee(currency, payload)
}

// validateWireAmount rejects amounts the uint256 payload cannot carry exactly
func validateWireAmount(amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return fmt.Errorf("amount %s: %w", amount, ErrInvalidAmount)
	}
	if !amount.Equal(amount.Truncate(utils.TokenDecimals)) {
		return fmt.Errorf("amount %s exceeds %d decimals: %w", amount, utils.TokenDecimals, ErrInvalidAmount)
	}
	return nil
}

func (b *BridgeService) fee(currency models.FeeCurrency, payload []byte) (decimal.Decimal, error) {
	if currency == "" {
		currency = models.FeeCurrencyNative
	}
	if currency != models.FeeCurrencyNative && currency != models.FeeCurrencyFeeToken {
		return decimal.Zero, fmt.Errorf("fee currency %q: %w", currency, ErrInvalidAmount)
	}
	schedule := b.cfg.Fees[currency]
	return schedule.Base.Add(schedule.PerByte.Mul(decimal.NewFromInt(int64(len(payload))))), nil
}

// Send burns amount from sender and records an outbound message. The envelope is published
// after commit; on publish failure the message stays pending_relay for the relay loop.
func (b *BridgeService) Send(ctx context.Context, sender string, destinationDomain uint64, recipient string, amount decimal.Decimal, currency models.FeeCurrency) (*models.BridgeMessage, error) {
	from, err := validateAddress(sender)
	if err != nil {
		return nil, fmt.Errorf("sender: %w", err)
	}
	to, err := validateAddress(recipient)
	if err != nil {
		return nil, fmt.Errorf("recipient: %w", err)
	}
	if err := validateWireAmount(amount); err != nil {
		return nil, err
	}
	if currency == "" {
		currency = models.FeeCurrencyNative
	}

	var msg *models.BridgeMessage
	var env *models.BridgeEnvelope
	err = b.txm.Do(ctx, func(tx *Tx) error {
		if _, err := b.usableRoute(ctx, tx.Repos, destinationDomain); err != nil {
			return err
		}
		router, _, err := tx.Repos.GlobalConfig.Get(ctx, models.ConfigKeyBridgeRouter)
		if err != nil {
			return err
		}
		if router == "" {
			return ErrRouterNotSet
		}
		feeAsset := b.cfg.NativeAsset
		if currency == models.FeeCurrencyFeeToken {
			feeToken, _, err := tx.Repos.GlobalConfig.Get(ctx, models.ConfigKeyBridgeFeeToken)
			if err != nil {
				return err
			}
			if feeToken == "" {
				return fmt.Errorf("fee token not set: %w", ErrZeroAddress)
			}
			feeAsset = feeToken
		}

		balance, err := tx.Repos.Tokens.BalanceOf(ctx, from)
		if err != nil {
			return err
		}
		if balance.LessThan(amount) {
			return fmt.Errorf("balance %s, sending %s: %w", balance, amount, ErrInsufficientBalance)
		}

		payload, err := utils.EncodeBridgePayload(to, amount)
		if err != nil {
			return err
		}
		fee, err := b.fee(currency, payload)
		if err != nil {
			return err
		}
		nonce, err := nextNonce(ctx, tx.Repos)
		if err != nil {
			return err
		}
		messageID, err := utils.BridgeMessageID(b.cfg.LocalDomain, destinationDomain, nonce, payload)
		if err != nil {
			return err
		}

		if err := tx.Repos.Tokens.Debit(ctx, from, amount); err != nil {
			if errors.Is(err, repository.ErrBalanceTooLow) {
				return fmt.Errorf("burn %s: %w", amount, ErrInsufficientBalance)
			}
			return err
		}
		if fee.IsPositive() {
			vault, _, err := tx.Repos.GlobalConfig.Get(ctx, models.ConfigKeyVault)
			if err != nil {
				return err
			}
			if vault == "" {
				return ErrVaultNotSet
			}
			if err := tx.Repos.Custody.Lock(ctx, vault, models.FeeAccount, feeAsset, fee); err != nil {
				return fmt.Errorf("failed to collect bridge fee: %w", err)
			}
		}

		msg = &models.BridgeMessage{
			MessageID:         messageID,
			Direction:         models.DirectionOutbound,
			Nonce:             nonce,
			SourceDomain:      b.cfg.LocalDomain,
			DestinationDomain: destinationDomain,
			Sender:            from,
			Recipient:         to,
			Amount:            amount,
			FeeCurrency:       currency,
			FeeAmount:         fee,
			Payload:           hexutil.Encode(payload),
			Status:            models.RelayStatusPending,
		}
		if err := tx.Repos.Bridge.CreateMessage(ctx, msg); err != nil {
			return fmt.Errorf("failed to record outbound message: %w", err)
		}
		env = b.envelope(msg, router)
		return tx.Record(ctx, "bridge.sent", from, messageID, map[string]interface{}{
			"message_id":         messageID,
			"destination_domain": destinationDomain,
			"recipient":          to,
			"amount":             amount.String(),
			"fee_currency":       currency,
			"fee_amount":         fee.String(),
		})
	})
	if err != nil {
		metrics.BridgeMessages.WithLabelValues(string(models.DirectionOutbound), "rejected").Inc()
		return nil, err
	}

	b.log.WithFields(logrus.Fields{
		"message_id":  msg.MessageID,
		"destination": destinationDomain,
		"amount":      amount.String(),
	}).Info("🌉 Bridge message burned")

	if err := b.publish(ctx, msg, env); err == nil {
		msg.Status = models.RelayStatusRelayed
		msg.RelayAttempts++
	}
	return msg, nil
}

// Receive authenticates an inbound envelope and mints to its recipient exactly once
func (b *BridgeService) Receive(ctx context.Context, env *models.BridgeEnvelope) (*models.BridgeMessage, error) {
	if env == nil {
		return nil, ErrInvalidAmount
	}
	var msg *models.BridgeMessage
	err := b.txm.Do(ctx, func(tx *Tx) error {
		router, _, err := tx.Repos.GlobalConfig.Get(ctx, models.ConfigKeyBridgeRouter)
		if err != nil {
			return err
		}
		if router == "" {
			return ErrRouterNotSet
		}
		if !sameAddress(router, env.Router) {
			return fmt.Errorf("envelope router %s: %w", env.Router, ErrInvalidRouter)
		}
		route, err := tx.Repos.Bridge.GetRoute(ctx, env.SourceDomain)
		if err != nil {
			return err
		}
		if route == nil || route.TrustedSender == "" || !sameAddress(route.TrustedSender, env.SenderAddress) {
			return fmt.Errorf("sender %s from domain %d: %w", env.SenderAddress, env.SourceDomain, ErrUntrustedSource)
		}
		if env.DestinationDomain != b.cfg.LocalDomain {
			return fmt.Errorf("envelope for domain %d delivered to %d: %w", env.DestinationDomain, b.cfg.LocalDomain, ErrChainNotSupported)
		}
		seen, err := tx.Repos.Bridge.GetMessage(ctx, env.MessageID)
		if err != nil {
			return err
		}
		if seen != nil {
			return fmt.Errorf("message %s: %w", env.MessageID, ErrDuplicateMessage)
		}

		payload, err := hexutil.Decode(env.Payload)
		if err != nil {
			return fmt.Errorf("payload is not hex: %v: %w", err, ErrInvalidAmount)
		}
		recipient, amount, err := utils.DecodeBridgePayload(payload)
		if err != nil {
			return fmt.Errorf("%v: %w", err, ErrInvalidAmount)
		}
		if recipient == "" || utils.IsZeroAddress(recipient) {
			return ErrZeroAddress
		}
		if !amount.IsPositive() {
			return ErrInvalidAmount
		}

		msg = &models.BridgeMessage{
			MessageID:         env.MessageID,
			Direction:         models.DirectionInbound,
			Nonce:             env.Nonce,
			SourceDomain:      env.SourceDomain,
			DestinationDomain: env.DestinationDomain,
			Sender:            utils.NormalizeAddress(env.SenderAddress),
			Recipient:         recipient,
			Amount:            amount,
			FeeAmount:         decimal.Zero,
			Payload:           env.Payload,
			Status:            models.RelayStatusReceived,
		}
		if err := tx.Repos.Bridge.CreateMessage(ctx, msg); err != nil {
			return fmt.Errorf("failed to record inbound message: %w", err)
		}
		if err := tx.Repos.Tokens.Credit(ctx, recipient, amount); err != nil {
			return fmt.Errorf("failed to mint to %s: %w", recipient, err)
		}
		return tx.Record(ctx, "bridge.received", recipient, env.MessageID, map[string]interface{}{
			"message_id":    env.MessageID,
			"source_domain": env.SourceDomain,
			"recipient":     recipient,
			"amount":        amount.String(),
		})
	})
	if err != nil {
		result := "rejected"
		if errors.Is(err, ErrDuplicateMessage) {
			result = "duplicate"
		}
		metrics.BridgeMessages.WithLabelValues(string(models.DirectionInbound), result).Inc()
		b.log.WithError(err).WithFields(logrus.Fields{
			"message_id":    env.MessageID,
			"source_domain": env.SourceDomain,
		}).Warn("⚠️ Bridge envelope rejected")
		return nil, err
	}

	metrics.BridgeMessages.WithLabelValues(string(models.DirectionInbound), "minted").Inc()
	amountF, _ := msg.Amount.Float64()
	metrics.TokensMinted.Add(amountF)
	b.log.WithFields(logrus.Fields{
		"message_id": msg.MessageID,
		"recipient":  msg.Recipient,
		"amount":     msg.Amount.String(),
	}).Info("🌉 Bridge message minted")
	return msg, nil
}

// RelayPending re-publishes outbound messages whose first publish failed
func (b *BridgeService) RelayPending(ctx context.Context) (int, error) {
	pending, err := b.repos.Bridge.FindPendingRelay(ctx, b.cfg.RelayBatch)
	if err != nil {
		return 0, fmt.Errorf("failed to list pending relay: %w", err)
	}
	metrics.BridgePendingRelay.Set(float64(len(pending)))
	if len(pending) == 0 {
		return 0, nil
	}
	router, _, err := b.repos.GlobalConfig.Get(ctx, models.ConfigKeyBridgeRouter)
	if err != nil {
		return 0, err
	}

	relayed := 0
	for _, msg := range pending {
		if err := b.publish(ctx, msg, b.envelope(msg, router)); err == nil {
			relayed++
		}
	}
	return relayed, nil
}

// Message returns one logged message
func (b *BridgeService) Message(ctx context.Context, messageID string) (*models.BridgeMessage, error) {
	return b.repos.Bridge.GetMessage(ctx, messageID)
}

// Routes lists configured routes
func (b *BridgeService) Routes(ctx context.Context) ([]*models.BridgeRoute, error) {
	return b.repos.Bridge.ListRoutes(ctx)
}

// SetRoute enables or disables the route to domain
func (b *BridgeService) SetRoute(ctx context.Context, caller string, domain uint64, enabled bool) error {
	if domain == 0 || domain == b.cfg.LocalDomain {
		return fmt.Errorf("domain %d: %w", domain, ErrChainNotSupported)
	}
	return b.admin(ctx, caller, "bridge.route_set", func(tx *Tx) (map[string]interface{}, error) {
		route, err := b.routeForUpdate(ctx, tx, domain)
		if err != nil {
			return nil, err
		}
		route.Enabled = enabled
		route.UpdatedBy = utils.NormalizeAddress(caller)
		if err := tx.Repos.Bridge.SaveRoute(ctx, route); err != nil {
			return nil, err
		}
		return map[string]interface{}{"domain": domain, "enabled": enabled}, nil
	})
}

// SetTrustedPeer registers the only sender accepted from domain
func (b *BridgeService) SetTrustedPeer(ctx context.Context, caller string, domain uint64, peer string) error {
	addr, err := validateAddress(peer)
	if err != nil {
		return err
	}
	if domain == 0 || domain == b.cfg.LocalDomain {
		return fmt.Errorf("domain %d: %w", domain, ErrChainNotSupported)
	}
	return b.admin(ctx, caller, "bridge.peer_set", func(tx *Tx) (map[string]interface{}, error) {
		route, err := b.routeForUpdate(ctx, tx, domain)
		if err != nil {
			return nil, err
		}
		previous := route.TrustedSender
		route.TrustedSender = addr
		route.UpdatedBy = utils.NormalizeAddress(caller)
		if err := tx.Repos.Bridge.SaveRoute(ctx, route); err != nil {
			return nil, err
		}
		return map[string]interface{}{"domain": domain, "trusted_sender": addr, "previous": previous}, nil
	})
}

// SetRouter sets the transport router identity checked on every envelope
func (b *BridgeService) SetRouter(ctx context.Context, caller, router string) error {
	addr, err := validateAddress(router)
	if err != nil {
		return err
	}
	return b.setConfig(ctx, caller, "bridge.router_set", models.ConfigKeyBridgeRouter, addr)
}

// SetFeeToken sets the token accepted for FEE_TOKEN fees
func (b *BridgeService) SetFeeToken(ctx context.Context, caller, token string) error {
	addr, err := validateAddress(token)
	if err != nil {
		return err
	}
	return b.setConfig(ctx, caller, "bridge.fee_token_set", models.ConfigKeyBridgeFeeToken, addr)
}

// Bootstrap seeds the router and fee token from configuration when none is stored
func (b *BridgeService) Bootstrap(ctx context.Context, router, feeToken string) error {
	return b.txm.Do(ctx, func(tx *Tx) error {
		for key, value := range map[string]string{
			models.ConfigKeyBridgeRouter:   router,
			models.ConfigKeyBridgeFeeToken: feeToken,
		} {
			addr := utils.NormalizeAddress(value)
			if addr == "" {
				continue
			}
			_, found, err := tx.Repos.GlobalConfig.Get(ctx, key)
			if err != nil {
				return err
			}
			if found {
				continue
			}
			if err := tx.Repos.GlobalConfig.Set(ctx, key, addr, "bootstrap", ""); err != nil {
				return err
			}
		}
		return nil
	})
}

func (b *BridgeService) setConfig(ctx context.Context, caller, kind, key, value string) error {
	return b.admin(ctx, caller, kind, func(tx *Tx) (map[string]interface{}, error) {
		previous, _, err := tx.Repos.GlobalConfig.Get(ctx, key)
		if err != nil {
			return nil, err
		}
		if err := tx.Repos.GlobalConfig.Set(ctx, key, value, utils.NormalizeAddress(caller), ""); err != nil {
			return nil, err
		}
		return map[string]interface{}{key: value, "previous": previous}, nil
	})
}

// admin runs a privileged mutation and records its audit event
func (b *BridgeService) admin(ctx context.Context, caller, kind string, fn func(tx *Tx) (map[string]interface{}, error)) error {
	return b.txm.Do(ctx, func(tx *Tx) error {
		if err := b.access.requireOperatorIn(ctx, tx.Repos, caller); err != nil {
			return err
		}
		payload, err := fn(tx)
		if err != nil {
			return err
		}
		return tx.Record(ctx, kind, utils.NormalizeAddress(caller), "bridge", payload)
	})
}

func (b *BridgeService) routeForUpdate(ctx context.Context, tx *Tx, domain uint64) (*models.BridgeRoute, error) {
	route, err := tx.Repos.Bridge.GetRoute(ctx, domain)
	if err != nil {
		return nil, err
	}
	if route == nil {
		route = &models.BridgeRoute{Domain: domain}
	}
	return route, nil
}

func (b *BridgeService) usableRoute(ctx context.Context, repos repository.Repositories, domain uint64) (*models.BridgeRoute, error) {
	route, err := repos.Bridge.GetRoute(ctx, domain)
	if err != nil {
		return nil, err
	}
	if route == nil {
		return nil, fmt.Errorf("domain %d: %w", domain, ErrChainNotSupported)
	}
	if !route.Enabled {
		return nil, fmt.Errorf("domain %d: %w", domain, ErrRouteDisabled)
	}
	return route, nil
}

func (b *BridgeService) envelope(msg *models.BridgeMessage, router string) *models.BridgeEnvelope {
	return &models.BridgeEnvelope{
		SourceDomain:      msg.SourceDomain,
		DestinationDomain: msg.DestinationDomain,
		SenderAddress:     b.cfg.LocalAddress,
		Router:            router,
		MessageID:         msg.MessageID,
		Nonce:             msg.Nonce,
		Payload:           msg.Payload,
	}
}

// publish hands one envelope to the transport and records the attempt
func (b *BridgeService) publish(ctx context.Context, msg *models.BridgeMessage, env *models.BridgeEnvelope) error {
	if b.transport == nil {
		return fmt.Errorf("no bridge transport configured")
	}
	pubErr := b.transport.PublishEnvelope(ctx, env)

	status, lastErr := models.RelayStatusRelayed, ""
	if pubErr != nil {
		status, lastErr = models.RelayStatusPending, pubErr.Error()
	}
	if err := b.txm.Do(ctx, func(tx *Tx) error {
		return tx.Repos.Bridge.UpdateRelayStatus(ctx, msg.ID, status, lastErr)
	}); err != nil {
		b.log.WithError(err).WithField("message_id", msg.MessageID).Error("❌ Failed to record relay attempt")
	}

	if pubErr != nil {
		metrics.BridgeMessages.WithLabelValues(string(models.DirectionOutbound), "relay_failed").Inc()
		b.log.WithError(pubErr).WithField("message_id", msg.MessageID).Warn("⚠️ Bridge relay failed, will retry")
		return pubErr
	}
	metrics.BridgeMessages.WithLabelValues(string(models.DirectionOutbound), "relayed").Inc()
	return nil
}

func nextNonce(ctx context.Context, repos repository.Repositories) (uint64, error) {
	value, found, err := repos.GlobalConfig.Get(ctx, models.ConfigKeyBridgeNonce)
	if err != nil {
		return 0, err
	}
	var nonce uint64
	if found && value != "" {
		if nonce, err = strconv.ParseUint(value, 10, 64); err != nil {
			return 0, fmt.Errorf("invalid %s value %q: %w", models.ConfigKeyBridgeNonce, value, err)
		}
	}
	nonce++
	if err := repos.GlobalConfig.Set(ctx, models.ConfigKeyBridgeNonce, strconv.FormatUint(nonce, 10), "bridge", "outbound message nonce"); err != nil {
		return 0, err
	}
	return nonce, nil
}
