package services

import "errors"

// ErrorKind classifies a domain error for callers and HTTP mapping
type ErrorKind string

const (
	KindValidation    ErrorKind = "validation"
	KindAuthorization ErrorKind = "authorization"
	KindResource      ErrorKind = "resource"
	KindNotFound      ErrorKind = "not_found"
	KindLifecycle     ErrorKind = "lifecycle"
	KindInternal      ErrorKind = "internal"
)

// Validation errors: rejected synchronously, no state change
var (
	ErrInvalidAmount  = errors.New("invalid amount")
	ErrInvalidAddress = errors.New("invalid address")
	ErrZeroAddress    = errors.New("zero address")
	ErrLengthMismatch = errors.New("tokens and amounts length mismatch")
	ErrEmptyBasket    = errors.New("empty basket")
	ErrDuplicateAsset = errors.New("duplicate asset in basket")
	ErrInvalidRatio   = errors.New("collateral ratio out of bounds")
	ErrInvalidEngine  = errors.New("invalid engine")
	ErrUnknownAsset   = errors.New("no price for asset")
)

// Authorization errors
var (
	ErrUntrustedSource = errors.New("untrusted source")
	ErrUnauthorized    = errors.New("unauthorized")
	ErrInvalidRouter   = errors.New("invalid router")
)

// Resource errors
var (
	ErrInsufficientBalance = errors.New("insufficient balance")
	ErrInsufficientFee     = errors.New("insufficient fee payment")
	ErrVaultNotSet         = errors.New("vault not set")
	ErrChainNotSupported   = errors.New("chain not supported")
	ErrRouteDisabled       = errors.New("route disabled")
	ErrRouterNotSet        = errors.New("router not set")
	ErrPositionNotFound    = errors.New("position not found")
	ErrRequestNotFound     = errors.New("request not found")
)

// Lifecycle errors: legitimate later-retry conditions
var (
	ErrAlreadyProcessed   = errors.New("request already processed")
	ErrNoPendingRequest   = errors.New("no pending request")
	ErrNotYetEligible     = errors.New("not yet eligible")
	ErrInvalidPosition    = errors.New("invalid position")
	ErrDuplicateMessage   = errors.New("duplicate message")
	ErrAutomationDisabled = errors.New("automation disabled")
)

var errorKinds = map[error]ErrorKind{
	ErrInvalidAmount:  KindValidation,
	ErrInvalidAddress: KindValidation,
	ErrZeroAddress:    KindValidation,
	ErrLengthMismatch: KindValidation,
	ErrEmptyBasket:    KindValidation,
	ErrDuplicateAsset: KindValidation,
	ErrInvalidRatio:   KindValidation,
	ErrInvalidEngine:  KindValidation,
	ErrUnknownAsset:   KindValidation,

	ErrUntrustedSource: KindAuthorization,
	ErrUnauthorized:    KindAuthorization,
	ErrInvalidRouter:   KindAuthorization,

	ErrInsufficientBalance: KindResource,
	ErrInsufficientFee:     KindResource,
	ErrVaultNotSet:         KindResource,
	ErrChainNotSupported:   KindResource,
	ErrRouteDisabled:       KindResource,
	ErrRouterNotSet:        KindResource,
	ErrPositionNotFound:    KindNotFound,
	ErrRequestNotFound:     KindNotFound,

	ErrAlreadyProcessed:   KindLifecycle,
	ErrNoPendingRequest:   KindLifecycle,
	ErrNotYetEligible:     KindLifecycle,
	ErrInvalidPosition:    KindLifecycle,
	ErrDuplicateMessage:   KindLifecycle,
	ErrAutomationDisabled: KindLifecycle,
}

// KindOf returns the kind of the first known sentinel in err's chain
func KindOf(err error) ErrorKind {
	if err == nil {
		return ""
	}
	for sentinel, kind := range errorKinds {
		if errors.Is(err, sentinel) {
			return kind
		}
	}
	return KindInternal
}
