package claimflow

import (
	"errors"

	"rewardclaims/internal/wallet"
)

type Phase string

const (
	PhaseIdle       Phase = "idle"
	PhaseConnecting Phase = "connecting"
	PhaseConfirming Phase = "confirming"
	PhaseProcessing Phase = "processing"
	PhaseSuccess    Phase = "success"
	PhaseError      Phase = "error"

	// PhaseClosed is reported once the instance has been closed. No action leaves it.
	PhaseClosed Phase = "closed"
)

// ClaimRequest identifies the reward being claimed. It does not change for the
// lifetime of a Coordinator.
type ClaimRequest struct {
	ClaimID string
	// RewardAmount is in the token's smallest unit.
	RewardAmount uint64
}

// State is a snapshot of the workflow. ErrorMessage is set only in PhaseError
// and ResolvedWallet only in PhaseSuccess.
type State struct {
	Phase          Phase
	ErrorMessage   string
	ResolvedWallet wallet.Address
}

// Outcome is handed to the success observer.
type Outcome struct {
	ClaimID      string
	RewardAmount uint64
	UserID       string
	Wallet       wallet.Address
}

const (
	MessageSubmitFailed   = "failed to initiate claim"
	MessageConnectTimeout = "wallet connection timed out"
	MessageConnectFailed  = "failed to connect wallet"
)

var (
	ErrInvalidTransition = errors.New("action not allowed in current phase")
	ErrClosed            = errors.New("claim workflow closed")
	ErrNoWallet          = errors.New("no connected wallet address")
	ErrUnauthenticated   = errors.New("no authenticated user")
	ErrNotEnrolled       = errors.New("user is not enrolled in rewards")
	ErrInvalidRequest    = errors.New("invalid claim request")
)
