package claims

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Client abstracts the rewards backend that initiates claims.
//
// A returned error is a transport or validation fault. An application-level
// rejection is a nil error with Success false.
type Client interface {
	SubmitClaim(ctx context.Context, req SubmitClaimRequest) (SubmitClaimResponse, error)
}

// HealthChecker is implemented by clients that can probe the backend.
type HealthChecker interface {
	Ping(ctx context.Context) error
}

type SubmitClaimRequest struct {
	ClaimID       string
	WalletAddress string
	UserID        string
	AuthToken     string
}

type SubmitClaimResponse struct {
	Success bool
	Reason  string
}

var ErrInvalidRequest = errors.New("invalid claim request")

func validateSubmitRequest(req SubmitClaimRequest) error {
	if strings.TrimSpace(req.ClaimID) == "" {
		return fmt.Errorf("%w: claim id required", ErrInvalidRequest)
	}
	if strings.TrimSpace(req.WalletAddress) == "" {
		return fmt.Errorf("%w: wallet address required", ErrInvalidRequest)
	}
	return nil
}
