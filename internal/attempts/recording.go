package attempts

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"rewardclaims/internal/claims"
)

// RecordingClient wraps a claims.Client and writes every submission to a Store.
// A failed write is logged; it never changes what the caller sees.
type RecordingClient struct {
	next   claims.Client
	store  Store
	logger *zap.Logger
	now    func() time.Time
}

func NewRecordingClient(next claims.Client, store Store, logger *zap.Logger) *RecordingClient {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RecordingClient{
		next:   next,
		store:  store,
		logger: logger,
		now:    time.Now,
	}
}

func (r *RecordingClient) SubmitClaim(ctx context.Context, req claims.SubmitClaimRequest) (claims.SubmitClaimResponse, error) {
	resp, err := r.next.SubmitClaim(ctx, req)

	attempt := Attempt{
		ID:            uuid.NewString(),
		ClaimID:       req.ClaimID,
		UserID:        req.UserID,
		WalletAddress: req.WalletAddress,
		CreatedAt:     r.now().UTC(),
	}
	switch {
	case err != nil:
		attempt.Outcome = OutcomeFailed
		attempt.Reason = err.Error()
	case resp.Success:
		attempt.Outcome = OutcomeInitiated
	default:
		attempt.Outcome = OutcomeRejected
		attempt.Reason = resp.Reason
	}

	// The submission already happened; record it even if the caller gave up.
	saveCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if saveErr := r.store.Save(saveCtx, attempt); saveErr != nil {
		r.logger.Error("record claim attempt",
			zap.String("claim_id", req.ClaimID),
			zap.String("outcome", string(attempt.Outcome)),
			zap.Error(saveErr))
	}

	return resp, err
}

// Ping forwards health checks to the wrapped client when it supports them.
func (r *RecordingClient) Ping(ctx context.Context) error {
	if hc, ok := r.next.(claims.HealthChecker); ok {
		return hc.Ping(ctx)
	}
	return nil
}
