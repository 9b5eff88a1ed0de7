package claims

import (
	"context"
)

// FakeClient accepts every claim except those listed in Rejections, which are
// declined with the mapped reason. Used for local runs without a backend.
type FakeClient struct {
	Rejections map[string]string
}

func (f FakeClient) SubmitClaim(_ context.Context, req SubmitClaimRequest) (SubmitClaimResponse, error) {
	if err := validateSubmitRequest(req); err != nil {
		return SubmitClaimResponse{}, err
	}
	if reason, ok := f.Rejections[req.ClaimID]; ok {
		return SubmitClaimResponse{Success: false, Reason: reason}, nil
	}
	return SubmitClaimResponse{Success: true}, nil
}
