// Civitas - Civic Engagement Platform
// Copyright 2026 Civitas Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/civitashq/civitas

package store

import (
	"context"
	"errors"
	"time"

	gobreaker "github.com/sony/gobreaker/v2"

	"github.com/civitashq/civitas/internal/logging"
	"github.com/civitashq/civitas/internal/models"
)

// BreakerConfig configures the gateway circuit breaker.
type BreakerConfig struct {
	Name             string
	MaxRequests      uint32
	Interval         time.Duration
	Timeout          time.Duration
	FailureThreshold uint32
}

// DefaultBreakerConfig returns production breaker settings.
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		Name:             "store-gateway",
		MaxRequests:      3,
		Interval:         60 * time.Second,
		Timeout:          30 * time.Second,
		FailureThreshold: 5,
	}
}

// NewBreaker creates a circuit breaker for gateway calls.
func NewBreaker(cfg BreakerConfig) *gobreaker.CircuitBreaker[interface{}] {
	settings := gobreaker.Settings{
		Name:        cfg.Name,
		MaxRequests: cfg.MaxRequests,
		Interval:    cfg.Interval,
		Timeout:     cfg.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.FailureThreshold
		},
		IsSuccessful: func(err error) bool {
			// Client-fault responses are valid answers, not backend failures.
			return err == nil || !Retryable(err)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logging.Warn().
				Str("breaker", name).
				Str("from", from.String()).
				Str("to", to.String()).
				Msg("circuit breaker state change")
		},
	}
	return gobreaker.NewCircuitBreaker[interface{}](settings)
}

// Resilient decorates a Gateway with the shared retry policy and a circuit
// breaker. Both the cache fetch path and the mutation coordinator go through
// this decorator, so retry behavior is declared exactly once.
type Resilient struct {
	next    Gateway
	policy  Policy
	breaker *gobreaker.CircuitBreaker[interface{}]
}

// NewResilient wraps next with policy and breaker.
func NewResilient(next Gateway, policy Policy, breaker *gobreaker.CircuitBreaker[interface{}]) *Resilient {
	return &Resilient{next: next, policy: policy, breaker: breaker}
}

// call runs op with breaker + retry and returns its typed result.
func call[T any](r *Resilient, ctx context.Context, op func() (T, error)) (T, error) {
	var result T
	err := r.policy.Execute(ctx, func() error {
		v, err := r.breaker.Execute(func() (interface{}, error) {
			return op()
		})
		if err != nil {
			if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
				return WrapError(CodeUnavailable, err)
			}
			return err
		}
		if v != nil {
			result = v.(T)
		}
		return nil
	})
	return result, err
}

// exec runs an error-only op with breaker + retry.
func (r *Resilient) exec(ctx context.Context, op func() error) error {
	_, err := call(r, ctx, func() (struct{}, error) {
		return struct{}{}, op()
	})
	return err
}

func (r *Resilient) GetCampaign(ctx context.Context, id string) (*models.Campaign, error) {
	return call(r, ctx, func() (*models.Campaign, error) { return r.next.GetCampaign(ctx, id) })
}

func (r *Resilient) SearchCampaigns(ctx context.Context, in SearchCampaignsInput) (*models.CampaignList, error) {
	return call(r, ctx, func() (*models.CampaignList, error) { return r.next.SearchCampaigns(ctx, in) })
}

func (r *Resilient) CreateCampaign(ctx context.Context, in CreateCampaignInput) (*models.Campaign, error) {
	return call(r, ctx, func() (*models.Campaign, error) { return r.next.CreateCampaign(ctx, in) })
}

func (r *Resilient) UpdateCampaign(ctx context.Context, in UpdateCampaignInput) (*models.Campaign, error) {
	return call(r, ctx, func() (*models.Campaign, error) { return r.next.UpdateCampaign(ctx, in) })
}

func (r *Resilient) DeleteCampaign(ctx context.Context, id string) error {
	return r.exec(ctx, func() error { return r.next.DeleteCampaign(ctx, id) })
}

func (r *Resilient) CastVote(ctx context.Context, campaignID, userID, voteType string) (*models.Campaign, error) {
	return call(r, ctx, func() (*models.Campaign, error) {
		return r.next.CastVote(ctx, campaignID, userID, voteType)
	})
}

func (r *Resilient) GetUserVote(ctx context.Context, campaignID, userID string) (string, error) {
	return call(r, ctx, func() (string, error) { return r.next.GetUserVote(ctx, campaignID, userID) })
}

func (r *Resilient) GetComment(ctx context.Context, id string) (*models.Comment, error) {
	return call(r, ctx, func() (*models.Comment, error) { return r.next.GetComment(ctx, id) })
}

func (r *Resilient) ListComments(ctx context.Context, campaignID string, limit, offset int) (*models.CommentList, error) {
	return call(r, ctx, func() (*models.CommentList, error) {
		return r.next.ListComments(ctx, campaignID, limit, offset)
	})
}

func (r *Resilient) CreateComment(ctx context.Context, in CreateCommentInput) (*models.Comment, error) {
	return call(r, ctx, func() (*models.Comment, error) { return r.next.CreateComment(ctx, in) })
}

func (r *Resilient) UpdateComment(ctx context.Context, id, body string) (*models.Comment, error) {
	return call(r, ctx, func() (*models.Comment, error) { return r.next.UpdateComment(ctx, id, body) })
}

func (r *Resilient) DeleteComment(ctx context.Context, id string) error {
	return r.exec(ctx, func() error { return r.next.DeleteComment(ctx, id) })
}

func (r *Resilient) GetWonder(ctx context.Context, id string) (*models.Wonder, error) {
	return call(r, ctx, func() (*models.Wonder, error) { return r.next.GetWonder(ctx, id) })
}

func (r *Resilient) SearchWonders(ctx context.Context, in SearchWondersInput) (*models.WonderList, error) {
	return call(r, ctx, func() (*models.WonderList, error) { return r.next.SearchWonders(ctx, in) })
}

func (r *Resilient) CreateWonder(ctx context.Context, in CreateWonderInput) (*models.Wonder, error) {
	return call(r, ctx, func() (*models.Wonder, error) { return r.next.CreateWonder(ctx, in) })
}

func (r *Resilient) UpdateWonder(ctx context.Context, id, question string) (*models.Wonder, error) {
	return call(r, ctx, func() (*models.Wonder, error) { return r.next.UpdateWonder(ctx, id, question) })
}

func (r *Resilient) DeleteWonder(ctx context.Context, id string) error {
	return r.exec(ctx, func() error { return r.next.DeleteWonder(ctx, id) })
}

func (r *Resilient) Close() error {
	return r.next.Close()
}
