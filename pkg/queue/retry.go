package queue

import (
	"errors"
	"math"
	"time"

	"github.com/cuemby/ciorch/pkg/orcherr"
	"github.com/cuemby/ciorch/pkg/types"
)

// backoff computes the delay before attempt (1-indexed) under policy.
func backoff(policy types.RetryPolicy, attempt int) time.Duration {
	switch policy.Strategy {
	case types.RetryFixed:
		return policy.BaseDelay
	case types.RetryLinear:
		return policy.BaseDelay + time.Duration(attempt)*time.Duration(policy.Multiplier*float64(time.Second))
	case types.RetryExponential:
		factor := policy.Multiplier
		if factor <= 0 {
			factor = 2
		}
		d := time.Duration(float64(policy.BaseDelay) * math.Pow(factor, float64(attempt-1)))
		if policy.MaxDelay > 0 && d > policy.MaxDelay {
			d = policy.MaxDelay
		}
		return d
	case types.RetryCustom:
		if policy.Custom != nil {
			return policy.Custom(attempt)
		}
		return policy.BaseDelay
	default:
		return policy.BaseDelay
	}
}

// shouldRetry decides whether a failed job earns another attempt, per
// §4.6's failure-handling algorithm.
func shouldRetry(policy types.RetryPolicy, attempts int, err error) bool {
	if attempts >= policy.MaxAttempts {
		return false
	}

	code := errorCode(err)

	if len(policy.NonRetryableKinds) > 0 {
		for _, k := range policy.NonRetryableKinds {
			if k == code {
				return false
			}
		}
	}

	if len(policy.RetryableKinds) > 0 {
		for _, k := range policy.RetryableKinds {
			if k == code {
				return true
			}
		}
		return false
	}

	var ce *ClassifiedError
	if errors.As(err, &ce) {
		return true
	}
	return orcherr.KindOf(err).Retryable()
}

func kindOf(err error) string {
	return string(orcherr.KindOf(err))
}
