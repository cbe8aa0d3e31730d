package retry

import "context"

// DoWithResultTyped is a type-safe wrapper around Retryer.DoWithResult.
//
//	n, err := retry.DoWithResultTyped[int64](r, ctx, func() (int64, error) {
//	    return client.Publish(ctx, channel, payload).Result()
//	})
func DoWithResultTyped[T any](r Retryer, ctx context.Context, fn func() (T, error)) (T, error) {
	result, err := r.DoWithResult(ctx, func() (any, error) {
		return fn()
	})
	if err != nil {
		var zero T
		return zero, err
	}
	return result.(T), nil
}
