package form

import "context"

// ToggleFunc handles a change of a known/unknown selector.
type ToggleFunc func(ctx context.Context, selector string, k Knowledge) error

// BaseToggle records the selector change on target and nothing else.
func BaseToggle(target Target) ToggleFunc {
	return func(_ context.Context, selector string, k Knowledge) error {
		target.SetKnowledge(selector, k)
		return nil
	}
}

// FetchWhenUnknown wraps base so that flipping a rate or inflation selector to
// Unknown runs trigger after base. Other selectors and Known pass through.
func FetchWhenUnknown(base ToggleFunc, trigger func(ctx context.Context) error) ToggleFunc {
	return func(ctx context.Context, selector string, k Knowledge) error {
		if err := base(ctx, selector, k); err != nil {
			return err
		}
		if k != Unknown || (selector != SelectorRate && selector != SelectorInflation) {
			return nil
		}
		return trigger(ctx)
	}
}
