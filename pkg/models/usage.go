package models

// Usage tracks token and cost accounting for one or more model calls.
type Usage struct {
	PromptTokens     TokenCount
	CompletionTokens TokenCount
	TotalTokens      TokenCount
	CachedTokens     TokenCount
	Cost             *float64
}

// AccumulateDelta folds a streaming usage delta into the accumulated usage.
// Prompt and cached tokens are replaced when the delta carries a nonzero
// value, completion tokens are taken from the latest delta carrying them,
// and costs accumulate.
func (u *Usage) AccumulateDelta(delta Usage) {
	if delta.PromptTokens.Value() > 0 {
		u.PromptTokens = delta.PromptTokens
	}
	if delta.CachedTokens.Value() > 0 {
		u.CachedTokens = delta.CachedTokens
	}
	if delta.CompletionTokens.Value() > 0 {
		u.CompletionTokens = delta.CompletionTokens
	}
	if delta.TotalTokens.Value() > 0 {
		u.TotalTokens = delta.TotalTokens
	} else {
		u.TotalTokens = u.PromptTokens.Add(u.CompletionTokens)
	}
	if delta.Cost != nil {
		if u.Cost == nil {
			c := *delta.Cost
			u.Cost = &c
		} else {
			*u.Cost += *delta.Cost
		}
	}
}

// SumCosts combines two optional costs, keeping whichever exists when only
// one side has a value.
func SumCosts(a, b *float64) *float64 {
	switch {
	case a == nil:
		return b
	case b == nil:
		return a
	default:
		sum := *a + *b
		return &sum
	}
}
