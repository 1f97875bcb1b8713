package llm

// Usage tracks token consumption for one provider response.
type Usage struct {
	PromptTokens     int  `json:"prompt_tokens"`
	CompletionTokens int  `json:"completion_tokens"`
	ReasoningTokens  *int `json:"reasoning_tokens,omitempty"`
}

// Total returns prompt + completion tokens.
func (u Usage) Total() int {
	return u.PromptTokens + u.CompletionTokens
}

// Add folds another usage report into u field-wise. ReasoningTokens folds
// as an option: nil+x keeps x, set+set sums.
func (u *Usage) Add(other Usage) {
	u.PromptTokens += other.PromptTokens
	u.CompletionTokens += other.CompletionTokens
	if other.ReasoningTokens != nil {
		if u.ReasoningTokens == nil {
			v := *other.ReasoningTokens
			u.ReasoningTokens = &v
		} else {
			*u.ReasoningTokens += *other.ReasoningTokens
		}
	}
}
