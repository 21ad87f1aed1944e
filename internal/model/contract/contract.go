package contract

type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type CompletionRequest struct {
	Model    string    `json:"model"`
	Messages []Message `json:"messages"`
	// Temperature zero asks the provider for deterministic output and is
	// always sent on the wire.
	Temperature float32 `json:"temperature"`
	MaxTokens   int     `json:"max_tokens,omitempty"`
}

type CompletionResponse struct {
	Content string `json:"content"`
}
