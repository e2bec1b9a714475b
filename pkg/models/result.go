package models

// Source identifies where an aggregate response came from.
type Source string

const (
	SourceCache Source = "cache"
	SourceLive  Source = "api"
)

// ProviderResult is one provider's outcome for a query.
// Exactly one of Text or Error is set.
type ProviderResult struct {
	Provider string  `json:"model"`
	Text     *string `json:"response,omitempty"`
	Error    string  `json:"error,omitempty"`
}

// Success builds a result carrying answer text. Empty text is a valid answer.
func Success(provider, text string) ProviderResult {
	return ProviderResult{Provider: provider, Text: &text}
}

// Failure builds a result carrying an error message.
func Failure(provider, message string) ProviderResult {
	if message == "" {
		message = "unknown error"
	}
	return ProviderResult{Provider: provider, Error: message}
}

// OK reports whether the provider produced an answer.
func (r ProviderResult) OK() bool {
	return r.Error == "" && r.Text != nil
}

// AggregateResponse is the combined answer returned to callers.
type AggregateResponse struct {
	Results []ProviderResult `json:"responses"`
	Source  Source           `json:"source"`
}

// QueryRequest is the inbound /query body.
type QueryRequest struct {
	Query string `json:"query"`
}
