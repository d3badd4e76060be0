package llm

import "context"

// DefaultStaticResponse is a simple two-point loop.
const DefaultStaticResponse = `{"start": ["1000,0"], "loop": ["400,100", "400,0"]}`

// Static returns the same reply for every prompt.
type Static struct {
	response string
}

// NewStatic creates a static generator. An empty response selects
// DefaultStaticResponse.
func NewStatic(response string) *Static {
	if response == "" {
		response = DefaultStaticResponse
	}
	return &Static{response: response}
}

// Name returns "static".
func (s *Static) Name() string {
	return ProviderStatic
}

// Generate returns the configured reply unless ctx is done.
func (s *Static) Generate(ctx context.Context, _ string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	return s.response, nil
}
