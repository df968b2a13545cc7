package engine

import "context"

// HTTPRequest is an outbound request a script makes through its host.
type HTTPRequest struct {
	Method  string
	URL     string
	Headers map[string]string
	Body    string
}

// HTTPResponse is what the host hands back to the script. Header names are
// lower case; repeated headers are joined with ", ".
type HTTPResponse struct {
	StatusCode int
	Headers    map[string]string
	Body       string
}

// Requester performs script HTTP requests. A non-2xx status is a response,
// not an error.
type Requester interface {
	Do(ctx context.Context, req HTTPRequest) (*HTTPResponse, error)
}

// RequesterFunc adapts a function to Requester.
type RequesterFunc func(ctx context.Context, req HTTPRequest) (*HTTPResponse, error)

func (f RequesterFunc) Do(ctx context.Context, req HTTPRequest) (*HTTPResponse, error) {
	return f(ctx, req)
}

type requesterKey struct{}

// WithRequester grants the executions run under ctx outbound HTTP through r.
// Interpreters without network support ignore it.
func WithRequester(ctx context.Context, r Requester) context.Context {
	return context.WithValue(ctx, requesterKey{}, r)
}

// RequesterFrom returns the requester granted by WithRequester, if any.
func RequesterFrom(ctx context.Context) (Requester, bool) {
	r, ok := ctx.Value(requesterKey{}).(Requester)
	return r, ok && r != nil
}
