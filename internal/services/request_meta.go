package services

import "context"

type requestMetaKey struct{}

// RequestMeta carries the caller's network identity into audit entries and
// per-IP rate limits.
type RequestMeta struct {
	IPAddress string
	UserAgent string
}

func WithRequestMeta(ctx context.Context, meta RequestMeta) context.Context {
	return context.WithValue(ctx, requestMetaKey{}, meta)
}

// RequestMetaFrom returns the zero value outside an HTTP request
func RequestMetaFrom(ctx context.Context) RequestMeta {
	meta, _ := ctx.Value(requestMetaKey{}).(RequestMeta)
	return meta
}
