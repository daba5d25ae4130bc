package auth

import "context"

type subjectKey struct{}

func WithSubject(ctx context.Context, sub string) context.Context {
	return context.WithValue(ctx, subjectKey{}, sub)
}

// SubjectFromContext returns the authenticated user id, or "" when the
// request did not pass JWTMiddleware.
func SubjectFromContext(ctx context.Context) string {
	s, _ := ctx.Value(subjectKey{}).(string)
	return s
}
