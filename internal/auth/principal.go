package auth

import (
	"context"
	"strings"
)

// Principal - подтверждённая личность вызывающего.
type Principal struct {
	UID   string
	Email string
	Name  string
}

// Authenticated сообщает, что личность установлена.
func (p Principal) Authenticated() bool {
	return strings.TrimSpace(p.UID) != ""
}

type ctxKey struct{ name string }

var ctxKeyPrincipal = ctxKey{name: "principal"}

// WithPrincipal кладёт личность в контекст запроса.
func WithPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, ctxKeyPrincipal, p)
}

// PrincipalFromContext достаёт личность из контекста.
func PrincipalFromContext(ctx context.Context) (Principal, bool) {
	p, ok := ctx.Value(ctxKeyPrincipal).(Principal)
	return p, ok && p.Authenticated()
}

// BearerToken извлекает токен из заголовка Authorization.
func BearerToken(header string) (string, bool) {
	if !strings.HasPrefix(header, "Bearer ") {
		return "", false
	}
	token := strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
	return token, token != ""
}
