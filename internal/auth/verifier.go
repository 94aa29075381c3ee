package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"

	firebase "firebase.google.com/go/v4"
	fbauth "firebase.google.com/go/v4/auth"
	"google.golang.org/api/option"

	"github.com/vladislavdragonenkov/payrecon/internal/domain"
)

// TokenVerifier проверяет bearer-токен и возвращает личность.
type TokenVerifier interface {
	Verify(ctx context.Context, token string) (Principal, error)
}

// idTokenVerifier - часть *fbauth.Client, которая нужна верификатору.
type idTokenVerifier interface {
	VerifyIDToken(ctx context.Context, idToken string) (*fbauth.Token, error)
}

// FirebaseVerifier проверяет ID-токены Firebase Auth.
type FirebaseVerifier struct {
	client idTokenVerifier
}

// NewFirebaseVerifier инициализирует Firebase App и клиента Auth.
// credentialsFile может быть пустым: тогда используются Application Default Credentials.
func NewFirebaseVerifier(ctx context.Context, projectID, credentialsFile string) (*FirebaseVerifier, error) {
	var opts []option.ClientOption
	if credentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(credentialsFile))
	}

	app, err := firebase.NewApp(ctx, &firebase.Config{ProjectID: projectID}, opts...)
	if err != nil {
		return nil, fmt.Errorf("init firebase app: %w", err)
	}
	client, err := app.Auth(ctx)
	if err != nil {
		return nil, fmt.Errorf("init firebase auth: %w", err)
	}
	return &FirebaseVerifier{client: client}, nil
}

// Verify проверяет токен и достаёт uid, email и name из claims.
func (v *FirebaseVerifier) Verify(ctx context.Context, token string) (Principal, error) {
	if v == nil || v.client == nil {
		return Principal{}, errors.New("firebase verifier is not configured")
	}
	decoded, err := v.client.VerifyIDToken(ctx, token)
	if err != nil {
		return Principal{}, fmt.Errorf("%w: %v", domain.ErrUnauthorized, err)
	}

	principal := Principal{UID: strings.TrimSpace(decoded.UID)}
	if !principal.Authenticated() {
		return Principal{}, fmt.Errorf("%w: token has no uid", domain.ErrUnauthorized)
	}
	if email, ok := decoded.Claims["email"].(string); ok {
		principal.Email = strings.TrimSpace(email)
	}
	if name, ok := decoded.Claims["name"].(string); ok {
		principal.Name = strings.TrimSpace(name)
	}
	return principal, nil
}

// StaticVerifier сопоставляет заранее выданные токены личностям. Для локальной разработки и тестов.
type StaticVerifier struct {
	tokens map[string]Principal
}

// NewStaticVerifier создаёт верификатор из карты токен -> личность.
func NewStaticVerifier(tokens map[string]Principal) *StaticVerifier {
	copied := make(map[string]Principal, len(tokens))
	for token, p := range tokens {
		copied[token] = p
	}
	return &StaticVerifier{tokens: copied}
}

// ParseStaticTokens разбирает строку вида "token1=uid1:email1,token2=uid2".
func ParseStaticTokens(raw string) (map[string]Principal, error) {
	out := make(map[string]Principal)
	for _, entry := range ParseList(raw) {
		token, identity, ok := strings.Cut(entry, "=")
		if !ok || strings.TrimSpace(token) == "" || strings.TrimSpace(identity) == "" {
			return nil, fmt.Errorf("invalid static token entry %q", entry)
		}
		uid, email, _ := strings.Cut(identity, ":")
		out[strings.TrimSpace(token)] = Principal{UID: strings.TrimSpace(uid), Email: strings.TrimSpace(email)}
	}
	return out, nil
}

// Verify ищет токен в таблице.
func (v *StaticVerifier) Verify(_ context.Context, token string) (Principal, error) {
	p, ok := v.tokens[token]
	if !ok {
		return Principal{}, domain.ErrUnauthorized
	}
	return p, nil
}

var (
	_ TokenVerifier = (*FirebaseVerifier)(nil)
	_ TokenVerifier = (*StaticVerifier)(nil)
)
