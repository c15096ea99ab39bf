package api

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/shaj13/go-guardian/auth"
	"github.com/shaj13/go-guardian/auth/strategies/bearer"
	"github.com/swifthaul/logistics-api/databases"

	"github.com/shaj13/go-guardian/auth/strategies/basic"
	"github.com/shaj13/go-guardian/store"
	"go.mongodb.org/mongo-driver/bson"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
)

// ErrNotAuthenticated is returned by Actor when a request context carries no
// authenticated principal. Operations that record an actor identity fail fast
// on it before touching the store.
var ErrNotAuthenticated = errors.New("no authenticated actor in request context")

type actorContextKey struct{}

// MiddlewareDB is a struct that holds the database
type MiddlewareDB struct {
	DB databases.UserDatabase
}

var authenticator auth.Authenticator
var cache store.Cache

// Middleware authenticates the request and stashes the resulting principal in
// the request context, where handlers read it for updatedBy/createdBy fields.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		user, err := authenticator.Authenticate(r)
		if err != nil {
			zap.S().Errorw("unauthorized",
				"url", r.URL)
			w.WriteHeader(http.StatusUnauthorized)
			w.Write([]byte(`{"error": "unauthorized"}`))
			return
		}
		zap.S().Debugf("User %s Authenticated\n", user.UserName())
		next.ServeHTTP(w, r.WithContext(WithActor(r.Context(), user)))
	})
}

// RequireRole gates a handler on the actor's role. It runs inside Middleware,
// so the principal is already in the context; anything else is a 401.
func RequireRole(role string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		actor, err := Actor(r.Context())
		if err != nil {
			w.WriteHeader(http.StatusUnauthorized)
			w.Write([]byte(`{"error": "unauthorized"}`))
			return
		}
		for _, group := range actor.Groups() {
			if group == role {
				next.ServeHTTP(w, r)
				return
			}
		}
		zap.S().Warnw("forbidden",
			"url", r.URL,
			"requiredRole", role,
			"actor", actor.ID())
		w.WriteHeader(http.StatusForbidden)
		w.Write([]byte(`{"error": "forbidden"}`))
	})
}

// WithActor returns a context carrying the authenticated principal.
func WithActor(ctx context.Context, info auth.Info) context.Context {
	return context.WithValue(ctx, actorContextKey{}, info)
}

// Actor returns the authenticated principal stashed by Middleware.
func Actor(ctx context.Context) (auth.Info, error) {
	info, ok := ctx.Value(actorContextKey{}).(auth.Info)
	if !ok || info == nil {
		return nil, ErrNotAuthenticated
	}
	return info, nil
}

// ActorUID returns the authenticated principal's user ID, the value written
// into updatedBy and createdBy fields.
func ActorUID(ctx context.Context) (string, error) {
	info, err := Actor(ctx)
	if err != nil {
		return "", err
	}
	return info.ID(), nil
}

// CreateToken returns a token
func (m MiddlewareDB) CreateToken(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	email, _, ok := r.BasicAuth()
	if !ok {
		http.Error(w, "basic auth failed", http.StatusUnauthorized)
		return
	}

	// Fetch user details from the database
	dbEmailResp, err := m.DB.Find(context.Background(), bson.M{"user.email": email})
	if err != nil || len(dbEmailResp) == 0 {
		http.Error(w, "failed to get user by email", http.StatusUnauthorized)
		return
	}

	user := dbEmailResp[0]
	token := uuid.New().String()
	authUser := auth.NewDefaultUser(email, user.ID.Hex(), []string{user.Details.Role}, nil)
	tokenStrategy := authenticator.Strategy(bearer.CachedStrategyKey)
	auth.Append(tokenStrategy, token, authUser, r)

	response := map[string]string{
		"token": token,
		"_id":   user.ID.Hex(),
	}

	responseBody, err := json.Marshal(response)
	if err != nil {
		http.Error(w, "failed to marshal response", http.StatusInternalServerError)
		return
	}

	w.Write(responseBody)
}

// SetupGoGuardian sets up the go-guardian middleware. The bearer strategy
// serves two credential kinds: opaque tokens issued by CreateToken live in the
// cache, and a cache miss is validated as a login JWT. The cache TTL bounds
// how long either kind stays live without revalidation, so it matches the JWT
// lifetime rather than outliving it.
func (m MiddlewareDB) SetupGoGuardian() {
	authenticator = auth.New()
	cache = store.NewFIFO(context.Background(), AccessTokenTTL)
	basicStrategy := basic.New(m.ValidateUser, cache)
	tokenStrategy := bearer.New(validateBearerToken, cache)

	authenticator.EnableStrategy(basic.StrategyKey, basicStrategy)
	authenticator.EnableStrategy(bearer.CachedStrategyKey, tokenStrategy)
}

// validateBearerToken authenticates a bearer value that is not a cached opaque
// token by parsing it as a signed access JWT.
func validateBearerToken(ctx context.Context, r *http.Request, token string) (auth.Info, error) {
	claims, err := ParseAccessToken(token)
	if err != nil {
		return nil, err
	}
	return auth.NewDefaultUser(claims.Email, claims.Subject, []string{claims.Role}, nil), nil
}

// ValidateUser validates a user
func (m MiddlewareDB) ValidateUser(ctx context.Context, r *http.Request, email, password string) (auth.Info, error) {
	usernameHash := sha256.Sum256([]byte(email))

	// fetch email & pass from db
	dbEmailResp, err := m.DB.Find(context.Background(), bson.M{"user.email": email})
	if err != nil {
		return nil, fmt.Errorf("failed to get user by ID")
	}
	if len(dbEmailResp) == 0 {
		return nil, fmt.Errorf("no matching email found")
	}

	expectedUsernameHash := sha256.Sum256([]byte(dbEmailResp[0].Details.Email))
	usernameMatch := subtle.ConstantTimeCompare(usernameHash[:], expectedUsernameHash[:]) == 1

	err = bcrypt.CompareHashAndPassword([]byte(dbEmailResp[0].Details.Password), []byte(password))
	if err != nil {
		return nil, fmt.Errorf("failed to compare password")
	}

	if usernameMatch {
		user := dbEmailResp[0]
		return auth.NewDefaultUser(email, user.ID.Hex(), []string{user.Details.Role}, nil), nil
	}
	return nil, fmt.Errorf("invalid credentials")
}

// RevokeToken revokes a token
func RevokeToken(w http.ResponseWriter, r *http.Request) {
	reqToken := r.Header.Get("Authorization")
	splitToken := strings.Split(reqToken, "Bearer ")
	if len(splitToken) != 2 {
		w.WriteHeader(http.StatusUnauthorized)
		w.Write([]byte(`{"error": "unauthorized"}`))
		return
	}
	reqToken = splitToken[1]

	tokenStrategy := authenticator.Strategy(bearer.CachedStrategyKey)
	auth.Revoke(tokenStrategy, reqToken, r)
	body := fmt.Sprintf(`{"revoked token": "%s"}`, reqToken)
	w.Write([]byte(body))
}
