package middleware

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"strings"
	"time"

	jwtmiddleware "github.com/auth0/go-jwt-middleware/v2"
	"github.com/auth0/go-jwt-middleware/v2/jwks"
	"github.com/auth0/go-jwt-middleware/v2/validator"
	"github.com/gin-gonic/gin"
	adapter "github.com/gwatts/gin-adapter"
	"github.com/shopspring/decimal"

	"github.com/semanticallynull/carpool-backend/account"
	"github.com/semanticallynull/carpool-backend/internal/auth0"
)

const (
	SubjectKey = "auth0_subject"
	AccountKey = "account"
)

const unauthorizedBody = `{"success":false,"code":"Unauthorized","message":"Authentication required"}`

// JWT validates RS256 bearer tokens issued by the Auth0 tenant for audience. The returned
// chain rejects requests without a valid token and stores the token's subject in the Gin
// context.
func JWT(domain, audience string) (gin.HandlersChain, error) {
	issuerURL, err := url.Parse("https://" + domain + "/")
	if err != nil {
		return nil, err
	}
	provider := jwks.NewCachingProvider(issuerURL, 5*time.Minute)

	v, err := validator.New(provider.KeyFunc, validator.RS256, issuerURL.String(), []string{audience},
		validator.WithAllowedClockSkew(time.Minute))
	if err != nil {
		return nil, err
	}

	m := jwtmiddleware.New(v.ValidateToken, jwtmiddleware.WithErrorHandler(
		func(w http.ResponseWriter, r *http.Request, err error) {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusUnauthorized)
			w.Write([]byte(unauthorizedBody))
		}))

	return gin.HandlersChain{adapter.Wrap(m.CheckJWT), claimsSubject}, nil
}

// claimsSubject runs after the JWT check, which leaves the validated claims in the request
// context.
func claimsSubject(c *gin.Context) {
	claims, ok := c.Request.Context().Value(jwtmiddleware.ContextKey{}).(*validator.ValidatedClaims)
	if !ok {
		c.AbortWithStatusJSON(http.StatusUnauthorized, unauthorized())
		return
	}
	c.Set(SubjectKey, claims.RegisteredClaims.Subject)
	c.Next()
}

// HeaderAuth trusts the X-User-ID header as the authenticated subject. It exists for local
// development and tests and must never be mounted in production.
func HeaderAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		sub := c.GetHeader("X-User-ID")
		if sub == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, unauthorized())
			return
		}
		c.Set(SubjectKey, sub)
		c.Next()
	}
}

// GetAuth0ID returns the authenticated subject set by JWT or HeaderAuth.
func GetAuth0ID(c *gin.Context) (string, bool) {
	sub, ok := c.Get(SubjectKey)
	if !ok {
		return "", false
	}
	s, ok := sub.(string)
	return s, ok && s != ""
}

type AccountStore interface {
	GetByAuth0ID(ctx context.Context, auth0ID string) (account.Account, error)
	Create(ctx context.Context, auth0ID, email, name string, grant decimal.Decimal) (account.Account, error)
}

// ResolveAccount loads the account of the authenticated subject, provisioning it from the
// Auth0 profile on first sight. Handlers read it with GetAccount.
func ResolveAccount(accounts AccountStore, profiles auth0.Client, signupGrant decimal.Decimal) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := c.Request.Context()
		logger := GetLogger(c)

		sub, ok := GetAuth0ID(c)
		if !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, unauthorized())
			return
		}

		acc, err := accounts.GetByAuth0ID(ctx, sub)
		if errors.Is(err, account.ErrNotFound) {
			var email, name string
			if token := bearerToken(c.GetHeader("Authorization")); token != "" && profiles != nil {
				info, err := profiles.GetUserInfo(ctx, token)
				if err != nil {
					logger.WarnContext(ctx, "failed to fetch user profile", "error", err)
				} else {
					email, name = info.Email, info.Name
				}
			}
			acc, err = accounts.Create(ctx, sub, email, name, signupGrant)
		}
		if err != nil {
			logger.ErrorContext(ctx, "failed to resolve account", "error", err)
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"success": false, "code": "Internal", "message": "internal error"})
			return
		}

		c.Set(AccountKey, acc)
		c.Next()
	}
}

func GetAccount(c *gin.Context) (account.Account, bool) {
	v, ok := c.Get(AccountKey)
	if !ok {
		return account.Account{}, false
	}
	acc, ok := v.(account.Account)
	return acc, ok
}

func bearerToken(header string) string {
	token, ok := strings.CutPrefix(header, "Bearer ")
	if !ok {
		return ""
	}
	return strings.TrimSpace(token)
}

func unauthorized() gin.H {
	return gin.H{"success": false, "code": "Unauthorized", "message": "Authentication required"}
}
