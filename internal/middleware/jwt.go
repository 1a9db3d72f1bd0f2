package middleware

import (
	"net/http"
	"time"

	"memberbilling/internal/common"

	"github.com/MicahParks/keyfunc/v2"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	echojwt "github.com/labstack/echo-jwt/v4"
	"github.com/labstack/echo/v4"
	"github.com/sirupsen/logrus"
)

// Claims are the bearer token claims the billing API reads. The subject is the member's user id.
type Claims struct {
	jwt.RegisteredClaims
	Roles []string `json:"roles"`
}

// LoadJWKS fetches the signing keys and refreshes them in the background.
// Call EndBackground on the result at shutdown.
func LoadJWKS(url string, log logrus.FieldLogger) (*keyfunc.JWKS, error) {
	return keyfunc.Get(url, keyfunc.Options{
		RefreshInterval:   time.Hour,
		RefreshRateLimit:  5 * time.Minute,
		RefreshTimeout:    10 * time.Second,
		RefreshUnknownKID: true,
		RefreshErrorHandler: func(err error) {
			log.WithError(err).Warn("Failed to refresh JWKS")
		},
	})
}

// JWTMiddleware verifies bearer tokens with jwks when set, otherwise with the HMAC secret,
// and stores the caller as a common.Principal on the request context
func JWTMiddleware(secret string, jwks *keyfunc.JWKS) echo.MiddlewareFunc {
	cfg := echojwt.Config{
		NewClaimsFunc: func(c echo.Context) jwt.Claims {
			return new(Claims)
		},
		ErrorHandler: func(c echo.Context, err error) error {
			return echo.NewHTTPError(http.StatusUnauthorized, common.CreateErrorResponse("UNAUTHORIZED", "Invalid or missing token", nil))
		},
	}
	if jwks != nil {
		cfg.KeyFunc = jwks.Keyfunc
	} else {
		cfg.SigningKey = []byte(secret)
	}
	verify := echojwt.WithConfig(cfg)

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return verify(func(c echo.Context) error {
			token, ok := c.Get("user").(*jwt.Token)
			if !ok {
				return echo.NewHTTPError(http.StatusUnauthorized, common.CreateErrorResponse("UNAUTHORIZED", "Invalid token", nil))
			}
			claims, ok := token.Claims.(*Claims)
			if !ok {
				return echo.NewHTTPError(http.StatusUnauthorized, common.CreateErrorResponse("UNAUTHORIZED", "Invalid claims", nil))
			}
			userID, err := uuid.Parse(claims.Subject)
			if err != nil {
				return echo.NewHTTPError(http.StatusUnauthorized, common.CreateErrorResponse("UNAUTHORIZED", "Token subject is not a user id", nil))
			}

			ctx := common.WithPrincipal(c.Request().Context(), common.Principal{UserID: userID, Roles: claims.Roles})
			c.SetRequest(c.Request().WithContext(ctx))
			return next(c)
		})
	}
}

// RequireRole rejects callers that hold none of roles
func RequireRole(roles ...string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			principal, ok := common.GetPrincipalFromContext(c.Request().Context())
			if !ok {
				return echo.NewHTTPError(http.StatusUnauthorized, common.CreateErrorResponse("UNAUTHORIZED", "User not authenticated", nil))
			}
			if !principal.HasRole(roles...) {
				return echo.NewHTTPError(http.StatusForbidden, common.CreateErrorResponse("FORBIDDEN", "Insufficient permissions", nil))
			}
			return next(c)
		}
	}
}
