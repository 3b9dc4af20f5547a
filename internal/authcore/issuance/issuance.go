// Package issuance implements internal token issuance (spec.md §4.10):
// given a Valid validator result, enrich its claims with effective
// permissions and re-sign them as an internal token using the active
// signing key.
//
// Signing follows the same jwt.NewWithClaims / SignedString shape
// gourdiantoken-master uses to mint access tokens, generalized to source
// its key from the signing key Manager's Snapshot instead of a single
// resident key pair.
package issuance

import (
	"context"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/aussie-gateway/auth-core/internal/authcore/autherr"
	"github.com/aussie-gateway/auth-core/internal/authcore/config"
	"github.com/aussie-gateway/auth-core/internal/authcore/rbac"
	"github.com/aussie-gateway/auth-core/internal/authcore/signingkey"
	"github.com/aussie-gateway/auth-core/internal/authcore/validator"
)

// Outcome is the sum-type result of Issue: either a signed token or an
// explicit "absent" (issuance disabled, input not Valid, or no active
// signing key).
type Outcome struct {
	Present bool
	Token   string
}

// Issuer re-signs validated external identities as internal tokens.
type Issuer struct {
	cfg   config.IssuanceConfig
	keys  *signingkey.Manager
	roles *rbac.RoleService
}

func New(cfg config.IssuanceConfig, keys *signingkey.Manager, roles *rbac.RoleService) *Issuer {
	return &Issuer{cfg: cfg, keys: keys, roles: roles}
}

// Issue implements spec.md §4.10: claim enrichment, effective audience
// resolution, and signing with the active key.
func (i *Issuer) Issue(ctx context.Context, result validator.Result, routeAudience, serviceID string) (Outcome, error) {
	if !i.cfg.Enabled || result.Outcome != validator.Valid {
		return Outcome{}, nil
	}

	snap, err := i.keys.Current(ctx)
	if autherr.Of(err, autherr.StateViolation) {
		// No ACTIVE signing key: nothing can sign, so issuance is absent.
		return Outcome{}, nil
	}
	if err != nil {
		return Outcome{}, err
	}
	if snap.Active == nil {
		return Outcome{}, nil
	}

	effectivePerms, err := i.enrichedPermissions(ctx, result.Claims)
	if err != nil {
		return Outcome{}, err
	}

	audience := effectiveAudience(routeAudience, i.cfg.DefaultAudience, i.cfg.RequireAudience, serviceID)

	now := time.Now()
	ttl := i.cfg.TokenTTL
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	if i.cfg.MaxTokenTTL > 0 && ttl > i.cfg.MaxTokenTTL {
		ttl = i.cfg.MaxTokenTTL
	}

	claims := jwt.MapClaims{
		"iss":                  i.cfg.Issuer,
		"sub":                  result.Claims.Subject,
		"jti":                  uuid.NewString(),
		"iat":                  now.Unix(),
		"exp":                  now.Add(ttl).Unix(),
		"effective_permissions": effectivePerms,
	}
	if len(audience) > 0 {
		claims["aud"] = audience
	}
	for _, field := range i.cfg.ForwardedClaims {
		if v, ok := result.Claims.Raw[field]; ok {
			claims[field] = v
		}
	}

	privKey, err := parsePrivateKey(snap.Active.PrivateKeyPEM)
	if err != nil {
		return Outcome{}, err
	}

	keyID := i.cfg.KeyID
	if keyID == "" {
		keyID = snap.Active.KeyID
	}

	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	token.Header["kid"] = keyID

	signed, err := token.SignedString(privKey)
	if err != nil {
		return Outcome{}, autherr.Wrap(autherr.Transient, "sign internal token", err)
	}

	return Outcome{Present: true, Token: signed}, nil
}

// enrichedPermissions expands claims.roles via the role mapping when
// present, per spec.md §4.10.
func (i *Issuer) enrichedPermissions(ctx context.Context, claims validator.Claims) ([]string, error) {
	if len(claims.Roles) == 0 || i.roles == nil {
		return nil, nil
	}
	expanded, err := i.roles.Expand(ctx, claims.Roles)
	if err != nil {
		return nil, err
	}
	return rbac.EffectivePermissions(expanded, nil), nil
}

// effectiveAudience resolves routeAudience ?? defaultAudience ??
// (requireAudience ? serviceId : none), per spec.md §4.10.
func effectiveAudience(routeAudience, defaultAudience string, requireAudience bool, serviceID string) []string {
	if routeAudience != "" {
		return []string{routeAudience}
	}
	if defaultAudience != "" {
		return []string{defaultAudience}
	}
	if requireAudience && serviceID != "" {
		return []string{serviceID}
	}
	return nil
}

func parsePrivateKey(pemBytes []byte) (*rsa.PrivateKey, error) {
	block, _ := pem.Decode(pemBytes)
	if block == nil {
		return nil, autherr.New(autherr.StateViolation, "invalid signing key pem")
	}
	key, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		return nil, autherr.Wrap(autherr.StateViolation, "parse signing key", err)
	}
	rsaKey, ok := key.(*rsa.PrivateKey)
	if !ok {
		return nil, autherr.New(autherr.StateViolation, "signing key is not RSA")
	}
	return rsaKey, nil
}
