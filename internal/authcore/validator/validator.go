// Package validator implements the token validation pipeline (spec.md
// §4.4): a sum-type result over configured providers, each checked by every
// available validator plugin in descending-priority order.
//
// Signature verification follows the same jwt.Parse-with-keyfunc shape
// gourdiantoken-master uses, generalized to resolve the verification key
// from the JWKS cache by kid instead of a single fixed public key.
package validator

import (
	"context"
	"sort"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/aussie-gateway/auth-core/internal/authcore/config"
	"github.com/aussie-gateway/auth-core/internal/authcore/jwks"
	"github.com/aussie-gateway/auth-core/internal/authcore/registry"
)

// Outcome is the sum-type result of Validate: exactly one of NoToken,
// Invalid, or Valid holds meaning (spec.md §4.4 contract).
type Outcome int

const (
	NoToken Outcome = iota
	Invalid
	Valid
)

// Result carries the Outcome plus the data relevant to it.
type Result struct {
	Outcome Outcome
	Reason  string // set when Outcome == Invalid
	Claims  Claims // set when Outcome == Valid
}

// Claims is the normalized set of fields every validator plugin must
// populate on success, regardless of the originating provider's claim names.
type Claims struct {
	Subject    string
	Issuer     string
	Jti        string
	IssuedAt   time.Time
	ExpiresAt  time.Time
	Audiences  []string
	Roles      []string
	Groups     []string
	Raw        map[string]interface{}
	ProviderID string
}

// Plugin is one token-validation strategy (e.g. JWKS-backed RS256
// verification). Plugins register themselves in a registry.Registry and are
// tried in descending-priority order (spec.md §4.4, Design Notes §9).
type Plugin interface {
	Name() string
	Priority() int
	IsAvailable() bool
	Validate(ctx context.Context, token string, provider config.ProviderConfig) (Claims, bool, error)
}

// Validator runs the full pipeline: provider iteration, plugin fan-out,
// and (by the caller, via the revocation package) the post-validation
// revocation check described in spec.md §4.4 step 3.
type Validator struct {
	cfg       config.AuthConfig
	providers []config.ProviderConfig
	plugins   *registry.Registry[Plugin]
}

// New builds a Validator. Provider iteration order is unspecified by the
// originating config but must be deterministic per run, so providers are
// sorted by ID (Design Notes open question, resolved here).
func New(cfg config.AuthConfig, providers []config.ProviderConfig, plugins ...Plugin) *Validator {
	sorted := make([]config.ProviderConfig, len(providers))
	copy(sorted, providers)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].ID < sorted[j].ID })
	return &Validator{cfg: cfg, providers: sorted, plugins: registry.New(plugins...)}
}

// Validate implements spec.md §4.4 steps 1-2 and 4. The caller is
// responsible for piping a Valid result through the revocation subsystem
// (step 3) before trusting it — kept out of this package so validator has
// no dependency on the revocation store.
func (v *Validator) Validate(ctx context.Context, bearer string) Result {
	if !v.cfg.Enabled || bearer == "" {
		return Result{Outcome: NoToken}
	}

	for _, provider := range v.providers {
		for _, plugin := range v.plugins.Available() {
			claims, ok, err := plugin.Validate(ctx, bearer, provider)
			if err != nil || !ok {
				continue
			}
			claims.ProviderID = provider.ID
			return Result{Outcome: Valid, Claims: claims}
		}
	}

	return Result{Outcome: Invalid, Reason: "not accepted by any provider"}
}

// JWKSPlugin verifies externally issued bearer tokens via the provider's
// JWKS endpoint, resolving the verification key by the token's kid header.
type JWKSPlugin struct {
	cache *jwks.Cache
}

func NewJWKSPlugin(cache *jwks.Cache) *JWKSPlugin {
	return &JWKSPlugin{cache: cache}
}

func (p *JWKSPlugin) Name() string      { return "jwks" }
func (p *JWKSPlugin) Priority() int     { return 100 }
func (p *JWKSPlugin) IsAvailable() bool { return p.cache != nil }

func (p *JWKSPlugin) Validate(ctx context.Context, tokenString string, provider config.ProviderConfig) (Claims, bool, error) {
	if provider.JwksURI == "" {
		return Claims{}, false, nil
	}

	var kid string
	parser := jwt.NewParser()
	unverified, _, err := parser.ParseUnverified(tokenString, jwt.MapClaims{})
	if err == nil {
		if k, ok := unverified.Header["kid"].(string); ok {
			kid = k
		}
	}

	key, found, err := p.cache.GetKey(ctx, provider.JwksURI, kid)
	if err != nil || !found {
		return Claims{}, false, nil
	}
	pub, err := jwks.RawPublicKey(key)
	if err != nil {
		return Claims{}, false, nil
	}

	claims := jwt.MapClaims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (interface{}, error) {
		return pub, nil
	}, jwt.WithValidMethods([]string{"RS256", "PS256", "ES256"}))
	if err != nil || !token.Valid {
		return Claims{}, false, nil
	}

	if provider.Issuer != "" {
		iss, _ := claims.GetIssuer()
		if iss != provider.Issuer {
			return Claims{}, false, nil
		}
	}

	if len(provider.Audiences) > 0 {
		aud, _ := claims.GetAudience()
		if !audienceMatches(aud, provider.Audiences) {
			return Claims{}, false, nil
		}
	}

	return claimsFromJWT(claims, provider), true, nil
}

func audienceMatches(tokenAud []string, allowed []string) bool {
	for _, a := range tokenAud {
		for _, want := range allowed {
			if a == want {
				return true
			}
		}
	}
	return false
}

func claimsFromJWT(mc jwt.MapClaims, provider config.ProviderConfig) Claims {
	sub, _ := mc.GetSubject()
	iss, _ := mc.GetIssuer()
	aud, _ := mc.GetAudience()
	iat, _ := mc.GetIssuedAt()
	exp, _ := mc.GetExpirationTime()

	out := Claims{
		Subject:   sub,
		Issuer:    iss,
		Audiences: aud,
		Raw:       mc,
	}
	if iat != nil {
		out.IssuedAt = iat.Time
	}
	if exp != nil {
		out.ExpiresAt = exp.Time
	}
	if jti, ok := mc["jti"].(string); ok {
		out.Jti = jti
	}
	out.Roles = stringSliceClaim(mc, mappedName(provider, "roles"))
	out.Groups = stringSliceClaim(mc, mappedName(provider, "groups"))
	return out
}

func mappedName(provider config.ProviderConfig, canonical string) string {
	if name, ok := provider.ClaimsMapping[canonical]; ok {
		return name
	}
	return canonical
}

func stringSliceClaim(mc jwt.MapClaims, key string) []string {
	raw, ok := mc[key]
	if !ok {
		return nil
	}
	switch v := raw.(type) {
	case []interface{}:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	case []string:
		return v
	case string:
		return []string{v}
	default:
		return nil
	}
}
