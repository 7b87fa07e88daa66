package auth

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/dmitrijs2005/tenantguard/internal/common"
	"github.com/dmitrijs2005/tenantguard/internal/identity"
)

const (
	ClaimValue       = "value"
	ClaimSubject     = "sub"
	ClaimIssuedAt    = "iat"
	ClaimExpiresAt   = "exp"
	ClaimNotBefore   = "nbf"
	ClaimUserID      = "user_id"
	ClaimProjectID   = "project_id"
	ClaimUniversalID = "universal_id"
	ClaimAuthorities = "authorities"
	ClaimOrigin      = "origin"
	ClaimIPAddress   = "ip_address"
	ClaimGeo         = "geo"
	ClaimIsStatic    = "is_static"
	ClaimLocator     = "token_locator"

	authoritySeparator = ","
)

// TokenClaims is the typed view of a signed token.
type TokenClaims struct {
	Value       string
	Owner       identity.ScopedUserID
	Authorities []identity.Authority
	IssuedAt    time.Time
	ExpiresAt   time.Time
	NotBefore   time.Time
	Origin      *string
	IPAddress   *string
	Geo         *string
	IsStatic    bool
	Locator     string
}

// Authority is the highest level the token was issued with.
func (c TokenClaims) Authority() identity.Authority {
	return identity.ResolveAuthority(identity.Names(c.Authorities), identity.AuthorityDefault)
}

// Custom renders the string-valued claims passed to Signer.Issue.
func (c TokenClaims) Custom() map[string]string {
	m := map[string]string{
		ClaimUserID:      c.Owner.LocalID,
		ClaimProjectID:   strconv.FormatInt(c.Owner.TenantID, 10),
		ClaimUniversalID: c.Owner.UniversalID(),
		ClaimAuthorities: strings.Join(identity.Names(c.Authorities), authoritySeparator),
		ClaimIsStatic:    strconv.FormatBool(c.IsStatic),
		ClaimLocator:     c.Locator,
	}
	if c.Origin != nil {
		m[ClaimOrigin] = *c.Origin
	}
	if c.IPAddress != nil {
		m[ClaimIPAddress] = *c.IPAddress
	}
	if c.Geo != nil {
		m[ClaimGeo] = *c.Geo
	}
	return m
}

// DecodeClaims builds TokenClaims out of a parsed payload.
func DecodeClaims(raw RawClaims) (TokenClaims, error) {
	var c TokenClaims

	c.Value, _ = raw[ClaimValue].(string)

	universal, ok := raw[ClaimUniversalID].(string)
	if !ok || universal == "" {
		universal, _ = raw[ClaimSubject].(string)
	}
	owner, err := identity.ParseUniversalID(universal)
	if err != nil {
		return TokenClaims{}, fmt.Errorf("%w: owner: %v", common.ErrMalformedToken, err)
	}
	c.Owner = owner

	if names, ok := raw[ClaimAuthorities].(string); ok && names != "" {
		for _, n := range strings.Split(names, authoritySeparator) {
			a := identity.ParseAuthority(n, identity.AuthorityDefault)
			c.Authorities = append(c.Authorities, a)
		}
	}
	if len(c.Authorities) == 0 {
		c.Authorities = []identity.Authority{identity.AuthorityDefault}
	}

	if c.IssuedAt, err = timeClaim(raw, ClaimIssuedAt); err != nil {
		return TokenClaims{}, err
	}
	if c.ExpiresAt, err = timeClaim(raw, ClaimExpiresAt); err != nil {
		return TokenClaims{}, err
	}
	if _, ok := raw[ClaimNotBefore]; ok {
		if c.NotBefore, err = timeClaim(raw, ClaimNotBefore); err != nil {
			return TokenClaims{}, err
		}
	} else {
		c.NotBefore = c.IssuedAt
	}

	c.Origin = optionalString(raw, ClaimOrigin)
	c.IPAddress = optionalString(raw, ClaimIPAddress)
	c.Geo = optionalString(raw, ClaimGeo)

	switch v := raw[ClaimIsStatic].(type) {
	case string:
		c.IsStatic, _ = strconv.ParseBool(v)
	case bool:
		c.IsStatic = v
	}

	c.Locator, _ = raw[ClaimLocator].(string)
	if c.Locator == "" {
		return TokenClaims{}, fmt.Errorf("%w: missing %s", common.ErrMalformedToken, ClaimLocator)
	}

	return c, nil
}

func optionalString(raw RawClaims, key string) *string {
	v, ok := raw[key].(string)
	if !ok {
		return nil
	}
	return &v
}

func timeClaim(raw RawClaims, key string) (time.Time, error) {
	var secs int64
	switch v := raw[key].(type) {
	case json.Number:
		n, err := v.Int64()
		if err != nil {
			f, ferr := v.Float64()
			if ferr != nil {
				return time.Time{}, fmt.Errorf("%w: %s: %v", common.ErrMalformedToken, key, err)
			}
			n = int64(f)
		}
		secs = n
	case float64:
		secs = int64(v)
	case int64:
		secs = v
	case string:
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return time.Time{}, fmt.Errorf("%w: %s: %v", common.ErrMalformedToken, key, err)
		}
		secs = n
	default:
		return time.Time{}, fmt.Errorf("%w: missing %s", common.ErrMalformedToken, key)
	}
	return time.Unix(secs, 0).UTC(), nil
}
