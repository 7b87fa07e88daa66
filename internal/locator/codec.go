// Package locator encodes and decodes token locators.
//
// A locator identifies one issued token (owner, origin, issue instant) and
// serves as the revocation ledger key. The encoding is reversible and
// deterministic: the same input always produces the same string.
package locator

import (
	"encoding/base64"
	"fmt"
	"strconv"
	"strings"

	"github.com/dmitrijs2005/tenantguard/internal/common"
	"github.com/dmitrijs2005/tenantguard/internal/identity"
)

const (
	hexBase   = 16
	delimiter = "$#TLPI#$"
	emptyMark = "$#EMPTY#$"
	nullMark  = "$#NULL#$"
	partCount = 4
)

// Locator is the decoded form of a token locator.
type Locator struct {
	Owner          identity.ScopedUserID
	Origin         *string
	IssuedAtMillis int64
}

// Codec converts locators to and from their string form.
type Codec interface {
	Encode(l Locator) string
	Decode(s string) (Locator, error)
}

// Base64Codec is the production Codec.
type Base64Codec struct{}

var _ Codec = Base64Codec{}

func NewCodec() Base64Codec {
	return Base64Codec{}
}

func (Base64Codec) Encode(l Locator) string {
	localID := l.Owner.LocalID
	if strings.TrimSpace(localID) == "" {
		localID = emptyMark
	}

	var origin string
	switch {
	case l.Origin == nil:
		origin = nullMark
	case *l.Origin == "":
		origin = emptyMark
	default:
		origin = *l.Origin
	}

	raw := strings.Join([]string{
		strconv.FormatInt(l.Owner.TenantID, hexBase),
		encode(localID),
		encode(origin),
		strconv.FormatInt(l.IssuedAtMillis, hexBase),
	}, delimiter)

	return encode(raw)
}

func (Base64Codec) Decode(s string) (Locator, error) {
	raw, err := decode(s)
	if err != nil {
		return Locator{}, malformed("outer encoding: %v", err)
	}
	if strings.TrimSpace(raw) == "" {
		return Locator{}, malformed("empty payload")
	}

	parts := strings.Split(raw, delimiter)
	if len(parts) != partCount {
		return Locator{}, malformed("expected %d parts, got %d", partCount, len(parts))
	}

	tenantID, err := strconv.ParseInt(parts[0], hexBase, 64)
	if err != nil {
		return Locator{}, malformed("tenant: %v", err)
	}

	localID, err := decode(parts[1])
	if err != nil {
		return Locator{}, malformed("user: %v", err)
	}
	if strings.TrimSpace(localID) == "" || localID == emptyMark {
		return Locator{}, malformed("blank user id")
	}

	originRaw, err := decode(parts[2])
	if err != nil {
		return Locator{}, malformed("origin: %v", err)
	}
	var origin *string
	switch originRaw {
	case nullMark:
	case emptyMark:
		origin = new(string)
	default:
		origin = &originRaw
	}

	issuedAt, err := strconv.ParseInt(parts[3], hexBase, 64)
	if err != nil {
		return Locator{}, malformed("timestamp: %v", err)
	}

	return Locator{
		Owner:          identity.NewScopedUserID(localID, tenantID),
		Origin:         origin,
		IssuedAtMillis: issuedAt,
	}, nil
}

func encode(s string) string {
	return base64.StdEncoding.EncodeToString([]byte(s))
}

func decode(s string) (string, error) {
	b, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func malformed(format string, args ...any) error {
	return fmt.Errorf("%w: %s", common.ErrMalformedLocator, fmt.Sprintf(format, args...))
}
