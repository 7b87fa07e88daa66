// Package geo maps client IP addresses to coarse location strings.
package geo

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"net/netip"
	"os"
	"sort"
	"strings"

	"github.com/dmitrijs2005/tenantguard/internal/common"
)

// Resolver looks up a location for an IP. Callers treat every error as
// "unknown location".
type Resolver interface {
	Lookup(ctx context.Context, ip string) (string, error)
}

// Nop never knows where anyone is.
type Nop struct{}

func (Nop) Lookup(context.Context, string) (string, error) {
	return "", common.ErrorNotFound
}

type entry struct {
	prefix   netip.Prefix
	location string
}

// Table is an in-memory prefix table. The longest matching prefix wins.
type Table struct {
	entries []entry
}

// LoadTable reads "cidr,location" rows. Blank lines and lines starting with
// '#' are skipped.
func LoadTable(path string) (*Table, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return ParseTable(f)
}

func ParseTable(r io.Reader) (*Table, error) {
	cr := csv.NewReader(r)
	cr.Comment = '#'
	cr.FieldsPerRecord = 2
	cr.TrimLeadingSpace = true

	t := &Table{}
	for {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("geo table: %w", err)
		}
		prefix, err := netip.ParsePrefix(strings.TrimSpace(rec[0]))
		if err != nil {
			return nil, fmt.Errorf("geo table: %w", err)
		}
		t.entries = append(t.entries, entry{prefix: prefix.Masked(), location: strings.TrimSpace(rec[1])})
	}

	sort.SliceStable(t.entries, func(i, j int) bool {
		return t.entries[i].prefix.Bits() > t.entries[j].prefix.Bits()
	})
	return t, nil
}

func (t *Table) Lookup(_ context.Context, ip string) (string, error) {
	addr, err := netip.ParseAddr(strings.TrimSpace(ip))
	if err != nil {
		return "", fmt.Errorf("geo lookup %q: %w", ip, err)
	}
	addr = addr.Unmap()
	for _, e := range t.entries {
		if e.prefix.Contains(addr) {
			return e.location, nil
		}
	}
	return "", common.ErrorNotFound
}
