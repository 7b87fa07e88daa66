package identity

import "strings"

// Authority is a strictly ordered privilege level. A user holding level N
// implicitly holds every level below it.
type Authority int

const (
	AuthorityDefault Authority = iota
	AuthorityModerator
	AuthorityAdmin
	AuthorityOwner
)

// NoGroupName is returned by NextGroupName for the highest level.
const NoGroupName = "nobody"

var authorityNames = [...]string{"DEFAULT", "MODERATOR", "ADMIN", "OWNER"}

var groupNames = [...]string{"users", "moderators", "admins", "owners"}

// Authorities lists every level in ascending order.
func Authorities() []Authority {
	return []Authority{AuthorityDefault, AuthorityModerator, AuthorityAdmin, AuthorityOwner}
}

func (a Authority) valid() bool {
	return a >= AuthorityDefault && a <= AuthorityOwner
}

func (a Authority) String() string {
	if !a.valid() {
		return "UNKNOWN"
	}
	return authorityNames[a]
}

// AtLeast reports whether a grants everything other grants.
func (a Authority) AtLeast(other Authority) bool {
	return a >= other
}

// GroupName is the plural, human readable name of the holders of a level,
// e.g. ADMIN -> "admins".
func (a Authority) GroupName() string {
	if !a.valid() {
		return NoGroupName
	}
	return groupNames[a]
}

// NextGroupName names the group one level above a, or NoGroupName when a is
// already the highest level.
func (a Authority) NextGroupName() string {
	next := a + 1
	if !next.valid() {
		return NoGroupName
	}
	return next.GroupName()
}

// AllLevelsUpTo returns every level from DEFAULT to level, inclusive.
func AllLevelsUpTo(level Authority) []Authority {
	if !level.valid() {
		return []Authority{AuthorityDefault}
	}
	out := make([]Authority, 0, level+1)
	for a := AuthorityDefault; a <= level; a++ {
		out = append(out, a)
	}
	return out
}

// ParseAuthority matches name case-insensitively, falling back to def.
func ParseAuthority(name string, def Authority) Authority {
	name = strings.ToUpper(strings.TrimSpace(name))
	for i, n := range authorityNames {
		if n == name {
			return Authority(i)
		}
	}
	return def
}

// ResolveAuthority picks the highest level named in names. Unknown names are
// ignored and an empty or fully unknown set degrades to def, never to an
// error: an unreadable claim yields the least privilege.
func ResolveAuthority(names []string, def Authority) Authority {
	resolved := def
	found := false
	for _, name := range names {
		a := ParseAuthority(name, -1)
		if !a.valid() {
			continue
		}
		if !found || a > resolved {
			resolved = a
			found = true
		}
	}
	return resolved
}

// Names returns the String form of each level.
func Names(levels []Authority) []string {
	out := make([]string, len(levels))
	for i, a := range levels {
		out[i] = a.String()
	}
	return out
}
