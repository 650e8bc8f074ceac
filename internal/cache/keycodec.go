// Key encoding: canonical DNS name "lookup format" plus a one-byte tag
// and a 2-byte type suffix. Grounded directly on lib/cache/api.c's
// key_exact_type_maypkt/key_NSEC1 (CACHE_KEY_DEF) from the original
// resolver this cache was distilled from: reversed, length-free labels
// so that lexicographic byte order equals DNS canonical name order,
// which ReadLEQ-based closest-encloser search depends on.
package cache

import (
	"encoding/binary"
	"fmt"

	"github.com/miekg/dns"
)

// Tag distinguishes what kind of record a key names at a given owner.
type Tag byte

const (
	// TagExact marks an exact RR of the type carried in the key's
	// type suffix (CNAME/DNAME are rewritten to NS, see
	// storageType).
	TagExact Tag = 'E'
	// TagNSEC1 marks an NSEC record covering the name encoded in
	// the key's owner portion, within the zone named by the key
	// prefix up to zlfLen bytes.
	TagNSEC1 Tag = '1'
	// TagNSEC3 is reserved; aggressive NSEC3 caching is not
	// implemented (stashPrecondition rejects NSEC3 records).
	TagNSEC3 Tag = '3'
)

// nameToLF renders name (a presentation-format FQDN) into lookup
// format: labels in reverse order, raw label bytes only (no DNS wire
// length octet), separated by a single 0x00 between adjacent labels.
// ASCII letters are lowercased so that byte comparison of two LFs
// equals DNS canonical ordering. Per the key ordering invariant, no
// terminator follows the last (i.e. leftmost) label; the caller
// appends that separator itself when assembling a full key, since it
// does double duty as the tag's delimiter.
func nameToLF(name string) ([]byte, error) {
	labels := dns.SplitDomainName(name)
	out := make([]byte, 0, len(name))
	for i := len(labels) - 1; i >= 0; i-- {
		label := labels[i]
		if i != len(labels)-1 {
			out = append(out, 0)
		}
		for j := 0; j < len(label); j++ {
			c := label[j]
			if c == 0 {
				return nil, fmt.Errorf("cache: label of %q contains a zero byte", name)
			}
			if 'A' <= c && c <= 'Z' {
				c += 'a' - 'A'
			}
			out = append(out, c)
		}
	}
	return out, nil
}

// storageType rewrites CNAME/DNAME onto NS so that xNAME data is
// colocated with zone-cut (NS) entries, cutting the number of probes
// closest_NS needs. The true type is preserved in the entry header's
// has_cname/has_dname flags (see entry.go).
func storageType(rrtype uint16) uint16 {
	switch rrtype {
	case dns.TypeCNAME, dns.TypeDNAME:
		return dns.TypeNS
	default:
		return rrtype
	}
}

// keyExact builds `LF(name) || 0x00 || tag || type_be`, the
// CACHE_KEY_DEF layout for exact name+type lookups. rrtype must
// already have gone through storageType where applicable.
func keyExact(lf []byte, tag Tag, rrtype uint16) []byte {
	key := make([]byte, 0, len(lf)+1+1+2)
	key = append(key, lf...)
	key = append(key, 0, byte(tag))
	var typeBuf [2]byte
	binary.BigEndian.PutUint16(typeBuf[:], rrtype)
	return append(key, typeBuf[:]...)
}

// keyNSEC1 builds the key an NSEC record is stored under: the zone
// apex's LF prefix, the usual 0x00+tag delimiter, then the remainder
// of the owner's LF bytes within that zone. Anchoring the tag at the
// zone boundary keeps every NSEC1 key of one zone in a contiguous
// block ordered by within-zone canonical name, which is the order the
// ReadLEQ encloser probe walks; an exact-tag key can never interleave
// because its delimiter sits at its own full name's end instead.
func keyNSEC1(ownerLF []byte, zlfLen int) []byte {
	if zlfLen > len(ownerLF) {
		zlfLen = len(ownerLF)
	}
	key := make([]byte, 0, len(ownerLF)+2)
	key = append(key, ownerLF[:zlfLen]...)
	key = append(key, 0, byte(TagNSEC1))
	return append(key, ownerLF[zlfLen:]...)
}

// zonePrefix returns the first zlfLen bytes of a full lookup-format
// name, i.e. the zone's own LF encoding with no trailing separator.
// Keys sharing this prefix (up to the tag byte) are the NS/SOA/NSEC
// entries published at or under that zone's apex.
func zonePrefix(lf []byte, zlfLen int) []byte {
	if zlfLen > len(lf) {
		zlfLen = len(lf)
	}
	return lf[:zlfLen]
}

// splitOwnerLabels strips the leading `n` labels from name and returns
// the resulting ancestor name, still presentation-format and FQDN.
// Used to compute the wildcard encloser (rr.owner minus wild_labels)
// and the NSEC closest-encloser (sname minus clencl_labels).
func splitOwnerLabels(name string, n int) (string, error) {
	if n == 0 {
		return dns.Fqdn(name), nil
	}
	labels := dns.SplitDomainName(name)
	if n > len(labels) {
		return "", fmt.Errorf("cache: cannot strip %d labels from %q", n, name)
	}
	return dns.Fqdn(joinLabels(labels[n:])), nil
}

func joinLabels(labels []string) string {
	if len(labels) == 0 {
		return "."
	}
	out := ""
	for _, l := range labels {
		out += escapeLabel(l) + "."
	}
	return out
}

// escapeLabel re-applies the \DDD / \X escaping dns.SplitDomainName
// strips off, so a label can be safely rejoined into presentation
// format.
func escapeLabel(label string) string {
	out := make([]byte, 0, len(label))
	for i := 0; i < len(label); i++ {
		c := label[i]
		switch {
		case c == '.' || c == '\\':
			out = append(out, '\\', c)
		case c < 0x20 || c == 0x7f:
			out = append(out, []byte(fmt.Sprintf("\\%03d", c))...)
		default:
			out = append(out, c)
		}
	}
	return string(out)
}

// labelCount returns the number of labels in an FQDN, counting the
// zone apex but not the implicit root.
func labelCount(name string) int {
	return dns.CountLabel(name)
}

// commonAncestorLabels counts how many trailing labels a and b share,
// case-insensitively. This is the label count of their longest common
// ancestor, which for an NSEC owner covering a nonexistent name is the
// closest provable encloser.
func commonAncestorLabels(a, b string) int {
	la, lb := dns.SplitDomainName(a), dns.SplitDomainName(b)
	n := 0
	for n < len(la) && n < len(lb) {
		if !labelEqualFold(la[len(la)-1-n], lb[len(lb)-1-n]) {
			break
		}
		n++
	}
	return n
}

func labelEqualFold(a, b string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := 0; i < len(a); i++ {
		ca, cb := a[i], b[i]
		if 'A' <= ca && ca <= 'Z' {
			ca += 'a' - 'A'
		}
		if 'A' <= cb && cb <= 'Z' {
			cb += 'a' - 'A'
		}
		if ca != cb {
			return false
		}
	}
	return true
}
