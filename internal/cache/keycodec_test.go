package cache

import (
	"bytes"
	"testing"

	"github.com/miekg/dns"
)

func TestNameToLF_AncestorIsPrefix(t *testing.T) {
	parent, err := nameToLF("example.com.")
	if err != nil {
		t.Fatal(err)
	}
	child, err := nameToLF("www.example.com.")
	if err != nil {
		t.Fatal(err)
	}
	want := append(append([]byte{}, parent...), 0)
	if !bytes.HasPrefix(child, want) {
		t.Errorf("LF(child) = %x should have LF(parent)+0x00 = %x as a prefix", child, want)
	}
}

func TestNameToLF_OrderMatchesCanonical(t *testing.T) {
	// "a.example." sorts before "b.example." canonically, and LF
	// preserves that under plain byte comparison since labels are
	// reversed first.
	a, err := nameToLF("a.example.")
	if err != nil {
		t.Fatal(err)
	}
	b, err := nameToLF("b.example.")
	if err != nil {
		t.Fatal(err)
	}
	if bytes.Compare(a, b) >= 0 {
		t.Errorf("LF(a.example.) = %x should sort before LF(b.example.) = %x", a, b)
	}
}

func TestNameToLF_RejectsZeroByteLabel(t *testing.T) {
	if _, err := nameToLF("a\x00b.example."); err == nil {
		t.Error("expected an error for a label containing a zero byte")
	}
}

func TestStorageType(t *testing.T) {
	if got := storageType(dns.TypeCNAME); got != dns.TypeNS {
		t.Errorf("storageType(CNAME) = %v, want NS", got)
	}
	if got := storageType(dns.TypeDNAME); got != dns.TypeNS {
		t.Errorf("storageType(DNAME) = %v, want NS", got)
	}
	if got := storageType(dns.TypeA); got != dns.TypeA {
		t.Errorf("storageType(A) = %v, want A unchanged", got)
	}
}

func TestKeyExact_DistinguishesTagAndType(t *testing.T) {
	lf, _ := nameToLF("example.com.")
	k1 := keyExact(lf, TagExact, dns.TypeA)
	k2 := keyExact(lf, TagExact, dns.TypeAAAA)
	k3 := keyExact(lf, TagNSEC1, 0)
	if bytes.Equal(k1, k2) {
		t.Error("keys for different types must differ")
	}
	if bytes.Equal(k1, k3) {
		t.Error("keys for different tags must differ")
	}
}

func TestNameToLF_LowercasesForCanonicalOrder(t *testing.T) {
	a, err := nameToLF("ExAmPle.COM.")
	if err != nil {
		t.Fatal(err)
	}
	b, err := nameToLF("example.com.")
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(a, b) {
		t.Errorf("LF must be case-insensitive: %x != %x", a, b)
	}
}

func TestKeyNSEC1_ZoneBlockStaysContiguous(t *testing.T) {
	zone, _ := nameToLF("example.")
	zlen := len(zone)
	apexKey := keyNSEC1(zone, zlen)
	aLF, _ := nameToLF("a.example.")
	aKey := keyNSEC1(aLF, zlen)
	bLF, _ := nameToLF("b.example.")
	bKey := keyNSEC1(bLF, zlen)

	if !(bytes.Compare(apexKey, aKey) < 0 && bytes.Compare(aKey, bKey) < 0) {
		t.Errorf("NSEC1 keys must sort in within-zone canonical order: %x %x %x",
			apexKey, aKey, bKey)
	}

	// Exact-tag keys for names inside the zone must sort outside the
	// NSEC1 block, or ReadLEQ probes would land on them.
	exact := keyExact(aLF, TagExact, dns.TypeA)
	if bytes.Compare(exact, bKey) <= 0 {
		t.Errorf("exact key %x interleaves with the NSEC1 block (%x)", exact, bKey)
	}
}

func TestCommonAncestorLabels(t *testing.T) {
	cases := []struct {
		a, b string
		want int
	}{
		{"a.example.", "b.example.", 1},
		{"www.a.example.", "b.a.example.", 2},
		{"example.", "b.example.", 1},
		{"a.example.", "a.EXAMPLE.", 2},
		{"a.example.", "b.other.", 0},
	}
	for _, tc := range cases {
		if got := commonAncestorLabels(tc.a, tc.b); got != tc.want {
			t.Errorf("commonAncestorLabels(%q, %q) = %d, want %d", tc.a, tc.b, got, tc.want)
		}
	}
}

func TestSplitOwnerLabels(t *testing.T) {
	got, err := splitOwnerLabels("www.example.com.", 1)
	if err != nil {
		t.Fatal(err)
	}
	if got != "example.com." {
		t.Errorf("splitOwnerLabels(www.example.com., 1) = %q, want example.com.", got)
	}

	if _, err := splitOwnerLabels("example.com.", 5); err == nil {
		t.Error("expected an error stripping more labels than the name has")
	}
}
