package cache

import (
	"net"
	"testing"

	"github.com/miekg/dns"
)

func TestDematerializeRematerializeRoundTrip(t *testing.T) {
	rrs := []dns.RR{
		&dns.A{Hdr: dns.RR_Header{Name: "a.example.", Rrtype: dns.TypeA, Class: dns.ClassINET, Ttl: 300}, A: net.IPv4(192, 0, 2, 1)},
		&dns.A{Hdr: dns.RR_Header{Name: "a.example.", Rrtype: dns.TypeA, Class: dns.ClassINET, Ttl: 200}, A: net.IPv4(192, 0, 2, 2)},
	}
	packed, err := dematerializeRRSet(rrs)
	if err != nil {
		t.Fatal(err)
	}

	got, leftover, err := rematerializeRRSet(packed, "a.example.", dns.TypeA)
	if err != nil {
		t.Fatal(err)
	}
	if len(leftover) != 0 {
		t.Errorf("a single set should consume its whole encoding, %d bytes left", len(leftover))
	}
	if len(got) != 2 {
		t.Fatalf("rematerialized %d RRs, want 2", len(got))
	}
	for i := range got {
		a, ok := got[i].(*dns.A)
		if !ok {
			t.Fatalf("rr %d is %T, want *dns.A", i, got[i])
		}
		if a.A.String() != rrs[i].(*dns.A).A.To4().String() {
			t.Errorf("rr %d rdata = %s, want %s", i, a.A, rrs[i].(*dns.A).A)
		}
		if a.Hdr.Ttl != rrs[i].Header().Ttl {
			t.Errorf("rr %d stored ttl = %d, want %d", i, a.Hdr.Ttl, rrs[i].Header().Ttl)
		}
	}
}

func TestDematerialize_SigSetPeelsOffSeparately(t *testing.T) {
	cname := &dns.CNAME{
		Hdr:    dns.RR_Header{Name: "alias.example.", Rrtype: dns.TypeCNAME, Class: dns.ClassINET, Ttl: 300},
		Target: "target.example.",
	}
	sig := &dns.RRSIG{
		Hdr:         dns.RR_Header{Name: "alias.example.", Rrtype: dns.TypeRRSIG, Class: dns.ClassINET, Ttl: 300},
		TypeCovered: dns.TypeCNAME,
		Algorithm:   dns.ECDSAP256SHA256,
		Labels:      2,
		OrigTtl:     300,
		Expiration:  1790000000,
		Inception:   1780000000,
		KeyTag:      12345,
		SignerName:  "example.",
		Signature:   "MTIzNDU2Nzg=",
	}

	rrTail, err := dematerializeRRSet([]dns.RR{cname})
	if err != nil {
		t.Fatal(err)
	}
	sigTail, err := dematerializeRRSet([]dns.RR{sig})
	if err != nil {
		t.Fatal(err)
	}
	tail := append(append([]byte(nil), rrTail...), sigTail...)

	got, rest, err := rematerializeRRSet(tail, "alias.example.", dns.TypeCNAME)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0].(*dns.CNAME).Target != "target.example." {
		t.Fatalf("main set = %v, want the CNAME", got)
	}

	sigs, rest, err := rematerializeRRSet(rest, "alias.example.", dns.TypeRRSIG)
	if err != nil {
		t.Fatal(err)
	}
	if len(rest) != 0 {
		t.Errorf("%d bytes left after both sets", len(rest))
	}
	if len(sigs) != 1 {
		t.Fatalf("sig set has %d RRs, want 1", len(sigs))
	}
	gotSig := sigs[0].(*dns.RRSIG)
	if gotSig.TypeCovered != dns.TypeCNAME || gotSig.SignerName != "example." || gotSig.KeyTag != 12345 {
		t.Errorf("rematerialized RRSIG lost rdata fields: %v", gotSig)
	}
}

func TestRematerialize_EmptyAndTruncatedTails(t *testing.T) {
	rrs, rest, err := rematerializeRRSet(nil, "a.example.", dns.TypeA)
	if err != nil || rrs != nil || rest != nil {
		t.Errorf("empty tail should yield an empty set, got %v %v %v", rrs, rest, err)
	}

	if _, _, err := rematerializeRRSet([]byte{0}, "a.example.", dns.TypeA); err == nil {
		t.Error("a one-byte tail must fail the count read")
	}
	// Count says one record but no length prefix follows.
	if _, _, err := rematerializeRRSet([]byte{0, 1}, "a.example.", dns.TypeA); err == nil {
		t.Error("a count with no record bytes must fail")
	}
	// Length prefix overruns the data.
	if _, _, err := rematerializeRRSet([]byte{0, 1, 0, 200, 1, 2}, "a.example.", dns.TypeA); err == nil {
		t.Error("an overlong rdlength must fail")
	}
}
