package cache

import (
	"net"

	"github.com/miekg/dns"
)

// aRRSet builds a single-RR A RRSet at owner with the given address and TTL.
func aRRSet(owner, addr string, ttl uint32) []dns.RR {
	rr := &dns.A{
		Hdr: dns.RR_Header{Name: dns.Fqdn(owner), Rrtype: dns.TypeA, Class: dns.ClassINET, Ttl: ttl},
		A:   net.ParseIP(addr),
	}
	return []dns.RR{rr}
}

func cnameRRSet(owner, target string, ttl uint32) []dns.RR {
	rr := &dns.CNAME{
		Hdr:    dns.RR_Header{Name: dns.Fqdn(owner), Rrtype: dns.TypeCNAME, Class: dns.ClassINET, Ttl: ttl},
		Target: dns.Fqdn(target),
	}
	return []dns.RR{rr}
}

func nsRRSet(owner, ns string, ttl uint32) []dns.RR {
	rr := &dns.NS{
		Hdr: dns.RR_Header{Name: dns.Fqdn(owner), Rrtype: dns.TypeNS, Class: dns.ClassINET, Ttl: ttl},
		Ns:  dns.Fqdn(ns),
	}
	return []dns.RR{rr}
}

func soaRRSet(owner string, ttl uint32) []dns.RR {
	rr := &dns.SOA{
		Hdr:     dns.RR_Header{Name: dns.Fqdn(owner), Rrtype: dns.TypeSOA, Class: dns.ClassINET, Ttl: ttl},
		Ns:      "ns1." + dns.Fqdn(owner),
		Mbox:    "hostmaster." + dns.Fqdn(owner),
		Serial:  2026080100,
		Refresh: 7200,
		Retry:   3600,
		Expire:  1209600,
		Minttl:  300,
	}
	return []dns.RR{rr}
}

// nsecRecord builds an NSEC with a sorted type bitmap, the shape a
// validated denial proof arrives in.
func nsecRecord(owner, next string, ttl uint32, types ...uint16) *dns.NSEC {
	return &dns.NSEC{
		Hdr:        dns.RR_Header{Name: dns.Fqdn(owner), Rrtype: dns.TypeNSEC, Class: dns.ClassINET, Ttl: ttl},
		NextDomain: dns.Fqdn(next),
		TypeBitMap: types,
	}
}

// rrsigRecord builds a syntactically complete RRSIG; the signature
// bytes are arbitrary since nothing in the cache verifies them.
func rrsigRecord(owner string, covered uint16, labels uint8, signer string, ttl uint32) *dns.RRSIG {
	return &dns.RRSIG{
		Hdr:         dns.RR_Header{Name: dns.Fqdn(owner), Rrtype: dns.TypeRRSIG, Class: dns.ClassINET, Ttl: ttl},
		TypeCovered: covered,
		Algorithm:   dns.ECDSAP256SHA256,
		Labels:      labels,
		OrigTtl:     ttl,
		Expiration:  1790000000,
		Inception:   1780000000,
		KeyTag:      23456,
		SignerName:  dns.Fqdn(signer),
		Signature:   "MTIzNDU2Nzg=",
	}
}
