package httpmiddleware

import "testing"

func TestAllowWithinCapacity(t *testing.T) {
	l := NewTokenBucket(2, 2)
	if !l.allow("1.2.3.4") || !l.allow("1.2.3.4") {
		t.Fatal("requests within capacity must be allowed")
	}
	if l.allow("1.2.3.4") {
		t.Error("request beyond capacity must be denied")
	}
}

func TestKeysAreIndependent(t *testing.T) {
	l := NewTokenBucket(1, 1)
	if !l.allow("a") {
		t.Fatal("first request for a must pass")
	}
	if !l.allow("b") {
		t.Error("other clients must not share a's bucket")
	}
}
