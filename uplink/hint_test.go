package uplink_test

import (
	"testing"

	"github.com/cea-hpc/lhsm-coordinator/uplink"
)

func TestExtractHintLeadingMatch(t *testing.T) {
	hint, ok := uplink.ExtractHint("grouping=tag1,extra=x", "grouping=")
	if !ok || hint != "tag1" {
		t.Fatalf("got (%q, %v), want (tag1, true)", hint, ok)
	}
}

func TestExtractHintMidString(t *testing.T) {
	hint, ok := uplink.ExtractHint("path=/a/b,grouping=ssd", "grouping=")
	if !ok || hint != "ssd" {
		t.Fatalf("got (%q, %v), want (ssd, true)", hint, ok)
	}
}

func TestExtractHintSkipsFalsePositive(t *testing.T) {
	// "xgrouping=" inside a value isn't preceded by a comma or the start
	// of the string, so it must not match; the real tag follows later.
	hint, ok := uplink.ExtractHint("foo=xgrouping=bad,grouping=real", "grouping=")
	if !ok || hint != "real" {
		t.Fatalf("got (%q, %v), want (real, true)", hint, ok)
	}
}

func TestExtractHintRejectsInvalidChars(t *testing.T) {
	_, ok := uplink.ExtractHint("grouping=bad/value", "grouping=")
	if ok {
		t.Fatalf("expected rejection of non-alnum hint value")
	}
}

func TestExtractHintNoMatch(t *testing.T) {
	_, ok := uplink.ExtractHint("nothing here", "grouping=")
	if ok {
		t.Fatalf("expected no match")
	}
}

func TestExtractHintTooLong(t *testing.T) {
	long := make([]byte, 65)
	for i := range long {
		long[i] = 'a'
	}
	_, ok := uplink.ExtractHint("grouping="+string(long), "grouping=")
	if ok {
		t.Fatalf("expected rejection of a hint longer than 64 bytes")
	}
}
