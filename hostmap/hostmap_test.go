package hostmap_test

import (
	"reflect"
	"testing"

	"github.com/cea-hpc/lhsm-coordinator/hostmap"
)

func TestFirstRuleWins(t *testing.T) {
	m := hostmap.New([]hostmap.Rule{
		{Tag: "ssd", Hosts: []string{"h1", "h2"}},
		{Tag: "s", Hosts: []string{"h3"}},
	})

	hosts, ok := m.Match("grouping=ssd-pool")
	if !ok {
		t.Fatalf("expected match")
	}
	if !reflect.DeepEqual(hosts, []string{"h1", "h2"}) {
		t.Fatalf("got %v, want [h1 h2]", hosts)
	}
}

func TestNoMatch(t *testing.T) {
	m := hostmap.New([]hostmap.Rule{{Tag: "ssd", Hosts: []string{"h1"}}})
	if _, ok := m.Match("grouping=hdd"); ok {
		t.Fatalf("expected no match")
	}
}
