package env

import (
	"strings"
	"testing"
)

func lookup(kvs []string, key string) (string, bool) {
	for _, kv := range kvs {
		if strings.HasPrefix(kv, key+"=") {
			return kv[len(key)+1:], true
		}
	}
	return "", false
}

func TestMergePrecedence(t *testing.T) {
	e := New()
	e.env = Var{"BASE": "os", "SHARED": "os"}
	e.Set("SHARED", "global")
	e.Set("GLOBAL", "g")

	out := e.Merge([]string{"SHARED=proc", "EXTRA=x"})

	want := map[string]string{
		"BASE":   "os",
		"SHARED": "proc",
		"GLOBAL": "g",
		"EXTRA":  "x",
	}
	for k, v := range want {
		if got, ok := lookup(out, k); !ok || got != v {
			t.Errorf("%s = %q (ok=%v), want %q", k, got, ok, v)
		}
	}
}

func TestMergeExpandsReferences(t *testing.T) {
	e := New()
	e.env = Var{"HOME": "/srv"}
	e.Set("DATA_DIR", "${HOME}/data")

	out := e.Merge(nil)
	if got, _ := lookup(out, "DATA_DIR"); got != "/srv/data" {
		t.Fatalf("DATA_DIR = %q", got)
	}
}

func TestUnset(t *testing.T) {
	e := New()
	e.env = Var{}
	e.Set("A", "1")
	e.Unset("A")
	if got, ok := lookup(e.Merge(nil), "A"); ok {
		t.Fatalf("A survived unset: %q", got)
	}
}

func TestMergeSkipsMalformedEntries(t *testing.T) {
	e := New()
	e.env = Var{}
	out := e.Merge([]string{"novalue", "=empty-key", "OK=1"})
	if got, ok := lookup(out, "OK"); !ok || got != "1" {
		t.Fatalf("OK = %q ok=%v", got, ok)
	}
	if len(out) != 1 {
		t.Fatalf("out = %v", out)
	}
}
