package message_test

import (
	"testing"

	"github.com/momentics/reqpipe/message"
)

func TestHeaderCaseInsensitiveLookup(t *testing.T) {
	h := message.NewHeader()
	h.Set("Content-Type", "text/plain")

	if got := h.Get("content-type"); got != "text/plain" {
		t.Fatalf("Get(content-type) = %q, want text/plain", got)
	}
	if got := h.Get("CONTENT-TYPE"); got != "text/plain" {
		t.Fatalf("Get(CONTENT-TYPE) = %q, want text/plain", got)
	}
	if !h.Has("Content-Type") {
		t.Fatal("Has(Content-Type) = false, want true")
	}
}

func TestHeaderPreservesFirstSeenCasingAndOrder(t *testing.T) {
	h := message.NewHeader()
	h.Add("X-First", "1")
	h.Add("X-Second", "2")
	h.Add("x-first", "3") // same key, different casing: value appended, casing unchanged

	var names []string
	var values []string
	h.Each(func(name, value string) {
		names = append(names, name)
		values = append(values, value)
	})

	wantNames := []string{"X-First", "X-First", "X-Second"}
	wantValues := []string{"1", "3", "2"}
	if len(names) != len(wantNames) {
		t.Fatalf("Each produced %d pairs, want %d", len(names), len(wantNames))
	}
	for i := range wantNames {
		if names[i] != wantNames[i] || values[i] != wantValues[i] {
			t.Fatalf("pair %d = (%q, %q), want (%q, %q)", i, names[i], values[i], wantNames[i], wantValues[i])
		}
	}
}

func TestHeaderSetReplacesAllValues(t *testing.T) {
	h := message.NewHeader()
	h.Add("X-Tag", "a")
	h.Add("X-Tag", "b")
	h.Set("X-Tag", "c")

	if got := h.Values("X-Tag"); len(got) != 1 || got[0] != "c" {
		t.Fatalf("Values after Set = %v, want [c]", got)
	}
}

func TestHeaderDelRemovesKeyAndOrderEntry(t *testing.T) {
	h := message.NewHeader()
	h.Add("A", "1")
	h.Add("B", "2")
	h.Del("A")

	if h.Has("A") {
		t.Fatal("Has(A) = true after Del")
	}
	var names []string
	h.Each(func(name, value string) { names = append(names, name) })
	if len(names) != 1 || names[0] != "B" {
		t.Fatalf("Each after Del = %v, want [B]", names)
	}
}

func TestHeaderContainsToken(t *testing.T) {
	h := message.NewHeader()
	h.Add("Connection", "keep-alive, Upgrade")

	if !h.ContainsToken("Connection", "upgrade") {
		t.Fatal("ContainsToken(Connection, upgrade) = false, want true")
	}
	if h.ContainsToken("Connection", "close") {
		t.Fatal("ContainsToken(Connection, close) = true, want false")
	}
}

func TestHeaderClone(t *testing.T) {
	h := message.NewHeader()
	h.Add("X", "1")
	clone := h.Clone()
	clone.Add("X", "2")

	if got := h.Values("X"); len(got) != 1 {
		t.Fatalf("original mutated by clone: Values(X) = %v", got)
	}
	if got := clone.Values("X"); len(got) != 2 {
		t.Fatalf("clone Values(X) = %v, want 2 entries", got)
	}
}
