package core

import (
	"errors"
	"math"
	"testing"
)

func TestAddSafe(t *testing.T) {
	if v, err := AddSafe(10, 5); err != nil || v != 15 {
		t.Fatalf("got %v %v", v, err)
	}
	if _, err := AddSafe(math.MaxInt64, 1); err == nil {
		t.Fatalf("expected overflow")
	}
	if _, err := AddSafe(math.MinInt64, -1); err == nil {
		t.Fatalf("expected underflow")
	}
}

func TestNormalizeMemberKey(t *testing.T) {
	m, err := MemberKey{Community: " 42 ", User: "7\n"}.Normalize()
	if err != nil || m.Community != "42" || m.User != "7" {
		t.Fatalf("got %+v %v", m, err)
	}
	if _, err := (MemberKey{Community: "42", User: "  "}).Normalize(); !errors.Is(err, ErrInvalidArgument) {
		t.Fatalf("expected invalid argument, got %v", err)
	}
}

func TestFold(t *testing.T) {
	m := MemberKey{Community: "c", User: "u"}
	entries := []LedgerEntry{
		NewEntry(m, EntryCreated, 0, nil),
		NewEntry(m, EntryEarned, 15, nil),
		NewEntry(m, EntryAwarded, 300, ActorRef("mod")),
		NewEntry(m, EntryReclaimed, -100, ActorRef("mod")),
	}
	total, err := Fold(entries)
	if err != nil || total != 215 {
		t.Fatalf("got %d %v", total, err)
	}
	if entries[0].ID == entries[1].ID {
		t.Fatal("entry ids must be unique")
	}
	if entries[0].Actor != nil || *entries[2].Actor != "mod" {
		t.Fatal("unexpected actor refs")
	}
}

func TestErrorTaxonomy(t *testing.T) {
	err := NotFoundf("member %s not found", MentionUser("1"))
	if !errors.Is(err, ErrNotFound) || err.Error() != "member <@!1> not found" {
		t.Fatalf("unexpected error %v", err)
	}
	if !IsUserFacing(err) || !IsUserFacing(InvalidArgumentf("x")) {
		t.Fatal("not found and invalid argument are user facing")
	}
	if IsUserFacing(Unreachablef("bug")) {
		t.Fatal("unreachable must not be user facing")
	}
}

func TestMentions(t *testing.T) {
	if MentionRole("5") != "<@&5>" || MentionChannel("9") != "<#9>" {
		t.Fatal("unexpected mention format")
	}
}
