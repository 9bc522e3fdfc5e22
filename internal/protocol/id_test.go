package protocol

import (
	"encoding/json"
	"testing"
)

func TestNewParticipantIDIsFixedWidth(t *testing.T) {
	seen := make(map[ParticipantID]bool)
	for i := 0; i < 64; i++ {
		id := NewParticipantID()
		if !id.Valid() {
			t.Fatalf("NewParticipantID() = %q, not a valid fixed-width id", id)
		}
		if seen[id] {
			t.Fatalf("duplicate id %q", id)
		}
		seen[id] = true
	}
}

func TestRoleAgreement(t *testing.T) {
	pairs := [][2]ParticipantID{
		{"a1", "b1"},
		{"0000000000000000000000000000000f", "00000000000000000000000000000010"},
		{NewParticipantID(), NewParticipantID()},
	}

	for _, p := range pairs {
		a, b := p[0], p[1]
		ra := RoleFor(a, b)
		rb := RoleFor(b, a)
		if ra == rb {
			t.Fatalf("%s/%s: both sides computed role %s", a, b, ra)
		}
		small := a
		if b.Less(a) {
			small = b
		}
		if RoleFor(small, other(p, small)) != RoleInitiator {
			t.Fatalf("%s should be initiator of %v", small, p)
		}
	}
}

func TestPolitenessExactlyOneSideYields(t *testing.T) {
	a, b := ParticipantID("a1"), ParticipantID("b1")

	// a receives an offer from b, b receives an offer from a.
	aPolite := IsPolite(a, b)
	bPolite := IsPolite(b, a)

	if aPolite == bPolite {
		t.Fatalf("IsPolite(a,b)=%v IsPolite(b,a)=%v: exactly one side must yield", aPolite, bPolite)
	}
	if !aPolite {
		t.Fatalf("a1 < b1, so a1 must be polite towards b1")
	}
}

func TestCompareIsBytewise(t *testing.T) {
	if !ParticipantID("A").Less("a") {
		t.Fatal("upper-case ASCII must order before lower-case")
	}
	if ParticipantID("ab").Compare("ab") != 0 {
		t.Fatal("equal ids must compare 0")
	}
}

func TestHandFalseSurvivesEncoding(t *testing.T) {
	data, err := json.Marshal(&Message{Type: TypeHand, ID: "a1", Up: Bool(false)})
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != `{"type":"hand","id":"a1","up":false}` {
		t.Fatalf("unexpected encoding %s", data)
	}
}

func other(p [2]ParticipantID, id ParticipantID) ParticipantID {
	if p[0] == id {
		return p[1]
	}
	return p[0]
}
