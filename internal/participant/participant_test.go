package participant

import "testing"

func TestConnectThenReconnectByIdentityReusesID(t *testing.T) {
	r := New(nil)
	id1 := r.Connect("mic-1", IdentityHint{Serial: "SN123"}, []string{"audio-in"})
	id2 := r.Connect("mic-1 (renamed)", IdentityHint{Serial: "SN123"}, []string{"audio-in"})
	if id1 != id2 {
		t.Errorf("reconnect with matching identity hint should reuse id, got %v and %v", id1, id2)
	}
}

func TestDisconnectMarksOfflineWithoutRemoving(t *testing.T) {
	r := New(nil)
	id := r.Connect("mic-1", IdentityHint{Serial: "SN123"}, nil)
	if err := r.Disconnect(id); err != nil {
		t.Fatalf("Disconnect() error: %v", err)
	}
	all := r.List(true)
	if len(all) != 1 || all[0].Online {
		t.Errorf("List(true) after disconnect = %+v, want one offline entry", all)
	}
	if online := r.List(false); len(online) != 0 {
		t.Errorf("List(false) after disconnect = %d, want 0", len(online))
	}
}

func TestTombstoneHidesFromList(t *testing.T) {
	r := New(nil)
	id := r.Connect("mic-1", IdentityHint{Serial: "SN123"}, nil)
	if err := r.Tombstone(id); err != nil {
		t.Fatalf("Tombstone() error: %v", err)
	}
	if len(r.List(true)) != 0 {
		t.Error("tombstoned participant should not appear in List")
	}
	if len(r.Tombstoned()) != 1 {
		t.Error("tombstoned participant should appear in Tombstoned")
	}
}

func TestByCapabilityFiltersMatches(t *testing.T) {
	r := New(nil)
	r.Connect("mic-1", IdentityHint{Serial: "A"}, []string{"audio-in"})
	r.Connect("pad-1", IdentityHint{Serial: "B"}, []string{"midi-in"})

	got := r.ByCapability("midi-in")
	if len(got) != 1 || got[0].Label != "pad-1" {
		t.Errorf("ByCapability(\"midi-in\") = %+v, want [pad-1]", got)
	}
}

func TestHeartbeatUnknownParticipantErrors(t *testing.T) {
	r := New(nil)
	if err := r.Heartbeat([16]byte{9}); err == nil {
		t.Error("Heartbeat() on unknown participant should error")
	}
}
