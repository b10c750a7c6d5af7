package accesspoint

import (
	"math/rand"
	"testing"

	"apsta"
)

func peer(mac string, aid uint16) apsta.PeerID {
	return apsta.PeerID{MAC: mac, AID: aid}
}

func TestHost_ScenarioC_IdempotentJoin(t *testing.T) {
	h := NewHost()

	if !h.Join(peer("AA:BB", 1)) {
		t.Error("first join should report a change")
	}
	if h.Join(peer("AA:BB", 1)) {
		t.Error("second join should be a no-op")
	}
	if h.Len() != 1 {
		t.Errorf("len = %d, want 1", h.Len())
	}
}

func TestHost_JoinThenLeave(t *testing.T) {
	h := NewHost()
	p := peer("AA:BB", 1)

	h.Join(p)
	if !h.Leave(p) {
		t.Error("leave of a member should report a change")
	}
	if h.Has(p) || h.Len() != 0 {
		t.Errorf("peer still present after leave: %v", h.Peers())
	}
}

func TestHost_LeaveAbsentIsNoop(t *testing.T) {
	h := NewHost()
	if h.Leave(peer("AA:BB", 1)) {
		t.Error("leave of an absent peer should be a no-op")
	}
}

func TestHost_RejoinAfterLeave(t *testing.T) {
	h := NewHost()
	p := peer("AA:BB", 1)

	h.Join(p)
	h.Leave(p)
	h.Join(p)

	if !h.Has(p) {
		t.Error("join after leave should re-add the peer")
	}
}

func TestHost_AIDDistinguishesPeers(t *testing.T) {
	h := NewHost()
	h.Join(peer("AA:BB", 1))
	h.Join(peer("AA:BB", 2))

	if h.Len() != 2 {
		t.Errorf("len = %d, want 2", h.Len())
	}
}

func TestHost_DistinctIDsCommute(t *testing.T) {
	type op struct {
		peer apsta.PeerID
		join bool
	}
	ops := []op{
		{peer("AA:01", 1), true},
		{peer("AA:02", 2), true},
		{peer("AA:03", 3), true},
		{peer("AA:02", 2), false},
		{peer("AA:04", 4), true},
	}
	// Per-id order is preserved; cross-id order is shuffled.
	byID := map[apsta.PeerID][]op{}
	var ids []apsta.PeerID
	for _, o := range ops {
		if _, ok := byID[o.peer]; !ok {
			ids = append(ids, o.peer)
		}
		byID[o.peer] = append(byID[o.peer], o)
	}

	want := []apsta.PeerID{peer("AA:01", 1), peer("AA:03", 3), peer("AA:04", 4)}
	rng := rand.New(rand.NewSource(1))
	for round := 0; round < 50; round++ {
		h := NewHost()
		queues := map[apsta.PeerID][]op{}
		for id, q := range byID {
			queues[id] = append([]op(nil), q...)
		}
		for remaining := len(ops); remaining > 0; remaining-- {
			var ready []apsta.PeerID
			for _, id := range ids {
				if len(queues[id]) > 0 {
					ready = append(ready, id)
				}
			}
			id := ready[rng.Intn(len(ready))]
			o := queues[id][0]
			queues[id] = queues[id][1:]
			if o.join {
				h.Join(o.peer)
			} else {
				h.Leave(o.peer)
			}
		}

		got := h.Peers()
		if len(got) != len(want) {
			t.Fatalf("round %d: peers = %v, want %v", round, got, want)
		}
		for i := range want {
			if got[i] != want[i] {
				t.Fatalf("round %d: peers = %v, want %v", round, got, want)
			}
		}
	}
}

func TestHost_OnChangeFiresOnlyOnChange(t *testing.T) {
	type change struct {
		peer   apsta.PeerID
		joined bool
	}
	var changes []change
	h := NewHost(OnChange(func(p apsta.PeerID, joined bool) {
		changes = append(changes, change{p, joined})
	}))
	p := peer("AA:BB", 1)

	h.Join(p)
	h.Join(p)
	h.Leave(p)
	h.Leave(p)

	if len(changes) != 2 {
		t.Fatalf("changes = %v, want 2 entries", changes)
	}
	if !changes[0].joined || changes[1].joined {
		t.Errorf("changes = %v, want join then leave", changes)
	}
}

func TestHost_PeersReturnsCopy(t *testing.T) {
	h := NewHost()
	h.Join(peer("AA:BB", 1))

	got := h.Peers()
	got[0] = peer("FF:FF", 9)

	if !h.Has(peer("AA:BB", 1)) {
		t.Error("mutating the returned slice changed the host")
	}
}
