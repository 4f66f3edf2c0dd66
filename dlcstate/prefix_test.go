package dlcstate

import "testing"

func TestContractPrefixTable(t *testing.T) {
	want := map[ContractState]byte{
		ContractOffered: 1, ContractAccepted: 2, ContractSigned: 3, ContractConfirmed: 4,
		ContractPreClosed: 5, ContractClosed: 6, ContractFailedAccept: 7, ContractFailedSign: 8,
		ContractRefunded: 9, ContractRejected: 10,
	}
	if len(contractPrefixes) != len(want) || len(contractStateNames) != len(want) {
		t.Fatalf("table has %d entries, want %d", len(contractPrefixes), len(want))
	}
	seen := make(map[byte]bool)
	for _, e := range contractPrefixes {
		if seen[e.prefix] {
			t.Fatalf("duplicate contract prefix %d", e.prefix)
		}
		seen[e.prefix] = true
		if want[e.state] != e.prefix {
			t.Fatalf("%s has prefix %d, want %d", e.state, e.prefix, want[e.state])
		}
		s, err := ContractStateFromPrefix(e.prefix)
		if err != nil || s != e.state {
			t.Fatalf("prefix %d maps back to %s, %v", e.prefix, s, err)
		}
	}
}

func TestChannelPrefixTable(t *testing.T) {
	want := map[ChannelState]byte{
		ChannelOffered: 100, ChannelAccepted: 101, ChannelSigned: 102, ChannelFailedAccept: 103,
		ChannelFailedSign: 104, ChannelClosing: 105, ChannelClosed: 106, ChannelCounterClosed: 107,
		ChannelClosedPunished: 108, ChannelCollaborativelyClosed: 109, ChannelCancelled: 110,
	}
	if len(channelPrefixes) != len(want) || len(channelStateNames) != len(want) {
		t.Fatalf("table has %d entries, want %d", len(channelPrefixes), len(want))
	}
	seen := make(map[byte]bool)
	for _, e := range channelPrefixes {
		if seen[e.prefix] {
			t.Fatalf("duplicate channel prefix %d", e.prefix)
		}
		seen[e.prefix] = true
		if want[e.state] != e.prefix {
			t.Fatalf("%s has prefix %d, want %d", e.state, e.prefix, want[e.state])
		}
		s, err := ChannelStateFromPrefix(e.prefix)
		if err != nil || s != e.state {
			t.Fatalf("prefix %d maps back to %s, %v", e.prefix, s, err)
		}
	}
	// Contract and channel records live in separate buckets but must still
	// be told apart if ever mixed.
	for _, e := range contractPrefixes {
		if _, err := ChannelStateFromPrefix(e.prefix); err == nil {
			t.Fatalf("contract prefix %d is also a channel prefix", e.prefix)
		}
	}
}

func TestSubstatePrefixTable(t *testing.T) {
	want := map[SignedSubstateKind]byte{
		SubstateEstablished: 1, SubstateSettledOffered: 2, SubstateSettledReceived: 3,
		SubstateSettledAccepted: 4, SubstateSettledConfirmed: 5, SubstateSettled: 6,
		SubstateClosing: 7, SubstateCollaborativeCloseOffered: 8, SubstateRenewAccepted: 9,
		SubstateRenewOffered: 10, SubstateRenewFinalized: 11, SubstateRenewConfirmed: 12,
	}
	if len(substatePrefixes) != len(want) || len(substateNames) != len(want) {
		t.Fatalf("table has %d entries, want %d", len(substatePrefixes), len(want))
	}
	seen := make(map[byte]bool)
	for _, e := range substatePrefixes {
		if seen[e.prefix] {
			t.Fatalf("duplicate substate prefix %d", e.prefix)
		}
		seen[e.prefix] = true
		if want[e.kind] != e.prefix {
			t.Fatalf("%s has prefix %d, want %d", e.kind, e.prefix, want[e.kind])
		}
	}
	if _, err := SubstateFromPrefix(0); err == nil {
		t.Fatal("substate prefix 0 should be unknown")
	}
}
