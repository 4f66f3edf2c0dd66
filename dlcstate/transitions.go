package dlcstate

var contractTransitions = map[ContractState][]ContractState{
	// The offer party skips Accepted: it moves straight to Signed when the
	// counterparty's accept verifies.
	ContractOffered:  {ContractAccepted, ContractSigned, ContractRejected, ContractFailedAccept},
	ContractAccepted: {ContractSigned, ContractFailedSign},
	// Channel contracts close directly when the channel closes.
	ContractSigned:    {ContractConfirmed, ContractRefunded, ContractClosed},
	ContractConfirmed: {ContractPreClosed, ContractRefunded, ContractClosed},
	ContractPreClosed: {ContractClosed},
}

// CanTransition reports whether a contract may move from s to to.
func (s ContractState) CanTransition(to ContractState) bool {
	for _, t := range contractTransitions[s] {
		if t == to {
			return true
		}
	}
	return false
}

// IsTerminal reports whether no transition leaves s.
func (s ContractState) IsTerminal() bool { return len(contractTransitions[s]) == 0 }

var channelTransitions = map[ChannelState][]ChannelState{
	ChannelOffered:  {ChannelAccepted, ChannelSigned, ChannelCancelled, ChannelFailedAccept},
	ChannelAccepted: {ChannelSigned, ChannelFailedSign},
	ChannelSigned: {ChannelClosing, ChannelCollaborativelyClosed,
		ChannelCounterClosed, ChannelClosedPunished},
	ChannelClosing: {ChannelClosed, ChannelCollaborativelyClosed,
		ChannelCounterClosed, ChannelClosedPunished},
}

// CanTransition reports whether a channel may move from s to to.
func (s ChannelState) CanTransition(to ChannelState) bool {
	for _, t := range channelTransitions[s] {
		if t == to {
			return true
		}
	}
	return false
}

// IsTerminal reports whether no transition leaves s.
func (s ChannelState) IsTerminal() bool { return len(channelTransitions[s]) == 0 }

var substateTransitions = map[SignedSubstateKind][]SignedSubstateKind{
	SubstateEstablished: {SubstateSettledOffered, SubstateSettledReceived,
		SubstateRenewOffered, SubstateCollaborativeCloseOffered, SubstateClosing},
	SubstateSettledOffered:   {SubstateSettledConfirmed, SubstateEstablished, SubstateClosing},
	SubstateSettledReceived:  {SubstateSettledAccepted, SubstateEstablished, SubstateClosing},
	SubstateSettledAccepted:  {SubstateSettled, SubstateClosing},
	SubstateSettledConfirmed: {SubstateSettled, SubstateClosing},
	SubstateSettled: {SubstateSettledOffered, SubstateSettledReceived,
		SubstateRenewOffered, SubstateCollaborativeCloseOffered, SubstateClosing},
	SubstateRenewOffered: {SubstateRenewAccepted, SubstateRenewConfirmed,
		SubstateEstablished, SubstateSettled, SubstateClosing},
	SubstateRenewAccepted:             {SubstateRenewFinalized, SubstateClosing},
	SubstateRenewConfirmed:            {SubstateEstablished, SubstateClosing},
	SubstateRenewFinalized:            {SubstateEstablished, SubstateClosing},
	SubstateCollaborativeCloseOffered: {SubstateEstablished, SubstateSettled, SubstateClosing},
}

// CanTransition reports whether a signed channel may move between substates.
func (k SignedSubstateKind) CanTransition(to SignedSubstateKind) bool {
	for _, t := range substateTransitions[k] {
		if t == to {
			return true
		}
	}
	return false
}
