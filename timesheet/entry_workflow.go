package timesheet

// =============================================================================
// ENTRY STATE MACHINE
// =============================================================================
//
//   SAVED <-> PENDING_APPROVAL -> APPROVED -> INVOICED
//                    |
//                    v
//                 REJECTED -> SAVED | PENDING_APPROVAL
//
// Any pair not listed below is illegal. INVOICED is terminal.

var entryTransitions = map[EntryStatus][]EntryStatus{
	EntrySaved:           {EntryPendingApproval},
	EntryPendingApproval: {EntrySaved, EntryApproved, EntryRejected},
	EntryRejected:        {EntrySaved, EntryPendingApproval},
	EntryApproved:        {EntryInvoiced},
	EntryInvoiced:        nil,
}

// CanTransitionEntry reports whether from -> to is in the transition table.
func CanTransitionEntry(from, to EntryStatus) bool {
	for _, allowed := range entryTransitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

// CheckEntryTransition returns a TransitionError for illegal pairs.
func CheckEntryTransition(from, to EntryStatus) error {
	if !CanTransitionEntry(from, to) {
		return &TransitionError{Kind: "entry", From: string(from), To: string(to)}
	}
	return nil
}

// EntryEditable reports whether ordinary field edits are allowed.
func EntryEditable(s EntryStatus) bool {
	return s != EntryApproved && s != EntryInvoiced
}

func checkEntryEditable(e *Entry) error {
	if !EntryEditable(e.Status) {
		return invalid("entry", "entry %s on %s is %s and cannot be edited", e.ID, FormatDay(e.Day), e.Status)
	}
	return nil
}
