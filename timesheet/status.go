package timesheet

// =============================================================================
// DERIVED ROW STATUS
// =============================================================================

// rowStatusRank orders row statuses by precedence when several statuses are
// folded into one: approved > rejected > submitted > draft.
var rowStatusRank = map[RowStatus]int{
	RowDraft:     0,
	RowSubmitted: 1,
	RowRejected:  2,
	RowApproved:  3,
}

// entryRowStatus maps an entry status onto the row status it implies.
var entryRowStatus = map[EntryStatus]RowStatus{
	EntrySaved:           RowDraft,
	EntryPendingApproval: RowSubmitted,
	EntryRejected:        RowRejected,
	EntryApproved:        RowApproved,
	EntryInvoiced:        RowApproved,
}

var timesheetRowStatus = map[TimesheetStatus]RowStatus{
	TimesheetDraft:     RowDraft,
	TimesheetSubmitted: RowSubmitted,
	TimesheetRejected:  RowRejected,
	TimesheetApproved:  RowApproved,
}

// DeriveRowStatus returns the highest-ranked status of the set, or draft
// for an empty set.
func DeriveRowStatus(statuses ...RowStatus) RowStatus {
	result := RowDraft
	for _, s := range statuses {
		rank, ok := rowStatusRank[s]
		if ok && rank > rowStatusRank[result] {
			result = s
		}
	}
	return result
}

func RowStatusForEntry(s EntryStatus) RowStatus {
	if rs, ok := entryRowStatus[s]; ok {
		return rs
	}
	return RowDraft
}

func RowStatusForTimesheet(s TimesheetStatus) RowStatus {
	if rs, ok := timesheetRowStatus[s]; ok {
		return rs
	}
	return RowDraft
}

// LocksRow reports whether rows in this status are locked against edits.
func LocksRow(s RowStatus) bool {
	return s == RowSubmitted || s == RowApproved
}
