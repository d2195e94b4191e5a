package audit

// ChainStatus is the outcome of verifying a window of the audit chain.
type ChainStatus string

const (
	// ChainVerified means at least one adjacent pair was checked and every
	// checked pair linked correctly.
	ChainVerified ChainStatus = "verified"
	// ChainUnverifiable means no adjacent pair carried checksums on both
	// sides, so nothing could be checked. This is the status for legacy
	// data written before checksums existed, and for windows of fewer than
	// two entries.
	ChainUnverifiable ChainStatus = "unverifiable"
	// ChainBroken means some adjacent pair failed to link.
	ChainBroken ChainStatus = "broken"
)

// ChainReport describes the result of a chain verification pass.
type ChainReport struct {
	Status ChainStatus `json:"status"`
	// Entries is the number of entries examined.
	Entries int `json:"entries"`
	// CheckedLinks counts adjacent pairs where both checksums were present.
	CheckedLinks int `json:"checked_links"`
	// SkippedLinks counts adjacent pairs skipped because a checksum was
	// missing on either side. Skipped pairs are non-verifiable, not broken.
	SkippedLinks int `json:"skipped_links"`
	// BreakIndex is the index (into the newest-first input) of the newer
	// entry of the first broken pair, or -1 when the chain did not break.
	BreakIndex int `json:"break_index"`
}

// Valid collapses the three-valued status into the legacy two-valued
// contract: verified and unverifiable both count as valid. Callers that
// need to distinguish strong from weak assurance should use Status.
func (r ChainReport) Valid() bool {
	return r.Status != ChainBroken
}

// VerifyChain checks the checksum chain over entries sorted newest-first,
// the order the query layer delivers them in. Each entry's PreviousChecksum
// must equal the Checksum of the next entry in the slice (its predecessor
// in time). Pairs with a missing checksum on either side are skipped.
//
// Verification compares stored checksum strings only; it does not recompute
// content hashes. A verified result therefore proves no detected link
// tampering, not complete coverage.
func VerifyChain(entries []*Entry) ChainReport {
	report := ChainReport{
		Status:     ChainUnverifiable,
		Entries:    len(entries),
		BreakIndex: -1,
	}

	for i := 0; i+1 < len(entries); i++ {
		newer, older := entries[i], entries[i+1]
		if newer.PreviousChecksum == nil || older.Checksum == nil {
			report.SkippedLinks++
			continue
		}
		report.CheckedLinks++
		if *newer.PreviousChecksum != *older.Checksum {
			report.Status = ChainBroken
			report.BreakIndex = i
			return report
		}
	}

	if report.CheckedLinks > 0 {
		report.Status = ChainVerified
	}
	return report
}
