package vm

// NoSlot marks an entry that has never been written to swap
const NoSlot = -1

// TranslationEntry maps one virtual page to a frame or a swap slot.
// PPN is meaningful only while Valid; Slot only when it is not NoSlot.
type TranslationEntry struct {
	VPN      int
	PPN      int
	Slot     int
	Valid    bool
	ReadOnly bool
	Used     bool
	Dirty    bool
}

func newEntry(vpn int, readOnly bool) TranslationEntry {
	return TranslationEntry{
		VPN:      vpn,
		PPN:      -1,
		Slot:     NoSlot,
		ReadOnly: readOnly,
	}
}
