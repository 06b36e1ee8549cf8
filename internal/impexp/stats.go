package impexp

import "fmt"

// ImpExpStats summarizes one import, export or check walk.
// Values are immutable; recursive calls return their own and callers fold
// them with Add.
type ImpExpStats struct {
	Documents int
	Folders   int
	Mails     int
	Size      int64
	OK        bool
}

// NewStats returns empty stats with OK set.
func NewStats() ImpExpStats {
	return ImpExpStats{OK: true}
}

// Add returns the field-wise sum of s and o. OK is true only if both are.
func (s ImpExpStats) Add(o ImpExpStats) ImpExpStats {
	return ImpExpStats{
		Documents: s.Documents + o.Documents,
		Folders:   s.Folders + o.Folders,
		Mails:     s.Mails + o.Mails,
		Size:      s.Size + o.Size,
		OK:        s.OK && o.OK,
	}
}

// Nodes returns the number of visited nodes.
func (s ImpExpStats) Nodes() int {
	return s.Documents + s.Folders + s.Mails
}

func (s ImpExpStats) String() string {
	return fmt.Sprintf("documents=%d folders=%d mails=%d size=%d ok=%t", s.Documents, s.Folders, s.Mails, s.Size, s.OK)
}

// The Visit helpers return the stats of one visited node. A non-nil err
// clears OK but the node is still counted.
func VisitDocument(size int64, err error) ImpExpStats {
	return ImpExpStats{Documents: 1, Size: size, OK: err == nil}
}

func VisitFolder(err error) ImpExpStats {
	return ImpExpStats{Folders: 1, OK: err == nil}
}

func VisitMail(size int64, err error) ImpExpStats {
	return ImpExpStats{Mails: 1, Size: size, OK: err == nil}
}
