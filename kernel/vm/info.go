package vm

import "marmot/kernel/mem"

// MaxPageInfo caps the number of translations reported by PgdirInfo.
const MaxPageInfo = 32

// WmapInfo is a snapshot of the process's mapping regions.
type WmapInfo struct {
	TotalMmaps   int
	Addr         [MaxRegions]uint32
	Length       [MaxRegions]uint32
	NLoadedPages [MaxRegions]uint32
}

// WmapInfo reports each occupied region slot along with the number of its
// pages that demand paging has installed so far.
func (s *Space) WmapInfo() WmapInfo {
	var info WmapInfo
	for _, r := range s.Regions {
		if r == nil {
			continue
		}

		i := info.TotalMmaps
		info.Addr[i] = r.Addr
		info.Length[i] = r.Length
		info.NLoadedPages[i] = s.countPages(r)
		info.TotalMmaps++
	}
	return info
}

// countPages walks the region's page range and counts present entries.
func (s *Space) countPages(r *Region) uint32 {
	var count uint32
	for va := r.Addr; va < r.end(); va += mem.PageSize {
		if _, ok := s.Dir.Lookup(va); ok {
			count++
		}
	}
	return count
}

// PgdirInfo is a snapshot of the user-accessible translations in the
// process's page directory.
type PgdirInfo struct {
	NUPages uint32
	VA      [MaxPageInfo]uint32
	PA      [MaxPageInfo]uint32
}

// PgdirInfo enumerates up to MaxPageInfo present user pages in ascending
// virtual-address order.
func (s *Space) PgdirInfo() PgdirInfo {
	var info PgdirInfo
	s.Dir.VisitUserPages(func(va, pa uint32) bool {
		info.VA[info.NUPages] = va
		info.PA[info.NUPages] = pa
		info.NUPages++
		return info.NUPages < MaxPageInfo
	})
	return info
}
