package pe

import (
	"fmt"
	"unsafe"

	api "github.com/carved4/go-wincall"
)

// window accumulates the OR-combined characteristics of a run of sections
// that alias the same page, so protection is only ever applied once per
// page. Windows assigns page protection at page granularity, and adjacent
// PE sections often share a page, so this coalescing is required for
// correctness, not just an optimization.
type window struct {
	address         uintptr
	alignedAddress  uintptr
	size            uintptr
	characteristics uint32
	last            bool
}

func (w *window) apply(pageSize uintptr, sectionAlignment uint32) error {
	if w.size == 0 {
		return nil
	}

	if w.characteristics&imageScnMemDiscardable != 0 {
		wholePages := w.address == w.alignedAddress &&
			(w.last || sectionAlignment == uint32(pageSize) || w.size%pageSize == 0)
		if wholePages {
			api.Call("kernel32.dll", "VirtualFree", w.address, w.size, uintptr(memDecommit))
		}
		return nil
	}

	e := boolToBit(w.characteristics&imageScnMemExecute != 0)
	r := boolToBit(w.characteristics&imageScnMemRead != 0)
	wr := boolToBit(w.characteristics&imageScnMemWrite != 0)
	protect := protectionLattice[e<<2|r<<1|wr]
	if w.characteristics&imageScnMemNotCached != 0 {
		protect |= pageNoCache
	}

	var oldProtect uintptr
	addr := w.address
	size := w.size
	status, err := api.NtProtectVirtualMemory(^uintptr(0), &addr, &size, uintptr(protect), &oldProtect)
	if err != nil || status != 0 {
		return fmt.Errorf("NtProtectVirtualMemory at 0x%x size 0x%x: status=0x%x err=%v", w.address, w.size, status, err)
	}
	return nil
}

func boolToBit(b bool) uint32 {
	if b {
		return 1
	}
	return 0
}

func alignDown(v, align uintptr) uintptr {
	if align == 0 {
		return v
	}
	return v &^ (align - 1)
}

// finalizeSections coalesces runs of page-sharing sections and applies
// final protection, decommitting whole-page discardable runs.
func finalizeSections(headers *parsedHeaders, base uintptr, pageSize uintptr) error {
	secs := headers.sections(base)
	if len(secs) == 0 {
		return nil
	}
	align := headers.nt.OptionalHeader.SectionAlignment

	realSize := func(sec *imageSectionHeader) uintptr {
		if sec.SizeOfRawData != 0 {
			return uintptr(sec.SizeOfRawData)
		}
		if sec.Characteristics&imageScnCntInitData != 0 {
			return uintptr(headers.nt.OptionalHeader.SizeOfInitializedData)
		}
		if sec.Characteristics&imageScnCntUninitData != 0 {
			return uintptr(headers.nt.OptionalHeader.SizeOfUninitializedData)
		}
		return 0
	}

	cur := window{
		address:         base + uintptr(secs[0].PhysicalAddress),
		characteristics: secs[0].Characteristics,
	}
	cur.size = realSize(secs[0])
	cur.alignedAddress = alignDown(cur.address, pageSize)

	for i := 1; i < len(secs); i++ {
		sec := secs[i]
		addr := base + uintptr(sec.PhysicalAddress)
		alignedAddr := alignDown(addr, pageSize)
		size := realSize(sec)

		if cur.alignedAddress == alignedAddr || cur.address+cur.size > alignedAddr {
			if sec.Characteristics&imageScnMemDiscardable == 0 || cur.characteristics&imageScnMemDiscardable == 0 {
				cur.characteristics = (cur.characteristics | sec.Characteristics) &^ imageScnMemDiscardable
			} else {
				cur.characteristics |= sec.Characteristics
			}
			cur.size = addr + size - cur.address
			continue
		}

		if err := cur.apply(pageSize, align); err != nil {
			return fmt.Errorf("%w: %v", ErrOutOfMemory, err)
		}
		cur = window{address: addr, alignedAddress: alignedAddr, size: size, characteristics: sec.Characteristics}
	}

	cur.last = true
	if err := cur.apply(pageSize, align); err != nil {
		return fmt.Errorf("%w: %v", ErrOutOfMemory, err)
	}
	return nil
}

// systemPageSize queries the host's page size for use in alignment math.
func systemPageSize() uint32 {
	var info systemInfo
	api.Call("kernel32.dll", "GetSystemInfo", uintptr(unsafe.Pointer(&info)))
	if info.dwPageSize == 0 {
		return 4096
	}
	return info.dwPageSize
}

type systemInfo struct {
	wProcessorArchitecture      uint16
	wReserved                   uint16
	dwPageSize                  uint32
	lpMinimumApplicationAddress uintptr
	lpMaximumApplicationAddress uintptr
	dwActiveProcessorMask       uintptr
	dwNumberOfProcessors        uint32
	dwProcessorType             uint32
	dwAllocationGranularity     uint32
	wProcessorLevel             uint16
	wProcessorRevision          uint16
}
