package pe

import (
	"testing"
	"unsafe"
)

func buildMinimalImage(t *testing.T) []byte {
	t.Helper()
	size := int(unsafe.Sizeof(imageNTHeaders{})) + 64
	buf := make([]byte, size)

	dos := (*imageDOSHeader)(unsafe.Pointer(&buf[0]))
	dos.E_magic = imageDOSSignature
	dos.E_lfanew = 64

	nt := (*imageNTHeaders)(unsafe.Pointer(&buf[64]))
	nt.Signature = imageNTSignature
	nt.FileHeader.Machine = imageFileMachineAMD64
	nt.FileHeader.NumberOfSections = 0
	nt.OptionalHeader.SectionAlignment = 0x1000
	nt.OptionalHeader.ImageBase = 0x180000000
	nt.OptionalHeader.SizeOfImage = 0x1000
	nt.OptionalHeader.SizeOfHeaders = 0x200

	return buf
}

func TestValidateHeadersAccepts(t *testing.T) {
	buf := buildMinimalImage(t)
	h, err := validateHeaders(buf)
	if err != nil {
		t.Fatalf("validateHeaders: %v", err)
	}
	if h.nt.FileHeader.Machine != imageFileMachineAMD64 {
		t.Fatalf("unexpected machine 0x%x", h.nt.FileHeader.Machine)
	}
}

func TestValidateHeadersRejectsBadDOSSignature(t *testing.T) {
	buf := buildMinimalImage(t)
	buf[0] = 0
	buf[1] = 0
	if _, err := validateHeaders(buf); err == nil {
		t.Fatal("expected error for bad DOS signature")
	}
}

func TestValidateHeadersRejectsBadNTSignature(t *testing.T) {
	buf := buildMinimalImage(t)
	nt := (*imageNTHeaders)(unsafe.Pointer(&buf[64]))
	nt.Signature = 0
	if _, err := validateHeaders(buf); err == nil {
		t.Fatal("expected error for bad NT signature")
	}
}

func TestValidateHeadersRejectsWrongMachine(t *testing.T) {
	buf := buildMinimalImage(t)
	nt := (*imageNTHeaders)(unsafe.Pointer(&buf[64]))
	nt.FileHeader.Machine = 0x014c // IMAGE_FILE_MACHINE_I386
	if _, err := validateHeaders(buf); err == nil {
		t.Fatal("expected error for non-AMD64 machine")
	}
}

func TestValidateHeadersRejectsTruncatedImage(t *testing.T) {
	buf := buildMinimalImage(t)
	if _, err := validateHeaders(buf[:10]); err == nil {
		t.Fatal("expected error for truncated image")
	}
}

func TestValidateHeadersRejectsOutOfRangeLfanew(t *testing.T) {
	buf := buildMinimalImage(t)
	dos := (*imageDOSHeader)(unsafe.Pointer(&buf[0]))
	dos.E_lfanew = int32(len(buf)) + 1000
	if _, err := validateHeaders(buf); err == nil {
		t.Fatal("expected error for e_lfanew out of range")
	}
}
