//go:build windows

package storage

import (
	"os"
	"reflect"
	"unsafe"

	"golang.org/x/sys/windows"
)

// mmapPage maps exactly one page's worth of bytes at offset in f. Grounded
// on the teacher's pkg/pager/mmap_windows.go, but per-page instead of
// whole-file, matching FileBuffer.cpp's FileMapping::MapPage.
func mmapPage(f *os.File, offset int64, length int) ([]byte, error) {
	end := offset + int64(length)
	mapHandle, err := windows.CreateFileMapping(
		windows.Handle(f.Fd()),
		nil,
		windows.PAGE_READWRITE,
		uint32(end>>32),
		uint32(end&0xFFFFFFFF),
		nil,
	)
	if err != nil {
		return nil, err
	}
	addr, err := windows.MapViewOfFile(
		mapHandle,
		windows.FILE_MAP_READ|windows.FILE_MAP_WRITE,
		uint32(offset>>32),
		uint32(offset&0xFFFFFFFF),
		uintptr(length),
	)
	if err != nil {
		windows.CloseHandle(mapHandle)
		return nil, err
	}

	var data []byte
	header := (*reflect.SliceHeader)(unsafe.Pointer(&data))
	header.Data = addr
	header.Len = length
	header.Cap = length

	pageMappingHandles[&data[0]] = mapHandle
	return data, nil
}

// pageMappingHandles tracks the CreateFileMapping handle backing each
// mapped page, since Windows needs it again at unmap time and Go's slice
// header has no room to carry it alongside the data.
var pageMappingHandles = map[*byte]windows.Handle{}

func msyncPage(data []byte) error {
	if len(data) == 0 {
		return nil
	}
	return windows.FlushViewOfFile(uintptr(unsafe.Pointer(&data[0])), uintptr(len(data)))
}

func munmapPage(data []byte) error {
	if len(data) == 0 {
		return nil
	}
	addr := uintptr(unsafe.Pointer(&data[0]))
	handle, ok := pageMappingHandles[&data[0]]
	if ok {
		delete(pageMappingHandles, &data[0])
	}
	if err := windows.UnmapViewOfFile(addr); err != nil {
		return err
	}
	if ok {
		return windows.CloseHandle(handle)
	}
	return nil
}
