//go:build unix

// Copyright (C) 2022 K2 Cyber Security Inc.

package sighook

import (
	"golang.org/x/sys/unix"

	"github.com/k2io/sighook/internal/procmaps"
)

type unixMemory struct{}

// HostMemory returns the Memory of the running process.
func HostMemory() Memory { return unixMemory{} }

// Protection reads /proc/self/maps. Where the kernel has no such file the
// usual protection of loaded code is assumed.
func (unixMemory) Protection(b []byte) (Prot, error) {
	maps, err := procmaps.ReadSelf()
	if err != nil {
		return ProtRX, nil
	}
	start := uint64(addrOf(b))
	span, ok := procmaps.Covering(maps, start, start+uint64(len(b)))
	if !ok {
		return ProtRX, nil
	}
	// a range straddling mappings keeps the narrowest protection
	p := ProtRWX
	for _, m := range span {
		p &= Prot(m.Prot())
	}
	return p, nil
}

func (unixMemory) Protect(b []byte, p Prot) error {
	return unix.Mprotect(pageSpan(b), int(p))
}

func (unixMemory) FlushInstructionCache(b []byte) error {
	flushICache(b)
	return nil
}

func (unixMemory) AllocExec(size int) ([]byte, error) {
	mem, err := unix.Mmap(-1, 0, roundPage(size), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_PRIVATE|unix.MAP_ANON)
	if err != nil {
		return nil, err
	}
	// Munmap needs the capacity of the original mapping
	return mem[:size], nil
}

func (unixMemory) Free(b []byte) error {
	return unix.Munmap(b[:cap(b)])
}

func init() {
	pageSize = uintptr(unix.Getpagesize())
}
