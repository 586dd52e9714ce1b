//go:build linux

package telemetry

import (
	"errors"
	"fmt"

	"golang.org/x/sys/unix"
)

// DefaultRegionSize is the default per-worker shared-memory scratch region
// size (spec.md §3).
const DefaultRegionSize = 1 << 20 // 1 MiB

// Region is a fixed-size, anonymous-but-fd-backed shared-memory mapping:
// exactly one writer (its worker), one reader (the master), no locks.
//
// spec.md describes allocation "before fork via an anonymous shared
// mapping". This core forks by re-exec (see internal/supervisor), so a
// plain MAP_ANONYMOUS mapping in the master would not survive execve: the
// region is instead backed by a memfd (an anonymous file with no path,
// living only in memory) created before the worker is spawned, inherited
// by the child across exec via cmd.ExtraFiles, and mmap'd MAP_SHARED by
// both ends against the same fd. This is the re-exec-compatible
// realization of "anonymous shared mapping before fork".
type Region struct {
	fd   int
	size int
	data []byte
}

// CreateRegion creates a new memfd-backed region of size bytes, ftruncate'd
// to that size and mmap'd MAP_SHARED. The master calls this once per worker
// slot before spawning the worker.
func CreateRegion(size int) (*Region, error) {
	if size <= 0 {
		size = DefaultRegionSize
	}
	fd, err := unix.MemfdCreate("nccore-telemetry", unix.MFD_CLOEXEC)
	if err != nil {
		return nil, fmt.Errorf("telemetry: memfd_create: %w", err)
	}
	// Clear CLOEXEC: this fd must cross the re-exec into the worker via
	// ExtraFiles, which requires the descriptor to survive exec.
	if _, err := unix.FcntlInt(uintptr(fd), unix.F_SETFD, 0); err != nil {
		_ = unix.Close(fd)
		return nil, fmt.Errorf("telemetry: fcntl clear cloexec: %w", err)
	}
	if err := unix.Ftruncate(fd, int64(size)); err != nil {
		_ = unix.Close(fd)
		return nil, fmt.Errorf("telemetry: ftruncate: %w", err)
	}
	return mapRegion(fd, size)
}

// OpenRegion mmaps an inherited memfd (received via ExtraFiles) of the
// given size. Called by the worker after re-exec.
func OpenRegion(fd, size int) (*Region, error) {
	if size <= 0 {
		size = DefaultRegionSize
	}
	return mapRegion(fd, size)
}

func mapRegion(fd, size int) (*Region, error) {
	data, err := unix.Mmap(fd, 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		_ = unix.Close(fd)
		return nil, fmt.Errorf("telemetry: mmap: %w", err)
	}
	return &Region{fd: fd, size: size, data: data}, nil
}

// FD returns the underlying memfd, for wiring into cmd.ExtraFiles.
func (r *Region) FD() int { return r.fd }

// Size returns the mapping's byte capacity.
func (r *Region) Size() int { return r.size }

var errSnapshotTooLarge = errors.New("telemetry: snapshot exceeds region capacity")

// Write publishes payload into the region, followed by a null terminator,
// per spec.md §5: "Writers must write the null terminator after the
// payload." The reader tolerates torn reads by framing each snapshot with
// that terminator plus a length check (see Read).
func (r *Region) Write(payload []byte) error {
	if len(payload)+1 > r.size {
		return errSnapshotTooLarge
	}
	copy(r.data, payload)
	r.data[len(payload)] = 0
	return nil
}

// Read returns the bytes up to (not including) the first null terminator.
// A region that starts with a zero byte (never yet written) yields an empty
// slice; if no terminator is found anywhere within the mapping (a torn
// read), Read returns nil.
func (r *Region) Read() []byte {
	for i, b := range r.data {
		if b == 0 {
			return r.data[:i]
		}
	}
	return nil
}

// Close unmaps the region and closes the backing memfd.
func (r *Region) Close() error {
	var firstErr error
	if r.data != nil {
		if err := unix.Munmap(r.data); err != nil {
			firstErr = err
		}
		r.data = nil
	}
	if r.fd >= 0 {
		if err := unix.Close(r.fd); err != nil && firstErr == nil {
			firstErr = err
		}
		r.fd = -1
	}
	return firstErr
}
