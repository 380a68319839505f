//go:build unix

package mmap

import "golang.org/x/sys/unix"

func osMap(fd uintptr, size int) ([]byte, func([]byte) error, error) {
	data, err := unix.Mmap(int(fd), 0, size, unix.PROT_READ, unix.MAP_SHARED)
	if err != nil {
		return nil, nil, err
	}
	return data, unix.Munmap, nil
}

func osAdvise(data []byte, advice Advice) error {
	flag := unix.MADV_NORMAL
	switch advice {
	case AdviceSequential:
		flag = unix.MADV_SEQUENTIAL
	case AdviceRandom:
		flag = unix.MADV_RANDOM
	}
	return unix.Madvise(data, flag)
}
