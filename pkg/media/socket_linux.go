//go:build linux

package media

import (
	"golang.org/x/sys/unix"
)

// приоритет интерактивного аудио
const voicePriority = 6

func applySockOpt(fd, dscp int) error {
	// SO_PRIORITY без CAP_NET_ADMIN допускает 0..6
	_ = unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_PRIORITY, voicePriority)

	if dscp <= 0 {
		return nil
	}
	// DSCP в старших 6 битах TOS
	tos := dscp << 2
	if err := unix.SetsockoptInt(fd, unix.IPPROTO_IP, unix.IP_TOS, tos); err != nil {
		// сокет IPv6-only
		return unix.SetsockoptInt(fd, unix.IPPROTO_IPV6, unix.IPV6_TCLASS, tos)
	}
	_ = unix.SetsockoptInt(fd, unix.IPPROTO_IPV6, unix.IPV6_TCLASS, tos)
	return nil
}
