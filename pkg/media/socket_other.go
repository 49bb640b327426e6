//go:build !linux

package media

func applySockOpt(fd, dscp int) error {
	return nil
}
