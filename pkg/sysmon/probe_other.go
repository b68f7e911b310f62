//go:build !linux

package sysmon

import (
	"github.com/ipfs-kit/perfmetrics/pkg/errors"
)

var errUnsupported = errors.NewError(errors.ErrCodeProbeFailed, "resource probing is only supported on linux").
	WithComponent("sysmon")

func readCPUTimes() (cpuTimes, error) { return cpuTimes{}, errUnsupported }

func readMemory() (total, available uint64, err error) { return 0, 0, errUnsupported }

func readDisk(path string) (total, free, avail uint64, err error) { return 0, 0, 0, errUnsupported }

func probeError(resource string, err error) error {
	if errors.HasCode(err, errors.ErrCodeProbeFailed) {
		return err
	}
	return errors.Wrap(err, errors.ErrCodeProbeFailed, "failed to read "+resource+" usage").
		WithComponent("sysmon")
}
