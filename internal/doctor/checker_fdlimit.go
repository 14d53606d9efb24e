package doctor

import (
	"context"
	"fmt"

	"golang.org/x/sys/unix"
)

// RecommendedFileDescriptors is the soft limit below which a busy daemon
// may run out of sockets for API and websocket clients.
const RecommendedFileDescriptors uint64 = 16384

// FileDescriptorChecker compares the process's open-file soft limit with
// RecommendedFileDescriptors.
type FileDescriptorChecker struct {
	getrlimit func(resource int, rlim *unix.Rlimit) error
}

func NewFileDescriptorChecker() *FileDescriptorChecker {
	return &FileDescriptorChecker{getrlimit: unix.Getrlimit}
}

func (c *FileDescriptorChecker) Name() string       { return "File descriptors" }
func (c *FileDescriptorChecker) Category() Category { return CategorySystem }

func (c *FileDescriptorChecker) Check(ctx context.Context) CheckResult {
	result := CheckResult{Name: c.Name(), Category: c.Category()}

	var lim unix.Rlimit
	if err := c.getrlimit(unix.RLIMIT_NOFILE, &lim); err != nil {
		result.Status = StatusWarning
		result.Message = "File descriptors: unable to read limit"
		result.Details = err.Error()
		return result
	}

	soft := uint64(lim.Cur)
	if soft >= RecommendedFileDescriptors {
		result.Status = StatusOK
		result.Message = fmt.Sprintf("File descriptors: %d", soft)
		return result
	}

	result.Status = StatusWarning
	result.Message = fmt.Sprintf("File descriptors: %d (%d recommended for the daemon)", soft, RecommendedFileDescriptors)
	if uint64(lim.Max) >= RecommendedFileDescriptors {
		result.FixCommand = fmt.Sprintf("ulimit -n %d", RecommendedFileDescriptors)
	} else {
		result.Details = fmt.Sprintf("hard limit is %d; raise it in /etc/security/limits.conf", uint64(lim.Max))
	}
	return result
}
