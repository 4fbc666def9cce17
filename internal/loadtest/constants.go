package loadtest

import "time"

// Defaults applied to zero Config fields.
const (
	DefaultSubjects     = 8
	DefaultFrames       = 30
	DefaultWorkers      = 4
	DefaultTimeout      = 30 * time.Second
	DefaultPollInterval = 250 * time.Millisecond
	DefaultWait         = 10 * time.Minute
)

// frames are read back in pages of this size.
const framePageSize = 1000

const directoryPermission = 0o750
