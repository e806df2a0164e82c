package natsbus

import "fmt"

// Topic patterns for NATS pub/sub communication.

func TopicEventsJob(jobID string) string {
	return fmt.Sprintf("events.job.%s", jobID)
}

const (
	TopicEventsAll       = "events.>"
	TopicEventsJobs      = "events.job.*"
	TopicEventsQueue     = "events.queue"
	TopicEventsWorkspace = "events.workspace"
	TopicEventsSchedule  = "events.schedule"

	// TopicIPCJobs is the request/reply subject served for meshctl.
	TopicIPCJobs = "host.ipc.jobs"
)
