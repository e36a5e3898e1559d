package job

// enqueueConfig holds options for enqueueing a single job.
type enqueueConfig struct {
	queue       string
	tags        []string
	maxAttempts int
}

// EnqueueOption configures job enqueueing.
type EnqueueOption func(*enqueueConfig)

// InQueue routes the job to a named queue instead of the default one.
func InQueue(name string) EnqueueOption {
	return func(c *enqueueConfig) {
		if name != "" {
			c.queue = name
		}
	}
}

// MaxAttempts bounds how many times the job may be attempted, including
// the first delivery. After the budget is exhausted the job is abandoned.
func MaxAttempts(n int) EnqueueOption {
	return func(c *enqueueConfig) {
		if n > 0 {
			c.maxAttempts = n
		}
	}
}

// Tags attaches metadata tags to the job for filtering and correlation.
func Tags(tags ...string) EnqueueOption {
	return func(c *enqueueConfig) {
		c.tags = append(c.tags, tags...)
	}
}
