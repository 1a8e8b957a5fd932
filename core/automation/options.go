package automation

const (
	DefaultMaxIterations = 5
	DefaultWaitThreshold = 3
)

type ControllerOption func(*Controller)

// WithMaxIterations caps the number of backend fetches for one triggering
// call.
func WithMaxIterations(n int) ControllerOption {
	return func(c *Controller) {
		if n > 0 {
			c.maxIterations = n
		}
	}
}

// WithWaitThreshold sets how many consecutive wait actions abort the chain.
func WithWaitThreshold(n int) ControllerOption {
	return func(c *Controller) {
		if n > 0 {
			c.waitThreshold = n
		}
	}
}
