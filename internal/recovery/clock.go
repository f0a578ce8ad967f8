package recovery

import "time"

// Clock abstracts wall-clock reads so breaker state-machine tests are
// deterministic instead of sleeping.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// SystemClock reads the real wall clock.
var SystemClock Clock = systemClock{}
