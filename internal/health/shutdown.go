package health

import "sync/atomic"

// ready gates the readiness probe during shutdown. It starts true so probes
// pass as soon as the process can serve; main flips it to false before
// draining connections so load balancers stop routing new traffic.
var ready atomic.Bool

func init() {
	ready.Store(true)
}

// SetReady switches the readiness gate.
func SetReady(v bool) {
	ready.Store(v)
}

// Ready reports the current readiness gate state.
func Ready() bool {
	return ready.Load()
}
