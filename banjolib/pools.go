package banjolib

import (
	"fmt"
	"sync"
)

var timerPool = &TimerPool{sp: sync.Pool{}, m: newPoolMetrics()}
var contextPool = &ContextPool{sp: sync.Pool{}, m: newPoolMetrics()}

func StartPoolMetrics() {
	timerPool.m.start()
	contextPool.m.start()
}

func ReleasePoolMetrics() {
	timerPool.m.release()
	contextPool.m.release()
}

func JsonStringPoolMetrics() string {
	return fmt.Sprintf("{\"TimerPool\" = %s, \"contextPool\" = %s}",
		timerPool.m.metricsString(),
		contextPool.m.metricsString(),
	)
}
