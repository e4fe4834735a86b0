package perf

import (
	"expvar"
	"net/http"

	"github.com/encodeous/metric"
)

var (
	DispatchLatency    = metric.NewHistogram("1m1s")
	RoutedMessages     = metric.NewCounter("10s1s")
	ForwardedMessages  = metric.NewCounter("10s1s")
	DuplicateMessages  = metric.NewCounter("10s1s")
	ExpiredMessages    = metric.NewCounter("10s1s")
	UnroutableMessages = metric.NewCounter("10s1s")
	Elections          = metric.NewCounter("10s1s")
)

func init() {
	http.Handle("/debug/metrics", metric.Handler(metric.Exposed))
	expvar.Publish("weft:Routed/s", RoutedMessages)
	expvar.Publish("weft:Forwarded/s", ForwardedMessages)
	expvar.Publish("weft:Duplicate/s", DuplicateMessages)
	expvar.Publish("weft:Expired/s", ExpiredMessages)
	expvar.Publish("weft:Unroutable/s", UnroutableMessages)
	expvar.Publish("weft:Elections/s", Elections)
	expvar.Publish("weft:DispatchLatency (µs)", DispatchLatency)
}
