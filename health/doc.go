// Package health provides types.HealthMonitor implementations.
//
// Health records flow one way: the controller and every partition processor
// hand records to a monitor, and nothing a monitor does feeds back into lease
// scheduling. Monitors are composable:
//
//	monitor := health.Multi(
//	    health.NewLogging(logger),
//	    recorder,
//	)
//
// The controller wraps the configured monitor in a Dispatcher so that slow
// sinks never block a processor.
package health
