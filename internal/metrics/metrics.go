// Package metrics provides Prometheus metrics for the execution core.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Label cardinality stays bounded: channels and classes are fixed
// enumerations, outcomes are a closed set.

var (
	// CodesExecuted counts finalized codes by channel and outcome
	// (success, error, cancelled).
	CodesExecuted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "dispatcher_codes_executed_total",
		Help: "Total number of codes that reached the executed hook, by channel and outcome.",
	}, []string{"channel", "outcome"})

	// CodesAdmitted counts scheduler admissions by channel and class.
	CodesAdmitted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "dispatcher_codes_admitted_total",
		Help: "Total number of scheduler admissions, by channel and priority class.",
	}, []string{"channel", "class"})

	// FirmwareDispatches counts codes forwarded to the firmware.
	FirmwareDispatches = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "dispatcher_firmware_dispatches_total",
		Help: "Total number of codes forwarded to the firmware, by channel.",
	}, []string{"channel"})

	// InterceptVerdicts counts interception outcomes by mode and verdict.
	InterceptVerdicts = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "dispatcher_intercept_verdicts_total",
		Help: "Total number of interception verdicts, by mode and verdict.",
	}, []string{"mode", "verdict"})

	// CancellationsPending counts CancelPending invocations by channel.
	CancellationsPending = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "dispatcher_cancel_pending_total",
		Help: "Total number of pending-code cancellations, by channel.",
	}, []string{"channel"})
)
