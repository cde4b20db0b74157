package otel

import (
	"errors"

	"go.opentelemetry.io/otel/metric"
)

type EngineMetrics struct {
	CommandsExecuted metric.Int64Counter
	CommandsFailed   metric.Int64Counter
	CommandRetries   metric.Int64Counter
	LockConflicts    metric.Int64Counter
	ProcessesStarted metric.Int64Counter
	ProcessesEnded   metric.Int64Counter
	ProcessesRunning metric.Int64UpDownCounter
	BusinessFaults   metric.Int64Counter
}

func NewMetrics(meter metric.Meter) (*EngineMetrics, error) {
	var errJoin error

	commandsExecuted, err := meter.Int64Counter("commands_executed", metric.WithDescription("Number of top level commands executed"))
	errJoin = errors.Join(errJoin, err)

	commandsFailed, err := meter.Int64Counter("commands_failed", metric.WithDescription("Number of top level commands that rolled back"))
	errJoin = errors.Join(errJoin, err)

	commandRetries, err := meter.Int64Counter("command_retries", metric.WithDescription("Number of command attempts repeated after a conflict"))
	errJoin = errors.Join(errJoin, err)

	lockConflicts, err := meter.Int64Counter("optimistic_lock_conflicts", metric.WithDescription("Number of optimistic locking conflicts detected at flush"))
	errJoin = errors.Join(errJoin, err)

	processesStartedTotal, err := meter.Int64Counter("processes_started", metric.WithDescription("Number of processes started"))
	errJoin = errors.Join(errJoin, err)

	processesCompletedTotal, err := meter.Int64Counter("processes_completed", metric.WithDescription("Number of processes completed"))
	errJoin = errors.Join(errJoin, err)

	processesRunning, err := meter.Int64UpDownCounter("processes_running", metric.WithDescription("Number of processes currently running"))
	errJoin = errors.Join(errJoin, err)

	businessFaults, err := meter.Int64Counter("business_faults", metric.WithDescription("Number of business faults raised in process instances"))
	errJoin = errors.Join(errJoin, err)

	metrics := EngineMetrics{
		CommandsExecuted: commandsExecuted,
		CommandsFailed:   commandsFailed,
		CommandRetries:   commandRetries,
		LockConflicts:    lockConflicts,
		ProcessesStarted: processesStartedTotal,
		ProcessesEnded:   processesCompletedTotal,
		ProcessesRunning: processesRunning,
		BusinessFaults:   businessFaults,
	}
	return &metrics, errJoin
}
