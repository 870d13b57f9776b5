package irq

// Level is a saved processor interrupt-acceptance state returned by
// Processor.Disable and Processor.EnableIRQ.
type Level uint32

// Exception identifies an entry of the processor exception vector table.
type Exception int

const (
	ExceptionReset Exception = iota
	ExceptionUndefined
	ExceptionSWI
	ExceptionPrefetchAbort
	ExceptionDataAbort
	ExceptionReserved
	ExceptionIRQ
	ExceptionFIQ

	ExceptionCount
)

// Processor is the kernel's critical-section primitive together with the
// status-register operations the dispatch path needs.
type Processor interface {
	// Disable stops the processor from taking IRQs and returns the
	// previous state.
	Disable() Level

	// Restore returns IRQ acceptance to a state saved by Disable or
	// EnableIRQ. Pending IRQs are taken as soon as they are admitted.
	Restore(level Level)

	// EnableIRQ admits IRQs and returns the previous state.
	EnableIRQ() Level

	// SetExceptionHandler installs the handler run when the processor takes
	// the given exception. Out of range exceptions are ignored.
	SetExceptionHandler(exception Exception, handler func())
}

// HandlerDispatcher is the generic handler registry invoked for a resolved
// vector.
type HandlerDispatcher interface {
	DispatchHandler(v Vector)
}

// DispatchFunc adapts a function to HandlerDispatcher.
type DispatchFunc func(v Vector)

func (f DispatchFunc) DispatchHandler(v Vector) {
	if f != nil {
		f(v)
	}
}
