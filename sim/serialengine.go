package sim

import (
	"fmt"
	"log"
	"reflect"
	"sync"
)

// A SerialEngine is an Engine that always run events one after another.
type SerialEngine struct {
	HookableBase

	timeLock       sync.RWMutex
	time           VTimeInSec
	queue          EventQueue
	secondaryQueue EventQueue

	stopLock    sync.Mutex
	stopTime    VTimeInSec
	hasStopTime bool
	stopped     bool

	isPaused     bool
	isPausedLock sync.Mutex
	pauseLock    sync.Mutex

	singleRunLock sync.Mutex

	simulationEndHandlers []SimulationEndHandler
}

// NewSerialEngine creates a SerialEngine
func NewSerialEngine() *SerialEngine {
	e := new(SerialEngine)

	e.queue = NewEventQueue()
	e.secondaryQueue = NewEventQueue()

	return e
}

// Schedule register an event to be happen in the future
func (e *SerialEngine) Schedule(evt Event) {
	now := e.readNow()
	if evt.Time() < now {
		log.Panic("scheduling an event earlier than current time")
	}

	if evt.IsSecondary() {
		e.secondaryQueue.Push(evt)
		return
	}

	e.queue.Push(evt)
}

func (e *SerialEngine) readNow() VTimeInSec {
	e.timeLock.RLock()
	t := e.time
	e.timeLock.RUnlock()

	return t
}

func (e *SerialEngine) writeNow(t VTimeInSec) {
	e.timeLock.Lock()
	e.time = t
	e.timeLock.Unlock()
}

// StopAt sets the time after which the engine stops processing events. The
// events that are scheduled later than the stop time stay in the queue.
func (e *SerialEngine) StopAt(t VTimeInSec) {
	e.stopLock.Lock()
	defer e.stopLock.Unlock()

	e.stopTime = t
	e.hasStopTime = true
}

// Stop makes Run return once the current event is handled.
func (e *SerialEngine) Stop() {
	e.stopLock.Lock()
	defer e.stopLock.Unlock()

	e.stopped = true
}

// shouldStop tells if the engine should stop before running evt. The flag set
// by Stop is consumed so that the engine can be run again.
func (e *SerialEngine) shouldStop(evt Event) bool {
	e.stopLock.Lock()
	defer e.stopLock.Unlock()

	if e.stopped {
		e.stopped = false
		return true
	}

	if e.hasStopTime && evt.Time() > e.stopTime {
		if e.readNow() < e.stopTime {
			e.writeNow(e.stopTime)
		}

		return true
	}

	return false
}

// Run processes all the events scheduled in the SerialEngine
func (e *SerialEngine) Run() error {
	e.singleRunLock.Lock()
	defer e.singleRunLock.Unlock()

	for {
		if e.noMoreEvent() {
			e.advanceToStopTime()
			return nil
		}

		e.pauseLock.Lock()

		if e.shouldStop(e.peekEvent()) {
			e.pauseLock.Unlock()
			return nil
		}

		evt := e.nextEvent()
		now := e.readNow()
		if evt.Time() < now {
			log.Panicf(
				"cannot run event in the past, evt %s @ %.10f, now %.10f",
				reflect.TypeOf(evt), evt.Time(), now,
			)
		}
		e.writeNow(evt.Time())

		hookCtx := HookCtx{
			Domain: e,
			Pos:    HookPosBeforeEvent,
			Item:   evt,
		}
		e.InvokeHook(hookCtx)

		handler := evt.Handler()
		err := handler.Handle(evt)

		hookCtx.Pos = HookPosAfterEvent
		e.InvokeHook(hookCtx)

		e.pauseLock.Unlock()

		if err != nil {
			return fmt.Errorf("handling %s @ %.10f: %w",
				reflect.TypeOf(evt), evt.Time(), err)
		}
	}
}

func (e *SerialEngine) advanceToStopTime() {
	e.stopLock.Lock()
	defer e.stopLock.Unlock()

	e.stopped = false

	if e.hasStopTime && e.readNow() < e.stopTime {
		e.writeNow(e.stopTime)
	}
}

func (e *SerialEngine) noMoreEvent() bool {
	return e.queue.Len() == 0 && e.secondaryQueue.Len() == 0
}

func (e *SerialEngine) peekEvent() Event {
	if e.queue.Len() == 0 {
		return e.secondaryQueue.Peek()
	}

	if e.secondaryQueue.Len() == 0 {
		return e.queue.Peek()
	}

	primaryEvt := e.queue.Peek()
	secondaryEvt := e.secondaryQueue.Peek()

	if primaryEvt.Time() <= secondaryEvt.Time() {
		return primaryEvt
	}

	return secondaryEvt
}

func (e *SerialEngine) nextEvent() Event {
	if e.queue.Len() == 0 {
		return e.secondaryQueue.Pop()
	}

	if e.secondaryQueue.Len() == 0 {
		return e.queue.Pop()
	}

	primaryEvt := e.queue.Peek()
	secondaryEvt := e.secondaryQueue.Peek()

	if primaryEvt.Time() <= secondaryEvt.Time() {
		e.queue.Pop()
		return primaryEvt
	}

	e.secondaryQueue.Pop()

	return secondaryEvt
}

// Pause prevents the SerialEngine to trigger more events.
func (e *SerialEngine) Pause() {
	e.isPausedLock.Lock()
	defer e.isPausedLock.Unlock()

	if e.isPaused {
		return
	}

	e.pauseLock.Lock()
	e.isPaused = true
}

// Continue allows the SerialEngine to trigger more events.
func (e *SerialEngine) Continue() {
	e.isPausedLock.Lock()
	defer e.isPausedLock.Unlock()

	if !e.isPaused {
		return
	}

	e.pauseLock.Unlock()
	e.isPaused = false
}

// IsPaused tells if the engine is currently paused.
func (e *SerialEngine) IsPaused() bool {
	e.isPausedLock.Lock()
	defer e.isPausedLock.Unlock()

	return e.isPaused
}

// CurrentTime returns the current time at which the engine is at.
// Specifically, the run time of the current event.
func (e *SerialEngine) CurrentTime() VTimeInSec {
	return e.readNow()
}

// RegisterSimulationEndHandler registers a handler to be called by Finished.
func (e *SerialEngine) RegisterSimulationEndHandler(
	handler SimulationEndHandler,
) {
	e.simulationEndHandlers = append(e.simulationEndHandlers, handler)
}

// Finished should be called after the simulation ends. This function
// calls all the registered SimulationEndHandler.
func (e *SerialEngine) Finished() {
	now := e.readNow()
	for _, h := range e.simulationEndHandlers {
		h.Handle(now)
	}
}
