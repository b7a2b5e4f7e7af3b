package sim

// TimeTeller can be used to get the current time.
type TimeTeller interface {
	CurrentTime() VTimeInSec
}

// EventScheduler can be used to schedule future events.
type EventScheduler interface {
	TimeTeller

	Schedule(e Event)
}

// A SimulationEndHandler is a handler that is called after the simulation ends.
type SimulationEndHandler interface {
	Handle(now VTimeInSec)
}

// An Engine is a unit that keeps the discrete event simulation run.
//
// An Engine is the simulation context of a run. It is created by whoever sets
// up the run and handed to every component that needs to read the clock or
// schedule events. There is no process-wide simulator.
type Engine interface {
	Hookable
	EventScheduler

	// Run will process all the events until the simulation finishes
	Run() error

	// Pause will pause the simulation until continue is called.
	Pause()

	// Continue will continue the paused simulation
	Continue()

	// StopAt sets the time after which no event is processed. Run returns
	// once the next event would happen after the stop time.
	StopAt(t VTimeInSec)

	// Stop makes Run return after the event that is currently being handled.
	Stop()

	// RegisterSimulationEndHandler registers a handler that perform some
	// actions after the simulation is finished.
	RegisterSimulationEndHandler(handler SimulationEndHandler)

	// Finished invokes all the registered SimulationEndHandler
	Finished()
}
