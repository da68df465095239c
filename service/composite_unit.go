/*
Copyright © 2024 Acronis International GmbH.

Released under MIT license.
*/

package service

import (
	"errors"
	"strings"
	"sync"
)

// CompositeUnit groups several units, so they can be started and stopped as a single one.
type CompositeUnit struct {
	Units []Unit
}

var _ Unit = (*CompositeUnit)(nil)
var _ MetricsRegisterer = (*CompositeUnit)(nil)

// NewCompositeUnit creates a new composite unit.
func NewCompositeUnit(units ...Unit) *CompositeUnit {
	return &CompositeUnit{units}
}

// Start starts all units concurrently and blocks until all their Start calls return.
//
// When any unit reports a fatal error, the rest of the units are stopped non-gracefully,
// and CompositeUnitError with the fatal error and stop errors (if any) is sent to fatalError.
func (cu *CompositeUnit) Start(fatalError chan<- error) {
	unitErrs := make(chan error, len(cu.Units))
	for _, unit := range cu.Units {
		go func(unit Unit) {
			unitFatalErr := make(chan error, 1)
			unit.Start(unitFatalErr)
			select {
			case err := <-unitFatalErr:
				unitErrs <- err
			default:
				unitErrs <- nil
			}
		}(unit)
	}

	for range cu.Units {
		fatalErr := <-unitErrs
		if fatalErr == nil {
			continue
		}
		errs := []error{fatalErr}
		var stopErr *CompositeUnitError
		if errors.As(cu.Stop(false), &stopErr) {
			errs = append(errs, stopErr.UnitErrors...)
		}
		fatalError <- &CompositeUnitError{errs}
		return
	}
}

// Stop stops all units concurrently and waits for all of them.
// Stop errors are joined into a single CompositeUnitError.
func (cu *CompositeUnit) Stop(gracefully bool) error {
	stopErrs := make([]error, len(cu.Units))
	var wg sync.WaitGroup
	for i, unit := range cu.Units {
		wg.Add(1)
		go func(i int, unit Unit) {
			defer wg.Done()
			stopErrs[i] = unit.Stop(gracefully)
		}(i, unit)
	}
	wg.Wait()

	var errs []error
	for _, err := range stopErrs {
		if err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) == 0 {
		return nil
	}
	return &CompositeUnitError{errs}
}

// MustRegisterMetrics calls MustRegisterMetrics for all units that implement MetricsRegisterer.
func (cu *CompositeUnit) MustRegisterMetrics() {
	for _, unit := range cu.Units {
		if mr, ok := unit.(MetricsRegisterer); ok {
			mr.MustRegisterMetrics()
		}
	}
}

// UnregisterMetrics calls UnregisterMetrics for all units that implement MetricsRegisterer.
func (cu *CompositeUnit) UnregisterMetrics() {
	for _, unit := range cu.Units {
		if mr, ok := unit.(MetricsRegisterer); ok {
			mr.UnregisterMetrics()
		}
	}
}

// CompositeUnitError contains errors of several units.
type CompositeUnitError struct {
	UnitErrors []error
}

// Error joins messages of all unit errors.
func (cue *CompositeUnitError) Error() string {
	msgs := make([]string, 0, len(cue.UnitErrors))
	for _, err := range cue.UnitErrors {
		msgs = append(msgs, err.Error())
	}
	return strings.Join(msgs, "; ")
}

// Unwrap returns unit errors, so errors.Is and errors.As can look through them.
func (cue *CompositeUnitError) Unwrap() []error {
	return cue.UnitErrors
}
