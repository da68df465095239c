/*
Copyright © 2024 Acronis International GmbH.

Released under MIT license.
*/

package service

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/atomic"
)

// blockingUnit blocks in Start until Stop is called, it may also fail on start or stop.
type blockingUnit struct {
	name     string
	running  *atomic.Int32
	stopped  chan struct{}
	startErr error
	stopErr  error

	stopCalls           atomic.Int32
	gracefulStopCalls   atomic.Int32
	registerCalls       atomic.Int32
	unregisterCalls     atomic.Int32
	stopChannelIsClosed atomic.Bool
}

func newBlockingUnit(name string, running *atomic.Int32) *blockingUnit {
	return &blockingUnit{name: name, running: running, stopped: make(chan struct{})}
}

func (u *blockingUnit) Start(fatalError chan<- error) {
	if u.startErr != nil {
		fatalError <- u.startErr
		return
	}
	u.running.Inc()
	defer u.running.Dec()
	<-u.stopped
}

func (u *blockingUnit) Stop(gracefully bool) error {
	u.stopCalls.Inc()
	if gracefully {
		u.gracefulStopCalls.Inc()
	}
	if u.stopChannelIsClosed.CompareAndSwap(false, true) {
		close(u.stopped)
	}
	return u.stopErr
}

func (u *blockingUnit) MustRegisterMetrics() { u.registerCalls.Inc() }

func (u *blockingUnit) UnregisterMetrics() { u.unregisterCalls.Inc() }

func makeBlockingUnits(n int, running *atomic.Int32) ([]*blockingUnit, *CompositeUnit) {
	units := make([]*blockingUnit, n)
	var iUnits []Unit
	for i := range units {
		units[i] = newBlockingUnit(fmt.Sprintf("unit#%d", i), running)
		iUnits = append(iUnits, units[i])
	}
	return units, NewCompositeUnit(iUnits...)
}

func startInBackground(u Unit) (fatalErr chan error, startReturned chan struct{}) {
	fatalErr = make(chan error, 1)
	startReturned = make(chan struct{})
	go func() {
		u.Start(fatalErr)
		close(startReturned)
	}()
	return fatalErr, startReturned
}

func requireClosed(t *testing.T, ch <-chan struct{}) {
	t.Helper()
	select {
	case <-ch:
	case <-time.After(time.Second * 3):
		t.Fatal("channel should be closed")
	}
}

func TestCompositeUnit_StartAndStop(t *testing.T) {
	t.Run("stop without errors", func(t *testing.T) {
		const unitsNum = 50
		var running atomic.Int32
		units, compositeUnit := makeBlockingUnits(unitsNum, &running)

		fatalErr, startReturned := startInBackground(compositeUnit)
		require.Eventually(t, func() bool { return running.Load() == unitsNum }, time.Second*3, time.Millisecond*5)

		require.NoError(t, compositeUnit.Stop(true))
		requireClosed(t, startReturned)
		require.Empty(t, fatalErr)
		require.Equal(t, int32(0), running.Load())
		for _, u := range units {
			require.Equal(t, int32(1), u.gracefulStopCalls.Load())
		}
	})

	t.Run("stop with errors", func(t *testing.T) {
		const unitsNum = 10
		var running atomic.Int32
		units, compositeUnit := makeBlockingUnits(unitsNum, &running)
		units[2].stopErr = errors.New("unit#2: flush failed")
		units[7].stopErr = errors.New("unit#7: flush failed")

		_, startReturned := startInBackground(compositeUnit)
		require.Eventually(t, func() bool { return running.Load() == unitsNum }, time.Second*3, time.Millisecond*5)

		err := compositeUnit.Stop(true)
		var cuErr *CompositeUnitError
		require.ErrorAs(t, err, &cuErr)
		require.Len(t, cuErr.UnitErrors, 2)
		require.EqualError(t, err, "unit#2: flush failed; unit#7: flush failed")
		require.ErrorIs(t, err, units[7].stopErr)
		requireClosed(t, startReturned)
	})

	t.Run("fatal error of one unit stops others", func(t *testing.T) {
		const unitsNum = 5
		var running atomic.Int32
		units, compositeUnit := makeBlockingUnits(unitsNum, &running)
		units[0].startErr = errors.New("listen: address already in use")
		units[3].stopErr = errors.New("unit#3: flush failed")

		fatalErr, startReturned := startInBackground(compositeUnit)
		requireClosed(t, startReturned)

		err := <-fatalErr
		var cuErr *CompositeUnitError
		require.ErrorAs(t, err, &cuErr)
		require.Equal(t, []error{units[0].startErr, units[3].stopErr}, cuErr.UnitErrors)
		for _, u := range units {
			require.Equal(t, int32(1), u.stopCalls.Load())
			require.Equal(t, int32(0), u.gracefulStopCalls.Load())
		}
		require.Eventually(t, func() bool { return running.Load() == 0 }, time.Second*3, time.Millisecond*5)
	})
}

func TestCompositeUnit_Metrics(t *testing.T) {
	var running atomic.Int32
	units, compositeUnit := makeBlockingUnits(3, &running)
	compositeUnit.Units = append(compositeUnit.Units, NewCompositeUnit())

	compositeUnit.MustRegisterMetrics()
	compositeUnit.UnregisterMetrics()
	for _, u := range units {
		require.Equal(t, int32(1), u.registerCalls.Load())
		require.Equal(t, int32(1), u.unregisterCalls.Load())
	}
}
