package application

import "github.com/raulk/clock"

// Clock dipakai supaya waktu gampang ditest (lihat clock.NewMock)
type Clock = clock.Clock

// SystemClock returns the wall clock.
func SystemClock() Clock { return clock.New() }
