package main

import (
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
)

func TestStopSequenceOrder(t *testing.T) {
	var order []string

	stopSequence(zerolog.Nop(),
		func() { order = append(order, "broker") },
		func() error { order = append(order, "pool"); return nil },
		func() { order = append(order, "monitor") },
		func() error { order = append(order, "metrics"); return nil },
	)

	// The dispatch core goes down before the pool so no client request is
	// accepted and then silently dropped during pool teardown.
	assert.Equal(t, []string{"broker", "pool", "monitor", "metrics"}, order)
}

func TestStopSequenceContinuesPastPoolError(t *testing.T) {
	var order []string

	stopSequence(zerolog.Nop(),
		func() { order = append(order, "broker") },
		func() error { order = append(order, "pool"); return assert.AnError },
		func() { order = append(order, "monitor") },
		func() error { order = append(order, "metrics"); return nil },
	)

	assert.Equal(t, []string{"broker", "pool", "monitor", "metrics"}, order)
}
