/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package eventbus carries events between nodes. Backends share one
// guarantee: local subscribers always hear local publishes, broker or no
// broker.
package eventbus

import "github.com/friendsincode/muninn_rounds/internal/events"

// Bus is the cross-node event fabric contract.
type Bus interface {
	Subscribe(eventType events.EventType) events.Subscriber
	Publish(eventType events.EventType, payload events.Payload)
	Unsubscribe(eventType events.EventType, sub events.Subscriber)
	Close() error
}

// Memory adapts the in-process bus to the Bus contract for single-node
// deployments.
type Memory struct {
	*events.Bus
}

// NewMemory creates an in-process bus.
func NewMemory() Memory {
	return Memory{events.NewBus()}
}

// Close satisfies Bus; an in-process bus has nothing to release.
func (Memory) Close() error {
	return nil
}
