package ui

import "github.com/sonodavide/androsync/internal/stats"

// quietPresenter consumes events but produces no output.
type quietPresenter struct {
	stats *stats.Collector
}

func (p *quietPresenter) Run(events <-chan Event) error {
	for range events {
		// Totals are set on the collector directly by the engine;
		// presenters only read from the collector.
	}
	return nil
}

func (p *quietPresenter) Summary() string {
	return ""
}
