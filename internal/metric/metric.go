// MIT License
//
// Copyright (c) 2022-2026 GoAkt Team
//
// Permission is hereby granted, free of charge, to any person obtaining a copy
// of this software and associated documentation files (the "Software"), to deal
// in the Software without restriction, including without limitation the rights
// to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
// copies of the Software, and to permit persons to whom the Software is
// furnished to do so, subject to the following conditions:
//
// The above copyright notice and this permission notice shall be included in all
// copies or substantial portions of the Software.
//
// THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
// IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
// FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
// AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
// LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
// OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN THE
// SOFTWARE.

package metric

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
)

const instrumentationName = "github.com/jt7sku/koonti"

// SiloMetric groups the OpenTelemetry instruments recorded by a silo.
//
// Instruments:
//   - koonti.activations.count       (Int64Counter)
//   - koonti.deactivations.count     (Int64Counter)
//   - koonti.invocations.count       (Int64Counter)
//   - koonti.invocations.failed      (Int64Counter)
//   - koonti.reminders.fired         (Int64Counter)
//   - koonti.events.delivered        (Int64Counter)
//   - koonti.silos.declared_dead     (Int64Counter)
type SiloMetric struct {
	activations     metric.Int64Counter
	deactivations   metric.Int64Counter
	invocations     metric.Int64Counter
	failures        metric.Int64Counter
	remindersFired  metric.Int64Counter
	eventsDelivered metric.Int64Counter
	siloDeaths      metric.Int64Counter
}

// Meter returns the meter of the global provider.
func Meter() metric.Meter {
	return otel.GetMeterProvider().Meter(instrumentationName)
}

// NewSiloMetric creates the silo instruments using the given Meter.
func NewSiloMetric(meter metric.Meter) (*SiloMetric, error) {
	var instruments SiloMetric
	var err error

	if instruments.activations, err = meter.Int64Counter(
		"koonti.activations.count",
		metric.WithDescription("Total number of actor activations"),
	); err != nil {
		return nil, err
	}

	if instruments.deactivations, err = meter.Int64Counter(
		"koonti.deactivations.count",
		metric.WithDescription("Total number of actor deactivations"),
	); err != nil {
		return nil, err
	}

	if instruments.invocations, err = meter.Int64Counter(
		"koonti.invocations.count",
		metric.WithDescription("Total number of actor turns executed"),
	); err != nil {
		return nil, err
	}

	if instruments.failures, err = meter.Int64Counter(
		"koonti.invocations.failed",
		metric.WithDescription("Total number of actor turns that returned an error"),
	); err != nil {
		return nil, err
	}

	if instruments.remindersFired, err = meter.Int64Counter(
		"koonti.reminders.fired",
		metric.WithDescription("Total number of reminder firings acknowledged by actors"),
	); err != nil {
		return nil, err
	}

	if instruments.eventsDelivered, err = meter.Int64Counter(
		"koonti.events.delivered",
		metric.WithDescription("Total number of stream events acknowledged by actors"),
	); err != nil {
		return nil, err
	}

	if instruments.siloDeaths, err = meter.Int64Counter(
		"koonti.silos.declared_dead",
		metric.WithDescription("Total number of silos this silo declared dead"),
	); err != nil {
		return nil, err
	}

	return &instruments, nil
}

// NoopSiloMetric returns instruments that record nothing.
func NoopSiloMetric() *SiloMetric {
	instruments, _ := NewSiloMetric(noop.NewMeterProvider().Meter(instrumentationName))
	return instruments
}

func typeAttr(actorType string) metric.AddOption {
	return metric.WithAttributes(attribute.String("actor.type", actorType))
}

// Activated records an activation of the given actor type.
func (x *SiloMetric) Activated(ctx context.Context, actorType string) {
	x.activations.Add(ctx, 1, typeAttr(actorType))
}

// Deactivated records a deactivation of the given actor type.
func (x *SiloMetric) Deactivated(ctx context.Context, actorType string) {
	x.deactivations.Add(ctx, 1, typeAttr(actorType))
}

// Invoked records one actor turn and whether it failed.
func (x *SiloMetric) Invoked(ctx context.Context, actorType string, err error) {
	x.invocations.Add(ctx, 1, typeAttr(actorType))
	if err != nil {
		x.failures.Add(ctx, 1, typeAttr(actorType))
	}
}

// ReminderFired records an acknowledged reminder firing.
func (x *SiloMetric) ReminderFired(ctx context.Context, actorType string) {
	x.remindersFired.Add(ctx, 1, typeAttr(actorType))
}

// EventDelivered records an acknowledged event delivery.
func (x *SiloMetric) EventDelivered(ctx context.Context, topic string) {
	x.eventsDelivered.Add(ctx, 1, metric.WithAttributes(attribute.String("stream.topic", topic)))
}

// SiloDeclaredDead records a death declaration.
func (x *SiloMetric) SiloDeclaredDead(ctx context.Context) {
	x.siloDeaths.Add(ctx, 1)
}
