/*
 * Copyright 2025 SREDiag Authors
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package plugin

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	metricnoop "go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"

	"github.com/srediag/plugin-watch/internal/logging"
)

const instrumentationName = "github.com/srediag/plugin-watch/plugin"

var internalLogger = logging.New("watch")

type telemetry struct {
	tracer   trace.Tracer
	hooks    metric.Int64UpDownCounter
	installs metric.Int64Counter
	attrs    metric.MeasurementOption
}

func newTelemetry(identity string, tp trace.TracerProvider, mp metric.MeterProvider) *telemetry {
	if tp == nil {
		tp = tracenoop.NewTracerProvider()
	}
	if mp == nil {
		mp = metricnoop.NewMeterProvider()
	}
	meter := mp.Meter(instrumentationName)
	t := &telemetry{
		tracer: tp.Tracer(instrumentationName),
		attrs:  metric.WithAttributes(attribute.String("plugin.identity", identity)),
	}
	var err error
	if t.hooks, err = meter.Int64UpDownCounter("plugin.watch.hooks",
		metric.WithDescription("Hooks currently installed by the plugin.")); err != nil {
		internalLogger.Warnf("create hooks counter failed, identity=%s: %v", identity, err)
		t.hooks = metricnoop.Int64UpDownCounter{}
	}
	if t.installs, err = meter.Int64Counter("plugin.watch.installs",
		metric.WithDescription("Completed install passes.")); err != nil {
		internalLogger.Warnf("create installs counter failed, identity=%s: %v", identity, err)
		t.installs = metricnoop.Int64Counter{}
	}
	return t
}

func (t *telemetry) start(ctx context.Context, op, identity string) (context.Context, trace.Span) {
	if ctx == nil {
		ctx = context.Background()
	}
	return t.tracer.Start(ctx, "plugin."+op, trace.WithAttributes(attribute.String("plugin.identity", identity)))
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}
