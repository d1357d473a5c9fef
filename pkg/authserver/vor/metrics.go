// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package vor

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	resultHit        = "hit"
	resultMiss       = "miss"
	resultFetchError = "fetch_error"
	resultInvalid    = "invalid"
)

// Metrics counts resolver outcomes by resolver name and result.
type Metrics struct {
	lookups *prometheus.CounterVec
}

// NewMetrics creates the resolver counters and registers them with reg.
// A counter already registered by another server instance is reused.
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	lookups := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "toolhive_idp",
		Subsystem: "resolver",
		Name:      "lookups_total",
		Help:      "Value-or-reference resolutions by resolver and result.",
	}, []string{"resolver", "result"})

	if err := reg.Register(lookups); err != nil {
		var are prometheus.AlreadyRegisteredError
		if !errors.As(err, &are) {
			return nil, err
		}
		lookups = are.ExistingCollector.(*prometheus.CounterVec)
	}
	return &Metrics{lookups: lookups}, nil
}

func (m *Metrics) observe(resolver, result string) {
	if m == nil {
		return
	}
	m.lookups.WithLabelValues(resolver, result).Inc()
}
