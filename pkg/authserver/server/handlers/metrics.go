// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package handlers

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics counts issued tokens.
type Metrics struct {
	issued *prometheus.CounterVec
}

// NewMetrics creates the token counters and registers them with reg.
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	issued := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "toolhive_idp",
		Subsystem: "tokens",
		Name:      "issued_total",
		Help:      "Tokens issued by kind and endpoint.",
	}, []string{"kind", "endpoint"})

	if err := reg.Register(issued); err != nil {
		var are prometheus.AlreadyRegisteredError
		if !errors.As(err, &are) {
			return nil, err
		}
		issued = are.ExistingCollector.(*prometheus.CounterVec)
	}
	return &Metrics{issued: issued}, nil
}

func (m *Metrics) observe(kind, endpoint string) {
	if m == nil {
		return
	}
	m.issued.WithLabelValues(kind, endpoint).Inc()
}
