package application

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	outcomePaid               = "paid"
	outcomeCompensated        = "compensated"
	outcomeConflict           = "conflict"
	outcomeCompensationFailed = "compensation_failed"
)

var paymentSagas = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "order_payment_sagas_total",
	Help: "Payment sagas by final outcome.",
}, []string{"outcome"})
