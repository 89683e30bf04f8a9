// Package jobs runs the API's periodic maintenance work.
package jobs

import (
	"context"
	"fmt"
	"time"

	"github.com/go-co-op/gocron/v2"
	"github.com/sirupsen/logrus"
)

const expireJobName = "expire-stale-payments"

// PaymentExpirer fails pending payments older than maxAge.
// Satisfied by *service.PaymentService.
type PaymentExpirer interface {
	ExpireStalePayments(ctx context.Context, maxAge time.Duration) (int, error)
}

// Scheduler wraps a gocron scheduler with the API's jobs registered.
type Scheduler struct {
	scheduler gocron.Scheduler
	payments  PaymentExpirer
	expiry    time.Duration
	timeout   time.Duration
	logger    *logrus.Logger
}

// NewScheduler registers the payment expiry job to run every interval.
// A run that is still going when the next is due is rescheduled, never
// run twice concurrently.
func NewScheduler(payments PaymentExpirer, expiry, interval time.Duration, logger *logrus.Logger) (*Scheduler, error) {
	s, err := gocron.NewScheduler()
	if err != nil {
		return nil, fmt.Errorf("create scheduler: %w", err)
	}

	js := &Scheduler{
		scheduler: s,
		payments:  payments,
		expiry:    expiry,
		timeout:   interval,
		logger:    logger,
	}

	if _, err := s.NewJob(
		gocron.DurationJob(interval),
		gocron.NewTask(js.expirePayments),
		gocron.WithName(expireJobName),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	); err != nil {
		return nil, fmt.Errorf("create %s job: %w", expireJobName, err)
	}

	return js, nil
}

func (js *Scheduler) Start() {
	js.logger.WithField("jobs", len(js.scheduler.Jobs())).Info("starting background job scheduler")
	js.scheduler.Start()
}

func (js *Scheduler) Stop() error {
	js.logger.Info("stopping background job scheduler")
	return js.scheduler.Shutdown()
}

func (js *Scheduler) expirePayments() {
	ctx, cancel := context.WithTimeout(context.Background(), js.timeout)
	defer cancel()

	n, err := js.payments.ExpireStalePayments(ctx, js.expiry)
	if err != nil {
		js.logger.WithContext(ctx).WithError(err).Error("expire stale payments")
		return
	}
	if n > 0 {
		js.logger.WithContext(ctx).WithField("count", n).Info("expired stale payments")
	}
}
