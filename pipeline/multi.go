package pipeline

import (
	"context"
	"errors"
	"time"
)

type multiObserver []Observer

// MultiObserver fans every hook out to each observer in order. All observers are
// called even if one fails; the errors are joined.
func MultiObserver(observers ...Observer) Observer {
	list := make(multiObserver, 0, len(observers))
	for _, o := range observers {
		if o != nil {
			list = append(list, o)
		}
	}
	return list
}

func (m multiObserver) BeforePipeline(ctx context.Context, run RunInfo, payload any) error {
	var errs []error
	for _, o := range m {
		errs = append(errs, o.BeforePipeline(ctx, run, payload))
	}
	return errors.Join(errs...)
}

func (m multiObserver) AfterPipeline(ctx context.Context, run RunInfo, result any, err error) error {
	var errs []error
	for _, o := range m {
		errs = append(errs, o.AfterPipeline(ctx, run, result, err))
	}
	return errors.Join(errs...)
}

func (m multiObserver) BeforeStep(ctx context.Context, run RunInfo, step StepInfo, input any) error {
	var errs []error
	for _, o := range m {
		errs = append(errs, o.BeforeStep(ctx, run, step, input))
	}
	return errors.Join(errs...)
}

func (m multiObserver) AfterStep(ctx context.Context, run RunInfo, step StepInfo, input, output any, stepErr error, d time.Duration) error {
	var errs []error
	for _, o := range m {
		errs = append(errs, o.AfterStep(ctx, run, step, input, output, stepErr, d))
	}
	return errors.Join(errs...)
}
