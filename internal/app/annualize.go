package app

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"rate-annualizer/internal/form"
	"rate-annualizer/internal/rates"
	"rate-annualizer/internal/service"
)

// Annualize reduces one series and prints the result.
func (a *App) Annualize(ctx context.Context, opts AnnualizeOptions) (rates.Annualized, error) {
	annualizer, err := a.newAnnualizer()
	if err != nil {
		return rates.Annualized{}, err
	}

	name := opts.Strategy
	if name == "" {
		name = a.Config.Annualizer.DefaultStrategy
	}
	strategy, err := rates.ParseStrategy(name)
	if err != nil {
		return rates.Annualized{}, err
	}
	months := a.Config.Annualizer.DefaultLookback
	if opts.Months != nil {
		months = *opts.Months
	}

	req := service.Request{Series: opts.Series, LookbackMonths: months, Strategy: strategy}
	var result rates.Annualized
	if opts.AsOf != nil {
		result, err = annualizer.AnnualizeAsOf(ctx, req, *opts.AsOf)
	} else {
		result, err = annualizer.Annualize(ctx, req)
	}
	if err != nil {
		return rates.Annualized{}, err
	}

	a.printResult(result)
	return result, nil
}

// Current prints the current CDI under the given policy; empty uses the configured one.
func (a *App) Current(ctx context.Context, policy string) (rates.Annualized, error) {
	annualizer, err := a.newAnnualizer()
	if err != nil {
		return rates.Annualized{}, err
	}
	var p service.Policy
	if policy != "" {
		if p, err = service.ParsePolicy(policy); err != nil {
			return rates.Annualized{}, err
		}
	}

	result, err := annualizer.CurrentCDI(ctx, p)
	if err != nil {
		return rates.Annualized{}, err
	}
	a.printResult(result)
	return result, nil
}

// Inflation prints the trailing twelve-month IPCA.
func (a *App) Inflation(ctx context.Context) (rates.Annualized, error) {
	annualizer, err := a.newAnnualizer()
	if err != nil {
		return rates.Annualized{}, err
	}
	result, err := annualizer.TrailingInflation(ctx)
	if err != nil {
		return rates.Annualized{}, err
	}
	a.printResult(result)
	return result, nil
}

// Update runs one form update against a recorder and prints the resulting form
// state. months is the raw look-back field, validated like the page does.
func (a *App) Update(ctx context.Context, months string, mode form.Mode) (form.State, error) {
	annualizer, err := a.newAnnualizer()
	if err != nil {
		return form.State{}, err
	}
	updater, err := a.newUpdater(annualizer)
	if err != nil {
		return form.State{}, err
	}

	// Unparseable input maps to zero, which the updater reports as an invalid period.
	n, _ := form.ParseMonths(months)

	rec := form.NewRecorder()
	_, err = updater.UpdateMode(ctx, "cli", mode, n, rec)
	state := rec.State()
	a.printState(state)
	return state, err
}

func (a *App) printResult(r rates.Annualized) {
	fmt.Fprintln(a.Out, service.Describe(r))
	if !r.Start.IsZero() {
		fmt.Fprintf(a.Out, "  window %s .. %s, %d observations\n", rates.FormatSGSDate(r.Start), rates.FormatSGSDate(r.End), r.Observations)
	}
	if !r.LastDate.IsZero() {
		fmt.Fprintf(a.Out, "  last observation %s\n", rates.FormatSGSDate(r.LastDate))
	}
}

func (a *App) printState(s form.State) {
	names := make([]string, 0, len(s.Fields))
	for name := range s.Fields {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		fmt.Fprintf(a.Out, "%s = %s\n", name, s.Fields[name])
	}

	selectors := make([]string, 0, len(s.Knowledge))
	for sel := range s.Knowledge {
		selectors = append(selectors, sel)
	}
	sort.Strings(selectors)
	for _, sel := range selectors {
		fmt.Fprintf(a.Out, "%s = %s\n", sel, s.Knowledge[sel])
	}

	if s.Message != "" {
		fmt.Fprintf(a.Out, "[%s] %s\n", strings.ToUpper(string(s.Status)), s.Message)
	}
}
