// Package payroll provides multi-currency payroll computation: employee
// currency preferences, locked per-run exchange rates, and the
// decomposition of net pay into currency-tagged disbursement legs.
package payroll

import (
	"time"

	"github.com/shopspring/decimal"
)

// SplitMethod selects how net pay is divided between currencies.
type SplitMethod string

const (
	// SplitAllPrimary pays everything in the primary currency.
	SplitAllPrimary SplitMethod = "all_primary"
	// SplitPercentage routes a percentage of net pay to the secondary currency.
	SplitPercentage SplitMethod = "percentage"
	// SplitFixedAmount routes a fixed secondary-currency amount.
	SplitFixedAmount SplitMethod = "fixed_amount"
)

// ValidSplitMethods defines the allowed split methods.
var ValidSplitMethods = map[SplitMethod]bool{
	SplitAllPrimary:  true,
	SplitPercentage:  true,
	SplitFixedAmount: true,
}

// CurrencyPreference is an employee's payout currency configuration,
// effective from EffectiveDate until EndDate (nil = open-ended). At most
// one preference is active for an employee on a given date; the latest
// effective non-expired record wins.
type CurrencyPreference struct {
	ID         string `json:"id"`
	EmployeeID string `json:"employee_id"`
	CompanyID  string `json:"company_id"`

	PrimaryCurrencyID   string  `json:"primary_currency_id"`
	SecondaryCurrencyID *string `json:"secondary_currency_id,omitempty"`

	SplitMethod SplitMethod `json:"split_method"`
	// SecondaryCurrencyPercentage (0-100) applies when SplitMethod is
	// percentage.
	SecondaryCurrencyPercentage *decimal.Decimal `json:"secondary_currency_percentage,omitempty"`
	// SecondaryCurrencyFixedAmount is denominated in the secondary
	// currency and applies when SplitMethod is fixed_amount.
	SecondaryCurrencyFixedAmount *decimal.Decimal `json:"secondary_currency_fixed_amount,omitempty"`

	EffectiveDate time.Time  `json:"effective_date"`
	EndDate       *time.Time `json:"end_date,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// ActiveOn reports whether the preference's validity window covers the date.
func (p *CurrencyPreference) ActiveOn(date time.Time) bool {
	if date.Before(p.EffectiveDate) {
		return false
	}
	if p.EndDate != nil && date.After(*p.EndDate) {
		return false
	}
	return true
}

// NetPaySplit is one currency-denominated disbursement leg of a net pay
// amount.
type NetPaySplit struct {
	CurrencyID string `json:"currency_id"`
	// Amount is denominated in CurrencyID.
	Amount           decimal.Decimal `json:"amount"`
	ExchangeRateUsed decimal.Decimal `json:"exchange_rate_used"`
	// LocalCurrencyEquivalent is the leg's value in the employee's local
	// currency. Across all legs of a split these sum exactly to the net
	// pay: conversion never creates or destroys value in the local view.
	LocalCurrencyEquivalent decimal.Decimal `json:"local_currency_equivalent"`
	IsPrimary               bool            `json:"is_primary"`
}
