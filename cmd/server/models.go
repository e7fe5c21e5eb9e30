package main

import (
	"github.com/shopspring/decimal"

	"github.com/verkstad/dashboard/pipeline"
	"github.com/verkstad/dashboard/rotrut"
	"github.com/verkstad/dashboard/tenant"
)

// API request and response models

// CalculateDeductionRequest is the body of POST /deductions/calculate.
// TotalInclVat defaults to the sum of the line totals when omitted.
type CalculateDeductionRequest struct {
	Items         []rotrut.LineItem `json:"items"`
	DeductionType string            `json:"deductionType"`
	TotalInclVat  *decimal.Decimal  `json:"totalInclVat,omitempty"`
}

// DeductionResponse carries both the exact and the whole-kronor result
type DeductionResponse struct {
	Result  rotrut.Result `json:"result"`
	Rounded rotrut.Result `json:"rounded"`
}

// ValidatePersonnummerRequest is the body of POST /personnummer/validate
type ValidatePersonnummerRequest struct {
	Personnummer string `json:"personnummer"`
}

// ValidatePersonnummerResponse reports validity and the display form
type ValidatePersonnummerResponse struct {
	Valid     bool   `json:"valid"`
	Formatted string `json:"formatted,omitempty"`
}

// CreateTenantRequest represents the request body for creating a tenant
type CreateTenantRequest struct {
	Name      string `json:"name"`
	OrgNumber string `json:"orgNumber,omitempty"`
}

// TenantsListResponse represents the response for listing tenants
type TenantsListResponse struct {
	Tenants []*tenant.Business `json:"tenants"`
}

// DealsListResponse represents the response for listing deals
type DealsListResponse struct {
	Deals []*pipeline.Deal `json:"deals"`
}

// DealEventRequest is the body of the quote-accepted and invoice-paid events
type DealEventRequest struct {
	BusinessID string `json:"businessId"`
	DealID     string `json:"dealId"`
}

// ErrorResponse represents an error response
type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

// HealthResponse represents the health check response
type HealthResponse struct {
	Status        string `json:"status"`
	Storage       string `json:"storage"`
	TenantsLoaded int    `json:"tenantsLoaded"`
	Error         string `json:"error,omitempty"`
}
