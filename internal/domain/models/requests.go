package models

import "github.com/shopspring/decimal"

// Requests for the regime HTTP endpoints and ingest paths.

type EvaluateRequest struct {
	Date             string          `json:"date" validate:"required"`
	SYI              decimal.Decimal `json:"syi"`
	TBill3M          decimal.Decimal `json:"tbill_3m"`
	Components       []Component     `json:"components" validate:"dive"`
	PegStatus        *PegStatus      `json:"peg_status,omitempty"`
	ForceRecalculate bool            `json:"force_recalculate"`
}

type HistoryRequest struct {
	From  string `query:"from" json:"from" validate:"required"`
	To    string `query:"to" json:"to" validate:"required"`
	Limit int    `query:"limit" json:"limit" default:"365" validate:"gte=1,lte=5000"`
}

type BackfillRequest struct {
	Inputs []EvaluateRequest `json:"inputs" validate:"required,min=1,max=5000,dive"`
	Force  bool              `json:"force_recalculate"`
}
