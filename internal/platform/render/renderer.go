package render

import (
	"context"
)

// Request is everything a render service needs to produce one creative variant.
type Request struct {
	JobID      string            `json:"jobId"`
	MatrixID   string            `json:"matrixId"`
	CampaignID string            `json:"campaignId"`
	RowID      string            `json:"rowId"`
	Values     map[string]string `json:"values"`
	Slots      []SlotInfo        `json:"slots,omitempty"`
}

// SlotInfo describes a slot in matrix order so renderers can lay values out.
type SlotInfo struct {
	ID   string `json:"id"`
	Name string `json:"name,omitempty"`
	Type string `json:"type,omitempty"`
}

type Result struct {
	OutputURL     string `json:"outputUrl"`
	ExternalJobID string `json:"jobId,omitempty"`
}

type Renderer interface {
	Render(ctx context.Context, req Request) (*Result, error)
}

// Func adapts a plain function to Renderer.
type Func func(ctx context.Context, req Request) (*Result, error)

func (f Func) Render(ctx context.Context, req Request) (*Result, error) { return f(ctx, req) }
