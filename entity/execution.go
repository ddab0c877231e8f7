package entity

import (
	"time"

	"github.com/shopspring/decimal"
)

type ExecutionStatus string

const (
	ExecutionPending       ExecutionStatus = "pending"
	ExecutionPendingReview ExecutionStatus = "pending_review"
	ExecutionApproved      ExecutionStatus = "approved"
	ExecutionRejected      ExecutionStatus = "rejected"
)

// Execution is one executor's claim of one order. Reward is copied from
// the order at claim time and never recomputed.
type Execution struct {
	ID         string          `json:"id" bson:"_id"`
	OrderID    string          `json:"order_id" bson:"order_id"`
	ExecutorID string          `json:"executor_id" bson:"executor_id"`
	Platform   Platform        `json:"platform" bson:"platform"`
	Status     ExecutionStatus `json:"status" bson:"status"`
	Reward     decimal.Decimal `json:"reward" bson:"-"`
	CreatedAt  time.Time       `json:"created_at" bson:"created_at"`
	ReviewedAt *time.Time      `json:"reviewed_at,omitempty" bson:"reviewed_at,omitempty"`
	Comment    string          `json:"comment,omitempty" bson:"comment,omitempty"`
}
