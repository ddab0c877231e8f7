package entity

import (
	"fmt"
	"net/http"
	"taskmarket/lib/validate"
	"time"

	"github.com/shopspring/decimal"
)

type OrderStatus string

const (
	OrderPending    OrderStatus = "pending"
	OrderInProgress OrderStatus = "in_progress"
	OrderCompleted  OrderStatus = "completed"
	OrderCancelled  OrderStatus = "cancelled"
)

// Platform is the social network an order is placed on.
type Platform string

const (
	PlatformVK        Platform = "vk"
	PlatformTelegram  Platform = "telegram"
	PlatformInstagram Platform = "instagram"
	PlatformTikTok    Platform = "tiktok"
	PlatformYouTube   Platform = "youtube"
	PlatformOK        Platform = "ok"
	PlatformDzen      Platform = "dzen"
)

var allPlatforms = []Platform{
	PlatformVK,
	PlatformTelegram,
	PlatformInstagram,
	PlatformTikTok,
	PlatformYouTube,
	PlatformOK,
	PlatformDzen,
}

func AllPlatforms() []Platform {
	result := make([]Platform, len(allPlatforms))
	copy(result, allPlatforms)
	return result
}

func IsValidPlatform(p Platform) bool {
	for _, v := range allPlatforms {
		if v == p {
			return true
		}
	}
	return false
}

// Order is a paid placement task posted by a customer.
// Target narrows visibility: the more fields are set, the fewer executors see it.
type Order struct {
	ID         string          `json:"id" bson:"_id"`
	CustomerID string          `json:"customer_id" bson:"customer_id"`
	Title      string          `json:"title" bson:"title"`
	Status     OrderStatus     `json:"status" bson:"status"`
	Reward     decimal.Decimal `json:"reward" bson:"-"`
	Target     Location        `json:"target" bson:"target"`
	Platform   Platform        `json:"platform" bson:"platform"`
	CreatedAt  time.Time       `json:"created_at" bson:"created_at"`
	Deadline   time.Time       `json:"deadline" bson:"deadline"`
}

func (o *Order) IsClaimable() bool {
	return o.Status == OrderPending
}

// OrderDraft is the customer's request to post a new order.
type OrderDraft struct {
	Title    string          `json:"title" validate:"required,max=200"`
	Reward   decimal.Decimal `json:"reward"`
	Platform Platform        `json:"platform" validate:"required"`
	Country  string          `json:"country" validate:"required"`
	Region   string          `json:"region" validate:"omitempty,max=100"`
	City     string          `json:"city" validate:"omitempty,max=100"`
	Deadline time.Time       `json:"deadline" validate:"required"`
}

func (d *OrderDraft) Bind(_ *http.Request) error {
	if err := validate.Struct(d); err != nil {
		return err
	}
	return d.Validate(time.Now())
}

func (d *OrderDraft) Validate(now time.Time) error {
	if !IsValidPlatform(d.Platform) {
		return fmt.Errorf("unknown platform %q", d.Platform)
	}
	if !d.Reward.IsPositive() {
		return fmt.Errorf("reward must be positive")
	}
	if !d.Deadline.After(now) {
		return fmt.Errorf("deadline must be in the future")
	}
	if d.Target().CountryCode() == "" {
		return fmt.Errorf("unknown country %q", d.Country)
	}
	return nil
}

func (d *OrderDraft) Target() Location {
	return Location{
		Country: d.Country,
		Region:  d.Region,
		City:    d.City,
	}
}

// OrderFilter selects orders from the store; zero values mean "any".
type OrderFilter struct {
	Status   OrderStatus
	Platform Platform
}
