package payment

import (
	"encoding/json"
	"time"
)

type Purpose string

const (
	PurposeDepositPayment   Purpose = "deposit_payment"
	PurposeRemainderPayment Purpose = "remainder_payment"
	PurposeVisitFee         Purpose = "visit_fee"
)

func (p Purpose) Valid() bool {
	switch p {
	case PurposeDepositPayment, PurposeRemainderPayment, PurposeVisitFee:
		return true
	}
	return false
}

type Channel string

const (
	ChannelMobileMoneyA Channel = "mobile_money_a"
	ChannelMobileMoneyB Channel = "mobile_money_b"
	ChannelCard         Channel = "card"
)

func (c Channel) Valid() bool {
	switch c {
	case ChannelMobileMoneyA, ChannelMobileMoneyB, ChannelCard:
		return true
	}
	return false
}

// IsMobileMoney reports whether the channel confirms in-band on the payer's phone.
func (c Channel) IsMobileMoney() bool {
	return c == ChannelMobileMoneyA || c == ChannelMobileMoneyB
}

type Status string

const (
	StatusPending Status = "pending"
	StatusSuccess Status = "success"
	StatusFailed  Status = "failed"
)

func (s Status) Terminal() bool {
	return s == StatusSuccess || s == StatusFailed
}

// Intent is one tracked payment request. Rows are append-only per related entity.
type Intent struct {
	ID                  string          `gorm:"primaryKey;type:uuid"`
	PayerID             string          `gorm:"column:payer_id;not null;index"`
	Purpose             Purpose         `gorm:"column:purpose;not null;index:idx_intents_related,priority:1"`
	RelatedEntityID     string          `gorm:"column:related_entity_id;not null;index:idx_intents_related,priority:2"`
	Amount              int64           `gorm:"column:amount;not null"`
	Currency            string          `gorm:"column:currency;not null"`
	Channel             Channel         `gorm:"column:channel;not null"`
	Status              Status          `gorm:"column:status;not null;default:pending;index"`
	IdempotencyKey      string          `gorm:"column:idempotency_key;not null;uniqueIndex"`
	DedupKey            string          `gorm:"column:dedup_key;not null;index"`
	Attempt             int             `gorm:"column:attempt;not null;default:1"`
	ProviderReference   *string         `gorm:"column:provider_reference;index"`
	ProviderRedirectURL *string         `gorm:"column:provider_redirect_url"`
	ConfirmInstruction  *string         `gorm:"column:confirm_instruction"`
	ProviderPayload     json.RawMessage `gorm:"column:provider_payload;type:jsonb"`
	FailureReason       *string         `gorm:"column:failure_reason"`
	ResolvedAt          *time.Time      `gorm:"column:resolved_at"`
	CreatedAt           time.Time       `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt           time.Time       `gorm:"column:updated_at;autoUpdateTime"`
}

func (Intent) TableName() string {
	return "payment_intents"
}
