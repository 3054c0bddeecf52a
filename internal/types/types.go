package types

type EntryKind string

type TradeKind string

type SubscriptionStatus string

type RankTier string

const (
	EntryKindDeposit        EntryKind = "deposit"
	EntryKindWithdraw       EntryKind = "withdraw"
	EntryKindInvestment     EntryKind = "investment"
	EntryKindProfit         EntryKind = "profit"
	EntryKindLoss           EntryKind = "loss"
	EntryKindReferralBonus  EntryKind = "referral-bonus"
	EntryKindCopyAllocation EntryKind = "copy-allocation"
	EntryKindCopyRefund     EntryKind = "copy-refund"
)

const (
	TradeKindProfit TradeKind = "profit"
	TradeKindLoss   TradeKind = "loss"
)

const (
	SubscriptionActive  SubscriptionStatus = "active"
	SubscriptionPaused  SubscriptionStatus = "paused"
	SubscriptionStopped SubscriptionStatus = "stopped"
)

const (
	RankSilver   RankTier = "silver"
	RankGold     RankTier = "gold"
	RankPlatinum RankTier = "platinum"
	RankDiamond  RankTier = "diamond"
)

func (k EntryKind) Valid() bool {
	switch k {
	case EntryKindDeposit, EntryKindWithdraw, EntryKindInvestment, EntryKindProfit,
		EntryKindLoss, EntryKindReferralBonus, EntryKindCopyAllocation, EntryKindCopyRefund:
		return true
	}
	return false
}

func (k TradeKind) Valid() bool {
	return k == TradeKindProfit || k == TradeKindLoss
}
