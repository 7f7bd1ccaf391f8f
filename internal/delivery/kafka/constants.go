package kafka

const (
	TopicRedeemed = "economy.coupon.redeemed"
	TopicFlagged  = "economy.fraud.flagged"
)
