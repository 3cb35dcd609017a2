package wallet

const (
	operationRedeem        = "redeem"
	operationPurchase      = "purchase"
	operationAdjust        = "adjust"
	operationMintCodes     = "mint_codes"
	operationSetReply      = "set_admin_reply"
	operationMarkReplyRead = "mark_reply_read"
	operationCompleteOrder = "complete_order"
	operationOrderFeed     = "order_feed"

	operationStatusOK    = "ok"
	operationStatusError = "error"

	defaultQuantity = 1

	mintMaxAttempts = 5
)
