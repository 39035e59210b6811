package domain

import "errors"

var (
	ErrOrderNotFound   = errors.New("order not found")
	ErrPaymentNotFound = errors.New("payment not found")

	ErrInvalidOrder           = errors.New("invalid order")
	ErrInvalidStatus          = errors.New("invalid status")
	ErrInvalidStateTransition = errors.New("invalid state transition")

	ErrAlreadyPaid             = errors.New("order already paid")
	ErrOrderNotPayable         = errors.New("order is not payable")
	ErrPaymentAlreadyRequested = errors.New("payment already requested for order")

	// ErrDuplicatePayment 由存储层在同一订单写入第二条支付记录时返回
	ErrDuplicatePayment = errors.New("duplicate payment for order")

	// ErrEventNotPublished 表示业务数据已经落库，但事件暂存于 outbox 等待重发
	ErrEventNotPublished = errors.New("event not published")
)
