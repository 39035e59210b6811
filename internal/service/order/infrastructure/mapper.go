package infrastructure

import (
	"orderpay/internal/service/order/domain"
	"orderpay/internal/service/order/domain/port"
)

// ToDomainOrder 将数据库模型转换为领域模型
func ToDomainOrder(model *OrderModel) *domain.Order {
	if model == nil {
		return nil
	}
	items := make([]domain.OrderItem, 0, len(model.Items))
	for _, it := range model.Items {
		items = append(items, domain.OrderItem{
			ProductID: it.ProductID,
			Quantity:  it.Quantity,
			Price:     it.Price,
		})
	}
	return &domain.Order{
		ID:         model.ID,
		MemberID:   model.MemberID,
		Address:    model.Address,
		Status:     domain.OrderStatus(model.Status),
		TotalPrice: model.TotalPrice,
		TraceID:    model.TraceID,
		Items:      items,
		CreatedAt:  model.CreatedAt,
		UpdatedAt:  model.UpdatedAt,
	}
}

// FromDomainOrder 将领域模型转换为数据库模型 (用于插入)
func FromDomainOrder(o *domain.Order) *OrderModel {
	if o == nil {
		return nil
	}
	items := make([]OrderItemModel, 0, len(o.Items))
	for _, it := range o.Items {
		items = append(items, OrderItemModel{
			OrderID:   o.ID,
			ProductID: it.ProductID,
			Quantity:  it.Quantity,
			Price:     it.Price,
		})
	}
	return &OrderModel{
		ID:         o.ID,
		MemberID:   o.MemberID,
		Address:    o.Address,
		Status:     string(o.Status),
		TotalPrice: o.TotalPrice,
		TraceID:    o.TraceID,
		Items:      items,
		CreatedAt:  o.CreatedAt,
		UpdatedAt:  o.UpdatedAt,
	}
}

func ToDomainPayment(model *PaymentModel) *domain.Payment {
	if model == nil {
		return nil
	}
	return &domain.Payment{
		ID:          model.ID,
		OrderID:     model.OrderID,
		Status:      domain.PaymentStatus(model.Status),
		PaidAmount:  model.PaidAmount,
		Method:      model.Method,
		RequestedAt: model.RequestedAt,
	}
}

func FromDomainPayment(p *domain.Payment) *PaymentModel {
	if p == nil {
		return nil
	}
	return &PaymentModel{
		ID:          p.ID,
		OrderID:     p.OrderID,
		Status:      string(p.Status),
		PaidAmount:  p.PaidAmount,
		Method:      p.Method,
		RequestedAt: p.RequestedAt,
	}
}

func toSagaRecord(model *SagaLogModel) port.SagaRecord {
	return port.SagaRecord{
		SagaID:    model.SagaID,
		OrderID:   model.OrderID,
		Step:      model.Step,
		Status:    model.Status,
		Detail:    model.Detail,
		TraceID:   model.TraceID,
		SpanID:    model.SpanID,
		CreatedAt: model.CreatedAt,
	}
}
