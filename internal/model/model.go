// Package model содержит доменные сущности магазина чая.
package model

import "time"

// User представляет зарегистрированного покупателя и его состояние лояльности.
type User struct {
	ID                     int64
	Login                  string
	PasswordHash           []byte
	Phone                  string
	PhoneVerified          bool
	XP                     int64
	FirstOrderDiscountUsed bool
	AdhocDiscountPercent   *int
	CreatedAt              time.Time
}

// Product описывает позицию каталога. Цена хранится в копейках за грамм.
type Product struct {
	ID           int64
	Name         string
	Description  string
	PricePerGram int64
	Available    bool
}

// OrderStatus описывает статус заказа.
type OrderStatus string

const (
	OrderStatusPending   OrderStatus = "pending"
	OrderStatusPaid      OrderStatus = "paid"
	OrderStatusCancelled OrderStatus = "cancelled"
	OrderStatusCompleted OrderStatus = "completed"
)

// OrderItem описывает одну позицию заказа. Сериализуется в JSON-колонку items;
// цена в JSON передаётся в рублях для совместимости с витриной.
type OrderItem struct {
	ID           int64   `json:"id"`
	Name         string  `json:"name"`
	PricePerGram float64 `json:"pricePerGram"`
	Quantity     int     `json:"quantity"`
}

// Order описывает оформленный заказ. UserID == nil означает гостевой заказ.
// Суммы хранятся в копейках, наружу отдаются в рублях.
type Order struct {
	ID                     int64
	UserID                 *int64
	Name                   string
	Email                  string
	Phone                  string
	Address                string
	Comment                string
	Items                  []OrderItem
	TotalKopecks           int64
	Status                 OrderStatus
	UsedFirstOrderDiscount bool
	PointsAwarded          bool
	PaymentID              string
	PaymentStatus          string
	PaymentURL             string
	ReceiptURL             *string
	CreatedAt              time.Time
}

// LoyaltyTierPercent возвращает процент скидки уровня лояльности для
// накопленного опыта. Функция монотонна по xp.
func LoyaltyTierPercent(xp int64) int {
	switch {
	case xp >= 100000:
		return 10
	case xp >= 40000:
		return 7
	case xp >= 15000:
		return 5
	case xp >= 5000:
		return 3
	default:
		return 0
	}
}
