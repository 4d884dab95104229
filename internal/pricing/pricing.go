// Package pricing вычисляет итоговую стоимость заказа на стороне сервера.
//
// Сумма заказа никогда не берётся из данных клиента: цены читаются из каталога,
// скидки применяются по правилам программы лояльности. Все расчёты ведутся в
// копейках, проценты считаются через decimal, чтобы избежать дрейфа float64.
package pricing

import (
	"errors"

	"github.com/shopspring/decimal"

	"github.com/akulagin/teashop-system/internal/model"
)

// FirstOrderPercent — размер одноразовой скидки на первый заказ.
const FirstOrderPercent = 20

// ErrBelowMinimum возвращается, если итоговая сумма меньше минимальной суммы заказа.
var ErrBelowMinimum = errors.New("order total below minimum")

// ErrEmptyCart возвращается, если после фильтрации недоступных товаров корзина пуста.
var ErrEmptyCart = errors.New("cart has no available items")

// ErrIndivisible возвращается, если скидку нельзя распределить по позициям чека
// с соблюдением минимума в 1 копейку на позицию.
var ErrIndivisible = errors.New("discount cannot be distributed across receipt items")

// CartItem — позиция корзины, присланная клиентом. Цена клиента игнорируется.
type CartItem struct {
	ProductID int64
	Quantity  int
}

// DiscountClass определяет, какая скидка применена к заказу.
type DiscountClass string

const (
	DiscountNone       DiscountClass = "none"
	DiscountFirstOrder DiscountClass = "first_order"
	DiscountLoyalty    DiscountClass = "loyalty"
)

// LoyaltyState — состояние лояльности покупателя на момент расчёта.
// nil означает гостевой заказ без скидок.
type LoyaltyState struct {
	XP                     int64
	PhoneVerified          bool
	FirstOrderDiscountUsed bool
	AdhocDiscountPercent   *int
}

// Quote — результат серверного расчёта стоимости заказа.
type Quote struct {
	Items              []model.OrderItem
	SubtotalKopecks    int64
	DiscountKopecks    int64
	TotalKopecks       int64
	Applied            DiscountClass
	AdhocPercent       int
	ConsumesFirstOrder bool
	ConsumesAdhoc      bool
}

// Calculate вычисляет авторитетную стоимость корзины.
//
// Позиции, ссылающиеся на отсутствующие или недоступные товары, исключаются из
// расчёта без ошибки. Применяется не более одной скидки класса: скидка на первый
// заказ имеет приоритет над скидкой уровня лояльности (последняя требует
// подтверждённого телефона). Разовая административная скидка накладывается
// мультипликативно поверх уже применённой. Итог не может стать отрицательным.
func Calculate(cart []CartItem, products map[int64]model.Product, loyalty *LoyaltyState, minOrderKopecks int64) (*Quote, error) {
	q := &Quote{Applied: DiscountNone}

	var subtotal int64
	for _, ci := range cart {
		if ci.Quantity <= 0 {
			continue
		}
		p, ok := products[ci.ProductID]
		if !ok || !p.Available {
			continue
		}
		line := p.PricePerGram * int64(ci.Quantity)
		subtotal += line
		q.Items = append(q.Items, model.OrderItem{
			ID:           p.ID,
			Name:         p.Name,
			PricePerGram: float64(p.PricePerGram) / 100,
			Quantity:     ci.Quantity,
		})
	}

	if len(q.Items) == 0 {
		return nil, ErrEmptyCart
	}

	q.SubtotalKopecks = subtotal
	total := subtotal

	if loyalty != nil {
		switch {
		case !loyalty.FirstOrderDiscountUsed:
			total = applyPercent(total, FirstOrderPercent)
			q.Applied = DiscountFirstOrder
			q.ConsumesFirstOrder = true
		case loyalty.PhoneVerified:
			if pct := model.LoyaltyTierPercent(loyalty.XP); pct > 0 {
				total = applyPercent(total, pct)
				q.Applied = DiscountLoyalty
			}
		}

		if loyalty.AdhocDiscountPercent != nil && *loyalty.AdhocDiscountPercent > 0 {
			q.AdhocPercent = *loyalty.AdhocDiscountPercent
			total = applyPercent(total, q.AdhocPercent)
			q.ConsumesAdhoc = true
		}
	}

	if total < 0 {
		total = 0
	}

	q.TotalKopecks = total
	q.DiscountKopecks = subtotal - total

	if total < minOrderKopecks {
		return nil, ErrBelowMinimum
	}

	return q, nil
}

// applyPercent уменьшает сумму в копейках на pct процентов, округляя скидку вниз.
func applyPercent(kopecks int64, pct int) int64 {
	discount := decimal.NewFromInt(kopecks).
		Mul(decimal.NewFromInt(int64(pct))).
		Div(decimal.NewFromInt(100)).
		Floor().
		IntPart()
	return kopecks - discount
}

// DistributeTotal распределяет итоговую сумму заказа по позициям чека
// пропорционально их полной стоимости.
//
// Каждая позиция получает не меньше 1 копейки (требование кассового чека),
// остаток округления относится на последнюю позицию, так что сумма по позициям
// в точности равна total. Если распределение с этими ограничениями невозможно,
// возвращается ErrIndivisible.
func DistributeTotal(lineKopecks []int64, totalKopecks int64) ([]int64, error) {
	n := len(lineKopecks)
	if n == 0 {
		return nil, ErrIndivisible
	}
	if totalKopecks < int64(n) {
		return nil, ErrIndivisible
	}

	var subtotal int64
	for _, v := range lineKopecks {
		if v <= 0 {
			return nil, ErrIndivisible
		}
		subtotal += v
	}

	out := make([]int64, n)
	var assigned int64
	for i := 0; i < n-1; i++ {
		share := lineKopecks[i] * totalKopecks / subtotal
		if share < 1 {
			share = 1
		}
		out[i] = share
		assigned += share
	}

	last := totalKopecks - assigned
	if last < 1 {
		return nil, ErrIndivisible
	}
	out[n-1] = last

	return out, nil
}
