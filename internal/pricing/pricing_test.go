package pricing

import (
	"errors"
	"testing"

	"github.com/akulagin/teashop-system/internal/model"
)

func catalog() map[int64]model.Product {
	return map[int64]model.Product{
		1: {ID: 1, Name: "Да Хун Пао", PricePerGram: 5000, Available: true},
		2: {ID: 2, Name: "Сенча", PricePerGram: 1500, Available: true},
		3: {ID: 3, Name: "Снятый с продажи", PricePerGram: 9900, Available: false},
	}
}

func intPtr(v int) *int { return &v }

func TestCalculate_FirstOrderDiscount(t *testing.T) {
	// Корзина на 1000 рублей, первый заказ: скидка 20%, итог 800 рублей.
	cart := []CartItem{{ProductID: 1, Quantity: 20}} // 20 г * 50 руб = 1000 руб
	loyalty := &LoyaltyState{FirstOrderDiscountUsed: false}

	q, err := Calculate(cart, catalog(), loyalty, 10000)
	if err != nil {
		t.Fatalf("Calculate error: %v", err)
	}

	if q.SubtotalKopecks != 100000 {
		t.Fatalf("subtotal = %d, want 100000", q.SubtotalKopecks)
	}
	if q.TotalKopecks != 80000 {
		t.Fatalf("total = %d, want 80000", q.TotalKopecks)
	}
	if q.DiscountKopecks != 20000 {
		t.Fatalf("discount = %d, want 20000", q.DiscountKopecks)
	}
	if q.Applied != DiscountFirstOrder {
		t.Fatalf("applied = %s, want %s", q.Applied, DiscountFirstOrder)
	}
	if !q.ConsumesFirstOrder {
		t.Fatalf("first-order discount must be marked for consumption")
	}
}

func TestCalculate_FirstOrderBeatsLoyaltyTier(t *testing.T) {
	cart := []CartItem{{ProductID: 1, Quantity: 20}}
	// Пользователь с большим XP, но не использовавший скидку первого заказа.
	loyalty := &LoyaltyState{XP: 200000, PhoneVerified: true, FirstOrderDiscountUsed: false}

	q, err := Calculate(cart, catalog(), loyalty, 0)
	if err != nil {
		t.Fatalf("Calculate error: %v", err)
	}
	if q.Applied != DiscountFirstOrder {
		t.Fatalf("applied = %s, want %s", q.Applied, DiscountFirstOrder)
	}
	if q.TotalKopecks != 80000 {
		t.Fatalf("total = %d, want 80000 (20%%, not 10%%)", q.TotalKopecks)
	}
}

func TestCalculate_LoyaltyTierRequiresVerifiedPhone(t *testing.T) {
	cart := []CartItem{{ProductID: 1, Quantity: 20}}

	unverified := &LoyaltyState{XP: 200000, PhoneVerified: false, FirstOrderDiscountUsed: true}
	q, err := Calculate(cart, catalog(), unverified, 0)
	if err != nil {
		t.Fatalf("Calculate error: %v", err)
	}
	if q.Applied != DiscountNone || q.TotalKopecks != 100000 {
		t.Fatalf("unverified user got discount: applied=%s total=%d", q.Applied, q.TotalKopecks)
	}

	verified := &LoyaltyState{XP: 200000, PhoneVerified: true, FirstOrderDiscountUsed: true}
	q, err = Calculate(cart, catalog(), verified, 0)
	if err != nil {
		t.Fatalf("Calculate error: %v", err)
	}
	if q.Applied != DiscountLoyalty || q.TotalKopecks != 90000 {
		t.Fatalf("verified user: applied=%s total=%d, want loyalty 90000", q.Applied, q.TotalKopecks)
	}
}

func TestCalculate_AdhocStacksMultiplicatively(t *testing.T) {
	cart := []CartItem{{ProductID: 1, Quantity: 20}}
	loyalty := &LoyaltyState{
		FirstOrderDiscountUsed: false,
		AdhocDiscountPercent:   intPtr(10),
	}

	q, err := Calculate(cart, catalog(), loyalty, 0)
	if err != nil {
		t.Fatalf("Calculate error: %v", err)
	}

	// 100000 -> 80000 (первый заказ) -> 72000 (ещё 10%).
	if q.TotalKopecks != 72000 {
		t.Fatalf("total = %d, want 72000", q.TotalKopecks)
	}
	if !q.ConsumesAdhoc {
		t.Fatalf("adhoc discount must be marked for consumption")
	}
	if q.AdhocPercent != 10 {
		t.Fatalf("adhoc percent = %d, want 10", q.AdhocPercent)
	}
}

func TestCalculate_ClampedAtZero(t *testing.T) {
	cart := []CartItem{{ProductID: 2, Quantity: 1}}
	loyalty := &LoyaltyState{
		FirstOrderDiscountUsed: true,
		PhoneVerified:          true,
		XP:                     200000,
		AdhocDiscountPercent:   intPtr(100),
	}

	q, err := Calculate(cart, catalog(), loyalty, 0)
	if err != nil {
		t.Fatalf("Calculate error: %v", err)
	}
	if q.TotalKopecks != 0 {
		t.Fatalf("total = %d, want 0", q.TotalKopecks)
	}
	if q.DiscountKopecks != q.SubtotalKopecks {
		t.Fatalf("discount = %d, want %d", q.DiscountKopecks, q.SubtotalKopecks)
	}
}

func TestCalculate_MissingProductsExcluded(t *testing.T) {
	cart := []CartItem{
		{ProductID: 2, Quantity: 100}, // 150 руб
		{ProductID: 3, Quantity: 10},  // недоступен
		{ProductID: 99, Quantity: 5},  // не существует
	}

	q, err := Calculate(cart, catalog(), nil, 0)
	if err != nil {
		t.Fatalf("Calculate error: %v", err)
	}
	if len(q.Items) != 1 {
		t.Fatalf("items = %d, want 1", len(q.Items))
	}
	if q.TotalKopecks != 150000 {
		t.Fatalf("total = %d, want 150000", q.TotalKopecks)
	}
}

func TestCalculate_EmptyCart(t *testing.T) {
	_, err := Calculate([]CartItem{{ProductID: 99, Quantity: 1}}, catalog(), nil, 0)
	if !errors.Is(err, ErrEmptyCart) {
		t.Fatalf("err = %v, want ErrEmptyCart", err)
	}
}

func TestCalculate_BelowMinimum(t *testing.T) {
	// Корзина на 15 рублей при минимуме 100 рублей.
	cart := []CartItem{{ProductID: 2, Quantity: 1}}
	_, err := Calculate(cart, catalog(), nil, 10000)
	if !errors.Is(err, ErrBelowMinimum) {
		t.Fatalf("err = %v, want ErrBelowMinimum", err)
	}
}

func TestCalculate_GuestGetsNoDiscount(t *testing.T) {
	cart := []CartItem{{ProductID: 1, Quantity: 20}}

	q, err := Calculate(cart, catalog(), nil, 0)
	if err != nil {
		t.Fatalf("Calculate error: %v", err)
	}
	if q.Applied != DiscountNone || q.TotalKopecks != q.SubtotalKopecks {
		t.Fatalf("guest order must not be discounted: %+v", q)
	}
}

func TestDistributeTotal_Proportional(t *testing.T) {
	lines := []int64{60000, 40000}
	got, err := DistributeTotal(lines, 80000)
	if err != nil {
		t.Fatalf("DistributeTotal error: %v", err)
	}
	if got[0] != 48000 || got[1] != 32000 {
		t.Fatalf("distribution = %v, want [48000 32000]", got)
	}
}

func TestDistributeTotal_RemainderOnLastLine(t *testing.T) {
	lines := []int64{100, 100, 100}
	got, err := DistributeTotal(lines, 100)
	if err != nil {
		t.Fatalf("DistributeTotal error: %v", err)
	}

	var sum int64
	for i, v := range got {
		if v < 1 {
			t.Fatalf("line %d got %d, below 1 kopeck floor", i, v)
		}
		sum += v
	}
	if sum != 100 {
		t.Fatalf("sum = %d, want exactly 100", sum)
	}
}

func TestDistributeTotal_FloorKeepsOneKopeck(t *testing.T) {
	// Доля первой позиции округлилась бы к нулю, но минимум — 1 копейка.
	lines := []int64{1, 99999}
	got, err := DistributeTotal(lines, 50000)
	if err != nil {
		t.Fatalf("DistributeTotal error: %v", err)
	}
	if got[0] != 1 {
		t.Fatalf("first line = %d, want 1", got[0])
	}
	if got[0]+got[1] != 50000 {
		t.Fatalf("sum = %d, want 50000", got[0]+got[1])
	}
}

func TestDistributeTotal_Indivisible(t *testing.T) {
	// Три позиции нельзя уложить в 2 копейки с минимумом 1 копейка на позицию.
	if _, err := DistributeTotal([]int64{100, 100, 100}, 2); !errors.Is(err, ErrIndivisible) {
		t.Fatalf("err = %v, want ErrIndivisible", err)
	}
	if _, err := DistributeTotal(nil, 100); !errors.Is(err, ErrIndivisible) {
		t.Fatalf("err = %v, want ErrIndivisible for empty lines", err)
	}
}
