// Package receipt опрашивает платёжный шлюз в ожидании фискального чека.
//
// Шлюз формирует чек асинхронно, обычно через 2–10 минут после подтверждения
// платежа, поэтому вебхук часто приходит без ссылки на чек. Планировщик
// выполняет ограниченную серию проверок: сразу, затем через 3, 4 и 5 минут
// (абсолютные смещения 0, 3, 7 и 12 минут). Успешная проверка сохраняет ссылку
// и отправляет покупателю SMS; исчерпание попыток поднимает оповещение
// оператору для ручного разбора.
//
// Планировщик работает на таймерах внутри процесса и не переживает рестарт.
package receipt

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sethvargo/go-retry"
	"go.uber.org/zap"

	"github.com/akulagin/teashop-system/internal/payment"
)

var errNotReady = errors.New("receipt is not ready yet")

// Gateway — часть клиента платёжного шлюза, нужная планировщику.
type Gateway interface {
	GetState(ctx context.Context, paymentID string) (*payment.State, error)
}

// OrderStore сохраняет ссылку на чек. SaveReceiptURL возвращает false, если
// ссылка уже была сохранена ранее (повторная проверка ничего не меняет).
type OrderStore interface {
	SaveReceiptURL(ctx context.Context, orderID int64, url string) (bool, error)
}

// SMSSender отправляет покупателю сообщение со ссылкой на чек.
type SMSSender interface {
	Send(ctx context.Context, phone, text string) error
}

// Alerter доставляет оповещение оператору.
type Alerter interface {
	Alert(ctx context.Context, text string) error
}

// Scheduler выполняет отложенные проверки наличия чека для оплаченных заказов.
type Scheduler struct {
	gateway Gateway
	store   OrderStore
	sms     SMSSender
	alerts  Alerter
	logger  *zap.Logger
	delays  []time.Duration

	wg sync.WaitGroup
}

// NewScheduler создаёт планировщик со стандартной лестницей задержек 3/4/5 минут.
func NewScheduler(gateway Gateway, store OrderStore, sms SMSSender, alerts Alerter, logger *zap.Logger) *Scheduler {
	return &Scheduler{
		gateway: gateway,
		store:   store,
		sms:     sms,
		alerts:  alerts,
		logger:  logger,
		delays:  []time.Duration{3 * time.Minute, 4 * time.Minute, 5 * time.Minute},
	}
}

// Schedule запускает серию проверок чека для заказа в отдельной горутине.
// Первая проверка выполняется немедленно. phone используется для SMS
// покупателю после получения ссылки.
func (s *Scheduler) Schedule(ctx context.Context, orderID int64, paymentID, phone string) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.run(ctx, orderID, paymentID, phone)
	}()
}

// Wait блокируется до завершения всех запущенных серий проверок.
func (s *Scheduler) Wait() {
	s.wg.Wait()
}

func (s *Scheduler) run(ctx context.Context, orderID int64, paymentID, phone string) {
	attempt := 0

	err := retry.Do(ctx, ladder(s.delays), func(ctx context.Context) error {
		attempt++

		st, err := s.gateway.GetState(ctx, paymentID)
		if err != nil {
			s.logger.Warn("receipt check: gateway error",
				zap.Error(err),
				zap.Int64("orderID", orderID),
				zap.String("paymentID", paymentID),
				zap.Int("attempt", attempt),
			)
			return retry.RetryableError(err)
		}

		if st.ReceiptURL == "" {
			return retry.RetryableError(errNotReady)
		}

		saved, err := s.store.SaveReceiptURL(ctx, orderID, st.ReceiptURL)
		if err != nil {
			return retry.RetryableError(fmt.Errorf("save receipt url: %w", err))
		}

		if saved {
			s.notifyCustomer(ctx, orderID, phone, st.ReceiptURL)
		}
		return nil
	})
	if err == nil {
		return
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return
	}

	s.logger.Error("receipt check attempts exhausted, manual resolution required",
		zap.Error(err),
		zap.Int64("orderID", orderID),
		zap.String("paymentID", paymentID),
	)

	text := fmt.Sprintf("Чек не получен после всех попыток. Заказ %d, платёж %s, телефон покупателя %s.",
		orderID, paymentID, phone)
	if alertErr := s.alerts.Alert(ctx, text); alertErr != nil {
		s.logger.Error("operator alert failed", zap.Error(alertErr), zap.Int64("orderID", orderID))
	}
}

func (s *Scheduler) notifyCustomer(ctx context.Context, orderID int64, phone, url string) {
	if phone == "" {
		return
	}
	text := fmt.Sprintf("Спасибо за заказ! Ваш фискальный чек: %s", url)
	if err := s.sms.Send(ctx, phone, text); err != nil {
		s.logger.Error("receipt sms failed",
			zap.Error(err),
			zap.Int64("orderID", orderID),
			zap.String("phone", phone),
		)
	}
}

// ladder возвращает Backoff, выдающий заданные задержки по порядку и
// останавливающий повторы после их исчерпания.
func ladder(delays []time.Duration) retry.Backoff {
	i := 0
	return retry.BackoffFunc(func() (time.Duration, bool) {
		if i >= len(delays) {
			return 0, true
		}
		d := delays[i]
		i++
		return d, false
	})
}
