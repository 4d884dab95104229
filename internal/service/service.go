// Package service реализует бизнес-логику магазина чая: оформление заказа,
// платёжный цикл и программу лояльности.
package service

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/akulagin/teashop-system/internal/model"
	"github.com/akulagin/teashop-system/internal/payment"
	"github.com/akulagin/teashop-system/internal/pricing"
	"github.com/akulagin/teashop-system/internal/repository"
	"github.com/akulagin/teashop-system/internal/validation"
)

// ErrInvalidCredentials возвращается при неверной паре логин/пароль.
var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrInvalidContact возвращается при некорректных контактных данных заказа.
	ErrInvalidContact = errors.New("invalid contact fields")
	// ErrForbidden возвращается при попытке работать с чужим заказом.
	ErrForbidden = errors.New("order belongs to another customer")
	// ErrInvalidSignature возвращается для уведомлений с неверной подписью.
	ErrInvalidSignature = errors.New("notification signature mismatch")
	// ErrStatusConflict возвращается, если статус заказа уже изменён другим актором.
	ErrStatusConflict = errors.New("order not found or already changed")
	// ErrInvalidTransition возвращается для переходов, запрещённых жизненным циклом заказа.
	ErrInvalidTransition = errors.New("status transition is not allowed")
	// ErrPaymentNotInitialized возвращается, если у заказа ещё нет платёжной сессии.
	ErrPaymentNotInitialized = errors.New("payment is not initialized for order")
	// ErrInvalidDiscount возвращается при попытке назначить скидку вне диапазона 1–100%.
	ErrInvalidDiscount = errors.New("discount percent out of range")
)

// Repository описывает контракт доступа к данным, используемый сервисом.
type Repository interface {
	Close() error
	CreateUser(ctx context.Context, login string, passwordHash []byte, phone string) (int64, error)
	GetUserByLogin(ctx context.Context, login string) (*model.User, error)
	GetUserByID(ctx context.Context, id int64) (*model.User, error)
	GetProducts(ctx context.Context) ([]model.Product, error)
	GetProductsByIDs(ctx context.Context, ids []int64) (map[int64]model.Product, error)
	CreateOrder(ctx context.Context, o *model.Order) (int64, error)
	GetOrder(ctx context.Context, id int64) (*model.Order, error)
	GetOrdersByUser(ctx context.Context, userID int64) ([]model.Order, error)
	UpdateOrderStatusIf(ctx context.Context, id int64, from, to model.OrderStatus) (bool, error)
	SetPaymentInfo(ctx context.Context, id int64, paymentID, paymentStatus, paymentURL string) error
	SetPaymentStatus(ctx context.Context, id int64, paymentStatus string) error
	SaveReceiptURL(ctx context.Context, id int64, url string) (bool, error)
	AwardPointsOnce(ctx context.Context, orderID int64) (bool, error)
	SetFirstOrderDiscountUsed(ctx context.Context, userID int64, used bool) error
	ClearAdhocDiscount(ctx context.Context, userID int64) error
	SetAdhocDiscount(ctx context.Context, userID int64, percent int) error
}

// Gateway описывает используемую сервисом часть клиента платёжного шлюза.
type Gateway interface {
	Init(ctx context.Context, req payment.InitRequest) (*payment.InitResult, error)
	GetState(ctx context.Context, paymentID string) (*payment.State, error)
	VerifyNotification(n payment.Notification) bool
}

// SMSSender отправляет SMS покупателю.
type SMSSender interface {
	Send(ctx context.Context, phone, text string) error
}

// ReceiptScheduler запускает серию отложенных проверок фискального чека.
type ReceiptScheduler interface {
	Schedule(ctx context.Context, orderID int64, paymentID, phone string)
}

// Actor описывает инициатора запроса: покупателя, гостя или оператора.
type Actor struct {
	UserID *int64
	Admin  bool
}

// Options — параметры платёжного цикла.
type Options struct {
	MinOrderKopecks int64
	NotificationURL string
	SuccessURL      string
	FailURL         string
	Taxation        string
}

// Service содержит бизнес-логику магазина.
type Service struct {
	repo     Repository
	gateway  Gateway
	sms      SMSSender
	receipts ReceiptScheduler
	logger   *zap.Logger
	opts     Options
}

// NewService создаёт сервис с указанными зависимостями.
func NewService(repo Repository, gateway Gateway, sms SMSSender, receipts ReceiptScheduler, logger *zap.Logger, opts Options) *Service {
	if opts.Taxation == "" {
		opts.Taxation = "usn_income"
	}
	return &Service{
		repo:     repo,
		gateway:  gateway,
		sms:      sms,
		receipts: receipts,
		logger:   logger,
		opts:     opts,
	}
}

// Close закрывает ресурсы сервиса.
func (s *Service) Close() error {
	if s.repo != nil {
		return s.repo.Close()
	}
	return nil
}

// RegisterUser регистрирует нового покупателя.
func (s *Service) RegisterUser(ctx context.Context, login, password, phone string) (int64, error) {
	hashed := hashPassword(login, password)
	id, err := s.repo.CreateUser(ctx, login, hashed, phone)
	if err != nil {
		return 0, err
	}
	return id, nil
}

// AuthenticateUser проверяет логин и пароль покупателя и возвращает его идентификатор.
func (s *Service) AuthenticateUser(ctx context.Context, login, password string) (int64, error) {
	u, err := s.repo.GetUserByLogin(ctx, login)
	if err != nil {
		return 0, err
	}

	hashed := hashPassword(login, password)
	if hex.EncodeToString(hashed) != hex.EncodeToString(u.PasswordHash) {
		return 0, ErrInvalidCredentials
	}

	return u.ID, nil
}

func hashPassword(login, password string) []byte {
	sum := sha256.Sum256([]byte(login + ":" + password))
	return sum[:]
}

// GetProducts возвращает каталог доступных товаров.
func (s *Service) GetProducts(ctx context.Context) ([]model.Product, error) {
	return s.repo.GetProducts(ctx)
}

// GetOrdersByUser возвращает заказы покупателя.
func (s *Service) GetOrdersByUser(ctx context.Context, userID int64) ([]model.Order, error) {
	return s.repo.GetOrdersByUser(ctx, userID)
}

// CheckoutRequest — данные оформления заказа. ClientTotal носит справочный
// характер: сумма заказа всегда вычисляется сервером заново.
type CheckoutRequest struct {
	Name        string
	Email       string
	Phone       string
	Address     string
	Comment     string
	Items       []pricing.CartItem
	ClientTotal float64
}

// Checkout оформляет заказ: валидирует контактные данные, вычисляет
// авторитетную сумму и сохраняет заказ в статусе pending. Применённые скидки
// (первый заказ, разовая административная) помечаются использованными.
func (s *Service) Checkout(ctx context.Context, userID *int64, req CheckoutRequest) (int64, error) {
	phone, ok := validation.NormalizePhone(req.Phone)
	if !ok || req.Name == "" || req.Address == "" {
		return 0, ErrInvalidContact
	}
	if req.Email != "" && !validation.IsValidEmail(req.Email) {
		return 0, ErrInvalidContact
	}

	var loyalty *pricing.LoyaltyState
	if userID != nil {
		u, err := s.repo.GetUserByID(ctx, *userID)
		if err != nil {
			return 0, fmt.Errorf("load user: %w", err)
		}
		loyalty = &pricing.LoyaltyState{
			XP:                     u.XP,
			PhoneVerified:          u.PhoneVerified,
			FirstOrderDiscountUsed: u.FirstOrderDiscountUsed,
			AdhocDiscountPercent:   u.AdhocDiscountPercent,
		}
	}

	ids := make([]int64, 0, len(req.Items))
	for _, it := range req.Items {
		ids = append(ids, it.ProductID)
	}
	products, err := s.repo.GetProductsByIDs(ctx, ids)
	if err != nil {
		return 0, fmt.Errorf("load products: %w", err)
	}

	quote, err := pricing.Calculate(req.Items, products, loyalty, s.opts.MinOrderKopecks)
	if err != nil {
		return 0, err
	}

	if clientKopecks := int64(math.Round(req.ClientTotal * 100)); clientKopecks != quote.TotalKopecks {
		s.logger.Warn("client total differs from server total",
			zap.Int64("clientTotal", clientKopecks),
			zap.Int64("serverTotal", quote.TotalKopecks),
		)
	}

	order := &model.Order{
		UserID:                 userID,
		Name:                   req.Name,
		Email:                  req.Email,
		Phone:                  phone,
		Address:                req.Address,
		Comment:                req.Comment,
		Items:                  quote.Items,
		TotalKopecks:           quote.TotalKopecks,
		UsedFirstOrderDiscount: quote.ConsumesFirstOrder,
	}

	id, err := s.repo.CreateOrder(ctx, order)
	if err != nil {
		return 0, fmt.Errorf("create order: %w", err)
	}

	if userID != nil {
		if quote.ConsumesFirstOrder {
			if err := s.repo.SetFirstOrderDiscountUsed(ctx, *userID, true); err != nil {
				s.logger.Error("consume first order discount", zap.Error(err), zap.Int64("userID", *userID))
			}
		}
		if quote.ConsumesAdhoc {
			if err := s.repo.ClearAdhocDiscount(ctx, *userID); err != nil {
				s.logger.Error("clear adhoc discount", zap.Error(err), zap.Int64("userID", *userID))
			}
		}
	}

	return id, nil
}

// InitPayment создаёт платёжную сессию для заказа. Авторизованный покупатель
// может оплачивать только свои заказы, гость — только гостевые.
func (s *Service) InitPayment(ctx context.Context, actor Actor, orderID int64) (*payment.InitResult, error) {
	order, err := s.repo.GetOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}

	if err := checkOwnership(actor, order); err != nil {
		return nil, err
	}

	if order.Status != model.OrderStatusPending {
		return nil, ErrInvalidTransition
	}

	receipt, err := s.buildReceipt(order)
	if err != nil {
		return nil, err
	}

	// Уникальный идентификатор на стороне шлюза: повторная инициализация того
	// же заказа получает новый суффикс.
	merchantOrderID := fmt.Sprintf("%d-%s", order.ID, uuid.NewString()[:8])

	res, err := s.gateway.Init(ctx, payment.InitRequest{
		Amount:          order.TotalKopecks,
		OrderID:         merchantOrderID,
		Description:     fmt.Sprintf("Заказ №%d в магазине чая", order.ID),
		Receipt:         receipt,
		NotificationURL: s.opts.NotificationURL,
		SuccessURL:      s.opts.SuccessURL,
		FailURL:         s.opts.FailURL,
	})
	if err != nil {
		return nil, fmt.Errorf("init payment: %w", err)
	}

	if err := s.repo.SetPaymentInfo(ctx, order.ID, res.PaymentID, res.Status, res.PaymentURL); err != nil {
		return nil, fmt.Errorf("save payment info: %w", err)
	}

	return res, nil
}

// buildReceipt формирует фискальный чек заказа: итоговая сумма со скидкой
// распределяется по позициям пропорционально их полной стоимости.
func (s *Service) buildReceipt(order *model.Order) (*payment.Receipt, error) {
	lines := make([]int64, 0, len(order.Items))
	for _, it := range order.Items {
		lines = append(lines, int64(math.Round(it.PricePerGram*100))*int64(it.Quantity))
	}

	amounts, err := pricing.DistributeTotal(lines, order.TotalKopecks)
	if err != nil {
		return nil, fmt.Errorf("order %d: %w", order.ID, err)
	}

	items := make([]payment.ReceiptItem, 0, len(order.Items))
	for i, it := range order.Items {
		items = append(items, payment.ReceiptItem{
			Name:     fmt.Sprintf("%s, %d г", it.Name, it.Quantity),
			Price:    amounts[i],
			Quantity: 1,
			Amount:   amounts[i],
			Tax:      "none",
		})
	}

	return &payment.Receipt{
		Email:    order.Email,
		Phone:    order.Phone,
		Taxation: s.opts.Taxation,
		Items:    items,
	}, nil
}

// ApplyNotification обрабатывает вебхук шлюза. Уведомление с неверной подписью
// отклоняется до каких-либо изменений состояния.
func (s *Service) ApplyNotification(ctx context.Context, n payment.Notification) error {
	if !s.gateway.VerifyNotification(n) {
		return ErrInvalidSignature
	}

	orderID, err := parseMerchantOrderID(n.OrderID)
	if err != nil {
		return err
	}

	order, err := s.repo.GetOrder(ctx, orderID)
	if err != nil {
		return err
	}

	return s.applyGatewayStatus(ctx, order, n.Status, "")
}

// SyncPayment запрашивает состояние платежа у шлюза и применяет его к заказу.
// Используется обработчиком проверки статуса и ручной сверкой оператора.
func (s *Service) SyncPayment(ctx context.Context, actor Actor, orderID int64) (*model.Order, error) {
	order, err := s.repo.GetOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}

	if err := checkOwnership(actor, order); err != nil {
		return nil, err
	}

	if order.PaymentID == "" {
		return nil, ErrPaymentNotInitialized
	}

	st, err := s.gateway.GetState(ctx, order.PaymentID)
	if err != nil {
		return nil, fmt.Errorf("get payment state: %w", err)
	}

	if err := s.applyGatewayStatus(ctx, order, st.Status, st.ReceiptURL); err != nil {
		return nil, err
	}

	return s.repo.GetOrder(ctx, orderID)
}

// applyGatewayStatus отображает словарь статусов шлюза на статус заказа и
// применяет его идемпотентно: повторное уведомление не начисляет баллы и не
// отправляет SMS второй раз.
func (s *Service) applyGatewayStatus(ctx context.Context, order *model.Order, gatewayStatus, receiptURL string) error {
	if err := s.repo.SetPaymentStatus(ctx, order.ID, gatewayStatus); err != nil {
		s.logger.Error("record payment status", zap.Error(err), zap.Int64("orderID", order.ID))
	}

	switch gatewayStatus {
	case payment.StatusConfirmed:
		transitioned, err := s.repo.UpdateOrderStatusIf(ctx, order.ID, model.OrderStatusPending, model.OrderStatusPaid)
		if err != nil {
			return err
		}

		awarded, err := s.repo.AwardPointsOnce(ctx, order.ID)
		if err != nil {
			s.logger.Error("award loyalty points", zap.Error(err), zap.Int64("orderID", order.ID))
		} else if awarded {
			s.logger.Info("loyalty points awarded", zap.Int64("orderID", order.ID))
		}

		if receiptURL != "" {
			saved, err := s.repo.SaveReceiptURL(ctx, order.ID, receiptURL)
			if err != nil {
				return err
			}
			if saved {
				s.sendReceiptSMS(ctx, order, receiptURL)
			}
			return nil
		}

		// Чек ещё не готов: серия отложенных проверок запускается один раз,
		// при первом переходе в paid.
		if transitioned && order.ReceiptURL == nil {
			s.receipts.Schedule(context.WithoutCancel(ctx), order.ID, order.PaymentID, order.Phone)
		}
		return nil

	case payment.StatusRejected:
		transitioned, err := s.repo.UpdateOrderStatusIf(ctx, order.ID, model.OrderStatusPending, model.OrderStatusCancelled)
		if err != nil {
			return err
		}
		if transitioned {
			s.restoreFirstOrderDiscount(ctx, order)
		}
		return nil

	default:
		// Промежуточный статус: заказ остаётся pending.
		return nil
	}
}

func (s *Service) sendReceiptSMS(ctx context.Context, order *model.Order, receiptURL string) {
	if order.Phone == "" {
		return
	}
	text := fmt.Sprintf("Спасибо за заказ! Ваш фискальный чек: %s", receiptURL)
	if err := s.sms.Send(ctx, order.Phone, text); err != nil {
		s.logger.Error("receipt sms failed", zap.Error(err), zap.Int64("orderID", order.ID))
	}
}

func (s *Service) restoreFirstOrderDiscount(ctx context.Context, order *model.Order) {
	if !order.UsedFirstOrderDiscount || order.UserID == nil {
		return
	}
	if err := s.repo.SetFirstOrderDiscountUsed(ctx, *order.UserID, false); err != nil {
		s.logger.Error("restore first order discount", zap.Error(err), zap.Int64("userID", *order.UserID))
	}
}

// allowedTransitions перечисляет разрешённые переходы статусов заказа.
// completed и cancelled терминальны.
var allowedTransitions = map[model.OrderStatus]map[model.OrderStatus]bool{
	model.OrderStatusPending: {
		model.OrderStatusPaid:      true,
		model.OrderStatusCancelled: true,
		model.OrderStatusCompleted: true,
	},
	model.OrderStatusPaid: {
		model.OrderStatusCancelled: true,
		model.OrderStatusCompleted: true,
	},
}

// SetOrderStatus выполняет операторский перевод заказа в новый статус.
// Обновление условное: проигравший в гонке оператор получает ErrStatusConflict.
// Перевод в completed начисляет баллы лояльности ровно один раз; отмена
// возвращает покупателю скидку первого заказа, если она была использована.
func (s *Service) SetOrderStatus(ctx context.Context, orderID int64, to model.OrderStatus) error {
	order, err := s.repo.GetOrder(ctx, orderID)
	if err != nil {
		return err
	}

	from := order.Status
	if from == to {
		return nil
	}
	if !allowedTransitions[from][to] {
		return ErrInvalidTransition
	}

	ok, err := s.repo.UpdateOrderStatusIf(ctx, orderID, from, to)
	if err != nil {
		return err
	}
	if !ok {
		return ErrStatusConflict
	}

	switch to {
	case model.OrderStatusCompleted:
		awarded, err := s.repo.AwardPointsOnce(ctx, orderID)
		if err != nil {
			s.logger.Error("award loyalty points", zap.Error(err), zap.Int64("orderID", orderID))
		} else if awarded {
			s.logger.Info("loyalty points awarded", zap.Int64("orderID", orderID))
		}
	case model.OrderStatusCancelled:
		s.restoreFirstOrderDiscount(ctx, order)
	}

	return nil
}

// GrantDiscount назначает покупателю разовую административную скидку.
func (s *Service) GrantDiscount(ctx context.Context, userID int64, percent int) error {
	if percent < 1 || percent > 100 {
		return fmt.Errorf("%w: %d", ErrInvalidDiscount, percent)
	}
	return s.repo.SetAdhocDiscount(ctx, userID, percent)
}

func checkOwnership(actor Actor, order *model.Order) error {
	if actor.Admin {
		return nil
	}
	if order.UserID == nil {
		if actor.UserID != nil {
			return ErrForbidden
		}
		return nil
	}
	if actor.UserID == nil || *actor.UserID != *order.UserID {
		return ErrForbidden
	}
	return nil
}

func parseMerchantOrderID(merchantID string) (int64, error) {
	idStr, _, _ := strings.Cut(merchantID, "-")
	id, err := strconv.ParseInt(idStr, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: bad merchant order id %q", repository.ErrOrderNotFound, merchantID)
	}
	return id, nil
}
