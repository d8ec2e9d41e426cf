// Package funds manages invested capital, deposit and withdrawal requests,
// balances and bot earnings.
package funds

import (
	"context"
	"errors"
	"fmt"
	"math"

	"bot-dashboard/internal/database"
	"bot-dashboard/internal/events"

	"github.com/rs/zerolog"
)

var (
	ErrInvalidAmount       = errors.New("amount must be positive")
	ErrWholeAmount         = errors.New("capital amount must be a whole number")
	ErrInvalidExchange     = errors.New("unsupported exchange")
	ErrCapitalExists       = errors.New("capital already invested on an exchange")
	ErrNoCapital           = errors.New("no capital invested")
	ErrInsufficientBalance = errors.New("insufficient balance on exchange")
	ErrNotFound            = errors.New("request not found")
	ErrNotPending          = errors.New("request is not pending")
	ErrInvalidEarning      = errors.New("earning amount must be non-zero")
)

// Store is the persistence the funds service needs
type Store interface {
	GetUserCapital(ctx context.Context, userID string) (*database.UserCapital, error)
	CreateUserCapital(ctx context.Context, c *database.UserCapital) error
	DeleteUserCapital(ctx context.Context, userID string) (bool, error)
	ListConnectedCapital(ctx context.Context) ([]database.UserCapitalWithUser, error)

	CreateTransaction(ctx context.Context, kind database.TransactionKind, t *database.FundTransaction) error
	GetTransaction(ctx context.Context, kind database.TransactionKind, id int64) (*database.FundTransaction, error)
	ListUserTransactions(ctx context.Context, kind database.TransactionKind, userID string) ([]*database.FundTransaction, error)
	ListTransactionsByStatus(ctx context.Context, kind database.TransactionKind, status database.RequestStatus) ([]*database.FundTransaction, error)
	ProcessTransaction(ctx context.Context, kind database.TransactionKind, id int64, status database.RequestStatus, operatorID, reason string) (*database.FundTransaction, error)
	TotalsByExchange(ctx context.Context, userID string) ([]database.ExchangeTotals, error)

	ListEarnings(ctx context.Context, userID string) ([]*database.BotEarning, error)
	TotalEarnings(ctx context.Context, userID string) (float64, error)
	CreateEarning(ctx context.Context, e *database.BotEarning) error
}

// ExchangeConnection reports whether a user has capital on an exchange
type ExchangeConnection struct {
	Exchange      database.Exchange `json:"exchange"`
	IsConnected   bool              `json:"is_connected"`
	CapitalAmount float64           `json:"capital_amount"`
}

// ExchangeBalance is the settled balance on one exchange
type ExchangeBalance struct {
	Exchange           database.Exchange `json:"exchange"`
	Balance            float64           `json:"balance"`
	Available          float64           `json:"available"`
	PendingWithdrawals float64           `json:"pending_withdrawals"`
}

// Balance is approved deposits minus approved withdrawals
type Balance struct {
	Total          float64           `json:"total"`
	TotalDeposited float64           `json:"total_deposited"`
	TotalWithdrawn float64           `json:"total_withdrawn"`
	ByExchange     []ExchangeBalance `json:"by_exchange"`
}

// CalculatedBalance is invested capital plus all earnings
type CalculatedBalance struct {
	Capital  float64 `json:"capital"`
	Earnings float64 `json:"earnings"`
	Total    float64 `json:"total"`
}

// ExchangeBucket groups connected users under one exchange
type ExchangeBucket struct {
	Exchange     database.Exchange              `json:"exchange"`
	Users        []database.UserCapitalWithUser `json:"users"`
	TotalCapital float64                        `json:"total_capital"`
}

// Service handles capital, transactions and earnings
type Service struct {
	store  Store
	bus    *events.EventBus
	logger zerolog.Logger
}

// NewService creates a new funds service
func NewService(store Store, bus *events.EventBus, logger zerolog.Logger) *Service {
	return &Service{
		store:  store,
		bus:    bus,
		logger: logger.With().Str("component", "funds").Logger(),
	}
}

func validAmount(amount float64) bool {
	return amount > 0 && !math.IsInf(amount, 0) && !math.IsNaN(amount)
}

// =====================================================
// CAPITAL
// =====================================================

// GetCapital returns the user's capital, nil when nothing is invested
func (s *Service) GetCapital(ctx context.Context, userID string) (*database.UserCapital, error) {
	c, err := s.store.GetUserCapital(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to get capital: %w", err)
	}
	return c, nil
}

// Invest connects capital to a single exchange
func (s *Service) Invest(ctx context.Context, userID string, exchange database.Exchange, amount float64) (*database.UserCapital, error) {
	if !exchange.IsValid() {
		return nil, ErrInvalidExchange
	}
	if !validAmount(amount) {
		return nil, ErrInvalidAmount
	}
	if amount != math.Trunc(amount) {
		return nil, ErrWholeAmount
	}

	existing, err := s.store.GetUserCapital(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to get capital: %w", err)
	}
	if existing != nil {
		return nil, ErrCapitalExists
	}

	c := &database.UserCapital{UserID: userID, Exchange: exchange, CapitalAmount: amount}
	if err := s.store.CreateUserCapital(ctx, c); err != nil {
		if errors.Is(err, database.ErrDuplicate) {
			return nil, ErrCapitalExists
		}
		return nil, fmt.Errorf("failed to invest capital: %w", err)
	}

	s.logger.Info().
		Str("user_id", userID).
		Str("exchange", string(exchange)).
		Float64("amount", amount).
		Msg("Capital invested")
	s.bus.PublishCapitalChanged(userID, string(exchange), amount)
	return c, nil
}

// WithdrawCapital disconnects the user's capital
func (s *Service) WithdrawCapital(ctx context.Context, userID string) error {
	existing, err := s.store.GetUserCapital(ctx, userID)
	if err != nil {
		return fmt.Errorf("failed to get capital: %w", err)
	}
	if existing == nil {
		return ErrNoCapital
	}

	found, err := s.store.DeleteUserCapital(ctx, userID)
	if err != nil {
		return fmt.Errorf("failed to withdraw capital: %w", err)
	}
	if !found {
		return ErrNoCapital
	}

	s.logger.Info().Str("user_id", userID).Str("exchange", string(existing.Exchange)).Msg("Capital withdrawn")
	s.bus.PublishCapitalChanged(userID, string(existing.Exchange), 0)
	return nil
}

// ExchangeStatus reports the connection state of every supported exchange
func (s *Service) ExchangeStatus(ctx context.Context, userID string) ([]ExchangeConnection, error) {
	c, err := s.store.GetUserCapital(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to get capital: %w", err)
	}

	status := make([]ExchangeConnection, 0, len(database.SupportedExchanges))
	for _, ex := range database.SupportedExchanges {
		conn := ExchangeConnection{Exchange: ex}
		if c != nil && c.Exchange == ex && c.IsConnected {
			conn.IsConnected = true
			conn.CapitalAmount = c.CapitalAmount
		}
		status = append(status, conn)
	}
	return status, nil
}

// UsersByExchange buckets connected investors by exchange. Every supported
// exchange is present even when empty.
func (s *Service) UsersByExchange(ctx context.Context) ([]ExchangeBucket, error) {
	rows, err := s.store.ListConnectedCapital(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list connected capital: %w", err)
	}

	index := make(map[database.Exchange]int, len(database.SupportedExchanges))
	buckets := make([]ExchangeBucket, len(database.SupportedExchanges))
	for i, ex := range database.SupportedExchanges {
		index[ex] = i
		buckets[i] = ExchangeBucket{Exchange: ex, Users: []database.UserCapitalWithUser{}}
	}
	for _, row := range rows {
		i, ok := index[row.Exchange]
		if !ok {
			continue
		}
		buckets[i].Users = append(buckets[i].Users, row)
		buckets[i].TotalCapital += row.CapitalAmount
	}
	return buckets, nil
}

// =====================================================
// DEPOSITS AND WITHDRAWALS
// =====================================================

// CreateDeposit files a pending deposit request
func (s *Service) CreateDeposit(ctx context.Context, userID string, exchange database.Exchange, amount float64) (*database.FundTransaction, error) {
	return s.createTransaction(ctx, database.KindDeposit, userID, exchange, amount)
}

// CreateWithdrawal files a pending withdrawal request. The amount may not
// exceed the balance on that exchange less withdrawals already pending.
func (s *Service) CreateWithdrawal(ctx context.Context, userID string, exchange database.Exchange, amount float64) (*database.FundTransaction, error) {
	if !exchange.IsValid() {
		return nil, ErrInvalidExchange
	}
	if !validAmount(amount) {
		return nil, ErrInvalidAmount
	}

	balance, err := s.Balance(ctx, userID)
	if err != nil {
		return nil, err
	}
	available := 0.0
	for _, b := range balance.ByExchange {
		if b.Exchange == exchange {
			available = b.Available
		}
	}
	if amount > available {
		s.logger.Debug().
			Str("user_id", userID).
			Float64("amount", amount).
			Float64("available", available).
			Msg("Withdrawal exceeds available balance")
		return nil, ErrInsufficientBalance
	}

	return s.createTransaction(ctx, database.KindWithdrawal, userID, exchange, amount)
}

func (s *Service) createTransaction(ctx context.Context, kind database.TransactionKind, userID string, exchange database.Exchange, amount float64) (*database.FundTransaction, error) {
	if !exchange.IsValid() {
		return nil, ErrInvalidExchange
	}
	if !validAmount(amount) {
		return nil, ErrInvalidAmount
	}

	t := &database.FundTransaction{UserID: userID, Exchange: exchange, Amount: amount}
	if err := s.store.CreateTransaction(ctx, kind, t); err != nil {
		return nil, fmt.Errorf("failed to create %s: %w", kind, err)
	}

	s.logger.Info().
		Str("user_id", userID).
		Str("kind", string(kind)).
		Int64("id", t.ID).
		Float64("amount", amount).
		Msg("Fund request created")
	return t, nil
}

// ListDeposits returns the user's deposits, newest first
func (s *Service) ListDeposits(ctx context.Context, userID string) ([]*database.FundTransaction, error) {
	return s.listUser(ctx, database.KindDeposit, userID)
}

// ListWithdrawals returns the user's withdrawals, newest first
func (s *Service) ListWithdrawals(ctx context.Context, userID string) ([]*database.FundTransaction, error) {
	return s.listUser(ctx, database.KindWithdrawal, userID)
}

func (s *Service) listUser(ctx context.Context, kind database.TransactionKind, userID string) ([]*database.FundTransaction, error) {
	list, err := s.store.ListUserTransactions(ctx, kind, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list %ss: %w", kind, err)
	}
	if list == nil {
		list = []*database.FundTransaction{}
	}
	return list, nil
}

// ListPendingDeposits returns pending deposits of every user, oldest first
func (s *Service) ListPendingDeposits(ctx context.Context) ([]*database.FundTransaction, error) {
	return s.listPending(ctx, database.KindDeposit)
}

// ListPendingWithdrawals returns pending withdrawals of every user, oldest first
func (s *Service) ListPendingWithdrawals(ctx context.Context) ([]*database.FundTransaction, error) {
	return s.listPending(ctx, database.KindWithdrawal)
}

func (s *Service) listPending(ctx context.Context, kind database.TransactionKind) ([]*database.FundTransaction, error) {
	list, err := s.store.ListTransactionsByStatus(ctx, kind, database.RequestPending)
	if err != nil {
		return nil, fmt.Errorf("failed to list pending %ss: %w", kind, err)
	}
	if list == nil {
		list = []*database.FundTransaction{}
	}
	return list, nil
}

// ApproveDeposit approves a pending deposit
func (s *Service) ApproveDeposit(ctx context.Context, id int64, operatorID string) (*database.FundTransaction, error) {
	return s.process(ctx, database.KindDeposit, id, database.RequestApproved, operatorID, "")
}

// RejectDeposit rejects a pending deposit
func (s *Service) RejectDeposit(ctx context.Context, id int64, operatorID, reason string) (*database.FundTransaction, error) {
	return s.process(ctx, database.KindDeposit, id, database.RequestRejected, operatorID, reason)
}

// ApproveWithdrawal approves a pending withdrawal
func (s *Service) ApproveWithdrawal(ctx context.Context, id int64, operatorID string) (*database.FundTransaction, error) {
	return s.process(ctx, database.KindWithdrawal, id, database.RequestApproved, operatorID, "")
}

// RejectWithdrawal rejects a pending withdrawal
func (s *Service) RejectWithdrawal(ctx context.Context, id int64, operatorID, reason string) (*database.FundTransaction, error) {
	return s.process(ctx, database.KindWithdrawal, id, database.RequestRejected, operatorID, reason)
}

func (s *Service) process(ctx context.Context, kind database.TransactionKind, id int64, status database.RequestStatus, operatorID, reason string) (*database.FundTransaction, error) {
	t, err := s.store.ProcessTransaction(ctx, kind, id, status, operatorID, reason)
	if err != nil {
		return nil, fmt.Errorf("failed to process %s: %w", kind, err)
	}
	if t == nil {
		// Distinguish a missing row from one already processed
		existing, err := s.store.GetTransaction(ctx, kind, id)
		if err != nil {
			return nil, fmt.Errorf("failed to get %s: %w", kind, err)
		}
		if existing == nil {
			return nil, ErrNotFound
		}
		return nil, ErrNotPending
	}

	s.logger.Info().
		Str("kind", string(kind)).
		Int64("id", id).
		Str("status", string(status)).
		Str("operator_id", operatorID).
		Msg("Fund request processed")

	eventType := events.EventDepositProcessed
	if kind == database.KindWithdrawal {
		eventType = events.EventWithdrawalProcessed
	}
	s.bus.PublishTransactionProcessed(eventType, t.UserID, t.ID, string(t.Status), t.Amount)
	return t, nil
}

// =====================================================
// BALANCES AND EARNINGS
// =====================================================

// Balance returns approved deposits minus approved withdrawals, in total and
// per exchange
func (s *Service) Balance(ctx context.Context, userID string) (*Balance, error) {
	totals, err := s.store.TotalsByExchange(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to get balance: %w", err)
	}

	byExchange := make(map[database.Exchange]database.ExchangeTotals, len(totals))
	for _, t := range totals {
		byExchange[t.Exchange] = t
	}

	b := &Balance{ByExchange: make([]ExchangeBalance, 0, len(database.SupportedExchanges))}
	for _, ex := range database.SupportedExchanges {
		t := byExchange[ex]
		settled := t.Deposits - t.Withdrawals
		available := settled - t.PendingWithdrawals
		if available < 0 {
			available = 0
		}
		b.ByExchange = append(b.ByExchange, ExchangeBalance{
			Exchange:           ex,
			Balance:            settled,
			Available:          available,
			PendingWithdrawals: t.PendingWithdrawals,
		})
		b.Total += settled
		b.TotalDeposited += t.Deposits
		b.TotalWithdrawn += t.Withdrawals
	}
	return b, nil
}

// CalculatedBalance returns invested capital plus total earnings
func (s *Service) CalculatedBalance(ctx context.Context, userID string) (*CalculatedBalance, error) {
	capital, err := s.store.GetUserCapital(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to get capital: %w", err)
	}
	earnings, err := s.store.TotalEarnings(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to get earnings: %w", err)
	}

	cb := &CalculatedBalance{Earnings: earnings}
	if capital != nil {
		cb.Capital = capital.CapitalAmount
	}
	cb.Total = cb.Capital + cb.Earnings
	return cb, nil
}

// ListEarnings returns the user's earnings, newest first
func (s *Service) ListEarnings(ctx context.Context, userID string) ([]*database.BotEarning, error) {
	list, err := s.store.ListEarnings(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list earnings: %w", err)
	}
	if list == nil {
		list = []*database.BotEarning{}
	}
	return list, nil
}

// TotalEarnings sums the user's earnings
func (s *Service) TotalEarnings(ctx context.Context, userID string) (float64, error) {
	total, err := s.store.TotalEarnings(ctx, userID)
	if err != nil {
		return 0, fmt.Errorf("failed to get earnings: %w", err)
	}
	return total, nil
}

// RecordEarning credits an earning to a user. Negative amounts record losses.
func (s *Service) RecordEarning(ctx context.Context, userID string, amount float64, note string) (*database.BotEarning, error) {
	if amount == 0 || math.IsInf(amount, 0) || math.IsNaN(amount) {
		return nil, ErrInvalidEarning
	}

	e := &database.BotEarning{UserID: userID, Amount: amount, Note: note}
	if err := s.store.CreateEarning(ctx, e); err != nil {
		return nil, fmt.Errorf("failed to record earning: %w", err)
	}

	s.logger.Info().Str("user_id", userID).Float64("amount", amount).Msg("Earning recorded")
	s.bus.PublishEarningRecorded(userID, amount)
	return e, nil
}
