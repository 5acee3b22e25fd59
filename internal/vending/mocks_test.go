package vending

import (
	"context"
	"sync"
	"time"

	"github.com/appetiteclub/apt/events"
	"github.com/google/uuid"
)

// MockPublisher is a mock implementation of events.Publisher for testing
type MockPublisher struct {
	mu          sync.Mutex
	PublishFunc func(ctx context.Context, topic string, msg []byte) error
	Published   []PublishedMessage
}

type PublishedMessage struct {
	Topic string
	Data  []byte
}

func NewMockPublisher() *MockPublisher {
	return &MockPublisher{}
}

func (m *MockPublisher) Publish(ctx context.Context, topic string, msg []byte) error {
	if m.PublishFunc != nil {
		return m.PublishFunc(ctx, topic, msg)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Published = append(m.Published, PublishedMessage{Topic: topic, Data: msg})
	return nil
}

func (m *MockPublisher) TopicsSeen() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	var topics []string
	for _, p := range m.Published {
		topics = append(topics, p.Topic)
	}
	return topics
}

// MockSubscriber is a mock implementation of events.Subscriber for testing
type MockSubscriber struct {
	SubscribeFunc func(ctx context.Context, topic string, handler events.HandlerFunc) error
}

func NewMockSubscriber() *MockSubscriber {
	return &MockSubscriber{}
}

func (m *MockSubscriber) Subscribe(ctx context.Context, topic string, handler events.HandlerFunc) error {
	if m.SubscribeFunc != nil {
		return m.SubscribeFunc(ctx, topic, handler)
	}
	return nil
}

// MockOrderRepo is a map-backed implementation of OrderRepo that mirrors the
// storage layer's semantics: conditional status updates, the pickup-code
// uniqueness guard scoped to non-terminal orders, and once-only item flags.
type MockOrderRepo struct {
	mu     sync.RWMutex
	orders map[uuid.UUID]*Order

	InsertFunc                  func(ctx context.Context, o *Order) error
	FindByIDFunc                func(ctx context.Context, id uuid.UUID) (*Order, error)
	ConditionalUpdateStatusFunc func(ctx context.Context, id uuid.UUID, expected, next Status, patch StatusPatch) error
}

func NewMockOrderRepo() *MockOrderRepo {
	return &MockOrderRepo{
		orders: make(map[uuid.UUID]*Order),
	}
}

func cloneOrder(o *Order) *Order {
	if o == nil {
		return nil
	}
	cp := *o
	cp.Items = make([]OrderItem, len(o.Items))
	copy(cp.Items, o.Items)
	return &cp
}

// Seed stores an order directly, bypassing the uniqueness guard.
func (m *MockOrderRepo) Seed(o *Order) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.orders[o.ID] = cloneOrder(o)
}

// Stored returns the persisted state of an order, not the in-memory copy the
// coordinator may have mutated.
func (m *MockOrderRepo) Stored(id uuid.UUID) *Order {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return cloneOrder(m.orders[id])
}

func (m *MockOrderRepo) codeInUse(code string, exclude uuid.UUID) bool {
	for _, o := range m.orders {
		if o.ID == exclude {
			continue
		}
		if o.PickupCode == code && !o.Status.IsTerminal() {
			return true
		}
	}
	return false
}

func (m *MockOrderRepo) Insert(ctx context.Context, o *Order) error {
	if m.InsertFunc != nil {
		return m.InsertFunc(ctx, o)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if o.PickupCode != "" && m.codeInUse(o.PickupCode, o.ID) {
		return ErrDuplicatePickupCode
	}
	m.orders[o.ID] = cloneOrder(o)
	return nil
}

func (m *MockOrderRepo) FindByID(ctx context.Context, id uuid.UUID) (*Order, error) {
	if m.FindByIDFunc != nil {
		return m.FindByIDFunc(ctx, id)
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return cloneOrder(m.orders[id]), nil
}

func (m *MockOrderRepo) FindByNumber(ctx context.Context, number string) (*Order, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, o := range m.orders {
		if o.OrderNumber == number {
			return cloneOrder(o), nil
		}
	}
	return nil, nil
}

func (m *MockOrderRepo) FindByIDs(ctx context.Context, ids []uuid.UUID) ([]*Order, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var result []*Order
	for _, id := range ids {
		if o, ok := m.orders[id]; ok {
			result = append(result, cloneOrder(o))
		}
	}
	return result, nil
}

func (m *MockOrderRepo) ListBySession(ctx context.Context, sessionID string) ([]*Order, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var result []*Order
	for _, o := range m.orders {
		if o.SessionID == sessionID {
			result = append(result, cloneOrder(o))
		}
	}
	return result, nil
}

func (m *MockOrderRepo) FindByPickupCode(ctx context.Context, code string, excludeStatuses []Status, exclude uuid.UUID) (*Order, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, o := range m.orders {
		if o.PickupCode != code || o.ID == exclude {
			continue
		}
		excluded := false
		for _, s := range excludeStatuses {
			if o.Status == s {
				excluded = true
				break
			}
		}
		if !excluded {
			return cloneOrder(o), nil
		}
	}
	return nil, nil
}

func (m *MockOrderRepo) FindActivePickup(ctx context.Context, machineID, code string) (*Order, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, o := range m.orders {
		if o.PickupCode == code && o.MachineID == machineID &&
			o.Status == StatusPaid && o.PaymentStatus == PaymentPaid {
			return cloneOrder(o), nil
		}
	}
	return nil, nil
}

func (m *MockOrderRepo) FindByMachineAndStatus(ctx context.Context, machineID string, statuses []Status) ([]*Order, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var result []*Order
	for _, o := range m.orders {
		if o.MachineID != machineID {
			continue
		}
		for _, s := range statuses {
			if o.Status == s {
				result = append(result, cloneOrder(o))
				break
			}
		}
	}
	return result, nil
}

func (m *MockOrderRepo) ConditionalUpdateStatus(ctx context.Context, id uuid.UUID, expected, next Status, patch StatusPatch) error {
	if m.ConditionalUpdateStatusFunc != nil {
		return m.ConditionalUpdateStatusFunc(ctx, id, expected, next, patch)
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	o, ok := m.orders[id]
	if !ok {
		return NotFound("order not found: %s", id)
	}
	if o.Status != expected {
		return ErrStaleStatus
	}

	o.Status = next
	o.UpdatedAt = time.Now()
	if patch.PaymentStatus != nil {
		o.PaymentStatus = *patch.PaymentStatus
	}
	if patch.PaymentID != nil {
		o.PaymentID = patch.PaymentID
	}
	if patch.PickupCodeExpiresAt != nil {
		o.PickupCodeExpiresAt = patch.PickupCodeExpiresAt
	}
	if patch.DispensingStatus != nil {
		o.DispensingStatus = *patch.DispensingStatus
	}
	if patch.DispensingID != nil {
		o.DispensingID = *patch.DispensingID
	}
	if patch.DispensingProgress != nil {
		o.DispensingProgress = *patch.DispensingProgress
	}
	if patch.CompletedAt != nil {
		o.CompletedAt = patch.CompletedAt
	}
	if patch.FailureReason != nil {
		o.FailureReason = *patch.FailureReason
	}
	return nil
}

func (m *MockOrderRepo) SetPickupCode(ctx context.Context, id uuid.UUID, code string, expiresAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[id]
	if !ok {
		return NotFound("order not found: %s", id)
	}
	if m.codeInUse(code, id) {
		return ErrDuplicatePickupCode
	}
	o.PickupCode = code
	o.PickupCodeExpiresAt = &expiresAt
	o.UpdatedAt = time.Now()
	return nil
}

func (m *MockOrderRepo) MarkItemDispensed(ctx context.Context, id uuid.UUID, slot string, at time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[id]
	if !ok {
		return false, NotFound("order not found: %s", id)
	}
	for i := range o.Items {
		if o.Items[i].SlotPosition == slot && !o.Items[i].Dispensed {
			o.Items[i].Dispensed = true
			o.Items[i].DispensedAt = &at
			return true, nil
		}
	}
	return false, nil
}

func (m *MockOrderRepo) UpdateDispensing(ctx context.Context, id uuid.UUID, status DispensingStatus, progress int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[id]
	if !ok {
		return NotFound("order not found: %s", id)
	}
	o.DispensingStatus = status
	o.DispensingProgress = progress
	return nil
}

// MockProductRepo is a mock implementation of ProductRepo for testing
type MockProductRepo struct {
	mu       sync.RWMutex
	products map[uuid.UUID]*Product

	FindByIDFunc       func(ctx context.Context, id uuid.UUID) (*Product, error)
	DecrementStockFunc func(ctx context.Context, id uuid.UUID, qty int) error
}

func NewMockProductRepo() *MockProductRepo {
	return &MockProductRepo{
		products: make(map[uuid.UUID]*Product),
	}
}

func (m *MockProductRepo) Seed(p *Product) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *p
	m.products[p.ID] = &cp
}

func (m *MockProductRepo) Stored(id uuid.UUID) *Product {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if p, ok := m.products[id]; ok {
		cp := *p
		return &cp
	}
	return nil
}

func (m *MockProductRepo) FindByID(ctx context.Context, id uuid.UUID) (*Product, error) {
	if m.FindByIDFunc != nil {
		return m.FindByIDFunc(ctx, id)
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	if p, ok := m.products[id]; ok {
		cp := *p
		return &cp, nil
	}
	return nil, nil
}

func (m *MockProductRepo) DecrementStock(ctx context.Context, id uuid.UUID, qty int) error {
	if m.DecrementStockFunc != nil {
		return m.DecrementStockFunc(ctx, id, qty)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.products[id]
	if !ok || p.Stock < qty {
		return Conflict("insufficient stock for product %s", id)
	}
	p.Stock -= qty
	return nil
}

func (m *MockProductRepo) SetStock(ctx context.Context, id uuid.UUID, stock int, slot, machineID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.products[id]
	if !ok {
		return NotFound("product not found: %s", id)
	}
	p.Stock = stock
	p.SlotPosition = slot
	p.MachineID = machineID
	p.IsAvailable = stock > 0
	return nil
}

// MockMachineRepo is a mock implementation of MachineRepo for testing
type MockMachineRepo struct {
	mu       sync.RWMutex
	machines map[string]*Machine

	FindByMachineIDFunc func(ctx context.Context, machineID string) (*Machine, error)
	RecordDispenseFunc  func(ctx context.Context, machineID string, revenue int64) error
}

func NewMockMachineRepo() *MockMachineRepo {
	return &MockMachineRepo{
		machines: make(map[string]*Machine),
	}
}

func (m *MockMachineRepo) Seed(machine *Machine) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.machines[machine.MachineID] = machine
}

func (m *MockMachineRepo) Stored(machineID string) *Machine {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.machines[machineID]
}

func (m *MockMachineRepo) FindByMachineID(ctx context.Context, machineID string) (*Machine, error) {
	if m.FindByMachineIDFunc != nil {
		return m.FindByMachineIDFunc(ctx, machineID)
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.machines[machineID], nil
}

func (m *MockMachineRepo) List(ctx context.Context) ([]*Machine, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var result []*Machine
	for _, machine := range m.machines {
		result = append(result, machine)
	}
	return result, nil
}

func (m *MockMachineRepo) RecordDispense(ctx context.Context, machineID string, revenue int64) error {
	if m.RecordDispenseFunc != nil {
		return m.RecordDispenseFunc(ctx, machineID, revenue)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	machine, ok := m.machines[machineID]
	if !ok {
		return NotFound("machine not found: %s", machineID)
	}
	machine.TotalDispenses++
	machine.TotalRevenue += revenue
	return nil
}

func (m *MockMachineRepo) RecordSlotDispense(ctx context.Context, machineID, slot string, qty int, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	machine, ok := m.machines[machineID]
	if !ok {
		return NotFound("machine not found: %s", machineID)
	}
	for i := range machine.Slots {
		if machine.Slots[i].Position == slot {
			machine.Slots[i].Stock -= qty
			machine.Slots[i].LastDispenseAt = &at
			return nil
		}
	}
	return NotFound("slot not found: %s", slot)
}

func (m *MockMachineRepo) ApplyHealth(ctx context.Context, machineID string, report HealthReport) (*Machine, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	machine, ok := m.machines[machineID]
	if !ok {
		return nil, nil
	}
	if report.Status != "" {
		machine.Status = report.Status
		machine.IsOperational = report.Status == MachineOnline
	}
	machine.LastHeartbeat = &report.ReportedAt
	if report.Temperature != nil {
		machine.Temperature.Current = report.Temperature
	}
	machine.Faults = append(machine.Faults, report.Faults...)
	for position, stock := range report.SlotStock {
		for i := range machine.Slots {
			if machine.Slots[i].Position == position {
				machine.Slots[i].Stock = stock
			}
		}
	}
	return machine, nil
}

func (m *MockMachineRepo) Restock(ctx context.Context, machineID string, slots []RestockSlot, at time.Time) (*Machine, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	machine, ok := m.machines[machineID]
	if !ok {
		return nil, nil
	}
	machine.LastRestocked = &at
	for _, s := range slots {
		replaced := false
		for i := range machine.Slots {
			if machine.Slots[i].Position == s.Position {
				machine.Slots[i] = Slot{
					Position:      s.Position,
					ProductID:     s.ProductID,
					Stock:         s.Stock,
					MaxCapacity:   s.MaxCapacity,
					IsOperational: true,
				}
				replaced = true
			}
		}
		if !replaced {
			machine.Slots = append(machine.Slots, Slot{
				Position:      s.Position,
				ProductID:     s.ProductID,
				Stock:         s.Stock,
				MaxCapacity:   s.MaxCapacity,
				IsOperational: true,
			})
		}
	}
	return machine, nil
}

// MockPaymentRepo is a mock implementation of PaymentRepo for testing
type MockPaymentRepo struct {
	mu       sync.RWMutex
	payments map[uuid.UUID]*Payment

	CreateFunc func(ctx context.Context, p *Payment) error
}

func NewMockPaymentRepo() *MockPaymentRepo {
	return &MockPaymentRepo{
		payments: make(map[uuid.UUID]*Payment),
	}
}

func (m *MockPaymentRepo) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.payments)
}

func (m *MockPaymentRepo) Create(ctx context.Context, p *Payment) error {
	if m.CreateFunc != nil {
		return m.CreateFunc(ctx, p)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *p
	m.payments[p.ID] = &cp
	return nil
}

func (m *MockPaymentRepo) FindByOrder(ctx context.Context, orderID uuid.UUID) (*Payment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var latest *Payment
	for _, p := range m.payments {
		if p.OrderID != orderID {
			continue
		}
		if latest == nil || p.CreatedAt.After(latest.CreatedAt) {
			latest = p
		}
	}
	if latest == nil {
		return nil, nil
	}
	cp := *latest
	return &cp, nil
}

func (m *MockPaymentRepo) FindByIntent(ctx context.Context, intentID string) (*Payment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, p := range m.payments {
		if p.PaymentIntentID == intentID {
			cp := *p
			return &cp, nil
		}
	}
	return nil, nil
}

func (m *MockPaymentRepo) MarkOutcome(ctx context.Context, intentID string, status PaymentState, failureCode, failureMessage string, paidAt *time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range m.payments {
		if p.PaymentIntentID == intentID {
			p.Status = status
			p.FailureCode = failureCode
			p.FailureMessage = failureMessage
			if paidAt != nil {
				p.PaidAt = paidAt
			}
			return nil
		}
	}
	return NotFound("payment not found for intent: %s", intentID)
}

func (m *MockPaymentRepo) MarkRefunded(ctx context.Context, id uuid.UUID, amount int64, reason string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.payments[id]
	if !ok {
		return NotFound("payment not found: %s", id)
	}
	p.Status = PaymentRecordRefunded
	p.RefundedAmount = amount
	p.RefundReason = reason
	p.RefundedAt = &at
	return nil
}

// MockCartRepo is a mock implementation of CartRepo for testing
type MockCartRepo struct {
	mu    sync.RWMutex
	carts map[string]*Cart
}

func NewMockCartRepo() *MockCartRepo {
	return &MockCartRepo{
		carts: make(map[string]*Cart),
	}
}

func (m *MockCartRepo) Seed(c *Cart) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.carts[c.SessionID] = c
}

func (m *MockCartRepo) Has(sessionID string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.carts[sessionID]
	return ok
}

func (m *MockCartRepo) FindBySession(ctx context.Context, sessionID string) (*Cart, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.carts[sessionID], nil
}

func (m *MockCartRepo) DeleteBySession(ctx context.Context, sessionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.carts, sessionID)
	return nil
}

// MockCounterRepo is a mock implementation of CounterRepo for testing
type MockCounterRepo struct {
	mu   sync.Mutex
	seqs map[string]int64

	NextFunc func(ctx context.Context, name string) (int64, error)
}

func NewMockCounterRepo() *MockCounterRepo {
	return &MockCounterRepo{
		seqs: make(map[string]int64),
	}
}

func (m *MockCounterRepo) Next(ctx context.Context, name string) (int64, error) {
	if m.NextFunc != nil {
		return m.NextFunc(ctx, name)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.seqs[name]++
	return m.seqs[name], nil
}

// newTestCoordinator wires a coordinator against fresh mocks with an online
// machine already seeded.
func newTestCoordinator() (*Coordinator, *testDeps) {
	deps := &testDeps{
		orders:   NewMockOrderRepo(),
		products: NewMockProductRepo(),
		machines: NewMockMachineRepo(),
		payments: NewMockPaymentRepo(),
		carts:    NewMockCartRepo(),
		counters: NewMockCounterRepo(),
		pub:      NewMockPublisher(),
	}

	machine := NewMachine("VM-4029")
	machine.Status = MachineOnline
	deps.machines.Seed(machine)

	cache := NewMachineStateCache(deps.machines, nil)

	c := NewCoordinator(CoordinatorDeps{
		Orders:        deps.orders,
		Products:      deps.products,
		Machines:      deps.machines,
		Payments:      deps.payments,
		Carts:         deps.carts,
		Counters:      deps.counters,
		Gateway:       NewMockGateway(),
		MachineStates: cache,
		Publisher:     deps.pub,
	}, nil)

	return c, deps
}

type testDeps struct {
	orders   *MockOrderRepo
	products *MockProductRepo
	machines *MockMachineRepo
	payments *MockPaymentRepo
	carts    *MockCartRepo
	counters *MockCounterRepo
	pub      *MockPublisher
}
