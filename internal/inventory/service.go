package inventory

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"github.com/meridian-erp/meridian-erp/internal/shared"
)

// RepositoryPort is the persistence surface the service needs. Tests swap
// in an in-memory implementation.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(ctx context.Context, repo TxRepository) error) error
	ListMovements(ctx context.Context, filters MovementFilters) ([]Movement, int, error)
	LossMovements(ctx context.Context, from, to time.Time, lossType MovementType) ([]Movement, error)
	CommittedBySKU(ctx context.Context) (map[string]int64, error)
	ProductStates(ctx context.Context, skus []string) (map[string]ProductState, error)
}

// Service owns every change to stock levels and average cost. All writes go
// through a single transactional post path so the movement history remains
// the sole justification for the stock column.
type Service struct {
	logger *slog.Logger
	repo   RepositoryPort
	now    func() time.Time
}

func NewService(logger *slog.Logger, repo RepositoryPort) *Service {
	return &Service{logger: logger, repo: repo, now: time.Now}
}

// Post writes one ledger entry and applies it to the product. Inbound
// entries carrying a unit cost fold it into the weighted average before the
// quantity is added; outbound entries larger than the current stock fail
// without writing anything.
func (s *Service) Post(ctx context.Context, input MovementInput) (Movement, error) {
	if !input.Type.Valid() {
		return Movement{}, shared.Validationf("unknown movement type %q", input.Type)
	}
	if input.Type.IsAdjustment() {
		return Movement{}, shared.Validationf("adjustments go through the stock adjustment operation")
	}
	if input.Quantity <= 0 {
		return Movement{}, shared.Validationf("quantity must be positive")
	}

	var posted Movement
	err := s.repo.WithTx(ctx, func(ctx context.Context, repo TxRepository) error {
		product, err := repo.GetProductForUpdate(ctx, input.SKU)
		if err != nil {
			return err
		}

		direction, _ := input.Type.Direction()
		cost := product.Cost
		if direction > 0 && input.UnitCost != nil {
			cost = WeightedAverageCost(product.Stock, product.Cost, input.Quantity, *input.UnitCost)
		}

		newStock := product.Stock + int64(direction)*input.Quantity
		if newStock < 0 {
			return &InsufficientStockError{SKU: input.SKU, Available: product.Stock, Requested: input.Quantity}
		}

		unitCost := cost
		if input.UnitCost != nil {
			unitCost = *input.UnitCost
		}
		posted, err = repo.InsertMovement(ctx, Movement{
			ProductSKU: product.SKU,
			Quantity:   input.Quantity,
			Direction:  direction,
			Type:       input.Type,
			UnitCost:   unitCost.Round(3),
			Reference:  input.Reference,
			Notes:      input.Notes,
			Date:       s.now(),
		})
		if err != nil {
			return err
		}
		return repo.UpdateProductStock(ctx, product.SKU, newStock, cost)
	})
	if err != nil {
		return Movement{}, err
	}

	s.logger.Info("movement posted",
		"sku", posted.ProductSKU, "type", posted.Type, "qty", posted.Quantity, "ref", posted.Reference)
	return posted, nil
}

// PostBatch writes several ledger entries in one transaction. Either every
// entry applies or none does, so a document covering many products cannot
// leave the stock half moved.
func (s *Service) PostBatch(ctx context.Context, inputs []MovementInput) ([]Movement, error) {
	if len(inputs) == 0 {
		return nil, shared.Validationf("batch requires at least one movement")
	}
	for _, input := range inputs {
		if !input.Type.Valid() {
			return nil, shared.Validationf("unknown movement type %q", input.Type)
		}
		if input.Type.IsAdjustment() {
			return nil, shared.Validationf("adjustments go through the stock adjustment operation")
		}
		if input.Quantity <= 0 {
			return nil, shared.Validationf("quantity must be positive")
		}
	}

	var posted []Movement
	err := s.repo.WithTx(ctx, func(ctx context.Context, repo TxRepository) error {
		for _, input := range inputs {
			product, err := repo.GetProductForUpdate(ctx, input.SKU)
			if err != nil {
				return err
			}

			direction, _ := input.Type.Direction()
			cost := product.Cost
			if direction > 0 && input.UnitCost != nil {
				cost = WeightedAverageCost(product.Stock, product.Cost, input.Quantity, *input.UnitCost)
			}

			newStock := product.Stock + int64(direction)*input.Quantity
			if newStock < 0 {
				return &InsufficientStockError{SKU: input.SKU, Available: product.Stock, Requested: input.Quantity}
			}

			unitCost := cost
			if input.UnitCost != nil {
				unitCost = *input.UnitCost
			}
			movement, err := repo.InsertMovement(ctx, Movement{
				ProductSKU: product.SKU,
				Quantity:   input.Quantity,
				Direction:  direction,
				Type:       input.Type,
				UnitCost:   unitCost.Round(3),
				Reference:  input.Reference,
				Notes:      input.Notes,
				Date:       s.now(),
			})
			if err != nil {
				return err
			}
			posted = append(posted, movement)

			if err := repo.UpdateProductStock(ctx, product.SKU, newStock, cost); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("movement batch posted", "entries", len(posted), "ref", posted[0].Reference)
	return posted, nil
}

// PostOpeningStock records the initial balance of a new product.
func (s *Service) PostOpeningStock(ctx context.Context, sku string, qty int64, unitCost decimal.Decimal, reference string) error {
	_, err := s.Post(ctx, MovementInput{
		SKU:       sku,
		Quantity:  qty,
		Type:      MovementIn,
		UnitCost:  &unitCost,
		Reference: reference,
	})
	return err
}

// AdjustStock moves a product to an absolute counted quantity. The generic
// adjustment kind resolves to IN or OUT by the sign of the difference;
// subtype kinds keep their name and record the sign separately.
func (s *Service) AdjustStock(ctx context.Context, input AdjustInput) (ProductState, error) {
	movementType := input.Type
	if movementType == "" {
		movementType = MovementAdjustment
	}
	if !movementType.IsAdjustment() {
		return ProductState{}, shared.Validationf("movement type %q is not an adjustment", movementType)
	}
	if input.NewQuantity < 0 {
		return ProductState{}, shared.Validationf("stock cannot be adjusted below zero")
	}

	var after ProductState
	err := s.repo.WithTx(ctx, func(ctx context.Context, repo TxRepository) error {
		product, err := repo.GetProductForUpdate(ctx, input.SKU)
		if err != nil {
			return err
		}

		diff := input.NewQuantity - product.Stock
		after = ProductState{SKU: product.SKU, Name: product.Name, Stock: product.Stock, Cost: product.Cost}
		if diff == 0 {
			return nil
		}

		direction := 1
		if diff < 0 {
			direction = -1
		}
		entryType := movementType
		if entryType == MovementAdjustment {
			entryType = MovementIn
			if diff < 0 {
				entryType = MovementOut
			}
		}

		_, err = repo.InsertMovement(ctx, Movement{
			ProductSKU:  product.SKU,
			Quantity:    diff * int64(direction),
			Direction:   direction,
			Type:        entryType,
			UnitCost:    product.Cost,
			Reference:   fmt.Sprintf("ADJUST-%s", s.now().Format("20060102150405")),
			Notes:       input.Notes,
			Responsible: input.Responsible,
			Date:        s.now(),
		})
		if err != nil {
			return err
		}

		after.Stock = input.NewQuantity
		return repo.UpdateProductStock(ctx, product.SKU, input.NewQuantity, product.Cost)
	})
	if err != nil {
		return ProductState{}, err
	}

	s.logger.Info("stock adjusted", "sku", after.SKU, "new_stock", after.Stock, "type", movementType)
	return after, nil
}

// RegisterLoss writes off stock under a loss subtype and reports the cost
// impact at the current average cost.
func (s *Service) RegisterLoss(ctx context.Context, input LossInput) (LossResult, error) {
	if !input.Type.IsLoss() {
		return LossResult{}, shared.Validationf("movement type %q is not a loss subtype", input.Type)
	}
	if input.Quantity <= 0 {
		return LossResult{}, shared.Validationf("quantity must be positive")
	}

	var result LossResult
	err := s.repo.WithTx(ctx, func(ctx context.Context, repo TxRepository) error {
		product, err := repo.GetProductForUpdate(ctx, input.SKU)
		if err != nil {
			return err
		}
		if product.Stock < input.Quantity {
			return &InsufficientStockError{SKU: input.SKU, Available: product.Stock, Requested: input.Quantity}
		}

		_, err = repo.InsertMovement(ctx, Movement{
			ProductSKU:  product.SKU,
			Quantity:    input.Quantity,
			Direction:   -1,
			Type:        input.Type,
			UnitCost:    product.Cost,
			Reference:   fmt.Sprintf("LOSS-%s", s.now().Format("20060102150405")),
			Notes:       input.Notes,
			Responsible: input.Responsible,
			Date:        s.now(),
		})
		if err != nil {
			return err
		}

		newStock := product.Stock - input.Quantity
		result = LossResult{
			SKU:        product.SKU,
			Quantity:   input.Quantity,
			NewStock:   newStock,
			CostImpact: product.Cost.Mul(decimal.NewFromInt(input.Quantity)).Round(3),
		}
		return repo.UpdateProductStock(ctx, product.SKU, newStock, product.Cost)
	})
	if err != nil {
		return LossResult{}, err
	}

	s.logger.Info("loss registered",
		"sku", result.SKU, "qty", result.Quantity, "type", input.Type, "responsible", input.Responsible)
	return result, nil
}

// RegisterTransferOut moves a batch of items out to a named destination
// under a single reference. The whole batch posts or none of it does.
func (s *Service) RegisterTransferOut(ctx context.Context, input TransferInput) (TransferResult, error) {
	if len(input.Items) == 0 {
		return TransferResult{}, shared.Validationf("transfer requires at least one item")
	}

	reference := fmt.Sprintf("TRANSFER-%s-%s", input.TargetWarehouse, s.now().Format("20060102150405"))
	result := TransferResult{Reference: reference}

	err := s.repo.WithTx(ctx, func(ctx context.Context, repo TxRepository) error {
		for _, item := range input.Items {
			product, err := repo.GetProductForUpdate(ctx, item.SKU)
			if err != nil {
				return err
			}
			if product.Stock < item.Quantity {
				return &InsufficientStockError{SKU: item.SKU, Available: product.Stock, Requested: item.Quantity}
			}

			posted, err := repo.InsertMovement(ctx, Movement{
				ProductSKU: product.SKU,
				Quantity:   item.Quantity,
				Direction:  -1,
				Type:       MovementTransferOut,
				UnitCost:   product.Cost,
				Reference:  reference,
				Notes:      input.Notes,
				Date:       s.now(),
			})
			if err != nil {
				return err
			}
			result.Items = append(result.Items, posted)

			if err := repo.UpdateProductStock(ctx, product.SKU, product.Stock-item.Quantity, product.Cost); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return TransferResult{}, err
	}

	s.logger.Info("transfer out posted", "target", input.TargetWarehouse, "ref", reference, "items", len(result.Items))
	return result, nil
}

// ListMovements returns ledger entries for review.
func (s *Service) ListMovements(ctx context.Context, filters MovementFilters) ([]Movement, int, error) {
	return s.repo.ListMovements(ctx, filters)
}

// LossesReport totals write-offs for a period, grouped by subtype.
func (s *Service) LossesReport(ctx context.Context, from, to time.Time, lossType MovementType) (LossesReport, error) {
	if lossType != "" && !lossType.IsLoss() {
		return LossesReport{}, shared.Validationf("movement type %q is not a loss subtype", lossType)
	}

	movements, err := s.repo.LossMovements(ctx, from, to, lossType)
	if err != nil {
		return LossesReport{}, err
	}

	report := LossesReport{
		Summary: LossesSummary{TotalCost: decimal.Zero, TotalMovements: len(movements)},
		ByType:  map[MovementType]LossesGroup{},
	}
	for _, m := range movements {
		cost := m.UnitCost.Mul(decimal.NewFromInt(m.Quantity))
		report.Summary.TotalQuantity += m.Quantity
		report.Summary.TotalCost = report.Summary.TotalCost.Add(cost)

		group := report.ByType[m.Type]
		group.Quantity += m.Quantity
		group.Cost = group.Cost.Add(cost)
		group.Count++
		report.ByType[m.Type] = group
	}
	report.Summary.TotalCost = report.Summary.TotalCost.Round(3)
	return report, nil
}

// CheckAvailability partitions requested items into what can ship now and
// what cannot, counting stock committed to orders still pending dispatch.
// A line with some but not all units available splits into both partitions.
func (s *Service) CheckAvailability(ctx context.Context, items []AvailabilityRequestItem) (AvailabilityReport, error) {
	if len(items) == 0 {
		return AvailabilityReport{}, shared.Validationf("availability check requires at least one item")
	}

	committed, err := s.repo.CommittedBySKU(ctx)
	if err != nil {
		return AvailabilityReport{}, err
	}

	skus := make([]string, 0, len(items))
	for _, item := range items {
		skus = append(skus, item.SKU)
	}
	states, err := s.repo.ProductStates(ctx, skus)
	if err != nil {
		return AvailabilityReport{}, err
	}

	report := AvailabilityReport{CanFulfillFull: true, CheckedAt: s.now()}
	for _, item := range items {
		state, found := states[item.SKU]
		if !found {
			report.CanFulfillFull = false
			report.Missing = append(report.Missing, MissingLine{
				SKU:         item.SKU,
				ProductName: "Product Not Found",
				Required:    item.Quantity,
				Missing:     item.Quantity,
				UnitPrice:   item.UnitPrice,
			})
			continue
		}

		reserved := committed[item.SKU]
		available := state.Stock - reserved
		if available < 0 {
			available = 0
		}
		info := StockInfo{Physical: state.Stock, Committed: reserved, Available: available}

		switch {
		case available >= item.Quantity:
			report.Available = append(report.Available, AvailableLine{
				SKU: item.SKU, Quantity: item.Quantity, UnitPrice: item.UnitPrice, Stock: info,
			})
		case available > 0:
			report.CanFulfillFull = false
			report.Available = append(report.Available, AvailableLine{
				SKU: item.SKU, Quantity: available, UnitPrice: item.UnitPrice, Stock: info,
			})
			report.Missing = append(report.Missing, MissingLine{
				SKU: item.SKU, ProductName: state.Name, Required: item.Quantity,
				Missing: item.Quantity - available, UnitPrice: item.UnitPrice, Stock: info,
			})
		default:
			report.CanFulfillFull = false
			report.Missing = append(report.Missing, MissingLine{
				SKU: item.SKU, ProductName: state.Name, Required: item.Quantity,
				Missing: item.Quantity, UnitPrice: item.UnitPrice, Stock: info,
			})
		}
	}
	return report, nil
}
