package ledger

import (
	"context"
	"fmt"
	"math"
)

// FuelConfig returns the current fuel configuration.
func (l *Ledger) FuelConfig(ctx context.Context) (FuelConfig, error) {
	var (
		cfg FuelConfig
		ts  string
	)
	err := l.db.QueryRowContext(ctx, `SELECT fuel_rate_per_hour, fuel_tank_capacity, fuel_price_per_liter, updated_at
		FROM fuel_config WHERE id = 1`).Scan(&cfg.RatePerHour, &cfg.TankCapacity, &cfg.PricePerLiter, &ts)
	if err != nil {
		return FuelConfig{}, fmt.Errorf("failed to get fuel config: %w", err)
	}
	if cfg.UpdatedAt, err = l.parseTime(ts); err != nil {
		return FuelConfig{}, err
	}
	return cfg, nil
}

// UpdateFuelConfig replaces the fuel configuration and returns the stored row.
func (l *Ledger) UpdateFuelConfig(ctx context.Context, cfg FuelConfig) (FuelConfig, error) {
	if err := cfg.Validate(); err != nil {
		return FuelConfig{}, err
	}

	_, err := l.db.ExecContext(ctx, l.rebind(`UPDATE fuel_config SET
			fuel_rate_per_hour = ?,
			fuel_tank_capacity = ?,
			fuel_price_per_liter = ?,
			updated_at = ?
		WHERE id = 1`),
		cfg.RatePerHour, cfg.TankCapacity, cfg.PricePerLiter, formatTime(l.now()))
	if err != nil {
		return FuelConfig{}, fmt.Errorf("failed to update fuel config: %w", err)
	}

	l.logger.Info("fuel config updated",
		"rate_per_hour", cfg.RatePerHour,
		"tank_capacity", cfg.TankCapacity,
		"price_per_liter", cfg.PricePerLiter)
	return l.FuelConfig(ctx)
}

// Validate rejects negative or non-finite values.
func (c FuelConfig) Validate() error {
	for name, v := range map[string]float64{
		"fuel_rate_per_hour":   c.RatePerHour,
		"fuel_tank_capacity":   c.TankCapacity,
		"fuel_price_per_liter": c.PricePerLiter,
	} {
		if v < 0 || math.IsNaN(v) || math.IsInf(v, 0) {
			return fmt.Errorf("%w: %s must be a non-negative number", ErrInvalidFuelConfig, name)
		}
	}
	return nil
}
