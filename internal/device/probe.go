package device

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"tuya-go-home/internal/color"
	"tuya-go-home/internal/tuya"
)

// Prober infers the DPS layout of a light that has no explicit mapping.
type Prober struct {
	Client tuya.Client
	// Timeout bounds every probe read. Zero means no per-read timeout.
	Timeout time.Duration
	Logger  *slog.Logger
}

// Probe reads the mode DPS of both known families and, when one of them
// answers with a light mode, refines colour temperature support and the
// colour encoding. Read errors and timeouts count as absent values.
func (p *Prober) Probe(ctx context.Context) (Layout, error) {
	logger := p.Logger
	if logger == nil {
		logger = slog.Default()
	}

	var mode2, mode21 any
	var g errgroup.Group
	g.Go(func() error {
		mode2 = p.read(ctx, lowFamily.DPSMode)
		return nil
	})
	g.Go(func() error {
		mode21 = p.read(ctx, highFamily.DPSMode)
		return nil
	})
	_ = g.Wait()

	var guess Layout
	switch {
	case isLightMode(mode2):
		logger.Debug("detected light at DPS 1-5", "mode", mode2)
		guess = lowFamily
	case isLightMode(mode21):
		logger.Debug("detected light at DPS 20-25", "mode", mode21)
		guess = highFamily
	default:
		if err := ctx.Err(); err != nil {
			return Layout{}, fmt.Errorf("%w: %v", ErrProbeInconclusive, err)
		}
		return Layout{}, fmt.Errorf("%w: dps 2 = %v, dps 21 = %v", ErrProbeInconclusive, mode2, mode21)
	}

	ct := p.read(ctx, guess.DPSColorTemp)
	if f, ok := tuya.ToFloat(ct); ok && f >= 0 && f <= float64(guess.ColorTempScale) {
		logger.Debug("color temperature supported", "dps", guess.DPSColorTemp, "value", ct)
	} else {
		logger.Debug("no color temperature support", "dps", guess.DPSColorTemp, "value", ct)
		guess.DPSColorTemp = 0
	}

	raw, _ := p.read(ctx, guess.DPSColor).(string)
	guess.ColorType = classifyColor(guess, raw)
	logger.Debug("detected color format", "type", guess.ColorType)
	return guess, nil
}

func (p *Prober) read(ctx context.Context, dps int) any {
	if p.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.Timeout)
		defer cancel()
	}
	v, err := p.Client.Get(ctx, dps)
	if err != nil {
		if p.Logger != nil {
			p.Logger.Debug("probe read failed", "dps", dps, "err", err)
		}
		return nil
	}
	return v
}

// isLightMode matches the values a light reports on its mode DPS.
func isLightMode(v any) bool {
	if v == nil {
		return false
	}
	s := tuya.Format(v)
	return s == ModeWhite || s == ModeColour || strings.Contains(s, ModeScene)
}

// classifyColor picks the colour encoding from the length of the colour DPS.
// Each family defaults to its usual encoding when the length is unexpected.
func classifyColor(family Layout, payload string) color.Variant {
	if family.highIndex() {
		if len(payload) == color.VariantHSBHex.PayloadLen() {
			return color.VariantHSBHex
		}
		return color.VariantHSB
	}
	if len(payload) == color.VariantHSB.PayloadLen() {
		return color.VariantHSB
	}
	return color.VariantHSBHex
}
