package controller

import (
	"keycore/internal/layer"
	"keycore/internal/rgb"
)

// RenderIndicators returns the indicator overrides for the current frame.
// The flashlight paints every LED and suppresses all other indicators. The
// layer colour goes on the thumb cluster, and an active show-mode flash is
// drawn over it. Other LEDs keep the running effect.
func (c *Controller) RenderIndicators() rgb.RenderDecision {
	ind := c.cfg.Indicators
	if c.modes.Flashlight() {
		return rgb.RenderDecision{FullOverride: true, Fill: ind.LightColor}
	}

	d := rgb.RenderDecision{AllowBackground: true}
	if col, ok := c.layerColor(); ok {
		for _, i := range ind.ThumbLEDs {
			d.Overrides = append(d.Overrides, rgb.PixelColor{Index: i, Color: col})
		}
	}
	if led, ok := c.show.FlashLED(); ok {
		d.Overrides = append(d.Overrides, rgb.PixelColor{Index: led, Color: ind.FlashColor})
	}
	return d
}

func (c *Controller) layerColor() (rgb.Color, bool) {
	id := c.layers.Highest()
	if id == layer.Mouse && c.modes.MouseLocked() {
		return c.cfg.Indicators.LockedColor, true
	}
	col, ok := c.cfg.Indicators.LayerColors[id]
	return col, ok
}
