package main

import (
	"time"

	"github.com/gopxl/beep"
	"github.com/gopxl/beep/generators"
	"github.com/gopxl/beep/speaker"

	"keycore/internal/layer"
)

const sampleRate = beep.SampleRate(44100)

// clicker sounds a short tone when the highest layer changes.
type clicker interface {
	Click(id layer.ID)
}

type silent struct{}

func (silent) Click(layer.ID) {}

// speakerClicker plays a sine click whose pitch rises with the layer.
type speakerClicker struct {
	mixer  *beep.Mixer
	length int
}

// newSpeakerClicker opens the audio device.
func newSpeakerClicker() (*speakerClicker, error) {
	if err := speaker.Init(sampleRate, sampleRate.N(50*time.Millisecond)); err != nil {
		return nil, err
	}
	c := &speakerClicker{
		mixer:  &beep.Mixer{},
		length: sampleRate.N(30 * time.Millisecond),
	}
	speaker.Play(c.mixer)
	return c, nil
}

// clickFreq is the tone for each layer, base being the lowest.
func clickFreq(id layer.ID) float64 {
	return 440 * (1 + float64(id)/4)
}

func (c *speakerClicker) Click(id layer.ID) {
	tone, err := generators.SineTone(sampleRate, clickFreq(id))
	if err != nil {
		return
	}
	speaker.Lock()
	c.mixer.Add(beep.Take(c.length, tone))
	speaker.Unlock()
}

// Close silences pending clicks. The speaker stays open until exit.
func (c *speakerClicker) Close() {
	speaker.Lock()
	c.mixer.Clear()
	speaker.Unlock()
}
