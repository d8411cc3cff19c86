package lavalink

import (
	"context"
	"fmt"
)

const (
	equalizerBands = 15
	minBandGain    = -0.25
	maxBandGain    = 1.0
)

// applyFilters mutates the filter set and sends the whole configuration in one update.
func (p *Player) applyFilters(ctx context.Context, mutate func(f *Filters)) error {
	p.mu.Lock()
	if p.destroyed {
		p.mu.Unlock()
		return ErrPlayerDestroyed
	}
	mutate(&p.filters)
	payload := p.filters.payload(p.node.Version())
	p.mu.Unlock()

	if err := p.update(ctx, UpdatePlayer{Filters: payload}, false); err != nil {
		return err
	}
	return p.afterFilterChange(ctx)
}

// afterFilterChange realigns the local position with the filtered stream. Without
// interpolation the seek happens now; otherwise it waits for enough ticks.
func (p *Player) afterFilterChange(ctx context.Context) error {
	p.mu.Lock()
	cur := p.queue.Current()
	if p.ticker.interval > 0 {
		p.filterTicks = 1
		p.mu.Unlock()
		return nil
	}
	pos := p.position
	p.mu.Unlock()

	if !shouldResync(cur) {
		return nil
	}
	return p.Seek(ctx, pos)
}

// SetEqualizer replaces the equalizer. Gains are clamped to the node's range.
func (p *Player) SetEqualizer(ctx context.Context, bands ...Band) error {
	eq := make([]Band, 0, len(bands))
	for _, b := range bands {
		if b.Band < 0 || b.Band >= equalizerBands {
			return fmt.Errorf("%w: equalizer band %d", ErrInvalidOptions, b.Band)
		}
		b.Gain = min(max(b.Gain, minBandGain), maxBandGain)
		eq = append(eq, b)
	}
	return p.applyFilters(ctx, func(f *Filters) { f.Equalizer = eq })
}

// SetEcho enables echo, or disables it when e is nil.
func (p *Player) SetEcho(ctx context.Context, e *Echo) error {
	return p.applyFilters(ctx, func(f *Filters) { f.Echo = e })
}

func (p *Player) SetTremolo(ctx context.Context, t *Tremolo) error {
	return p.applyFilters(ctx, func(f *Filters) { f.Tremolo = t })
}

func (p *Player) SetVibrato(ctx context.Context, v *Vibrato) error {
	return p.applyFilters(ctx, func(f *Filters) { f.Vibrato = v })
}

func (p *Player) SetRotation(ctx context.Context, r *Rotation) error {
	return p.applyFilters(ctx, func(f *Filters) { f.Rotation = r })
}

func (p *Player) SetLowPass(ctx context.Context, l *LowPass) error {
	return p.applyFilters(ctx, func(f *Filters) { f.LowPass = l })
}

func (p *Player) SetKaraoke(ctx context.Context, k *Karaoke) error {
	return p.applyFilters(ctx, func(f *Filters) { f.Karaoke = k })
}

// SetTimescale sets a custom timescale and turns the nightcore flag off.
func (p *Player) SetTimescale(ctx context.Context, t *Timescale) error {
	return p.applyFilters(ctx, func(f *Filters) {
		f.Timescale = t
		f.Nightcore = false
	})
}

// SetNightcore toggles the nightcore timescale preset.
func (p *Player) SetNightcore(ctx context.Context, on bool) error {
	return p.applyFilters(ctx, func(f *Filters) {
		f.Nightcore = on
		if on {
			ts := NightcoreTimescale
			f.Timescale = &ts
		} else {
			f.Timescale = nil
		}
	})
}

// SetAudioOutput picks a channel mix preset. Stereo removes the mix.
func (p *Player) SetAudioOutput(ctx context.Context, out AudioOutput) error {
	if _, ok := channelMixes[out]; !ok && out != OutputStereo {
		return fmt.Errorf("%w: audio output %q", ErrInvalidOptions, out)
	}
	return p.applyFilters(ctx, func(f *Filters) { f.AudioOutput = out })
}

// ResetFilters disables every filter.
func (p *Player) ResetFilters(ctx context.Context) error {
	return p.applyFilters(ctx, func(f *Filters) { *f = Filters{AudioOutput: OutputStereo} })
}
