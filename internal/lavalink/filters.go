package lavalink

// FilterName names a toggleable DSP filter.
type FilterName string

const (
	FilterEcho       FilterName = "echo"
	FilterTremolo    FilterName = "tremolo"
	FilterVibrato    FilterName = "vibrato"
	FilterRotation   FilterName = "rotation"
	FilterLowPass    FilterName = "lowPass"
	FilterKaraoke    FilterName = "karaoke"
	FilterTimescale  FilterName = "timescale"
	FilterNightcore  FilterName = "nightcore"
	FilterChannelMix FilterName = "channelMix"
)

type Band struct {
	Band int     `json:"band"`
	Gain float64 `json:"gain"`
}

type Echo struct {
	Delay float64 `json:"delay"`
	Decay float64 `json:"decay"`
}

type Tremolo struct {
	Frequency float64 `json:"frequency"`
	Depth     float64 `json:"depth"`
}

type Vibrato struct {
	Frequency float64 `json:"frequency"`
	Depth     float64 `json:"depth"`
}

type Rotation struct {
	RotationHz float64 `json:"rotationHz"`
}

type LowPass struct {
	Smoothing float64 `json:"smoothing"`
}

type Karaoke struct {
	Level       float64 `json:"level"`
	MonoLevel   float64 `json:"monoLevel"`
	FilterBand  float64 `json:"filterBand"`
	FilterWidth float64 `json:"filterWidth"`
}

type Timescale struct {
	Speed float64 `json:"speed"`
	Pitch float64 `json:"pitch"`
	Rate  float64 `json:"rate"`
}

type ChannelMix struct {
	LeftToLeft   float64 `json:"leftToLeft"`
	LeftToRight  float64 `json:"leftToRight"`
	RightToLeft  float64 `json:"rightToLeft"`
	RightToRight float64 `json:"rightToRight"`
}

// AudioOutput selects a channel mix preset.
type AudioOutput string

const (
	OutputStereo AudioOutput = "stereo"
	OutputMono   AudioOutput = "mono"
	OutputLeft   AudioOutput = "left"
	OutputRight  AudioOutput = "right"
)

var channelMixes = map[AudioOutput]ChannelMix{
	OutputMono:  {LeftToLeft: 0.5, LeftToRight: 0.5, RightToLeft: 0.5, RightToRight: 0.5},
	OutputLeft:  {LeftToLeft: 1, LeftToRight: 0, RightToLeft: 1, RightToRight: 0},
	OutputRight: {LeftToLeft: 0, LeftToRight: 1, RightToLeft: 0, RightToRight: 1},
}

// NightcoreTimescale is the timescale applied by the nightcore toggle.
var NightcoreTimescale = Timescale{Speed: 1.289999523162842, Pitch: 1.289999523162842, Rate: 0.9365999523162842}

// Filters is a player's filter configuration. A nil sub-record means the filter is disabled.
type Filters struct {
	Equalizer   []Band
	Echo        *Echo
	Tremolo     *Tremolo
	Vibrato     *Vibrato
	Rotation    *Rotation
	LowPass     *LowPass
	Karaoke     *Karaoke
	Timescale   *Timescale
	Nightcore   bool
	AudioOutput AudioOutput
}

// Enabled reports the flag of a named filter.
func (f Filters) Enabled(name FilterName) bool {
	switch name {
	case FilterEcho:
		return f.Echo != nil
	case FilterTremolo:
		return f.Tremolo != nil
	case FilterVibrato:
		return f.Vibrato != nil
	case FilterRotation:
		return f.Rotation != nil
	case FilterLowPass:
		return f.LowPass != nil
	case FilterKaraoke:
		return f.Karaoke != nil
	case FilterTimescale:
		return f.Timescale != nil
	case FilterNightcore:
		return f.Nightcore
	case FilterChannelMix:
		return f.AudioOutput != "" && f.AudioOutput != OutputStereo
	}
	return false
}

var filterNames = []FilterName{
	FilterEcho, FilterTremolo, FilterVibrato, FilterRotation, FilterLowPass,
	FilterKaraoke, FilterTimescale, FilterNightcore, FilterChannelMix,
}

// Active lists the enabled filters in a fixed order.
func (f Filters) Active() []FilterName {
	out := make([]FilterName, 0, len(filterNames))
	for _, name := range filterNames {
		if f.Enabled(name) {
			out = append(out, name)
		}
	}
	return out
}

func (f Filters) clone() Filters {
	c := f
	c.Equalizer = append([]Band(nil), f.Equalizer...)
	return c
}

// FilterPayload is the wire form. Disabled filters are omitted, not zeroed.
type FilterPayload struct {
	Volume        *float64       `json:"volume,omitempty"`
	Equalizer     []Band         `json:"equalizer"`
	Karaoke       *Karaoke       `json:"karaoke,omitempty"`
	Timescale     *Timescale     `json:"timescale,omitempty"`
	Tremolo       *Tremolo       `json:"tremolo,omitempty"`
	Vibrato       *Vibrato       `json:"vibrato,omitempty"`
	Rotation      *Rotation      `json:"rotation,omitempty"`
	ChannelMix    *ChannelMix    `json:"channelMix,omitempty"`
	LowPass       *LowPass       `json:"lowPass,omitempty"`
	Echo          *Echo          `json:"echo,omitempty"`
	PluginFilters map[string]any `json:"pluginFilters,omitempty"`
}

// payload builds the combined filter update. v4 nodes receive echo as a plugin filter.
func (f *Filters) payload(version Version) *FilterPayload {
	p := &FilterPayload{
		Equalizer: append([]Band{}, f.Equalizer...),
		Karaoke:   f.Karaoke,
		Timescale: f.Timescale,
		Tremolo:   f.Tremolo,
		Vibrato:   f.Vibrato,
		Rotation:  f.Rotation,
		LowPass:   f.LowPass,
	}
	if mix, ok := channelMixes[f.AudioOutput]; ok {
		p.ChannelMix = &mix
	}
	if f.Echo != nil {
		if version == V4 {
			p.PluginFilters = map[string]any{"echo": *f.Echo}
		} else {
			p.Echo = f.Echo
		}
	}
	return p
}
