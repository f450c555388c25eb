package domain

import "fmt"

// Statistics holds the per-channel global means and standard deviations the
// network was trained with.
type Statistics struct {
	Means []float32
	Stds  []float32
}

// NewStatistics keeps the first channels entries of the stored statistics,
// which may describe more channels than the backbone consumes.
func NewStatistics(means, stds []float32, channels int) (Statistics, error) {
	if len(means) != len(stds) {
		return Statistics{}, fmt.Errorf("%w: %d means, %d stds", ErrChannelMismatch, len(means), len(stds))
	}
	if len(means) < channels {
		return Statistics{}, fmt.Errorf("%w: statistics cover %d channels, need %d", ErrChannelMismatch, len(means), channels)
	}
	for c, std := range stds[:channels] {
		if !(std > 0) {
			return Statistics{}, fmt.Errorf("statistics: channel %d has standard deviation %g", c, std)
		}
	}
	return Statistics{
		Means: append([]float32(nil), means[:channels]...),
		Stds:  append([]float32(nil), stds[:channels]...),
	}, nil
}

// Channels is the number of channels described.
func (st Statistics) Channels() int { return len(st.Means) }

// Normalise returns (x - mean) / std per channel.
func (st Statistics) Normalise(s State) (State, error) {
	if s.Channels != st.Channels() {
		return State{}, fmt.Errorf("normalise: %w: state has %d, statistics %d", ErrChannelMismatch, s.Channels, st.Channels())
	}
	out := s.Clone()
	for c := range out.Channels {
		mean, std := st.Means[c], st.Stds[c]
		ch := out.Channel(c)
		for i, v := range ch {
			ch[i] = (v - mean) / std
		}
	}
	return out, nil
}

// Denormalise returns x * std + mean per channel.
func (st Statistics) Denormalise(s State) (State, error) {
	if s.Channels != st.Channels() {
		return State{}, fmt.Errorf("denormalise: %w: state has %d, statistics %d", ErrChannelMismatch, s.Channels, st.Channels())
	}
	out := s.Clone()
	for c := range out.Channels {
		mean, std := st.Means[c], st.Stds[c]
		ch := out.Channel(c)
		for i, v := range ch {
			ch[i] = v*std + mean
		}
	}
	return out, nil
}
