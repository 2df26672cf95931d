package engine

import (
	"sync"

	"github.com/takt-audio/takt/pkg/id"
	"github.com/takt-audio/takt/pkg/processor"
)

// Container indexes every live processor three ways: by id, by unique
// name and by track membership. Each index has its own lock; methods
// that need more than one always take them in id, name, track order.
type Container struct {
	idMu sync.RWMutex
	byID map[id.ObjectID]processor.Processor

	nameMu sync.RWMutex
	byName map[string]processor.Processor

	trackMu sync.RWMutex
	tracks  map[id.ObjectID]*Track
	byTrack map[id.ObjectID][]processor.Processor
	trackOf map[id.ObjectID]id.ObjectID
}

// NewContainer creates an empty container.
func NewContainer() *Container {
	return &Container{
		byID:    make(map[id.ObjectID]processor.Processor),
		byName:  make(map[string]processor.Processor),
		tracks:  make(map[id.ObjectID]*Track),
		byTrack: make(map[id.ObjectID][]processor.Processor),
		trackOf: make(map[id.ObjectID]id.ObjectID),
	}
}

// AddProcessor registers a processor under its id and name. Names are
// unique across the session.
func (c *Container) AddProcessor(p processor.Processor) error {
	c.idMu.Lock()
	defer c.idMu.Unlock()
	c.nameMu.Lock()
	defer c.nameMu.Unlock()

	if _, ok := c.byID[p.ID()]; ok {
		return ErrProcessorExists
	}
	if _, ok := c.byName[p.Name()]; ok {
		return ErrProcessorExists
	}
	c.byID[p.ID()] = p
	c.byName[p.Name()] = p
	return nil
}

// AddTrack registers a track. The track is also registered as a
// processor, so names and ids stay unique across both.
func (c *Container) AddTrack(t *Track) error {
	if err := c.AddProcessor(t); err != nil {
		return err
	}
	c.trackMu.Lock()
	defer c.trackMu.Unlock()
	c.tracks[t.ID()] = t
	c.byTrack[t.ID()] = nil
	return nil
}

// RemoveProcessor drops a processor from the id and name indexes. It
// must not be on a track.
func (c *Container) RemoveProcessor(pid id.ObjectID) error {
	c.idMu.Lock()
	defer c.idMu.Unlock()
	c.nameMu.Lock()
	defer c.nameMu.Unlock()
	c.trackMu.Lock()
	defer c.trackMu.Unlock()

	p, ok := c.byID[pid]
	if !ok {
		return ErrInvalidProcessor
	}
	if _, onTrack := c.trackOf[pid]; onTrack {
		return ErrProcessorOnTrack
	}
	delete(c.byID, pid)
	delete(c.byName, p.Name())
	return nil
}

// RemoveTrack drops a track and its membership list. The chain must be
// empty.
func (c *Container) RemoveTrack(trackID id.ObjectID) error {
	c.trackMu.Lock()
	t, ok := c.tracks[trackID]
	if !ok {
		c.trackMu.Unlock()
		return ErrInvalidTrack
	}
	if len(c.byTrack[trackID]) > 0 {
		c.trackMu.Unlock()
		return ErrProcessorOnTrack
	}
	delete(c.tracks, trackID)
	delete(c.byTrack, trackID)
	c.trackMu.Unlock()

	c.idMu.Lock()
	delete(c.byID, trackID)
	c.idMu.Unlock()
	c.nameMu.Lock()
	delete(c.byName, t.Name())
	c.nameMu.Unlock()
	return nil
}

// BindToTrack records that a processor belongs to a track's chain. A
// processor belongs to at most one track.
func (c *Container) BindToTrack(pid, trackID id.ObjectID, before id.ObjectID, hasBefore bool) error {
	c.idMu.RLock()
	p, ok := c.byID[pid]
	c.idMu.RUnlock()
	if !ok {
		return ErrInvalidProcessor
	}

	c.trackMu.Lock()
	defer c.trackMu.Unlock()
	if _, ok := c.tracks[trackID]; !ok {
		return ErrInvalidTrack
	}
	if _, bound := c.trackOf[pid]; bound {
		return ErrAlreadyOnTrack
	}
	members := c.byTrack[trackID]
	pos := len(members)
	if hasBefore {
		for i, m := range members {
			if m.ID() == before {
				pos = i
				break
			}
		}
	}
	members = append(members, nil)
	copy(members[pos+1:], members[pos:])
	members[pos] = p
	c.byTrack[trackID] = members
	c.trackOf[pid] = trackID
	return nil
}

// UnbindFromTrack removes a processor from a track's membership list.
func (c *Container) UnbindFromTrack(pid, trackID id.ObjectID) error {
	c.trackMu.Lock()
	defer c.trackMu.Unlock()

	if bound, ok := c.trackOf[pid]; !ok || bound != trackID {
		return ErrNotOnTrack
	}
	members := c.byTrack[trackID]
	for i, m := range members {
		if m.ID() == pid {
			c.byTrack[trackID] = append(members[:i], members[i+1:]...)
			break
		}
	}
	delete(c.trackOf, pid)
	return nil
}

// Processor looks a processor up by id.
func (c *Container) Processor(pid id.ObjectID) (processor.Processor, bool) {
	c.idMu.RLock()
	defer c.idMu.RUnlock()
	p, ok := c.byID[pid]
	return p, ok
}

// ProcessorByName looks a processor up by its unique name.
func (c *Container) ProcessorByName(name string) (processor.Processor, bool) {
	c.nameMu.RLock()
	defer c.nameMu.RUnlock()
	p, ok := c.byName[name]
	return p, ok
}

// Track looks a track up by id.
func (c *Container) Track(trackID id.ObjectID) (*Track, bool) {
	c.trackMu.RLock()
	defer c.trackMu.RUnlock()
	t, ok := c.tracks[trackID]
	return t, ok
}

// TrackByName looks a track up by name.
func (c *Container) TrackByName(name string) (*Track, bool) {
	c.nameMu.RLock()
	p, ok := c.byName[name]
	c.nameMu.RUnlock()
	if !ok {
		return nil, false
	}
	t, ok := p.(*Track)
	return t, ok
}

// TrackOf returns the track a processor is bound to.
func (c *Container) TrackOf(pid id.ObjectID) (id.ObjectID, bool) {
	c.trackMu.RLock()
	defer c.trackMu.RUnlock()
	trackID, ok := c.trackOf[pid]
	return trackID, ok
}

// ProcessorsOnTrack returns a copy of a track's chain membership in
// chain order.
func (c *Container) ProcessorsOnTrack(trackID id.ObjectID) []processor.Processor {
	c.trackMu.RLock()
	defer c.trackMu.RUnlock()
	members := c.byTrack[trackID]
	out := make([]processor.Processor, len(members))
	copy(out, members)
	return out
}

// AllProcessors returns every registered processor, tracks included.
func (c *Container) AllProcessors() []processor.Processor {
	c.idMu.RLock()
	defer c.idMu.RUnlock()
	out := make([]processor.Processor, 0, len(c.byID))
	for _, p := range c.byID {
		out = append(out, p)
	}
	return out
}

// AllTracks returns every registered track.
func (c *Container) AllTracks() []*Track {
	c.trackMu.RLock()
	defer c.trackMu.RUnlock()
	out := make([]*Track, 0, len(c.tracks))
	for _, t := range c.tracks {
		out = append(out, t)
	}
	return out
}

// ProcessorCount returns the number of registered processors.
func (c *Container) ProcessorCount() int {
	c.idMu.RLock()
	defer c.idMu.RUnlock()
	return len(c.byID)
}
