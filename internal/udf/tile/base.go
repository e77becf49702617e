// Package tile implements the raster and feature collection tiles carried in
// a UDF parcel.
package tile

import (
	"fmt"
	"slices"

	"github.com/mohammed-shakir/geo-udf/internal/udf/extent"
	"github.com/mohammed-shakir/geo-udf/internal/udferr"
)

// Base holds what raster and feature tiles share: a caller-supplied id,
// optional start and end time vectors, and an optional extent. A nil time
// vector is absent; an empty non-nil one is present with length zero.
type Base struct {
	ID string

	startTimes []Timestamp
	endTimes   []Timestamp
	extent     *extent.SpatialExtent
}

type Option func(*Base)

func WithStartTimes(ts []Timestamp) Option {
	return func(b *Base) { b.startTimes = cloneTimes(ts) }
}

func WithEndTimes(ts []Timestamp) Option {
	return func(b *Base) { b.endTimes = cloneTimes(ts) }
}

func WithExtent(e *extent.SpatialExtent) Option {
	return func(b *Base) { b.extent = e }
}

func (b *Base) StartTimes() []Timestamp { return b.startTimes }

func (b *Base) EndTimes() []Timestamp { return b.endTimes }

func (b *Base) Extent() *extent.SpatialExtent { return b.extent }

// CheckDataWithTime fails when data with the given leading-dimension length
// is present and a present time vector has a different length.
func (b *Base) CheckDataWithTime(hasData bool, leading int) error {
	return checkTimes(hasData, leading, b.startTimes, b.endTimes)
}

func checkTimes(hasData bool, leading int, start, end []Timestamp) error {
	if !hasData {
		return nil
	}
	if start != nil && len(start) != leading {
		return fmt.Errorf("start_times has %d entries, data has %d time slices: %w",
			len(start), leading, udferr.ErrSizeMismatch)
	}
	if end != nil && len(end) != leading {
		return fmt.Errorf("end_times has %d entries, data has %d time slices: %w",
			len(end), leading, udferr.ErrSizeMismatch)
	}
	return nil
}

func cloneTimes(ts []Timestamp) []Timestamp {
	if ts == nil {
		return nil
	}
	return slices.Clone(ts)
}

func timesPtr(ts []Timestamp) *[]Timestamp {
	if ts == nil {
		return nil
	}
	return &ts
}

func timesVal(p *[]Timestamp) []Timestamp {
	if p == nil {
		return nil
	}
	if *p == nil {
		return []Timestamp{}
	}
	return *p
}
