// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package archive // import "github.com/pcpstat/pmsample/archive"

import (
	"cmp"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"slices"
	"time"

	"github.com/klauspost/compress/zstd"

	"github.com/pcpstat/pmsample/pmapi"
)

// Writer appends samples to an archive. It is not safe for concurrent use.
type Writer struct {
	enc  *zstd.Encoder
	json *json.Encoder

	descs  map[pmapi.PmID]pmapi.Desc
	indoms map[pmapi.InDom][]pmapi.Instance
	last   time.Time
	count  int
	closed bool
}

// NewWriter writes the header to w and returns a Writer for the samples. The
// caller still owns w and must close it after closing the Writer.
func NewWriter(w io.Writer, hdr Header) (*Writer, error) {
	if err := hdr.validate(); err != nil {
		return nil, err
	}
	enc, err := zstd.NewWriter(w, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return nil, fmt.Errorf("failed to create compressor: %w", err)
	}

	aw := &Writer{
		enc:    enc,
		json:   json.NewEncoder(enc),
		descs:  make(map[pmapi.PmID]pmapi.Desc, len(hdr.Metrics)),
		indoms: make(map[pmapi.InDom][]pmapi.Instance),
	}
	for _, m := range hdr.Metrics {
		desc, _ := m.Desc()
		aw.descs[m.PmID] = desc
	}
	if err := aw.json.Encode(&hdr); err != nil {
		_ = enc.Close()
		return nil, fmt.Errorf("failed to write header: %w", err)
	}
	return aw, nil
}

// Len returns the number of samples appended so far.
func (w *Writer) Len() int {
	return w.count
}

// WriteInDom records the members of an instance domain. Nothing is written
// if the members did not change since the last call for indom.
func (w *Writer) WriteInDom(indom pmapi.InDom, ts time.Time,
	instances []pmapi.Instance) error {
	if w.closed {
		return errors.New("archive writer is closed")
	}
	sorted := slices.Clone(instances)
	slices.SortFunc(sorted, func(a, b pmapi.Instance) int {
		return cmp.Compare(a.ID, b.ID)
	})
	if prev, ok := w.indoms[indom]; ok && slices.Equal(prev, sorted) {
		return nil
	}

	rec := &indomRecord{
		InDom:     indom,
		Timestamp: ts,
		Instances: make([]instanceRecord, 0, len(sorted)),
	}
	for _, inst := range sorted {
		rec.Instances = append(rec.Instances, instanceRecord{ID: inst.ID, Name: inst.Name})
	}
	if err := w.json.Encode(record{InDom: rec}); err != nil {
		return fmt.Errorf("failed to write instance domain %v: %w", indom, err)
	}
	w.indoms[indom] = sorted
	return nil
}

// Append records one fetch result. Every value-set must belong to a metric of
// the header and carry values of the metric's type. Timestamps must not go
// backwards.
func (w *Writer) Append(res *pmapi.Result) error {
	if w.closed {
		return errors.New("archive writer is closed")
	}
	if res == nil {
		return errors.New("nil result")
	}
	if res.Timestamp.Before(w.last) {
		return fmt.Errorf("sample at %v precedes previous sample at %v",
			res.Timestamp, w.last)
	}

	rec := &sampleRecord{
		Timestamp: res.Timestamp,
		Sets:      make([]setRecord, 0, len(res.ValueSets)),
	}
	for _, vs := range res.ValueSets {
		desc, ok := w.descs[vs.PmID]
		if !ok {
			return fmt.Errorf("metric %v is not part of the archive", vs.PmID)
		}
		set := setRecord{PmID: vs.PmID}
		if vs.Err != nil {
			set.Err = vs.Err.Error()
			rec.Sets = append(rec.Sets, set)
			continue
		}
		set.Values = make([]valueRecord, 0, len(vs.Values))
		for _, iv := range vs.Values {
			if iv.Value.Type() != desc.Type {
				return fmt.Errorf("metric %v: value of type %v, expected %v",
					vs.PmID, iv.Value.Type(), desc.Type)
			}
			set.Values = append(set.Values, valueRecord{
				Inst:  iv.Inst,
				Value: iv.Value.String(),
			})
		}
		rec.Sets = append(rec.Sets, set)
	}

	if err := w.json.Encode(record{Sample: rec}); err != nil {
		return fmt.Errorf("failed to write sample: %w", err)
	}
	w.last = res.Timestamp
	w.count++
	return nil
}

// Close flushes the compressed stream. It does not close the underlying writer.
func (w *Writer) Close() error {
	if w.closed {
		return nil
	}
	w.closed = true
	return w.enc.Close()
}
