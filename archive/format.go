// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

// Package archive records fetch results of a metric source into a compressed
// file and replays them through the pmapi.Client interface.
//
// An archive is a zstd compressed stream of JSON lines. The first line is the
// Header. Every following line is either a sample, holding the value-sets of
// one fetch, or an instance domain, written before the first sample that
// refers to a changed set of instances.
package archive // import "github.com/pcpstat/pmsample/archive"

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/pcpstat/pmsample/pmapi"
)

const (
	// Magic identifies an archive header.
	Magic = "pmsample-archive"
	// Version is the format version written by this package.
	Version = 1
)

var (
	// ErrBadArchive is returned when a stream is not a readable archive.
	ErrBadArchive = errors.New("not a valid archive")

	// ErrNotFound is returned when an archive location does not exist.
	ErrNotFound = errors.New("archive not found")
)

// Header describes the source and the metrics of an archive.
type Header struct {
	Magic    string         `json:"magic"`
	Version  int            `json:"version"`
	ID       uuid.UUID      `json:"id"`
	Host     string         `json:"host"`
	Start    time.Time      `json:"start"`
	Interval time.Duration  `json:"interval,omitempty"`
	Metrics  []MetricRecord `json:"metrics"`
}

// NewHeader returns a header with a fresh archive id.
func NewHeader(host string, start time.Time, metrics []MetricRecord) Header {
	return Header{
		Magic:   Magic,
		Version: Version,
		ID:      uuid.New(),
		Host:    host,
		Start:   start,
		Metrics: metrics,
	}
}

func (h *Header) validate() error {
	if h.Magic != Magic {
		return fmt.Errorf("%w: bad magic %q", ErrBadArchive, h.Magic)
	}
	if h.Version != Version {
		return fmt.Errorf("%w: unsupported version %d", ErrBadArchive, h.Version)
	}
	names := make(map[string]bool, len(h.Metrics))
	for _, m := range h.Metrics {
		if names[m.Name] {
			return fmt.Errorf("%w: metric %s listed twice", ErrBadArchive, m.Name)
		}
		names[m.Name] = true
		if _, err := m.Desc(); err != nil {
			return fmt.Errorf("%w: metric %s: %v", ErrBadArchive, m.Name, err)
		}
	}
	return nil
}

// MetricRecord is one entry of the metric table of a header.
type MetricRecord struct {
	Name  string      `json:"name"`
	PmID  pmapi.PmID  `json:"pmid"`
	Type  string      `json:"type"`
	Sem   string      `json:"sem"`
	Units pmapi.Units `json:"units"`
	InDom pmapi.InDom `json:"indom"`
}

// NewMetricRecord describes a metric for the header.
func NewMetricRecord(name string, desc pmapi.Desc) MetricRecord {
	return MetricRecord{
		Name:  name,
		PmID:  desc.PmID,
		Type:  desc.Type.String(),
		Sem:   desc.Sem.String(),
		Units: desc.Units,
		InDom: desc.InDom,
	}
}

// Desc returns the descriptor of the metric.
func (m *MetricRecord) Desc() (pmapi.Desc, error) {
	typ, err := pmapi.ParseType(m.Type)
	if err != nil {
		return pmapi.Desc{}, err
	}
	sem, err := pmapi.ParseSemantics(m.Sem)
	if err != nil {
		return pmapi.Desc{}, err
	}
	if m.PmID == pmapi.PmIDNull {
		return pmapi.Desc{}, errors.New("null metric identifier")
	}
	return pmapi.Desc{
		PmID:  m.PmID,
		Type:  typ,
		Sem:   sem,
		Units: m.Units,
		InDom: m.InDom,
	}, nil
}

// record is one line after the header. Exactly one field is set.
type record struct {
	InDom  *indomRecord  `json:"indom,omitempty"`
	Sample *sampleRecord `json:"sample,omitempty"`
}

type indomRecord struct {
	InDom     pmapi.InDom      `json:"indom"`
	Timestamp time.Time        `json:"ts"`
	Instances []instanceRecord `json:"instances"`
}

type instanceRecord struct {
	ID   int32  `json:"i"`
	Name string `json:"n"`
}

type sampleRecord struct {
	Timestamp time.Time   `json:"ts"`
	Sets      []setRecord `json:"sets"`
}

type setRecord struct {
	PmID   pmapi.PmID    `json:"pmid"`
	Err    string        `json:"err,omitempty"`
	Values []valueRecord `json:"values,omitempty"`
}

// valueRecord keeps the value in the textual form of pmapi.Atom, which is
// exact for 64-bit integers.
type valueRecord struct {
	Inst  int32  `json:"i"`
	Value string `json:"v"`
}
