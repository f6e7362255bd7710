// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package archive // import "github.com/pcpstat/pmsample/archive"

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/metric"

	"github.com/pcpstat/pmsample/periodiccaller"
	"github.com/pcpstat/pmsample/pmapi"
	"github.com/pcpstat/pmsample/pmcc"
)

// RecordOptions controls Record.
type RecordOptions struct {
	// Interval between fetches. Zero fetches back to back.
	Interval time.Duration
	// Samples stops the recording after this many samples. Zero records
	// until the context is canceled or the source runs out of data.
	Samples int
	// Host is stored in the header. Defaults to the local host name.
	Host string
	// IgnoreUnknown records the resolvable names instead of failing when
	// some names are unknown to the source.
	IgnoreUnknown bool
	// MeterProvider receives the self-metrics of the name cache.
	MeterProvider metric.MeterProvider
}

// Record fetches names from client and writes the results to w as an archive
// until one of the stop conditions in opts is met. It returns the number of
// samples written. Canceling ctx ends the recording without an error.
func Record(ctx context.Context, client pmapi.Client, w io.Writer, names []string,
	opts RecordOptions) (int, error) {
	if opts.Samples < 0 {
		return 0, errors.New("samples must not be negative")
	}
	cache, err := pmcc.NewMetricCache(client, pmcc.Config{MeterProvider: opts.MeterProvider})
	if err != nil {
		return 0, err
	}
	cores, unknown, err := cache.Resolve(ctx, names)
	if err != nil {
		return 0, err
	}
	if len(unknown) > 0 {
		if !opts.IgnoreUnknown {
			return 0, &pmcc.UnknownMetricError{Names: unknown}
		}
		log.Warnf("Not recording unknown metrics: %v", unknown)
	}
	if len(cores) == 0 {
		return 0, errors.New("no metrics to record")
	}

	host := opts.Host
	if host == "" {
		if host, err = os.Hostname(); err != nil {
			return 0, fmt.Errorf("failed to get host name: %w", err)
		}
	}

	metrics := make([]MetricRecord, 0, len(cores))
	ids := make([]pmapi.PmID, 0, len(cores))
	indoms := make(map[pmapi.PmID]pmapi.InDom, len(cores))
	for _, core := range cores {
		metrics = append(metrics, NewMetricRecord(core.Name, core.Desc))
		if _, dup := indoms[core.PmID]; dup {
			continue
		}
		ids = append(ids, core.PmID)
		indoms[core.PmID] = core.Desc.InDom
	}
	hdr := NewHeader(host, time.Now(), metrics)
	hdr.Interval = opts.Interval

	aw, err := NewWriter(w, hdr)
	if err != nil {
		return 0, err
	}
	r := &recorder{
		cache:  cache,
		writer: aw,
		indoms: indoms,
		known:  make(map[pmapi.InDom]map[int32]bool),
	}

	var runErr error
	err = periodiccaller.Run(ctx, opts.Interval, func() bool {
		res, err := client.Fetch(ctx, ids)
		if err != nil {
			if !errors.Is(err, pmapi.ErrEndOfData) {
				runErr = fmt.Errorf("fetch: %w", err)
			}
			return false
		}
		if err := r.append(ctx, res); err != nil {
			runErr = err
			return false
		}
		return opts.Samples == 0 || aw.Len() < opts.Samples
	})
	if err != nil && !errors.Is(err, context.Canceled) &&
		!errors.Is(err, context.DeadlineExceeded) {
		runErr = errors.Join(runErr, err)
	}

	if err := aw.Close(); err != nil {
		runErr = errors.Join(runErr, fmt.Errorf("failed to finish archive: %w", err))
	}
	log.Debugf("Recorded %d samples into archive %s", aw.Len(), hdr.ID)
	return aw.Len(), runErr
}

type recorder struct {
	cache  *pmcc.MetricCache
	writer *Writer
	indoms map[pmapi.PmID]pmapi.InDom
	// known holds the instances already written per instance domain.
	known map[pmapi.InDom]map[int32]bool
}

// append writes the instance domains res refers to, if they changed, then
// the requested value-sets of res. A domain is enumerated again at most once
// per sample.
func (r *recorder) append(ctx context.Context, res *pmapi.Result) error {
	requested := &pmapi.Result{Timestamp: res.Timestamp}
	for _, vs := range res.ValueSets {
		if _, ok := r.indoms[vs.PmID]; ok {
			requested.ValueSets = append(requested.ValueSets, vs)
		}
	}

	refreshed := make(map[pmapi.InDom]bool)
	for _, vs := range requested.ValueSets {
		indom := r.indoms[vs.PmID]
		if indom == pmapi.InDomNull || vs.Err != nil {
			continue
		}
		for _, iv := range vs.Values {
			members, ok := r.known[indom]
			if ok && (members[iv.Inst] || refreshed[indom]) {
				continue
			}
			var m *pmcc.InstanceMap
			var err error
			if ok {
				refreshed[indom] = true
				m, err = r.cache.RefreshInDom(ctx, indom)
			} else {
				m, err = r.cache.InstanceMap(ctx, indom)
			}
			if err != nil {
				log.Warnf("Failed to enumerate instance domain %v: %v", indom, err)
				r.known[indom] = members
				refreshed[indom] = true
				continue
			}
			if err := r.writeInDom(indom, res.Timestamp, m); err != nil {
				return err
			}
		}
	}
	return r.writer.Append(requested)
}

func (r *recorder) writeInDom(indom pmapi.InDom, ts time.Time, m *pmcc.InstanceMap) error {
	instances := m.Instances()
	if err := r.writer.WriteInDom(indom, ts, instances); err != nil {
		return err
	}
	members := make(map[int32]bool, len(instances))
	for _, inst := range instances {
		members[inst.ID] = true
	}
	r.known[indom] = members
	return nil
}
