// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package localsource // import "github.com/pcpstat/pmsample/localsource"

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"
	"strconv"
	"strings"

	"github.com/shirou/gopsutil/v4/cpu"
	"github.com/shirou/gopsutil/v4/disk"
	"github.com/shirou/gopsutil/v4/host"
	"github.com/shirou/gopsutil/v4/load"
	"github.com/shirou/gopsutil/v4/mem"
	"github.com/shirou/gopsutil/v4/net"
	log "github.com/sirupsen/logrus"

	"github.com/pcpstat/pmsample/pmapi"
)

// subsystem identifies one gopsutil query.
type subsystem uint8

const (
	subsystemCPU subsystem = iota
	subsystemPerCPU
	subsystemNCPU
	subsystemDisk
	subsystemNet
	subsystemMem
	subsystemLoad
	subsystemHost
)

func (s subsystem) String() string {
	switch s {
	case subsystemCPU:
		return "cpu"
	case subsystemPerCPU:
		return "percpu"
	case subsystemNCPU:
		return "ncpu"
	case subsystemDisk:
		return "disk"
	case subsystemNet:
		return "network"
	case subsystemMem:
		return "memory"
	case subsystemLoad:
		return "load"
	case subsystemHost:
		return "host"
	}
	return fmt.Sprintf("subsystem(%d)", uint8(s))
}

// provider abstracts gopsutil so that tests can feed fixed values.
type provider interface {
	cpuTimes(ctx context.Context, perCPU bool) ([]cpu.TimesStat, error)
	cpuCount(ctx context.Context) (int, error)
	diskIO(ctx context.Context) (map[string]disk.IOCountersStat, error)
	netIO(ctx context.Context) ([]net.IOCountersStat, error)
	memory(ctx context.Context) (*mem.VirtualMemoryStat, error)
	loadAvg(ctx context.Context) (*load.AvgStat, error)
	hostInfo(ctx context.Context) (*host.InfoStat, error)
}

type gopsutilProvider struct{}

func (gopsutilProvider) cpuTimes(ctx context.Context, perCPU bool) ([]cpu.TimesStat, error) {
	return cpu.TimesWithContext(ctx, perCPU)
}

func (gopsutilProvider) cpuCount(ctx context.Context) (int, error) {
	return cpu.CountsWithContext(ctx, true)
}

func (gopsutilProvider) diskIO(ctx context.Context) (map[string]disk.IOCountersStat, error) {
	return disk.IOCountersWithContext(ctx)
}

func (gopsutilProvider) netIO(ctx context.Context) ([]net.IOCountersStat, error) {
	return net.IOCountersWithContext(ctx, true)
}

func (gopsutilProvider) memory(ctx context.Context) (*mem.VirtualMemoryStat, error) {
	return mem.VirtualMemoryWithContext(ctx)
}

func (gopsutilProvider) loadAvg(ctx context.Context) (*load.AvgStat, error) {
	return load.AvgWithContext(ctx)
}

func (gopsutilProvider) hostInfo(ctx context.Context) (*host.InfoStat, error) {
	return host.InfoWithContext(ctx)
}

type instanceTimes struct {
	inst  int32
	times cpu.TimesStat
}

type instanceDisk struct {
	inst int32
	io   disk.IOCountersStat
}

type instanceNet struct {
	inst int32
	io   net.IOCountersStat
}

// sample holds the raw results of one gathering round.
type sample struct {
	cpu    cpu.TimesStat
	perCPU []instanceTimes
	ncpu   int
	disks  []instanceDisk
	nets   []instanceNet
	mem    *mem.VirtualMemoryStat
	load   *load.AvgStat
	host   *host.InfoStat
}

// gather queries every subsystem in subs once. Failures are reported per
// subsystem.
func (s *Source) gather(ctx context.Context, subs []subsystem) (*sample, map[subsystem]error) {
	smp := &sample{}
	errs := make(map[subsystem]error)
	for _, sub := range subs {
		if err := s.gatherOne(ctx, sub, smp); err != nil {
			log.Debugf("Gathering %v failed: %v", sub, err)
			errs[sub] = fmt.Errorf("gathering %v: %w", sub, err)
		}
	}
	if len(errs) == 0 {
		return smp, nil
	}
	return smp, errs
}

func (s *Source) gatherOne(ctx context.Context, sub subsystem, smp *sample) error {
	switch sub {
	case subsystemCPU:
		times, err := s.provider.cpuTimes(ctx, false)
		if err != nil {
			return err
		}
		if len(times) == 0 {
			return errors.New("no cpu times")
		}
		smp.cpu = times[0]
	case subsystemPerCPU:
		times, err := s.provider.cpuTimes(ctx, true)
		if err != nil {
			return err
		}
		s.mu.Lock()
		reg := s.instances[InDomCPU]
		for _, t := range times {
			var inst int32
			if n, err := strconv.ParseInt(strings.TrimPrefix(t.CPU, "cpu"), 10, 32); err == nil {
				inst = reg.assign(t.CPU, int32(n))
			} else {
				inst = reg.id(t.CPU)
			}
			smp.perCPU = append(smp.perCPU, instanceTimes{inst: inst, times: t})
		}
		s.mu.Unlock()
	case subsystemNCPU:
		n, err := s.provider.cpuCount(ctx)
		if err != nil {
			return err
		}
		smp.ncpu = n
	case subsystemDisk:
		counters, err := s.provider.diskIO(ctx)
		if err != nil {
			return err
		}
		s.mu.Lock()
		reg := s.instances[InDomDisk]
		for _, name := range slices.Sorted(maps.Keys(counters)) {
			smp.disks = append(smp.disks, instanceDisk{inst: reg.id(name), io: counters[name]})
		}
		s.mu.Unlock()
	case subsystemNet:
		counters, err := s.provider.netIO(ctx)
		if err != nil {
			return err
		}
		s.mu.Lock()
		reg := s.instances[InDomNetIf]
		for _, c := range counters {
			smp.nets = append(smp.nets, instanceNet{inst: reg.id(c.Name), io: c})
		}
		s.mu.Unlock()
	case subsystemMem:
		vm, err := s.provider.memory(ctx)
		if err != nil {
			return err
		}
		smp.mem = vm
	case subsystemLoad:
		avg, err := s.provider.loadAvg(ctx)
		if err != nil {
			return err
		}
		smp.load = avg
	case subsystemHost:
		info, err := s.provider.hostInfo(ctx)
		if err != nil {
			return err
		}
		smp.host = info
	default:
		return fmt.Errorf("unknown subsystem %v", sub)
	}
	return nil
}

var loadAvgInstances = []pmapi.Instance{
	{ID: 1, Name: "1 minute"},
	{ID: 5, Name: "5 minute"},
	{ID: 15, Name: "15 minute"},
}

// extractor turns a gathered sample into the values of one metric.
type extractor struct {
	subsystem subsystem
	extract   func(smp *sample, typ pmapi.Type) []pmapi.InstanceValue
}

func scalar[T uint64 | float64](typ pmapi.Type, v T) []pmapi.InstanceValue {
	return []pmapi.InstanceValue{{Inst: pmapi.InNull, Value: pmapi.AtomOf(typ, v)}}
}

// msec converts gopsutil's CPU seconds to the milliseconds the metrics count.
func msec(seconds float64) uint64 {
	return uint64(seconds * 1000)
}

func cpuTotal(field func(cpu.TimesStat) float64) extractor {
	return extractor{
		subsystem: subsystemCPU,
		extract: func(smp *sample, typ pmapi.Type) []pmapi.InstanceValue {
			return scalar(typ, msec(field(smp.cpu)))
		},
	}
}

func perCPU(field func(cpu.TimesStat) float64) extractor {
	return extractor{
		subsystem: subsystemPerCPU,
		extract: func(smp *sample, typ pmapi.Type) []pmapi.InstanceValue {
			out := make([]pmapi.InstanceValue, 0, len(smp.perCPU))
			for _, c := range smp.perCPU {
				out = append(out, pmapi.InstanceValue{
					Inst: c.inst, Value: pmapi.AtomOf(typ, msec(field(c.times))),
				})
			}
			return out
		},
	}
}

func perDisk(field func(disk.IOCountersStat) uint64) extractor {
	return extractor{
		subsystem: subsystemDisk,
		extract: func(smp *sample, typ pmapi.Type) []pmapi.InstanceValue {
			out := make([]pmapi.InstanceValue, 0, len(smp.disks))
			for _, d := range smp.disks {
				out = append(out, pmapi.InstanceValue{
					Inst: d.inst, Value: pmapi.AtomOf(typ, field(d.io)),
				})
			}
			return out
		},
	}
}

func perNetIf(field func(net.IOCountersStat) uint64) extractor {
	return extractor{
		subsystem: subsystemNet,
		extract: func(smp *sample, typ pmapi.Type) []pmapi.InstanceValue {
			out := make([]pmapi.InstanceValue, 0, len(smp.nets))
			for _, n := range smp.nets {
				out = append(out, pmapi.InstanceValue{
					Inst: n.inst, Value: pmapi.AtomOf(typ, field(n.io)),
				})
			}
			return out
		},
	}
}

func memory(field func(*mem.VirtualMemoryStat) uint64) extractor {
	return extractor{
		subsystem: subsystemMem,
		extract: func(smp *sample, typ pmapi.Type) []pmapi.InstanceValue {
			// Memory metrics are in Kbyte.
			return scalar(typ, field(smp.mem)/1024)
		},
	}
}

func hostInfo(field func(*host.InfoStat) uint64) extractor {
	return extractor{
		subsystem: subsystemHost,
		extract: func(smp *sample, typ pmapi.Type) []pmapi.InstanceValue {
			return scalar(typ, field(smp.host))
		},
	}
}

// extractors must have an entry for every metric in metrics.json.
var extractors = map[string]extractor{
	"kernel.all.cpu.user":       cpuTotal(func(t cpu.TimesStat) float64 { return t.User }),
	"kernel.all.cpu.sys":        cpuTotal(func(t cpu.TimesStat) float64 { return t.System }),
	"kernel.all.cpu.idle":       cpuTotal(func(t cpu.TimesStat) float64 { return t.Idle }),
	"kernel.all.cpu.wait.total": cpuTotal(func(t cpu.TimesStat) float64 { return t.Iowait }),

	"kernel.percpu.cpu.user": perCPU(func(t cpu.TimesStat) float64 { return t.User }),
	"kernel.percpu.cpu.sys":  perCPU(func(t cpu.TimesStat) float64 { return t.System }),
	"kernel.percpu.cpu.idle": perCPU(func(t cpu.TimesStat) float64 { return t.Idle }),

	"disk.dev.read":  perDisk(func(d disk.IOCountersStat) uint64 { return d.ReadCount }),
	"disk.dev.write": perDisk(func(d disk.IOCountersStat) uint64 { return d.WriteCount }),
	"disk.dev.read_bytes": perDisk(func(d disk.IOCountersStat) uint64 {
		return d.ReadBytes / 1024
	}),
	"disk.dev.write_bytes": perDisk(func(d disk.IOCountersStat) uint64 {
		return d.WriteBytes / 1024
	}),

	"network.interface.in.bytes": perNetIf(func(n net.IOCountersStat) uint64 {
		return n.BytesRecv
	}),
	"network.interface.in.packets": perNetIf(func(n net.IOCountersStat) uint64 {
		return n.PacketsRecv
	}),
	"network.interface.out.bytes": perNetIf(func(n net.IOCountersStat) uint64 {
		return n.BytesSent
	}),
	"network.interface.out.packets": perNetIf(func(n net.IOCountersStat) uint64 {
		return n.PacketsSent
	}),

	"mem.physmem":        memory(func(m *mem.VirtualMemoryStat) uint64 { return m.Total }),
	"mem.util.used":      memory(func(m *mem.VirtualMemoryStat) uint64 { return m.Used }),
	"mem.util.free":      memory(func(m *mem.VirtualMemoryStat) uint64 { return m.Free }),
	"mem.util.available": memory(func(m *mem.VirtualMemoryStat) uint64 { return m.Available }),

	"hinv.ncpu": {
		subsystem: subsystemNCPU,
		extract: func(smp *sample, typ pmapi.Type) []pmapi.InstanceValue {
			return scalar(typ, uint64(smp.ncpu))
		},
	},
	"kernel.all.load": {
		subsystem: subsystemLoad,
		extract: func(smp *sample, typ pmapi.Type) []pmapi.InstanceValue {
			return []pmapi.InstanceValue{
				{Inst: 1, Value: pmapi.AtomOf(typ, smp.load.Load1)},
				{Inst: 5, Value: pmapi.AtomOf(typ, smp.load.Load5)},
				{Inst: 15, Value: pmapi.AtomOf(typ, smp.load.Load15)},
			}
		},
	},
	"kernel.all.nprocs": hostInfo(func(h *host.InfoStat) uint64 { return h.Procs }),
	"kernel.all.uptime": hostInfo(func(h *host.InfoStat) uint64 { return h.Uptime }),
}
