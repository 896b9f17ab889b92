package server

import (
	"expvar"
	"log/slog"
	"sync"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/mem"
)

// SystemCollector periodically publishes CPU, memory and disk usage of the
// store's volume via expvar.
type SystemCollector struct {
	cpuUsagePercent *expvar.Float
	memUsagePercent *expvar.Float
	diskUsage       *expvar.Float
	diskFreeBytes   *expvar.Int
	diskPath        string
	interval        time.Duration
	stopChan        chan struct{}
	stopOnce        sync.Once
	wg              sync.WaitGroup
	logger          *slog.Logger
}

// expvar panics on duplicate names, so a second collector reuses the vars.
func expvarFloat(name string) *expvar.Float {
	if v, ok := expvar.Get(name).(*expvar.Float); ok {
		return v
	}
	return expvar.NewFloat(name)
}

func expvarInt(name string) *expvar.Int {
	if v, ok := expvar.Get(name).(*expvar.Int); ok {
		return v
	}
	return expvar.NewInt(name)
}

// NewSystemCollector creates a collector. diskPath is the store base dir.
func NewSystemCollector(diskPath string, interval time.Duration, logger *slog.Logger) *SystemCollector {
	if interval <= 0 {
		interval = 15 * time.Second
	}
	return &SystemCollector{
		cpuUsagePercent: expvarFloat("system_cpu_usage_percent"),
		memUsagePercent: expvarFloat("system_mem_usage_percent"),
		diskUsage:       expvarFloat("system_disk_usage_percent"),
		diskFreeBytes:   expvarInt("system_disk_free_bytes"),
		diskPath:        diskPath,
		interval:        interval,
		stopChan:        make(chan struct{}),
		logger:          logger.With("component", "SystemCollector"),
	}
}

// Start begins the background collection loop.
func (sc *SystemCollector) Start() {
	sc.logger.Info("Starting system metrics collector", "interval", sc.interval, "path", sc.diskPath)
	sc.wg.Add(1)
	go sc.collectLoop()
}

// Stop signals the collection loop to terminate and waits for it to finish.
func (sc *SystemCollector) Stop() {
	sc.stopOnce.Do(func() {
		sc.logger.Info("Stopping system metrics collector")
		close(sc.stopChan)
	})
	sc.wg.Wait()
}

func (sc *SystemCollector) collectLoop() {
	defer sc.wg.Done()
	ticker := time.NewTicker(sc.interval)
	defer ticker.Stop()

	sc.collect(0)
	for {
		select {
		case <-ticker.C:
			// Sample CPU over most of the interval so the next tick is not delayed.
			sc.collect(sc.interval * 3 / 4)
		case <-sc.stopChan:
			return
		}
	}
}

func (sc *SystemCollector) collect(cpuWindow time.Duration) {
	if cpuPercentages, err := cpu.Percent(cpuWindow, false); err == nil && len(cpuPercentages) > 0 {
		sc.cpuUsagePercent.Set(cpuPercentages[0])
	}
	if vm, err := mem.VirtualMemory(); err == nil {
		sc.memUsagePercent.Set(vm.UsedPercent)
	}
	du, err := disk.Usage(sc.diskPath)
	if err != nil {
		sc.logger.Debug("Disk usage unavailable", "path", sc.diskPath, "error", err)
		return
	}
	sc.diskUsage.Set(du.UsedPercent)
	sc.diskFreeBytes.Set(int64(du.Free))
}
