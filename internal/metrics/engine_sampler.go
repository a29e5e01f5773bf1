package metrics

import (
	"sync"
	"time"

	"github.com/shirou/gopsutil/v4/process"
)

const defaultSampleInterval = 5 * time.Second

// EngineSampler samples CPU and resident memory of running patch engine
// processes and publishes the readings as gauges. One watch goroutine per
// live engine process; sampling stops when the process exits or the
// sampler is stopped.
type EngineSampler struct {
	interval time.Duration
	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

func NewEngineSampler(interval time.Duration) *EngineSampler {
	if interval <= 0 {
		interval = defaultSampleInterval
	}
	return &EngineSampler{
		interval: interval,
		stopCh:   make(chan struct{}),
	}
}

// Watch follows one engine process until it exits. Safe to call from the
// launcher goroutine that owns the process.
func (s *EngineSampler) Watch(env string, pid int) {
	proc, err := process.NewProcess(int32(pid))
	if err != nil {
		return
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer ClearEngineUsage(env)
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()
		for {
			select {
			case <-s.stopCh:
				return
			case <-ticker.C:
				running, err := proc.IsRunning()
				if err != nil || !running {
					return
				}
				cpu, err := proc.CPUPercent()
				if err != nil {
					continue
				}
				mem, err := proc.MemoryInfo()
				if err != nil || mem == nil {
					continue
				}
				SetEngineUsage(env, cpu, float64(mem.RSS)/1024/1024)
			}
		}
	}()
}

// Stop ends all watch goroutines and waits for them to finish.
func (s *EngineSampler) Stop() {
	s.stopOnce.Do(func() { close(s.stopCh) })
	s.wg.Wait()
}
