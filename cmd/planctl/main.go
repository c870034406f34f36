// Command planctl is a demonstration driver for the partitioner and plan
// interpreter: it loads configuration, assembles a device catalogue, builds
// a small hand-written model, compiles it to an ExecutionPlan, and drives
// the interpreter to completion, logging one line per dispatched step.
package main

import (
	"context"
	"flag"
	"log"

	"github.com/reach-systems/planrt/internal/cachetoken"
	"github.com/reach-systems/planrt/internal/config"
	"github.com/reach-systems/planrt/internal/controller"
	"github.com/reach-systems/planrt/internal/device"
	"github.com/reach-systems/planrt/internal/executor"
	"github.com/reach-systems/planrt/internal/interpreter"
	"github.com/reach-systems/planrt/internal/partition"
	"github.com/reach-systems/planrt/internal/planerr"
)

func main() {
	configPath := flag.String("config", "", "path to a config file (overrides the default search path)")
	preferenceFlag := flag.String("preference", "", "override the configured partitioning preference")
	modeFlag := flag.String("mode", "", "override the configured partitioning mode")
	cacheDirFlag := flag.String("cache-dir", "", "override the configured cache-token store directory")
	flag.Parse()

	cfg, err := loadConfig(*configPath)
	if err != nil {
		log.Fatalf("loading config: %v", err)
	}
	if *preferenceFlag != "" {
		cfg.Partition.Preference = *preferenceFlag
	}
	if *modeFlag != "" {
		cfg.Partition.Mode = *modeFlag
	}
	if *cacheDirFlag != "" {
		cfg.Cache.Dir = *cacheDirFlag
	}

	store, err := openStore(cfg.Cache.Dir)
	if err != nil {
		log.Fatalf("opening cache token store: %v", err)
	}

	catalogue, perr := buildCatalogue(cfg.Devices.Names)
	if perr != nil {
		log.Fatalf("building device catalogue: %v", perr)
	}

	model := buildDemoModel()
	if perr := model.Finish(); perr != nil {
		log.Fatalf("finishing demo model: %v", perr)
	}

	opts := partition.Options{
		Devices:    catalogue.Devices(),
		Preference: parsePreference(cfg.Partition.Preference),
		Priority:   parsePriority(cfg.Partition.Priority),
		Mode:       parseMode(cfg.Partition.Mode),
	}

	ctx := context.Background()
	plan, perr := partition.New(opts).Partition(ctx, model)
	if perr != nil {
		log.Fatalf("partitioning demo model: %v", perr)
	}
	log.Printf("compiled plan: kind=%v steps=%d", plan.Kind(), plan.StepCount())
	plan.LogTo(log.Default())

	ctrl := controller.NewFromPlan(plan)

	a := encodeFloat32LE([]float32{1, 2, 3, 4})
	b := encodeFloat32LE([]float32{10, 20, 30, 40})
	out := make([]byte, 16)
	ctrl.BindExternalBuffers(
		[]device.Buffer{device.NewHostBuffer([]uint32{4}, a), device.NewHostBuffer([]uint32{4}, b)},
		[]device.Buffer{device.NewHostBuffer([]uint32{4}, out)},
	)

	execOpts := executor.Options{
		Mode:        opts.Mode,
		Preference:  opts.Preference,
		Priority:    opts.Priority,
		Catalogue:   catalogue,
		LoopTimeout: interpreter.ClampLoopTimeout(cfg.Partition.LoopTimeout),
	}

	var fence *device.SyncFence
	for {
		result, perr := interpreter.Next(ctrl, execOpts)
		if perr != nil {
			log.Fatalf("advancing plan: %v", perr)
		}
		if result.Outcome == interpreter.OutcomeDone {
			break
		}
		step := result.Executor.Step
		resp, f, perr := result.Executor.Run(ctx, fence)
		if perr != nil {
			log.Fatalf("running step on %s: %v", step.Device.Name(), perr)
		}
		fence = f
		store.Put(step.CacheToken, step.Device.Name())
		log.Printf("ran step on %s: status=%v", step.Device.Name(), resp.Status)
	}

	result := decodeFloat32LE(out)
	log.Printf("result: %v (cache store holds %d tokens)", result, store.Len())
}

func loadConfig(path string) (*config.Config, error) {
	if path != "" {
		return config.LoadFromFile(path)
	}
	return config.Load()
}

func openStore(dir string) (cachetoken.Store, error) {
	if dir == "" {
		return cachetoken.NewMemoryStore(), nil
	}
	s, perr := cachetoken.NewSQLiteStore(dir + "/tokens.db")
	if perr != nil {
		return nil, perr
	}
	return s, nil
}

// buildCatalogue maps configured device names to concrete Device
// instances. The fallback is always the guaranteed software device
// regardless of whether "cpu-fallback" appears in names, per §4.1's
// "guaranteed software fallback device" invariant.
func buildCatalogue(names []string) (*device.Catalogue, *planerr.PlanError) {
	var devices []device.Device
	for _, name := range names {
		switch name {
		case "accelerator":
			devices = append(devices, device.NewAccelerator("accelerator", "1.0.0"))
		case "dsp":
			devices = append(devices, device.NewDSP("dsp", "1.0.0"))
		case "cpu-fallback":
			// Constructed unconditionally below as the catalogue's fallback.
		default:
			return nil, planerr.Newf(planerr.CodeBadState, "unknown configured device name %q", name)
		}
	}
	return device.NewCatalogue(device.NewCPUFallback(), devices...)
}

func parsePreference(s string) device.Preference {
	switch s {
	case "low-power":
		return device.PreferLowPower
	case "sustained-speed":
		return device.PreferSustainedSpeed
	default:
		return device.PreferFastSingleAnswer
	}
}

func parsePriority(s string) device.Priority {
	switch s {
	case "low":
		return device.PriorityLow
	case "medium":
		return device.PriorityMedium
	case "high":
		return device.PriorityHigh
	default:
		return device.PriorityDefault
	}
}

func parseMode(s string) device.PartitioningMode {
	switch s {
	case "disabled":
		return device.PartitioningDisabled
	case "without-fallback":
		return device.PartitioningWithoutFallback
	default:
		return device.PartitioningWithFallback
	}
}
